package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"os"
	"time"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/aegis-labs/warden_api/security"
)

// EmailService delivers operator alerts over SMTP. It implements
// security.Notifier so the suspicion/ban engine can dispatch ban alerts
// without knowing about the channel.
type EmailService struct {
	context.DefaultService

	smtpHost     string
	smtpPort     string
	smtpUsername string
	smtpPassword string
	fromEmail    string
	fromName     string
	alertEmail   string

	templates map[string]*template.Template
}

const EMAIL_SVC = "email_svc"

func (svc EmailService) Id() string {
	return EMAIL_SVC
}

func (svc *EmailService) Configure(ctx *context.Context) error {
	svc.smtpHost = os.Getenv("SMTP_HOST")
	svc.smtpPort = os.Getenv("SMTP_PORT")
	svc.smtpUsername = os.Getenv("SMTP_USERNAME")
	svc.smtpPassword = os.Getenv("SMTP_PASSWORD")
	svc.fromEmail = os.Getenv("FROM_EMAIL")
	svc.fromName = os.Getenv("FROM_NAME")
	svc.alertEmail = os.Getenv("ALERT_EMAIL")

	if svc.smtpPort == "" {
		svc.smtpPort = "587"
	}
	if svc.fromName == "" {
		svc.fromName = "Warden"
	}
	if svc.alertEmail == "" {
		svc.alertEmail = svc.fromEmail
	}

	svc.templates = make(map[string]*template.Template)

	return svc.DefaultService.Configure(ctx)
}

func (svc *EmailService) Start() error {
	if err := svc.loadTemplates(); err != nil {
		log.WithError(err).Error("Failed to load email templates")
		// Don't fail startup, just log the error
	}
	return nil
}

const banAlertEmailHTML = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Security Alert - {{.AppName}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #DC2626; color: white; padding: 20px; text-align: center; }
        .content { padding: 20px; background-color: #f9f9f9; }
        .detail { margin: 8px 0; }
        .label { font-weight: bold; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Client Banned</h1>
        </div>
        <div class="content">
            <div class="detail"><span class="label">Address:</span> {{.IP}}</div>
            <div class="detail"><span class="label">Reason:</span> {{.Reason}}</div>
            <div class="detail"><span class="label">Suspicion score:</span> {{.Score}}</div>
            <div class="detail"><span class="label">Time:</span> {{.At}}</div>
        </div>
    </div>
</body>
</html>
`

const outageAlertEmailHTML = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Store Outage - {{.AppName}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #D97706; color: white; padding: 20px; text-align: center; }
        .content { padding: 20px; background-color: #f9f9f9; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>State Store Unreachable</h1>
        </div>
        <div class="content">
            <p>The shared state store has been unreachable long enough for the
            retry backoff to reach its maximum of {{.Backoff}}.</p>
            <p>Rate limiting and ban enforcement are failing open until the
            store recovers.</p>
        </div>
    </div>
</body>
</html>
`

type banAlertEmailData struct {
	AppName string
	IP      string
	Reason  string
	Score   int64
	At      string
}

type outageAlertEmailData struct {
	AppName string
	Backoff string
}

func (svc *EmailService) loadTemplates() error {
	var err error

	svc.templates["ban_alert"], err = template.New("ban_alert").Parse(banAlertEmailHTML)
	if err != nil {
		return fmt.Errorf("failed to parse ban alert template: %v", err)
	}

	svc.templates["outage_alert"], err = template.New("outage_alert").Parse(outageAlertEmailHTML)
	if err != nil {
		return fmt.Errorf("failed to parse outage alert template: %v", err)
	}

	return nil
}

// SendBanAlert satisfies security.Notifier. Called from its own goroutine by
// the engine, so a slow SMTP server never holds up request handling.
func (svc *EmailService) SendBanAlert(alert security.Alert) {
	if svc.smtpHost == "" || svc.alertEmail == "" {
		log.WithField("ip", alert.IP).Warn("SMTP not configured, skipping ban alert")
		return
	}

	data := banAlertEmailData{
		AppName: "Warden",
		IP:      alert.IP,
		Reason:  alert.Reason,
		Score:   alert.Score,
		At:      alert.At.UTC().Format(time.RFC3339),
	}

	subject := fmt.Sprintf("Security Alert: %s banned - Warden", alert.IP)
	if err := svc.sendTemplateEmail(svc.alertEmail, subject, "ban_alert", data); err != nil {
		log.WithError(err).WithField("ip", alert.IP).Error("Failed to send ban alert")
	}
}

// SendOutageAlert notifies operators that the breaker backoff hit its cap.
func (svc *EmailService) SendOutageAlert(backoff time.Duration) {
	if svc.smtpHost == "" || svc.alertEmail == "" {
		log.Warn("SMTP not configured, skipping outage alert")
		return
	}

	data := outageAlertEmailData{
		AppName: "Warden",
		Backoff: backoff.String(),
	}

	subject := "Security Alert: state store unreachable - Warden"
	if err := svc.sendTemplateEmail(svc.alertEmail, subject, "outage_alert", data); err != nil {
		log.WithError(err).Error("Failed to send outage alert")
	}
}

func (svc *EmailService) sendTemplateEmail(to, subject, templateName string, data interface{}) error {
	tmpl, exists := svc.templates[templateName]
	if !exists {
		return fmt.Errorf("template %s not found", templateName)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to execute template: %v", err)
	}

	return svc.sendEmail(to, subject, body.String())
}

func (svc *EmailService) sendEmail(to, subject, body string) error {
	if svc.smtpHost == "" {
		return fmt.Errorf("SMTP not configured")
	}

	auth := smtp.PlainAuth("", svc.smtpUsername, svc.smtpPassword, svc.smtpHost)

	msg := []byte(fmt.Sprintf(
		"From: %s <%s>\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		svc.fromName, svc.fromEmail, to, subject, body))

	err := smtp.SendMail(
		svc.smtpHost+":"+svc.smtpPort,
		auth,
		svc.fromEmail,
		[]string{to},
		msg,
	)

	if err != nil {
		log.WithError(err).WithFields(log.Fields{"to": to, "subject": subject}).Error("Failed to send email")
		return fmt.Errorf("failed to send email: %v", err)
	}

	log.WithFields(log.Fields{"to": to, "subject": subject}).Info("Alert email sent")
	return nil
}

// TestEmailConfig sends a probe message to the configured alert address.
func (svc *EmailService) TestEmailConfig() error {
	if svc.smtpHost == "" {
		return fmt.Errorf("SMTP host not configured")
	}
	if svc.alertEmail == "" {
		return fmt.Errorf("alert email not configured")
	}

	subject := "Test Email Configuration - Warden"
	body := "This is a test email to verify SMTP configuration."
	return svc.sendEmail(svc.alertEmail, subject, body)
}
