package services

import (
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/aegis-labs/warden_api/security"
)

// SecurityService assembles the admission layer: the shared store behind a
// process-wide circuit breaker, the sliding-window limiter and the
// suspicion/ban engine, with alerts routed through the email service.
type SecurityService struct {
	appContext.DefaultService

	redisSvc *RedisService
	emailSvc *EmailService

	cfg     security.Config
	breaker *security.Breaker
	engine  *security.Engine
	limiter *security.Limiter
}

const SECURITY_SVC = "security_svc"

func (svc SecurityService) Id() string {
	return SECURITY_SVC
}

func (svc *SecurityService) Configure(ctx *appContext.Context) error {
	svc.redisSvc = ctx.Service(REDIS_SVC).(*RedisService)
	svc.emailSvc = ctx.Service(EMAIL_SVC).(*EmailService)

	svc.cfg = security.ConfigFromEnv()
	if err := svc.cfg.Validate(); err != nil {
		return err
	}

	store := svc.redisSvc.Store()
	svc.breaker = security.NewBreaker(svc.cfg.Breaker, store, svc.onOutageAlert)
	svc.engine = security.NewEngine(store, svc.breaker, svc.emailSvc, svc.cfg)
	svc.limiter = security.NewLimiter(store, svc.breaker, svc.cfg)

	return svc.DefaultService.Configure(ctx)
}

func (svc *SecurityService) Start() error {
	log.WithFields(log.Fields{
		"global_limit":  svc.cfg.GlobalRate.Limit,
		"global_window": svc.cfg.GlobalRate.Window,
		"ban_threshold": svc.cfg.BanThreshold,
		"ban_ttl":       svc.cfg.BanTTL,
	}).Info("admission layer configured")
	return nil
}

func (svc *SecurityService) Config() security.Config {
	return svc.cfg
}

func (svc *SecurityService) Breaker() *security.Breaker {
	return svc.breaker
}

func (svc *SecurityService) Engine() *security.Engine {
	return svc.engine
}

func (svc *SecurityService) Limiter() *security.Limiter {
	return svc.limiter
}

func (svc *SecurityService) onOutageAlert(backoff time.Duration) {
	log.WithField("backoff", backoff).Error("state store outage reached maximum backoff")
	go svc.emailSvc.SendOutageAlert(backoff)
}
