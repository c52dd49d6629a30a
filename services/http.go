package services

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/aegis-labs/warden_api/services/handlers"
	"github.com/aegis-labs/warden_api/shared"
)

// admissionGuard and authGate are the slices of the middleware services the
// router needs. Declared here so the services package does not import the
// middleware package that depends on it.
type admissionGuard interface {
	Handler() fiber.Handler
}

type authGate interface {
	RequiredAuth() fiber.Handler
	RequireAdmin() fiber.Handler
}

const (
	guardMiddlewareID = "guard"
	authMiddlewareID  = "auth"
)

type HttpService struct {
	context.DefaultService

	securitySvc   *SecurityService
	monitoringSvc *MonitoringService

	port   int
	server *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *context.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.securitySvc = svc.Service(SECURITY_SVC).(*SecurityService)
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)
	guard := svc.Service(guardMiddlewareID).(admissionGuard)
	auth := svc.Service(authMiddlewareID).(authGate)

	app := fiber.New(fiber.Config{
		JSONEncoder:  shared.JSONEncoder,
		JSONDecoder:  shared.JSONDecoder,
		ErrorHandler: svc.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(svc.requestLogger())

	// The admission gate runs before every route.
	app.Use(guard.Handler())
	app.Use(MonitoringMiddleware(svc.monitoringSvc))

	engine := svc.securitySvc.Engine()
	adminHandler := handlers.NewSecurityAdminHandler(engine)
	opsHandler := handlers.NewOpsHandler(engine)

	app.Get("/ping", svc.ping)

	v1 := app.Group("/api/v1")
	v1.Get("/ping", svc.ping)

	admin := v1.Group("/security/admin", auth.RequiredAuth(), auth.RequireAdmin())
	admin.Post("/ban_now", adminHandler.BanNow)
	admin.Post("/unban", adminHandler.Unban)
	admin.Post("/unban_bulk", adminHandler.UnbanBulk)
	admin.Get("/ban_ttl", adminHandler.BanTTL)
	admin.Get("/current_bans", adminHandler.CurrentBans)
	admin.Get("/top_suspicious", adminHandler.TopSuspicious)

	ops := v1.Group("/ops", auth.RequiredAuth())
	ops.Get("/metrics/summary", opsHandler.MetricsSummary)

	app.Use(func(c *fiber.Ctx) error {
		return shared.ResponseNotFound(c)
	})

	svc.server = app

	log.WithField("port", svc.port).Info("http server started")
	return app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Accept  json
// @Produce json
// @Success 200 {object} shared.Response{data=string}
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "max-age=10")

	return shared.ResponseOK(c, "pong")
}

func (svc *HttpService) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := uuid.NewString()
		c.Set("X-Request-ID", requestID)

		start := time.Now()
		err := c.Next()

		log.WithFields(log.Fields{
			"request_id": requestID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"duration":   time.Since(start),
		}).Debug("request handled")
		return err
	}
}

func (svc *HttpService) handleError(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return shared.ResponseJSON(c, fiberErr.Code, fiberErr.Message, nil)
	}

	appErr := shared.GetAppError(err)
	if appErr.Code != fiber.StatusInternalServerError {
		return shared.ResponseJSON(c, appErr.Code, appErr.Message, nil)
	}

	log.WithError(err).Error("request failed")
	return shared.ResponseInternalError(c, err)
}
