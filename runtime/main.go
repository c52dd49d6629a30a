package main

import (
	"github.com/aegis-labs/warden_api/middleware"
	"github.com/aegis-labs/warden_api/services"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file loaded")
	}

	ctx, err := context.NewCtx(
		&services.JWTService{},
		&services.RedisService{},
		&services.EmailService{},
		&services.SecurityService{},
		&services.MonitoringService{},

		&middleware.AuthMiddleware{},
		&middleware.GuardMiddleware{},

		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure services")
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err).Msg("service runtime exited")
		return
	}
}
