package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"agent-inbox/handler"
	"agent-inbox/internal/app"
	"agent-inbox/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg := config.Load()
	if os.Getenv("ENV") == "" {
		cfg.Env = "production"
	}
	logger := app.NewLogger(cfg)

	// ---- Wiring ----
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build application")
	}
	defer a.Close()

	lambda.Start(handler.Lambda(a.Handler))
}
