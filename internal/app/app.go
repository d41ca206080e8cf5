package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"agent-inbox/handler"
	"agent-inbox/internal/auth"
	"agent-inbox/internal/config"
	"agent-inbox/internal/domain"
	"agent-inbox/internal/integrations/google"
	"agent-inbox/internal/integrations/paramstore"
	"agent-inbox/internal/integrations/webhook"
	"agent-inbox/internal/middleware"
	"agent-inbox/internal/repository"
	"agent-inbox/internal/usecase"
)

// Store is the persistence surface shared by the DynamoDB and PostgreSQL backends.
type Store interface {
	usecase.ConversationStore
	usecase.UserStore
	Ping(ctx context.Context) error
}

// Deps are the resolved infrastructure pieces New wires together.
type Deps struct {
	Store          Store
	Limiter        middleware.Counter
	Redis          handler.Pinger // optional, reported by /health
	JWTSecret      string
	GoogleClientID string
}

// App is the assembled HTTP application.
type App struct {
	Handler http.Handler
	closers []func()
}

// Close releases connections opened by Build.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// NewLogger returns a console logger in development and JSON otherwise.
func NewLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// Build connects to the configured backends and assembles the application.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := Deps{JWTSecret: cfg.JWTSecret, GoogleClientID: cfg.GoogleClientID}

	if cfg.StoreBackend == config.BackendDynamoDB || cfg.ParamPrefix != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
		if cfg.ParamPrefix != "" {
			if err := loadSecrets(ctx, awsssm.NewFromConfig(awsCfg), cfg.ParamPrefix, &deps, logger); err != nil {
				return nil, err
			}
		}
		if cfg.StoreBackend == config.BackendDynamoDB {
			store, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
			if err != nil {
				return nil, fmt.Errorf("app: create dynamodb store: %w", err)
			}
			deps.Store = store
			logger.Info().Str("table", cfg.DynamoDBTable).Msg("using DynamoDB store")
		}
	}
	if cfg.StoreBackend == config.BackendPostgres {
		store, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		closers = append(closers, store.Close)
		deps.Store = store
		logger.Info().Msg("connected to PostgreSQL")
	}

	var counter *middleware.RedisCounter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("app: parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			cleanup()
			return nil, fmt.Errorf("app: redis connection failed: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		counter = middleware.NewRedisCounter(client, cfg.RateLimitPerMinute, time.Minute)
		deps.Redis = counter
		logger.Info().Msg("connected to Redis")
	}
	deps.Limiter = rateLimiter(cfg, counter)
	if deps.Limiter == nil {
		logger.Info().Msg("rate limiting disabled")
	}

	a, err := New(cfg, logger, deps)
	if err != nil {
		cleanup()
		return nil, err
	}
	a.closers = closers
	return a, nil
}

// rateLimiter returns the shared Redis counter when there is one, an
// in-process limiter otherwise, and nil when RATE_LIMIT_PER_MINUTE is 0.
func rateLimiter(cfg *config.Config, counter *middleware.RedisCounter) middleware.Counter {
	switch {
	case cfg.RateLimitPerMinute <= 0:
		return nil
	case counter != nil:
		return counter
	default:
		return middleware.NewLocalLimiter(cfg.RateLimitPerMinute, time.Minute)
	}
}

func loadSecrets(ctx context.Context, api *awsssm.Client, prefix string, deps *Deps, logger zerolog.Logger) error {
	params, err := paramstore.New(api, prefix)
	if err != nil {
		return fmt.Errorf("app: create SSM client: %w", err)
	}
	if deps.JWTSecret == "" {
		if deps.JWTSecret, err = params.Secret(ctx, "jwt_secret"); err != nil {
			return fmt.Errorf("app: load jwt secret: %w", err)
		}
	}
	if deps.GoogleClientID == "" {
		id, err := params.Secret(ctx, "google_client_id")
		if err != nil {
			logger.Warn().Err(err).Msg("google client id not available, google sign-in disabled")
		}
		deps.GoogleClientID = id
	}
	return nil
}

// New wires services, handlers and router on top of resolved dependencies.
func New(cfg *config.Config, logger zerolog.Logger, deps Deps) (*App, error) {
	if deps.Store == nil {
		return nil, errors.New("app: store must not be nil")
	}

	messages, err := usecase.NewMessageService(
		deps.Store,
		webhook.NewClient(webhook.WithTimeout(cfg.WebhookTimeout)),
		domain.DefaultDirectory(cfg.WebhookBaseURL),
		usecase.WithDefaultWebhook(cfg.DefaultWebhookURL),
		usecase.WithMessageLimit(cfg.MessageLimit),
		usecase.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("app: create message service: %w", err)
	}

	tokens, err := auth.NewTokenIssuer(deps.JWTSecret, auth.DefaultTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("app: create token issuer: %w", err)
	}
	var verifier usecase.GoogleVerifier
	if deps.GoogleClientID != "" {
		v, err := google.NewVerifier(deps.GoogleClientID)
		if err != nil {
			return nil, fmt.Errorf("app: create google verifier: %w", err)
		}
		verifier = v
	}
	authSvc, err := usecase.NewAuthService(deps.Store, tokens, auth.NewBcryptHasher(), verifier)
	if err != nil {
		return nil, fmt.Errorf("app: create auth service: %w", err)
	}

	opts := []handler.Option{
		handler.WithLogger(logger),
		handler.WithHealthCheck("store", deps.Store),
	}
	if deps.Redis != nil {
		opts = append(opts, handler.WithHealthCheck("redis", deps.Redis))
	}
	h, err := handler.NewHandler(messages, authSvc, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create handler: %w", err)
	}

	router := handler.NewRouter(h, handler.RouterConfig{
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		Limiter:     deps.Limiter,
		Tokens:      tokens,
	})
	return &App{Handler: router}, nil
}
