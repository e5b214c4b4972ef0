package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	billingApp "github.com/felixgeelhaar/billcycle/internal/billing/application"
	billingDomain "github.com/felixgeelhaar/billcycle/internal/billing/domain"
	"github.com/felixgeelhaar/billcycle/internal/billing/infrastructure/backend"
	"github.com/felixgeelhaar/billcycle/internal/identity/application/auth"
	"github.com/felixgeelhaar/billcycle/internal/shared/infrastructure/convert"
	"github.com/felixgeelhaar/billcycle/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/billcycle/pkg/config"
	"github.com/felixgeelhaar/billcycle/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.InMemoryMetrics

	// Storage handles, set only for the driver in use.
	SQLiteDB    *sql.DB
	RedisClient *redis.Client

	// Infrastructure
	Client         *backend.Client
	Session        *auth.Session
	Cache          billingDomain.SnapshotCache
	EventPublisher eventbus.Publisher
	// InProcessBus is set when no broker is configured.
	InProcessBus *eventbus.InProcessBus

	// Billing
	Reconciler *billingApp.Reconciler
	Payments   *billingApp.PaymentWorkflow
	Gateway    *billingApp.Gateway
	Ticker     *billingApp.PhaseTicker
}

// NewContainer wires the application from configuration.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
	}

	clientCfg := backend.DefaultConfig(cfg.APIURL)
	clientCfg.Timeout = cfg.RequestTimeout
	failures, err := convert.IntToUint32(cfg.BreakerFailures)
	if err != nil {
		return nil, fmt.Errorf("invalid breaker failure threshold: %w", err)
	}
	if failures > 0 {
		clientCfg.BreakerFailures = failures
	}
	if cfg.BreakerTimeout > 0 {
		clientCfg.BreakerTimeout = cfg.BreakerTimeout
	}
	c.Client = backend.NewClient(clientCfg, logger).WithMetrics(c.Metrics)

	c.Session = auth.NewSession(c.Client, logger)
	if cfg.UserID != "" && cfg.AccessToken != "" {
		if err := c.Session.SignIn(cfg.UserID, newTokens(cfg)); err != nil {
			return nil, fmt.Errorf("failed to sign in: %w", err)
		}
	} else {
		logger.Info("no credentials configured, running signed out")
	}

	cache, err := c.newSnapshotCache(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Cache = cache

	if err := c.setupEventPublisher(); err != nil {
		c.Close()
		return nil, err
	}

	c.Reconciler = billingApp.NewReconciler(c.Session, c.Cache, logger).
		WithMetrics(c.Metrics).
		WithEventPublisher(c.EventPublisher)
	c.Payments = billingApp.NewPaymentWorkflow(c.Session, c.Reconciler, logger).
		WithMaxProofBytes(cfg.MaxProofBytes).
		WithMetrics(c.Metrics)
	c.Gateway = billingApp.NewGateway(c.Session, c.Reconciler, c.Payments, logger).
		WithMetrics(c.Metrics)
	c.Ticker = billingApp.NewPhaseTicker(c.Reconciler, billingDomain.SystemClock{}, cfg.PhaseTick, logger)

	return c, nil
}

func newTokens(cfg *config.Config) *auth.Tokens {
	if !cfg.OAuthEnabled() || cfg.RefreshToken == "" {
		return auth.NewStaticTokens(cfg.AccessToken)
	}
	oauthCfg := auth.OAuthConfig(cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthTokenURL)
	return auth.NewRefreshingTokens(oauthCfg, &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		TokenType:    "Bearer",
	})
}

func (c *Container) setupEventPublisher() error {
	if c.Config.RabbitMQURL != "" {
		publisher, err := eventbus.NewRabbitMQPublisher(c.Config.RabbitMQURL, c.Logger)
		if err == nil {
			c.EventPublisher = publisher
			return nil
		}
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		c.Logger.Warn("RabbitMQ not available, publishing in-process", "error", err)
	}

	c.InProcessBus = eventbus.NewInProcessBus(c.Logger)
	c.InProcessBus.Subscribe("billing.#", func(ctx context.Context, routingKey string, payload []byte) error {
		c.Logger.DebugContext(ctx, "subscription event", "routing_key", routingKey, "payload", string(payload))
		return nil
	})
	c.EventPublisher = c.InProcessBus
	return nil
}

// Close writes the metrics summary and releases connections.
func (c *Container) Close() {
	if c.Metrics != nil {
		c.Metrics.LogSummary(context.Background(), c.Logger)
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		}
	}

	if c.SQLiteDB != nil {
		if err := c.SQLiteDB.Close(); err != nil {
			c.Logger.Warn("error closing SQLite connection", "error", err)
		}
	}
}
