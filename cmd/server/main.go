package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carrental/booking-hold/internal/clock"
	"github.com/carrental/booking-hold/internal/config"
	"github.com/carrental/booking-hold/internal/database"
	"github.com/carrental/booking-hold/internal/gateway"
	"github.com/carrental/booking-hold/internal/realtime"
	"github.com/carrental/booking-hold/internal/services"
	"github.com/carrental/booking-hold/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

const (
	retryPayloadTTL   = 24 * time.Hour
	reaperInterval    = time.Minute
	shutdownTimeout   = 30 * time.Second
	relayStartTimeout = 10 * time.Second
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.WithFields(logrus.Fields{
		"version":    version,
		"build_time": buildTime,
	}).Info("Starting booking hold gateway")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("Server stopped with error: %v", err)
	}
	logger.Info("Server exited successfully")
}

// app holds everything main wires together
type app struct {
	db        *sqlx.DB
	rdb       *redis.Client
	amqp      *realtime.AMQPPublisher
	sessions  *services.SessionManager
	notifier  *services.HoldNotifierService
	holds     *services.HoldService
	relay     *services.PaymentRelayService
	transport transport
}

// transport bundles the four roles of the push channel
type transport struct {
	subscriber realtime.Subscriber
	publisher  realtime.Publisher
	sender     realtime.CommandSender
	consumer   realtime.CommandConsumer
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      setupRouter(cfg, a, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // view streams stay open
		IdleTimeout:  60 * time.Second,
	}

	if a.notifier != nil {
		if err := a.notifier.Start(ctx); err != nil {
			return err
		}
	}
	a.sessions.StartReaper(reaperInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		if a.notifier != nil {
			a.notifier.Stop()
		}
		a.sessions.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{}
	clk := clock.NewSystem()

	// 1. Payment gateway
	paymentGateway, err := newPaymentGateway(cfg, logger)
	if err != nil {
		return nil, err
	}

	// 2. Redis and RabbitMQ
	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, relayStartTimeout)
		defer cancel()
		if err := a.rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Redis connection established")
	}
	if cfg.RabbitMQ.URL != "" {
		a.amqp = realtime.NewAMQPPublisher(cfg.RabbitMQ.URL, logger)
	}

	// 3. Push channel
	switch cfg.Channel.Transport {
	case config.TransportRedis:
		bus := realtime.NewRedisBus(a.rdb, logger)
		commands := realtime.NewAMQPCommands(cfg.RabbitMQ.URL, a.amqp, logger)
		a.transport = transport{subscriber: bus, publisher: bus, sender: commands, consumer: commands}
	default:
		hub := realtime.NewHub(logger)
		a.transport = transport{subscriber: hub, publisher: hub, sender: hub, consumer: hub}
	}
	logger.WithField("transport", cfg.Channel.Transport).Info("Push channel initialized")

	// 4. Relay
	if cfg.Server.RunRelay {
		if err := a.buildRelay(ctx, cfg, paymentGateway, clk, logger); err != nil {
			return nil, err
		}
	}

	// 5. Booking sessions
	var retryRepo store.RetryPayloadRepository = store.NewMemoryRetryRepository()
	if a.rdb != nil {
		retryRepo = store.NewRedisRetryRepository(a.rdb, retryPayloadTTL)
	}

	a.sessions = services.NewSessionManager(services.SessionDeps{
		Subscriber:   a.transport.subscriber,
		Commands:     a.transport.sender,
		Reservations: gateway.NewReservationClient(cfg.Reservation.APIURL, logger),
		Gateway:      paymentGateway,
		RetryRepo:    retryRepo,
		Clock:        clk,
		Logger:       logger,
		Currency:     cfg.Payment.Currency,
		Hold:         services.DefaultHoldCoordinatorConfig(),
		Confirmation: services.ConfirmationConfig{
			WaitTimeout:  cfg.Waiting.Timeout,
			PollInterval: cfg.Waiting.PollInterval,
			MaxPolls:     cfg.Waiting.MaxPolls,
		},
	}, cfg.Session.IdleTTL)

	logger.Info("Services initialized")
	return a, nil
}

func (a *app) buildRelay(ctx context.Context, cfg *config.Config, parser services.WebhookParser, clk clock.Clock, logger *logrus.Logger) error {
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db

	schemaCtx, cancel := context.WithTimeout(ctx, relayStartTimeout)
	defer cancel()
	if err := database.EnsureSchema(schemaCtx, db); err != nil {
		return err
	}
	logger.Info("Database connection established")

	holdRepo := database.NewHoldRepository(db)
	auditRepo := database.NewPaymentAuditRepository(db, logger)

	var queue services.QueuePublisher
	if a.amqp != nil {
		queue = a.amqp
	}

	a.holds = services.NewHoldService(holdRepo, cfg.Hold.TTL, clk, logger)
	a.notifier = services.NewHoldNotifierService(holdRepo, a.transport.publisher, a.transport.consumer, clk,
		services.HoldNotifierConfig{
			TTL:           cfg.Hold.TTL,
			WarningLead:   cfg.Hold.WarningLead,
			SweepInterval: cfg.Hold.SweepInterval,
		}, logger)
	a.relay = services.NewPaymentRelayService(parser, holdRepo, auditRepo, a.transport.publisher, queue, clk, logger)

	logger.Info("Relay initialized")
	return nil
}

func (a *app) close(logger *logrus.Logger) {
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close RabbitMQ connection")
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}
}

func newPaymentGateway(cfg *config.Config, logger *logrus.Logger) (gateway.PaymentGateway, error) {
	switch cfg.Payment.Provider {
	case config.ProviderStripe:
		logger.Info("Using Stripe payment gateway")
		return gateway.NewStripeGateway(&cfg.Payment, logger), nil
	case config.ProviderCheckout:
		logger.Info("Using hosted checkout payment gateway")
		return gateway.NewCheckoutGateway(&cfg.Payment, logger), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.Payment.Provider)
	}
}
