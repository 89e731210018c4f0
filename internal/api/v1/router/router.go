package router

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"studybuddy/internal/accountapi"
	"studybuddy/internal/api/v1/handler"
	"studybuddy/internal/archive"
	"studybuddy/internal/billing"
	"studybuddy/internal/config"
	"studybuddy/internal/entitlement"
	"studybuddy/internal/middleware"
	"studybuddy/internal/model"
	"studybuddy/internal/outbox"
	"studybuddy/internal/pgmq"
	"studybuddy/internal/plan"
	"studybuddy/internal/platform/appstore"
	"studybuddy/internal/platform/playstore"
	"studybuddy/internal/platform/stripe"
	"studybuddy/internal/secrets"
	"studybuddy/internal/storage"
	"studybuddy/internal/syncer"
	"studybuddy/internal/usage"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/swaggo/swag"
)

// Runtime owns the engine's background loops and long-lived resources. Start
// launches the loops; Close releases pools and clients after the HTTP server
// has drained.
type Runtime struct {
	syncer   *syncer.Syncer
	drainer  *syncer.Drainer
	receiver *playstore.Receiver
	pool     *pgxpool.Pool
	logger   zerolog.Logger

	wg sync.WaitGroup
}

// Start launches the reconciliation loop and, when configured, the Play RTDN
// receiver. Both stop when ctx is cancelled.
func (rt *Runtime) Start(ctx context.Context) {
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := rt.syncer.Run(ctx); err != nil {
			rt.logger.Error().Err(err).Msg("Sync loop exited with error")
		}
	}()
	if rt.receiver != nil {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			if err := rt.receiver.Run(ctx); err != nil {
				rt.logger.Error().Err(err).Msg("Play RTDN receiver exited with error")
			}
		}()
	}
}

// Close waits for the background loops and releases resources.
func (rt *Runtime) Close() {
	rt.wg.Wait()
	if rt.receiver != nil {
		rt.receiver.Close()
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}

// New wires the full engine: storage, catalog, outbox, verifier, syncer,
// platform webhook sources and the HTTP surface.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, *Runtime, error) {
	logger.Info().Str("environment", cfg.Environment).Str("storage_backend", cfg.StorageBackend).Msg("Initializing engine")

	// 1. Resolve secret references before anything dials out with them.
	if err := secrets.ResolveAll(ctx, cfg.GCPProjectID, &cfg.JWTSecret, &cfg.AccountAPIToken, &cfg.DBConnectionString, &cfg.StripeWebhookSecret); err != nil {
		return nil, nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	// 2. Persistence.
	var (
		state storage.StateStore
		pool  *pgxpool.Pool
		queue outbox.Queue
	)
	switch cfg.StorageBackend {
	case "postgres":
		var err error
		pool, err = pgxpool.New(ctx, cfg.DBConnectionString)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open DB pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping DB: %w", err)
		}
		logger.Info().Msg("Database connection successful")
		state = storage.NewPGStore(pool, logger)
		queue = outbox.NewPGMQQueue(pgmq.New(pool), cfg.UsageQueueName, cfg.UsageDeadLetterQueueName, cfg.UsagePollTimeoutSec, logger)
	default:
		fs, err := storage.NewFileStore(cfg.DataDir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		state = fs
		queue = outbox.NewMemoryQueue(logger)
	}

	// 3. Rollover scheduler.
	loc, err := time.LoadLocation(cfg.UsageResetLocation)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid USAGE_RESET_LOCATION %q: %w", cfg.UsageResetLocation, err)
	}
	sched := usage.NewScheduler(loc)

	// 4. Plan catalog, with the Stripe prices registered as web products.
	extras := map[string]model.PlanID{}
	if cfg.StripePriceMonthly != "" {
		extras[cfg.StripePriceMonthly] = model.PlanProMonthly
	}
	if cfg.StripePriceYearly != "" {
		extras[cfg.StripePriceYearly] = model.PlanProYearly
	}
	catalog := plan.NewCatalog(extras)

	// 5. Core engine.
	mgr := entitlement.NewManager(state, catalog, queue, sched, logger)
	apiClient := accountapi.NewClient(cfg.AccountAPIBaseURL, cfg.AccountAPIToken, cfg.AccountAPITimeout(), logger)

	var arch archive.Archiver = archive.Noop{}
	if cfg.ReceiptArchiveBucket != "" {
		s3Client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		arch = archive.NewS3Archiver(s3Client, cfg.ReceiptArchiveBucket, logger)
	}

	verifier := billing.NewVerifier(apiClient, mgr, catalog, arch, billing.Config{
		GraceEnabled: cfg.PendingGraceEnabled,
		GraceWindow:  time.Duration(cfg.PendingGraceHours) * time.Hour,
	}, logger)

	// The in-process drainer runs only on the file backend; with pgmq a
	// standalone syncworker owns the outbox.
	var drainer *syncer.Drainer
	if cfg.StorageBackend != "postgres" {
		drainer = syncer.NewDrainer(queue, apiClient, syncer.DrainConfig{
			BatchSize:      cfg.UsagePushBatchSize,
			MaxRetries:     cfg.UsagePushMaxRetries,
			BackoffInitial: time.Duration(cfg.UsagePushBackoffInitSec) * time.Second,
			BackoffMax:     time.Duration(cfg.UsagePushBackoffMaxSec) * time.Second,
		}, logger)
	}
	sync := syncer.NewSyncer(mgr, apiClient, catalog, drainer, time.Duration(cfg.SyncIntervalSec)*time.Second, logger)

	// 6. Validator and handlers.
	validate := validator.New(validator.WithRequiredStructEnabled())

	entitlementHandler := handler.NewEntitlementHandler(mgr, catalog, logger)
	usageHandler := handler.NewUsageHandler(mgr, validate, logger)
	purchaseHandler := handler.NewPurchaseHandler(verifier, validate, logger)
	accountHandler := handler.NewAccountHandler(mgr, sync, logger)

	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret, logger)

	mux := http.NewServeMux()

	apiV1Mux := http.NewServeMux()
	entitlementHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	usageHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	purchaseHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	accountHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	// Platform notification sources. These authenticate by signature or
	// transport, not by bearer token.
	if cfg.StripeWebhookSecret != "" {
		mux.Handle("POST /webhooks/stripe", stripe.NewWebhookHandler(verifier, cfg.StripeWebhookSecret, logger))
	}
	mux.Handle("POST /webhooks/appstore", appstore.NewNotificationHandler(verifier, state, logger))

	var receiver *playstore.Receiver
	if cfg.GCPProjectID != "" && cfg.PlayRTDNSubscription != "" {
		receiver, err = playstore.NewReceiver(ctx, cfg.GCPProjectID, cfg.PlayRTDNSubscription, verifier, state, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Play RTDN receiver: %w", err)
		}
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /swagger/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		doc, err := swag.ReadDoc()
		if err != nil {
			http.Error(w, "swagger spec unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	rt := &Runtime{
		syncer:   sync,
		drainer:  drainer,
		receiver: receiver,
		pool:     pool,
		logger:   logger,
	}
	return middleware.LoggerMiddleware(logger, c.Handler(mux)), rt, nil
}

func newS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	s3Config, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}
	return s3.NewFromConfig(s3Config, func(o *s3.Options) {
		if cfg.S3URL != "" {
			o.BaseEndpoint = aws.String(cfg.S3URL)
			o.UsePathStyle = true
		}
	}), nil
}
