package erpcore

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"erp-core/internal/audit"
	"erp-core/internal/auth"
	"erp-core/internal/eventing"
	eventingpg "erp-core/internal/eventing/infrastructure/postgres"
	"erp-core/internal/observability/metrics"
	"erp-core/internal/platform/config"
	"erp-core/internal/platform/database"
	"erp-core/internal/platform/httpx"
	"erp-core/internal/platform/idempotency"
	"erp-core/internal/platform/tracing"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve <orders|inventory|finance>",
	Short: "Run one service over HTTP",
	Long: `serve runs the HTTP API of one service together with its outbox relay.

Events are relayed to Kafka when KAFKA_BROKERS is set and logged otherwise.
Mutating requests carrying X-Idempotency are replayed from Redis when
REDIS_ADDR is set.`,
	Example:   "  erpcore serve orders\n  erpcore serve finance --migrate",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: services,
	RunE:      runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
}

// module is the HTTP surface of one service plus its background loops.
type module struct {
	handler    http.Handler
	prefixes   []string
	background []func(ctx context.Context)
}

// deps are the shared pieces every service module is built from.
type deps struct {
	cfg       config.Config
	db        *database.Handle
	publisher *eventing.Publisher
	audit     audit.Logger
	logger    *zap.Logger
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, "erp-"+cfg.Service, version, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.Open(ctx, cfg.DatabaseURL, cfg.DatabaseReplicaURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		if err := database.Migrate(db.Primary, cfg.MigrationsPath(), logger); err != nil {
			return err
		}
	}
	metrics.Init(db.Primary, cfg.Service, logger)

	outbox := eventingpg.NewOutboxStore(db.Primary)
	d := deps{
		cfg:       cfg,
		db:        db,
		publisher: eventing.NewPublisher(outbox, cfg.TenantID),
		audit:     audit.NewRepository(db.Primary, db.Reader),
		logger:    logger,
	}
	var mod module
	switch cfg.Service {
	case config.ServiceOrders:
		mod, err = ordersModule(d)
	case config.ServiceInventory:
		mod, err = inventoryModule(d)
	case config.ServiceFinance:
		mod, err = financeModule(ctx, d)
	}
	if err != nil {
		return err
	}

	sink, closeSink, err := newSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()
	dispatcher := eventing.NewDispatcher(sink, outbox, eventingpg.NewDLQStore(db.Primary), cfg.Outbox.MaxAttempts, logger)
	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		if err := dispatcher.Run(ctx, cfg.Outbox.Interval, cfg.Outbox.BatchSize); err != nil {
			logger.Error("outbox relay stopped", zap.Error(err))
		}
	}()
	for _, loop := range mod.background {
		loops.Add(1)
		go func(run func(context.Context)) {
			defer loops.Done()
			run(ctx)
		}(loop)
	}

	idem, closeRedis, err := newIdempotency(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           buildHandler(cfg, mod, idem, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("version", version))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			stop()
			loops.Wait()
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	stop()
	loops.Wait()
	return err
}

// buildHandler mounts the module next to /healthz and /metrics and applies
// access logging, tracing, auth, event correlation and idempotent replay,
// outermost first.
func buildHandler(cfg config.Config, mod module, idem *idempotency.Middleware, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	for _, prefix := range mod.prefixes {
		mux.Handle(prefix, mod.handler)
		mux.Handle(prefix+"/", mod.handler)
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var authMiddleware *auth.Middleware
	if cfg.AuthDisabled {
		authMiddleware = auth.NewDisabledMiddleware(cfg.TenantID)
	} else {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
		authMiddleware = auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	}
	handler := authMiddleware.Wrap(eventing.CorrelationMiddleware(idem.Wrap(mux)))
	handler = httpx.TraceContext(handler, "erp-"+cfg.Service)
	return httpx.AccessLog(handler, logger)
}

func newSink(cfg config.Config, logger *zap.Logger) (eventing.Sink, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Info("KAFKA_BROKERS not set, outbox events are logged")
		return eventing.NewLogSink(logger), func() {}, nil
	}
	sink, err := eventing.NewKafkaSink(eventing.NewKafkaWriter(cfg.Kafka.Brokers), cfg.Kafka.TopicPrefix)
	if err != nil {
		return nil, nil, err
	}
	return sink, func() {
		if err := sink.Close(); err != nil {
			logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}, nil
}

func newIdempotency(ctx context.Context, cfg config.Config, logger *zap.Logger) (*idempotency.Middleware, func(), error) {
	if cfg.RedisAddr == "" {
		return idempotency.NewMiddleware(nil, cfg.IdempotencyTTL, logger), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	store, err := idempotency.NewRedisStore(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	mw := idempotency.NewMiddleware(store, cfg.IdempotencyTTL, logger, idempotency.WithScope(func(r *http.Request) string {
		return auth.TenantIDFromContext(r.Context())
	}))
	return mw, func() { _ = client.Close() }, nil
}
