package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"philbox/scheduling/internal/app"
	"philbox/scheduling/internal/config"
	"philbox/scheduling/internal/events"
	"philbox/scheduling/internal/metrics"
	"philbox/scheduling/internal/service/scheduling"
	"philbox/scheduling/internal/store/postgres"
	grpcTransport "philbox/scheduling/internal/transport/grpc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Error("config load failed", zap.Error(err))
		os.Exit(1)
	}

	log, err := app.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Error("logger init failed", zap.Error(err))
		os.Exit(1)
	}
	log = log.With(zap.String("service", "scheduling-server"))
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("starting", zap.String("grpc_addr", cfg.GRPCAddr()), zap.String("log_level", cfg.LogLevel))

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}

	log.Info("connecting to database", databaseLogFields(cfg.DatabaseURL)...)
	openCtx, cancelOpen := context.WithTimeout(context.Background(), 15*time.Second)
	db, err := postgres.Open(openCtx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}, log)
	cancelOpen()
	if err != nil {
		log.Error("database connection failed", append([]zap.Field{zap.Error(err)}, databaseLogFields(cfg.DatabaseURL)...)...)
		return err
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", zap.Error(err))
		}
	}()

	if cfg.MigrateOnStart {
		migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := postgres.Migrate(migrateCtx, db, log)
		cancel()
		if err != nil {
			return err
		}
	}

	publisher, err := newPublisher(cfg.Notify, log)
	if err != nil {
		return err
	}
	dispatcher := events.NewDispatcher(publisher, events.NewZapActivityLog(log), log, cfg.Notify.Timeout)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(ctx); err != nil {
			log.Warn("event dispatcher close failed", zap.Error(err))
		}
	}()

	svc := scheduling.NewService(postgres.NewSchedulingRepo(db),
		scheduling.WithLocation(loc),
		scheduling.WithEvents(dispatcher),
		scheduling.WithLogger(log),
	)

	limiter := grpcTransport.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcTransport.MetricsInterceptor(),
			limiter.UnaryInterceptor(),
			grpcTransport.DefaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout),
		),
	)
	grpcTransport.RegisterSchedulingServiceServer(grpcServer, grpcTransport.NewSchedulingServer(svc, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", zap.Error(err), zap.String("grpc_addr", cfg.GRPCAddr()))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	limiter.StartCleanup(ctx, time.Minute, cfg.RateLimitIdle)

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	log.Info("grpc server started", zap.String("grpc_addr", cfg.GRPCAddr()))

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		log.Info("metrics server started", zap.String("metrics_addr", cfg.MetricsAddr))
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErr = err
		}
	}
	shutdown(log, grpcServer, metricsServer, cfg.ShutdownTimeout)
	return serveErr
}

func newPublisher(cfg config.NotifyConfig, log *zap.Logger) (events.Publisher, error) {
	switch cfg.Driver {
	case "redis":
		log.Info("publishing transitions to redis", zap.String("channel", cfg.RedisChannel))
		return events.NewRedisPublisher(cfg.RedisURL, cfg.RedisChannel)
	case "kafka":
		log.Info("publishing transitions to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "", "log":
		return events.NewLogPublisher(log), nil
	default:
		return nil, errors.New("unknown notify driver: " + cfg.Driver)
	}
}

func shutdown(log *zap.Logger, s *grpc.Server, metricsServer *http.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", zap.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
}

func databaseLogFields(databaseURL string) []zap.Field {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []zap.Field{zap.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []zap.Field{
		zap.String("db_host", host),
		zap.String("db_port", port),
		zap.String("db_name", name),
	}
}
