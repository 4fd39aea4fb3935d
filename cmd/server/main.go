package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/propfolio/gatekeeper/internal/config"
	"github.com/propfolio/gatekeeper/internal/domain/models"
	"github.com/propfolio/gatekeeper/internal/domain/service"
	"github.com/propfolio/gatekeeper/internal/infrastructure/audit"
	"github.com/propfolio/gatekeeper/internal/infrastructure/monitoring"
	"github.com/propfolio/gatekeeper/internal/infrastructure/persistence/redis"
	"github.com/propfolio/gatekeeper/internal/infrastructure/quota"
	"github.com/propfolio/gatekeeper/internal/infrastructure/ratelimit"
	gkgrpc "github.com/propfolio/gatekeeper/internal/interfaces/grpc"
	gkhttp "github.com/propfolio/gatekeeper/internal/interfaces/http"
	"github.com/propfolio/gatekeeper/internal/interfaces/http/handlers"
	"github.com/propfolio/gatekeeper/pkg/constants"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

func main() {
	startupLogger, _ := monitoring.NewZapLogger(&config.LogConfig{Level: "info"})

	cfg, err := config.LoadConfig(startupLogger)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanup, err := monitoring.InitTracer(&cfg.Tracing, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize tracer", err)
	}
	defer cleanup()

	redisConn, err := redis.NewConnection(&cfg.Redis, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to connect to Redis", err)
	}
	defer redisConn.Close()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	rateLimiter := ratelimit.NewWindowLimiter(redisConn.Client(), &cfg.RateLimit, appLogger)
	quotaTracker := quota.NewQuotaTracker(redisConn.Client(), &cfg.Quota, appLogger)

	var auditSvc service.AuditService
	if cfg.Kafka.Enabled {
		auditSvc = audit.NewKafkaProducer(&cfg.Kafka, appLogger)
	} else {
		auditSvc = audit.NewNoopAuditService()
	}
	defer func() {
		if err := auditSvc.Close(); err != nil {
			appLogger.Warn(context.Background(), "Failed to close audit producer")
		}
	}()

	healthHandler := handlers.NewHealthHandler(redisConn, appLogger)
	adminHandler := handlers.NewAdminHandler(rateLimiter, quotaTracker, auditSvc,
		constants.QuotaTier(cfg.Quota.DefaultTier), appLogger)

	router := gkhttp.NewRouter(cfg, appLogger, metrics, rateLimiter, quotaTracker, auditSvc, healthHandler, adminHandler)

	interceptors := gkgrpc.NewInterceptorChain(appLogger, metrics, rateLimiter, quotaTracker,
		models.DefaultRateLimitConfigurations()[constants.RateLimitContextAPI])
	grpcServer := grpcpkg.NewServer(interceptors.ChainUnaryInterceptors())
	grpc_health_v1.RegisterHealthServer(grpcServer, health.NewServer())

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return router.Start()
	})

	group.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.GRPCPort)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("grpc listen on %s: %w", addr, err)
		}
		appLogger.Info(groupCtx, "Starting gRPC server", logger.String("address", addr))
		return grpcServer.Serve(lis)
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		grpcServer.GracefulStop()
		return router.Stop(shutdownCtx)
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		appLogger.Fatal(context.Background(), "Server exited with error", err)
	}

	appLogger.Info(context.Background(), "Shutdown complete")
}
