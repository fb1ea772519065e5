package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"soop-chat/backend/internal/bus"
	"soop-chat/backend/internal/repository"
	"soop-chat/backend/pkg/config"
	"soop-chat/backend/pkg/di"
	"soop-chat/backend/pkg/logger"
	"soop-chat/backend/pkg/observability"
	"soop-chat/backend/pkg/router"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	if cfg.Logging.Level != "" {
		logConfig.Level = cfg.Logging.Level
	}
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.LogError(err, "Server stopped with error")
		os.Exit(1)
	}
	log.Info("Server exited gracefully")
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("Starting application", "service", cfg.Server.ServiceName, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := config.NewDB(cfg, log)
	if err != nil {
		return err
	}
	if err := repository.Migrate(db); err != nil {
		return err
	}

	b, err := bus.New(cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	// Spans go to stdout outside production
	var traces io.Writer
	if !cfg.IsProduction() {
		traces = os.Stdout
	}
	provider, err := observability.Setup(observability.Options{
		ServiceName: cfg.Server.ServiceName,
		TraceWriter: traces,
	})
	if err != nil {
		return err
	}

	container, err := di.New(ctx, cfg, di.Options{
		DB:            db,
		Bus:           b,
		Logger:        log,
		MeterProvider: provider.MeterProvider(),
	})
	if err != nil {
		return err
	}
	container.Start(ctx)

	r := router.New(container)
	if cfg.Server.OpenAPISchema != "" {
		r.AddOpenAPIValidation(cfg.Server.OpenAPISchema)
	}
	r.SetupRoutes(provider.Handler())
	srv := r.Server()

	grpcServer := grpc.NewServer()
	healthServer := grpchealth.NewServer()
	container.Health.BindGRPC(healthServer, cfg.Server.ServiceName)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			return err
		}
		log.Info("gRPC health server starting", "port", cfg.Server.GRPCPort)
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		err := container.Hub.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.LogError(err, "Server forced to shutdown")
		}
		healthServer.Shutdown()
		grpcServer.GracefulStop()

		if err := container.Close(shutdownCtx); err != nil {
			log.LogError(err, "Bot responder did not drain")
		}
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.LogError(err, "Telemetry shutdown failed")
		}
		return nil
	})

	return g.Wait()
}
