// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command hrvbrain runs the HRV session ingestion and analytics service.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hrvbrain/hrvbrain/services/hrv/config"
	"github.com/hrvbrain/hrvbrain/services/hrv/engine"
	"github.com/hrvbrain/hrvbrain/services/hrv/handlers"
	"github.com/hrvbrain/hrvbrain/services/hrv/middleware"
	"github.com/hrvbrain/hrvbrain/services/hrv/observability"
	"github.com/hrvbrain/hrvbrain/services/hrv/storage"
	"github.com/hrvbrain/hrvbrain/services/hrv/storage/badgerstore"
	"github.com/hrvbrain/hrvbrain/services/hrv/storage/postgres"
	"github.com/hrvbrain/hrvbrain/services/hrv/validation"
)

const serviceName = "hrvbrain"

// initTracer wires the OTLP gRPC exporter. Returns a no-op cleanup when
// no collector endpoint is configured.
func initTracer(endpoint string) (func(context.Context), error) {
	if endpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, trace export disabled")
		return func(context.Context) {}, nil
	}
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// openStore builds the configured storage backend.
func openStore(cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		store, err := postgres.Open(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := store.ValidateSchema(); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("using postgres store",
			"host", cfg.Postgres.Host, "database", cfg.Postgres.DBName)
		return store, nil
	default:
		bcfg := badgerstore.DefaultConfig(cfg.BadgerDir)
		bcfg.Logger = logger
		store, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, err
		}
		logger.Info("using badger store", "dir", cfg.BadgerDir)
		return store, nil
	}
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	cleanup, err := initTracer(cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	store, err := openStore(cfg, logger)
	if err != nil {
		log.Fatalf("failed to open the session store: %v", err)
	}
	defer store.Close()

	metrics := observability.Init()
	eng := engine.New(store, validation.New(cfg.Duration), metrics, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	handlers.SetupRoutes(router, eng, middleware.NewRateLimiter(cfg.RateLimit))

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("hrvbrain listening", "addr", cfg.ListenAddr, "backend", cfg.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
