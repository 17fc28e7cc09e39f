// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

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
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jinterlante1206/LiveTally/pkg/logging"
	"github.com/jinterlante1206/LiveTally/services/tally/broadcast"
	"github.com/jinterlante1206/LiveTally/services/tally/counter"
	"github.com/jinterlante1206/LiveTally/services/tally/identity"
	"github.com/jinterlante1206/LiveTally/services/tally/jointoken"
	"github.com/jinterlante1206/LiveTally/services/tally/middleware"
	"github.com/jinterlante1206/LiveTally/services/tally/routes"
	"github.com/jinterlante1206/LiveTally/services/tally/service"
	"github.com/jinterlante1206/LiveTally/services/tally/storage/badger"
)

// initTracer wires OTLP tracing when a collector endpoint is configured.
// Returns a nil cleanup when tracing is disabled; the service runs fine
// without a collector.
func initTracer(ctx context.Context) (func(context.Context), error) {
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		return nil, nil
	}

	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("tally-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	port := os.Getenv("TALLY_PORT")
	if port == "" {
		port = "12300"
	}
	dataDir := os.Getenv("TALLY_DATA_DIR")
	if dataDir == "" {
		dataDir = "./tally-data"
	}

	appLog := logging.New(logging.Config{
		Level:   os.Getenv("TALLY_LOG_LEVEL"),
		LogDir:  os.Getenv("TALLY_LOG_DIR"),
		Service: "tally",
		JSON:    true,
	})
	defer appLog.Close()
	logger := appLog.Slog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanup, err := initTracer(ctx)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	if cleanup != nil {
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
	}

	dbCfg := badger.DefaultConfig()
	dbCfg.Path = dataDir
	dbCfg.Logger = logger
	db, err := badger.Open(dbCfg)
	if err != nil {
		log.Fatalf("FATAL: could not open the database: %v", err)
	}
	defer db.Close()

	identityStore := identity.NewStore(db, nil)
	counterStore := counter.NewStore(db)
	tokenRegistry := jointoken.NewRegistry(db, jointoken.DefaultTTL)

	svc := service.New(counterStore, tokenRegistry, nil)
	hub := broadcast.NewRouter(svc)
	svc.SetRouter(hub)

	admission := middleware.NewAdmission(middleware.DefaultAdmissionConfig())

	sweeper := jointoken.NewSweeper(tokenRegistry, jointoken.DefaultSweeperConfig())
	if err := sweeper.Start(ctx); err != nil {
		log.Fatalf("FATAL: could not start the join token sweeper: %v", err)
	}
	defer sweeper.Stop()

	router := gin.Default()
	if cleanup != nil {
		router.Use(otelgin.Middleware("tally-service"))
	}
	routes.SetupRoutes(router, identityStore, svc, hub, admission)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting the tally server", "port", port, "data_dir", dataDir)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
	slog.Info("tally server stopped")
}
