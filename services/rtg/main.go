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
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/ReportForge/services/llm"
	"github.com/AleutianAI/ReportForge/services/rtg/compiler"
	"github.com/AleutianAI/ReportForge/services/rtg/config"
	"github.com/AleutianAI/ReportForge/services/rtg/fetcher"
	"github.com/AleutianAI/ReportForge/services/rtg/observability"
	"github.com/AleutianAI/ReportForge/services/rtg/resilience"
	"github.com/AleutianAI/ReportForge/services/rtg/routes"
	"github.com/AleutianAI/ReportForge/services/rtg/rtgerr"
	"github.com/AleutianAI/ReportForge/services/rtg/scheduler"
	"github.com/AleutianAI/ReportForge/services/rtg/store"
	"github.com/AleutianAI/ReportForge/services/rtg/submitter"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		// Tracing is optional; without a collector the service runs
		// with the default no-op provider.
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
		return func(context.Context) {}, nil
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
		resource.WithAttributes(semconv.ServiceNameKey.String("rtg-service")))
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

// buildClientResolver constructs the configured LLM backends once and
// hands out the matching client per request. Providers whose
// environment is incomplete are simply unavailable.
func buildClientResolver() submitter.ClientResolver {
	clients := make(map[string]llm.LLMClient)

	if ollama, err := llm.NewOllamaClient(); err != nil {
		slog.Warn("Ollama backend unavailable", "error", err)
	} else {
		clients["ollama"] = ollama
	}
	if openai, err := llm.NewOpenAIClient(); err != nil {
		slog.Warn("OpenAI backend unavailable", "error", err)
	} else {
		clients["openai"] = openai
	}
	if len(clients) == 0 {
		slog.Warn("no LLM backends configured; submit requests will fail")
	}

	return func(provider string) (llm.LLMClient, error) {
		client, ok := clients[provider]
		if !ok {
			return nil, &rtgerr.ValidationError{Field: "provider",
				Reason: "unknown or unconfigured provider " + provider}
		}
		return client, nil
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("FATAL: could not load the config: %v", err)
	}

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	storeCfg := store.DefaultConfig(cfg.Storage.Path)
	storeCfg.Logger = logger
	if cfg.Storage.InMemory {
		storeCfg = store.InMemoryConfig()
	}
	db, err := store.Open(storeCfg)
	if err != nil {
		log.Fatalf("FATAL: could not open the store at %s: %v", cfg.Storage.Path, err)
	}
	defer db.Close()

	templates := store.NewTemplateStore(db)
	reports := store.NewReportStore(db)
	inventory := store.NewInventoryStore(db)

	scopeFetcher := fetcher.NewDataScopeFetcher(inventory, logger)
	scopeFetcher.AllowUnscoped = cfg.Fetcher.AllowUnscoped

	comp := compiler.NewCompiler(scopeFetcher, cfg.Server.Env, cfg.Budgets)
	breakers := resilience.NewRegistry()
	breakers.OnStateChange(func(name string, from, to resilience.CircuitState) {
		slog.Warn("circuit breaker state change",
			"provider", name, "from", from.String(), "to", to.String())
		if m := observability.DefaultMetrics; m != nil {
			m.CircuitState.WithLabelValues(name).Set(float64(to))
		}
	})

	retry := resilience.DefaultRetryConfig()
	if cfg.Submit.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Submit.MaxAttempts
	}
	sub := submitter.NewSubmitter(comp, buildClientResolver(), breakers, reports,
		submitter.Config{
			DefaultProvider: cfg.Submit.DefaultProvider,
			DefaultModel:    cfg.Submit.DefaultModel,
			SubmitTimeout:   cfg.Submit.Timeout(),
			Retry:           retry,
		}, logger)

	sched := scheduler.NewScheduler(sub, scheduler.NewDeliverer(logger),
		cfg.Scheduler.ToSchedulerConfig(), logger)
	if cfg.Scheduler.Enabled {
		sched.Start()
		defer sched.Stop()
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("rtg-service"))

	routes.SetupRoutes(router, routes.Deps{
		Templates: templates,
		Reports:   reports,
		Compiler:  comp,
		Submitter: sub,
		Scheduler: sched,
		Breakers:  breakers,
	})

	// Shut the scheduler and store down cleanly on SIGTERM.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		slog.Info("shutdown signal received")
		if cfg.Scheduler.Enabled {
			sched.Stop()
		}
		_ = db.Close()
		os.Exit(0)
	}()

	log.Println("Starting the RTG server on port", cfg.Server.Port)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
