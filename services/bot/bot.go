// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bot assembles and runs the assistant service.
//
// # Description
//
// The service receives Telegram updates over a webhook, resolves each
// one through the turn engine and delivers the reply. Supporting pieces:
//   - OpenAI for completions, image generation and transcription
//   - Weaviate for the note index (optional)
//   - MySQL for the allow-list and session log (optional)
//   - Prometheus metrics and OpenTelemetry tracing
//
// # Example
//
//	svc, err := bot.New(bot.Config{Port: 12300, WebhookURL: "https://bot.example/telegram-webhook"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/TyanRL/telegram-bot/services/bot/access"
	"github.com/TyanRL/telegram-bot/services/bot/conversation"
	"github.com/TyanRL/telegram-bot/services/bot/engine"
	"github.com/TyanRL/telegram-bot/services/bot/handlers"
	"github.com/TyanRL/telegram-bot/services/bot/observability"
	"github.com/TyanRL/telegram-bot/services/bot/routes"
	"github.com/TyanRL/telegram-bot/services/bot/session"
	"github.com/TyanRL/telegram-bot/services/bot/tools"
	"github.com/TyanRL/telegram-bot/services/geocode"
	"github.com/TyanRL/telegram-bot/services/llm"
	"github.com/TyanRL/telegram-bot/services/notes"
	"github.com/TyanRL/telegram-bot/services/search"
	"github.com/TyanRL/telegram-bot/services/storage"
	"github.com/TyanRL/telegram-bot/services/telegram"
	"github.com/TyanRL/telegram-bot/services/weather"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Service is the runnable bot.
type Service interface {
	// Run registers the webhook and serves HTTP until a fatal error.
	Run() error

	// Router exposes the Gin engine for integration tests.
	Router() *gin.Engine
}

// Config carries service configuration. Zero values fall back to
// defaults in applyConfigDefaults.
type Config struct {
	// Port is the HTTP server port. Default: 12300
	Port int

	// WebhookURL is the public URL Telegram posts updates to.
	// If empty, webhook registration is skipped (useful behind a proxy
	// that registers it separately).
	WebhookURL string

	// WeaviateURL is the note index database URL. If empty, note tools
	// degrade to "service unavailable" replies.
	WeaviateURL string

	// MySQLEnabled turns on durable allow-list and session storage via
	// the MYSQL_DSN environment variable. Default: true when the DSN
	// is set.
	MySQLEnabled bool

	// ModelCatalogPath points to the YAML model catalog. If empty the
	// built-in catalog is used.
	ModelCatalogPath string

	// MaxHistory bounds the history window sent to the model.
	// Default: conversation.DefaultMaxHistory
	MaxHistory int

	// AdminToken guards the operator API. Empty disables it.
	AdminToken string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "otel-collector:4317"
	OTelEndpoint string

	// EnableTracing turns on OTLP trace export. Default: false (the
	// collector is optional in small deployments).
	EnableTracing bool

	// EnableMetrics enables the Prometheus /metrics endpoint.
	EnableMetrics bool

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string
}

type service struct {
	config Config
	router *gin.Engine

	catalog        *llm.Catalog
	history        *conversation.Manager
	completer      *llm.OpenAIClient
	tg             *telegram.Client
	db             *storage.DB
	weaviateClient *weaviate.Client
	acl            *access.List
	tracker        *session.Tracker
	engine         *engine.Engine

	tracerCleanup func(context.Context)
}

// New assembles the service. Optional collaborators (Weaviate, MySQL,
// geocoder, web search) that fail to initialize are logged and skipped;
// their tools degrade gracefully at dispatch time.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	if s.config.EnableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	var metrics *observability.TurnMetrics
	if s.config.EnableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	}

	if err := s.initCatalog(); err != nil {
		return nil, err
	}
	s.history = conversation.NewManager(s.config.MaxHistory, s.catalog.Default())

	var err error
	s.completer, err = llm.NewOpenAIClient(s.catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}

	s.tg, err = telegram.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
	}

	ctx := context.Background()
	if err := s.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := s.initAccess(ctx); err != nil {
		return nil, err
	}
	s.initTracker(ctx)

	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, note tools disabled", "error", err)
	}

	dispatcher, reverser := s.buildDispatcher()
	s.engine = engine.New(s.history, s.catalog, s.completer, dispatcher, reverser, metrics)

	s.initRouter()
	return s, nil
}

// Run registers the webhook and blocks serving HTTP.
func (s *service) Run() error {
	defer s.cleanup()

	g, ctx := errgroup.WithContext(context.Background())

	if s.config.WebhookURL != "" {
		g.Go(func() error {
			return s.tg.SetWebhook(ctx, s.config.WebhookURL)
		})
	}

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", s.config.Port)
		slog.Info("Starting bot server", "port", s.config.Port, "version", Version)
		return s.router.Run(addr)
	})

	return g.Wait()
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12300
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = conversation.DefaultMaxHistory
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "otel-collector:4317"
	}
	return cfg
}

func (s *service) initCatalog() error {
	if s.config.ModelCatalogPath == "" {
		s.catalog = llm.DefaultCatalog()
		return nil
	}
	catalog, err := llm.LoadCatalog(s.config.ModelCatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load model catalog: %w", err)
	}
	s.catalog = catalog
	return nil
}

func (s *service) initStorage(ctx context.Context) error {
	if !s.config.MySQLEnabled {
		slog.Info("MySQL disabled, allow-list and session log are in-memory only")
		return nil
	}
	db, err := storage.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize MySQL storage: %w", err)
	}
	s.db = db
	return nil
}

func (s *service) initAccess(ctx context.Context) error {
	var st access.Store
	if s.db != nil {
		st = s.db
	}
	acl, err := access.NewList(ctx, st)
	if err != nil {
		return fmt.Errorf("failed to initialize allow-list: %w", err)
	}
	s.acl = acl
	return nil
}

func (s *service) initTracker(ctx context.Context) {
	if s.db == nil {
		s.tracker = session.NewTracker(nil)
		return
	}
	s.tracker = session.NewTracker(s.db)

	records, err := s.db.AllSessions(ctx)
	if err != nil {
		slog.Warn("Failed to load session history", "error", err)
		return
	}
	seed := make([]session.Record, 0, len(records))
	for _, rec := range records {
		seed = append(seed, session.Record{
			UserID:   rec.UserID,
			Username: rec.Username,
			LastSeen: rec.LastSeen,
		})
	}
	s.tracker.Seed(seed)
}

// initWeaviate mirrors the URL validation the rest of the fleet uses.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, note tools disabled")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	s.weaviateClient, err = weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// buildDispatcher wires the tool collaborators. A collaborator whose
// credentials are missing stays nil; its tools answer with a capability
// failure instead of breaking startup.
func (s *service) buildDispatcher() (*tools.Dispatcher, engine.ReverseGeocoder) {
	geocoder, err := geocode.NewClient()
	if err != nil {
		slog.Warn("Geocoder disabled", "error", err)
		geocoder = nil
	}

	searcher, err := search.NewClient()
	if err != nil {
		slog.Warn("Web search disabled", "error", err)
		searcher = nil
	}

	var noteIndex *notes.Index
	if s.weaviateClient != nil {
		noteIndex = notes.NewIndex(s.weaviateClient)
	}

	var geocoderIface tools.Geocoder
	var reverser engine.ReverseGeocoder
	if geocoder != nil {
		geocoderIface = geocoder
		reverser = geocoder
	}
	var searcherIface tools.WebSearcher
	if searcher != nil {
		searcherIface = searcher
	}
	var noteIface tools.NoteIndex
	if noteIndex != nil {
		noteIface = noteIndex
	}

	dispatcher := tools.NewDispatcher(
		weather.NewClient(),
		geocoderIface,
		noteIface,
		searcherIface,
		s.completer,
		s.tg,
		s.history,
		s.catalog,
	)
	return dispatcher, reverser
}

func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("telegram-bot"))

	h := handlers.New(s.engine, s.tg, s.acl, s.tracker, s.catalog, s.history, Version)
	routes.SetupRoutes(s.router, h, s.config.AdminToken)
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("telegram-bot")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("MySQL close error", "error", err)
		}
	}
}
