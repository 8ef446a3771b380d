package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/diagnosis/venue-scanner/internal/domain"
	"github.com/diagnosis/venue-scanner/internal/history"
	"github.com/diagnosis/venue-scanner/internal/http/handlers"
	"github.com/diagnosis/venue-scanner/internal/metrics"
	"github.com/diagnosis/venue-scanner/internal/scanner"
	"github.com/diagnosis/venue-scanner/internal/ticketapi"
	"github.com/diagnosis/venue-scanner/pkg/auth"
	"github.com/diagnosis/venue-scanner/pkg/config"
	"github.com/diagnosis/venue-scanner/pkg/database"
	"github.com/diagnosis/venue-scanner/pkg/events"
	"github.com/diagnosis/venue-scanner/pkg/logger"
	mw "github.com/diagnosis/venue-scanner/pkg/middleware"
)

func main() {
	_ = godotenv.Load()
	logger.SetDefault(logger.New(os.Stdout, os.Getenv("LOG_LEVEL")))
	cfg := config.Load()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// History store
	var (
		store history.Store = history.Nop{}
		rdb   *redis.Client
	)
	switch cfg.History.Backend {
	case "redis":
		client, err := database.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		rdb = client
		store = history.NewRedisStore(client, cfg.History.Limit, cfg.History.TTL)
	case "postgres":
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		pg := history.NewPostgresStore(pool, cfg.History.Limit)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("Failed to prepare history schema", "error", err)
			os.Exit(1)
		}
		store = pg
	case "none", "":
	default:
		logger.Warn("Unknown history backend, history disabled", "backend", cfg.History.Backend)
	}

	// Event bus
	var bus events.Publisher = events.Noop{}
	if cfg.NATS.URL != "" {
		nb, err := events.NewNATSEventBus(cfg.NATS.URL, "venue-scanner")
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		bus = nb
	}
	defer bus.Close()

	identify := auth.Identifier(cfg.Auth.JWTSecret)
	svc := scanner.NewService(scanner.Options{
		API:            ticketapi.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout),
		Facings:        facings(cfg.Scanner.CameraFacings),
		DefaultFacing:  defaultFacing(cfg.Scanner.DefaultFacing),
		FrameBuffer:    cfg.Scanner.FrameBuffer,
		SessionTTL:     cfg.Scanner.SessionTTL,
		MaxFramePixels: cfg.Scanner.MaxFramePixels,
		Identify:       identify,
		Observers: []scanner.Observer{
			metrics.NewObserver(),
			history.NewObserver(store),
			scanner.NewEventObserver(bus),
		},
		OnDecodeFault: metrics.DecodeFault,
	})
	defer svc.Registry().Close()
	metrics.TrackSessions(svc.Registry().Len)
	go svc.Registry().Run(ctx, cfg.Scanner.SweepInterval)

	h := handlers.NewScannerHandler(svc, store, identify, cfg.Scanner.MaxUploadBytes, cfg.History.Limit)
	if rdb != nil {
		h.VerifyMiddleware = mw.IdempotencyKey(mw.NewRedisIdempotencyStore(rdb), 24*time.Hour)
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("scanner"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"Location", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health)
	r.Use(mw.Metrics)

	r.Mount("/v1/scanner", h.Routes())

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down scanner service...")
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Scanner shutdown error", "error", err)
		}
	}()

	logger.Info("Starting scanner service", "port", cfg.Server.Port, "backend", cfg.Backend.BaseURL, "history", cfg.History.Backend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Scanner server error", "error", err)
		os.Exit(1)
	}
}

func facings(names []string) []domain.Facing {
	out := make([]domain.Facing, 0, len(names))
	for _, name := range names {
		f, ok := domain.ParseFacing(name)
		if !ok {
			logger.Warn("Ignoring unknown camera facing", "facing", name)
			continue
		}
		out = append(out, f)
	}
	return out
}

func defaultFacing(name string) domain.Facing {
	if f, ok := domain.ParseFacing(name); ok {
		return f
	}
	return domain.FacingEnvironment
}
