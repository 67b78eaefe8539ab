// Package main runs the paraglider flight-safety monitor.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vol-libre/guardian-angel/pkg/config"
	"github.com/vol-libre/guardian-angel/pkg/events"
	"github.com/vol-libre/guardian-angel/pkg/guardian"
	"github.com/vol-libre/guardian-angel/pkg/handler"
	"github.com/vol-libre/guardian-angel/pkg/monitor"
	"github.com/vol-libre/guardian-angel/pkg/notify"
	"github.com/vol-libre/guardian-angel/pkg/store"
	"github.com/vol-libre/guardian-angel/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	log.Info().
		Str("config", *configPath).
		Str("telemetry_url", cfg.Telemetry.BaseURL).
		Str("database_url", maskPassword(cfg.Database.URL)).
		Int("pilots", len(cfg.Pilots)).
		Msg("Starting flight-safety monitor")

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Monitor failed")
	}

	log.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	// History store: PostgreSQL when configured, in-memory otherwise.
	var st store.Store
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		st = pg
		log.Info().Msg("Using PostgreSQL history store")
	} else {
		st = store.NewMemory()
		log.Info().Msg("Using in-memory history store")
	}
	defer st.Close()

	// Optional event mirror.
	var mirror events.Publisher = events.Noop{}
	if cfg.NATS.URL != "" {
		np, err := events.NewNATS(cfg.NATS.URL, log.Logger)
		if err != nil {
			return fmt.Errorf("connecting event mirror: %w", err)
		}
		mirror = np
	}

	hub := handler.NewStreamHub(log.Logger)
	publisher := events.Multi{mirror, hub}
	defer publisher.Close()

	discord := notify.NewDiscord(notify.DiscordConfig{
		Token:     cfg.Discord.BotToken,
		ChannelID: cfg.Discord.ChannelID,
	}, log.Logger)

	guard := guardian.New(guardian.Config{
		Notifier:     discord,
		Publisher:    publisher,
		Thresholds:   cfg.Thresholds,
		Timeout:      cfg.Monitor.ConfirmTimeout.Std(),
		StaleAfter:   cfg.Monitor.StaleAfter.Std(),
		TrackBaseURL: cfg.Telemetry.BaseURL,
		Group:        cfg.Telemetry.Group,
	}, log.Logger)

	for _, p := range cfg.Pilots {
		if err := guard.AddPilot(guardian.PilotSpec{
			Key:       p.Key,
			Name:      p.Name,
			DiscordID: p.DiscordID,
			Phone:     p.Phone,
			Email:     p.Email,
		}); err != nil {
			return fmt.Errorf("registering pilot: %w", err)
		}
	}

	gateway := notify.NewGateway(notify.GatewayConfig{
		Token:     cfg.Discord.BotToken,
		ChannelID: cfg.Discord.ChannelID,
		OnReady: func(ctx context.Context) {
			if _, err := discord.Send(ctx, "Guardian angel is watching. Fly safe! 🪂"); err != nil {
				log.Warn().Err(err).Msg("Hello message failed")
			}
		},
	}, guard, log.Logger)

	registry := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(registry)

	client := telemetry.NewClient(cfg.Telemetry.BaseURL, cfg.Telemetry.Limit, cfg.Telemetry.Timeout.Std())
	pipeline := monitor.NewPipeline(client, st, metrics, log.Logger)
	scheduler := monitor.NewScheduler(monitor.Config{
		Period:          cfg.Monitor.Period.Std(),
		AveragingWindow: cfg.Monitor.AveragingWindow.Std(),
		Retention:       cfg.Monitor.Retention.Std(),
	}, pipeline, st, guard, metrics, log.Logger)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      setupRouter(guard, hub, registry),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return guard.Run(gCtx) })
	g.Go(func() error { return hub.Run(gCtx) })
	g.Go(func() error { return discord.Run(gCtx) })
	g.Go(func() error { return gateway.Run(gCtx) })
	g.Go(func() error { return scheduler.Run(gCtx) })

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down HTTP server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func setupRouter(guard *guardian.Guardian, hub *handler.StreamHub, registry *prometheus.Registry) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(correlationIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Correlation-ID", "X-Request-ID"},
		ExposedHeaders: []string{"X-Correlation-ID", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Handle("/ws", handler.NewStreamHandler(hub, log.Logger))

	r.Route("/api/v1", func(r chi.Router) {
		pilotHandler := handler.NewPilotHandler(guard, log.Logger)
		r.Mount("/pilots", pilotHandler.Routes())
	})

	return r
}

func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = middleware.GetReqID(r.Context())
		}
		w.Header().Set("X-Correlation-ID", correlationID)
		next.ServeHTTP(w, r.WithContext(handler.WithCorrelationID(r.Context(), correlationID)))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("GUARDIAN_LOG_JSON") == "true" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
}

// maskPassword hides credentials in a connection URL for logging.
func maskPassword(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
