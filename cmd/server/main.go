package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/config"
	"github.com/pointdeck/pointdeck/internal/gateway"
	"github.com/pointdeck/pointdeck/internal/room"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg := config.FromEnv()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("port", cfg.Port).
		Strs("origins", cfg.AllowedOrigins).
		Dur("room_ttl", cfg.RoomTTL).
		Msg("starting room server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	// Room registry and idle reaper
	registry := room.NewRegistry(clock, cfg.RoomTTL, cfg.ReapInterval)
	go registry.Run(ctx)

	// Session gateway over the WebSocket connection manager
	connConfig := gateway.DefaultConnectionConfig()
	connConfig.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || cfg.AllowsOrigin(origin)
	}
	manager := gateway.NewConnectionManager(connConfig)
	gw := gateway.New(registry, manager, clock)
	manager.SetHandler(gw)
	go manager.Start(ctx)

	mux := http.NewServeMux()
	manager.RegisterRoutes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Debug().Err(err).Msg("failed to write health check response")
		}
	})

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: c.Handler(mux),
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
