package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Board/internal/adapters/http"
	"github.com/dkeye/Board/internal/adapters/storage"
	"github.com/dkeye/Board/internal/app"
	"github.com/dkeye/Board/internal/auth"
	"github.com/dkeye/Board/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("board server failed")
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(cfg.Level())

	rooms, err := cfg.RoomSet()
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("database close")
		}
	}()
	messages, err := storage.NewMessageStore(db)
	if err != nil {
		return err
	}
	defer func() { _ = messages.Close() }()

	reg := app.NewRegistry(rooms, app.SimplePolicy{})
	board := app.NewBoard(rooms, reg, messages)
	tokens := auth.NewTokens(cfg.Secret, cfg.TokenTTL)
	sessions := &app.Sessions{
		Board:              board,
		Verifier:           tokens,
		Rooms:              rooms,
		Limiter:            app.NewRateLimiter(cfg.RateLimit, cfg.RateInterval),
		ExplicitRejections: cfg.ExplicitRejections,
	}

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Sessions: sessions,
		Accounts: auth.NewAccounts(storage.NewUserStore(db), tokens),
	})
	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(r)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Strs("rooms", cfg.Rooms).Msg("Board server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		err := srv.Shutdown(shutdownCtx)
		// hijacked websocket connections are not tracked by the server
		reg.CloseAll()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
