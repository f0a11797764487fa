package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/campus/internal/adapter/driven/gateway/ws"
	handler "github.com/Wyydra/campus/internal/adapter/driving/http"
	"github.com/Wyydra/campus/internal/app"
	"github.com/Wyydra/campus/internal/config"
	"github.com/Wyydra/campus/internal/core/service"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	l := app.NewLogger(cfg.LogLevel)

	hub := ws.NewHub()
	rooms := service.NewRoomService(hub)
	h := handler.NewHandler(rooms, hub)

	go hub.Run()
	go rooms.Run()

	srv := &http.Server{
		Addr:    cfg.RelayAddr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", cfg.RelayAddr).Msg("Starting relay")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start relay")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down relay...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Relay forced to shutdown")
	}

	rooms.Stop()
	hub.Stop()
	l.Info().Msg("Relay exited")
}
