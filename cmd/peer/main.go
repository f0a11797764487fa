package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/campus/internal/app"
	"github.com/Wyydra/campus/internal/config"
	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start")
	}
	defer a.Close()
	l := a.Logger.With().Str("room_id", cfg.Call.RoomID.String()).Str("self_id", cfg.Call.SelfID.String()).Logger()

	// Snapshots arrive on the session goroutine; ringing is handed back to main.
	ringing := make(chan struct{}, 1)
	finished := make(chan struct{}, 1)
	var (
		last   domain.CallPhase
		warned bool
	)
	onUpdate := func(s domain.CallSnapshot) {
		if s.Phase != last {
			ev := l.Info().Str("phase", string(s.Phase)).Str("negotiation", string(s.Negotiation))
			if s.Err != nil {
				ev = ev.AnErr("call_error", s.Err).Bool("retry", s.RetryAvailable)
			}
			ev.Msg("Call phase changed")
			last = s.Phase
		}
		if s.Phase == domain.PhaseRinging && cfg.Call.Role == domain.RoleCallee {
			select {
			case ringing <- struct{}{}:
			default:
			}
		}
		if s.Phase.Terminal() {
			select {
			case finished <- struct{}{}:
			default:
			}
		}
		if s.Diagnostics.RelayOnlyWarning && !warned {
			l.Warn().Msg("No direct path; media is relayed")
			warned = true
		}
	}

	call, err := a.NewCall(ctx, onUpdate)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to create call")
	}
	defer call.Close()

	if err := call.Start(ctx); err != nil {
		l.Fatal().Err(err).Msg("Failed to start call")
	}

	for {
		select {
		case <-ringing:
			if !cfg.Call.AutoAccept {
				continue
			}
			if err := call.Accept(ctx); err != nil {
				l.Error().Err(err).Msg("Accept failed")
			}

		case <-finished:
			return

		case <-ctx.Done():
			endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := call.End(endCtx); err != nil {
				l.Error().Err(err).Msg("End failed")
			}
			cancel()
			s := call.Snapshot()
			l.Info().Str("phase", string(s.Phase)).Int("reconnects", s.Reconnects).Msg("Call finished")
			return
		}
	}
}
