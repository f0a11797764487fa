// Package app wires the call engine's adapters together once per process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Wyydra/campus/internal/adapter/driven/media/capture"
	"github.com/Wyydra/campus/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/campus/internal/adapter/driven/persistence/redis"
	"github.com/Wyydra/campus/internal/adapter/driven/persistence/sqlite"
	signaling "github.com/Wyydra/campus/internal/adapter/driven/signaling/ws"
	"github.com/Wyydra/campus/internal/adapter/driven/transport/pion"
	"github.com/Wyydra/campus/internal/config"
	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/Wyydra/campus/internal/core/port"
	"github.com/Wyydra/campus/internal/core/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// App holds the process-wide collaborators every call shares.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Calls     port.CallRecordRepository
	Devices   port.MediaDevices
	Transport port.TransportFactory

	closers []io.Closer
}

// NewLogger builds the console logger and installs it as the global one.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()
	log.Logger = l
	return l
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: NewLogger(cfg.LogLevel),
	}

	calls, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Calls = calls

	devices, err := capture.New(domain.DefaultVideoEncoding)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("media devices: %w", err)
	}
	a.Devices = devices

	factory, err := pion.NewFactory(
		pion.WithCodecs(devices.Populate),
		pion.WithLoggerFactory(pion.NewLoggerFactory(a.Logger)),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("transport: %w", err)
	}
	a.Transport = factory

	return a, nil
}

func (a *App) openStore(ctx context.Context) (port.CallRecordRepository, error) {
	switch a.Config.Store.Kind {
	case config.StoreSQLite:
		repo, err := sqlite.Open(a.Config.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo)
		return repo, nil

	case config.StoreRedis:
		rc := a.Config.Store.Redis
		repo, err := redis.Connect(ctx, redis.Config{Host: rc.Host, Port: rc.Port, Password: rc.Password, DB: rc.DB})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo)
		return repo, nil

	default:
		return memory.NewCallRecordRepository(), nil
	}
}

// Call is one session plus the relay connection it owns.
type Call struct {
	*service.CallSession
	signaling *signaling.Client
}

// Close stops the session, then hangs up on the relay.
func (c *Call) Close() error {
	c.CallSession.Close()
	return c.signaling.Close()
}

// NewCall dials the relay and builds a session from the configured call settings.
// onUpdate may be nil.
func (a *App) NewCall(ctx context.Context, onUpdate func(domain.CallSnapshot)) (*Call, error) {
	cc := a.Config.Call
	if cc.RoomID == "" || cc.SelfID == "" {
		return nil, errors.New("ROOM_ID and SELF_ID are required")
	}

	sig, err := signaling.Dial(ctx, a.Config.SignalingURL)
	if err != nil {
		return nil, err
	}

	session := service.NewCallSession(service.CallConfig{
		RoomID:               cc.RoomID,
		SelfID:               cc.SelfID,
		PeerID:               cc.PeerID,
		Role:                 cc.Role,
		Transport:            a.Config.Transport(),
		ConnectTimeout:       cc.ConnectTimeout,
		DirectPathTimeout:    cc.DirectPathTimeout,
		StatsInterval:        cc.StatsInterval,
		MaxReconnectAttempts: cc.MaxReconnectAttempts,
		OnUpdate:             onUpdate,
		Logger:               a.Logger,
	}, a.Calls, sig, a.Devices, a.Transport)

	return &Call{CallSession: session, signaling: sig}, nil
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
