package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/Wyydra/campus/internal/core/port"
	"github.com/rs/zerolog"
)

const (
	DefaultConnectTimeout       = 30 * time.Second
	DefaultDirectPathTimeout    = 10 * time.Second
	DefaultStatsInterval        = 2 * time.Second
	DefaultMaxReconnectAttempts = 3

	recordReadTimeout = 5 * time.Second
)

type CallConfig struct {
	RoomID    domain.RoomID
	SelfID    domain.UserID
	PeerID    domain.UserID
	Role      domain.Role
	Transport domain.TransportConfig

	VideoDeviceID        string
	ConnectTimeout       time.Duration
	DirectPathTimeout    time.Duration
	StatsInterval        time.Duration
	MaxReconnectAttempts int

	// OnUpdate receives every published snapshot on the session goroutine.
	// It must not call back into the session synchronously.
	OnUpdate func(domain.CallSnapshot)
	Logger   zerolog.Logger
}

func (c *CallConfig) defaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.DirectPathTimeout <= 0 {
		c.DirectPathTimeout = DefaultDirectPathTimeout
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
}

// CallSession owns one call: its record, media, negotiation and the public controls.
// All state below the loop fields is touched only by the run goroutine.
type CallSession struct {
	cfg       CallConfig
	repo      port.CallRecordRepository
	signaling port.SignalingChannel
	devices   port.MediaDevices
	factory   port.TransportFactory
	log       zerolog.Logger

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	snap      atomic.Pointer[domain.CallSnapshot]

	started    bool
	phase      domain.CallPhase
	generation uint64
	attemptCtx context.Context
	attempt    context.CancelFunc
	media      *MediaPipeline
	neg        *Negotiator
	remote     []port.RemoteTrack
	err        error
	retry      bool
	reconnects int
	attempts   int

	muted       bool
	cameraOff   bool
	remoteMuted bool

	connectTimer *time.Timer
	directTimer  *time.Timer
	relayOnly    bool
	sampler      statsSampler
	local        domain.CandidateCounts
	remoteCands  domain.CandidateCounts
}

func NewCallSession(cfg CallConfig, repo port.CallRecordRepository, signaling port.SignalingChannel, devices port.MediaDevices, factory port.TransportFactory) *CallSession {
	cfg.defaults()
	s := &CallSession{
		cfg:       cfg,
		repo:      repo,
		signaling: signaling,
		devices:   devices,
		factory:   factory,
		log: cfg.Logger.With().
			Str("room_id", cfg.RoomID.String()).
			Str("role", string(cfg.Role)).
			Logger(),
		ops:   make(chan func(), 256),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		phase: domain.PhaseIdle,
	}
	s.publish()
	go s.run()
	return s
}

func (s *CallSession) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	pumpCtx, stopPump := context.WithCancel(context.Background())
	defer stopPump()
	go s.pump(pumpCtx)

	for {
		select {
		case <-s.quit:
			s.teardown()
			s.publish()
			s.log.Debug().Msg("Call session stopped")
			return

		case fn := <-s.ops:
			fn()

		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *CallSession) tick() {
	if s.observeRecord() {
		return
	}
	if s.neg != nil && s.neg.Live() {
		s.sampler.add(s.neg.PeerConnection().Stats())
		s.publish()
	}
}

// pump forwards relay traffic onto the loop until the channel dies.
func (s *CallSession) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-s.signaling.Incoming():
			if !ok {
				return
			}
			s.post(func() { s.handleSignal(sig) })
		case <-s.signaling.Done():
			err := s.signaling.Err()
			s.post(func() { s.signalingLost(err) })
			return
		}
	}
}

// do runs fn on the loop and waits for its result.
func (s *CallSession) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	select {
	case s.ops <- func() { res <- fn() }:
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-s.done:
		return domain.ErrSessionClosed
	}
}

func (s *CallSession) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.done:
	}
}

// Start begins the call once. The caller creates the record and dials in; the callee starts ringing.
func (s *CallSession) Start(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.started {
			return domain.ErrAlreadyStarted
		}
		s.started = true

		switch s.cfg.Role {
		case domain.RoleCaller:
			rec := domain.NewCallRecord(s.cfg.RoomID, s.cfg.SelfID, s.cfg.PeerID, time.Now())
			if err := s.repo.Create(ctx, rec); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
				s.log.Warn().Err(err).Msg("Failed to create call record")
			}
			s.beginAttempt()
		case domain.RoleCallee:
			s.writeStatus(ctx, domain.StatusRinging)
			s.phase = domain.PhaseRinging
			s.publish()
		default:
			return fmt.Errorf("start: %w: %q", domain.ErrWrongRole, s.cfg.Role)
		}
		s.log.Info().Msg("Call started")
		return nil
	})
}

// Accept picks up a ringing call on the callee side.
func (s *CallSession) Accept(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.cfg.Role != domain.RoleCallee {
			return fmt.Errorf("accept: %w", domain.ErrWrongRole)
		}
		if s.phase != domain.PhaseRinging {
			return fmt.Errorf("accept: %w: phase %s", domain.ErrInvalidTransition, s.phase)
		}
		s.writeStatus(ctx, domain.StatusAccepted)
		s.beginAttempt()
		return nil
	})
}

// Decline refuses a ringing call on the callee side.
func (s *CallSession) Decline(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.cfg.Role != domain.RoleCallee {
			return fmt.Errorf("decline: %w", domain.ErrWrongRole)
		}
		if s.phase != domain.PhaseRinging {
			return fmt.Errorf("decline: %w: phase %s", domain.ErrInvalidTransition, s.phase)
		}
		s.writeStatus(ctx, domain.StatusDeclined)
		s.finish(domain.PhaseDeclined)
		s.log.Info().Msg("Call declined")
		return nil
	})
}

// End hangs up. Ending an already finished call is a no-op.
func (s *CallSession) End(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.phase.Terminal() {
			return nil
		}
		if !s.started {
			return domain.ErrNoSession
		}
		s.writeStatus(ctx, domain.StatusEnded)
		s.finish(domain.PhaseEnded)
		s.log.Info().Msg("Call ended")
		return nil
	})
}

func (s *CallSession) ToggleMute(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.media == nil {
			return domain.ErrNoMedia
		}
		s.muted = !s.muted
		s.media.SetKindEnabled(domain.KindAudio, !s.muted)
		s.publish()
		return nil
	})
}

func (s *CallSession) ToggleCamera(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.media == nil {
			return domain.ErrNoMedia
		}
		s.cameraOff = !s.cameraOff
		s.media.SetKindEnabled(domain.KindVideo, !s.cameraOff)
		s.publish()
		return nil
	})
}

// ToggleScreenShare swaps the outgoing video slot between camera and screen without renegotiating.
func (s *CallSession) ToggleScreenShare(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.media == nil || s.neg == nil {
			return domain.ErrNoMedia
		}
		defer s.publish()

		s.dropOverlay()
		if s.media.Sharing() {
			if err := s.media.StopScreenShare(); err != nil {
				return err
			}
			s.log.Info().Msg("Screen share stopped")
			return nil
		}

		screen, err := s.media.StartScreenShare(s.attemptContext())
		if err != nil {
			return err
		}
		gen := s.generation
		screen.OnEnded(func() {
			s.post(func() { s.screenEnded(gen, screen) })
		})
		s.log.Info().Msg("Screen share started")
		return nil
	})
}

// ToggleCameraOverlay adds or removes a second camera track while sharing the screen.
func (s *CallSession) ToggleCameraOverlay(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.media == nil || s.neg == nil {
			return domain.ErrNoMedia
		}
		if !s.media.Sharing() {
			return domain.ErrNotSharing
		}
		defer s.publish()

		pc := s.neg.PeerConnection()
		if s.media.Overlay() != nil {
			if err := s.media.RemoveOverlay(pc); err != nil {
				return err
			}
			return s.renegotiate()
		}
		if err := s.media.AddOverlay(s.attemptContext(), pc); err != nil {
			return err
		}
		if err := s.renegotiate(); err != nil {
			// Never leave a track attached that the peer was not offered.
			if s.media != nil {
				if rerr := s.media.RemoveOverlay(pc); rerr != nil {
					s.log.Warn().Err(rerr).Msg("Failed to roll back camera overlay")
				}
			}
			return err
		}
		return nil
	})
}

func (s *CallSession) SwitchCamera(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.media == nil {
			return domain.ErrNoMedia
		}
		defer s.publish()
		return s.media.SwitchCamera(s.attemptContext())
	})
}

// MuteRemote silences the far end locally. Nothing changes on the wire.
func (s *CallSession) MuteRemote(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.remoteMuted = !s.remoteMuted
		for _, t := range s.remote {
			if t.Kind() == domain.KindAudio {
				t.SetEnabled(!s.remoteMuted)
			}
		}
		s.publish()
		return nil
	})
}

// Retry discards the current attempt and starts over from connecting with a fresh negotiation.
func (s *CallSession) Retry(ctx context.Context) error {
	return s.do(ctx, func() error {
		if !s.started || s.phase.Terminal() {
			return fmt.Errorf("retry: %w", domain.ErrSessionClosed)
		}
		if s.cfg.Role == domain.RoleCallee && s.phase == domain.PhaseRinging {
			return fmt.Errorf("retry: %w: call not accepted", domain.ErrInvalidTransition)
		}
		s.log.Info().Msg("Retrying call")
		s.teardown()
		s.beginAttempt()
		return nil
	})
}

// Cleanup releases the attempt unless the transport is connected. It reports whether anything was released.
func (s *CallSession) Cleanup(ctx context.Context) (bool, error) {
	var released bool
	err := s.do(ctx, func() error {
		if s.neg == nil && s.media == nil {
			return nil
		}
		if s.neg != nil && s.neg.ConnectionState() == domain.ConnectionConnected {
			s.log.Debug().Msg("Cleanup skipped: call is connected")
			return nil
		}
		s.teardown()
		s.publish()
		released = true
		return nil
	})
	return released, err
}

func (s *CallSession) Snapshot() domain.CallSnapshot {
	return *s.snap.Load()
}

// Close stops the session goroutine and releases everything without touching the call record.
func (s *CallSession) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

// Done is closed once the session goroutine exited.
func (s *CallSession) Done() <-chan struct{} {
	return s.done
}

func (s *CallSession) beginAttempt() {
	s.attempts++
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(context.Background())
	s.attemptCtx, s.attempt = ctx, cancel

	s.phase = domain.PhaseConnecting
	s.err, s.retry = nil, false
	s.reconnects = 0
	s.relayOnly = false
	s.sampler.reset()
	s.armTimers(gen)
	s.publish()

	pipeline := NewMediaPipeline(s.devices, s.log)
	go func() {
		err := pipeline.AcquireCameraAndMicrophone(ctx, s.cfg.VideoDeviceID)
		s.post(func() { s.mediaAcquired(gen, pipeline, err) })
	}()
}

func (s *CallSession) mediaAcquired(gen uint64, pipeline *MediaPipeline, err error) {
	if gen != s.generation || s.phase.Terminal() {
		pipeline.ReleaseAll()
		s.log.Debug().Uint64("generation", gen).Msg("Discarded stale media acquisition")
		return
	}
	if err != nil {
		pipeline.ReleaseAll()
		s.deviceFailed(err)
		return
	}

	s.media = pipeline
	if s.muted {
		s.media.SetKindEnabled(domain.KindAudio, false)
	}
	if s.cameraOff {
		s.media.SetKindEnabled(domain.KindVideo, false)
	}
	if err := s.openNegotiation(); err != nil {
		s.fail(err, true)
		return
	}

	if err := s.signaling.Join(s.attemptContext(), s.cfg.RoomID, s.cfg.SelfID); err != nil {
		s.deliveryFailed(s.neg, err)
		return
	}
	if s.cfg.Role == domain.RoleCaller {
		// The first attempt rings until the peer shows up. A retry expects the peer
		// already in the room, so it stays bounded by the connect timeout.
		if s.attempts == 1 {
			s.stopTimers()
		}
		s.phase = domain.PhaseRinging
	}
	s.publish()
}

// openNegotiation replaces any existing negotiation with a fresh session carrying the current media.
func (s *CallSession) openNegotiation() error {
	if s.neg != nil {
		s.neg.Close()
		s.remote = nil
	}
	n := NewNegotiator(context.Background(), NegotiatorConfig{
		RoomID:    s.cfg.RoomID,
		SelfID:    s.cfg.SelfID,
		Transport: s.cfg.Transport,
		Factory:   s.factory,
		Signaling: s.signaling,
		Post:      s.post,
		Events:    s,
		Logger:    s.log,
	})
	if err := n.CreateSession(s.cfg.Role); err != nil {
		return err
	}
	s.neg = n
	return s.media.Attach(n.AudioSender(), n.VideoSender())
}

func (s *CallSession) handleSignal(sig domain.Signal) {
	if sig.SelfID != "" && sig.SelfID == s.cfg.SelfID {
		return
	}
	l := s.log.With().Str("event", string(sig.Event)).Logger()

	switch sig.Event {
	case domain.EventUserJoined:
		s.peerJoined(sig)
	case domain.EventUserLeft:
		l.Info().Str("socket_id", sig.SocketID.String()).Msg("Peer left the room")
		s.observeRecord()
	case domain.EventOffer, domain.EventAnswer, domain.EventICECandidate:
		if s.neg == nil || s.phase.Terminal() {
			l.Debug().Msg("No active negotiation, message dropped")
			return
		}
		n := s.neg
		if err := n.Dispatch(sig); err != nil {
			s.deliveryFailed(n, err)
			return
		}
		if n == s.neg && n.RemoteDescriptionSet() && !s.phase.Terminal() && s.phase != domain.PhaseAccepted {
			s.phase = domain.PhaseAccepted
			l.Info().Msg("Call accepted")
		}
		s.publish()
	default:
		l.Debug().Msg("Unhandled signaling event")
	}
}

func (s *CallSession) peerJoined(sig domain.Signal) {
	if sig.UserID == s.cfg.SelfID {
		return
	}
	s.log.Info().Str("user_id", sig.UserID.String()).Msg("Peer joined the room")
	if s.neg == nil || s.media == nil || s.phase.Terminal() {
		return
	}
	// A peer that (re)joins expects a brand new handshake.
	if s.neg.Dirty() {
		if err := s.openNegotiation(); err != nil {
			s.fail(err, true)
			return
		}
	}
	if s.cfg.Role != domain.RoleCaller {
		return
	}
	if s.phase == domain.PhaseRinging {
		s.phase = domain.PhaseConnecting
	}
	s.armTimers(s.generation)
	if err := s.neg.CreateOffer(); err != nil {
		var negErr *domain.NegotiationError
		if errors.As(err, &negErr) {
			s.log.Warn().Err(err).Msg("Offer not created")
			return
		}
		s.deliveryFailed(s.neg, err)
		return
	}
	s.publish()
}

func (s *CallSession) transportConnected(n *Negotiator) {
	if n != s.neg {
		return
	}
	if t := s.connectTimer; t != nil {
		t.Stop()
	}
	s.reconnects = 0
	var cf *domain.ConnectivityFailure
	if errors.As(s.err, &cf) {
		s.err, s.retry = nil, false
	}
	s.log.Info().Msg("Transport connected")
	s.publish()
}

func (s *CallSession) transportFailed(n *Negotiator) {
	if n != s.neg || s.phase.Terminal() {
		return
	}
	var cf *domain.ConnectivityFailure
	if errors.As(s.err, &cf) {
		return
	}
	// A peer that hung up looks like a failed transport; never restart toward it.
	if s.observeRecord() {
		return
	}

	s.reconnects++
	if s.reconnects >= s.cfg.MaxReconnectAttempts {
		s.log.Error().Int("failures", s.reconnects).Msg("Transport failed, giving up")
		s.err = &domain.ConnectivityFailure{Attempts: s.reconnects - 1}
		s.retry = true
		s.publish()
		return
	}

	if s.cfg.Role != domain.RoleCaller {
		s.log.Warn().Int("failures", s.reconnects).Msg("Transport failed, waiting for restart offer")
		s.publish()
		return
	}
	s.log.Warn().Int("failures", s.reconnects).Msg("Transport failed, restarting ICE")
	if err := n.RestartTransport(); err != nil {
		var negErr *domain.NegotiationError
		if errors.As(err, &negErr) {
			s.log.Warn().Err(err).Msg("ICE restart not sent")
		} else {
			s.deliveryFailed(n, err)
		}
	}
	// An unanswered restart keeps the episode open; bound it like a first connect.
	if n == s.neg && n.Restarting() {
		s.armConnectTimer(s.generation)
	}
	s.publish()
}

func (s *CallSession) remoteTrackAdded(n *Negotiator, t port.RemoteTrack) {
	if n != s.neg {
		return
	}
	if s.remoteMuted && t.Kind() == domain.KindAudio {
		t.SetEnabled(false)
	}
	s.remote = append(s.remote, t)
	s.publish()
}

func (s *CallSession) deliveryFailed(n *Negotiator, err error) {
	if n != s.neg || s.phase.Terminal() {
		return
	}
	var de *domain.SignalingDeliveryError
	if !errors.As(err, &de) {
		de = &domain.SignalingDeliveryError{Err: err}
		err = de
	}
	if de.Transient {
		s.log.Warn().Err(err).Msg("Transient signaling error")
		return
	}
	s.fail(err, true)
}

func (s *CallSession) signalingLost(err error) {
	if err == nil {
		err = errors.New("signaling channel closed")
	}
	s.log.Error().Err(err).Msg("Signaling channel lost")
	if s.neg == nil && s.media == nil {
		return
	}
	s.deliveryFailed(s.neg, &domain.SignalingDeliveryError{Err: err})
}

func (s *CallSession) deviceFailed(err error) {
	s.log.Error().Err(err).Msg("Media device unavailable")
	s.writeStatus(context.Background(), domain.StatusEnded)
	s.finish(domain.PhaseEnded)
	s.err, s.retry = err, false
	s.publish()
}

// fail surfaces err and releases the attempt, leaving the phase so Retry can pick up.
func (s *CallSession) fail(err error, retryable bool) {
	s.log.Error().Err(err).Msg("Call attempt failed")
	s.teardown()
	s.err, s.retry = err, retryable
	s.publish()
}

func (s *CallSession) finish(phase domain.CallPhase) {
	s.teardown()
	s.phase = phase
	s.publish()
}

// observeRecord finishes the call once the other side closed the record. It reports whether it did.
func (s *CallSession) observeRecord() bool {
	if !s.started || s.phase.Terminal() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordReadTimeout)
	defer cancel()
	rec, err := s.repo.Get(ctx, s.cfg.RoomID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Err(err).Msg("Failed to read call record")
		}
		return false
	}

	var phase domain.CallPhase
	switch rec.Status {
	case domain.StatusDeclined:
		phase = domain.PhaseDeclined
	case domain.StatusEnded:
		phase = domain.PhaseEnded
	default:
		return false
	}
	s.log.Info().Str("status", string(rec.Status)).Msg("Call closed by the other side")
	s.finish(phase)
	return true
}

func (s *CallSession) screenEnded(gen uint64, screen port.MediaTrack) {
	if gen != s.generation || s.media == nil || !s.media.Sharing() || !s.media.IsScreenTrack(screen) {
		return
	}
	s.dropOverlay()
	if err := s.media.StopScreenShare(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to restore camera")
	}
	s.log.Info().Msg("Screen share ended by the system")
	s.publish()
}

func (s *CallSession) dropOverlay() {
	if s.media == nil || s.media.Overlay() == nil {
		return
	}
	if err := s.media.RemoveOverlay(s.neg.PeerConnection()); err != nil {
		s.log.Warn().Err(err).Msg("Failed to remove camera overlay")
	}
	if err := s.renegotiate(); err != nil {
		s.log.Warn().Err(err).Msg("Renegotiation after overlay removal failed")
	}
}

func (s *CallSession) renegotiate() error {
	if s.neg == nil {
		return domain.ErrNoSession
	}
	err := s.neg.Renegotiate()
	var negErr *domain.NegotiationError
	if err != nil && !errors.As(err, &negErr) {
		s.deliveryFailed(s.neg, err)
	}
	return err
}

func (s *CallSession) connectTimedOut(gen uint64) {
	if gen != s.generation || s.phase.Terminal() {
		return
	}
	if s.neg != nil && s.neg.State() == domain.NegotiationConnected {
		return
	}
	s.log.Warn().Dur("timeout", s.cfg.ConnectTimeout).Msg("Connection not established in time")
	s.err = &domain.ConnectivityFailure{Attempts: s.reconnects, Err: domain.ErrConnectTimeout}
	s.retry = true
	s.publish()
}

func (s *CallSession) directPathTimedOut(gen uint64) {
	if gen != s.generation {
		return
	}
	if s.neg == nil || s.neg.State() != domain.NegotiationConnected || s.sampler.selectedRelay() {
		s.relayOnly = true
		s.log.Warn().Msg("No direct path found, call may use the relay only")
		s.publish()
	}
}

func (s *CallSession) armTimers(gen uint64) {
	s.stopTimers()
	s.armConnectTimer(gen)
	s.directTimer = time.AfterFunc(s.cfg.DirectPathTimeout, func() {
		s.post(func() { s.directPathTimedOut(gen) })
	})
}

func (s *CallSession) armConnectTimer(gen uint64) {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
	}
	s.connectTimer = time.AfterFunc(s.cfg.ConnectTimeout, func() {
		s.post(func() { s.connectTimedOut(gen) })
	})
}

func (s *CallSession) stopTimers() {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	if s.directTimer != nil {
		s.directTimer.Stop()
		s.directTimer = nil
	}
}

// teardown releases the current attempt. Safe to call repeatedly; only the first call does work.
func (s *CallSession) teardown() {
	s.stopTimers()
	if s.attempt != nil {
		s.attempt()
		s.attemptCtx, s.attempt = nil, nil
	}
	// Anything still resolving for the old attempt is now stale.
	s.generation++

	if s.neg != nil {
		s.local = s.neg.LocalCandidates()
		s.remoteCands = s.neg.RemoteCandidates()
		s.neg.Close()
		s.neg = nil
	}
	if s.media != nil {
		s.media.ReleaseAll()
		s.media = nil
	}
	s.remote = nil
}

// attemptContext is cancelled when the current attempt is torn down.
func (s *CallSession) attemptContext() context.Context {
	if s.attemptCtx == nil {
		return context.Background()
	}
	return s.attemptCtx
}

func (s *CallSession) writeStatus(ctx context.Context, status domain.CallStatus) {
	if err := s.repo.UpdateStatus(ctx, s.cfg.RoomID, status, time.Now()); err != nil {
		s.log.Warn().Err(err).Str("status", string(status)).Msg("Failed to write call status")
	}
}

func (s *CallSession) publish() {
	snap := domain.CallSnapshot{
		RoomID:         s.cfg.RoomID,
		Role:           s.cfg.Role,
		Phase:          s.phase,
		Negotiation:    domain.NegotiationIdle,
		Err:            s.err,
		RetryAvailable: s.retry,
		Muted:          s.muted,
		CameraOff:      s.cameraOff,
		RemoteMuted:    s.remoteMuted,
		Reconnects:     s.reconnects,
		Diagnostics: domain.Diagnostics{
			ConnectionState:  domain.ConnectionClosed,
			ICEState:         domain.ICEClosed,
			SignalingState:   domain.SignalingClosed,
			OutgoingBitrate:  s.sampler.bitrate,
			RemoteTracks:     len(s.remote),
			LocalCandidates:  s.local,
			RemoteCandidates: s.remoteCands,
			RelayUsed:        s.sampler.relayUsed,
			RelayOnlyWarning: s.relayOnly,
			UpdatedAt:        time.Now(),
		},
	}
	snap.ScreenShareSupported = s.devices != nil && s.devices.SupportsDisplay()
	if s.media != nil {
		snap.ScreenSharing = s.media.Sharing()
		snap.OverlayOn = s.media.Overlay() != nil
		snap.Diagnostics.LocalTracks = s.media.LocalTracks()
	}
	if s.neg != nil {
		snap.Negotiation = s.neg.State()
		snap.Diagnostics.LocalCandidates = s.neg.LocalCandidates()
		snap.Diagnostics.RemoteCandidates = s.neg.RemoteCandidates()
		if pc := s.neg.PeerConnection(); pc != nil && s.neg.Live() {
			snap.Diagnostics.ConnectionState = pc.ConnectionState()
			snap.Diagnostics.ICEState = pc.ICEConnectionState()
			snap.Diagnostics.SignalingState = pc.SignalingState()
		}
	}

	s.snap.Store(&snap)
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(snap)
	}
}
