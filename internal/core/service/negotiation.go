package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/Wyydra/campus/internal/core/port"
	"github.com/rs/zerolog"
)

// negotiationEvents is how a Negotiator reports transport-level facts to its owner.
type negotiationEvents interface {
	transportConnected(n *Negotiator)
	transportFailed(n *Negotiator)
	remoteTrackAdded(n *Negotiator, t port.RemoteTrack)
	deliveryFailed(n *Negotiator, err error)
}

type signalSender interface {
	Send(ctx context.Context, sig domain.Signal) error
}

type NegotiatorConfig struct {
	RoomID    domain.RoomID
	SelfID    domain.UserID
	Transport domain.TransportConfig
	Factory   port.TransportFactory
	Signaling signalSender
	// Post schedules fn on the owner's event loop. Transport observers never touch state directly.
	Post   func(fn func())
	Events negotiationEvents
	Logger zerolog.Logger
}

// Negotiator drives offer/answer/candidate exchange for exactly one transport connection.
// It is not safe for concurrent use; every method runs on the owner's loop.
type Negotiator struct {
	cfg NegotiatorConfig
	ctx context.Context
	log zerolog.Logger

	role  domain.Role
	state domain.NegotiationState
	pc    port.PeerConnection
	audio port.Sender
	video port.Sender

	pending               []domain.ICECandidate
	applied               []domain.ICECandidate
	remoteDescriptionSet  bool
	lastAnswerFingerprint string
	offered               bool
	// restarting holds from a restart offer until its answer or a recovered connection.
	restarting bool

	localCandidates  domain.CandidateCounts
	remoteCandidates domain.CandidateCounts
}

func NewNegotiator(ctx context.Context, cfg NegotiatorConfig) *Negotiator {
	return &Negotiator{
		cfg:   cfg,
		ctx:   ctx,
		log:   cfg.Logger,
		state: domain.NegotiationIdle,
	}
}

// CreateSession allocates the transport connection with one audio and one video two-way slot.
func (n *Negotiator) CreateSession(role domain.Role) error {
	if n.state == domain.NegotiationClosed {
		return domain.ErrSessionClosed
	}
	if n.pc != nil {
		return domain.ErrAlreadyStarted
	}

	pc, err := n.cfg.Factory.NewPeerConnection(n.cfg.Transport)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	audio, err := pc.AddTransceiver(domain.KindAudio)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create session: audio slot: %w", err)
	}
	video, err := pc.AddTransceiver(domain.KindVideo)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create session: video slot: %w", err)
	}

	n.pc, n.audio, n.video = pc, audio, video
	n.role = role
	n.log = n.log.With().Str("role", string(role)).Logger()
	n.observe(pc)
	n.log.Debug().Msg("Negotiation session created")
	return nil
}

func (n *Negotiator) observe(pc port.PeerConnection) {
	post := n.cfg.Post
	pc.OnICECandidate(func(c domain.ICECandidate, typ domain.CandidateType) {
		post(func() { n.onLocalCandidate(pc, c, typ) })
	})
	pc.OnICEConnectionStateChange(func(s domain.ICEState) {
		post(func() { n.onICEState(pc, s) })
	})
	pc.OnConnectionStateChange(func(s domain.ConnectionState) {
		post(func() { n.onConnectionState(pc, s) })
	})
	pc.OnSignalingStateChange(func(s domain.SignalingState) {
		post(func() { n.onSignalingState(pc, s) })
	})
	pc.OnTrack(func(t port.RemoteTrack) {
		post(func() { n.onRemoteTrack(pc, t) })
	})
}

// CreateOffer is caller-only and allowed once per session; restarts go through RestartTransport.
func (n *Negotiator) CreateOffer() error {
	if err := n.usable("create offer"); err != nil {
		return err
	}
	if n.role != domain.RoleCaller {
		return &domain.NegotiationError{Op: "create offer", Err: domain.ErrWrongRole}
	}
	if n.offered {
		return &domain.NegotiationError{Op: "create offer", Err: domain.ErrOfferExists}
	}
	return n.offer(false)
}

func (n *Negotiator) offer(iceRestart bool) error {
	desc, err := n.pc.CreateOffer(iceRestart)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := n.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	n.offered = true
	n.restarting = iceRestart
	if n.state != domain.NegotiationConnected || iceRestart {
		n.state = domain.NegotiationOffering
	}
	return n.send(domain.NewDescriptionSignal(n.cfg.RoomID, n.cfg.SelfID, desc))
}

// HandleRemoteOffer applies an offer and answers it, creating the callee session on first use.
func (n *Negotiator) HandleRemoteOffer(offer domain.SessionDescription) error {
	if n.state == domain.NegotiationClosed {
		return &domain.NegotiationError{Op: "offer", Err: domain.ErrSessionClosed}
	}
	if n.pc == nil {
		if err := n.CreateSession(domain.RoleCallee); err != nil {
			return err
		}
	}
	if st := n.pc.SignalingState(); st != domain.SignalingStable {
		return &domain.NegotiationError{Op: "offer", Err: fmt.Errorf("%w: %s", domain.ErrUnstable, st)}
	}

	if err := n.pc.SetRemoteDescription(offer); err != nil {
		return &domain.NegotiationError{Op: "offer", Err: err}
	}
	n.remoteDescriptionSet = true
	n.advance(domain.NegotiationAnswering)
	n.drain()

	answer, err := n.pc.CreateAnswer()
	if err != nil {
		return &domain.NegotiationError{Op: "create answer", Err: err}
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return &domain.NegotiationError{Op: "set local answer", Err: err}
	}
	n.advance(domain.NegotiationHaveRemoteDescription)
	return n.send(domain.NewDescriptionSignal(n.cfg.RoomID, n.cfg.SelfID, answer))
}

// HandleRemoteAnswer applies an answer at most once per fingerprint, then drains buffered candidates.
func (n *Negotiator) HandleRemoteAnswer(answer domain.SessionDescription, fingerprint string) error {
	if n.state == domain.NegotiationClosed {
		return &domain.NegotiationError{Op: "answer", Err: domain.ErrSessionClosed}
	}
	if n.pc == nil {
		return &domain.NegotiationError{Op: "answer", Err: domain.ErrNoSession}
	}
	if fingerprint == "" {
		fingerprint = answer.Fingerprint()
	}
	if fingerprint == n.lastAnswerFingerprint {
		return &domain.NegotiationError{Op: "answer", Err: domain.ErrDuplicateAnswer}
	}
	if st := n.pc.SignalingState(); st != domain.SignalingHaveLocalOffer {
		return &domain.NegotiationError{Op: "answer", Err: fmt.Errorf("%w: %s", domain.ErrStrayAnswer, st)}
	}

	if err := n.pc.SetRemoteDescription(answer); err != nil {
		return &domain.NegotiationError{Op: "answer", Err: err}
	}
	n.lastAnswerFingerprint = fingerprint
	n.remoteDescriptionSet = true
	n.restarting = false
	n.advance(domain.NegotiationHaveRemoteDescription)
	n.drain()
	return nil
}

// AddRemoteCandidate buffers until a remote description is applied. Application errors are only logged.
func (n *Negotiator) AddRemoteCandidate(c domain.ICECandidate) error {
	if n.state == domain.NegotiationClosed {
		return &domain.NegotiationError{Op: "candidate", Err: domain.ErrSessionClosed}
	}
	n.remoteCandidates.Add(c.Type())
	if n.pc == nil || !n.remoteDescriptionSet {
		n.pending = append(n.pending, c)
		return nil
	}
	n.apply(c)
	return nil
}

func (n *Negotiator) apply(c domain.ICECandidate) {
	if err := n.pc.AddICECandidate(c); err != nil {
		n.log.Warn().Err(err).Str("candidate", c.Candidate).Msg("Failed to add remote candidate")
		return
	}
	n.applied = append(n.applied, c)
}

func (n *Negotiator) drain() {
	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		n.apply(c)
	}
	if len(pending) > 0 {
		n.log.Debug().Int("count", len(pending)).Msg("Drained buffered candidates")
	}
}

// RestartTransport requests an ICE restart on the existing connection, keeping attached tracks.
func (n *Negotiator) RestartTransport() error {
	if err := n.usable("restart"); err != nil {
		return err
	}
	if st := n.pc.SignalingState(); st != domain.SignalingStable {
		return &domain.NegotiationError{Op: "restart", Err: fmt.Errorf("%w: %s", domain.ErrUnstable, st)}
	}
	// New remote candidates belong to the restarted ICE generation; hold them until its answer.
	n.remoteDescriptionSet = false
	n.log.Info().Msg("Restarting ICE")
	return n.offer(true)
}

// Renegotiate sends a fresh offer after a track was added or removed outside the pre-added slots.
func (n *Negotiator) Renegotiate() error {
	if err := n.usable("renegotiate"); err != nil {
		return err
	}
	if st := n.pc.SignalingState(); st != domain.SignalingStable {
		return &domain.NegotiationError{Op: "renegotiate", Err: fmt.Errorf("%w: %s", domain.ErrUnstable, st)}
	}
	return n.offer(false)
}

// Dispatch routes one relay message, absorbing recoverable anomalies.
// Only delivery failures are returned.
func (n *Negotiator) Dispatch(sig domain.Signal) error {
	var err error
	switch sig.Event {
	case domain.EventOffer:
		if sig.Description == nil {
			err = &domain.NegotiationError{Op: "offer", Err: errors.New("missing description")}
			break
		}
		err = n.HandleRemoteOffer(*sig.Description)
	case domain.EventAnswer:
		if sig.Description == nil {
			err = &domain.NegotiationError{Op: "answer", Err: errors.New("missing description")}
			break
		}
		err = n.HandleRemoteAnswer(*sig.Description, sig.Fingerprint)
	case domain.EventICECandidate:
		if sig.Candidate == nil {
			err = &domain.NegotiationError{Op: "candidate", Err: errors.New("missing candidate")}
			break
		}
		err = n.AddRemoteCandidate(*sig.Candidate)
	default:
		return nil
	}

	var negErr *domain.NegotiationError
	if errors.As(err, &negErr) {
		n.log.Warn().Err(err).Str("event", string(sig.Event)).Msg("Dropped signaling message")
		return nil
	}
	return err
}

// Close tears the session down unconditionally. It is a no-op once closed.
func (n *Negotiator) Close() bool {
	return n.closeSession(true)
}

// Cleanup is Close guarded against a live connection: it does nothing while connected.
func (n *Negotiator) Cleanup() bool {
	return n.closeSession(false)
}

func (n *Negotiator) closeSession(force bool) bool {
	if n.state == domain.NegotiationClosed {
		return false
	}
	if !force && n.pc != nil && n.pc.ConnectionState() == domain.ConnectionConnected {
		n.log.Debug().Msg("Cleanup skipped: connection is live")
		return false
	}
	if n.pc != nil {
		if err := n.pc.Close(); err != nil {
			n.log.Warn().Err(err).Msg("Failed to close transport")
		}
	}
	n.pending = nil
	n.applied = nil
	n.state = domain.NegotiationClosed
	n.log.Debug().Msg("Negotiation session closed")
	return true
}

func (n *Negotiator) onLocalCandidate(pc port.PeerConnection, c domain.ICECandidate, typ domain.CandidateType) {
	if pc != n.pc || n.state == domain.NegotiationClosed {
		return
	}
	n.localCandidates.Add(typ)
	if err := n.send(domain.NewCandidateSignal(n.cfg.RoomID, n.cfg.SelfID, c)); err != nil {
		n.cfg.Events.deliveryFailed(n, err)
	}
}

func (n *Negotiator) onICEState(pc port.PeerConnection, s domain.ICEState) {
	if pc != n.pc || n.state == domain.NegotiationClosed {
		return
	}
	n.log.Debug().Str("ice_state", string(s)).Msg("Network state changed")
	switch s {
	case domain.ICEConnected, domain.ICECompleted:
		n.markConnected()
	case domain.ICEDisconnected:
		n.advance(domain.NegotiationDisconnected)
	case domain.ICEFailed:
		n.markFailed()
	}
}

func (n *Negotiator) onConnectionState(pc port.PeerConnection, s domain.ConnectionState) {
	if pc != n.pc || n.state == domain.NegotiationClosed {
		return
	}
	n.log.Debug().Str("connection_state", string(s)).Msg("Connection state changed")
	switch s {
	case domain.ConnectionConnected:
		n.markConnected()
	case domain.ConnectionDisconnected:
		n.advance(domain.NegotiationDisconnected)
	case domain.ConnectionFailed:
		n.markFailed()
	}
}

func (n *Negotiator) onSignalingState(pc port.PeerConnection, s domain.SignalingState) {
	if pc != n.pc || n.state == domain.NegotiationClosed {
		return
	}
	n.log.Debug().Str("signaling_state", string(s)).Msg("Signaling state changed")
}

func (n *Negotiator) onRemoteTrack(pc port.PeerConnection, t port.RemoteTrack) {
	if pc != n.pc || n.state == domain.NegotiationClosed {
		return
	}
	n.cfg.Events.remoteTrackAdded(n, t)
}

func (n *Negotiator) markConnected() {
	n.restarting = false
	if n.state == domain.NegotiationConnected {
		return
	}
	n.state = domain.NegotiationConnected
	n.cfg.Events.transportConnected(n)
}

// markFailed reports one failure episode even when both ICE and aggregate state flip to failed.
// Reports arriving while a restart is outstanding belong to the episode that triggered it.
func (n *Negotiator) markFailed() {
	if n.state == domain.NegotiationFailed || n.restarting {
		return
	}
	n.state = domain.NegotiationFailed
	n.cfg.Events.transportFailed(n)
}

// advance moves forward without leaving the connected state on renegotiation.
func (n *Negotiator) advance(s domain.NegotiationState) {
	if n.state == domain.NegotiationConnected && s != domain.NegotiationDisconnected {
		return
	}
	n.state = s
}

func (n *Negotiator) usable(op string) error {
	if n.state == domain.NegotiationClosed {
		return &domain.NegotiationError{Op: op, Err: domain.ErrSessionClosed}
	}
	if n.pc == nil {
		return &domain.NegotiationError{Op: op, Err: domain.ErrNoSession}
	}
	return nil
}

func (n *Negotiator) send(sig domain.Signal) error {
	if err := n.cfg.Signaling.Send(n.ctx, sig); err != nil {
		return fmt.Errorf("send %s: %w", sig.Event, err)
	}
	return nil
}

func (n *Negotiator) State() domain.NegotiationState { return n.state }
func (n *Negotiator) Role() domain.Role              { return n.role }
func (n *Negotiator) RemoteDescriptionSet() bool     { return n.remoteDescriptionSet }
func (n *Negotiator) Offered() bool                  { return n.offered }
func (n *Negotiator) Restarting() bool               { return n.restarting }
func (n *Negotiator) AudioSender() port.Sender       { return n.audio }
func (n *Negotiator) VideoSender() port.Sender       { return n.video }

// PeerConnection is exposed for additional tracks; nil before CreateSession.
func (n *Negotiator) PeerConnection() port.PeerConnection { return n.pc }

// Dirty reports whether this session already exchanged descriptions and cannot host a fresh handshake.
func (n *Negotiator) Dirty() bool {
	return n.offered || n.remoteDescriptionSet || n.lastAnswerFingerprint != ""
}

func (n *Negotiator) Live() bool {
	return n.pc != nil && n.state != domain.NegotiationClosed
}

func (n *Negotiator) Pending() []domain.ICECandidate {
	return append([]domain.ICECandidate(nil), n.pending...)
}

func (n *Negotiator) Applied() []domain.ICECandidate {
	return append([]domain.ICECandidate(nil), n.applied...)
}

func (n *Negotiator) LocalCandidates() domain.CandidateCounts  { return n.localCandidates }
func (n *Negotiator) RemoteCandidates() domain.CandidateCounts { return n.remoteCandidates }

func (n *Negotiator) ConnectionState() domain.ConnectionState {
	if !n.Live() {
		return domain.ConnectionClosed
	}
	return n.pc.ConnectionState()
}
