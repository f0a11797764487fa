package pion

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/Wyydra/campus/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrForeignTrack = errors.New("track cannot be sent by this transport")

// LocalTrack is implemented by capture tracks that pion can send.
type LocalTrack interface {
	port.MediaTrack
	TrackLocal() webrtc.TrackLocal
}

// RemoteSink receives inbound RTP of enabled remote tracks.
type RemoteSink func(kind domain.TrackKind, pkt *rtp.Packet)

type options struct {
	populate      func(*webrtc.MediaEngine)
	loggerFactory logging.LoggerFactory
	loopback      bool
	disconnected  time.Duration
	failed        time.Duration
	keepAlive     time.Duration
	pliInterval   time.Duration
	sink          RemoteSink
}

type Option func(*options)

// WithCodecs registers codecs through populate instead of pion's defaults.
func WithCodecs(populate func(*webrtc.MediaEngine)) Option {
	return func(o *options) { o.populate = populate }
}

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(o *options) { o.loggerFactory = f }
}

// WithLoopbackCandidates lets two peers on one host connect; used by tests.
func WithLoopbackCandidates() Option {
	return func(o *options) { o.loopback = true }
}

func WithICETimeouts(disconnected, failed, keepAlive time.Duration) Option {
	return func(o *options) {
		o.disconnected, o.failed, o.keepAlive = disconnected, failed, keepAlive
	}
}

func WithPLIInterval(d time.Duration) Option {
	return func(o *options) { o.pliInterval = d }
}

func WithRemoteSink(sink RemoteSink) Option {
	return func(o *options) { o.sink = sink }
}

// Factory builds pion PeerConnections sharing one API (codecs, interceptors, settings).
type Factory struct {
	api  *webrtc.API
	sink RemoteSink
}

func NewFactory(opts ...Option) (*Factory, error) {
	o := options{
		disconnected: 5 * time.Second,
		failed:       25 * time.Second,
		keepAlive:    2 * time.Second,
		pliInterval:  3 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if o.populate != nil {
		o.populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(o.pliInterval))
	if err != nil {
		return nil, fmt.Errorf("pli interceptor: %w", err)
	}
	registry.Add(pli)

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(o.disconnected, o.failed, o.keepAlive)
	se.SetIncludeLoopbackCandidate(o.loopback)
	if o.loggerFactory != nil {
		se.LoggerFactory = o.loggerFactory
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		sink: o.sink,
	}, nil
}

func (f *Factory) NewPeerConnection(cfg domain.TransportConfig) (port.PeerConnection, error) {
	conf := webrtc.Configuration{}
	for _, s := range cfg.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		conf.ICEServers = append(conf.ICEServers, server)
	}

	pc, err := f.api.NewPeerConnection(conf)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &peerConnection{
		pc:   pc,
		sink: f.sink,
		log:  log.With().Str("component", "transport").Logger(),
	}, nil
}

type peerConnection struct {
	pc   *webrtc.PeerConnection
	sink RemoteSink
	log  zerolog.Logger
}

func (p *peerConnection) AddTransceiver(kind domain.TrackKind) (port.Sender, error) {
	codecType, err := codecType(kind)
	if err != nil {
		return nil, err
	}
	tr, err := p.pc.AddTransceiverFromKind(codecType, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return nil, err
	}
	s := &sender{s: tr.Sender(), kind: kind}
	go s.drainRTCP()
	return s, nil
}

func (p *peerConnection) AddTrack(track port.MediaTrack) (port.Sender, error) {
	local, ok := track.(LocalTrack)
	if !ok {
		return nil, ErrForeignTrack
	}
	rs, err := p.pc.AddTrack(local.TrackLocal())
	if err != nil {
		return nil, err
	}
	s := &sender{s: rs, kind: track.Kind(), track: track}
	go s.drainRTCP()
	return s, nil
}

func (p *peerConnection) RemoveTrack(s port.Sender) error {
	ps, ok := s.(*sender)
	if !ok {
		return ErrForeignTrack
	}
	return p.pc.RemoveTrack(ps.s)
}

func (p *peerConnection) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := p.pc.CreateOffer(opts)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPion(offer), nil
}

func (p *peerConnection) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPion(answer), nil
}

func (p *peerConnection) SetLocalDescription(desc domain.SessionDescription) error {
	d, err := toPion(desc)
	if err != nil {
		return err
	}
	return p.pc.SetLocalDescription(d)
}

func (p *peerConnection) SetRemoteDescription(desc domain.SessionDescription) error {
	d, err := toPion(desc)
	if err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(d)
}

func (p *peerConnection) AddICECandidate(c domain.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *peerConnection) SignalingState() domain.SignalingState {
	return domain.SignalingState(p.pc.SignalingState().String())
}

func (p *peerConnection) ConnectionState() domain.ConnectionState {
	return domain.ConnectionState(p.pc.ConnectionState().String())
}

func (p *peerConnection) ICEConnectionState() domain.ICEState {
	return domain.ICEState(p.pc.ICEConnectionState().String())
}

// Stats reports bytes sent on the transport and the selected candidate pair, if any.
func (p *peerConnection) Stats() domain.TransportStats {
	st := domain.TransportStats{Timestamp: time.Now()}

	var outbound uint64
	for _, s := range p.pc.GetStats() {
		switch v := s.(type) {
		case webrtc.TransportStats:
			if v.BytesSent > st.BytesSent {
				st.BytesSent = v.BytesSent
			}
		case webrtc.OutboundRTPStreamStats:
			outbound += v.BytesSent
		}
	}
	if outbound > st.BytesSent {
		st.BytesSent = outbound
	}

	pair, err := p.pc.SCTP().Transport().ICETransport().GetSelectedCandidatePair()
	if err == nil && pair != nil {
		st.SelectedLocal = domain.CandidateType(pair.Local.Typ.String())
		st.SelectedRemote = domain.CandidateType(pair.Remote.Typ.String())
	}
	return st
}

func (p *peerConnection) OnICECandidate(fn func(domain.ICECandidate, domain.CandidateType)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		init := c.ToJSON()
		fn(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		}, domain.CandidateType(c.Typ.String()))
	})
}

func (p *peerConnection) OnICEConnectionStateChange(fn func(domain.ICEState)) {
	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		fn(domain.ICEState(s.String()))
	})
}

func (p *peerConnection) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(domain.ConnectionState(s.String()))
	})
}

func (p *peerConnection) OnSignalingStateChange(fn func(domain.SignalingState)) {
	p.pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		fn(domain.SignalingState(s.String()))
	})
}

func (p *peerConnection) OnTrack(fn func(port.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind := domain.TrackKind(track.Kind().String())
		p.log.Debug().Str("kind", string(kind)).Str("track_id", track.ID()).Msg("Received remote track")

		rt := &remoteTrack{track: track, pc: p.pc, kind: kind}
		rt.enabled.Store(true)
		go rt.read(p.sink)
		fn(rt)
	})
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}

type sender struct {
	s    *webrtc.RTPSender
	kind domain.TrackKind

	mu    sync.Mutex
	track port.MediaTrack
}

func (s *sender) Kind() domain.TrackKind { return s.kind }

func (s *sender) Track() port.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *sender) ReplaceTrack(track port.MediaTrack) error {
	var local webrtc.TrackLocal
	if track != nil {
		lt, ok := track.(LocalTrack)
		if !ok {
			return ErrForeignTrack
		}
		local = lt.TrackLocal()
	}
	if err := s.s.ReplaceTrack(local); err != nil {
		return err
	}
	s.mu.Lock()
	s.track = track
	s.mu.Unlock()
	return nil
}

// drainRTCP keeps interceptors fed; it returns once the sender is stopped.
func (s *sender) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.s.Read(buf); err != nil {
			return
		}
	}
}

type remoteTrack struct {
	track   *webrtc.TrackRemote
	pc      *webrtc.PeerConnection
	kind    domain.TrackKind
	enabled atomic.Bool
}

func (t *remoteTrack) ID() string             { return t.track.ID() }
func (t *remoteTrack) Kind() domain.TrackKind { return t.kind }
func (t *remoteTrack) Enabled() bool          { return t.enabled.Load() }

// SetEnabled gates local presentation. Re-enabling video asks the sender for a keyframe.
func (t *remoteTrack) SetEnabled(enabled bool) {
	was := t.enabled.Swap(enabled)
	if enabled && !was && t.kind == domain.KindVideo {
		err := t.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(t.track.SSRC())},
		})
		if err != nil {
			log.Debug().Err(err).Msg("Failed to request keyframe")
		}
	}
}

func (t *remoteTrack) read(sink RemoteSink) {
	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			return
		}
		if sink != nil && t.enabled.Load() {
			sink(t.kind, pkt)
		}
	}
}

func codecType(kind domain.TrackKind) (webrtc.RTPCodecType, error) {
	switch kind {
	case domain.KindAudio:
		return webrtc.RTPCodecTypeAudio, nil
	case domain.KindVideo:
		return webrtc.RTPCodecTypeVideo, nil
	}
	return 0, fmt.Errorf("unknown track kind %q", kind)
}

func fromPion(d webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPType(d.Type.String()), SDP: d.SDP}
}

func toPion(d domain.SessionDescription) (webrtc.SessionDescription, error) {
	switch d.Type {
	case domain.SDPTypeOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: d.SDP}, nil
	case domain.SDPTypeAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: d.SDP}, nil
	}
	return webrtc.SessionDescription{}, fmt.Errorf("unsupported description type %q", d.Type)
}
