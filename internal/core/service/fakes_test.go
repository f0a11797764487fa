package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/Wyydra/campus/internal/core/port"
)

type fakeTrack struct {
	mu       sync.Mutex
	id       string
	kind     domain.TrackKind
	deviceID string
	enabled  bool
	stops    int
	onEnded  func()
}

func newFakeTrack(id string, kind domain.TrackKind, deviceID string) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, deviceID: deviceID, enabled: true}
}

func (t *fakeTrack) ID() string              { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind  { return t.kind }
func (t *fakeTrack) DeviceID() string        { return t.deviceID }
func (t *fakeTrack) OnEnded(fn func())       { t.mu.Lock(); t.onEnded = fn; t.mu.Unlock() }
func (t *fakeTrack) SetEnabled(enabled bool) { t.mu.Lock(); t.enabled = enabled; t.mu.Unlock() }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops > 0
}

// end simulates the OS stopping the source.
func (t *fakeTrack) end() {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeDevices struct {
	mu       sync.Mutex
	inputs   []domain.Device
	display  bool
	noAudio  bool
	noVideo  bool
	userErr  error
	gate     chan struct{}
	captured []*fakeTrack
	seq      int
}

func newFakeDevices(cameras ...string) *fakeDevices {
	d := &fakeDevices{display: true}
	for _, id := range cameras {
		d.inputs = append(d.inputs, domain.Device{ID: id, Label: id, Kind: domain.KindVideo})
	}
	return d
}

func (d *fakeDevices) UserMedia(ctx context.Context, req domain.CaptureRequest) ([]port.MediaTrack, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	// A gated capture ignores ctx, like a device that finishes opening regardless.
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.userErr != nil {
		return nil, d.userErr
	}
	var tracks []port.MediaTrack
	if req.Audio && !d.noAudio {
		tracks = append(tracks, d.track(domain.KindAudio, "mic"))
	}
	if req.Video && !d.noVideo {
		id := req.VideoDeviceID
		if id == "" && len(d.inputs) > 0 {
			id = d.inputs[0].ID
		}
		tracks = append(tracks, d.track(domain.KindVideo, id))
	}
	return tracks, nil
}

func (d *fakeDevices) DisplayMedia(ctx context.Context) ([]port.MediaTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return []port.MediaTrack{d.track(domain.KindVideo, "screen")}, nil
}

func (d *fakeDevices) VideoInputs(ctx context.Context) ([]domain.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Device(nil), d.inputs...), nil
}

func (d *fakeDevices) SupportsDisplay() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.display
}

func (d *fakeDevices) track(kind domain.TrackKind, deviceID string) *fakeTrack {
	d.seq++
	t := newFakeTrack(fmt.Sprintf("%s-%d", kind, d.seq), kind, deviceID)
	d.captured = append(d.captured, t)
	return t
}

func (d *fakeDevices) tracks() []*fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeTrack(nil), d.captured...)
}

func (d *fakeDevices) live(kind domain.TrackKind) int {
	n := 0
	for _, t := range d.tracks() {
		if t.Kind() == kind && !t.Stopped() {
			n++
		}
	}
	return n
}

type fakeSender struct {
	mu         sync.Mutex
	kind       domain.TrackKind
	track      port.MediaTrack
	replaceErr error
}

func (s *fakeSender) Kind() domain.TrackKind { return s.kind }

func (s *fakeSender) Track() port.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t port.MediaTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.track = t
	return nil
}

type fakeRemoteTrack struct {
	mu      sync.Mutex
	kind    domain.TrackKind
	enabled bool
}

func (t *fakeRemoteTrack) ID() string             { return "remote-" + string(t.kind) }
func (t *fakeRemoteTrack) Kind() domain.TrackKind { return t.kind }
func (t *fakeRemoteTrack) SetEnabled(v bool)      { t.mu.Lock(); t.enabled = v; t.mu.Unlock() }

func (t *fakeRemoteTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

type fakePC struct {
	mu        sync.Mutex
	signaling domain.SignalingState
	conn      domain.ConnectionState
	ice       domain.ICEState
	offers    int
	restarts  int
	remoteSet int
	applied   []string
	senders   []*fakeSender
	extra     []*fakeSender
	closes    int
	stats     domain.TransportStats

	onCandidate  func(domain.ICECandidate, domain.CandidateType)
	onICE        func(domain.ICEState)
	onConnection func(domain.ConnectionState)
	onSignaling  func(domain.SignalingState)
	onTrack      func(port.RemoteTrack)
}

func newFakePC() *fakePC {
	return &fakePC{signaling: domain.SignalingStable, conn: domain.ConnectionNew, ice: domain.ICENew}
}

func (p *fakePC) AddTransceiver(kind domain.TrackKind) (port.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{kind: kind}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePC) AddTrack(t port.MediaTrack) (port.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{kind: t.Kind(), track: t}
	p.extra = append(p.extra, s)
	return s, nil
}

func (p *fakePC) RemoveTrack(sender port.Sender) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.extra {
		if port.Sender(s) == sender {
			p.extra = append(p.extra[:i], p.extra[i+1:]...)
			return nil
		}
	}
	return errors.New("unknown sender")
}

func (p *fakePC) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	if iceRestart {
		p.restarts++
	}
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", p.offers)}, nil
}

func (p *fakePC) CreateAnswer() (domain.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signaling != domain.SignalingHaveRemoteOffer {
		return domain.SessionDescription{}, errors.New("no remote offer")
	}
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", p.remoteSet)}, nil
}

func (p *fakePC) SetLocalDescription(d domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d.Type == domain.SDPTypeOffer {
		p.signaling = domain.SignalingHaveLocalOffer
	} else {
		p.signaling = domain.SignalingStable
	}
	return nil
}

func (p *fakePC) SetRemoteDescription(d domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteSet++
	if d.Type == domain.SDPTypeOffer {
		p.signaling = domain.SignalingHaveRemoteOffer
	} else {
		p.signaling = domain.SignalingStable
	}
	return nil
}

func (p *fakePC) AddICECandidate(c domain.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, c.Candidate)
	return nil
}

func (p *fakePC) SignalingState() domain.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signaling
}

func (p *fakePC) ConnectionState() domain.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *fakePC) ICEConnectionState() domain.ICEState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ice
}

func (p *fakePC) Stats() domain.TransportStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *fakePC) OnICECandidate(fn func(domain.ICECandidate, domain.CandidateType)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *fakePC) OnICEConnectionStateChange(fn func(domain.ICEState)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *fakePC) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	p.mu.Lock()
	p.onConnection = fn
	p.mu.Unlock()
}

func (p *fakePC) OnSignalingStateChange(fn func(domain.SignalingState)) {
	p.mu.Lock()
	p.onSignaling = fn
	p.mu.Unlock()
}

func (p *fakePC) OnTrack(fn func(port.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	p.conn = domain.ConnectionClosed
	p.signaling = domain.SignalingClosed
	return nil
}

func (p *fakePC) setConnection(s domain.ConnectionState) {
	p.mu.Lock()
	p.conn = s
	fn := p.onConnection
	p.mu.Unlock()
	fn(s)
}

func (p *fakePC) setICE(s domain.ICEState) {
	p.mu.Lock()
	p.ice = s
	fn := p.onICE
	p.mu.Unlock()
	fn(s)
}

func (p *fakePC) setStats(st domain.TransportStats) {
	p.mu.Lock()
	p.stats = st
	p.mu.Unlock()
}

// setSignaling forces a signaling state, e.g. an offer of ours still awaiting its answer.
func (p *fakePC) setSignaling(st domain.SignalingState) {
	p.mu.Lock()
	p.signaling = st
	p.mu.Unlock()
}

func (p *fakePC) emitCandidate(line string) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	c := domain.ICECandidate{Candidate: line}
	fn(c, c.Type())
}

func (p *fakePC) emitTrack(t port.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn(t)
}

func (p *fakePC) appliedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied...)
}

func (p *fakePC) counts() (offers, restarts, remoteSet, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers, p.restarts, p.remoteSet, p.closes
}

func (p *fakePC) videoSender() *fakeSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.senders {
		if s.kind == domain.KindVideo {
			return s
		}
	}
	return nil
}

type fakeFactory struct {
	mu  sync.Mutex
	pcs []*fakePC
}

func (f *fakeFactory) NewPeerConnection(cfg domain.TransportConfig) (port.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := newFakePC()
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) all() []*fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePC(nil), f.pcs...)
}

func (f *fakeFactory) last() *fakePC {
	pcs := f.all()
	if len(pcs) == 0 {
		return nil
	}
	return pcs[len(pcs)-1]
}

type fakeSignaling struct {
	mu       sync.Mutex
	sent     []domain.Signal
	joins    int
	sendErr  error
	incoming chan domain.Signal
	done     chan struct{}
	err      error
	once     sync.Once
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{incoming: make(chan domain.Signal, 64), done: make(chan struct{})}
}

func (f *fakeSignaling) Join(ctx context.Context, roomID domain.RoomID, selfID domain.UserID) error {
	f.mu.Lock()
	f.joins++
	f.mu.Unlock()
	return f.Send(ctx, domain.NewJoinSignal(roomID, selfID))
}

func (f *fakeSignaling) Send(ctx context.Context, sig domain.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sig)
	return nil
}

func (f *fakeSignaling) Incoming() <-chan domain.Signal { return f.incoming }
func (f *fakeSignaling) Done() <-chan struct{}          { return f.done }

func (f *fakeSignaling) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeSignaling) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeSignaling) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.Close()
}

func (f *fakeSignaling) events(e domain.SignalEvent) []domain.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Signal
	for _, s := range f.sent {
		if s.Event == e {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSignaling) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins
}

type fakeRepo struct {
	mu      sync.Mutex
	records map[domain.RoomID]domain.CallRecord
	writes  []domain.CallStatus
	failAll error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[domain.RoomID]domain.CallRecord)}
}

func (r *fakeRepo) Create(ctx context.Context, rec domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return r.failAll
	}
	if _, ok := r.records[rec.RoomID]; ok {
		return domain.ErrAlreadyExists
	}
	r.records[rec.RoomID] = rec
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, roomID domain.RoomID) (domain.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[roomID]
	if !ok {
		return domain.CallRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, roomID domain.RoomID, status domain.CallStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, status)
	if r.failAll != nil {
		return r.failAll
	}
	rec, ok := r.records[roomID]
	if !ok {
		return domain.ErrNotFound
	}
	if err := rec.Transition(status, at); err != nil {
		return err
	}
	r.records[roomID] = rec
	return nil
}

// closeBy stores a terminal status written by the other participant.
func (r *fakeRepo) closeBy(roomID domain.RoomID, status domain.CallStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[roomID]
	rec.Status = status
	r.records[roomID] = rec
}

func (r *fakeRepo) statusWrites() []domain.CallStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CallStatus(nil), r.writes...)
}

// testRelay wires sessions to an in-process RoomService the way the websocket relay does.
type testRelay struct {
	rooms *RoomService

	mu    sync.Mutex
	links map[domain.ClientID]*relayLink
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	r := &testRelay{links: make(map[domain.ClientID]*relayLink)}
	r.rooms = NewRoomService(r)
	go r.rooms.Run()
	t.Cleanup(r.rooms.Stop)
	return r
}

func (r *testRelay) SendSignal(ctx context.Context, to domain.ClientID, sig domain.Signal) error {
	r.mu.Lock()
	l, ok := r.links[to]
	r.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	select {
	case l.incoming <- sig:
		return nil
	default:
		return errors.New("client backlog full")
	}
}

func (r *testRelay) link(client domain.ClientID) *relayLink {
	l := &relayLink{
		client:   client,
		rooms:    r.rooms,
		incoming: make(chan domain.Signal, 64),
		done:     make(chan struct{}),
	}
	r.mu.Lock()
	r.links[client] = l
	r.mu.Unlock()
	return l
}

// relayLink is one session's socket on a testRelay.
type relayLink struct {
	client   domain.ClientID
	rooms    *RoomService
	incoming chan domain.Signal
	done     chan struct{}
}

func (l *relayLink) Join(ctx context.Context, roomID domain.RoomID, selfID domain.UserID) error {
	l.rooms.Handle(l.client, domain.NewJoinSignal(roomID, selfID))
	return nil
}

func (l *relayLink) Send(ctx context.Context, sig domain.Signal) error {
	l.rooms.Handle(l.client, sig)
	return nil
}

func (l *relayLink) Incoming() <-chan domain.Signal { return l.incoming }
func (l *relayLink) Done() <-chan struct{}          { return l.done }
func (l *relayLink) Err() error                     { return nil }
func (l *relayLink) Close() error                   { return nil }

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
