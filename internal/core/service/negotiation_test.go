package service

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/Wyydra/campus/internal/core/port"
	"github.com/rs/zerolog"
)

type recordedEvents struct {
	connected int
	failed    int
	tracks    []port.RemoteTrack
	errs      []error
}

func (r *recordedEvents) transportConnected(*Negotiator) { r.connected++ }
func (r *recordedEvents) transportFailed(*Negotiator)    { r.failed++ }

func (r *recordedEvents) remoteTrackAdded(_ *Negotiator, t port.RemoteTrack) {
	r.tracks = append(r.tracks, t)
}

func (r *recordedEvents) deliveryFailed(_ *Negotiator, err error) {
	r.errs = append(r.errs, err)
}

type negotiatorHarness struct {
	neg     *Negotiator
	sig     *fakeSignaling
	factory *fakeFactory
	events  *recordedEvents
}

func newNegotiatorHarness(t *testing.T, self domain.UserID) *negotiatorHarness {
	t.Helper()
	h := &negotiatorHarness{
		sig:     newFakeSignaling(),
		factory: &fakeFactory{},
		events:  &recordedEvents{},
	}
	h.neg = NewNegotiator(context.Background(), NegotiatorConfig{
		RoomID:    "room-1",
		SelfID:    self,
		Factory:   h.factory,
		Signaling: h.sig,
		Post:      func(fn func()) { fn() },
		Events:    h.events,
		Logger:    zerolog.Nop(),
	})
	return h
}

func (h *negotiatorHarness) pc() *fakePC {
	return h.factory.last()
}

func candidate(line string) domain.ICECandidate {
	return domain.ICECandidate{Candidate: line}
}

func answerFor(sdp string) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: sdp}
}

func TestCandidatesBufferedUntilAnswerThenDrainedInOrder(t *testing.T) {
	h := newNegotiatorHarness(t, "alice")
	if err := h.neg.CreateSession(domain.RoleCaller); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := h.neg.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	lines := []string{
		"candidate:1 1 udp 1 10.0.0.1 5000 typ host",
		"candidate:2 1 udp 1 1.2.3.4 5001 typ srflx",
		"candidate:3 1 udp 1 5.6.7.8 3478 typ relay",
	}
	for _, l := range lines {
		if err := h.neg.AddRemoteCandidate(candidate(l)); err != nil {
			t.Fatalf("AddRemoteCandidate: %v", err)
		}
	}
	if got := len(h.neg.Pending()); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}
	if got := h.pc().appliedCandidates(); len(got) != 0 {
		t.Fatalf("candidates applied before remote description: %v", got)
	}

	if err := h.neg.HandleRemoteAnswer(answerFor("answer-1"), ""); err != nil {
		t.Fatalf("HandleRemoteAnswer: %v", err)
	}
	if got := h.pc().appliedCandidates(); !reflect.DeepEqual(got, lines) {
		t.Fatalf("applied = %v, want %v", got, lines)
	}
	if len(h.neg.Pending()) != 0 {
		t.Fatal("pending not cleared after drain")
	}

	late := "candidate:4 1 udp 1 10.0.0.2 5002 typ host"
	if err := h.neg.AddRemoteCandidate(candidate(late)); err != nil {
		t.Fatal(err)
	}
	want := append(append([]string(nil), lines...), late)
	if got := h.pc().appliedCandidates(); !reflect.DeepEqual(got, want) {
		t.Fatalf("applied = %v, want %v", got, want)
	}
	if len(h.neg.Applied()) != 4 {
		t.Fatalf("Applied() = %d entries, want 4", len(h.neg.Applied()))
	}

	rc := h.neg.RemoteCandidates()
	if rc.Direct != 2 || rc.Reflexive != 1 || rc.Relay != 1 {
		t.Errorf("remote candidate counts = %+v", rc)
	}
}

func TestDuplicateAnswerAppliedOnce(t *testing.T) {
	h := newNegotiatorHarness(t, "alice")
	if err := h.neg.CreateSession(domain.RoleCaller); err != nil {
		t.Fatal(err)
	}
	if err := h.neg.CreateOffer(); err != nil {
		t.Fatal(err)
	}

	sig := domain.NewDescriptionSignal("room-1", "bob", answerFor("answer-1"))
	for i := 0; i < 2; i++ {
		if err := h.neg.Dispatch(sig); err != nil {
			t.Fatalf("Dispatch #%d: %v", i+1, err)
		}
	}
	if _, _, remoteSet, _ := h.pc().counts(); remoteSet != 1 {
		t.Fatalf("remote description set %d times, want 1", remoteSet)
	}

	err := h.neg.HandleRemoteAnswer(answerFor("answer-1"), sig.Fingerprint)
	if !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("got %v, want ErrDuplicateAnswer", err)
	}
}

func TestStrayAnswerIgnored(t *testing.T) {
	h := newNegotiatorHarness(t, "alice")
	if err := h.neg.CreateSession(domain.RoleCaller); err != nil {
		t.Fatal(err)
	}

	err := h.neg.HandleRemoteAnswer(answerFor("answer-x"), "")
	if !errors.Is(err, domain.ErrStrayAnswer) {
		t.Fatalf("got %v, want ErrStrayAnswer", err)
	}
	var negErr *domain.NegotiationError
	if !errors.As(err, &negErr) {
		t.Fatalf("stray answer should be a NegotiationError, got %T", err)
	}
	if h.neg.RemoteDescriptionSet() {
		t.Fatal("remote description set by stray answer")
	}
}

func TestOfferRules(t *testing.T) {
	caller := newNegotiatorHarness(t, "alice")
	if err := caller.neg.CreateSession(domain.RoleCaller); err != nil {
		t.Fatal(err)
	}
	if err := caller.neg.CreateOffer(); err != nil {
		t.Fatal(err)
	}
	if err := caller.neg.CreateOffer(); !errors.Is(err, domain.ErrOfferExists) {
		t.Fatalf("second offer: got %v, want ErrOfferExists", err)
	}
	if n := len(caller.sig.events(domain.EventOffer)); n != 1 {
		t.Fatalf("sent %d offers, want 1", n)
	}

	callee := newNegotiatorHarness(t, "bob")
	if err := callee.neg.CreateSession(domain.RoleCallee); err != nil {
		t.Fatal(err)
	}
	if err := callee.neg.CreateOffer(); !errors.Is(err, domain.ErrWrongRole) {
		t.Fatalf("callee offer: got %v, want ErrWrongRole", err)
	}
}

func TestCallerCalleeHandshake(t *testing.T) {
	caller := newNegotiatorHarness(t, "alice")
	callee := newNegotiatorHarness(t, "bob")

	if err := caller.neg.CreateSession(domain.RoleCaller); err != nil {
		t.Fatal(err)
	}
	if err := caller.neg.CreateOffer(); err != nil {
		t.Fatal(err)
	}
	if caller.neg.State() != domain.NegotiationOffering {
		t.Fatalf("caller state = %s, want offering", caller.neg.State())
	}

	// The callee has no session until the offer arrives.
	if callee.neg.PeerConnection() != nil {
		t.Fatal("callee session created early")
	}
	callee.neg.AddRemoteCandidate(candidate("candidate:1 1 udp 1 10.0.0.1 5000 typ host"))

	offer := caller.sig.events(domain.EventOffer)[0]
	if err := callee.neg.Dispatch(offer); err != nil {
		t.Fatalf("callee Dispatch(offer): %v", err)
	}
	if callee.neg.Role() != domain.RoleCallee {
		t.Fatalf("callee role = %s", callee.neg.Role())
	}
	if got := callee.pc().appliedCandidates(); len(got) != 1 {
		t.Fatalf("callee applied %v, want the buffered candidate", got)
	}

	answers := callee.sig.events(domain.EventAnswer)
	if len(answers) != 1 {
		t.Fatalf("callee sent %d answers, want 1", len(answers))
	}
	if err := caller.neg.Dispatch(answers[0]); err != nil {
		t.Fatalf("caller Dispatch(answer): %v", err)
	}

	for name, h := range map[string]*negotiatorHarness{"caller": caller, "callee": callee} {
		if !h.neg.RemoteDescriptionSet() {
			t.Errorf("%s: remote description not set", name)
		}
		if st := h.pc().SignalingState(); st != domain.SignalingStable {
			t.Errorf("%s: signaling state = %s, want stable", name, st)
		}
		if h.neg.State() != domain.NegotiationHaveRemoteDescription {
			t.Errorf("%s: state = %s", name, h.neg.State())
		}
	}
}

func TestCleanupSkippedWhileConnected(t *testing.T) {
	h := newNegotiatorHarness(t, "alice")
	if err := h.neg.CreateSession(domain.RoleCaller); err != nil {
		t.Fatal(err)
	}
	pc := h.pc()
	pc.setConnection(domain.ConnectionConnected)
	if h.neg.State() != domain.NegotiationConnected || h.events.connected != 1 {
		t.Fatalf("state = %s, connected events = %d", h.neg.State(), h.events.connected)
	}

	if h.neg.Cleanup() {
		t.Fatal("Cleanup tore down a connected session")
	}
	if _, _, _, closes := pc.counts(); closes != 0 {
		t.Fatalf("transport closed %d times", closes)
	}

	if !h.neg.Close() {
		t.Fatal("Close did not tear down")
	}
	if h.neg.Close() {
		t.Fatal("second Close should be a no-op")
	}
	if _, _, _, closes := pc.counts(); closes != 1 {
		t.Fatalf("transport closed %d times, want 1", closes)
	}

	err := h.neg.HandleRemoteOffer(domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "late"})
	if !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("offer after close: got %v, want ErrSessionClosed", err)
	}

	// Observers of a closed session are ignored.
	pc.setICE(domain.ICEFailed)
	if h.events.failed != 0 {
		t.Fatal("failure reported for closed session")
	}
}

func TestFailureReportedOncePerEpisodeAndRestart(t *testing.T) {
	h := newNegotiatorHarness(t, "alice")
	if err := h.neg.CreateSession(domain.RoleCaller); err != nil {
		t.Fatal(err)
	}
	if err := h.neg.CreateOffer(); err != nil {
		t.Fatal(err)
	}
	if err := h.neg.HandleRemoteAnswer(answerFor("answer-1"), ""); err != nil {
		t.Fatal(err)
	}

	pc := h.pc()
	pc.setICE(domain.ICEFailed)
	pc.setConnection(domain.ConnectionFailed)
	if h.events.failed != 1 {
		t.Fatalf("failed events = %d, want 1", h.events.failed)
	}

	if err := h.neg.RestartTransport(); err != nil {
		t.Fatalf("RestartTransport: %v", err)
	}
	if _, restarts, _, _ := pc.counts(); restarts != 1 {
		t.Fatalf("restarts = %d, want 1", restarts)
	}
	if h.neg.RemoteDescriptionSet() {
		t.Fatal("restart must wait for a fresh answer before applying candidates")
	}
	if len(h.factory.all()) != 1 {
		t.Fatal("restart rebuilt the transport")
	}
	if !h.neg.Restarting() {
		t.Fatal("restart not tracked")
	}

	// Aggregate state lagging behind ICE is still the same episode.
	pc.setConnection(domain.ConnectionFailed)
	pc.setICE(domain.ICEFailed)
	if h.events.failed != 1 {
		t.Fatalf("failed events during restart = %d, want 1", h.events.failed)
	}

	h.neg.AddRemoteCandidate(candidate("candidate:9 1 udp 1 10.0.0.9 5009 typ host"))
	if len(h.neg.Pending()) != 1 {
		t.Fatal("candidate of the restarted generation was not buffered")
	}
	if err := h.neg.HandleRemoteAnswer(answerFor("answer-2"), ""); err != nil {
		t.Fatal(err)
	}
	if h.neg.Restarting() {
		t.Fatal("restart still outstanding after its answer")
	}

	pc.setICE(domain.ICEFailed)
	if h.events.failed != 2 {
		t.Fatalf("failed events = %d, want 2", h.events.failed)
	}
}

func TestLocalCandidatesForwarded(t *testing.T) {
	h := newNegotiatorHarness(t, "alice")
	if err := h.neg.CreateSession(domain.RoleCaller); err != nil {
		t.Fatal(err)
	}
	h.pc().emitCandidate("candidate:1 1 udp 1 10.0.0.1 5000 typ host")
	h.pc().emitCandidate("candidate:2 1 udp 1 5.6.7.8 3478 typ relay")

	sent := h.sig.events(domain.EventICECandidate)
	if len(sent) != 2 {
		t.Fatalf("sent %d candidates, want 2", len(sent))
	}
	if sent[0].RoomID != "room-1" || sent[0].SelfID != "alice" {
		t.Errorf("candidate envelope = %+v", sent[0])
	}
	lc := h.neg.LocalCandidates()
	if lc.Direct != 1 || lc.Relay != 1 {
		t.Errorf("local counts = %+v", lc)
	}

	h.sig.sendErr = &domain.SignalingDeliveryError{Err: errors.New("relay gone")}
	h.pc().emitCandidate("candidate:3 1 udp 1 10.0.0.3 5003 typ host")
	if len(h.events.errs) != 1 {
		t.Fatalf("delivery errors = %d, want 1", len(h.events.errs))
	}
}
