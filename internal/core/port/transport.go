package port

import "github.com/Wyydra/campus/internal/core/domain"

type TransportFactory interface {
	NewPeerConnection(cfg domain.TransportConfig) (PeerConnection, error)
}

// PeerConnection is the live media transport of one call attempt.
// Observers fire on transport goroutines; implementations must not hold locks while calling them.
type PeerConnection interface {
	AddTransceiver(kind domain.TrackKind) (Sender, error)
	AddTrack(track MediaTrack) (Sender, error)
	RemoveTrack(sender Sender) error

	CreateOffer(iceRestart bool) (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetLocalDescription(desc domain.SessionDescription) error
	SetRemoteDescription(desc domain.SessionDescription) error
	AddICECandidate(c domain.ICECandidate) error

	SignalingState() domain.SignalingState
	ConnectionState() domain.ConnectionState
	ICEConnectionState() domain.ICEState
	Stats() domain.TransportStats

	OnICECandidate(fn func(c domain.ICECandidate, typ domain.CandidateType))
	OnICEConnectionStateChange(fn func(domain.ICEState))
	OnConnectionStateChange(fn func(domain.ConnectionState))
	OnSignalingStateChange(fn func(domain.SignalingState))
	OnTrack(fn func(RemoteTrack))

	Close() error
}

// Sender is one outgoing media slot.
type Sender interface {
	Kind() domain.TrackKind
	Track() MediaTrack
	ReplaceTrack(track MediaTrack) error
}

type RemoteTrack interface {
	ID() string
	Kind() domain.TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
}
