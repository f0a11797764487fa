package domain

import "time"

type CandidateCounts struct {
	Direct    int `json:"direct"`
	Reflexive int `json:"reflexive"`
	Relay     int `json:"relay"`
}

func (c *CandidateCounts) Add(t CandidateType) {
	switch t {
	case CandidateHost:
		c.Direct++
	case CandidateSrflx, CandidatePrflx:
		c.Reflexive++
	case CandidateRelay:
		c.Relay++
	}
}

// TransportStats is the raw sample a PeerConnection reports.
type TransportStats struct {
	BytesSent      uint64
	SelectedLocal  CandidateType
	SelectedRemote CandidateType
	Timestamp      time.Time
}

type Diagnostics struct {
	ConnectionState  ConnectionState `json:"connectionState"`
	ICEState         ICEState        `json:"iceState"`
	SignalingState   SignalingState  `json:"signalingState"`
	OutgoingBitrate  uint64          `json:"outgoingBitrate"`
	LocalTracks      int             `json:"localTracks"`
	RemoteTracks     int             `json:"remoteTracks"`
	LocalCandidates  CandidateCounts `json:"localCandidates"`
	RemoteCandidates CandidateCounts `json:"remoteCandidates"`
	RelayUsed        bool            `json:"relayUsed"`
	RelayOnlyWarning bool            `json:"relayOnlyWarning"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// CallSnapshot is the immutable view the presentation layer reads.
type CallSnapshot struct {
	RoomID               RoomID
	Role                 Role
	Phase                CallPhase
	Negotiation          NegotiationState
	Err                  error
	RetryAvailable       bool
	Muted                bool
	CameraOff            bool
	ScreenSharing        bool
	OverlayOn            bool
	RemoteMuted          bool
	ScreenShareSupported bool
	Reconnects           int
	Diagnostics          Diagnostics
}
