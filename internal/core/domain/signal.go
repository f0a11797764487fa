package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type SignalEvent string

const (
	EventJoinRoom     SignalEvent = "join-room"
	EventUserJoined   SignalEvent = "user-joined"
	EventOffer        SignalEvent = "offer"
	EventAnswer       SignalEvent = "answer"
	EventICECandidate SignalEvent = "ice-candidate"
	EventUserLeft     SignalEvent = "user-left"
)

// Relayed reports whether the relay forwards the event verbatim to the other room members.
func (e SignalEvent) Relayed() bool {
	return e == EventOffer || e == EventAnswer || e == EventICECandidate
}

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// Fingerprint identifies a description for duplicate-delivery detection.
func (d SessionDescription) Fingerprint() string {
	sum := sha256.Sum256([]byte(string(d.Type) + "\n" + d.SDP))
	return hex.EncodeToString(sum[:12])
}

// ICECandidate mirrors RTCIceCandidateInit on the wire.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type CandidateType string

const (
	CandidateHost    CandidateType = "host"
	CandidateSrflx   CandidateType = "srflx"
	CandidatePrflx   CandidateType = "prflx"
	CandidateRelay   CandidateType = "relay"
	CandidateUnknown CandidateType = ""
)

// Type extracts the "typ" attribute from the candidate line.
func (c ICECandidate) Type() CandidateType {
	fields := strings.Fields(c.Candidate)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "typ" {
			switch t := CandidateType(fields[i+1]); t {
			case CandidateHost, CandidateSrflx, CandidatePrflx, CandidateRelay:
				return t
			}
			return CandidateUnknown
		}
	}
	return CandidateUnknown
}

// Signal is one message exchanged through the relay.
type Signal struct {
	Event       SignalEvent         `json:"event"`
	RoomID      RoomID              `json:"roomId,omitempty"`
	SelfID      UserID              `json:"selfId,omitempty"`
	UserID      UserID              `json:"userId,omitempty"`
	SocketID    ClientID            `json:"socketId,omitempty"`
	Description *SessionDescription `json:"description,omitempty"`
	Candidate   *ICECandidate       `json:"candidate,omitempty"`
	Fingerprint string              `json:"fingerprint,omitempty"`
}

func NewJoinSignal(roomID RoomID, selfID UserID) Signal {
	return Signal{Event: EventJoinRoom, RoomID: roomID, SelfID: selfID}
}

func NewDescriptionSignal(roomID RoomID, selfID UserID, desc SessionDescription) Signal {
	event := EventOffer
	if desc.Type == SDPTypeAnswer {
		event = EventAnswer
	}
	return Signal{
		Event:       event,
		RoomID:      roomID,
		SelfID:      selfID,
		Description: &desc,
		Fingerprint: desc.Fingerprint(),
	}
}

func NewCandidateSignal(roomID RoomID, selfID UserID, c ICECandidate) Signal {
	return Signal{Event: EventICECandidate, RoomID: roomID, SelfID: selfID, Candidate: &c}
}
