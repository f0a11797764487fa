package domain

import (
	"fmt"
	"time"
)

type CallStatus string

const (
	StatusPending  CallStatus = "pending"
	StatusRinging  CallStatus = "ringing"
	StatusAccepted CallStatus = "accepted"
	StatusDeclined CallStatus = "declined"
	StatusEnded    CallStatus = "ended"
)

func (s CallStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRinging, StatusAccepted, StatusDeclined, StatusEnded:
		return true
	}
	return false
}

// Terminal reports whether no further status may follow s.
func (s CallStatus) Terminal() bool {
	return s == StatusDeclined || s == StatusEnded
}

// CanTransition reports whether s -> to keeps the record monotonic.
func (s CallStatus) CanTransition(to CallStatus) bool {
	if s.Terminal() || s == to {
		return false
	}
	switch to {
	case StatusRinging:
		return s == StatusPending
	case StatusAccepted:
		return s == StatusPending || s == StatusRinging
	case StatusDeclined:
		return s == StatusPending || s == StatusRinging
	case StatusEnded:
		return true
	}
	return false
}

// CallRecord is the durable call document. The engine only moves Status forward.
type CallRecord struct {
	RoomID     RoomID     `json:"roomId"`
	CallerID   UserID     `json:"callerId"`
	CalleeID   UserID     `json:"calleeId"`
	Status     CallStatus `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	AcceptedAt time.Time  `json:"acceptedAt,omitzero"`
	DeclinedAt time.Time  `json:"declinedAt,omitzero"`
	EndedAt    time.Time  `json:"endedAt,omitzero"`
}

func NewCallRecord(roomID RoomID, callerID, calleeID UserID, at time.Time) CallRecord {
	return CallRecord{
		RoomID:    roomID,
		CallerID:  callerID,
		CalleeID:  calleeID,
		Status:    StatusPending,
		CreatedAt: at,
	}
}

// Transition moves the record to status `to`, stamping the matching timestamp once.
func (r *CallRecord) Transition(to CallStatus, at time.Time) error {
	if !r.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	switch to {
	case StatusAccepted:
		r.AcceptedAt = at
	case StatusDeclined:
		r.DeclinedAt = at
	case StatusEnded:
		r.EndedAt = at
	}
	return nil
}

type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

func (r Role) Valid() bool {
	return r == RoleCaller || r == RoleCallee
}

// CallPhase is the controller's local view, synchronized with but separate from CallStatus.
type CallPhase string

const (
	PhaseIdle       CallPhase = "idle"
	PhaseConnecting CallPhase = "connecting"
	PhaseRinging    CallPhase = "ringing"
	PhaseAccepted   CallPhase = "accepted"
	PhaseDeclined   CallPhase = "declined"
	PhaseEnded      CallPhase = "ended"
)

func (p CallPhase) Terminal() bool {
	return p == PhaseDeclined || p == PhaseEnded
}
