package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyStarted    = errors.New("call already started")
	ErrSessionClosed     = errors.New("negotiation session closed")
	ErrNoSession         = errors.New("no negotiation session")
	ErrScreenUnsupported = errors.New("screen capture not supported")
	ErrNoMedia           = errors.New("no local media")
	ErrNotSharing        = errors.New("screen share not active")
	ErrConnectTimeout    = errors.New("connection establishment timed out")
	ErrWrongRole         = errors.New("operation not allowed for role")
	ErrNoTracks          = errors.New("capture returned no tracks")
)

type DeviceKind string

const (
	DeviceCamera     DeviceKind = "camera"
	DeviceMicrophone DeviceKind = "microphone"
	DeviceScreen     DeviceKind = "screen"
)

// DeviceError is user-visible and ends the call attempt. It is never retried automatically.
type DeviceError struct {
	Device DeviceKind
	Err    error
}

func (e *DeviceError) Error() string {
	if errors.Is(e.Err, ErrNoTracks) {
		return fmt.Sprintf("device: no %s available", e.Device)
	}
	return fmt.Sprintf("device: %s: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// SignalingDeliveryError tears the call down unless Transient.
type SignalingDeliveryError struct {
	Transient bool
	Err       error
}

func (e *SignalingDeliveryError) Error() string {
	if e.Transient {
		return fmt.Sprintf("signaling (transient): %v", e.Err)
	}
	return fmt.Sprintf("signaling: %v", e.Err)
}

func (e *SignalingDeliveryError) Unwrap() error { return e.Err }

// NegotiationError marks a dropped message. It never tears down the session.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation %s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

var (
	ErrDuplicateAnswer = errors.New("duplicate answer")
	ErrStrayAnswer     = errors.New("answer without pending local offer")
	ErrOfferExists     = errors.New("offer already created")
	ErrUnstable        = errors.New("signaling state not stable")
)

// ConnectivityFailure is surfaced once automatic restarts are exhausted; it is retry-eligible.
type ConnectivityFailure struct {
	Attempts int
	Err      error
}

func (e *ConnectivityFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connectivity failure after %d restarts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("connectivity failure after %d restarts", e.Attempts)
}

func (e *ConnectivityFailure) Unwrap() error { return e.Err }
