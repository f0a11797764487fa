package port

import (
	"context"

	"github.com/Wyydra/campus/internal/core/domain"
)

type MediaTrack interface {
	ID() string
	Kind() domain.TrackKind
	DeviceID() string
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop releases the capture. Safe to call more than once.
	Stop()
	// OnEnded fires when the source ends outside our control, e.g. the OS stops a screen capture.
	OnEnded(fn func())
}

type MediaDevices interface {
	UserMedia(ctx context.Context, req domain.CaptureRequest) ([]MediaTrack, error)
	DisplayMedia(ctx context.Context) ([]MediaTrack, error)
	VideoInputs(ctx context.Context) ([]domain.Device, error)
	SupportsDisplay() bool
}
