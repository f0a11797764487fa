package domain

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

type Device struct {
	ID    string
	Label string
	Kind  TrackKind
}

// CaptureRequest selects what a single user-media capture should open.
type CaptureRequest struct {
	Audio         bool
	Video         bool
	VideoDeviceID string
}

// VideoEncoding caps outgoing video. It is configuration, never negotiated.
type VideoEncoding struct {
	MaxBitrate   int
	MaxFramerate float32
	MaxWidth     int
	MaxHeight    int
}

var DefaultVideoEncoding = VideoEncoding{
	MaxBitrate:   1_500_000,
	MaxFramerate: 30,
	MaxWidth:     640,
	MaxHeight:    480,
}
