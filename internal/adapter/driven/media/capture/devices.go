// Package capture opens local camera, microphone and screen sources through pion/mediadevices.
package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/Wyydra/campus/internal/core/port"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Devices implements port.MediaDevices on top of the registered mediadevices drivers.
type Devices struct {
	selector *mediadevices.CodecSelector
	encoding domain.VideoEncoding
	log      zerolog.Logger
}

func New(enc domain.VideoEncoding) (*Devices, error) {
	selector, err := newCodecSelector(enc)
	if err != nil {
		return nil, fmt.Errorf("codec selector: %w", err)
	}
	return &Devices{
		selector: selector,
		encoding: enc,
		log:      log.With().Str("component", "capture").Logger(),
	}, nil
}

// Populate registers the encoders this capture produces; pass it to the transport factory.
func (d *Devices) Populate(me *webrtc.MediaEngine) {
	d.selector.Populate(me)
}

func (d *Devices) UserMedia(ctx context.Context, req domain.CaptureRequest) ([]port.MediaTrack, error) {
	if !req.Audio && !req.Video {
		return nil, nil
	}
	if err := missing(req); err != nil {
		return nil, err
	}

	gates := newGates()
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if req.Video {
		constraints.Video = d.videoConstraints(req.VideoDeviceID, gates[domain.KindVideo])
	}
	if req.Audio {
		audio := gates[domain.KindAudio]
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			c.AudioTransform = audio.audio
		}
	}

	stream, err := await(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(constraints)
	}, closeStream)
	if err != nil {
		return nil, err
	}
	return d.wrap(stream.GetTracks(), gates), nil
}

func (d *Devices) DisplayMedia(ctx context.Context) ([]port.MediaTrack, error) {
	if !d.SupportsDisplay() {
		return nil, domain.ErrScreenUnsupported
	}
	gates := newGates()
	constraints := mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameRate = prop.FloatRanged{Max: d.encoding.MaxFramerate}
			c.VideoTransform = gates[domain.KindVideo].video
		},
	}
	stream, err := await(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(constraints)
	}, closeStream)
	if err != nil {
		return nil, err
	}
	return d.wrap(stream.GetTracks(), gates), nil
}

// VideoInputs lists cameras only; screens also enumerate as video inputs.
func (d *Devices) VideoInputs(ctx context.Context) ([]domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Device
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind != mediadevices.VideoInput || info.DeviceType != driver.Camera {
			continue
		}
		out = append(out, domain.Device{ID: info.DeviceID, Label: info.Label, Kind: domain.KindVideo})
	}
	return out, nil
}

func (d *Devices) SupportsDisplay() bool {
	for _, info := range mediadevices.EnumerateDevices() {
		if info.DeviceType == driver.Screen {
			return true
		}
	}
	return false
}

func (d *Devices) videoConstraints(deviceID string, g *gate) mediadevices.MediaOption {
	enc := d.encoding
	return func(c *mediadevices.MediaTrackConstraints) {
		if deviceID != "" {
			c.DeviceID = deviceID
		}
		// MJPEG nodes on some cameras produce frames the VP8 encoder rejects.
		c.FrameFormat = prop.FrameFormatOneOf{
			frame.FormatYUYV,
			frame.FormatI420,
			frame.FormatI444,
			frame.FormatRGBA,
		}
		c.Width = prop.IntRanged{Max: enc.MaxWidth}
		c.Height = prop.IntRanged{Max: enc.MaxHeight}
		c.FrameRate = prop.FloatRanged{Max: enc.MaxFramerate}
		c.VideoTransform = g.video
	}
}

func (d *Devices) wrap(tracks []mediadevices.Track, gates map[domain.TrackKind]*gate) []port.MediaTrack {
	out := make([]port.MediaTrack, 0, len(tracks))
	for _, t := range tracks {
		w := newTrack(t, gates)
		out = append(out, w)
		d.log.Debug().Str("track_id", w.id).Str("kind", string(w.kind)).Str("device_id", w.deviceID).Msg("Capture opened")
	}
	return out
}

// missing names the first requested device class with no driver behind it.
func missing(req domain.CaptureRequest) error {
	var cameras, microphones int
	for _, info := range mediadevices.EnumerateDevices() {
		switch info.DeviceType {
		case driver.Camera:
			cameras++
		case driver.Microphone:
			microphones++
		}
	}
	if req.Video && cameras == 0 {
		return &domain.DeviceError{Device: domain.DeviceCamera, Err: domain.ErrNoTracks}
	}
	if req.Audio && microphones == 0 {
		return &domain.DeviceError{Device: domain.DeviceMicrophone, Err: domain.ErrNoTracks}
	}
	return nil
}

func closeStream(s mediadevices.MediaStream) {
	for _, t := range s.GetTracks() {
		t.Close()
	}
}

// await runs open off the caller's goroutine so a cancelled ctx returns at once.
// A result that arrives after cancellation is handed to discard.
func await[T any](ctx context.Context, open func() (T, error), discard func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := open()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				discard(r.v)
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}

type track struct {
	inner    mediadevices.Track
	gate     *gate
	id       string
	kind     domain.TrackKind
	deviceID string

	stopped atomic.Bool
	mu      sync.Mutex
	onEnded func()
}

func newTrack(inner mediadevices.Track, gates map[domain.TrackKind]*gate) *track {
	kind := domain.KindVideo
	if inner.Kind() == webrtc.RTPCodecTypeAudio {
		kind = domain.KindAudio
	}
	t := &track{
		inner:    inner,
		gate:     gates[kind],
		id:       uuid.NewString(),
		kind:     kind,
		deviceID: inner.ID(),
	}
	inner.OnEnded(func(err error) {
		if t.stopped.Load() {
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("track_id", t.id).Msg("Capture ended")
		}
		t.mu.Lock()
		fn := t.onEnded
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return t
}

func (t *track) ID() string                    { return t.id }
func (t *track) Kind() domain.TrackKind        { return t.kind }
func (t *track) DeviceID() string              { return t.deviceID }
func (t *track) TrackLocal() webrtc.TrackLocal { return t.inner }

func (t *track) Enabled() bool {
	return t.gate.enabled()
}

func (t *track) SetEnabled(enabled bool) {
	t.gate.set(enabled)
}

func (t *track) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	if err := t.inner.Close(); err != nil {
		log.Debug().Err(err).Str("track_id", t.id).Msg("Closing capture")
	}
}

func (t *track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}
