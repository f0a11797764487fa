package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/Wyydra/campus/internal/core/port"
	"github.com/rs/zerolog"
)

// MediaPipeline owns the local captures of one call attempt and the outgoing slots they feed.
// Only one of {camera video, screen video} is ever on the video slot.
type MediaPipeline struct {
	devices port.MediaDevices
	log     zerolog.Logger

	local   []port.MediaTrack
	screen  []port.MediaTrack
	overlay port.MediaTrack

	audioSender   port.Sender
	videoSender   port.Sender
	overlaySender port.Sender
	sharing       bool
}

func NewMediaPipeline(devices port.MediaDevices, l zerolog.Logger) *MediaPipeline {
	return &MediaPipeline{
		devices: devices,
		log:     l,
	}
}

// AcquireCameraAndMicrophone opens camera and microphone together, releasing any previous capture first.
func (m *MediaPipeline) AcquireCameraAndMicrophone(ctx context.Context, videoDeviceID string) error {
	stopAll(m.local)
	m.local = nil

	tracks, err := m.devices.UserMedia(ctx, domain.CaptureRequest{
		Audio:         true,
		Video:         true,
		VideoDeviceID: videoDeviceID,
	})
	if err != nil {
		return asDeviceError(domain.DeviceCamera, err)
	}
	if countKind(tracks, domain.KindVideo) == 0 {
		stopAll(tracks)
		return &domain.DeviceError{Device: domain.DeviceCamera, Err: domain.ErrNoTracks}
	}
	if countKind(tracks, domain.KindAudio) == 0 {
		stopAll(tracks)
		return &domain.DeviceError{Device: domain.DeviceMicrophone, Err: domain.ErrNoTracks}
	}

	m.local = tracks
	m.log.Debug().Int("tracks", len(tracks)).Msg("Local capture acquired")
	return nil
}

// AcquireScreen replaces the screen capture. Lack of platform support is reported, never fatal to the call.
func (m *MediaPipeline) AcquireScreen(ctx context.Context) ([]port.MediaTrack, error) {
	if !m.devices.SupportsDisplay() {
		return nil, &domain.DeviceError{Device: domain.DeviceScreen, Err: domain.ErrScreenUnsupported}
	}
	stopAll(m.screen)
	m.screen = nil

	tracks, err := m.devices.DisplayMedia(ctx)
	if err != nil {
		return nil, asDeviceError(domain.DeviceScreen, err)
	}
	if countKind(tracks, domain.KindVideo) == 0 {
		stopAll(tracks)
		return nil, &domain.DeviceError{Device: domain.DeviceScreen, Err: domain.ErrNoTracks}
	}
	m.screen = tracks
	return tracks, nil
}

func (m *MediaPipeline) ScreenSupported() bool {
	return m.devices.SupportsDisplay()
}

// ReleaseAll stops every owned track. Idempotent.
func (m *MediaPipeline) ReleaseAll() {
	stopAll(m.local)
	stopAll(m.screen)
	if m.overlay != nil {
		m.overlay.Stop()
	}
	m.local, m.screen, m.overlay = nil, nil, nil
	m.audioSender, m.videoSender, m.overlaySender = nil, nil, nil
	m.sharing = false
}

// Attach binds the local capture to the pre-negotiated slots of a fresh session.
func (m *MediaPipeline) Attach(audio, video port.Sender) error {
	m.audioSender, m.videoSender = audio, video
	m.overlaySender = nil
	if m.overlay != nil {
		m.overlay.Stop()
		m.overlay = nil
	}

	if a := m.Track(domain.KindAudio); a != nil && audio != nil {
		if err := audio.ReplaceTrack(a); err != nil {
			return fmt.Errorf("attach audio: %w", err)
		}
	}
	v := m.Track(domain.KindVideo)
	if m.sharing {
		v = firstOfKind(m.screen, domain.KindVideo)
	}
	if v != nil && video != nil {
		if err := video.ReplaceTrack(v); err != nil {
			return fmt.Errorf("attach video: %w", err)
		}
	}
	return nil
}

// Track returns the camera or microphone track of kind, if any.
func (m *MediaPipeline) Track(kind domain.TrackKind) port.MediaTrack {
	return firstOfKind(m.local, kind)
}

func (m *MediaPipeline) LocalTracks() int {
	n := len(m.local)
	if m.sharing {
		n += countKind(m.screen, domain.KindVideo)
	}
	if m.overlay != nil {
		n++
	}
	return n
}

func (m *MediaPipeline) Sharing() bool {
	return m.sharing
}

func (m *MediaPipeline) Overlay() port.MediaTrack {
	return m.overlay
}

// SetKindEnabled flips enabled on the local capture only; nothing is renegotiated.
func (m *MediaPipeline) SetKindEnabled(kind domain.TrackKind, enabled bool) {
	for _, t := range m.local {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

// SwitchCamera moves to the next video input. The old track is stopped only after the slot took the new one.
func (m *MediaPipeline) SwitchCamera(ctx context.Context) error {
	current := m.Track(domain.KindVideo)
	if current == nil {
		return fmt.Errorf("switch camera: %w", domain.ErrNoMedia)
	}

	devices, err := m.devices.VideoInputs(ctx)
	if err != nil {
		return asDeviceError(domain.DeviceCamera, err)
	}
	if len(devices) < 2 {
		return fmt.Errorf("switch camera: second video input: %w", domain.ErrNotFound)
	}
	next := nextDevice(devices, current.DeviceID())

	tracks, err := m.devices.UserMedia(ctx, domain.CaptureRequest{Video: true, VideoDeviceID: next.ID})
	if err != nil {
		return asDeviceError(domain.DeviceCamera, err)
	}
	replacement := firstOfKind(tracks, domain.KindVideo)
	for _, t := range tracks {
		if t != replacement {
			t.Stop()
		}
	}
	if replacement == nil {
		return &domain.DeviceError{Device: domain.DeviceCamera, Err: domain.ErrNoTracks}
	}
	replacement.SetEnabled(current.Enabled())

	if m.videoSender != nil && !m.sharing {
		if err := m.videoSender.ReplaceTrack(replacement); err != nil {
			replacement.Stop()
			return fmt.Errorf("switch camera: replace track: %w", err)
		}
	}

	for i, t := range m.local {
		if t == current {
			m.local[i] = replacement
		}
	}
	current.Stop()
	m.log.Info().Str("device", next.Label).Msg("Camera switched")
	return nil
}

// StartScreenShare puts a fresh screen capture on the video slot in place of the camera.
func (m *MediaPipeline) StartScreenShare(ctx context.Context) (port.MediaTrack, error) {
	if m.sharing {
		return firstOfKind(m.screen, domain.KindVideo), nil
	}
	if m.videoSender == nil {
		return nil, domain.ErrNoSession
	}

	if _, err := m.AcquireScreen(ctx); err != nil {
		return nil, err
	}
	screenVideo := firstOfKind(m.screen, domain.KindVideo)
	if err := m.videoSender.ReplaceTrack(screenVideo); err != nil {
		m.releaseScreen()
		return nil, fmt.Errorf("screen share: replace track: %w", err)
	}
	m.sharing = true
	return screenVideo, nil
}

// StopScreenShare puts the camera back on the video slot and releases the screen capture.
func (m *MediaPipeline) StopScreenShare() error {
	if !m.sharing {
		return domain.ErrNotSharing
	}
	if m.videoSender != nil {
		if err := m.videoSender.ReplaceTrack(m.Track(domain.KindVideo)); err != nil {
			return fmt.Errorf("screen share: restore camera: %w", err)
		}
	}
	m.releaseScreen()
	m.sharing = false
	return nil
}

func (m *MediaPipeline) IsScreenTrack(t port.MediaTrack) bool {
	for _, s := range m.screen {
		if s == t {
			return true
		}
	}
	return false
}

// AddOverlay sends a second camera capture as an additional track; the screen slot is untouched.
func (m *MediaPipeline) AddOverlay(ctx context.Context, pc port.PeerConnection) error {
	if !m.sharing {
		return domain.ErrNotSharing
	}
	if m.overlay != nil {
		return nil
	}

	var deviceID string
	if cam := m.Track(domain.KindVideo); cam != nil {
		deviceID = cam.DeviceID()
	}
	tracks, err := m.devices.UserMedia(ctx, domain.CaptureRequest{Video: true, VideoDeviceID: deviceID})
	if err != nil {
		return asDeviceError(domain.DeviceCamera, err)
	}
	overlay := firstOfKind(tracks, domain.KindVideo)
	for _, t := range tracks {
		if t != overlay {
			t.Stop()
		}
	}
	if overlay == nil {
		return &domain.DeviceError{Device: domain.DeviceCamera, Err: domain.ErrNoTracks}
	}

	sender, err := pc.AddTrack(overlay)
	if err != nil {
		overlay.Stop()
		return fmt.Errorf("overlay: add track: %w", err)
	}
	m.overlay, m.overlaySender = overlay, sender
	return nil
}

func (m *MediaPipeline) RemoveOverlay(pc port.PeerConnection) error {
	if m.overlay == nil {
		return nil
	}
	var err error
	if m.overlaySender != nil && pc != nil {
		err = pc.RemoveTrack(m.overlaySender)
	}
	m.overlay.Stop()
	m.overlay, m.overlaySender = nil, nil
	if err != nil {
		return fmt.Errorf("overlay: remove track: %w", err)
	}
	return nil
}

func (m *MediaPipeline) releaseScreen() {
	stopAll(m.screen)
	m.screen = nil
}

func nextDevice(devices []domain.Device, currentID string) domain.Device {
	for i, d := range devices {
		if d.ID == currentID {
			return devices[(i+1)%len(devices)]
		}
	}
	for _, d := range devices {
		if d.ID != currentID {
			return d
		}
	}
	return devices[0]
}

func asDeviceError(kind domain.DeviceKind, err error) error {
	var de *domain.DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &domain.DeviceError{Device: kind, Err: err}
}

func firstOfKind(tracks []port.MediaTrack, kind domain.TrackKind) port.MediaTrack {
	for _, t := range tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func countKind(tracks []port.MediaTrack, kind domain.TrackKind) int {
	n := 0
	for _, t := range tracks {
		if t.Kind() == kind {
			n++
		}
	}
	return n
}

func stopAll(tracks []port.MediaTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}
