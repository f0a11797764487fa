package capture

import (
	"image"
	"sync/atomic"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/wave"
)

// gate keeps a disabled track flowing: video turns black and audio turns silent.
// The peer sees the same track, so no renegotiation is needed to toggle it.
type gate struct {
	on atomic.Bool
}

func newGate() *gate {
	g := &gate{}
	g.on.Store(true)
	return g
}

func newGates() map[domain.TrackKind]*gate {
	return map[domain.TrackKind]*gate{
		domain.KindAudio: newGate(),
		domain.KindVideo: newGate(),
	}
}

func (g *gate) enabled() bool { return g.on.Load() }
func (g *gate) set(enabled bool) { g.on.Store(enabled) }

func (g *gate) video(r video.Reader) video.Reader {
	var black *image.YCbCr
	return video.ReaderFunc(func() (image.Image, func(), error) {
		img, release, err := r.Read()
		if err != nil || g.enabled() {
			return img, release, err
		}
		if black == nil || black.Rect != img.Bounds() {
			black = blackFrame(img.Bounds())
		}
		if release != nil {
			release()
		}
		return black, func() {}, nil
	})
}

func (g *gate) audio(r audio.Reader) audio.Reader {
	return audio.ReaderFunc(func() (wave.Audio, func(), error) {
		chunk, release, err := r.Read()
		if err != nil || g.enabled() {
			return chunk, release, err
		}
		silent := silence(chunk)
		if release != nil {
			release()
		}
		return silent, func() {}, nil
	})
}

func blackFrame(r image.Rectangle) *image.YCbCr {
	img := image.NewYCbCr(r, image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = 16
	}
	for i := range img.Cb {
		img.Cb[i] = 128
		img.Cr[i] = 128
	}
	return img
}

func silence(chunk wave.Audio) wave.Audio {
	info := chunk.ChunkInfo()
	switch chunk.(type) {
	case *wave.Float32Interleaved:
		return wave.NewFloat32Interleaved(info)
	case *wave.Float32NonInterleaved:
		return wave.NewFloat32NonInterleaved(info)
	case *wave.Int16NonInterleaved:
		return wave.NewInt16NonInterleaved(info)
	default:
		return wave.NewInt16Interleaved(info)
	}
}
