//go:build !linux

package capture

import (
	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/pion/mediadevices"
)

// No capture drivers are registered off Linux, so every request reports its device as missing.
func newCodecSelector(domain.VideoEncoding) (*mediadevices.CodecSelector, error) {
	return mediadevices.NewCodecSelector(), nil
}
