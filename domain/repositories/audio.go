package repositories

import (
	"context"
	"io"
)

// AudioSource abstracts where raw audio comes from: a microphone grab,
// a decoded media file, or a test reader. Start returns a stream of
// 32-bit little-endian float samples in [-1, 1] at 16 kHz mono; the
// source owns resampling and channel mixdown. Closing the reader
// releases the device or subprocess behind it.
type AudioSource interface {
	Start(ctx context.Context) (io.ReadCloser, error)
}
