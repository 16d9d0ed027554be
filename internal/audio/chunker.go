package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/Jonas1mposter/project-resonance/domain/entities"
)

// DefaultChunkSamples is the reference block size: 4096 samples is
// roughly 256 ms at 16 kHz, small enough to keep latency low.
const DefaultChunkSamples = 4096

// Chunker converts a stream of float samples in [-1, 1] into
// fixed-size 16-bit little-endian PCM chunks and hands each one to a
// single registered consumer as soon as it is complete. It keeps at
// most one partial chunk of state and never buffers finished chunks;
// back-pressure is the consumer's problem.
//
// Not safe for concurrent use: one producer feeds one chunker.
type Chunker struct {
	samplesPerChunk int
	emit            func(entities.AudioChunk) error
	pending         []byte
	seq             int32
	closed          bool
}

// NewChunker registers the consumer. A non-positive size falls back to
// DefaultChunkSamples.
func NewChunker(samplesPerChunk int, emit func(entities.AudioChunk) error) *Chunker {
	if samplesPerChunk <= 0 {
		samplesPerChunk = DefaultChunkSamples
	}
	return &Chunker{
		samplesPerChunk: samplesPerChunk,
		emit:            emit,
		pending:         make([]byte, 0, samplesPerChunk*2),
	}
}

// WriteSamples converts and accumulates samples, emitting a chunk every
// time a full block is ready. An emit failure stops the write and is
// returned to the producer.
func (c *Chunker) WriteSamples(samples []float32) error {
	if c.closed {
		return errors.New("chunker is closed")
	}
	for _, sample := range samples {
		v := pcm16(sample)
		c.pending = append(c.pending, byte(uint16(v)), byte(uint16(v)>>8))
		if len(c.pending) == c.samplesPerChunk*2 {
			if err := c.flush(false); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close emits whatever is pending as the terminal chunk, empty if
// nothing is, so the consumer can always send its negative-sequence
// frame. Subsequent calls are no-ops.
func (c *Chunker) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.flush(true)
}

func (c *Chunker) flush(last bool) error {
	c.seq++
	chunk := entities.AudioChunk{
		Data:     append([]byte(nil), c.pending...),
		Sequence: c.seq,
		Last:     last,
	}
	c.pending = c.pending[:0]
	return c.emit(chunk)
}

// pcm16 clamps to [-1, 1] and scales each side by its own full-scale
// value (negative by 32768, positive by 32767) so that -1.0 reaches
// -32768 without the positive side overflowing.
func pcm16(sample float32) int16 {
	switch {
	case math.IsNaN(float64(sample)):
		return 0
	case sample <= -1:
		return math.MinInt16
	case sample >= 1:
		return math.MaxInt16
	case sample < 0:
		return int16(sample * 32768)
	default:
		return int16(sample * 32767)
	}
}

// PumpF32LE reads raw 32-bit little-endian float samples from r and
// feeds them to the chunker until the source drains. On EOF the
// chunker is closed, which emits the terminal chunk; on a read error
// the chunker is left open and the error is returned so the caller can
// fail the session instead of ending it cleanly.
func PumpF32LE(ctx context.Context, r io.Reader, chunker *Chunker) error {
	buf := make([]byte, chunker.samplesPerChunk*4)
	var rem []byte
	var samples []float32

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			data := buf[:n]
			if len(rem) > 0 {
				data = append(rem, data...)
				rem = nil
			}
			if cut := len(data) - len(data)%4; cut < len(data) {
				rem = append([]byte(nil), data[cut:]...)
				data = data[:cut]
			}
			samples = samples[:0]
			for i := 0; i < len(data); i += 4 {
				samples = append(samples, math.Float32frombits(binary.LittleEndian.Uint32(data[i:i+4])))
			}
			if werr := chunker.WriteSamples(samples); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return chunker.Close()
			}
			return fmt.Errorf("audio source read: %w", err)
		}
	}
}
