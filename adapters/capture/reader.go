package capture

import (
	"context"
	"io"

	"github.com/Jonas1mposter/project-resonance/domain/repositories"
)

// ReaderSource adapts any reader of raw float32 LE samples (stdin, a
// pre-decoded buffer, a test fixture) into an audio source.
type ReaderSource struct {
	r io.Reader
}

var _ repositories.AudioSource = (*ReaderSource)(nil)

func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

func (s *ReaderSource) Start(context.Context) (io.ReadCloser, error) {
	if rc, ok := s.r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(s.r), nil
}
