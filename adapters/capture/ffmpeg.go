package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Jonas1mposter/project-resonance/domain/repositories"
)

const (
	targetSampleRate = 16000
	targetChannels   = 1

	// startProbe gives a device grab long enough to blow up on a bad
	// device name before we report the capture as started.
	startProbe = 250 * time.Millisecond
	stopGrace  = time.Second
)

// FFmpegSource shells out to ffmpeg for both live device grabs and
// media file decoding, normalizing everything to the canonical stream
// format: 16 kHz mono 32-bit float little-endian samples on stdout.
// Echo cancellation and noise suppression stay with the capture device.
type FFmpegSource struct {
	command     string
	inputFormat string
	input       string
	logger      *zap.Logger
}

var _ repositories.AudioSource = (*FFmpegSource)(nil)

// NewMicrophoneSource grabs a capture device, e.g. ("pulse", "default")
// or ("avfoundation", ":0").
func NewMicrophoneSource(inputFormat, device string, logger *zap.Logger) *FFmpegSource {
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	if device == "" {
		device = "default"
	}
	return &FFmpegSource{
		command:     "ffmpeg",
		inputFormat: inputFormat,
		input:       device,
		logger:      logger,
	}
}

// NewFileSource decodes a media file, resampling whatever ffmpeg can
// read down to the canonical format.
func NewFileSource(path string, logger *zap.Logger) *FFmpegSource {
	return &FFmpegSource{
		command: "ffmpeg",
		input:   path,
		logger:  logger,
	}
}

// SetCommand overrides the ffmpeg binary path, mainly for tests.
func (s *FFmpegSource) SetCommand(command string) {
	if command != "" {
		s.command = command
	}
}

// Start launches the subprocess and returns its sample stream. Closing
// the stream stops the subprocess; for file decodes the Close error
// carries any decode failure.
func (s *FFmpegSource) Start(ctx context.Context) (io.ReadCloser, error) {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning"}
	if s.inputFormat != "" {
		args = append(args, "-f", s.inputFormat)
	}
	args = append(args,
		"-i", s.input,
		"-ac", strconv.Itoa(targetChannels),
		"-ar", strconv.Itoa(targetSampleRate),
		"-f", "f32le",
		"-",
	)

	cmd := exec.CommandContext(ctx, s.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s.logger.Debug("Audio source started",
		zap.String("input", s.input),
		zap.String("inputFormat", s.inputFormat))

	stream := &ffmpegStream{
		stdout: stdout,
		stderr: &stderr,
		cmd:    cmd,
	}

	// A device grab never finishes on its own this quickly, so an
	// early exit means a bad device or input format. File decodes may
	// legitimately complete before the first read; they are reaped at
	// Close so the pipe's buffered output is never discarded.
	if s.inputFormat != "" {
		waitCh := make(chan error, 1)
		go func() { waitCh <- cmd.Wait() }()
		stream.waitCh = waitCh

		timer := time.NewTimer(startProbe)
		defer timer.Stop()
		select {
		case werr := <-waitCh:
			detail := strings.TrimSpace(stderr.String())
			if werr != nil {
				return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", werr, detail)
			}
			return nil, fmt.Errorf("ffmpeg exited before capture started: %s", detail)
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-waitCh
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return stream, nil
}

// ffmpegStream wraps the subprocess pipe. Whether an exit status is an
// error depends on who ended the stream: an exit after our own stop
// signal is fine, an exit before the stream drained on its own is not.
type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cmd    *exec.Cmd
	waitCh <-chan error // non-nil for device grabs (reaped eagerly)

	eof       atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		s.eof.Store(true)
	}
	return n, err
}

func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		drained := s.eof.Load()
		_ = s.cmd.Process.Signal(os.Interrupt)
		waitErr := s.waitExit()
		_ = s.stdout.Close()

		var exitErr *exec.ExitError
		switch {
		case waitErr == nil:
		case errors.As(waitErr, &exitErr):
			if drained {
				s.closeErr = fmt.Errorf("ffmpeg failed: %w: %s", waitErr, strings.TrimSpace(s.stderr.String()))
			}
		default:
			s.closeErr = waitErr
		}
	})
	return s.closeErr
}

func (s *ffmpegStream) waitExit() error {
	ch := s.waitCh
	if ch == nil {
		reaped := make(chan error, 1)
		go func() { reaped <- s.cmd.Wait() }()
		ch = reaped
	}
	select {
	case err := <-ch:
		return err
	case <-time.After(stopGrace):
		_ = s.cmd.Process.Kill()
		return <-ch
	}
}
