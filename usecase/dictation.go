package usecase

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Jonas1mposter/project-resonance/domain/entities"
	"github.com/Jonas1mposter/project-resonance/domain/repositories"
	"github.com/Jonas1mposter/project-resonance/internal/audio"
)

// ErrNoActiveDictation is returned by Stop and Abort when no session
// is running.
var ErrNoActiveDictation = errors.New("no active dictation session")

// RecognizerFactory builds the streaming recognizer bound to an event
// sink. The service passes itself as the sink so session callbacks
// feed the transcript.
type RecognizerFactory func(events repositories.RecognitionEvents) repositories.SpeechRecognizer

// Options tunes a DictationService.
type Options struct {
	// ChunkSamples is the number of samples per audio chunk.
	// ≤ 0 means audio.DefaultChunkSamples.
	ChunkSamples int
}

// DictationResult is the aggregated outcome of one dictation session.
type DictationResult struct {
	// Transcript is the definite utterances joined in arrival order,
	// falling back to the last interim text when nothing became
	// definite before the session ended.
	Transcript string
	// Utterances holds every definite utterance in arrival order.
	Utterances []entities.Utterance
}

// RecognitionFailure carries the first error callback of a session out
// of Stop.
type RecognitionFailure struct {
	Kind    entities.ErrorKind
	Message string
}

func (e *RecognitionFailure) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// DictationService orchestrates one audio source → chunker →
// recognizer pipeline at a time. It implements
// repositories.RecognitionEvents: the recognizer built by the factory
// reports into the service, which aggregates definite utterances and
// forwards every event to the optional observer.
type DictationService struct {
	source       repositories.AudioSource
	recognizer   repositories.SpeechRecognizer
	observer     repositories.RecognitionEvents
	logger       *zap.Logger
	chunkSamples int

	mu      sync.Mutex
	current *dictationRun
}

// NewDictationService creates a dictation service reading from source
// and recognizing through the client the factory builds. observer may
// be nil.
func NewDictationService(
	source repositories.AudioSource,
	build RecognizerFactory,
	observer repositories.RecognitionEvents,
	logger *zap.Logger,
	opts Options,
) *DictationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &DictationService{
		source:       source,
		observer:     observer,
		logger:       logger,
		chunkSamples: opts.ChunkSamples,
	}
	s.recognizer = build(s)
	return s
}

// Start opens a recognition session and begins pumping audio into it.
// A session already running is torn down and discarded first. Start
// returns once the recognizer is connected and the source is live; the
// pump then runs until the source drains or Stop closes it.
func (s *DictationService) Start(ctx context.Context, config entities.RecognitionConfig) error {
	s.mu.Lock()
	previous := s.current
	s.current = nil
	s.mu.Unlock()

	if previous != nil {
		s.logger.Warn("discarding previous dictation session")
		s.abortRun(previous)
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := newDictationRun(cancel)

	// Register before connecting so the state callbacks of this
	// session, including a synchronous connect failure, land on it.
	s.mu.Lock()
	s.current = run
	s.mu.Unlock()

	if err := s.recognizer.Connect(ctx, config); err != nil {
		s.recognizer.Disconnect()
		close(run.pumpDone)
		s.clearRun(run)
		cancel()
		return err
	}

	stream, err := s.source.Start(runCtx)
	if err != nil {
		s.recognizer.Disconnect()
		close(run.pumpDone)
		s.clearRun(run)
		cancel()
		return err
	}
	run.setStream(stream)

	chunker := audio.NewChunker(s.chunkSamples, s.recognizer.SendAudio)
	go s.pump(runCtx, run, stream, chunker)

	return nil
}

// Stop ends the running session and returns the aggregated transcript.
// It closes the audio source, waits for the pump to emit the terminal
// chunk, asks the recognizer to stop, and blocks until the session
// reaches a terminal state or ctx expires. The result is returned even
// when the session failed; the failure is the returned error.
func (s *DictationService) Stop(ctx context.Context) (DictationResult, error) {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()
	if run == nil {
		return DictationResult{}, ErrNoActiveDictation
	}
	if err := run.closeStream(); err != nil {
		s.logger.Debug("closing audio source", zap.Error(err))
	}
	return s.finish(ctx, run)
}

// Wait blocks until the source drains on its own, usually a file or
// stdin hitting EOF, and returns the aggregated transcript. On a live
// source that never ends it blocks until ctx expires.
func (s *DictationService) Wait(ctx context.Context) (DictationResult, error) {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()
	if run == nil {
		return DictationResult{}, ErrNoActiveDictation
	}
	return s.finish(ctx, run)
}

// finish drives a run to its end: pump drained, source released,
// recognizer stopped, terminal state reached. Each step is bounded by
// ctx; an expired ctx abandons the remaining waits and tears the
// session down hard.
func (s *DictationService) finish(ctx context.Context, run *dictationRun) (DictationResult, error) {
	select {
	case <-run.pumpDone:
	case <-ctx.Done():
		run.cancel()
	}

	// Closing after the pump ends releases the capture process; a
	// decode failure the stream hid until exit surfaces here. In the
	// abandoned case it also unblocks the pump's pending read.
	closeErr := run.closeStream()

	// The pump stops the recognizer when it drains; this covers the
	// path where the pump was abandoned above.
	if err := s.recognizer.Stop(); err != nil {
		s.logger.Debug("recognizer stop", zap.Error(err))
	}

	select {
	case <-run.terminal:
	case <-ctx.Done():
		s.logger.Warn("abandoning wait for final result", zap.Error(ctx.Err()))
		s.recognizer.Disconnect()
	}

	if run.lastState() == entities.SessionError {
		s.recognizer.Disconnect()
	}
	run.cancel()
	s.clearRun(run)

	result, failure := run.snapshot()
	if failure != nil {
		return result, failure
	}
	if err := run.pumpFailure(); err != nil {
		return result, err
	}
	return result, closeErr
}

// Abort discards the running session without waiting for results.
func (s *DictationService) Abort() error {
	s.mu.Lock()
	run := s.current
	s.current = nil
	s.mu.Unlock()
	if run == nil {
		return ErrNoActiveDictation
	}
	s.abortRun(run)
	return nil
}

// pump feeds the source into the chunker until it drains, then asks
// the recognizer to stop so the trailing definite result gets flushed.
func (s *DictationService) pump(ctx context.Context, run *dictationRun, stream io.Reader, chunker *audio.Chunker) {
	defer close(run.pumpDone)

	err := audio.PumpF32LE(ctx, stream, chunker)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, fs.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		// Intentional teardown.
		return
	default:
		s.logger.Warn("audio pump ended early", zap.Error(err))
		run.setPumpErr(err)
	}

	if stopErr := s.recognizer.Stop(); stopErr != nil {
		s.logger.Debug("recognizer stop after drain", zap.Error(stopErr))
	}
}

func (s *DictationService) abortRun(run *dictationRun) {
	run.cancel()
	if err := run.closeStream(); err != nil {
		s.logger.Debug("closing audio source", zap.Error(err))
	}
	s.recognizer.Disconnect()
	<-run.pumpDone
}

func (s *DictationService) clearRun(run *dictationRun) {
	s.mu.Lock()
	if s.current == run {
		s.current = nil
	}
	s.mu.Unlock()
}

func (s *DictationService) currentRun() *dictationRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnPartialResult implements repositories.RecognitionEvents.
func (s *DictationService) OnPartialResult(text string) {
	if run := s.currentRun(); run != nil {
		run.recordText(text)
	}
	if s.observer != nil {
		s.observer.OnPartialResult(text)
	}
}

// OnFinalResult implements repositories.RecognitionEvents.
func (s *DictationService) OnFinalResult(text string, utterances []entities.Utterance) {
	if run := s.currentRun(); run != nil {
		run.recordText(text)
		run.recordUtterances(utterances)
	}
	if s.observer != nil {
		s.observer.OnFinalResult(text, utterances)
	}
}

// OnError implements repositories.RecognitionEvents.
func (s *DictationService) OnError(kind entities.ErrorKind, message string) {
	if run := s.currentRun(); run != nil {
		run.recordFailure(kind, message)
	}
	if s.observer != nil {
		s.observer.OnError(kind, message)
	}
}

// OnStateChange implements repositories.RecognitionEvents.
func (s *DictationService) OnStateChange(state entities.SessionState) {
	if run := s.currentRun(); run != nil {
		run.recordState(state)
	}
	if s.observer != nil {
		s.observer.OnStateChange(state)
	}
}

// dictationRun is the mutable state of one session: the live source
// stream, the pump lifecycle, and the transcript built from callbacks.
type dictationRun struct {
	cancel   context.CancelFunc
	pumpDone chan struct{}

	mu         sync.Mutex
	stream     io.ReadCloser
	state      entities.SessionState
	pieces     []string
	utterances []entities.Utterance
	lastText   string
	failure    *RecognitionFailure
	pumpErr    error

	terminal     chan struct{}
	terminalOnce sync.Once
}

func newDictationRun(cancel context.CancelFunc) *dictationRun {
	return &dictationRun{
		cancel:   cancel,
		pumpDone: make(chan struct{}),
		terminal: make(chan struct{}),
		state:    entities.SessionIdle,
	}
}

func (r *dictationRun) setStream(stream io.ReadCloser) {
	r.mu.Lock()
	r.stream = stream
	r.mu.Unlock()
}

func (r *dictationRun) closeStream() error {
	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Close()
}

func (r *dictationRun) recordText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	r.mu.Lock()
	r.lastText = text
	r.mu.Unlock()
}

func (r *dictationRun) recordUtterances(utterances []entities.Utterance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range utterances {
		if !u.Definite || strings.TrimSpace(u.Text) == "" {
			continue
		}
		// Some engines repeat the latest definite utterance on the
		// next response; keep each segment once.
		if n := len(r.utterances); n > 0 {
			last := r.utterances[n-1]
			if last.Text == u.Text && last.StartTime == u.StartTime && last.EndTime == u.EndTime {
				continue
			}
		}
		r.utterances = append(r.utterances, u)
		r.pieces = append(r.pieces, strings.TrimSpace(u.Text))
	}
}

func (r *dictationRun) recordFailure(kind entities.ErrorKind, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure == nil {
		r.failure = &RecognitionFailure{Kind: kind, Message: message}
	}
}

func (r *dictationRun) recordState(state entities.SessionState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
	if state == entities.SessionIdle || state == entities.SessionError {
		r.terminalOnce.Do(func() { close(r.terminal) })
	}
}

func (r *dictationRun) lastState() entities.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *dictationRun) setPumpErr(err error) {
	r.mu.Lock()
	r.pumpErr = err
	r.mu.Unlock()
}

func (r *dictationRun) pumpFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pumpErr
}

func (r *dictationRun) snapshot() (DictationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	transcript := strings.TrimSpace(strings.Join(r.pieces, " "))
	if transcript == "" {
		transcript = r.lastText
	}
	result := DictationResult{
		Transcript: transcript,
		Utterances: append([]entities.Utterance(nil), r.utterances...),
	}
	if r.failure != nil {
		return result, r.failure
	}
	return result, nil
}
