// Package volcengine implements the streaming speech recognition
// client for the Volcengine bigmodel ASR service. The wire protocol
// lives in the protocol subpackage; this package owns the websocket
// transport, the session lifecycle, and callback dispatch.
package volcengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Jonas1mposter/project-resonance/adapters/volcengine/protocol"
	"github.com/Jonas1mposter/project-resonance/domain/entities"
	"github.com/Jonas1mposter/project-resonance/domain/repositories"
)

const (
	// DefaultEndpoint is the production streaming recognition endpoint.
	DefaultEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel"

	// DefaultResourceID selects duration-billed streaming recognition.
	DefaultResourceID = "volc.bigasr.sauc.duration"

	// DefaultStopTimeout bounds how long Stop waits for the trailing
	// definite result before giving up on the session.
	DefaultStopTimeout = 8 * time.Second

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound frames queued ahead of the transport writer. At 256 ms
	// per chunk this buffers several seconds of audio before SendAudio
	// starts applying backpressure.
	sendQueueSize = 32

	// Consecutive undecodable or unparseable frames tolerated before
	// the connection is treated as broken.
	maxProtocolFailures = 5
)

// Config carries the connection settings for one client. Zero values
// fall back to the production defaults; AppKey and AccessKey may stay
// empty when dialing a relay that injects credentials itself.
type Config struct {
	Endpoint    string
	ResourceID  string
	AppKey      string
	AccessKey   string
	StopTimeout time.Duration
}

// Client is a streaming recognizer backed by one websocket connection
// at a time. Connect replaces any previous connection; SendAudio, Stop
// and Disconnect act on the current one. Results and failures are
// delivered through the RecognitionEvents observer.
type Client struct {
	cfg    Config
	events repositories.RecognitionEvents
	logger *zap.Logger

	mu     sync.Mutex
	active *liveSession
}

var _ repositories.SpeechRecognizer = (*Client)(nil)

// NewClient creates a client. A nil events observer disables callbacks
// and a nil logger disables logging.
func NewClient(cfg Config, events repositories.RecognitionEvents, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.ResourceID == "" {
		cfg.ResourceID = DefaultResourceID
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if events == nil {
		events = noopEvents{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		events: events,
		logger: logger,
	}
}

// Connect dials the recognition endpoint and sends the configuration
// frame. It returns once both have succeeded, so the first audio chunk
// may follow immediately. An existing session is torn down first.
//
// On failure the session is left in the error state and the error is
// also delivered through the observer; Disconnect returns it to idle.
func (c *Client) Connect(ctx context.Context, config entities.RecognitionConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid recognition config: %w", err)
	}
	if config.UID == "" {
		config.UID = uuid.NewString()
	}

	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.mu.Unlock()
	if prev != nil {
		c.logger.Warn("Replacing an existing recognition session")
		prev.teardown()
	}

	state := entities.NewRecognitionSession(config)
	if err := state.Begin(); err != nil {
		return err
	}

	s := &liveSession{
		client:      c,
		state:       state,
		events:      c.events,
		logger:      c.logger,
		stopTimeout: c.cfg.StopTimeout,
		send:        make(chan []byte, sendQueueSize),
		done:        make(chan struct{}),
	}
	s.emitState(entities.SessionConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.retainFailed(s)
		s.failAndClose(entities.ErrorConnection, fmt.Sprintf("failed to connect: %v", err))
		return fmt.Errorf("failed to connect to recognition service: %w", err)
	}
	s.conn = conn

	frame, err := protocol.EncodeConfigFrame(configPayload(config))
	if err != nil {
		c.retainFailed(s)
		s.failAndClose(entities.ErrorProtocol, fmt.Sprintf("failed to encode config: %v", err))
		return fmt.Errorf("failed to encode configuration frame: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.retainFailed(s)
		s.failAndClose(entities.ErrorConnection, fmt.Sprintf("failed to send config: %v", err))
		return fmt.Errorf("failed to send configuration frame: %w", err)
	}

	if err := state.Open(); err != nil {
		s.shutdown()
		return err
	}
	s.emitState(entities.SessionConnected)

	c.mu.Lock()
	c.active = s
	c.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.readLoop()
	go s.writeLoop()

	c.logger.Info("Recognition session connected",
		zap.String("endpoint", c.cfg.Endpoint),
		zap.String("model", config.ModelName))
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	if c.cfg.AppKey != "" && c.cfg.AccessKey != "" {
		headers.Set("X-Api-App-Key", c.cfg.AppKey)
		headers.Set("X-Api-Access-Key", c.cfg.AccessKey)
		headers.Set("X-Api-Resource-Id", c.cfg.ResourceID)
		headers.Set("X-Api-Connect-Id", uuid.NewString())
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.Endpoint, headers)
	return conn, err
}

// retainFailed keeps a session that failed during Connect as the
// active one so Disconnect can reset it to idle, matching how
// asynchronous failures are left for the caller to acknowledge.
func (c *Client) retainFailed(s *liveSession) {
	c.mu.Lock()
	c.active = s
	c.mu.Unlock()
}

// SendAudio queues one chunk for transmission. Chunks sent without a
// connected session are dropped with a warning rather than failing the
// producer. The call blocks only when the outbound queue is full.
func (c *Client) SendAudio(chunk entities.AudioChunk) error {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		c.logger.Warn("Dropping audio chunk without an active session",
			zap.Int("samples", chunk.Samples()))
		return nil
	}
	return s.sendAudio(chunk)
}

// Stop sends the terminal audio frame and waits in the background for
// the trailing definite result. If none arrives within StopTimeout the
// observer gets a timeout error and the session is disconnected.
func (c *Client) Stop() error {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return errors.New("no active recognition session")
	}
	return s.beginStop()
}

// Disconnect tears down the current session, returning it to idle. It
// is safe to call at any time, repeatedly. No events are delivered
// after it returns apart from the terminal idle state change it emits
// itself.
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()
	if s != nil {
		s.teardown()
	}
}

// disconnectSession ends a specific session, used by the read loop and
// the stop timer so a concurrent Connect cannot be torn down by a
// stale session's cleanup.
func (c *Client) disconnectSession(s *liveSession) {
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()
	s.teardown()
}

func configPayload(config entities.RecognitionConfig) protocol.ConfigPayload {
	return protocol.ConfigPayload{
		User: protocol.UserConfig{UID: config.UID},
		Audio: protocol.AudioConfig{
			Format:   "pcm",
			Rate:     config.SampleRate,
			Bits:     config.Bits,
			Channel:  config.Channels,
			Language: config.Language,
		},
		Request: protocol.RequestConfig{
			ModelName:          config.ModelName,
			EnableITN:          config.EnableITN,
			EnablePunc:         config.EnablePunc,
			ResultType:         config.ResultType,
			VadSegmentDuration: config.VadSegmentDuration,
		},
	}
}

// liveSession binds one websocket connection to one recognition
// session. The read loop owns inbound frames, the write loop owns the
// connection for writes, and the silenced flag cuts callback delivery
// the moment teardown starts.
type liveSession struct {
	client *Client
	conn   *websocket.Conn
	state  *entities.RecognitionSession
	events repositories.RecognitionEvents
	logger *zap.Logger

	stopTimeout time.Duration

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	silenced  atomic.Bool

	stopMu    sync.Mutex
	stopping  bool
	stopTimer *time.Timer
}

func (s *liveSession) sendAudio(chunk entities.AudioChunk) error {
	if !s.state.CanSendAudio() {
		s.logger.Warn("Dropping audio chunk outside an open session",
			zap.String("state", string(s.state.State())),
			zap.Int("samples", chunk.Samples()))
		return nil
	}

	if s.state.State() == entities.SessionConnected {
		if err := s.state.StartRecognizing(); err == nil {
			s.emitState(entities.SessionRecognizing)
		}
	}

	var frame []byte
	if chunk.Last {
		frame = protocol.EncodeAudioFrame(chunk.Data, s.state.FinalSequence(), true)
	} else {
		frame = protocol.EncodeAudioFrame(chunk.Data, s.state.NextSequence(), false)
	}

	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return errors.New("session closed while sending audio")
	}
}

func (s *liveSession) beginStop() error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stopping {
		return nil
	}
	if !s.state.CanSendAudio() && !s.state.Closed() {
		return fmt.Errorf("cannot stop a session in state %s", s.state.State())
	}
	s.stopping = true

	// The terminal frame may already be on the wire if the producer
	// flagged its last chunk; in that case only the wait remains.
	if !s.state.Closed() {
		frame := protocol.EncodeAudioFrame(nil, s.state.FinalSequence(), true)
		select {
		case s.send <- frame:
		case <-s.done:
			return errors.New("session closed while stopping")
		}
	}

	s.stopTimer = time.AfterFunc(s.stopTimeout, s.onStopTimeout)
	return nil
}

func (s *liveSession) isStopping() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	return s.stopping
}

func (s *liveSession) onStopTimeout() {
	if s.silenced.Load() {
		return
	}
	s.logger.Warn("Timed out waiting for the final recognition result",
		zap.Duration("timeout", s.stopTimeout))
	s.events.OnError(entities.ErrorTimeout, "timed out waiting for the final recognition result")
	s.client.disconnectSession(s)
}

// readLoop decodes inbound frames and dispatches server events until
// the connection ends. Malformed frames are dropped; a run of them
// means the stream is misaligned and the connection is failed instead.
func (s *liveSession) readLoop() {
	defer s.shutdown()

	failures := 0
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.silenced.Load() {
				return
			}
			if s.isStopping() && websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// The stop timer resolves sessions the server closes
				// without a trailing definite result.
				return
			}
			s.failAndClose(entities.ErrorConnection, fmt.Sprintf("connection lost: %v", err))
			return
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			failures++
			s.logger.Warn("Dropping undecodable frame",
				zap.Error(err),
				zap.Int("consecutiveFailures", failures))
			if failures >= maxProtocolFailures {
				s.failAndClose(entities.ErrorProtocol, "persistent protocol failures on the connection")
				return
			}
			continue
		}

		event, err := protocol.ParseServerEvent(frame)
		if err != nil {
			failures++
			s.logger.Warn("Dropping unusable server frame",
				zap.Stringer("messageType", frame.Type),
				zap.Error(err))
			if failures >= maxProtocolFailures {
				s.failAndClose(entities.ErrorProtocol, "persistent protocol failures on the connection")
				return
			}
			continue
		}
		failures = 0

		s.dispatch(event)
	}
}

func (s *liveSession) dispatch(event *protocol.ServerEvent) {
	switch event.Kind {
	case protocol.EventAck:
		s.logger.Debug("Server acknowledged audio",
			zap.Int32("sequence", event.Sequence))
	case protocol.EventPartial:
		if !s.silenced.Load() {
			s.events.OnPartialResult(event.Text)
		}
	case protocol.EventFinal:
		if !s.silenced.Load() {
			s.events.OnFinalResult(event.Text, event.Utterances)
		}
		if s.isStopping() {
			s.client.disconnectSession(s)
		}
	case protocol.EventServiceError:
		s.failAndClose(entities.ErrorService,
			fmt.Sprintf("server error %d: %s", event.Code, event.Message))
	}
}

// writeLoop is the only writer on the connection after Connect
// returns. It drains the outbound queue and keeps the connection
// alive with pings.
func (s *liveSession) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				if !s.silenced.Load() {
					s.failAndClose(entities.ErrorConnection, fmt.Sprintf("failed to send audio: %v", err))
				}
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !s.silenced.Load() {
					s.failAndClose(entities.ErrorConnection, fmt.Sprintf("failed to ping server: %v", err))
				}
				return
			}
		case <-s.done:
			return
		}
	}
}

// failAndClose reports one failure and closes the transport. The
// session stays in the error state until Disconnect; the Fail gate
// makes sure concurrent failures produce a single error callback.
func (s *liveSession) failAndClose(kind entities.ErrorKind, message string) {
	if s.silenced.Load() {
		s.shutdown()
		return
	}
	if s.state.Fail() {
		s.logger.Error("Recognition session failed",
			zap.String("kind", string(kind)),
			zap.String("detail", message))
		s.events.OnStateChange(entities.SessionError)
		s.events.OnError(kind, message)
	}
	s.shutdown()
}

// teardown ends the session and resets it to idle. Only the terminal
// idle state change is delivered; everything else is silenced first.
func (s *liveSession) teardown() {
	if s.silenced.Swap(true) {
		return
	}
	s.shutdown()
	s.state.Reset()
	s.events.OnStateChange(entities.SessionIdle)
}

// shutdown closes the transport and stops both loops. Safe to call
// from any goroutine, any number of times.
func (s *liveSession) shutdown() {
	s.closeOnce.Do(func() {
		s.stopMu.Lock()
		if s.stopTimer != nil {
			s.stopTimer.Stop()
		}
		s.stopMu.Unlock()
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *liveSession) emitState(state entities.SessionState) {
	if s.silenced.Load() {
		return
	}
	s.events.OnStateChange(state)
}

type noopEvents struct{}

func (noopEvents) OnPartialResult(string)                     {}
func (noopEvents) OnFinalResult(string, []entities.Utterance) {}
func (noopEvents) OnError(entities.ErrorKind, string)         {}
func (noopEvents) OnStateChange(entities.SessionState)        {}
