// Package relay bridges callers that cannot set custom handshake
// headers, typically browsers, to the upstream recognition engine. It
// upgrades the caller's connection, dials the engine with the
// credential headers attached, and forwards frames verbatim in both
// directions. Caller frames that arrive before the upstream handshake
// completes are buffered in arrival order and flushed on open.
package relay

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Jonas1mposter/project-resonance/internal/auth"
	"github.com/Jonas1mposter/project-resonance/internal/config"
	"github.com/Jonas1mposter/project-resonance/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Relay owns the websocket endpoint. One Handle call serves one
// caller connection and its matching upstream connection.
type Relay struct {
	upstream config.UpstreamConfig
	pending  int

	validator *auth.Validator
	registry  *metrics.Metrics
	logger    *zap.Logger

	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

// New builds a relay from the service configuration. The bearer token
// gate is active only when a relay auth secret is configured.
func New(cfg *config.Config, registry *metrics.Metrics, logger *zap.Logger) *Relay {
	var validator *auth.Validator
	if cfg.Relay.AuthSecret != "" {
		validator = auth.NewValidator(cfg.Relay.AuthSecret)
	}
	return &Relay{
		upstream:  cfg.Upstream,
		pending:   cfg.Relay.PendingFrames,
		validator: validator,
		registry:  registry,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser callers connect cross-origin; authentication
				// is the token gate, not the Origin header.
				return true
			},
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Upstream.GetDialTimeoutDuration(),
		},
	}
}

// Handle serves one relay session. It returns once both directions
// have shut down.
func (r *Relay) Handle(c echo.Context) error {
	req := c.Request()

	if r.validator != nil {
		token := bearerToken(req)
		if token == "" {
			r.registry.RecordRejectedRequest("unauthorized")
			return c.JSON(http.StatusUnauthorized, errorResponse{
				Error:   "unauthorized",
				Message: "missing bearer token",
			})
		}
		if _, err := r.validator.Validate(token); err != nil {
			r.registry.RecordRejectedRequest("unauthorized")
			return c.JSON(http.StatusUnauthorized, errorResponse{
				Error:   "unauthorized",
				Message: "invalid bearer token",
			})
		}
	}

	if !websocket.IsWebSocketUpgrade(req) {
		r.registry.RecordRejectedRequest("missing_upgrade")
		return c.JSON(http.StatusUpgradeRequired, errorResponse{
			Error:   "upgrade_required",
			Message: "this endpoint only accepts websocket connections",
		})
	}

	if !r.upstream.HasCredentials() {
		r.registry.RecordRejectedRequest("missing_credentials")
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Error:   "configuration",
			Message: "upstream credentials are not configured",
		})
	}

	caller, err := r.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		// The upgrader has already written its own response.
		return nil
	}

	resourceID := c.QueryParam("resource_id")
	if resourceID == "" {
		resourceID = r.upstream.ResourceID
	}

	session := &session{
		id:           uuid.NewString(),
		relay:        r,
		caller:       caller,
		pendingLimit: r.pending,
		done:         make(chan struct{}),
	}
	session.logger = r.logger.With(zap.String("sessionId", session.id))

	r.registry.RecordSessionStarted()
	defer r.registry.RecordSessionEnded()

	session.run(resourceID)
	return nil
}

func bearerToken(req *http.Request) string {
	if token := req.URL.Query().Get("token"); token != "" {
		return token
	}
	header := req.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// pendingFrame is one caller frame held until the upstream opens. The
// payload is an independent copy so it stays valid however long the
// handshake takes.
type pendingFrame struct {
	messageType int
	data        []byte
}

// session relays one caller connection. The mutex serializes all
// upstream writes, which is what keeps the pre-open buffer flush and
// steady-state forwarding in arrival order; caller writes have their
// own lock since only control frames and the upstream read loop touch
// that direction.
type session struct {
	id     string
	relay  *Relay
	logger *zap.Logger

	caller *websocket.Conn
	done   chan struct{}

	mu           sync.Mutex
	upstream     *websocket.Conn
	pending      []pendingFrame
	pendingLimit int
	closed       bool

	callerWriteMu sync.Mutex
	closeOnce     sync.Once
}

func (s *session) run(resourceID string) {
	defer s.shutdown()

	s.logger.Info("Relay session started",
		zap.String("resourceId", resourceID))

	s.caller.SetReadLimit(maxMessageSize)
	_ = s.caller.SetReadDeadline(time.Now().Add(pongWait))
	s.caller.SetPongHandler(func(string) error {
		return s.caller.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.dialUpstream(resourceID)
	go s.pingCaller()

	s.callerReadLoop()
}

// dialUpstream opens the authenticated engine connection while caller
// traffic is already flowing, then flushes whatever queued up.
func (s *session) dialUpstream(resourceID string) {
	headers := http.Header{}
	headers.Set("X-Api-App-Key", s.relay.upstream.AppKey)
	headers.Set("X-Api-Access-Key", s.relay.upstream.AccessKey)
	headers.Set("X-Api-Resource-Id", resourceID)
	headers.Set("X-Api-Connect-Id", s.id)

	start := time.Now()
	conn, _, err := s.relay.dialer.Dial(s.relay.upstream.Endpoint, headers)
	s.relay.registry.RecordUpstreamDial(time.Since(start).Seconds(), err != nil)
	if err != nil {
		s.logger.Error("Upstream dial failed", zap.Error(err))
		s.closeCaller(websocket.CloseInternalServerErr, "upstream connection failed")
		s.shutdown()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.upstream = conn
	queued := s.pending
	s.pending = nil
	for _, frame := range queued {
		if err := s.writeUpstreamLocked(conn, frame.messageType, frame.data); err != nil {
			s.mu.Unlock()
			s.logger.Error("Failed to flush buffered frames", zap.Error(err))
			s.closeCaller(websocket.CloseInternalServerErr, "upstream connection failed")
			s.shutdown()
			return
		}
	}
	s.mu.Unlock()

	s.relay.registry.RecordPendingFlush(len(queued))
	s.logger.Info("Upstream connected",
		zap.Duration("dialTime", time.Since(start)),
		zap.Int("flushedFrames", len(queued)))

	go s.upstreamReadLoop(conn)
}

// callerReadLoop forwards caller frames to the upstream, buffering
// while the upstream handshake is still in flight.
func (s *session) callerReadLoop() {
	for {
		messageType, data, err := s.caller.ReadMessage()
		if err != nil {
			s.propagateCallerClose(err)
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if s.upstream == nil {
			if len(s.pending) >= s.pendingLimit {
				s.mu.Unlock()
				s.logger.Warn("Pending buffer full before upstream open",
					zap.Int("limit", s.pendingLimit))
				s.closeCaller(websocket.ClosePolicyViolation, "pending buffer overflow")
				s.shutdown()
				return
			}
			s.pending = append(s.pending, pendingFrame{
				messageType: messageType,
				data:        append([]byte(nil), data...),
			})
			s.mu.Unlock()
			continue
		}
		err = s.writeUpstreamLocked(s.upstream, messageType, data)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("Failed to forward frame upstream", zap.Error(err))
			s.closeCaller(websocket.CloseInternalServerErr, "upstream connection failed")
			s.shutdown()
			return
		}
	}
}

func (s *session) writeUpstreamLocked(conn *websocket.Conn, messageType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(messageType, data); err != nil {
		return err
	}
	s.relay.registry.RecordFrameRelayed(metrics.DirectionInbound, len(data))
	return nil
}

// upstreamReadLoop forwards engine frames back to the caller.
func (s *session) upstreamReadLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.propagateUpstreamClose(err)
			return
		}

		s.callerWriteMu.Lock()
		_ = s.caller.SetWriteDeadline(time.Now().Add(writeWait))
		writeErr := s.caller.WriteMessage(messageType, data)
		s.callerWriteMu.Unlock()
		if writeErr != nil {
			s.logger.Warn("Failed to forward frame to caller", zap.Error(writeErr))
			s.closeUpstream(websocket.CloseNormalClosure, "caller gone")
			s.shutdown()
			return
		}
		s.relay.registry.RecordFrameRelayed(metrics.DirectionOutbound, len(data))
	}
}

func (s *session) pingCaller() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.callerWriteMu.Lock()
			_ = s.caller.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.caller.WriteMessage(websocket.PingMessage, nil)
			s.callerWriteMu.Unlock()
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// propagateCallerClose mirrors the caller's close onto the upstream.
func (s *session) propagateCallerClose(err error) {
	code, text := closeStatus(err)
	s.logger.Info("Caller closed", zap.Int("code", code), zap.String("reason", text))
	s.closeUpstream(code, text)
	s.shutdown()
}

// propagateUpstreamClose mirrors the upstream's close onto the caller.
func (s *session) propagateUpstreamClose(err error) {
	code, text := closeStatus(err)
	s.logger.Info("Upstream closed", zap.Int("code", code), zap.String("reason", text))
	s.closeCaller(code, text)
	s.shutdown()
}

// closeStatus maps a read error to the close code sent to the other
// side. Abnormal transport failures become an internal error status.
func closeStatus(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code := closeErr.Code
		if code == websocket.CloseNoStatusReceived {
			code = websocket.CloseNormalClosure
		}
		return code, closeErr.Text
	}
	return websocket.CloseInternalServerErr, "connection lost"
}

func (s *session) closeCaller(code int, reason string) {
	s.callerWriteMu.Lock()
	defer s.callerWriteMu.Unlock()
	_ = s.caller.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.caller.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason))
}

func (s *session) closeUpstream(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upstream == nil {
		return
	}
	_ = s.upstream.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.upstream.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason))
}

// shutdown closes both connections and releases the session. Safe to
// call from any goroutine, any number of times.
func (s *session) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		upstream := s.upstream
		dropped := len(s.pending)
		s.pending = nil
		s.mu.Unlock()

		close(s.done)
		if upstream != nil {
			_ = upstream.Close()
		}
		_ = s.caller.Close()

		if dropped > 0 {
			s.logger.Warn("Session ended with frames still buffered",
				zap.Int("dropped", dropped))
		}
		s.logger.Info("Relay session ended")
	})
}
