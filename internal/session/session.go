// Package session implements the client side of a real-time chat
// channel: one WebSocket connection with automatic reconnection, a
// paginated message window, keep-alive pings and viewport coordination.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/soratobu/chatstream/internal/domain"
	"github.com/soratobu/chatstream/internal/token"
	"github.com/soratobu/chatstream/pkg/log"
)

// State is the connection lifecycle of one session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnectWait
	StateClosed
	StateGivenUp
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnectWait:
		return "reconnect_wait"
	case StateClosed:
		return "closed"
	case StateGivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by Send when no connection is open.
	// The message is dropped, not queued; a connect attempt is kicked
	// off instead.
	ErrNotConnected = errors.New("session: not connected")
)

// Conn is the subset of *websocket.Conn the session uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a WebSocket connection.
type DialFunc func(ctx context.Context, urlStr string) (Conn, error)

func gorillaDial(ctx context.Context, urlStr string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, urlStr, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// timerHandle lets tests fake the reconnect timer.
type timerHandle interface {
	Stop() bool
}

type scheduleFunc func(d time.Duration, f func()) timerHandle

func stdSchedule(d time.Duration, f func()) timerHandle {
	return time.AfterFunc(d, f)
}

// Config are the per-session policy knobs.
type Config struct {
	Endpoint             string
	ChannelID            string
	PageSize             int
	MaxReconnectAttempts int
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	ReconnectJitter      time.Duration
	PingInterval         time.Duration
	WriteWait            time.Duration
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 50
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 16 * time.Second
	}
	if c.ReconnectJitter < 0 {
		c.ReconnectJitter = 0
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
}

// Session owns exactly one logical connection for an (endpoint,
// channel) pair. All transitions are serialized under one mutex; the
// read loop, ping ticker and reconnect timer funnel through it.
type Session struct {
	cfg      Config
	tokens   token.Provider
	marker   ReadMarker
	window   *Window
	backoff  Backoff
	logger   zerolog.Logger
	dial     DialFunc
	schedule scheduleFunc

	onMessage func(domain.Message)
	onState   func(State)

	mu       sync.Mutex
	state    State
	conn     Conn
	attempts int
	epoch    uint64
	timer    timerHandle
	connDone chan struct{}
	subject  string

	// serializes frames from Send and the ping ticker
	writeMu sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d DialFunc) Option {
	return func(s *Session) { s.dial = d }
}

// WithMessageHandler registers a callback for every accepted inbound
// message.
func WithMessageHandler(f func(domain.Message)) Option {
	return func(s *Session) { s.onMessage = f }
}

// WithStateHandler registers a callback for state transitions.
func WithStateHandler(f func(State)) Option {
	return func(s *Session) { s.onState = f }
}

func withScheduler(f scheduleFunc) Option {
	return func(s *Session) { s.schedule = f }
}

func withJitterSource(r func() float64) Option {
	return func(s *Session) { s.backoff.rand = r }
}

// New creates a session for one channel. Nothing connects until
// Connect is called.
func New(cfg Config, tokens token.Provider, fetcher HistoryFetcher, marker ReadMarker, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		cfg:      cfg,
		tokens:   tokens,
		marker:   marker,
		backoff:  NewBackoff(cfg.ReconnectBase, cfg.ReconnectCap, cfg.ReconnectJitter),
		logger:   log.L(),
		dial:     gorillaDial,
		schedule: stdSchedule,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str(log.FieldChannelID, cfg.ChannelID).Logger()
	s.window = NewWindow(cfg.ChannelID, fetcher, marker, cfg.PageSize, s.logger)
	return s
}

// Window exposes the session's message window.
func (s *Session) Window() *Window {
	return s.window
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the socket is open and usable for sends.
func (s *Session) Connected() bool {
	return s.State() == StateOpen
}

// Subject returns the token subject of the last successful connect.
// A correlation hint only; the server owns the identity check.
func (s *Session) Subject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subject
}

// Attempts returns the reconnect counter since the last successful
// open.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Connect opens the connection. No-op while an attempt is in flight or
// a connection is open, and while endpoint or channel are absent (not
// ready yet, not an error). A failed token retrieval or dial schedules
// a reconnect with the same backoff policy as a dropped connection.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return nil
	}
	if s.cfg.Endpoint == "" || s.cfg.ChannelID == "" {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	idToken, err := s.tokens.IDToken(ctx)
	if err != nil {
		s.connectFailed(fmt.Errorf("obtain token: %w", err))
		return err
	}
	subject, err := token.Subject(idToken)
	if err != nil {
		s.connectFailed(fmt.Errorf("decode token: %w", err))
		return err
	}

	q := url.Values{}
	q.Set("channelId", s.cfg.ChannelID)
	q.Set("userId", subject)
	wsURL := s.cfg.Endpoint + "?" + q.Encode()

	conn, err := s.dial(ctx, wsURL)
	if err != nil {
		s.connectFailed(fmt.Errorf("dial %s: %w", s.cfg.Endpoint, err))
		return err
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// closed while dialing
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.subject = subject
	s.attempts = 0
	s.epoch++
	s.connDone = make(chan struct{})
	epoch, done := s.epoch, s.connDone
	s.setStateLocked(StateOpen)
	s.mu.Unlock()

	s.logger.Info().Str(log.FieldUserID, subject).Msg("connected")

	go s.readLoop(conn, epoch)
	go s.pingLoop(conn, done)
	go s.window.LoadInitial(log.WithLogger(context.Background(), s.logger))

	return nil
}

// Close tears the session down: socket closed, reconnect timer
// cancelled, attempt counter reset. Terminal until Connect is called
// again explicitly.
func (s *Session) Close() {
	s.mu.Lock()
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.connDone != nil {
		close(s.connDone)
		s.connDone = nil
	}
	conn := s.conn
	s.conn = nil
	s.attempts = 0
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.logger.Info().Msg("session closed")
}

// Send transmits chat text over the open connection. While
// disconnected the text is dropped, a warning logged and a connect
// attempt started instead.
func (s *Session) Send(text, userID string) error {
	s.mu.Lock()
	if s.state != StateOpen || s.conn == nil {
		s.mu.Unlock()
		s.logger.Warn().Msg("send while disconnected, reconnecting instead")
		go s.Connect(context.Background())
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	frame := domain.BroadcastFrame{
		Action:  domain.ActionBroadcast,
		Message: text,
		UserID:  userID,
	}
	if err := s.writeJSON(conn, frame); err != nil {
		s.logger.Error().Err(err).Msg("send failed")
		// let the read loop observe the closed socket and reschedule
		conn.Close()
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (s *Session) writeJSON(conn Conn, v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	return conn.WriteJSON(v)
}

func (s *Session) readLoop(conn Conn, epoch uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(epoch, err)
			return
		}
		s.handleFrame(data)
	}
}

func (s *Session) handleFrame(data []byte) {
	frame, ok, err := domain.ParseInbound(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("malformed frame dropped")
		return
	}
	if !ok {
		// unknown shape, tolerated and ignored
		return
	}
	if frame.IsPong() {
		s.logger.Debug().Msg("pong received")
		return
	}
	if !s.window.Append(frame.Message) {
		return
	}
	ctx := log.WithLogger(context.Background(), s.logger)
	s.marker.MarkRead(ctx, s.cfg.ChannelID)
	if s.onMessage != nil {
		s.onMessage(frame.Message)
	}
}

func (s *Session) pingLoop(conn Conn, done chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.writeJSON(conn, domain.PingFrame{Action: domain.ActionPing}); err != nil {
				s.logger.Error().Err(err).Msg("ping failed")
				conn.Close()
				return
			}
		}
	}
}

// handleClose runs when the read loop observes a closed socket. Stale
// epochs (a newer connection already exists, or Close ran) are ignored.
func (s *Session) handleClose(epoch uint64, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.state == StateClosed {
		return
	}
	s.logger.Warn().Err(cause).Msg("connection closed")
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.connDone != nil {
		close(s.connDone)
		s.connDone = nil
	}
	s.scheduleReconnectLocked()
}

func (s *Session) connectFailed(err error) {
	s.logger.Error().Err(err).Msg("connect failed")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return
	}
	s.scheduleReconnectLocked()
}

func (s *Session) scheduleReconnectLocked() {
	if s.attempts >= s.cfg.MaxReconnectAttempts {
		s.setStateLocked(StateGivenUp)
		s.logger.Error().Int(log.FieldAttempt, s.attempts).Msg("reconnect attempts exhausted")
		return
	}

	delay := s.backoff.Delay(s.attempts)
	s.attempts++
	attempt := s.attempts
	s.setStateLocked(StateReconnectWait)
	s.logger.Info().
		Int(log.FieldAttempt, attempt).
		Dur("delay", delay).
		Msg("reconnect scheduled")

	s.timer = s.schedule(delay, func() {
		s.mu.Lock()
		if s.state != StateReconnectWait {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		s.Connect(context.Background())
	})
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.state = next
	if s.onState != nil {
		go s.onState(next)
	}
}
