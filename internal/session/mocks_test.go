package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/soratobu/chatstream/internal/domain"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// testMessages builds n messages with strictly increasing timestamps,
// starting at sequence number seq.
func testMessages(channelID string, seq, n int) []domain.Message {
	out := make([]domain.Message, n)
	for i := 0; i < n; i++ {
		out[i] = domain.Message{
			MessageID: fmt.Sprintf("msg-%06d", seq+i),
			ChannelID: channelID,
			UserID:    "peer",
			Content:   fmt.Sprintf("message %d", seq+i),
			Timestamp: fmt.Sprintf("2024-05-01T00:00:00.%09dZ", seq+i),
		}
	}
	return out
}

type fetchCall struct {
	channelID string
	before    string
	limit     int
}

// fakeFetcher scripts history pages in order and records every call.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []fetchCall
	pages []func(fetchCall) (*domain.MessageResponse, error)
	gate  chan struct{} // when set, fetches block until the gate closes
}

func (f *fakeFetcher) FetchMessages(ctx context.Context, channelID string, params *domain.MessageParams) (*domain.MessageResponse, error) {
	call := fetchCall{channelID: channelID}
	if params != nil {
		if params.Before != nil {
			call.before = *params.Before
		}
		if params.Limit != nil {
			call.limit = *params.Limit
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	var page func(fetchCall) (*domain.MessageResponse, error)
	if len(f.pages) > 0 {
		page = f.pages[0]
		f.pages = f.pages[1:]
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if page == nil {
		return &domain.MessageResponse{}, nil
	}
	return page(call)
}

func (f *fakeFetcher) queue(messages []domain.Message, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, func(fetchCall) (*domain.MessageResponse, error) {
		if err != nil {
			return nil, err
		}
		return &domain.MessageResponse{Messages: messages}, nil
	})
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeMarker struct {
	mu    sync.Mutex
	calls []string
}

func (m *fakeMarker) MarkRead(ctx context.Context, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, channelID)
}

func (m *fakeMarker) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// fakeConn is a scriptable Conn: frames pushed to deliver show up from
// ReadMessage, writes are recorded.
type fakeConn struct {
	deliver chan []byte
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	writes   []interface{}
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		deliver: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.deliver:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interface{}, len(c.writes))
	copy(out, c.writes)
	return out
}

// fakeScheduler captures reconnect timers so tests fire them manually.
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

type fakeTimer struct{ stopped bool }

func (t *fakeTimer) Stop() bool { return !t.stopped }

func (s *fakeScheduler) schedule(d time.Duration, f func()) timerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, f)
	return &fakeTimer{}
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// fireLast runs the most recently scheduled callback.
func (s *fakeScheduler) fireLast(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	require.NotEmpty(t, s.fns, "no reconnect scheduled")
	fn := s.fns[len(s.fns)-1]
	s.mu.Unlock()
	fn()
}

func (s *fakeScheduler) lastDelay(t *testing.T) time.Duration {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.delays, "no reconnect scheduled")
	return s.delays[len(s.delays)-1]
}

// unsignedToken builds a JWT-shaped token whose payload carries sub.
func unsignedToken(t *testing.T, sub string) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]string{"sub": sub})
	require.NoError(t, err)
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "."
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", msg)
}
