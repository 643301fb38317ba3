// Package devserver is a local, in-memory stand-in for the chat
// backend: the WebSocket fan-out plus the history and read-mark REST
// endpoints. It exists so the client can be exercised end to end
// without real infrastructure.
package devserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/soratobu/chatstream/internal/domain"
	"github.com/soratobu/chatstream/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	defaultLimit = 100
	maxLimit     = 100
)

type client struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

func (c *client) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Server serves the dev backend: WS on /ws, REST under /.
type Server struct {
	store *Store

	mu       sync.RWMutex
	channels map[string]map[*client]struct{}
}

func NewServer(store *Store) *Server {
	return &Server{
		store:    store,
		channels: make(map[string]map[*client]struct{}),
	}
}

// Handler builds the combined HTTP handler.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", func(c *gin.Context) {
		s.handleWebSocket(c.Writer, c.Request)
	})
	r.GET("/messages/:channel_id", s.getMessages)
	r.POST("/messages/:channel_id/read", s.markRead)
	r.GET("/users/channels", s.listChannels)
	r.GET("/users/messages/:channel_id", s.channelAccess)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channelId")
	userID := r.URL.Query().Get("userId")
	if channelID == "" {
		http.Error(w, "channelId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	cl := &client{conn: conn, userID: userID}
	s.join(channelID, cl)
	defer func() {
		s.leave(channelID, cl)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(channelID, cl, data)
	}
}

func (s *Server) handleFrame(channelID string, cl *client, data []byte) {
	var frame struct {
		Action  string `json:"action"`
		Message string `json:"message"`
		UserID  string `json:"userId"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldChannelID, channelID).Msg("bad frame")
		return
	}

	switch frame.Action {
	case domain.ActionBroadcast:
		msg := s.store.Add(channelID, frame.UserID, frame.Message)
		s.broadcast(channelID, msg)
	case domain.ActionPing:
		cl.write(map[string]string{"type": domain.FrameTypePong})
	}
}

func (s *Server) broadcast(channelID string, msg domain.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for cl := range s.channels[channelID] {
		if err := cl.write(msg); err != nil {
			l := log.L()
			l.Debug().Err(err).Str(log.FieldChannelID, channelID).Msg("broadcast write failed")
		}
	}
}

func (s *Server) join(channelID string, cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[channelID] == nil {
		s.channels[channelID] = make(map[*client]struct{})
	}
	s.channels[channelID][cl] = struct{}{}
}

func (s *Server) leave(channelID string, cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels[channelID], cl)
	if len(s.channels[channelID]) == 0 {
		delete(s.channels, channelID)
	}
}

func (s *Server) getMessages(c *gin.Context) {
	channelID := c.Param("channel_id")
	before := c.Query("before")

	limit := defaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
		if limit > maxLimit {
			limit = maxLimit
		}
	}

	c.JSON(http.StatusOK, domain.MessageResponse{
		Messages: s.store.Page(channelID, before, limit),
	})
}

func (s *Server) markRead(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func (s *Server) listChannels(c *gin.Context) {
	channels := s.store.Channels()
	c.JSON(http.StatusOK, domain.ChannelResponse{
		Channels: channels,
		PageSize: len(channels),
	})
}

func (s *Server) channelAccess(c *gin.Context) {
	channelID := c.Param("channel_id")
	if !s.store.Has(channelID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	c.JSON(http.StatusOK, domain.Channel{
		ChannelID:   channelID,
		DisplayName: channelID,
		IsPublic:    true,
	})
}
