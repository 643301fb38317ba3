package devserver

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soratobu/chatstream/internal/domain"
)

// Store keeps per-channel message history in memory, ordered by
// timestamp ascending.
type Store struct {
	mu        sync.RWMutex
	byChannel map[string][]domain.Message
}

func NewStore() *Store {
	return &Store{byChannel: make(map[string][]domain.Message)}
}

// Add appends a new message to a channel and returns it.
func (s *Store) Add(channelID, userID, content string) domain.Message {
	msg := domain.Message{
		MessageID: uuid.New().String(),
		ChannelID: channelID,
		UserID:    userID,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	s.mu.Lock()
	s.byChannel[channelID] = append(s.byChannel[channelID], msg)
	s.mu.Unlock()
	return msg
}

// Seed inserts a prebuilt message, keeping the channel ordered.
func (s *Store) Seed(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := append(s.byChannel[msg.ChannelID], msg)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp < items[j].Timestamp
	})
	s.byChannel[msg.ChannelID] = items
}

// Page returns up to limit messages older than before (all messages
// when before is empty), ascending. Mirrors the history contract the
// client paginates against.
func (s *Store) Page(channelID, before string, limit int) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.byChannel[channelID]
	end := len(items)
	if before != "" {
		end = sort.Search(len(items), func(i int) bool {
			return items[i].Timestamp >= before
		})
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := make([]domain.Message, end-start)
	copy(out, items[start:end])
	return out
}

// Channels lists every known channel with its latest message.
func (s *Store) Channels() []domain.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Channel, 0, len(s.byChannel))
	for id, items := range s.byChannel {
		ch := domain.Channel{
			ChannelID:   id,
			DisplayName: id,
			IsPublic:    true,
		}
		if len(items) > 0 {
			last := items[len(items)-1]
			ch.LatestMessageContent = last.Content
			ch.LatestMessageTimestamp = last.Timestamp
		}
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Has reports whether the channel exists.
func (s *Store) Has(channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byChannel[channelID]
	return ok
}
