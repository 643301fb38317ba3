package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/soratobu/chatstream/internal/domain"
	"github.com/soratobu/chatstream/pkg/log"
)

// HistoryFetcher returns one page of a channel's message history.
type HistoryFetcher interface {
	FetchMessages(ctx context.Context, channelID string, params *domain.MessageParams) (*domain.MessageResponse, error)
}

// ReadMarker marks a channel's visible messages as read. Fire and
// forget; implementations swallow their own errors.
type ReadMarker interface {
	MarkRead(ctx context.Context, channelID string)
}

// Window is the ordered, deduplicated message buffer for one channel.
// Backfill pages are prepended, live messages appended; items stay
// sorted oldest first. Every fetch is tagged with the generation it was
// issued for, so a completion that lands after Reset is discarded.
type Window struct {
	fetcher  HistoryFetcher
	marker   ReadMarker
	pageSize int
	logger   zerolog.Logger

	mu        sync.Mutex
	channelID string
	gen       uint64
	items     []domain.Message
	seen      map[string]struct{}
	firstTS   string
	lastTS    string
	hasMore   bool
	isLoading bool
}

func NewWindow(channelID string, fetcher HistoryFetcher, marker ReadMarker, pageSize int, logger zerolog.Logger) *Window {
	return &Window{
		fetcher:   fetcher,
		marker:    marker,
		pageSize:  pageSize,
		logger:    logger,
		channelID: channelID,
		seen:      make(map[string]struct{}),
		hasMore:   true,
	}
}

// Reset rebinds the window to a channel and clears its contents.
// In-flight fetches issued before the reset are discarded when they
// complete.
func (w *Window) Reset(channelID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	w.channelID = channelID
	w.items = nil
	w.seen = make(map[string]struct{})
	w.firstTS = ""
	w.lastTS = ""
	w.hasMore = true
	w.isLoading = false
}

// LoadInitial replaces the window with the latest page and marks the
// channel read. A fetch error leaves the window unchanged; the next
// reconnect's initial load retries naturally.
func (w *Window) LoadInitial(ctx context.Context) {
	w.mu.Lock()
	channelID, gen := w.channelID, w.gen
	w.mu.Unlock()
	if channelID == "" {
		return
	}

	limit := w.pageSize
	resp, err := w.fetcher.FetchMessages(ctx, channelID, &domain.MessageParams{Limit: &limit})
	if err != nil {
		w.logger.Error().Err(err).Str(log.FieldChannelID, channelID).Msg("initial history load failed")
		return
	}

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	if len(resp.Messages) > 0 {
		w.items = append([]domain.Message(nil), resp.Messages...)
		w.seen = make(map[string]struct{}, len(resp.Messages))
		for _, m := range resp.Messages {
			w.seen[m.MessageID] = struct{}{}
		}
		w.firstTS = resp.Messages[0].Timestamp
		w.lastTS = resp.Messages[len(resp.Messages)-1].Timestamp
		w.hasMore = len(resp.Messages) == w.pageSize
	}
	w.isLoading = false
	w.mu.Unlock()

	w.marker.MarkRead(ctx, channelID)
}

// LoadMore fetches the page preceding the current window and prepends
// it. No-op while a backfill is in flight, once hasMore is false, or
// before a channel is set. Returns whether a fetch was performed.
func (w *Window) LoadMore(ctx context.Context) bool {
	w.mu.Lock()
	if w.channelID == "" || w.isLoading || !w.hasMore {
		w.mu.Unlock()
		return false
	}
	w.isLoading = true
	channelID, gen, cursor := w.channelID, w.gen, w.firstTS
	w.mu.Unlock()

	limit := w.pageSize
	params := &domain.MessageParams{Limit: &limit}
	if cursor != "" {
		params.Before = &cursor
	}

	resp, err := w.fetcher.FetchMessages(ctx, channelID, params)

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		// window was reset while the fetch was in flight
		return false
	}
	w.isLoading = false
	if err != nil {
		w.logger.Error().Err(err).Str(log.FieldChannelID, channelID).Msg("backfill failed")
		return true
	}

	if len(resp.Messages) == 0 {
		w.hasMore = false
		return true
	}

	// Ties at the page boundary are broken by page order; the identity
	// check absorbs a redelivered boundary message.
	page := make([]domain.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if _, dup := w.seen[m.MessageID]; dup {
			continue
		}
		w.seen[m.MessageID] = struct{}{}
		page = append(page, m)
	}
	w.items = append(page, w.items...)
	w.firstTS = resp.Messages[0].Timestamp
	w.hasMore = len(resp.Messages) == w.pageSize
	return true
}

// Append adds a live inbound message to the bottom of the window.
// Returns false for duplicates and messages for another channel.
func (w *Window) Append(msg domain.Message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if msg.ChannelID != "" && msg.ChannelID != w.channelID {
		return false
	}
	if _, dup := w.seen[msg.MessageID]; dup {
		return false
	}
	w.seen[msg.MessageID] = struct{}{}
	w.items = append(w.items, msg)
	w.lastTS = msg.Timestamp
	if w.firstTS == "" {
		w.firstTS = msg.Timestamp
	}
	return true
}

// Messages returns a snapshot of the window, oldest first.
func (w *Window) Messages() []domain.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.Message, len(w.items))
	copy(out, w.items)
	return out
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

func (w *Window) HasMore() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasMore
}

func (w *Window) IsLoading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isLoading
}

// Bounds returns the cached first and last timestamps of the window.
func (w *Window) Bounds() (first, last string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstTS, w.lastTS
}
