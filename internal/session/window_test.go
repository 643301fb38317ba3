package session

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soratobu/chatstream/internal/domain"
)

func newTestWindow(fetcher *fakeFetcher, marker *fakeMarker) *Window {
	return NewWindow("ch-1", fetcher, marker, 100, testLogger())
}

func assertSorted(t *testing.T, items []domain.Message) {
	t.Helper()
	assert.True(t, sort.SliceIsSorted(items, func(i, j int) bool {
		return items[i].Timestamp < items[j].Timestamp
	}), "window must stay sorted by timestamp")
}

func TestWindowLoadInitial(t *testing.T) {
	t.Run("full page keeps hasMore and marks read", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		marker := &fakeMarker{}
		fetcher.queue(testMessages("ch-1", 100, 100), nil)

		w := newTestWindow(fetcher, marker)
		w.LoadInitial(context.Background())

		assert.Equal(t, 100, w.Len())
		assert.True(t, w.HasMore())
		assert.Equal(t, 1, marker.callCount())

		first, last := w.Bounds()
		items := w.Messages()
		assert.Equal(t, items[0].Timestamp, first)
		assert.Equal(t, items[len(items)-1].Timestamp, last)
	})

	t.Run("fetch error leaves the window unchanged", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		marker := &fakeMarker{}
		fetcher.queue(nil, errors.New("backend down"))

		w := newTestWindow(fetcher, marker)
		w.LoadInitial(context.Background())

		assert.Equal(t, 0, w.Len())
		assert.True(t, w.HasMore())
		assert.Equal(t, 0, marker.callCount())
	})

	t.Run("empty history stays empty but still marks read", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		marker := &fakeMarker{}
		fetcher.queue(nil, nil)

		w := newTestWindow(fetcher, marker)
		w.LoadInitial(context.Background())

		assert.Equal(t, 0, w.Len())
		assert.Equal(t, 1, marker.callCount())
	})
}

func TestWindowLoadMore(t *testing.T) {
	t.Run("full page then short page terminates backfill", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		marker := &fakeMarker{}
		fetcher.queue(testMessages("ch-1", 100, 100), nil)
		fetcher.queue(testMessages("ch-1", 60, 40), nil)

		w := newTestWindow(fetcher, marker)
		w.LoadInitial(context.Background())
		require.True(t, w.HasMore())

		require.True(t, w.LoadMore(context.Background()))
		assert.Equal(t, 140, w.Len())
		assert.False(t, w.HasMore())
		assertSorted(t, w.Messages())

		// cursor for the second fetch was the old first timestamp
		require.Len(t, fetcher.calls, 2)
		assert.Equal(t, "2024-05-01T00:00:00.000000100Z", fetcher.calls[1].before)

		// further calls never hit the fetcher again
		assert.False(t, w.LoadMore(context.Background()))
		assert.Equal(t, 2, fetcher.callCount())
	})

	t.Run("empty page sets hasMore false", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		fetcher.queue(testMessages("ch-1", 100, 100), nil)
		fetcher.queue(nil, nil)

		w := newTestWindow(fetcher, &fakeMarker{})
		w.LoadInitial(context.Background())
		require.True(t, w.LoadMore(context.Background()))
		assert.False(t, w.HasMore())
		assert.Equal(t, 100, w.Len())
	})

	t.Run("no-op without a channel", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		w := NewWindow("", fetcher, &fakeMarker{}, 100, testLogger())
		assert.False(t, w.LoadMore(context.Background()))
		assert.Equal(t, 0, fetcher.callCount())
	})

	t.Run("fetch error clears isLoading", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		fetcher.queue(testMessages("ch-1", 100, 100), nil)
		fetcher.queue(nil, errors.New("timeout"))

		w := newTestWindow(fetcher, &fakeMarker{})
		w.LoadInitial(context.Background())
		require.True(t, w.LoadMore(context.Background()))
		assert.False(t, w.IsLoading())
		assert.Equal(t, 100, w.Len())
	})

	t.Run("redelivered boundary message is dropped", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		initial := testMessages("ch-1", 100, 100)
		older := testMessages("ch-1", 1, 100)
		// server re-sends the boundary message in the older page
		older[99] = initial[0]
		fetcher.queue(initial, nil)
		fetcher.queue(older, nil)

		w := newTestWindow(fetcher, &fakeMarker{})
		w.LoadInitial(context.Background())
		require.True(t, w.LoadMore(context.Background()))

		items := w.Messages()
		assert.Equal(t, 199, len(items))
		assertSorted(t, items)
		seen := map[string]bool{}
		for _, m := range items {
			assert.False(t, seen[m.MessageID], "duplicate %s", m.MessageID)
			seen[m.MessageID] = true
		}
	})
}

func TestWindowAppend(t *testing.T) {
	t.Run("append keeps order and updates last timestamp", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		fetcher.queue(testMessages("ch-1", 0, 10), nil)

		w := newTestWindow(fetcher, &fakeMarker{})
		w.LoadInitial(context.Background())

		live := testMessages("ch-1", 50, 1)[0]
		require.True(t, w.Append(live))

		assert.Equal(t, 11, w.Len())
		_, last := w.Bounds()
		assert.Equal(t, live.Timestamp, last)
		assertSorted(t, w.Messages())
	})

	t.Run("duplicate messageId is rejected", func(t *testing.T) {
		w := newTestWindow(&fakeFetcher{}, &fakeMarker{})
		msg := testMessages("ch-1", 0, 1)[0]
		require.True(t, w.Append(msg))
		assert.False(t, w.Append(msg))
		assert.Equal(t, 1, w.Len())
	})

	t.Run("message for another channel is rejected", func(t *testing.T) {
		w := newTestWindow(&fakeFetcher{}, &fakeMarker{})
		msg := testMessages("ch-2", 0, 1)[0]
		assert.False(t, w.Append(msg))
		assert.Equal(t, 0, w.Len())
	})
}

func TestWindowReset(t *testing.T) {
	t.Run("reset discards an in-flight backfill", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		fetcher.queue(testMessages("ch-1", 100, 100), nil)
		w := newTestWindow(fetcher, &fakeMarker{})
		w.LoadInitial(context.Background())

		gate := make(chan struct{})
		fetcher.mu.Lock()
		fetcher.gate = gate
		fetcher.mu.Unlock()
		fetcher.queue(testMessages("ch-1", 0, 100), nil)

		done := make(chan bool)
		go func() { done <- w.LoadMore(context.Background()) }()

		waitFor(t, w.IsLoading, "backfill started")
		w.Reset("ch-2")
		close(gate)

		assert.False(t, <-done)
		assert.Equal(t, 0, w.Len())
		assert.False(t, w.IsLoading())
		assert.True(t, w.HasMore())
	})
}
