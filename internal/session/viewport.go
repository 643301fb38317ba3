package session

// ScrollAction tells the presentation layer what to do with the
// viewport after the window changed.
type ScrollAction int

const (
	// ScrollNone leaves the viewport where the user put it.
	ScrollNone ScrollAction = iota
	// ScrollStickBottom scrolls to the new bottom after layout settles.
	ScrollStickBottom
	// ScrollAnchor shifts scrollTop by Delta so prepended content does
	// not visually jump the view.
	ScrollAnchor
	// ScrollForceBottom pins the viewport (and the outer page) to the
	// bottom; emitted once, on the first non-empty population.
	ScrollForceBottom
)

// ScrollPlan is the outcome of a viewport decision.
type ScrollPlan struct {
	Action ScrollAction
	Delta  float64
}

// Viewport decides scroll behavior around window mutations without
// fighting user-initiated scrolling. It is driven by the UI event loop
// and is not safe for concurrent use.
type Viewport struct {
	nearBottomPx    float64
	backfillPercent float64

	scrollTop    float64
	scrollHeight float64
	clientHeight float64
	nearBottom   bool
	savedHeight  float64
	populated    bool
}

func NewViewport(nearBottomPx, backfillPercent float64) *Viewport {
	return &Viewport{
		nearBottomPx:    nearBottomPx,
		backfillPercent: backfillPercent,
		nearBottom:      true,
	}
}

// Observe records a scroll event and reports whether the position has
// climbed high enough to warrant a backfill. The caller still guards
// with HasMore/IsLoading before fetching. When a backfill is warranted
// the current scroll height is saved for the later anchor adjustment.
func (v *Viewport) Observe(scrollTop, scrollHeight, clientHeight float64) (wantBackfill bool) {
	v.scrollTop = scrollTop
	v.scrollHeight = scrollHeight
	v.clientHeight = clientHeight

	v.nearBottom = scrollHeight-scrollTop-clientHeight < v.nearBottomPx

	if scrollHeight <= 0 {
		return false
	}
	percentage := scrollTop / scrollHeight * 100
	if percentage < v.backfillPercent {
		v.savedHeight = scrollHeight
		return true
	}
	return false
}

// NearBottom reports whether the last observed position was within the
// near-bottom threshold.
func (v *Viewport) NearBottom() bool {
	return v.nearBottom
}

// PlanInitial handles the first non-empty population of the window.
func (v *Viewport) PlanInitial(count int) ScrollPlan {
	if v.populated || count == 0 {
		return ScrollPlan{Action: ScrollNone}
	}
	v.populated = true
	return ScrollPlan{Action: ScrollForceBottom}
}

// PlanAppend handles window growth at the bottom (a live message).
func (v *Viewport) PlanAppend() ScrollPlan {
	if v.nearBottom {
		return ScrollPlan{Action: ScrollStickBottom}
	}
	return ScrollPlan{Action: ScrollNone}
}

// PlanPrepend handles window growth at the top (a backfill page).
// newScrollHeight is the height after the prepend reflowed; the
// returned delta restores the pre-prepend visual position.
func (v *Viewport) PlanPrepend(newScrollHeight float64) ScrollPlan {
	if v.savedHeight <= 0 {
		return ScrollPlan{Action: ScrollNone}
	}
	delta := newScrollHeight - v.savedHeight
	v.savedHeight = 0
	if delta <= 0 {
		return ScrollPlan{Action: ScrollNone}
	}
	return ScrollPlan{Action: ScrollAnchor, Delta: delta}
}
