// Package transcript merges the recognizer's partial and final events into
// committed segments plus at most one live segment.
package transcript

import (
	"slices"
	"strings"
	"time"
)

// Segment is a span of transcript text.
type Segment struct {
	Text      string
	Start     time.Time
	End       time.Time // zero while partial
	IsPartial bool
}

// Reconciler holds committed segments most-recent-first and the live partial.
// It is not safe for concurrent use; callers confine it to one goroutine.
type Reconciler struct {
	now       func() time.Time
	committed []Segment
	live      *Segment
}

// New returns an empty Reconciler. A nil now uses time.Now.
func New(now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{now: now}
}

// Partial applies an in-progress hypothesis. A text that extends the live
// text replaces it; any other differing text is appended after a space, so
// non-monotonic hypotheses accumulate rather than overwrite. Empty text is
// ignored.
func (r *Reconciler) Partial(text string) {
	if text == "" {
		return
	}
	if r.live == nil {
		r.live = &Segment{Text: text, Start: r.now(), IsPartial: true}
		return
	}
	switch {
	case text == r.live.Text:
	case strings.HasPrefix(text, r.live.Text):
		r.live.Text = text
	default:
		r.live.Text = r.live.Text + " " + text
	}
}

// Final commits a segment. Empty text finalizes the live text as is. The
// segment inherits the live start time and ends now.
func (r *Reconciler) Final(text string) {
	now := r.now()
	start := now
	if r.live != nil {
		start = r.live.Start
		if text == "" {
			text = r.live.Text
		}
	}
	r.live = nil
	if text == "" {
		return
	}
	seg := Segment{Text: text, Start: start, End: now}
	r.committed = append([]Segment{seg}, r.committed...)
}

// Committed returns committed segments, most recent first.
func (r *Reconciler) Committed() []Segment {
	return slices.Clone(r.committed)
}

// Chronological returns committed segments in commit order.
func (r *Reconciler) Chronological() []Segment {
	out := slices.Clone(r.committed)
	slices.Reverse(out)
	return out
}

// Live returns the live segment, if any.
func (r *Reconciler) Live() (Segment, bool) {
	if r.live == nil {
		return Segment{}, false
	}
	return *r.live, true
}

// Text joins committed segments in commit order, followed by the live text.
func (r *Reconciler) Text() string {
	parts := make([]string, 0, len(r.committed)+1)
	for _, s := range r.Chronological() {
		parts = append(parts, s.Text)
	}
	if r.live != nil {
		parts = append(parts, r.live.Text)
	}
	return strings.Join(parts, " ")
}

// Reset drops all segments.
func (r *Reconciler) Reset() {
	r.committed = nil
	r.live = nil
}
