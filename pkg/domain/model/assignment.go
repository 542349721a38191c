package model

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

// AssignmentWindow authorizes a sitter for a thread over [StartsAt, EndsAt).
type AssignmentWindow struct {
	ID         string
	OrgID      string
	ThreadID   string
	SitterID   string
	StartsAt   time.Time
	EndsAt     time.Time
	BookingRef string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks the interval invariant.
func (w *AssignmentWindow) Validate() error {
	if w.ThreadID == "" {
		return goerr.New("thread ID is required")
	}
	if w.SitterID == "" {
		return goerr.New("sitter ID is required")
	}
	if !w.StartsAt.Before(w.EndsAt) {
		return goerr.New("window must start before it ends",
			goerr.V("starts_at", w.StartsAt), goerr.V("ends_at", w.EndsAt))
	}
	return nil
}

// Covers reports whether ts falls inside the half-open interval.
func (w *AssignmentWindow) Covers(ts time.Time) bool {
	return !ts.Before(w.StartsAt) && ts.Before(w.EndsAt)
}

// StatusAt derives the window status relative to now.
func (w *AssignmentWindow) StatusAt(now time.Time) types.WindowStatus {
	switch {
	case w.Covers(now):
		return types.WindowStatusActive
	case now.Before(w.StartsAt):
		return types.WindowStatusFuture
	default:
		return types.WindowStatusPast
	}
}

// Overlap returns the shared interval of a and b. ok is false when the
// half-open intervals do not intersect. The test covers partial overlaps as
// well as containment in either direction.
func Overlap(a, b *AssignmentWindow) (start, end time.Time, ok bool) {
	start = a.StartsAt
	if b.StartsAt.After(start) {
		start = b.StartsAt
	}
	end = a.EndsAt
	if b.EndsAt.Before(end) {
		end = b.EndsAt
	}
	return start, end, start.Before(end)
}

// WindowBefore orders windows by start time, then ID.
func WindowBefore(a, b *AssignmentWindow) bool {
	if !a.StartsAt.Equal(b.StartsAt) {
		return a.StartsAt.Before(b.StartsAt)
	}
	return a.ID < b.ID
}

const conflictIDSeparator = ":"

// Conflict is an overlapping pair of windows on the same thread. WindowA is
// always the earlier window by WindowBefore.
type Conflict struct {
	ID           string
	ThreadID     string
	WindowA      *AssignmentWindow
	WindowB      *AssignmentWindow
	OverlapStart time.Time
	OverlapEnd   time.Time
}

// NewConflict orders the pair and computes the overlap. It returns nil when
// the windows do not overlap or belong to different threads.
func NewConflict(x, y *AssignmentWindow) *Conflict {
	if x.ThreadID != y.ThreadID || x.ID == y.ID {
		return nil
	}
	a, b := x, y
	if WindowBefore(y, x) {
		a, b = y, x
	}
	start, end, ok := Overlap(a, b)
	if !ok {
		return nil
	}
	return &Conflict{
		ID:           ConflictID(a.ID, b.ID),
		ThreadID:     a.ThreadID,
		WindowA:      a,
		WindowB:      b,
		OverlapStart: start,
		OverlapEnd:   end,
	}
}

func ConflictID(windowA, windowB string) string {
	return windowA + conflictIDSeparator + windowB
}

// ParseConflictID splits a conflict ID into its two window IDs.
func ParseConflictID(id string) (string, string, error) {
	a, b, ok := strings.Cut(id, conflictIDSeparator)
	if !ok || a == "" || b == "" || strings.Contains(b, conflictIDSeparator) {
		return "", "", goerr.New("malformed conflict ID", goerr.V("conflict_id", id))
	}
	return a, b, nil
}

// WindowMutation is a set of window changes applied atomically.
type WindowMutation struct {
	Updates []*AssignmentWindow
	Deletes []string
	// ReadVersions maps window IDs to the UpdatedAt they had when read. A
	// listed window whose stored UpdatedAt differs fails the whole mutation.
	ReadVersions map[string]time.Time
}

// ExpectVersion records w as read for a later conditional Apply.
func (m *WindowMutation) ExpectVersion(w *AssignmentWindow) {
	if m.ReadVersions == nil {
		m.ReadVersions = make(map[string]time.Time)
	}
	m.ReadVersions[w.ID] = w.UpdatedAt
}

// CheckVersion reports whether stored still matches the version it was read
// at. Windows that were not read unconditionally match.
func (m WindowMutation) CheckVersion(stored *AssignmentWindow) bool {
	v, ok := m.ReadVersions[stored.ID]
	return !ok || v.Equal(stored.UpdatedAt)
}
