// Package cardstack drives the "swipe through today's routines" session for
// one sub-routine and one calendar day: an ordered pending stack and the list
// of routines already marked today.
package cardstack

import (
	"errors"
	"time"

	"routin0/api/internal/store"
)

var (
	ErrEmptyStack    = errors.New("pending stack is empty")
	ErrInvalidAction = errors.New("invalid card-stack action")
	ErrNotMarked     = errors.New("routine is not marked")
)

// Entry is one already-marked routine with the action taken on it.
type Entry struct {
	Routine   store.Routine `json:"routine"`
	Action    string        `json:"action"`
	Timestamp time.Time     `json:"timestamp"`
}

// Session holds the day state for one sub-routine. Transitions act only on
// the front of Pending; Marked keeps append order.
type Session struct {
	DateKey string          `json:"dateKey"`
	Pending []store.Routine `json:"pending"`
	Marked  []Entry         `json:"marked"`
	// SyncedAt is the log-timestamp watermark: logs at or before it have
	// already been folded into this session. Keeps ApplyLogs from
	// resurrecting entries the user explicitly unmarked.
	SyncedAt time.Time `json:"syncedAt"`
}

// New partitions the sub-routine's routines into marked (those with a log
// today, most-recent log per routine winning) and pending, which keeps the
// sub-routine's natural order. Logs are expected newest-first, as the store
// returns them.
func New(dateKey string, routines []store.Routine, todaysLogs []store.LogEntry) *Session {
	latest := make(map[string]store.LogEntry)
	for _, entry := range todaysLogs {
		if _, seen := latest[entry.RoutineID]; !seen {
			latest[entry.RoutineID] = entry
		}
	}

	session := &Session{
		DateKey: dateKey,
		Pending: make([]store.Routine, 0, len(routines)),
		Marked:  make([]Entry, 0, len(latest)),
	}

	var marked []Entry
	for _, routine := range routines {
		entry, ok := latest[routine.ID]
		if !ok {
			session.Pending = append(session.Pending, routine)
			continue
		}
		marked = append(marked, Entry{Routine: routine, Action: entry.Action, Timestamp: entry.Timestamp})
		if entry.Timestamp.After(session.SyncedAt) {
			session.SyncedAt = entry.Timestamp
		}
	}

	// Marked list displays in the order the marks happened.
	for i := 0; i < len(marked); i++ {
		pos := i
		for j := i + 1; j < len(marked); j++ {
			if marked[j].Timestamp.Before(marked[pos].Timestamp) {
				pos = j
			}
		}
		marked[i], marked[pos] = marked[pos], marked[i]
		session.Marked = append(session.Marked, marked[i])
	}

	return session
}

// Front returns the routine currently on top of the stack.
func (s *Session) Front() (store.Routine, bool) {
	if len(s.Pending) == 0 {
		return store.Routine{}, false
	}
	return s.Pending[0], true
}

// Completed reports whether every routine has been marked. Not a terminal
// state: Unmark re-populates the stack.
func (s *Session) Completed() bool {
	return len(s.Pending) == 0
}

// Mark moves the front-of-pending routine to the end of the marked list.
// "pass" is not a mark; use Pass. The caller persists the log.
func (s *Session) Mark(action string, ts time.Time) (store.Routine, error) {
	switch action {
	case "done", "not_done", "skip":
	case "pass":
		return store.Routine{}, ErrInvalidAction
	default:
		return store.Routine{}, ErrInvalidAction
	}
	if len(s.Pending) == 0 {
		return store.Routine{}, ErrEmptyStack
	}

	routine := s.Pending[0]
	s.Pending = s.Pending[1:]
	s.Marked = append(s.Marked, Entry{Routine: routine, Action: action, Timestamp: ts})
	return routine, nil
}

// Pass rotates the front routine to the back of the stack. A deferral, not a
// completion: no log is written and the stack length is unchanged.
func (s *Session) Pass() error {
	if len(s.Pending) == 0 {
		return ErrEmptyStack
	}
	front := s.Pending[0]
	s.Pending = append(s.Pending[1:], front)
	return nil
}

// Unmark removes a marked entry and pushes its routine back to the front of
// the stack so the user immediately re-encounters it. The persisted log is
// left in place; the next mark supersedes it.
func (s *Session) Unmark(routineID string) error {
	for i, entry := range s.Marked {
		if entry.Routine.ID != routineID {
			continue
		}
		s.Marked = append(s.Marked[:i], s.Marked[i+1:]...)

		pending := make([]store.Routine, 0, len(s.Pending)+1)
		pending = append(pending, entry.Routine)
		for _, routine := range s.Pending {
			if routine.ID != routineID {
				pending = append(pending, routine)
			}
		}
		s.Pending = pending
		return nil
	}
	return ErrNotMarked
}

// ApplyLogs folds marks recorded outside the session (the direct mark
// endpoint) into it: pending routines with a log newer than the watermark
// move to the marked list. Older logs are ignored, so an unmarked routine
// whose log was never retracted stays pending.
func (s *Session) ApplyLogs(todaysLogs []store.LogEntry) {
	latest := make(map[string]store.LogEntry)
	for _, entry := range todaysLogs {
		if _, seen := latest[entry.RoutineID]; !seen {
			latest[entry.RoutineID] = entry
		}
	}

	pending := s.Pending[:0]
	for _, routine := range s.Pending {
		entry, ok := latest[routine.ID]
		if !ok || !entry.Timestamp.After(s.SyncedAt) {
			pending = append(pending, routine)
			continue
		}
		s.Marked = append(s.Marked, Entry{Routine: routine, Action: entry.Action, Timestamp: entry.Timestamp})
	}
	s.Pending = pending

	for _, entry := range latest {
		if entry.Timestamp.After(s.SyncedAt) {
			s.SyncedAt = entry.Timestamp
		}
	}
}

// Reconcile folds hierarchy edits into an existing session: routines deleted
// since the session was saved are dropped, newly created ones join the back
// of the stack. Order of surviving entries is preserved.
func (s *Session) Reconcile(routines []store.Routine) {
	current := make(map[string]store.Routine, len(routines))
	for _, routine := range routines {
		current[routine.ID] = routine
	}

	seen := make(map[string]bool, len(routines))

	pending := make([]store.Routine, 0, len(s.Pending))
	for _, routine := range s.Pending {
		if fresh, ok := current[routine.ID]; ok {
			pending = append(pending, fresh)
			seen[routine.ID] = true
		}
	}

	marked := make([]Entry, 0, len(s.Marked))
	for _, entry := range s.Marked {
		if fresh, ok := current[entry.Routine.ID]; ok {
			entry.Routine = fresh
			marked = append(marked, entry)
			seen[entry.Routine.ID] = true
		}
	}

	for _, routine := range routines {
		if !seen[routine.ID] {
			pending = append(pending, routine)
		}
	}

	s.Pending = pending
	s.Marked = marked
}
