// Package session manages chat session records: creation when two users are
// paired, the ended stamp when either side leaves, and the aggregate numbers
// the admin analytics surface reads. Session records live in process memory;
// in-flight matches are not expected to survive a restart. Ended sessions can
// additionally be handed to a write-behind archive (see archive.go) for
// durable analytics.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status values for a chat session.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// ChatSession is one pairing of two participants. Immutable once ended,
// except for the EndedAt stamp written by End.
type ChatSession struct {
	ID        string
	UserA     string
	UserB     string
	Status    string
	IsBot     bool // UserB is a synthetic partner
	StartedAt time.Time
	EndedAt   time.Time
}

// Partner returns the other participant's id, or "" when id is not a
// participant.
func (cs *ChatSession) Partner(id string) string {
	switch id {
	case cs.UserA:
		return cs.UserB
	case cs.UserB:
		return cs.UserA
	}
	return ""
}

// Analytics is the aggregate view consumed by the admin dashboard.
type Analytics struct {
	TotalSessions      int   `json:"totalSessions"`
	ActiveSessions     int   `json:"activeSessions"`
	AvgSessionDuration int64 `json:"avgSessionDuration"` // seconds
}

// Store holds session records. Like the registry it carries no lock of its
// own: the hub serializes all access.
type Store struct {
	sessions map[string]*ChatSession
	archive  *Archive // optional, nil-safe

	endedCount    int
	totalDuration time.Duration
}

// NewStore creates an empty session store. archive may be nil.
func NewStore(archive *Archive) *Store {
	return &Store{
		sessions: make(map[string]*ChatSession),
		archive:  archive,
	}
}

// Create records a new active session between two participants.
func (s *Store) Create(userA, userB string, isBot bool) *ChatSession {
	cs := &ChatSession{
		ID:        uuid.New().String(),
		UserA:     userA,
		UserB:     userB,
		Status:    StatusActive,
		IsBot:     isBot,
		StartedAt: time.Now(),
	}
	s.sessions[cs.ID] = cs
	return cs
}

// Get returns a session by id, or nil.
func (s *Store) Get(id string) *ChatSession {
	return s.sessions[id]
}

// End marks a session ended and stamps EndedAt. Idempotent: ending an
// already-ended session is a no-op, so the first stamp is never overwritten.
func (s *Store) End(id string) {
	cs := s.sessions[id]
	if cs == nil || cs.Status == StatusEnded {
		return
	}
	cs.Status = StatusEnded
	cs.EndedAt = time.Now()

	s.endedCount++
	s.totalDuration += cs.EndedAt.Sub(cs.StartedAt)

	if s.archive != nil {
		s.archive.RecordSession(cs)
	}
}

// ActiveCount returns the number of sessions still active.
func (s *Store) ActiveCount() int {
	n := 0
	for _, cs := range s.sessions {
		if cs.Status == StatusActive {
			n++
		}
	}
	return n
}

// Stats returns the aggregate analytics snapshot.
func (s *Store) Stats() Analytics {
	a := Analytics{
		TotalSessions:  len(s.sessions),
		ActiveSessions: s.ActiveCount(),
	}
	if s.endedCount > 0 {
		a.AvgSessionDuration = int64((s.totalDuration / time.Duration(s.endedCount)).Seconds())
	}
	return a
}
