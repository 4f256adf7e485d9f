// Package registry tracks every live connection and its per-user transient
// state: matchmaking status, current partner, recent-partner stamps, interest
// tags and profile. The registry itself carries no lock; all access is
// serialized by the hub, which holds one coarse mutex for the duration of
// each logical operation (pairing mutates two users' state together and must
// not race with the periodic sweep).
package registry

import (
	"time"

	"github.com/paircast/chat-app/internal/protocol"
)

// Status values for a user's matchmaking state machine.
const (
	StatusIdle    = "idle"
	StatusWaiting = "waiting"
	StatusInChat  = "in-chat"
)

// User is the per-connection mutable state. Lifecycle: created on transport
// accept, destroyed on transport close.
type User struct {
	ID     string
	IP     string
	Status string

	SessionID string // current chat session, empty when not in-chat
	PartnerID string // mirror of the partner's PartnerID while paired

	// RecentPartnerID / RecentPartnerAt record the last partner after a
	// session ends, for the grace-period rematch exclusion. Cleared when a
	// new match is made.
	RecentPartnerID string
	RecentPartnerAt time.Time

	Interests     []string
	Profile       *protocol.Profile
	WaitStartedAt time.Time // set on every transition into waiting
	ConnectedAt   time.Time
}

// Registry maps connection ids to their user state.
type Registry struct {
	users map[string]*User
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{users: make(map[string]*User)}
}

// Register creates idle state for a newly admitted connection.
func (r *Registry) Register(id, ip string) *User {
	u := &User{
		ID:          id,
		IP:          ip,
		Status:      StatusIdle,
		ConnectedAt: time.Now(),
	}
	r.users[id] = u
	return u
}

// Get returns the user state for a connection id, or nil if unknown.
func (r *Registry) Get(id string) *User {
	return r.users[id]
}

// Remove discards all state for a connection id.
func (r *Registry) Remove(id string) {
	delete(r.users, id)
}

// Waiting returns a point-in-time snapshot of all users in waiting status.
// Order is not significant; callers that need determinism sort the result.
func (r *Registry) Waiting() []*User {
	waiting := make([]*User, 0)
	for _, u := range r.users {
		if u.Status == StatusWaiting {
			waiting = append(waiting, u)
		}
	}
	return waiting
}

// IDsByIP returns the ids of every connection registered from the given IP.
func (r *Registry) IDsByIP(ip string) []string {
	ids := make([]string, 0)
	for id, u := range r.users {
		if u.IP == ip {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the total number of registered connections.
func (r *Registry) Count() int {
	return len(r.users)
}

// CountByStatus returns how many users are currently in the given status.
func (r *Registry) CountByStatus(status string) int {
	n := 0
	for _, u := range r.users {
		if u.Status == status {
			n++
		}
	}
	return n
}

// SetWaiting transitions a user into the waiting pool and resets the wait
// clock used for bot-fallback timing.
func (u *User) SetWaiting() {
	u.Status = StatusWaiting
	u.WaitStartedAt = time.Now()
}

// SetIdle returns a user to idle.
func (u *User) SetIdle() {
	u.Status = StatusIdle
	u.WaitStartedAt = time.Time{}
}

// EnterChat records a new pairing. The recent-partner stamp is cleared so a
// fresh session never inherits the previous grace-period exclusion.
func (u *User) EnterChat(sessionID, partnerID string) {
	u.Status = StatusInChat
	u.SessionID = sessionID
	u.PartnerID = partnerID
	u.RecentPartnerID = ""
	u.RecentPartnerAt = time.Time{}
	u.WaitStartedAt = time.Time{}
}

// LeaveChat clears the pairing and stamps the just-departed partner so the
// grace-period rule applies to the next matching attempt.
func (u *User) LeaveChat(recentPartnerID string) {
	u.SessionID = ""
	u.PartnerID = ""
	u.RecentPartnerID = recentPartnerID
	u.RecentPartnerAt = time.Now()
}
