// Package match implements candidate selection for the matchmaking sweep:
// interest-overlap scoring, the anti-immediate-rematch grace period, and the
// periodic scheduler that drives the sweep. The functions here are pure and
// never mutate user state. The hub applies the results under its lock.
package match

import (
	"sort"
	"time"

	"github.com/paircast/chat-app/internal/registry"
)

const (
	// SweepInterval is how often the catch-all sweep runs. Users who become
	// eligible only through the passage of time (grace expiry, bot timeout)
	// are picked up here without requiring new input.
	SweepInterval = 2 * time.Second

	// GracePeriod is the minimum time before two users that just split may
	// be rematched to each other.
	GracePeriod = 10 * time.Second

	// BotWaitTimeout is how long a user waits without a human candidate
	// before a bot partner is synthesized (when bots are enabled).
	BotWaitTimeout = 30 * time.Second
)

// Score returns the number of interests shared between two tag sets. Empty
// sets always score 0.
func Score(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, tag := range a {
		set[tag] = struct{}{}
	}
	n := 0
	for _, tag := range b {
		if _, ok := set[tag]; ok {
			n++
		}
	}
	return n
}

// graceElapsed reports whether a user's grace period has passed. Users with
// no recent-partner stamp have nothing to wait out.
func graceElapsed(u *registry.User, now time.Time) bool {
	if u.RecentPartnerAt.IsZero() {
		return true
	}
	return now.Sub(u.RecentPartnerAt) > GracePeriod
}

// Eligible reports whether u may be paired with c right now. Two users that
// just separated from each other are excluded until the grace period has
// elapsed for both sides; everyone else is always eligible.
func Eligible(c, u *registry.User, now time.Time) bool {
	if u.ID == c.ID {
		return false
	}

	recentPair := u.ID == c.RecentPartnerID || c.ID == u.RecentPartnerID
	if !recentPair {
		return true
	}
	return graceElapsed(c, now) && graceElapsed(u, now)
}

// Pick selects the best candidate for c from the waiting pool: the eligible,
// unclaimed candidate with the highest interest score. Ties break to the
// first candidate found in pool order; the scheduler makes no stronger
// guarantee, which is acceptable for a random-stranger product. Returns nil
// when no candidate qualifies.
func Pick(c *registry.User, pool []*registry.User, claimed map[string]bool, now time.Time) *registry.User {
	var best *registry.User
	bestScore := -1

	for _, u := range pool {
		if claimed[u.ID] || u.Status != registry.StatusWaiting {
			continue
		}
		if !Eligible(c, u, now) {
			continue
		}
		if s := Score(c.Interests, u.Interests); s > bestScore {
			best = u
			bestScore = s
		}
	}
	return best
}

// SortByWaitTime orders a waiting-pool snapshot oldest wait first, so the
// sweep services the longest-waiting users before fresh arrivals.
func SortByWaitTime(pool []*registry.User) {
	sort.Slice(pool, func(i, j int) bool {
		return pool[i].WaitStartedAt.Before(pool[j].WaitStartedAt)
	})
}

// BotDue reports whether a waiting user has gone unmatched long enough for
// the bot fallback to kick in.
func BotDue(u *registry.User, now time.Time) bool {
	if u.WaitStartedAt.IsZero() {
		return false
	}
	return now.Sub(u.WaitStartedAt) >= BotWaitTimeout
}
