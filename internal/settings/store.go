// Package settings holds the site configuration that survives restarts:
// the interest list, maintenance mode, the bot-fallback switch, the
// fake-user-count display settings, and the permanent admin IP. Reads are
// served from an in-memory snapshot; mutations write through to a Redis
// hash when Redis is configured, and stay memory-only otherwise.
package settings

import (
	"context"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// settingsKey is the Redis hash all settings live under.
const settingsKey = "settings:site"

// DefaultInterests seeds the interest list on first boot.
var DefaultInterests = []string{
	"Gaming", "Music", "Movies", "Sports", "Travel", "Tech", "Art", "Books",
	"Fitness", "Food", "Photography", "Cooking", "Fashion", "DIY", "Pets",
	"Crypto", "Business", "Science", "History", "Comedy",
}

// Maintenance describes maintenance mode.
type Maintenance struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
}

// FakeUserCount controls the inflated online-user display.
type FakeUserCount struct {
	MinUsers int  `json:"minUsers"`
	MaxUsers int  `json:"maxUsers"`
	Enabled  bool `json:"enabled"`
}

// Store is the settings snapshot plus its optional Redis write-through.
type Store struct {
	mu               sync.RWMutex
	rdb              *redis.Client // nil for memory-only operation
	interests        []string
	maintenance      Maintenance
	botsEnabled      bool
	fakeUsers        FakeUserCount
	permanentAdminIP string
}

// NewStore creates a Store seeded with defaults. rdb may be nil.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:       rdb,
		interests: append([]string(nil), DefaultInterests...),
	}
}

// Load overwrites the snapshot from Redis. Missing fields keep their
// defaults, so first boot against an empty Redis is fine.
func (s *Store) Load(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}

	vals, err := s.rdb.HGetAll(ctx, settingsKey).Result()
	if err != nil {
		return err
	}
	if len(vals) == 0 {
		log.Printf("[settings] no persisted settings found, using defaults")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := vals["interests"]; ok && v != "" {
		s.interests = strings.Split(v, ",")
	}
	s.maintenance.Enabled = vals["maintenance_enabled"] == "1"
	s.maintenance.Reason = vals["maintenance_reason"]
	s.botsEnabled = vals["bots_enabled"] == "1"
	s.fakeUsers.Enabled = vals["fake_users_enabled"] == "1"
	s.fakeUsers.MinUsers, _ = strconv.Atoi(vals["fake_users_min"])
	s.fakeUsers.MaxUsers, _ = strconv.Atoi(vals["fake_users_max"])
	s.permanentAdminIP = vals["permanent_admin_ip"]

	log.Printf("[settings] loaded persisted settings (%d interests)", len(s.interests))
	return nil
}

// save writes the current snapshot to Redis. Callers hold at least a read
// lock. Persistence failures are logged, not surfaced; the in-memory
// snapshot stays authoritative for this process.
func (s *Store) save() {
	if s.rdb == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	fields := map[string]interface{}{
		"interests":           strings.Join(s.interests, ","),
		"maintenance_enabled": boolField(s.maintenance.Enabled),
		"maintenance_reason":  s.maintenance.Reason,
		"bots_enabled":        boolField(s.botsEnabled),
		"fake_users_enabled":  boolField(s.fakeUsers.Enabled),
		"fake_users_min":      s.fakeUsers.MinUsers,
		"fake_users_max":      s.fakeUsers.MaxUsers,
		"permanent_admin_ip":  s.permanentAdminIP,
	}
	if err := s.rdb.HSet(ctx, settingsKey, fields).Err(); err != nil {
		log.Printf("[settings] failed to persist settings: %v", err)
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Interests returns a copy of the interest list.
func (s *Store) Interests() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.interests...)
}

// SetInterests replaces the interest list.
func (s *Store) SetInterests(interests []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interests = append([]string(nil), interests...)
	s.save()
}

// Maintenance returns the maintenance-mode state.
func (s *Store) Maintenance() Maintenance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maintenance
}

// SetMaintenance updates maintenance mode.
func (s *Store) SetMaintenance(enabled bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintenance = Maintenance{Enabled: enabled, Reason: reason}
	s.save()
}

// BotsEnabled reports whether the bot fallback is switched on.
func (s *Store) BotsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botsEnabled
}

// SetBotsEnabled toggles the bot fallback.
func (s *Store) SetBotsEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.botsEnabled = enabled
	s.save()
}

// FakeUsers returns the fake-user-count display settings.
func (s *Store) FakeUsers() FakeUserCount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fakeUsers
}

// SetFakeUsers updates the fake-user-count display settings.
func (s *Store) SetFakeUsers(min, max int, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fakeUsers = FakeUserCount{MinUsers: min, MaxUsers: max, Enabled: enabled}
	s.save()
}

// DisplayUserCount returns the online-user number shown publicly: the real
// count, or a random value inside the configured range when inflation is on.
func (s *Store) DisplayUserCount(actual int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.fakeUsers.Enabled || s.fakeUsers.MaxUsers < s.fakeUsers.MinUsers {
		return actual
	}
	span := s.fakeUsers.MaxUsers - s.fakeUsers.MinUsers + 1
	return s.fakeUsers.MinUsers + rand.Intn(span)
}

// PermanentAdminIP returns the IP allowed to bypass the login throttle, or
// "" when unset.
func (s *Store) PermanentAdminIP() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permanentAdminIP
}

// SetPermanentAdminIP records or clears ("" to clear) the throttle-exempt IP.
func (s *Store) SetPermanentAdminIP(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permanentAdminIP = ip
	s.save()
}
