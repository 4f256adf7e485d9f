package settings

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestDefaultsWithoutRedis(t *testing.T) {
	s := NewStore(nil)

	if got := len(s.Interests()); got != len(DefaultInterests) {
		t.Fatalf("expected %d default interests, got %d", len(DefaultInterests), got)
	}
	if s.Maintenance().Enabled {
		t.Fatal("maintenance should start disabled")
	}
	if s.BotsEnabled() {
		t.Fatal("bots should start disabled")
	}
	if s.PermanentAdminIP() != "" {
		t.Fatal("permanent admin IP should start empty")
	}
}

func TestMutationsMemoryOnly(t *testing.T) {
	s := NewStore(nil)

	s.SetInterests([]string{"Chess", "Hiking"})
	if got := s.Interests(); len(got) != 2 || got[0] != "Chess" {
		t.Fatalf("unexpected interests after set: %v", got)
	}

	s.SetMaintenance(true, "upgrading")
	m := s.Maintenance()
	if !m.Enabled || m.Reason != "upgrading" {
		t.Fatalf("unexpected maintenance state: %+v", m)
	}

	s.SetBotsEnabled(true)
	if !s.BotsEnabled() {
		t.Fatal("bots should be enabled")
	}

	s.SetPermanentAdminIP("10.0.0.1")
	if s.PermanentAdminIP() != "10.0.0.1" {
		t.Fatal("permanent admin IP not recorded")
	}
}

func TestInterestsReturnsCopy(t *testing.T) {
	s := NewStore(nil)
	got := s.Interests()
	got[0] = "mutated"
	if s.Interests()[0] == "mutated" {
		t.Fatal("Interests must not expose internal slice")
	}
}

func TestDisplayUserCount(t *testing.T) {
	s := NewStore(nil)

	if got := s.DisplayUserCount(7); got != 7 {
		t.Fatalf("inflation disabled: expected 7, got %d", got)
	}

	s.SetFakeUsers(100, 150, true)
	for i := 0; i < 50; i++ {
		got := s.DisplayUserCount(7)
		if got < 100 || got > 150 {
			t.Fatalf("displayed count %d outside [100,150]", got)
		}
	}

	// An inverted range falls back to the real count.
	s.SetFakeUsers(200, 100, true)
	if got := s.DisplayUserCount(7); got != 7 {
		t.Fatalf("inverted range: expected 7, got %d", got)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer rdb.Close()
	rdb.Del(ctx, settingsKey)
	defer rdb.Del(ctx, settingsKey)

	s := NewStore(rdb)
	s.SetInterests([]string{"Chess", "Hiking"})
	s.SetMaintenance(true, "scheduled")
	s.SetBotsEnabled(true)
	s.SetFakeUsers(50, 80, true)
	s.SetPermanentAdminIP("10.0.0.1")

	fresh := NewStore(rdb)
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := fresh.Interests(); len(got) != 2 || got[1] != "Hiking" {
		t.Fatalf("interests did not survive reload: %v", got)
	}
	if m := fresh.Maintenance(); !m.Enabled || m.Reason != "scheduled" {
		t.Fatalf("maintenance did not survive reload: %+v", m)
	}
	if !fresh.BotsEnabled() {
		t.Fatal("bots flag did not survive reload")
	}
	if fu := fresh.FakeUsers(); !fu.Enabled || fu.MinUsers != 50 || fu.MaxUsers != 80 {
		t.Fatalf("fake-user settings did not survive reload: %+v", fu)
	}
	if fresh.PermanentAdminIP() != "10.0.0.1" {
		t.Fatal("permanent admin IP did not survive reload")
	}
}
