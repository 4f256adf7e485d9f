package abuse

import (
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGuard(resolver CountryResolver) (*Guard, *fakeClock) {
	g := NewGuard(resolver)
	clock := &fakeClock{t: time.Now()}
	g.now = clock.now
	return g, clock
}

// ---------- IP bans ----------

func TestBanAndCheckIP(t *testing.T) {
	g, _ := newTestGuard(nil)

	if g.CheckIP("203.0.113.1") != nil {
		t.Fatal("unbanned ip should check clean")
	}

	g.BanIP("203.0.113.1", "spam", "admin-1", 30*24*time.Hour)

	ban := g.CheckIP("203.0.113.1")
	if ban == nil {
		t.Fatal("expected an active ban")
	}
	if ban.Reason != "spam" || ban.BannedBy != "admin-1" {
		t.Errorf("unexpected ban record: %+v", ban)
	}
}

func TestBanExpiry(t *testing.T) {
	g, clock := newTestGuard(nil)
	g.BanIP("203.0.113.1", "spam", "admin-1", time.Hour)

	clock.advance(59 * time.Minute)
	if g.CheckIP("203.0.113.1") == nil {
		t.Fatal("ban should still be active before expiry")
	}

	clock.advance(2 * time.Minute)
	if g.CheckIP("203.0.113.1") != nil {
		t.Fatal("ban should lapse after expiry")
	}
	if len(g.BannedIPs()) != 0 {
		t.Error("expired bans should be purged from the listing")
	}
}

func TestPermanentBanNeverExpires(t *testing.T) {
	g, clock := newTestGuard(nil)
	g.BanIP("203.0.113.1", "abuse", "admin-1", 0)

	clock.advance(365 * 24 * time.Hour)
	if g.CheckIP("203.0.113.1") == nil {
		t.Error("zero-duration ban must be permanent")
	}
}

func TestUnbanIP(t *testing.T) {
	g, _ := newTestGuard(nil)
	g.BanIP("203.0.113.1", "spam", "admin-1", time.Hour)
	g.UnbanIP("203.0.113.1")

	if g.CheckIP("203.0.113.1") != nil {
		t.Error("unban should take effect immediately")
	}
}

// ---------- Country blocks ----------

type staticResolver struct {
	code string
	err  error
}

func (r staticResolver) CountryCode(ip string) (string, error) { return r.code, r.err }

func TestCountryBlocking(t *testing.T) {
	g, _ := newTestGuard(staticResolver{code: "xx"})

	if g.IsCountryBlocked("198.51.100.1") {
		t.Fatal("no countries blocked yet")
	}

	g.BlockCountry("XX", "Examplestan", "policy", "admin-1")
	if !g.IsCountryBlocked("198.51.100.1") {
		t.Fatal("resolver code should match case-insensitively")
	}

	g.UnblockCountry("xx")
	if g.IsCountryBlocked("198.51.100.1") {
		t.Error("unblocked country should admit again")
	}
}

func TestCountryBlockingFailsOpen(t *testing.T) {
	g, _ := newTestGuard(staticResolver{err: errors.New("lookup down")})
	g.BlockCountry("XX", "Examplestan", "policy", "admin-1")

	if g.IsCountryBlocked("198.51.100.1") {
		t.Error("resolver failure must fail open")
	}

	noResolver, _ := newTestGuard(nil)
	noResolver.BlockCountry("XX", "Examplestan", "policy", "admin-1")
	if noResolver.IsCountryBlocked("198.51.100.1") {
		t.Error("nil resolver disables country blocking")
	}
}

// ---------- Report velocity ----------

func TestReportVelocityAutoBan(t *testing.T) {
	g, _ := newTestGuard(nil)
	ip := "192.0.2.9"

	// Reports 1..6: no ban.
	for i := 0; i < ReportThreshold; i++ {
		_, banned := g.AddReport("target", ip, "reporter", "harassment")
		if banned {
			t.Fatalf("report %d must not trigger the auto-ban", i+1)
		}
	}
	if g.CheckIP(ip) != nil {
		t.Fatal("ip must not be banned at the threshold")
	}

	// Report 7 exceeds the threshold.
	_, banned := g.AddReport("target", ip, "reporter", "harassment")
	if !banned {
		t.Fatal("report exceeding the threshold must auto-ban")
	}

	ban := g.CheckIP(ip)
	if ban == nil {
		t.Fatal("expected an active auto-ban")
	}
	if ban.BannedBy != "system" {
		t.Errorf("auto-bans should be attributed to the system, got %q", ban.BannedBy)
	}
	if got := ban.ExpiresAt.Sub(ban.BannedAt); got != AutoBanDuration {
		t.Errorf("auto-ban duration = %v, want %v", got, AutoBanDuration)
	}
}

func TestReportVelocityWindowSlides(t *testing.T) {
	g, clock := newTestGuard(nil)
	ip := "192.0.2.9"

	for i := 0; i < ReportThreshold; i++ {
		g.AddReport("target", ip, "reporter", "spam")
	}

	// Old reports age out of the 24h window.
	clock.advance(ReportWindow + time.Minute)
	if got := g.ReportCount(ip); got != 0 {
		t.Fatalf("expected stale reports to age out, count=%d", got)
	}

	if _, banned := g.AddReport("target", ip, "reporter", "spam"); banned {
		t.Error("a single fresh report after the window must not ban")
	}
}

func TestReportsAreAppendOnly(t *testing.T) {
	g, _ := newTestGuard(nil)
	g.AddReport("target", "192.0.2.9", "reporter", "spam")
	g.AddReport("target", "192.0.2.9", "reporter", "explicit")

	reports := g.Reports()
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].Reason != "spam" || reports[1].Reason != "explicit" {
		t.Error("reports should be returned in append order")
	}
}

// ---------- Login throttle ----------

func TestLoginLockoutAfterTwoFailures(t *testing.T) {
	g, clock := newTestGuard(nil)
	ip := "198.51.100.50"

	g.RecordLoginFailure(ip)
	if locked, _ := g.LoginLockedOut(ip); locked {
		t.Fatal("one failure must not lock out")
	}

	g.RecordLoginFailure(ip)
	locked, remaining := g.LoginLockedOut(ip)
	if !locked {
		t.Fatal("two consecutive failures must lock out")
	}
	if remaining <= 0 || remaining > LoginLockout {
		t.Errorf("remaining lockout %v out of range", remaining)
	}

	// Still locked out mid-window: the 3rd attempt is rejected even with
	// correct credentials, which callers enforce by checking first.
	clock.advance(30 * time.Second)
	if locked, _ := g.LoginLockedOut(ip); !locked {
		t.Fatal("lockout must hold for the full window")
	}

	clock.advance(31 * time.Second)
	if locked, _ := g.LoginLockedOut(ip); locked {
		t.Error("lockout must lapse after 60s")
	}
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	g, _ := newTestGuard(nil)
	ip := "198.51.100.50"

	g.RecordLoginFailure(ip)
	g.RecordLoginSuccess(ip)
	g.RecordLoginFailure(ip)

	if locked, _ := g.LoginLockedOut(ip); locked {
		t.Error("success should reset the consecutive-failure counter")
	}
}

func TestLoginCounterSelfResetsAfterOldSuccess(t *testing.T) {
	g, clock := newTestGuard(nil)
	ip := "198.51.100.50"

	g.RecordLoginSuccess(ip)
	g.RecordLoginFailure(ip)

	// 24h after the last success the stale failure is forgotten, so this
	// failure counts as the first, not the second.
	clock.advance(LoginFailureReset + time.Minute)
	g.RecordLoginFailure(ip)

	if locked, _ := g.LoginLockedOut(ip); locked {
		t.Error("failure counter should self-reset 24h after the last success")
	}
}
