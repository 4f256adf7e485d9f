// Package abuse implements the throttling subsystem: manual IP bans, country
// blocks, the report-velocity auto-ban, and the admin login-attempt lockout.
// Four mechanisms sharing one "ban the IP" primitive. All state is held in
// process memory for the lifetime of the process; a restart clears bans,
// reports and lockout counters by design.
package abuse

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// ReportWindow is the trailing window for report-velocity counting.
	ReportWindow = 24 * time.Hour

	// ReportThreshold is the report count within ReportWindow that triggers
	// an auto-ban. The count must exceed the threshold: the 7th report in
	// 24h bans, the 6th does not.
	ReportThreshold = 6

	// AutoBanDuration is how long a report-velocity auto-ban lasts.
	AutoBanDuration = 30 * time.Minute

	// LoginFailureLimit is the number of consecutive failures that locks an
	// IP out of the admin login endpoint.
	LoginFailureLimit = 2

	// LoginLockout is how long a locked-out IP is rejected without its
	// credentials being checked.
	LoginLockout = 60 * time.Second

	// LoginFailureReset clears the failure counter this long after the last
	// successful login.
	LoginFailureReset = 24 * time.Hour
)

// IPBan is one ban record. ExpiresAt zero means permanent.
type IPBan struct {
	ID        string    `json:"id"`
	IPAddress string    `json:"ipAddress"`
	Reason    string    `json:"reason"`
	BannedAt  time.Time `json:"bannedAt"`
	BannedBy  string    `json:"bannedBy"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Report is one abuse report. Append-only, keyed by the reported user's IP
// since connection ids are discarded on disconnect.
type Report struct {
	ID             string    `json:"id"`
	ReportedUserID string    `json:"reportedUserId"`
	ReportedIP     string    `json:"reportedIp"`
	ReporterUserID string    `json:"reporterUserId"`
	Reason         string    `json:"reason"`
	ReportedAt     time.Time `json:"reportedAt"`
}

// BlockedCountry is an admin-issued country block.
type BlockedCountry struct {
	ID          string    `json:"id"`
	CountryCode string    `json:"countryCode"`
	CountryName string    `json:"countryName"`
	Reason      string    `json:"reason"`
	BlockedAt   time.Time `json:"blockedAt"`
	BlockedBy   string    `json:"blockedBy"`
}

// CountryResolver maps an IP address to an ISO country code. Geolocation is
// an external collaborator; a nil resolver disables country blocking.
type CountryResolver interface {
	CountryCode(ip string) (string, error)
}

type loginRecord struct {
	failures      int
	lastFailureAt time.Time
	bannedUntil   time.Time
	lastSuccessAt time.Time
}

// Guard owns all abuse-throttling state behind one mutex.
type Guard struct {
	mu        sync.Mutex
	bans      map[string]*IPBan
	reports   []*Report
	countries map[string]*BlockedCountry
	logins    map[string]*loginRecord
	resolver  CountryResolver

	now func() time.Time // injectable for tests
}

// NewGuard creates an empty Guard. resolver may be nil.
func NewGuard(resolver CountryResolver) *Guard {
	return &Guard{
		bans:      make(map[string]*IPBan),
		countries: make(map[string]*BlockedCountry),
		logins:    make(map[string]*loginRecord),
		resolver:  resolver,
		now:       time.Now,
	}
}

// ---------------------------------------------------------------------------
// IP bans
// ---------------------------------------------------------------------------

// BanIP records a ban on an IP. A zero duration makes the ban permanent.
func (g *Guard) BanIP(ip, reason, bannedBy string, duration time.Duration) *IPBan {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.banLocked(ip, reason, bannedBy, duration)
}

func (g *Guard) banLocked(ip, reason, bannedBy string, duration time.Duration) *IPBan {
	ban := &IPBan{
		ID:        uuid.New().String(),
		IPAddress: ip,
		Reason:    reason,
		BannedAt:  g.now(),
		BannedBy:  bannedBy,
	}
	if duration > 0 {
		ban.ExpiresAt = ban.BannedAt.Add(duration)
	}
	g.bans[ip] = ban
	log.Printf("[abuse] ip %s banned by %s until %v (%s)", ip, bannedBy, ban.ExpiresAt, reason)
	return ban
}

// UnbanIP removes a ban immediately.
func (g *Guard) UnbanIP(ip string) {
	g.mu.Lock()
	delete(g.bans, ip)
	g.mu.Unlock()
}

// CheckIP returns the active ban for an IP, or nil. Expired bans are removed
// lazily on read.
func (g *Guard) CheckIP(ip string) *IPBan {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkIPLocked(ip)
}

func (g *Guard) checkIPLocked(ip string) *IPBan {
	ban, ok := g.bans[ip]
	if !ok {
		return nil
	}
	if !ban.ExpiresAt.IsZero() && !ban.ExpiresAt.After(g.now()) {
		delete(g.bans, ip)
		return nil
	}
	return ban
}

// BannedIPs returns all non-expired bans.
func (g *Guard) BannedIPs() []*IPBan {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	out := make([]*IPBan, 0, len(g.bans))
	for ip, ban := range g.bans {
		if !ban.ExpiresAt.IsZero() && !ban.ExpiresAt.After(now) {
			delete(g.bans, ip)
			continue
		}
		out = append(out, ban)
	}
	return out
}

// ---------------------------------------------------------------------------
// Country blocks
// ---------------------------------------------------------------------------

// BlockCountry adds a country to the block list.
func (g *Guard) BlockCountry(code, name, reason, blockedBy string) {
	code = strings.ToUpper(code)
	g.mu.Lock()
	g.countries[code] = &BlockedCountry{
		ID:          uuid.New().String(),
		CountryCode: code,
		CountryName: name,
		Reason:      reason,
		BlockedAt:   g.now(),
		BlockedBy:   blockedBy,
	}
	g.mu.Unlock()
}

// UnblockCountry removes a country from the block list.
func (g *Guard) UnblockCountry(code string) {
	g.mu.Lock()
	delete(g.countries, strings.ToUpper(code))
	g.mu.Unlock()
}

// BlockedCountries lists all blocked countries.
func (g *Guard) BlockedCountries() []*BlockedCountry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*BlockedCountry, 0, len(g.countries))
	for _, bc := range g.countries {
		out = append(out, bc)
	}
	return out
}

// IsCountryBlocked resolves the IP's country and checks the block list.
// Resolution failures fail open: an unresolvable IP is not blocked.
func (g *Guard) IsCountryBlocked(ip string) bool {
	if g.resolver == nil {
		return false
	}
	code, err := g.resolver.CountryCode(ip)
	if err != nil {
		log.Printf("[abuse] country lookup failed for %s: %v (failing open)", ip, err)
		return false
	}

	g.mu.Lock()
	_, blocked := g.countries[strings.ToUpper(code)]
	g.mu.Unlock()
	return blocked
}

// ---------------------------------------------------------------------------
// Report velocity
// ---------------------------------------------------------------------------

// AddReport appends a report against an IP and applies the velocity rule:
// when the count of reports against that IP inside the trailing window
// exceeds the threshold, the IP is auto-banned for AutoBanDuration. Returns
// the stored report and whether an auto-ban fired (so the caller can force-
// close the reported user's live connection).
func (g *Guard) AddReport(reportedUserID, reportedIP, reporterUserID, reason string) (*Report, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := &Report{
		ID:             uuid.New().String(),
		ReportedUserID: reportedUserID,
		ReportedIP:     reportedIP,
		ReporterUserID: reporterUserID,
		Reason:         reason,
		ReportedAt:     g.now(),
	}
	g.reports = append(g.reports, r)

	if g.reportCountLocked(reportedIP) > ReportThreshold && g.checkIPLocked(reportedIP) == nil {
		g.banLocked(reportedIP, "report velocity exceeded", "system", AutoBanDuration)
		return r, true
	}
	return r, false
}

// ReportCount returns the number of reports against an IP within the
// trailing window.
func (g *Guard) ReportCount(ip string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reportCountLocked(ip)
}

func (g *Guard) reportCountLocked(ip string) int {
	cutoff := g.now().Add(-ReportWindow)
	n := 0
	for _, r := range g.reports {
		if r.ReportedIP == ip && r.ReportedAt.After(cutoff) {
			n++
		}
	}
	return n
}

// Reports returns all reports, newest last.
func (g *Guard) Reports() []*Report {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Report, len(g.reports))
	copy(out, g.reports)
	return out
}

// ---------------------------------------------------------------------------
// Admin login throttle
// ---------------------------------------------------------------------------

// LoginLockedOut reports whether an IP is currently locked out of the admin
// login endpoint, and how long the lockout has left. Callers must check this
// before verifying credentials.
func (g *Guard) LoginLockedOut(ip string) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.logins[ip]
	if !ok {
		return false, 0
	}
	now := g.now()
	if rec.bannedUntil.After(now) {
		return true, rec.bannedUntil.Sub(now)
	}
	return false, 0
}

// RecordLoginFailure registers a failed admin login. Reaching the failure
// limit starts the lockout.
func (g *Guard) RecordLoginFailure(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	rec, ok := g.logins[ip]
	if !ok {
		rec = &loginRecord{}
		g.logins[ip] = rec
	}

	// Counter self-resets once the last success is old enough.
	if !rec.lastSuccessAt.IsZero() && now.Sub(rec.lastSuccessAt) > LoginFailureReset {
		rec.failures = 0
	}

	rec.failures++
	rec.lastFailureAt = now
	if rec.failures >= LoginFailureLimit {
		rec.bannedUntil = now.Add(LoginLockout)
		log.Printf("[abuse] login lockout for %s (%d failures)", ip, rec.failures)
	}
}

// RecordLoginSuccess resets the failure counter for an IP.
func (g *Guard) RecordLoginSuccess(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.logins[ip]
	if !ok {
		rec = &loginRecord{}
		g.logins[ip] = rec
	}
	rec.failures = 0
	rec.bannedUntil = time.Time{}
	rec.lastSuccessAt = g.now()
}

// TotalBans returns the number of active bans, for analytics.
func (g *Guard) TotalBans() int {
	return len(g.BannedIPs())
}
