// Package hub is the session coordinator: the single place where matchmaking
// state changes. One coarse mutex is held for the duration of each logical
// operation (admit, find-match, sweep, relay, end, report, disconnect), so
// every operation observes and produces a consistent state and pairing can
// never race with the periodic sweep. The transport is abstracted behind the
// Sender interface so tests drive the coordinator without sockets.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/paircast/chat-app/internal/abuse"
	"github.com/paircast/chat-app/internal/bot"
	"github.com/paircast/chat-app/internal/events"
	"github.com/paircast/chat-app/internal/match"
	"github.com/paircast/chat-app/internal/metrics"
	"github.com/paircast/chat-app/internal/protocol"
	"github.com/paircast/chat-app/internal/ratelimit"
	"github.com/paircast/chat-app/internal/registry"
	"github.com/paircast/chat-app/internal/session"
	"github.com/paircast/chat-app/internal/settings"
)

// Sender delivers frames to a connection and force-closes it with an
// application close code. Implemented by ws.Server.
type Sender interface {
	SendMessage(connID string, data []byte) error
	ForceClose(connID string, code uint16, reason string)
}

// Deps are the collaborators a Coordinator is built from. Events and
// Archive are optional (nil disables them); Limiter must be non-nil but may
// wrap a nil Redis client.
type Deps struct {
	Registry *registry.Registry
	Sessions *session.Store
	Guard    *abuse.Guard
	Settings *settings.Store
	Limiter  *ratelimit.Limiter
	Events   *events.Publisher
	Archive  *session.Archive
	Bots     bot.Generator
	Sender   Sender
}

// pendingClose is a transport close deferred until the coordinator mutex is
// released. ForceClose re-enters the coordinator through the transport's
// disconnect callback, so closing under the lock would deadlock.
type pendingClose struct {
	id     string
	code   uint16
	reason string
}

// Coordinator owns all matchmaking state transitions.
type Coordinator struct {
	mu            sync.Mutex
	pendingCloses []pendingClose

	registry *registry.Registry
	sessions *session.Store
	guard    *abuse.Guard
	settings *settings.Store
	limiter  *ratelimit.Limiter
	events   *events.Publisher
	archive  *session.Archive
	bots     bot.Generator
	sender   Sender

	now func() time.Time
}

// New creates a Coordinator.
func New(deps Deps) *Coordinator {
	return &Coordinator{
		registry: deps.Registry,
		sessions: deps.Sessions,
		guard:    deps.Guard,
		settings: deps.Settings,
		limiter:  deps.Limiter,
		events:   deps.Events,
		archive:  deps.Archive,
		bots:     deps.Bots,
		sender:   deps.Sender,
		now:      time.Now,
	}
}

// closeLaterLocked schedules a force-close to run once the mutex is
// released. Callers hold c.mu and unlock through unlockAndClose.
func (c *Coordinator) closeLaterLocked(id string, code uint16, reason string) {
	c.pendingCloses = append(c.pendingCloses, pendingClose{id: id, code: code, reason: reason})
}

// unlockAndClose releases the mutex and then runs the scheduled closes.
// The transport's disconnect callback may re-enter the coordinator from
// inside ForceClose; by then the lock is free and the connections are
// already out of the registry, so the callback finds nothing to do.
func (c *Coordinator) unlockAndClose() {
	closes := c.pendingCloses
	c.pendingCloses = nil
	c.mu.Unlock()

	for _, pc := range closes {
		c.sender.ForceClose(pc.id, pc.code, pc.reason)
	}
}

// Stats is the public connection census.
type Stats struct {
	TotalOnline int `json:"totalOnline"`
	Waiting     int `json:"waiting"`
	InChat      int `json:"inChat"`
}

// Admit decides whether a new connection from ip may join. A non-zero code
// refuses the connection; the reason string travels in the close frame.
func (c *Coordinator) Admit(ip string) (uint16, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ok, _ := c.limiter.Allow(ctx, ip, ratelimit.RuleConnect); !ok {
		// 1013 = try again later; connection throttling is not a ban.
		return 1013, "rate_limited"
	}

	if ban := c.guard.CheckIP(ip); ban != nil {
		return protocol.CloseIPBanned, "ip_banned"
	}
	if c.guard.IsCountryBlocked(ip) {
		return protocol.CloseCountryBlocked, "country_blocked"
	}
	if m := c.settings.Maintenance(); m.Enabled {
		return protocol.CloseMaintenance, "maintenance"
	}
	return 0, ""
}

// Connect registers an admitted connection as idle and sends it the ID it
// was assigned.
func (c *Coordinator) Connect(id, ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registry.Register(id, ip)
	c.updateGauges()

	c.send(id, protocol.TypeConnected, protocol.ConnectedData{UserID: id})
}

// Disconnect tears down a departed connection. If it was in a chat, the
// session ends, the surviving partner is notified, demoted to idle, and
// stamped with the departed partner for the grace-period exclusion.
func (c *Coordinator) Disconnect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.registry.Get(id)
	if u == nil {
		return
	}

	if u.Status == registry.StatusInChat {
		c.endSessionLocked(u, false, false)
	}

	c.registry.Remove(id)
	c.updateGauges()
}

// SetInterests replaces a connection's interest tags. Takes effect on the
// next matching attempt; an ongoing chat is unaffected.
func (c *Coordinator) SetInterests(id string, interests []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.registry.Get(id)
	if u == nil {
		return
	}
	u.Interests = append([]string(nil), interests...)
}

// SetProfile attaches a public profile shown to future partners.
func (c *Coordinator) SetProfile(id string, p protocol.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.registry.Get(id)
	if u == nil {
		return
	}
	u.Profile = &p
}

// FindMatch moves a connection into the waiting pool and immediately tries
// to pair it. If no eligible partner exists the connection stays waiting
// for the sweep.
func (c *Coordinator) FindMatch(id string) {
	c.mu.Lock()
	defer c.unlockAndClose()

	u := c.registry.Get(id)
	if u == nil || u.Status == registry.StatusInChat {
		return
	}

	u.SetWaiting()

	if cand := match.Pick(u, c.registry.Waiting(), nil, c.now()); cand != nil {
		c.pairLocked(u, cand)
	}
	c.updateGauges()
}

// Message relays a chat message to the sender's partner. Throttled per
// connection; silently dropped when the sender has no partner.
func (c *Coordinator) Message(id, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ok, _ := c.limiter.Allow(ctx, id, ratelimit.RuleMessage); !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.relayLocked(id, protocol.TypeMessage, protocol.MessageData{Content: content})
}

// Typing relays a typing indicator to the sender's partner.
func (c *Coordinator) Typing(id string, isTyping bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relayLocked(id, protocol.TypeTyping, protocol.TypingData{IsTyping: isTyping})
}

// Signal relays a WebRTC signaling payload (offer, answer, ice-candidate)
// to the sender's partner byte-for-byte.
func (c *Coordinator) Signal(id, msgType string, raw json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	partnerID, ok := c.partnerLocked(id)
	if !ok {
		return
	}

	data, err := protocol.NewRelayMessage(msgType, raw)
	if err != nil {
		log.Printf("[hub] relay build failed type=%s conn=%s: %v", msgType, id, err)
		return
	}
	if err := c.sender.SendMessage(partnerID, data); err == nil {
		metrics.RelayedTotal.WithLabelValues(msgType).Inc()
	}
}

// End finishes the caller's chat session. With requeue both sides return to
// the waiting pool with fresh wait clocks; without it both go idle. Either
// way the partner receives partner-disconnected and both sides carry the
// grace-period stamp.
func (c *Coordinator) End(id string, requeue bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.registry.Get(id)
	if u == nil || u.Status != registry.StatusInChat {
		return
	}

	c.endSessionLocked(u, requeue, true)
	c.updateGauges()
}

// Report files an abuse report against the caller's current or recent
// partner. Crossing the report-velocity threshold bans the reported IP and
// force-closes its live connections.
func (c *Coordinator) Report(reporterID, reportedUserID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ok, _ := c.limiter.Allow(ctx, reporterID, ratelimit.RuleReport); !ok {
		return
	}

	c.mu.Lock()
	defer c.unlockAndClose()

	if bot.IsBotID(reportedUserID) {
		return
	}
	reported := c.registry.Get(reportedUserID)
	if reported == nil {
		return
	}

	rep, autoBanned := c.guard.AddReport(reportedUserID, reported.IP, reporterID, reason)
	metrics.ReportsTotal.Inc()
	c.events.ReportFiled(reported.IP, reason)
	if c.archive != nil {
		c.archive.RecordReport(&session.ArchivedReport{
			ID:             rep.ID,
			ReportedUserID: rep.ReportedUserID,
			ReportedIP:     rep.ReportedIP,
			ReporterUserID: rep.ReporterUserID,
			Reason:         rep.Reason,
			ReportedAt:     rep.ReportedAt,
		})
	}

	if autoBanned {
		log.Printf("[hub] report velocity auto-ban ip=%s reported=%s", reported.IP, reportedUserID)
		metrics.BansTotal.WithLabelValues("auto").Inc()
		c.events.BanApplied(reported.IP, "report velocity", "system")
		c.kickIPLocked(reported.IP, "ip_banned")
	}
}

// BanIP applies an admin ban and kicks every live connection from that IP.
// duration zero means permanent.
func (c *Coordinator) BanIP(ip, reason, bannedBy string, duration time.Duration) *abuse.IPBan {
	c.mu.Lock()
	defer c.unlockAndClose()

	ban := c.guard.BanIP(ip, reason, bannedBy, duration)
	metrics.BansTotal.WithLabelValues("admin").Inc()
	c.events.BanApplied(ip, reason, bannedBy)
	c.kickIPLocked(ip, "ip_banned")
	return ban
}

// Sweep is the periodic matching pass. It walks the waiting pool oldest
// first, pairs each unprocessed connection with its best eligible candidate,
// and falls back to a bot for anyone waiting past the bot timeout when bots
// are enabled. Stale transports found during pairing are purged; their
// would-be partners are retried on the next tick.
func (c *Coordinator) Sweep() {
	c.mu.Lock()
	defer c.unlockAndClose()

	pool := c.registry.Waiting()
	match.SortByWaitTime(pool)

	now := c.now()
	processed := make(map[string]bool, len(pool))
	botsEnabled := c.settings.BotsEnabled()

	for _, u := range pool {
		if processed[u.ID] || u.Status != registry.StatusWaiting {
			continue
		}

		if cand := match.Pick(u, pool, processed, now); cand != nil {
			processed[u.ID] = true
			processed[cand.ID] = true
			c.pairLocked(u, cand)
			continue
		}

		if botsEnabled && c.bots != nil && match.BotDue(u, now) {
			processed[u.ID] = true
			c.pairBotLocked(u)
		}
	}

	c.updateGauges()
}

// CurrentStats returns the raw connection census. The API layer applies the
// fake-user-count display on top.
func (c *Coordinator) CurrentStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		TotalOnline: c.registry.Count(),
		Waiting:     c.registry.CountByStatus(registry.StatusWaiting),
		InChat:      c.registry.CountByStatus(registry.StatusInChat),
	}
}

// SessionAnalytics snapshots the session store's aggregates. The store
// carries no lock of its own, so reads from other goroutines must come
// through here.
func (c *Coordinator) SessionAnalytics() session.Analytics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessions.Stats()
}

// ---------------------------------------------------------------------------
// Internals. Callers hold c.mu.
// ---------------------------------------------------------------------------

// pairLocked creates a session for a and b and delivers the match events,
// with a as the initiator. A failed delivery marks that side's transport
// stale: the session is rolled back, the stale connection is purged, and the
// survivor keeps its place in the waiting pool.
func (c *Coordinator) pairLocked(a, b *registry.User) {
	sess := c.sessions.Create(a.ID, b.ID, false)

	aWait, bWait := a.WaitStartedAt, b.WaitStartedAt
	a.EnterChat(sess.ID, b.ID)
	b.EnterChat(sess.ID, a.ID)

	if !c.sendMatchLocked(a, sess.ID, true, b.Profile, false) {
		c.rollbackPairLocked(sess.ID, a, b, bWait, false)
		return
	}
	if !c.sendMatchLocked(b, sess.ID, false, a.Profile, false) {
		// a already saw the match event and needs to hear the pairing is off.
		c.rollbackPairLocked(sess.ID, b, a, aWait, true)
		return
	}

	now := c.now()
	metrics.MatchesTotal.WithLabelValues("human").Inc()
	metrics.MatchWait.Observe(now.Sub(aWait).Seconds())
	metrics.MatchWait.Observe(now.Sub(bWait).Seconds())
	c.events.SessionStarted(sess.ID, a.ID, b.ID, false)

	log.Printf("[hub] matched %s <-> %s session=%s score=%d",
		a.ID, b.ID, sess.ID, match.Score(a.Interests, b.Interests))
}

// rollbackPairLocked undoes a pairing whose match event could not be
// delivered to stale. The survivor returns to waiting with its original
// wait clock so it loses no queue seniority.
func (c *Coordinator) rollbackPairLocked(sessID string, stale, survivor *registry.User, survivorWait time.Time, notifySurvivor bool) {
	log.Printf("[hub] stale transport conn=%s, purging and requeueing %s", stale.ID, survivor.ID)

	c.sessions.End(sessID)
	c.registry.Remove(stale.ID)
	// 1001 = going away; the transport already failed a write.
	c.closeLaterLocked(stale.ID, 1001, "")

	survivor.LeaveChat("")
	survivor.SetWaiting()
	survivor.WaitStartedAt = survivorWait
	survivor.RecentPartnerID = ""
	survivor.RecentPartnerAt = time.Time{}

	if notifySurvivor {
		c.send(survivor.ID, protocol.TypePartnerDisconnected, nil)
	}
}

// pairBotLocked pairs a long-waiting user with a synthetic partner. The
// human is always the initiator.
func (c *Coordinator) pairBotLocked(u *registry.User) {
	botID, profile := c.bots.Generate(u.Interests)
	sess := c.sessions.Create(u.ID, botID, true)

	wait := u.WaitStartedAt
	u.EnterChat(sess.ID, botID)

	if !c.sendMatchLocked(u, sess.ID, true, profile, true) {
		c.sessions.End(sess.ID)
		c.registry.Remove(u.ID)
		c.closeLaterLocked(u.ID, 1001, "")
		return
	}

	metrics.MatchesTotal.WithLabelValues("bot").Inc()
	metrics.MatchWait.Observe(c.now().Sub(wait).Seconds())
	c.events.SessionStarted(sess.ID, u.ID, botID, true)

	log.Printf("[hub] bot match %s <-> %s session=%s", u.ID, botID, sess.ID)
}

// sendMatchLocked delivers a match event, reporting delivery success.
func (c *Coordinator) sendMatchLocked(u *registry.User, sessID string, initiator bool, partner *protocol.Profile, isBot bool) bool {
	data, err := protocol.NewServerMessage(protocol.TypeMatch, protocol.MatchData{
		SessionID:      sessID,
		Initiator:      initiator,
		PartnerProfile: partner,
		IsBot:          isBot,
	})
	if err != nil {
		log.Printf("[hub] match event build failed conn=%s: %v", u.ID, err)
		return false
	}
	return c.sender.SendMessage(u.ID, data) == nil
}

// endSessionLocked finishes u's current session. actorRemains is false when
// u's transport is already gone (disconnect path): u's own state is then
// left for removal by the caller. The surviving partner is notified and,
// on the explicit end path, follows the same requeue choice as the actor.
func (c *Coordinator) endSessionLocked(u *registry.User, requeue, actorRemains bool) {
	sess := c.sessions.Get(u.SessionID)
	partnerID := u.PartnerID

	c.sessions.End(u.SessionID) // feeds the archive when one is configured
	if sess != nil {
		c.events.SessionEnded(sess.ID, sess.UserA, sess.UserB)
	}

	if actorRemains {
		u.LeaveChat(partnerID)
		if requeue {
			u.SetWaiting()
		} else {
			u.SetIdle()
		}
	}

	if partner := c.registry.Get(partnerID); partner != nil {
		c.send(partner.ID, protocol.TypePartnerDisconnected, nil)
		partner.LeaveChat(u.ID)
		if actorRemains && requeue {
			partner.SetWaiting()
		} else {
			partner.SetIdle()
		}
	}
}

// relayLocked re-encodes and delivers a validated payload to the partner.
func (c *Coordinator) relayLocked(id, msgType string, payload interface{}) {
	partnerID, ok := c.partnerLocked(id)
	if !ok {
		return
	}

	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[hub] relay build failed type=%s conn=%s: %v", msgType, id, err)
		return
	}
	if err := c.sender.SendMessage(partnerID, data); err == nil {
		metrics.RelayedTotal.WithLabelValues(msgType).Inc()
	}
}

// partnerLocked resolves the live partner of a connection. Bot partners and
// missing partners both report false and the frame is silently dropped.
func (c *Coordinator) partnerLocked(id string) (string, bool) {
	u := c.registry.Get(id)
	if u == nil || u.PartnerID == "" || bot.IsBotID(u.PartnerID) {
		return "", false
	}
	return u.PartnerID, true
}

// kickIPLocked ends the chats of every live connection from ip, removes
// them from the registry, and schedules their force-close with the
// ip_banned close code.
func (c *Coordinator) kickIPLocked(ip, reason string) {
	for _, id := range c.registry.IDsByIP(ip) {
		u := c.registry.Get(id)
		if u != nil && u.Status == registry.StatusInChat {
			c.endSessionLocked(u, false, false)
		}
		c.registry.Remove(id)
		c.closeLaterLocked(id, protocol.CloseIPBanned, reason)
	}
	c.updateGauges()
}

// send builds and delivers a server message, logging delivery failures.
func (c *Coordinator) send(id, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[hub] message build failed type=%s conn=%s: %v", msgType, id, err)
		return
	}
	if err := c.sender.SendMessage(id, data); err != nil {
		log.Printf("[hub] send failed type=%s conn=%s: %v", msgType, id, err)
	}
}

// updateGauges refreshes the census gauges after a state change.
func (c *Coordinator) updateGauges() {
	metrics.Connections.Set(float64(c.registry.Count()))
	metrics.Waiting.Set(float64(c.registry.CountByStatus(registry.StatusWaiting)))
	metrics.ActiveChats.Set(float64(c.sessions.ActiveCount()))
}
