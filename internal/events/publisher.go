// Package events publishes matchmaking and abuse lifecycle events to NATS
// so external consumers (analytics, alerting) can observe the engine without
// being in its request path. The publisher is optional: a nil *Publisher is
// safe to call and publishes nothing.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects emitted by the engine.
const (
	SubjectSessionStarted = "session.started"
	SubjectSessionEnded   = "session.ended"
	SubjectAbuseReport    = "abuse.report"
	SubjectAbuseBan       = "abuse.ban"
)

// SessionEvent describes a chat session starting or ending.
type SessionEvent struct {
	SessionID string    `json:"sessionId"`
	UserA     string    `json:"userA"`
	UserB     string    `json:"userB"`
	IsBot     bool      `json:"isBot,omitempty"`
	At        time.Time `json:"at"`
}

// AbuseEvent describes a report being filed or a ban being applied.
type AbuseEvent struct {
	IP       string    `json:"ip"`
	Reason   string    `json:"reason,omitempty"`
	BannedBy string    `json:"bannedBy,omitempty"`
	At       time.Time `json:"at"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "paircast",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Publisher wraps a NATS connection for outbound lifecycle events.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS. Returns an error if the initial connection
// fails; reconnects after that are handled by the client.
func NewPublisher(config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[events] nats disconnected: %v", err)
			} else {
				log.Printf("[events] nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[events] nats reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}

	log.Printf("[events] connected to %s", nc.ConnectedUrl())
	return &Publisher{conn: nc}, nil
}

// publish marshals and sends an event. Publish failures are logged, never
// surfaced: events are observability, not control flow.
func (p *Publisher) publish(subject string, event interface{}) {
	if p == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[events] marshal %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[events] publish %s: %v", subject, err)
	}
}

// SessionStarted announces a new chat session.
func (p *Publisher) SessionStarted(sessionID, userA, userB string, isBot bool) {
	p.publish(SubjectSessionStarted, SessionEvent{
		SessionID: sessionID,
		UserA:     userA,
		UserB:     userB,
		IsBot:     isBot,
		At:        time.Now(),
	})
}

// SessionEnded announces a chat session ending.
func (p *Publisher) SessionEnded(sessionID, userA, userB string) {
	p.publish(SubjectSessionEnded, SessionEvent{
		SessionID: sessionID,
		UserA:     userA,
		UserB:     userB,
		At:        time.Now(),
	})
}

// ReportFiled announces an abuse report against an IP.
func (p *Publisher) ReportFiled(ip, reason string) {
	p.publish(SubjectAbuseReport, AbuseEvent{IP: ip, Reason: reason, At: time.Now()})
}

// BanApplied announces an IP ban.
func (p *Publisher) BanApplied(ip, reason, bannedBy string) {
	p.publish(SubjectAbuseBan, AbuseEvent{IP: ip, Reason: reason, BannedBy: bannedBy, At: time.Now()})
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		log.Printf("[events] drain: %v", err)
	}
	log.Printf("[events] publisher closed")
}
