package session

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ArchivedReport is the durable form of an abuse report handed to the archive.
type ArchivedReport struct {
	ID             string
	ReportedUserID string
	ReportedIP     string
	ReporterUserID string
	Reason         string
	ReportedAt     time.Time
}

// Archive is an optional Postgres write-behind for ended sessions and abuse
// reports. Writes are buffered on a channel and flushed by one background
// goroutine so the hub never blocks on the database; a full buffer drops the
// oldest-pending write rather than stalling matchmaking.
type Archive struct {
	db      *sql.DB
	queue   chan archiveItem
	done    chan struct{}
	stopped chan struct{}
}

type archiveItem struct {
	session *ChatSession
	report  *ArchivedReport
}

// OpenArchive connects to Postgres, applies the embedded migrations and
// starts the writer goroutine.
func OpenArchive(databaseURL string) (*Archive, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("session: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: postgres ping: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	a := &Archive{
		db:      db,
		queue:   make(chan archiveItem, 1024),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go a.writeLoop()

	log.Printf("[archive] postgres archive ready")
	return a, nil
}

// runMigrations applies the embedded schema migrations.
func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("session: load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("session: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("session: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("session: migrate up: %w", err)
	}
	return nil
}

// RecordSession queues an ended session for archiving. Never blocks.
func (a *Archive) RecordSession(cs *ChatSession) {
	snapshot := *cs
	select {
	case a.queue <- archiveItem{session: &snapshot}:
	default:
		log.Printf("[archive] queue full, dropping session %s", cs.ID)
	}
}

// RecordReport queues an abuse report for archiving. Never blocks.
func (a *Archive) RecordReport(r *ArchivedReport) {
	snapshot := *r
	select {
	case a.queue <- archiveItem{report: &snapshot}:
	default:
		log.Printf("[archive] queue full, dropping report %s", r.ID)
	}
}

// writeLoop drains the queue until Close is called, then flushes what is left.
func (a *Archive) writeLoop() {
	defer close(a.stopped)
	for {
		select {
		case item := <-a.queue:
			a.write(item)
		case <-a.done:
			for {
				select {
				case item := <-a.queue:
					a.write(item)
				default:
					return
				}
			}
		}
	}
}

func (a *Archive) write(item archiveItem) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	switch {
	case item.session != nil:
		cs := item.session
		const query = `
			INSERT INTO chat_sessions (id, user_a, user_b, is_bot, started_at, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`
		if _, err := a.db.ExecContext(ctx, query,
			cs.ID, cs.UserA, cs.UserB, cs.IsBot, cs.StartedAt, cs.EndedAt); err != nil {
			log.Printf("[archive] insert session %s: %v", cs.ID, err)
		}

	case item.report != nil:
		r := item.report
		const query = `
			INSERT INTO abuse_reports (id, reported_user_id, reported_ip, reporter_user_id, reason, reported_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`
		if _, err := a.db.ExecContext(ctx, query,
			r.ID, r.ReportedUserID, r.ReportedIP, r.ReporterUserID, r.Reason, r.ReportedAt); err != nil {
			log.Printf("[archive] insert report %s: %v", r.ID, err)
		}
	}
}

// Close stops the writer goroutine, flushes pending writes and closes the
// database handle.
func (a *Archive) Close() error {
	close(a.done)
	<-a.stopped
	return a.db.Close()
}
