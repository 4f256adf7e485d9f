package match

import (
	"context"
	"log"
	"time"
)

// Scheduler drives the periodic matchmaking sweep. The sweep body lives in
// the hub (which owns the state lock); the scheduler only provides the tick.
type Scheduler struct {
	interval time.Duration
	sweep    func()
	cancel   context.CancelFunc
}

// NewScheduler creates a Scheduler that invokes sweep every interval. A
// non-positive interval falls back to SweepInterval.
func NewScheduler(interval time.Duration, sweep func()) *Scheduler {
	if interval <= 0 {
		interval = SweepInterval
	}
	return &Scheduler{interval: interval, sweep: sweep}
}

// Start launches the sweep loop in a background goroutine.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[scheduler] sweep loop stopped")
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()

	log.Printf("[scheduler] sweep loop started (interval=%s)", s.interval)
}

// Stop terminates the sweep loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}
