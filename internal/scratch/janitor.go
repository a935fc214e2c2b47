package scratch

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Janitor sweeps the store on a cron schedule.
type Janitor struct {
	store   *Store
	maxAge  time.Duration
	onSwept func(int)

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewJanitor creates a janitor. onSwept, if set, receives the number of
// files removed by each run.
func NewJanitor(store *Store, maxAge time.Duration, onSwept func(int)) *Janitor {
	return &Janitor{
		store:   store,
		maxAge:  maxAge,
		onSwept: onSwept,
		cron:    cron.New(),
	}
}

// Start schedules the sweep using a standard five-field cron expression. An
// empty schedule disables the janitor.
func (j *Janitor) Start(schedule string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if schedule == "" {
		log.Info("scratch: sweep schedule not configured, janitor disabled")
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	if _, err := j.cron.AddFunc(schedule, j.RunOnce); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	j.cron.Start()
	j.running = true
	log.WithFields(log.Fields{"schedule": schedule, "max_age": j.maxAge}).Info("scratch: janitor started")
	return nil
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce() {
	n, err := j.store.Sweep(j.maxAge)
	if err != nil {
		log.WithError(err).Warn("scratch: sweep failed")
	}
	if j.onSwept != nil && n > 0 {
		j.onSwept(n)
	}
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	<-j.cron.Stop().Done()
	j.running = false
}

// NextRun reports the next scheduled sweep, or the zero time when stopped.
func (j *Janitor) NextRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries := j.cron.Entries()
	if !j.running || len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
