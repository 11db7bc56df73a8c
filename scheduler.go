package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// SchedulerStore is the slice of the persistence port the coordinator
// needs: job logs plus the externally owned custom schedule rows.
type SchedulerStore interface {
	CreateCollectionJob(job *CollectionJob) error
	FinishCollectionJob(job *CollectionJob) error
	FetchDueScheduleEntries(now time.Time) ([]ScheduleEntry, error)
	UpdateScheduleStatus(id int64, status JobStatus) error
}

// Coordinator arbitrates the three trigger sources over the single
// run-lock. The mouse, keyboard and screen belong to one game client, so
// at most one navigator execution may be active system-wide; the lock is
// held for the full duration of a job and released on every exit path.
type Coordinator struct {
	cfg      Config
	store    SchedulerStore
	runner   func(job *CollectionJob) error // executes one navigator walk
	afterJob func(job *CollectionJob)       // optional post-job hook (analysis, alerts)

	runLock sync.Mutex
}

// NewCoordinator wires the scheduler. afterJob may be nil.
func NewCoordinator(cfg Config, store SchedulerStore, runner func(*CollectionJob) error, afterJob func(*CollectionJob)) *Coordinator {
	return &Coordinator{cfg: cfg, store: store, runner: runner, afterJob: afterJob}
}

func newJob(mode CollectionMode, trigger TriggerSource) *CollectionJob {
	return &CollectionJob{
		ID:        uuid.NewString(),
		Mode:      mode,
		Trigger:   trigger,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}
}

// TriggerManual starts an operator-invoked run. If the lock is held it
// fails fast with ErrCollectionRunning instead of queuing; the running job
// is unaffected.
func (c *Coordinator) TriggerManual(mode CollectionMode) (*CollectionJob, error) {
	if !c.runLock.TryLock() {
		log.Printf("[W] [Scheduler] Manual %s trigger rejected: collection already running.", mode)
		return nil, ErrCollectionRunning
	}
	job := newJob(mode, TriggerManual)
	c.execute(job) // execute releases the lock
	return job, nil
}

// runFixed fires at each fixed wall-clock time. Missed fixed runs are
// recorded Skipped, never queued or replayed.
func (c *Coordinator) runFixed() {
	if !c.runLock.TryLock() {
		job := newJob(ModeComplete, TriggerFixed)
		job.Status = StatusSkipped
		job.FinishedAt = time.Now()
		log.Printf("[W] [Scheduler] Fixed trigger at %s skipped: lock held by a running job.",
			job.StartedAt.Format("15:04"))
		c.recordSkipped(job)
		return
	}
	log.Printf("[I] [Scheduler] Fixed trigger fired. Starting complete collection.")
	c.execute(newJob(ModeComplete, TriggerFixed))
}

// pollCustom evaluates due custom schedule entries once. Contended entries
// stay pending for the next tick until the max-defer window expires, then
// are marked skipped so they cannot starve forever.
func (c *Coordinator) pollCustom(now time.Time) {
	entries, err := c.store.FetchDueScheduleEntries(now)
	if err != nil {
		log.Printf("[E] [Scheduler] Failed to fetch due schedule entries: %v", err)
		return
	}

	for _, entry := range entries {
		if !c.runLock.TryLock() {
			if now.Sub(entry.ScheduledFor) > c.cfg.MaxDeferWindow {
				log.Printf("[W] [Scheduler] Schedule #%d deferred past %s window. Marking skipped.",
					entry.ID, c.cfg.MaxDeferWindow)
				if err := c.store.UpdateScheduleStatus(entry.ID, StatusSkipped); err != nil {
					log.Printf("[E] [Scheduler] Failed to mark schedule #%d skipped: %v", entry.ID, err)
				}
			} else {
				log.Printf("[I] [Scheduler] Schedule #%d deferred: lock held. Will retry next poll.", entry.ID)
			}
			continue
		}

		log.Printf("[I] [Scheduler] Executing schedule #%d (%s).", entry.ID, entry.Mode)
		job := newJob(entry.Mode, TriggerCustom)
		job.ScheduleID = entry.ID
		c.execute(job)

		if err := c.store.UpdateScheduleStatus(entry.ID, job.Status); err != nil {
			log.Printf("[E] [Scheduler] Failed to write back status for schedule #%d: %v", entry.ID, err)
		}
	}
}

// execute runs one job to its terminal status. The caller must hold the
// run-lock; execute releases it on every path, panics included, so a
// crashed run can never deadlock future triggers.
func (c *Coordinator) execute(job *CollectionJob) {
	defer c.runLock.Unlock()
	defer func() {
		if r := recover(); r != nil {
			job.Status = StatusFailed
			job.ErrorMessage = fmt.Sprintf("panic: %v", r)
			job.FinishedAt = time.Now()
			log.Printf("[E] [Scheduler] Job %s panicked: %v", job.ID, r)
			c.finish(job)
		}
	}()

	job.Status = StatusRunning
	if err := c.store.CreateCollectionJob(job); err != nil {
		log.Printf("[E] [Scheduler] Failed to record job %s: %v", job.ID, err)
	}
	log.Printf("[I] [Scheduler] Job %s started (%s, trigger %s).", job.ID, job.Mode, job.Trigger)

	err := c.runner(job)
	job.FinishedAt = time.Now()
	if err != nil {
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
		log.Printf("[E] [Scheduler] Job %s failed after %s: %v", job.ID, job.FinishedAt.Sub(job.StartedAt).Round(time.Second), err)
	} else {
		job.Status = StatusCompleted
		log.Printf("[I] [Scheduler] Job %s completed in %s: %d items, %d pages, %d skipped.",
			job.ID, job.FinishedAt.Sub(job.StartedAt).Round(time.Second),
			job.ItemsSaved, job.PagesScanned, job.SlotsSkipped)
	}
	c.finish(job)
}

func (c *Coordinator) finish(job *CollectionJob) {
	if err := c.store.FinishCollectionJob(job); err != nil {
		log.Printf("[E] [Scheduler] Failed to finalize job %s: %v", job.ID, err)
	}
	if c.afterJob != nil {
		c.afterJob(job)
	}
}

func (c *Coordinator) recordSkipped(job *CollectionJob) {
	if err := c.store.CreateCollectionJob(job); err != nil {
		log.Printf("[E] [Scheduler] Failed to record skipped job: %v", err)
		return
	}
	if err := c.store.FinishCollectionJob(job); err != nil {
		log.Printf("[E] [Scheduler] Failed to finalize skipped job: %v", err)
	}
}

// Start runs the fixed cron and the custom schedule poller until the
// context is canceled. Both evaluators are lightweight observers; only the
// run-lock decides who actually collects.
func (c *Coordinator) Start(ctx context.Context) error {
	fixed := cron.New()
	if _, err := fixed.AddFunc(c.cfg.FixedCronSpec, c.runFixed); err != nil {
		return fmt.Errorf("invalid fixed cron spec %q: %w", c.cfg.FixedCronSpec, err)
	}
	fixed.Start()
	defer fixed.Stop()
	log.Printf("[I] [Scheduler] Fixed collections scheduled: %q (local time).", c.cfg.FixedCronSpec)

	ticker := time.NewTicker(c.cfg.SchedulePollInterval)
	defer ticker.Stop()
	log.Printf("[I] [Scheduler] Polling custom schedules every %s.", c.cfg.SchedulePollInterval)

	c.pollCustom(time.Now()) // catch entries already due at startup

	for {
		select {
		case <-ctx.Done():
			log.Printf("[I] [Scheduler] Shutdown signal received. Stopping scheduler.")
			return nil
		case now := <-ticker.C:
			c.pollCustom(now)
		}
	}
}
