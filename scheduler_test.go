package main

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSchedulerStore struct {
	mu       sync.Mutex
	created  []*CollectionJob
	finished []*CollectionJob
	due      []ScheduleEntry
	statuses map[int64]JobStatus
}

func newFakeSchedulerStore() *fakeSchedulerStore {
	return &fakeSchedulerStore{statuses: make(map[int64]JobStatus)}
}

func (f *fakeSchedulerStore) CreateCollectionJob(job *CollectionJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, job)
	return nil
}

func (f *fakeSchedulerStore) FinishCollectionJob(job *CollectionJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, job)
	return nil
}

func (f *fakeSchedulerStore) FetchDueScheduleEntries(now time.Time) ([]ScheduleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.due, nil
}

func (f *fakeSchedulerStore) UpdateScheduleStatus(id int64, status JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeSchedulerStore) finishedStatuses() []JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]JobStatus, len(f.finished))
	for i, job := range f.finished {
		out[i] = job.Status
	}
	return out
}

func schedulerConfig() Config {
	cfg := testConfig()
	cfg.MaxDeferWindow = 30 * time.Minute
	cfg.SchedulePollInterval = time.Minute
	return cfg
}

func TestTriggerManualRunsToCompletion(t *testing.T) {
	store := newFakeSchedulerStore()
	var ran int
	c := NewCoordinator(schedulerConfig(), store, func(job *CollectionJob) error {
		ran++
		job.ItemsSaved = 42
		return nil
	}, nil)

	job, err := c.TriggerManual(ModeComplete)
	if err != nil {
		t.Fatalf("TriggerManual: %v", err)
	}
	if ran != 1 {
		t.Fatalf("runner ran %d times, want 1", ran)
	}
	if job.Status != StatusCompleted {
		t.Errorf("job status = %s, want %s", job.Status, StatusCompleted)
	}
	if job.Trigger != TriggerManual {
		t.Errorf("job trigger = %s, want %s", job.Trigger, TriggerManual)
	}
	if len(store.created) != 1 || len(store.finished) != 1 {
		t.Errorf("job log rows: created=%d finished=%d, want 1/1", len(store.created), len(store.finished))
	}
}

func TestTriggerManualFailsFastWhileRunning(t *testing.T) {
	store := newFakeSchedulerStore()
	started := make(chan struct{})
	release := make(chan struct{})
	c := NewCoordinator(schedulerConfig(), store, func(job *CollectionJob) error {
		close(started)
		<-release
		return nil
	}, nil)

	done := make(chan *CollectionJob)
	go func() {
		job, _ := c.TriggerManual(ModeComplete)
		done <- job
	}()
	<-started

	if _, err := c.TriggerManual(ModeSelective); !errors.Is(err, ErrCollectionRunning) {
		t.Fatalf("second trigger err = %v, want ErrCollectionRunning", err)
	}

	close(release)
	first := <-done
	if first.Status != StatusCompleted {
		t.Errorf("first job status = %s, want %s", first.Status, StatusCompleted)
	}
	if len(store.created) != 1 {
		t.Errorf("created %d job rows, want 1 (rejected trigger leaves no row)", len(store.created))
	}
}

func TestTriggerManualReportsRunnerFailure(t *testing.T) {
	store := newFakeSchedulerStore()
	c := NewCoordinator(schedulerConfig(), store, func(job *CollectionJob) error {
		return errors.New("calibration drift")
	}, nil)

	job, err := c.TriggerManual(ModeComplete)
	if err != nil {
		t.Fatalf("TriggerManual: %v", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("job status = %s, want %s", job.Status, StatusFailed)
	}
	if job.ErrorMessage != "calibration drift" {
		t.Errorf("error message = %q", job.ErrorMessage)
	}
}

// A fixed trigger fired while a job holds the lock is recorded Skipped
// and never queued.
func TestFixedTriggerSkippedUnderContention(t *testing.T) {
	store := newFakeSchedulerStore()
	started := make(chan struct{})
	release := make(chan struct{})
	c := NewCoordinator(schedulerConfig(), store, func(job *CollectionJob) error {
		close(started)
		<-release
		return nil
	}, nil)

	go c.TriggerManual(ModeComplete)
	<-started

	c.runFixed()
	close(release)

	// Wait for the manual job to finish so both rows are visible.
	deadline := time.After(2 * time.Second)
	for {
		if len(store.finishedStatuses()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("finished rows = %v, want 2", store.finishedStatuses())
		case <-time.After(5 * time.Millisecond):
		}
	}

	var sawSkipped bool
	for _, job := range store.finished {
		if job.Trigger == TriggerFixed && job.Status == StatusSkipped {
			sawSkipped = true
		}
	}
	if !sawSkipped {
		t.Errorf("no skipped fixed-trigger row recorded: %+v", store.finishedStatuses())
	}
}

func TestFixedTriggerRunsWhenIdle(t *testing.T) {
	store := newFakeSchedulerStore()
	var gotMode CollectionMode
	c := NewCoordinator(schedulerConfig(), store, func(job *CollectionJob) error {
		gotMode = job.Mode
		return nil
	}, nil)

	c.runFixed()

	if gotMode != ModeComplete {
		t.Errorf("fixed trigger mode = %s, want %s", gotMode, ModeComplete)
	}
	if len(store.finished) != 1 || store.finished[0].Status != StatusCompleted {
		t.Errorf("finished rows = %v", store.finishedStatuses())
	}
}

func TestPollCustomExecutesDueEntry(t *testing.T) {
	store := newFakeSchedulerStore()
	now := time.Now()
	store.due = []ScheduleEntry{{ID: 7, Mode: ModeSelective, ScheduledFor: now.Add(-time.Minute)}}

	var gotMode CollectionMode
	c := NewCoordinator(schedulerConfig(), store, func(job *CollectionJob) error {
		gotMode = job.Mode
		return nil
	}, nil)

	c.pollCustom(now)

	if gotMode != ModeSelective {
		t.Errorf("scheduled mode = %s, want %s", gotMode, ModeSelective)
	}
	if store.statuses[7] != StatusCompleted {
		t.Errorf("schedule #7 status = %s, want %s", store.statuses[7], StatusCompleted)
	}
	if len(store.created) != 1 || store.created[0].ScheduleID != 7 {
		t.Errorf("job row not linked to schedule entry: %+v", store.created)
	}
}

func TestPollCustomWritesBackFailure(t *testing.T) {
	store := newFakeSchedulerStore()
	now := time.Now()
	store.due = []ScheduleEntry{{ID: 3, Mode: ModeComplete, ScheduledFor: now}}

	c := NewCoordinator(schedulerConfig(), store, func(job *CollectionJob) error {
		return errors.New("market window not found")
	}, nil)

	c.pollCustom(now)

	if store.statuses[3] != StatusFailed {
		t.Errorf("schedule #3 status = %s, want %s", store.statuses[3], StatusFailed)
	}
}

// A contended custom entry inside the defer window stays pending; past
// the window it is marked skipped.
func TestPollCustomDefersThenSkips(t *testing.T) {
	store := newFakeSchedulerStore()
	now := time.Now()
	store.due = []ScheduleEntry{{ID: 9, Mode: ModeComplete, ScheduledFor: now.Add(-time.Minute)}}

	started := make(chan struct{})
	release := make(chan struct{})
	c := NewCoordinator(schedulerConfig(), store, func(job *CollectionJob) error {
		close(started)
		<-release
		return nil
	}, nil)

	go c.TriggerManual(ModeComplete)
	<-started
	defer close(release)

	c.pollCustom(now)
	if _, ok := store.statuses[9]; ok {
		t.Fatalf("entry inside defer window got status %s, want untouched", store.statuses[9])
	}

	// Same entry, evaluated past the max defer window.
	store.due[0].ScheduledFor = now.Add(-time.Hour)
	c.pollCustom(now)
	if store.statuses[9] != StatusSkipped {
		t.Errorf("schedule #9 status = %s, want %s", store.statuses[9], StatusSkipped)
	}
}

// A panicking runner must not leave the lock held; the next trigger
// still goes through.
func TestPanickedJobReleasesLock(t *testing.T) {
	store := newFakeSchedulerStore()
	calls := 0
	c := NewCoordinator(schedulerConfig(), store, func(job *CollectionJob) error {
		calls++
		if calls == 1 {
			panic("tooltip region out of bounds")
		}
		return nil
	}, nil)

	first, err := c.TriggerManual(ModeComplete)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if first.Status != StatusFailed {
		t.Errorf("panicked job status = %s, want %s", first.Status, StatusFailed)
	}
	if first.ErrorMessage == "" {
		t.Error("panicked job has no error message")
	}

	second, err := c.TriggerManual(ModeComplete)
	if err != nil {
		t.Fatalf("trigger after panic: %v", err)
	}
	if second.Status != StatusCompleted {
		t.Errorf("post-panic job status = %s, want %s", second.Status, StatusCompleted)
	}
}

func TestAfterJobHookRunsOnCompletion(t *testing.T) {
	store := newFakeSchedulerStore()
	var hooked *CollectionJob
	c := NewCoordinator(schedulerConfig(), store, func(job *CollectionJob) error {
		return nil
	}, func(job *CollectionJob) { hooked = job })

	job, err := c.TriggerManual(ModeComplete)
	if err != nil {
		t.Fatalf("TriggerManual: %v", err)
	}
	if hooked != job {
		t.Error("afterJob hook did not receive the finished job")
	}
}
