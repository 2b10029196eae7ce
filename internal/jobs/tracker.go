// Package jobs holds the polling and retention jobs and the bookkeeping around their runs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatwoot-formbricks-sync/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RunStatus represents the status of a job run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

var (
	// ErrUnknownJob is returned when triggering a job that is not registered.
	ErrUnknownJob = errors.New("unknown job")
	// ErrAlreadyRunning is returned when a run of the same job is still pending.
	ErrAlreadyRunning = errors.New("job already running")
)

// Result is what a job run reports.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Job is a unit of scheduled work. Every run is independent.
type Job interface {
	Name() string
	Run(ctx context.Context) (Result, error)
}

// Run is the record of one job run.
type Run struct {
	ID         string     `json:"id"`
	Job        string     `json:"job"`
	Trigger    string     `json:"trigger"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Processed  int        `json:"processed"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
}

// Tracker runs registered jobs and keeps the most recent run records in memory.
type Tracker struct {
	mu      sync.RWMutex
	jobs    map[string]Job
	running map[string]string // job name -> run ID
	runs    map[string]*Run
	order   []string
	maxRuns int
}

// NewTracker registers the given jobs.
func NewTracker(jobs ...Job) *Tracker {
	t := &Tracker{
		jobs:    make(map[string]Job, len(jobs)),
		running: make(map[string]string),
		runs:    make(map[string]*Run),
		maxRuns: 100,
	}
	for _, j := range jobs {
		t.jobs[j.Name()] = j
	}
	return t
}

// Jobs returns the registered job names, sorted.
func (t *Tracker) Jobs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.jobs))
	for name := range t.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the job synchronously and returns its finished record.
func (t *Tracker) Execute(ctx context.Context, name, trigger string) (Run, error) {
	job, run, err := t.start(name, trigger)
	if err != nil {
		return Run{}, err
	}
	t.execute(ctx, job, run)
	snapshot, _ := t.Get(run.ID)
	if snapshot.Status == RunStatusFailed {
		return snapshot, errors.New(snapshot.Error)
	}
	return snapshot, nil
}

// Trigger starts the job in the background and returns the pending record. The run is detached from
// ctx cancellation so it outlives the request that started it.
func (t *Tracker) Trigger(ctx context.Context, name, trigger string) (Run, error) {
	job, run, err := t.start(name, trigger)
	if err != nil {
		return Run{}, err
	}
	snapshot := *run
	go t.execute(context.WithoutCancel(ctx), job, run)
	return snapshot, nil
}

// Get returns a copy of a run record.
func (t *Tracker) Get(runID string) (Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[runID]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// List returns the most recent runs, newest first, optionally filtered by job.
func (t *Tracker) List(job string, limit int) []Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Run, 0)
	for i := len(t.order) - 1; i >= 0; i-- {
		run := t.runs[t.order[i]]
		if job != "" && run.Job != job {
			continue
		}
		out = append(out, *run)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (t *Tracker) start(name, trigger string) (Job, *Run, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if runID, busy := t.running[name]; busy {
		return nil, nil, fmt.Errorf("%w: %s (run %s)", ErrAlreadyRunning, name, runID)
	}

	run := &Run{
		ID:        uuid.NewString(),
		Job:       name,
		Trigger:   trigger,
		Status:    RunStatusPending,
		StartedAt: time.Now().UTC(),
	}
	t.running[name] = run.ID
	t.runs[run.ID] = run
	t.order = append(t.order, run.ID)
	if len(t.order) > t.maxRuns {
		drop := t.order[0]
		t.order = t.order[1:]
		delete(t.runs, drop)
	}
	return job, run, nil
}

func (t *Tracker) execute(ctx context.Context, job Job, run *Run) {
	log.Info().Str("job", run.Job).Str("runID", run.ID).Str("trigger", run.Trigger).Msg("Job run started")

	res, err := job.Run(ctx)
	finished := time.Now().UTC()

	t.mu.Lock()
	run.FinishedAt = &finished
	run.Processed = res.Processed
	run.Failed = res.Failed
	if err != nil {
		run.Status = RunStatusFailed
		run.Error = err.Error()
	} else {
		run.Status = RunStatusSucceeded
	}
	delete(t.running, run.Job)
	t.mu.Unlock()

	metrics.JobRuns.WithLabelValues(run.Job, string(run.Status)).Inc()
	metrics.JobDuration.WithLabelValues(run.Job).Observe(finished.Sub(run.StartedAt).Seconds())

	logEvent := log.Info()
	if err != nil {
		logEvent = log.Error().Err(err)
	}
	logEvent.
		Str("job", run.Job).
		Str("runID", run.ID).
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Dur("duration", finished.Sub(run.StartedAt)).
		Msg("Job run finished")
}
