package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Scheduler fires tracked jobs from cron expressions.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	tracker  *Tracker
	entryMap map[string]cron.EntryID // job name -> cron entry

	// ctx is handed to every scheduled run and cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler for the tracker's jobs. A tick that finds the previous run of the
// same job still going is skipped.
func NewScheduler(tracker *Tracker) *Scheduler {
	logger := cronLogger{log.Logger.With().Str("component", "cron").Logger()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(logger)), cron.WithLogger(logger)),
		tracker:  tracker,
		entryMap: make(map[string]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Schedule registers a job under a standard cron expression or descriptor such as "@hourly".
func (s *Scheduler) Schedule(job, expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entryMap[job]; ok {
		return fmt.Errorf("job %s is already scheduled", job)
	}
	id, err := s.cron.AddFunc(expr, func() {
		if _, err := s.tracker.Execute(s.ctx, job, "schedule"); err != nil {
			log.Warn().Err(err).Str("job", job).Msg("Scheduled job run did not succeed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", expr, job, err)
	}
	s.entryMap[job] = id
	log.Info().Str("job", job).Str("schedule", expr).Msg("Job scheduled")
	return nil
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("jobs", len(s.entryMap)).Msg("Scheduler started")
}

// Stop stops the scheduler, cancels running jobs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("Scheduler stopped before running jobs finished")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
