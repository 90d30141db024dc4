// Package scheduler runs periodic maintenance jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/billflow/backend/internal/infrastructure/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobStatus represents the outcome of the last run of a job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Job is a unit of periodic work
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name returns the job name
func (f JobFunc) Name() string { return f.JobName }

// Run calls Fn
func (f JobFunc) Run(ctx context.Context) error { return f.Fn(ctx) }

// JobState is the last known state of a registered job
type JobState struct {
	Name       string
	Spec       string
	Status     JobStatus
	Error      string
	LastRunAt  *time.Time
	NextRunAt  time.Time
	RunCount   int
	FailCount  int
	LastTookMs int64
}

type entry struct {
	id      cron.EntryID
	spec    string
	job     Job
	timeout time.Duration
	state   JobState
}

// Scheduler wraps a cron runner. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
	rootCtx context.Context
	cancel  context.CancelFunc
}

// New creates a stopped scheduler using standard five-field cron specs
func New(log *zap.Logger) *Scheduler {
	cl := cronLogger{logger: log.Named("cron")}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		), cron.WithLogger(cl)),
		logger:  log,
		entries: make(map[string]*entry),
	}
}

// Register adds job on spec. timeout bounds a single run; zero means none.
func (s *Scheduler) Register(spec string, job Job, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	if _, dup := s.entries[job.Name()]; dup {
		return fmt.Errorf("%w: job %q registered twice", ErrInvalidConfig, job.Name())
	}

	e := &entry{
		spec:    spec,
		job:     job,
		timeout: timeout,
		state:   JobState{Name: job.Name(), Spec: spec, Status: JobStatusPending},
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(e) })
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, job.Name(), err)
	}
	e.id = id
	s.entries[job.Name()] = e
	return nil
}

// Start begins firing jobs. Runs get a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.rootCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.entries)))
}

// Stop cancels running jobs and waits for them up to ctx's deadline
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes a registered job synchronously, outside its schedule
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown job %q", ErrInvalidConfig, name)
	}
	return s.execute(ctx, e)
}

// States returns a snapshot of every registered job
func (s *Scheduler) States() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobState, 0, len(s.entries))
	for _, e := range s.entries {
		st := e.state
		if s.running {
			st.NextRunAt = s.cron.Entry(e.id).Next
		}
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) run(e *entry) {
	s.mu.Lock()
	ctx := s.rootCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_ = s.execute(ctx, e)
}

func (s *Scheduler) execute(ctx context.Context, e *entry) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	s.mu.Lock()
	e.state.Status = JobStatusRunning
	e.state.LastRunAt = &start
	s.mu.Unlock()

	log := logger.WithTraceContext(ctx, s.logger).With(zap.String("job", e.job.Name()))
	ctx = logger.WithContext(ctx, log)
	log.Info("Job started")
	err := e.job.Run(ctx)
	took := time.Since(start)

	s.mu.Lock()
	e.state.RunCount++
	e.state.LastTookMs = took.Milliseconds()
	if err != nil {
		e.state.Status = JobStatusFailed
		e.state.Error = err.Error()
		e.state.FailCount++
	} else {
		e.state.Status = JobStatusSuccess
		e.state.Error = ""
	}
	s.mu.Unlock()

	if err != nil {
		log.Error("Job failed", zap.Duration("took", took), zap.Error(err))
		return err
	}
	log.Info("Job completed", zap.Duration("took", took))
	return nil
}

// cronLogger routes cron's internal logging to zap
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
