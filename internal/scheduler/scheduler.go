package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/taskforge/taskforge/pkg/panicerr"
)

// JobFunc is one tick of a periodic job. A returned error is logged and
// counted; the job keeps its schedule.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc

	mu        sync.Mutex
	runs      int
	failures  int
	lastRun   time.Time
	lastError string
}

// JobStatus is a snapshot of a registered job's execution history.
type JobStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Runs      int           `json:"runs"`
	Failures  int           `json:"failures"`
	LastRun   time.Time     `json:"last_run"`
	LastError string        `json:"last_error,omitempty"`
}

// Scheduler runs registered jobs on fixed intervals in supervised
// goroutines. A panicking job tick is recovered and recorded as a
// failure without taking the process down.
type Scheduler struct {
	mu   sync.Mutex
	jobs []*job
	wg   conc.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &job{name: name, interval: interval, fn: fn})
}

// Start launches one goroutine per job and blocks until ctx is done and
// all jobs have returned.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	jobs := s.jobs
	s.mu.Unlock()

	for _, j := range jobs {
		j := j
		s.wg.Go(func() {
			s.runJob(ctx, j)
		})
	}
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	slog.InfoContext(ctx, "scheduler job started",
		slog.String("job", j.name), slog.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "scheduler job stopped", slog.String("job", j.name))
			return
		case <-ticker.C:
			s.tick(ctx, j)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, j *job) {
	err := panicerr.SafeContext(j.fn)(ctx)

	j.mu.Lock()
	j.runs++
	j.lastRun = time.Now()
	if err != nil {
		j.failures++
		j.lastError = err.Error()
	} else {
		j.lastError = ""
	}
	j.mu.Unlock()

	if err != nil {
		slog.ErrorContext(ctx, "scheduler job tick failed",
			slog.String("job", j.name), slog.Any("error", err))
	}
}

// Status returns a snapshot of every registered job.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	jobs := s.jobs
	s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		statuses = append(statuses, JobStatus{
			Name:      j.name,
			Interval:  j.interval,
			Runs:      j.runs,
			Failures:  j.failures,
			LastRun:   j.lastRun,
			LastError: j.lastError,
		})
		j.mu.Unlock()
	}
	return statuses
}
