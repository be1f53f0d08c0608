// Package scheduler runs independent periodic jobs. Each job ticks on its own goroutine so a
// slow job never delays another, and a job's ticks never overlap.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Job is one unit of periodic work.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// JobResult describes one execution of a job.
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// JobStatus is the running summary of one job.
type JobStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int64         `json:"runs"`
	Failures int64         `json:"failures"`
	Last     *JobResult    `json:"last,omitempty"`
}

// Status represents scheduler status.
type Status struct {
	Running bool          `json:"running"`
	Uptime  time.Duration `json:"uptime"`
	Jobs    []JobStatus   `json:"jobs"`
}

type entry struct {
	job      Job
	interval time.Duration

	mu     sync.Mutex
	status JobStatus
}

// Scheduler manages registered jobs.
type Scheduler struct {
	mu        sync.Mutex
	jobs      map[string]*entry
	running   bool
	startTime time.Time
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{jobs: make(map[string]*entry)}
}

// Add registers job to run every interval. Jobs must be added before Start.
func (s *Scheduler) Add(job Job, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be > 0, got %s", job.Name(), interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("job %s: scheduler already running", job.Name())
	}
	if _, dup := s.jobs[job.Name()]; dup {
		return fmt.Errorf("job %s: already registered", job.Name())
	}
	s.jobs[job.Name()] = &entry{
		job:      job,
		interval: interval,
		status:   JobStatus{Name: job.Name(), Interval: interval},
	}
	return nil
}

// ListJobs returns the registered job names in order.
func (s *Scheduler) ListJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetStatus returns current scheduler status.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	st := Status{Running: s.running}
	if s.running {
		st.Uptime = time.Since(s.startTime)
	}
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		js := e.status
		if js.Last != nil {
			last := *js.Last
			js.Last = &last
		}
		e.mu.Unlock()
		st.Jobs = append(st.Jobs, js)
	}
	sort.Slice(st.Jobs, func(i, j int) bool { return st.Jobs[i].Name < st.Jobs[j].Name })
	return st
}

// Start runs every job until ctx is cancelled and returns once all of them have stopped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.startTime = time.Now()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	log.Info().Int("jobs", len(entries)).Msg("Scheduler starting")

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	log.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	limiter := rate.NewLimiter(rate.Every(e.interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		s.execute(ctx, e)
	}
}

// RunJob executes a registered job immediately, outside of its cadence.
func (s *Scheduler) RunJob(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("job not found: %s", name)
	}
	res := s.execute(ctx, e)
	return &res, nil
}

func (s *Scheduler) execute(ctx context.Context, e *entry) (res JobResult) {
	res = JobResult{JobName: e.job.Name(), StartTime: time.Now(), Success: true}
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("panic: %v", r)
			log.Error().Str("job", res.JobName).Interface("panic", r).Msg("Job panicked")
		}
		res.Duration = time.Since(res.StartTime)
		e.mu.Lock()
		e.status.Runs++
		if !res.Success {
			e.status.Failures++
		}
		last := res
		e.status.Last = &last
		e.mu.Unlock()
	}()

	if err := e.job.RunOnce(ctx); err != nil {
		res.Success = false
		res.Error = err.Error()
	}
	return res
}
