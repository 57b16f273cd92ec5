// Package jobs tracks the one background job a user may have in flight.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a user's job slot.
type State string

const (
	Idle       State = "idle"
	Running    State = "running"
	Cancelling State = "cancelling"
)

var (
	ErrAlreadyRunning = errors.New("a job is already running for this user")
	ErrNotRunning     = errors.New("no job is running for this user")
)

// Status is the pollable view of a user's current or last job.
type Status struct {
	JobID      string     `json:"job_id,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	State      State      `json:"state"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Func is the work of a job. The returned message is kept as the job's
// result text.
type Func func(ctx context.Context) (string, error)

type slot struct {
	status Status
	cancel context.CancelFunc
}

// Tracker runs at most one job per user and remembers the outcome of the
// last one.
type Tracker struct {
	mu    sync.Mutex
	slots map[string]*slot
	base  context.Context
	wg    sync.WaitGroup
	now   func() time.Time
}

// NewTracker returns a Tracker whose jobs are cancelled when ctx is.
func NewTracker(ctx context.Context) *Tracker {
	return &Tracker{
		slots: make(map[string]*slot),
		base:  ctx,
		now:   time.Now,
	}
}

// Start launches fn in the background unless the user already has a job.
func (t *Tracker) Start(userID, kind string, fn Func) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[userID]
	if !ok {
		s = &slot{}
		t.slots[userID] = s
	}
	if s.status.State == Running || s.status.State == Cancelling {
		return s.status, ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(t.base)
	started := t.now()
	s.cancel = cancel
	s.status = Status{
		JobID:     uuid.NewString(),
		Kind:      kind,
		State:     Running,
		StartedAt: &started,
	}
	jobID := s.status.JobID
	slog.Info("jobs: started", "user", userID, "kind", kind, "job", jobID)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		msg, err := fn(ctx)
		t.finish(userID, jobID, msg, err)
	}()
	return s.status, nil
}

func (t *Tracker) finish(userID, jobID, msg string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slots[userID]
	if s == nil || s.status.JobID != jobID {
		return
	}
	finished := t.now()
	cancelled := s.status.State == Cancelling
	s.status.State = Idle
	s.status.FinishedAt = &finished
	s.status.Message = msg
	s.cancel = nil
	switch {
	case err != nil && cancelled:
		s.status.Error = "cancelled"
	case err != nil:
		s.status.Error = err.Error()
	}
	if err != nil {
		slog.Warn("jobs: finished with error", "user", userID, "kind", s.status.Kind, "job", jobID, "error", err)
		return
	}
	slog.Info("jobs: finished", "user", userID, "kind", s.status.Kind, "job", jobID)
}

// Cancel asks the user's running job to stop. The state stays Cancelling
// until the job returns.
func (t *Tracker) Cancel(userID string) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slots[userID]
	if s == nil || s.status.State != Running {
		if s == nil {
			return Status{State: Idle}, ErrNotRunning
		}
		return s.status, ErrNotRunning
	}
	s.status.State = Cancelling
	s.cancel()
	return s.status, nil
}

// Status returns a copy of the user's job status.
func (t *Tracker) Status(userID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s := t.slots[userID]; s != nil {
		return s.status
	}
	return Status{State: Idle}
}

// Wait blocks until every started job has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
