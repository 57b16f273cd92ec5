// Package scheduler fires each user's automatic planning run at the instant
// the recurrence rule names.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ai-meal-calendar/internal/jobs"
	"ai-meal-calendar/internal/planner"
	"ai-meal-calendar/internal/recurrence"

	"github.com/robfig/cron/v3"
)

// JobKind is the jobs.Tracker kind used for automatic runs.
const JobKind = "scheduled_run"

// RuleSource provides a user's recurrence rule.
type RuleSource interface {
	Rule(ctx context.Context, userID string) (recurrence.Rule, error)
}

// Runner performs the automatic run.
type Runner interface {
	RunScheduled(ctx context.Context, userID string, runAt time.Time) (*planner.ActivePlan, error)
}

// ruleSchedule adapts a user's recurrence rule to cron.Schedule. The rule is
// re-read on every evaluation so settings changes apply from the next run on.
type ruleSchedule struct {
	rules  RuleSource
	userID string
}

// Next returns the next run strictly after t, or the zero time (never) when
// the schedule is disabled.
func (s ruleSchedule) Next(t time.Time) time.Time {
	rule, err := s.rules.Rule(context.Background(), s.userID)
	if err != nil {
		slog.Warn("scheduler: rule unavailable", "user", s.userID, "error", err)
	}
	next, ok := recurrence.NextRunAfter(rule, t)
	if !ok {
		return time.Time{}
	}
	return next
}

// Scheduler owns one cron entry per registered user.
type Scheduler struct {
	cron    *cron.Cron
	rules   RuleSource
	runner  Runner
	tracker *jobs.Tracker

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a stopped Scheduler in the local time zone.
func New(rules RuleSource, runner Runner, tracker *jobs.Tracker) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.Local),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		rules:   rules,
		runner:  runner,
		tracker: tracker,
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins firing runs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and returns a context done once in-flight cron
// callbacks return. Planning runs themselves belong to the jobs.Tracker.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Refresh (re)registers userID so the next run reflects the current rule. It
// returns that next run, and false when the schedule is disabled.
func (s *Scheduler) Refresh(userID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[userID]; ok {
		s.cron.Remove(id)
	}
	sched := ruleSchedule{rules: s.rules, userID: userID}
	s.entries[userID] = s.cron.Schedule(sched, cron.FuncJob(func() {
		s.fire(userID, time.Now())
	}))

	next := sched.Next(time.Now())
	if next.IsZero() {
		slog.Info("scheduler: automatic runs disabled", "user", userID)
		return time.Time{}, false
	}
	slog.Info("scheduler: next run", "user", userID, "at", next.Format(time.RFC3339))
	return next, true
}

// Remove drops userID's entry.
func (s *Scheduler) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[userID]; ok {
		s.cron.Remove(id)
		delete(s.entries, userID)
	}
}

// Users lists the registered users in order.
func (s *Scheduler) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.entries))
	for u := range s.entries {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// fire starts the automatic run as a tracked job. A user who is already
// generating is skipped for this occurrence.
func (s *Scheduler) fire(userID string, runAt time.Time) {
	rule, err := s.rules.Rule(context.Background(), userID)
	if err != nil || !rule.Enabled {
		slog.Info("scheduler: run skipped, schedule disabled", "user", userID)
		return
	}

	_, err = s.tracker.Start(userID, JobKind, func(ctx context.Context) (string, error) {
		active, err := s.runner.RunScheduled(ctx, userID, runAt)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Planned %d days", len(active.Days)), nil
	})
	if errors.Is(err, jobs.ErrAlreadyRunning) {
		slog.Warn("scheduler: run skipped, job in progress", "user", userID)
	}
}

// cronLogger routes cron's logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
