// Package scheduler implements the Scheduler: a background loop that
// starts and stops queues on their configured weekly calendar.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dlcore/internal/domain"
	"dlcore/internal/store"
)

const (
	tickInterval = 30 * time.Second
	matchWindow  = 30 * time.Second
)

// QueueRunner is the subset of the Queue Manager the Scheduler drives.
type QueueRunner interface {
	StartQueue(qid domain.ID) error
	StopQueue(qid domain.ID) error
	IsRunning(qid domain.ID) bool
}

// Scheduler ticks every 30s and starts/stops queues whose schedule matches
// the current moment, within a +/-30s window either side of the tick.
type Scheduler struct {
	logger *slog.Logger
	store  *store.Store
	queues QueueRunner

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time // overridable for tests
}

// New builds a Scheduler.
func New(logger *slog.Logger, st *store.Store, queues QueueRunner) *Scheduler {
	return &Scheduler{
		logger: logger,
		store:  st,
		queues: queues,
		now:    time.Now,
	}
}

// Start launches the background tick loop. Calling Start twice without an
// intervening Stop is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick evaluates every queue's schedule against the current moment.
func (s *Scheduler) tick() {
	queues, err := s.store.LoadQueues()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("scheduler: failed to load queues", "error", err)
		}
		return
	}
	now := s.now()
	for _, q := range queues {
		s.evaluate(q, now)
	}
}

func (s *Scheduler) evaluate(q domain.Queue, now time.Time) {
	if q.Schedule == nil || !q.Schedule.Enabled {
		return
	}
	if !q.Schedule.Weekdays[now.Weekday()] {
		return
	}

	if within(now, q.Schedule.StartTime, matchWindow) && !s.queues.IsRunning(q.ID) {
		if err := s.queues.StartQueue(q.ID); err != nil && s.logger != nil {
			s.logger.Error("scheduler: failed to start queue", "queue", q.ID, "error", err)
		}
	}
	if within(now, q.Schedule.StopTime, matchWindow) && s.queues.IsRunning(q.ID) {
		if err := s.queues.StopQueue(q.ID); err != nil && s.logger != nil {
			s.logger.Error("scheduler: failed to stop queue", "queue", q.ID, "error", err)
		}
	}
}

// within reports whether now falls inside [target-window, target+window],
// where target is today's date at the given "HH:MM" clock time.
func within(now time.Time, clock string, window time.Duration) bool {
	target, err := parseClockOn(now, clock)
	if err != nil {
		return false
	}
	diff := now.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

func parseClockOn(day time.Time, clock string) (time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(clock, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location()), nil
}

// NextStart returns the next instant the queue's schedule will fire a
// start, for display purposes. It builds a standard 5-field cron
// expression from the weekday set and start time.
func NextStart(q domain.Queue, from time.Time) (time.Time, error) {
	if q.Schedule == nil || !q.Schedule.Enabled {
		return time.Time{}, domain.NewInvalidOperationError("queue has no enabled schedule")
	}
	var hour, minute int
	if _, err := fmt.Sscanf(q.Schedule.StartTime, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, domain.NewInvalidOperationError("invalid schedule start time")
	}

	dow := weekdaySpec(q.Schedule.Weekdays)
	spec := fmt.Sprintf("%d %d * * %s", minute, hour, dow)

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, domain.NewInvalidOperationError("invalid schedule: " + err.Error())
	}
	return schedule.Next(from), nil
}

func weekdaySpec(weekdays map[time.Weekday]bool) string {
	if len(weekdays) == 0 {
		return "*"
	}
	days := make([]string, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if weekdays[d] {
			days = append(days, fmt.Sprintf("%d", int(d)))
		}
	}
	if len(days) == 7 {
		return "*"
	}
	return strings.Join(days, ",")
}
