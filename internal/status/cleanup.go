package status

import (
	"container/heap"
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCleanupDelay is how long a finished request keeps its history.
const DefaultCleanupDelay = 5 * time.Minute

// DefaultCleanupTick is how often Run drains due purges.
const DefaultCleanupTick = time.Second

// Clock abstracts wall time so purges can be driven from tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real wall clock.
var SystemClock Clock = systemClock{}

type purge struct {
	fireAt    time.Time
	requestID string
}

type purgeQueue []purge

func (q purgeQueue) Len() int           { return len(q) }
func (q purgeQueue) Less(i, j int) bool { return q[i].fireAt.Before(q[j].fireAt) }
func (q purgeQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *purgeQueue) Push(x any)        { *q = append(*q, x.(purge)) }
func (q *purgeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// CleanupScheduler is a delay queue of (fireAt, requestID) purges drained by
// a ticker. Purging an id that is already gone is a no-op.
type CleanupScheduler struct {
	mu     sync.Mutex
	queue  purgeQueue
	delay  time.Duration
	clock  Clock
	purge  func(requestID string)
	logger zerolog.Logger
}

// NewCleanupScheduler builds a scheduler. A non-positive delay falls back to
// DefaultCleanupDelay and a nil clock to SystemClock.
func NewCleanupScheduler(delay time.Duration, clock Clock, logger *zerolog.Logger) *CleanupScheduler {
	if delay <= 0 {
		delay = DefaultCleanupDelay
	}
	if clock == nil {
		clock = SystemClock
	}
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &CleanupScheduler{delay: delay, clock: clock, logger: l}
}

// Bind sets the purge callback, normally Bus.ClearStatusHistory.
func (s *CleanupScheduler) Bind(fn func(requestID string)) {
	s.mu.Lock()
	s.purge = fn
	s.mu.Unlock()
}

// Schedule queues a purge for requestID one delay from now.
func (s *CleanupScheduler) Schedule(requestID string) {
	if requestID == "" {
		return
	}
	s.mu.Lock()
	heap.Push(&s.queue, purge{fireAt: s.clock.Now().Add(s.delay), requestID: requestID})
	s.mu.Unlock()
}

// Pending reports the number of queued purges.
func (s *CleanupScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Drain fires every purge due at or before now and returns how many ran.
func (s *CleanupScheduler) Drain(now time.Time) int {
	s.mu.Lock()
	fn := s.purge
	if fn == nil {
		s.mu.Unlock()
		return 0
	}
	var due []string
	for s.queue.Len() > 0 && !s.queue[0].fireAt.After(now) {
		item := heap.Pop(&s.queue).(purge)
		due = append(due, item.requestID)
	}
	s.mu.Unlock()

	for _, id := range due {
		fn(id)
		s.logger.Debug().Str("request_id", id).Msg("status: purged history")
	}
	return len(due)
}

// Run drains due purges every tick until ctx is cancelled.
func (s *CleanupScheduler) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = DefaultCleanupTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Drain(s.clock.Now())
		}
	}
}

var _ Scheduler = (*CleanupScheduler)(nil)
