package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/studykeeper/internal/logging"
	"golang.org/x/sync/errgroup"
)

const DefaultFallbackInterval = 10 * time.Minute

// Options configures a Scheduler. Zero intervals disable the heartbeat and the
// periodic check.
type Options struct {
	Clock  clock.Clock
	Logger logging.Logger

	// FallbackInterval caps the delay between wakes when nothing else is due.
	FallbackInterval time.Duration

	HeartbeatInterval time.Duration
	Heartbeat         func(ctx context.Context, now time.Time)

	// CheckInterval schedules Check (typically an upload pass). Check runs on
	// its own goroutine; a wake that finds the previous check still running
	// skips it.
	CheckInterval time.Duration
	Check         func(ctx context.Context)
}

type registration struct {
	name     string
	producer Producer
	on, off  time.Duration

	running    bool
	nextToggle time.Time // zero: never toggles again
	startedAt  time.Time
	onTime     time.Duration
}

// Registration is a point-in-time view of a registered producer.
type Registration struct {
	Name       string
	On, Off    time.Duration
	Running    bool
	NextToggle time.Time
	OnTime     time.Duration
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	clock clock.Clock
	log   logging.Logger
	opts  Options

	mu            sync.Mutex
	ctx           context.Context
	started       bool
	regs          []*registration
	timer         *clock.Timer
	nextHeartbeat time.Time
	nextCheck     time.Time

	checking atomic.Bool
	checks   sync.WaitGroup
}

func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.FallbackInterval <= 0 {
		opts.FallbackInterval = DefaultFallbackInterval
	}
	return &Scheduler{
		clock: opts.Clock,
		log:   opts.Logger.With("component", "scheduler"),
		opts:  opts,
		ctx:   context.Background(),
	}
}

// Register initializes p and adds it in the OFF state, due to start on the
// next wake. off == 0 means the producer runs forever once started. It
// reports whether the producer was registered.
func (s *Scheduler) Register(ctx context.Context, name string, p Producer, on, off time.Duration) (bool, error) {
	if p == nil {
		return false, errors.New("nil producer")
	}
	if on <= 0 || off < 0 {
		return false, fmt.Errorf("invalid duty cycle for %s: on=%s off=%s", name, on, off)
	}
	if !p.Initialize(ctx) {
		s.log.Warn(ctx, "producer failed to initialize, not registered", "producer", name)
		return false, nil
	}

	s.mu.Lock()
	s.regs = append(s.regs, &registration{
		name:       name,
		producer:   p,
		on:         on,
		off:        off,
		nextToggle: s.clock.Now(),
	})
	started := s.started
	s.mu.Unlock()

	s.log.Info(ctx, "producer registered", "producer", name, "on", on.String(), "off", off.String())
	if started {
		s.Wake()
	}
	return true, nil
}

// Start arms the timer and performs the first wake.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.ctx = ctx
	s.started = true
	s.wakeLocked()
	return nil
}

// Wake runs one scheduling pass and returns the delay until the next one.
//
// A pass sends a due heartbeat, toggles every producer whose on or off
// phase has ended and starts a due check unless the previous one is still
// running. While the scheduler is started the single timer is stopped and
// re-armed for the returned delay.
//
// Returns:
//   - time.Duration: time until the earliest pending toggle, heartbeat or
//     check, never more than FallbackInterval.
//
// Example:
//
//	mock := clock.NewMock()
//	s := scheduler.New(scheduler.Options{Clock: mock, HeartbeatInterval: 5 * time.Minute})
//	next := s.Wake() // 5m
//	mock.Add(next)
//	s.Wake()
func (s *Scheduler) Wake() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakeLocked()
}

func (s *Scheduler) onTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.wakeLocked()
}

func (s *Scheduler) wakeLocked() time.Duration {
	ctx := s.ctx
	now := s.clock.Now()

	if s.opts.HeartbeatInterval > 0 && !now.Before(s.nextHeartbeat) {
		if s.opts.Heartbeat != nil {
			s.opts.Heartbeat(ctx, now)
		}
		s.nextHeartbeat = now.Add(s.opts.HeartbeatInterval)
	}

	for _, r := range s.regs {
		if r.nextToggle.IsZero() || now.Before(r.nextToggle) {
			continue
		}
		s.toggle(ctx, r, now)
	}

	if s.opts.CheckInterval > 0 && !now.Before(s.nextCheck) {
		s.nextCheck = now.Add(s.opts.CheckInterval)
		s.runCheck(ctx)
	}

	delay := s.nextDelay(now)
	if s.started {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timer = s.clock.AfterFunc(delay, s.onTimer)
	}
	s.log.Debug(ctx, "wake", "next", delay.String(), "producers", len(s.regs))
	return delay
}

func (s *Scheduler) toggle(ctx context.Context, r *registration, now time.Time) {
	if r.running {
		r.producer.Pause(ctx)
		r.running = false
		r.onTime += now.Sub(r.startedAt)
		r.nextToggle = now.Add(r.off)
		s.log.Debug(ctx, "producer paused", "producer", r.name)
		return
	}
	r.producer.Start(ctx)
	r.running = true
	r.startedAt = now
	if r.off == 0 {
		r.nextToggle = time.Time{}
	} else {
		r.nextToggle = now.Add(r.on)
	}
	s.log.Debug(ctx, "producer started", "producer", r.name)
}

func (s *Scheduler) nextDelay(now time.Time) time.Duration {
	delay := s.opts.FallbackInterval
	consider := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if d := t.Sub(now); d < delay {
			delay = d
		}
	}
	for _, r := range s.regs {
		consider(r.nextToggle)
	}
	if s.opts.HeartbeatInterval > 0 {
		consider(s.nextHeartbeat)
	}
	if s.opts.CheckInterval > 0 {
		consider(s.nextCheck)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (s *Scheduler) runCheck(ctx context.Context) {
	if s.opts.Check == nil {
		return
	}
	if !s.checking.CompareAndSwap(false, true) {
		s.log.Debug(ctx, "previous check still running, skipped")
		return
	}
	s.checks.Add(1)
	go func() {
		defer s.checks.Done()
		defer s.checking.Store(false)
		s.opts.Check(ctx)
	}()
}

// Registrations returns a snapshot of every registered producer. OnTime
// includes the current run of producers that are on.
func (s *Scheduler) Registrations() []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	out := make([]Registration, 0, len(s.regs))
	for _, r := range s.regs {
		onTime := r.onTime
		if r.running {
			onTime += now.Sub(r.startedAt)
		}
		out = append(out, Registration{
			Name:       r.name,
			On:         r.on,
			Off:        r.off,
			Running:    r.running,
			NextToggle: r.nextToggle,
			OnTime:     onTime,
		})
	}
	return out
}

// Clear finishes every registered producer and drops the registrations. It
// returns once all producers have finished.
func (s *Scheduler) Clear(ctx context.Context) error {
	s.mu.Lock()
	regs := s.regs
	s.regs = nil
	s.mu.Unlock()

	var g errgroup.Group
	for _, r := range regs {
		g.Go(func() error {
			if err := r.producer.Finish(ctx); err != nil {
				s.log.Error(ctx, "producer finish failed", "producer", r.name, "error", err)
				return fmt.Errorf("finish %s: %w", r.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stop disarms the timer, finishes every producer and waits for a running
// check to complete.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.started = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	err := s.Clear(ctx)
	s.checks.Wait()
	s.log.Info(ctx, "scheduler stopped")
	return err
}
