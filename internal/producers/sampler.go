// Package producers contains scheduler.Producer implementations.
package producers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/studykeeper/internal/logging"
)

// Sink receives sampled records. *stream.Stream satisfies it.
type Sink interface {
	Store(record []string)
	Close(ctx context.Context) error
}

// SampleFunc produces one record.
type SampleFunc func(ctx context.Context, now time.Time) ([]string, error)

// Sampler calls a SampleFunc every period while it is on and stores each
// record into its sink.
type Sampler struct {
	name      string
	sink      Sink
	period    time.Duration
	sample    SampleFunc
	available func(ctx context.Context) bool
	clock     clock.Clock
	log       logging.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	finished bool
}

type SamplerOption func(*Sampler)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) SamplerOption {
	return func(s *Sampler) { s.clock = c }
}

// WithAvailabilityCheck sets the availability check run by Initialize.
func WithAvailabilityCheck(available func(ctx context.Context) bool) SamplerOption {
	return func(s *Sampler) { s.available = available }
}

func WithLogger(l logging.Logger) SamplerOption {
	return func(s *Sampler) { s.log = l }
}

func NewSampler(name string, sink Sink, period time.Duration, sample SampleFunc, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		name:   name,
		sink:   sink,
		period: period,
		sample: sample,
		clock:  clock.New(),
		log:    logging.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "sampler", "producer", name)
	return s
}

func (s *Sampler) Initialize(ctx context.Context) bool {
	if s.sink == nil || s.sample == nil || s.period <= 0 {
		return false
	}
	if s.available != nil {
		return s.available(ctx)
	}
	return true
}

// Start begins sampling; the first sample is taken immediately.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	ticker := s.clock.Ticker(s.period)
	s.cancel, s.done = cancel, done
	go s.loop(runCtx, ticker, done)
}

func (s *Sampler) loop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	s.sampleOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context) {
	record, err := s.sample(ctx, s.clock.Now())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Warn(ctx, "sample failed", "error", err)
		}
		return
	}
	s.sink.Store(record)
}

// Pause stops sampling and waits for an in-flight sample to be stored.
func (s *Sampler) Pause(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Sampler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

// Finish stops sampling for good and closes the sink, which hands its open
// file to the upload directory.
func (s *Sampler) Finish(ctx context.Context) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	s.finished = true
	s.stopLocked()
	s.mu.Unlock()

	return s.sink.Close(ctx)
}
