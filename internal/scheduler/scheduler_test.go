package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	failInit  bool
	finishErr error

	mu       sync.Mutex
	running  bool
	starts   int
	pauses   int
	finishes int
}

func (p *fakeProducer) Initialize(context.Context) bool { return !p.failInit }

func (p *fakeProducer) Start(context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	p.starts++
}

func (p *fakeProducer) Pause(context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.pauses++
}

func (p *fakeProducer) Finish(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.finishes++
	return p.finishErr
}

func (p *fakeProducer) counts() (starts, pauses, finishes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.pauses, p.finishes
}

func newTestScheduler(opts Options) (*Scheduler, *clock.Mock) {
	mock := clock.NewMock()
	opts.Clock = mock
	return New(opts), mock
}

func TestRegister_Validation(t *testing.T) {
	s, _ := newTestScheduler(Options{})
	ctx := context.Background()

	_, err := s.Register(ctx, "nil", nil, time.Minute, time.Minute)
	assert.Error(t, err)
	_, err = s.Register(ctx, "zero-on", &fakeProducer{}, 0, time.Minute)
	assert.Error(t, err)
	_, err = s.Register(ctx, "negative-off", &fakeProducer{}, time.Minute, -time.Second)
	assert.Error(t, err)

	ok, err := s.Register(ctx, "unavailable", &fakeProducer{failInit: true}, time.Minute, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Register(ctx, "gps", &fakeProducer{}, time.Minute, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	regs := s.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, "gps", regs[0].Name)
	assert.False(t, regs[0].Running)
}

func TestWake_TogglesOnAndOff(t *testing.T) {
	s, mock := newTestScheduler(Options{})
	p := &fakeProducer{}
	_, err := s.Register(context.Background(), "accel", p, time.Minute, 2*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, s.Wake())
	starts, pauses, _ := p.counts()
	assert.Equal(t, 1, starts)
	assert.Zero(t, pauses)

	// an early wake changes nothing and reports the remaining time
	mock.Add(20 * time.Second)
	assert.Equal(t, 40*time.Second, s.Wake())

	mock.Add(40 * time.Second)
	assert.Equal(t, 2*time.Minute, s.Wake())
	starts, pauses, _ = p.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, pauses)

	mock.Add(2 * time.Minute)
	s.Wake()
	starts, _, _ = p.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, time.Minute, s.Registrations()[0].OnTime)
}

func TestWake_AlwaysOn(t *testing.T) {
	s, mock := newTestScheduler(Options{FallbackInterval: 10 * time.Minute})
	p := &fakeProducer{}
	_, err := s.Register(context.Background(), "log", p, time.Second, 0)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, s.Wake())
	regs := s.Registrations()
	require.Len(t, regs, 1)
	assert.True(t, regs[0].Running)
	assert.True(t, regs[0].NextToggle.IsZero())

	for i := 0; i < 5; i++ {
		mock.Add(s.Wake())
	}
	starts, pauses, _ := p.counts()
	assert.Equal(t, 1, starts)
	assert.Zero(t, pauses)
	assert.Equal(t, 50*time.Minute, s.Registrations()[0].OnTime)
}

func TestWake_Heartbeat(t *testing.T) {
	var beats []time.Time
	s, mock := newTestScheduler(Options{
		HeartbeatInterval: 5 * time.Minute,
		Heartbeat:         func(_ context.Context, now time.Time) { beats = append(beats, now) },
	})

	start := mock.Now()
	assert.Equal(t, 5*time.Minute, s.Wake())
	require.Len(t, beats, 1)

	mock.Add(time.Minute)
	assert.Equal(t, 4*time.Minute, s.Wake())
	assert.Len(t, beats, 1)

	mock.Add(4 * time.Minute)
	s.Wake()
	require.Len(t, beats, 2)
	assert.Equal(t, start.Add(5*time.Minute), beats[1])
}

func TestWake_Check(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	s, mock := newTestScheduler(Options{
		FallbackInterval: 2 * time.Hour,
		CheckInterval:    time.Hour,
		Check: func(context.Context) {
			runs.Add(1)
			<-release
		},
	})

	assert.Equal(t, time.Hour, s.Wake())
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)

	// the first check is still blocked, so the next due check is skipped
	mock.Add(time.Hour)
	s.Wake()
	close(release)

	require.NoError(t, s.Stop(context.Background()))
	assert.EqualValues(t, 1, runs.Load())

	mock.Add(time.Hour)
	s.Wake()
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
}

func TestWake_DelayBoundedByFallback(t *testing.T) {
	s, _ := newTestScheduler(Options{FallbackInterval: 3 * time.Minute})
	_, err := s.Register(context.Background(), "slow", &fakeProducer{}, time.Hour, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Minute, s.Wake())
}

func TestWake_Convergence(t *testing.T) {
	s, mock := newTestScheduler(Options{
		FallbackInterval:  10 * time.Minute,
		HeartbeatInterval: 7 * time.Minute,
		Heartbeat:         func(context.Context, time.Time) {},
	})
	ctx := context.Background()

	type cycle struct {
		name    string
		on, off time.Duration
	}
	cycles := []cycle{
		{"accel", time.Minute, 4 * time.Minute},
		{"gps", 30 * time.Second, 90 * time.Second},
		{"audio", 13 * time.Minute, 17 * time.Minute},
		{"log", time.Second, 0},
	}
	for _, c := range cycles {
		_, err := s.Register(ctx, c.name, &fakeProducer{}, c.on, c.off)
		require.NoError(t, err)
	}

	start := mock.Now()
	for mock.Now().Sub(start) < 24*time.Hour {
		delay := s.Wake()
		now := mock.Now()
		for _, r := range s.Registrations() {
			if !r.NextToggle.IsZero() {
				assert.LessOrEqual(t, delay, r.NextToggle.Sub(now), r.Name)
			}
		}
		mock.Add(delay)
	}
	s.Wake()

	elapsed := mock.Now().Sub(start)
	for i, r := range s.Registrations() {
		c := cycles[i]
		if c.off == 0 {
			assert.Equal(t, elapsed, r.OnTime, r.Name)
			continue
		}
		want := time.Duration(float64(elapsed) * float64(c.on) / float64(c.on+c.off))
		assert.InDelta(t, float64(want), float64(r.OnTime), float64(c.on), r.Name)
	}
}

func TestStartStop(t *testing.T) {
	s, mock := newTestScheduler(Options{})
	ctx := context.Background()
	p := &fakeProducer{}
	_, err := s.Register(ctx, "accel", p, time.Minute, time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))
	starts, _, _ := p.counts()
	assert.Equal(t, 1, starts)

	mock.Add(time.Minute)
	require.Eventually(t, func() bool {
		_, pauses, _ := p.counts()
		return pauses == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Stop(ctx))
	_, _, finishes := p.counts()
	assert.Equal(t, 1, finishes)
	assert.Empty(t, s.Registrations())

	mock.Add(time.Hour)
	starts, _, _ = p.counts()
	assert.Equal(t, 1, starts)
}

func TestRegister_WhileStarted(t *testing.T) {
	s, _ := newTestScheduler(Options{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	p := &fakeProducer{}
	_, err := s.Register(ctx, "gps", p, time.Minute, time.Minute)
	require.NoError(t, err)

	starts, _, _ := p.counts()
	assert.Equal(t, 1, starts)
	require.NoError(t, s.Stop(ctx))
}

func TestClear_FinishesAllEvenOnError(t *testing.T) {
	s, _ := newTestScheduler(Options{})
	ctx := context.Background()
	boom := errors.New("sensor stuck")

	good := &fakeProducer{}
	bad := &fakeProducer{finishErr: boom}
	_, err := s.Register(ctx, "good", good, time.Minute, time.Minute)
	require.NoError(t, err)
	_, err = s.Register(ctx, "bad", bad, time.Minute, time.Minute)
	require.NoError(t, err)
	s.Wake()

	err = s.Clear(ctx)
	assert.ErrorIs(t, err, boom)

	_, _, goodFinishes := good.counts()
	_, _, badFinishes := bad.counts()
	assert.Equal(t, 1, goodFinishes)
	assert.Equal(t, 1, badFinishes)
	assert.Empty(t, s.Registrations())
}
