// Package supervisor collects fatal errors raised anywhere in the collection
// pipeline and signals the top level to stop. Leaf code never exits the
// process itself; it calls Abort and stops doing work.
package supervisor

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/logging"
)

// Aborter is what leaf components depend on.
type Aborter interface {
	Abort(err error)
}

// Supervisor records the first fatal error and closes Done.
type Supervisor struct {
	log  logging.Logger
	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	err error
}

func New(log logging.Logger) *Supervisor {
	return &Supervisor{
		log:  log.With("component", "supervisor"),
		done: make(chan struct{}),
	}
}

// Abort records err (wrapping it as a FatalError if needed) and signals Done.
// Only the first call has an effect; later errors are logged.
func (s *Supervisor) Abort(err error) {
	if !common.IsFatal(err) {
		err = common.Fatal("abort", err)
	}

	first := false
	s.once.Do(func() {
		first = true
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})

	if first {
		s.log.Error(context.Background(), "fatal error, stopping collection", "error", err)
	} else {
		s.log.Warn(context.Background(), "additional fatal error after abort", "error", err)
	}
}

// Done is closed after the first Abort.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err returns the first fatal error, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
