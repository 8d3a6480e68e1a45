// Package scheduler runs data producers on on/off duty cycles with a single
// one-shot timer.
package scheduler

import "context"

// Producer is a data source the scheduler can switch on and off. Start and
// Pause are called from the scheduler's wake path and must not block or call
// back into the scheduler. Finish must release all resources and return only
// after the producer's data is handed to storage.
type Producer interface {
	// Initialize prepares the producer. A producer that returns false (for
	// example because its source is unavailable) is not registered.
	Initialize(ctx context.Context) bool
	Start(ctx context.Context)
	Pause(ctx context.Context)
	Finish(ctx context.Context) error
}
