// Package common defines shared constants and sentinel errors used across
// studykeeper. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Session errors.
	ErrNoSession      = errors.New("no active participant session")
	ErrNoPublicKey    = errors.New("participant public key is not set")
	ErrBadParticipant = errors.New("participant id is not a valid file name component")

	// Stream errors.
	ErrStreamClosed = errors.New("stream closed")

	// Environment errors.
	ErrRandomUnavailable = errors.New("secure random source unavailable")
	ErrRetriesExhausted  = errors.New("retries exhausted")
)

// FatalError marks a condition the collection pipeline cannot recover from.
// Data collected past this point could never be decrypted or retrieved, so
// the supervisor stops the process instead of continuing.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalError for operation op.
func Fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err (or anything it wraps) is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
