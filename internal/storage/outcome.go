package storage

// MoveOutcome is the result of a single best-effort relocation.
type MoveOutcome int

const (
	// Moved: the file now lives at its destination.
	Moved MoveOutcome = iota
	// SourceMissing: nothing to move; dropped after logging.
	SourceMissing
	// DestinationExists: a file of that name is already at the destination.
	// The source is left untouched so nothing is overwritten or duplicated.
	DestinationExists
	// NoSpace: the device is out of space. Not retried, not reported.
	NoSpace
	// Deferred: retries were exhausted and the source stays where it was.
	// Only current to upload moves register the name in the left-behind
	// registry for SweepLeftBehindFiles; temp promotions and legacy
	// migration do not.
	Deferred
)

func (o MoveOutcome) String() string {
	switch o {
	case Moved:
		return "moved"
	case SourceMissing:
		return "source_missing"
	case DestinationExists:
		return "destination_exists"
	case NoSpace:
		return "no_space"
	case Deferred:
		return "deferred"
	}
	return "unknown"
}
