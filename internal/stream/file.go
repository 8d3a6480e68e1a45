package stream

import "os"

// streamFile is the part of *os.File a stream writes through.
type streamFile interface {
	WriteString(s string) (int, error)
	Sync() error
	Close() error
}

// createFunc creates a physical stream file. Tests swap it through
// Options to inject filesystem failures.
type createFunc func(path string, flag int, perm os.FileMode) (streamFile, error)

func osCreate(path string, flag int, perm os.FileMode) (streamFile, error) {
	return os.OpenFile(path, flag, perm)
}
