// Package stream writes encrypted, append-only data files.
//
// A Stream is one logical data type (e.g. "gps") producing a sequence of
// physical CSV files. Each physical file starts with the file's AES key
// wrapped by the participant's RSA public key, followed by the encrypted CSV
// header and one encrypted line per record. Files are created lazily on the
// first Store and handed to the upload directory on Reset or Close.
//
// A BinaryStream is the same key scheme over a single continuous CBC cipher
// stream, for payloads such as audio.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/cryptox"
	"github.com/dmitrijs2005/studykeeper/internal/diagnostics"
	"github.com/dmitrijs2005/studykeeper/internal/logging"
	"github.com/dmitrijs2005/studykeeper/internal/session"
	"github.com/dmitrijs2005/studykeeper/internal/storage"
	"github.com/dmitrijs2005/studykeeper/internal/supervisor"
)

const (
	DefaultDelimiter        = ","
	DefaultQueueSize        = 256
	DefaultCreateRetries    = 5
	DefaultCreateRetryDelay = 10 * time.Millisecond
)

// Storage is the part of storage.Directory a stream needs.
type Storage interface {
	CurrentPath(name string) string
	TempPath(name string) string
	MoveToUpload(ctx context.Context, name string) storage.MoveOutcome
	PromoteTemp(ctx context.Context, tmpName, name string) storage.MoveOutcome
	RemoveTemp(name string) error
}

// Deps are the collaborators shared by every stream of a collector.
type Deps struct {
	Storage  Storage
	Crypto   *cryptox.Engine
	Session  *session.Session
	Clock    clock.Clock
	Logger   logging.Logger
	Reporter diagnostics.Reporter
	Aborter  supervisor.Aborter
}

func (d *Deps) validate() error {
	if d.Session == nil {
		return common.ErrNoSession
	}
	if d.Session.PublicKey() == nil {
		return common.ErrNoPublicKey
	}
	if d.Storage == nil || d.Crypto == nil || d.Aborter == nil {
		return errors.New("stream dependencies are incomplete")
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Reporter == nil {
		d.Reporter = diagnostics.NewLogReporter(d.Logger)
	}
	return nil
}

// Options tune a single stream.
type Options struct {
	// Delimiter joins record fields. Defaults to ",".
	Delimiter string
	// Sanitize rewrites delimiter and control whitespace inside field values
	// so every decrypted line is valid delimited text.
	Sanitize bool
	// Extension of the physical files. Defaults to ".csv".
	Extension string

	QueueSize        int
	CreateRetries    uint64
	CreateRetryDelay time.Duration

	create createFunc
}

func (o *Options) applyDefaults() {
	if o.Delimiter == "" {
		o.Delimiter = DefaultDelimiter
	}
	if o.Extension == "" {
		o.Extension = common.ExtCSV
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.CreateRetries == 0 {
		o.CreateRetries = DefaultCreateRetries
	}
	if o.CreateRetryDelay < time.Millisecond {
		o.CreateRetryDelay = DefaultCreateRetryDelay
	}
	if o.create == nil {
		o.create = osCreate
	}
}
