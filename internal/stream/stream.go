package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/cryptox"
	"github.com/dmitrijs2005/studykeeper/internal/logging"
	"github.com/sethvargo/go-retry"
)

const filePerm = 0o600

var errNameCollision = errors.New("file name already used by this stream")

// FileName returns the physical file name for a stream file created at
// unixMillis.
func FileName(participantID, streamType string, unixMillis int64, ext string) string {
	return fmt.Sprintf("%s_%s_%d%s", participantID, streamType, unixMillis, ext)
}

// Stream is an encrypted, line-oriented data stream. All file work for a
// stream happens on its own goroutine, in submission order; Store, Reset and
// Flush only enqueue work and never block on disk.
type Stream struct {
	typ    string
	header []string
	opts   Options
	deps   Deps
	log    logging.Logger

	mu     sync.RWMutex
	closed bool
	ops    chan func()
	done   chan struct{}

	// Owned by the worker goroutine.
	file       streamFile
	name       string
	key        []byte
	lastMillis int64
	failed     bool
}

// New creates a stream of the given type and starts its worker goroutine.
//
// No file is created until the first record is stored. Every physical file
// the stream creates gets a fresh AES key, wrapped with the session's RSA
// public key and written as the first line, followed by the encrypted header.
//
// Parameters:
//   - streamType: the data type tag used in file names, e.g. "gps". It must
//     not be empty or contain path separators.
//   - header: the CSV header written to every file of the stream.
//   - deps: shared collaborators. Storage, Crypto and Session are required.
//   - opts: per-stream tuning; zero values select the defaults.
//
// Returns:
//   - *Stream: the running stream. Callers must Close it.
//   - error: a FatalError when the session or public key is missing, or a
//     plain error for an invalid stream type.
//
// Example:
//
//	gps, err := stream.New("gps", []string{"timestamp", "lat", "lon"}, deps, stream.Options{})
//	if err != nil {
//	    return err
//	}
//	defer gps.Close(ctx)
//	gps.Store([]string{"1700000000000", "52.1", "4.3"})
func New(streamType string, header []string, deps Deps, opts Options) (*Stream, error) {
	if streamType == "" || strings.ContainsAny(streamType, `/\`) {
		return nil, fmt.Errorf("invalid stream type %q", streamType)
	}
	if err := deps.validate(); err != nil {
		if errors.Is(err, common.ErrNoSession) || errors.Is(err, common.ErrNoPublicKey) {
			return nil, common.Fatal("new stream "+streamType, err)
		}
		return nil, err
	}
	opts.applyDefaults()

	s := &Stream{
		typ:    streamType,
		header: append([]string(nil), header...),
		opts:   opts,
		deps:   deps,
		log:    deps.Logger.With("component", "stream", "stream", streamType),
		ops:    make(chan func(), opts.QueueSize),
		done:   make(chan struct{}),

		lastMillis: -1,
	}
	go s.run()
	return s, nil
}

// Type returns the stream's data type tag.
func (s *Stream) Type() string { return s.typ }

// Header returns a copy of the CSV header.
func (s *Stream) Header() []string { return append([]string(nil), s.header...) }

func (s *Stream) run() {
	defer close(s.done)
	for op := range s.ops {
		op()
	}
	s.rotate(context.Background())
}

func (s *Stream) submit(op func()) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return common.ErrStreamClosed
	}
	s.ops <- op
	return nil
}

// Store appends one record. The fields are copied before Store returns, so
// the caller may reuse the slice. Store never fails from the caller's point
// of view; records stored after Close are dropped.
func (s *Stream) Store(record []string) {
	fields := append([]string(nil), record...)
	if err := s.submit(func() { s.write(context.Background(), fields) }); err != nil {
		s.log.Debug(context.Background(), "record dropped", "error", err)
	}
}

// Reset finalizes the current physical file and hands it to the upload
// directory. The next Store starts a new file with a new key. Reset on a
// stream without an open file does nothing.
func (s *Stream) Reset() {
	if err := s.submit(func() { s.rotate(context.Background()) }); err != nil {
		s.log.Debug(context.Background(), "reset ignored", "error", err)
	}
}

// Flush blocks until all work submitted before it has run.
func (s *Stream) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if err := s.submit(func() { close(barrier) }); err != nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending work, finalizes the open file and stops the worker.
// Records stored after Close are dropped. Close is idempotent.
func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ops)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// write appends one record, creating the file first when needed. Running out
// of space drops the record without escalation. Any other append failure
// finalizes the broken file and retries the record once on a fresh one; a
// second failure is fatal.
func (s *Stream) write(ctx context.Context, fields []string) {
	if s.failed {
		return
	}
	err := s.append(ctx, fields)
	if err == nil || s.dropped(ctx, err) {
		return
	}
	if common.IsFatal(err) {
		s.fail(err)
		return
	}

	s.deps.Reporter.Report(ctx, "stream write failed", err, "file", s.name)
	s.rotate(ctx)

	err = s.append(ctx, fields)
	if err == nil || s.dropped(ctx, err) {
		return
	}
	if !common.IsFatal(err) {
		err = common.Fatal("write stream "+s.typ, err)
	}
	s.fail(err)
}

func (s *Stream) append(ctx context.Context, fields []string) error {
	if s.file == nil {
		if err := s.open(ctx); err != nil {
			return err
		}
	}
	line, err := s.deps.Crypto.EncryptLine(s.key, []byte(s.formatLine(fields)))
	if err != nil {
		return common.Fatal("encrypt record", err)
	}
	if _, err := s.file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append to %s: %w", s.name, err)
	}
	return nil
}

func (s *Stream) dropped(ctx context.Context, err error) bool {
	if !errors.Is(err, syscall.ENOSPC) {
		return false
	}
	s.log.Warn(ctx, "no space left, record dropped", "file", s.name, "error", err)
	return true
}

// open creates the next physical file. Any error other than ENOSPC is fatal.
func (s *Stream) open(ctx context.Context) error {
	pub := s.deps.Session.PublicKey()
	if pub == nil {
		return common.Fatal("open stream "+s.typ, common.ErrNoPublicKey)
	}

	key, err := s.deps.Crypto.NewSymmetricKey()
	if err != nil {
		return common.Fatal("generate stream key", err)
	}
	wrapped, err := s.deps.Crypto.WrapKey(key, pub)
	if err != nil {
		cryptox.Wipe(key)
		return common.Fatal("wrap stream key", err)
	}
	header, err := s.deps.Crypto.EncryptLine(key, []byte(s.formatLine(s.header)))
	if err != nil {
		cryptox.Wipe(key)
		return common.Fatal("encrypt stream header", err)
	}

	var (
		f      streamFile
		name   string
		millis int64
	)
	b := retry.WithMaxRetries(s.opts.CreateRetries, retry.NewConstant(s.opts.CreateRetryDelay))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		ms := s.deps.Clock.Now().UnixMilli()
		if ms == s.lastMillis {
			return retry.RetryableError(errNameCollision)
		}
		n := FileName(s.deps.Session.ParticipantID(), s.typ, ms, s.opts.Extension)
		path := s.deps.Storage.CurrentPath(n)

		created, err := s.opts.create(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, filePerm)
		if err != nil {
			if errors.Is(err, syscall.ENOSPC) {
				return err
			}
			s.log.Debug(ctx, "create stream file failed", "file", n, "error", err)
			return retry.RetryableError(err)
		}
		if _, err := created.WriteString(wrapped + "\n" + header + "\n"); err != nil {
			_ = created.Close()
			_ = os.Remove(path)
			if errors.Is(err, syscall.ENOSPC) {
				return err
			}
			return retry.RetryableError(err)
		}
		f, name, millis = created, n, ms
		return nil
	})
	if err != nil {
		cryptox.Wipe(key)
		if errors.Is(err, syscall.ENOSPC) {
			return err
		}
		return common.Fatal("create stream file "+s.typ, fmt.Errorf("%w: %v", common.ErrRetriesExhausted, err))
	}

	s.file, s.name, s.key, s.lastMillis = f, name, key, millis
	s.log.Debug(ctx, "stream file created", "file", name)
	return nil
}

func (s *Stream) rotate(ctx context.Context) {
	if s.file == nil {
		return
	}
	name := s.name
	if err := s.file.Sync(); err != nil {
		s.log.Warn(ctx, "sync stream file", "file", name, "error", err)
	}
	if err := s.file.Close(); err != nil {
		s.log.Warn(ctx, "close stream file", "file", name, "error", err)
	}
	cryptox.Wipe(s.key)
	s.file, s.name, s.key = nil, "", nil

	outcome := s.deps.Storage.MoveToUpload(ctx, name)
	s.log.Debug(ctx, "stream file finalized", "file", name, "outcome", outcome.String())
}

func (s *Stream) fail(err error) {
	s.failed = true
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	cryptox.Wipe(s.key)
	s.key = nil
	s.log.Error(context.Background(), "stream failed", "error", err)
	s.deps.Aborter.Abort(err)
}

var controlReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ")

func (s *Stream) formatLine(fields []string) string {
	if !s.opts.Sanitize {
		return strings.Join(fields, s.opts.Delimiter)
	}
	clean := make([]string, len(fields))
	for i, f := range fields {
		clean[i] = SanitizeField(f, s.opts.Delimiter)
	}
	return strings.Join(clean, s.opts.Delimiter)
}

// SanitizeField replaces line breaks and tabs with spaces and the delimiter
// with ";" (or "," when the delimiter itself is ";").
func SanitizeField(field, delimiter string) string {
	field = controlReplacer.Replace(field)
	if delimiter == "" {
		return field
	}
	repl := ";"
	if delimiter == ";" {
		repl = ","
	}
	return strings.ReplaceAll(field, delimiter, repl)
}
