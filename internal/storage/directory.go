// Package storage manages the on-disk layout of the collector: the
// "currentdata" directory holding files being written, the "uploaddata"
// directory holding files ready for transfer, and a temp directory for
// binary streams. Relocation between them is best effort with bounded
// retries; files that still cannot be moved are parked in a left-behind
// registry and retried at the next upload pass.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/diagnostics"
	"github.com/dmitrijs2005/studykeeper/internal/logging"
	"github.com/dustin/go-humanize"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const (
	DefaultMoveRetries    = 3
	DefaultMoveRetryDelay = 50 * time.Millisecond
	DefaultDirRetries     = 3
	DefaultDirRetryDelay  = 20 * time.Millisecond

	dirPerm = 0o700
)

var errSourceMissing = errors.New("source file does not exist")

// Options configures a Directory. Zero retry values select the defaults.
type Options struct {
	Root       string
	LegacyDirs []string

	MoveRetries    uint64
	MoveRetryDelay time.Duration
	DirRetries     uint64
	DirRetryDelay  time.Duration

	Logger   logging.Logger
	Reporter diagnostics.Reporter
}

// Directory is safe for concurrent use.
type Directory struct {
	root    string
	current string
	upload  string
	tmp     string
	legacy  []string

	moveRetries    uint64
	moveRetryDelay time.Duration

	log      logging.Logger
	reporter diagnostics.Reporter

	leftBehind *LeftBehind

	existsCount  atomic.Int64
	existsReport *rate.Sometimes

	fs fileOps
}

// New resolves and creates the data directories under opts.Root. Failing to
// create them after bounded retries is fatal: nothing can be collected
// without them.
func New(ctx context.Context, opts Options) (*Directory, error) {
	return newDirectory(ctx, opts, osFileOps())
}

func newDirectory(ctx context.Context, opts Options, ops fileOps) (*Directory, error) {
	if opts.Root == "" {
		return nil, common.Fatal("resolve data root", errors.New("empty root"))
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, common.Fatal("resolve data root", err)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Reporter == nil {
		opts.Reporter = diagnostics.NewLogReporter(opts.Logger)
	}
	if opts.MoveRetries == 0 {
		opts.MoveRetries = DefaultMoveRetries
	}
	if opts.MoveRetryDelay <= 0 {
		opts.MoveRetryDelay = DefaultMoveRetryDelay
	}
	if opts.DirRetries == 0 {
		opts.DirRetries = DefaultDirRetries
	}
	if opts.DirRetryDelay <= 0 {
		opts.DirRetryDelay = DefaultDirRetryDelay
	}

	d := &Directory{
		root:           root,
		current:        filepath.Join(root, common.CurrentDirName),
		upload:         filepath.Join(root, common.UploadDirName),
		tmp:            filepath.Join(root, common.TempDirName),
		legacy:         opts.LegacyDirs,
		moveRetries:    opts.MoveRetries,
		moveRetryDelay: opts.MoveRetryDelay,
		log:            opts.Logger.With("component", "storage"),
		reporter:       opts.Reporter,
		leftBehind:     NewLeftBehind(),
		existsReport:   &rate.Sometimes{First: 1, Every: 100},
		fs:             ops,
	}

	for _, dir := range []string{d.current, d.upload, d.tmp} {
		if err := d.ensureDir(ctx, dir, opts.DirRetries, opts.DirRetryDelay); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Directory) ensureDir(ctx context.Context, dir string, retries uint64, delay time.Duration) error {
	b := retry.WithMaxRetries(retries, retry.NewConstant(delay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := d.fs.mkdirAll(dir, dirPerm); err != nil {
			d.log.Warn(ctx, "create directory failed", "dir", d.rel(dir), "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return common.Fatal("create directory "+d.rel(dir), err)
	}
	return nil
}

func (d *Directory) Root() string       { return d.root }
func (d *Directory) CurrentDir() string { return d.current }
func (d *Directory) UploadDir() string  { return d.upload }
func (d *Directory) TempDir() string    { return d.tmp }

// CurrentPath is where a stream file named name is written.
func (d *Directory) CurrentPath(name string) string { return filepath.Join(d.current, name) }

// UploadPath is where a finished file named name waits for upload.
func (d *Directory) UploadPath(name string) string { return filepath.Join(d.upload, name) }

// TempPath is where an in-progress binary stream file lives.
func (d *Directory) TempPath(name string) string { return filepath.Join(d.tmp, name) }

// LeftBehind exposes the registry of files waiting for another move attempt.
func (d *Directory) LeftBehind() *LeftBehind { return d.leftBehind }

// DuplicateCount is how many moves found their destination already present.
func (d *Directory) DuplicateCount() int64 { return d.existsCount.Load() }

// rel shortens p to a path relative to the data root so diagnostics never
// carry device-specific absolute paths.
func (d *Directory) rel(p string) string {
	r, err := filepath.Rel(d.root, p)
	if err != nil || strings.HasPrefix(r, "..") {
		return filepath.Base(p)
	}
	return r
}

// MoveToUpload relocates a closed file from currentdata to uploaddata.
//
// The move is retried a bounded number of times. It never overwrites a file
// already present in uploaddata and never escalates a failure as fatal.
//
// Parameters:
//   - ctx: cancels pending retries.
//   - name: the bare file name inside currentdata.
//
// Returns:
//   - Moved: the file is in uploaddata.
//   - SourceMissing: there was nothing to move.
//   - DestinationExists: the source was left untouched and the collision
//     was reported (rate limited).
//   - NoSpace: the device is full; only logged.
//   - Deferred: retries were exhausted; the name was registered for the
//     next SweepLeftBehindFiles and reported.
func (d *Directory) MoveToUpload(ctx context.Context, name string) MoveOutcome {
	return d.relocate(ctx, d.current, d.upload, name, true)
}

// PromoteTemp moves a finished binary stream file from the temp directory
// into currentdata under its final name.
func (d *Directory) PromoteTemp(ctx context.Context, tmpName, name string) MoveOutcome {
	src := filepath.Join(d.tmp, tmpName)
	dst := filepath.Join(d.current, name)
	return d.relocatePaths(ctx, src, dst, name, false)
}

func (d *Directory) relocate(ctx context.Context, srcDir, dstDir, name string, registerOnFailure bool) MoveOutcome {
	return d.relocatePaths(ctx, filepath.Join(srcDir, name), filepath.Join(dstDir, name), name, registerOnFailure)
}

func (d *Directory) relocatePaths(ctx context.Context, src, dst, name string, registerOnFailure bool) MoveOutcome {
	outcome := Moved
	var size int64

	b := retry.WithMaxRetries(d.moveRetries, retry.NewConstant(d.moveRetryDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		n, err := d.move(src, dst)
		switch {
		case err == nil:
			outcome, size = Moved, n
			return nil
		case errors.Is(err, errSourceMissing):
			outcome = SourceMissing
			return nil
		case errors.Is(err, fs.ErrExist):
			outcome = DestinationExists
			return nil
		case errors.Is(err, syscall.ENOSPC):
			outcome = NoSpace
			return nil
		}
		d.log.Debug(ctx, "move attempt failed", "src", d.rel(src), "error", err)
		return retry.RetryableError(err)
	})

	if err != nil {
		if registerOnFailure {
			d.leftBehind.Push(name)
		}
		d.reporter.Report(ctx, "move failed after retries", err,
			"src", d.rel(src), "dst", d.rel(dst), "left_behind", registerOnFailure)
		return Deferred
	}

	switch outcome {
	case Moved:
		d.log.Debug(ctx, "file moved", "src", d.rel(src), "dst", d.rel(dst), "size", humanize.Bytes(uint64(size)))
	case SourceMissing:
		d.log.Warn(ctx, "nothing to move, source missing", "src", d.rel(src))
	case DestinationExists:
		n := d.existsCount.Add(1)
		d.log.Warn(ctx, "destination already exists, file left in place", "src", d.rel(src), "dst", d.rel(dst))
		d.existsReport.Do(func() {
			d.reporter.Report(ctx, "move destination exists", fs.ErrExist, "dst", d.rel(dst), "occurrences", n)
		})
	case NoSpace:
		// Never reported to diagnostics.
		d.log.Warn(ctx, "out of space while moving file", "src", d.rel(src))
	}
	return outcome
}

// move renames src to dst without ever replacing an existing dst. It returns
// the size of the moved file.
func (d *Directory) move(src, dst string) (int64, error) {
	info, err := d.fs.lstat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, errSourceMissing
		}
		return 0, err
	}
	if _, err := d.fs.lstat(dst); err == nil {
		return 0, fmt.Errorf("%s: %w", d.rel(dst), fs.ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	if err := d.fs.rename(src, dst); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// SweepLeftBehindFiles drains the left-behind registry and retries exactly
// those files. Anything that fails again is re-registered by MoveToUpload.
// It returns how many files were moved.
func (d *Directory) SweepLeftBehindFiles(ctx context.Context) int {
	names := d.leftBehind.DrainAll()
	moved := 0
	for _, name := range names {
		if d.MoveToUpload(ctx, name) == Moved {
			moved++
		}
	}
	if len(names) > 0 {
		d.log.Info(ctx, "left-behind sweep finished", "attempted", len(names), "moved", moved)
	}
	return moved
}

// RecoverCurrent moves every known-extension file found in currentdata to
// uploaddata. It must run before any stream opens a file, typically right
// after a restart, so files orphaned by a crash are not stranded. Unknown
// files are logged as anomalies and left alone.
func (d *Directory) RecoverCurrent(ctx context.Context) (int, error) {
	entries, err := d.fs.readDir(d.current)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", common.CurrentDirName, err)
	}
	moved := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if !common.IsDataExtension(filepath.Ext(e.Name())) {
			d.log.Warn(ctx, "unexpected file in current directory", "file", d.rel(d.CurrentPath(e.Name())))
			continue
		}
		if d.MoveToUpload(ctx, e.Name()) == Moved {
			moved++
		}
	}
	if moved > 0 {
		d.log.Info(ctx, "recovered files from previous run", "count", moved)
	}
	return moved, nil
}

// MigrateLegacyFiles relocates data files left in deprecated storage
// locations into uploaddata. Missing legacy directories are skipped.
func (d *Directory) MigrateLegacyFiles(ctx context.Context) (int, error) {
	moved := 0
	var errs []error
	for _, dir := range d.legacy {
		entries, err := d.fs.readDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			errs = append(errs, fmt.Errorf("read legacy dir: %w", err))
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || !common.IsDataExtension(filepath.Ext(e.Name())) {
				continue
			}
			if d.relocate(ctx, dir, d.upload, e.Name(), false) == Moved {
				moved++
			}
		}
	}
	if moved > 0 {
		d.log.Info(ctx, "migrated legacy files", "count", moved)
	}
	return moved, errors.Join(errs...)
}

// ListUploadFiles returns the names of files ready for upload, sorted by
// name. Anything without a data extension is logged and skipped.
func (d *Directory) ListUploadFiles(ctx context.Context) ([]string, error) {
	entries, err := d.fs.readDir(d.upload)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", common.UploadDirName, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if !common.IsDataExtension(filepath.Ext(e.Name())) {
			d.log.Warn(ctx, "unexpected file in upload directory", "file", d.rel(d.UploadPath(e.Name())))
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// RemoveTemp deletes an abandoned temp file. Missing files are ignored.
func (d *Directory) RemoveTemp(name string) error {
	err := d.fs.remove(d.TempPath(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// SweepTemp removes temp files last modified before cutoff. Those belong to
// binary streams that never completed, usually because the process died
// mid-write, and cannot be decrypted reliably. Run it at startup with the
// launch time as cutoff so files of streams opened by this process survive.
// It returns how many files were removed.
func (d *Directory) SweepTemp(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := d.fs.readDir(d.tmp)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", common.TempDirName, err)
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) != common.ExtTemp {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := d.RemoveTemp(e.Name()); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", d.rel(d.TempPath(e.Name())), err))
			continue
		}
		removed++
		d.log.Warn(ctx, "removed orphaned temp file", "file", d.rel(d.TempPath(e.Name())), "size", humanize.Bytes(uint64(info.Size())))
	}
	if err := errors.Join(errs...); err != nil {
		d.reporter.Report(ctx, "temp sweep failed", err)
		return removed, err
	}
	return removed, nil
}
