// Package collector wires the collection engine together: storage, the
// participant session, encrypted streams, the duty-cycle scheduler and the
// uploader. It handles startup recovery and graceful shutdown.
package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/config"
	"github.com/dmitrijs2005/studykeeper/internal/cryptox"
	"github.com/dmitrijs2005/studykeeper/internal/diagnostics"
	"github.com/dmitrijs2005/studykeeper/internal/logging"
	"github.com/dmitrijs2005/studykeeper/internal/producers"
	"github.com/dmitrijs2005/studykeeper/internal/scheduler"
	"github.com/dmitrijs2005/studykeeper/internal/session"
	"github.com/dmitrijs2005/studykeeper/internal/storage"
	"github.com/dmitrijs2005/studykeeper/internal/stream"
	"github.com/dmitrijs2005/studykeeper/internal/supervisor"
	"github.com/dmitrijs2005/studykeeper/internal/uploader"
	"github.com/google/uuid"
)

const (
	AppLogStream     = "app_log"
	RuntimeStream    = "runtime"
	shutdownDeadline = 30 * time.Second
)

// AppLogHeader is the header of the app_log stream.
var AppLogHeader = []string{"timestamp", "launch_id", "event", "message"}

type App struct {
	config   *config.Config
	logger   logging.Logger
	clock    clock.Clock
	launchID string

	supervisor *supervisor.Supervisor
	reporter   diagnostics.Reporter
	storage    *storage.Directory
	session    *session.Session
	engine     *cryptox.Engine
	scheduler  *scheduler.Scheduler
	uploader   *uploader.Uploader
	putter     uploader.ObjectPutter

	appLog *stream.Stream

	mu      sync.Mutex
	streams []*stream.Stream
}

type Option func(*App)

func WithLogger(l logging.Logger) Option {
	return func(a *App) { a.logger = l }
}

func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithObjectPutter replaces the S3 client built from the configuration.
func WithObjectPutter(p uploader.ObjectPutter) Option {
	return func(a *App) { a.putter = p }
}

// NewApp builds the application context. It creates the data directories,
// migrates legacy files, recovers files left in the current directory by a
// previous run, removes temp files of binary streams that never completed and
// loads the participant's public key.
func NewApp(ctx context.Context, c *config.Config, opts ...Option) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// temp file times come from the filesystem, not the injected clock
	launched := time.Now()
	app := &App{config: c, launchID: uuid.NewString()}
	for _, o := range opts {
		o(app)
	}
	if app.logger == nil {
		level, err := logging.ParseLevel(c.LogLevel)
		if err != nil {
			return nil, err
		}
		app.logger = logging.NewJSONLogger(os.Stdout, level)
	}
	app.logger = app.logger.With("launch_id", app.launchID)
	if app.clock == nil {
		app.clock = clock.New()
	}

	app.supervisor = supervisor.New(app.logger)
	app.reporter = diagnostics.NewLogReporter(app.logger)

	dir, err := storage.New(ctx, storage.Options{
		Root:       c.DataDir,
		LegacyDirs: c.LegacyDirs,
		Logger:     app.logger,
		Reporter:   app.reporter,
	})
	if err != nil {
		return nil, err
	}
	app.storage = dir

	if n, err := dir.MigrateLegacyFiles(ctx); err != nil {
		app.logger.Warn(ctx, "legacy migration incomplete", "migrated", n, "error", err)
	}
	if n, err := dir.RecoverCurrent(ctx); err != nil {
		app.logger.Warn(ctx, "recovery of current files incomplete", "recovered", n, "error", err)
	}
	if n, err := dir.SweepTemp(ctx, launched); err != nil {
		app.logger.Warn(ctx, "temp sweep incomplete", "removed", n, "error", err)
	}

	pub, err := cryptox.LoadPublicKey(c.PublicKeyPath)
	if err != nil {
		return nil, common.Fatal("load public key", err)
	}
	app.session, err = session.New(c.ParticipantID, pub)
	if err != nil {
		return nil, common.Fatal("start session", err)
	}
	app.engine = cryptox.NewEngine()

	if c.S3Bucket != "" {
		if app.putter == nil {
			app.putter, err = uploader.NewS3Client(ctx, uploader.S3Config{
				Region:       c.S3Region,
				BaseEndpoint: c.S3BaseEndpoint,
				AccessKey:    c.S3AccessKey,
				SecretKey:    c.S3SecretKey,
			})
			if err != nil {
				return nil, err
			}
		}
		app.uploader = uploader.New(app.putter, dir, uploader.Options{
			Bucket:        c.S3Bucket,
			Prefix:        c.S3Prefix,
			ParticipantID: c.ParticipantID,
			Logger:        app.logger,
		})
	}

	app.appLog, err = app.NewStream(AppLogStream, AppLogHeader)
	if err != nil {
		return nil, err
	}

	app.scheduler = scheduler.New(scheduler.Options{
		Clock:             app.clock,
		Logger:            app.logger,
		FallbackInterval:  c.FallbackWakeInterval,
		HeartbeatInterval: c.HeartbeatInterval,
		Heartbeat: func(_ context.Context, now time.Time) {
			app.event(now, "heartbeat", "")
		},
		CheckInterval: c.UploadInterval,
		Check: func(ctx context.Context) {
			if err := app.UploadPass(ctx); err != nil {
				app.logger.Warn(ctx, "upload pass failed", "error", err)
			}
		},
	})

	return app, nil
}

func (app *App) streamDeps() stream.Deps {
	return stream.Deps{
		Storage:  app.storage,
		Crypto:   app.engine,
		Session:  app.session,
		Clock:    app.clock,
		Logger:   app.logger,
		Reporter: app.reporter,
		Aborter:  app.supervisor,
	}
}

// NewStream creates a line stream that is rotated on every upload pass and
// closed on shutdown. Creating a stream without a session aborts the app.
func (app *App) NewStream(streamType string, header []string) (*stream.Stream, error) {
	s, err := stream.New(streamType, header, app.streamDeps(), stream.Options{Sanitize: app.config.SanitizeRecords})
	if err != nil {
		if common.IsFatal(err) {
			app.supervisor.Abort(err)
		}
		return nil, err
	}
	app.mu.Lock()
	app.streams = append(app.streams, s)
	app.mu.Unlock()
	return s, nil
}

// NewBinaryStream creates a binary stream with the given media extension.
func (app *App) NewBinaryStream(streamType, ext string) (*stream.BinaryStream, error) {
	b, err := stream.NewBinary(streamType, ext, app.streamDeps())
	if err != nil && common.IsFatal(err) {
		app.supervisor.Abort(err)
	}
	return b, err
}

// Scheduler exposes the scheduler so callers can register producers.
func (app *App) Scheduler() *scheduler.Scheduler { return app.scheduler }

func (app *App) Storage() *storage.Directory { return app.storage }

func (app *App) Supervisor() *supervisor.Supervisor { return app.supervisor }

func (app *App) event(now time.Time, name, message string) {
	app.appLog.Store([]string{strconv.FormatInt(now.UnixMilli(), 10), app.launchID, name, message})
}

// rotateStreams finalizes the open file of every stream and waits until the
// files are in the upload directory.
func (app *App) rotateStreams(ctx context.Context) {
	app.mu.Lock()
	streams := append([]*stream.Stream(nil), app.streams...)
	app.mu.Unlock()

	for _, s := range streams {
		s.Reset()
	}
	for _, s := range streams {
		if err := s.Flush(ctx); err != nil && !errors.Is(err, common.ErrStreamClosed) {
			app.logger.Warn(ctx, "flush stream", "stream", s.Type(), "error", err)
		}
	}
}

// UploadPass rotates every stream and uploads the finished files. Without an
// uploader the files stay in the upload directory.
func (app *App) UploadPass(ctx context.Context) error {
	app.event(app.clock.Now(), "upload_pass", "")
	app.rotateStreams(ctx)
	if app.uploader == nil {
		return nil
	}
	res, err := app.uploader.Run(ctx)
	app.event(app.clock.Now(), "upload_result",
		fmt.Sprintf("uploaded=%d failed=%d swept=%d", res.Uploaded, res.Failed, res.Swept))
	return err
}

// RegisterDefaultProducers registers the collector's own runtime sampler.
func (app *App) RegisterDefaultProducers(ctx context.Context) error {
	rs, err := app.NewStream(RuntimeStream, producers.RuntimeHeader)
	if err != nil {
		return err
	}
	sampler := producers.NewSampler(RuntimeStream, rs, app.config.SamplerPeriod, producers.RuntimeSample,
		producers.WithClock(app.clock), producers.WithLogger(app.logger))
	_, err = app.scheduler.Register(ctx, RuntimeStream, sampler, app.config.SamplerOnDuration, app.config.SamplerOffDuration)
	return err
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the scheduler and blocks until ctx is canceled, a signal
// arrives or a fatal error is reported. It then stops all producers and
// closes every stream. The returned error is the fatal error, if any.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting collector...", "participant", app.config.ParticipantID)
	app.initSignalHandler(cancelFunc)
	app.event(app.clock.Now(), "launch", "")

	if err := app.scheduler.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-app.supervisor.Done():
	}

	return app.shutdown()
}

func (app *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	app.logger.Info(ctx, "Stopping collector...")
	var errs []error
	if err := app.scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	app.event(app.clock.Now(), "stop", "")

	app.mu.Lock()
	streams := app.streams
	app.streams = nil
	app.mu.Unlock()
	for _, s := range streams {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Type(), err))
		}
	}

	if err := app.supervisor.Err(); err != nil {
		return err
	}
	return errors.Join(errs...)
}
