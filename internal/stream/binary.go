package stream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/cryptox"
	"github.com/dmitrijs2005/studykeeper/internal/logging"
	"github.com/dmitrijs2005/studykeeper/internal/storage"
	"github.com/google/uuid"
)

// BinaryStream encrypts an arbitrary byte stream into a single file. The file
// is written in the temp directory and only becomes visible in the current
// directory once it is complete.
type BinaryStream struct {
	typ  string
	ext  string
	deps Deps
	log  logging.Logger

	mu        sync.Mutex
	file      *os.File
	enc       io.WriteCloser
	cbc       *cryptox.CBCWriter
	key       []byte
	tmpName   string
	finalName string
}

// NewBinary creates a binary stream whose finished files carry ext (for
// example ".wav").
func NewBinary(streamType, ext string, deps Deps) (*BinaryStream, error) {
	if streamType == "" || strings.ContainsAny(streamType, `/\`) {
		return nil, fmt.Errorf("invalid stream type %q", streamType)
	}
	if !common.IsDataExtension(ext) || ext == common.ExtCSV {
		return nil, fmt.Errorf("unsupported binary extension %q", ext)
	}
	if err := deps.validate(); err != nil {
		if errors.Is(err, common.ErrNoSession) || errors.Is(err, common.ErrNoPublicKey) {
			return nil, common.Fatal("new binary stream "+streamType, err)
		}
		return nil, err
	}
	return &BinaryStream{
		typ:  streamType,
		ext:  ext,
		deps: deps,
		log:  deps.Logger.With("component", "binary_stream", "stream", streamType),
	}, nil
}

// Open starts a new file. It fails if a file is already open.
func (b *BinaryStream) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file != nil {
		return errors.New("binary stream already open")
	}

	pub := b.deps.Session.PublicKey()
	if pub == nil {
		return common.Fatal("open binary stream "+b.typ, common.ErrNoPublicKey)
	}
	key, err := b.deps.Crypto.NewSymmetricKey()
	if err != nil {
		return common.Fatal("generate stream key", err)
	}
	iv, err := b.deps.Crypto.NewIV()
	if err != nil {
		cryptox.Wipe(key)
		return common.Fatal("generate stream iv", err)
	}
	wrapped, err := b.deps.Crypto.WrapKey(key, pub)
	if err != nil {
		cryptox.Wipe(key)
		return common.Fatal("wrap stream key", err)
	}

	tmpName := uuid.NewString() + common.ExtTemp
	f, err := os.OpenFile(b.deps.Storage.TempPath(tmpName), os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		cryptox.Wipe(key)
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.WriteString(wrapped + "\n" + cryptox.Encode(iv) + "\n"); err != nil {
		_ = f.Close()
		_ = b.deps.Storage.RemoveTemp(tmpName)
		cryptox.Wipe(key)
		return fmt.Errorf("write binary stream preamble: %w", err)
	}

	enc := base64.NewEncoder(base64.URLEncoding, f)
	cbc, err := cryptox.NewCBCWriter(enc, key, iv)
	if err != nil {
		_ = f.Close()
		_ = b.deps.Storage.RemoveTemp(tmpName)
		cryptox.Wipe(key)
		return common.Fatal("init binary cipher", err)
	}

	ms := b.deps.Clock.Now().UnixMilli()
	b.file, b.enc, b.cbc, b.key = f, enc, cbc, key
	b.tmpName = tmpName
	b.finalName = FileName(b.deps.Session.ParticipantID(), b.typ, ms, b.ext)
	b.log.Debug(ctx, "binary stream opened", "temp", tmpName, "file", b.finalName)
	return nil
}

// Write encrypts p into the open file.
func (b *BinaryStream) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return 0, common.ErrStreamClosed
	}
	return b.cbc.Write(p)
}

// Close completes the cipher stream, promotes the file to the current
// directory and then moves it to upload. The returned outcome describes the
// last relocation attempted; a file that could not be finished or promoted
// stays in the temp directory until the next startup sweep.
func (b *BinaryStream) Close(ctx context.Context) (storage.MoveOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return storage.SourceMissing, common.ErrStreamClosed
	}

	var errs []error
	if err := b.cbc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("finish cipher: %w", err))
	}
	if err := b.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("finish encoding: %w", err))
	}
	if err := b.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}
	if err := b.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	tmpName, finalName := b.tmpName, b.finalName
	b.reset()

	if err := errors.Join(errs...); err != nil {
		return storage.Deferred, err
	}

	outcome := b.deps.Storage.PromoteTemp(ctx, tmpName, finalName)
	if outcome != storage.Moved {
		b.log.Warn(ctx, "binary file not promoted", "temp", tmpName, "outcome", outcome.String())
		return outcome, nil
	}
	return b.deps.Storage.MoveToUpload(ctx, finalName), nil
}

// Discard abandons the open file and removes it.
func (b *BinaryStream) Discard(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil
	}
	_ = b.file.Close()
	tmpName := b.tmpName
	b.reset()
	if err := b.deps.Storage.RemoveTemp(tmpName); err != nil {
		return err
	}
	b.log.Debug(ctx, "binary stream discarded")
	return nil
}

func (b *BinaryStream) reset() {
	cryptox.Wipe(b.key)
	b.file, b.enc, b.cbc, b.key = nil, nil, nil, nil
	b.tmpName, b.finalName = "", ""
}
