package stream

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/cryptox"
	"github.com/dmitrijs2005/studykeeper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBinary_Validation(t *testing.T) {
	fx := newFixture(t)

	_, err := NewBinary("audio", common.ExtCSV, fx.deps)
	assert.Error(t, err)
	_, err = NewBinary("audio", ".exe", fx.deps)
	assert.Error(t, err)

	deps := fx.deps
	deps.Session = nil
	_, err = NewBinary("audio", common.ExtWAV, deps)
	assert.True(t, common.IsFatal(err))
}

func TestBinaryStream_RoundTrip(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	b, err := NewBinary("audio", common.ExtWAV, fx.deps)
	require.NoError(t, err)

	require.NoError(t, b.Open(ctx))
	assert.Error(t, b.Open(ctx), "already open")

	tmp := listDir(t, fx.dir.TempDir())
	require.Len(t, tmp, 1)
	assert.Equal(t, ".tmp", filepath.Ext(tmp[0]))
	assert.Empty(t, listDir(t, fx.dir.CurrentDir()), "incomplete files stay out of current")

	payload := bytes.Repeat([]byte("RIFF-wave-data-"), 1000)
	for off := 0; off < len(payload); {
		n := min(7+off%113, len(payload)-off)
		w, err := b.Write(payload[off : off+n])
		require.NoError(t, err)
		require.Equal(t, n, w)
		off += n
	}

	outcome, err := b.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Moved, outcome)
	assert.Empty(t, listDir(t, fx.dir.TempDir()))
	assert.Empty(t, listDir(t, fx.dir.CurrentDir()))

	files := listDir(t, fx.dir.UploadDir())
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0], "p42_audio_"))
	assert.Equal(t, common.ExtWAV, filepath.Ext(files[0]))

	f, err := os.Open(fx.dir.UploadPath(files[0]))
	require.NoError(t, err)
	defer f.Close()
	got, err := cryptox.DecryptBinaryFile(f, privateKey(t))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = b.Write([]byte("late"))
	assert.ErrorIs(t, err, common.ErrStreamClosed)
	_, err = b.Close(ctx)
	assert.ErrorIs(t, err, common.ErrStreamClosed)
}

func TestBinaryStream_EmptyPayload(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	b, err := NewBinary("video", common.ExtMP4, fx.deps)
	require.NoError(t, err)

	require.NoError(t, b.Open(ctx))
	outcome, err := b.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Moved, outcome)

	files := listDir(t, fx.dir.UploadDir())
	require.Len(t, files, 1)
	f, err := os.Open(fx.dir.UploadPath(files[0]))
	require.NoError(t, err)
	defer f.Close()
	got, err := cryptox.DecryptBinaryFile(f, privateKey(t))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBinaryStream_DestinationExistsKeepsTemp(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	b, err := NewBinary("audio", common.ExtWAV, fx.deps)
	require.NoError(t, err)

	require.NoError(t, b.Open(ctx))
	final := b.finalName
	require.NoError(t, os.WriteFile(fx.dir.CurrentPath(final), []byte("older"), 0o600))

	_, err = b.Write([]byte("new data"))
	require.NoError(t, err)
	outcome, err := b.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.DestinationExists, outcome)

	assert.Len(t, listDir(t, fx.dir.TempDir()), 1)
	data, err := os.ReadFile(fx.dir.CurrentPath(final))
	require.NoError(t, err)
	assert.Equal(t, "older", string(data))
}

func TestBinaryStream_Discard(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	b, err := NewBinary("audio", common.ExtWAV, fx.deps)
	require.NoError(t, err)

	require.NoError(t, b.Discard(ctx))

	require.NoError(t, b.Open(ctx))
	_, err = b.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, b.Discard(ctx))
	assert.Empty(t, listDir(t, fx.dir.TempDir()))
	assert.Empty(t, listDir(t, fx.dir.UploadDir()))

	// the stream can be reopened afterwards
	require.NoError(t, b.Open(ctx))
	_, err = b.Close(ctx)
	require.NoError(t, err)
	assert.Len(t, listDir(t, fx.dir.UploadDir()), 1)
}
