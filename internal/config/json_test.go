package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeTempJSON(t, dir, "cfg.json", map[string]any{
		"data_dir":               "/srv/data",
		"legacy_dirs":            []string{"/srv/Documents"},
		"participant_id":         "abc123",
		"heartbeat_interval":     "1m",
		"fallback_wake_interval": "30s",
		"sanitize_records":       false,
		"s3_bucket":              "other",
	})

	t.Run("loads from -config", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg, []string{"-config", path})

		assert.Equal(t, "/srv/data", cfg.DataDir)
		assert.Equal(t, []string{"/srv/Documents"}, cfg.LegacyDirs)
		assert.Equal(t, "abc123", cfg.ParticipantID)
		assert.Equal(t, time.Minute, cfg.HeartbeatInterval)
		assert.Equal(t, 30*time.Second, cfg.FallbackWakeInterval)
		assert.False(t, cfg.SanitizeRecords)
		assert.Equal(t, "other", cfg.S3Bucket)

		// absent keys keep defaults
		assert.Equal(t, time.Hour, cfg.UploadInterval)
		assert.Equal(t, "us-east-1", cfg.S3Region)
	})

	t.Run("flags override json", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()
		args := []string{"-c", path, "-p", "fromflag"}
		parseJson(cfg, args)
		parseFlags(cfg, args)

		assert.Equal(t, "fromflag", cfg.ParticipantID)
		assert.Equal(t, "/srv/data", cfg.DataDir)
	})

	t.Run("no config flag → no changes", func(t *testing.T) {
		cfg := &Config{DataDir: "keep", HeartbeatInterval: 42 * time.Second}
		parseJson(cfg, nil)

		assert.Equal(t, "keep", cfg.DataDir)
		assert.Equal(t, 42*time.Second, cfg.HeartbeatInterval)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg, []string{"-config", bad}) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg, []string{"-c", filepath.Join(dir, "nope.json")}) })
	})
}
