package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.LoadDefaults()
		return c
	}

	withOverrides := base()
	withOverrides.DataDir = "/var/lib/sk"
	withOverrides.ParticipantID = "p1"
	withOverrides.PublicKeyPath = "/keys/p1.pem"
	withOverrides.S3Bucket = "bucket2"
	withOverrides.S3BaseEndpoint = "http://127.0.0.1:9000"
	withOverrides.UploadInterval = 30 * time.Second
	withOverrides.LogLevel = "debug"

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{"-d", "/var/lib/sk", "-p", "p1", "-k", "/keys/p1.pem", "-b", "bucket2",
				"-e", "http://127.0.0.1:9000", "-u", "30", "-l", "debug"},
			expected: withOverrides,
		},
		{
			name:     "unknown flags ignored",
			args:     []string{"-c", "cfg.json", "-zzz", "1"},
			expected: base(),
		},
		{
			name:        "incorrect upload interval",
			args:        []string{"-u", "abc"},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(cfg, tt.args) })
				return
			}
			require.NotPanics(t, func() { parseFlags(cfg, tt.args) })
			assert.Empty(t, cmp.Diff(tt.expected, cfg))
		})
	}
}
