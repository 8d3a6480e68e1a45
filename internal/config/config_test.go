package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "studydata", c.DataDir)
	assert.Equal(t, 5*time.Minute, c.HeartbeatInterval)
	assert.Equal(t, 10*time.Minute, c.FallbackWakeInterval)
	assert.Equal(t, time.Hour, c.UploadInterval)
	assert.True(t, c.SanitizeRecords)
	assert.Equal(t, "info", c.LogLevel)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"collector"}

	cfg := LoadConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "studydata", cfg.DataDir)
	assert.Equal(t, time.Hour, cfg.UploadInterval)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.LoadDefaults()
		c.ParticipantID = "p1"
		c.PublicKeyPath = "/keys/p1.pem"
		return c
	}

	require.NoError(t, valid().Validate())

	noParticipant := valid()
	noParticipant.ParticipantID = ""
	assert.ErrorContains(t, noParticipant.Validate(), "participant id")

	noKey := valid()
	noKey.PublicKeyPath = ""
	assert.ErrorContains(t, noKey.Validate(), "public key")

	badInterval := valid()
	badInterval.FallbackWakeInterval = 0
	assert.ErrorContains(t, badInterval.Validate(), "intervals")
}
