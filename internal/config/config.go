package config

import (
	"errors"
	"os"
	"time"
)

// Config holds runtime settings for the collector.
//
// Units: all intervals and durations are time.Duration.
type Config struct {
	DataDir       string
	LegacyDirs    []string
	ParticipantID string
	PublicKeyPath string

	HeartbeatInterval    time.Duration
	FallbackWakeInterval time.Duration
	UploadInterval       time.Duration

	SamplerOnDuration  time.Duration
	SamplerOffDuration time.Duration
	SamplerPeriod      time.Duration

	SanitizeRecords bool

	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string
	S3Prefix       string

	LogLevel string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "studydata"
	c.LegacyDirs = nil
	c.ParticipantID = ""
	c.PublicKeyPath = ""
	c.HeartbeatInterval = 5 * time.Minute
	c.FallbackWakeInterval = 10 * time.Minute
	c.UploadInterval = time.Hour
	c.SamplerOnDuration = time.Minute
	c.SamplerOffDuration = 4 * time.Minute
	c.SamplerPeriod = 10 * time.Second
	c.SanitizeRecords = true
	c.S3Bucket = "study-data"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = ""
	c.S3Prefix = "participants"
	c.LogLevel = "info"
}

// Validate checks the fields a collector cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir is required"))
	}
	if c.ParticipantID == "" {
		errs = append(errs, errors.New("participant id is required"))
	}
	if c.PublicKeyPath == "" {
		errs = append(errs, errors.New("public key path is required"))
	}
	if c.HeartbeatInterval <= 0 || c.FallbackWakeInterval <= 0 || c.UploadInterval <= 0 {
		errs = append(errs, errors.New("intervals must be positive"))
	}
	return errors.Join(errs...)
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	args := os.Args[1:]
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, args)
	parseFlags(cfg, args)
	return cfg
}
