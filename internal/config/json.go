package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/studykeeper/internal/flagx"
	"github.com/dmitrijs2005/studykeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer fields
// distinguish "absent" from "zero" so a partial file only overrides what it
// names.
type JsonConfig struct {
	DataDir       *string  `json:"data_dir"`
	LegacyDirs    []string `json:"legacy_dirs"`
	ParticipantID *string  `json:"participant_id"`
	PublicKeyPath *string  `json:"public_key_path"`

	HeartbeatInterval    *timex.Duration `json:"heartbeat_interval"`
	FallbackWakeInterval *timex.Duration `json:"fallback_wake_interval"`
	UploadInterval       *timex.Duration `json:"upload_interval"`

	SamplerOnDuration  *timex.Duration `json:"sampler_on_duration"`
	SamplerOffDuration *timex.Duration `json:"sampler_off_duration"`
	SamplerPeriod      *timex.Duration `json:"sampler_period"`

	SanitizeRecords *bool `json:"sanitize_records"`

	S3Bucket       *string `json:"s3_bucket"`
	S3Region       *string `json:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`
	S3AccessKey    *string `json:"s3_access_key"`
	S3SecretKey    *string `json:"s3_secret_key"`
	S3Prefix       *string `json:"s3_prefix"`

	LogLevel *string `json:"log_level"`
}

// parseJson overlays cfg with values from the JSON file named by -c/-config.
// No flag means no change. Read or decode errors panic: a collector started
// with a broken config file must not silently fall back to defaults.
func parseJson(cfg *Config, args []string) {
	path := flagx.ConfigPath(args)
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.DataDir, jc.DataDir)
	if jc.LegacyDirs != nil {
		cfg.LegacyDirs = jc.LegacyDirs
	}
	setString(&cfg.ParticipantID, jc.ParticipantID)
	setString(&cfg.PublicKeyPath, jc.PublicKeyPath)

	setDuration(&cfg.HeartbeatInterval, jc.HeartbeatInterval)
	setDuration(&cfg.FallbackWakeInterval, jc.FallbackWakeInterval)
	setDuration(&cfg.UploadInterval, jc.UploadInterval)
	setDuration(&cfg.SamplerOnDuration, jc.SamplerOnDuration)
	setDuration(&cfg.SamplerOffDuration, jc.SamplerOffDuration)
	setDuration(&cfg.SamplerPeriod, jc.SamplerPeriod)

	if jc.SanitizeRecords != nil {
		cfg.SanitizeRecords = *jc.SanitizeRecords
	}

	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.S3Prefix, jc.S3Prefix)
	setString(&cfg.LogLevel, jc.LogLevel)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
