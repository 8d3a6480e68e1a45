// Package config loads runtime configuration for the studykeeper collector.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-d string   data root holding currentdata/, uploaddata/ and tmpdata/
//	-p string   participant id (filename prefix)
//	-k string   path to the participant's RSA public key (PEM or base64 DER)
//	-b string   S3 bucket receiving uploaded files
//	-e string   S3-compatible endpoint URL (empty = AWS default)
//	-u int      upload check interval (seconds)
//	-l string   log level: debug|info|warn|error
//
// # JSON schema
//
// Durations accept Go duration strings or integer nanoseconds:
//
//	{
//	  "data_dir": "/var/lib/studykeeper",
//	  "participant_id": "p8k2d9",
//	  "public_key_path": "/etc/studykeeper/p8k2d9.pem",
//	  "heartbeat_interval": "5m",
//	  "fallback_wake_interval": "10m",
//	  "upload_interval": "1h",
//	  "s3_bucket": "study-data"
//	}
//
// Secrets (S3 keys) may be placed in the JSON file; there is no environment
// variable support.
package config
