package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/studykeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Only the flags listed below are considered; everything else in args is
// filtered out by flagx.FilterArgs so that -c/-config and unrelated flags do
// not cause parse errors.
func parseFlags(cfg *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-d", "-p", "-k", "-b", "-e", "-u", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data root directory")
	fs.StringVar(&cfg.ParticipantID, "p", cfg.ParticipantID, "participant id")
	fs.StringVar(&cfg.PublicKeyPath, "k", cfg.PublicKeyPath, "path to participant RSA public key")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "S3 bucket for uploads")
	fs.StringVar(&cfg.S3BaseEndpoint, "e", cfg.S3BaseEndpoint, "S3-compatible endpoint URL")
	uploadInterval := fs.Int("u", int(cfg.UploadInterval.Seconds()), "upload check interval (in seconds)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.UploadInterval = time.Duration(*uploadInterval) * time.Second
}
