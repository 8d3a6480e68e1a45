// Package uploader pushes finished stream files from the upload directory to
// S3-compatible object storage and deletes each local file once the object
// store has accepted it.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/logging"
	"github.com/dustin/go-humanize"
	"github.com/sethvargo/go-retry"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) ObjectPutter {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

const (
	DefaultPutRetries    = 2
	DefaultPutRetryDelay = time.Second
)

// ObjectPutter is the part of *s3.Client the uploader uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Source is the upload side of storage.Directory.
type Source interface {
	SweepLeftBehindFiles(ctx context.Context) int
	ListUploadFiles(ctx context.Context) ([]string, error)
	UploadPath(name string) string
}

// S3Config holds object storage connection settings.
type S3Config struct {
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

// NewS3Client builds an S3 client. With static credentials and a base
// endpoint it talks path-style to a MinIO-like server.
func NewS3Client(ctx context.Context, c S3Config) (ObjectPutter, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
	}
	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}

type Options struct {
	Bucket        string
	Prefix        string
	ParticipantID string
	PutRetries    uint64
	PutRetryDelay time.Duration
	Logger        logging.Logger
}

// Result summarizes one upload pass.
type Result struct {
	Swept    int
	Uploaded int
	Failed   int
	Bytes    int64
}

type Uploader struct {
	client ObjectPutter
	src    Source
	opts   Options
	log    logging.Logger
}

func New(client ObjectPutter, src Source, opts Options) *Uploader {
	if opts.PutRetries == 0 {
		opts.PutRetries = DefaultPutRetries
	}
	if opts.PutRetryDelay <= 0 {
		opts.PutRetryDelay = DefaultPutRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Uploader{
		client: client,
		src:    src,
		opts:   opts,
		log:    opts.Logger.With("component", "uploader"),
	}
}

// ObjectKey returns the object key for a local file name.
func (u *Uploader) ObjectKey(name string) string {
	return path.Join(u.opts.Prefix, u.opts.ParticipantID, name)
}

// Run retries left-behind moves, then uploads every file in the upload
// directory. Files that fail to upload stay on disk for the next pass.
func (u *Uploader) Run(ctx context.Context) (Result, error) {
	var res Result
	res.Swept = u.src.SweepLeftBehindFiles(ctx)

	names, err := u.src.ListUploadFiles(ctx)
	if err != nil {
		return res, fmt.Errorf("list upload files: %w", err)
	}

	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		size, err := u.uploadFile(ctx, name)
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			u.log.Warn(ctx, "upload failed", "file", name, "error", err)
			continue
		}
		res.Uploaded++
		res.Bytes += size
	}

	u.log.Info(ctx, "upload pass finished",
		"uploaded", res.Uploaded, "failed", res.Failed, "swept", res.Swept, "size", humanize.Bytes(uint64(res.Bytes)))
	return res, errors.Join(errs...)
}

func (u *Uploader) uploadFile(ctx context.Context, name string) (int64, error) {
	p := u.src.UploadPath(name)
	info, err := os.Stat(p)
	if err != nil {
		return 0, err
	}

	b := retry.WithMaxRetries(u.opts.PutRetries, retry.NewConstant(u.opts.PutRetryDelay))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(u.opts.Bucket),
			Key:           aws.String(u.ObjectKey(name)),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
			ContentType:   aws.String(contentType(name)),
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := os.Remove(p); err != nil {
		u.log.Warn(ctx, "remove uploaded file", "file", name, "error", err)
	}
	u.log.Debug(ctx, "file uploaded", "file", name, "size", humanize.Bytes(uint64(info.Size())))
	return info.Size(), nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case common.ExtCSV:
		return "text/csv"
	case common.ExtMP4:
		return "video/mp4"
	case common.ExtWAV:
		return "audio/wav"
	}
	return "application/octet-stream"
}
