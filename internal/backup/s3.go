// Package backup uploads database snapshots to S3-compatible storage.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/apothes/labledger/internal/database"
)

// Config holds backup destination settings
type Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // optional, for S3-compatible stores
}

// Uploader snapshots the ledger database and uploads it to S3
type Uploader struct {
	db       *database.DB
	cfg      Config
	uploader *manager.Uploader
	log      zerolog.Logger
}

// NewUploader creates a backup uploader. Credentials come from the
// standard AWS environment/config chain.
func NewUploader(ctx context.Context, db *database.DB, cfg Config, log zerolog.Logger) (*Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Uploader{
		db:       db,
		cfg:      cfg,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("component", "backup").Logger(),
	}, nil
}

// Backup writes a consistent snapshot of the database to a temp file and
// uploads it. The snapshot uses VACUUM INTO so the live database stays
// untouched.
func (u *Uploader) Backup(ctx context.Context) error {
	tmpDir, err := os.MkdirTemp("", "labledger-backup-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshotPath := filepath.Join(tmpDir, "ledger.db")
	if _, err := u.db.Exec("VACUUM INTO ?", snapshotPath); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}

	file, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	key := fmt.Sprintf("%s/ledger-%s.db", u.cfg.Prefix, time.Now().UTC().Format("20060102-150405"))

	result, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}

	u.log.Info().
		Str("bucket", u.cfg.Bucket).
		Str("key", key).
		Str("location", result.Location).
		Msg("Database backup uploaded")

	return nil
}

// Job adapts the uploader to the scheduler
type Job struct {
	uploader *Uploader
}

// NewJob wraps an uploader as a scheduled job
func NewJob(uploader *Uploader) *Job {
	return &Job{uploader: uploader}
}

// Name returns the job name
func (j *Job) Name() string { return "s3_backup" }

// Run performs a backup
func (j *Job) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return j.uploader.Backup(ctx)
}
