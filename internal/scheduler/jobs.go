package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/apothes/labledger/internal/database"
)

// WALCheckpointJob truncates the database WAL so it doesn't grow unbounded
type WALCheckpointJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewWALCheckpointJob creates a WAL checkpoint job
func NewWALCheckpointJob(db *database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		db:  db,
		log: log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string { return "wal_checkpoint" }

// Run performs the checkpoint
func (j *WALCheckpointJob) Run() error {
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		return fmt.Errorf("WAL checkpoint failed: %w", err)
	}

	j.log.Debug().Msg("WAL checkpoint complete")
	return nil
}

// IntegrityCheckJob runs a quick integrity check against the database
type IntegrityCheckJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewIntegrityCheckJob creates an integrity check job
func NewIntegrityCheckJob(db *database.DB, log zerolog.Logger) *IntegrityCheckJob {
	return &IntegrityCheckJob{
		db:  db,
		log: log.With().Str("job", "integrity_check").Logger(),
	}
}

// Name returns the job name
func (j *IntegrityCheckJob) Name() string { return "integrity_check" }

// Run performs the check
func (j *IntegrityCheckJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := j.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}

	j.log.Debug().Msg("Integrity check passed")
	return nil
}
