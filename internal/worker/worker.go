// Package worker runs the recompute pool: a fixed number of goroutines
// that poll the job queue, claim batches, and rebuild derived health
// records. Processing is idempotent, so the at-least-once queue
// semantics (expired claims, retries) are safe.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsedir/beacon/internal/db"
	"github.com/pulsedir/beacon/internal/derive"
)

// Config holds worker pool settings
type Config struct {
	Workers      int           `toml:"workers"`
	PollInterval time.Duration `toml:"poll_interval"`
	BatchSize    int           `toml:"batch_size"`
	ClaimTTL     time.Duration `toml:"claim_ttl"`
	MaxAttempts  int           `toml:"max_attempts"`
}

// DefaultConfig returns worker settings with sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:      2,
		PollInterval: 2 * time.Second,
		BatchSize:    16,
		ClaimTTL:     2 * time.Minute,
		MaxAttempts:  5,
	}
}

// Validate checks worker settings for consistency
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.ClaimTTL <= 0 {
		return fmt.Errorf("claim_ttl must be positive, got %s", c.ClaimTTL)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", c.MaxAttempts)
	}
	return nil
}

// Pool drains the recompute queue with a fixed set of workers.
type Pool struct {
	db     *db.DB
	params derive.Params
	config Config
	logger *slog.Logger

	// now is replaceable for deterministic tests
	now func() time.Time
}

// NewPool creates a worker pool
func NewPool(database *db.DB, params derive.Params, config Config, logger *slog.Logger) *Pool {
	return &Pool{
		db:     database,
		params: params,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Run starts the workers and blocks until the context is cancelled and
// every worker has drained its in-flight batch.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	logger.Info("recompute worker started")

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		p.drainOnce(ctx, logger)

		select {
		case <-ctx.Done():
			logger.Info("recompute worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// drainOnce claims and processes one batch. Claim failures are logged
// and retried on the next tick rather than crashing the worker.
func (p *Pool) drainOnce(ctx context.Context, logger *slog.Logger) {
	jobs, err := p.db.ClaimJobs(p.config.BatchSize, p.config.ClaimTTL)
	if err != nil {
		logger.Error("failed to claim jobs", "error", err)
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			// Shutdown mid-batch: unprocessed claims expire via the TTL.
			return
		}
		p.ProcessJob(&job, logger)
	}
}

// ProcessJob recomputes the derived health record for one claimed job.
// Failures consume a retry attempt; once the budget is gone the job is
// dead-lettered and logged loudly.
func (p *Pool) ProcessJob(job *db.Job, logger *slog.Logger) {
	if err := p.recompute(job.UnitID); err != nil {
		deadLettered, markErr := p.db.MarkJobFailed(job.ID, err, p.config.MaxAttempts)
		if markErr != nil {
			logger.Error("failed to record job failure",
				"job_id", job.ID,
				"unit_id", job.UnitID,
				"error", markErr)
			return
		}
		if deadLettered {
			logger.Warn("job dead-lettered after exhausting retries",
				"job_id", job.ID,
				"unit_id", job.UnitID,
				"attempts", job.Attempts,
				"error", err)
		} else {
			logger.Info("job failed, will retry",
				"job_id", job.ID,
				"unit_id", job.UnitID,
				"attempts", job.Attempts,
				"error", err)
		}
		return
	}

	if err := p.db.MarkJobProcessed(job.ID); err != nil {
		// The record was written; the worst case for a stuck claim is one
		// redundant recompute after the TTL expires.
		logger.Error("failed to mark job processed",
			"job_id", job.ID,
			"unit_id", job.UnitID,
			"error", err)
	}
}

func (p *Pool) recompute(unitID string) error {
	now := p.now().UTC()

	events, err := p.db.ListHeartbeatsSince(unitID, now.Add(-p.params.Window))
	if err != nil {
		return fmt.Errorf("load events for unit %s: %w", unitID, err)
	}

	prev, err := p.db.GetHealthRecord(unitID)
	if err != nil && !db.IsNotFound(err) {
		return fmt.Errorf("load health record for unit %s: %w", unitID, err)
	}

	record := derive.Recompute(p.params, events, prev, now)
	record.UnitID = unitID

	if err := p.db.UpsertHealthRecord(&record); err != nil {
		return fmt.Errorf("write health record for unit %s: %w", unitID, err)
	}

	return nil
}
