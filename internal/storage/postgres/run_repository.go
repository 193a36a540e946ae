// Records pipeline runs and per-stage outcomes.
// The filesystem stays the source of truth for artifacts; this ledger only
// answers "what ran, when, and how did it end".

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Run is one pipeline invocation.
type Run struct {
	ID            string
	Circuits      []string
	PotSize       int
	Deterministic bool
	Overwrite     bool
	Status        string
	ErrorMessage  string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// StageRecord is the outcome of one stage of one circuit.
type StageRecord struct {
	RunID        string
	Circuit      string
	Stage        string
	Outcome      string
	Command      string
	ExitCode     int
	ErrorMessage string
	Duration     time.Duration
	RecordedAt   time.Time
}

// RunRepository defines operations for run persistence
type RunRepository interface {
	CreateRun(ctx context.Context, run *Run) error
	RecordStage(ctx context.Context, stage *StageRecord) error
	FinishRun(ctx context.Context, runID, status, errorMessage string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListStages(ctx context.Context, runID string) ([]*StageRecord, error)
}

// runRepository is the PostgreSQL implementation
type runRepository struct {
	db *sql.DB
}

// NewRunRepository creates a repository instance
func NewRunRepository(db *sql.DB) RunRepository {
	return &runRepository{db: db}
}

// CreateRun inserts a new run in the running state
func (r *runRepository) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO pipeline_runs (
			id, circuits, pot_size, deterministic, overwrite, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.Status = RunStatusRunning
	run.StartedAt = time.Now().UTC()

	_, err := r.db.ExecContext(
		ctx,
		query,
		run.ID,
		pq.Array(run.Circuits),
		run.PotSize,
		run.Deterministic,
		run.Overwrite,
		run.Status,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// RecordStage appends one stage outcome
func (r *runRepository) RecordStage(ctx context.Context, stage *StageRecord) error {
	query := `
		INSERT INTO pipeline_stages (
			run_id, circuit, stage, outcome, command, exit_code, error_message, duration_ms, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if stage.RecordedAt.IsZero() {
		stage.RecordedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		stage.RunID,
		stage.Circuit,
		stage.Stage,
		stage.Outcome,
		nullString(stage.Command),
		stage.ExitCode,
		nullString(stage.ErrorMessage),
		stage.Duration.Milliseconds(),
		stage.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert stage %s/%s: %w", stage.Circuit, stage.Stage, err)
	}
	return nil
}

// FinishRun closes a run with its final status
func (r *runRepository) FinishRun(ctx context.Context, runID, status, errorMessage string) error {
	query := `
		UPDATE pipeline_runs
		SET status = $1, error_message = $2, finished_at = $3
		WHERE id = $4
	`

	result, err := r.db.ExecContext(ctx, query, status, nullString(errorMessage), time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun retrieves a run by ID
func (r *runRepository) GetRun(ctx context.Context, runID string) (*Run, error) {
	query := `
		SELECT
			id, circuits, pot_size, deterministic, overwrite, status,
			error_message, started_at, finished_at
		FROM pipeline_runs
		WHERE id = $1
	`

	run := &Run{}
	var errorMessage sql.NullString
	var finishedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID,
		pq.Array(&run.Circuits),
		&run.PotSize,
		&run.Deterministic,
		&run.Overwrite,
		&run.Status,
		&errorMessage,
		&run.StartedAt,
		&finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	if errorMessage.Valid {
		run.ErrorMessage = errorMessage.String
	}
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return run, nil
}

// ListStages returns the stages of a run in recording order
func (r *runRepository) ListStages(ctx context.Context, runID string) ([]*StageRecord, error) {
	query := `
		SELECT run_id, circuit, stage, outcome, command, exit_code, error_message, duration_ms, recorded_at
		FROM pipeline_stages
		WHERE run_id = $1
		ORDER BY recorded_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	stages := make([]*StageRecord, 0)
	for rows.Next() {
		s := &StageRecord{}
		var command, errorMessage sql.NullString
		var durationMs int64

		if err := rows.Scan(
			&s.RunID, &s.Circuit, &s.Stage, &s.Outcome, &command,
			&s.ExitCode, &errorMessage, &durationMs, &s.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stage row: %w", err)
		}
		s.Command = command.String
		s.ErrorMessage = errorMessage.String
		s.Duration = time.Duration(durationMs) * time.Millisecond
		stages = append(stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stages: %w", err)
	}
	return stages, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ============================================================================
// Disabled ledger
// ============================================================================

// disabledRunRepository accepts every write and keeps nothing. It is used when
// no database is configured.
type disabledRunRepository struct{}

// NewDisabledRunRepository returns a ledger that records nothing.
func NewDisabledRunRepository() RunRepository {
	return disabledRunRepository{}
}

func (disabledRunRepository) CreateRun(_ context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.Status = RunStatusRunning
	run.StartedAt = time.Now().UTC()
	return nil
}

func (disabledRunRepository) RecordStage(context.Context, *StageRecord) error { return nil }

func (disabledRunRepository) FinishRun(context.Context, string, string, string) error { return nil }

func (disabledRunRepository) GetRun(_ context.Context, runID string) (*Run, error) {
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

func (disabledRunRepository) ListStages(context.Context, string) ([]*StageRecord, error) {
	return nil, nil
}

// ============================================================================
// Database Connection Helper
// ============================================================================

// DatabaseConfig holds connection pool configuration
type DatabaseConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ConnectPostgreSQL establishes a connection to PostgreSQL
func ConnectPostgreSQL(ctx context.Context, connString string, cfg *DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	logger.Info("Connecting to PostgreSQL")
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg != nil {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// schema is applied idempotently at startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id            UUID PRIMARY KEY,
		circuits      TEXT[] NOT NULL,
		pot_size      INTEGER NOT NULL,
		deterministic BOOLEAN NOT NULL DEFAULT FALSE,
		overwrite     BOOLEAN NOT NULL DEFAULT FALSE,
		status        TEXT NOT NULL,
		error_message TEXT,
		started_at    TIMESTAMPTZ NOT NULL,
		finished_at   TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_stages (
		id            BIGSERIAL PRIMARY KEY,
		run_id        UUID NOT NULL REFERENCES pipeline_runs(id) ON DELETE CASCADE,
		circuit       TEXT NOT NULL,
		stage         TEXT NOT NULL,
		outcome       TEXT NOT NULL,
		command       TEXT,
		exit_code     INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		duration_ms   BIGINT NOT NULL,
		recorded_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_stages_run ON pipeline_stages(run_id)`,
}

// EnsureSchema creates the ledger tables if they do not exist
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
