package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pipeline_runs")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 12, true, false, RunStatusRunning, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	run := &Run{Circuits: []string{"alpha", "beta"}, PotSize: 12, Deterministic: true}
	require.NoError(t, NewRunRepository(db).CreateRun(context.Background(), run))

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.False(t, run.StartedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pipeline_stages")).
		WithArgs("run-1", "hash-check", "compile", "failed", "circom circuit.circom", 3, "boom", int64(1500), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewRunRepository(db).RecordStage(context.Background(), &StageRecord{
		RunID:        "run-1",
		Circuit:      "hash-check",
		Stage:        "compile",
		Outcome:      "failed",
		Command:      "circom circuit.circom",
		ExitCode:     3,
		ErrorMessage: "boom",
		Duration:     1500 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunUnknown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE pipeline_runs")).
		WithArgs(RunStatusSucceeded, sqlmock.AnyArg(), sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewRunRepository(db).FinishRun(context.Background(), "missing", RunStatusSucceeded, "")
	require.ErrorIs(t, err, ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "circuits", "pot_size", "deterministic", "overwrite", "status",
		"error_message", "started_at", "finished_at",
	}).AddRow("run-1", "{alpha,beta}", 10, false, true, RunStatusFailed, "stage compile failed", started, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM pipeline_runs")).WithArgs("run-1").WillReturnRows(rows)

	run, err := NewRunRepository(db).GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, run.Circuits)
	assert.Equal(t, 10, run.PotSize)
	assert.True(t, run.Overwrite)
	assert.Equal(t, "stage compile failed", run.ErrorMessage)
	assert.Equal(t, started, run.StartedAt)
	assert.True(t, run.FinishedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM pipeline_runs")).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = NewRunRepository(db).GetRun(context.Background(), "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestListStages(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"run_id", "circuit", "stage", "outcome", "command", "exit_code", "error_message", "duration_ms", "recorded_at",
	}).
		AddRow("run-1", "a", "compile", "skipped", nil, 0, nil, int64(0), at).
		AddRow("run-1", "a", "prove", "ran", "snarkjs groth16 prove", 0, nil, int64(2500), at)

	mock.ExpectQuery(regexp.QuoteMeta("FROM pipeline_stages")).WithArgs("run-1").WillReturnRows(rows)

	stages, err := NewRunRepository(db).ListStages(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "skipped", stages[0].Outcome)
	assert.Empty(t, stages[0].Command)
	assert.Equal(t, 2500*time.Millisecond, stages[1].Duration)
	assert.Equal(t, "snarkjs groth16 prove", stages[1].Command)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS pipeline_runs")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS pipeline_stages")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDisabledRepository(t *testing.T) {
	repo := NewDisabledRunRepository()
	run := &Run{}
	require.NoError(t, repo.CreateRun(context.Background(), run))
	assert.NotEmpty(t, run.ID)
	require.NoError(t, repo.RecordStage(context.Background(), &StageRecord{}))
	require.NoError(t, repo.FinishRun(context.Background(), run.ID, RunStatusSucceeded, ""))
	_, err := repo.GetRun(context.Background(), run.ID)
	require.ErrorIs(t, err, ErrRunNotFound)
}
