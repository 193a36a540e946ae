package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCheckAll(t *testing.T) {
	h := NewChecker(zaptest.NewLogger(t))
	h.lookPath = func(name string) (string, error) {
		if name == "circom" {
			return "/usr/local/bin/circom", nil
		}
		return "", errors.New("not found")
	}

	dir := t.TempDir()
	res := h.CheckAll(context.Background(), Targets{
		Binaries:     map[string]string{"circom": "circom", "snarkjs": "snarkjs"},
		WritableDirs: map[string]string{"wasm": filepath.Join(dir, "wasm")},
	})

	assert.False(t, res.Healthy)
	require.Len(t, res.Checks, 3)
	assert.Equal(t, "binary:circom", res.Checks[0].Component)
	assert.True(t, res.Checks[0].Healthy)
	assert.Equal(t, "binary:snarkjs", res.Checks[1].Component)
	assert.False(t, res.Checks[1].Healthy)
	assert.True(t, res.Checks[2].Healthy)
	assert.DirExists(t, filepath.Join(dir, "wasm"))

	entries, err := os.ReadDir(filepath.Join(dir, "wasm"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckReadableDir(t *testing.T) {
	h := NewChecker(zaptest.NewLogger(t))
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.True(t, h.CheckReadableDir("keys", dir).Healthy)
	assert.False(t, h.CheckReadableDir("keys", file).Healthy)
	assert.False(t, h.CheckReadableDir("keys", filepath.Join(dir, "missing")).Healthy)
}

func TestCheckDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	res := NewChecker(zaptest.NewLogger(t)).CheckDatabase(context.Background(), db)
	assert.True(t, res.Healthy)
	require.NoError(t, mock.ExpectationsWereMet())
}

type pingFunc func(context.Context) error

func (f pingFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestCheckAllIncludesCache(t *testing.T) {
	h := NewChecker(zaptest.NewLogger(t))

	res := h.CheckAll(context.Background(), Targets{
		Cache: pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	assert.False(t, res.Healthy)
	require.Len(t, res.Checks, 1)
	assert.Equal(t, "cache", res.Checks[0].Component)
	assert.Contains(t, res.Checks[0].Message, "connection refused")

	res = h.CheckAll(context.Background(), Targets{
		Cache: pingFunc(func(context.Context) error { return nil }),
	})
	assert.True(t, res.Healthy)
}
