package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, nil, 0o644))

	g := Gate{}
	assert.True(t, g.CanSkip(a))
	assert.False(t, g.CanSkip(a, b))
	assert.Equal(t, []string{b}, g.Missing(a, b))

	require.NoError(t, os.WriteFile(b, nil, 0o644))
	assert.True(t, g.CanSkip(a, b))
	assert.Empty(t, g.Missing(a, b))

	overwrite := Gate{Overwrite: true}
	assert.False(t, overwrite.CanSkip(a, b))
}

func TestGateIgnoresStagedOutput(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "proof.json")
	staging := StagingPath(target)
	require.NoError(t, os.WriteFile(staging, []byte("{}"), 0o644))

	assert.True(t, IsStaging(staging))
	assert.False(t, Gate{}.CanSkip(target))
}
