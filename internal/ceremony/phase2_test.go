package ceremony

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/artifacts"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/toolchain"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/toolchain/toolchaintest"
)

func keyFixture(t *testing.T) (artifacts.Paths, artifacts.TauPaths) {
	t.Helper()
	root := t.TempDir()
	loc, err := artifacts.NewLocator(filepath.Join(root, "wasm"), filepath.Join(root, "zkey"), filepath.Join(root, "tau"))
	require.NoError(t, err)
	paths := loc.Circuit(artifacts.CircuitSpec{Name: "hash-check", SourceDir: filepath.Join(root, "src")})
	tau := loc.Tau(10, 1)
	require.NoError(t, artifacts.WriteFile(paths.R1CS, []byte("constraints")))
	require.NoError(t, artifacts.WriteFile(tau.Final, []byte("prepared")))
	return paths, tau
}

func TestPhase2Preflight(t *testing.T) {
	logger := zaptest.NewLogger(t)
	tools := toolchain.NewToolkit(toolchaintest.New(), toolchain.Config{})

	require.NoError(t, NewPhase2(tools, Phase2Config{}, nil, logger).Preflight())
	require.NoError(t, NewPhase2(tools, Phase2Config{Deterministic: true, Secret: "0a0b"}, nil, logger).Preflight())

	err := NewPhase2(tools, Phase2Config{Deterministic: true}, nil, logger).Preflight()
	require.ErrorIs(t, err, ErrMissingBeacon)
	var cfgErr *artifacts.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	err = NewPhase2(tools, Phase2Config{Deterministic: true, Secret: "not-hex"}, nil, logger).Preflight()
	require.ErrorIs(t, err, ErrInvalidBeacon)
}

func TestPhase2MissingSecretRunsNothing(t *testing.T) {
	paths, tau := keyFixture(t)
	fake := toolchaintest.New()
	p := NewPhase2(toolchain.NewToolkit(fake, toolchain.Config{}), Phase2Config{Deterministic: true}, nil, zaptest.NewLogger(t))

	_, err := p.EnsureKey(context.Background(), paths, tau, artifacts.Gate{})
	require.ErrorIs(t, err, ErrMissingBeacon)
	assert.Empty(t, fake.Commands())
}

func TestPhase2SingleFinalization(t *testing.T) {
	for _, deterministic := range []bool{false, true} {
		paths, tau := keyFixture(t)
		fake := toolchaintest.New()
		p := NewPhase2(toolchain.NewToolkit(fake, toolchain.Config{}), Phase2Config{Deterministic: deterministic, Secret: "abcd"}, nil, zaptest.NewLogger(t))

		res, err := p.EnsureKey(context.Background(), paths, tau, artifacts.Gate{})
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.FileExists(t, paths.FinalKey)

		assert.Equal(t, 1, fake.Count("zkey new"))
		assert.Equal(t, 1, fake.Count("zkey beacon")+fake.Count("zkey contribute"))
		if deterministic {
			assert.Equal(t, FinalizeBeacon, res.State.Finalization)
			assert.Equal(t, 1, fake.Count("zkey beacon"))
		} else {
			assert.Equal(t, FinalizeRandom, res.State.Finalization)
			assert.Equal(t, 1, fake.Count("zkey contribute"))
		}
	}
}

func TestPhase2DeterministicReproducible(t *testing.T) {
	build := func() []byte {
		paths, tau := keyFixture(t)
		p := NewPhase2(toolchain.NewToolkit(toolchaintest.New(), toolchain.Config{}), Phase2Config{Deterministic: true, Secret: "c0ffee"}, nil, zaptest.NewLogger(t))
		_, err := p.EnsureKey(context.Background(), paths, tau, artifacts.Gate{})
		require.NoError(t, err)
		data, err := os.ReadFile(paths.FinalKey)
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, build(), build())
}

func TestPhase2RandomUsesClock(t *testing.T) {
	paths, tau := keyFixture(t)
	fake := toolchaintest.New()
	now := time.UnixMilli(1700000000123)
	p := NewPhase2(toolchain.NewToolkit(fake, toolchain.Config{}), Phase2Config{}, func() time.Time { return now }, zaptest.NewLogger(t))

	_, err := p.EnsureKey(context.Background(), paths, tau, artifacts.Gate{})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Count("-e=1700000000123"))
}

func TestPhase2SkipAndRegenerate(t *testing.T) {
	paths, tau := keyFixture(t)
	fake := toolchaintest.New()
	p := NewPhase2(toolchain.NewToolkit(fake, toolchain.Config{}), Phase2Config{}, nil, zaptest.NewLogger(t))

	_, err := p.EnsureKey(context.Background(), paths, tau, artifacts.Gate{})
	require.NoError(t, err)
	fake.Reset()

	res, err := p.EnsureKey(context.Background(), paths, tau, artifacts.Gate{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, fake.Commands())

	// A lone initial key does not satisfy the stage.
	require.NoError(t, os.Remove(paths.FinalKey))
	res, err = p.EnsureKey(context.Background(), paths, tau, artifacts.Gate{})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, fake.Count("zkey new"))
}

func TestPhase2Export(t *testing.T) {
	paths, tau := keyFixture(t)
	fake := toolchaintest.New()
	p := NewPhase2(toolchain.NewToolkit(fake, toolchain.Config{}), Phase2Config{}, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := p.EnsureKey(ctx, paths, tau, artifacts.Gate{})
	require.NoError(t, err)

	step, err := p.Export(ctx, paths, artifacts.Gate{})
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, StateExported, step.State)
	assert.Equal(t, paths.VerificationKey, step.Output)
	assert.FileExists(t, paths.VerificationKey)

	step, err = p.Export(ctx, paths, artifacts.Gate{})
	require.NoError(t, err)
	assert.Nil(t, step)

	step, err = p.ExportSolidity(ctx, paths, artifacts.Gate{})
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, StateExported, step.State)
	assert.FileExists(t, paths.SolidityVerifier)
}

func TestValidateBeacon(t *testing.T) {
	assert.ErrorIs(t, ValidateBeacon(""), ErrMissingBeacon)
	assert.ErrorIs(t, ValidateBeacon("abc"), ErrInvalidBeacon)
	assert.ErrorIs(t, ValidateBeacon("zz"), ErrInvalidBeacon)
	assert.NoError(t, ValidateBeacon("0123456789abcdef"))
}
