package ceremony

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/artifacts"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/toolchain"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/toolchain/toolchaintest"
)

func newTau(t *testing.T, potSize, contributions int) artifacts.TauPaths {
	t.Helper()
	root := t.TempDir()
	loc, err := artifacts.NewLocator(filepath.Join(root, "wasm"), filepath.Join(root, "zkey"), filepath.Join(root, "tau"))
	require.NoError(t, err)
	return loc.Tau(potSize, contributions)
}

func ptauFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPhase1ProducesSingleBeaconAndPrepared(t *testing.T) {
	for _, contributions := range []int{1, 2, 4} {
		tau := newTau(t, 10, contributions)
		fake := toolchaintest.New()
		p := NewPhase1(toolchain.NewToolkit(fake, toolchain.Config{}), Phase1Config{Contributions: contributions}, nil, zaptest.NewLogger(t))

		res, err := p.Ensure(context.Background(), tau, artifacts.Gate{})
		require.NoError(t, err)
		require.False(t, res.Skipped)

		assert.Equal(t, 1, fake.Count("powersoftau new"))
		assert.Equal(t, contributions, fake.Count("powersoftau contribute"))
		assert.Equal(t, 1, fake.Count("powersoftau beacon"))
		assert.Equal(t, 1, fake.Count("prepare phase2"))

		var beacons, prepared int
		for _, name := range ptauFiles(t, filepath.Dir(tau.Final)) {
			assert.False(t, artifacts.IsStaging(name), name)
			if strings.HasSuffix(name, "_beacon.ptau") {
				beacons++
			}
			if strings.HasSuffix(name, "_final.ptau") {
				prepared++
			}
		}
		assert.Equal(t, 1, beacons)
		assert.Equal(t, 1, prepared)
		assert.NoFileExists(t, tau.Lock)

		states := make([]State, len(res.Steps))
		for i, s := range res.Steps {
			states[i] = s.State
		}
		assert.Equal(t, StateNew, states[0])
		assert.Equal(t, StatePrepared, states[len(states)-1])
	}
}

func TestPhase1AtMostOncePerRun(t *testing.T) {
	tau := newTau(t, 10, 1)
	fake := toolchaintest.New()
	p := NewPhase1(toolchain.NewToolkit(fake, toolchain.Config{}), Phase1Config{Contributions: 1}, nil, zaptest.NewLogger(t))

	overwrite := artifacts.Gate{Overwrite: true}
	_, err := p.Ensure(context.Background(), tau, overwrite)
	require.NoError(t, err)
	res, err := p.Ensure(context.Background(), tau, overwrite)
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, 1, fake.Count("powersoftau new"))
}

func TestPhase1SkipsExistingPreparedString(t *testing.T) {
	tau := newTau(t, 10, 1)
	require.NoError(t, artifacts.WriteFile(tau.Final, []byte("prepared")))

	fake := toolchaintest.New()
	p := NewPhase1(toolchain.NewToolkit(fake, toolchain.Config{}), Phase1Config{Contributions: 1}, nil, zaptest.NewLogger(t))
	res, err := p.Ensure(context.Background(), tau, artifacts.Gate{})
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Empty(t, fake.Commands())
}

func TestPhase1FreshEntropyPerContribution(t *testing.T) {
	tau := newTau(t, 10, 3)
	fake := toolchaintest.New()
	entropy := bytes.NewReader(bytes.Repeat([]byte{1, 2, 3, 4, 5, 6, 7}, 64))
	p := NewPhase1(toolchain.NewToolkit(fake, toolchain.Config{}), Phase1Config{Contributions: 3}, entropy, zaptest.NewLogger(t))

	_, err := p.Ensure(context.Background(), tau, artifacts.Gate{})
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, c := range fake.Commands() {
		for _, a := range c.Args {
			if strings.HasPrefix(a, "-e=") {
				assert.False(t, seen[a], "entropy reused: %s", a)
				seen[a] = true
			}
		}
	}
	assert.Len(t, seen, 3)
}

func TestPhase1FixedBeacon(t *testing.T) {
	tau := newTau(t, 10, 1)
	fake := toolchaintest.New()
	p := NewPhase1(toolchain.NewToolkit(fake, toolchain.Config{}), Phase1Config{Contributions: 1, Beacon: "0102", BeaconIterations: 12}, nil, zaptest.NewLogger(t))

	_, err := p.Ensure(context.Background(), tau, artifacts.Gate{})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Count("0102 12"))
}

func TestPhase1LockHeld(t *testing.T) {
	tau := newTau(t, 10, 1)
	lock, err := artifacts.AcquireLock(tau.Lock)
	require.NoError(t, err)
	defer lock.Release()

	fake := toolchaintest.New()
	p := NewPhase1(toolchain.NewToolkit(fake, toolchain.Config{}), Phase1Config{Contributions: 1}, nil, zaptest.NewLogger(t))
	_, err = p.Ensure(context.Background(), tau, artifacts.Gate{})

	var cfgErr *artifacts.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, fake.Commands())
}

func TestPhase1FailureLeavesNoPreparedString(t *testing.T) {
	tau := newTau(t, 10, 2)
	fake := toolchaintest.New()
	fake.FailOn("powersoftau beacon", 1)
	p := NewPhase1(toolchain.NewToolkit(fake, toolchain.Config{}), Phase1Config{Contributions: 2}, nil, zaptest.NewLogger(t))

	_, err := p.Ensure(context.Background(), tau, artifacts.Gate{})
	var execErr *toolchain.ExecutionError
	require.ErrorAs(t, err, &execErr)

	assert.NoFileExists(t, tau.Beacon)
	assert.NoFileExists(t, tau.Final)
	assert.NoFileExists(t, tau.Lock)
	for _, name := range ptauFiles(t, filepath.Dir(tau.Final)) {
		assert.False(t, artifacts.IsStaging(name), name)
	}
}

func TestPhase1VerifyFatal(t *testing.T) {
	tau := newTau(t, 10, 1)
	require.NoError(t, artifacts.WriteFile(tau.Final, []byte("prepared")))
	fake := toolchaintest.New()
	fake.FailOn("powersoftau verify", 1)
	p := NewPhase1(toolchain.NewToolkit(fake, toolchain.Config{}), Phase1Config{Contributions: 1}, nil, zaptest.NewLogger(t))

	step, err := p.Verify(context.Background(), tau)
	assert.Nil(t, step)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, tau.Final, fatal.Path)
	assert.Equal(t, tau.Final+RejectedSuffix, fatal.Rejected)

	// The rejected string no longer passes the gate.
	assert.NoFileExists(t, tau.Final)
	assert.FileExists(t, tau.Final+RejectedSuffix)
	assert.False(t, artifacts.Gate{}.CanSkip(tau.Final))
}

func TestPhase1RebuildsAfterRejection(t *testing.T) {
	tau := newTau(t, 10, 1)
	fake := toolchaintest.New()
	fake.FailOn("powersoftau verify", 1)
	p := NewPhase1(toolchain.NewToolkit(fake, toolchain.Config{}), Phase1Config{Contributions: 1}, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := p.Ensure(ctx, tau, artifacts.Gate{})
	require.NoError(t, err)
	_, err = p.Verify(ctx, tau)
	require.Error(t, err)

	res, err := p.Ensure(ctx, tau, artifacts.Gate{})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, fake.Count("powersoftau new"))
	assert.FileExists(t, tau.Final)
}

func TestPhase1VerifyOncePerRun(t *testing.T) {
	tau := newTau(t, 10, 1)
	require.NoError(t, artifacts.WriteFile(tau.Final, []byte("prepared")))
	fake := toolchaintest.New()
	p := NewPhase1(toolchain.NewToolkit(fake, toolchain.Config{}), Phase1Config{Contributions: 1}, nil, zaptest.NewLogger(t))

	step, err := p.Verify(context.Background(), tau)
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, StateVerified, step.State)
	assert.Equal(t, tau.Final, step.Output)

	step, err = p.Verify(context.Background(), tau)
	require.NoError(t, err)
	assert.Nil(t, step)
	assert.Equal(t, 1, fake.Count("powersoftau verify"))
}
