package toolchaintest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/toolchain"
)

func TestFakeProducesToolOutputs(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "circuit.circom")
	require.NoError(t, os.WriteFile(src, []byte("template"), 0o644))

	fake := New()
	tk := toolchain.NewToolkit(fake, toolchain.Config{})
	ctx := context.Background()

	out := filepath.Join(dir, "out")
	require.NoError(t, tk.Compile(ctx, src, out))
	assert.FileExists(t, filepath.Join(out, "circuit.r1cs"))
	assert.FileExists(t, filepath.Join(out, "circuit_js", "circuit.wasm"))
	assert.FileExists(t, filepath.Join(out, "circuit_js", "generate_witness.js"))

	p0 := filepath.Join(dir, "pot_0.ptau")
	p1 := filepath.Join(dir, "pot_1.ptau")
	require.NoError(t, tk.PowersOfTauNew(ctx, 10, p0))
	require.NoError(t, tk.PowersOfTauContribute(ctx, p0, p1, "Contribution #1", "random"))
	assert.FileExists(t, p1)

	assert.Equal(t, 1, fake.Count("powersoftau new"))
	assert.Len(t, fake.Commands(), 3)
}

func TestFakeMissingInputFails(t *testing.T) {
	dir := t.TempDir()
	tk := toolchain.NewToolkit(New(), toolchain.Config{})

	err := tk.ZkeyNew(context.Background(), filepath.Join(dir, "missing.r1cs"), filepath.Join(dir, "x.ptau"), filepath.Join(dir, "k.zkey"))
	var execErr *toolchain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, execErr.ExitCode)
	assert.NoFileExists(t, filepath.Join(dir, "k.zkey"))
}

func TestFakeInjectedFailure(t *testing.T) {
	fake := New()
	fake.FailOn("groth16 verify", 7)
	tk := toolchain.NewToolkit(fake, toolchain.Config{})

	err := tk.Verify(context.Background(), "/a", "/b", "/c")
	var execErr *toolchain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 7, execErr.ExitCode)
}
