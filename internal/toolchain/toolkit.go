package toolchain

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
)

// Curve is the curve every reference string is generated on.
const Curve = "bn128"

// Config names the external binaries.
type Config struct {
	// Circom is the circuit compiler binary.
	Circom string
	// Snarkjs is the toolkit command line, e.g. ["npx", "snarkjs"].
	Snarkjs []string
	// Node runs the generated witness script.
	Node string
}

// Toolkit builds the fixed command contracts of the compiler and toolkit.
// All file arguments are expected to be absolute.
type Toolkit struct {
	runner  Runner
	circom  string
	snarkjs []string
	node    string
}

// NewToolkit binds the command contracts to a runner.
func NewToolkit(runner Runner, cfg Config) *Toolkit {
	snarkjs := cfg.Snarkjs
	if len(snarkjs) == 0 {
		snarkjs = []string{"npx", "snarkjs"}
	}
	circom := cfg.Circom
	if circom == "" {
		circom = "circom"
	}
	node := cfg.Node
	if node == "" {
		node = "node"
	}
	return &Toolkit{runner: runner, circom: circom, snarkjs: snarkjs, node: node}
}

func (t *Toolkit) snark(ctx context.Context, dir string, args ...string) error {
	full := make([]string, 0, len(t.snarkjs)-1+len(args))
	full = append(full, t.snarkjs[1:]...)
	full = append(full, args...)
	return t.runner.Run(ctx, Command{Name: t.snarkjs[0], Args: full, Dir: dir})
}

// Compile compiles source into outDir, producing the constraint system,
// symbols and the witness generator bundle.
func (t *Toolkit) Compile(ctx context.Context, source, outDir string) error {
	return t.runner.Run(ctx, Command{
		Name: t.circom,
		Args: []string{source, "--r1cs", "--wasm", "--sym", "-o", outDir},
		Dir:  outDir,
	})
}

// ConstraintInfo prints constraint-system statistics.
func (t *Toolkit) ConstraintInfo(ctx context.Context, r1cs string) error {
	return t.snark(ctx, filepath.Dir(r1cs), "r1cs", "info", r1cs)
}

// PowersOfTauNew starts a reference string supporting 2^power constraints.
func (t *Toolkit) PowersOfTauNew(ctx context.Context, power int, out string) error {
	return t.snark(ctx, filepath.Dir(out), "powersoftau", "new", Curve, strconv.Itoa(power), out)
}

// PowersOfTauContribute adds one entropy contribution to in.
func (t *Toolkit) PowersOfTauContribute(ctx context.Context, in, out, name, entropy string) error {
	return t.snark(ctx, filepath.Dir(out), "powersoftau", "contribute", in, out,
		"--name="+name, "-e="+entropy)
}

// PowersOfTauBeacon closes the contribution chain with a public beacon.
func (t *Toolkit) PowersOfTauBeacon(ctx context.Context, in, out, beacon string, iterations int, name string) error {
	return t.snark(ctx, filepath.Dir(out), "powersoftau", "beacon", in, out,
		beacon, strconv.Itoa(iterations), "-n="+name)
}

// PreparePhase2 converts a beacon output into the form key generation reads.
func (t *Toolkit) PreparePhase2(ctx context.Context, in, out string) error {
	return t.snark(ctx, filepath.Dir(out), "powersoftau", "prepare", "phase2", in, out)
}

// PowersOfTauVerify checks the whole contribution chain of a prepared string.
func (t *Toolkit) PowersOfTauVerify(ctx context.Context, ptau string) error {
	return t.snark(ctx, filepath.Dir(ptau), "powersoftau", "verify", ptau)
}

// ZkeyNew derives the initial proving key of a circuit.
func (t *Toolkit) ZkeyNew(ctx context.Context, r1cs, ptau, out string) error {
	return t.snark(ctx, filepath.Dir(out), "zkey", "new", r1cs, ptau, out)
}

// ZkeyContribute applies one entropy contribution to a proving key.
func (t *Toolkit) ZkeyContribute(ctx context.Context, in, out, entropy string) error {
	return t.snark(ctx, filepath.Dir(out), "zkey", "contribute", in, out, "-e="+entropy)
}

// ZkeyBeacon finalises a proving key with a beacon.
func (t *Toolkit) ZkeyBeacon(ctx context.Context, in, out, beacon string, iterations int) error {
	return t.snark(ctx, filepath.Dir(out), "zkey", "beacon", in, out, beacon, strconv.Itoa(iterations))
}

// ExportVerificationKey writes the public verification key of zkey.
func (t *Toolkit) ExportVerificationKey(ctx context.Context, zkey, out string) error {
	return t.snark(ctx, filepath.Dir(out), "zkey", "export", "verificationkey", zkey, out)
}

// ExportSolidityVerifier writes a Solidity verifier contract for zkey.
func (t *Toolkit) ExportSolidityVerifier(ctx context.Context, zkey, out string) error {
	return t.snark(ctx, filepath.Dir(out), "zkey", "export", "solidityverifier", zkey, out)
}

// ComputeWitness runs the generated witness script over the circuit input.
func (t *Toolkit) ComputeWitness(ctx context.Context, script, wasm, input, out string) error {
	return t.runner.Run(ctx, Command{
		Name: t.node,
		Args: []string{script, wasm, input, out},
		Dir:  filepath.Dir(out),
	})
}

// Prove generates a Groth16 proof and its public signals.
func (t *Toolkit) Prove(ctx context.Context, zkey, witness, proof, public string) error {
	return t.snark(ctx, filepath.Dir(proof), "groth16", "prove", zkey, witness, proof, public)
}

// Verify checks a proof against a verification key.
func (t *Toolkit) Verify(ctx context.Context, vkey, public, proof string) error {
	return t.snark(ctx, filepath.Dir(proof), "groth16", "verify", vkey, public, proof)
}

// Binaries lists the executables the toolkit depends on, by role.
func (t *Toolkit) Binaries() map[string]string {
	return map[string]string{
		"circom":  t.circom,
		"snarkjs": t.snarkjs[0],
		"node":    t.node,
	}
}

func (t *Toolkit) String() string {
	return fmt.Sprintf("circom=%s snarkjs=%v node=%s", t.circom, t.snarkjs, t.node)
}
