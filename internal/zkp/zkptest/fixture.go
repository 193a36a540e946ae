// Package zkptest produces real Groth16 proofs with gnark and exports them in
// the toolkit's JSON form, for tests of the native verifier and its callers.
package zkptest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/stretchr/testify/require"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/zkp"
	"github.com/saiweb3dev/zk-circuit-pipeline/internal/zkp/circuits"
)

// Fixture is a verification key, proof and public signals in toolkit JSON.
type Fixture struct {
	VK     []byte
	Proof  []byte
	Public []byte
}

// G1 renders a point as a projective toolkit triple.
func G1(p bn254.G1Affine) []string {
	return []string{p.X.String(), p.Y.String(), "1"}
}

// G2 renders a point as a projective toolkit triple of pairs.
func G2(p bn254.G2Affine) [][]string {
	return [][]string{
		{p.X.A0.String(), p.X.A1.String()},
		{p.Y.A0.String(), p.Y.A1.String()},
		{"1", "0"},
	}
}

// ProveHashCheck runs a fresh setup and proves x*x == hash.
func ProveHashCheck(t testing.TB, x, hash int) Fixture {
	t.Helper()

	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuits.HashCheckCircuit{})
	require.NoError(t, err)
	pk, vk, err := groth16.Setup(ccs)
	require.NoError(t, err)

	w, err := frontend.NewWitness(&circuits.HashCheckCircuit{X: x, Hash: hash}, ecc.BN254.ScalarField())
	require.NoError(t, err)
	proof, err := groth16.Prove(ccs, pk, w)
	require.NoError(t, err)
	pub, err := w.Public()
	require.NoError(t, err)

	bvk := vk.(*groth16_bn254.VerifyingKey)
	bproof := proof.(*groth16_bn254.Proof)

	ic := make([][]string, len(bvk.G1.K))
	for i, p := range bvk.G1.K {
		ic[i] = G1(p)
	}
	vkJSON, err := json.Marshal(zkp.VerificationKeyJSON{
		Protocol: "groth16",
		Curve:    "bn128",
		NPublic:  len(ic) - 1,
		Alpha1:   G1(bvk.G1.Alpha),
		Beta2:    G2(bvk.G2.Beta),
		Gamma2:   G2(bvk.G2.Gamma),
		Delta2:   G2(bvk.G2.Delta),
		IC:       ic,
	})
	require.NoError(t, err)

	proofJSON, err := json.Marshal(zkp.ProofJSON{
		PiA:      G1(bproof.Ar),
		PiB:      G2(bproof.Bs),
		PiC:      G1(bproof.Krs),
		Protocol: "groth16",
		Curve:    "bn128",
	})
	require.NoError(t, err)

	vec := pub.Vector().(fr.Vector)
	signals := make([]string, len(vec))
	for i := range vec {
		signals[i] = vec[i].String()
	}
	publicJSON, err := json.Marshal(signals)
	require.NoError(t, err)

	return Fixture{VK: vkJSON, Proof: proofJSON, Public: publicJSON}
}

// Write stores the fixture under dir with the toolkit file names and returns
// the verification key, proof and public signal paths.
func (f Fixture) Write(t testing.TB, dir string) (string, string, string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	vk := filepath.Join(dir, "verification_key.json")
	proof := filepath.Join(dir, "proof.json")
	public := filepath.Join(dir, "public.json")
	require.NoError(t, os.WriteFile(vk, f.VK, 0o644))
	require.NoError(t, os.WriteFile(proof, f.Proof, 0o644))
	require.NoError(t, os.WriteFile(public, f.Public, 0o644))
	return vk, proof, public
}
