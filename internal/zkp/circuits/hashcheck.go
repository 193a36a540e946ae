// Package circuits holds gnark counterparts of the circom circuits shipped in
// testdata. They produce reference Groth16 proofs for the native verifier.
package circuits

import (
	"github.com/consensys/gnark/frontend"
)

// HashCheckCircuit proves knowledge of X such that X*X equals the public Hash.
// It has the same constraint as the hash-check circom circuit.
type HashCheckCircuit struct {
	X    frontend.Variable `gnark:",secret"`
	Hash frontend.Variable `gnark:",public"`
}

// Define declares the single constraint.
func (c *HashCheckCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(api.Mul(c.X, c.X), c.Hash)
	return nil
}
