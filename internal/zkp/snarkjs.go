package zkp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

// ============================================================================
// Toolkit JSON formats
// ============================================================================

// ProofJSON is the proof file written by the proving toolkit.
type ProofJSON struct {
	PiA      []string   `json:"pi_a"`
	PiB      [][]string `json:"pi_b"`
	PiC      []string   `json:"pi_c"`
	Protocol string     `json:"protocol"`
	Curve    string     `json:"curve"`
}

// VerificationKeyJSON is the exported verification key.
type VerificationKeyJSON struct {
	Protocol string     `json:"protocol"`
	Curve    string     `json:"curve"`
	NPublic  int        `json:"nPublic"`
	Alpha1   []string   `json:"vk_alpha_1"`
	Beta2    [][]string `json:"vk_beta_2"`
	Gamma2   [][]string `json:"vk_gamma_2"`
	Delta2   [][]string `json:"vk_delta_2"`
	IC       [][]string `json:"IC"`
}

// ErrMalformed is wrapped by every parse failure of proof, key or signals.
var ErrMalformed = errors.New("malformed groth16 input")

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// ParseVerificationKey decodes an exported verification key into gnark form.
func ParseVerificationKey(data []byte) (*groth16_bn254.VerifyingKey, error) {
	var raw VerificationKeyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, malformed("verification key: %v", err)
	}
	if raw.Protocol != "" && raw.Protocol != "groth16" {
		return nil, malformed("unsupported protocol %q", raw.Protocol)
	}
	if raw.Curve != "" && raw.Curve != "bn128" && raw.Curve != "bn254" {
		return nil, malformed("unsupported curve %q", raw.Curve)
	}
	if len(raw.IC) == 0 {
		return nil, malformed("verification key has no IC points")
	}
	if raw.NPublic != 0 && raw.NPublic != len(raw.IC)-1 {
		return nil, malformed("nPublic %d does not match %d IC points", raw.NPublic, len(raw.IC))
	}

	vk := new(groth16_bn254.VerifyingKey)
	var err error
	if vk.G1.Alpha, err = parseG1(raw.Alpha1); err != nil {
		return nil, fmt.Errorf("vk_alpha_1: %w", err)
	}
	if vk.G2.Beta, err = parseG2(raw.Beta2); err != nil {
		return nil, fmt.Errorf("vk_beta_2: %w", err)
	}
	if vk.G2.Gamma, err = parseG2(raw.Gamma2); err != nil {
		return nil, fmt.Errorf("vk_gamma_2: %w", err)
	}
	if vk.G2.Delta, err = parseG2(raw.Delta2); err != nil {
		return nil, fmt.Errorf("vk_delta_2: %w", err)
	}
	vk.G1.K = make([]bn254.G1Affine, len(raw.IC))
	for i, p := range raw.IC {
		if vk.G1.K[i], err = parseG1(p); err != nil {
			return nil, fmt.Errorf("IC[%d]: %w", i, err)
		}
	}
	if err := vk.Precompute(); err != nil {
		return nil, fmt.Errorf("failed to precompute verification key: %w", err)
	}
	return vk, nil
}

// ParseProof decodes a toolkit proof into gnark form.
func ParseProof(data []byte) (*groth16_bn254.Proof, error) {
	var raw ProofJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, malformed("proof: %v", err)
	}
	if raw.Protocol != "" && raw.Protocol != "groth16" {
		return nil, malformed("unsupported protocol %q", raw.Protocol)
	}

	proof := new(groth16_bn254.Proof)
	var err error
	if proof.Ar, err = parseG1(raw.PiA); err != nil {
		return nil, fmt.Errorf("pi_a: %w", err)
	}
	if proof.Bs, err = parseG2(raw.PiB); err != nil {
		return nil, fmt.Errorf("pi_b: %w", err)
	}
	if proof.Krs, err = parseG1(raw.PiC); err != nil {
		return nil, fmt.Errorf("pi_c: %w", err)
	}
	return proof, nil
}

// ParsePublicSignals decodes the public signals file. Every signal must be a
// canonical scalar field element.
func ParsePublicSignals(data []byte) (fr.Vector, error) {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, malformed("public signals: %v", err)
	}
	return ScalarsFromStrings(raw)
}

// ScalarsFromStrings converts decimal (or 0x-prefixed hex) strings to field
// elements, rejecting values outside the scalar field.
func ScalarsFromStrings(values []string) (fr.Vector, error) {
	out := make(fr.Vector, len(values))
	modulus := fr.Modulus()
	for i, s := range values {
		v, ok := new(big.Int).SetString(s, 0)
		if !ok || v.Sign() < 0 || v.Cmp(modulus) >= 0 {
			return nil, malformed("public signal %d %q is not a field element", i, s)
		}
		out[i].SetBigInt(v)
	}
	return out, nil
}

// ============================================================================
// Point decoding
// ============================================================================

// parseG1 decodes projective [x, y, z] with z == 1.
func parseG1(coords []string) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	if len(coords) != 3 || coords[2] != "1" {
		return p, malformed("G1 point must be [x, y, \"1\"]")
	}
	if err := setFp(&p.X, coords[0]); err != nil {
		return p, err
	}
	if err := setFp(&p.Y, coords[1]); err != nil {
		return p, err
	}
	if !p.IsOnCurve() || !p.IsInSubGroup() {
		return p, malformed("G1 point not on curve")
	}
	return p, nil
}

// parseG2 decodes [[x0, x1], [y0, y1], ["1", "0"]].
func parseG2(coords [][]string) (bn254.G2Affine, error) {
	var p bn254.G2Affine
	if len(coords) != 3 || len(coords[0]) != 2 || len(coords[1]) != 2 ||
		len(coords[2]) != 2 || coords[2][0] != "1" || coords[2][1] != "0" {
		return p, malformed("G2 point must be [[x0, x1], [y0, y1], [\"1\", \"0\"]]")
	}
	for _, c := range []struct {
		dst *fp.Element
		s   string
	}{
		{&p.X.A0, coords[0][0]},
		{&p.X.A1, coords[0][1]},
		{&p.Y.A0, coords[1][0]},
		{&p.Y.A1, coords[1][1]},
	} {
		if err := setFp(c.dst, c.s); err != nil {
			return p, err
		}
	}
	if !p.IsOnCurve() || !p.IsInSubGroup() {
		return p, malformed("G2 point not on curve")
	}
	return p, nil
}

func setFp(dst *fp.Element, s string) error {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 || v.Cmp(fp.Modulus()) >= 0 {
		return malformed("coordinate %q is not a base field element", s)
	}
	dst.SetBigInt(v)
	return nil
}
