// Package zkp re-checks Groth16 proofs produced by the external toolkit
// in-process on bn254, so that a proof is only accepted when two independent
// verifiers agree.
package zkp

import (
	"errors"
	"fmt"
	"os"
	"sync"

	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

// ErrProofRejected is returned by VerifyFiles when the proof does not verify.
var ErrProofRejected = errors.New("proof rejected")

// ============================================================================
// Groth16 Verifier
// ============================================================================

// Groth16Verifier verifies toolkit proofs with gnark. Parsed verification keys
// are cached by file path and invalidated when the file changes.
type Groth16Verifier struct {
	keys sync.Map
	mu   sync.Mutex
}

type cachedKey struct {
	vk      *groth16_bn254.VerifyingKey
	modTime int64
	size    int64
}

// NewGroth16Verifier creates a verifier with an empty key cache.
func NewGroth16Verifier() *Groth16Verifier {
	return &Groth16Verifier{}
}

// Verify checks a proof and its public signals against a verification key,
// all in toolkit JSON form. Malformed input is an error; a well-formed proof
// that fails the pairing check returns false with no error.
func (v *Groth16Verifier) Verify(vkJSON, proofJSON, publicJSON []byte) (bool, error) {
	vk, err := ParseVerificationKey(vkJSON)
	if err != nil {
		return false, err
	}
	return verifyWithKey(vk, proofJSON, publicJSON)
}

// VerifyFiles is Verify over files on disk. A rejected proof is reported as
// ErrProofRejected.
func (v *Groth16Verifier) VerifyFiles(vkPath, proofPath, publicPath string) error {
	vk, err := v.loadKey(vkPath)
	if err != nil {
		return err
	}
	proofJSON, err := os.ReadFile(proofPath)
	if err != nil {
		return fmt.Errorf("failed to read proof: %w", err)
	}
	publicJSON, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public signals: %w", err)
	}
	ok, err := verifyWithKey(vk, proofJSON, publicJSON)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrProofRejected, proofPath)
	}
	return nil
}

// VerifyWithKeyFile checks in-memory proof and signals against a key on disk.
func (v *Groth16Verifier) VerifyWithKeyFile(vkPath string, proofJSON, publicJSON []byte) (bool, error) {
	vk, err := v.loadKey(vkPath)
	if err != nil {
		return false, err
	}
	return verifyWithKey(vk, proofJSON, publicJSON)
}

func verifyWithKey(vk *groth16_bn254.VerifyingKey, proofJSON, publicJSON []byte) (bool, error) {
	proof, err := ParseProof(proofJSON)
	if err != nil {
		return false, err
	}
	public, err := ParsePublicSignals(publicJSON)
	if err != nil {
		return false, err
	}
	if len(public) != len(vk.G1.K)-1 {
		return false, malformed("got %d public signals, key expects %d", len(public), len(vk.G1.K)-1)
	}
	if err := groth16_bn254.Verify(proof, vk, public); err != nil {
		return false, nil
	}
	return true, nil
}

func (v *Groth16Verifier) loadKey(path string) (*groth16_bn254.VerifyingKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat verification key: %w", err)
	}
	if cached, ok := v.keys.Load(path); ok {
		c := cached.(*cachedKey)
		if c.modTime == info.ModTime().UnixNano() && c.size == info.Size() {
			return c.vk, nil
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read verification key: %w", err)
	}
	vk, err := ParseVerificationKey(data)
	if err != nil {
		return nil, err
	}
	v.keys.Store(path, &cachedKey{vk: vk, modTime: info.ModTime().UnixNano(), size: info.Size()})
	return vk, nil
}
