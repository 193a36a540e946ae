// Package ceremony drives the two-phase trusted setup: the universal phase-1
// reference string shared by every circuit of a potSize, and the per-circuit
// phase-2 proving key ceremony.
package ceremony

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// State is a ceremony step.
type State string

const (
	StateNew          State = "NEW"
	StateContributing State = "CONTRIBUTING"
	StateBeacon       State = "BEACON"
	StatePrepared     State = "PREPARED"
	StateVerified     State = "VERIFIED"

	StateKeyNew     State = "KEY_NEW"
	StateFinalizing State = "FINALIZING"
	StateExported   State = "EXPORTED"
)

// Step records one executed ceremony transition.
type Step struct {
	State  State
	Index  int
	Output string
}

// DefaultBeaconIterations is the beacon hash iteration exponent.
const DefaultBeaconIterations = 10

// RejectedSuffix is appended to a prepared reference string that failed
// verification.
const RejectedSuffix = ".rejected"

var (
	// ErrMissingBeacon is returned when deterministic mode has no secret.
	ErrMissingBeacon = errors.New("deterministic mode requires a beacon secret")
	// ErrInvalidBeacon is returned when a beacon is not a hex string.
	ErrInvalidBeacon = errors.New("beacon must be a non-empty hex string")
)

// FatalError marks a reference string that failed verification. It must never
// be used to derive keys and is never retried.
type FatalError struct {
	Path string
	// Rejected is where the string was moved, or "" if it was removed.
	Rejected string
	Err      error
}

func (e *FatalError) Error() string {
	if e.Rejected != "" {
		return fmt.Sprintf("reference string %s failed verification (moved to %s): %v", e.Path, e.Rejected, e.Err)
	}
	return fmt.Sprintf("reference string %s failed verification: %v", e.Path, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Tools is the part of the proving toolkit the ceremonies drive.
type Tools interface {
	PowersOfTauNew(ctx context.Context, power int, out string) error
	PowersOfTauContribute(ctx context.Context, in, out, name, entropy string) error
	PowersOfTauBeacon(ctx context.Context, in, out, beacon string, iterations int, name string) error
	PreparePhase2(ctx context.Context, in, out string) error
	PowersOfTauVerify(ctx context.Context, ptau string) error
	ZkeyNew(ctx context.Context, r1cs, ptau, out string) error
	ZkeyContribute(ctx context.Context, in, out, entropy string) error
	ZkeyBeacon(ctx context.Context, in, out, beacon string, iterations int) error
	ExportVerificationKey(ctx context.Context, zkey, out string) error
	ExportSolidityVerifier(ctx context.Context, zkey, out string) error
}

// ValidateBeacon checks that value can be passed as a toolkit beacon.
func ValidateBeacon(value string) error {
	if value == "" {
		return ErrMissingBeacon
	}
	if len(value)%2 != 0 {
		return ErrInvalidBeacon
	}
	if _, err := hex.DecodeString(value); err != nil {
		return ErrInvalidBeacon
	}
	return nil
}

func randomHex(r io.Reader, n int) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
