// Pipeline constants
// Stage names, outcomes and exit codes shared by the orchestrator, the ledger
// and the command line.

package pipeline

import "time"

// =============================================================================
// Stages
// =============================================================================

// Stage names, in execution order for one circuit
const (
	StageCompile        = "compile"
	StageConstraintInfo = "r1cs_info"
	StagePhase1         = "phase1"
	StagePhase1Verify   = "phase1_verify"
	StagePhase2Key      = "phase2_key"
	StageExportVKey     = "export_vkey"
	StageExportSolidity = "export_solidity"
	StageWitness        = "witness"
	StageProve          = "prove"
	StageVerify         = "verify"
	StageNativeVerify   = "native_verify"
	StageManifest       = "manifest"
	StagePublish        = "publish"
)

// =============================================================================
// Outcomes
// =============================================================================

// Outcome is how a stage ended
type Outcome string

const (
	OutcomeRan     Outcome = "ran"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitOK            = 0
	ExitConfig        = 1
	ExitNoCircuits    = 2
	ExitMissingSecret = 6
	ExitStageFailure  = 10
	ExitFatalCeremony = 11
)

// =============================================================================
// Ledger
// =============================================================================

// LedgerWriteTimeout bounds each ledger write so a slow database never stalls
// a build
const LedgerWriteTimeout = 5 * time.Second
