// Package artifacts owns the on-disk layout of a circuit build: where every
// compiled file, key and ceremony transcript lives, whether a stage's outputs
// are already present, and how files are staged and committed atomically.
package artifacts

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Fixed file names produced and consumed by the external toolchain.
const (
	SourceFile          = "circuit.circom"
	InputFile           = "input.json"
	R1CSFile            = "circuit.r1cs"
	SymbolsFile         = "circuit.sym"
	JSDirName           = "circuit_js"
	WasmFile            = "circuit.wasm"
	WitnessScriptFile   = "generate_witness.js"
	InitialKeyFile      = "circuit.zkey"
	FinalKeyFile        = "new_circuit.zkey"
	VerificationKeyFile = "verification_key.json"
	WitnessFile         = "witness.wtns"
	ProofFile           = "proof.json"
	PublicFile          = "public.json"
	ManifestFile        = "manifest.json"
)

// Artifact kinds exposed to consumers of a finished build.
const (
	KindR1CS     = "r1cs"
	KindWasm     = "wasm"
	KindZkey     = "zkey"
	KindVKey     = "vkey"
	KindProof    = "proof"
	KindPublic   = "public"
	KindVerifier = "verifier"
)

// CircuitSpec identifies one circuit selected for the run.
type CircuitSpec struct {
	Name      string
	SourceDir string
}

// Paths is the full set of per-circuit artifact locations.
// It is always derived from a CircuitSpec and the locator roots, never stored.
type Paths struct {
	Circuit CircuitSpec

	Source string
	Input  string

	OutDir string
	KeyDir string
	JSDir  string

	R1CS          string
	Symbols       string
	Wasm          string
	WitnessScript string

	InitialKey       string
	FinalKey         string
	VerificationKey  string
	SolidityVerifier string

	Witness string
	Proof   string
	Public  string

	Manifest string
}

// CompileOutputs are the files the compile stage must leave behind.
func (p Paths) CompileOutputs() []string {
	return []string{p.R1CS, p.Wasm}
}

// ProofOutputs are the files the prove stage must leave behind.
func (p Paths) ProofOutputs() []string {
	return []string{p.Proof, p.Public}
}

// Artifact maps an artifact kind to its path.
func (p Paths) Artifact(kind string) (string, bool) {
	switch kind {
	case KindR1CS:
		return p.R1CS, true
	case KindWasm:
		return p.Wasm, true
	case KindZkey:
		return p.FinalKey, true
	case KindVKey:
		return p.VerificationKey, true
	case KindProof:
		return p.Proof, true
	case KindPublic:
		return p.Public, true
	case KindVerifier:
		return p.SolidityVerifier, true
	}
	return "", false
}

// Kinds lists every artifact kind in manifest order.
func Kinds() []string {
	return []string{KindR1CS, KindWasm, KindZkey, KindVKey, KindProof, KindPublic, KindVerifier}
}

// TauPaths is the phase-1 ceremony layout for one security parameter.
// None of it depends on a circuit name.
type TauPaths struct {
	PotSize int
	// Chain holds the initial string at index 0 followed by one file per
	// contribution.
	Chain  []string
	Beacon string
	Final  string
	Lock   string
}

// Locator resolves artifact paths from the configured output roots.
type Locator struct {
	wasmDir string
	zkeyDir string
	tauDir  string
}

// NewLocator makes the roots absolute once so that every derived path is
// stable and usable from any subprocess working directory.
func NewLocator(wasmDir, zkeyDir, tauDir string) (*Locator, error) {
	roots := []*string{&wasmDir, &zkeyDir, &tauDir}
	for _, root := range roots {
		if *root == "" {
			return nil, &ConfigError{Field: "output directories", Reason: "must not be empty"}
		}
		abs, err := filepath.Abs(*root)
		if err != nil {
			return nil, &ConfigError{Field: "output directories", Reason: *root, Err: err}
		}
		*root = abs
	}
	return &Locator{wasmDir: wasmDir, zkeyDir: zkeyDir, tauDir: tauDir}, nil
}

// TauDir returns the absolute phase-1 directory.
func (l *Locator) TauDir() string { return l.tauDir }

// ZkeyDir returns the absolute key root.
func (l *Locator) ZkeyDir() string { return l.zkeyDir }

// Circuit returns the artifact paths of one circuit.
func (l *Locator) Circuit(c CircuitSpec) Paths {
	outDir := filepath.Join(l.wasmDir, c.Name)
	keyDir := filepath.Join(l.zkeyDir, c.Name)
	jsDir := filepath.Join(outDir, JSDirName)
	return Paths{
		Circuit:          c,
		Source:           filepath.Join(c.SourceDir, SourceFile),
		Input:            filepath.Join(c.SourceDir, InputFile),
		OutDir:           outDir,
		KeyDir:           keyDir,
		JSDir:            jsDir,
		R1CS:             filepath.Join(outDir, R1CSFile),
		Symbols:          filepath.Join(outDir, SymbolsFile),
		Wasm:             filepath.Join(jsDir, WasmFile),
		WitnessScript:    filepath.Join(jsDir, WitnessScriptFile),
		InitialKey:       filepath.Join(keyDir, InitialKeyFile),
		FinalKey:         filepath.Join(keyDir, FinalKeyFile),
		VerificationKey:  filepath.Join(keyDir, VerificationKeyFile),
		SolidityVerifier: filepath.Join(keyDir, VerifierContractName(c.Name)+".sol"),
		Witness:          filepath.Join(outDir, WitnessFile),
		Proof:            filepath.Join(outDir, ProofFile),
		Public:           filepath.Join(outDir, PublicFile),
		Manifest:         filepath.Join(keyDir, ManifestFile),
	}
}

// Tau returns the phase-1 layout for potSize with the given number of
// random contributions.
func (l *Locator) Tau(potSize, contributions int) TauPaths {
	chain := make([]string, contributions+1)
	for i := range chain {
		chain[i] = filepath.Join(l.tauDir, fmt.Sprintf("pot%d_%04d.ptau", potSize, i))
	}
	return TauPaths{
		PotSize: potSize,
		Chain:   chain,
		Beacon:  filepath.Join(l.tauDir, fmt.Sprintf("pot%d_beacon.ptau", potSize)),
		Final:   filepath.Join(l.tauDir, fmt.Sprintf("pot%d_final.ptau", potSize)),
		Lock:    filepath.Join(l.tauDir, fmt.Sprintf("pot%d.lock", potSize)),
	}
}

// VerifierContractName turns a circuit directory name such as "hash-check"
// into the Solidity contract name "HashCheckVerifier".
func VerifierContractName(circuit string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(circuit, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	}) {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	b.WriteString("Verifier")
	return b.String()
}
