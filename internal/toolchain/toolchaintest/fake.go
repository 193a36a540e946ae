// Package toolchaintest provides a recording Runner that mimics the external
// compiler and toolkit by writing deterministic output files.
package toolchaintest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/toolchain"
)

// Fake records every command it is asked to run and produces the files the
// real tools would produce. Output content is a hash of the inputs, so
// identical inputs always give identical artifacts.
type Fake struct {
	mu       sync.Mutex
	commands []toolchain.Command
	failures []failure
}

type failure struct {
	match    string
	exitCode int
}

// New returns an empty fake runner.
func New() *Fake {
	return &Fake{}
}

// FailOn makes any command whose rendered form contains match exit with
// exitCode.
func (f *Fake) FailOn(match string, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure{match: match, exitCode: exitCode})
}

// Commands returns a copy of the recorded commands.
func (f *Fake) Commands() []toolchain.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]toolchain.Command(nil), f.commands...)
}

// Count returns how many recorded commands contain match.
func (f *Fake) Count(match string) int {
	n := 0
	for _, c := range f.Commands() {
		if strings.Contains(c.String(), match) {
			n++
		}
	}
	return n
}

// Reset forgets recorded commands, keeping failures.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = nil
}

// Run implements toolchain.Runner.
func (f *Fake) Run(ctx context.Context, c toolchain.Command) error {
	if err := ctx.Err(); err != nil {
		return &toolchain.ExecutionError{Command: c.String(), ExitCode: -1, Err: err}
	}

	f.mu.Lock()
	f.commands = append(f.commands, c)
	failures := append([]failure(nil), f.failures...)
	f.mu.Unlock()

	rendered := c.String()
	for _, fl := range failures {
		if strings.Contains(rendered, fl.match) {
			return &toolchain.ExecutionError{
				Command:  rendered,
				ExitCode: fl.exitCode,
				Err:      fmt.Errorf("injected failure"),
			}
		}
	}

	if err := simulate(c); err != nil {
		return &toolchain.ExecutionError{Command: rendered, ExitCode: 1, Err: err}
	}
	return nil
}

func simulate(c toolchain.Command) error {
	args := c.Args
	switch filepath.Base(c.Name) {
	case "circom":
		return compile(args)
	case "node":
		if len(args) != 4 {
			return fmt.Errorf("witness: want 4 args, got %d", len(args))
		}
		return derive("witness", args[1:3], args[3])
	}

	if len(args) > 0 && args[0] == "snarkjs" {
		args = args[1:]
	}
	if len(args) < 2 {
		return fmt.Errorf("unknown command %v", args)
	}

	switch args[0] + " " + args[1] {
	case "r1cs info":
		return requireFiles(args[2])
	case "powersoftau new":
		return writeOutput(args[4], []byte("ptau-new:"+args[2]+":"+args[3]))
	case "powersoftau contribute":
		return derive("contribute", args[2:3], args[3])
	case "powersoftau beacon":
		return derive("beacon"+strings.Join(args[4:], " "), args[2:3], args[3])
	case "powersoftau prepare":
		return derive("prepare", args[3:4], args[4])
	case "powersoftau verify":
		return requireFiles(args[2])
	case "zkey new":
		return derive("zkey-new", args[2:4], args[4])
	case "zkey contribute":
		return derive("zkey-contribute", args[2:3], args[3])
	case "zkey beacon":
		return derive("zkey-beacon"+strings.Join(args[4:], " "), args[2:3], args[3])
	case "zkey export":
		if len(args) != 5 {
			return fmt.Errorf("zkey export: want 5 args, got %d", len(args))
		}
		return derive(args[2], args[3:4], args[4])
	case "groth16 prove":
		if err := derive("proof", args[2:4], args[4]); err != nil {
			return err
		}
		return derive("public", args[3:4], args[5])
	case "groth16 verify":
		return requireFiles(args[2:]...)
	}
	return fmt.Errorf("unknown command %v", args)
}

func compile(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("compile: no source")
	}
	source := args[0]
	outDir := ""
	for i := 1; i < len(args)-1; i++ {
		if args[i] == "-o" {
			outDir = args[i+1]
		}
	}
	if outDir == "" {
		return fmt.Errorf("compile: no output directory")
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	jsDir := filepath.Join(outDir, base+"_js")
	if err := derive("r1cs", []string{source}, filepath.Join(outDir, base+".r1cs")); err != nil {
		return err
	}
	if err := derive("sym", []string{source}, filepath.Join(outDir, base+".sym")); err != nil {
		return err
	}
	if err := derive("wasm", []string{source}, filepath.Join(jsDir, base+".wasm")); err != nil {
		return err
	}
	return writeOutput(filepath.Join(jsDir, "generate_witness.js"), []byte("// witness\n"))
}

func requireFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return err
		}
	}
	return nil
}

func derive(tag string, inputs []string, out string) error {
	h := sha256.New()
	h.Write([]byte(tag))
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		h.Write(data)
	}
	return writeOutput(out, []byte(hex.EncodeToString(h.Sum(nil))))
}

func writeOutput(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
