package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSelection selects every directory under the circuits root.
const DefaultSelection = "*"

// ResolveSelection turns the selection input into circuit specs.
//
// A selection containing a comma is a list of names; anything else is a glob
// pattern. Relative entries are resolved under circuitsDir unless they already
// start with it. A named entry that is not a directory is a ConfigError
// wrapping ErrCircuitNotFound; glob matches that are not directories are
// dropped, and an empty result is a ConfigError wrapping ErrNoCircuits.
func ResolveSelection(selection, circuitsDir string) ([]CircuitSpec, error) {
	selection = strings.TrimSpace(selection)
	if selection == "" {
		selection = DefaultSelection
	}

	var candidates []string
	explicit := strings.Contains(selection, ",")
	if explicit {
		for _, name := range strings.Split(selection, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			candidates = append(candidates, underRoot(name, circuitsDir))
		}
	} else {
		matches, err := filepath.Glob(underRoot(selection, circuitsDir))
		if err != nil {
			return nil, &ConfigError{Field: "circuits", Reason: fmt.Sprintf("bad pattern %q", selection), Err: err}
		}
		candidates = matches
	}

	seen := make(map[string]bool, len(candidates))
	specs := make([]CircuitSpec, 0, len(candidates))
	for _, dir := range candidates {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			if explicit {
				return nil, &ConfigError{
					Field:  "circuits",
					Reason: fmt.Sprintf("%q is not a directory", dir),
					Err:    ErrCircuitNotFound,
				}
			}
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, &ConfigError{Field: "circuits", Reason: dir, Err: err}
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		specs = append(specs, CircuitSpec{Name: filepath.Base(abs), SourceDir: abs})
	}

	if len(specs) == 0 {
		return nil, &ConfigError{
			Field:  "circuits",
			Reason: fmt.Sprintf("%q under %q", selection, circuitsDir),
			Err:    ErrNoCircuits,
		}
	}
	return specs, nil
}

func underRoot(entry, root string) string {
	if filepath.IsAbs(entry) || root == "" {
		return entry
	}
	cleanRoot := filepath.Clean(root)
	cleanEntry := filepath.Clean(entry)
	if cleanEntry == cleanRoot || strings.HasPrefix(cleanEntry, cleanRoot+string(filepath.Separator)) {
		return entry
	}
	return filepath.Join(root, entry)
}
