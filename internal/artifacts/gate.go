package artifacts

import "os"

// Gate decides whether a stage can be skipped.
type Gate struct {
	Overwrite bool
}

// CanSkip reports true only if overwrite is off and every path exists.
// It is evaluated fresh for each stage; nothing is cached.
func (g Gate) CanSkip(paths ...string) bool {
	if g.Overwrite {
		return false
	}
	for _, p := range paths {
		if !Exists(p) {
			return false
		}
	}
	return true
}

// Missing lists the paths that do not exist yet.
func (g Gate) Missing(paths ...string) []string {
	var missing []string
	for _, p := range paths {
		if !Exists(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// Exists reports whether path is present on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
