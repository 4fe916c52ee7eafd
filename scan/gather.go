package scan

import (
	"fmt"
	"path/filepath"

	"imgscan/config"
	"imgscan/environment"
)

// Gather moves everything the collector left in the var-tmp directory into
// <output>/<output type> and removes the var-tmp directory. It returns the
// gathered paths.
func Gather(host environment.Host, cfg *config.Config) ([]string, error) {
	src := cfg.VarTmpDir
	if !host.Exists(src) {
		return nil, nil
	}

	dst := filepath.Join(cfg.OutputDir, cfg.OutputType)
	if !host.Exists(dst) {
		if err := host.MkdirAll(dst); err != nil {
			return nil, &environment.EmulatorError{Op: "gather", Path: dst, Err: err}
		}
	}

	entries, err := host.ReadDir(src)
	if err != nil {
		return nil, &environment.EmulatorError{Op: "gather", Path: src, Err: err}
	}

	var gathered []string
	for _, name := range entries {
		if err := host.Move(filepath.Join(src, name), dst); err != nil {
			return gathered, &environment.EmulatorError{
				Op:   "gather",
				Path: filepath.Join(src, name),
				Err:  fmt.Errorf("move to %s: %w", dst, err),
			}
		}
		gathered = append(gathered, filepath.Join(dst, name))
	}

	if err := host.RemoveAll(src); err != nil {
		return gathered, &environment.EmulatorError{Op: "gather", Path: src, Err: err}
	}
	return gathered, nil
}
