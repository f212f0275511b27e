package transcriber

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const ModelFile = "ggml-medium.bin"

// ModelCandidates lists where the whisper model may live, in probe order:
// explicit flag, SPEECHER_MODEL, next to the executable (bundle layout first)
// and the per-user data directory. Empty inputs are skipped.
func ModelCandidates(flagPath, dataDir string) []string {
	var out []string
	add := func(p string) {
		if p != "" {
			out = append(out, p)
		}
	}
	add(flagPath)
	add(os.Getenv("SPEECHER_MODEL"))
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		add(filepath.Join(dir, "Resources", "models", ModelFile))
		add(filepath.Join(dir, ModelFile))
	}
	if dataDir != "" {
		add(filepath.Join(dataDir, "models", ModelFile))
	}
	return out
}

// LocateModel returns the first candidate that is an existing regular file.
func LocateModel(candidates []string) (string, error) {
	for _, p := range candidates {
		info, err := os.Stat(p)
		if err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}
	if len(candidates) == 0 {
		return "", ErrModelNotFound
	}
	return "", fmt.Errorf("%w: tried %s", ErrModelNotFound, strings.Join(candidates, ", "))
}
