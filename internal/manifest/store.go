package manifest

import (
	"os"
	"path/filepath"
)

// Path returns the manifest file path within workDir.
func Path(workDir string) string {
	return filepath.Join(workDir, ManifestFileName)
}

// LogPath returns the debug log file path within workDir.
func LogPath(workDir string) string {
	return filepath.Join(workDir, LogFileName)
}

// Write encodes plan and writes it to its manifest path inside plan.WorkDir.
func Write(plan *Plan) error {
	blob, err := Encode(plan)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(plan.WorkDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(Path(plan.WorkDir), blob, 0o644)
}

// Load reads and decodes the manifest inside workDir.
func Load(workDir string) (*Plan, error) {
	blob, err := os.ReadFile(Path(workDir))
	if err != nil {
		return nil, err
	}
	return Decode(blob)
}
