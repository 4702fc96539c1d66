// Batch URL-list ingestion, grounded on the teacher's
// utils.ReadDownloadList/utils.DownloadEntry (utils/functions.go). The
// manifest itself stays JSON (spec.md §4.4); YAML is reserved for this
// external batch file format only.
package manager

import (
	"fmt"
	"os"

	"github.com/tanq16/prometeo/internal/prometeoerr"
	"gopkg.in/yaml.v3"
)

// BatchEntry is one line of a batch download file.
type BatchEntry struct {
	URL      string `yaml:"url"`
	Path     string `yaml:"path"`
	Filename string `yaml:"filename,omitempty"`
}

// LoadBatchFile parses a YAML list of BatchEntry from filePath, the way
// the teacher's ReadDownloadList parses its DownloadEntry list.
func LoadBatchFile(filePath string) ([]BatchEntry, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, prometeoerr.InvalidArgument("manager.LoadBatchFile", fmt.Errorf("reading batch file: %w", err))
	}
	var entries []BatchEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, prometeoerr.InvalidArgument("manager.LoadBatchFile", fmt.Errorf("parsing batch file: %w", err))
	}
	for i, e := range entries {
		if e.URL == "" {
			return nil, prometeoerr.InvalidArgument("manager.LoadBatchFile", fmt.Errorf("entry %d: missing url", i+1))
		}
		if e.Path == "" {
			return nil, prometeoerr.InvalidArgument("manager.LoadBatchFile", fmt.Errorf("entry %d: missing path", i+1))
		}
	}
	return entries, nil
}
