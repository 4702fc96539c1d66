package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tanq16/prometeo/internal/manifest"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove work directories of finished downloads or with unreadable manifests",
	RunE:  runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	opts := buildManagerOptions()
	tempDir := opts.TempDir
	if tempDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		tempDir = filepath.Join(base, "Prometeo")
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		workDir := filepath.Join(tempDir, entry.Name())
		plan, err := manifest.Load(workDir)
		if err != nil || plan.Finished {
			if rmErr := os.RemoveAll(workDir); rmErr == nil {
				removed++
			}
		}
	}
	fmt.Printf("removed %d work director%s\n", removed, plural(removed))
	return nil
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
