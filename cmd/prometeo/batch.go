package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/prometeo/internal/coordinator"
	"github.com/tanq16/prometeo/internal/logging"
	"github.com/tanq16/prometeo/internal/manager"
	"github.com/tanq16/prometeo/internal/output"
)

var batchCmd = &cobra.Command{
	Use:   "batch <file.yaml>",
	Short: "Download every entry in a YAML batch file",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	logging.Init(flagDebug)
	entries, err := manager.LoadBatchFile(args[0])
	if err != nil {
		return err
	}

	disp := output.NewManager(250 * time.Millisecond)
	disp.Start()
	defer disp.Stop()

	m, err := manager.New(buildManagerOptions(), func(e coordinator.Event) {
		switch e.Type {
		case coordinator.EventProgress:
			disp.Update(e.DownloadID, e.Progress, e.SpeedBps, e.ETA)
		case coordinator.EventFinish:
			if e.Err != nil {
				disp.Error(e.DownloadID, e.Err)
			} else {
				disp.Complete(e.DownloadID)
			}
		case coordinator.EventStop:
			disp.Stopped(e.DownloadID)
		}
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var downloads []*manager.Download
	var failures int
	for _, entry := range entries {
		d, err := m.Download(ctx, manager.Request{URL: entry.URL, Path: entry.Path, Filename: entry.Filename})
		if err != nil {
			fmt.Printf("failed to start %s: %v\n", entry.URL, err)
			failures++
			continue
		}
		disp.Register(d.ID, d.Name)
		downloads = append(downloads, d)
	}

	for {
		done := true
		for _, d := range downloads {
			if d.State() != coordinator.StateFinished && d.State() != coordinator.StateStopped {
				done = false
			}
		}
		if done {
			break
		}
		select {
		case <-ctx.Done():
			m.StopAll(context.Background())
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d entries failed to start", failures, len(entries))
	}
	return nil
}
