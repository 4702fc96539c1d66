package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/prometeo/internal/coordinator"
	"github.com/tanq16/prometeo/internal/logging"
	"github.com/tanq16/prometeo/internal/manager"
	"github.com/tanq16/prometeo/internal/output"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume every in-progress download found under the tempdir",
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	logging.Init(flagDebug)
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
	if err := m.ScanAndResume(ctx); err != nil {
		return err
	}

	downloads := m.ListDownloads()
	for _, d := range downloads {
		disp.Register(d.ID, d.Name)
	}
	if len(downloads) == 0 {
		return nil
	}

	for {
		done := true
		for _, d := range downloads {
			if d.State() != coordinator.StateFinished && d.State() != coordinator.StateStopped {
				done = false
			}
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			m.StopAll(context.Background())
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
