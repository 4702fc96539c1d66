package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/tanq16/prometeo/internal/manager"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloads currently tracked under the tempdir",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	m, err := manager.New(buildManagerOptions(), nil)
	if err != nil {
		return err
	}
	if err := m.ScanAndResume(cmd.Context()); err != nil {
		return err
	}

	downloads := m.ListDownloads()
	if len(downloads) == 0 {
		fmt.Println("No tracked downloads")
		return nil
	}

	t := table.New().Headers("Name", "State", "Progress", "Speed")
	for _, d := range downloads {
		t.Row(d.Name, d.State().String(), fmt.Sprintf("%.1f%%", d.Progress()), humanize.Bytes(uint64(d.Speed()))+"/s")
	}
	fmt.Println(t.String())
	return nil
}
