package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var speedCmd = &cobra.Command{
	Use:   "speed <mbps>",
	Short: "Print the speed ceiling that would be applied to new downloads",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpeed,
}

// runSpeed only reports the value the flags would apply: a running
// process's in-memory Manager (and therefore its active Coordinators) is
// not reachable from a freshly invoked CLI process, so propagating a
// live setSpeed requires a control channel this command intentionally
// does not implement.
func runSpeed(cmd *cobra.Command, args []string) error {
	mbps, err := strconv.ParseFloat(args[0], 64)
	if err != nil || mbps <= 0 {
		return fmt.Errorf("speed must be a positive number of Mbps")
	}
	fmt.Printf("new downloads will be limited to %.2f Mbps (%.0f bytes/sec)\n", mbps, mbps*125_000)
	return nil
}
