// Command tracegcdemo drives the tracegc collector from the command
// line: it allocates a synthetic object graph, triggers collections,
// and prints metrics snapshots. It exists to exercise gc.Collector end
// to end, not as a production entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tracegcdemo",
		Short: "Drive the tracegc collector against a synthetic object graph",
		Long: `tracegcdemo allocates a synthetic graph of linked nodes behind the
tracegc collector and drives major/minor collections against it.

Commands:
  run      Allocate a graph, collect, and print before/after metrics
  stats    Run a short allocation burst and print the metrics snapshot`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("tracegcdemo (tracegc module demo CLI)")
		},
	}
}
