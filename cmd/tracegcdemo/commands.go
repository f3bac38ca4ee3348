package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidalgc/tracegc/gc"
)

func newRunCommand() *cobra.Command {
	var chainLen int
	var minor bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Allocate a graph, collect, and print before/after metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := gc.New()
			defer c.Close()

			h := c.AcquireHandle()
			defer h.Release()

			buildChain(c, h, chainLen)
			a, b := buildCycle(c, h)
			_ = a
			_ = b

			fmt.Fprintf(cmd.OutOrStdout(), "allocated: chain=%d cycle=2 pending_sweep_pages=%d\n",
				chainLen, c.PendingSweepPages())

			var stats gc.Stats
			if minor {
				stats = c.CollectMinor()
			} else {
				stats = c.Collect()
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"collected: duration=%s objects_marked=%d objects_reclaimed=%d fallback=%v\n",
				stats.Duration, stats.ObjectsMarked, stats.ObjectsReclaimed, stats.FallbackOccurred)
			return nil
		},
	}

	cmd.Flags().IntVar(&chainLen, "chain-len", 64, "number of linked nodes to allocate before collecting")
	cmd.Flags().BoolVar(&minor, "minor", false, "run a minor collection instead of a full major collection")
	return cmd
}

func newStatsCommand() *cobra.Command {
	var cycles int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Run a short allocation burst and print the metrics snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := gc.New()
			defer c.Close()

			h := c.AcquireHandle()
			defer h.Release()

			for i := 0; i < cycles; i++ {
				buildChain(c, h, 128)
				c.Collect()
			}

			recent := c.Metrics().Recent(cycles)
			for i, s := range recent {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] kind=%s duration=%s marked=%d reclaimed=%d\n",
					i, s.Kind, s.Duration, s.ObjectsMarked, s.ObjectsReclaimed)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total_collections=%d average_pause=%s max_pause=%s\n",
				c.TotalCollections(), c.Metrics().AveragePauseTime(cycles), c.Metrics().MaxPauseTime(cycles))
			return nil
		},
	}

	cmd.Flags().IntVar(&cycles, "cycles", 5, "number of allocate-then-collect cycles to run")
	return cmd
}
