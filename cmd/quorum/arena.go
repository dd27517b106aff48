package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dev.quorum.engine/internal/arena"
)

var arenaCmd = &cobra.Command{
	Use:   "arena",
	Short: "Provider reputation across deliberations",
}

var arenaStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show win/loss records and reputation weights",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		arn, err := openArena()
		if err != nil {
			return err
		}
		stats, err := arn.All()
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Println("no recorded sessions")
			return nil
		}
		fmt.Print(arena.Format(stats))
		return nil
	},
}

func init() {
	arenaCmd.AddCommand(arenaStatsCmd)
	rootCmd.AddCommand(arenaCmd)
}
