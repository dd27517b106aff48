package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dev.quorum.engine/internal/memory"
)

var memoryFlags struct {
	k         int
	threshold float64
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Query the deliberation memory graph",
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find prior deliberations similar to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		graph := openMemory()
		hits, err := graph.Similar(args[0], memoryFlags.k, memoryFlags.threshold)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("no similar deliberations")
			return nil
		}
		fmt.Print(memory.FormatHits(hits))
		return nil
	},
}

func init() {
	memorySearchCmd.Flags().IntVar(&memoryFlags.k, "k", 5, "maximum results")
	memorySearchCmd.Flags().Float64Var(&memoryFlags.threshold, "threshold", memory.DefaultThreshold, "similarity threshold")

	memoryCmd.AddCommand(memorySearchCmd)
	rootCmd.AddCommand(memoryCmd)
}
