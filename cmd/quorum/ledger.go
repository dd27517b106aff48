package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dev.quorum.engine/internal/config"
	"dev.quorum.engine/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the cross-session decision ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := openLedger()
		if err != nil {
			return err
		}
		entries, err := led.All()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("ledger is empty")
			return nil
		}
		for _, e := range entries {
			winner := ""
			if e.Votes != nil {
				winner = e.Votes.Winner
			}
			fmt.Printf("%s  %s  %-12s  %s\n",
				e.ID[:8],
				e.Timestamp.Local().Format("2006-01-02 15:04"),
				winner,
				truncateLine(e.Input, 60))
		}
		return nil
	},
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one ledger entry ('last' for the newest)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := openLedger()
		if err != nil {
			return err
		}
		entry, err := led.Get(args[0])
		if err != nil {
			return err
		}

		fmt.Println(color.New(color.Bold).Sprint(entry.ID))
		fmt.Printf("question: %s\n", entry.Input)
		fmt.Printf("profile:  %s · topology %s\n", entry.Profile, entry.Topology)
		if entry.Votes != nil {
			fmt.Printf("winner:   %s (%s)\n", entry.Votes.Winner, entry.Votes.Method)
		}
		if entry.Synthesis != nil {
			fmt.Println()
			fmt.Println(entry.Synthesis.Content)
		}
		return nil
	},
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the ledger's hash chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := openLedger()
		if err != nil {
			return err
		}
		result, err := led.Verify()
		if err != nil {
			return err
		}
		if result.Valid {
			fmt.Printf("%s ledger valid (%d entries)\n", color.GreenString("✓"), result.Entries)
			return nil
		}
		fmt.Printf("%s ledger broken at entry %d: %s\n", color.RedString("✗"), result.BrokenAt, result.Detail)
		return errCheckFailed
	},
}

var ledgerExportADRCmd = &cobra.Command{
	Use:   "export-adr <id>",
	Short: "Export a ledger entry as an architecture decision record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := openLedger()
		if err != nil {
			return err
		}
		entry, err := led.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Print(ledger.ExportADR(entry))
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <id>",
	Short: "Re-run a recorded deliberation and diff the outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := openLedger()
		if err != nil {
			return err
		}
		entry, err := led.Get(args[0])
		if err != nil {
			return err
		}

		profile, err := config.LoadProfile(cfg, entry.Profile)
		if err != nil {
			return err
		}
		// Re-run against the roster the original deliberation used, not
		// whatever the config holds today.
		eng, err := buildEngine(entry.Providers, *profile, nil, nil, nil)
		if err != nil {
			return err
		}
		eng.Subscribe(printEvent)

		report, err := led.Replay(cmd.Context(), entry.ID, eng.Deliberate)
		if err != nil {
			return err
		}
		fmt.Print(ledger.FormatReplay(report))
		return nil
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerListCmd, ledgerShowCmd, ledgerVerifyCmd, ledgerExportADRCmd)
	rootCmd.AddCommand(ledgerCmd, replayCmd)
}
