package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dev.quorum.engine/internal/attest"
	"dev.quorum.engine/internal/models"
)

func readChain(sessionID string) (*models.AttestationChain, error) {
	store, err := openSessions()
	if err != nil {
		return nil, err
	}
	id, err := resolveSessionID(store, sessionID)
	if err != nil {
		return nil, err
	}
	sess, err := store.Open(id)
	if err != nil {
		return nil, err
	}
	var chain models.AttestationChain
	if err := sess.ReadArtifact("attestation", &chain); err != nil {
		return nil, fmt.Errorf("session %s has no attestation: %w", id, err)
	}
	return &chain, nil
}

var verifyCmd = &cobra.Command{
	Use:   "verify <session-id>",
	Short: "Verify a session's attestation hash chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, err := readChain(args[0])
		if err != nil {
			return err
		}

		result := attest.Verify(chain)
		if result.Valid {
			fmt.Printf("%s chain valid (%d records)\n", color.GreenString("✓"), len(chain.Records))
			return nil
		}
		fmt.Printf("%s chain broken at %s: %s\n", color.RedString("✗"), result.BrokenAt, result.Details)
		return errCheckFailed
	},
}

var attestCmd = &cobra.Command{
	Use:   "attest",
	Short: "Work with attestation chains",
}

var attestDiffCmd = &cobra.Command{
	Use:   "diff <session-a> <session-b>",
	Short: "Compare two sessions' attestation chains phase by phase",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		left, err := readChain(args[0])
		if err != nil {
			return err
		}
		right, err := readChain(args[1])
		if err != nil {
			return err
		}

		diff := attest.Diff(left, right)
		fmt.Print(attest.FormatDiff(diff))
		if diff.DivergedAt != "" {
			return errCheckFailed
		}
		return nil
	},
}

var attestExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session's attestation chain as canonical JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chain, err := readChain(args[0])
		if err != nil {
			return err
		}
		data, err := attest.ExportJSON(chain)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	attestCmd.AddCommand(attestDiffCmd, attestExportCmd)
	rootCmd.AddCommand(verifyCmd, attestCmd)
}
