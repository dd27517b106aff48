package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dev.quorum.engine/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect stored deliberation sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessions()
		if err != nil {
			return err
		}
		rows, err := store.ReadIndex()
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		for _, row := range rows {
			fmt.Printf("%s  %s  %-12s  %s\n",
				row.SessionID[:8],
				row.Timestamp.Local().Format("2006-01-02 15:04"),
				row.Winner,
				truncateLine(row.Question, 60))
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session's phases and synthesis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessions()
		if err != nil {
			return err
		}
		id, err := resolveSessionID(store, args[0])
		if err != nil {
			return err
		}
		sess, err := store.Open(id)
		if err != nil {
			return err
		}

		meta, err := sess.ReadMeta()
		if err != nil {
			return err
		}
		fmt.Println(color.New(color.Bold).Sprint(meta.SessionID))
		fmt.Printf("question:  %s\n", meta.Input)
		fmt.Printf("profile:   %s · topology %s\n", meta.Profile, meta.Topology)
		fmt.Printf("providers: %s\n", strings.Join(meta.Providers, ", "))
		fmt.Printf("started:   %s\n", meta.StartedAt.Local().Format(time.RFC1123))
		fmt.Println()

		phases, err := sess.ReadPhases()
		if err != nil {
			return err
		}
		for _, ph := range phases {
			fmt.Printf("%s %s (%d participants, %dms)\n",
				color.CyanString("▸"), ph.Phase, len(ph.Participants), ph.DurationMs)
		}

		synthesis, votes, err := sess.ReadSynthesis()
		if err != nil {
			fmt.Println(color.YellowString("no synthesis recorded"))
			return nil
		}
		fmt.Println()
		if votes != nil {
			fmt.Printf("winner: %s (%s)\n", color.New(color.Bold).Sprint(votes.Winner), votes.Method)
		}
		if synthesis != nil {
			fmt.Println(synthesis.Content)
		}
		return nil
	},
}

// resolveSessionID expands a unique session-id prefix against the index.
// IDs absent from the index pass through untouched, so sessions that died
// before indexing remain addressable by full id.
func resolveSessionID(store *session.Store, prefix string) (string, error) {
	rows, err := store.ReadIndex()
	if err != nil {
		return "", err
	}
	var match string
	for _, row := range rows {
		if row.SessionID == prefix {
			return prefix, nil
		}
		if strings.HasPrefix(row.SessionID, prefix) {
			if match != "" && match != row.SessionID {
				return "", fmt.Errorf("session prefix %q is ambiguous", prefix)
			}
			match = row.SessionID
		}
	}
	if match == "" {
		return prefix, nil
	}
	return match, nil
}

func truncateLine(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func init() {
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd)
	rootCmd.AddCommand(sessionCmd)
}
