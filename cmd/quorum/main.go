// quorum is the command-line front-end of the deliberation engine: it loads
// the project configuration, assembles the provider roster, and exposes the
// session, ledger, memory, and arena stores for inspection.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dev.quorum.engine/internal/arena"
	"dev.quorum.engine/internal/config"
	"dev.quorum.engine/internal/ledger"
	"dev.quorum.engine/internal/memory"
	"dev.quorum.engine/internal/models"
	"dev.quorum.engine/internal/session"
)

var (
	cfgPath string
	verbose bool
	noColor bool

	cfg *config.Config
	log = logrus.New()
)

// errCheckFailed marks verification and CI-gate failures that exit 1
// without being usage errors.
var errCheckFailed = errors.New("check failed")

// usageError wraps flag and argument mistakes so main can exit 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "Multi-model deliberation engine",
	Long: `quorum runs a structured deliberation among multiple language-model
providers: phased debate, ranked voting, synthesis, and a hash-chained
attestation record of the whole process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		} else {
			log.SetLevel(logrus.WarnLevel)
		}
		if noColor {
			color.NoColor = true
		}

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		return config.Validate(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "project configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
}

func defaultConfigPath() string {
	if p := os.Getenv("QUORUM_CONFIG"); p != "" {
		return p
	}
	return "quorum.yaml"
}

// openSessions opens the session store under the configured sessions dir.
func openSessions() (*session.Store, error) {
	return session.NewStore(cfg.Paths.Sessions)
}

func openLedger() (*ledger.Ledger, error) {
	return ledger.New(cfg.Paths.Ledger)
}

func openMemory() *memory.Graph {
	return memory.NewGraph(cfg.Paths.Memory)
}

func openArena() (*arena.Arena, error) {
	return arena.New(cfg.Paths.Arena)
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, color.RedString("error:"), err)

	var usage usageError
	switch {
	case errors.As(err, &usage), models.KindOf(err) == models.KindConfig:
		os.Exit(2)
	default:
		os.Exit(1)
	}
}
