package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/arbiter/internal/config"
	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Arbiter - deterministic business rule evaluation",
	Long: `Arbiter evaluates named business rules against key/value facts.

A rule is an ordered list of conditions and the actions recommended when
all of them hold. Every evaluation returns a matched flag and a log that
explains each step, so callers can show why a rule did or did not apply.

Running arbiter without a subcommand starts the server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

// exitError ends the process with a specific status and no message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults plus ARBITER_* environment when empty)")
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig() (*domain.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if _, err := logging.Setup(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}
