package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/arbiter/internal/repository"
	"github.com/opensource-finance/arbiter/internal/ruleset"
)

var ruleFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a rule file into the repository",
	Long: `Import every valid rule of a JSON or YAML rule file into the configured
repository. Invalid rules are skipped with a warning.

A rule file maps rule ids to rules:

  {"rules": {"late-invoice": {"name": "...", "conditions": [...], ...}}}

A bare JSON array of rules is also accepted; those rules get new ids.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repo, err := repository.New(cfg.Repository)
		if err != nil {
			return fmt.Errorf("failed to open repository: %w", err)
		}
		defer repo.Close()

		n, err := ruleset.NewImporter(repo).ImportFile(cmd.Context(), ruleFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rules from %s\n", n, ruleFile)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all rules to a rule file",
	Long:  `Write every stored rule to a JSON or YAML rule file, chosen by extension.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repo, err := repository.New(cfg.Repository)
		if err != nil {
			return fmt.Errorf("failed to open repository: %w", err)
		}
		defer repo.Close()

		list, err := ruleset.Export(cmd.Context(), repo)
		if err != nil {
			return err
		}
		if err := ruleset.WriteFile(ruleFile, list); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rules to %s\n", len(list), ruleFile)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{importCmd, exportCmd} {
		cmd.Flags().StringVarP(&ruleFile, "file", "f", "", "rule file (.json, .yaml or .yml)")
		cmd.MarkFlagRequired("file")
		rootCmd.AddCommand(cmd)
	}
}
