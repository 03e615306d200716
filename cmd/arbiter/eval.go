package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/arbiter/internal/domain"
	"github.com/opensource-finance/arbiter/internal/rules"
	"github.com/opensource-finance/arbiter/internal/ruleset"
)

var evalFlags struct {
	rule   string
	facts  string
	asJSON bool
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a rule file against a facts file",
	Long: `Evaluate one rule, read from a JSON or YAML file, against facts read
from a JSON object file. The evaluation log is printed line by line.

The exit status is 0 when the rule matched and 2 when it did not, so the
command can gate shell pipelines.

Examples:
  arbiter eval --rule discount.yaml --facts order.json
  arbiter eval --rule discount.json --facts order.json --json`,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVar(&evalFlags.rule, "rule", "", "rule file (.json, .yaml or .yml)")
	evalCmd.Flags().StringVar(&evalFlags.facts, "facts", "", "facts file (JSON object of scalar values)")
	evalCmd.Flags().BoolVar(&evalFlags.asJSON, "json", false, "print the result as JSON")
	evalCmd.MarkFlagRequired("rule")
	evalCmd.MarkFlagRequired("facts")
}

func runEval(cmd *cobra.Command, args []string) error {
	rule, err := ruleset.ReadRule(evalFlags.rule)
	if err != nil {
		return fmt.Errorf("failed to read rule: %w", err)
	}
	facts, err := readFacts(evalFlags.facts)
	if err != nil {
		return err
	}

	result := rules.Evaluate(facts, rule)

	out := cmd.OutOrStdout()
	if evalFlags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		for _, line := range result.Log {
			fmt.Fprintln(out, line)
		}
	}

	if !result.Matched {
		return &exitError{code: 2}
	}
	return nil
}

func readFacts(path string) (domain.FactMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read facts: %w", err)
	}
	var facts domain.FactMap
	if err := json.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("failed to parse facts %s: %w", path, err)
	}
	if facts == nil {
		facts = domain.FactMap{}
	}
	return facts, nil
}
