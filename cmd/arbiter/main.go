// Arbiter - Deterministic business rule evaluation.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Arbiter evaluates business rules against key/value facts and reports
// whether every condition held, with a step-by-step evaluation log.
//
// Usage:
//
//	# Start the HTTP server (default command)
//	arbiter serve --config arbiter.yaml
//
//	# Evaluate a rule file against a facts file
//	arbiter eval --rule rule.yaml --facts facts.json
//
//	# Import or export the rule store
//	arbiter import --file rules.json
//	arbiter export --file rules.yaml
package main

func main() {
	Execute()
}
