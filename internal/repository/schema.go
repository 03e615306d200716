package repository

// Schema definitions for the Arbiter database.
// Compatible with both SQLite and PostgreSQL.

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL,
    business_category TEXT NOT NULL,
    category_key TEXT NOT NULL,
    conditions TEXT NOT NULL,
    actions TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_category ON rules(category_key);
CREATE INDEX IF NOT EXISTS idx_rules_status ON rules(category_key, status);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    matched INTEGER NOT NULL,
    failure TEXT NOT NULL DEFAULT '',
    log TEXT NOT NULL,
    facts TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_evaluations_rule ON evaluations(rule_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_evaluations_matched ON evaluations(matched);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    matched_rule_id TEXT NOT NULL DEFAULT '',
    categories TEXT NOT NULL,
    candidate_rule_ids TEXT NOT NULL,
    facts TEXT NOT NULL,
    matched_rule TEXT,
    recommended_actions TEXT NOT NULL,
    evaluation_log TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_rule ON decisions(matched_rule_id);
CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRules,
		schemaEvaluations,
		schemaDecisions,
	}
}
