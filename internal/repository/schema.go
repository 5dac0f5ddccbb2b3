package repository

// Schema definitions for the PhishGuard database.
// Compatible with both SQLite and PostgreSQL.

const schemaScans = `
CREATE TABLE IF NOT EXISTS scans (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    url TEXT NOT NULL,
    safety_score INTEGER NOT NULL,
    is_phishing INTEGER NOT NULL,
    verdict TEXT NOT NULL,
    threat_factors TEXT NOT NULL,
    cached INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scans_user ON scans(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_scans_phishing ON scans(is_phishing);
`

// schemaRuleConfigs defines operator-defined CEL rules.
// Rules are soft-disabled, never deleted.
const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    level TEXT NOT NULL,
    deduction INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaScans,
		schemaRuleConfigs,
	}
}
