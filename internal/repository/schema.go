package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL. Amounts are stored as decimal
// text so sub-cent precision survives the round trip.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    timestamp TIMESTAMP,
    amount TEXT NOT NULL,
    balance TEXT,
    vendor TEXT NOT NULL,
    vendor_key TEXT NOT NULL,
    category TEXT NOT NULL,
    description TEXT NOT NULL,
    account_id TEXT NOT NULL,
    employee TEXT NOT NULL,
    reference TEXT NOT NULL,
    record_type TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, entity_id, id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_entity_time ON transactions(tenant_id, entity_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_vendor ON transactions(tenant_id, vendor_key);
`

const schemaReports = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    risk_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    finding_count INTEGER NOT NULL,
    top_findings TEXT NOT NULL,
    generated_at TIMESTAMP NOT NULL,
    body TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_tenant ON reports(tenant_id, generated_at);
CREATE INDEX IF NOT EXISTS idx_reports_entity ON reports(tenant_id, entity_id, generated_at);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    confidence REAL NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaReports,
		schemaRuleConfigs,
	}
}
