package db

// JSON blobs (links, template lists, metadata, tokens, condition sets, table
// cells and meta) are stored as TEXT.
const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id                         TEXT PRIMARY KEY,
	type                       TEXT NOT NULL,
	parent_id                  TEXT REFERENCES nodes(id),
	sort_order                 INTEGER NOT NULL DEFAULT 0,
	label                      TEXT NOT NULL DEFAULT '',
	has_data                   INTEGER NOT NULL DEFAULT 0,
	has_formula                INTEGER NOT NULL DEFAULT 0,
	has_condition              INTEGER NOT NULL DEFAULT 0,
	has_table                  INTEGER NOT NULL DEFAULT 0,
	formula_active_id          TEXT,
	condition_active_id        TEXT,
	table_active_id            TEXT,
	linked_variable_ids        TEXT NOT NULL DEFAULT '[]',
	linked_formula_ids         TEXT NOT NULL DEFAULT '[]',
	linked_condition_ids       TEXT NOT NULL DEFAULT '[]',
	linked_table_ids           TEXT NOT NULL DEFAULT '[]',
	repeater_template_node_ids TEXT NOT NULL DEFAULT '[]',
	metadata                   TEXT NOT NULL DEFAULT '{}',
	created_at                 INTEGER NOT NULL,
	updated_at                 INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);

CREATE TABLE IF NOT EXISTS formulas (
	id      TEXT PRIMARY KEY,
	node_id TEXT NOT NULL REFERENCES nodes(id),
	name    TEXT NOT NULL DEFAULT '',
	tokens  TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_formulas_node ON formulas(node_id);

CREATE TABLE IF NOT EXISTS conditions (
	id            TEXT PRIMARY KEY,
	node_id       TEXT NOT NULL REFERENCES nodes(id),
	name          TEXT NOT NULL DEFAULT '',
	condition_set TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_conditions_node ON conditions(node_id);

CREATE TABLE IF NOT EXISTS lookup_tables (
	id         TEXT PRIMARY KEY,
	node_id    TEXT NOT NULL REFERENCES nodes(id),
	name       TEXT NOT NULL DEFAULT '',
	table_type TEXT NOT NULL DEFAULT 'columns',
	columns    TEXT NOT NULL DEFAULT '[]',
	cells      TEXT NOT NULL DEFAULT '[]',
	meta       TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_lookup_tables_node ON lookup_tables(node_id);

CREATE TABLE IF NOT EXISTS variables (
	id             TEXT PRIMARY KEY,
	node_id        TEXT NOT NULL REFERENCES nodes(id),
	exposed_key    TEXT NOT NULL DEFAULT '',
	display_name   TEXT NOT NULL DEFAULT '',
	source_type    TEXT NOT NULL DEFAULT 'fixed',
	source_ref     TEXT NOT NULL DEFAULT '',
	unit           TEXT NOT NULL DEFAULT '',
	precision      INTEGER,
	display_format TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_variables_node ON variables(node_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_variables_key ON variables(exposed_key) WHERE exposed_key <> '';
`
