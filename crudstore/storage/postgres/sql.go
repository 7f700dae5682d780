package postgres

import "github.com/ministore/crudstore/crudstore/storage/sqlstore"

// SQLTemplates contains Postgres-specific SQL
var SQLTemplates = sqlstore.Templates{
	CreateCounters: `
CREATE TABLE IF NOT EXISTS counters (
  category   TEXT   NOT NULL,
  name       TEXT   NOT NULL,
  value      BIGINT NOT NULL,
  updated_at TEXT   NOT NULL,
  PRIMARY KEY (category, name)
)`,
	IncrementCounter: `
INSERT INTO counters(category, name, value, updated_at) VALUES($1, $2, 1, $3)
ON CONFLICT(category, name) DO UPDATE SET value = counters.value + 1, updated_at = EXCLUDED.updated_at
RETURNING value`,
	ResetCounters: `DELETE FROM counters WHERE category = $1`,
	RaiseCounter: `
INSERT INTO counters(category, name, value, updated_at) VALUES($1, $2, $3, $4)
ON CONFLICT(category, name) DO UPDATE SET value = GREATEST(counters.value, EXCLUDED.value), updated_at = EXCLUDED.updated_at`,
	ListIndexes: `SELECT indexname FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1 ORDER BY indexname`,
	Version:     `SHOW server_version`,
}
