package sqlite

import "github.com/ministore/crudstore/crudstore/storage/sqlstore"

// SQLTemplates contains SQLite-specific SQL
var SQLTemplates = sqlstore.Templates{
	CreateCounters: `
CREATE TABLE IF NOT EXISTS counters (
  category   TEXT    NOT NULL,
  name       TEXT    NOT NULL,
  value      INTEGER NOT NULL,
  updated_at TEXT    NOT NULL,
  PRIMARY KEY (category, name)
)`,
	IncrementCounter: `
INSERT INTO counters(category, name, value, updated_at) VALUES(?1, ?2, 1, ?3)
ON CONFLICT(category, name) DO UPDATE SET value = counters.value + 1, updated_at = excluded.updated_at
RETURNING value`,
	ResetCounters: `DELETE FROM counters WHERE category = ?1`,
	RaiseCounter: `
INSERT INTO counters(category, name, value, updated_at) VALUES(?1, ?2, ?3, ?4)
ON CONFLICT(category, name) DO UPDATE SET value = MAX(counters.value, excluded.value), updated_at = excluded.updated_at`,
	ListIndexes: `SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?1 ORDER BY name`,
	Version:     `SELECT sqlite_version()`,
}
