package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS whitelist (
	sender     TEXT PRIMARY KEY,
	note       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS unwanted_senders (
	sender     TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS must_delete (
	sender    TEXT PRIMARY KEY,
	reason    TEXT NOT NULL DEFAULT '',
	marked_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS action_history (
	id         TEXT PRIMARY KEY,
	sender     TEXT NOT NULL,
	strategy   TEXT NOT NULL,
	success    INTEGER NOT NULL DEFAULT 0,
	message    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_sender ON action_history(sender);
CREATE INDEX IF NOT EXISTS idx_history_created ON action_history(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
