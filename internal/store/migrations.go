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

CREATE TABLE IF NOT EXISTS folders (
	id          TEXT PRIMARY KEY,
	domain      TEXT NOT NULL,
	name        TEXT NOT NULL,
	account_id  TEXT NOT NULL DEFAULT '',
	hidden      INTEGER NOT NULL DEFAULT 0,
	deleted_at  DATETIME,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS contacts (
	id           TEXT PRIMARY KEY,
	origin_id    TEXT NOT NULL,
	folder_id    TEXT NOT NULL REFERENCES folders(id),
	display_name TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	fax          TEXT NOT NULL DEFAULT '',
	deleted_at   DATETIME,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS "groups" (
	id           TEXT PRIMARY KEY,
	origin_id    TEXT NOT NULL,
	folder_id    TEXT NOT NULL REFERENCES folders(id),
	display_name TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	deleted_at   DATETIME,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id   TEXT NOT NULL REFERENCES "groups"(id),
	kind       TEXT NOT NULL,
	member_id  TEXT NOT NULL,
	PRIMARY KEY (group_id, kind, member_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_folders_live_domain
	ON folders(domain) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_contacts_folder ON contacts(folder_id);
CREATE INDEX IF NOT EXISTS idx_contacts_origin ON contacts(folder_id, origin_id);
CREATE INDEX IF NOT EXISTS idx_groups_folder ON "groups"(folder_id);
CREATE INDEX IF NOT EXISTS idx_groups_origin ON "groups"(folder_id, origin_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
