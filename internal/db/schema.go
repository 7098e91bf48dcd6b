package db

// NotesSchema creates the notes table on a fresh database.
const NotesSchema = `
CREATE TABLE IF NOT EXISTS notes (
    id TEXT PRIMARY KEY,
    title TEXT DEFAULT '',
    content TEXT DEFAULT '',
    tags TEXT DEFAULT '[]',  -- JSON array of strings
    pinned INTEGER DEFAULT 0,
    created_at TEXT,
    updated_at TEXT,
    deleted_at TEXT NULL     -- non-NULL means soft-deleted
);
`

// notesColumns lists every canonical column with the declaration used when an
// older table lacks it. Order matters only for readability.
var notesColumns = []struct {
	Name string
	Decl string
}{
	{"title", "TEXT DEFAULT ''"},
	{"content", "TEXT DEFAULT ''"},
	{"tags", "TEXT DEFAULT '[]'"},
	{"pinned", "INTEGER DEFAULT 0"},
	{"created_at", "TEXT"},
	{"updated_at", "TEXT"},
	{"deleted_at", "TEXT NULL"},
}

// legacyTimestampColumns maps camelCase columns written by early releases to
// their canonical snake_case replacements.
var legacyTimestampColumns = []struct {
	Legacy    string
	Canonical string
}{
	{"createdAt", "created_at"},
	{"updatedAt", "updated_at"},
}

// NotesIndexes are created after every column exists.
const NotesIndexes = `
CREATE INDEX IF NOT EXISTS idx_notes_updated_at ON notes(updated_at);
CREATE INDEX IF NOT EXISTS idx_notes_pinned ON notes(pinned);
CREATE INDEX IF NOT EXISTS idx_notes_title ON notes(title);
CREATE INDEX IF NOT EXISTS idx_notes_deleted_at ON notes(deleted_at);
`
