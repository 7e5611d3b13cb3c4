// Package sqlstore is a modernc.org/sqlite-backed implementation of
// store.Store. It is the pipeline's external persistence collaborator
// (spec.md §6); nothing outside this package touches *sql.DB directly.
package sqlstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the underlying SQL connection.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates a SQLite database at path and runs migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlstore: create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: enable WAL: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: enable foreign keys: %w", err)
	}

	d := &DB{DB: conn, path: path}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: migration failed: %w", err)
	}
	return d, nil
}

func (d *DB) migrate() error {
	if _, err := d.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var version int
	if err := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration1Schema},
		{2, migration2Config},
		{3, migration3TriageDuplicates},
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := d.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := d.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

const migration1Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner TEXT NOT NULL,
	repo TEXT NOT NULL,
	display_name TEXT,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	description TEXT,
	submitter_name TEXT,
	submitter_email TEXT,
	project_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	priority TEXT NOT NULL,
	steps_to_reproduce TEXT,
	expected TEXT,
	actual TEXT,
	state TEXT NOT NULL,
	last_triage_at DATETIME,
	triage_count INTEGER NOT NULL DEFAULT 0,
	last_architect_at DATETIME,
	architect_count INTEGER NOT NULL DEFAULT 0,
	issue_number INTEGER,
	session_id TEXT,
	pr_number INTEGER,
	pr_url TEXT,
	branch_name TEXT,
	triggered_at DATETIME,
	completed_at DATETIME,
	implementation_status TEXT,
	deployment_status TEXT NOT NULL DEFAULT 'None',
	deployment_run_id TEXT,
	deployed_at DATETIME,
	deployment_retry_count INTEGER NOT NULL DEFAULT 0,
	branch_deleted INTEGER NOT NULL DEFAULT 0,
	stall_notified_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (project_id) REFERENCES projects(id)
);
CREATE INDEX IF NOT EXISTS idx_requests_state ON requests(state);
CREATE INDEX IF NOT EXISTS idx_requests_updated_at ON requests(updated_at);
CREATE INDEX IF NOT EXISTS idx_requests_project ON requests(project_id);

CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id INTEGER NOT NULL,
	author TEXT,
	content TEXT,
	is_agent INTEGER NOT NULL DEFAULT 0,
	review_ref TEXT,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (request_id) REFERENCES requests(id)
);
CREATE INDEX IF NOT EXISTS idx_comments_request ON comments(request_id);

CREATE TABLE IF NOT EXISTS attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id INTEGER NOT NULL,
	filename TEXT,
	content_type TEXT,
	data BLOB,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (request_id) REFERENCES requests(id)
);
CREATE INDEX IF NOT EXISTS idx_attachments_request ON attachments(request_id);

CREATE TABLE IF NOT EXISTS triage_reviews (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id INTEGER NOT NULL,
	decision TEXT NOT NULL,
	reasoning TEXT,
	alignment_score INTEGER,
	completeness_score INTEGER,
	sales_alignment_score INTEGER,
	suggested_priority TEXT,
	tags TEXT,
	prompt_tokens INTEGER,
	completion_tokens INTEGER,
	model TEXT,
	duration_ms INTEGER,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (request_id) REFERENCES requests(id)
);
CREATE INDEX IF NOT EXISTS idx_triage_request ON triage_reviews(request_id);
CREATE INDEX IF NOT EXISTS idx_triage_created ON triage_reviews(created_at);

CREATE TABLE IF NOT EXISTS architect_reviews (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id INTEGER NOT NULL,
	solution_summary TEXT,
	approach TEXT,
	solution_json TEXT,
	estimated_complexity TEXT,
	estimated_effort TEXT,
	files_analyzed INTEGER,
	paths_read TEXT,
	step1_prompt_tokens INTEGER,
	step1_completion_tokens INTEGER,
	step2_prompt_tokens INTEGER,
	step2_completion_tokens INTEGER,
	model TEXT,
	duration_ms INTEGER,
	decision TEXT NOT NULL,
	human_feedback TEXT,
	approved_by TEXT,
	approved_at DATETIME,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (request_id) REFERENCES requests(id)
);
CREATE INDEX IF NOT EXISTS idx_architect_request ON architect_reviews(request_id);
CREATE INDEX IF NOT EXISTS idx_architect_created ON architect_reviews(created_at);

CREATE TABLE IF NOT EXISTS code_reviews (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id INTEGER NOT NULL,
	pr_number INTEGER,
	decision TEXT NOT NULL,
	summary TEXT,
	design_compliance INTEGER,
	design_compliance_notes TEXT,
	security_pass INTEGER,
	security_notes TEXT,
	coding_standards_pass INTEGER,
	coding_standards_notes TEXT,
	quality_score INTEGER,
	files_changed INTEGER,
	lines_added INTEGER,
	lines_removed INTEGER,
	prompt_tokens INTEGER,
	completion_tokens INTEGER,
	model TEXT,
	duration_ms INTEGER,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (request_id) REFERENCES requests(id)
);
CREATE INDEX IF NOT EXISTS idx_codereview_request ON code_reviews(request_id);
CREATE INDEX IF NOT EXISTS idx_codereview_pr ON code_reviews(request_id, pr_number);
`

const migration2Config = `
CREATE TABLE IF NOT EXISTS system_prompts (
	stage TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS config_values (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const migration3TriageDuplicates = `
ALTER TABLE triage_reviews ADD COLUMN clarification_questions TEXT;
ALTER TABLE triage_reviews ADD COLUMN is_duplicate INTEGER NOT NULL DEFAULT 0;
ALTER TABLE triage_reviews ADD COLUMN duplicate_of_request_id INTEGER;
`
