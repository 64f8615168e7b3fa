package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func New(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	migrations := []string{
		migrationDistricts,
		migrationBranches,
		migrationGroups,
		migrationUnits,
		migrationMembers,
		migrationEmailTemplates,
		migrationEmailCampaigns,
		migrationEmailSendLogs,
		migrationEntryImports,
		migrationEntryImportRows,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationDistricts = `
CREATE TABLE IF NOT EXISTS districts (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationBranches = `
CREATE TABLE IF NOT EXISTS branches (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    district_id TEXT REFERENCES districts(id),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_branches_district ON branches(district_id);
`

const migrationGroups = `
CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationUnits = `
CREATE TABLE IF NOT EXISTS units (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationMembers = `
CREATE TABLE IF NOT EXISTS members (
    id TEXT PRIMARY KEY,
    first_name TEXT NOT NULL,
    last_name TEXT,
    email TEXT,
    phone TEXT,
    branch_id TEXT REFERENCES branches(id),
    group_id TEXT REFERENCES groups(id),
    unit_id TEXT REFERENCES units(id),
    district_id TEXT REFERENCES districts(id),
    membership_status TEXT DEFAULT 'active',
    join_date TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_members_branch ON members(branch_id);
CREATE INDEX IF NOT EXISTS idx_members_group ON members(group_id);
CREATE INDEX IF NOT EXISTS idx_members_unit ON members(unit_id);
CREATE INDEX IF NOT EXISTS idx_members_district ON members(district_id);
CREATE INDEX IF NOT EXISTS idx_members_status ON members(membership_status);
`

const migrationEmailTemplates = `
CREATE TABLE IF NOT EXISTS email_templates (
    id TEXT PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    subject TEXT NOT NULL,
    html_content TEXT NOT NULL,
    category TEXT,
    active INTEGER DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationEmailCampaigns = `
CREATE TABLE IF NOT EXISTS email_campaigns (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    template_id TEXT REFERENCES email_templates(id),
    subject TEXT NOT NULL,
    html_content TEXT NOT NULL,
    recipient_filter JSON NOT NULL,
    status TEXT DEFAULT 'draft',
    job_id TEXT,
    error TEXT,
    stats JSON,
    scheduled_at TIMESTAMP,
    sent_at TIMESTAMP,
    version INTEGER DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_email_campaigns_status ON email_campaigns(status);
`

const migrationEmailSendLogs = `
CREATE TABLE IF NOT EXISTS email_send_logs (
    id TEXT PRIMARY KEY,
    campaign_id TEXT NOT NULL REFERENCES email_campaigns(id) ON DELETE CASCADE,
    member_id TEXT NOT NULL,
    email TEXT NOT NULL,
    status TEXT DEFAULT 'pending',
    error_message TEXT,
    sent_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(campaign_id, member_id)
);
CREATE INDEX IF NOT EXISTS idx_email_send_logs_campaign ON email_send_logs(campaign_id);
CREATE INDEX IF NOT EXISTS idx_email_send_logs_status ON email_send_logs(status);
`

const migrationEntryImports = `
CREATE TABLE IF NOT EXISTS entry_imports (
    id TEXT PRIMARY KEY,
    file_name TEXT NOT NULL,
    job_id TEXT,
    total_rows INTEGER DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationEntryImportRows = `
CREATE TABLE IF NOT EXISTS entry_import_rows (
    id TEXT PRIMARY KEY,
    import_id TEXT NOT NULL REFERENCES entry_imports(id) ON DELETE CASCADE,
    line_no INTEGER NOT NULL,
    fields JSON NOT NULL,
    status TEXT DEFAULT 'pending',
    error TEXT,
    UNIQUE(import_id, line_no)
);
CREATE INDEX IF NOT EXISTS idx_entry_import_rows_import ON entry_import_rows(import_id);
CREATE INDEX IF NOT EXISTS idx_entry_import_rows_status ON entry_import_rows(status);
`
