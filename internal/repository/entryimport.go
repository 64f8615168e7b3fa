package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/faithflow/mailroom/internal/models"
)

type EntryImportRepository struct {
	db *sql.DB
}

func NewEntryImportRepository(db *sql.DB) *EntryImportRepository {
	return &EntryImportRepository{db: db}
}

// Create stores an import batch and its rows in one transaction
func (r *EntryImportRepository) Create(imp *models.EntryImport, rows []models.ImportRow) error {
	imp.ID = uuid.New().String()
	imp.TotalRows = len(rows)
	imp.CreatedAt = time.Now()
	imp.UpdatedAt = imp.CreatedAt

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO entry_imports (id, file_name, total_rows, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		imp.ID, imp.FileName, imp.TotalRows, imp.CreatedAt, imp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO entry_import_rows (id, import_id, line_no, fields, status)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range rows {
		rows[i].ID = uuid.New().String()
		rows[i].ImportID = imp.ID
		rows[i].Status = models.ImportRowPending

		fieldsJSON, err := json.Marshal(rows[i].Fields)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(rows[i].ID, imp.ID, rows[i].LineNo, string(fieldsJSON), rows[i].Status); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetByID returns an import batch, or nil if it does not exist
func (r *EntryImportRepository) GetByID(id string) (*models.EntryImport, error) {
	imp := &models.EntryImport{}
	var jobID sql.NullString

	err := r.db.QueryRow(`
		SELECT id, file_name, job_id, total_rows, created_at, updated_at
		FROM entry_imports WHERE id = ?`, id,
	).Scan(&imp.ID, &imp.FileName, &jobID, &imp.TotalRows, &imp.CreatedAt, &imp.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if jobID.Valid {
		imp.JobID = jobID.String
	}
	return imp, nil
}

// SetJob records the processing job owning the import
func (r *EntryImportRepository) SetJob(id, jobID string) error {
	_, err := r.db.Exec("UPDATE entry_imports SET job_id = ?, updated_at = ? WHERE id = ?",
		jobID, time.Now(), id)
	return err
}

// RowsByStatus returns rows of one import in line order, filtered by status.
// An empty status returns all rows.
func (r *EntryImportRepository) RowsByStatus(importID string, status models.ImportRowStatus) ([]models.ImportRow, error) {
	query := `
		SELECT id, import_id, line_no, fields, status, COALESCE(error, '')
		FROM entry_import_rows WHERE import_id = ?`
	args := []any{importID}

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY line_no"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.ImportRow{}
	for rows.Next() {
		var row models.ImportRow
		var fieldsJSON string

		if err := rows.Scan(&row.ID, &row.ImportID, &row.LineNo, &fieldsJSON, &row.Status, &row.Error); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &row.Fields); err != nil {
			return nil, fmt.Errorf("failed to parse row fields: %w", err)
		}
		result = append(result, row)
	}

	return result, nil
}

// UpdateRowStatus records the processing outcome of one row
func (r *EntryImportRepository) UpdateRowStatus(id string, status models.ImportRowStatus, errMsg string) error {
	_, err := r.db.Exec("UPDATE entry_import_rows SET status = ?, error = ? WHERE id = ?",
		status, errMsg, id)
	return err
}

// Stats returns per-import row counts by scanning the rows
func (r *EntryImportRepository) Stats(importID string) (models.ImportStats, error) {
	var stats models.ImportStats

	err := r.db.QueryRow(`
		SELECT
			COUNT(*) as total,
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END) as pending,
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) as completed,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) as failed
		FROM entry_import_rows WHERE import_id = ?`, importID,
	).Scan(&stats.Total, &nullInt{&stats.Pending}, &nullInt{&stats.Completed}, &nullInt{&stats.Failed})

	return stats, err
}
