package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/faithflow/mailroom/internal/models"
)

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create creates a new email template
func (r *TemplateRepository) Create(t *models.EmailTemplate) error {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO email_templates (id, name, subject, html_content, category, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Subject, t.HTMLContent, t.Category, t.Active, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetByID returns a template by ID, or nil if it does not exist
func (r *TemplateRepository) GetByID(id string) (*models.EmailTemplate, error) {
	t := &models.EmailTemplate{}
	var category sql.NullString

	err := r.db.QueryRow(`
		SELECT id, name, subject, html_content, category, active, created_at, updated_at
		FROM email_templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Subject, &t.HTMLContent, &category, &t.Active, &t.CreatedAt, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if category.Valid {
		t.Category = category.String
	}
	return t, nil
}

// List returns templates, active ones first
func (r *TemplateRepository) List(activeOnly bool) ([]models.EmailTemplate, error) {
	query := `
		SELECT id, name, subject, html_content, category, active, created_at, updated_at
		FROM email_templates`
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY active DESC, name"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []models.EmailTemplate{}
	for rows.Next() {
		var t models.EmailTemplate
		var category sql.NullString

		if err := rows.Scan(&t.ID, &t.Name, &t.Subject, &t.HTMLContent, &category, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if category.Valid {
			t.Category = category.String
		}
		templates = append(templates, t)
	}

	return templates, nil
}

// Update updates a template. Campaigns keep their own content snapshot, so
// editing here never rewrites sent history.
func (r *TemplateRepository) Update(t *models.EmailTemplate) error {
	t.UpdatedAt = time.Now()
	_, err := r.db.Exec(`
		UPDATE email_templates SET name = ?, subject = ?, html_content = ?, category = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Subject, t.HTMLContent, t.Category, t.Active, t.UpdatedAt, t.ID,
	)
	return err
}

// Delete deletes a template
func (r *TemplateRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM email_templates WHERE id = ?", id)
	return err
}
