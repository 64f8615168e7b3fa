// Package importer ingests member CSV files through the job queue and
// supports retrying only the rows that failed.
package importer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/faithflow/mailroom/internal/models"
	"github.com/faithflow/mailroom/internal/queue"
	"github.com/faithflow/mailroom/internal/repository"
)

var ErrImportNotFound = errors.New("import not found")

// columns is the canonical field order rows are stored in, whatever order
// the CSV header used
var columns = []string{
	"first_name", "last_name", "email", "phone",
	"branch_id", "group_id", "unit_id", "district_id",
	"membership_status", "join_date",
}

type Importer struct {
	imports *repository.EntryImportRepository
	members *repository.MemberRepository
	queue   *queue.Queue
	logger  *slog.Logger
}

func New(imports *repository.EntryImportRepository, members *repository.MemberRepository, q *queue.Queue, logger *slog.Logger) *Importer {
	return &Importer{
		imports: imports,
		members: members,
		queue:   q,
		logger:  logger.With("component", "importer"),
	}
}

// CreateFromCSV parses a member CSV, stores its rows and enqueues the
// processing job. The first record must be a header naming the columns.
func (i *Importer) CreateFromCSV(ctx context.Context, fileName string, r io.Reader) (*models.EntryImport, *queue.Job, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	// Map CSV column positions onto the canonical order
	position := make(map[string]int)
	for idx, name := range header {
		position[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	if _, ok := position["email"]; !ok {
		return nil, nil, fmt.Errorf("CSV header must contain an email column")
	}

	var rows []models.ImportRow
	lineNo := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CSV line %d: %w", lineNo+1, err)
		}
		lineNo++

		fields := make([]string, len(columns))
		for ci, col := range columns {
			if pos, ok := position[col]; ok && pos < len(record) {
				fields[ci] = strings.TrimSpace(record[pos])
			}
		}
		rows = append(rows, models.ImportRow{LineNo: lineNo, Fields: fields})
	}

	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("CSV contains no data rows")
	}

	imp := &models.EntryImport{FileName: fileName}
	if err := i.imports.Create(imp, rows); err != nil {
		return nil, nil, err
	}

	job, err := i.queue.Enqueue(ctx, queue.TypeImportRetry, queue.ImportRetryPayload{ImportID: imp.ID}, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to enqueue import: %w", err)
	}
	if err := i.imports.SetJob(imp.ID, job.ID); err != nil {
		return nil, nil, err
	}

	i.logger.Info("import created", "import_id", imp.ID, "rows", len(rows), "job_id", job.ID)
	return imp, job, nil
}

// RetryFailed re-enqueues processing for only the rows that failed.
// Completed rows are never re-touched.
func (i *Importer) RetryFailed(ctx context.Context, importID string) (*queue.Job, error) {
	imp, err := i.imports.GetByID(importID)
	if err != nil {
		return nil, err
	}
	if imp == nil {
		return nil, ErrImportNotFound
	}

	stats, err := i.imports.Stats(importID)
	if err != nil {
		return nil, err
	}
	if stats.Failed == 0 {
		return nil, fmt.Errorf("import %s has no failed rows", importID)
	}

	job, err := i.queue.Enqueue(ctx, queue.TypeImportRetry, queue.ImportRetryPayload{ImportID: importID, OnlyFailed: true}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue retry: %w", err)
	}
	if err := i.imports.SetJob(importID, job.ID); err != nil {
		return nil, err
	}

	i.logger.Info("import retry enqueued", "import_id", importID, "failed_rows", stats.Failed, "job_id", job.ID)
	return job, nil
}

// Get returns an import with its row stats
func (i *Importer) Get(importID string) (*models.EntryImport, models.ImportStats, error) {
	imp, err := i.imports.GetByID(importID)
	if err != nil {
		return nil, models.ImportStats{}, err
	}
	if imp == nil {
		return nil, models.ImportStats{}, ErrImportNotFound
	}
	stats, err := i.imports.Stats(importID)
	return imp, stats, err
}

// Handle processes one import job: the pending rows of a fresh import, or
// only the failed rows of a retry. Row failures are isolated; one bad row
// never aborts the batch.
func (i *Importer) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.ImportRetryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("invalid import payload: %w", err)
	}

	want := models.ImportRowPending
	if payload.OnlyFailed {
		want = models.ImportRowFailed
	}

	rows, err := i.imports.RowsByStatus(payload.ImportID, want)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		job.Result = "no rows to process"
		return nil
	}

	logger := i.logger.With("import_id", payload.ImportID, "job_id", job.ID)
	logger.Info("processing import rows", "rows", len(rows), "only_failed", payload.OnlyFailed)

	completed, failed := 0, 0
	for idx, row := range rows {
		if i.queue.Cancelling(ctx, job.ID) {
			logger.Info("import cancelled", "processed", idx)
			return i.queue.MarkCancelled(ctx, job)
		}

		if err := i.processRow(row); err != nil {
			failed++
			i.imports.UpdateRowStatus(row.ID, models.ImportRowFailed, err.Error())
		} else {
			completed++
			i.imports.UpdateRowStatus(row.ID, models.ImportRowCompleted, "")
		}

		i.queue.SetProgress(ctx, job, (idx+1)*100/len(rows))
	}

	job.Result = fmt.Sprintf("%d completed, %d failed", completed, failed)
	logger.Info("import processed", "completed", completed, "failed", failed)

	if completed == 0 {
		return fmt.Errorf("all %d rows failed", len(rows))
	}
	return nil
}

func (i *Importer) processRow(row models.ImportRow) error {
	get := func(col string) string {
		for ci, name := range columns {
			if name == col && ci < len(row.Fields) {
				return row.Fields[ci]
			}
		}
		return ""
	}

	m := &models.Member{
		FirstName:        get("first_name"),
		LastName:         get("last_name"),
		Email:            get("email"),
		Phone:            get("phone"),
		BranchID:         get("branch_id"),
		GroupID:          get("group_id"),
		UnitID:           get("unit_id"),
		DistrictID:       get("district_id"),
		MembershipStatus: get("membership_status"),
	}

	if m.Email == "" {
		return fmt.Errorf("line %d: email is required", row.LineNo)
	}
	if m.FirstName == "" {
		return fmt.Errorf("line %d: first_name is required", row.LineNo)
	}
	if jd := get("join_date"); jd != "" {
		t, err := time.Parse("2006-01-02", jd)
		if err != nil {
			return fmt.Errorf("line %d: invalid join_date %q", row.LineNo, jd)
		}
		m.JoinDate = &t
	}

	return i.members.UpsertByEmail(m)
}
