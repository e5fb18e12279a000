package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const reportColumns = `id, owner_email, machine_id, created_by_email, erasure_method, disk_serial, disk_model,
	disk_size_bytes, status, started_at, finished_at, notes, created_at`

func scanReport(row pgx.Row) (*Report, error) {
	var rep Report
	err := row.Scan(&rep.ID, &rep.OwnerEmail, &rep.MachineID, &rep.CreatedByEmail, &rep.ErasureMethod,
		&rep.DiskSerial, &rep.DiskModel, &rep.DiskSizeBytes, &rep.Status, &rep.StartedAt, &rep.FinishedAt,
		&rep.Notes, &rep.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// CreateReport inserts an erasure report.
func (r *Repository) CreateReport(ctx context.Context, rep *Report) error {
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	rep.CreatedAt = time.Now().UTC()
	if rep.Status == "" {
		rep.Status = "completed"
	}

	query := `
	INSERT INTO reports (id, owner_email, machine_id, created_by_email, erasure_method, disk_serial, disk_model,
		disk_size_bytes, status, started_at, finished_at, notes, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.q.Exec(ctx, query, rep.ID, rep.OwnerEmail, rep.MachineID, rep.CreatedByEmail, rep.ErasureMethod,
		rep.DiskSerial, rep.DiskModel, rep.DiskSizeBytes, rep.Status, rep.StartedAt, rep.FinishedAt, rep.Notes,
		rep.CreatedAt)
	return mapWriteError(err, "failed to create report")
}

// GetReport returns nil, nil for unknown ids.
func (r *Repository) GetReport(ctx context.Context, id string) (*Report, error) {
	rep, err := scanReport(r.q.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return rep, nil
}

// ListReports returns a filtered page of reports.
func (r *Repository) ListReports(ctx context.Context, f ListFilter) ([]Report, int, error) {
	f.Normalize()

	var where whereBuilder
	if f.OwnerEmail != "" {
		where.add("owner_email = $%d", f.OwnerEmail)
	}
	if f.Status != "" {
		where.add("status = $%d", f.Status)
	}
	if f.Search != "" {
		where.add("(disk_serial ILIKE $%[1]d OR disk_model ILIKE $%[1]d OR erasure_method ILIKE $%[1]d)", "%"+f.Search+"%")
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM reports`+where.String(), where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reports: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM reports%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		reportColumns, where.String(), where.next(), where.next()+1)
	rows, err := r.q.Query(ctx, query, append(where.args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, *rep)
	}
	return reports, total, rows.Err()
}

// UpdateReport writes the mutable report fields.
func (r *Repository) UpdateReport(ctx context.Context, rep *Report) error {
	tag, err := r.q.Exec(ctx, `
	UPDATE reports
	SET machine_id = $2, erasure_method = $3, disk_serial = $4, disk_model = $5, disk_size_bytes = $6,
		status = $7, started_at = $8, finished_at = $9, notes = $10
	WHERE id = $1`,
		rep.ID, rep.MachineID, rep.ErasureMethod, rep.DiskSerial, rep.DiskModel, rep.DiskSizeBytes,
		rep.Status, rep.StartedAt, rep.FinishedAt, rep.Notes)
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReport removes a report.
func (r *Repository) DeleteReport(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
