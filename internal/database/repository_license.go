package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const licenseColumns = `id, key, status, edition, bound_hardware_id, expiry_days, server_revision,
	max_devices, owner_email, notes, revoked_reason, row_version, last_seen_at, created_at, updated_at`

func scanLicense(row pgx.Row) (*License, error) {
	var l License
	err := row.Scan(
		&l.ID, &l.Key, &l.Status, &l.Edition, &l.BoundHardwareID, &l.ExpiryDays, &l.ServerRevision,
		&l.MaxDevices, &l.OwnerEmail, &l.Notes, &l.RevokedReason, &l.RowVersion, &l.LastSeenAt,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLicense inserts a new license. CreatedAt is kept when already set.
func (r *Repository) CreateLicense(ctx context.Context, l *License) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.UpdatedAt = l.CreatedAt
	l.RowVersion = 1

	query := `
	INSERT INTO licenses (id, key, status, edition, bound_hardware_id, expiry_days, server_revision,
		max_devices, owner_email, notes, row_version, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.q.Exec(ctx, query,
		l.ID, l.Key, l.Status, l.Edition, l.BoundHardwareID, l.ExpiryDays, l.ServerRevision,
		l.MaxDevices, l.OwnerEmail, l.Notes, l.RowVersion, l.CreatedAt, l.UpdatedAt,
	)
	return mapWriteError(err, "failed to create license")
}

// GetLicenseByKey returns nil, nil for unknown keys.
func (r *Repository) GetLicenseByKey(ctx context.Context, key string) (*License, error) {
	l, err := scanLicense(r.q.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license by key: %w", err)
	}
	return l, nil
}

// ListLicenses returns a filtered page of licenses and the total match count.
func (r *Repository) ListLicenses(ctx context.Context, f LicenseFilter) ([]License, int, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var where whereBuilder
	if f.Status != "" {
		where.add("status = $%d", f.Status)
	}
	if f.Edition != "" {
		where.add("edition = $%d", f.Edition)
	}
	if f.OwnerEmail != "" {
		where.add("owner_email = $%d", f.OwnerEmail)
	}
	if f.Search != "" {
		where.add("(key ILIKE $%[1]d OR owner_email ILIKE $%[1]d OR notes ILIKE $%[1]d)", "%"+f.Search+"%")
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM licenses`+where.String(), where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count licenses: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM licenses%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		licenseColumns, where.String(), where.next(), where.next()+1)
	rows, err := r.q.Query(ctx, query, append(where.args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, *l)
	}
	return licenses, total, rows.Err()
}

// UpdateLicense persists lifecycle fields if l.RowVersion is still current.
func (r *Repository) UpdateLicense(ctx context.Context, l *License) error {
	query := `
	UPDATE licenses
	SET status = $3, edition = $4, bound_hardware_id = $5, expiry_days = $6, server_revision = $7,
		max_devices = $8, owner_email = $9, notes = $10, revoked_reason = $11, last_seen_at = $12,
		row_version = row_version + 1, updated_at = NOW()
	WHERE key = $1 AND row_version = $2
	RETURNING row_version, updated_at
	`
	err := r.q.QueryRow(ctx, query,
		l.Key, l.RowVersion, l.Status, l.Edition, l.BoundHardwareID, l.ExpiryDays, l.ServerRevision,
		l.MaxDevices, l.OwnerEmail, l.Notes, l.RevokedReason, l.LastSeenAt,
	).Scan(&l.RowVersion, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.versionMiss(ctx, "licenses", "key", l.Key)
	}
	if err != nil {
		return fmt.Errorf("failed to update license: %w", err)
	}
	return nil
}

// TouchLicense updates last_seen_at only. It does not take part in optimistic locking.
func (r *Repository) TouchLicense(ctx context.Context, key string, at time.Time) error {
	_, err := r.q.Exec(ctx, `UPDATE licenses SET last_seen_at = $2 WHERE key = $1`, key, at)
	if err != nil {
		return fmt.Errorf("failed to touch license: %w", err)
	}
	return nil
}

// DeleteLicense hard-deletes a license and its devices. Usage logs are kept.
func (r *Repository) DeleteLicense(ctx context.Context, key string) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM licenses WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete license: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListOverdueLicenses returns ACTIVE licenses whose expiry is at or before now.
func (r *Repository) ListOverdueLicenses(ctx context.Context, now time.Time) ([]License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses
	WHERE status = 'ACTIVE' AND created_at + expiry_days * INTERVAL '1 day' <= $1
	ORDER BY created_at`

	rows, err := r.q.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue licenses: %w", err)
	}
	defer rows.Close()

	var licenses []License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, *l)
	}
	return licenses, rows.Err()
}

// ListLicenseDevices returns every device registered under a license.
func (r *Repository) ListLicenseDevices(ctx context.Context, licenseID string) ([]LicenseDevice, error) {
	rows, err := r.q.Query(ctx, `
	SELECT id, license_id, hardware_hash, machine_name, os, metadata, is_active, first_seen_at, last_seen_at
	FROM license_devices WHERE license_id = $1 ORDER BY first_seen_at`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list license devices: %w", err)
	}
	defer rows.Close()

	var devices []LicenseDevice
	for rows.Next() {
		var d LicenseDevice
		if err := rows.Scan(&d.ID, &d.LicenseID, &d.HardwareHash, &d.MachineName, &d.OS, &d.Metadata,
			&d.IsActive, &d.FirstSeenAt, &d.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan license device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpsertLicenseDevice registers a device or refreshes an existing one.
func (r *Repository) UpsertLicenseDevice(ctx context.Context, d *LicenseDevice) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Metadata == nil {
		d.Metadata = map[string]string{}
	}
	query := `
	INSERT INTO license_devices (id, license_id, hardware_hash, machine_name, os, metadata, is_active, first_seen_at, last_seen_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	ON CONFLICT (license_id, hardware_hash) DO UPDATE
	SET machine_name = EXCLUDED.machine_name, os = EXCLUDED.os, metadata = EXCLUDED.metadata,
		is_active = EXCLUDED.is_active, last_seen_at = EXCLUDED.last_seen_at
	RETURNING id, first_seen_at, last_seen_at
	`
	err := r.q.QueryRow(ctx, query,
		d.ID, d.LicenseID, d.HardwareHash, d.MachineName, d.OS, d.Metadata, d.IsActive, d.LastSeenAt,
	).Scan(&d.ID, &d.FirstSeenAt, &d.LastSeenAt)
	if err != nil {
		return fmt.Errorf("failed to upsert license device: %w", err)
	}
	return nil
}

// SetLicenseDeviceActive flips the remote deactivation flag.
func (r *Repository) SetLicenseDeviceActive(ctx context.Context, licenseID, deviceID string, active bool) (bool, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE license_devices SET is_active = $3 WHERE license_id = $1 AND id = $2`, licenseID, deviceID, active)
	if err != nil {
		return false, fmt.Errorf("failed to update license device: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeactivateLicenseDevices marks every device of a license inactive.
func (r *Repository) DeactivateLicenseDevices(ctx context.Context, licenseID string) error {
	_, err := r.q.Exec(ctx, `UPDATE license_devices SET is_active = FALSE WHERE license_id = $1`, licenseID)
	if err != nil {
		return fmt.Errorf("failed to deactivate license devices: %w", err)
	}
	return nil
}

// LogLicenseUsage appends an audit entry.
func (r *Repository) LogLicenseUsage(ctx context.Context, log *LicenseUsageLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO license_usage_logs (id, license_key, action, old_edition, new_edition, old_expiry_days,
		new_expiry_days, ip, user_agent, message, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.q.Exec(ctx, query,
		log.ID, log.LicenseKey, log.Action, log.OldEdition, log.NewEdition, log.OldExpiryDays,
		log.NewExpiryDays, log.IP, log.UserAgent, log.Message, log.CreatedAt,
	)
	return err
}

// ListLicenseUsageLogs returns the newest audit entries for a key.
func (r *Repository) ListLicenseUsageLogs(ctx context.Context, key string, limit int) ([]LicenseUsageLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `
	SELECT id, license_key, action, old_edition, new_edition, old_expiry_days, new_expiry_days,
		ip, user_agent, message, created_at
	FROM license_usage_logs WHERE license_key = $1
	ORDER BY created_at DESC LIMIT $2`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list license usage logs: %w", err)
	}
	defer rows.Close()

	var logs []LicenseUsageLog
	for rows.Next() {
		var l LicenseUsageLog
		if err := rows.Scan(&l.ID, &l.LicenseKey, &l.Action, &l.OldEdition, &l.NewEdition, &l.OldExpiryDays,
			&l.NewExpiryDays, &l.IP, &l.UserAgent, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// GetLicenseStats counts licenses by status and edition.
func (r *Repository) GetLicenseStats(ctx context.Context) (*LicenseStats, error) {
	stats := &LicenseStats{
		ByStatus:  make(map[string]int),
		ByEdition: make(map[string]int),
	}

	rows, err := r.q.Query(ctx, `SELECT status, edition, COUNT(*), COUNT(bound_hardware_id) FROM licenses GROUP BY status, edition`)
	if err != nil {
		return nil, fmt.Errorf("failed to get license stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, edition string
		var count, bound int
		if err := rows.Scan(&status, &edition, &count, &bound); err != nil {
			return nil, fmt.Errorf("failed to scan license stats: %w", err)
		}
		stats.Total += count
		stats.Bound += bound
		stats.ByStatus[status] += count
		stats.ByEdition[edition] += count
	}
	return stats, rows.Err()
}
