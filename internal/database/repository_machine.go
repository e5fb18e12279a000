package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const machineColumns = `id, owner_email, subaccount_email, hostname, serial_number, manufacturer, model,
	os_version, mac_address, status, last_seen_at, created_at, updated_at`

func scanMachine(row pgx.Row) (*Machine, error) {
	var m Machine
	err := row.Scan(&m.ID, &m.OwnerEmail, &m.SubaccountEmail, &m.Hostname, &m.SerialNumber, &m.Manufacturer,
		&m.Model, &m.OSVersion, &m.MACAddress, &m.Status, &m.LastSeenAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMachine inserts a machine.
func (r *Repository) CreateMachine(ctx context.Context, m *Machine) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = "online"
	}

	query := `
	INSERT INTO machines (id, owner_email, subaccount_email, hostname, serial_number, manufacturer, model,
		os_version, mac_address, status, last_seen_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.q.Exec(ctx, query, m.ID, m.OwnerEmail, m.SubaccountEmail, m.Hostname, m.SerialNumber,
		m.Manufacturer, m.Model, m.OSVersion, m.MACAddress, m.Status, m.LastSeenAt, m.CreatedAt, m.UpdatedAt)
	return mapWriteError(err, "failed to create machine")
}

// GetMachine returns nil, nil for unknown ids.
func (r *Repository) GetMachine(ctx context.Context, id string) (*Machine, error) {
	m, err := scanMachine(r.q.QueryRow(ctx, `SELECT `+machineColumns+` FROM machines WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get machine: %w", err)
	}
	return m, nil
}

// ListMachines returns a filtered page of machines.
func (r *Repository) ListMachines(ctx context.Context, f ListFilter) ([]Machine, int, error) {
	f.Normalize()

	var where whereBuilder
	if f.OwnerEmail != "" {
		where.add("owner_email = $%d", f.OwnerEmail)
	}
	if f.Status != "" {
		where.add("status = $%d", f.Status)
	}
	if f.Search != "" {
		where.add("(hostname ILIKE $%[1]d OR serial_number ILIKE $%[1]d OR mac_address ILIKE $%[1]d)", "%"+f.Search+"%")
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM machines`+where.String(), where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count machines: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM machines%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		machineColumns, where.String(), where.next(), where.next()+1)
	rows, err := r.q.Query(ctx, query, append(where.args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list machines: %w", err)
	}
	defer rows.Close()

	var machines []Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan machine: %w", err)
		}
		machines = append(machines, *m)
	}
	return machines, total, rows.Err()
}

// UpdateMachine writes the mutable machine fields.
func (r *Repository) UpdateMachine(ctx context.Context, m *Machine) error {
	query := `
	UPDATE machines
	SET subaccount_email = $2, hostname = $3, serial_number = $4, manufacturer = $5, model = $6,
		os_version = $7, mac_address = $8, status = $9, last_seen_at = $10, updated_at = NOW()
	WHERE id = $1
	RETURNING updated_at
	`
	err := r.q.QueryRow(ctx, query, m.ID, m.SubaccountEmail, m.Hostname, m.SerialNumber, m.Manufacturer,
		m.Model, m.OSVersion, m.MACAddress, m.Status, m.LastSeenAt).Scan(&m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update machine: %w", err)
	}
	return nil
}

// DeleteMachine removes a machine; reports keep a NULL machine reference.
func (r *Repository) DeleteMachine(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM machines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete machine: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
