package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const subaccountColumns = `id, email, parent_email, name, password_hash, role_tag, department, user_group,
	phone, status, license_allocation, row_version, last_login_at, last_activity_at, created_at, updated_at`

func scanSubaccount(row pgx.Row) (*Subaccount, error) {
	var s Subaccount
	err := row.Scan(
		&s.ID, &s.Email, &s.ParentEmail, &s.Name, &s.PasswordHash, &s.RoleTag, &s.Department, &s.Group,
		&s.Phone, &s.Status, &s.LicenseAllocation, &s.RowVersion, &s.LastLoginAt, &s.LastActivityAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSubaccount inserts a subaccount row.
func (r *Repository) CreateSubaccount(ctx context.Context, s *Subaccount) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	s.RowVersion = 1
	if s.Status == "" {
		s.Status = StatusActive
	}

	query := `
	INSERT INTO subaccounts (id, email, parent_email, name, password_hash, role_tag, department, user_group,
		phone, status, license_allocation, row_version, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.q.Exec(ctx, query,
		s.ID, s.Email, s.ParentEmail, s.Name, s.PasswordHash, s.RoleTag, s.Department, s.Group,
		s.Phone, s.Status, s.LicenseAllocation, s.RowVersion, s.CreatedAt, s.UpdatedAt,
	)
	return mapWriteError(err, "failed to create subaccount")
}

// GetSubaccountByEmail returns nil, nil when the subaccount is not in this database.
func (r *Repository) GetSubaccountByEmail(ctx context.Context, email string) (*Subaccount, error) {
	query := `SELECT ` + subaccountColumns + ` FROM subaccounts WHERE email = $1`

	s, err := scanSubaccount(r.q.QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subaccount by email: %w", err)
	}
	return s, nil
}

// ListSubaccounts returns a page of subaccounts. f.OwnerEmail limits to one parent.
func (r *Repository) ListSubaccounts(ctx context.Context, f ListFilter) ([]Subaccount, int, error) {
	f.Normalize()

	var where whereBuilder
	if f.OwnerEmail != "" {
		where.add("parent_email = $%d", f.OwnerEmail)
	}
	if f.Status != "" {
		where.add("status = $%d", f.Status)
	}
	if f.Search != "" {
		where.add("(email ILIKE $%[1]d OR name ILIKE $%[1]d)", "%"+f.Search+"%")
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM subaccounts`+where.String(), where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count subaccounts: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM subaccounts%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		subaccountColumns, where.String(), where.next(), where.next()+1)
	rows, err := r.q.Query(ctx, query, append(where.args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list subaccounts: %w", err)
	}
	defer rows.Close()

	var subs []Subaccount
	for rows.Next() {
		s, err := scanSubaccount(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan subaccount: %w", err)
		}
		subs = append(subs, *s)
	}
	return subs, total, rows.Err()
}

// UpdateSubaccountProfile writes profile fields if s.RowVersion is still current.
func (r *Repository) UpdateSubaccountProfile(ctx context.Context, s *Subaccount) error {
	query := `
	UPDATE subaccounts
	SET name = $3, department = $4, user_group = $5, phone = $6, role_tag = $7,
		row_version = row_version + 1, updated_at = NOW()
	WHERE email = $1 AND row_version = $2
	RETURNING row_version, updated_at
	`
	err := r.q.QueryRow(ctx, query, s.Email, s.RowVersion, s.Name, s.Department, s.Group, s.Phone, s.RoleTag).
		Scan(&s.RowVersion, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.versionMiss(ctx, "subaccounts", "email", s.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to update subaccount: %w", err)
	}
	return nil
}

// UpdateSubaccountPassword replaces the hash if expectedVersion is still current.
func (r *Repository) UpdateSubaccountPassword(ctx context.Context, email, hash string, expectedVersion int64) (int64, error) {
	query := `
	UPDATE subaccounts SET password_hash = $3, row_version = row_version + 1, updated_at = NOW()
	WHERE email = $1 AND row_version = $2
	RETURNING row_version
	`
	var version int64
	err := r.q.QueryRow(ctx, query, email, expectedVersion, hash).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.versionMiss(ctx, "subaccounts", "email", email)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update subaccount password: %w", err)
	}
	return version, nil
}

// UpdateSubaccountStatus sets the status unconditionally.
func (r *Repository) UpdateSubaccountStatus(ctx context.Context, email string, status AccountStatus) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE subaccounts SET status = $2, row_version = row_version + 1, updated_at = NOW() WHERE email = $1`,
		email, status)
	if err != nil {
		return fmt.Errorf("failed to update subaccount status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSubaccountLicenseAllocation writes the allocation if expectedVersion is still current.
func (r *Repository) SetSubaccountLicenseAllocation(ctx context.Context, email string, allocation int, expectedVersion int64) (int64, error) {
	query := `
	UPDATE subaccounts SET license_allocation = $3, row_version = row_version + 1, updated_at = NOW()
	WHERE email = $1 AND row_version = $2
	RETURNING row_version
	`
	var version int64
	err := r.q.QueryRow(ctx, query, email, expectedVersion, allocation).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.versionMiss(ctx, "subaccounts", "email", email)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update subaccount allocation: %w", err)
	}
	return version, nil
}

// TouchSubaccountLogin records login and activity time without bumping row_version.
func (r *Repository) TouchSubaccountLogin(ctx context.Context, email string, at time.Time) error {
	_, err := r.q.Exec(ctx,
		`UPDATE subaccounts SET last_login_at = $2, last_activity_at = $2 WHERE email = $1`, email, at)
	return err
}

// DeleteSubaccount removes the subaccount and its role assignments.
func (r *Repository) DeleteSubaccount(ctx context.Context, email string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM subaccount_roles WHERE subaccount_email = $1`, email); err != nil {
		return fmt.Errorf("failed to delete subaccount roles: %w", err)
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM subaccounts WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("failed to delete subaccount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
