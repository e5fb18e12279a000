package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, email, name, password_hash, role_tag, department, user_group, phone,
	is_private_cloud, status, subaccount_limit, subaccounts_created, license_limit,
	licenses_allocated, row_version, last_login_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.RoleTag, &a.Department, &a.Group, &a.Phone,
		&a.IsPrivateCloud, &a.Status, &a.SubaccountLimit, &a.SubaccountsCreated, &a.LicenseLimit,
		&a.LicensesAllocated, &a.RowVersion, &a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account.
func (r *Repository) CreateAccount(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.RowVersion = 1
	if a.Status == "" {
		a.Status = StatusPending
	}

	query := `
	INSERT INTO accounts (id, email, name, password_hash, role_tag, department, user_group, phone,
		is_private_cloud, status, subaccount_limit, license_limit, row_version, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.q.Exec(ctx, query,
		a.ID, a.Email, a.Name, a.PasswordHash, a.RoleTag, a.Department, a.Group, a.Phone,
		a.IsPrivateCloud, a.Status, a.SubaccountLimit, a.LicenseLimit, a.RowVersion, a.CreatedAt, a.UpdatedAt,
	)
	return mapWriteError(err, "failed to create account")
}

// GetAccountByEmail returns nil, nil when no account has that email.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`

	a, err := scanAccount(r.q.QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	return a, nil
}

// ListAccounts returns a page of accounts and the total match count.
func (r *Repository) ListAccounts(ctx context.Context, f ListFilter) ([]Account, int, error) {
	f.Normalize()

	var where whereBuilder
	if f.Status != "" {
		where.add("status = $%d", f.Status)
	}
	if f.Search != "" {
		where.add("(email ILIKE $%[1]d OR name ILIKE $%[1]d)", "%"+f.Search+"%")
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`+where.String(), where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count accounts: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM accounts%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		accountColumns, where.String(), where.next(), where.next()+1)
	rows, err := r.q.Query(ctx, query, append(where.args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, total, rows.Err()
}

// ListPrivateCloudAccounts returns every account opted into a dedicated database.
func (r *Repository) ListPrivateCloudAccounts(ctx context.Context) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE is_private_cloud ORDER BY email`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list private cloud accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// UpdateAccountProfile writes profile fields if a.RowVersion is still current.
func (r *Repository) UpdateAccountProfile(ctx context.Context, a *Account) error {
	query := `
	UPDATE accounts
	SET name = $3, department = $4, user_group = $5, phone = $6, role_tag = $7,
		row_version = row_version + 1, updated_at = NOW()
	WHERE email = $1 AND row_version = $2
	RETURNING row_version, updated_at
	`
	err := r.q.QueryRow(ctx, query, a.Email, a.RowVersion, a.Name, a.Department, a.Group, a.Phone, a.RoleTag).
		Scan(&a.RowVersion, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.versionMiss(ctx, "accounts", "email", a.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// UpdateAccountPassword replaces the hash if expectedVersion is still current.
func (r *Repository) UpdateAccountPassword(ctx context.Context, email, hash string, expectedVersion int64) (int64, error) {
	query := `
	UPDATE accounts SET password_hash = $3, row_version = row_version + 1, updated_at = NOW()
	WHERE email = $1 AND row_version = $2
	RETURNING row_version
	`
	var version int64
	err := r.q.QueryRow(ctx, query, email, expectedVersion, hash).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.versionMiss(ctx, "accounts", "email", email)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update account password: %w", err)
	}
	return version, nil
}

// UpdateAccountStatus sets the status unconditionally.
func (r *Repository) UpdateAccountStatus(ctx context.Context, email string, status AccountStatus) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE accounts SET status = $2, row_version = row_version + 1, updated_at = NOW() WHERE email = $1`,
		email, status)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPrivateCloud toggles dedicated database routing for an account.
func (r *Repository) SetPrivateCloud(ctx context.Context, email string, enabled bool) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE accounts SET is_private_cloud = $2, row_version = row_version + 1, updated_at = NOW() WHERE email = $1`,
		email, enabled)
	if err != nil {
		return fmt.Errorf("failed to update private cloud flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAccountLogin records a successful login without bumping row_version.
func (r *Repository) TouchAccountLogin(ctx context.Context, email string, at time.Time) error {
	_, err := r.q.Exec(ctx, `UPDATE accounts SET last_login_at = $2 WHERE email = $1`, email, at)
	return err
}

// ReserveSubaccountSlot increments subaccounts_created when the limit allows it.
func (r *Repository) ReserveSubaccountSlot(ctx context.Context, email string, expectedVersion int64) error {
	query := `
	UPDATE accounts
	SET subaccounts_created = subaccounts_created + 1, row_version = row_version + 1, updated_at = NOW()
	WHERE email = $1 AND row_version = $2 AND subaccounts_created < subaccount_limit
	`
	tag, err := r.q.Exec(ctx, query, email, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to reserve subaccount slot: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	a, err := r.GetAccountByEmail(ctx, email)
	if err != nil {
		return err
	}
	switch {
	case a == nil:
		return ErrNotFound
	case a.RowVersion != expectedVersion:
		return ErrVersionConflict
	default:
		return ErrQuotaExceeded
	}
}

// ReleaseSubaccountSlot decrements subaccounts_created, never below zero.
func (r *Repository) ReleaseSubaccountSlot(ctx context.Context, email string) error {
	_, err := r.q.Exec(ctx, `
	UPDATE accounts
	SET subaccounts_created = GREATEST(subaccounts_created - 1, 0), row_version = row_version + 1, updated_at = NOW()
	WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("failed to release subaccount slot: %w", err)
	}
	return nil
}

// AdjustLicenseAllocation moves licenses_allocated by delta within [0, license_limit].
func (r *Repository) AdjustLicenseAllocation(ctx context.Context, email string, delta int, expectedVersion int64) (*Account, error) {
	query := `
	UPDATE accounts
	SET licenses_allocated = licenses_allocated + $3, row_version = row_version + 1, updated_at = NOW()
	WHERE email = $1 AND row_version = $2
		AND licenses_allocated + $3 >= 0 AND licenses_allocated + $3 <= license_limit
	RETURNING ` + accountColumns

	a, err := scanAccount(r.q.QueryRow(ctx, query, email, expectedVersion, delta))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to adjust license allocation: %w", err)
	}

	current, err := r.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	switch {
	case current == nil:
		return nil, ErrNotFound
	case current.RowVersion != expectedVersion:
		return nil, ErrVersionConflict
	default:
		return nil, ErrQuotaExceeded
	}
}

// CountAccountDependents counts rows that reference the account in this database.
func (r *Repository) CountAccountDependents(ctx context.Context, email string) (Dependents, error) {
	query := `
	SELECT
		(SELECT COUNT(*) FROM subaccounts WHERE parent_email = $1),
		(SELECT COUNT(*) FROM machines WHERE owner_email = $1),
		(SELECT COUNT(*) FROM reports WHERE owner_email = $1)
	`
	var d Dependents
	if err := r.q.QueryRow(ctx, query, email).Scan(&d.Subaccounts, &d.Machines, &d.Reports); err != nil {
		return d, fmt.Errorf("failed to count account dependents: %w", err)
	}
	return d, nil
}

// TransferAccountDependents reassigns subaccounts, machines and reports.
// Run it inside WithTx together with the counter update and delete.
func (r *Repository) TransferAccountDependents(ctx context.Context, fromEmail, toEmail string) (Dependents, error) {
	var d Dependents

	tag, err := r.q.Exec(ctx, `UPDATE subaccounts SET parent_email = $2, updated_at = NOW() WHERE parent_email = $1`, fromEmail, toEmail)
	if err != nil {
		return d, fmt.Errorf("failed to transfer subaccounts: %w", err)
	}
	d.Subaccounts = int(tag.RowsAffected())

	tag, err = r.q.Exec(ctx, `UPDATE machines SET owner_email = $2, updated_at = NOW() WHERE owner_email = $1`, fromEmail, toEmail)
	if err != nil {
		return d, fmt.Errorf("failed to transfer machines: %w", err)
	}
	d.Machines = int(tag.RowsAffected())

	tag, err = r.q.Exec(ctx, `UPDATE reports SET owner_email = $2 WHERE owner_email = $1`, fromEmail, toEmail)
	if err != nil {
		return d, fmt.Errorf("failed to transfer reports: %w", err)
	}
	d.Reports = int(tag.RowsAffected())

	return d, nil
}

// SetAccountLimits replaces the subaccount and license quotas if
// expectedVersion is still current.
func (r *Repository) SetAccountLimits(ctx context.Context, email string, subaccountLimit, licenseLimit int, expectedVersion int64) (int64, error) {
	query := `
	UPDATE accounts SET subaccount_limit = $3, license_limit = $4, row_version = row_version + 1, updated_at = NOW()
	WHERE email = $1 AND row_version = $2
	RETURNING row_version
	`
	var version int64
	err := r.q.QueryRow(ctx, query, email, expectedVersion, subaccountLimit, licenseLimit).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.versionMiss(ctx, "accounts", "email", email)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update account limits: %w", err)
	}
	return version, nil
}

// AddSubaccountsCreated shifts the quota counter after a transfer.
func (r *Repository) AddSubaccountsCreated(ctx context.Context, email string, n int) error {
	_, err := r.q.Exec(ctx, `
	UPDATE accounts SET subaccounts_created = subaccounts_created + $2, row_version = row_version + 1, updated_at = NOW()
	WHERE email = $1`, email, n)
	if err != nil {
		return fmt.Errorf("failed to shift subaccount counter: %w", err)
	}
	return nil
}

// DeleteAccount removes the account and its role assignments.
func (r *Repository) DeleteAccount(ctx context.Context, email string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM account_roles WHERE account_email = $1`, email); err != nil {
		return fmt.Errorf("failed to delete account roles: %w", err)
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM accounts WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
