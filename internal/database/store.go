package database

import (
	"context"
	"time"
)

// Store is the tenant-scoped data surface request handlers work against.
// Both the main and the dedicated databases serve it through *Repository.
type Store interface {
	HealthCheck(ctx context.Context) error
	// InTx runs fn against a transactional view of the store.
	InTx(ctx context.Context, fn func(Store) error) error

	CreateAccount(ctx context.Context, a *Account) error
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	ListAccounts(ctx context.Context, f ListFilter) ([]Account, int, error)
	ListPrivateCloudAccounts(ctx context.Context) ([]Account, error)
	UpdateAccountProfile(ctx context.Context, a *Account) error
	UpdateAccountPassword(ctx context.Context, email, hash string, expectedVersion int64) (int64, error)
	UpdateAccountStatus(ctx context.Context, email string, status AccountStatus) error
	SetPrivateCloud(ctx context.Context, email string, enabled bool) error
	TouchAccountLogin(ctx context.Context, email string, at time.Time) error
	ReserveSubaccountSlot(ctx context.Context, email string, expectedVersion int64) error
	ReleaseSubaccountSlot(ctx context.Context, email string) error
	AdjustLicenseAllocation(ctx context.Context, email string, delta int, expectedVersion int64) (*Account, error)
	CountAccountDependents(ctx context.Context, email string) (Dependents, error)
	TransferAccountDependents(ctx context.Context, fromEmail, toEmail string) (Dependents, error)
	SetAccountLimits(ctx context.Context, email string, subaccountLimit, licenseLimit int, expectedVersion int64) (int64, error)
	AddSubaccountsCreated(ctx context.Context, email string, n int) error
	DeleteAccount(ctx context.Context, email string) error

	CreateSubaccount(ctx context.Context, s *Subaccount) error
	GetSubaccountByEmail(ctx context.Context, email string) (*Subaccount, error)
	ListSubaccounts(ctx context.Context, f ListFilter) ([]Subaccount, int, error)
	UpdateSubaccountProfile(ctx context.Context, s *Subaccount) error
	UpdateSubaccountPassword(ctx context.Context, email, hash string, expectedVersion int64) (int64, error)
	UpdateSubaccountStatus(ctx context.Context, email string, status AccountStatus) error
	SetSubaccountLicenseAllocation(ctx context.Context, email string, allocation int, expectedVersion int64) (int64, error)
	TouchSubaccountLogin(ctx context.Context, email string, at time.Time) error
	DeleteSubaccount(ctx context.Context, email string) error

	ListRoles(ctx context.Context) ([]Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	CreateRole(ctx context.Context, role *Role) error
	RolesForPrincipal(ctx context.Context, email string, kind PrincipalKind) ([]Role, error)
	PermissionsForRoles(ctx context.Context, roleNames []string) ([]string, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	PermissionExists(ctx context.Context, name string) (bool, error)
	AddPermissionToRole(ctx context.Context, roleName, permissionName string) (bool, error)
	RemovePermissionFromRole(ctx context.Context, roleName, permissionName string) (bool, error)
	AssignRole(ctx context.Context, a RoleAssignment) (bool, error)
	RemoveRole(ctx context.Context, email string, kind PrincipalKind, roleName string) (bool, error)

	CreateMachine(ctx context.Context, m *Machine) error
	GetMachine(ctx context.Context, id string) (*Machine, error)
	ListMachines(ctx context.Context, f ListFilter) ([]Machine, int, error)
	UpdateMachine(ctx context.Context, m *Machine) error
	DeleteMachine(ctx context.Context, id string) error

	CreateReport(ctx context.Context, rep *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	ListReports(ctx context.Context, f ListFilter) ([]Report, int, error)
	UpdateReport(ctx context.Context, rep *Report) error
	DeleteReport(ctx context.Context, id string) error
}

var _ Store = (*Repository)(nil)

// InTx adapts WithTx to the Store interface.
func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	return r.WithTx(ctx, func(tx *Repository) error { return fn(tx) })
}
