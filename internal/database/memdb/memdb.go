// Package memdb is an in-memory database.Store used by service and handler
// tests. It follows the Postgres repository's contract: nil, nil on unknown
// rows, row_version checks on versioned writes and idempotent grants.
package memdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"erasure-cloud/internal/database"
)

type assignmentKey struct {
	email string
	kind  database.PrincipalKind
	role  string
}

type grantKey struct {
	role string
	perm string
}

// Store holds every table in maps guarded by one mutex.
type Store struct {
	mu          sync.Mutex
	accounts    map[string]*database.Account
	subaccounts map[string]*database.Subaccount
	roles       map[string]*database.Role
	permissions map[string]*database.Permission
	grants      map[grantKey]bool
	assignments map[assignmentKey]database.RoleAssignment
	machines    map[string]*database.Machine
	reports     map[string]*database.Report
	licenses    map[string]*database.License
	devices     map[string][]database.LicenseDevice
	usage       []database.LicenseUsageLog

	healthErr error
}

var _ database.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts:    make(map[string]*database.Account),
		subaccounts: make(map[string]*database.Subaccount),
		roles:       make(map[string]*database.Role),
		permissions: make(map[string]*database.Permission),
		grants:      make(map[grantKey]bool),
		assignments: make(map[assignmentKey]database.RoleAssignment),
		machines:    make(map[string]*database.Machine),
		reports:     make(map[string]*database.Report),
		licenses:    make(map[string]*database.License),
		devices:     make(map[string][]database.LicenseDevice),
	}
}

// Seeded returns a store holding the canonical roles and grants of the
// seed migration.
func Seeded() *Store {
	s := New()
	now := time.Now().UTC()
	for i, name := range []string{"SuperAdmin", "Admin", "Manager", "User", "Subuser"} {
		s.roles[name] = &database.Role{Name: name, HierarchyLevel: i, CreatedAt: now}
	}
	for _, p := range allPermissions {
		s.permissions[p] = &database.Permission{Name: p, CreatedAt: now}
		s.grants[grantKey{"SuperAdmin", p}] = true
	}
	for role, perms := range seedGrants {
		for _, p := range perms {
			s.grants[grantKey{role, p}] = true
		}
	}
	return s
}

var allPermissions = []string{
	"users.read", "users.manage", "users.manage_all",
	"subusers.read", "subusers.manage", "subusers.manage_all",
	"machines.read", "machines.manage",
	"reports.read", "reports.manage", "reports.export",
	"licenses.read", "licenses.manage",
	"roles.manage", "system.monitor",
}

var seedGrants = map[string][]string{
	"Admin": allPermissions,
	"Manager": {
		"users.read", "users.manage", "subusers.read", "subusers.manage",
		"machines.read", "machines.manage", "reports.read", "reports.manage", "reports.export",
		"licenses.read",
	},
	"User": {
		"subusers.read", "subusers.manage", "machines.read", "machines.manage",
		"reports.read", "reports.manage", "reports.export", "licenses.read",
	},
	"Subuser": {"machines.read", "reports.read", "reports.manage"},
}

// SetHealthErr makes HealthCheck fail with err until reset with nil.
func (s *Store) SetHealthErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthErr = err
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthErr
}

// InTx runs fn directly; the in-memory store has no rollback.
func (s *Store) InTx(ctx context.Context, fn func(database.Store) error) error {
	return fn(s)
}

func match(search string, fields ...string) bool {
	if search == "" {
		return true
	}
	search = strings.ToLower(search)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}

func page[T any](rows []T, f database.ListFilter) []T {
	f.Normalize()
	if f.Offset >= len(rows) {
		return nil
	}
	end := f.Offset + f.Limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[f.Offset:end]
}

// Accounts

func (s *Store) CreateAccount(ctx context.Context, a *database.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.Email]; ok {
		return database.ErrDuplicate
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	a.RowVersion = 1
	if a.Status == "" {
		a.Status = database.StatusPending
	}
	cp := *a
	s.accounts[a.Email] = &cp
	return nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*database.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAccounts(ctx context.Context, f database.ListFilter) ([]database.Account, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []database.Account
	for _, a := range s.accounts {
		if f.Status != "" && string(a.Status) != f.Status {
			continue
		}
		if !match(f.Search, a.Email, a.Name) {
			continue
		}
		rows = append(rows, *a)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Email < rows[j].Email })
	return page(rows, f), len(rows), nil
}

func (s *Store) ListPrivateCloudAccounts(ctx context.Context) ([]database.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []database.Account
	for _, a := range s.accounts {
		if a.IsPrivateCloud {
			rows = append(rows, *a)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Email < rows[j].Email })
	return rows, nil
}

func (s *Store) versionedAccount(email string, expected int64) (*database.Account, error) {
	a, ok := s.accounts[email]
	if !ok {
		return nil, database.ErrNotFound
	}
	if a.RowVersion != expected {
		return nil, database.ErrVersionConflict
	}
	return a, nil
}

func (s *Store) bumpAccount(a *database.Account) {
	a.RowVersion++
	a.UpdatedAt = time.Now().UTC()
}

func (s *Store) UpdateAccountProfile(ctx context.Context, a *database.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.versionedAccount(a.Email, a.RowVersion)
	if err != nil {
		return err
	}
	cur.Name, cur.Department, cur.Group, cur.Phone, cur.RoleTag = a.Name, a.Department, a.Group, a.Phone, a.RoleTag
	s.bumpAccount(cur)
	a.RowVersion, a.UpdatedAt = cur.RowVersion, cur.UpdatedAt
	return nil
}

func (s *Store) UpdateAccountPassword(ctx context.Context, email, hash string, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.versionedAccount(email, expectedVersion)
	if err != nil {
		return 0, err
	}
	cur.PasswordHash = hash
	s.bumpAccount(cur)
	return cur.RowVersion, nil
}

func (s *Store) UpdateAccountStatus(ctx context.Context, email string, status database.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok {
		return database.ErrNotFound
	}
	a.Status = status
	s.bumpAccount(a)
	return nil
}

func (s *Store) SetPrivateCloud(ctx context.Context, email string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok {
		return database.ErrNotFound
	}
	a.IsPrivateCloud = enabled
	s.bumpAccount(a)
	return nil
}

func (s *Store) TouchAccountLogin(ctx context.Context, email string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[email]; ok {
		a.LastLoginAt = &at
	}
	return nil
}

func (s *Store) ReserveSubaccountSlot(ctx context.Context, email string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.versionedAccount(email, expectedVersion)
	if err != nil {
		return err
	}
	if a.SubaccountsCreated >= a.SubaccountLimit {
		return database.ErrQuotaExceeded
	}
	a.SubaccountsCreated++
	s.bumpAccount(a)
	return nil
}

func (s *Store) ReleaseSubaccountSlot(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[email]; ok {
		if a.SubaccountsCreated > 0 {
			a.SubaccountsCreated--
		}
		s.bumpAccount(a)
	}
	return nil
}

func (s *Store) AdjustLicenseAllocation(ctx context.Context, email string, delta int, expectedVersion int64) (*database.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.versionedAccount(email, expectedVersion)
	if err != nil {
		return nil, err
	}
	next := a.LicensesAllocated + delta
	if next < 0 || next > a.LicenseLimit {
		return nil, database.ErrQuotaExceeded
	}
	a.LicensesAllocated = next
	s.bumpAccount(a)
	cp := *a
	return &cp, nil
}

func (s *Store) CountAccountDependents(ctx context.Context, email string) (database.Dependents, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d database.Dependents
	for _, sub := range s.subaccounts {
		if sub.ParentEmail == email {
			d.Subaccounts++
		}
	}
	for _, m := range s.machines {
		if m.OwnerEmail == email {
			d.Machines++
		}
	}
	for _, r := range s.reports {
		if r.OwnerEmail == email {
			d.Reports++
		}
	}
	return d, nil
}

func (s *Store) TransferAccountDependents(ctx context.Context, fromEmail, toEmail string) (database.Dependents, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d database.Dependents
	for _, sub := range s.subaccounts {
		if sub.ParentEmail == fromEmail {
			sub.ParentEmail = toEmail
			d.Subaccounts++
		}
	}
	for _, m := range s.machines {
		if m.OwnerEmail == fromEmail {
			m.OwnerEmail = toEmail
			d.Machines++
		}
	}
	for _, r := range s.reports {
		if r.OwnerEmail == fromEmail {
			r.OwnerEmail = toEmail
			d.Reports++
		}
	}
	return d, nil
}

func (s *Store) SetAccountLimits(ctx context.Context, email string, subaccountLimit, licenseLimit int, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.versionedAccount(email, expectedVersion)
	if err != nil {
		return 0, err
	}
	a.SubaccountLimit, a.LicenseLimit = subaccountLimit, licenseLimit
	s.bumpAccount(a)
	return a.RowVersion, nil
}

func (s *Store) AddSubaccountsCreated(ctx context.Context, email string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[email]; ok {
		a.SubaccountsCreated += n
		s.bumpAccount(a)
	}
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[email]; !ok {
		return database.ErrNotFound
	}
	delete(s.accounts, email)
	s.dropAssignments(email, database.KindAccount)
	return nil
}

// Subaccounts

func (s *Store) CreateSubaccount(ctx context.Context, sub *database.Subaccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subaccounts[sub.Email]; ok {
		return database.ErrDuplicate
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now
	sub.RowVersion = 1
	if sub.Status == "" {
		sub.Status = database.StatusActive
	}
	cp := *sub
	s.subaccounts[sub.Email] = &cp
	return nil
}

func (s *Store) GetSubaccountByEmail(ctx context.Context, email string) (*database.Subaccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subaccounts[email]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) ListSubaccounts(ctx context.Context, f database.ListFilter) ([]database.Subaccount, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []database.Subaccount
	for _, sub := range s.subaccounts {
		if f.OwnerEmail != "" && sub.ParentEmail != f.OwnerEmail {
			continue
		}
		if f.Status != "" && string(sub.Status) != f.Status {
			continue
		}
		if !match(f.Search, sub.Email, sub.Name) {
			continue
		}
		rows = append(rows, *sub)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Email < rows[j].Email })
	return page(rows, f), len(rows), nil
}

func (s *Store) versionedSubaccount(email string, expected int64) (*database.Subaccount, error) {
	sub, ok := s.subaccounts[email]
	if !ok {
		return nil, database.ErrNotFound
	}
	if sub.RowVersion != expected {
		return nil, database.ErrVersionConflict
	}
	return sub, nil
}

func bumpSubaccount(sub *database.Subaccount) {
	sub.RowVersion++
	sub.UpdatedAt = time.Now().UTC()
}

func (s *Store) UpdateSubaccountProfile(ctx context.Context, sub *database.Subaccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.versionedSubaccount(sub.Email, sub.RowVersion)
	if err != nil {
		return err
	}
	cur.Name, cur.Department, cur.Group, cur.Phone, cur.RoleTag = sub.Name, sub.Department, sub.Group, sub.Phone, sub.RoleTag
	bumpSubaccount(cur)
	sub.RowVersion, sub.UpdatedAt = cur.RowVersion, cur.UpdatedAt
	return nil
}

func (s *Store) UpdateSubaccountPassword(ctx context.Context, email, hash string, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.versionedSubaccount(email, expectedVersion)
	if err != nil {
		return 0, err
	}
	cur.PasswordHash = hash
	bumpSubaccount(cur)
	return cur.RowVersion, nil
}

func (s *Store) UpdateSubaccountStatus(ctx context.Context, email string, status database.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subaccounts[email]
	if !ok {
		return database.ErrNotFound
	}
	sub.Status = status
	bumpSubaccount(sub)
	return nil
}

func (s *Store) SetSubaccountLicenseAllocation(ctx context.Context, email string, allocation int, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.versionedSubaccount(email, expectedVersion)
	if err != nil {
		return 0, err
	}
	cur.LicenseAllocation = allocation
	bumpSubaccount(cur)
	return cur.RowVersion, nil
}

func (s *Store) TouchSubaccountLogin(ctx context.Context, email string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subaccounts[email]; ok {
		sub.LastLoginAt = &at
		sub.LastActivityAt = &at
	}
	return nil
}

func (s *Store) DeleteSubaccount(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subaccounts[email]; !ok {
		return database.ErrNotFound
	}
	delete(s.subaccounts, email)
	s.dropAssignments(email, database.KindSubaccount)
	return nil
}

// Roles and permissions

func (s *Store) dropAssignments(email string, kind database.PrincipalKind) {
	for k := range s.assignments {
		if k.email == email && k.kind == kind {
			delete(s.assignments, k)
		}
	}
}

func sortRoles(roles []database.Role) {
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].HierarchyLevel != roles[j].HierarchyLevel {
			return roles[i].HierarchyLevel < roles[j].HierarchyLevel
		}
		return roles[i].Name < roles[j].Name
	})
}

func (s *Store) ListRoles(ctx context.Context) ([]database.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := make([]database.Role, 0, len(s.roles))
	for _, r := range s.roles {
		roles = append(roles, *r)
	}
	sortRoles(roles)
	return roles, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*database.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[name]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *Store) CreateRole(ctx context.Context, role *database.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.Name]; ok {
		return database.ErrDuplicate
	}
	role.CreatedAt = time.Now().UTC()
	cp := *role
	s.roles[role.Name] = &cp
	return nil
}

func (s *Store) RolesForPrincipal(ctx context.Context, email string, kind database.PrincipalKind) ([]database.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var roles []database.Role
	for k := range s.assignments {
		if k.email != email || k.kind != kind {
			continue
		}
		if r, ok := s.roles[k.role]; ok {
			roles = append(roles, *r)
		}
	}
	sortRoles(roles)
	return roles, nil
}

func (s *Store) PermissionsForRoles(ctx context.Context, roleNames []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	for _, role := range roleNames {
		for g := range s.grants {
			if g.role == role {
				seen[g.perm] = true
			}
		}
	}
	if len(seen) == 0 {
		return nil, nil
	}
	perms := make([]string, 0, len(seen))
	for p := range seen {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]database.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perms := make([]database.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		perms = append(perms, *p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

func (s *Store) PermissionExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.permissions[name]
	return ok, nil
}

func (s *Store) AddPermissionToRole(ctx context.Context, roleName, permissionName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := grantKey{roleName, permissionName}
	if s.grants[k] {
		return false, nil
	}
	s.grants[k] = true
	return true, nil
}

func (s *Store) RemovePermissionFromRole(ctx context.Context, roleName, permissionName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := grantKey{roleName, permissionName}
	if !s.grants[k] {
		return false, nil
	}
	delete(s.grants, k)
	return true, nil
}

func (s *Store) AssignRole(ctx context.Context, a database.RoleAssignment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := assignmentKey{a.PrincipalEmail, a.Kind, a.RoleName}
	if _, ok := s.assignments[k]; ok {
		return false, nil
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	s.assignments[k] = a
	return true, nil
}

func (s *Store) RemoveRole(ctx context.Context, email string, kind database.PrincipalKind, roleName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := assignmentKey{email, kind, roleName}
	if _, ok := s.assignments[k]; !ok {
		return false, nil
	}
	delete(s.assignments, k)
	return true, nil
}

// Machines

func (s *Store) CreateMachine(ctx context.Context, m *database.Machine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.Status == "" {
		m.Status = "online"
	}
	cp := *m
	s.machines[m.ID] = &cp
	return nil
}

func (s *Store) GetMachine(ctx context.Context, id string) (*database.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *Store) ListMachines(ctx context.Context, f database.ListFilter) ([]database.Machine, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []database.Machine
	for _, m := range s.machines {
		if f.OwnerEmail != "" && m.OwnerEmail != f.OwnerEmail {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if !match(f.Search, m.Hostname, m.SerialNumber, m.MACAddress) {
			continue
		}
		rows = append(rows, *m)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Hostname != rows[j].Hostname {
			return rows[i].Hostname < rows[j].Hostname
		}
		return rows[i].ID < rows[j].ID
	})
	return page(rows, f), len(rows), nil
}

func (s *Store) UpdateMachine(ctx context.Context, m *database.Machine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.machines[m.ID]
	if !ok {
		return database.ErrNotFound
	}
	m.OwnerEmail, m.CreatedAt = cur.OwnerEmail, cur.CreatedAt
	m.UpdatedAt = time.Now().UTC()
	cp := *m
	s.machines[m.ID] = &cp
	return nil
}

func (s *Store) DeleteMachine(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.machines[id]; !ok {
		return database.ErrNotFound
	}
	delete(s.machines, id)
	for _, r := range s.reports {
		if r.MachineID != nil && *r.MachineID == id {
			r.MachineID = nil
		}
	}
	return nil
}

// Reports

func (s *Store) CreateReport(ctx context.Context, rep *database.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	rep.CreatedAt = time.Now().UTC()
	if rep.Status == "" {
		rep.Status = "completed"
	}
	cp := *rep
	s.reports[rep.ID] = &cp
	return nil
}

func (s *Store) GetReport(ctx context.Context, id string) (*database.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListReports(ctx context.Context, f database.ListFilter) ([]database.Report, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []database.Report
	for _, r := range s.reports {
		if f.OwnerEmail != "" && r.OwnerEmail != f.OwnerEmail {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if !match(f.Search, r.DiskSerial, r.DiskModel, r.ErasureMethod) {
			continue
		}
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DiskSerial != rows[j].DiskSerial {
			return rows[i].DiskSerial < rows[j].DiskSerial
		}
		return rows[i].ID < rows[j].ID
	})
	return page(rows, f), len(rows), nil
}

func (s *Store) UpdateReport(ctx context.Context, rep *database.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reports[rep.ID]
	if !ok {
		return database.ErrNotFound
	}
	rep.OwnerEmail, rep.CreatedByEmail, rep.CreatedAt = cur.OwnerEmail, cur.CreatedByEmail, cur.CreatedAt
	cp := *rep
	s.reports[rep.ID] = &cp
	return nil
}

func (s *Store) DeleteReport(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return database.ErrNotFound
	}
	delete(s.reports, id)
	return nil
}

// Registry is a tenant registry over in-memory stores. Owners without a
// dedicated store fail to open, like an unreachable database.
type Registry struct {
	mu        sync.Mutex
	main      *Store
	dedicated map[string]*Store
	down      map[string]error
}

// NewRegistry returns a registry whose main database is main.
func NewRegistry(main *Store) *Registry {
	return &Registry{main: main, dedicated: make(map[string]*Store), down: make(map[string]error)}
}

// Main returns the shared store.
func (r *Registry) Main() database.Store {
	return r.main
}

// Dedicated returns the store registered for owner.
func (r *Registry) Dedicated(ctx context.Context, owner string) (database.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.down[owner]; err != nil {
		return nil, err
	}
	s, ok := r.dedicated[owner]
	if !ok {
		return nil, fmt.Errorf("no dedicated database for %s", owner)
	}
	return s, nil
}

// AddDedicated registers (or replaces) the dedicated store of owner.
func (r *Registry) AddDedicated(owner string, s *Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dedicated[owner] = s
}

// SetDown makes Dedicated fail for owner until reset with nil.
func (r *Registry) SetDown(owner string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.down, owner)
		return
	}
	r.down[owner] = err
}
