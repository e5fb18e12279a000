package rbac

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/database"
)

type fakeStore struct {
	accounts    map[string]*database.Account
	subaccounts map[string]*database.Subaccount
	roles       map[string]*database.Role
	grants      map[string]map[string]bool // role -> permission set
	assigned    map[string][]string        // kind:email -> role names
	permissions map[string]bool
	failRoles   bool
}

func newFakeStore() *fakeStore {
	s := &fakeStore{
		accounts:    map[string]*database.Account{},
		subaccounts: map[string]*database.Subaccount{},
		roles:       map[string]*database.Role{},
		grants:      map[string]map[string]bool{},
		assigned:    map[string][]string{},
		permissions: map[string]bool{},
	}
	for _, r := range []struct {
		name  string
		level int
		perms []string
	}{
		{"SuperAdmin", 0, nil},
		{"Admin", 1, []string{PermUsersManageAll, PermSubusersManageAll, PermRolesManage, PermLicensesManage}},
		{"Manager", 2, []string{PermUsersRead, PermUsersManage, PermSubusersManage}},
		{"User", 3, []string{PermSubusersManage, PermMachinesRead}},
		{"Subuser", 4, []string{PermMachinesRead}},
		{"Auditor", 5, []string{PermReportsRead}},
	} {
		s.roles[r.name] = &database.Role{Name: r.name, HierarchyLevel: r.level}
		s.grants[r.name] = map[string]bool{}
		for _, p := range r.perms {
			s.grants[r.name][p] = true
			s.permissions[p] = true
		}
	}
	s.permissions[PermReportsExport] = true
	return s
}

func (s *fakeStore) addAccount(email string, roles ...string) {
	s.accounts[email] = &database.Account{Email: email, Status: database.StatusActive}
	s.assigned["account:"+email] = roles
}

func (s *fakeStore) addSubaccount(email, parent, tag string, roles ...string) {
	s.subaccounts[email] = &database.Subaccount{Email: email, ParentEmail: parent, RoleTag: tag}
	s.assigned["subaccount:"+email] = roles
}

func (s *fakeStore) GetAccountByEmail(_ context.Context, email string) (*database.Account, error) {
	return s.accounts[email], nil
}

func (s *fakeStore) GetSubaccountByEmail(_ context.Context, email string) (*database.Subaccount, error) {
	return s.subaccounts[email], nil
}

func (s *fakeStore) GetRoleByName(_ context.Context, name string) (*database.Role, error) {
	return s.roles[name], nil
}

func (s *fakeStore) RolesForPrincipal(_ context.Context, email string, kind database.PrincipalKind) ([]database.Role, error) {
	if s.failRoles {
		return nil, errors.New("connection reset")
	}
	var out []database.Role
	for _, name := range s.assigned[string(kind)+":"+email] {
		if r := s.roles[name]; r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) PermissionsForRoles(_ context.Context, names []string) ([]string, error) {
	set := map[string]bool{}
	for _, n := range names {
		for p := range s.grants[n] {
			set[p] = true
		}
	}
	var out []string
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (s *fakeStore) PermissionExists(_ context.Context, name string) (bool, error) {
	return s.permissions[name], nil
}

func (s *fakeStore) AddPermissionToRole(_ context.Context, role, perm string) (bool, error) {
	if s.grants[role][perm] {
		return false, nil
	}
	s.grants[role][perm] = true
	return true, nil
}

func (s *fakeStore) RemovePermissionFromRole(_ context.Context, role, perm string) (bool, error) {
	had := s.grants[role][perm]
	delete(s.grants[role], perm)
	return had, nil
}

func (s *fakeStore) AssignRole(_ context.Context, a database.RoleAssignment) (bool, error) {
	key := string(a.Kind) + ":" + a.PrincipalEmail
	for _, r := range s.assigned[key] {
		if r == a.RoleName {
			return false, nil
		}
	}
	s.assigned[key] = append(s.assigned[key], a.RoleName)
	return true, nil
}

func (s *fakeStore) RemoveRole(_ context.Context, email string, kind database.PrincipalKind, role string) (bool, error) {
	key := string(kind) + ":" + email
	roles := s.assigned[key]
	for i, r := range roles {
		if r == role {
			s.assigned[key] = append(roles[:i], roles[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func newTestEngine(s *fakeStore) *Engine {
	return NewEngine(s, zerolog.Nop())
}

func TestCanAssignRoleHierarchy(t *testing.T) {
	s := newFakeStore()
	s.addAccount("admin@x.com", "Admin")
	s.addAccount("root@x.com", "SuperAdmin")
	s.addAccount("mixed@x.com", "User", "Manager")
	e := newTestEngine(s)
	ctx := context.Background()

	tests := []struct {
		assigner string
		role     string
		want     bool
	}{
		{"admin@x.com", "SuperAdmin", false},
		{"admin@x.com", "Admin", false}, // equal level is lateral escalation
		{"admin@x.com", "Manager", true},
		{"admin@x.com", "User", true},
		{"admin@x.com", "NoSuchRole", false},
		{"root@x.com", "Admin", true},
		{"root@x.com", "SuperAdmin", false},
		{"mixed@x.com", "Manager", false}, // min level across roles is 2
		{"mixed@x.com", "User", true},
		{"ghost@x.com", "Subuser", false},
	}
	for _, tt := range tests {
		if got := e.CanAssignRole(ctx, tt.assigner, tt.role); got != tt.want {
			t.Errorf("CanAssignRole(%s, %s) = %v, want %v", tt.assigner, tt.role, got, tt.want)
		}
	}
}

func TestHasPermission(t *testing.T) {
	s := newFakeStore()
	s.addAccount("root@x.com", "SuperAdmin")
	s.addAccount("mgr@x.com", "Manager")
	s.addAccount("norole@x.com")
	s.addSubaccount("tagged@x.com", "mgr@x.com", "Auditor")
	s.addSubaccount("both@x.com", "mgr@x.com", "Auditor", "Subuser")
	s.addSubaccount("typo@x.com", "mgr@x.com", "superadmin")
	e := newTestEngine(s)
	ctx := context.Background()

	tests := []struct {
		name  string
		email string
		perm  string
		sub   bool
		want  bool
	}{
		{"superadmin bypasses", "root@x.com", "anything.at.all", false, true},
		{"assigned role grants", "mgr@x.com", PermUsersManage, false, true},
		{"assigned role lacks", "mgr@x.com", PermLicensesManage, false, false},
		{"roleless account is minimal", "norole@x.com", PermMachinesRead, false, true},
		{"roleless account not admin", "norole@x.com", PermUsersManageAll, false, false},
		{"literal tag grants", "tagged@x.com", PermReportsRead, true, true},
		{"tag and assigned union", "both@x.com", PermMachinesRead, true, true},
		{"tag and assigned union other", "both@x.com", PermReportsRead, true, true},
		{"misspelled tag grants nothing", "typo@x.com", PermMachinesRead, true, false},
		{"unknown principal denied", "ghost@x.com", PermMachinesRead, false, false},
		{"wrong kind denied", "mgr@x.com", PermUsersManage, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.HasPermission(ctx, tt.email, tt.perm, tt.sub); got != tt.want {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.email, tt.perm, got, tt.want)
			}
		})
	}
}

func TestHasPermissionStoreFailureDenies(t *testing.T) {
	s := newFakeStore()
	s.addAccount("root@x.com", "SuperAdmin")
	s.failRoles = true
	e := newTestEngine(s)

	if e.HasPermission(context.Background(), "root@x.com", PermUsersRead, false) {
		t.Error("Expected store failure to deny")
	}
}

func TestEffectiveRoles(t *testing.T) {
	s := newFakeStore()
	s.addAccount("norole@x.com")
	s.addAccount("mgr@x.com", "Manager", "Manager")
	s.addSubaccount("plain@x.com", "mgr@x.com", "")
	s.addSubaccount("tagged@x.com", "mgr@x.com", "Manager", "Manager", "Subuser")
	e := newTestEngine(s)
	ctx := context.Background()

	tests := []struct {
		email string
		sub   bool
		want  []string
	}{
		{"norole@x.com", false, []string{"User"}},
		{"mgr@x.com", false, []string{"Manager"}},
		{"plain@x.com", true, []string{"Subuser"}},
		{"tagged@x.com", true, []string{"Manager", "Subuser"}},
	}
	for _, tt := range tests {
		got, err := e.EffectiveRoles(ctx, tt.email, tt.sub, nil)
		if err != nil {
			t.Fatalf("EffectiveRoles(%s) error = %v", tt.email, err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("EffectiveRoles(%s) = %v, want %v", tt.email, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("EffectiveRoles(%s) = %v, want %v", tt.email, got, tt.want)
			}
		}
	}

	if _, err := e.EffectiveRoles(ctx, "ghost@x.com", false, nil); !errors.Is(err, ErrPrincipalNotFound) {
		t.Errorf("Expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestEffectiveRolesOverrideStore(t *testing.T) {
	mainStore := newFakeStore()
	mainStore.addSubaccount("sub@x.com", "owner@x.com", "Subuser")
	dedicated := newFakeStore()
	dedicated.addSubaccount("sub@x.com", "owner@x.com", "", "Manager")
	e := newTestEngine(mainStore)

	got, err := e.EffectiveRoles(context.Background(), "sub@x.com", true, dedicated)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "Manager" {
		t.Errorf("Expected dedicated store roles [Manager], got %v", got)
	}
}

func TestTenantStoreGrantsAreCapped(t *testing.T) {
	mainStore := newFakeStore()
	mainStore.addAccount("owner@x.com", "User")
	mainStore.addAccount("admin@x.com", "Admin")
	dedicated := newFakeStore()
	dedicated.addSubaccount("root@x.com", "owner@x.com", "", "SuperAdmin")
	dedicated.addSubaccount("admin@x.com", "owner@x.com", "Admin")
	dedicated.addSubaccount("sub@x.com", "owner@x.com", "")
	ctx := context.Background()
	e := newTestEngine(mainStore)

	tests := []struct {
		email     string
		wantLevel int
	}{
		{"root@x.com", TierManager.Level()},
		{"admin@x.com", TierManager.Level()},
		{"sub@x.com", TierSubuser.Level()},
	}
	for _, tt := range tests {
		g, err := e.Grants(ctx, tt.email, true, dedicated)
		if err != nil {
			t.Fatalf("Grants(%s) error = %v", tt.email, err)
		}
		if g.Bypass() {
			t.Errorf("Grants(%s) bypasses from a tenant store", tt.email)
		}
		if g.MinLevel != tt.wantLevel {
			t.Errorf("Grants(%s).MinLevel = %d, want %d", tt.email, g.MinLevel, tt.wantLevel)
		}
		for _, perm := range g.Permissions {
			if PlatformScoped(perm) {
				t.Errorf("Grants(%s) carries platform permission %s", tt.email, perm)
			}
		}
	}

	// The same role on the main store keeps its platform permissions.
	g, err := e.Grants(ctx, "admin@x.com", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !g.Has(PermUsersManageAll) || g.MinLevel != TierAdmin.Level() {
		t.Errorf("Expected main store Admin grants intact, got %+v", g)
	}

	scoped := e.WithStore(dedicated)
	if scoped.CanCreateRole(ctx, "root@x.com", TierUser.Level()) {
		t.Error("Expected tenant SuperAdmin row not to allow role creation")
	}
	if scoped.CanModifyRolePermissions(ctx, "root@x.com", "Subuser") {
		t.Error("Expected tenant SuperAdmin row not to allow permission changes")
	}
	if scoped.HasPermission(ctx, "root@x.com", PermLicensesManage, true) {
		t.Error("Expected licenses.manage to be withheld from a tenant store")
	}
}

func TestCanManage(t *testing.T) {
	s := newFakeStore()
	s.addAccount("root@x.com", "SuperAdmin")
	s.addAccount("admin@x.com", "Admin")
	s.addAccount("mgr@x.com", "Manager")
	s.addAccount("owner@x.com", "User")
	s.addAccount("other@x.com", "User")
	s.addSubaccount("sub@x.com", "owner@x.com", "")
	s.addSubaccount("lead@x.com", "owner@x.com", "", "Manager")
	s.addSubaccount("foreign@x.com", "other@x.com", "")
	e := newTestEngine(s)
	ctx := context.Background()

	tests := []struct {
		name     string
		assigner string
		target   string
		sub      bool
		want     bool
	}{
		{"parent manages own subaccount", "owner@x.com", "sub@x.com", true, true},
		{"account cannot manage foreign subaccount", "owner@x.com", "foreign@x.com", true, false},
		{"manage_all on subaccounts", "admin@x.com", "foreign@x.com", true, true},
		{"manage_all on accounts", "admin@x.com", "owner@x.com", false, true},
		{"admin cannot manage superadmin", "admin@x.com", "root@x.com", false, false},
		{"manager manages lower account", "mgr@x.com", "owner@x.com", false, true},
		{"manager cannot manage admin", "mgr@x.com", "admin@x.com", false, false},
		{"sibling manager manages subuser", "lead@x.com", "sub@x.com", true, true},
		{"subuser cannot manage sibling lead", "sub@x.com", "lead@x.com", true, false},
		{"sibling manager not across tenants", "lead@x.com", "foreign@x.com", true, false},
		{"self is not managed", "owner@x.com", "owner@x.com", false, false},
		{"unknown assigner", "ghost@x.com", "sub@x.com", true, false},
		{"unknown target", "admin@x.com", "ghost@x.com", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.CanManage(ctx, tt.assigner, tt.target, tt.sub); got != tt.want {
				t.Errorf("CanManage(%s, %s) = %v, want %v", tt.assigner, tt.target, got, tt.want)
			}
		})
	}
}

func TestCanModifyRolePermissions(t *testing.T) {
	s := newFakeStore()
	s.addAccount("admin@x.com", "Admin")
	s.addAccount("mgr@x.com", "Manager")
	e := newTestEngine(s)
	ctx := context.Background()

	if !e.CanModifyRolePermissions(ctx, "admin@x.com", "User") {
		t.Error("Expected Admin to modify User permissions")
	}
	if e.CanModifyRolePermissions(ctx, "admin@x.com", "Admin") {
		t.Error("Expected Admin not to modify its own level")
	}
	if e.CanModifyRolePermissions(ctx, "mgr@x.com", "Subuser") {
		t.Error("Expected Manager to be refused even below its level")
	}
}

func TestAssignRoleIdempotentAndGuarded(t *testing.T) {
	s := newFakeStore()
	s.addAccount("owner@x.com", "User")
	s.addAccount("admin@x.com", "Admin")
	s.addSubaccount("sub@x.com", "owner@x.com", "")
	e := newTestEngine(s)
	ctx := context.Background()

	if err := e.AssignRole(ctx, "owner@x.com", "sub@x.com", true, "Subuser"); err != nil {
		t.Fatalf("AssignRole() error = %v", err)
	}
	if err := e.AssignRole(ctx, "owner@x.com", "sub@x.com", true, "Subuser"); err != nil {
		t.Fatalf("Expected repeat AssignRole to succeed, got %v", err)
	}
	if n := len(s.assigned["subaccount:sub@x.com"]); n != 1 {
		t.Errorf("Expected one assignment, got %d", n)
	}

	err := e.AssignRole(ctx, "owner@x.com", "sub@x.com", true, "User")
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("Expected lateral assignment to be forbidden, got %v", err)
	}

	err = e.AssignRole(ctx, "owner@x.com", "sub@x.com", true, "Ghost")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("Expected unknown role to be not found, got %v", err)
	}

	if err := e.RemoveRole(ctx, "owner@x.com", "sub@x.com", true, "Subuser"); err != nil {
		t.Fatalf("RemoveRole() error = %v", err)
	}
	if err := e.RemoveRole(ctx, "owner@x.com", "sub@x.com", true, "Subuser"); err != nil {
		t.Errorf("Expected repeat RemoveRole to succeed, got %v", err)
	}
}

func TestAddPermissionToRole(t *testing.T) {
	s := newFakeStore()
	s.addAccount("admin@x.com", "Admin")
	s.addAccount("mgr@x.com", "Manager")
	e := newTestEngine(s)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := e.AddPermissionToRole(ctx, "admin@x.com", "User", PermReportsExport); err != nil {
			t.Fatalf("AddPermissionToRole() attempt %d error = %v", i, err)
		}
	}
	if !s.grants["User"][PermReportsExport] {
		t.Error("Expected grant to be stored")
	}

	if err := e.AddPermissionToRole(ctx, "mgr@x.com", "Subuser", PermReportsExport); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("Expected Manager to be forbidden, got %v", err)
	}
	if err := e.AddPermissionToRole(ctx, "admin@x.com", "User", "no.such"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("Expected unknown permission to be not found, got %v", err)
	}
}

func TestTierFlags(t *testing.T) {
	if !TierSuperAdmin.BypassAll() {
		t.Error("Expected SuperAdmin to bypass")
	}
	for _, tier := range []Tier{TierAdmin, TierManager, TierUser, TierSubuser, Tier(42)} {
		if tier.BypassAll() {
			t.Errorf("Expected %v not to bypass", tier)
		}
	}
	if _, ok := TierByName("superadmin"); ok {
		t.Error("Expected tier names to match exactly")
	}
}

func TestForTargetReadsTargetStore(t *testing.T) {
	mainStore := newFakeStore()
	mainStore.addAccount("owner@x.com", "User")
	dedicated := newFakeStore()
	dedicated.addSubaccount("sub@x.com", "owner@x.com", "")
	ctx := context.Background()

	e := newTestEngine(mainStore)
	if e.CanManage(ctx, "owner@x.com", "sub@x.com", true) {
		t.Error("Expected subaccount missing from the main store to be unmanageable")
	}

	scoped := e.ForTarget(dedicated)
	if !scoped.CanManage(ctx, "owner@x.com", "sub@x.com", true) {
		t.Error("Expected owner to manage its subaccount in the dedicated store")
	}

	if err := scoped.AssignRole(ctx, "owner@x.com", "sub@x.com", true, "Subuser"); err != nil {
		t.Fatalf("AssignRole() error = %v", err)
	}
	if got := dedicated.assigned["subaccount:sub@x.com"]; len(got) != 1 || got[0] != "Subuser" {
		t.Errorf("Expected assignment in dedicated store, got %v", got)
	}
	if got := mainStore.assigned["subaccount:sub@x.com"]; len(got) != 0 {
		t.Errorf("Expected main store untouched, got %v", got)
	}
	if e.ForTarget(nil) != e {
		t.Error("Expected ForTarget(nil) to return the same engine")
	}
}
