// Package rbac decides what an authenticated principal may do: effective
// roles, permission checks, manage-ability between principals and
// escalation-free role assignment.
package rbac

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/database"
)

// ErrPrincipalNotFound is returned when an email resolves to no account or subaccount.
var ErrPrincipalNotFound = errors.New("principal not found")

// Store is the role/permission graph and credential lookup the engine reads.
// *database.Repository implements it for both the main and dedicated databases.
type Store interface {
	GetAccountByEmail(ctx context.Context, email string) (*database.Account, error)
	GetSubaccountByEmail(ctx context.Context, email string) (*database.Subaccount, error)
	GetRoleByName(ctx context.Context, name string) (*database.Role, error)
	RolesForPrincipal(ctx context.Context, email string, kind database.PrincipalKind) ([]database.Role, error)
	PermissionsForRoles(ctx context.Context, roleNames []string) ([]string, error)
	PermissionExists(ctx context.Context, name string) (bool, error)
	AddPermissionToRole(ctx context.Context, roleName, permissionName string) (bool, error)
	RemovePermissionFromRole(ctx context.Context, roleName, permissionName string) (bool, error)
	AssignRole(ctx context.Context, a database.RoleAssignment) (bool, error)
	RemoveRole(ctx context.Context, email string, kind database.PrincipalKind, roleName string) (bool, error)
}

// Grants is the resolved authorization state of one principal.
type Grants struct {
	Email       string                 `json:"email"`
	Kind        database.PrincipalKind `json:"kind"`
	ParentEmail string                 `json:"parent_email,omitempty"`
	Roles       []string               `json:"roles"`
	Permissions []string               `json:"permissions"`
	Tier        Tier                   `json:"tier_level"`
	TierName    string                 `json:"tier"`
	// MinLevel is the most privileged hierarchy level held; HasLevel is false
	// when no held role has a known level.
	MinLevel int  `json:"min_level"`
	HasLevel bool `json:"has_level"`
}

// Bypass reports whether the principal passes every permission check.
func (g *Grants) Bypass() bool {
	return g.HasLevel && g.Tier.BypassAll()
}

// Has reports whether the grants include perm.
func (g *Grants) Has(perm string) bool {
	if g.Bypass() {
		return true
	}
	for _, p := range g.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Engine evaluates authorization decisions against a Store.
//
// Any store other than the one the engine was created with is a tenant
// database. Grants read from a tenant database are capped at the Manager
// tier and never include platform-scoped permissions.
type Engine struct {
	// root is the main database, the only source of platform privileges.
	root  Store
	store Store
	// target holds the principals being managed when they live elsewhere,
	// e.g. subaccounts in a dedicated database. Nil means store.
	target Store
	logger zerolog.Logger
}

// NewEngine creates an engine over the main store.
func NewEngine(store Store, logger zerolog.Logger) *Engine {
	return &Engine{
		root:   store,
		store:  store,
		logger: logger.With().Str("component", "rbac").Logger(),
	}
}

// WithStore returns an engine bound to another store, typically a dedicated tenant database.
func (e *Engine) WithStore(store Store) *Engine {
	if store == nil {
		return e
	}
	return &Engine{root: e.root, store: store, target: e.target, logger: e.logger}
}

// ForTarget returns an engine that looks up and writes managed principals
// in store while the acting principal is still read from the engine's own.
func (e *Engine) ForTarget(store Store) *Engine {
	if store == nil {
		return e
	}
	return &Engine{root: e.root, store: e.store, target: store, logger: e.logger}
}

func (e *Engine) targetStore() Store {
	if e.target != nil {
		return e.target
	}
	return e.store
}

type principalRecord struct {
	kind        database.PrincipalKind
	email       string
	parentEmail string
	roleTag     string
}

func (e *Engine) lookup(ctx context.Context, store Store, email string, isSubaccount bool) (*principalRecord, error) {
	if isSubaccount {
		sub, err := store.GetSubaccountByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			return nil, ErrPrincipalNotFound
		}
		return &principalRecord{
			kind:        database.KindSubaccount,
			email:       sub.Email,
			parentEmail: sub.ParentEmail,
			roleTag:     sub.RoleTag,
		}, nil
	}

	acc, err := store.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrPrincipalNotFound
	}
	return &principalRecord{kind: database.KindAccount, email: acc.Email, roleTag: acc.RoleTag}, nil
}

// locate finds a principal whose kind is not known up front, accounts first.
func (e *Engine) locate(ctx context.Context, store Store, email string) (*principalRecord, error) {
	p, err := e.lookup(ctx, store, email, false)
	if err == nil || !errors.Is(err, ErrPrincipalNotFound) {
		return p, err
	}
	return e.lookup(ctx, store, email, true)
}

// roleLevel resolves a role name to its hierarchy level. Names that match
// neither a stored role nor a canonical tier carry no level.
func (e *Engine) roleLevel(ctx context.Context, store Store, name string) (int, bool, error) {
	role, err := store.GetRoleByName(ctx, name)
	if err != nil {
		return 0, false, err
	}
	if role != nil {
		return role.HierarchyLevel, true, nil
	}
	if t, ok := TierByName(name); ok {
		return t.Level(), true, nil
	}
	return 0, false, nil
}

// tenantLevelFloor is the most privileged level a tenant database can grant.
var tenantLevelFloor = TierManager.Level()

func (e *Engine) grantsFor(ctx context.Context, store Store, p *principalRecord) (*Grants, error) {
	g := &Grants{Email: p.email, Kind: p.kind, ParentEmail: p.parentEmail}
	tenant := store != e.root

	assigned, err := store.RolesForPrincipal(ctx, p.email, p.kind)
	if err != nil {
		return nil, err
	}

	levels := make(map[string]int, len(assigned)+1)
	seen := make(map[string]bool, len(assigned)+1)
	for _, r := range assigned {
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		g.Roles = append(g.Roles, r.Name)
		levels[r.Name] = r.HierarchyLevel
	}

	if tag := strings.TrimSpace(p.roleTag); tag != "" && !seen[tag] {
		seen[tag] = true
		g.Roles = append(g.Roles, tag)
		level, ok, err := e.roleLevel(ctx, store, tag)
		if err != nil {
			return nil, err
		}
		if ok {
			levels[tag] = level
		}
	}

	// Principals with no roles at all get the minimal tier of their kind.
	if len(g.Roles) == 0 {
		def := TierUser
		if p.kind == database.KindSubaccount {
			def = TierSubuser
		}
		g.Roles = []string{def.Name()}
		level, ok, err := e.roleLevel(ctx, store, def.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			levels[def.Name()] = level
		}
	}

	for name, level := range levels {
		if tenant && level < tenantLevelFloor {
			level = tenantLevelFloor
			levels[name] = level
		}
		if !g.HasLevel || level < g.MinLevel {
			g.MinLevel = level
			g.HasLevel = true
		}
	}
	if g.HasLevel {
		if t, ok := TierForLevel(g.MinLevel); ok {
			g.Tier = t
		} else {
			g.Tier = TierSubuser
		}
		g.TierName = g.Tier.Name()
	}

	sort.SliceStable(g.Roles, func(i, j int) bool {
		li, iok := levels[g.Roles[i]]
		lj, jok := levels[g.Roles[j]]
		if iok != jok {
			return iok
		}
		return li < lj
	})

	if !g.Bypass() {
		perms, err := store.PermissionsForRoles(ctx, g.Roles)
		if err != nil {
			return nil, err
		}
		if tenant {
			kept := make([]string, 0, len(perms))
			for _, perm := range perms {
				if !PlatformScoped(perm) {
					kept = append(kept, perm)
				}
			}
			perms = kept
		}
		g.Permissions = perms
	}
	return g, nil
}

func (e *Engine) storeOr(override Store) Store {
	if override != nil {
		return override
	}
	return e.store
}

// Grants resolves the full authorization state of a principal. A non-nil
// override evaluates against that store instead of the engine's own.
func (e *Engine) Grants(ctx context.Context, email string, isSubaccount bool, override Store) (*Grants, error) {
	store := e.storeOr(override)
	p, err := e.lookup(ctx, store, email, isSubaccount)
	if err != nil {
		return nil, err
	}
	return e.grantsFor(ctx, store, p)
}

// EffectiveRoles returns the de-duplicated union of assigned roles and the
// principal's literal role tag, most privileged first.
func (e *Engine) EffectiveRoles(ctx context.Context, email string, isSubaccount bool, override Store) ([]string, error) {
	g, err := e.Grants(ctx, email, isSubaccount, override)
	if err != nil {
		return nil, err
	}
	return g.Roles, nil
}

// HasPermission never returns an error: unresolvable principals are denied.
func (e *Engine) HasPermission(ctx context.Context, email, permission string, isSubaccount bool) bool {
	return e.hasPermission(ctx, e.store, email, permission, isSubaccount)
}

func (e *Engine) hasPermission(ctx context.Context, store Store, email, permission string, isSubaccount bool) bool {
	p, err := e.lookup(ctx, store, email, isSubaccount)
	if err != nil {
		e.logDenial(email, permission, err)
		return false
	}
	g, err := e.grantsFor(ctx, store, p)
	if err != nil {
		e.logDenial(email, permission, err)
		return false
	}
	return g.Has(permission)
}

func (e *Engine) logDenial(email, permission string, err error) {
	if errors.Is(err, ErrPrincipalNotFound) {
		e.logger.Debug().Str("email", email).Str("permission", permission).Msg("Denied: principal not found")
		return
	}
	e.logger.Error().Err(err).Str("email", email).Str("permission", permission).Msg("Denied: role lookup failed")
}

// CanManage reports whether assigner may administer the target principal.
func (e *Engine) CanManage(ctx context.Context, assignerEmail, targetEmail string, targetIsSubaccount bool) bool {
	if strings.EqualFold(assignerEmail, targetEmail) {
		return false
	}

	assigner, err := e.locate(ctx, e.store, assignerEmail)
	if err != nil {
		e.logDenial(assignerEmail, "manage", err)
		return false
	}
	ag, err := e.grantsFor(ctx, e.store, assigner)
	if err != nil {
		e.logDenial(assignerEmail, "manage", err)
		return false
	}

	target, err := e.lookup(ctx, e.targetStore(), targetEmail, targetIsSubaccount)
	if err != nil {
		e.logDenial(targetEmail, "manage", err)
		return false
	}
	tg, err := e.grantsFor(ctx, e.targetStore(), target)
	if err != nil {
		e.logDenial(targetEmail, "manage", err)
		return false
	}

	// Nobody below the bypass tier manages a bypass-tier principal.
	if tg.Bypass() && !ag.Bypass() {
		return false
	}

	outranks := ag.HasLevel && (!tg.HasLevel || ag.MinLevel < tg.MinLevel)

	if targetIsSubaccount {
		if ag.Has(PermSubusersManageAll) {
			return true
		}
		if assigner.kind == database.KindAccount && strings.EqualFold(target.parentEmail, assigner.email) {
			return true
		}
		// A delegated manager may administer less privileged siblings.
		return ag.Has(PermSubusersManage) &&
			assigner.kind == database.KindSubaccount &&
			strings.EqualFold(assigner.parentEmail, target.parentEmail) &&
			outranks
	}

	if ag.Has(PermUsersManageAll) {
		return true
	}
	return assigner.kind == database.KindAccount && ag.Has(PermUsersManage) && outranks
}

// CanAssignRole allows only roles strictly less privileged than the
// assigner's most privileged role. Unknown roles are denied.
func (e *Engine) CanAssignRole(ctx context.Context, assignerEmail, roleName string) bool {
	_, _, ok := e.assignable(ctx, assignerEmail, roleName)
	return ok
}

func (e *Engine) assignable(ctx context.Context, assignerEmail, roleName string) (*Grants, *database.Role, bool) {
	role, err := e.store.GetRoleByName(ctx, roleName)
	if err != nil {
		e.logger.Error().Err(err).Str("role", roleName).Msg("Role lookup failed")
		return nil, nil, false
	}
	if role == nil {
		return nil, nil, false
	}

	assigner, err := e.locate(ctx, e.store, assignerEmail)
	if err != nil {
		e.logDenial(assignerEmail, "assign:"+roleName, err)
		return nil, role, false
	}
	g, err := e.grantsFor(ctx, e.store, assigner)
	if err != nil {
		e.logDenial(assignerEmail, "assign:"+roleName, err)
		return nil, role, false
	}
	if !g.HasLevel {
		return g, role, false
	}
	return g, role, role.HierarchyLevel > g.MinLevel
}

// CanModifyRolePermissions is CanAssignRole restricted to Admin tier and above.
func (e *Engine) CanModifyRolePermissions(ctx context.Context, assignerEmail, roleName string) bool {
	g, _, ok := e.assignable(ctx, assignerEmail, roleName)
	return ok && g.MinLevel <= TierAdmin.Level()
}

// CanCreateRole reports whether assigner may define a role at level.
func (e *Engine) CanCreateRole(ctx context.Context, assignerEmail string, level int) bool {
	assigner, err := e.locate(ctx, e.store, assignerEmail)
	if err != nil {
		return false
	}
	g, err := e.grantsFor(ctx, e.store, assigner)
	if err != nil || !g.HasLevel {
		return false
	}
	return g.MinLevel <= TierAdmin.Level() && level > g.MinLevel
}

// AssignRole grants roleName to the target after escalation and
// manage-ability checks. Assigning a held role succeeds without change.
func (e *Engine) AssignRole(ctx context.Context, assignerEmail, targetEmail string, targetIsSubaccount bool, roleName string) error {
	if err := e.authorizeRoleChange(ctx, assignerEmail, targetEmail, targetIsSubaccount, roleName); err != nil {
		return err
	}

	kind := database.KindAccount
	if targetIsSubaccount {
		kind = database.KindSubaccount
	}
	added, err := e.targetStore().AssignRole(ctx, database.RoleAssignment{
		PrincipalEmail:  targetEmail,
		Kind:            kind,
		RoleName:        roleName,
		AssignedByEmail: assignerEmail,
	})
	if err != nil {
		return apperr.Internal("failed to assign role", err)
	}
	e.logger.Info().
		Str("assigner", assignerEmail).
		Str("target", targetEmail).
		Str("role", roleName).
		Bool("changed", added).
		Msg("Role assigned")
	return nil
}

// RemoveRole revokes roleName from the target. Removing an unheld role succeeds.
func (e *Engine) RemoveRole(ctx context.Context, assignerEmail, targetEmail string, targetIsSubaccount bool, roleName string) error {
	if err := e.authorizeRoleChange(ctx, assignerEmail, targetEmail, targetIsSubaccount, roleName); err != nil {
		return err
	}

	kind := database.KindAccount
	if targetIsSubaccount {
		kind = database.KindSubaccount
	}
	removed, err := e.targetStore().RemoveRole(ctx, targetEmail, kind, roleName)
	if err != nil {
		return apperr.Internal("failed to remove role", err)
	}
	e.logger.Info().
		Str("assigner", assignerEmail).
		Str("target", targetEmail).
		Str("role", roleName).
		Bool("changed", removed).
		Msg("Role removed")
	return nil
}

func (e *Engine) authorizeRoleChange(ctx context.Context, assignerEmail, targetEmail string, targetIsSubaccount bool, roleName string) error {
	_, role, ok := e.assignable(ctx, assignerEmail, roleName)
	if role == nil {
		return apperr.NotFound("role %q does not exist", roleName)
	}
	if !ok {
		return apperr.Forbidden("role %q is not below your privilege level", roleName)
	}
	if !e.CanManage(ctx, assignerEmail, targetEmail, targetIsSubaccount) {
		return apperr.Forbidden("you cannot manage %s", targetEmail)
	}
	return nil
}

// AddPermissionToRole grants a permission to a role. Re-granting succeeds without change.
func (e *Engine) AddPermissionToRole(ctx context.Context, assignerEmail, roleName, permission string) error {
	if err := e.authorizePermissionChange(ctx, assignerEmail, roleName, permission); err != nil {
		return err
	}
	added, err := e.store.AddPermissionToRole(ctx, roleName, permission)
	if err != nil {
		return apperr.Internal("failed to grant permission", err)
	}
	e.logger.Info().
		Str("assigner", assignerEmail).
		Str("role", roleName).
		Str("permission", permission).
		Bool("changed", added).
		Msg("Permission granted")
	return nil
}

// RemovePermissionFromRole revokes a permission grant. Revoking a missing grant succeeds.
func (e *Engine) RemovePermissionFromRole(ctx context.Context, assignerEmail, roleName, permission string) error {
	if err := e.authorizePermissionChange(ctx, assignerEmail, roleName, permission); err != nil {
		return err
	}
	removed, err := e.store.RemovePermissionFromRole(ctx, roleName, permission)
	if err != nil {
		return apperr.Internal("failed to revoke permission", err)
	}
	e.logger.Info().
		Str("assigner", assignerEmail).
		Str("role", roleName).
		Str("permission", permission).
		Bool("changed", removed).
		Msg("Permission revoked")
	return nil
}

func (e *Engine) authorizePermissionChange(ctx context.Context, assignerEmail, roleName, permission string) error {
	role, err := e.store.GetRoleByName(ctx, roleName)
	if err != nil {
		return apperr.Internal("failed to load role", err)
	}
	if role == nil {
		return apperr.NotFound("role %q does not exist", roleName)
	}
	exists, err := e.store.PermissionExists(ctx, permission)
	if err != nil {
		return apperr.Internal("failed to load permission", err)
	}
	if !exists {
		return apperr.NotFound("permission %q does not exist", permission)
	}
	if !e.CanModifyRolePermissions(ctx, assignerEmail, roleName) {
		return apperr.Forbidden("modifying %q requires Admin or SuperAdmin above that role", roleName)
	}
	return nil
}
