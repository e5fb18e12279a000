package accounts

import (
	"context"
	"strings"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/auth"
	"erasure-cloud/internal/cache"
	"erasure-cloud/internal/database"
	"erasure-cloud/internal/rbac"
)

// ListRoles returns every role on the main database, most privileged first.
func (s *Service) ListRoles(ctx context.Context) ([]database.Role, error) {
	roles, err := s.mainStore().ListRoles(ctx)
	if err != nil {
		return nil, apperr.External("failed to list roles", err)
	}
	return roles, nil
}

// ListPermissions returns the permission catalogue.
func (s *Service) ListPermissions(ctx context.Context) ([]database.Permission, error) {
	perms, err := s.mainStore().ListPermissions(ctx)
	if err != nil {
		return nil, apperr.External("failed to list permissions", err)
	}
	return perms, nil
}

// RolePermissions returns a role and the permissions it grants.
func (s *Service) RolePermissions(ctx context.Context, name string) (*RolePermissions, error) {
	main := s.mainStore()
	role, err := main.GetRoleByName(ctx, name)
	if err != nil {
		return nil, apperr.External("failed to load role", err)
	}
	if role == nil {
		return nil, apperr.NotFound("role %q does not exist", name)
	}
	perms, err := main.PermissionsForRoles(ctx, []string{role.Name})
	if err != nil {
		return nil, apperr.External("failed to load role permissions", err)
	}
	if perms == nil {
		perms = []string{}
	}
	return &RolePermissions{Role: role, Permissions: perms}, nil
}

// graphAdmin checks the caller may change the role graph. The graph is
// owned by the main database, so only accounts edit it.
func (s *Service) graphAdmin(ctx context.Context, actor *Actor) error {
	if actor.Principal.IsSubaccount() {
		return apperr.Forbidden("subaccounts cannot change roles")
	}
	_, err := s.require(ctx, actor, rbac.PermRolesManage)
	return err
}

// CreateRole defines a role strictly less privileged than the caller.
func (s *Service) CreateRole(ctx context.Context, actor *Actor, req CreateRoleRequest) (*database.Role, error) {
	if err := s.graphAdmin(ctx, actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("role name is required")
	}
	if !s.auth.Engine().CanCreateRole(ctx, actor.Principal.Email, req.HierarchyLevel) {
		return nil, apperr.Forbidden("level %d is not below your privilege level", req.HierarchyLevel)
	}

	role := &database.Role{Name: name, Description: req.Description, HierarchyLevel: req.HierarchyLevel}
	if err := s.mainStore().CreateRole(ctx, role); err != nil {
		return nil, database.AsAppError(err, "role", "failed to create role")
	}
	s.eachDedicated(ctx, "create role", func(store database.Store) error {
		cp := *role
		return store.CreateRole(ctx, &cp)
	})

	s.logger.Info().Str("role", name).Int("level", req.HierarchyLevel).Str("by", actor.Principal.Email).Msg("Role created")
	return role, nil
}

// AddPermissionToRole grants perm to role on the main database and on
// every dedicated database.
func (s *Service) AddPermissionToRole(ctx context.Context, actor *Actor, role, perm string) error {
	if err := s.graphAdmin(ctx, actor); err != nil {
		return err
	}
	if err := s.auth.Engine().AddPermissionToRole(ctx, actor.Principal.Email, role, perm); err != nil {
		return err
	}
	s.eachDedicated(ctx, "grant permission", func(store database.Store) error {
		_, err := store.AddPermissionToRole(ctx, role, perm)
		return err
	})
	s.cache.InvalidateKind(ctx, cache.KindPerm)
	return nil
}

// RemovePermissionFromRole revokes perm from role everywhere.
func (s *Service) RemovePermissionFromRole(ctx context.Context, actor *Actor, role, perm string) error {
	if err := s.graphAdmin(ctx, actor); err != nil {
		return err
	}
	if err := s.auth.Engine().RemovePermissionFromRole(ctx, actor.Principal.Email, role, perm); err != nil {
		return err
	}
	s.eachDedicated(ctx, "revoke permission", func(store database.Store) error {
		_, err := store.RemovePermissionFromRole(ctx, role, perm)
		return err
	})
	s.cache.InvalidateKind(ctx, cache.KindPerm)
	return nil
}

// eachDedicated applies a role graph change to every private cloud
// database. Failures are logged; the database keeps its previous graph.
func (s *Service) eachDedicated(ctx context.Context, op string, fn func(database.Store) error) {
	owners, err := s.mainStore().ListPrivateCloudAccounts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("Failed to list private cloud accounts")
		return
	}
	for _, owner := range owners {
		res, err := s.resolver.Resolve(ctx, owner.Email, false)
		if err == nil && res.Dedicated {
			err = fn(res.Handle)
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("owner", owner.Email).Str("op", op).Msg("Role graph change not applied to dedicated database")
		}
	}
}

// targetStore is the database holding the principal a role change is about.
func (s *Service) targetStore(ctx context.Context, email string, isSubaccount bool) (database.Store, error) {
	if !isSubaccount {
		return s.mainStore(), nil
	}
	res, err := s.locateSubaccount(ctx, email)
	if err != nil {
		return nil, err
	}
	return res.Handle, nil
}

// AssignRole grants a role the caller outranks to a principal it manages.
func (s *Service) AssignRole(ctx context.Context, actor *Actor, req RoleRequest) error {
	email := auth.NormalizeEmail(req.Email)
	store, err := s.targetStore(ctx, email, req.IsSubaccount)
	if err != nil {
		return err
	}
	if err := s.engineFor(actor, store).AssignRole(ctx, actor.Principal.Email, email, req.IsSubaccount, req.Role); err != nil {
		return err
	}
	s.cache.InvalidateOwner(ctx, email, cache.KindPerm)
	return nil
}

// RemoveRole revokes a role under the same rules as AssignRole.
func (s *Service) RemoveRole(ctx context.Context, actor *Actor, req RoleRequest) error {
	email := auth.NormalizeEmail(req.Email)
	store, err := s.targetStore(ctx, email, req.IsSubaccount)
	if err != nil {
		return err
	}
	if err := s.engineFor(actor, store).RemoveRole(ctx, actor.Principal.Email, email, req.IsSubaccount, req.Role); err != nil {
		return err
	}
	s.cache.InvalidateOwner(ctx, email, cache.KindPerm)
	return nil
}
