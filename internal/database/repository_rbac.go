package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// assignmentTable returns the join table and key column for a principal kind.
func assignmentTable(kind PrincipalKind) (table, column string) {
	if kind == KindSubaccount {
		return "subaccount_roles", "subaccount_email"
	}
	return "account_roles", "account_email"
}

// ListRoles returns all roles, most privileged first.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.q.Query(ctx, `SELECT name, description, hierarchy_level, created_at FROM roles ORDER BY hierarchy_level, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.Name, &role.Description, &role.HierarchyLevel, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRoleByName returns nil, nil for unknown roles.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := r.q.QueryRow(ctx,
		`SELECT name, description, hierarchy_level, created_at FROM roles WHERE name = $1`, name,
	).Scan(&role.Name, &role.Description, &role.HierarchyLevel, &role.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// CreateRole inserts a role.
func (r *Repository) CreateRole(ctx context.Context, role *Role) error {
	role.CreatedAt = time.Now().UTC()
	_, err := r.q.Exec(ctx,
		`INSERT INTO roles (name, description, hierarchy_level, created_at) VALUES ($1, $2, $3, $4)`,
		role.Name, role.Description, role.HierarchyLevel, role.CreatedAt)
	return mapWriteError(err, "failed to create role")
}

// RolesForPrincipal returns the roles assigned through the join table.
func (r *Repository) RolesForPrincipal(ctx context.Context, email string, kind PrincipalKind) ([]Role, error) {
	table, column := assignmentTable(kind)
	query := fmt.Sprintf(`
	SELECT ro.name, ro.description, ro.hierarchy_level, ro.created_at
	FROM %s a
	JOIN roles ro ON ro.name = a.role_name
	WHERE a.%s = $1
	ORDER BY ro.hierarchy_level`, table, column)

	rows, err := r.q.Query(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list principal roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.Name, &role.Description, &role.HierarchyLevel, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// PermissionsForRoles returns the distinct permission names granted to any of roleNames.
func (r *Repository) PermissionsForRoles(ctx context.Context, roleNames []string) ([]string, error) {
	if len(roleNames) == 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx,
		`SELECT DISTINCT permission_name FROM role_permissions WHERE role_name = ANY($1) ORDER BY permission_name`,
		roleNames)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

// ListPermissions returns every known permission.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.q.Query(ctx, `SELECT name, description, created_at FROM permissions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// PermissionExists reports whether name is a known permission.
func (r *Repository) PermissionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return exists, nil
}

// AddPermissionToRole grants a permission. Granting an existing grant is a no-op.
func (r *Repository) AddPermissionToRole(ctx context.Context, roleName, permissionName string) (bool, error) {
	tag, err := r.q.Exec(ctx, `
	INSERT INTO role_permissions (role_name, permission_name) VALUES ($1, $2)
	ON CONFLICT (role_name, permission_name) DO NOTHING`, roleName, permissionName)
	if err != nil {
		return false, fmt.Errorf("failed to grant permission: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RemovePermissionFromRole revokes a grant. Removing a missing grant is a no-op.
func (r *Repository) RemovePermissionFromRole(ctx context.Context, roleName, permissionName string) (bool, error) {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_name = $1 AND permission_name = $2`, roleName, permissionName)
	if err != nil {
		return false, fmt.Errorf("failed to revoke permission: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AssignRole records a role assignment. Re-assigning a held role is a no-op.
func (r *Repository) AssignRole(ctx context.Context, a RoleAssignment) (bool, error) {
	table, column := assignmentTable(a.Kind)
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
	INSERT INTO %s (%s, role_name, assigned_at, assigned_by_email) VALUES ($1, $2, $3, $4)
	ON CONFLICT (%s, role_name) DO NOTHING`, table, column, column)

	tag, err := r.q.Exec(ctx, query, a.PrincipalEmail, a.RoleName, a.AssignedAt, a.AssignedByEmail)
	if err != nil {
		return false, fmt.Errorf("failed to assign role: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveRole deletes a role assignment. Removing an unheld role is a no-op.
func (r *Repository) RemoveRole(ctx context.Context, email string, kind PrincipalKind, roleName string) (bool, error) {
	table, column := assignmentTable(kind)
	tag, err := r.q.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND role_name = $2`, table, column), email, roleName)
	if err != nil {
		return false, fmt.Errorf("failed to remove role: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
