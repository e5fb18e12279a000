package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"erasure-cloud/config"
	"erasure-cloud/internal/database"
	"erasure-cloud/internal/rbac"
)

const seedAssigner = "system"

var canonicalTiers = []rbac.Tier{
	rbac.TierSuperAdmin,
	rbac.TierAdmin,
	rbac.TierManager,
	rbac.TierUser,
	rbac.TierSubuser,
}

// EnsureCanonicalRoles creates any missing canonical role. Existing roles
// are left as they are.
func EnsureCanonicalRoles(ctx context.Context, store database.Store, logger zerolog.Logger) error {
	for _, t := range canonicalTiers {
		role, err := store.GetRoleByName(ctx, t.Name())
		if err != nil {
			return fmt.Errorf("failed to check role %s: %w", t.Name(), err)
		}
		if role != nil {
			if role.HierarchyLevel != t.Level() {
				logger.Warn().
					Str("role", t.Name()).
					Int("level", role.HierarchyLevel).
					Int("expected", t.Level()).
					Msg("Canonical role has a non-standard hierarchy level")
			}
			continue
		}
		err = store.CreateRole(ctx, &database.Role{Name: t.Name(), HierarchyLevel: t.Level()})
		if err != nil && !errors.Is(err, database.ErrDuplicate) {
			return fmt.Errorf("failed to create role %s: %w", t.Name(), err)
		}
		logger.Info().Str("role", t.Name()).Int("level", t.Level()).Msg("Canonical role created")
	}
	return nil
}

// SeedAdminAccount ensures the configured SuperAdmin account exists, is
// active, holds the SuperAdmin role and accepts the configured password.
// It does nothing when no admin email is configured.
func SeedAdminAccount(ctx context.Context, store database.Store, passwords *PasswordManager, cfg config.AuthConfig, logger zerolog.Logger) error {
	email := NormalizeEmail(cfg.AdminEmail)
	if email == "" {
		return nil
	}
	if cfg.AdminPassword == "" {
		return errors.New("admin email configured without admin password")
	}

	account, err := store.GetAccountByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check for admin account: %w", err)
	}

	if account == nil {
		logger.Info().Str("email", email).Msg("Admin account not found, creating")

		hash, err := passwords.HashPassword(cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("failed to hash admin password: %w", err)
		}
		account = &database.Account{
			Email:        email,
			Name:         "Administrator",
			PasswordHash: hash,
			RoleTag:      rbac.TierSuperAdmin.Name(),
			Status:       database.StatusActive,
		}
		if err := store.CreateAccount(ctx, account); err != nil {
			return fmt.Errorf("failed to create admin account: %w", err)
		}
	} else {
		if ok, _ := passwords.VerifyPassword(cfg.AdminPassword, account.PasswordHash); !ok {
			logger.Info().Str("email", email).Msg("Admin password differs from configuration, updating")

			hash, err := passwords.HashPassword(cfg.AdminPassword)
			if err != nil {
				return fmt.Errorf("failed to hash admin password: %w", err)
			}
			if _, err := store.UpdateAccountPassword(ctx, email, hash, account.RowVersion); err != nil {
				return fmt.Errorf("failed to update admin password: %w", err)
			}
		}
		if account.Status != database.StatusActive {
			if err := store.UpdateAccountStatus(ctx, email, database.StatusActive); err != nil {
				return fmt.Errorf("failed to activate admin account: %w", err)
			}
		}
	}

	added, err := store.AssignRole(ctx, database.RoleAssignment{
		PrincipalEmail:  email,
		Kind:            database.KindAccount,
		RoleName:        rbac.TierSuperAdmin.Name(),
		AssignedByEmail: seedAssigner,
	})
	if err != nil {
		return fmt.Errorf("failed to assign admin role: %w", err)
	}

	logger.Info().Str("email", email).Bool("role_added", added).Msg("Admin account ready")
	return nil
}
