package accounts

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/auth"
	"erasure-cloud/internal/cache"
	"erasure-cloud/internal/database"
)

// SecretStore keeps dedicated database connection strings, e.g. *vault.Client.
type SecretStore interface {
	StoreConnectionString(ctx context.Context, ownerEmail, dsn string) error
}

// PoolEvicter drops an owner's cached pool, e.g. *tenant.PoolRegistry.
type PoolEvicter interface {
	Forget(ownerEmail string)
}

// PrivateCloud provisions dedicated databases. The zero value disables
// private cloud enablement.
type PrivateCloud struct {
	Secrets SecretStore
	Pools   PoolEvicter
	// Migrate applies the schema to a dedicated database before it serves traffic.
	Migrate func(dsn string, logger zerolog.Logger) error
}

func (s *Service) requireSuperAdmin(ctx context.Context, actor *Actor) error {
	g, err := s.grants(ctx, actor)
	if err != nil {
		return err
	}
	if !g.Bypass() {
		return apperr.Forbidden("only SuperAdmin may change private cloud settings")
	}
	return nil
}

// EnablePrivateCloud migrates the dedicated database at dsn, stores its
// connection string and routes the account's data there.
func (s *Service) EnablePrivateCloud(ctx context.Context, actor *Actor, email string, req PrivateCloudRequest) (*database.Account, error) {
	if err := s.requireSuperAdmin(ctx, actor); err != nil {
		return nil, err
	}
	if s.private.Secrets == nil {
		return nil, apperr.External("private cloud provisioning is not configured", nil).WithCode(CodePrivateCloudUnconfigured)
	}
	dsn := strings.TrimSpace(req.ConnectionString)
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, apperr.Validation("connection string must be a postgres:// URL")
	}

	email = auth.NormalizeEmail(email)
	if _, err := s.loadAccount(ctx, email); err != nil {
		return nil, err
	}

	if s.private.Migrate != nil {
		if err := s.private.Migrate(dsn, s.logger); err != nil {
			return nil, apperr.External("failed to prepare dedicated database", err)
		}
	}
	if err := s.private.Secrets.StoreConnectionString(ctx, email, dsn); err != nil {
		return nil, apperr.External("failed to store connection string", err)
	}
	if s.private.Pools != nil {
		s.private.Pools.Forget(email)
	}

	main := s.mainStore()
	if err := main.SetPrivateCloud(ctx, email, true); err != nil {
		return nil, database.AsAppError(err, "account", "failed to enable private cloud")
	}

	if deps, err := main.CountAccountDependents(ctx, email); err == nil && deps.Any() {
		s.logger.Warn().
			Str("owner", email).
			Int("subaccounts", deps.Subaccounts).
			Int("machines", deps.Machines).
			Int("reports", deps.Reports).
			Msg("Rows left on the main database are no longer served for this owner")
	}

	s.invalidatePrivateCloud(ctx, email)
	s.logger.Info().Str("owner", email).Str("by", actor.Principal.Email).Msg("Private cloud enabled")
	return s.loadAccount(ctx, email)
}

// DisablePrivateCloud routes the account back to the main database. The
// stored connection string is kept.
func (s *Service) DisablePrivateCloud(ctx context.Context, actor *Actor, email string) (*database.Account, error) {
	if err := s.requireSuperAdmin(ctx, actor); err != nil {
		return nil, err
	}
	email = auth.NormalizeEmail(email)
	if err := s.mainStore().SetPrivateCloud(ctx, email, false); err != nil {
		return nil, database.AsAppError(err, "account", "failed to disable private cloud")
	}
	if s.private.Pools != nil {
		s.private.Pools.Forget(email)
	}

	s.invalidatePrivateCloud(ctx, email)
	s.logger.Info().Str("owner", email).Str("by", actor.Principal.Email).Msg("Private cloud disabled")
	return s.loadAccount(ctx, email)
}

func (s *Service) invalidatePrivateCloud(ctx context.Context, owner string) {
	s.invalidateAccounts(ctx)
	s.invalidateOwner(ctx, owner, cache.KindSubaccounts, cache.KindMachines, cache.KindReports)
	// Subaccount grants are evaluated against the owner's database.
	s.cache.InvalidateKind(ctx, cache.KindPerm)
}
