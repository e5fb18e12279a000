package accounts

import (
	"context"
	"errors"
	"strings"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/auth"
	"erasure-cloud/internal/cache"
	"erasure-cloud/internal/database"
	"erasure-cloud/internal/rbac"
)

// ownerStore returns the database holding owner's subaccounts and its cache tenant key.
func (s *Service) ownerStore(ctx context.Context, actor *Actor, owner string) (database.Store, string, error) {
	if strings.EqualFold(owner, actor.Principal.OwnerEmail()) {
		return actor.Tenant.Handle, auth.TenantKey(actor.Tenant), nil
	}
	res, err := s.resolver.Resolve(ctx, owner, false)
	if err != nil {
		return nil, "", err
	}
	if !res.Found {
		return nil, "", apperr.NotFound("account %s not found", owner)
	}
	return res.Handle, auth.TenantKey(res), nil
}

// locateSubaccount finds a subaccount wherever it lives.
func (s *Service) locateSubaccount(ctx context.Context, email string) (*auth.Resolution, error) {
	res, err := s.resolver.Resolve(ctx, email, true)
	if err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, apperr.NotFound("subaccount %s not found", email)
	}
	return res, nil
}

// manageSubaccount locates email and checks the actor may administer it.
func (s *Service) manageSubaccount(ctx context.Context, actor *Actor, email string) (*auth.Resolution, error) {
	res, err := s.locateSubaccount(ctx, email)
	if err != nil {
		return nil, err
	}
	if !s.engineFor(actor, res.Handle).CanManage(ctx, actor.Principal.Email, email, true) {
		return nil, apperr.Forbidden("cannot manage subaccount %s", email)
	}
	return res, nil
}

// ListSubaccounts lists the subaccounts of the caller's owner. Holders of
// subusers.manage_all may name any owner, or none for the main database.
func (s *Service) ListSubaccounts(ctx context.Context, actor *Actor, f database.ListFilter) (*database.Page[database.Subaccount], error) {
	g, err := s.require(ctx, actor, rbac.PermSubusersRead)
	if err != nil {
		return nil, err
	}
	f.Normalize()
	f.OwnerEmail = auth.NormalizeEmail(f.OwnerEmail)
	if !g.Has(rbac.PermSubusersManageAll) {
		f.OwnerEmail = actor.Principal.OwnerEmail()
	}

	store, tenantKey := s.mainStore(), "main"
	if f.OwnerEmail != "" {
		if store, tenantKey, err = s.ownerStore(ctx, actor, f.OwnerEmail); err != nil {
			return nil, err
		}
	}

	key := cache.NewKey(cache.KindSubaccounts, f.OwnerEmail, tenantKey, listParams(f))
	return cache.GetOrLoad(ctx, s.cache, key, func(ctx context.Context) (*database.Page[database.Subaccount], error) {
		rows, total, err := store.ListSubaccounts(ctx, f)
		if err != nil {
			return nil, apperr.External("failed to list subaccounts", err)
		}
		return database.NewPage(rows, total, f), nil
	})
}

// GetSubaccount returns a subaccount the caller is, manages, or shares an
// owner with while holding subusers.read.
func (s *Service) GetSubaccount(ctx context.Context, actor *Actor, email string) (*database.Subaccount, error) {
	email = auth.NormalizeEmail(email)
	res, err := s.locateSubaccount(ctx, email)
	if err != nil {
		return nil, err
	}
	sub := res.Subaccount
	if isSelf(actor, email, true) {
		return sub, nil
	}

	g, err := s.grants(ctx, actor)
	if err != nil {
		return nil, err
	}
	if g.Has(rbac.PermSubusersRead) && strings.EqualFold(sub.ParentEmail, actor.Principal.OwnerEmail()) {
		return sub, nil
	}
	if s.engineFor(actor, res.Handle).CanManage(ctx, actor.Principal.Email, email, true) {
		return sub, nil
	}
	return nil, apperr.Forbidden("cannot read subaccount %s", email)
}

// CreateSubaccount creates a subaccount under the caller's owner account.
// A subaccount creating another attaches it to its own parent, so the
// hierarchy never grows beyond two levels. The owner's quota is reserved
// on the main database before the row is written to the owner's database.
func (s *Service) CreateSubaccount(ctx context.Context, actor *Actor, req CreateSubaccountRequest) (*database.Subaccount, error) {
	g, err := s.grants(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !g.Has(rbac.PermSubusersManage) && !g.Has(rbac.PermSubusersManageAll) {
		return nil, apperr.Forbidden("missing permission %s", rbac.PermSubusersManage)
	}

	owner := actor.Principal.OwnerEmail()
	if parent := auth.NormalizeEmail(req.ParentEmail); parent != "" && parent != owner {
		if !g.Has(rbac.PermSubusersManageAll) {
			return nil, apperr.Forbidden("cannot create subaccounts for %s", parent)
		}
		owner = parent
	}
	email := auth.NormalizeEmail(req.Email)
	role := strings.TrimSpace(req.Role)

	if err := s.auth.Passwords().ValidatePasswordStrength(req.Password); err != nil {
		return nil, apperr.Validation("%s", err.Error()).WithCode(auth.CodeWeakPassword)
	}
	if err := s.ensureUnusedEmail(ctx, email); err != nil {
		return nil, err
	}

	store, _, err := s.ownerStore(ctx, actor, owner)
	if err != nil {
		return nil, err
	}
	if role != "" && !s.engineFor(actor, store).CanAssignRole(ctx, actor.Principal.Email, role) {
		return nil, apperr.Forbidden("role %s is not assignable by %s", role, actor.Principal.Email)
	}

	hash, err := s.auth.Passwords().HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Internal("failed to hash password", err)
	}

	if err := s.reserveSlot(ctx, owner); err != nil {
		return nil, err
	}

	sub := &database.Subaccount{
		Email:        email,
		ParentEmail:  owner,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Department:   req.Department,
		Group:        req.Group,
		Phone:        req.Phone,
		Status:       database.StatusActive,
	}
	err = store.InTx(ctx, func(tx database.Store) error {
		if err := tx.CreateSubaccount(ctx, sub); err != nil {
			return err
		}
		if role == "" {
			return nil
		}
		_, err := tx.AssignRole(ctx, database.RoleAssignment{
			PrincipalEmail:  email,
			Kind:            database.KindSubaccount,
			RoleName:        role,
			AssignedByEmail: actor.Principal.Email,
		})
		return err
	})
	if err != nil {
		s.releaseSlot(ctx, owner)
		if errors.Is(err, database.ErrDuplicate) {
			return nil, auth.ErrEmailExists
		}
		return nil, database.AsAppError(err, "subaccount", "failed to create subaccount")
	}

	s.invalidateOwner(ctx, owner, cache.KindSubaccounts)
	s.invalidateAccounts(ctx)
	s.logger.Info().
		Str("email", email).
		Str("owner", owner).
		Str("role", role).
		Str("created_by", actor.Principal.Email).
		Msg("Subaccount created")
	return sub, nil
}

// ensureUnusedEmail rejects an email already held by an account or by a
// subaccount in any database.
func (s *Service) ensureUnusedEmail(ctx context.Context, email string) error {
	acc, err := s.mainStore().GetAccountByEmail(ctx, email)
	if err != nil {
		return apperr.External("failed to check email", err)
	}
	if acc != nil {
		return auth.ErrEmailExists
	}
	res, err := s.resolver.Resolve(ctx, email, true)
	if err != nil {
		return err
	}
	if res.Found {
		return auth.ErrEmailExists
	}
	return nil
}

// reserveSlot increments the owner's subaccount counter on the main
// database, retrying when another writer moved the row first.
func (s *Service) reserveSlot(ctx context.Context, owner string) error {
	main := s.mainStore()
	for attempt := 1; ; attempt++ {
		acc, err := s.loadAccount(ctx, owner)
		if err != nil {
			return err
		}
		err = main.ReserveSubaccountSlot(ctx, owner, acc.RowVersion)
		if err == nil {
			return nil
		}
		if errors.Is(err, database.ErrQuotaExceeded) {
			return apperr.Conflict("subaccount limit of %d reached for %s", acc.SubaccountLimit, owner).
				WithCode(database.CodeQuotaExceeded)
		}
		if !errors.Is(err, database.ErrVersionConflict) || attempt == reserveAttempts {
			return database.AsAppError(err, "account", "failed to reserve subaccount slot")
		}
		s.logger.Debug().Str("owner", owner).Int("attempt", attempt).Msg("Subaccount slot contended, retrying")
	}
}

func (s *Service) releaseSlot(ctx context.Context, owner string) {
	if err := s.mainStore().ReleaseSubaccountSlot(ctx, owner); err != nil {
		s.logger.Error().Err(err).Str("owner", owner).Msg("Failed to release subaccount slot")
	}
}

// UpdateSubaccount patches profile fields of the caller or of a managed subaccount.
func (s *Service) UpdateSubaccount(ctx context.Context, actor *Actor, email string, req UpdateProfileRequest) (*database.Subaccount, error) {
	email = auth.NormalizeEmail(email)
	var res *auth.Resolution
	var err error
	if isSelf(actor, email, true) {
		res = actor.Tenant
	} else if res, err = s.manageSubaccount(ctx, actor, email); err != nil {
		return nil, err
	}

	sub, err := res.Handle.GetSubaccountByEmail(ctx, email)
	if err != nil {
		return nil, apperr.External("failed to load subaccount", err)
	}
	if sub == nil {
		return nil, apperr.NotFound("subaccount %s not found", email)
	}
	if req.RowVersion != 0 && req.RowVersion != sub.RowVersion {
		return nil, apperr.Conflict("subaccount was modified concurrently, retry")
	}
	applyProfile(&sub.Name, &sub.Department, &sub.Group, &sub.Phone, req)

	if err := res.Handle.UpdateSubaccountProfile(ctx, sub); err != nil {
		return nil, database.AsAppError(err, "subaccount", "failed to update subaccount")
	}
	s.invalidateOwner(ctx, sub.ParentEmail, cache.KindSubaccounts)
	return sub, nil
}

// SetSubaccountStatus changes the status of a managed subaccount.
func (s *Service) SetSubaccountStatus(ctx context.Context, actor *Actor, email string, status database.AccountStatus) error {
	email = auth.NormalizeEmail(email)
	if !status.Valid() {
		return apperr.Validation("unknown status %q", status)
	}
	res, err := s.manageSubaccount(ctx, actor, email)
	if err != nil {
		return err
	}
	if err := res.Handle.UpdateSubaccountStatus(ctx, email, status); err != nil {
		return database.AsAppError(err, "subaccount", "failed to update subaccount status")
	}
	s.invalidateOwner(ctx, res.Subaccount.ParentEmail, cache.KindSubaccounts)
	s.logger.Info().Str("email", email).Str("status", string(status)).Str("by", actor.Principal.Email).Msg("Subaccount status changed")
	return nil
}

// SetSubaccountLicenses sets a subaccount's license allocation, drawing the
// difference from its parent's counter on the main database.
func (s *Service) SetSubaccountLicenses(ctx context.Context, actor *Actor, email string, req SubaccountLicenseRequest) (*database.Subaccount, error) {
	email = auth.NormalizeEmail(email)
	if req.Allocation < 0 {
		return nil, apperr.Validation("allocation must not be negative")
	}
	res, err := s.manageSubaccount(ctx, actor, email)
	if err != nil {
		return nil, err
	}
	sub := res.Subaccount
	if sub.RowVersion != req.RowVersion {
		return nil, apperr.Conflict("subaccount was modified concurrently, retry")
	}

	delta := req.Allocation - sub.LicenseAllocation
	if delta != 0 {
		if err := s.moveParentLicenses(ctx, sub.ParentEmail, delta); err != nil {
			return nil, err
		}
	}

	version, err := res.Handle.SetSubaccountLicenseAllocation(ctx, email, req.Allocation, req.RowVersion)
	if err != nil {
		if delta != 0 {
			if rerr := s.moveParentLicenses(ctx, sub.ParentEmail, -delta); rerr != nil {
				s.logger.Error().Err(rerr).Str("owner", sub.ParentEmail).Int("delta", -delta).Msg("Failed to return licenses to parent")
			}
		}
		return nil, database.AsAppError(err, "subaccount", "failed to update subaccount allocation")
	}

	sub.LicenseAllocation = req.Allocation
	sub.RowVersion = version
	s.invalidateOwner(ctx, sub.ParentEmail, cache.KindSubaccounts)
	s.invalidateAccounts(ctx)
	return sub, nil
}

// moveParentLicenses adjusts the owner's allocated counter with the current
// row version, retrying on concurrent writers.
func (s *Service) moveParentLicenses(ctx context.Context, owner string, delta int) error {
	main := s.mainStore()
	for attempt := 1; ; attempt++ {
		acc, err := s.loadAccount(ctx, owner)
		if err != nil {
			return err
		}
		_, err = main.AdjustLicenseAllocation(ctx, owner, delta, acc.RowVersion)
		if err == nil {
			return nil
		}
		if errors.Is(err, database.ErrQuotaExceeded) {
			return apperr.Conflict("license limit of %d reached for %s", acc.LicenseLimit, owner).
				WithCode(database.CodeQuotaExceeded)
		}
		if !errors.Is(err, database.ErrVersionConflict) || attempt == reserveAttempts {
			return database.AsAppError(err, "account", "failed to adjust license allocation")
		}
	}
}

// DeleteSubaccount removes a managed subaccount, frees its quota slot and
// returns its licenses to the parent.
func (s *Service) DeleteSubaccount(ctx context.Context, actor *Actor, email string) error {
	email = auth.NormalizeEmail(email)
	res, err := s.manageSubaccount(ctx, actor, email)
	if err != nil {
		return err
	}
	sub := res.Subaccount

	if err := res.Handle.DeleteSubaccount(ctx, email); err != nil {
		return database.AsAppError(err, "subaccount", "failed to delete subaccount")
	}
	s.releaseSlot(ctx, sub.ParentEmail)
	if sub.LicenseAllocation > 0 {
		if err := s.moveParentLicenses(ctx, sub.ParentEmail, -sub.LicenseAllocation); err != nil {
			s.logger.Error().Err(err).Str("owner", sub.ParentEmail).Msg("Failed to return licenses to parent")
		}
	}

	s.cache.InvalidateOwner(ctx, email, cache.KindPerm)
	s.invalidateOwner(ctx, sub.ParentEmail, cache.KindSubaccounts)
	s.invalidateAccounts(ctx)
	s.logger.Info().Str("email", email).Str("owner", sub.ParentEmail).Str("by", actor.Principal.Email).Msg("Subaccount deleted")
	return nil
}
