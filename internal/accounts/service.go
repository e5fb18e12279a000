// Package accounts administers accounts and their subaccounts: creation
// rules, the flattened ownership hierarchy, quotas kept on the main
// database, dependency-checked deletion and role administration.
package accounts

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/auth"
	"erasure-cloud/internal/cache"
	"erasure-cloud/internal/database"
	"erasure-cloud/internal/rbac"
	"erasure-cloud/internal/tenant"
)

// Actor is the authenticated caller of an operation.
type Actor = auth.RequestContext

const reserveAttempts = 3

// Service orchestrates account and subaccount administration.
type Service struct {
	resolver *tenant.Resolver[database.Store]
	auth     *auth.Service
	cache    *cache.CacheService
	private  PrivateCloud
	logger   zerolog.Logger
}

// NewService creates the accounts service. cs may be nil.
func NewService(resolver *tenant.Resolver[database.Store], authSvc *auth.Service, cs *cache.CacheService, pc PrivateCloud, logger zerolog.Logger) *Service {
	return &Service{
		resolver: resolver,
		auth:     authSvc,
		cache:    cs,
		private:  pc,
		logger:   logger.With().Str("component", "accounts").Logger(),
	}
}

func (s *Service) grants(ctx context.Context, actor *Actor) (*rbac.Grants, error) {
	return s.auth.Grants(ctx, actor.Principal, actor.Tenant)
}

func (s *Service) require(ctx context.Context, actor *Actor, perms ...string) (*rbac.Grants, error) {
	g, err := s.grants(ctx, actor)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		if !g.Has(p) {
			return nil, apperr.Forbidden("missing permission %s", p)
		}
	}
	return g, nil
}

// engineFor evaluates decisions with the actor read from the database that
// holds its record and the managed principals read from target.
func (s *Service) engineFor(actor *Actor, target database.Store) *rbac.Engine {
	e := s.auth.Engine()
	if actor.Principal.IsSubaccount() && actor.Tenant.Dedicated {
		e = e.WithStore(actor.Tenant.Handle)
	}
	return e.ForTarget(target)
}

func isSelf(actor *Actor, email string, isSubaccount bool) bool {
	return actor.Principal.IsSubaccount() == isSubaccount && strings.EqualFold(actor.Principal.Email, email)
}

func listParams(f database.ListFilter) map[string]string {
	return map[string]string{
		"owner":  f.OwnerEmail,
		"status": f.Status,
		"search": f.Search,
		"limit":  strconv.Itoa(f.Limit),
		"offset": strconv.Itoa(f.Offset),
	}
}

func (s *Service) invalidateAccounts(ctx context.Context) {
	s.cache.InvalidateKind(ctx, cache.KindAccounts)
}

// invalidateOwner drops everything cached for the owner's data, including
// lists spanning all owners.
func (s *Service) invalidateOwner(ctx context.Context, owner string, kinds ...string) {
	s.cache.InvalidateOwner(ctx, owner, kinds...)
	s.cache.InvalidateOwner(ctx, "", kinds...)
}

func (s *Service) mainStore() database.Store {
	return s.resolver.Main()
}

func (s *Service) loadAccount(ctx context.Context, email string) (*database.Account, error) {
	acc, err := s.mainStore().GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, apperr.External("failed to load account", err)
	}
	if acc == nil {
		return nil, apperr.NotFound("account %s not found", email)
	}
	return acc, nil
}

// ListAccounts returns accounts on the main database.
func (s *Service) ListAccounts(ctx context.Context, actor *Actor, f database.ListFilter) (*database.Page[database.Account], error) {
	if _, err := s.require(ctx, actor, rbac.PermUsersRead); err != nil {
		return nil, err
	}
	f.Normalize()
	f.OwnerEmail = ""

	key := cache.NewKey(cache.KindAccounts, actor.Principal.Email, "main", listParams(f))
	return cache.GetOrLoad(ctx, s.cache, key, func(ctx context.Context) (*database.Page[database.Account], error) {
		rows, total, err := s.mainStore().ListAccounts(ctx, f)
		if err != nil {
			return nil, apperr.External("failed to list accounts", err)
		}
		return database.NewPage(rows, total, f), nil
	})
}

// GetAccount returns one account. Callers may always read their own.
func (s *Service) GetAccount(ctx context.Context, actor *Actor, email string) (*database.Account, error) {
	email = auth.NormalizeEmail(email)
	if !isSelf(actor, email, false) {
		if _, err := s.require(ctx, actor, rbac.PermUsersRead); err != nil {
			return nil, err
		}
	}
	return s.loadAccount(ctx, email)
}

// CreateAccount creates an active account, optionally holding a role the
// caller may assign.
func (s *Service) CreateAccount(ctx context.Context, actor *Actor, req CreateAccountRequest) (*database.Account, error) {
	g, err := s.grants(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !g.Has(rbac.PermUsersManage) && !g.Has(rbac.PermUsersManageAll) {
		return nil, apperr.Forbidden("missing permission %s", rbac.PermUsersManage)
	}
	if actor.Principal.IsSubaccount() {
		return nil, apperr.Forbidden("subaccounts cannot create accounts")
	}

	email := auth.NormalizeEmail(req.Email)
	role := strings.TrimSpace(req.Role)
	main := s.mainStore()

	if role != "" && !s.engineFor(actor, main).CanAssignRole(ctx, actor.Principal.Email, role) {
		return nil, apperr.Forbidden("role %s is not assignable by %s", role, actor.Principal.Email)
	}
	if err := s.auth.Passwords().ValidatePasswordStrength(req.Password); err != nil {
		return nil, apperr.Validation("%s", err.Error()).WithCode(auth.CodeWeakPassword)
	}
	hash, err := s.auth.Passwords().HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Internal("failed to hash password", err)
	}

	account := &database.Account{
		Email:           email,
		Name:            strings.TrimSpace(req.Name),
		PasswordHash:    hash,
		Department:      req.Department,
		Group:           req.Group,
		Phone:           req.Phone,
		Status:          database.StatusActive,
		SubaccountLimit: req.SubaccountLimit,
		LicenseLimit:    req.LicenseLimit,
	}
	err = main.InTx(ctx, func(tx database.Store) error {
		if err := tx.CreateAccount(ctx, account); err != nil {
			return err
		}
		if role == "" {
			return nil
		}
		_, err := tx.AssignRole(ctx, database.RoleAssignment{
			PrincipalEmail:  email,
			Kind:            database.KindAccount,
			RoleName:        role,
			AssignedByEmail: actor.Principal.Email,
		})
		return err
	})
	if errors.Is(err, database.ErrDuplicate) {
		return nil, auth.ErrEmailExists
	}
	if err != nil {
		return nil, database.AsAppError(err, "account", "failed to create account")
	}

	s.invalidateAccounts(ctx)
	s.logger.Info().
		Str("email", email).
		Str("role", role).
		Str("created_by", actor.Principal.Email).
		Msg("Account created")
	return account, nil
}

// UpdateAccount patches profile fields of the caller or of an account the
// caller manages.
func (s *Service) UpdateAccount(ctx context.Context, actor *Actor, email string, req UpdateProfileRequest) (*database.Account, error) {
	email = auth.NormalizeEmail(email)
	main := s.mainStore()
	if !isSelf(actor, email, false) && !s.engineFor(actor, main).CanManage(ctx, actor.Principal.Email, email, false) {
		return nil, apperr.Forbidden("cannot manage account %s", email)
	}

	acc, err := s.loadAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	if req.RowVersion != 0 && req.RowVersion != acc.RowVersion {
		return nil, apperr.Conflict("account was modified concurrently, retry")
	}
	applyProfile(&acc.Name, &acc.Department, &acc.Group, &acc.Phone, req)

	if err := main.UpdateAccountProfile(ctx, acc); err != nil {
		return nil, database.AsAppError(err, "account", "failed to update account")
	}
	s.invalidateAccounts(ctx)
	return acc, nil
}

func applyProfile(name, department, group, phone *string, req UpdateProfileRequest) {
	if req.Name != nil {
		*name = strings.TrimSpace(*req.Name)
	}
	if req.Department != nil {
		*department = *req.Department
	}
	if req.Group != nil {
		*group = *req.Group
	}
	if req.Phone != nil {
		*phone = *req.Phone
	}
}

// SetAccountStatus activates, deactivates or suspends a managed account.
func (s *Service) SetAccountStatus(ctx context.Context, actor *Actor, email string, status database.AccountStatus) error {
	email = auth.NormalizeEmail(email)
	if !status.Valid() {
		return apperr.Validation("unknown status %q", status)
	}
	main := s.mainStore()
	if !s.engineFor(actor, main).CanManage(ctx, actor.Principal.Email, email, false) {
		return apperr.Forbidden("cannot manage account %s", email)
	}
	if err := main.UpdateAccountStatus(ctx, email, status); err != nil {
		return database.AsAppError(err, "account", "failed to update account status")
	}

	s.invalidateAccounts(ctx)
	s.logger.Info().Str("email", email).Str("status", string(status)).Str("by", actor.Principal.Email).Msg("Account status changed")
	return nil
}

// SetAccountLimits replaces the subaccount and license quotas.
func (s *Service) SetAccountLimits(ctx context.Context, actor *Actor, email string, req LimitsRequest) (*database.Account, error) {
	if _, err := s.require(ctx, actor, rbac.PermUsersManageAll); err != nil {
		return nil, err
	}
	if req.SubaccountLimit < 0 || req.LicenseLimit < 0 {
		return nil, apperr.Validation("limits must not be negative")
	}
	email = auth.NormalizeEmail(email)
	if _, err := s.mainStore().SetAccountLimits(ctx, email, req.SubaccountLimit, req.LicenseLimit, req.RowVersion); err != nil {
		return nil, database.AsAppError(err, "account", "failed to update account limits")
	}
	s.invalidateAccounts(ctx)
	return s.loadAccount(ctx, email)
}

// AdjustLicenses moves an account's allocated license counter by delta,
// bounded by its license limit.
func (s *Service) AdjustLicenses(ctx context.Context, actor *Actor, email string, req LicenseAdjustRequest) (*database.Account, error) {
	if _, err := s.require(ctx, actor, rbac.PermLicensesManage); err != nil {
		return nil, err
	}
	email = auth.NormalizeEmail(email)
	acc, err := s.mainStore().AdjustLicenseAllocation(ctx, email, req.Delta, req.RowVersion)
	if err != nil {
		return nil, database.AsAppError(err, "license allocation", "failed to adjust license allocation")
	}
	s.invalidateAccounts(ctx)
	s.logger.Info().Str("email", email).Int("delta", req.Delta).Int("allocated", acc.LicensesAllocated).Msg("License allocation adjusted")
	return acc, nil
}

// DeleteAccount removes an account once nothing depends on it. With
// transferTo set, subaccounts, machines and reports move to that account
// first, in the same transaction.
func (s *Service) DeleteAccount(ctx context.Context, actor *Actor, email, transferTo string) (*DeleteResult, error) {
	email = auth.NormalizeEmail(email)
	transferTo = auth.NormalizeEmail(transferTo)
	main := s.mainStore()

	if !s.engineFor(actor, main).CanManage(ctx, actor.Principal.Email, email, false) {
		return nil, apperr.Forbidden("cannot manage account %s", email)
	}
	acc, err := s.loadAccount(ctx, email)
	if err != nil {
		return nil, err
	}

	deps, err := main.CountAccountDependents(ctx, email)
	if err != nil {
		return nil, apperr.External("failed to count dependents", err)
	}
	if acc.IsPrivateCloud {
		res, err := s.resolver.Resolve(ctx, email, false)
		if err != nil {
			return nil, err
		}
		dedicated, err := res.Handle.CountAccountDependents(ctx, email)
		if err != nil {
			return nil, apperr.External("failed to count dependents", err)
		}
		if dedicated.Any() {
			return nil, apperr.Conflict("account %s still owns data in its private cloud database", email).WithCode(CodeTransferBlocked)
		}
	}

	result := &DeleteResult{Email: email}
	if deps.Any() {
		if transferTo == "" {
			return nil, apperr.Conflict("account %s still has %d subaccounts, %d machines and %d reports",
				email, deps.Subaccounts, deps.Machines, deps.Reports).WithCode(CodeDependentsExist)
		}
		if transferTo == email {
			return nil, apperr.Validation("cannot transfer dependents to the account being deleted")
		}
		target, err := s.loadAccount(ctx, transferTo)
		if err != nil {
			return nil, err
		}
		if target.IsPrivateCloud {
			return nil, apperr.Conflict("cannot transfer into private cloud account %s", transferTo).WithCode(CodeTransferBlocked)
		}
		result.TransferTo = transferTo
	}

	err = main.InTx(ctx, func(tx database.Store) error {
		if result.TransferTo != "" {
			moved, err := tx.TransferAccountDependents(ctx, email, transferTo)
			if err != nil {
				return err
			}
			result.Transferred = moved
			if moved.Subaccounts > 0 {
				if err := tx.AddSubaccountsCreated(ctx, transferTo, moved.Subaccounts); err != nil {
					return err
				}
			}
		}
		return tx.DeleteAccount(ctx, email)
	})
	if err != nil {
		return nil, database.AsAppError(err, "account", "failed to delete account")
	}

	s.invalidateAccounts(ctx)
	s.cache.InvalidateOwner(ctx, email, cache.KindPerm)
	s.invalidateOwner(ctx, email, cache.KindSubaccounts, cache.KindMachines, cache.KindReports)
	if result.TransferTo != "" {
		s.invalidateOwner(ctx, transferTo, cache.KindSubaccounts, cache.KindMachines, cache.KindReports)
	}

	s.logger.Info().
		Str("email", email).
		Str("transfer_to", result.TransferTo).
		Int("subaccounts", result.Transferred.Subaccounts).
		Int("machines", result.Transferred.Machines).
		Int("reports", result.Transferred.Reports).
		Str("by", actor.Principal.Email).
		Msg("Account deleted")
	return result, nil
}
