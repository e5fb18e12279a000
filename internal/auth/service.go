// Package auth issues and validates access tokens, verifies credentials
// and attaches the authenticated principal and its tenant database to
// each request.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"erasure-cloud/config"
	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/cache"
	"erasure-cloud/internal/database"
	"erasure-cloud/internal/rbac"
	"erasure-cloud/internal/tenant"
)

// Resolution is the tenant routing of one authenticated request.
type Resolution = tenant.Resolution[database.Store]

// Service handles authentication operations
type Service struct {
	resolver  *tenant.Resolver[database.Store]
	engine    *rbac.Engine
	cache     *cache.CacheService
	jwt       *JWTManager
	passwords *PasswordManager
	config    config.AuthConfig
	now       func() time.Time
	logger    zerolog.Logger
}

// NewService creates a new authentication service. cs may be nil.
func NewService(resolver *tenant.Resolver[database.Store], engine *rbac.Engine, cs *cache.CacheService, cfg config.AuthConfig, logger zerolog.Logger) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT secret is required")
	}
	return &Service{
		resolver:  resolver,
		engine:    engine,
		cache:     cs,
		jwt:       NewJWTManager(cfg.JWTSecret, cfg.Issuer, cfg.AccessTokenDuration),
		passwords: NewPasswordManager(cfg.BcryptCost, cfg.MinPasswordLength),
		config:    cfg,
		now:       time.Now,
		logger:    logger.With().Str("component", "auth").Logger(),
	}, nil
}

// GetJWTManager returns the JWT manager for use in middleware
func (s *Service) GetJWTManager() *JWTManager {
	return s.jwt
}

// Passwords returns the shared password hasher.
func (s *Service) Passwords() *PasswordManager {
	return s.passwords
}

// Engine returns the authorization engine requests are checked against.
func (s *Service) Engine() *rbac.Engine {
	return s.engine
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// TenantKey names the database a resolution points at, for cache keys.
func TenantKey(res *Resolution) string {
	if res != nil && res.Dedicated {
		return res.OwnerEmail
	}
	return "main"
}

// credential is the login-relevant part of an account or subaccount row.
type credential struct {
	hash        string
	status      database.AccountStatus
	version     int64
	parentEmail string
}

func credentialOf(res *Resolution) credential {
	if res.Subaccount != nil {
		sub := res.Subaccount
		return credential{hash: sub.PasswordHash, status: sub.Status, version: sub.RowVersion, parentEmail: sub.ParentEmail}
	}
	acc := res.Account
	return credential{hash: acc.PasswordHash, status: acc.Status, version: acc.RowVersion}
}

// recordStore is where the principal's own row is written: accounts live
// in the main database, subaccounts in their resolved one.
func recordStore(res *Resolution) database.Store {
	if res.Kind == database.KindSubaccount {
		return res.Handle
	}
	return res.Main
}

// roleStore is the override the engine evaluates a subaccount against.
func roleStore(res *Resolution) rbac.Store {
	if res.Kind == database.KindSubaccount && res.Dedicated {
		return res.Handle
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, email string, isSubaccount bool) (*Resolution, error) {
	res, err := s.resolver.Resolve(ctx, email, isSubaccount)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantUnavailable) {
			s.logger.Warn().Err(err).Str("email", email).Msg("Tenant database unavailable")
			return nil, ErrTenantUnavailable
		}
		return nil, err
	}
	return res, nil
}

// Resolve authenticates nothing; it routes an already validated principal
// and fails when the principal no longer exists.
func (s *Service) Resolve(ctx context.Context, p *Principal) (*Resolution, error) {
	res, err := s.resolve(ctx, p.Email, p.IsSubaccount())
	if err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, ErrInvalidToken
	}
	return res, nil
}

// Register creates a pending account with no roles.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*database.Account, error) {
	email := NormalizeEmail(req.Email)

	if err := s.passwords.ValidatePasswordStrength(req.Password); err != nil {
		return nil, apperr.Validation("%s", err.Error()).WithCode(CodeWeakPassword)
	}

	main := s.resolver.Main()
	existing, err := main.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, apperr.External("failed to check email", err)
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := s.passwords.HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Internal("failed to hash password", err)
	}

	account := &database.Account{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		Phone:        req.Phone,
		PasswordHash: hash,
		Status:       database.StatusPending,
	}
	if err := main.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrEmailExists
		}
		return nil, apperr.External("failed to create account", err)
	}

	s.logger.Info().Str("email", email).Msg("Account registered, awaiting activation")
	return account, nil
}

// Login verifies credentials and issues an access token bound to sourceIP.
func (s *Service) Login(ctx context.Context, req LoginRequest, sourceIP string) (*LoginResponse, error) {
	email := NormalizeEmail(req.Email)

	res, err := s.resolve(ctx, email, req.IsSubaccount)
	if err != nil {
		return nil, err
	}
	if !res.Found {
		s.logger.Debug().Str("email", email).Bool("subaccount", req.IsSubaccount).Msg("Login for unknown principal")
		return nil, ErrInvalidCredentials
	}

	cred := credentialOf(res)
	ok, needsRehash := s.passwords.VerifyPassword(req.Password, cred.hash)
	if !ok {
		s.logger.Info().Str("email", email).Msg("Login failed: bad password")
		return nil, ErrInvalidCredentials
	}
	if cred.status != database.StatusActive {
		return nil, apperr.Forbidden("account is %s", cred.status).WithCode(CodeAccountInactive)
	}

	store := recordStore(res)
	if needsRehash {
		s.rehash(ctx, store, res.Kind, email, req.Password, cred.version)
	}

	grants, err := s.grants(ctx, email, res)
	if err != nil {
		return nil, err
	}

	p := &Principal{
		Email:       email,
		Kind:        res.Kind,
		ParentEmail: cred.parentEmail,
		SourceIP:    sourceIP,
		Roles:       grants.Roles,
	}
	token, expiresAt, err := s.jwt.GenerateAccessToken(p)
	if err != nil {
		return nil, apperr.Internal("failed to issue token", err)
	}

	now := s.now().UTC()
	var touchErr error
	if res.Kind == database.KindSubaccount {
		touchErr = store.TouchSubaccountLogin(ctx, email, now)
	} else {
		touchErr = store.TouchAccountLogin(ctx, email, now)
	}
	if touchErr != nil {
		s.logger.Warn().Err(touchErr).Str("email", email).Msg("Failed to record login time")
	}

	s.logger.Info().
		Str("email", email).
		Str("kind", string(res.Kind)).
		Str("tenant", TenantKey(res)).
		Strs("roles", grants.Roles).
		Msg("Login succeeded")

	return &LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   s.jwt.GetAccessTokenDuration(),
		ExpiresAt:   expiresAt,
		Principal:   p,
	}, nil
}

// rehash upgrades a legacy or weak credential. Failure leaves the old one in place.
func (s *Service) rehash(ctx context.Context, store database.Store, kind database.PrincipalKind, email, password string, version int64) {
	hash, err := s.passwords.HashPassword(password)
	if err != nil {
		s.logger.Warn().Err(err).Str("email", email).Msg("Password rehash failed")
		return
	}
	if kind == database.KindSubaccount {
		_, err = store.UpdateSubaccountPassword(ctx, email, hash, version)
	} else {
		_, err = store.UpdateAccountPassword(ctx, email, hash, version)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("email", email).Msg("Password rehash not stored")
		return
	}
	s.logger.Info().Str("email", email).Msg("Legacy password upgraded to bcrypt")
}

// grants returns the cached effective authorization state of a principal.
func (s *Service) grants(ctx context.Context, email string, res *Resolution) (*rbac.Grants, error) {
	key := cache.NewKey(cache.KindPerm, email, TenantKey(res), nil)
	g, err := cache.GetOrLoad(ctx, s.cache, key, func(ctx context.Context) (*rbac.Grants, error) {
		return s.engine.Grants(ctx, email, res.Kind == database.KindSubaccount, roleStore(res))
	})
	if err != nil {
		if errors.Is(err, rbac.ErrPrincipalNotFound) {
			return nil, ErrInvalidToken
		}
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.External("failed to resolve roles", err)
	}
	return g, nil
}

// Grants returns the caller's effective roles, permissions and tier.
func (s *Service) Grants(ctx context.Context, p *Principal, res *Resolution) (*rbac.Grants, error) {
	return s.grants(ctx, p.Email, res)
}

// Authorize fails with Forbidden unless the caller holds every perm.
func (s *Service) Authorize(ctx context.Context, p *Principal, res *Resolution, perms ...string) error {
	g, err := s.grants(ctx, p.Email, res)
	if err != nil {
		return err
	}
	for _, perm := range perms {
		if !g.Has(perm) {
			return apperr.Forbidden("missing permission %s", perm)
		}
	}
	return nil
}

// Me returns the caller's own record.
func (s *Service) Me(ctx context.Context, p *Principal, res *Resolution) (*Profile, error) {
	g, err := s.grants(ctx, p.Email, res)
	if err != nil {
		return nil, err
	}
	current := *p
	current.Roles = g.Roles
	return &Profile{
		Principal:  &current,
		Account:    res.Account,
		Subaccount: res.Subaccount,
		Dedicated:  res.Dedicated,
	}, nil
}

// ChangePassword replaces the caller's password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, p *Principal, res *Resolution, req ChangePasswordRequest) error {
	cred := credentialOf(res)
	if ok, _ := s.passwords.VerifyPassword(req.CurrentPassword, cred.hash); !ok {
		return ErrInvalidCredentials
	}
	if err := s.passwords.ValidatePasswordStrength(req.NewPassword); err != nil {
		return apperr.Validation("%s", err.Error()).WithCode(CodeWeakPassword)
	}

	hash, err := s.passwords.HashPassword(req.NewPassword)
	if err != nil {
		return apperr.Internal("failed to hash password", err)
	}

	store := recordStore(res)
	if p.IsSubaccount() {
		_, err = store.UpdateSubaccountPassword(ctx, p.Email, hash, cred.version)
	} else {
		_, err = store.UpdateAccountPassword(ctx, p.Email, hash, cred.version)
	}
	switch {
	case errors.Is(err, database.ErrVersionConflict):
		return apperr.Conflict("account was modified concurrently, retry")
	case errors.Is(err, database.ErrNotFound):
		return apperr.NotFound("account %s not found", p.Email)
	case err != nil:
		return apperr.External("failed to update password", err)
	}

	s.logger.Info().Str("email", p.Email).Msg("Password changed")
	return nil
}
