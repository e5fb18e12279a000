// Package inventory serves machines and erasure reports out of the
// caller's tenant database.
package inventory

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/auth"
	"erasure-cloud/internal/cache"
	"erasure-cloud/internal/database"
	"erasure-cloud/internal/rbac"
)

// Actor is the authenticated caller of an operation.
type Actor = auth.RequestContext

// MaxExportRows bounds one export.
const MaxExportRows = 10000

// Service is the machines and reports surface.
type Service struct {
	auth   *auth.Service
	cache  *cache.CacheService
	logger zerolog.Logger
}

// NewService creates the inventory service. cs may be nil.
func NewService(authSvc *auth.Service, cs *cache.CacheService, logger zerolog.Logger) *Service {
	return &Service{
		auth:   authSvc,
		cache:  cs,
		logger: logger.With().Str("component", "inventory").Logger(),
	}
}

func (s *Service) require(ctx context.Context, actor *Actor, perm string) (*rbac.Grants, error) {
	g, err := s.auth.Grants(ctx, actor.Principal, actor.Tenant)
	if err != nil {
		return nil, err
	}
	if !g.Has(perm) {
		return nil, apperr.Forbidden("missing permission %s", perm)
	}
	return g, nil
}

// scope is the owner whose rows the caller sees. SuperAdmin may name any
// owner or none.
func scope(g *rbac.Grants, actor *Actor, requested string) string {
	if g.Bypass() {
		return auth.NormalizeEmail(requested)
	}
	return actor.Principal.OwnerEmail()
}

// visible reports whether a row owned by owner is in the caller's scope.
func visible(g *rbac.Grants, actor *Actor, owner string) bool {
	return g.Bypass() || strings.EqualFold(owner, actor.Principal.OwnerEmail())
}

func listParams(f database.ListFilter) map[string]string {
	return map[string]string{
		"status": f.Status,
		"search": f.Search,
		"limit":  strconv.Itoa(f.Limit),
		"offset": strconv.Itoa(f.Offset),
	}
}

func (s *Service) invalidate(ctx context.Context, owner string, kinds ...string) {
	s.cache.InvalidateOwner(ctx, owner, kinds...)
	s.cache.InvalidateOwner(ctx, "", kinds...)
}

// ListMachines returns a page of machines in the caller's scope.
func (s *Service) ListMachines(ctx context.Context, actor *Actor, f database.ListFilter) (*database.Page[database.Machine], error) {
	g, err := s.require(ctx, actor, rbac.PermMachinesRead)
	if err != nil {
		return nil, err
	}
	f.Normalize()
	f.OwnerEmail = scope(g, actor, f.OwnerEmail)

	store := actor.Store()
	key := cache.NewKey(cache.KindMachines, f.OwnerEmail, auth.TenantKey(actor.Tenant), listParams(f))
	return cache.GetOrLoad(ctx, s.cache, key, func(ctx context.Context) (*database.Page[database.Machine], error) {
		rows, total, err := store.ListMachines(ctx, f)
		if err != nil {
			return nil, apperr.External("failed to list machines", err)
		}
		return database.NewPage(rows, total, f), nil
	})
}

func (s *Service) loadMachine(ctx context.Context, g *rbac.Grants, actor *Actor, id string) (*database.Machine, error) {
	m, err := actor.Store().GetMachine(ctx, id)
	if err != nil {
		return nil, apperr.External("failed to load machine", err)
	}
	if m == nil || !visible(g, actor, m.OwnerEmail) {
		return nil, apperr.NotFound("machine %s not found", id)
	}
	return m, nil
}

// GetMachine returns one machine in the caller's scope.
func (s *Service) GetMachine(ctx context.Context, actor *Actor, id string) (*database.Machine, error) {
	g, err := s.require(ctx, actor, rbac.PermMachinesRead)
	if err != nil {
		return nil, err
	}
	return s.loadMachine(ctx, g, actor, id)
}

// CreateMachine registers a machine for the caller's owner. Subaccounts
// are recorded as the registering identity.
func (s *Service) CreateMachine(ctx context.Context, actor *Actor, req MachineRequest) (*database.Machine, error) {
	if _, err := s.require(ctx, actor, rbac.PermMachinesManage); err != nil {
		return nil, err
	}
	hostname := strings.TrimSpace(req.Hostname)
	if hostname == "" {
		return nil, apperr.Validation("hostname is required")
	}
	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = MachineOnline
	}
	if !validMachineStatus(status) {
		return nil, apperr.Validation("unknown machine status %q", status)
	}

	m := &database.Machine{
		OwnerEmail:   actor.Principal.OwnerEmail(),
		Hostname:     hostname,
		SerialNumber: strings.TrimSpace(req.SerialNumber),
		Manufacturer: req.Manufacturer,
		Model:        req.Model,
		OSVersion:    req.OSVersion,
		MACAddress:   strings.ToLower(strings.TrimSpace(req.MACAddress)),
		Status:       status,
	}
	if actor.Principal.IsSubaccount() {
		m.SubaccountEmail = actor.Principal.Email
	}
	if err := actor.Store().CreateMachine(ctx, m); err != nil {
		return nil, database.AsAppError(err, "machine", "failed to create machine")
	}

	s.invalidate(ctx, m.OwnerEmail, cache.KindMachines)
	s.logger.Info().Str("machine", m.ID).Str("owner", m.OwnerEmail).Str("by", actor.Principal.Email).Msg("Machine registered")
	return m, nil
}

// UpdateMachine applies patch to a machine in the caller's scope.
func (s *Service) UpdateMachine(ctx context.Context, actor *Actor, id string, patch MachinePatch) (*database.Machine, error) {
	g, err := s.require(ctx, actor, rbac.PermMachinesManage)
	if err != nil {
		return nil, err
	}
	m, err := s.loadMachine(ctx, g, actor, id)
	if err != nil {
		return nil, err
	}

	if patch.Hostname != nil {
		h := strings.TrimSpace(*patch.Hostname)
		if h == "" {
			return nil, apperr.Validation("hostname cannot be empty")
		}
		m.Hostname = h
	}
	if patch.Status != nil {
		if !validMachineStatus(*patch.Status) {
			return nil, apperr.Validation("unknown machine status %q", *patch.Status)
		}
		m.Status = *patch.Status
	}
	if patch.SerialNumber != nil {
		m.SerialNumber = strings.TrimSpace(*patch.SerialNumber)
	}
	if patch.Manufacturer != nil {
		m.Manufacturer = *patch.Manufacturer
	}
	if patch.Model != nil {
		m.Model = *patch.Model
	}
	if patch.OSVersion != nil {
		m.OSVersion = *patch.OSVersion
	}
	if patch.MACAddress != nil {
		m.MACAddress = strings.ToLower(strings.TrimSpace(*patch.MACAddress))
	}
	if patch.LastSeenAt != nil {
		m.LastSeenAt = patch.LastSeenAt
	}

	if err := actor.Store().UpdateMachine(ctx, m); err != nil {
		return nil, database.AsAppError(err, "machine", "failed to update machine")
	}
	s.invalidate(ctx, m.OwnerEmail, cache.KindMachines)
	return m, nil
}

// DeleteMachine removes a machine. Its reports stay, unlinked.
func (s *Service) DeleteMachine(ctx context.Context, actor *Actor, id string) error {
	g, err := s.require(ctx, actor, rbac.PermMachinesManage)
	if err != nil {
		return err
	}
	m, err := s.loadMachine(ctx, g, actor, id)
	if err != nil {
		return err
	}
	if err := actor.Store().DeleteMachine(ctx, id); err != nil {
		return database.AsAppError(err, "machine", "failed to delete machine")
	}
	s.invalidate(ctx, m.OwnerEmail, cache.KindMachines, cache.KindReports)
	s.logger.Info().Str("machine", id).Str("by", actor.Principal.Email).Msg("Machine deleted")
	return nil
}
