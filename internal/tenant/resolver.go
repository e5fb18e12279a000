// Package tenant decides which physical database serves a principal and
// keeps the dedicated database pools of private cloud accounts.
package tenant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/database"
)

// ErrTenantUnavailable is returned when a principal belongs to a dedicated
// database that cannot be reached. Callers treat it as unauthenticated.
var ErrTenantUnavailable = errors.New("tenant database unavailable")

var probesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tenant_probes_total",
		Help: "Private cloud subaccount probes by outcome",
	},
	[]string{"outcome"},
)

// Handle is the part of a database the resolver reads principals from.
type Handle interface {
	GetAccountByEmail(ctx context.Context, email string) (*database.Account, error)
	GetSubaccountByEmail(ctx context.Context, email string) (*database.Subaccount, error)
	ListPrivateCloudAccounts(ctx context.Context) ([]database.Account, error)
}

// Registry hands out database handles. Main is always available;
// Dedicated opens (or reuses) the private database of one owner.
type Registry[H Handle] interface {
	Main() H
	Dedicated(ctx context.Context, ownerEmail string) (H, error)
}

// Resolution is where a request for one principal must be served.
type Resolution[H Handle] struct {
	// Handle serves ordinary data operations for the request.
	Handle H
	// Main always points at the shared database. Quota and other
	// administrative counters are read and written here only.
	Main H
	// Dedicated is true when Handle is a private cloud database owned by OwnerEmail.
	Dedicated  bool
	OwnerEmail string

	Kind       database.PrincipalKind
	Found      bool
	Account    *database.Account
	Subaccount *database.Subaccount
	// Probed is true when the subaccount was discovered by scanning
	// private cloud databases.
	Probed bool
}

// Options bounds the cross-tenant probe.
type Options struct {
	ProbeBudget  time.Duration
	ProbeTimeout time.Duration
}

// DefaultOptions returns the production probe limits.
func DefaultOptions() Options {
	return Options{ProbeBudget: 20 * time.Second, ProbeTimeout: 3 * time.Second}
}

// Resolver routes principals to their database. It keeps no per-request
// state and takes no locks.
type Resolver[H Handle] struct {
	registry Registry[H]
	opts     Options
	logger   zerolog.Logger
}

// NewResolver creates a resolver over registry.
func NewResolver[H Handle](registry Registry[H], opts Options, logger zerolog.Logger) *Resolver[H] {
	def := DefaultOptions()
	if opts.ProbeBudget <= 0 {
		opts.ProbeBudget = def.ProbeBudget
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = def.ProbeTimeout
	}
	return &Resolver[H]{
		registry: registry,
		opts:     opts,
		logger:   logger.With().Str("component", "tenant").Logger(),
	}
}

// Main returns the shared database handle.
func (r *Resolver[H]) Main() H {
	return r.registry.Main()
}

// Resolve returns the database that serves email. Unknown principals
// resolve to the main database with Found false.
func (r *Resolver[H]) Resolve(ctx context.Context, email string, isSubaccount bool) (*Resolution[H], error) {
	if isSubaccount {
		return r.resolveSubaccount(ctx, email)
	}
	return r.resolveAccount(ctx, email)
}

func (r *Resolver[H]) base(kind database.PrincipalKind) *Resolution[H] {
	shared := r.registry.Main()
	return &Resolution[H]{Handle: shared, Main: shared, Kind: kind}
}

func (r *Resolver[H]) resolveAccount(ctx context.Context, email string) (*Resolution[H], error) {
	res := r.base(database.KindAccount)

	acc, err := res.Main.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, apperr.External("failed to load account", err)
	}
	if acc == nil {
		return res, nil
	}
	res.Found = true
	res.Account = acc
	if !acc.IsPrivateCloud {
		return res, nil
	}

	h, err := r.registry.Dedicated(ctx, acc.Email)
	if err != nil {
		r.logger.Error().Err(err).Str("owner", acc.Email).Msg("Dedicated database unreachable")
		return nil, apperr.External("tenant database unavailable", errors.Join(ErrTenantUnavailable, err))
	}
	res.Handle = h
	res.Dedicated = true
	res.OwnerEmail = acc.Email
	return res, nil
}

func (r *Resolver[H]) resolveSubaccount(ctx context.Context, email string) (*Resolution[H], error) {
	res := r.base(database.KindSubaccount)

	sub, err := res.Main.GetSubaccountByEmail(ctx, email)
	if err != nil {
		return nil, apperr.External("failed to load subaccount", err)
	}
	if sub == nil {
		return r.probe(ctx, res, email)
	}

	parent, err := res.Main.GetAccountByEmail(ctx, sub.ParentEmail)
	if err != nil {
		return nil, apperr.External("failed to load parent account", err)
	}
	if parent == nil || !parent.IsPrivateCloud {
		res.Found = true
		res.Subaccount = sub
		return res, nil
	}

	// The dedicated copy is authoritative; the main row may be stale.
	h, err := r.registry.Dedicated(ctx, parent.Email)
	if err != nil {
		r.logger.Error().Err(err).Str("owner", parent.Email).Str("email", email).Msg("Dedicated database unreachable")
		return nil, apperr.External("tenant database unavailable", errors.Join(ErrTenantUnavailable, err))
	}
	res.Handle = h
	res.Dedicated = true
	res.OwnerEmail = parent.Email

	authoritative, err := h.GetSubaccountByEmail(ctx, email)
	if err != nil {
		r.logger.Error().Err(err).Str("owner", parent.Email).Str("email", email).Msg("Dedicated subaccount lookup failed")
		return nil, apperr.External("tenant database unavailable", errors.Join(ErrTenantUnavailable, err))
	}
	if authoritative == nil {
		r.logger.Warn().Str("owner", parent.Email).Str("email", email).Msg("Subaccount missing from dedicated database")
		return res, nil
	}
	if !r.ownedBy(authoritative, parent.Email) {
		return res, nil
	}
	res.Found = true
	res.Subaccount = authoritative
	return res, nil
}

// probe scans private cloud databases for email, stopping at the first
// match. Unreachable tenants are skipped and an exhausted budget resolves
// to not found.
func (r *Resolver[H]) probe(ctx context.Context, res *Resolution[H], email string) (*Resolution[H], error) {
	owners, err := res.Main.ListPrivateCloudAccounts(ctx)
	if err != nil {
		return nil, apperr.External("failed to list private cloud accounts", err)
	}
	if len(owners) == 0 {
		return res, nil
	}

	budgetCtx, cancel := context.WithTimeout(ctx, r.opts.ProbeBudget)
	defer cancel()
	started := time.Now()

	for _, owner := range owners {
		if err := budgetCtx.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.Warn().
				Str("email", email).
				Dur("elapsed", time.Since(started)).
				Int("tenants", len(owners)).
				Msg("Private cloud probe budget exhausted")
			probesTotal.WithLabelValues("timeout").Inc()
			return res, nil
		}

		h, sub, err := r.probeOne(budgetCtx, owner.Email, email)
		if err != nil {
			r.logger.Warn().Err(err).Str("owner", owner.Email).Str("email", email).Msg("Skipping tenant during probe")
			probesTotal.WithLabelValues("tenant_error").Inc()
			continue
		}
		if sub == nil {
			continue
		}

		if !r.ownedBy(sub, owner.Email) {
			probesTotal.WithLabelValues("foreign_parent").Inc()
			continue
		}
		res.Handle = h
		res.Dedicated = true
		res.OwnerEmail = owner.Email
		res.Found = true
		res.Probed = true
		res.Subaccount = sub
		r.logger.Debug().Str("owner", owner.Email).Str("email", email).Dur("elapsed", time.Since(started)).Msg("Subaccount found by probe")
		probesTotal.WithLabelValues("found").Inc()
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	probesTotal.WithLabelValues("not_found").Inc()
	return res, nil
}

// ownedBy reports whether a subaccount read from owner's dedicated database
// names owner as its parent. Any other parent is treated as not found.
func (r *Resolver[H]) ownedBy(sub *database.Subaccount, owner string) bool {
	if strings.EqualFold(sub.ParentEmail, owner) {
		return true
	}
	r.logger.Warn().
		Str("owner", owner).
		Str("parent", sub.ParentEmail).
		Str("email", sub.Email).
		Msg("Ignoring subaccount with a foreign parent")
	return false
}

func (r *Resolver[H]) probeOne(ctx context.Context, ownerEmail, email string) (H, *database.Subaccount, error) {
	var zero H
	pctx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
	defer cancel()

	h, err := r.registry.Dedicated(pctx, ownerEmail)
	if err != nil {
		return zero, nil, err
	}
	sub, err := h.GetSubaccountByEmail(pctx, email)
	if err != nil {
		return zero, nil, err
	}
	return h, sub, nil
}
