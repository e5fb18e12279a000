package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"erasure-cloud/config"
	"erasure-cloud/internal/database"
)

const openTimeout = 10 * time.Second

// PoolRegistry implements Registry over PostgreSQL. Dedicated pools are
// opened on first use and kept in an LRU; evicted pools are closed.
type PoolRegistry struct {
	main   *database.Repository
	source ConnectionSource
	opts   database.PoolOptions

	autoMigrate bool
	migrate     func(dsn string, logger zerolog.Logger) error
	open        func(ctx context.Context, dsn string, opts database.PoolOptions) (*database.DB, error)

	pools  *lru.Cache[string, *database.Repository]
	group  singleflight.Group
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger
}

// NewPoolRegistry builds a registry around the main repository.
func NewPoolRegistry(main *database.Repository, source ConnectionSource, cfg config.TenantConfig, logger zerolog.Logger) (*PoolRegistry, error) {
	size := cfg.PoolCacheSize
	if size <= 0 {
		size = 32
	}
	maxConns := int32(cfg.MaxConnsPerTenant)
	if maxConns <= 0 {
		maxConns = 5
	}

	r := &PoolRegistry{
		main:        main,
		source:      source,
		opts:        database.PoolOptions{MaxConns: maxConns, MinConns: 0},
		autoMigrate: cfg.AutoMigrate,
		migrate:     database.Migrate,
		open:        database.Open,
		logger:      logger.With().Str("component", "tenant_pools").Logger(),
	}

	pools, err := lru.NewWithEvict[string, *database.Repository](size, func(owner string, repo *database.Repository) {
		r.logger.Info().Str("owner", owner).Msg("Closing dedicated pool")
		// pgxpool.Close waits for acquired connections, keep it off the caller's path.
		go repo.GetDB().Close()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pool cache: %w", err)
	}
	r.pools = pools
	return r, nil
}

// Main returns the shared database repository.
func (r *PoolRegistry) Main() *database.Repository {
	return r.main
}

// Dedicated returns the repository of ownerEmail's private database,
// opening the pool once even under concurrent callers.
func (r *PoolRegistry) Dedicated(ctx context.Context, ownerEmail string) (*database.Repository, error) {
	owner := strings.ToLower(strings.TrimSpace(ownerEmail))
	if repo, ok := r.pools.Get(owner); ok {
		return repo, nil
	}

	ch := r.group.DoChan(owner, func() (interface{}, error) {
		if repo, ok := r.pools.Get(owner); ok {
			return repo, nil
		}
		// Shared by every waiter, so detached from the first caller's cancellation.
		octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), openTimeout)
		defer cancel()
		return r.openDedicated(octx, owner)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*database.Repository), nil
	}
}

func (r *PoolRegistry) openDedicated(ctx context.Context, owner string) (*database.Repository, error) {
	dsn, err := r.source.ConnectionString(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("no connection string for %s: %w", owner, err)
	}

	db, err := r.open(ctx, dsn, r.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedicated database for %s: %w", owner, err)
	}

	if r.autoMigrate {
		if err := r.migrate(dsn, r.logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate dedicated database for %s: %w", owner, err)
		}
	}

	repo := database.NewRepository(db)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		db.Close()
		return nil, errors.New("pool registry closed")
	}
	r.pools.Add(owner, repo)
	r.logger.Info().Str("owner", owner).Int("open_pools", r.pools.Len()).Msg("Opened dedicated pool")
	return repo, nil
}

// Forget closes the cached pool of ownerEmail, used after its connection string changes.
func (r *PoolRegistry) Forget(ownerEmail string) {
	r.pools.Remove(strings.ToLower(strings.TrimSpace(ownerEmail)))
}

// OpenPools returns the number of cached dedicated pools.
func (r *PoolRegistry) OpenPools() int {
	return r.pools.Len()
}

// Close closes every dedicated pool. The main repository is left open.
func (r *PoolRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.pools.Purge()
}

// Stores exposes the registry through the database.Store interface, the
// handle type request handlers are written against.
func (r *PoolRegistry) Stores() Registry[database.Store] {
	return storeRegistry{r}
}

type storeRegistry struct {
	r *PoolRegistry
}

func (s storeRegistry) Main() database.Store {
	return s.r.Main()
}

func (s storeRegistry) Dedicated(ctx context.Context, ownerEmail string) (database.Store, error) {
	repo, err := s.r.Dedicated(ctx, ownerEmail)
	if err != nil {
		return nil, err
	}
	return repo, nil
}
