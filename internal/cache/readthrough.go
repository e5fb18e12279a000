package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Read-through cache lookups by kind and result",
		},
		[]string{"kind", "result"},
	)

	invalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Keys removed by prefix invalidation, by kind",
		},
		[]string{"kind"},
	)
)

// GetOrLoad returns the cached value for key or calls load, caches its
// result and returns it. Concurrent misses on one key share a single load.
// A nil cache or an unavailable Redis always loads.
func GetOrLoad[T any](ctx context.Context, cs *CacheService, key Key, load func(context.Context) (T, error)) (T, error) {
	if cs == nil {
		return load(ctx)
	}
	k := key.String()

	raw, err := cs.Get(ctx, k)
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			requestsTotal.WithLabelValues(key.Kind, "hit").Inc()
			return v, nil
		}
		cs.logger.Warn().Str("key", k).Msg("Dropping undecodable cache entry")
	case errors.Is(err, redis.Nil):
	case errors.Is(err, ErrUnavailable):
		requestsTotal.WithLabelValues(key.Kind, "bypass").Inc()
		return load(ctx)
	default:
		cs.logger.Debug().Err(err).Str("key", k).Msg("Cache read failed, loading from database")
	}
	requestsTotal.WithLabelValues(key.Kind, "miss").Inc()

	v, err, _ := cs.group.Do(k, func() (interface{}, error) {
		val, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(val); err == nil {
			if err := cs.Set(ctx, k, data, cs.ttl); err != nil {
				cs.logger.Debug().Err(err).Str("key", k).Msg("Cache write failed")
			}
		}
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// InvalidateOwner drops every cached entry of the given kinds for email.
func (cs *CacheService) InvalidateOwner(ctx context.Context, email string, kinds ...string) {
	if cs == nil {
		return
	}
	for _, kind := range kinds {
		cs.invalidate(ctx, kind, OwnerPrefix(kind, email))
	}
}

// InvalidateKind drops every cached entry of kind, e.g. after a role graph change.
func (cs *CacheService) InvalidateKind(ctx context.Context, kind string) {
	if cs == nil {
		return
	}
	cs.invalidate(ctx, kind, KindPrefix(kind))
}

func (cs *CacheService) invalidate(ctx context.Context, kind, prefix string) {
	n, err := cs.DeletePrefix(ctx, prefix)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			cs.logger.Warn().Err(err).Str("prefix", prefix).Msg("Cache invalidation failed")
		}
		return
	}
	if n > 0 {
		invalidationsTotal.WithLabelValues(kind).Add(float64(n))
		cs.logger.Debug().Str("prefix", prefix).Int("keys", n).Msg("Cache invalidated")
	}
}
