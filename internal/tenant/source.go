package tenant

import (
	"context"
	"errors"
	"strings"

	"erasure-cloud/internal/vault"
)

// ErrNoConnectionString is returned when no source knows an owner's database.
var ErrNoConnectionString = errors.New("no connection string configured")

// ConnectionSource looks up the dedicated database connection string of a private cloud owner.
type ConnectionSource interface {
	ConnectionString(ctx context.Context, ownerEmail string) (string, error)
}

// StaticSource serves connection strings from configuration.
type StaticSource map[string]string

// ConnectionString implements ConnectionSource.
func (s StaticSource) ConnectionString(_ context.Context, ownerEmail string) (string, error) {
	owner := strings.ToLower(strings.TrimSpace(ownerEmail))
	for k, v := range s {
		if strings.ToLower(strings.TrimSpace(k)) == owner && v != "" {
			return v, nil
		}
	}
	return "", ErrNoConnectionString
}

// ChainSource asks each source in order. A source that does not know the
// owner passes to the next; other errors are kept and returned only when
// no later source succeeds.
type ChainSource []ConnectionSource

// ConnectionString implements ConnectionSource.
func (c ChainSource) ConnectionString(ctx context.Context, ownerEmail string) (string, error) {
	var firstErr error
	for _, src := range c {
		if src == nil {
			continue
		}
		dsn, err := src.ConnectionString(ctx, ownerEmail)
		if err == nil && dsn != "" {
			return dsn, nil
		}
		if err != nil && !isMissing(err) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return "", firstErr
	}
	return "", ErrNoConnectionString
}

func isMissing(err error) bool {
	return errors.Is(err, ErrNoConnectionString) || errors.Is(err, vault.ErrNotFound)
}
