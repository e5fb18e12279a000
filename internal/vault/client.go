package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"erasure-cloud/config"

	"github.com/hashicorp/vault/api"
)

// ErrNotFound is returned when no connection string is stored for an owner.
var ErrNotFound = errors.New("connection string not found")

// TenantSecret is the dedicated database secret stored per private cloud owner.
type TenantSecret struct {
	OwnerEmail       string `json:"owner_email"`
	ConnectionString string `json:"connection_string"`
}

// Client wraps the HashiCorp Vault client. When Vault is disabled secrets
// live only in the local map, which is enough for development and tests.
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]*TenantSecret // owner email -> secret
	cacheEnabled bool
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config:       cfg,
			cache:        make(map[string]*TenantSecret),
			cacheEnabled: true,
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{
		client:       client,
		config:       cfg,
		cache:        make(map[string]*TenantSecret),
		cacheEnabled: true,
	}, nil
}

// StoreConnectionString saves the dedicated database connection string of a private cloud owner.
func (c *Client) StoreConnectionString(ctx context.Context, ownerEmail, dsn string) error {
	owner := normalizeOwner(ownerEmail)
	secret := &TenantSecret{OwnerEmail: owner, ConnectionString: dsn}

	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[owner] = secret
		c.mu.Unlock()
		return nil
	}

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"owner_email":       owner,
			"connection_string": dsn,
		},
	}
	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(owner), payload); err != nil {
		return fmt.Errorf("failed to store connection string in vault: %w", err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[owner] = secret
		c.mu.Unlock()
	}
	return nil
}

// ConnectionString returns the stored connection string for ownerEmail or ErrNotFound.
func (c *Client) ConnectionString(ctx context.Context, ownerEmail string) (string, error) {
	owner := normalizeOwner(ownerEmail)

	if c.cacheEnabled {
		c.mu.RLock()
		cached, ok := c.cache[owner]
		c.mu.RUnlock()
		if ok {
			return cached.ConnectionString, nil
		}
	}

	if !c.config.Enabled {
		return "", ErrNotFound
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(owner))
	if err != nil {
		return "", fmt.Errorf("failed to read connection string from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid secret format")
	}
	dsn := getString(data, "connection_string")
	if dsn == "" {
		return "", ErrNotFound
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[owner] = &TenantSecret{OwnerEmail: owner, ConnectionString: dsn}
		c.mu.Unlock()
	}
	return dsn, nil
}

// DeleteConnectionString removes the owner's secret, including all versions.
func (c *Client) DeleteConnectionString(ctx context.Context, ownerEmail string) error {
	owner := normalizeOwner(ownerEmail)

	c.mu.Lock()
	delete(c.cache, owner)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(owner)); err != nil {
		return fmt.Errorf("failed to delete connection string from vault: %w", err)
	}
	return nil
}

// Invalidate drops the cached secret so the next read goes to Vault.
func (c *Client) Invalidate(ownerEmail string) {
	c.mu.Lock()
	delete(c.cache, normalizeOwner(ownerEmail))
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(owner string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, owner)
}

func (c *Client) metadataPath(owner string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, owner)
}

func normalizeOwner(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// NewMockClient creates a disabled client backed by the local map.
func NewMockClient() *Client {
	return &Client{
		config:       config.VaultConfig{Enabled: false},
		cache:        make(map[string]*TenantSecret),
		cacheEnabled: true,
	}
}
