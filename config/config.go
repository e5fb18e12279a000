package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Environment    string         `json:"environment"`
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	TenantConfig   TenantConfig   `json:"tenants"`
	AuthConfig     AuthConfig     `json:"auth"`
	RedisConfig    RedisConfig    `json:"redis"`
	VaultConfig    VaultConfig    `json:"vault"`
	LicenseConfig  LicenseConfig  `json:"license"`
	MonitorConfig  MonitorConfig  `json:"monitor"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // comma separated, "*" for any
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// DatabaseConfig describes the shared main database.
type DatabaseConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	Password    string `json:"password"`
	Database    string `json:"database"`
	SSLMode     string `json:"sslmode"`
	MaxConns    int    `json:"max_conns"`
	MinConns    int    `json:"min_conns"`
	AutoMigrate bool   `json:"auto_migrate"`
}

// DSN returns the pgx connection string for the main database.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// TenantConfig controls dedicated (private cloud) database routing.
type TenantConfig struct {
	ProbeBudget       time.Duration     `json:"probe_budget"`
	ProbeTimeout      time.Duration     `json:"probe_timeout"`
	PoolCacheSize     int               `json:"pool_cache_size"`
	MaxConnsPerTenant int               `json:"max_conns_per_tenant"`
	AutoMigrate       bool              `json:"auto_migrate"`
	Connections       map[string]string `json:"connections"` // owner email -> connection string
}

type AuthConfig struct {
	JWTSecret           string        `json:"jwt_secret"`
	Issuer              string        `json:"issuer"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	BcryptCost          int           `json:"bcrypt_cost"`
	MinPasswordLength   int           `json:"min_password_length"`
	BindSourceIP        bool          `json:"bind_source_ip"`
	AdminEmail          string        `json:"admin_email"`
	AdminPassword       string        `json:"admin_password"`
}

type RedisConfig struct {
	Enabled    bool          `json:"enabled"`
	Address    string        `json:"address"`
	Password   string        `json:"password"`
	DB         int           `json:"db"`
	PoolSize   int           `json:"pool_size"`
	DefaultTTL time.Duration `json:"default_ttl"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// LicenseConfig holds the license engine and token signing settings.
type LicenseConfig struct {
	DefaultRenewalDays int    `json:"default_renewal_days"`
	PrivateKeyPath     string `json:"private_key_path"`
	PublicKeyPath      string `json:"public_key_path"`
	TokenIssuer        string `json:"token_issuer"`
	SweepEnabled       bool   `json:"sweep_enabled"`
	SweepSchedule      string `json:"sweep_schedule"`
}

type MonitorConfig struct {
	SampleSchedule string `json:"sample_schedule"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // console writer when false
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "" || c.Environment == "development"
}

func Load() (*Config, error) {
	path := getEnvOrDefault("CONFIG_FILE", "config.json")

	cfg, err := loadFromFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = &Config{}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	setString(&cfg.Environment, "development")

	setString(&cfg.ServerConfig.Host, "0.0.0.0")
	setInt(&cfg.ServerConfig.Port, 8080)
	setString(&cfg.ServerConfig.AllowedOrigins, "*")
	setInt(&cfg.ServerConfig.ReadTimeout, 30)
	setInt(&cfg.ServerConfig.WriteTimeout, 30)
	setInt(&cfg.ServerConfig.ShutdownTimeout, 10)

	setString(&cfg.DatabaseConfig.Host, "localhost")
	setInt(&cfg.DatabaseConfig.Port, 5432)
	setString(&cfg.DatabaseConfig.User, "erasure")
	setString(&cfg.DatabaseConfig.Database, "erasure_cloud")
	setString(&cfg.DatabaseConfig.SSLMode, "disable")
	setInt(&cfg.DatabaseConfig.MaxConns, 25)
	setInt(&cfg.DatabaseConfig.MinConns, 5)

	setDuration(&cfg.TenantConfig.ProbeBudget, 20*time.Second)
	setDuration(&cfg.TenantConfig.ProbeTimeout, 3*time.Second)
	setInt(&cfg.TenantConfig.PoolCacheSize, 32)
	setInt(&cfg.TenantConfig.MaxConnsPerTenant, 5)

	setString(&cfg.AuthConfig.Issuer, "erasure-cloud")
	setDuration(&cfg.AuthConfig.AccessTokenDuration, 12*time.Hour)
	setInt(&cfg.AuthConfig.BcryptCost, 12)
	setInt(&cfg.AuthConfig.MinPasswordLength, 8)

	setString(&cfg.RedisConfig.Address, "localhost:6379")
	setInt(&cfg.RedisConfig.PoolSize, 10)
	setDuration(&cfg.RedisConfig.DefaultTTL, 2*time.Minute)

	setString(&cfg.VaultConfig.Address, "http://localhost:8200")
	setString(&cfg.VaultConfig.MountPath, "secret")
	setString(&cfg.VaultConfig.SecretPath, "erasure-cloud/tenants")

	setInt(&cfg.LicenseConfig.DefaultRenewalDays, 365)
	setString(&cfg.LicenseConfig.TokenIssuer, "erasure-cloud-license")
	setString(&cfg.LicenseConfig.SweepSchedule, "@every 15m")

	setString(&cfg.MonitorConfig.SampleSchedule, "@every 30s")

	setString(&cfg.LoggingConfig.Level, "info")
}

// applyEnvOverrides lets environment variables take precedence over file values.
func applyEnvOverrides(cfg *Config) {
	cfg.Environment = getEnvOrDefault("APP_ENV", cfg.Environment)

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", cfg.ServerConfig.ReadTimeout)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", cfg.ServerConfig.WriteTimeout)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.ServerConfig.ShutdownTimeout)

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)
	cfg.DatabaseConfig.MaxConns = getEnvIntOrDefault("DB_MAX_CONNS", cfg.DatabaseConfig.MaxConns)
	cfg.DatabaseConfig.MinConns = getEnvIntOrDefault("DB_MIN_CONNS", cfg.DatabaseConfig.MinConns)
	cfg.DatabaseConfig.AutoMigrate = getEnvBoolOrDefault("DB_AUTO_MIGRATE", cfg.DatabaseConfig.AutoMigrate)

	// Tenant routing
	cfg.TenantConfig.ProbeBudget = getEnvDurationOrDefault("TENANT_PROBE_BUDGET", cfg.TenantConfig.ProbeBudget)
	cfg.TenantConfig.ProbeTimeout = getEnvDurationOrDefault("TENANT_PROBE_TIMEOUT", cfg.TenantConfig.ProbeTimeout)
	cfg.TenantConfig.PoolCacheSize = getEnvIntOrDefault("TENANT_POOL_CACHE_SIZE", cfg.TenantConfig.PoolCacheSize)
	cfg.TenantConfig.MaxConnsPerTenant = getEnvIntOrDefault("TENANT_MAX_CONNS", cfg.TenantConfig.MaxConnsPerTenant)
	cfg.TenantConfig.AutoMigrate = getEnvBoolOrDefault("TENANT_AUTO_MIGRATE", cfg.TenantConfig.AutoMigrate)

	// Auth config
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.Issuer = getEnvOrDefault("AUTH_ISSUER", cfg.AuthConfig.Issuer)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)
	cfg.AuthConfig.BcryptCost = getEnvIntOrDefault("AUTH_BCRYPT_COST", cfg.AuthConfig.BcryptCost)
	cfg.AuthConfig.MinPasswordLength = getEnvIntOrDefault("AUTH_MIN_PASSWORD_LENGTH", cfg.AuthConfig.MinPasswordLength)
	cfg.AuthConfig.BindSourceIP = getEnvBoolOrDefault("AUTH_BIND_SOURCE_IP", cfg.AuthConfig.BindSourceIP)
	cfg.AuthConfig.AdminEmail = getEnvOrDefault("ADMIN_EMAIL", cfg.AuthConfig.AdminEmail)
	cfg.AuthConfig.AdminPassword = getEnvOrDefault("ADMIN_PASSWORD", cfg.AuthConfig.AdminPassword)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.RedisConfig.PoolSize)
	cfg.RedisConfig.DefaultTTL = getEnvDurationOrDefault("REDIS_DEFAULT_TTL", cfg.RedisConfig.DefaultTTL)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// License config
	cfg.LicenseConfig.DefaultRenewalDays = getEnvIntOrDefault("LICENSE_DEFAULT_RENEWAL_DAYS", cfg.LicenseConfig.DefaultRenewalDays)
	cfg.LicenseConfig.PrivateKeyPath = getEnvOrDefault("LICENSE_PRIVATE_KEY", cfg.LicenseConfig.PrivateKeyPath)
	cfg.LicenseConfig.PublicKeyPath = getEnvOrDefault("LICENSE_PUBLIC_KEY", cfg.LicenseConfig.PublicKeyPath)
	cfg.LicenseConfig.TokenIssuer = getEnvOrDefault("LICENSE_TOKEN_ISSUER", cfg.LicenseConfig.TokenIssuer)
	cfg.LicenseConfig.SweepEnabled = getEnvBoolOrDefault("LICENSE_SWEEP_ENABLED", cfg.LicenseConfig.SweepEnabled)
	cfg.LicenseConfig.SweepSchedule = getEnvOrDefault("LICENSE_SWEEP_SCHEDULE", cfg.LicenseConfig.SweepSchedule)

	cfg.MonitorConfig.SampleSchedule = getEnvOrDefault("MONITOR_SAMPLE_SCHEDULE", cfg.MonitorConfig.SampleSchedule)

	// Logging config
	cfg.LoggingConfig.Level = strings.ToLower(getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level))
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.AuthConfig.JWTSecret == "" && !c.IsDevelopment() {
		return errors.New("auth.jwt_secret is required outside development")
	}
	if c.TenantConfig.ProbeTimeout > c.TenantConfig.ProbeBudget {
		return fmt.Errorf("tenants.probe_timeout (%s) exceeds tenants.probe_budget (%s)",
			c.TenantConfig.ProbeTimeout, c.TenantConfig.ProbeBudget)
	}
	if c.TenantConfig.PoolCacheSize <= 0 {
		return errors.New("tenants.pool_cache_size must be positive")
	}
	if c.DatabaseConfig.MaxConns <= 0 || c.TenantConfig.MaxConnsPerTenant <= 0 {
		return errors.New("database pool sizes must be positive")
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
