// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env        string
	HTTPAddr   string
	AuthPrefix string // mount point of the legacy auth routes ("" = root)

	// Catalog lookup and tenant guessing
	URLType     string
	ServiceType string
	SwiftRole   string
	TokenTTL    time.Duration

	// Backend selection: identity/catalog and token persistence
	IdentityBackend string // memory | postgres | keystone
	TokenBackend    string // memory | postgres | redis
	SeedFile        string
	SeedJSON        string

	// Redis & Postgres
	RedisURL       string
	RedisPrefix    string
	DatabaseURL    string
	MigrateOnStart bool

	Keystone Keystone
}

// Keystone holds the service credentials used to query a Keystone v3 endpoint.
type Keystone struct {
	AuthURL           string
	Username          string
	Password          string
	UserDomainName    string
	ProjectName       string
	ProjectDomainName string
	UserDomainID      string // domain searched when looking users up by name
}

// fileConfig is the optional YAML overlay; keys follow the historic option names.
type fileConfig struct {
	URLType     string `yaml:"url_type"`
	ServiceType string `yaml:"service_type"`
	SwiftRole   string `yaml:"swift_role"`
	AuthPrefix  string `yaml:"auth_prefix"`
	TokenTTLSec int    `yaml:"token_ttl_sec"`
}

// Defaults returns the built-in configuration before any file or environment overlay.
func Defaults() Config {
	return Config{
		Env:             "dev",
		HTTPAddr:        ":8080",
		URLType:         "public",
		ServiceType:     "object-store",
		SwiftRole:       "operator",
		TokenTTL:        24 * time.Hour,
		IdentityBackend: "memory",
		TokenBackend:    "memory",
		RedisPrefix:     "v1auth",
	}
}

// Load layers defaults < V1AUTH_CONFIG yaml file < environment.
func Load() Config {
	_ = godotenv.Load()
	cfg := Defaults()
	if path := os.Getenv("V1AUTH_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			log.Printf("[WARN] config file %s ignored: %v", path, err)
		}
	}
	cfg.Env = env("V1AUTH_ENV", cfg.Env)
	cfg.HTTPAddr = env("V1AUTH_HTTP_ADDR", cfg.HTTPAddr)
	cfg.AuthPrefix = normalizePrefix(env("V1AUTH_PREFIX", cfg.AuthPrefix))
	cfg.URLType = env("URL_TYPE", cfg.URLType)
	cfg.ServiceType = env("SERVICE_TYPE", cfg.ServiceType)
	cfg.SwiftRole = env("SWIFT_ROLE", cfg.SwiftRole)
	cfg.TokenTTL = envDur("TOKEN_TTL_SEC", int(cfg.TokenTTL/time.Second)) * time.Second
	cfg.IdentityBackend = strings.ToLower(env("IDENTITY_BACKEND", cfg.IdentityBackend))
	cfg.TokenBackend = strings.ToLower(env("TOKEN_BACKEND", cfg.TokenBackend))
	cfg.SeedFile = env("V1AUTH_SEED", "")
	cfg.SeedJSON = env("V1AUTH_SEED_JSON", "")
	cfg.RedisURL = env("REDIS_URL", "")
	cfg.RedisPrefix = env("REDIS_PREFIX", cfg.RedisPrefix)
	cfg.DatabaseURL = env("DATABASE_URL", "")
	cfg.MigrateOnStart = envBool("MIGRATE_ON_START", true)
	cfg.Keystone = Keystone{
		AuthURL:           env("KEYSTONE_AUTH_URL", ""),
		Username:          env("KEYSTONE_USERNAME", ""),
		Password:          env("KEYSTONE_PASSWORD", ""),
		UserDomainName:    env("KEYSTONE_USER_DOMAIN_NAME", "Default"),
		ProjectName:       env("KEYSTONE_PROJECT_NAME", "service"),
		ProjectDomainName: env("KEYSTONE_PROJECT_DOMAIN_NAME", "Default"),
		UserDomainID:      env("KEYSTONE_LOOKUP_DOMAIN_ID", ""),
	}
	return cfg
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return err
	}
	if fc.URLType != "" {
		c.URLType = fc.URLType
	}
	if fc.ServiceType != "" {
		c.ServiceType = fc.ServiceType
	}
	if fc.SwiftRole != "" {
		c.SwiftRole = fc.SwiftRole
	}
	if fc.AuthPrefix != "" {
		c.AuthPrefix = fc.AuthPrefix
	}
	if fc.TokenTTLSec > 0 {
		c.TokenTTL = time.Duration(fc.TokenTTLSec) * time.Second
	}
	return nil
}

func normalizePrefix(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
