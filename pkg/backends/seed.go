package backends

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Seed is the bootstrap format shared by the memory and postgres backends.
// YAML or JSON (JSON parses as YAML):
//
//	tenants: [{id: acme, name: Acme}]
//	users:
//	  - {id: u-bob, name: bob, password: secret, tenants: [{id: acme, roles: [operator]}]}
//	catalog:
//	  - {region: RegionOne, service_type: object-store, url_type: public, url: "http://swift/v1/AUTH_$(tenant_id)s"}
type Seed struct {
	Tenants []SeedTenant       `yaml:"tenants"`
	Users   []SeedUser         `yaml:"users"`
	Catalog []EndpointTemplate `yaml:"catalog"`
}

type SeedTenant struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type SeedUser struct {
	ID           string           `yaml:"id"`
	Name         string           `yaml:"name"`
	Password     string           `yaml:"password"`
	PasswordHash string           `yaml:"password_hash"`
	Disabled     bool             `yaml:"disabled"`
	Memberships  []SeedMembership `yaml:"tenants"`
}

type SeedMembership struct {
	TenantID string   `yaml:"id"`
	Roles    []string `yaml:"roles"`
}

func ParseSeed(raw []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	return s, nil
}

// LoadSeed reads the seed from file (preferred) or inline text. ok is false when neither is set.
func LoadSeed(file, inline string) (s Seed, ok bool, err error) {
	var raw []byte
	switch {
	case file != "":
		raw, err = os.ReadFile(file)
		if err != nil {
			return Seed{}, false, fmt.Errorf("read seed: %w", err)
		}
	case inline != "":
		raw = []byte(inline)
	default:
		return Seed{}, false, nil
	}
	s, err = ParseSeed(raw)
	return s, err == nil, err
}

// DevSeed is the fallback identity when nothing is configured: admin/admin on tenant "dev".
func DevSeed() Seed {
	return Seed{
		Tenants: []SeedTenant{{ID: "dev", Name: "dev"}},
		Users: []SeedUser{{
			ID: "00000000000000000000000000000001", Name: "admin", Password: "admin",
			Memberships: []SeedMembership{{TenantID: "dev", Roles: []string{"operator"}}},
		}},
		Catalog: []EndpointTemplate{
			{Region: "RegionOne", ServiceType: "object-store", URLType: "public", URL: "http://localhost:8081/v1/AUTH_$(tenant_id)s"},
			{Region: "RegionOne", ServiceType: "object-store", URLType: "internal", URL: "http://127.0.0.1:8081/v1/AUTH_$(tenant_id)s"},
		},
	}
}

func (u SeedUser) passwordHash() (string, error) {
	if u.PasswordHash != "" {
		return u.PasswordHash, nil
	}
	if u.Password == "" {
		return "", fmt.Errorf("user %q has neither password nor password_hash", u.Name)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func checkPassword(hash, password string) error {
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}
