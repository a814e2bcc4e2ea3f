// pkg/backends/memory.go
package backends

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"v1auth/pkg/logger"
)

type memUser struct {
	User
	hash     string
	disabled bool
}

// Memory implements Identity, Catalog and TokenStore in process. Identity data is fixed after
// construction; the token map is guarded for concurrent requests.
type Memory struct {
	log         logger.Sugared
	users       map[string]memUser // key: user id
	byName      map[string]string
	tenants     map[string]Tenant
	memberships map[string][]string // key: user id, value: tenant ids in seed order
	roles       map[string][]string // key: userID+":"+tenantID
	endpoints   []EndpointTemplate

	mu     sync.RWMutex
	tokens map[string]TokenRecord
	now    func() time.Time
}

// NewMemory builds the in-process backend from a seed, hashing plain passwords.
func NewMemory(seed Seed, log logger.Sugared) (*Memory, error) {
	m := &Memory{
		log:         log,
		users:       map[string]memUser{},
		byName:      map[string]string{},
		tenants:     map[string]Tenant{},
		memberships: map[string][]string{},
		roles:       map[string][]string{},
		endpoints:   slices.Clone(seed.Catalog),
		tokens:      map[string]TokenRecord{},
		now:         time.Now,
	}
	for _, t := range seed.Tenants {
		name := t.Name
		if name == "" {
			name = t.ID
		}
		m.tenants[t.ID] = Tenant{ID: t.ID, Name: name}
	}
	for _, u := range seed.Users {
		if u.ID == "" || u.Name == "" {
			return nil, fmt.Errorf("seed user needs id and name (got id=%q name=%q)", u.ID, u.Name)
		}
		if _, dup := m.byName[u.Name]; dup {
			return nil, fmt.Errorf("duplicate seed user name %q", u.Name)
		}
		hash, err := u.passwordHash()
		if err != nil {
			return nil, err
		}
		m.users[u.ID] = memUser{User: User{ID: u.ID, Name: u.Name}, hash: hash, disabled: u.Disabled}
		m.byName[u.Name] = u.ID
		for _, ms := range u.Memberships {
			if _, ok := m.tenants[ms.TenantID]; !ok {
				m.tenants[ms.TenantID] = Tenant{ID: ms.TenantID, Name: ms.TenantID}
			}
			m.memberships[u.ID] = append(m.memberships[u.ID], ms.TenantID)
			m.roles[u.ID+":"+ms.TenantID] = slices.Clone(ms.Roles)
		}
	}
	return m, nil
}

// ErrNoSeed is returned when no seed is configured and the dev seed is not allowed.
var ErrNoSeed = errors.New("no identity seed configured (V1AUTH_SEED or V1AUTH_SEED_JSON)")

// NewMemoryFromConfig loads V1AUTH_SEED / V1AUTH_SEED_JSON. When neither is set it falls back to
// the dev seed if allowDevSeed, and fails with ErrNoSeed otherwise.
func NewMemoryFromConfig(seedFile, seedJSON string, allowDevSeed bool, log logger.Sugared) (*Memory, error) {
	seed, ok, err := LoadSeed(seedFile, seedJSON)
	if err != nil {
		return nil, err
	}
	if !ok {
		if !allowDevSeed {
			return nil, ErrNoSeed
		}
		log.Warnw("no identity seed configured, using dev seed", "user", "admin", "tenant", "dev")
		seed = DevSeed()
	}
	return NewMemory(seed, log)
}

func (m *Memory) FindUserByName(ctx context.Context, name string) (User, error) {
	id, ok := m.byName[name]
	if !ok || m.users[id].disabled {
		return User{}, ErrUserNotFound
	}
	return m.users[id].User, nil
}

func (m *Memory) ListTenantsForUser(ctx context.Context, userID string) ([]string, error) {
	return slices.Clone(m.memberships[userID]), nil
}

func (m *Memory) ListRolesForUserTenant(ctx context.Context, userID, tenantID string) ([]string, error) {
	return slices.Clone(m.roles[userID+":"+tenantID]), nil
}

func (m *Memory) Authenticate(ctx context.Context, userID, tenantID, password string) (Authentication, error) {
	u, ok := m.users[userID]
	if !ok || u.disabled {
		return Authentication{}, ErrInvalidCredentials
	}
	if err := checkPassword(u.hash, password); err != nil {
		return Authentication{}, err
	}
	if !slices.Contains(m.memberships[userID], tenantID) {
		return Authentication{}, fmt.Errorf("%w: user %s is not a member of tenant %s", ErrInvalidCredentials, userID, tenantID)
	}
	return Authentication{
		User:     u.User,
		Tenant:   m.tenants[tenantID],
		Metadata: Metadata{"roles": slices.Clone(m.roles[userID+":"+tenantID])},
	}, nil
}

func (m *Memory) GetCatalog(ctx context.Context, userID, tenantID string, md Metadata) (ServiceCatalog, error) {
	return BuildCatalog(m.endpoints, userID, tenantID), nil
}

func (m *Memory) CreateToken(ctx context.Context, rec TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.tokens[rec.ID]; dup {
		return ErrTokenExists
	}
	m.tokens[rec.ID] = rec
	return nil
}

func (m *Memory) GetToken(ctx context.Context, id string) (TokenRecord, error) {
	m.mu.RLock()
	rec, ok := m.tokens[id]
	m.mu.RUnlock()
	if !ok || (!rec.Expires.IsZero() && m.now().After(rec.Expires)) {
		return TokenRecord{}, ErrTokenNotFound
	}
	return rec, nil
}

func (m *Memory) DeleteToken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

// PurgeExpired drops expired tokens and reports how many were removed.
func (m *Memory) PurgeExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for id, rec := range m.tokens {
		if !rec.Expires.IsZero() && now.After(rec.Expires) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}
