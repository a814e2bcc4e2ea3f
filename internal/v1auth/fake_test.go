package v1auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"v1auth/pkg/backends"
)

// fakeBackend implements all three collaborators and records the calls it receives.
type fakeBackend struct {
	users     map[string]backends.User // key: name
	passwords map[string]string        // key: user id
	tenants   map[string][]string      // key: user id
	roles     map[string][]string      // key: userID+"/"+tenantID
	catalog   backends.ServiceCatalog

	createErr  error
	catalogErr error
	lookupErr  error
	deleteErr  error

	calls         []string
	stored        []backends.TokenRecord
	catalogTenant string
}

func newFake() *fakeBackend {
	return &fakeBackend{
		users:     map[string]backends.User{},
		passwords: map[string]string{},
		tenants:   map[string][]string{},
		roles:     map[string][]string{},
	}
}

func (f *fakeBackend) addUser(id, name, password string, tenants ...string) {
	f.users[name] = backends.User{ID: id, Name: name}
	f.passwords[id] = password
	f.tenants[id] = tenants
}

func (f *fakeBackend) grant(userID, tenantID string, roles ...string) {
	f.roles[userID+"/"+tenantID] = roles
}

func (f *fakeBackend) called(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeBackend) FindUserByName(ctx context.Context, name string) (backends.User, error) {
	f.calls = append(f.calls, "find_user:"+name)
	if f.lookupErr != nil {
		return backends.User{}, f.lookupErr
	}
	u, ok := f.users[name]
	if !ok {
		return backends.User{}, backends.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeBackend) ListTenantsForUser(ctx context.Context, userID string) ([]string, error) {
	f.calls = append(f.calls, "list_tenants:"+userID)
	return slices.Clone(f.tenants[userID]), nil
}

func (f *fakeBackend) ListRolesForUserTenant(ctx context.Context, userID, tenantID string) ([]string, error) {
	f.calls = append(f.calls, "list_roles:"+userID+"/"+tenantID)
	return slices.Clone(f.roles[userID+"/"+tenantID]), nil
}

func (f *fakeBackend) Authenticate(ctx context.Context, userID, tenantID, password string) (backends.Authentication, error) {
	f.calls = append(f.calls, "authenticate:"+userID+"/"+tenantID)
	if f.passwords[userID] != password {
		return backends.Authentication{}, backends.ErrInvalidCredentials
	}
	if !slices.Contains(f.tenants[userID], tenantID) {
		return backends.Authentication{}, fmt.Errorf("%w: not a member", backends.ErrInvalidCredentials)
	}
	var name string
	for n, u := range f.users {
		if u.ID == userID {
			name = n
		}
	}
	return backends.Authentication{
		User:     backends.User{ID: userID, Name: name},
		Tenant:   backends.Tenant{ID: tenantID, Name: tenantID},
		Metadata: backends.Metadata{"roles": f.roles[userID+"/"+tenantID]},
	}, nil
}

func (f *fakeBackend) CreateToken(ctx context.Context, rec backends.TokenRecord) error {
	f.calls = append(f.calls, "create_token:"+rec.ID)
	if f.createErr != nil {
		return f.createErr
	}
	f.stored = append(f.stored, rec)
	return nil
}

func (f *fakeBackend) GetToken(ctx context.Context, id string) (backends.TokenRecord, error) {
	for _, r := range f.stored {
		if r.ID == id {
			return r, nil
		}
	}
	return backends.TokenRecord{}, backends.ErrTokenNotFound
}

func (f *fakeBackend) DeleteToken(ctx context.Context, id string) error {
	f.calls = append(f.calls, "delete_token:"+id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.stored = slices.DeleteFunc(f.stored, func(r backends.TokenRecord) bool { return r.ID == id })
	return nil
}

func (f *fakeBackend) GetCatalog(ctx context.Context, userID, tenantID string, md backends.Metadata) (backends.ServiceCatalog, error) {
	f.calls = append(f.calls, "get_catalog:"+userID+"/"+tenantID)
	f.catalogTenant = tenantID
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	out := backends.ServiceCatalog{}
	for _, r := range f.catalog {
		svcs := map[string]map[string]string{}
		for st, urls := range r.Services {
			m := map[string]string{}
			for k, v := range urls {
				m[k] = backends.ExpandEndpoint(v, userID, tenantID)
			}
			svcs[st] = m
		}
		out = append(out, backends.Region{Name: r.Name, Services: svcs})
	}
	return out, nil
}

var errBoom = errors.New("boom")

func swiftCatalog() backends.ServiceCatalog {
	return backends.ServiceCatalog{
		{Name: "RegionOne", Services: map[string]map[string]string{
			"compute": {"public": "https://nova.example.com/v2.1"},
		}},
		{Name: "RegionTwo", Services: map[string]map[string]string{
			"object-store": {
				"public":   "https://swift.example.com/v1/AUTH_$(tenant_id)s",
				"internal": "http://10.0.0.5:8080/v1/AUTH_$(tenant_id)s",
			},
		}},
		{Name: "RegionThree", Services: map[string]map[string]string{
			"object-store": {"public": "https://swift3.example.com/v1/AUTH_$(tenant_id)s"},
		}},
	}
}
