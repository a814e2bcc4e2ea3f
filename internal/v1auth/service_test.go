package v1auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v1auth/pkg/backends"
	"v1auth/pkg/logger"
)

func newTestService(f *fakeBackend) *Service {
	svc := New(f, f, f, Options{}, logger.Nop())
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return svc
}

func TestResolveTenant(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit hint skips backend", func(t *testing.T) {
		f := newFake()
		got, err := newTestService(f).ResolveTenant(ctx, "u1", "acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", got)
		assert.Empty(t, f.calls)
	})

	t.Run("single membership without role lookup", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "pw", "acme")
		got, err := newTestService(f).ResolveTenant(ctx, "u1", "")
		require.NoError(t, err)
		assert.Equal(t, "acme", got)
		assert.Zero(t, f.called("list_roles:"))
	})

	t.Run("privileged tenant wins regardless of order", func(t *testing.T) {
		orders := [][]string{{"a", "b", "c"}, {"c", "a", "b"}, {"b", "c", "a"}}
		for _, order := range orders {
			f := newFake()
			f.addUser("u1", "bob", "pw", order...)
			f.grant("u1", "a", "member")
			f.grant("u1", "b", "member", "operator")
			f.grant("u1", "c", "reader")
			got, err := newTestService(f).ResolveTenant(ctx, "u1", "")
			require.NoError(t, err, "order %v", order)
			assert.Equal(t, "b", got, "order %v", order)
		}
	})

	t.Run("several privileged tenants are ambiguous", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "pw", "a", "b", "c")
		f.grant("u1", "a", "operator")
		f.grant("u1", "b", "operator")
		_, err := newTestService(f).ResolveTenant(ctx, "u1", "")
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Zero(t, f.called("list_roles:u1/c"), "lookup stops at the second privileged tenant")
	})

	t.Run("no memberships", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "pw")
		_, err := newTestService(f).ResolveTenant(ctx, "u1", "")
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("no privileged membership", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "pw", "a", "b")
		f.grant("u1", "a", "member")
		_, err := newTestService(f).ResolveTenant(ctx, "u1", "")
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("configured role name", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "pw", "a", "b")
		f.grant("u1", "a", "operator")
		f.grant("u1", "b", "swiftoperator")
		svc := New(f, f, f, Options{SwiftRole: "swiftoperator"}, logger.Nop())
		got, err := svc.ResolveTenant(ctx, "u1", "")
		require.NoError(t, err)
		assert.Equal(t, "b", got)
	})
}

func TestIssue(t *testing.T) {
	ctx := context.Background()

	t.Run("stores token and returns storage url of resolved tenant", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "secret", "acme")
		f.catalog = swiftCatalog()
		svc := newTestService(f)

		g, err := svc.Issue(ctx, "u1", "acme", "secret")
		require.NoError(t, err)
		assert.Equal(t, "https://swift.example.com/v1/AUTH_acme", g.StorageURL)
		assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), g.Token)
		assert.Equal(t, svc.now().Add(24*time.Hour), g.Expires)
		assert.Equal(t, 24*time.Hour, g.ExpiresIn)

		require.Len(t, f.stored, 1)
		rec := f.stored[0]
		assert.Equal(t, g.Token, rec.ID)
		assert.Equal(t, "u1", rec.User.ID)
		assert.Equal(t, "acme", rec.Tenant.ID)
		assert.Equal(t, f.catalogTenant, rec.Tenant.ID)
		assert.NotNil(t, rec.Metadata)
	})

	t.Run("url type is configurable", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "secret", "acme")
		f.catalog = swiftCatalog()
		svc := New(f, f, f, Options{URLType: "internal"}, logger.Nop())
		g, err := svc.Issue(ctx, "u1", "acme", "secret")
		require.NoError(t, err)
		assert.Equal(t, "http://10.0.0.5:8080/v1/AUTH_acme", g.StorageURL)
	})

	t.Run("bad password is unauthorized and stores nothing", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "secret", "acme")
		f.catalog = swiftCatalog()
		_, err := newTestService(f).Issue(ctx, "u1", "acme", "wrong")
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Empty(t, f.stored)
		assert.Zero(t, f.called("get_catalog:"))
	})

	t.Run("token persistence failure is a backend fault", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "secret", "acme")
		f.catalog = swiftCatalog()
		f.createErr = errBoom
		_, err := newTestService(f).Issue(ctx, "u1", "acme", "secret")
		var bf *BackendFault
		require.ErrorAs(t, err, &bf)
		assert.Equal(t, "create token", bf.Op)
		assert.ErrorIs(t, err, errBoom)
		assert.NotErrorIs(t, err, ErrUnauthorized)
		assert.Zero(t, f.called("get_catalog:"))
	})

	t.Run("catalog without service type is a backend fault", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "secret", "acme")
		f.catalog = backends.ServiceCatalog{{Name: "RegionOne", Services: map[string]map[string]string{
			"compute": {"public": "https://nova"},
		}}}
		_, err := newTestService(f).Issue(ctx, "u1", "acme", "secret")
		var bf *BackendFault
		require.ErrorAs(t, err, &bf)
		assert.ErrorIs(t, err, ErrNoEndpoint)
		assert.Empty(t, f.stored, "unissued token is discarded")
		assert.Equal(t, 1, f.called("delete_token:"))
	})

	t.Run("catalog error is a backend fault", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "secret", "acme")
		f.catalogErr = errBoom
		svc := newTestService(f)
		svc.tokenID = func() string { return "tok" }
		_, err := svc.Issue(ctx, "u1", "acme", "secret")
		var bf *BackendFault
		require.ErrorAs(t, err, &bf)
		assert.Equal(t, "get catalog", bf.Op)
		assert.Empty(t, f.stored, "unissued token is discarded")
		assert.Equal(t, []string{
			"authenticate:u1/acme",
			"create_token:tok",
			"get_catalog:u1/acme",
			"delete_token:tok",
		}, f.calls)
	})

	t.Run("failed discard still reports the catalog fault", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "secret", "acme")
		f.catalogErr = errBoom
		f.deleteErr = errors.New("store down")
		_, err := newTestService(f).Issue(ctx, "u1", "acme", "secret")
		var bf *BackendFault
		require.ErrorAs(t, err, &bf)
		assert.Equal(t, "get catalog", bf.Op)
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("two issues yield distinct tokens", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "secret", "acme")
		f.catalog = swiftCatalog()
		svc := newTestService(f)
		a, err := svc.Issue(ctx, "u1", "acme", "secret")
		require.NoError(t, err)
		b, err := svc.Issue(ctx, "u1", "acme", "secret")
		require.NoError(t, err)
		assert.NotEqual(t, a.Token, b.Token)
		assert.Len(t, f.stored, 2)
	})
}

func TestStorageURL(t *testing.T) {
	c := swiftCatalog()

	url, err := storageURL(c, "object-store", "public")
	require.NoError(t, err)
	assert.Equal(t, "https://swift.example.com/v1/AUTH_$(tenant_id)s", url, "first region with the service wins")

	_, err = storageURL(c, "object-store", "admin")
	require.ErrorIs(t, err, ErrNoEndpoint, "first matching region decides even when it lacks the url type")

	_, err = storageURL(c, "volume", "public")
	require.ErrorIs(t, err, ErrNoEndpoint)

	_, err = storageURL(nil, "object-store", "public")
	require.ErrorIs(t, err, ErrNoEndpoint)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("embedded tenant skips tenant listing", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "secret", "acme", "other")
		f.catalog = swiftCatalog()
		g, err := newTestService(f).Authenticate(ctx, Credentials{TenantHint: "acme", Username: "bob", Password: "secret"})
		require.NoError(t, err)
		assert.Equal(t, "acme", g.TenantID)
		assert.Zero(t, f.called("list_tenants:"))
		assert.Zero(t, f.called("list_roles:"))
	})

	t.Run("unknown user is unauthorized", func(t *testing.T) {
		f := newFake()
		_, err := newTestService(f).Authenticate(ctx, Credentials{Username: "ghost", Password: "x"})
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, []string{"find_user:ghost"}, f.calls)
	})

	t.Run("lookup outage is a backend fault", func(t *testing.T) {
		f := newFake()
		f.lookupErr = errBoom
		_, err := newTestService(f).Authenticate(ctx, Credentials{Username: "bob", Password: "x"})
		var bf *BackendFault
		require.ErrorAs(t, err, &bf)
	})

	t.Run("hint for a tenant the user is not in", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "secret", "acme")
		f.catalog = swiftCatalog()
		_, err := newTestService(f).Authenticate(ctx, Credentials{TenantHint: "globex", Username: "bob", Password: "secret"})
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Empty(t, f.stored)
	})

	t.Run("backend calls run in order", func(t *testing.T) {
		f := newFake()
		f.addUser("u1", "bob", "secret", "a", "b")
		f.grant("u1", "b", "operator")
		f.catalog = swiftCatalog()
		svc := newTestService(f)
		svc.tokenID = func() string { return "tok" }
		_, err := svc.Authenticate(ctx, Credentials{Username: "bob", Password: "secret"})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"find_user:bob",
			"list_tenants:u1",
			"list_roles:u1/a",
			"list_roles:u1/b",
			"authenticate:u1/b",
			"create_token:tok",
			"get_catalog:u1/b",
		}, f.calls)
	})
}

func TestNewTokenID(t *testing.T) {
	seen := map[string]bool{}
	versionNibbles := map[byte]bool{}
	for i := 0; i < 100; i++ {
		id := newTokenID()
		require.Regexp(t, `^[0-9a-f]{32}$`, id)
		require.False(t, seen[id])
		seen[id] = true
		versionNibbles[id[12]] = true
	}
	// every bit is random, including the ones a v4 UUID pins
	assert.Greater(t, len(versionNibbles), 1)
}
