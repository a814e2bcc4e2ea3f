package backends

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"v1auth/pkg/logger"
)

// setupPostgres starts a PostgreSQL container with the schema applied.
// Tests are skipped when no container runtime is reachable.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("v1auth_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, EnsureSchema(ctx, pool))
	require.NoError(t, EnsureSchema(ctx, pool), "schema creation is idempotent")
	return pool
}

func TestPostgresBackend(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	seed := testSeed()
	seed.Catalog = append(seed.Catalog,
		EndpointTemplate{TenantID: "globex", Region: "r0", ServiceType: "object-store", URLType: "public", URL: "http://globex-only"},
	)
	require.NoError(t, ApplySeed(ctx, pool, seed))
	require.NoError(t, ApplySeed(ctx, pool, seed), "re-seeding replaces rows in place")

	p := NewPostgres(pool, logger.Nop())

	t.Run("identity", func(t *testing.T) {
		u, err := p.FindUserByName(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)

		_, err = p.FindUserByName(ctx, "eve")
		assert.ErrorIs(t, err, ErrUserNotFound)

		tenants, err := p.ListTenantsForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"globex", "acme"}, tenants)

		roles, err := p.ListRolesForUserTenant(ctx, "u1", "acme")
		require.NoError(t, err)
		assert.Equal(t, []string{"operator"}, roles)

		a, err := p.Authenticate(ctx, "u1", "acme", "secret")
		require.NoError(t, err)
		assert.Equal(t, Tenant{ID: "acme", Name: "Acme"}, a.Tenant)

		_, err = p.Authenticate(ctx, "u1", "acme", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = p.Authenticate(ctx, "u1", "initech", "secret")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("catalog", func(t *testing.T) {
		c, err := p.GetCatalog(ctx, "u1", "acme", nil)
		require.NoError(t, err)
		require.Len(t, c, 1)
		assert.Equal(t, "http://s/AUTH_acme", c[0].Services["object-store"]["public"])

		g, err := p.GetCatalog(ctx, "u1", "globex", nil)
		require.NoError(t, err)
		require.Len(t, g, 2)
		assert.Equal(t, "r1", g[0].Name)
		assert.Equal(t, "r0", g[1].Name)
	})

	t.Run("tokens", func(t *testing.T) {
		rec := TokenRecord{
			ID:       "tok-1",
			User:     User{ID: "u1", Name: "bob"},
			Tenant:   Tenant{ID: "acme", Name: "Acme"},
			Metadata: Metadata{"roles": []any{"operator"}},
			Expires:  time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		}
		require.NoError(t, p.CreateToken(ctx, rec))
		assert.ErrorIs(t, p.CreateToken(ctx, rec), ErrTokenExists)

		got, err := p.GetToken(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, rec.Tenant, got.Tenant)
		assert.True(t, rec.Expires.Equal(got.Expires))

		stale := rec
		stale.ID = "tok-stale"
		stale.Expires = time.Now().Add(-time.Minute)
		require.NoError(t, p.CreateToken(ctx, stale))
		_, err = p.GetToken(ctx, "tok-stale")
		assert.ErrorIs(t, err, ErrTokenNotFound)

		n, err := p.PurgeExpired(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		require.NoError(t, p.DeleteToken(ctx, "tok-1"))
		_, err = p.GetToken(ctx, "tok-1")
		assert.ErrorIs(t, err, ErrTokenNotFound)
		require.NoError(t, p.DeleteToken(ctx, "tok-1"))
	})
}
