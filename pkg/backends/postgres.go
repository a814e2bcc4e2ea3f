// pkg/backends/postgres.go
package backends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"v1auth/pkg/logger"
)

// Postgres implements Identity, Catalog and TokenStore backed by PostgreSQL.
type Postgres struct {
	dbPool *pgxpool.Pool
	log    logger.Sugared
}

// NewPostgres constructs a PostgreSQL-backed identity, catalog and token store.
func NewPostgres(dbPool *pgxpool.Pool, log logger.Sugared) *Postgres {
	return &Postgres{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS identity_tenants (
  id text PRIMARY KEY,
  name text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS identity_users (
  id text PRIMARY KEY,
  name text NOT NULL UNIQUE,
  password_hash text NOT NULL,
  enabled boolean NOT NULL DEFAULT true,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS identity_memberships (
  user_id text NOT NULL REFERENCES identity_users(id) ON DELETE CASCADE,
  tenant_id text NOT NULL REFERENCES identity_tenants(id) ON DELETE CASCADE,
  position int NOT NULL DEFAULT 0,
  PRIMARY KEY (user_id, tenant_id)
);
CREATE TABLE IF NOT EXISTS identity_role_grants (
  user_id text NOT NULL,
  tenant_id text NOT NULL,
  role text NOT NULL,
  PRIMARY KEY (user_id, tenant_id, role),
  FOREIGN KEY (user_id, tenant_id) REFERENCES identity_memberships(user_id, tenant_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS catalog_endpoints (
  id BIGSERIAL PRIMARY KEY,
  tenant_id text,
  region text NOT NULL,
  service_type text NOT NULL,
  url_type text NOT NULL,
  url text NOT NULL,
  position int NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS tokens (
  id text PRIMARY KEY,
  user_id text NOT NULL,
  tenant_id text NOT NULL,
  record jsonb NOT NULL,
  expires_at timestamptz NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS tokens_expires_idx ON tokens(expires_at);
`)
	return err
}

// ApplySeed upserts tenants, users, memberships and role grants, and replaces the catalog rows.
func ApplySeed(ctx context.Context, dbPool *pgxpool.Pool, seed Seed) error {
	tx, err := dbPool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range seed.Tenants {
		name := t.Name
		if name == "" {
			name = t.ID
		}
		if _, err := tx.Exec(ctx, `INSERT INTO identity_tenants(id,name) VALUES ($1,$2)
		  ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name`, t.ID, name); err != nil {
			return fmt.Errorf("seed tenant %s: %w", t.ID, err)
		}
	}
	for _, u := range seed.Users {
		hash, err := u.passwordHash()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO identity_users(id,name,password_hash,enabled) VALUES ($1,$2,$3,$4)
		  ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name,password_hash=EXCLUDED.password_hash,enabled=EXCLUDED.enabled`,
			u.ID, u.Name, hash, !u.Disabled); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Name, err)
		}
		for pos, ms := range u.Memberships {
			if _, err := tx.Exec(ctx, `INSERT INTO identity_tenants(id,name) VALUES ($1,$1) ON CONFLICT DO NOTHING`, ms.TenantID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO identity_memberships(user_id,tenant_id,position) VALUES ($1,$2,$3)
			  ON CONFLICT (user_id,tenant_id) DO UPDATE SET position=EXCLUDED.position`, u.ID, ms.TenantID, pos); err != nil {
				return fmt.Errorf("seed membership %s/%s: %w", u.Name, ms.TenantID, err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM identity_role_grants WHERE user_id=$1 AND tenant_id=$2`, u.ID, ms.TenantID); err != nil {
				return err
			}
			for _, role := range ms.Roles {
				if _, err := tx.Exec(ctx, `INSERT INTO identity_role_grants(user_id,tenant_id,role) VALUES ($1,$2,$3)`, u.ID, ms.TenantID, role); err != nil {
					return fmt.Errorf("seed role %s/%s/%s: %w", u.Name, ms.TenantID, role, err)
				}
			}
		}
	}
	if len(seed.Catalog) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM catalog_endpoints`); err != nil {
			return err
		}
		for pos, e := range seed.Catalog {
			var tenant any
			if e.TenantID != "" {
				tenant = e.TenantID
			}
			if _, err := tx.Exec(ctx, `INSERT INTO catalog_endpoints(tenant_id,region,service_type,url_type,url,position)
			  VALUES ($1,$2,$3,$4,$5,$6)`, tenant, e.Region, e.ServiceType, e.URLType, e.URL, pos); err != nil {
				return fmt.Errorf("seed endpoint %s/%s: %w", e.Region, e.ServiceType, err)
			}
		}
	}
	return tx.Commit(ctx)
}

// FindUserByName looks up an enabled user.
func (p *Postgres) FindUserByName(ctx context.Context, name string) (User, error) {
	var u User
	err := p.dbPool.QueryRow(ctx, `SELECT id,name FROM identity_users WHERE name=$1 AND enabled`, name).Scan(&u.ID, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// ListTenantsForUser returns memberships ordered by position.
func (p *Postgres) ListTenantsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT tenant_id FROM identity_memberships WHERE user_id=$1 ORDER BY position, tenant_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (p *Postgres) ListRolesForUserTenant(ctx context.Context, userID, tenantID string) ([]string, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT role FROM identity_role_grants WHERE user_id=$1 AND tenant_id=$2 ORDER BY role`, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Authenticate checks the password and the (user, tenant) membership.
func (p *Postgres) Authenticate(ctx context.Context, userID, tenantID, password string) (Authentication, error) {
	var (
		a    Authentication
		hash string
	)
	err := p.dbPool.QueryRow(ctx, `
SELECT u.id, u.name, u.password_hash, t.id, t.name
FROM identity_users u
JOIN identity_memberships m ON m.user_id = u.id
JOIN identity_tenants t ON t.id = m.tenant_id
WHERE u.id=$1 AND t.id=$2 AND u.enabled`, userID, tenantID).Scan(&a.User.ID, &a.User.Name, &hash, &a.Tenant.ID, &a.Tenant.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Authentication{}, fmt.Errorf("%w: no membership for user %s on tenant %s", ErrInvalidCredentials, userID, tenantID)
	}
	if err != nil {
		return Authentication{}, fmt.Errorf("authenticate: %w", err)
	}
	if err := checkPassword(hash, password); err != nil {
		return Authentication{}, err
	}
	roles, err := p.ListRolesForUserTenant(ctx, userID, tenantID)
	if err != nil {
		return Authentication{}, err
	}
	a.Metadata = Metadata{"roles": roles}
	return a, nil
}

// GetCatalog expands global and tenant-specific endpoint rows in position order.
func (p *Postgres) GetCatalog(ctx context.Context, userID, tenantID string, md Metadata) (ServiceCatalog, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT COALESCE(tenant_id,''),region,service_type,url_type,url
	  FROM catalog_endpoints WHERE tenant_id IS NULL OR tenant_id=$1 ORDER BY position, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get catalog: %w", err)
	}
	defer rows.Close()
	var tmpl []EndpointTemplate
	for rows.Next() {
		var e EndpointTemplate
		if err := rows.Scan(&e.TenantID, &e.Region, &e.ServiceType, &e.URLType, &e.URL); err != nil {
			return nil, err
		}
		tmpl = append(tmpl, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return BuildCatalog(tmpl, userID, tenantID), nil
}

// CreateToken inserts the record; a colliding id yields ErrTokenExists.
func (p *Postgres) CreateToken(ctx context.Context, rec TokenRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tag, err := p.dbPool.Exec(ctx, `INSERT INTO tokens(id,user_id,tenant_id,record,expires_at) VALUES ($1,$2,$3,$4,$5)
	  ON CONFLICT (id) DO NOTHING`, rec.ID, rec.User.ID, rec.Tenant.ID, string(raw), rec.Expires)
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenExists
	}
	return nil
}

func (p *Postgres) GetToken(ctx context.Context, id string) (TokenRecord, error) {
	var raw []byte
	err := p.dbPool.QueryRow(ctx, `SELECT record FROM tokens WHERE id=$1 AND expires_at > NOW()`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return TokenRecord{}, ErrTokenNotFound
	}
	if err != nil {
		return TokenRecord{}, fmt.Errorf("get token: %w", err)
	}
	var rec TokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return TokenRecord{}, err
	}
	return rec, nil
}

func (p *Postgres) DeleteToken(ctx context.Context, id string) error {
	if _, err := p.dbPool.Exec(ctx, `DELETE FROM tokens WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// PurgeExpired removes tokens past expiry.
func (p *Postgres) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := p.dbPool.Exec(ctx, `DELETE FROM tokens WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	p.log.Debugw("purged expired tokens", "count", tag.RowsAffected())
	return tag.RowsAffected(), nil
}
