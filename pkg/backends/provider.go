package backends

import (
	"context"
	"errors"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenNotFound      = errors.New("token not found")
	ErrTokenExists        = errors.New("token id already in use")
)

// Identity answers user, membership and credential questions.
type Identity interface {
	FindUserByName(ctx context.Context, name string) (User, error)
	// Memberships in backend order.
	ListTenantsForUser(ctx context.Context, userID string) ([]string, error)
	ListRolesForUserTenant(ctx context.Context, userID, tenantID string) ([]string, error)
	// Authenticate returns ErrInvalidCredentials (possibly wrapped) for any rejected credential.
	Authenticate(ctx context.Context, userID, tenantID, password string) (Authentication, error)
}

// TokenStore persists issued tokens.
type TokenStore interface {
	CreateToken(ctx context.Context, rec TokenRecord) error
	GetToken(ctx context.Context, id string) (TokenRecord, error)
	// DeleteToken removes a record; a missing id is not an error.
	DeleteToken(ctx context.Context, id string) error
}

// Catalog resolves the endpoints visible to an authenticated user on a tenant.
type Catalog interface {
	GetCatalog(ctx context.Context, userID, tenantID string, md Metadata) (ServiceCatalog, error)
}
