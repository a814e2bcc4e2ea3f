// Package v1auth serves the legacy Swift v1 auth dialect (X-Auth-User/X-Auth-Key and friends)
// on top of a multi-tenant identity backend, a token store and a service catalog.
package v1auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"v1auth/pkg/backends"
	"v1auth/pkg/logger"
)

var tracer = otel.Tracer("v1auth")

// Options parameterize catalog lookup and tenant guessing.
type Options struct {
	URLType     string
	ServiceType string
	SwiftRole   string
	TokenTTL    time.Duration
}

func DefaultOptions() Options {
	return Options{URLType: "public", ServiceType: "object-store", SwiftRole: "operator", TokenTTL: 24 * time.Hour}
}

// Grant is what a successful authentication hands back to the client.
type Grant struct {
	Token      string
	StorageURL string
	Expires    time.Time
	ExpiresIn  time.Duration // remaining lifetime at issue time
	UserID     string
	TenantID   string
}

// Service holds the collaborators for the lifetime of the process. It keeps no
// per-request state.
type Service struct {
	identity backends.Identity
	tokens   backends.TokenStore
	catalog  backends.Catalog
	opts     Options
	log      logger.Sugared

	now     func() time.Time
	tokenID func() string
}

func New(identity backends.Identity, tokens backends.TokenStore, catalog backends.Catalog, opts Options, log logger.Sugared) *Service {
	def := DefaultOptions()
	if opts.URLType == "" {
		opts.URLType = def.URLType
	}
	if opts.ServiceType == "" {
		opts.ServiceType = def.ServiceType
	}
	if opts.SwiftRole == "" {
		opts.SwiftRole = def.SwiftRole
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = def.TokenTTL
	}
	return &Service{
		identity: identity,
		tokens:   tokens,
		catalog:  catalog,
		opts:     opts,
		log:      log,
		now:      time.Now,
		tokenID:  newTokenID,
	}
}

// Authenticate runs user lookup, tenant resolution and issuance for normalized credentials.
func (s *Service) Authenticate(ctx context.Context, c Credentials) (Grant, error) {
	user, err := s.identity.FindUserByName(ctx, c.Username)
	if errors.Is(err, backends.ErrUserNotFound) {
		return Grant{}, fmt.Errorf("%w: unknown user", ErrUnauthorized)
	}
	if err != nil {
		return Grant{}, fault("find user", err)
	}

	tenantID, err := s.ResolveTenant(ctx, user.ID, c.TenantHint)
	if err != nil {
		return Grant{}, err
	}
	return s.Issue(ctx, user.ID, tenantID, c.Password)
}

// newTokenID returns 128 random bits as 32 hex characters.
func newTokenID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
