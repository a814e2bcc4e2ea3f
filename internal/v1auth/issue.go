package v1auth

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"v1auth/pkg/backends"
)

// Issue verifies the password for (user, tenant), stores a fresh token and resolves the
// storage URL from the catalog of the authenticated tenant.
func (s *Service) Issue(ctx context.Context, userID, tenantID, password string) (Grant, error) {
	ctx, span := tracer.Start(ctx, "issue")
	defer span.End()
	span.SetAttributes(attribute.String("v1auth.user_id", userID), attribute.String("v1auth.tenant_id", tenantID))

	auth, err := s.identity.Authenticate(ctx, userID, tenantID, password)
	if errors.Is(err, backends.ErrInvalidCredentials) {
		return Grant{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if err != nil {
		return Grant{}, fault("authenticate", err)
	}
	if auth.User.ID == "" || auth.Tenant.ID == "" {
		return Grant{}, fault("authenticate", errors.New("backend returned an unscoped authentication"))
	}

	now := s.now()
	rec := backends.TokenRecord{
		ID:       s.tokenID(),
		User:     auth.User,
		Tenant:   auth.Tenant,
		Metadata: auth.Metadata,
		Expires:  now.Add(s.opts.TokenTTL).UTC(),
	}
	if err := s.tokens.CreateToken(ctx, rec); err != nil {
		return Grant{}, fault("create token", err)
	}

	catalog, err := s.catalog.GetCatalog(ctx, auth.User.ID, auth.Tenant.ID, auth.Metadata)
	if err != nil {
		s.discard(ctx, rec.ID)
		return Grant{}, fault("get catalog", err)
	}
	url, err := storageURL(catalog, s.opts.ServiceType, s.opts.URLType)
	if err != nil {
		s.discard(ctx, rec.ID)
		return Grant{}, fault("get catalog", err)
	}

	return Grant{
		Token:      rec.ID,
		StorageURL: url,
		Expires:    rec.Expires,
		ExpiresIn:  rec.Expires.Sub(now),
		UserID:     auth.User.ID,
		TenantID:   auth.Tenant.ID,
	}, nil
}

// discard removes a stored token the client will never receive. Failure only leaves it to expire.
func (s *Service) discard(ctx context.Context, id string) {
	if err := s.tokens.DeleteToken(context.WithoutCancel(ctx), id); err != nil {
		s.log.Warnw("discard unissued token", "err", err)
	}
}

// storageURL scans regions in catalog order and stops at the first one offering serviceType.
func storageURL(c backends.ServiceCatalog, serviceType, urlType string) (string, error) {
	for _, region := range c {
		svc, ok := region.Services[serviceType]
		if !ok {
			continue
		}
		if url := svc[urlType]; url != "" {
			return url, nil
		}
		return "", fmt.Errorf("%w: region %q has %s but no %s url", ErrNoEndpoint, region.Name, serviceType, urlType)
	}
	return "", fmt.Errorf("%w: no region offers %s", ErrNoEndpoint, serviceType)
}
