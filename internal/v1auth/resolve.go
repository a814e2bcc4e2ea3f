package v1auth

import (
	"context"
	"fmt"
	"slices"

	"v1auth/pkg/logger"
)

// ResolveTenant picks the tenant to authenticate against. An explicit hint wins without any
// backend call. Otherwise a single membership is taken as is, and among several memberships
// the only one granting the configured role is chosen.
func (s *Service) ResolveTenant(ctx context.Context, userID, hint string) (string, error) {
	if hint != "" {
		return hint, nil
	}
	ctx, span := tracer.Start(ctx, "resolve_tenant")
	defer span.End()

	tenants, err := s.identity.ListTenantsForUser(ctx, userID)
	if err != nil {
		return "", fault("list tenants", err)
	}

	var selected string
	switch len(tenants) {
	case 0:
		return "", fmt.Errorf("%w: user has no tenants", ErrUnauthorized)
	case 1:
		selected = tenants[0]
	default:
		for _, tenantID := range tenants {
			roles, err := s.identity.ListRolesForUserTenant(ctx, userID, tenantID)
			if err != nil {
				return "", fault("list roles", err)
			}
			if !slices.Contains(roles, s.opts.SwiftRole) {
				continue
			}
			if selected != "" {
				return "", fmt.Errorf("%w: role %q held on several tenants", ErrUnauthorized, s.opts.SwiftRole)
			}
			selected = tenantID
		}
		if selected == "" {
			return "", fmt.Errorf("%w: no tenant grants role %q", ErrUnauthorized, s.opts.SwiftRole)
		}
	}

	logger.FromContext(ctx, s.log).Infow("selected tenant", "tenant", selected, "user", userID)
	return selected, nil
}
