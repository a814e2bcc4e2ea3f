// Package keystone adapts a Keystone v3 service to the backends.Identity and
// backends.Catalog interfaces.
package keystone

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/roles"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/tokens"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/users"

	"v1auth/pkg/backends"
	"v1auth/pkg/config"
	"v1auth/pkg/logger"
)

// metadataCatalogKey carries the catalog of the project-scoped token from Authenticate to
// GetCatalog. The token id itself never leaves Authenticate: metadata ends up in the token store.
const metadataCatalogKey = "keystone_catalog"

var errNoCatalog = errors.New("keystone: metadata carries no service catalog")

type Backend struct {
	client   *gophercloud.ServiceClient
	domainID string
	log      logger.Sugared
}

// New logs the service user in and returns an identity v3 backend.
func New(ctx context.Context, cfg config.Keystone, log logger.Sugared) (*Backend, error) {
	if cfg.AuthURL == "" {
		return nil, errors.New("keystone: KEYSTONE_AUTH_URL not set")
	}
	log.Infow("setting up identity connection", "auth_url", cfg.AuthURL, "user", cfg.Username)
	provider, err := openstack.AuthenticatedClient(ctx, gophercloud.AuthOptions{
		IdentityEndpoint: cfg.AuthURL,
		Username:         cfg.Username,
		Password:         cfg.Password,
		DomainName:       cfg.UserDomainName,
		AllowReauth:      true,
		Scope: &gophercloud.AuthScope{
			ProjectName: cfg.ProjectName,
			DomainName:  cfg.ProjectDomainName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cannot initialize OpenStack service user provider client: %w", err)
	}
	client, err := openstack.NewIdentityV3(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, fmt.Errorf("cannot initialize OpenStack identity v3 client: %w", err)
	}
	return &Backend{client: client, domainID: cfg.UserDomainID, log: log}, nil
}

func (b *Backend) FindUserByName(ctx context.Context, name string) (backends.User, error) {
	enabled := true
	pages, err := users.List(b.client, users.ListOpts{Name: name, DomainID: b.domainID, Enabled: &enabled}).AllPages(ctx)
	if err != nil {
		return backends.User{}, fmt.Errorf("keystone: list users: %w", err)
	}
	found, err := users.ExtractUsers(pages)
	if err != nil {
		return backends.User{}, err
	}
	switch len(found) {
	case 0:
		return backends.User{}, backends.ErrUserNotFound
	case 1:
		return backends.User{ID: found[0].ID, Name: found[0].Name, DomainID: found[0].DomainID}, nil
	default:
		// same name in several domains and no lookup domain configured
		b.log.Warnw("ambiguous user name", "name", name, "matches", len(found))
		return backends.User{}, backends.ErrUserNotFound
	}
}

func (b *Backend) ListTenantsForUser(ctx context.Context, userID string) ([]string, error) {
	pages, err := users.ListProjects(b.client, userID).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("keystone: list projects: %w", err)
	}
	list, err := projects.ExtractProjects(pages)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list))
	for _, p := range list {
		if p.Enabled {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (b *Backend) ListRolesForUserTenant(ctx context.Context, userID, tenantID string) ([]string, error) {
	effective, names := true, true
	pages, err := roles.ListAssignments(b.client, roles.ListAssignmentsOpts{
		UserID:         userID,
		ScopeProjectID: tenantID,
		Effective:      &effective,
		IncludeNames:   &names,
	}).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("keystone: list role assignments: %w", err)
	}
	assignments, err := roles.ExtractRoleAssignments(pages)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(assignments))
	for _, ra := range assignments {
		out = append(out, ra.Role.Name)
	}
	return out, nil
}

// Authenticate requests a project-scoped token with the user's password.
func (b *Backend) Authenticate(ctx context.Context, userID, tenantID, password string) (backends.Authentication, error) {
	res := tokens.Create(ctx, b.client, &tokens.AuthOptions{
		UserID:   userID,
		Password: password,
		Scope:    tokens.Scope{ProjectID: tenantID},
	})
	tok, err := res.ExtractToken()
	if err != nil {
		if gophercloud.ResponseCodeIs(err, http.StatusUnauthorized) || gophercloud.ResponseCodeIs(err, http.StatusForbidden) ||
			gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return backends.Authentication{}, fmt.Errorf("%w: %v", backends.ErrInvalidCredentials, err)
		}
		return backends.Authentication{}, fmt.Errorf("keystone: create token: %w", err)
	}
	user, err := res.ExtractUser()
	if err != nil {
		return backends.Authentication{}, err
	}
	project, err := res.ExtractProject()
	if err != nil {
		return backends.Authentication{}, err
	}
	if project == nil {
		return backends.Authentication{}, fmt.Errorf("%w: token is not project scoped", backends.ErrInvalidCredentials)
	}
	tokenRoles, err := res.ExtractRoles()
	if err != nil {
		return backends.Authentication{}, err
	}
	sc, err := res.ExtractServiceCatalog()
	if err != nil {
		return backends.Authentication{}, fmt.Errorf("keystone: read catalog: %w", err)
	}
	roleNames := make([]string, 0, len(tokenRoles))
	for _, r := range tokenRoles {
		roleNames = append(roleNames, r.Name)
	}
	return backends.Authentication{
		User:   backends.User{ID: user.ID, Name: user.Name, DomainID: user.Domain.ID},
		Tenant: backends.Tenant{ID: project.ID, Name: project.Name},
		Metadata: backends.Metadata{
			"roles":            roleNames,
			metadataCatalogKey: catalogFromEntries(sc.Entries),
			"keystone_expires": tok.ExpiresAt,
		},
	}, nil
}

// GetCatalog returns the catalog Keystone attached to the token issued by Authenticate.
func (b *Backend) GetCatalog(ctx context.Context, userID, tenantID string, md backends.Metadata) (backends.ServiceCatalog, error) {
	c, ok := md[metadataCatalogKey].(backends.ServiceCatalog)
	if !ok {
		return nil, errNoCatalog
	}
	return c, nil
}

// catalogFromEntries regroups Keystone entries as region -> service type -> interface -> URL.
func catalogFromEntries(entries []tokens.CatalogEntry) backends.ServiceCatalog {
	var rows []backends.EndpointTemplate
	for _, e := range entries {
		for _, ep := range e.Endpoints {
			region := ep.Region
			if region == "" {
				region = ep.RegionID
			}
			rows = append(rows, backends.EndpointTemplate{Region: region, ServiceType: e.Type, URLType: ep.Interface, URL: ep.URL})
		}
	}
	return backends.GroupEndpoints(rows)
}
