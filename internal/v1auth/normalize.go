package v1auth

import (
	"fmt"
	"net/http"
	"strings"
)

// Credentials is the normalized (tenant hint, username, password) triple. An empty
// TenantHint means the caller did not name a tenant.
type Credentials struct {
	TenantHint string
	Username   string
	Password   string
}

// headerSources lists, per field, the headers consulted left to right; first non-empty wins.
type headerSources struct {
	user []string
	pass []string
}

var (
	// GET /v1/<tenant>/auth
	accountPathSources = headerSources{
		user: []string{"X-Storage-User", "X-Auth-User"},
		pass: []string{"X-Storage-Pass", "X-Auth-Key"},
	}
	// GET /auth, GET /v1.0
	prefixPathSources = headerSources{
		user: []string{"X-Auth-User", "X-Storage-User"},
		pass: []string{"X-Auth-Key", "X-Storage-Pass"},
	}
)

const (
	accountMarker = "v1"
	authMarker    = "auth"
	v10Marker     = "v1.0"
	tenantSep     = ":"
)

// Normalize maps one of the historical request shapes onto Credentials.
// path must already have any mount prefix removed.
func Normalize(path string, h http.Header) (Credentials, error) {
	segs := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)

	var c Credentials
	switch {
	case len(segs) == 3 && segs[0] == accountMarker && segs[2] == authMarker:
		c.TenantHint = segs[1]
		c.Username = firstHeader(h, accountPathSources.user)
		if embedded, user, ok := strings.Cut(c.Username, tenantSep); ok {
			if embedded != c.TenantHint {
				return Credentials{}, fmt.Errorf("%w: username tenant %q does not match path tenant %q", ErrUnauthorized, embedded, c.TenantHint)
			}
			c.Username = user
		}
		c.Password = firstHeader(h, accountPathSources.pass)
	case segs[0] == authMarker || segs[0] == v10Marker:
		c.Username = firstHeader(h, prefixPathSources.user)
		if tenant, user, ok := strings.Cut(c.Username, tenantSep); ok {
			c.TenantHint, c.Username = tenant, user
		}
		c.Password = firstHeader(h, prefixPathSources.pass)
	default:
		return Credentials{}, fmt.Errorf("%w: unrecognized path %q", ErrMalformed, path)
	}

	if c.Username == "" || c.Password == "" {
		return Credentials{}, fmt.Errorf("%w: missing username or password", ErrUnauthorized)
	}
	return c, nil
}

func firstHeader(h http.Header, names []string) string {
	for _, n := range names {
		if v := h.Get(n); v != "" {
			return v
		}
	}
	return ""
}
