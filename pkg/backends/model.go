package backends

import "time"

// User is the identity-backend view of an account. Only ID is meaningful to callers.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	DomainID string `json:"domain_id,omitempty"`
}

// Tenant is a project/account grouping.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Metadata is opaque backend data carried from authentication to token and catalog.
type Metadata map[string]any

// Authentication is the successful outcome of a credential check.
type Authentication struct {
	User     User
	Tenant   Tenant
	Metadata Metadata
}

// TokenRecord is what gets persisted for an issued token.
type TokenRecord struct {
	ID       string    `json:"id"`
	User     User      `json:"user"`
	Tenant   Tenant    `json:"tenant"`
	Metadata Metadata  `json:"metadata,omitempty"`
	Expires  time.Time `json:"expires"`
}

// Region groups endpoints by service type, then URL type (public, internal, admin).
type Region struct {
	Name     string
	Services map[string]map[string]string
}

// ServiceCatalog lists regions in the order the backend returned them.
type ServiceCatalog []Region
