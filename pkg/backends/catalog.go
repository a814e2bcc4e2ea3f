package backends

import "strings"

// EndpointTemplate is one catalog row. An empty TenantID applies to every tenant.
type EndpointTemplate struct {
	TenantID    string `yaml:"tenant" json:"tenant"`
	Region      string `yaml:"region" json:"region"`
	ServiceType string `yaml:"service_type" json:"service_type"`
	URLType     string `yaml:"url_type" json:"url_type"`
	URL         string `yaml:"url" json:"url"`
}

// ExpandEndpoint substitutes $(tenant_id)s / $(user_id)s (and the %(..)s spelling).
func ExpandEndpoint(tmpl, userID, tenantID string) string {
	return strings.NewReplacer(
		"$(tenant_id)s", tenantID,
		"%(tenant_id)s", tenantID,
		"$(user_id)s", userID,
		"%(user_id)s", userID,
	).Replace(tmpl)
}

// catalogBuilder groups rows by region, keeping first-seen region order.
type catalogBuilder struct {
	index map[string]int
	out   ServiceCatalog
}

func (b *catalogBuilder) add(region, serviceType, urlType, url string) {
	if b.index == nil {
		b.index = map[string]int{}
	}
	i, ok := b.index[region]
	if !ok {
		i = len(b.out)
		b.index[region] = i
		b.out = append(b.out, Region{Name: region, Services: map[string]map[string]string{}})
	}
	svc := b.out[i].Services[serviceType]
	if svc == nil {
		svc = map[string]string{}
		b.out[i].Services[serviceType] = svc
	}
	if _, dup := svc[urlType]; !dup {
		svc[urlType] = url
	}
}

func (b *catalogBuilder) build() ServiceCatalog {
	if b.out == nil {
		return ServiceCatalog{}
	}
	return b.out
}

// BuildCatalog expands the templates that apply to tenantID into a catalog.
func BuildCatalog(rows []EndpointTemplate, userID, tenantID string) ServiceCatalog {
	var b catalogBuilder
	for _, r := range rows {
		if r.TenantID != "" && r.TenantID != tenantID {
			continue
		}
		b.add(r.Region, r.ServiceType, r.URLType, ExpandEndpoint(r.URL, userID, tenantID))
	}
	return b.build()
}

// GroupEndpoints groups already-resolved rows without tenant filtering or expansion.
func GroupEndpoints(rows []EndpointTemplate) ServiceCatalog {
	var b catalogBuilder
	for _, r := range rows {
		b.add(r.Region, r.ServiceType, r.URLType, r.URL)
	}
	return b.build()
}
