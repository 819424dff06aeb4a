// Package capability maps admin roles to the capabilities they grant.
//
// Capabilities are "<entity>:<action>" strings for the CMS entities the
// admin console manages. A Registry is built once at startup and is
// read-only afterwards.
package capability

import (
	"slices"
	"sort"

	adminauth "github.com/chimerakang/adminauth-go"
)

// CMS entities.
const (
	Products        = "products"
	Categories      = "categories"
	Orders          = "orders"
	Posts           = "posts"
	Events          = "events"
	Coupons         = "coupons"
	Badges          = "badges"
	PaymentMethods  = "payment-methods"
	ShippingMethods = "shipping-methods"
	Users           = "users"
	Dashboard       = "dashboard"
)

// Entities lists every CMS entity with read/write capabilities.
var Entities = []string{
	Products, Categories, Orders, Posts, Events, Coupons,
	Badges, PaymentMethods, ShippingMethods, Users,
}

// Read returns the read capability for entity.
func Read(entity string) string { return entity + ":read" }

// Write returns the write capability for entity.
func Write(entity string) string { return entity + ":write" }

// DashboardRead gates the reporting dashboard.
var DashboardRead = Read(Dashboard)

// Default roles.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleEditor  = "editor"
	RoleSupport = "support"
)

// Registry is a static role → capability table.
type Registry struct {
	roles map[string]map[string]bool
}

// compile-time check
var _ adminauth.CapabilityResolver = (*Registry)(nil)

// NewRegistry builds a Registry from role → capabilities.
func NewRegistry(table map[string][]string) *Registry {
	r := &Registry{roles: make(map[string]map[string]bool, len(table))}
	for role, caps := range table {
		set := make(map[string]bool, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		r.roles[role] = set
	}
	return r
}

// Default returns the registry for the standard admin roles.
func Default() *Registry {
	all := []string{DashboardRead}
	for _, e := range Entities {
		all = append(all, Read(e), Write(e))
	}
	manager := slices.DeleteFunc(slices.Clone(all), func(c string) bool { return c == Write(Users) })

	return NewRegistry(map[string][]string{
		RoleAdmin:   all,
		RoleManager: manager,
		RoleEditor: {
			Read(Posts), Write(Posts),
			Read(Events), Write(Events),
			Read(Badges), Write(Badges),
		},
		RoleSupport: {
			Read(Orders), Write(Orders),
			Read(Users),
			DashboardRead,
		},
	})
}

// Grants reports whether role grants capability.
func (r *Registry) Grants(role, capability string) bool {
	return r.roles[role][capability]
}

// Capabilities returns the sorted capabilities granted by any of roles.
func (r *Registry) Capabilities(roles []string) []string {
	seen := make(map[string]bool)
	for _, role := range roles {
		for c := range r.roles[role] {
			seen[c] = true
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Missing returns the required capabilities none of roles grants, in the
// order given.
func Missing(resolver adminauth.CapabilityResolver, roles, required []string) []string {
	var missing []string
	for _, c := range required {
		if !slices.ContainsFunc(roles, func(role string) bool { return resolver.Grants(role, c) }) {
			missing = append(missing, c)
		}
	}
	return missing
}
