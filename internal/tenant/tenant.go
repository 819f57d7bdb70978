// Package tenant derives the tenant slug that partitions all stored data.
package tenant

import (
	"net"
	"strings"
)

// DefaultSlug is used when neither the request nor the host names a tenant.
const DefaultSlug = "speisekarte"

// Normalize lowercases s and drops every character outside [a-z0-9._-].
// Leading dots are stripped so a slug never names "." or "..".
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return -1
	}, s)
	return strings.TrimLeft(s, ".")
}

// Resolver maps requests to tenant slugs.
type Resolver struct {
	// Default is returned when no tenant can be derived.
	Default string
	// GenericLabels are host label fragments of hosting platforms, such as
	// "vercel", that never name a tenant.
	GenericLabels []string
}

// NewResolver returns a Resolver with the given default, which falls back to
// DefaultSlug when it normalizes to nothing.
func NewResolver(def string) *Resolver {
	def = Normalize(def)
	if def == "" {
		def = DefaultSlug
	}
	return &Resolver{Default: def, GenericLabels: []string{"vercel"}}
}

// FromHost returns the tenant named by the first DNS label of host.
func (r *Resolver) FromHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" || net.ParseIP(host) != nil {
		return r.Default
	}

	label, _, _ := strings.Cut(host, ".")
	label = Normalize(label)
	if label == "" || label == "www" {
		return r.Default
	}
	for _, g := range r.GenericLabels {
		if strings.Contains(label, g) {
			return r.Default
		}
	}
	return label
}

// Resolve prefers an explicit tenant from the request body or query and
// falls back to the host.
func (r *Resolver) Resolve(explicit, host string) string {
	if t := Normalize(explicit); t != "" {
		return t
	}
	return r.FromHost(host)
}
