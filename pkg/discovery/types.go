package discovery

import (
	"errors"
	"net"
	"strings"
	"time"
)

// Service type and domain browsed for routers.
const (
	ServiceType = "_ssh._tcp"
	Domain      = "local."
)

// BrowseTimeout is the default time FindRouter waits for a match.
const BrowseTimeout = 10 * time.Second

// ErrNotFound is returned when no router matched before the timeout.
var ErrNotFound = errors.New("router not found")

// Router is one announced router.
type Router struct {
	// Instance is the DNS-SD instance name, usually the hostname.
	Instance string

	// Host is the announced target host, e.g. "RUTX11.local.".
	Host string

	Port int

	// Addrs holds every announced address, IPv4 first.
	Addrs []string

	// Text holds the TXT record as key/value pairs.
	Text map[string]string
}

// Address returns the first IPv4 address, falling back to the first address
// of any family. It is empty when the router announced none.
func (r *Router) Address() string {
	for _, a := range r.Addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	if len(r.Addrs) > 0 {
		return r.Addrs[0]
	}
	return ""
}

func (r *Router) clone() *Router {
	c := *r
	c.Addrs = append([]string(nil), r.Addrs...)
	return &c
}

// Matches reports whether name is contained, case-insensitively, in the
// instance name or host.
func (r *Router) Matches(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(strings.ToLower(r.Instance), name) ||
		strings.Contains(strings.ToLower(r.Host), name)
}

// Config configures browsing.
type Config struct {
	// Service defaults to ServiceType.
	Service string

	// Domain defaults to Domain.
	Domain string

	// Interface limits browsing to one network interface. Empty means all.
	Interface string

	// Timeout bounds FindRouter. Defaults to BrowseTimeout.
	Timeout time.Duration
}

// DefaultConfig returns the default browse configuration.
func DefaultConfig() Config {
	return Config{
		Service: ServiceType,
		Domain:  Domain,
		Timeout: BrowseTimeout,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Service == "" {
		c.Service = def.Service
	}
	if c.Domain == "" {
		c.Domain = def.Domain
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// parseText turns "key=value" TXT strings into a map. A bare key maps to "".
func parseText(strs []string) map[string]string {
	txt := make(map[string]string, len(strs))
	for _, s := range strs {
		if s == "" {
			continue
		}
		k, v, _ := strings.Cut(s, "=")
		txt[k] = v
	}
	return txt
}
