package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/enbility/zeroconf/v3"
)

// browseFunc starts the mDNS query. Tests replace it.
var browseFunc = func(ctx context.Context, cfg Config, entries, removed chan *zeroconf.ServiceEntry) error {
	return zeroconf.Browse(ctx, cfg.Service, cfg.Domain, entries, removed, browserOptions(cfg)...)
}

// Browse searches for routers until ctx is done. Each instance is sent once,
// when first seen with an address.
// The returned channel is closed when ctx is done or browsing stops.
func Browse(ctx context.Context, cfg Config) (<-chan *Router, error) {
	cfg = cfg.withDefaults()
	if cfg.Interface != "" {
		if _, err := net.InterfaceByName(cfg.Interface); err != nil {
			return nil, fmt.Errorf("interface %s: %w", cfg.Interface, err)
		}
	}

	out := make(chan *Router)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	browse := browseFunc
	go aggregate(ctx, entries, removed, out)
	go func() {
		_ = browse(ctx, cfg, entries, removed)
	}()
	return out, nil
}

// aggregate merges entries by instance and forwards each instance to out
// once, as soon as it has an address. Removal drops the withdrawn addresses
// and forgets an instance left with none.
func aggregate(ctx context.Context, entries, removed <-chan *zeroconf.ServiceEntry, out chan<- *Router) {
	defer close(out)

	routers := make(map[string]*Router)
	sent := make(map[string]bool)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			r := entryToRouter(entry)
			if existing, found := routers[r.Instance]; found {
				existing.Addrs = mergeAddresses(existing.Addrs, r.Addrs)
				r = existing
			} else {
				routers[r.Instance] = r
			}
			if sent[r.Instance] || len(r.Addrs) == 0 {
				continue
			}
			sent[r.Instance] = true
			select {
			case out <- r.clone():
			case <-ctx.Done():
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			if existing, found := routers[entry.Instance]; found {
				existing.Addrs = removeAddresses(existing.Addrs, entry)
				if len(existing.Addrs) == 0 {
					delete(routers, entry.Instance)
					delete(sent, entry.Instance)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// FindRouter browses until a router matching name is seen or cfg.Timeout
// expires. An empty name matches the first router.
func FindRouter(ctx context.Context, cfg Config, name string) (*Router, error) {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	routers, err := Browse(ctx, cfg)
	if err != nil {
		return nil, err
	}
	for r := range routers {
		if r.Matches(name) && r.Address() != "" {
			return r, nil
		}
	}
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

func browserOptions(cfg Config) []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if cfg.Interface != "" {
		if iface, err := net.InterfaceByName(cfg.Interface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

func entryToRouter(entry *zeroconf.ServiceEntry) *Router {
	return &Router{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		Addrs:    entryAddresses(entry),
		Text:     parseText(entry.Text),
	}
}

func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		if ip != nil {
			addrs = append(addrs, ip.String())
		}
	}
	for _, ip := range entry.AddrIPv6 {
		if ip != nil {
			addrs = append(addrs, ip.String())
		}
	}
	return addrs
}

// mergeAddresses appends the addresses of add not already in existing.
func mergeAddresses(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a] = true
	}
	for _, a := range add {
		if !seen[a] {
			existing = append(existing, a)
			seen[a] = true
		}
	}
	return existing
}

// removeAddresses drops the addresses of entry from addrs.
func removeAddresses(addrs []string, entry *zeroconf.ServiceEntry) []string {
	drop := make(map[string]bool)
	for _, a := range entryAddresses(entry) {
		drop[a] = true
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if !drop[a] {
			out = append(out, a)
		}
	}
	return out
}
