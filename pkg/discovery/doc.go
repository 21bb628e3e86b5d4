// Package discovery finds routers on the local network over mDNS/DNS-SD.
//
// Routers announce their SSH service as _ssh._tcp in the local. domain.
// Browse aggregates announcements by instance name: addresses seen on
// several interfaces are merged into one Router, and an instance whose last
// address is withdrawn is forgotten, so a later announcement is reported
// again.
//
// FindRouter is the lookup used by the command line when the device config
// leaves the router IP empty:
//
//	r, err := discovery.FindRouter(ctx, discovery.DefaultConfig(), "RUTX11")
//	if err != nil {
//		return err
//	}
//	cfg.Device.IP = r.Address()
package discovery
