// Package proxy manages rotating proxy leases: the vendor client that hands
// them out, the on-disk cache that survives restarts, and the State value that
// the retrieval unit threads through every request.
package proxy

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Lease is one proxy endpoint rented from the vendor.
type Lease struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Valid reports whether the lease is a dotted-quad IPv4 address with a usable port.
func (l Lease) Valid() bool {
	ip := net.ParseIP(l.IP)
	return ip != nil && ip.To4() != nil && l.Port > 0 && l.Port < 65536
}

// Addr returns host:port.
func (l Lease) Addr() string {
	return net.JoinHostPort(l.IP, strconv.Itoa(l.Port))
}

// URL returns the proxy URL used for both http and https traffic.
func (l Lease) URL() *url.URL {
	return &url.URL{Scheme: "http", Host: l.Addr()}
}

func (l Lease) String() string {
	return fmt.Sprintf("http://%s", l.Addr())
}

// State is the proxy lease currently in use by a stage. The zero value holds
// no lease. Retrieval calls take a State and return the possibly updated one.
type State struct {
	lease *Lease
}

// NewState wraps a lease. Invalid leases yield an empty State.
func NewState(l Lease) State {
	if !l.Valid() {
		return State{}
	}
	return State{lease: &l}
}

// Lease returns the held lease, if any.
func (s State) Lease() (Lease, bool) {
	if s.lease == nil {
		return Lease{}, false
	}
	return *s.lease, true
}

// Held reports whether the state carries a lease.
func (s State) Held() bool {
	return s.lease != nil
}

// Drop discards the lease after a ban, timeout or proxy failure. The on-disk
// cache is left alone; the next acquisition overwrites it.
func (s State) Drop() State {
	return State{}
}
