// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// SSRF PROTECTION - BLOCKED IP RANGES
// =============================================================================

// blockedCIDRs are private, loopback, link-local and reserved ranges.
var blockedCIDRs = []string{
	// IPv4 private networks (RFC1918)
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",

	// IPv4 loopback and link-local
	"127.0.0.0/8",
	"169.254.0.0/16",

	// IPv4 special purpose
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"255.255.255.255/32",

	// IPv6. ::ffff:0:0/96 is left out: ParseCIDR normalizes it to
	// 0.0.0.0/0, and mapped addresses are caught by the IPv4 ranges anyway.
	"::1/128",
	"::/128",
	"64:ff9b::/96",
	"100::/64",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
}

// blockedHosts are cloud metadata and local names.
var blockedHosts = []string{
	"metadata.google.internal",
	"metadata.google.com",
	"metadata",
	"instance-data",
	"localhost",
}

var blockedNetworks = func() []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(blockedCIDRs))
	for _, cidr := range blockedCIDRs {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}()

// SSRF protection errors.
var (
	ErrBlockedIP        = errors.New("IP address is blocked (private/internal range)")
	ErrBlockedHost      = errors.New("hostname is blocked")
	ErrInvalidScheme    = errors.New("only http and https schemes are allowed")
	ErrInvalidURL       = errors.New("invalid URL")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// IsBlockedIP reports whether ip falls in a blocked range.
func IsBlockedIP(ip net.IP) bool {
	for _, n := range blockedNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// validateURL parses rawURL and rejects non-http schemes and, unless
// allowPrivate is set, blocked hosts and literal blocked addresses.
func validateURL(rawURL string, allowPrivate bool) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, ErrInvalidURL
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrInvalidScheme
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, ErrInvalidURL
	}
	if allowPrivate {
		return u, nil
	}

	for _, blocked := range blockedHosts {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return nil, ErrBlockedHost
		}
	}
	if ip := net.ParseIP(host); ip != nil && IsBlockedIP(ip) {
		return nil, ErrBlockedIP
	}
	return u, nil
}

// guardedDialer resolves the host itself and refuses blocked addresses, so
// a public name that resolves to a private address is caught too.
func guardedDialer() func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, errors.New("no IP addresses resolved")
		}
		for _, ip := range ips {
			if IsBlockedIP(ip) {
				return nil, ErrBlockedIP
			}
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
	}
}
