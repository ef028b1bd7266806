// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNonLocalhost is returned for endpoints off the local machine.
	ErrNonLocalhost = errors.New("offline mode: only localhost endpoints are allowed")

	// ErrWebBlocked is returned when web fetch or search is requested.
	ErrWebBlocked = errors.New("offline mode: web fetch and search are disabled")

	// ErrInvalidURLScheme is returned for schemes other than http and https.
	ErrInvalidURLScheme = errors.New("only http and https endpoints are allowed")
)

// =============================================================================
// POLICY
// =============================================================================

// Policy decides which network access is allowed. The zero value allows
// everything.
type Policy struct {
	Enabled bool
}

// IsLocalhost reports whether host, with or without a port, refers to the
// local machine.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// CheckEndpoint validates a provider endpoint. The scheme is always
// checked; the host only when the policy is enabled.
func (p Policy) CheckEndpoint(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", rawURL, err)
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInvalidURLScheme, rawURL)
	}
	if p.Enabled && !IsLocalhost(u.Hostname()) {
		return fmt.Errorf("%w: %s", ErrNonLocalhost, u.Host)
	}
	return nil
}

// CheckWebAllowed returns ErrWebBlocked when offline.
func (p Policy) CheckWebAllowed() error {
	if p.Enabled {
		return ErrWebBlocked
	}
	return nil
}

// FilterProviders splits providers into the ones the policy allows and the
// ids of those it blocks, preserving order. Providers without an endpoint
// use their family's public API and are blocked when offline.
func (p Policy) FilterProviders(providers []model.Provider) (allowed []model.Provider, blocked []string) {
	for _, prov := range providers {
		if !p.Enabled {
			allowed = append(allowed, prov)
			continue
		}
		if prov.Endpoint != "" && p.CheckEndpoint(prov.Endpoint) == nil {
			allowed = append(allowed, prov)
			continue
		}
		blocked = append(blocked, prov.ID)
	}
	return allowed, blocked
}

// StatusBadge returns "[OFFLINE]" when offline.
func (p Policy) StatusBadge() string {
	if p.Enabled {
		return "[OFFLINE]"
	}
	return ""
}
