// Package policy decides whether a destination may be reached from the
// host process. Classify is pure: the same candidate and snapshot always
// yield the same decision, and nothing is written anywhere.
package policy

import "github.com/dshield/dshield/internal/config"

// Decision is the outcome of classifying a candidate.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// Allowed reports whether d permits the call.
func (d Decision) Allowed() bool { return d == Allow }

// Classify applies the allowlist to c. Rules, first match wins:
//
//  1. no destination: allow
//  2. unix domain: allow
//  3. IPv4 127.0.0.1 or 0.0.0.0: allow
//  4. IPv6 ::1 or ::: allow
//  5. exact match on the configured proxy host and port: allow
//  6. any other IPv4/IPv6 destination: deny
//  7. any other family: allow
func Classify(c Candidate, cfg config.Snapshot) Decision {
	switch c.Family {
	case FamilyNone, FamilyUnix:
		return Allow
	case FamilyIPv4:
		if c.Addr == "127.0.0.1" || c.Addr == "0.0.0.0" {
			return Allow
		}
	case FamilyIPv6:
		if c.Addr == "::1" || c.Addr == "::" {
			return Allow
		}
	default:
		return Allow
	}
	if matchesProxy(c, cfg) {
		return Allow
	}
	return Deny
}

// matchesProxy compares textually, so a proxy configured by hostname never
// matches; the proxy must be given as an address literal.
func matchesProxy(c Candidate, cfg config.Snapshot) bool {
	if !cfg.ProxyConfigured() {
		return false
	}
	return c.Addr == cfg.ProxyHost && c.Port == cfg.ProxyPort
}
