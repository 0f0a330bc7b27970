package egress

import (
	"net/url"
	"slices"
	"strings"
)

// DefaultAllowedDomains are the Sleeper web app and the Google sign-in
// pages its SSO flow passes through.
var DefaultAllowedDomains = []string{
	"sleeper.app",
	"sleeper.com",
	"accounts.google.com",
	"accounts.google.co.uk",
}

// Policy is an allow-list of destination domains. A domain also allows its
// subdomains. The zero value allows nothing.
type Policy struct {
	domains []string
}

// NewPolicy builds a policy from domains. Entries are normalized and a
// leading "*." is accepted.
func NewPolicy(domains []string) *Policy {
	p := &Policy{}
	for _, d := range domains {
		d = strings.TrimPrefix(normalizeHostname(d), "*.")
		if d != "" && !slices.Contains(p.domains, d) {
			p.domains = append(p.domains, d)
		}
	}
	return p
}

// Domains returns the allowed domains.
func (p *Policy) Domains() []string {
	return slices.Clone(p.domains)
}

// AllowsHost reports whether host is an allowed domain or a subdomain of one.
func (p *Policy) AllowsHost(host string) bool {
	host = normalizeHostname(host)
	if host == "" {
		return false
	}
	for _, d := range p.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Check parses rawURL and returns it when navigation is allowed. Every
// rejection is a *BlockedError.
func (p *Policy) Check(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, blocked(rawURL, "invalid URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, blocked(rawURL, "scheme not allowed: "+u.Scheme)
	}
	if u.User != nil {
		return nil, blocked(rawURL, "credentials in URL")
	}
	host := u.Hostname()
	if host == "" {
		return nil, blocked(rawURL, "missing host")
	}
	if IsLocalHostname(host) || IsPrivateAddress(host) {
		return nil, blocked(rawURL, "local or private address: "+host)
	}
	if !p.AllowsHost(host) {
		return nil, blocked(rawURL, "domain not in allow-list: "+normalizeHostname(host))
	}
	return u, nil
}
