package egress

import (
	"errors"
	"testing"
)

func TestPolicyCheck(t *testing.T) {
	policy := NewPolicy(DefaultAllowedDomains)

	tests := []struct {
		name    string
		url     string
		allowed bool
	}{
		{"sleeper root", "https://sleeper.com/", true},
		{"sleeper app subdomain", "https://api.sleeper.app/v1/state/nfl", true},
		{"google accounts", "https://accounts.google.com/o/oauth2/auth", true},
		{"uppercase host", "HTTPS://Sleeper.COM/leagues/1/3", true},
		{"other domain", "https://evil.example.com", false},
		{"suffix trick", "https://sleeper.com.evil.example", false},
		{"prefix trick", "https://notsleeper.com/", false},
		{"google root not allowed", "https://google.com/", false},
		{"file scheme", "file:///etc/passwd", false},
		{"javascript scheme", "javascript:alert(1)", false},
		{"embedded credentials", "https://user:pw@sleeper.com/", false},
		{"loopback literal", "http://127.0.0.1/", false},
		{"localhost", "http://localhost:8080/", false},
		{"metadata", "http://169.254.169.254/latest/meta-data", false},
		{"ipv6 loopback", "http://[::1]/", false},
		{"missing host", "https:///path", false},
		{"garbage", "://", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := policy.Check(tt.url)
			if tt.allowed {
				if err != nil {
					t.Fatalf("Check(%q) error = %v, want allowed", tt.url, err)
				}
				if u == nil {
					t.Fatal("Check() returned nil URL")
				}
				return
			}
			if err == nil {
				t.Fatalf("Check(%q) allowed, want blocked", tt.url)
			}
			if !errors.Is(err, ErrBlocked) {
				t.Errorf("error %v is not ErrBlocked", err)
			}
			var be *BlockedError
			if !errors.As(err, &be) || be.Reason == "" {
				t.Errorf("error %v is not a *BlockedError with a reason", err)
			}
		})
	}
}

func TestNewPolicyNormalizesDomains(t *testing.T) {
	policy := NewPolicy([]string{"*.Example.org.", "example.org", " "})
	if got := policy.Domains(); len(got) != 1 || got[0] != "example.org" {
		t.Fatalf("Domains() = %v", got)
	}
	if !policy.AllowsHost("www.example.org") {
		t.Error("subdomain not allowed")
	}
	if (&Policy{}).AllowsHost("example.org") {
		t.Error("zero policy allows a host")
	}
}

func TestIsPrivateAddress(t *testing.T) {
	tests := map[string]bool{
		"10.1.2.3":           true,
		"172.16.0.1":         true,
		"192.168.1.1":        true,
		"100.64.0.1":         true,
		"0.0.0.0":            true,
		"::ffff:192.168.1.1": true,
		"fe80::1":            true,
		"fd00::1":            true,
		"8.8.8.8":            false,
		"2606:4700::1111":    false,
		"sleeper.com":        false,
	}
	for addr, want := range tests {
		if got := IsPrivateAddress(addr); got != want {
			t.Errorf("IsPrivateAddress(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestIsLocalHostname(t *testing.T) {
	for _, host := range []string{"localhost", "LOCALHOST.", "printer.local", "db.internal", "app.localhost"} {
		if !IsLocalHostname(host) {
			t.Errorf("IsLocalHostname(%q) = false", host)
		}
	}
	if IsLocalHostname("sleeper.com") {
		t.Error("IsLocalHostname(sleeper.com) = true")
	}
}
