package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"chat", "state", "threads", "sessions", "serve", "config", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestSessionsSubcommands(t *testing.T) {
	cmd := buildSessionsCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"start", "list", "status", "close", "sweep"} {
		if !names[name] {
			t.Errorf("expected sessions subcommand %q", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"flag wins", "custom.yaml", "env.yaml", "custom.yaml"},
		{"env", "", "env.yaml", "env.yaml"},
		{"default", "", "", defaultConfigPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GRIDIRON_CONFIG", tt.env)
			if got := resolveConfigPath(tt.flag); got != tt.want {
				t.Errorf("resolveConfigPath(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "gridiron dev") {
		t.Errorf("output = %q", out.String())
	}
}

func TestConfigSchemaCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "schema"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "gridiron configuration") {
		t.Errorf("schema output missing title")
	}
}

func TestChatOptionsThreadContext(t *testing.T) {
	if ctx := (chatOptions{}).threadContext(); ctx != nil {
		t.Errorf("empty options should produce nil context, got %v", ctx)
	}
	ctx := chatOptions{leagueID: "L1", userID: "U1", week: 7}.threadContext()
	if ctx["league_id"] != "L1" || ctx["user_id"] != "U1" || ctx["week"] != 7 {
		t.Errorf("context = %v", ctx)
	}
	if _, ok := ctx["roster_id"]; ok {
		t.Error("roster_id should be absent")
	}
}
