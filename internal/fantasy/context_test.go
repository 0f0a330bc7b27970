package fantasy

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSelectorFrom(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   Selector
	}{
		{"json numbers", map[string]any{"league_id": "L1", "roster_id": float64(3), "week": float64(5)}, Selector{LeagueID: "L1", RosterID: 3, Week: 5}},
		{"strings", map[string]any{"league_id": "L1", "roster_id": "3", "user_id": "u-1", "week": " 7 "}, Selector{LeagueID: "L1", RosterID: 3, UserID: "u-1", Week: 7}},
		{"numeric league id", map[string]any{"league_id": float64(1180000000000000000)}, Selector{LeagueID: "1180000000000000000"}},
		{"empty", nil, Selector{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectorFrom(tt.values); got != tt.want {
				t.Fatalf("SelectorFrom() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestContextProviderFetch(t *testing.T) {
	f := newFakeSleeper(t)
	provider := NewContextProvider(NewSnapshots(f.client()))
	provider.now = func() time.Time { return time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	got, err := provider.Fetch(ctx, map[string]any{"league_id": "L1", "user_id": "owner-1", "week": 4})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	roster, ok := got["roster"].(*RosterSnapshot)
	if !ok {
		t.Fatalf("roster = %T", got["roster"])
	}
	if roster.RosterID != 1 || roster.Week != 4 || roster.Record.Wins != 4 {
		t.Errorf("roster = %+v", roster)
	}
	if got["season"] != 2025 {
		t.Errorf("season = %v", got["season"])
	}

	if got, err := provider.Fetch(ctx, map[string]any{"week": 4}); err != nil || got != nil {
		t.Errorf("Fetch() without league = %v, %v; want nil, nil", got, err)
	}
	if _, err := provider.Fetch(ctx, map[string]any{"league_id": "L1"}); err == nil {
		t.Error("Fetch() without roster or user should fail")
	}
}

func TestMatchPlayer(t *testing.T) {
	candidates := []PlayerSummary{
		{PlayerID: "1", Name: "Josh Allen"},
		{PlayerID: "2", Name: "Keenan Allen"},
		{PlayerID: "3", Name: "Christian McCaffrey"},
	}
	tests := []struct {
		query string
		want  string
		ok    bool
	}{
		{"keenan allen", "2", true},
		{"allen", "1", true},
		{"Christian", "3", true},
		{"mccaf", "3", true},
		{"3", "3", true},
		{"", "", false},
		{"Derrick Henry", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, ok := matchPlayer(tt.query, candidates)
			if ok != tt.ok || got.PlayerID != tt.want {
				t.Fatalf("matchPlayer(%q) = %q, %v; want %q, %v", tt.query, got.PlayerID, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPrompt(t *testing.T) {
	bench := make([]PlayerSummary, 12)
	for i := range bench {
		bench[i] = PlayerSummary{PlayerID: "b", Name: "Depth Player", Position: "WR", Team: "NYJ"}
	}
	roster := &RosterSnapshot{
		Starters: []PlayerSummary{{Name: "Lamar Jackson", Position: "QB", Team: "BAL", InjuryStatus: "Questionable"}},
		Bench:    bench,
		Record:   RosterSettings{Wins: 3, Losses: 1},
	}

	got := Prompt(map[string]any{"roster": roster, "week": 5, "season": 2025})
	for _, want := range []string{
		"week 5 of the 2025 NFL season",
		"Lamar Jackson (QB, BAL) [Questionable]",
		"Bench (12 players)",
		"... and 2 more",
		"Record: 3-1",
		"propose_lineup_swap",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	bare := Prompt(nil)
	if !strings.Contains(bare, "No roster is linked") || strings.Contains(bare, "NFL season") {
		t.Errorf("bare prompt = %q", bare)
	}
}
