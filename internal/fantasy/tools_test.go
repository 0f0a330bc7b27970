package fantasy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/gridiron/internal/tools"
	"github.com/haasonsaas/gridiron/pkg/models"
)

func newTestToolset(t *testing.T) (*tools.Dispatcher, *fakeSleeper) {
	t.Helper()
	f := newFakeSleeper(t)
	scoreboard, _ := newScoreboard(t)
	toolset := NewToolset(
		f.client(),
		NewSchedule(ScheduleConfig{BaseURL: scoreboard.URL}),
		NewNews(NewsConfig{}),
		nil,
	)
	toolset.now = func() time.Time { return time.Date(2025, 9, 20, 12, 0, 0, 0, time.UTC) }
	reg := tools.NewRegistry()
	if err := toolset.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return tools.NewDispatcher(reg, tools.DefaultConfig()), f
}

func leagueContext(values map[string]any) context.Context {
	return tools.WithCallContext(context.Background(), tools.CallContext{ThreadID: "thread-1", Values: values})
}

func callTool(t *testing.T, d *tools.Dispatcher, ctx context.Context, name, args string) *models.ToolResult {
	t.Helper()
	return d.Dispatch(ctx, []models.ToolCall{{ID: "call-1", Name: name, Arguments: json.RawMessage(args)}})[0]
}

func TestToolsetRegistersDomainTools(t *testing.T) {
	d, _ := newTestToolset(t)
	var names []string
	for _, def := range d.Definitions() {
		names = append(names, def.Name)
	}
	want := "check_injury_status,get_player_news,get_player_projection,get_roster,get_team_opponent,get_trending_players,propose_lineup_swap,search_web"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("tools = %s, want %s", got, want)
	}
}

func TestGetRosterUsesThreadContext(t *testing.T) {
	d, _ := newTestToolset(t)
	ctx := leagueContext(map[string]any{"league_id": "L1", "roster_id": float64(1)})

	res := callTool(t, d, ctx, "get_roster", `{}`)
	if !res.OK() {
		t.Fatalf("get_roster failed: %s %s", res.ErrorKind, res.Message)
	}
	var snap RosterSnapshot
	if err := json.Unmarshal(res.Payload, &snap); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(snap.Starters) != 2 || snap.Starters[0].Name != "Christian McCaffrey" {
		t.Errorf("starters = %+v", snap.Starters)
	}
	if len(snap.Bench) != 2 || snap.Bench[1].InjuryStatus != "Questionable" {
		t.Errorf("bench = %+v", snap.Bench)
	}
}

func TestGetRosterErrors(t *testing.T) {
	d, _ := newTestToolset(t)
	tests := []struct {
		name string
		ctx  context.Context
		args string
		want models.ToolErrorKind
	}{
		{"no league", leagueContext(nil), `{}`, models.ToolErrorInvalidArguments},
		{"unknown roster", leagueContext(map[string]any{"league_id": "L1"}), `{"roster_id": 7}`, models.ToolErrorInvalidArguments},
		{"unknown league", leagueContext(map[string]any{"league_id": "L1"}), `{"league_id": "down", "roster_id": 1}`, models.ToolErrorInvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, d, tt.ctx, "get_roster", tt.args)
			if res.OK() || res.ErrorKind != tt.want {
				t.Fatalf("result = %+v, want %s", res, tt.want)
			}
		})
	}
}

func TestGetTeamOpponent(t *testing.T) {
	d, _ := newTestToolset(t)
	ctx := leagueContext(nil)

	res := callTool(t, d, ctx, "get_team_opponent", `{"team": "KC", "week": 3}`)
	if !res.OK() {
		t.Fatalf("get_team_opponent failed: %s", res.Message)
	}
	var out map[string]any
	_ = json.Unmarshal(res.Payload, &out)
	if out["opponent"] != "WAS" || out["home"] != true {
		t.Errorf("payload = %v", out)
	}

	res = callTool(t, d, ctx, "get_team_opponent", `{"team": "SF", "week": 3}`)
	_ = json.Unmarshal(res.Payload, &out)
	if out["bye"] != true || out["opponent"] != nil {
		t.Errorf("bye payload = %v", out)
	}

	res = callTool(t, d, ctx, "get_team_opponent", `{"team": "SF", "week": 30}`)
	if res.ErrorKind != models.ToolErrorInvalidArguments {
		t.Errorf("week 30 kind = %s, want InvalidArguments", res.ErrorKind)
	}
}

func TestCheckInjuryStatus(t *testing.T) {
	d, _ := newTestToolset(t)
	tests := []struct {
		name     string
		player   string
		status   string
		severity string
	}{
		{"last name", "cook", "Questionable", "medium"},
		{"healthy", "Justin Jefferson", "Healthy", "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, d, leagueContext(nil), "check_injury_status", `{"player_name": "`+tt.player+`"}`)
			if !res.OK() {
				t.Fatalf("check_injury_status failed: %s", res.Message)
			}
			var out map[string]any
			_ = json.Unmarshal(res.Payload, &out)
			if out["injury_status"] != tt.status || out["severity"] != tt.severity {
				t.Errorf("payload = %v", out)
			}
		})
	}

	res := callTool(t, d, leagueContext(nil), "check_injury_status", `{"player_name": "Nobody Atall"}`)
	if res.ErrorKind != models.ToolErrorInvalidArguments {
		t.Errorf("unknown player kind = %s", res.ErrorKind)
	}
}

func TestGetTrendingPlayers(t *testing.T) {
	d, _ := newTestToolset(t)
	res := callTool(t, d, leagueContext(nil), "get_trending_players", `{"limit": 2}`)
	if !res.OK() {
		t.Fatalf("get_trending_players failed: %s", res.Message)
	}
	var out struct {
		Kind    string `json:"kind"`
		Players []struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		} `json:"players"`
	}
	_ = json.Unmarshal(res.Payload, &out)
	if out.Kind != "add" || len(out.Players) != 2 || out.Players[0].Name != "Bijan Robinson" || out.Players[1].Name != "unknown" {
		t.Errorf("payload = %+v", out)
	}
}

func TestGetPlayerNewsFallback(t *testing.T) {
	d, _ := newTestToolset(t)
	res := callTool(t, d, leagueContext(nil), "get_player_news", `{"player_name": "Lamar Jackson"}`)
	if !res.OK() {
		t.Fatalf("get_player_news failed: %s", res.Message)
	}
	if !strings.Contains(string(res.Payload), "lamar-jackson.php") {
		t.Errorf("payload = %s", res.Payload)
	}
}

func TestGetPlayerProjection(t *testing.T) {
	d, _ := newTestToolset(t)
	tests := []struct {
		name       string
		ctx        context.Context
		args       string
		points     any
		floor      any
		ceiling    any
		confidence string
	}{
		{
			name:   "week from thread context",
			ctx:    leagueContext(map[string]any{"week": float64(3)}),
			args:   `{"player_name": "Justin Jefferson", "position": "WR", "scoring_format": "HALF_PPR"}`,
			points: 16.4, floor: 12.3, ceiling: 20.5, confidence: "medium",
		},
		{
			name:   "current week from schedule",
			ctx:    leagueContext(nil),
			args:   `{"player_name": "Lamar Jackson"}`,
			points: 24.1, floor: 19.28, ceiling: 28.92, confidence: "medium",
		},
		{
			name:   "no projection row",
			ctx:    leagueContext(nil),
			args:   `{"player_name": "Bijan Robinson", "week": 3}`,
			points: nil, floor: nil, ceiling: nil, confidence: "low",
		},
		{
			name:   "empty stats",
			ctx:    leagueContext(nil),
			args:   `{"player_name": "Christian McCaffrey", "week": 3}`,
			points: nil, floor: nil, ceiling: nil, confidence: "low",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, d, tt.ctx, "get_player_projection", tt.args)
			if !res.OK() {
				t.Fatalf("get_player_projection failed: %s %s", res.ErrorKind, res.Message)
			}
			var out map[string]any
			_ = json.Unmarshal(res.Payload, &out)
			if out["projected_points"] != tt.points || out["floor"] != tt.floor || out["ceiling"] != tt.ceiling {
				t.Errorf("payload = %v", out)
			}
			if out["confidence"] != tt.confidence || out["week"] != float64(3) || out["season"] != float64(2025) {
				t.Errorf("payload = %v", out)
			}
		})
	}

	res := callTool(t, d, leagueContext(nil), "get_player_projection", `{"player_name": "Justin Jefferson", "position": "QB", "week": 3}`)
	if res.ErrorKind != models.ToolErrorInvalidArguments {
		t.Errorf("position mismatch kind = %s, want InvalidArguments", res.ErrorKind)
	}
	res = callTool(t, d, leagueContext(nil), "get_player_projection", `{"player_name": "Justin Jefferson", "week": 30}`)
	if res.ErrorKind != models.ToolErrorInvalidArguments {
		t.Errorf("week 30 kind = %s, want InvalidArguments", res.ErrorKind)
	}
}

func TestSearchWeb(t *testing.T) {
	d, _ := newTestToolset(t)
	res := callTool(t, d, leagueContext(nil), "search_web", `{"query": "waiver wire"}`)
	if res.OK() || res.ErrorKind != models.ToolErrorHandlerFault || !strings.Contains(res.Message, "not configured") {
		t.Fatalf("unkeyed search_web = %+v", res)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"title":"Waiver wire week 8","url":"https://example.com/ww","score":0.7}]}`))
	}))
	defer server.Close()
	toolset := NewToolset(newFakeSleeper(t).client(), nil, NewNews(NewsConfig{APIKey: "tvly-test", BaseURL: server.URL}), nil)
	reg := tools.NewRegistry()
	if err := toolset.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	keyed := tools.NewDispatcher(reg, tools.DefaultConfig())

	res = callTool(t, keyed, leagueContext(nil), "search_web", `{"query": "waiver wire", "max_results": 3}`)
	if !res.OK() {
		t.Fatalf("search_web failed: %s", res.Message)
	}
	var out struct {
		Query   string    `json:"query"`
		Results []Article `json:"results"`
	}
	_ = json.Unmarshal(res.Payload, &out)
	if out.Query != "waiver wire" || len(out.Results) != 1 || out.Results[0].Title != "Waiver wire week 8" {
		t.Errorf("payload = %+v", out)
	}

	res = callTool(t, keyed, leagueContext(nil), "get_player_projection", `{"player_name": "Lamar Jackson"}`)
	if res.ErrorKind != models.ToolErrorInvalidArguments {
		t.Errorf("projection without week or schedule kind = %s, want InvalidArguments", res.ErrorKind)
	}
}

func TestProposeLineupSwap(t *testing.T) {
	d, _ := newTestToolset(t)
	linked := leagueContext(map[string]any{"league_id": "L1", "roster_id": "1"})

	tests := []struct {
		name     string
		ctx      context.Context
		args     string
		wantKind models.ToolErrorKind
		start    string
	}{
		{"validated against roster", linked, `{"player_to_start": "jefferson", "player_to_bench": "Christian McCaffrey", "reason": "Better matchup"}`, "", "Justin Jefferson"},
		{"no roster linked", leagueContext(nil), `{"player_to_start": "A", "player_to_bench": "B"}`, "", "A"},
		{"not on roster", linked, `{"player_to_start": "Bijan Robinson", "player_to_bench": "Lamar Jackson"}`, models.ToolErrorInvalidArguments, ""},
		{"already starting", linked, `{"player_to_start": "Lamar Jackson", "player_to_bench": "Christian McCaffrey"}`, models.ToolErrorInvalidArguments, ""},
		{"bench not starting", linked, `{"player_to_start": "Justin Jefferson", "player_to_bench": "James Cook"}`, models.ToolErrorInvalidArguments, ""},
		{"missing argument", linked, `{"player_to_start": "Justin Jefferson"}`, models.ToolErrorInvalidArguments, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, d, tt.ctx, "propose_lineup_swap", tt.args)
			if tt.wantKind != "" {
				if res.OK() || res.ErrorKind != tt.wantKind {
					t.Fatalf("result = %+v, want %s", res, tt.wantKind)
				}
				return
			}
			if !res.OK() {
				t.Fatalf("propose_lineup_swap failed: %s", res.Message)
			}
			var proposal SwapProposal
			if err := json.Unmarshal(res.Payload, &proposal); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !proposal.RequiresConfirmation || proposal.PlayerToStart != tt.start {
				t.Errorf("proposal = %+v", proposal)
			}
		})
	}
}
