package fantasy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeSleeper serves a two-roster league.
type fakeSleeper struct {
	server      *httptest.Server
	playerCalls atomic.Int32
}

var testPlayers = map[string]Player{
	"4034": {PlayerID: "4034", FullName: "Christian McCaffrey", Position: "RB", Team: "SF"},
	"6794": {PlayerID: "6794", FullName: "Justin Jefferson", Position: "WR", Team: "MIN"},
	"4881": {PlayerID: "4881", FullName: "Lamar Jackson", Position: "QB", Team: "BAL"},
	"8138": {PlayerID: "8138", FullName: "James Cook", Position: "RB", Team: "BUF", InjuryStatus: "Questionable", InjuryBodyPart: "Ankle"},
	"9509": {PlayerID: "9509", FullName: "Bijan Robinson", Position: "RB", Team: "ATL"},
}

func newFakeSleeper(t *testing.T) *fakeSleeper {
	t.Helper()
	f := &fakeSleeper{}
	mux := http.NewServeMux()
	mux.HandleFunc("/league/L1/rosters", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []Roster{
			{RosterID: 1, OwnerID: "owner-1", LeagueID: "L1", Players: []string{"4034", "6794", "4881", "8138"}, Starters: []string{"4034", "4881", "0"}, Settings: RosterSettings{Wins: 4, Losses: 2}},
			{RosterID: 2, OwnerID: "owner-2", LeagueID: "L1", Players: []string{"9509"}, Starters: []string{"9509"}},
		})
	})
	mux.HandleFunc("/league/L1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, League{LeagueID: "L1", Name: "Gridiron Greats", Season: "2025", TotalRosters: 2})
	})
	mux.HandleFunc("/league/L1/matchups/3", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []Matchup{{RosterID: 1, MatchupID: 1, Points: 101.5}, {RosterID: 2, MatchupID: 1, Points: 99.2}})
	})
	mux.HandleFunc("/user/ghost", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("null"))
	})
	mux.HandleFunc("/players/nfl", func(w http.ResponseWriter, r *http.Request) {
		f.playerCalls.Add(1)
		writeJSON(w, testPlayers)
	})
	mux.HandleFunc("/players/nfl/trending/add", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lookback_hours") != "24" || r.URL.Query().Get("limit") != "2" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		writeJSON(w, []TrendingPlayer{{PlayerID: "9509", Count: 1200}, {PlayerID: "unknown", Count: 7}})
	})
	mux.HandleFunc("/projections/nfl/{season}/{week}", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("season_type") != "regular" || len(q["position[]"]) == 0 {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		if r.PathValue("season") != "2025" || r.PathValue("week") != "3" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(projectionsWeek3))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeSleeper) client(opts ...SleeperOption) *Sleeper {
	return NewSleeper(SleeperConfig{BaseURL: f.server.URL, ProjectionsURL: f.server.URL, Timeout: 5 * time.Second}, opts...)
}

const projectionsWeek3 = `[
  {"player_id": "6794", "position": "WR", "team": "MIN", "week": 3, "stats": {"pts_ppr": 19.8, "pts_half_ppr": 16.4, "pts_std": 13.0, "rec": 6.8}},
  {"player_id": "4881", "position": "QB", "team": "BAL", "week": 3, "stats": {"pts_ppr": 24.1, "pts_std": 24.1}},
  {"player_id": "4034", "position": "RB", "team": "SF", "week": 3, "stats": {}}
]`

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestSleeperEndpoints(t *testing.T) {
	f := newFakeSleeper(t)
	client := f.client()
	ctx := context.Background()

	league, err := client.League(ctx, "L1")
	if err != nil {
		t.Fatalf("League() error = %v", err)
	}
	if league.Name != "Gridiron Greats" {
		t.Errorf("league name = %q", league.Name)
	}

	roster, err := client.Roster(ctx, "L1", 1)
	if err != nil {
		t.Fatalf("Roster() error = %v", err)
	}
	if got := roster.Bench(); len(got) != 2 || got[0] != "6794" || got[1] != "8138" {
		t.Errorf("Bench() = %v, want [6794 8138]", got)
	}

	matchups, err := client.Matchups(ctx, "L1", 3)
	if err != nil {
		t.Fatalf("Matchups() error = %v", err)
	}
	if len(matchups) != 2 || matchups[0].Points != 101.5 {
		t.Errorf("Matchups() = %+v", matchups)
	}

	trending, err := client.Trending(ctx, "add", 24, 2)
	if err != nil {
		t.Fatalf("Trending() error = %v", err)
	}
	if len(trending) != 2 || trending[0].Count != 1200 {
		t.Errorf("Trending() = %+v", trending)
	}
}

func TestSleeperProjections(t *testing.T) {
	f := newFakeSleeper(t)
	client := f.client()

	rows, err := client.Projections(context.Background(), 2025, 3)
	if err != nil {
		t.Fatalf("Projections() error = %v", err)
	}
	if len(rows) != 3 || rows[0].PlayerID != "6794" || rows[0].Stats["pts_ppr"] != 19.8 {
		t.Fatalf("rows = %+v", rows)
	}
	rows, err = client.Projections(context.Background(), 2025, 4)
	if err != nil || len(rows) != 0 {
		t.Fatalf("week 4 = %+v, %v", rows, err)
	}
	if _, err := client.Projections(context.Background(), 2025, 0); err == nil {
		t.Fatal("expected error for week 0")
	}
}

func TestSleeperNotFound(t *testing.T) {
	f := newFakeSleeper(t)
	client := f.client()

	tests := []struct {
		name string
		call func() error
	}{
		{"null body", func() error { _, err := client.User(context.Background(), "ghost"); return err }},
		{"404", func() error { _, err := client.League(context.Background(), "missing"); return err }},
		{"missing roster", func() error { _, err := client.Roster(context.Background(), "L1", 9); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrNotFound) {
				t.Fatalf("error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSleeperTrendingRejectsKind(t *testing.T) {
	client := NewSleeper(SleeperConfig{BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Trending(context.Background(), "hold", 0, 0); err == nil {
		t.Fatal("expected error for unknown trending kind")
	}
}

func TestSleeperServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewSleeper(SleeperConfig{BaseURL: server.URL})
	_, err := client.Rosters(context.Background(), "L1")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("error = %v, want status 502", err)
	}
}

func TestPlayersAreCached(t *testing.T) {
	tests := []struct {
		name  string
		cache func(t *testing.T) Cache
	}{
		{"memory", func(t *testing.T) Cache { return NewMemoryCache() }},
		{"redis", func(t *testing.T) Cache {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisCache(client, "")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSleeper(t)
			client := f.client(WithCache(tt.cache(t)))
			for i := 0; i < 3; i++ {
				players, err := client.Players(context.Background())
				if err != nil {
					t.Fatalf("Players() error = %v", err)
				}
				if players["4034"].FullName != "Christian McCaffrey" {
					t.Fatalf("player 4034 = %+v", players["4034"])
				}
			}
			if got := f.playerCalls.Load(); got != 1 {
				t.Errorf("player directory fetched %d times, want 1", got)
			}
		})
	}
}

func TestRedisCacheExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewRedisCache(client, "test:")
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !mr.Exists("test:k") {
		t.Fatal("key not stored under prefix")
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, err := cache.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get() after expiry = ok %v, err %v", ok, err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache()
	now := time.Now()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), time.Minute)
	if v, ok, _ := cache.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("Get() = %q, %v", v, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatal("expired entry returned")
	}
}
