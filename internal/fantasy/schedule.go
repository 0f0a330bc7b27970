package fantasy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultScheduleURL = "https://site.api.espn.com/apis/site/v2/sports/football/nfl"

// ESPN and Sleeper disagree on a few abbreviations.
var teamAliases = map[string]string{
	"WSH": "WAS",
	"LA":  "LAR",
	"JAC": "JAX",
}

// NormalizeTeam upper-cases a team abbreviation and maps known aliases.
func NormalizeTeam(team string) string {
	team = strings.ToUpper(strings.TrimSpace(team))
	if alias, ok := teamAliases[team]; ok {
		return alias
	}
	return team
}

// Game is one team's view of a scheduled game.
type Game struct {
	Team     string    `json:"team"`
	Opponent string    `json:"opponent"`
	Week     int       `json:"week"`
	Home     bool      `json:"home"`
	Kickoff  time.Time `json:"kickoff,omitempty"`
}

// ScheduleConfig configures the NFL schedule client.
type ScheduleConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Schedule looks up NFL games from the ESPN scoreboard. Weeks are cached
// in memory.
type Schedule struct {
	baseURL    string
	httpClient *http.Client
	ttl        time.Duration
	now        func() time.Time

	mu    sync.Mutex
	weeks map[string]cachedWeek
}

type cachedWeek struct {
	games   map[string]Game
	fetched time.Time
}

// NewSchedule creates a schedule client.
func NewSchedule(cfg ScheduleConfig) *Schedule {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultScheduleURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Schedule{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		ttl:        cfg.CacheTTL,
		now:        time.Now,
		weeks:      make(map[string]cachedWeek),
	}
}

// Opponent returns team's game in week, or nil when the team is on bye.
func (s *Schedule) Opponent(ctx context.Context, team string, week, season int) (*Game, error) {
	games, err := s.Week(ctx, week, season)
	if err != nil {
		return nil, err
	}
	game, ok := games[NormalizeTeam(team)]
	if !ok {
		return nil, nil
	}
	return &game, nil
}

// Week returns every regular-season game of a week keyed by team.
func (s *Schedule) Week(ctx context.Context, week, season int) (map[string]Game, error) {
	if week < 1 || week > 18 {
		return nil, fmt.Errorf("week must be between 1 and 18, got %d", week)
	}
	key := fmt.Sprintf("%d/%d", season, week)

	s.mu.Lock()
	cached, ok := s.weeks[key]
	s.mu.Unlock()
	if ok && s.now().Sub(cached.fetched) < s.ttl {
		return cached.games, nil
	}

	games, err := s.fetchWeek(ctx, week, season)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.weeks[key] = cachedWeek{games: games, fetched: s.now()}
	s.mu.Unlock()
	return games, nil
}

type scoreboard struct {
	Week struct {
		Number int `json:"number"`
	} `json:"week"`
	Events []struct {
		Date         string `json:"date"`
		Competitions []struct {
			Competitors []struct {
				HomeAway string `json:"homeAway"`
				Team     struct {
					Abbreviation string `json:"abbreviation"`
				} `json:"team"`
			} `json:"competitors"`
		} `json:"competitions"`
	} `json:"events"`
}

func (s *Schedule) fetchWeek(ctx context.Context, week, season int) (map[string]Game, error) {
	query := url.Values{}
	query.Set("seasontype", "2")
	query.Set("week", strconv.Itoa(week))
	query.Set("dates", strconv.Itoa(season))

	var board scoreboard
	if err := s.get(ctx, query, &board); err != nil {
		return nil, err
	}

	games := make(map[string]Game)
	for _, event := range board.Events {
		if len(event.Competitions) == 0 {
			continue
		}
		var home, away string
		for _, c := range event.Competitions[0].Competitors {
			abbr := NormalizeTeam(c.Team.Abbreviation)
			if c.HomeAway == "home" {
				home = abbr
			} else {
				away = abbr
			}
		}
		if home == "" || away == "" {
			continue
		}
		kickoff, _ := parseKickoff(event.Date)
		games[home] = Game{Team: home, Opponent: away, Week: week, Home: true, Kickoff: kickoff}
		games[away] = Game{Team: away, Opponent: home, Week: week, Kickoff: kickoff}
	}
	return games, nil
}

// CurrentWeek asks the scoreboard for the current week.
func (s *Schedule) CurrentWeek(ctx context.Context) (int, error) {
	var board scoreboard
	if err := s.get(ctx, nil, &board); err != nil {
		return 0, err
	}
	if board.Week.Number < 1 {
		return 0, fmt.Errorf("scoreboard has no current week")
	}
	return board.Week.Number, nil
}

func (s *Schedule) get(ctx context.Context, query url.Values, out any) error {
	endpoint := s.baseURL + "/scoreboard"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scoreboard request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scoreboard returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse scoreboard: %w", err)
	}
	return nil
}

// ESPN omits seconds in event dates ("2025-09-07T17:00Z").
func parseKickoff(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04Z07:00"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized kickoff %q", value)
}

// SeasonFor returns the NFL season a date falls in; January and February
// belong to the previous year's season.
func SeasonFor(t time.Time) int {
	if t.Month() < time.March {
		return t.Year() - 1
	}
	return t.Year()
}
