// Package fantasy holds the fantasy-football collaborators of the engine:
// the Sleeper API client, the NFL schedule and news lookups, the roster
// context provider, the system prompt and the domain tools.
package fantasy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSleeperURL     = "https://api.sleeper.app/v1"
	defaultProjectionsURL = "https://api.sleeper.com"
	playersCacheKey   = "sleeper:players:nfl"
	maxResponseBytes  = 64 << 20
)

// ErrNotFound is returned when Sleeper answers with an empty or 404 body.
var ErrNotFound = errors.New("sleeper: not found")

// SleeperConfig configures the Sleeper REST client.
type SleeperConfig struct {
	BaseURL string
	// ProjectionsURL hosts the projections endpoint, which is not part of
	// the versioned read API.
	ProjectionsURL string
	Timeout time.Duration
	// PlayersTTL bounds how long the full player directory is cached.
	PlayersTTL time.Duration
}

// User is a Sleeper account.
type User struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

// League is a Sleeper league.
type League struct {
	LeagueID        string         `json:"league_id"`
	Name            string         `json:"name"`
	Season          string         `json:"season"`
	Status          string         `json:"status"`
	Sport           string         `json:"sport"`
	TotalRosters    int            `json:"total_rosters"`
	RosterPositions []string       `json:"roster_positions"`
	Settings        map[string]any `json:"settings,omitempty"`
}

// RosterSettings is the win/loss record Sleeper keeps per roster.
type RosterSettings struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Ties   int `json:"ties"`
	Points int `json:"fpts"`
}

// Roster is one team in a league.
type Roster struct {
	RosterID int            `json:"roster_id"`
	OwnerID  string         `json:"owner_id"`
	LeagueID string         `json:"league_id"`
	Players  []string       `json:"players"`
	Starters []string       `json:"starters"`
	Reserve  []string       `json:"reserve,omitempty"`
	Settings RosterSettings `json:"settings"`
}

// Bench returns rostered players that are not starting.
func (r *Roster) Bench() []string {
	starting := make(map[string]struct{}, len(r.Starters))
	for _, id := range r.Starters {
		starting[id] = struct{}{}
	}
	var bench []string
	for _, id := range r.Players {
		if _, ok := starting[id]; !ok {
			bench = append(bench, id)
		}
	}
	return bench
}

// Matchup is one roster's side of a weekly matchup.
type Matchup struct {
	RosterID  int      `json:"roster_id"`
	MatchupID int      `json:"matchup_id"`
	Points    float64  `json:"points"`
	Starters  []string `json:"starters"`
	Players   []string `json:"players"`
}

// Player is an entry in the Sleeper player directory.
type Player struct {
	PlayerID         string   `json:"player_id"`
	FullName         string   `json:"full_name"`
	FirstName        string   `json:"first_name"`
	LastName         string   `json:"last_name"`
	Position         string   `json:"position"`
	Team             string   `json:"team"`
	Status           string   `json:"status"`
	InjuryStatus     string   `json:"injury_status"`
	InjuryBodyPart   string   `json:"injury_body_part"`
	FantasyPositions []string `json:"fantasy_positions"`
	Age              int      `json:"age"`
	YearsExp         int      `json:"years_exp"`
}

// DisplayName returns the full name, falling back to first and last name.
func (p *Player) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.PlayerID
	}
	return name
}

// TrendingPlayer is a player with recent add or drop activity.
type TrendingPlayer struct {
	PlayerID string `json:"player_id"`
	Count    int    `json:"count"`
}

// Sleeper is a client for the public Sleeper read API.
type Sleeper struct {
	baseURL        string
	projectionsURL string
	httpClient *http.Client
	cache      Cache
	playersTTL time.Duration
	logger     *slog.Logger
}

// SleeperOption customizes a Sleeper client.
type SleeperOption func(*Sleeper)

// WithCache caches the player directory in c.
func WithCache(c Cache) SleeperOption {
	return func(s *Sleeper) { s.cache = c }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) SleeperOption {
	return func(s *Sleeper) { s.httpClient = client }
}

// WithSleeperLogger sets the client logger.
func WithSleeperLogger(logger *slog.Logger) SleeperOption {
	return func(s *Sleeper) { s.logger = logger }
}

// NewSleeper creates a Sleeper client.
func NewSleeper(cfg SleeperConfig, opts ...SleeperOption) *Sleeper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSleeperURL
	}
	if cfg.ProjectionsURL == "" {
		cfg.ProjectionsURL = defaultProjectionsURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PlayersTTL <= 0 {
		cfg.PlayersTTL = 24 * time.Hour
	}
	s := &Sleeper{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		projectionsURL: strings.TrimRight(cfg.ProjectionsURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      NewMemoryCache(),
		playersTTL: cfg.PlayersTTL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sleeper")
	return s
}

// User looks up an account by username or user id.
func (s *Sleeper) User(ctx context.Context, username string) (*User, error) {
	var user User
	if err := s.get(ctx, "/user/"+url.PathEscape(username), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UserLeagues lists the leagues a user plays in for a season.
func (s *Sleeper) UserLeagues(ctx context.Context, userID, sport, season string) ([]League, error) {
	if sport == "" {
		sport = "nfl"
	}
	path := fmt.Sprintf("/user/%s/leagues/%s/%s", url.PathEscape(userID), url.PathEscape(sport), url.PathEscape(season))
	var leagues []League
	if err := s.get(ctx, path, nil, &leagues); err != nil {
		return nil, err
	}
	return leagues, nil
}

// League returns league details.
func (s *Sleeper) League(ctx context.Context, leagueID string) (*League, error) {
	var league League
	if err := s.get(ctx, "/league/"+url.PathEscape(leagueID), nil, &league); err != nil {
		return nil, err
	}
	return &league, nil
}

// Rosters returns every roster in a league.
func (s *Sleeper) Rosters(ctx context.Context, leagueID string) ([]Roster, error) {
	var rosters []Roster
	if err := s.get(ctx, "/league/"+url.PathEscape(leagueID)+"/rosters", nil, &rosters); err != nil {
		return nil, err
	}
	return rosters, nil
}

// Roster finds one roster in a league.
func (s *Sleeper) Roster(ctx context.Context, leagueID string, rosterID int) (*Roster, error) {
	rosters, err := s.Rosters(ctx, leagueID)
	if err != nil {
		return nil, err
	}
	for i := range rosters {
		if rosters[i].RosterID == rosterID {
			return &rosters[i], nil
		}
	}
	return nil, fmt.Errorf("roster %d in league %s: %w", rosterID, leagueID, ErrNotFound)
}

// LeagueUsers returns the members of a league.
func (s *Sleeper) LeagueUsers(ctx context.Context, leagueID string) ([]User, error) {
	var users []User
	if err := s.get(ctx, "/league/"+url.PathEscape(leagueID)+"/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Matchups returns a league's matchups for a week.
func (s *Sleeper) Matchups(ctx context.Context, leagueID string, week int) ([]Matchup, error) {
	path := fmt.Sprintf("/league/%s/matchups/%d", url.PathEscape(leagueID), week)
	var matchups []Matchup
	if err := s.get(ctx, path, nil, &matchups); err != nil {
		return nil, err
	}
	return matchups, nil
}

// Players returns the NFL player directory keyed by player id. The
// directory is large, so it is served from the cache when possible.
func (s *Sleeper) Players(ctx context.Context) (map[string]Player, error) {
	if data, ok, err := s.cache.Get(ctx, playersCacheKey); err != nil {
		s.logger.Warn("player cache read failed", "error", err)
	} else if ok {
		var players map[string]Player
		if err := json.Unmarshal(data, &players); err == nil {
			return players, nil
		}
		s.logger.Warn("discarding corrupt player cache entry")
	}

	data, err := s.fetch(ctx, "/players/nfl", nil)
	if err != nil {
		return nil, err
	}
	var players map[string]Player
	if err := json.Unmarshal(data, &players); err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}
	if err := s.cache.Set(ctx, playersCacheKey, data, s.playersTTL); err != nil {
		s.logger.Warn("player cache write failed", "error", err)
	}
	return players, nil
}

// Trending returns players trending by adds ("add") or drops ("drop")
// over the last lookbackHours.
func (s *Sleeper) Trending(ctx context.Context, kind string, lookbackHours, limit int) ([]TrendingPlayer, error) {
	if kind != "add" && kind != "drop" {
		return nil, fmt.Errorf("trending kind must be add or drop, got %q", kind)
	}
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	if limit <= 0 {
		limit = 25
	}
	query := url.Values{}
	query.Set("lookback_hours", strconv.Itoa(lookbackHours))
	query.Set("limit", strconv.Itoa(limit))
	var trending []TrendingPlayer
	if err := s.get(ctx, "/players/nfl/trending/"+kind, query, &trending); err != nil {
		return nil, err
	}
	return trending, nil
}

// projectionPositions are the positions requested from the projections
// endpoint.
var projectionPositions = []string{"QB", "RB", "WR", "TE", "K", "DEF", "FLEX"}

// Projections returns regular-season projections for every player in a
// week.
func (s *Sleeper) Projections(ctx context.Context, season, week int) ([]Projection, error) {
	if week < 1 || week > 18 {
		return nil, fmt.Errorf("week must be between 1 and 18, got %d", week)
	}
	query := url.Values{}
	query.Set("season_type", "regular")
	query["position[]"] = projectionPositions
	path := fmt.Sprintf("/projections/nfl/%d/%d", season, week)
	data, err := s.fetchFrom(ctx, s.projectionsURL, path, query)
	if err != nil {
		return nil, err
	}
	var rows []Projection
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rows, nil
}

func (s *Sleeper) get(ctx context.Context, path string, query url.Values, out any) error {
	data, err := s.fetch(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (s *Sleeper) fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return s.fetchFrom(ctx, s.baseURL, path, query)
}

func (s *Sleeper) fetchFrom(ctx context.Context, base, path string, query url.Values) ([]byte, error) {
	endpoint := base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sleeper request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	s.logger.Debug("sleeper request", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("sleeper returned status %d for %s", resp.StatusCode, path)
	}
	// Sleeper answers unknown ids with a literal null.
	if trimmed := strings.TrimSpace(string(body)); trimmed == "" || trimmed == "null" {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return body, nil
}
