package fantasy

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Keys read from a thread's external context.
const (
	KeyLeagueID = "league_id"
	KeyRosterID = "roster_id"
	KeyUserID   = "user_id"
	KeyWeek     = "week"
)

// PlayerSummary is the model-facing view of a rostered player.
type PlayerSummary struct {
	PlayerID     string `json:"player_id"`
	Name         string `json:"name"`
	Position     string `json:"position,omitempty"`
	Team         string `json:"team,omitempty"`
	InjuryStatus string `json:"injury_status,omitempty"`
}

func (p PlayerSummary) String() string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.Position != "" || p.Team != "" {
		fmt.Fprintf(&b, " (%s, %s)", p.Position, p.Team)
	}
	if p.InjuryStatus != "" {
		fmt.Fprintf(&b, " [%s]", p.InjuryStatus)
	}
	return b.String()
}

// RosterSnapshot is a roster resolved against the player directory.
type RosterSnapshot struct {
	LeagueID string          `json:"league_id"`
	RosterID int             `json:"roster_id"`
	OwnerID  string          `json:"owner_id,omitempty"`
	Week     int             `json:"week,omitempty"`
	Record   RosterSettings  `json:"record"`
	Starters []PlayerSummary `json:"starters"`
	Bench    []PlayerSummary `json:"bench"`
	Reserve  []PlayerSummary `json:"reserve,omitempty"`
}

// Find returns the rostered player best matching name.
func (r *RosterSnapshot) Find(name string) (PlayerSummary, bool) {
	all := make([]PlayerSummary, 0, len(r.Starters)+len(r.Bench))
	all = append(all, r.Starters...)
	all = append(all, r.Bench...)
	return matchPlayer(name, all)
}

// IsStarting reports whether playerID is in the starting lineup.
func (r *RosterSnapshot) IsStarting(playerID string) bool {
	for _, p := range r.Starters {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

// Selector identifies a roster within a league.
type Selector struct {
	LeagueID string
	RosterID int
	UserID   string
	Week     int
}

// SelectorFrom reads league, roster, user and week from a context map.
// Numbers may arrive as JSON numbers or strings.
func SelectorFrom(values map[string]any) Selector {
	sel := Selector{}
	sel.LeagueID, _ = stringValue(values[KeyLeagueID])
	sel.UserID, _ = stringValue(values[KeyUserID])
	sel.RosterID, _ = intValue(values[KeyRosterID])
	sel.Week, _ = intValue(values[KeyWeek])
	return sel
}

// Snapshots resolves rosters into snapshots.
type Snapshots struct {
	sleeper *Sleeper
}

// NewSnapshots creates a resolver over a Sleeper client.
func NewSnapshots(sleeper *Sleeper) *Snapshots {
	return &Snapshots{sleeper: sleeper}
}

// Resolve loads the selected roster. The roster is chosen by roster id
// when set, otherwise by owner.
func (s *Snapshots) Resolve(ctx context.Context, sel Selector) (*RosterSnapshot, error) {
	if sel.LeagueID == "" {
		return nil, fmt.Errorf("league id is required")
	}
	if sel.RosterID == 0 && sel.UserID == "" {
		return nil, fmt.Errorf("roster id or user id is required")
	}
	rosters, err := s.sleeper.Rosters(ctx, sel.LeagueID)
	if err != nil {
		return nil, fmt.Errorf("load rosters: %w", err)
	}
	var roster *Roster
	for i := range rosters {
		if (sel.RosterID != 0 && rosters[i].RosterID == sel.RosterID) ||
			(sel.RosterID == 0 && rosters[i].OwnerID == sel.UserID) {
			roster = &rosters[i]
			break
		}
	}
	if roster == nil {
		return nil, fmt.Errorf("roster not found in league %s: %w", sel.LeagueID, ErrNotFound)
	}

	players, err := s.sleeper.Players(ctx)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	summarize := func(ids []string) []PlayerSummary {
		out := make([]PlayerSummary, 0, len(ids))
		for _, id := range ids {
			// Empty starter slots are reported as "0".
			if id == "" || id == "0" {
				continue
			}
			out = append(out, summaryOf(id, players))
		}
		return out
	}
	return &RosterSnapshot{
		LeagueID: sel.LeagueID,
		RosterID: roster.RosterID,
		OwnerID:  roster.OwnerID,
		Week:     sel.Week,
		Record:   roster.Settings,
		Starters: summarize(roster.Starters),
		Bench:    summarize(roster.Bench()),
		Reserve:  summarize(roster.Reserve),
	}, nil
}

func summaryOf(id string, players map[string]Player) PlayerSummary {
	p, ok := players[id]
	if !ok {
		return PlayerSummary{PlayerID: id, Name: id}
	}
	return PlayerSummary{
		PlayerID:     id,
		Name:         p.DisplayName(),
		Position:     p.Position,
		Team:         p.Team,
		InjuryStatus: p.InjuryStatus,
	}
}

// ContextProvider turns a thread's league context into a roster snapshot
// for the system prompt.
type ContextProvider struct {
	snapshots *Snapshots
	now       func() time.Time
}

// NewContextProvider creates a provider backed by snapshots.
func NewContextProvider(snapshots *Snapshots) *ContextProvider {
	return &ContextProvider{snapshots: snapshots, now: time.Now}
}

// Fetch returns nothing for threads without a league; otherwise the
// snapshot under "roster" along with the week and season.
func (p *ContextProvider) Fetch(ctx context.Context, external map[string]any) (map[string]any, error) {
	sel := SelectorFrom(external)
	if sel.LeagueID == "" {
		return nil, nil
	}
	snapshot, err := p.snapshots.Resolve(ctx, sel)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"roster": snapshot,
		"week":   sel.Week,
		"season": SeasonFor(p.now()),
	}, nil
}

func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case json.Number:
		return x.String(), true
	}
	return "", false
}

func intValue(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), x == float64(int(x))
	case json.Number:
		n, err := x.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	}
	return 0, false
}

// matchPlayer finds a player by full name, last name or name prefix,
// case-insensitively. Exact full-name matches win.
func matchPlayer(name string, candidates []PlayerSummary) (PlayerSummary, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return PlayerSummary{}, false
	}
	for _, p := range candidates {
		if strings.ToLower(p.Name) == needle || p.PlayerID == name {
			return p, true
		}
	}
	for _, p := range candidates {
		full := strings.ToLower(p.Name)
		fields := strings.Fields(full)
		last := ""
		if len(fields) > 0 {
			last = fields[len(fields)-1]
		}
		if last == needle || strings.HasPrefix(full, needle) || strings.Contains(full, needle) {
			return p, true
		}
	}
	return PlayerSummary{}, false
}
