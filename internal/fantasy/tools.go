package fantasy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/gridiron/internal/tools"
	"github.com/haasonsaas/gridiron/pkg/models"
)

// Toolset exposes the fantasy collaborators as model-invocable tools.
type Toolset struct {
	sleeper   *Sleeper
	snapshots *Snapshots
	schedule  *Schedule
	news      *News
	logger    *slog.Logger
	now       func() time.Time
}

// NewToolset creates the domain tools. schedule and news may be nil, in
// which case their tools are not registered.
func NewToolset(sleeper *Sleeper, schedule *Schedule, news *News, logger *slog.Logger) *Toolset {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolset{
		sleeper:   sleeper,
		snapshots: NewSnapshots(sleeper),
		schedule:  schedule,
		news:      news,
		logger:    logger.With("component", "fantasy_tools"),
		now:       time.Now,
	}
}

type rosterArgs struct {
	LeagueID string `json:"league_id,omitempty" jsonschema:"description=Sleeper league id; defaults to the conversation's league"`
	RosterID int    `json:"roster_id,omitempty" jsonschema:"minimum=1,description=Roster id; defaults to the conversation's roster"`
}

type opponentArgs struct {
	Team   string `json:"team" jsonschema:"required,description=Team abbreviation such as KC or SF or BAL"`
	Week   int    `json:"week" jsonschema:"required,minimum=1,maximum=18"`
	Season int    `json:"season,omitempty" jsonschema:"minimum=2000"`
}

type newsArgs struct {
	PlayerName string `json:"player_name" jsonschema:"required,description=Full player name such as Christian McCaffrey"`
	Topic      string `json:"topic,omitempty" jsonschema:"description=Optional focus such as injury or trade"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=10"`
}

type searchArgs struct {
	Query      string `json:"query" jsonschema:"required,description=Search query such as best waiver wire RBs week 8"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=10"`
}

type projectionArgs struct {
	PlayerName    string `json:"player_name" jsonschema:"required,description=Full player name"`
	Position      string `json:"position,omitempty" jsonschema:"enum=QB,enum=RB,enum=WR,enum=TE,enum=K,enum=DEF"`
	Week          int    `json:"week,omitempty" jsonschema:"minimum=1,maximum=18,description=NFL week; defaults to the conversation's week or the current week"`
	Season        int    `json:"season,omitempty" jsonschema:"minimum=2000"`
	ScoringFormat string `json:"scoring_format,omitempty" jsonschema:"enum=PPR,enum=HALF_PPR,enum=STD,description=Scoring format (default PPR)"`
}

type injuryArgs struct {
	PlayerName string `json:"player_name" jsonschema:"required"`
}

type trendingArgs struct {
	Kind  string `json:"kind,omitempty" jsonschema:"enum=add,enum=drop,description=Trending adds or drops (default add)"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50"`
}

type swapArgs struct {
	PlayerToStart string `json:"player_to_start" jsonschema:"required,description=Bench player to move into the lineup"`
	PlayerToBench string `json:"player_to_bench" jsonschema:"required,description=Starter to move to the bench"`
	Reason        string `json:"reason,omitempty" jsonschema:"description=Short explanation such as better matchup"`
}

// SwapProposal is a lineup change awaiting the user's confirmation.
type SwapProposal struct {
	Action               string         `json:"action"`
	PlayerToStart        string         `json:"player_to_start"`
	PlayerToBench        string         `json:"player_to_bench"`
	Reason               string         `json:"reason"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Start                *PlayerSummary `json:"start,omitempty"`
	Bench                *PlayerSummary `json:"bench,omitempty"`
	Message              string         `json:"message"`
}

// Register adds the fantasy tools to reg.
func (t *Toolset) Register(reg *tools.Registry) error {
	defs := []tools.Tool{
		{
			Name:        "get_roster",
			Description: "Get the user's roster: starters, bench, reserve and record.",
			Schema:      tools.SchemaFor[rosterArgs](),
			Handler:     t.getRoster,
		},
		{
			Name:        "check_injury_status",
			Description: "Check a rostered or free-agent player's injury designation.",
			Schema:      tools.SchemaFor[injuryArgs](),
			Handler:     t.injuryStatus,
		},
		{
			Name:        "get_trending_players",
			Description: "List players trending on waivers over the last day.",
			Schema:      tools.SchemaFor[trendingArgs](),
			Handler:     t.trending,
		},
		{
			Name:        "get_player_projection",
			Description: "Get a player's projected fantasy points for a week with a floor and ceiling.",
			Schema:      tools.SchemaFor[projectionArgs](),
			Handler:     t.playerProjection,
		},
		{
			Name:        "propose_lineup_swap",
			Description: "Propose starting a bench player in place of a starter. Call only after the user confirms; the user applies it in Sleeper.",
			Schema:      tools.SchemaFor[swapArgs](),
			Handler:     t.proposeSwap,
		},
	}
	if t.schedule != nil {
		defs = append(defs, tools.Tool{
			Name:        "get_team_opponent",
			Description: "Find which team an NFL team plays in a week. A null opponent means a bye.",
			Schema:      tools.SchemaFor[opponentArgs](),
			Handler:     t.teamOpponent,
		})
	}
	if t.news != nil {
		defs = append(defs, tools.Tool{
			Name:        "get_player_news",
			Description: "Search the latest news about an NFL player.",
			Schema:      tools.SchemaFor[newsArgs](),
			Handler:     t.playerNews,
		}, tools.Tool{
			Name:        "search_web",
			Description: "Search the web for fantasy football news, analysis and advice.",
			Schema:      tools.SchemaFor[searchArgs](),
			Handler:     t.searchWeb,
		})
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// selector merges explicit arguments over the conversation's context.
func selector(ctx context.Context, leagueID string, rosterID int) Selector {
	var sel Selector
	if cc, ok := tools.CallContextFrom(ctx); ok {
		sel = SelectorFrom(cc.Values)
	}
	if leagueID != "" {
		sel.LeagueID = leagueID
	}
	if rosterID != 0 {
		sel.RosterID = rosterID
	}
	return sel
}

func (t *Toolset) snapshot(ctx context.Context, sel Selector) (*RosterSnapshot, error) {
	if sel.LeagueID == "" {
		return nil, tools.InvalidArguments("no league linked to this conversation; pass league_id")
	}
	if sel.RosterID == 0 && sel.UserID == "" {
		return nil, tools.InvalidArguments("no roster linked to this conversation; pass roster_id")
	}
	snap, err := t.snapshots.Resolve(ctx, sel)
	if errors.Is(err, ErrNotFound) {
		return nil, tools.InvalidArguments("%v", err)
	}
	return snap, err
}

func (t *Toolset) getRoster(ctx context.Context, raw tools.Args) (any, error) {
	var args rosterArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	return t.snapshot(ctx, selector(ctx, args.LeagueID, args.RosterID))
}

func (t *Toolset) teamOpponent(ctx context.Context, raw tools.Args) (any, error) {
	var args opponentArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	season := args.Season
	if season == 0 {
		season = SeasonFor(t.now())
	}
	game, err := t.schedule.Opponent(ctx, args.Team, args.Week, season)
	if err != nil {
		return nil, err
	}
	team := NormalizeTeam(args.Team)
	if game == nil {
		return map[string]any{"team": team, "week": args.Week, "opponent": nil, "bye": true}, nil
	}
	return map[string]any{
		"team":     game.Team,
		"week":     game.Week,
		"opponent": game.Opponent,
		"home":     game.Home,
		"kickoff":  game.Kickoff,
		"bye":      false,
	}, nil
}

func (t *Toolset) playerNews(ctx context.Context, raw tools.Args) (any, error) {
	var args newsArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	articles, err := t.news.PlayerNews(ctx, args.PlayerName, args.Topic, args.MaxResults)
	if err != nil {
		return nil, err
	}
	return map[string]any{"player": args.PlayerName, "articles": articles}, nil
}

func (t *Toolset) searchWeb(ctx context.Context, raw tools.Args) (any, error) {
	var args searchArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	results, err := t.news.Search(ctx, args.Query, args.MaxResults)
	if errors.Is(err, ErrSearchUnavailable) {
		return nil, tools.Errorf(models.ToolErrorHandlerFault, "%v; try get_player_news for player updates", err)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"query": args.Query, "results": results}, nil
}

func (t *Toolset) playerProjection(ctx context.Context, raw tools.Args) (any, error) {
	var args projectionArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	week, err := t.projectionWeek(ctx, args.Week)
	if err != nil {
		return nil, err
	}
	season := args.Season
	if season == 0 {
		season = SeasonFor(t.now())
	}
	scoring := NormalizeScoring(args.ScoringFormat)

	players, err := t.sleeper.Players(ctx)
	if err != nil {
		return nil, err
	}
	position := strings.ToUpper(strings.TrimSpace(args.Position))
	candidates := make([]PlayerSummary, 0, len(players))
	for id, p := range players {
		if position != "" && !strings.EqualFold(p.Position, position) {
			continue
		}
		candidates = append(candidates, summaryOf(id, players))
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].PlayerID < candidates[j].PlayerID })
	match, ok := matchPlayer(args.PlayerName, candidates)
	if !ok {
		return nil, tools.Errorf(models.ToolErrorInvalidArguments, "no player matches %q", args.PlayerName)
	}

	rows, err := t.sleeper.Projections(ctx, season, week)
	if err != nil {
		return nil, err
	}
	result := map[string]any{
		"player_id":        match.PlayerID,
		"player":           match.Name,
		"position":         match.Position,
		"team":             match.Team,
		"week":             week,
		"season":           season,
		"scoring":          scoring,
		"projected_points": nil,
		"floor":            nil,
		"ceiling":          nil,
		"confidence":       "low",
		"source":           fmt.Sprintf("Sleeper /projections/nfl/%d/%d", season, week),
	}
	for i := range rows {
		if rows[i].PlayerID != match.PlayerID {
			continue
		}
		if pts, ok := rows[i].Points(scoring); ok {
			result["projected_points"] = round2(pts)
			result["confidence"] = "medium"
		}
		if floor, ceiling, ok := rows[i].Range(scoring); ok {
			result["floor"], result["ceiling"] = floor, ceiling
		}
		break
	}
	return result, nil
}

// projectionWeek picks the explicit week, then the conversation's week,
// then the current NFL week.
func (t *Toolset) projectionWeek(ctx context.Context, week int) (int, error) {
	if week > 0 {
		return week, nil
	}
	if sel := selector(ctx, "", 0); sel.Week > 0 {
		return sel.Week, nil
	}
	if t.schedule == nil {
		return 0, tools.InvalidArguments("week is required")
	}
	return t.schedule.CurrentWeek(ctx)
}

func (t *Toolset) injuryStatus(ctx context.Context, raw tools.Args) (any, error) {
	var args injuryArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	players, err := t.sleeper.Players(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]PlayerSummary, 0, len(players))
	for id := range players {
		candidates = append(candidates, summaryOf(id, players))
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].PlayerID < candidates[j].PlayerID })
	match, ok := matchPlayer(args.PlayerName, candidates)
	if !ok {
		return nil, tools.Errorf(models.ToolErrorInvalidArguments, "no player matches %q", args.PlayerName)
	}
	status := match.InjuryStatus
	if status == "" {
		status = "Healthy"
	}
	p := players[match.PlayerID]
	return map[string]any{
		"player_id":        match.PlayerID,
		"name":             match.Name,
		"team":             match.Team,
		"position":         match.Position,
		"injury_status":    status,
		"injury_body_part": p.InjuryBodyPart,
		"severity":         injurySeverity(match.InjuryStatus),
	}, nil
}

func injurySeverity(status string) string {
	switch status {
	case "":
		return "none"
	case "Questionable":
		return "medium"
	case "Doubtful":
		return "high"
	case "Out", "IR", "PUP", "Sus":
		return "critical"
	default:
		return "low"
	}
}

func (t *Toolset) trending(ctx context.Context, raw tools.Args) (any, error) {
	var args trendingArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	if args.Kind == "" {
		args.Kind = "add"
	}
	if args.Limit == 0 {
		args.Limit = 10
	}
	trending, err := t.sleeper.Trending(ctx, args.Kind, 24, args.Limit)
	if err != nil {
		return nil, err
	}
	players, err := t.sleeper.Players(ctx)
	if err != nil {
		return nil, err
	}
	type entry struct {
		PlayerSummary
		Count int `json:"count"`
	}
	out := make([]entry, 0, len(trending))
	for _, tp := range trending {
		out = append(out, entry{PlayerSummary: summaryOf(tp.PlayerID, players), Count: tp.Count})
	}
	return map[string]any{"kind": args.Kind, "players": out}, nil
}

// proposeSwap validates names against the roster when one is linked. The
// change itself is never applied here.
func (t *Toolset) proposeSwap(ctx context.Context, raw tools.Args) (any, error) {
	var args swapArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	if args.Reason == "" {
		args.Reason = "User requested lineup change"
	}
	proposal := &SwapProposal{
		Action:               "swap_players",
		PlayerToStart:        args.PlayerToStart,
		PlayerToBench:        args.PlayerToBench,
		Reason:               args.Reason,
		RequiresConfirmation: true,
	}

	sel := selector(ctx, "", 0)
	if sel.LeagueID != "" && (sel.RosterID != 0 || sel.UserID != "") {
		snap, err := t.snapshots.Resolve(ctx, sel)
		if err != nil {
			t.logger.Warn("roster unavailable for swap validation", "error", err)
		} else {
			start, ok := snap.Find(args.PlayerToStart)
			if !ok {
				return nil, tools.InvalidArguments("%s is not on the roster", args.PlayerToStart)
			}
			bench, ok := snap.Find(args.PlayerToBench)
			if !ok {
				return nil, tools.InvalidArguments("%s is not on the roster", args.PlayerToBench)
			}
			if snap.IsStarting(start.PlayerID) {
				return nil, tools.InvalidArguments("%s is already starting", start.Name)
			}
			if !snap.IsStarting(bench.PlayerID) {
				return nil, tools.InvalidArguments("%s is not in the starting lineup", bench.Name)
			}
			proposal.Start, proposal.Bench = &start, &bench
			proposal.PlayerToStart, proposal.PlayerToBench = start.Name, bench.Name
		}
	}

	proposal.Message = fmt.Sprintf(
		"Proposed lineup change: start %s, bench %s (%s). Confirm and apply it in the Sleeper app.",
		proposal.PlayerToStart, proposal.PlayerToBench, proposal.Reason)
	t.logger.Info("lineup swap proposed", "start", proposal.PlayerToStart, "bench", proposal.PlayerToBench)
	return proposal, nil
}
