package fantasy

import (
	"fmt"
	"strings"
)

// promptListLimit caps how many players per group are listed in the prompt.
const promptListLimit = 10

const promptInstructions = `INSTRUCTIONS:
1. Use tools when the user asks about news, projections, matchups, injuries or specific players.
   Use search_web for general questions such as waiver wire targets.
2. Always name players with their position and team.
3. Explain the reasoning behind every recommendation.
4. Keep answers to two to four short paragraphs unless asked for more.

LINEUP CHANGES:
When the user wants to start a player, find the starters at that position, compare them,
recommend who to bench and ask for confirmation. Call propose_lineup_swap only after the
user confirms. The proposal is applied by the user in the Sleeper app.`

// Prompt builds the system prompt from the context provider's output.
// It tolerates a nil or partial context.
func Prompt(structured map[string]any) string {
	var b strings.Builder
	week, _ := intValue(structured["week"])
	season, _ := intValue(structured["season"])

	b.WriteString("You are an expert fantasy football advisor")
	switch {
	case week > 0 && season > 0:
		fmt.Fprintf(&b, " for week %d of the %d NFL season", week, season)
	case week > 0:
		fmt.Fprintf(&b, " for week %d", week)
	}
	b.WriteString(".\n\n")

	if roster, ok := structured["roster"].(*RosterSnapshot); ok && roster != nil {
		b.WriteString("USER'S ROSTER:\n")
		writeGroup(&b, "Starting lineup", roster.Starters)
		writeGroup(&b, "Bench", roster.Bench)
		if len(roster.Reserve) > 0 {
			writeGroup(&b, "Injured reserve", roster.Reserve)
		}
		fmt.Fprintf(&b, "Record: %d-%d", roster.Record.Wins, roster.Record.Losses)
		if roster.Record.Ties > 0 {
			fmt.Fprintf(&b, "-%d", roster.Record.Ties)
		}
		b.WriteString("\n\n")
	} else {
		b.WriteString("No roster is linked to this conversation; ask for league details if they are needed.\n\n")
	}

	b.WriteString(promptInstructions)
	return b.String()
}

func writeGroup(b *strings.Builder, title string, players []PlayerSummary) {
	fmt.Fprintf(b, "%s (%d players):\n", title, len(players))
	for i, p := range players {
		if i == promptListLimit {
			fmt.Fprintf(b, "  ... and %d more\n", len(players)-promptListLimit)
			break
		}
		fmt.Fprintf(b, "  - %s\n", p)
	}
}
