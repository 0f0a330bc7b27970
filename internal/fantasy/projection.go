package fantasy

import (
	"math"
	"strings"
)

// Scoring formats accepted by Projection.Points.
const (
	ScoringPPR     = "PPR"
	ScoringHalfPPR = "HALF_PPR"
	ScoringSTD     = "STD"
)

// Projection is one row of the Sleeper weekly projections.
type Projection struct {
	PlayerID string             `json:"player_id"`
	Position string             `json:"position,omitempty"`
	Team     string             `json:"team,omitempty"`
	Week     int                `json:"week,omitempty"`
	Stats    map[string]float64 `json:"stats"`
}

// Points returns the projected fantasy points under a scoring format.
// Unknown formats score as PPR; half PPR falls back to PPR when Sleeper
// omits it.
func (p *Projection) Points(scoring string) (float64, bool) {
	switch NormalizeScoring(scoring) {
	case ScoringHalfPPR:
		if v, ok := p.Stats["pts_half_ppr"]; ok {
			return v, true
		}
	case ScoringSTD:
		v, ok := p.Stats["pts_std"]
		return v, ok
	}
	v, ok := p.Stats["pts_ppr"]
	return v, ok
}

// Range derives a floor and ceiling around the projected points. Sleeper
// publishes no variance, so a fixed band is used: narrower for kickers and
// defenses, wider for receivers.
func (p *Projection) Range(scoring string) (floor, ceiling float64, ok bool) {
	pts, ok := p.Points(scoring)
	if !ok {
		return 0, 0, false
	}
	band := 0.2
	switch strings.ToUpper(p.Position) {
	case "K", "DEF":
		band = 0.12
	case "WR":
		band = 0.25
	}
	return round2(math.Max(0, pts*(1-band))), round2(pts * (1 + band)), true
}

// NormalizeScoring maps scoring aliases to ScoringPPR, ScoringHalfPPR or
// ScoringSTD.
func NormalizeScoring(scoring string) string {
	switch strings.ToUpper(strings.TrimSpace(scoring)) {
	case "HALF_PPR", "HALFPPR", "0.5PPR", "HALF":
		return ScoringHalfPPR
	case "STD", "STANDARD", "NON_PPR":
		return ScoringSTD
	default:
		return ScoringPPR
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
