package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ZoneRate is a (window seconds, bitrate multiplier) pair from a
// --title-rate or --closing-rate flag.
type ZoneRate struct {
	Seconds    float64
	Multiplier float64
}

// ZoneConfig carries the per-batch zone settings consumed by the zone planner.
type ZoneConfig struct {
	// TitleRate rewrites the bitrate over the tail of the first chapter
	// (typically the title sequence).
	TitleRate *ZoneRate

	// ClosingRate rewrites the bitrate over the last Seconds of the file
	// (typically the closing credits).
	ClosingRate *ZoneRate

	// SkipFirstEpisodes disables zone rewrites for titles matching the
	// episode-one pattern, so a season's first episode keeps full quality
	// through its opening.
	SkipFirstEpisodes bool
}

// ParseZoneRate parses the "S,M" flag form, e.g. "30,0.5".
func ParseZoneRate(s string) (*ZoneRate, error) {
	secStr, multStr, ok := strings.Cut(s, ",")
	if !ok {
		return nil, fmt.Errorf("zone rate %q: want \"seconds,multiplier\"", s)
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(secStr), 64)
	if err != nil {
		return nil, fmt.Errorf("zone rate %q: bad seconds: %w", s, err)
	}
	mult, err := strconv.ParseFloat(strings.TrimSpace(multStr), 64)
	if err != nil {
		return nil, fmt.Errorf("zone rate %q: bad multiplier: %w", s, err)
	}
	if sec <= 0 || mult <= 0 {
		return nil, fmt.Errorf("zone rate %q: seconds and multiplier must be positive", s)
	}
	return &ZoneRate{Seconds: sec, Multiplier: mult}, nil
}
