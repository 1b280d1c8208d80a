package ffmpeg

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stampede/stampede/internal/config"
)

// titleChapterLimit is the latest end time for a chapter to count as the
// title sequence. Title sequences live in the first 10 minutes.
const titleChapterLimit = 600.0

// episodeOnePattern marks a season's first episode. Matched case-sensitively
// against the input filename.
const episodeOnePattern = "E01"

// PlanZones maps chapter boundaries and the configured multipliers to the
// encoder's zones parameter: forward-slash-joined
// "start_frame,end_frame,b=multiplier" triples. Returns the empty string
// when no zone applies.
//
// The title window covers the configured seconds before the end of the
// first chapter, provided that chapter ends within the first ten minutes.
// The closing window covers the configured seconds before the end of the
// file unconditionally. Frames are floor(time * fps).
func PlanZones(info *VideoInfo, zc config.ZoneConfig) string {
	if zc.SkipFirstEpisodes && strings.Contains(filepath.Base(info.Path), episodeOnePattern) {
		return ""
	}
	if info.FrameRate <= 0 {
		return ""
	}

	var zones []string

	if zc.TitleRate != nil && len(info.Chapters) > 0 {
		first := info.Chapters[0]
		for _, c := range info.Chapters[1:] {
			if c.Start < first.Start {
				first = c
			}
		}
		if first.HasEnd && first.End <= titleChapterLimit {
			start := frame(math.Max(0, first.End-zc.TitleRate.Seconds), info.FrameRate)
			end := frame(first.End, info.FrameRate)
			if start < end {
				zones = append(zones, formatZone(start, end, zc.TitleRate.Multiplier))
			}
		}
	}

	if zc.ClosingRate != nil && info.Duration > 0 {
		start := frame(math.Max(0, info.Duration-zc.ClosingRate.Seconds), info.FrameRate)
		end := frame(info.Duration, info.FrameRate)
		if start < end {
			zones = append(zones, formatZone(start, end, zc.ClosingRate.Multiplier))
		}
	}

	return strings.Join(zones, "/")
}

func frame(seconds, fps float64) int64 {
	return int64(math.Floor(seconds * fps))
}

func formatZone(start, end int64, multiplier float64) string {
	return fmt.Sprintf("%d,%d,b=%s", start, end, formatFloat(multiplier))
}

// formatFloat renders a float the way the encoder expects: no exponent,
// no trailing zeros.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
