package ffmpeg

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/stampede/stampede/internal/config"
)

// crfCeiling is the configuration convention for crf_or_rate: values at or
// below it are a CRF, higher values a bitrate in kbps.
const crfCeiling = 50

// SelectOnePass reports whether the preset selects the single-invocation
// encode form.
func SelectOnePass(p *config.Preset) bool {
	return p.OnePass || p.CRFOrRate <= crfCeiling
}

// StatsPath is where the first pass writes its rate-control statistics.
func StatsPath(scratchPrefix string) string {
	return scratchPrefix + ".stats"
}

// BuildOnePass composes the single-invocation encoder argv: first video and
// audio streams mapped explicitly, audio re-encoded through the loudness
// normalizer to 2-channel Opus, text subtitles copied.
func BuildOnePass(p *config.Preset, info *VideoInfo, zones, outputPath string) []string {
	argv := commonVideoArgs(p, info, zones, 0, "")
	argv = append(argv, audioArgs(p, NormalizeFilter())...)
	argv = append(argv, subtitleArgs(info)...)
	argv = append(argv, outputPath)
	return argv
}

// BuildPassOne composes the first pass of the two-pass form: statistics
// written under the scratch prefix, video discarded into the null sink, and
// the loudness analyzer printing its measurements for the second pass.
func BuildPassOne(p *config.Preset, info *VideoInfo, zones, scratchPrefix string) []string {
	argv := commonVideoArgs(p, info, zones, 1, StatsPath(scratchPrefix))
	argv = append(argv,
		"-af", AnalyzeFilter(),
		"-sn",
		"-f", "null", os.DevNull,
	)
	return argv
}

// BuildPassTwo composes the second pass: statistics consumed from the
// scratch prefix and the measured loudness values substituted into the
// audio filter.
func BuildPassTwo(p *config.Preset, info *VideoInfo, zones, scratchPrefix string, m Loudness, outputPath string) []string {
	argv := commonVideoArgs(p, info, zones, 2, StatsPath(scratchPrefix))
	argv = append(argv, audioArgs(p, m.RenderFilter())...)
	argv = append(argv, subtitleArgs(info)...)
	argv = append(argv, outputPath)
	return argv
}

// commonVideoArgs composes the shared input, mapping, filter, and video
// codec portion of every pass. pass 0 means one-pass (no stats file).
func commonVideoArgs(p *config.Preset, info *VideoInfo, zones string, pass int, statsPath string) []string {
	argv := []string{
		p.FFmpegPath, "-hide_banner", "-y",
		"-i", info.Path,
		"-map", "0:v:0",
		"-map", "0:a:0",
	}

	if chain := buildVideoFilter(p, info.Crop); chain != "" {
		argv = append(argv, "-vf", chain)
	}

	argv = append(argv, "-c:v", "libx265", "-pix_fmt", "yuv420p10le")
	if p.EncoderPreset != "" {
		argv = append(argv, "-preset", p.EncoderPreset)
	}

	if p.CRFOrRate > crfCeiling {
		argv = append(argv, "-b:v", fmt.Sprintf("%dk", p.CRFOrRate))
	} else {
		argv = append(argv, "-crf", strconv.Itoa(p.CRFOrRate))
	}

	if info.HasDolbyVision {
		argv = append(argv, "-dolbyvision", "1")
	}

	if params := buildX265Params(p, zones, pass, statsPath); params != "" {
		argv = append(argv, "-x265-params", params)
	}

	return argv
}

// buildVideoFilter composes the filter chain [video_filter?, scale, crop,
// sharpen?]. The scale stage is emitted only when a scale filter kernel is
// configured.
func buildVideoFilter(p *config.Preset, crop *Rect) string {
	var parts []string
	if p.VideoFilter != "" {
		parts = append(parts, p.VideoFilter)
	}
	if p.ScaleFilter != "" {
		parts = append(parts, fmt.Sprintf("zscale=%d:%d:filter=%s", p.TargetWidth, p.TargetHeight, p.ScaleFilter))
	}
	if crop != nil {
		parts = append(parts, crop.FilterArg())
	}
	if p.SharpenFilter != "" {
		parts = append(parts, p.SharpenFilter)
	}
	return strings.Join(parts, ",")
}

// buildX265Params assembles the encoder parameter string: the zone plan
// first, then the merged preset parameters, then the pass bookkeeping.
func buildX265Params(p *config.Preset, zones string, pass int, statsPath string) string {
	var parts []string
	if zones != "" {
		parts = append(parts, "zones="+zones)
	}
	if merged := MergeX265Params(p.X265Params, p.AddX265Params); merged != "" {
		parts = append(parts, merged)
	}
	if pass > 0 {
		parts = append(parts, fmt.Sprintf("pass=%d", pass), "stats="+statsPath)
	}
	return strings.Join(parts, ":")
}

// MergeX265Params parses both colon-joined key=value lists and merges them,
// with add overriding base on key collision. Base ordering is preserved;
// keys new in add are appended in their own order. Bare flags without a
// value participate under their literal name.
func MergeX265Params(base, add string) string {
	var order []string
	values := map[string]string{}

	merge := func(list string) {
		for _, item := range strings.Split(list, ":") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			key, _, _ := strings.Cut(item, "=")
			if _, seen := values[key]; !seen {
				order = append(order, key)
			}
			values[key] = item
		}
	}
	merge(base)
	merge(add)

	parts := make([]string, 0, len(order))
	for _, key := range order {
		parts = append(parts, values[key])
	}
	return strings.Join(parts, ":")
}

// audioArgs re-encodes the mapped audio stream through the given loudness
// filter to 2-channel Opus at the configured bitrate.
func audioArgs(p *config.Preset, filter string) []string {
	return []string{
		"-af", filter,
		"-ac", "2",
		"-c:a", "libopus",
		"-b:a", fmt.Sprintf("%dk", p.AudioBitrate),
		"-frame_duration", "60",
	}
}

// subtitleArgs maps each text subtitle stream and copies its codec.
func subtitleArgs(info *VideoInfo) []string {
	var argv []string
	for _, idx := range info.TextSubtitles {
		argv = append(argv, "-map", fmt.Sprintf("0:s:%d", idx))
	}
	if len(info.TextSubtitles) > 0 {
		argv = append(argv, "-c:s", "copy")
	}
	return argv
}
