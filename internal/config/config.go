// Package config loads encoder presets from a layered INI file.
//
// The file carries one [baseline] section with default keys plus one
// [preset_<name>] section per preset; preset keys override baseline keys.
// Values that lex as numbers are coerced at load time.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

const (
	baselineSection = "baseline"
	presetPrefix    = "preset_"
)

// Preset is the flat parameter set consumed by the command builder.
// CRFOrRate follows the configuration convention that low integer values
// denote a CRF and high values a bitrate in kbps.
type Preset struct {
	Name          string
	FFmpegPath    string
	FFprobePath   string
	TargetWidth   int
	TargetHeight  int
	CropSamples   int
	CRFOrRate     int
	AudioBitrate  int // kbps
	EncoderPreset string
	X265Params    string
	AddX265Params string
	VideoFilter   string
	ScaleFilter   string
	SharpenFilter string
	OnePass       bool
}

// DefaultPreset returns a preset with sensible defaults, applied before the
// baseline and preset sections are layered on top.
func DefaultPreset() *Preset {
	return &Preset{
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		TargetWidth:   1920,
		TargetHeight:  1080,
		CropSamples:   5,
		CRFOrRate:     22,
		AudioBitrate:  128,
		EncoderPreset: "medium",
	}
}

// Store holds a parsed preset file.
type Store struct {
	v *viper.Viper
}

// Load reads the preset file at path. The file must parse as INI.
func Load(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading preset file %s: %w", path, err)
	}
	return &Store{v: v}, nil
}

// Names returns the preset names defined in the file, sorted.
func (s *Store) Names() []string {
	seen := map[string]bool{}
	for _, key := range s.v.AllKeys() {
		section, _, ok := strings.Cut(key, ".")
		if !ok || !strings.HasPrefix(section, presetPrefix) {
			continue
		}
		seen[strings.TrimPrefix(section, presetPrefix)] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset resolves a named preset: defaults, then [baseline], then
// [preset_<name>]. Unknown names are an error.
func (s *Store) Preset(name string) (*Preset, error) {
	section := presetPrefix + name
	if s.v.Sub(section) == nil {
		return nil, fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(s.Names(), ", "))
	}

	p := DefaultPreset()
	p.Name = name
	applySection(s.v.Sub(baselineSection), p)
	applySection(s.v.Sub(section), p)
	return p, nil
}

// applySection overlays the keys present in one INI section onto the preset.
// Viper's cast layer handles the numeric coercion of string values.
func applySection(v *viper.Viper, p *Preset) {
	if v == nil {
		return
	}
	if v.IsSet("ffmpeg_path") {
		p.FFmpegPath = v.GetString("ffmpeg_path")
	}
	if v.IsSet("ffprobe_path") {
		p.FFprobePath = v.GetString("ffprobe_path")
	}
	if v.IsSet("target_width") {
		p.TargetWidth = v.GetInt("target_width")
	}
	if v.IsSet("target_height") {
		p.TargetHeight = v.GetInt("target_height")
	}
	if v.IsSet("crop_samples") {
		p.CropSamples = v.GetInt("crop_samples")
	}
	if v.IsSet("crf_or_rate") {
		p.CRFOrRate = v.GetInt("crf_or_rate")
	}
	if v.IsSet("audio_bitrate_kbps") {
		p.AudioBitrate = v.GetInt("audio_bitrate_kbps")
	}
	if v.IsSet("encoder_preset") {
		p.EncoderPreset = v.GetString("encoder_preset")
	}
	if v.IsSet("x265_params") {
		p.X265Params = v.GetString("x265_params")
	}
	if v.IsSet("add_x265_params") {
		p.AddX265Params = v.GetString("add_x265_params")
	}
	if v.IsSet("video_filter") {
		p.VideoFilter = v.GetString("video_filter")
	}
	if v.IsSet("scale_filter") {
		p.ScaleFilter = v.GetString("scale_filter")
	}
	if v.IsSet("sharpen_filter") {
		p.SharpenFilter = v.GetString("sharpen_filter")
	}
	if v.IsSet("one_pass") {
		p.OnePass = v.GetBool("one_pass")
	}
}

// TwoPass reports whether this preset selects the two-pass encode form.
// One-pass is chosen when one_pass is set or when crf_or_rate is a CRF
// (values at or below 50); higher values are a kbps rate target.
func (p *Preset) TwoPass() bool {
	return !p.OnePass && p.CRFOrRate > 50
}
