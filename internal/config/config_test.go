package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePresetFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presets.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleFile = `[baseline]
ffmpeg_path = /opt/ffmpeg/bin/ffmpeg
target_width = 1920
target_height = 1080
crop_samples = 7
crf_or_rate = 22
audio_bitrate_kbps = 160
x265_params = aq-mode=3:psy-rd=2.0

[preset_film]
crf_or_rate = 18
scale_filter = spline36

[preset_series]
crf_or_rate = 2800
add_x265_params = aq-mode=1
one_pass = false
`

func TestLoadLayering(t *testing.T) {
	store, err := Load(writePresetFile(t, sampleFile))
	require.NoError(t, err)

	film, err := store.Preset("film")
	require.NoError(t, err)

	// Baseline keys flow through, preset keys override.
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", film.FFmpegPath)
	assert.Equal(t, "ffprobe", film.FFprobePath) // default survives
	assert.Equal(t, 1920, film.TargetWidth)
	assert.Equal(t, 7, film.CropSamples)
	assert.Equal(t, 18, film.CRFOrRate)
	assert.Equal(t, 160, film.AudioBitrate)
	assert.Equal(t, "spline36", film.ScaleFilter)
	assert.Equal(t, "aq-mode=3:psy-rd=2.0", film.X265Params)
	assert.Equal(t, "film", film.Name)
}

func TestNumericCoercion(t *testing.T) {
	store, err := Load(writePresetFile(t, sampleFile))
	require.NoError(t, err)

	series, err := store.Preset("series")
	require.NoError(t, err)

	// INI values are strings; numeric-looking ones coerce to int.
	assert.Equal(t, 2800, series.CRFOrRate)
	assert.False(t, series.OnePass)
}

func TestTwoPassSelection(t *testing.T) {
	tests := []struct {
		name      string
		crfOrRate int
		onePass   bool
		twoPass   bool
	}{
		{"crf selects one-pass", 22, false, false},
		{"boundary value is a crf", 50, false, false},
		{"rate selects two-pass", 2800, false, true},
		{"one_pass overrides rate", 2800, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Preset{CRFOrRate: tt.crfOrRate, OnePass: tt.onePass}
			assert.Equal(t, tt.twoPass, p.TwoPass())
		})
	}
}

func TestNames(t *testing.T) {
	store, err := Load(writePresetFile(t, sampleFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"film", "series"}, store.Names())
}

func TestUnknownPreset(t *testing.T) {
	store, err := Load(writePresetFile(t, sampleFile))
	require.NoError(t, err)

	_, err = store.Preset("anime")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anime")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
	require.Error(t, err)
}

func TestParseZoneRate(t *testing.T) {
	tests := []struct {
		input   string
		want    *ZoneRate
		wantErr bool
	}{
		{input: "30,0.5", want: &ZoneRate{Seconds: 30, Multiplier: 0.5}},
		{input: "90.5,0.7", want: &ZoneRate{Seconds: 90.5, Multiplier: 0.7}},
		{input: " 60 , 0.8 ", want: &ZoneRate{Seconds: 60, Multiplier: 0.8}},
		{input: "30", wantErr: true},
		{input: "x,0.5", wantErr: true},
		{input: "30,y", wantErr: true},
		{input: "-30,0.5", wantErr: true},
		{input: "30,0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseZoneRate(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
