package jobs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stampede/stampede/internal/config"
	"github.com/stampede/stampede/internal/ffmpeg"
)

// stubProbeScript answers every probe sub-query for a 600 s, 24 fps source
// with no chapters and no subtitles.
const stubProbeScript = `#!/bin/sh
case "$*" in
*-show_format*) echo '{"format": {"duration": "600.000000"}}' ;;
*"-select_streams v:0"*) echo '{"streams": [{"index": 0, "codec_type": "video", "codec_name": "h264", "r_frame_rate": "24/1"}]}' ;;
*) echo '{}' ;;
esac
`

// stubEncodeScript fakes the transcoder: cropdetect samples report a fixed
// rectangle, a first pass prints loudness measurements, and any other
// invocation writes its last operand as the output file. Every invocation
// appends its argv to $CMDLOG when set.
const stubEncodeScript = `#!/bin/sh
if [ -n "$CMDLOG" ]; then echo "$*" >> "$CMDLOG"; fi
for a in "$@"; do last="$a"; done
case "$*" in
*cropdetect*) echo "[Parsed_cropdetect_1 @ 0x55d] t:0.5 crop=1920:800:0:140" >&2 ;;
*"-f null"*) echo '[Parsed_loudnorm_0 @ 0x5600] { "input_i" : "-20.5", "input_tp" : "-4.1", "input_lra" : "9.8", "input_thresh" : "-31.2", "target_offset" : "0.58" }' ;;
*) echo "encoding $last" >&2; : > "$last" ;;
esac
`

// stubFailScript fakes a transcoder whose encode passes leave a partial
// output behind and exit non-zero. Crop samples still succeed.
const stubFailScript = `#!/bin/sh
for a in "$@"; do last="$a"; done
case "$*" in
*cropdetect*) echo "crop=1920:800:0:140" >&2 ;;
*) : > "$last"; echo "x265 [error]: boom" >&2; exit 1 ;;
esac
`

func writeStub(t *testing.T, name, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func stubPreset(t *testing.T, ffmpegScript string) *config.Preset {
	t.Helper()
	return &config.Preset{
		Name:         "test",
		FFmpegPath:   writeStub(t, "ffmpeg", ffmpegScript),
		FFprobePath:  writeStub(t, "ffprobe", stubProbeScript),
		TargetWidth:  1920,
		TargetHeight: 1080,
		CropSamples:  2,
		CRFOrRate:    22,
		AudioBitrate: 128,
	}
}

// claimedJob claims one job so the encoder has a token and scratch prefix.
func claimedJob(t *testing.T, input string) *Job {
	t.Helper()
	reg := NewRegistry(t.TempDir(), t.TempDir())
	job := NewJob(input, t.TempDir())
	claimed, err := reg.Claim(job)
	require.NoError(t, err)
	require.True(t, claimed)
	return job
}

func TestEncoderOnePass(t *testing.T) {
	preset := stubPreset(t, stubEncodeScript)
	job := claimedJob(t, "/media/a.mkv")

	enc := NewEncoder(preset, config.ZoneConfig{})
	require.NoError(t, enc.Run(t.Context(), job))

	assert.FileExists(t, job.OutputPath)

	// The token survives as the done marker and holds the encoder log.
	data, err := os.ReadFile(job.TokenPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Claimed by PID")
	assert.Contains(t, string(data), "encoding")

	// Scratch files are gone even on success.
	matches, err := filepath.Glob(job.ScratchPrefix + "*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestEncoderTwoPassSubstitutesLoudness(t *testing.T) {
	cmdlog := filepath.Join(t.TempDir(), "cmdlog")
	t.Setenv("CMDLOG", cmdlog)

	preset := stubPreset(t, stubEncodeScript)
	preset.CRFOrRate = 2800
	job := claimedJob(t, "/media/a.mkv")

	enc := NewEncoder(preset, config.ZoneConfig{})
	require.NoError(t, enc.Run(t.Context(), job))

	assert.FileExists(t, job.OutputPath)

	// The pass-one measurements flow into the pass-two audio filter.
	invocations, err := os.ReadFile(cmdlog)
	require.NoError(t, err)
	assert.Contains(t, string(invocations), "pass=1")
	assert.Contains(t, string(invocations), "pass=2")
	assert.Contains(t, string(invocations), "measured_I=-20.5")
	assert.Contains(t, string(invocations), "offset=0.58")
}

func TestEncoderFailureCleanup(t *testing.T) {
	preset := stubPreset(t, stubFailScript)
	job := claimedJob(t, "/media/a.mkv")
	tokenPath := job.TokenPath

	enc := NewEncoder(preset, config.ZoneConfig{})
	err := enc.Run(t.Context(), job)
	require.Error(t, err)

	// Partial output removed, token renamed, scratch swept.
	assert.NoFileExists(t, job.OutputPath)
	assert.NoFileExists(t, tokenPath)
	assert.FileExists(t, tokenPath+ErrorLogSuffix)

	data, readErr := os.ReadFile(tokenPath + ErrorLogSuffix)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "boom")

	matches, globErr := filepath.Glob(job.ScratchPrefix + "*")
	require.NoError(t, globErr)
	assert.Empty(t, matches)
}

func TestEncoderFailsWithoutDuration(t *testing.T) {
	preset := stubPreset(t, stubEncodeScript)
	preset.FFprobePath = writeStub(t, "ffprobe", "#!/bin/sh\nexit 1\n")
	job := claimedJob(t, "/media/a.mkv")
	tokenPath := job.TokenPath

	enc := NewEncoder(preset, config.ZoneConfig{})
	err := enc.Run(t.Context(), job)
	require.ErrorIs(t, err, ffmpeg.ErrDurationMissing)

	assert.NoFileExists(t, tokenPath)
	assert.FileExists(t, tokenPath+ErrorLogSuffix)
}
