package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stampede/stampede/internal/logger"
)

// ErrDurationMissing is returned when the probe cannot determine the source
// duration. The encoder cannot proceed without it.
var ErrDurationMissing = errors.New("source duration unavailable")

// probeTimeout bounds every ffprobe invocation.
const probeTimeout = 300 * time.Second

// textSubtitleCodecs is the whitelist of text-based subtitle families that
// survive re-muxing with codec copy.
var textSubtitleCodecs = map[string]bool{
	"subrip":   true,
	"ass":      true,
	"ssa":      true,
	"webvtt":   true,
	"srt":      true,
	"mov_text": true,
	"text":     true,
}

// Chapter is one chapter record. End times may be absent in the source.
type Chapter struct {
	Start  float64
	End    float64
	HasEnd bool
}

// Rect is a crop rectangle in pixels.
type Rect struct {
	W, H, X, Y int
}

// FilterArg renders the rectangle for the crop video filter.
func (r Rect) FilterArg() string {
	return fmt.Sprintf("crop=%d:%d:%d:%d", r.W, r.H, r.X, r.Y)
}

// VideoInfo is the per-input analysis result. Fields whose sub-query failed
// are left at their zero value; only a missing Duration aborts the job.
type VideoInfo struct {
	Path           string
	Duration       float64 // seconds; 0 when unknown
	FrameRate      float64 // fps; 0 when unknown
	HasDolbyVision bool
	Chapters       []Chapter
	TextSubtitles  []int // subtitle-relative stream indices (for -map 0:s:<i>)
	Crop           *Rect // filled by crop detection
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format   ffprobeFormat    `json:"format"`
	Streams  []ffprobeStream  `json:"streams"`
	Chapters []ffprobeChapter `json:"chapters"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	Index        int               `json:"index"`
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	RFrameRate   string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	SideDataList []ffprobeSideData `json:"side_data_list"`
}

type ffprobeSideData struct {
	SideDataType string `json:"side_data_type"`
}

type ffprobeChapter struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Prober wraps the external probe tool. Every query runs quiet and
// read-only and parses the tool's JSON output.
type Prober struct {
	ffprobePath string
}

// NewProber creates a new Prober with the given ffprobe path
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

func (p *Prober) query(ctx context.Context, path string, extra ...string) (*ffprobeOutput, error) {
	argv := []string{p.ffprobePath, "-v", "quiet", "-print_format", "json"}
	argv = append(argv, extra...)
	argv = append(argv, path)

	result, err := Run(ctx, argv, probeTimeout, nil)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var out ffprobeOutput
	if err := json.Unmarshal(result.Stdout, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &out, nil
}

// Duration returns the container duration in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.query(ctx, path, "-show_format")
	if err != nil {
		return 0, err
	}
	if out.Format.Duration == "" {
		return 0, ErrDurationMissing
	}
	seconds, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil || seconds <= 0 {
		return 0, ErrDurationMissing
	}
	return seconds, nil
}

// FrameRate returns the primary video stream's frame rate in fps.
// Fractional rates like 24000/1001 are supported.
func (p *Prober) FrameRate(ctx context.Context, path string) (float64, error) {
	out, err := p.query(ctx, path, "-show_streams", "-select_streams", "v:0")
	if err != nil {
		return 0, err
	}
	if len(out.Streams) == 0 {
		return 0, errors.New("no video stream")
	}
	fps := parseFrameRate(out.Streams[0].RFrameRate)
	if fps == 0 {
		fps = parseFrameRate(out.Streams[0].AvgFrameRate)
	}
	if fps == 0 {
		return 0, fmt.Errorf("unparseable frame rate %q", out.Streams[0].RFrameRate)
	}
	return fps, nil
}

// HasDolbyVision reports whether the primary video stream carries a
// Dolby Vision configuration side-data record.
func (p *Prober) HasDolbyVision(ctx context.Context, path string) (bool, error) {
	out, err := p.query(ctx, path, "-show_streams", "-select_streams", "v:0")
	if err != nil {
		return false, err
	}
	for _, stream := range out.Streams {
		for _, sd := range stream.SideDataList {
			if sd.SideDataType == "DOVI configuration record" {
				return true, nil
			}
		}
	}
	return false, nil
}

// Chapters returns the chapter list in order. Absent end times are
// tolerated and reported via HasEnd.
func (p *Prober) Chapters(ctx context.Context, path string) ([]Chapter, error) {
	out, err := p.query(ctx, path, "-show_chapters")
	if err != nil {
		return nil, err
	}
	chapters := make([]Chapter, 0, len(out.Chapters))
	for _, c := range out.Chapters {
		start, err := strconv.ParseFloat(c.StartTime, 64)
		if err != nil {
			continue
		}
		ch := Chapter{Start: start}
		if end, err := strconv.ParseFloat(c.EndTime, 64); err == nil {
			ch.End = end
			ch.HasEnd = true
		}
		chapters = append(chapters, ch)
	}
	return chapters, nil
}

// TextSubtitleIndices returns the subtitle-relative indices of streams
// whose codec is one of the text-based families. The returned indices are
// positions among the file's subtitle streams, suitable for -map 0:s:<i>.
func (p *Prober) TextSubtitleIndices(ctx context.Context, path string) ([]int, error) {
	out, err := p.query(ctx, path, "-show_streams", "-select_streams", "s")
	if err != nil {
		return nil, err
	}
	var indices []int
	for i, stream := range out.Streams {
		if textSubtitleCodecs[strings.ToLower(stream.CodecName)] {
			indices = append(indices, i)
		}
	}
	return indices, nil
}

// Analyze runs all sub-queries concurrently and assembles a VideoInfo.
// Sub-query failures are contained: a failed query leaves its field absent
// and logs a warning. Only a missing duration is fatal.
func (p *Prober) Analyze(ctx context.Context, path string) (*VideoInfo, error) {
	info := &VideoInfo{Path: path}

	var wg sync.WaitGroup
	var durationErr error

	wg.Add(5)
	go func() {
		defer wg.Done()
		info.Duration, durationErr = p.Duration(ctx, path)
	}()
	go func() {
		defer wg.Done()
		fps, err := p.FrameRate(ctx, path)
		if err != nil {
			logger.Warn("Frame rate probe failed", "input", path, "error", err)
			return
		}
		info.FrameRate = fps
	}()
	go func() {
		defer wg.Done()
		dv, err := p.HasDolbyVision(ctx, path)
		if err != nil {
			logger.Warn("Dolby Vision probe failed", "input", path, "error", err)
			return
		}
		info.HasDolbyVision = dv
	}()
	go func() {
		defer wg.Done()
		chapters, err := p.Chapters(ctx, path)
		if err != nil {
			logger.Warn("Chapter probe failed", "input", path, "error", err)
			return
		}
		info.Chapters = chapters
	}()
	go func() {
		defer wg.Done()
		subs, err := p.TextSubtitleIndices(ctx, path)
		if err != nil {
			logger.Warn("Subtitle probe failed", "input", path, "error", err)
			return
		}
		info.TextSubtitles = subs
	}()
	wg.Wait()

	if durationErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrDurationMissing, path)
	}
	return info, nil
}

// IsVideoFile returns true if the file extension suggests a video file
func IsVideoFile(path string) bool {
	ext := strings.ToLower(path)
	videoExtensions := []string{
		".mkv", ".mp4", ".avi", ".mov", ".wmv", ".flv",
		".webm", ".m4v", ".mpeg", ".mpg", ".m2ts", ".ts",
	}
	for _, ve := range videoExtensions {
		if strings.HasSuffix(ext, ve) {
			return true
		}
	}
	return false
}

// parseFrameRate parses a frame rate string like "30000/1001" or "30/1"
func parseFrameRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}
