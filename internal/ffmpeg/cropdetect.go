package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/stampede/stampede/internal/logger"
)

// ErrCropDetectFailed is returned when no crop sample succeeds.
var ErrCropDetectFailed = errors.New("crop detection produced no samples")

// cropSampleTimeout bounds each individual cropdetect invocation.
const cropSampleTimeout = 60 * time.Second

// cropSampleFrames is how many frames each sample inspects.
const cropSampleFrames = 5

// cropRe matches the rectangles the transcoder emits in cropdetect mode.
var cropRe = regexp.MustCompile(`crop=(\d+):(\d+):(\d+):(\d+)`)

// DetectCrop samples the input at evenly spaced timestamps, runs the
// transcoder in cropdetect mode at each, and returns the union of the
// detected rectangles. Individual sample failures are dropped silently;
// at least one sample must survive.
//
// Samples are scaled to width x height first so the detected rectangle is
// in output coordinates.
func DetectCrop(ctx context.Context, ffmpegPath string, info *VideoInfo, samples, width, height int) (Rect, error) {
	if samples < 1 {
		samples = 1
	}
	if info.Duration <= 0 {
		return Rect{}, fmt.Errorf("%w: unknown duration for %s", ErrCropDetectFailed, info.Path)
	}

	var mu sync.Mutex
	var rects []Rect
	var wg sync.WaitGroup

	for i := 0; i < samples; i++ {
		offset := float64(i) * info.Duration / float64(samples)
		wg.Add(1)
		go func() {
			defer wg.Done()
			rect, err := detectCropAt(ctx, ffmpegPath, info.Path, offset, width, height)
			if err != nil {
				logger.Debug("Crop sample failed", "input", info.Path, "offset", offset, "error", err)
				return
			}
			mu.Lock()
			rects = append(rects, rect)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(rects) == 0 {
		return Rect{}, fmt.Errorf("%w: %s", ErrCropDetectFailed, info.Path)
	}
	return UnionCrop(rects), nil
}

// detectCropAt runs one cropdetect sample and parses the last emitted
// rectangle from the tool's diagnostic output.
func detectCropAt(ctx context.Context, ffmpegPath, input string, offset float64, width, height int) (Rect, error) {
	argv := []string{
		ffmpegPath, "-hide_banner",
		"-ss", fmt.Sprintf("%.3f", offset),
		"-i", input,
		"-vf", fmt.Sprintf("scale=%d:%d,cropdetect", width, height),
		"-frames:v", strconv.Itoa(cropSampleFrames),
		"-an", "-sn",
		"-f", "null", "-",
	}

	result, err := Run(ctx, argv, cropSampleTimeout, nil)
	if err != nil {
		return Rect{}, err
	}
	return parseCropOutput(string(result.Stderr))
}

// parseCropOutput extracts the last crop rectangle the detector emitted.
func parseCropOutput(output string) (Rect, error) {
	matches := cropRe.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return Rect{}, errors.New("no crop emission in output")
	}
	last := matches[len(matches)-1]

	w, _ := strconv.Atoi(last[1])
	h, _ := strconv.Atoi(last[2])
	x, _ := strconv.Atoi(last[3])
	y, _ := strconv.Atoi(last[4])
	if w <= 0 || h <= 0 {
		return Rect{}, fmt.Errorf("degenerate crop %s", last[0])
	}
	return Rect{W: w, H: h, X: x, Y: y}, nil
}

// UnionCrop combines sample rectangles by taking the coordinate bounding
// box: the smallest rectangle enclosing every sample.
func UnionCrop(rects []Rect) Rect {
	u := rects[0]
	right := u.X + u.W
	bottom := u.Y + u.H
	for _, r := range rects[1:] {
		if r.X < u.X {
			u.X = r.X
		}
		if r.Y < u.Y {
			u.Y = r.Y
		}
		if r.X+r.W > right {
			right = r.X + r.W
		}
		if r.Y+r.H > bottom {
			bottom = r.Y + r.H
		}
	}
	u.W = right - u.X
	u.H = bottom - u.Y
	return u
}
