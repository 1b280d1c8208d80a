package ffmpeg

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// Loudness target values for the normalization filter.
const (
	loudnessTargetI   = -23.0
	loudnessTargetTP  = -2.0
	loudnessTargetLRA = 7.0
)

// Loudness holds the measurements the first pass prints for the audio
// stream. The second pass substitutes them into its normalization filter.
type Loudness struct {
	InputI       float64
	InputTP      float64
	InputLRA     float64
	InputThresh  float64
	TargetOffset float64
}

// DefaultLoudness returns the documented fallbacks used when a key is
// missing from the pass-one log.
func DefaultLoudness() Loudness {
	return Loudness{
		InputI:       -23,
		InputTP:      -2.0,
		InputLRA:     7,
		InputThresh:  -33,
		TargetOffset: 0.0,
	}
}

// loudnessRe matches one measurement key in the filter's JSON fragment,
// e.g. `"input_i" : "-24.31"`.
var loudnessRe = regexp.MustCompile(`"(input_i|input_tp|input_lra|input_thresh|target_offset)"\s*:\s*"(-?[0-9.]+)"`)

// ParseLoudnessLog re-reads the pass-one log file line by line and extracts
// the loudness measurements from the JSON fragments the filter printed.
// Missing keys keep their defaults.
func ParseLoudnessLog(path string) (Loudness, error) {
	m := DefaultLoudness()

	f, err := os.Open(path)
	if err != nil {
		return m, fmt.Errorf("reading pass-one log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Encoder log lines can be long; the default token limit is too small.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		for _, match := range loudnessRe.FindAllStringSubmatch(scanner.Text(), -1) {
			value, err := strconv.ParseFloat(match[2], 64)
			if err != nil {
				continue
			}
			switch match[1] {
			case "input_i":
				m.InputI = value
			case "input_tp":
				m.InputTP = value
			case "input_lra":
				m.InputLRA = value
			case "input_thresh":
				m.InputThresh = value
			case "target_offset":
				m.TargetOffset = value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return m, fmt.Errorf("scanning pass-one log: %w", err)
	}
	return m, nil
}

// NormalizeFilter is the one-pass audio filter: single-shot loudness
// normalization at the target values.
func NormalizeFilter() string {
	return fmt.Sprintf("loudnorm=I=%s:TP=%s:LRA=%s",
		formatFloat(loudnessTargetI), formatFloat(loudnessTargetTP), formatFloat(loudnessTargetLRA))
}

// AnalyzeFilter is the pass-one audio filter: normalization in measurement
// mode, printing its results as JSON for ParseLoudnessLog.
func AnalyzeFilter() string {
	return fmt.Sprintf("loudnorm=I=%s:TP=%s:LRA=%s:print_format=json",
		formatFloat(loudnessTargetI), formatFloat(loudnessTargetTP), formatFloat(loudnessTargetLRA))
}

// RenderFilter is the pass-two audio filter with the measured values
// substituted, running the normalizer in linear mode.
func (m Loudness) RenderFilter() string {
	return fmt.Sprintf(
		"loudnorm=I=%s:TP=%s:LRA=%s:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
		formatFloat(loudnessTargetI), formatFloat(loudnessTargetTP), formatFloat(loudnessTargetLRA),
		formatFloat(m.InputI), formatFloat(m.InputTP), formatFloat(m.InputLRA),
		formatFloat(m.InputThresh), formatFloat(m.TargetOffset))
}
