// Package timecode converts between frame indices, seconds and the textual
// forms used by ffprobe output and job files.
package timecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseFraction parses an ffprobe rate such as "30000/1001" or "25".
func ParseFraction(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty rate value")
	}
	if num, den, ok := strings.Cut(value, "/"); ok {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("parse rate numerator %q: %w", num, err)
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil {
			return 0, fmt.Errorf("parse rate denominator %q: %w", den, err)
		}
		if d == 0 {
			return 0, fmt.Errorf("rate %q has zero denominator", value)
		}
		return n / d, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rate %q: %w", value, err)
	}
	return f, nil
}

// ParseTimeText parses "SS", "SS.mmm", "MM:SS" or "HH:MM:SS.mmm" into seconds.
func ParseTimeText(value string) (float64, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return 0, fmt.Errorf("empty time text")
	}
	if !strings.Contains(raw, ":") {
		sec, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("parse time %q: %w", raw, err)
		}
		return sec, nil
	}

	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 2:
		minutes, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("parse minutes in %q: %w", raw, err)
		}
		sec, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return 0, fmt.Errorf("parse seconds in %q: %w", raw, err)
		}
		return float64(minutes)*60 + sec, nil
	case 3:
		hours, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("parse hours in %q: %w", raw, err)
		}
		minutes, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, fmt.Errorf("parse minutes in %q: %w", raw, err)
		}
		sec, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return 0, fmt.Errorf("parse seconds in %q: %w", raw, err)
		}
		return float64(hours)*3600 + float64(minutes)*60 + sec, nil
	default:
		return 0, fmt.Errorf("invalid time text %q", value)
	}
}

// FormatSeconds renders seconds as "HH:MM:SS.mmm". Negative input clamps to zero.
func FormatSeconds(seconds float64) string {
	totalMS := int64(math.Max(0, seconds) * 1000)
	ms := totalMS % 1000
	totalS := totalMS / 1000
	s := totalS % 60
	totalM := totalS / 60
	m := totalM % 60
	h := totalM / 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// FrameToSeconds returns the time offset of a 1-based frame index.
func FrameToSeconds(frameIndex int, fps float64) float64 {
	if frameIndex < 1 {
		frameIndex = 1
	}
	return float64(frameIndex-1) / fps
}

// SecondsToFrame maps a time offset to the nearest 1-based frame index,
// clamped to [1, totalFrames].
func SecondsToFrame(seconds, fps float64, totalFrames int) int {
	frame := int(math.Round(math.Max(0, seconds)*fps)) + 1
	if frame < 1 {
		frame = 1
	}
	if frame > totalFrames {
		frame = totalFrames
	}
	return frame
}
