package timecode

import (
	"math"
	"testing"
)

func TestParseFraction(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "25", want: 25},
		{in: "30000/1001", want: 30000.0 / 1001.0},
		{in: " 24/1 ", want: 24},
		{in: "", wantErr: true},
		{in: "30/0", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "a/b", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFraction(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("ParseFraction(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseTimeText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "12", want: 12},
		{in: "3.5", want: 3.5},
		{in: "1:30", want: 90},
		{in: "2:03.250", want: 123.25},
		{in: "1:02:03", want: 3723},
		{in: "01:02:03.5", want: 3723.5},
		{in: "", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
		{in: "x:30", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTimeText(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("ParseTimeText(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestFormatSeconds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   float64
		want string
	}{
		{in: 0, want: "00:00:00.000"},
		{in: 1.5, want: "00:00:01.500"},
		{in: 90.25, want: "00:01:30.250"},
		{in: 3723.042, want: "01:02:03.042"},
		{in: -4, want: "00:00:00.000"},
	}

	for _, tc := range cases {
		if got := FormatSeconds(tc.in); got != tc.want {
			t.Fatalf("FormatSeconds(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFrameSecondsRoundTrip(t *testing.T) {
	t.Parallel()

	const fps = 30.0
	const total = 300

	if got := FrameToSeconds(1, fps); got != 0 {
		t.Fatalf("frame 1 offset = %v, want 0", got)
	}
	if got := FrameToSeconds(31, fps); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("frame 31 offset = %v, want 1.0", got)
	}
	if got := FrameToSeconds(0, fps); got != 0 {
		t.Fatalf("frame 0 should clamp to frame 1, got offset %v", got)
	}

	for _, frame := range []int{1, 2, 30, 31, 150, 300} {
		sec := FrameToSeconds(frame, fps)
		if got := SecondsToFrame(sec, fps, total); got != frame {
			t.Fatalf("round trip frame %d -> %v sec -> %d", frame, sec, got)
		}
	}

	if got := SecondsToFrame(-5, fps, total); got != 1 {
		t.Fatalf("negative seconds should clamp to 1, got %d", got)
	}
	if got := SecondsToFrame(1e6, fps, total); got != total {
		t.Fatalf("overlong seconds should clamp to %d, got %d", total, got)
	}
}
