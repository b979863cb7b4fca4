// Package frames holds the pure logic of the pipeline: ordering extracted
// frame files, classifying frames against mask segments and sharding
// inpainting tasks across worker ports.
package frames

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ekroshkin/vidwipe/internal/types"
)

// Index returns the 1-based frame index encoded in a frame file name
// ("17.jpg" -> 17). Extraction names every frame this way; anything else is
// a naming contract violation.
func Index(path string) (int, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	idx, err := strconv.Atoi(stem)
	if err != nil || idx < 1 {
		return 0, fmt.Errorf("unexpected frame file name %q", filepath.Base(path))
	}
	return idx, nil
}

// SortPaths orders frame files by numeric index. Non-numeric names sort after
// all numeric ones, lexically, so a malformed listing is still deterministic.
func SortPaths(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		li, erri := Index(paths[i])
		lj, errj := Index(paths[j])
		switch {
		case erri == nil && errj == nil:
			return li < lj
		case erri == nil:
			return true
		case errj == nil:
			return false
		default:
			return paths[i] < paths[j]
		}
	})
}

// SortSegments returns the segments ordered by start frame, validated for
// bounds against the probed frame count and for pairwise overlap.
func SortSegments(segments []types.Segment, totalFrames int) ([]types.Segment, error) {
	ordered := make([]types.Segment, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].StartFrame < ordered[j].StartFrame
	})

	for _, seg := range ordered {
		if err := seg.Validate(); err != nil {
			return nil, err
		}
		if seg.EndFrame > totalFrames {
			return nil, fmt.Errorf("segment %s exceeds video length: end frame %d > total frames %d",
				seg.ID, seg.EndFrame, totalFrames)
		}
	}
	for i := 1; i < len(ordered); i++ {
		left, right := ordered[i-1], ordered[i]
		if left.Overlaps(right) {
			return nil, fmt.Errorf("overlapping segments: [%d, %d] overlaps [%d, %d]",
				left.StartFrame, left.EndFrame, right.StartFrame, right.EndFrame)
		}
	}
	return ordered, nil
}

// MaskForTime returns the mask path of the first segment whose half-open
// time window contains the offset, or "" when the frame passes through
// untouched. Segments must be sorted and non-overlapping, so at most one
// can match.
func MaskForTime(offsetSec float64, sorted []types.Segment, fps float64) string {
	for _, seg := range sorted {
		start, end := seg.Window(fps)
		if offsetSec >= start && offsetSec < end {
			return seg.MaskPath
		}
	}
	return ""
}

// Shard distributes tasks over ports by round-robin on task index. The
// result is aligned with ports; shards may be empty.
func Shard(tasks []types.FrameTask, ports []int) [][]types.FrameTask {
	shards := make([][]types.FrameTask, len(ports))
	for i, task := range tasks {
		slot := i % len(ports)
		shards[slot] = append(shards[slot], task)
	}
	return shards
}
