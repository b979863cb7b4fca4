// Package jobfile loads the YAML job description that lists the masked
// time ranges of a run. Segments can be given as frame indices or as time
// text; time text is resolved against the probed video once it is known.
package jobfile

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ekroshkin/vidwipe/internal/domain/timecode"
	"github.com/ekroshkin/vidwipe/internal/types"
)

// SegmentSpec is one masked range as written in the job file. Either the
// frame pair or the time pair must be set, not both.
type SegmentSpec struct {
	StartFrame int    `yaml:"start_frame"`
	EndFrame   int    `yaml:"end_frame"`
	Start      string `yaml:"start"`
	End        string `yaml:"end"`
	Mask       string `yaml:"mask"`
}

type Job struct {
	Segments []SegmentSpec `yaml:"segments"`

	// dir of the job file; relative mask paths resolve against it.
	baseDir string
}

func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}
	if len(job.Segments) == 0 {
		return nil, fmt.Errorf("job file %s lists no segments", path)
	}
	job.baseDir = filepath.Dir(path)
	return &job, nil
}

// Resolve converts the specs into frame-indexed segments using the probed
// video info.
func (j *Job) Resolve(info types.VideoInfo) ([]types.Segment, error) {
	segments := make([]types.Segment, 0, len(j.Segments))
	for i, spec := range j.Segments {
		start, end, err := spec.frames(info)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i+1, err)
		}

		mask := spec.Mask
		if mask != "" && !filepath.IsAbs(mask) {
			mask = filepath.Join(j.baseDir, mask)
		}
		segments = append(segments, types.NewSegment(start, end, mask))
	}
	return segments, nil
}

func (s SegmentSpec) frames(info types.VideoInfo) (start, end int, err error) {
	hasFrames := s.StartFrame != 0 || s.EndFrame != 0
	hasTimes := s.Start != "" || s.End != ""

	switch {
	case hasFrames && hasTimes:
		return 0, 0, fmt.Errorf("mixes frame and time bounds; use one form")
	case hasFrames:
		return s.StartFrame, s.EndFrame, nil
	case hasTimes:
		startSec, err := timecode.ParseTimeText(s.Start)
		if err != nil {
			return 0, 0, err
		}
		endSec, err := timecode.ParseTimeText(s.End)
		if err != nil {
			return 0, 0, err
		}
		return timecode.SecondsToFrame(startSec, info.FPS, info.TotalFrames),
			timecode.SecondsToFrame(endSec, info.FPS, info.TotalFrames), nil
	default:
		return 0, 0, fmt.Errorf("no bounds given")
	}
}
