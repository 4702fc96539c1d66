// Package manifest defines the persisted download Plan (spec.md §3) and
// its on-disk codec (spec.md §4.4), generalized from the teacher's
// DownloadConfig/DownloadChunk/DownloadJob trio in internal/utils/types.go.
package manifest

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// ManifestFileName is the name of the serialized Plan within a work
// directory (spec.md §4.4).
const ManifestFileName = "prometeo.config"

// LogFileName is the name of the append-only debug log within a work
// directory (spec.md §4.4).
const LogFileName = "prometeo.log"

// Range describes one contiguous, inclusive byte range of the target file
// and the part file it is downloaded into (spec.md §3).
type Range struct {
	Index    int    `json:"index"`
	PartPath string `json:"part_path"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
}

// Length returns the number of bytes this range covers.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// Plan is the immutable-once-written description of a download (spec.md
// §3). SpeedBps, Finished, and Resumed are the only fields a running
// Coordinator mutates after construction.
type Plan struct {
	ID          uuid.UUID `json:"id"`
	URL         string    `json:"url"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	Destination string    `json:"destination"`
	WorkDir     string    `json:"work_dir"`
	ContentType string    `json:"content_type"`
	UserAgent   string    `json:"user_agent"`
	Parts       []Range   `json:"parts"`
	SpeedBps    int64     `json:"speed_bps"`
	Finished    bool      `json:"finished"`
	Resumed     bool      `json:"resumed"`
}

// NewPlan builds a Plan from validated inputs and computes its Range
// partition per spec.md §3's partitioning rule. connections must be >= 1.
func NewPlan(url, name string, size int64, destination, workDir, contentType, userAgent string, connections int, speedBps int64) (*Plan, error) {
	if connections < 1 {
		return nil, fmt.Errorf("manifest: connections must be >= 1, got %d", connections)
	}
	if size <= 0 {
		return nil, fmt.Errorf("manifest: size must be positive, got %d", size)
	}
	if speedBps <= 0 {
		return nil, fmt.Errorf("manifest: speedBps must be positive, got %d", speedBps)
	}
	plan := &Plan{
		ID:          uuid.New(),
		URL:         url,
		Name:        name,
		Size:        size,
		Destination: destination,
		WorkDir:     workDir,
		ContentType: contentType,
		UserAgent:   userAgent,
		SpeedBps:    speedBps,
		Parts:       partition(size, connections, workDir, name),
	}
	return plan, nil
}

// partition implements spec.md §3's partitioning rule: slice = floor(size/N);
// start[i] = i*slice, end[i] = start[i]+slice-1 for i<N-1, end[N-1] = size-1.
func partition(size int64, n int, workDir, name string) []Range {
	slice := size / int64(n)
	ranges := make([]Range, n)
	for i := 0; i < n; i++ {
		start := int64(i) * slice
		end := start + slice - 1
		if i == n-1 {
			end = size - 1
		}
		ranges[i] = Range{
			Index:    i,
			PartPath: filepath.Join(workDir, fmt.Sprintf("%s%d", name, i)),
			Start:    start,
			End:      end,
		}
	}
	return ranges
}

// Validate checks the contiguity invariants spec.md §3 and §8 require:
// ranges ascending in start, contiguous, the first starting at 0, and the
// last ending at size-1.
func (p *Plan) Validate() error {
	if len(p.Parts) == 0 {
		return fmt.Errorf("manifest: plan has no parts")
	}
	if p.Parts[0].Start != 0 {
		return fmt.Errorf("manifest: first range must start at 0, got %d", p.Parts[0].Start)
	}
	last := p.Parts[len(p.Parts)-1]
	if last.End != p.Size-1 {
		return fmt.Errorf("manifest: last range must end at size-1 (%d), got %d", p.Size-1, last.End)
	}
	for i := 1; i < len(p.Parts); i++ {
		prev, cur := p.Parts[i-1], p.Parts[i]
		if cur.Start != prev.End+1 {
			return fmt.Errorf("manifest: range %d does not start where range %d ends (%d != %d+1)", i, i-1, cur.Start, prev.End)
		}
	}
	return nil
}
