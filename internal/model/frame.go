// Package model holds the supervisor's value-typed entities: frames,
// tracks, candidates, tasks, and reports, independent of how they are
// produced or consumed.
package model

import (
	"time"

	"gocv.io/x/gocv"
)

// StreamDescriptor is the static description of one CCTV stream as
// declared in configuration or returned by the backend.
type StreamDescriptor struct {
	StreamID     string  `yaml:"stream_id" json:"stream_id"`
	SourceType   string  `yaml:"source_type" json:"source_type"` // image_sequence|video_file|live_http
	Path         string  `yaml:"path" json:"path,omitempty"`
	URL          string  `yaml:"url" json:"url,omitempty"`
	Lat          float64 `yaml:"lat" json:"lat"`
	Lon          float64 `yaml:"lon" json:"lon"`
	LocationName string  `yaml:"location_name" json:"location_name"`
	FPS          float64 `yaml:"fps" json:"fps,omitempty"`
	Loop         bool    `yaml:"loop" json:"loop,omitempty"`

	// CheckpointPath, when set on a file-backed source, persists the
	// session epoch and last served sequence across restarts.
	CheckpointPath string `yaml:"checkpoint_path" json:"checkpoint_path,omitempty"`
}

// Frame is an immutable image buffer plus the metadata the source adapter
// attaches to it.
// Mat is a gocv.Mat; callers that need to keep a Frame past the current
// pull loop iteration (e.g. to embed in a Candidate) must Clone() the Mat
// first, since the producer loop releases each frame's Mat once the
// tracker update for that frame is done.
type Frame struct {
	StreamID     string
	Seq          uint64
	SessionEpoch int
	CapturedAt   time.Time
	Mat          gocv.Mat
	Lat, Lon     float64
	LocationName string
}

// Clone returns a deep copy of the frame, safe to retain beyond the
// producer's next pull. Used when a candidate is built from a frame.
func (f Frame) Clone() Frame {
	clone := f
	if !f.Mat.Closed() {
		clone.Mat = f.Mat.Clone()
	}
	return clone
}

// Release frees the underlying image buffer. Safe to call on a zero Frame.
func (f Frame) Release() {
	if !f.Mat.Closed() {
		_ = f.Mat.Close()
	}
}
