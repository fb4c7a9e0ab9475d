package tracking

import (
	"time"

	"github.com/nilusink/trackfusion/internal/geometry"
)

// trackType mirrors the original's plain -1/0/1 integer convention:
// degraded, new, or valid.
type trackType int

const (
	TrackDegraded trackType = -1
	TrackNew      trackType = 0
	TrackValid    trackType = 1
)

// positionSample is one entry of a Track's position history: a
// monotonic timestamp paired with the solved position at that time.
type positionSample struct {
	at       time.Time
	position geometry.Vec3
}

// Track is a single tracked object: an id, an append-only position
// history (newest last) and a lifecycle type. A Track always holds at
// least its creation point.
type Track struct {
	id      int64
	history []positionSample
	kind    trackType
}

// NewTrack creates a track at its first observed position.
func NewTrack(id int64, initial geometry.Vec3) *Track {
	return &Track{
		id:      id,
		history: []positionSample{{at: time.Now(), position: initial}},
		kind:    TrackNew,
	}
}

// ID returns the track's identifier.
func (t *Track) ID() int64 { return t.id }

// Position returns the most recently appended position.
func (t *Track) Position() geometry.Vec3 { return t.history[len(t.history)-1].position }

// Type returns the track's current lifecycle state.
func (t *Track) Type() trackType { return t.kind }

// UpdatePosition appends a new position sample and promotes the track to
// valid, matching the original's update_position (always sets type=1
// once any update lands).
func (t *Track) UpdatePosition(p geometry.Vec3) {
	t.history = append(t.history, positionSample{at: time.Now(), position: p})
	t.kind = TrackValid
}
