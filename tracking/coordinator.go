// Package tracking administers the camera registry and tracks, converting
// 2D camera bearings into 3D rays, triangulating them, and publishing the
// results — the Go rendering of the original's TrackingMaster, expanded
// to also own the camera registry and broadcast enqueueing that the
// original left to its GUI-facing layer.
package tracking

import (
	"context"
	"sync"

	"github.com/nilusink/trackfusion/internal/geometry"
	"github.com/nilusink/trackfusion/internal/telemetry"
	"github.com/nilusink/trackfusion/protocol"
	"github.com/nilusink/trackfusion/solver"
)

// rayLength is the magnitude used when reconstructing a camera's 3D
// bearing from its bore sight plus an offset, matching the original's
// choice of 100. It is arbitrary: the solver only cares about direction,
// not length, since the projection in squaredDistance normalizes by d·d.
const rayLength = 100.0

// Broadcaster is the sink the coordinator enqueues outbound data
// payloads to. The server endpoint implements it.
type Broadcaster interface {
	EnqueueBroadcast(protocol.DataPayload)
}

// Coordinator owns the camera registry and the track list, and is the
// only writer of either.
type Coordinator struct {
	mu      sync.Mutex
	cameras map[int64]protocol.SInfData
	tracks  []*Track

	broadcaster Broadcaster
	log         *telemetry.Logger
}

// New builds a Coordinator that enqueues outbound broadcasts on b.
func New(b Broadcaster, log *telemetry.Logger) *Coordinator {
	if log == nil {
		log = telemetry.Default
	}
	return &Coordinator{
		cameras:     make(map[int64]protocol.SInfData),
		broadcaster: b,
		log:         log,
	}
}

// Snapshot returns the current camera registry as a slice, used by the
// server to replay station information to a newly connected client
// before that client joins the broadcast roster. Insertion order is not
// preserved; none is required.
func (c *Coordinator) Snapshot() []protocol.SInfData {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.SInfData, 0, len(c.cameras))
	for _, s := range c.cameras {
		out = append(out, s)
	}
	return out
}

// UpdateCams upserts sinf into the registry (overwrite, never merge)
// and enqueues a broadcast of it.
func (c *Coordinator) UpdateCams(sinf protocol.SInfData) {
	c.mu.Lock()
	c.cameras[sinf.ID] = sinf
	c.mu.Unlock()

	c.log.Debugf("tracking: camera %d updated", sinf.ID)
	if c.broadcaster != nil {
		c.broadcaster.EnqueueBroadcast(protocol.NewSInfPayload(sinf))
	}
}

// UpdateTracks converts every camera angle in tres whose camera is known
// into a world-space ray, triangulates the surviving rays, and on
// success matches the result to a track and enqueues a TRes3Data
// broadcast.
func (c *Coordinator) UpdateTracks(tres protocol.TResData) {
	_, span := telemetry.StartSpan(context.Background(), "tracking.update_tracks")
	defer span.End()

	rays := make([]solver.CameraResult, 0, len(tres.CamAngles))
	angles3 := make([]protocol.CamAngle3, 0, len(tres.CamAngles))

	c.mu.Lock()
	for _, ca := range tres.CamAngles {
		sinf, ok := c.cameras[ca.CamID]
		if !ok {
			c.log.Warnf("tracking: unknown camera %d, skipping bearing", ca.CamID)
			continue
		}
		result := cameraBearing(sinf, ca)
		rays = append(rays, result)
		angles3 = append(angles3, protocol.CamAngle3{
			CamID:     ca.CamID,
			Origin:    vecToArray(result.Origin),
			Direction: vecToArray(result.Direction),
		})
	}
	c.mu.Unlock()

	if len(rays) < 2 {
		c.log.Warnf("tracking: only %d usable bearings for track %d, skipping", len(rays), tres.TrackID)
		telemetry.SolverCalls.WithLabelValues("skipped").Inc()
		return
	}

	res, err := solver.Solve(rays...)
	if err != nil {
		c.log.Errorf("tracking: solve failed for track %d: %v", tres.TrackID, err)
		telemetry.SolverCalls.WithLabelValues("failure").Inc()
		return
	}
	telemetry.SolverCalls.WithLabelValues("success").Inc()

	kind := c.matchPosTrack(res.Position, tres.TrackID)

	if c.broadcaster != nil {
		c.broadcaster.EnqueueBroadcast(protocol.NewTRes3Payload(protocol.TRes3Data{
			TrackID:   tres.TrackID,
			TrackType: int(kind),
			CamAngles: angles3,
			Position:  vecToArray(res.Position),
		}))
	}
}

// matchPosTrack matches a solved position to a track. It deliberately
// preserves the original's single-track-slot behavior: regardless of
// trackID, the first (and only ever meaningfully used) track slot is
// created or updated. This is a known limitation, documented rather
// than silently fixed (see DESIGN.md).
func (c *Coordinator) matchPosTrack(pos geometry.Vec3, trackID int64) trackType {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.tracks) == 0 {
		t := NewTrack(trackID, pos)
		c.tracks = append(c.tracks, t)
		c.log.Infof("tracking: new track %d at %v", t.ID(), pos)
		return t.Type()
	}

	c.tracks[0].UpdatePosition(pos)
	return c.tracks[0].Type()
}

// cameraBearing composes a camera's bore sight with a 2D offset into a
// world-space ray.
func cameraBearing(sinf protocol.SInfData, ca protocol.CamAngle) solver.CameraResult {
	origin := geometry.FromCartesian(sinf.Position[0], sinf.Position[1], sinf.Position[2])
	bore := geometry.FromCartesian(sinf.Direction[0], sinf.Direction[1], sinf.Direction[2]).Normalize()

	azimuth := bore.AngleXY() + ca.Direction[0]
	elevation := bore.AngleXZ() + ca.Direction[1]

	direction := geometry.FromPolar(azimuth, elevation, rayLength)
	return solver.CameraResult{Origin: origin, Direction: direction}
}

func vecToArray(v geometry.Vec3) [3]float64 {
	x, y, z := v.XYZ()
	return [3]float64{x, y, z}
}
