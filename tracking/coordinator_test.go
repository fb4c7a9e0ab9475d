package tracking

import (
	"sync"
	"testing"

	"github.com/nilusink/trackfusion/protocol"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	payloads []protocol.DataPayload
}

func (r *recordingBroadcaster) EnqueueBroadcast(p protocol.DataPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func threeCameras() []protocol.SInfData {
	return []protocol.SInfData{
		{ID: 0, Position: [3]float64{10, 0, 0}, Direction: [3]float64{-1, 0, 0}, FOV: [2]float64{1, 1}, Resolution: [2]float64{1920, 1080}},
		{ID: 1, Position: [3]float64{-5, 8.66, 0}, Direction: [3]float64{0.5, -0.866, 0}, FOV: [2]float64{1, 1}, Resolution: [2]float64{1920, 1080}},
		{ID: 2, Position: [3]float64{-5, -8.66, 0}, Direction: [3]float64{0.5, 0.866, 0}, FOV: [2]float64{1, 1}, Resolution: [2]float64{1920, 1080}},
	}
}

func TestUpdateCamsOverwritesNotMerges(t *testing.T) {
	b := &recordingBroadcaster{}
	c := New(b, nil)

	c.UpdateCams(protocol.SInfData{ID: 5, Position: [3]float64{1, 1, 1}})
	c.UpdateCams(protocol.SInfData{ID: 5, Position: [3]float64{2, 2, 2}})

	snap := c.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected a single registry entry, got %d", len(snap))
	}
	if snap[0].Position != [3]float64{2, 2, 2} {
		t.Fatalf("expected overwrite to win, got %+v", snap[0])
	}
	if b.count() != 2 {
		t.Fatalf("expected 2 broadcasts (one per update_cams call), got %d", b.count())
	}
}

func TestUpdateTracksSkipsUnknownCameraAndNeedsTwoBearings(t *testing.T) {
	b := &recordingBroadcaster{}
	c := New(b, nil)

	for _, cam := range threeCameras() {
		c.UpdateCams(cam)
	}
	b.payloads = nil // reset after setup broadcasts

	c.UpdateTracks(protocol.TResData{
		TrackID: 1,
		CamAngles: []protocol.CamAngle{
			{CamID: 0, Direction: [2]float64{0, 0}},
			{CamID: 999, Direction: [2]float64{0, 0}},
		},
	})

	if b.count() != 0 {
		t.Fatalf("expected no broadcast with only one known-camera bearing, got %d", b.count())
	}
}

func TestUpdateTracksPublishesWithTwoBearings(t *testing.T) {
	b := &recordingBroadcaster{}
	c := New(b, nil)

	for _, cam := range threeCameras() {
		c.UpdateCams(cam)
	}
	b.payloads = nil

	c.UpdateTracks(protocol.TResData{
		TrackID: 1,
		CamAngles: []protocol.CamAngle{
			{CamID: 0, Direction: [2]float64{0, 0}},
			{CamID: 1, Direction: [2]float64{0, 0}},
		},
	})

	if b.count() != 1 {
		t.Fatalf("expected exactly one broadcast, got %d", b.count())
	}
	payload := b.payloads[0]
	if payload.Kind != protocol.KindTRes3 || payload.TRes3 == nil {
		t.Fatalf("expected a tres3 broadcast, got %+v", payload)
	}
	if payload.TRes3.TrackType != 0 {
		t.Fatalf("expected a brand new track to report type 0 (new), got %d", payload.TRes3.TrackType)
	}
}

func TestMatchPosTrackSingleSlotPolicy(t *testing.T) {
	b := &recordingBroadcaster{}
	c := New(b, nil)
	for _, cam := range threeCameras() {
		c.UpdateCams(cam)
	}
	b.payloads = nil

	angles := []protocol.CamAngle{
		{CamID: 0, Direction: [2]float64{0, 0}},
		{CamID: 1, Direction: [2]float64{0, 0}},
	}

	c.UpdateTracks(protocol.TResData{TrackID: 1, CamAngles: angles})
	c.UpdateTracks(protocol.TResData{TrackID: 2, CamAngles: angles})

	if len(c.tracks) != 1 {
		t.Fatalf("expected single-track-slot policy to keep exactly one track, got %d", len(c.tracks))
	}
	if c.tracks[0].ID() != 1 {
		t.Fatalf("expected the first track's id to persist regardless of later track ids, got %d", c.tracks[0].ID())
	}
	if c.tracks[0].Type() != TrackValid {
		t.Fatalf("expected track to be valid after a second update, got %d", c.tracks[0].Type())
	}
}
