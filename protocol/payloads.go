package protocol

// Type discriminates the four envelope shapes on the wire.
type Type string

const (
	TypeReq  Type = "req"
	TypeAck  Type = "ack"
	TypeRepl Type = "repl"
	TypeData Type = "data"
)

// DataKind discriminates the payloads a data envelope can carry. "tres"
// and "sinf" are the two upstream wire variants; "tres3" is the
// downstream 3D broadcast produced by the tracking coordinator,
// given its own discriminator rather than overloading "tres" with two
// incompatible CamAngle shapes (see DESIGN.md).
type DataKind string

const (
	KindTRes  DataKind = "tres"
	KindSInf  DataKind = "sinf"
	KindTRes3 DataKind = "tres3"
)

// CamAngle is a 2D bearing offset from a camera's bore sight, radians.
type CamAngle struct {
	CamID     int64      `json:"cam_id"`
	Direction [2]float64 `json:"direction"`
}

// TResData is an upstream tracking result: per-camera 2D angles for a track.
type TResData struct {
	TrackID   int64      `json:"track_id"`
	CamAngles []CamAngle `json:"cam_angles"`
}

// SInfData is a camera's station information: pose, field of view and
// resolution.
type SInfData struct {
	ID         int64      `json:"id"`
	Position   [3]float64 `json:"position"`
	Direction  [3]float64 `json:"direction"`
	FOV        [2]float64 `json:"fov"`
	Resolution [2]float64 `json:"resolution"`
}

// CamAngle3 is the 3D ray contributed by one camera to a solved track,
// carried in a TRes3Data broadcast so GUIs can draw the contributing rays.
type CamAngle3 struct {
	CamID     int64      `json:"cam_id"`
	Origin    [3]float64 `json:"origin"`
	Direction [3]float64 `json:"direction"`
}

// TRes3Data is the downstream broadcast: the solved 3D position plus the
// rays that produced it.
type TRes3Data struct {
	TrackID   int64       `json:"track_id"`
	TrackType int         `json:"track_type"`
	CamAngles []CamAngle3 `json:"cam_angles"`
	Position  [3]float64  `json:"position"`
}

// ReqData is a typed request key, e.g. "sinfo".
type ReqData struct {
	Req string `json:"req"`
}

// AckData positively or negatively acknowledges a prior message id.
type AckData struct {
	To  int64 `json:"to"`
	Ack bool  `json:"ack"`
}

// ReplData replies to a prior request with free-form keyed data.
type ReplData struct {
	To   int64          `json:"to"`
	Data map[string]any `json:"data"`
}

// DataPayload is the nested sum type carried by a data envelope: exactly
// one of TRes, SInf or TRes3 is set, selected by Kind.
type DataPayload struct {
	Kind  DataKind
	TRes  *TResData
	SInf  *SInfData
	TRes3 *TRes3Data
}

// NewTResPayload wraps a TResData as a DataPayload.
func NewTResPayload(d TResData) DataPayload { return DataPayload{Kind: KindTRes, TRes: &d} }

// NewSInfPayload wraps an SInfData as a DataPayload.
func NewSInfPayload(d SInfData) DataPayload { return DataPayload{Kind: KindSInf, SInf: &d} }

// NewTRes3Payload wraps a TRes3Data as a DataPayload.
func NewTRes3Payload(d TRes3Data) DataPayload { return DataPayload{Kind: KindTRes3, TRes3: &d} }
