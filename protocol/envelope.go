package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the {type, id, time, data} wire message. Payload
// holds exactly one of ReqData, AckData, ReplData or DataPayload,
// selected by Type; MarshalJSON/UnmarshalJSON enforce that the payload
// shape always matches the discriminator. Only the payload variant
// selected by Type (and, for data, by Kind) is emitted; within a payload
// every field is written, zero values included, so unset fields are not
// suppressed.
type Envelope struct {
	Type    Type
	ID      int64
	Time    float64
	Payload any
}

// NewEnvelope stamps a fresh id and the current wall-clock time onto payload.
func NewEnvelope(t Type, payload any) Envelope {
	return Envelope{Type: t, ID: NextID(), Time: nowSeconds(), Payload: payload}
}

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// NewReq builds a req envelope carrying the given request key.
func NewReq(req string) Envelope { return NewEnvelope(TypeReq, ReqData{Req: req}) }

// NewAck builds an ack envelope acknowledging (or not) message id `to`.
func NewAck(to int64, ack bool) Envelope { return NewEnvelope(TypeAck, AckData{To: to, Ack: ack}) }

// NewRepl builds a repl envelope replying to message id `to`.
func NewRepl(to int64, data map[string]any) Envelope {
	return NewEnvelope(TypeRepl, ReplData{To: to, Data: data})
}

// NewData builds a data envelope wrapping payload.
func NewData(payload DataPayload) Envelope { return NewEnvelope(TypeData, payload) }

type envelopeWire struct {
	Type Type            `json:"type"`
	ID   int64           `json:"id"`
	Time float64         `json:"time"`
	Data json.RawMessage `json:"data"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	wire := envelopeWire{Type: e.Type, ID: e.ID, Time: e.Time}

	var (
		raw []byte
		err error
	)
	switch e.Type {
	case TypeReq:
		p, ok := e.Payload.(ReqData)
		if !ok {
			return nil, fmt.Errorf("protocol: req envelope holds %T, want ReqData", e.Payload)
		}
		raw, err = json.Marshal(p)

	case TypeAck:
		p, ok := e.Payload.(AckData)
		if !ok {
			return nil, fmt.Errorf("protocol: ack envelope holds %T, want AckData", e.Payload)
		}
		raw, err = json.Marshal(p)

	case TypeRepl:
		p, ok := e.Payload.(ReplData)
		if !ok {
			return nil, fmt.Errorf("protocol: repl envelope holds %T, want ReplData", e.Payload)
		}
		raw, err = json.Marshal(p)

	case TypeData:
		p, ok := e.Payload.(DataPayload)
		if !ok {
			return nil, fmt.Errorf("protocol: data envelope holds %T, want DataPayload", e.Payload)
		}
		raw, err = marshalDataPayload(p)

	default:
		return nil, fmt.Errorf("protocol: unknown envelope type %q", e.Type)
	}
	if err != nil {
		return nil, err
	}
	wire.Data = raw
	return json.Marshal(wire)
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var wire envelopeWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return fmt.Errorf("protocol: decode envelope: %w", err)
	}

	e.Type = wire.Type
	e.ID = wire.ID
	e.Time = wire.Time

	switch wire.Type {
	case TypeReq:
		var p ReqData
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return fmt.Errorf("protocol: req data does not match shape: %w", err)
		}
		e.Payload = p

	case TypeAck:
		var p AckData
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return fmt.Errorf("protocol: ack data does not match shape: %w", err)
		}
		e.Payload = p

	case TypeRepl:
		var p ReplData
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return fmt.Errorf("protocol: repl data does not match shape: %w", err)
		}
		e.Payload = p

	case TypeData:
		p, err := unmarshalDataPayload(wire.Data)
		if err != nil {
			return err
		}
		e.Payload = p

	default:
		return fmt.Errorf("protocol: unknown envelope type %q", wire.Type)
	}
	return nil
}

type dataPayloadWire struct {
	Type DataKind        `json:"type"`
	Data json.RawMessage `json:"data"`
}

func marshalDataPayload(p DataPayload) ([]byte, error) {
	switch p.Kind {
	case KindTRes:
		if p.TRes == nil {
			return nil, fmt.Errorf("protocol: tres payload missing data")
		}
		inner, err := json.Marshal(p.TRes)
		if err != nil {
			return nil, err
		}
		return json.Marshal(dataPayloadWire{Type: KindTRes, Data: inner})

	case KindSInf:
		if p.SInf == nil {
			return nil, fmt.Errorf("protocol: sinf payload missing data")
		}
		inner, err := json.Marshal(p.SInf)
		if err != nil {
			return nil, err
		}
		return json.Marshal(dataPayloadWire{Type: KindSInf, Data: inner})

	case KindTRes3:
		if p.TRes3 == nil {
			return nil, fmt.Errorf("protocol: tres3 payload missing data")
		}
		inner, err := json.Marshal(p.TRes3)
		if err != nil {
			return nil, err
		}
		return json.Marshal(dataPayloadWire{Type: KindTRes3, Data: inner})

	default:
		return nil, fmt.Errorf("protocol: unknown data kind %q", p.Kind)
	}
}

func unmarshalDataPayload(raw json.RawMessage) (DataPayload, error) {
	var wire dataPayloadWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return DataPayload{}, fmt.Errorf("protocol: decode data envelope: %w", err)
	}

	switch wire.Type {
	case KindTRes:
		var d TResData
		if err := json.Unmarshal(wire.Data, &d); err != nil {
			return DataPayload{}, fmt.Errorf("protocol: tres data does not match shape: %w", err)
		}
		return NewTResPayload(d), nil

	case KindSInf:
		var d SInfData
		if err := json.Unmarshal(wire.Data, &d); err != nil {
			return DataPayload{}, fmt.Errorf("protocol: sinf data does not match shape: %w", err)
		}
		return NewSInfPayload(d), nil

	case KindTRes3:
		var d TRes3Data
		if err := json.Unmarshal(wire.Data, &d); err != nil {
			return DataPayload{}, fmt.Errorf("protocol: tres3 data does not match shape: %w", err)
		}
		return NewTRes3Payload(d), nil

	default:
		return DataPayload{}, fmt.Errorf("protocol: unknown data kind %q", wire.Type)
	}
}
