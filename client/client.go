// Package client is the outbound data endpoint: connects once to a
// server, maintains pending-reply futures for its own requests, and
// dispatches inbound envelopes to application callbacks. It is the Go
// rendering of the original's DataClient.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nilusink/trackfusion/internal/telemetry"
	"github.com/nilusink/trackfusion/internal/workerpool"
	"github.com/nilusink/trackfusion/protocol"
)

// readTimeout bounds a single frame read so the receive loop can observe
// Stop() promptly even with no traffic.
const readTimeout = 200 * time.Millisecond

// TrackCallback receives an upstream tracking result (data/tres).
type TrackCallback func(protocol.TResData)

// StationCallback receives upstream station information (data/sinf).
type StationCallback func(protocol.SInfData)

// Client is the outbound endpoint a camera process uses to talk to a
// DataServer: it sends requests and (optionally, via broadcasts it
// receives as "data" envelopes) observes track/station updates.
type Client struct {
	addr string

	onTrack   TrackCallback
	onStation StationCallback

	pool *workerpool.Pool
	log  *telemetry.Logger

	conn    net.Conn
	running atomic.Bool

	mu      sync.Mutex
	pending map[int64]*protocol.Future
}

// New builds a Client pointed at addr. Callbacks may be nil if the
// caller does not care about that message kind.
func New(addr string, onTrack TrackCallback, onStation StationCallback, pool *workerpool.Pool, log *telemetry.Logger) *Client {
	if log == nil {
		log = telemetry.Default
	}
	return &Client{
		addr:      addr,
		onTrack:   onTrack,
		onStation: onStation,
		pool:      pool,
		log:       log,
		pending:   make(map[int64]*protocol.Future),
	}
}

// Start connects to the server and spawns the receive loop on the pool.
func (c *Client) Start() error {
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.running.Store(true)

	c.pool.SubmitNamed("client.receiveLoop", c.receiveLoop)
	c.log.Infof("client: connected to %s", c.addr)
	return nil
}

// Send serializes and writes payload under a fresh envelope id. For a
// req payload it allocates and registers a pending future and returns
// it; other payload kinds return nil.
func (c *Client) Send(payload any) (*protocol.Future, error) {
	_, span := telemetry.StartSpan(context.Background(), "client.send")
	defer span.End()

	var env protocol.Envelope
	var fut *protocol.Future

	switch p := payload.(type) {
	case protocol.ReqData:
		env = protocol.NewEnvelope(protocol.TypeReq, p)
		fut = protocol.NewFuture(env)
		c.mu.Lock()
		c.pending[env.ID] = fut
		c.mu.Unlock()
		telemetry.PendingReplies.WithLabelValues("client").Set(float64(c.pendingCount()))

	case protocol.DataPayload:
		env = protocol.NewData(p)

	default:
		return nil, fmt.Errorf("client: unsupported payload type %T", payload)
	}

	if err := protocol.WriteEnvelope(c.conn, env); err != nil {
		if fut != nil {
			c.mu.Lock()
			delete(c.pending, env.ID)
			c.mu.Unlock()
			telemetry.PendingReplies.WithLabelValues("client").Set(float64(c.pendingCount()))
		}
		return nil, fmt.Errorf("client: write: %w", err)
	}
	telemetry.MessagesSent.WithLabelValues("client", string(env.Type)).Inc()
	return fut, nil
}

func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop tells the receive loop to exit and closes the socket.
func (c *Client) Stop() {
	c.running.Store(false)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.log.Infof("client: stopped")
}

func (c *Client) receiveLoop() error {
	fr := protocol.NewFrameReader(c.conn)
	for c.running.Load() {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		env, err := fr.ReadEnvelope()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			var decErr *protocol.DecodeError
			if errors.As(err, &decErr) {
				c.nackMalformed(decErr.Raw)
				continue
			}
			c.log.Warnf("client: receive loop exiting: %v", err)
			c.running.Store(false)
			return nil
		}

		telemetry.MessagesReceived.WithLabelValues("client", string(env.Type)).Inc()
		c.handleMessage(env)
	}
	return nil
}

func (c *Client) handleMessage(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeReq:
		c.log.Warnf("client: received unsolicited req, ignoring")

	case protocol.TypeAck:
		ack, ok := env.Payload.(protocol.AckData)
		if !ok {
			return
		}
		c.settle(ack.To, env)

	case protocol.TypeRepl:
		repl, ok := env.Payload.(protocol.ReplData)
		if !ok {
			return
		}
		c.settle(repl.To, env)
		c.ack(env.ID, true)

	case protocol.TypeData:
		payload, ok := env.Payload.(protocol.DataPayload)
		if !ok {
			return
		}
		c.handleData(env.ID, payload)

	default:
		c.ack(env.ID, false)
	}
}

func (c *Client) handleData(id int64, payload protocol.DataPayload) {
	switch payload.Kind {
	case protocol.KindTRes:
		if c.onTrack != nil && payload.TRes != nil {
			d := *payload.TRes
			c.pool.Submit(func() { c.onTrack(d) })
		}
		c.ack(id, true)

	case protocol.KindSInf:
		if c.onStation != nil && payload.SInf != nil {
			d := *payload.SInf
			c.pool.Submit(func() { c.onStation(d) })
		}
		c.ack(id, true)

	default:
		c.ack(id, false)
	}
}

func (c *Client) settle(to int64, reply protocol.Envelope) {
	c.mu.Lock()
	fut, ok := c.pending[to]
	if ok {
		delete(c.pending, to)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Warnf("client: unable to match reply to %d", to)
		return
	}
	fut.Settle(reply)
	telemetry.PendingReplies.WithLabelValues("client").Set(float64(c.pendingCount()))
}

// nackMalformed recovers from a malformed payload: best-effort extract
// the sender's id from the raw frame and NACK it, falling back to id -1
// when no id can be recovered at all.
func (c *Client) nackMalformed(raw []byte) {
	id, ok := protocol.ExtractID(raw)
	if !ok {
		id = -1
	}
	c.log.Warnf("client: malformed frame, nacking id %d", id)
	c.ack(id, false)
}

func (c *Client) ack(to int64, ok bool) {
	env := protocol.NewAck(to, ok)
	if err := protocol.WriteEnvelope(c.conn, env); err != nil {
		c.log.Warnf("client: failed to send ack: %v", err)
		return
	}
	if !ok {
		telemetry.NacksSent.WithLabelValues("client", "dispatch").Inc()
	}
	telemetry.MessagesSent.WithLabelValues("client", string(env.Type)).Inc()
}
