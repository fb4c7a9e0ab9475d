// Package server is the inbound + broadcast data endpoint: accepts
// client connections, replays known station information to each new
// client before adding it to the roster, and flushes a queue of
// broadcast payloads to every roster entry. It is the Go rendering of
// the original's DataServer.
package server

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

const (
	acceptTimeout    = 200 * time.Millisecond
	replicaAckGrace  = 200 * time.Millisecond
	broadcastAckWait = 200 * time.Millisecond
	broadcastPoll    = time.Millisecond
	idlePoll         = 10 * time.Millisecond
)

// RegistrySnapshotter supplies the station-information backlog replayed
// to a newly connected client. The tracking coordinator implements it.
type RegistrySnapshotter interface {
	Snapshot() []protocol.SInfData
}

type client struct {
	conn net.Conn
}

// Server is the broadcast/inbound endpoint every GUI or downstream
// consumer connects to.
type Server struct {
	addr     string
	registry RegistrySnapshotter

	pool *workerpool.Pool
	log  *telemetry.Logger

	ln      net.Listener
	running atomic.Bool

	clientsMu sync.Mutex
	clients   []*client

	pendingMu sync.Mutex
	pending   map[int64]*protocol.Future

	updatesMu sync.Mutex
	updates   []protocol.DataPayload
}

// New builds a Server bound to addr once Start is called. registry may be
// nil and set later with SetRegistry, since the tracking coordinator that
// usually supplies it is itself constructed with this Server as its
// Broadcaster.
func New(addr string, registry RegistrySnapshotter, pool *workerpool.Pool, log *telemetry.Logger) *Server {
	if log == nil {
		log = telemetry.Default
	}
	return &Server{
		addr:     addr,
		registry: registry,
		pool:     pool,
		log:      log,
		pending:  make(map[int64]*protocol.Future),
	}
}

// SetRegistry wires the camera-registry snapshotter used to replay
// station information to newly connected clients.
func (s *Server) SetRegistry(registry RegistrySnapshotter) { s.registry = registry }

// Start binds, listens, and spawns the accept and broadcast loops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.running.Store(true)

	s.pool.SubmitNamed("server.acceptLoop", s.acceptLoop)
	s.pool.SubmitNamed("server.broadcastLoop", s.broadcastLoop)

	s.log.Infof("server: listening on %s", s.addr)
	return nil
}

// Addr returns the listener's bound address, useful when Start was
// called with a ":0" port.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop flips the running flag and closes the listener, which unblocks
// the accept loop on its next iteration.
func (s *Server) Stop() {
	s.running.Store(false)
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.log.Infof("server: stopped")
}

// EnqueueBroadcast appends payload to the broadcast FIFO; implements
// tracking.Broadcaster.
func (s *Server) EnqueueBroadcast(payload protocol.DataPayload) {
	s.updatesMu.Lock()
	s.updates = append(s.updates, payload)
	depth := len(s.updates)
	s.updatesMu.Unlock()
	telemetry.BroadcastQueueDepth.Set(float64(depth))
}

func (s *Server) acceptLoop() error {
	for s.running.Load() {
		if tl, ok := s.ln.(interface{ SetDeadline(time.Time) error }); ok {
			_ = tl.SetDeadline(time.Now().Add(acceptTimeout))
		}
		conn, err := s.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !s.running.Load() {
				return nil
			}
			s.log.Errorf("server: fatal accept error: %v", err)
			s.Stop()
			return nil
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAlive(true)
		}
		s.pool.SubmitNamed("server.handleClient", func() error {
			s.handleClient(conn)
			return nil
		})
	}
	return nil
}

// handleClient replays the camera registry backlog before adding the
// client to the roster, then runs its receive loop until an I/O error
// evicts it.
func (s *Server) handleClient(conn net.Conn) {
	s.log.Infof("server: client %s connected", conn.RemoteAddr())

	cl := &client{conn: conn}
	s.replayRegistry(cl)

	s.clientsMu.Lock()
	s.clients = append(s.clients, cl)
	s.clientsMu.Unlock()
	telemetry.ConnectedClients.Set(float64(s.clientCount()))

	fr := protocol.NewFrameReader(conn)
	for s.running.Load() {
		_ = conn.SetReadDeadline(time.Now().Add(acceptTimeout))

		env, err := fr.ReadEnvelope()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			var decErr *protocol.DecodeError
			if errors.As(err, &decErr) {
				s.nackMalformed(decErr.Raw, cl)
				continue
			}
			s.evict(cl)
			_ = conn.Close()
			return
		}

		telemetry.MessagesReceived.WithLabelValues("server", string(env.Type)).Inc()
		s.handleMessage(env, cl)
	}
	_ = conn.Close()
}

func (s *Server) replayRegistry(cl *client) {
	if s.registry == nil {
		return
	}
	for _, sinf := range s.registry.Snapshot() {
		fut, err := s.send(protocol.NewSInfPayload(sinf), cl)
		if err != nil {
			s.log.Warnf("server: replay to %s failed: %v", cl.conn.RemoteAddr(), err)
			continue
		}
		fut.WaitUntilDone(broadcastPoll, replicaAckGrace)
	}
}

func (s *Server) evict(cl *client) {
	s.clientsMu.Lock()
	for i, c := range s.clients {
		if c == cl {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			break
		}
	}
	s.clientsMu.Unlock()
	telemetry.ConnectedClients.Set(float64(s.clientCount()))
}

func (s *Server) clientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// handleMessage implements the server's dispatch rules: it expects only
// acks; anything else is nacked.
func (s *Server) handleMessage(env protocol.Envelope, cl *client) {
	switch env.Type {
	case protocol.TypeAck:
		ack, ok := env.Payload.(protocol.AckData)
		if ok {
			s.tryMatchReply(ack.To, env)
		}
		return

	default:
		s.nack(env.ID, cl, "protocol-misuse")
	}
}

func (s *Server) tryMatchReply(to int64, reply protocol.Envelope) {
	s.pendingMu.Lock()
	fut, ok := s.pending[to]
	if ok {
		delete(s.pending, to)
	}
	s.pendingMu.Unlock()

	if !ok {
		s.log.Warnf("server: unable to match reply to %d", to)
		return
	}
	fut.Settle(reply)
	telemetry.PendingReplies.WithLabelValues("server").Set(float64(s.pendingCount()))
}

func (s *Server) pendingCount() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// nackMalformed recovers from a malformed payload on the server side:
// best-effort extract the sender's id from the raw frame and NACK it,
// falling back to id -1 when nothing can be recovered.
func (s *Server) nackMalformed(raw []byte, cl *client) {
	id, ok := protocol.ExtractID(raw)
	if !ok {
		id = -1
	}
	s.log.Warnf("server: malformed frame from %s, nacking id %d", cl.conn.RemoteAddr(), id)
	s.nack(id, cl, "malformed")
}

func (s *Server) nack(to int64, cl *client, reason string) {
	env := protocol.NewAck(to, false)
	if err := protocol.WriteEnvelope(cl.conn, env); err != nil {
		s.log.Warnf("server: failed to send nack: %v", err)
		return
	}
	telemetry.NacksSent.WithLabelValues("server", reason).Inc()
	telemetry.MessagesSent.WithLabelValues("server", string(env.Type)).Inc()
}

// send writes payload to a single client under a fresh envelope id and
// registers a pending future for the ack/repl that should follow.
func (s *Server) send(payload protocol.DataPayload, cl *client) (*protocol.Future, error) {
	env := protocol.NewData(payload)
	fut := protocol.NewFuture(env)

	s.pendingMu.Lock()
	s.pending[env.ID] = fut
	s.pendingMu.Unlock()
	telemetry.PendingReplies.WithLabelValues("server").Set(float64(s.pendingCount()))

	if err := protocol.WriteEnvelope(cl.conn, env); err != nil {
		s.pendingMu.Lock()
		delete(s.pending, env.ID)
		s.pendingMu.Unlock()
		telemetry.PendingReplies.WithLabelValues("server").Set(float64(s.pendingCount()))
		return nil, err
	}
	telemetry.MessagesSent.WithLabelValues("server", string(env.Type)).Inc()
	return fut, nil
}

// broadcastLoop drains pending_updates and fans each payload out to
// every roster entry, waiting briefly per-send for an ack.
func (s *Server) broadcastLoop() error {
	for s.running.Load() {
		s.updatesMu.Lock()
		if len(s.updates) == 0 {
			s.updatesMu.Unlock()
			time.Sleep(idlePoll)
			continue
		}
		batch := s.updates
		s.updates = nil
		s.updatesMu.Unlock()
		telemetry.BroadcastQueueDepth.Set(0)

		for _, payload := range batch {
			s.flushOne(payload)
		}
	}
	return nil
}

func (s *Server) flushOne(payload protocol.DataPayload) {
	_, span := telemetry.StartSpan(context.Background(), "server.broadcast_flush")
	defer span.End()

	s.clientsMu.Lock()
	snapshot := make([]*client, len(s.clients))
	copy(snapshot, s.clients)
	s.clientsMu.Unlock()

	futures := make([]*protocol.Future, 0, len(snapshot))
	for _, cl := range snapshot {
		fut, err := s.send(payload, cl)
		if err != nil {
			s.log.Warnf("server: broadcast send to %s failed: %v", cl.conn.RemoteAddr(), err)
			continue
		}
		futures = append(futures, fut)
	}

	for _, fut := range futures {
		if !fut.WaitUntilDone(broadcastPoll, broadcastAckWait) {
			s.log.Warnf("server: broadcast ack timed out for message %d", fut.OriginMessage().ID)
			telemetry.BroadcastAckTimeouts.WithLabelValues().Inc()
		}
	}
}
