package client

import (
	"net"
	"testing"
	"time"

	"github.com/nilusink/trackfusion/internal/workerpool"
	"github.com/nilusink/trackfusion/protocol"
)

// withPipedClient starts a Client over a net.Pipe and hands the test the
// "server" side of the pipe to script inbound messages by hand.
func withPipedClient(t *testing.T, onTrack TrackCallback, onStation StationCallback) (*Client, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	pool := workerpool.New(nil)
	c := New("unused", onTrack, onStation, pool, nil)
	c.conn = clientSide
	c.running.Store(true)
	pool.SubmitNamed("test.receiveLoop", c.receiveLoop)

	return c, serverSide
}

func TestClientForwardsTResAndAcksTrue(t *testing.T) {
	var got protocol.TResData
	done := make(chan struct{})
	onTrack := func(d protocol.TResData) { got = d; close(done) }

	c, srv := withPipedClient(t, onTrack, nil)
	defer c.Stop()

	env := protocol.NewData(protocol.NewTResPayload(protocol.TResData{TrackID: 11}))
	if err := protocol.WriteEnvelope(srv, env); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for track callback")
	}
	if got.TrackID != 11 {
		t.Fatalf("unexpected track id: %d", got.TrackID)
	}

	fr := protocol.NewFrameReader(srv)
	ackEnv, err := fr.ReadEnvelope()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	ack, ok := ackEnv.Payload.(protocol.AckData)
	if !ok || !ack.Ack || ack.To != env.ID {
		t.Fatalf("expected positive ack to %d, got %+v", env.ID, ackEnv.Payload)
	}
}

func TestClientNacksMalformedFrameAndKeepsReading(t *testing.T) {
	c, srv := withPipedClient(t, nil, nil)
	defer c.Stop()

	if _, err := srv.Write([]byte(`{"id":42,"typ`)); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	fr := protocol.NewFrameReader(srv)
	ackEnv, err := fr.ReadEnvelope()
	if err != nil {
		t.Fatalf("read nack: %v", err)
	}
	ack, ok := ackEnv.Payload.(protocol.AckData)
	if !ok || ack.Ack || ack.To != 42 {
		t.Fatalf("expected ack{to:42,ack:false}, got %+v", ackEnv.Payload)
	}

	// the receive loop must still be alive afterwards.
	env := protocol.NewData(protocol.NewTResPayload(protocol.TResData{TrackID: 3}))
	if err := protocol.WriteEnvelope(srv, env); err != nil {
		t.Fatalf("write follow-up: %v", err)
	}
	followUp, err := fr.ReadEnvelope()
	if err != nil {
		t.Fatalf("read follow-up ack: %v", err)
	}
	fAck, ok := followUp.Payload.(protocol.AckData)
	if !ok || !fAck.Ack || fAck.To != env.ID {
		t.Fatalf("expected positive ack after recovering from malformed frame, got %+v", followUp.Payload)
	}
}

func TestClientSettlesReplyAndAcksIt(t *testing.T) {
	c, srv := withPipedClient(t, nil, nil)
	defer c.Stop()

	origin := protocol.NewReq("sinfo")
	fut := protocol.NewFuture(origin)
	c.mu.Lock()
	c.pending[origin.ID] = fut
	c.mu.Unlock()

	reply := protocol.NewRepl(origin.ID, map[string]any{"hello": "world"})
	if err := protocol.WriteEnvelope(srv, reply); err != nil {
		t.Fatalf("write: %v", err)
	}

	if !fut.WaitUntilDone(time.Millisecond, time.Second) {
		t.Fatalf("expected future to settle from repl")
	}

	fr := protocol.NewFrameReader(srv)
	ackEnv, err := fr.ReadEnvelope()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	ack, ok := ackEnv.Payload.(protocol.AckData)
	if !ok || !ack.Ack || ack.To != reply.ID {
		t.Fatalf("expected client to ack(true) the repl, got %+v", ackEnv.Payload)
	}
}
