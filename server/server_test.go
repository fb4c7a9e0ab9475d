package server

import (
	"net"
	"testing"
	"time"

	tfclient "github.com/nilusink/trackfusion/client"
	"github.com/nilusink/trackfusion/internal/workerpool"
	"github.com/nilusink/trackfusion/protocol"
)

type fakeRegistry struct{ snapshot []protocol.SInfData }

func (f *fakeRegistry) Snapshot() []protocol.SInfData { return f.snapshot }

func TestBroadcastFanOutToTwoClients(t *testing.T) {
	pool := workerpool.New(nil)

	registry := &fakeRegistry{snapshot: []protocol.SInfData{
		{ID: 1, Position: [3]float64{1, 2, 3}},
	}}
	srv := New("127.0.0.1:0", registry, pool, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Stop()

	received := make(chan protocol.SInfData, 8)
	onStation := func(s protocol.SInfData) { received <- s }

	c1 := tfclient.New(srv.Addr().String(), nil, onStation, pool, nil)
	c2 := tfclient.New(srv.Addr().String(), nil, onStation, pool, nil)
	if err := c1.Start(); err != nil {
		t.Fatalf("start client 1: %v", err)
	}
	if err := c2.Start(); err != nil {
		t.Fatalf("start client 2: %v", err)
	}
	defer c1.Stop()
	defer c2.Stop()

	// both clients should receive the replayed registry entry
	deadline := time.After(2 * time.Second)
	seen := 0
	for seen < 2 {
		select {
		case s := <-received:
			if s.ID != 1 {
				t.Fatalf("unexpected replayed station: %+v", s)
			}
			seen++
		case <-deadline:
			t.Fatalf("timed out waiting for registry replay, got %d/2", seen)
		}
	}

	// a client joins the roster only once the server has its replay ack,
	// which can land just after the callback above has fired.
	for srv.clientCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for both clients to join the roster")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// clients have no callback for tres3 (they nack it), so a station
	// broadcast queued behind it is what both must be seen to receive.
	srv.EnqueueBroadcast(protocol.NewTRes3Payload(protocol.TRes3Data{TrackID: 9}))
	srv.EnqueueBroadcast(protocol.NewSInfPayload(protocol.SInfData{ID: 2}))

	seen = 0
	for seen < 2 {
		select {
		case s := <-received:
			if s.ID != 2 {
				t.Fatalf("unexpected broadcast station: %+v", s)
			}
			seen++
		case <-deadline:
			t.Fatalf("timed out waiting for broadcast fan-out, got %d/2", seen)
		}
	}
}

func TestServerNacksMalformedFrameAndKeepsClientConnected(t *testing.T) {
	pool := workerpool.New(nil)
	srv := New("127.0.0.1:0", nil, pool, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial server: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"id":42,"typ`)); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	fr := protocol.NewFrameReader(conn)
	nackEnv, err := fr.ReadEnvelope()
	if err != nil {
		t.Fatalf("read nack: %v", err)
	}
	ack, ok := nackEnv.Payload.(protocol.AckData)
	if !ok || ack.Ack || ack.To != 42 {
		t.Fatalf("expected ack{to:42,ack:false}, got %+v", nackEnv.Payload)
	}

	// the per-client handler must still be alive: a well-formed ack
	// afterwards is read (and logged as unmatched, since nothing is
	// pending under 999) without the connection being torn down.
	env := protocol.NewAck(999, true)
	if err := protocol.WriteEnvelope(conn, env); err != nil {
		t.Fatalf("write follow-up ack: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if srv.clientCount() == 0 {
		t.Fatalf("expected client to remain in roster after malformed frame recovery")
	}
}

func TestClientReqSettlesWithServerNack(t *testing.T) {
	pool := workerpool.New(nil)
	srv := New("127.0.0.1:0", nil, pool, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Stop()

	c := tfclient.New(srv.Addr().String(), nil, nil, pool, nil)
	if err := c.Start(); err != nil {
		t.Fatalf("start client: %v", err)
	}
	defer c.Stop()

	fut, err := c.Send(protocol.ReqData{Req: "sinfo"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if fut == nil {
		t.Fatalf("expected a future for a req send")
	}

	// the server's dispatch rules nack any req it receives, so the
	// future should settle with a negative ack rather than a repl.
	if !fut.WaitUntilDone(time.Millisecond, time.Second) {
		t.Fatalf("expected future to settle")
	}
	reply, ok := fut.Reply()
	if !ok {
		t.Fatalf("expected a settled reply")
	}
	ack, ok := reply.Payload.(protocol.AckData)
	if !ok || ack.Ack {
		t.Fatalf("expected a negative ack, got %+v", reply.Payload)
	}
}
