package protocol

import (
	"encoding/binary"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
)

// idCounter backs NextID. The original scheme (floor(unix seconds) + MAC)
// collides whenever two messages are sent in the same second; that bug is
// not reproduced here. NextID instead XORs a monotonic per-process counter
// with a fixed per-process salt, keeping the original's "MAC-flavored
// int64 id" texture while guaranteeing that no two messages from one
// process ever collide.
var (
	idCounter int64
	idSalt    = deriveSalt()
)

// deriveSalt prefers the first interface with a real hardware address, the
// same source the original used; when none is available (containers,
// sandboxes, CI) it falls back to a random salt rather than failing to
// start.
func deriveSalt() int64 {
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if len(iface.HardwareAddr) >= 6 {
				mac := iface.HardwareAddr
				return int64(mac[0])<<40 | int64(mac[1])<<32 | int64(mac[2])<<24 |
					int64(mac[3])<<16 | int64(mac[4])<<8 | int64(mac[5])
			}
		}
	}
	u := uuid.New()
	return int64(binary.BigEndian.Uint32(u[:4]))
}

// NextID returns a process-unique 64-bit message id.
func NextID() int64 {
	return atomic.AddInt64(&idCounter, 1) ^ idSalt
}
