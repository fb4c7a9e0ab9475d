package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// RecvChunkSize is the per-read buffer size the original uses for its
// socket.recv(1024) calls. trackfusion keeps the same chunk size but
// accumulates chunks and retries the JSON parse after each read, so a
// payload spanning more than one 1024-byte read is never truncated.
const RecvChunkSize = 1024

// MaxFrameSize bounds the accumulation buffer to guard an endpoint
// against a peer that streams bytes without ever completing a JSON
// object; it has no equivalent in the original and exists purely as a
// robustness backstop (see DESIGN.md).
const MaxFrameSize = 16 * 1024

// FrameReader reads bare JSON envelopes off a TCP connection. There is
// no delimiter on the wire (peers write one json.encode() per send, as
// the original's dummy_server.py does): the reader accumulates
// RecvChunkSize reads into a buffer and attempts a parse after each,
// treating a truncated object as "need more data". Back-to-back
// messages coalesced into one segment are split apart by the decoder's
// consumed-byte offset.
type FrameReader struct {
	conn    net.Conn
	buf     []byte
	scratch [RecvChunkSize]byte
}

// NewFrameReader wraps conn for frame-oriented reads.
func NewFrameReader(conn net.Conn) *FrameReader {
	return &FrameReader{conn: conn}
}

// DecodeError wraps a frame that failed schema/decode validation. It is
// distinct from an I/O error: callers must treat it as recoverable —
// extract a best-effort id from Raw, send a negative ack, and keep
// reading — rather than tearing the connection down the way a
// transport-fatal error would.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: malformed frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ReadEnvelope blocks until a complete JSON object has accumulated and
// decodes it. A transport error (including io.EOF on peer close) is
// returned verbatim. A complete object that fails to decode against the
// message schema — or a truncated one the peer has gone idle on, which
// is the closest a delimiter-less wire gets to "this was the whole
// message" — is returned as a *DecodeError carrying the raw bytes, so
// the caller can recover via ExtractID + NACK instead of dropping the
// connection.
func (fr *FrameReader) ReadEnvelope() (Envelope, error) {
	for {
		if len(fr.buf) > 0 {
			frame, n, err := nextObject(fr.buf)
			switch {
			case err == nil:
				fr.buf = fr.buf[n:]
				var env Envelope
				if decErr := json.Unmarshal(frame, &env); decErr != nil {
					return Envelope{}, &DecodeError{Raw: frame, Err: decErr}
				}
				return env, nil

			case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF):
				// truncated object, keep accumulating

			default:
				bad := fr.buf
				fr.buf = nil
				return Envelope{}, &DecodeError{Raw: bad, Err: err}
			}
		}

		if len(fr.buf) > MaxFrameSize {
			fr.buf = nil
			return Envelope{}, fmt.Errorf("protocol: frame exceeds %d bytes", MaxFrameSize)
		}

		n, err := fr.conn.Read(fr.scratch[:])
		if n > 0 {
			fr.buf = append(fr.buf, fr.scratch[:n]...)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && len(fr.buf) > 0 {
				// the peer went idle mid-object: what we have is all
				// there is, and it does not parse. Surrender it as one
				// malformed message, the way the original's per-recv
				// json.loads would have.
				bad := fr.buf
				fr.buf = nil
				return Envelope{}, &DecodeError{Raw: bad, Err: io.ErrUnexpectedEOF}
			}
			return Envelope{}, err
		}
	}
}

// nextObject decodes the first JSON value from buf, returning its raw
// bytes and how many bytes of buf it consumed. io.EOF /
// io.ErrUnexpectedEOF mean buf holds only a prefix of an object.
func nextObject(buf []byte) (json.RawMessage, int64, error) {
	dec := json.NewDecoder(bytes.NewReader(buf))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, 0, err
	}
	return raw, dec.InputOffset(), nil
}

// WriteEnvelope encodes env and writes it as one bare JSON object per
// send, matching the original's one-message-per-send convention.
func WriteEnvelope(conn net.Conn, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = conn.Write(b)
	return err
}

// ExtractID best-effort recovers the "id" field from a raw frame that
// failed full envelope decoding, so the receiver can still NACK the
// right message id instead of letting the malformed payload vanish
// silently. It tries gjson first since it tolerates any amount of
// otherwise-invalid surrounding shape, then falls back to a manual
// substring scan for frames that are not even valid JSON.
func ExtractID(raw []byte) (int64, bool) {
	if res := gjson.GetBytes(raw, "id"); res.Exists() {
		return res.Int(), true
	}
	return extractIDFallback(string(raw))
}

// extractIDFallback scans for a literal "id": pattern and parses the
// following number by hand, for frames too malformed for gjson to
// parse at all (e.g. truncated mid-frame).
func extractIDFallback(raw string) (int64, bool) {
	const key = `"id"`
	idx := strings.Index(raw, key)
	if idx < 0 {
		return 0, false
	}
	rest := raw[idx+len(key):]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return 0, false
	}
	rest = strings.TrimLeft(rest[colon+1:], " \t")

	end := 0
	for end < len(rest) {
		c := rest[end]
		if c == '-' || (c >= '0' && c <= '9') {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
