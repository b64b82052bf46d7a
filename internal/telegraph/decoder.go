package telegraph

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// SubscribedType is the message type of the bare acknowledgement the server
// sends first on every connection. It has no length line and no body.
const SubscribedType = "SUBSCRIBED"

// DefaultMaxBodySize bounds the declared body length a Decoder accepts.
const DefaultMaxBodySize = 1 << 20

// Frame is one complete message: its type line and raw body.
type Frame struct {
	Type string
	Body []byte
}

// Decoder turns an unbounded byte stream into frames. It buffers partial
// input across Feed calls and never rescans bytes it has already consumed.
// A Decoder is not safe for concurrent use.
//
// Once a malformed header is seen the decoder is poisoned: every later call
// returns the same *ProtocolError and no further frames are produced.
type Decoder struct {
	buf []byte
	off int // start of unconsumed bytes in buf

	tokens  []string // header tokens of the pending frame: type, then length
	bodyLen int      // declared body length, -1 while still reading the header
	maxBody int

	err error
}

// NewDecoder creates a Decoder awaiting its first header.
func NewDecoder() *Decoder {
	return &Decoder{
		tokens:  make([]string, 0, 2),
		bodyLen: -1,
		maxBody: DefaultMaxBodySize,
	}
}

// SetMaxBodySize changes the largest body length accepted. Non-positive
// values restore DefaultMaxBodySize.
func (d *Decoder) SetMaxBodySize(n int) {
	if n <= 0 {
		n = DefaultMaxBodySize
	}
	d.maxBody = n
}

// Buffered returns the number of received bytes not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Err returns the protocol error that poisoned the decoder, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Feed appends p to the buffer and returns every frame completed by it, in
// stream order. Feeding an empty slice never produces a frame. On a protocol
// violation the frames decoded before it are returned with the error.
func (d *Decoder) Feed(p []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.append(p)

	var frames []Frame
	for {
		f, ok, err := d.Next()
		if err != nil {
			return frames, err
		}
		if !ok {
			return frames, nil
		}
		frames = append(frames, f)
	}
}

func (d *Decoder) append(p []byte) {
	if len(p) == 0 {
		return
	}
	switch {
	case d.off == len(d.buf):
		d.buf = d.buf[:0]
		d.off = 0
	case d.off > cap(d.buf)/2:
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Next decodes one frame from the buffered bytes. It returns ok=false when
// more input is needed; the partial header or body stays buffered and
// decoding resumes where it stopped on the next call.
func (d *Decoder) Next() (Frame, bool, error) {
	if d.err != nil {
		return Frame{}, false, d.err
	}

	for d.bodyLen < 0 {
		pending := d.buf[d.off:]
		i := bytes.IndexAny(pending, "\n\x00")
		if i < 0 {
			return Frame{}, false, nil
		}
		tok := strings.TrimSpace(string(pending[:i]))
		d.off += i + 1
		if tok == "" {
			continue
		}

		d.tokens = append(d.tokens, tok)
		if len(d.tokens) == 1 {
			if tok == SubscribedType {
				d.reset()
				return Frame{Type: SubscribedType}, true, nil
			}
			continue
		}

		n, err := parseLength(tok)
		if err != nil {
			d.err = &ProtocolError{Token: tok, Err: err}
			return Frame{}, false, d.err
		}
		if n > d.maxBody {
			d.err = &ProtocolError{Token: tok, Err: fmt.Errorf("body length %d exceeds limit %d", n, d.maxBody)}
			return Frame{}, false, d.err
		}
		d.bodyLen = n
	}

	pending := d.buf[d.off:]
	if len(pending) < d.bodyLen {
		return Frame{}, false, nil
	}

	body := make([]byte, d.bodyLen)
	copy(body, pending)
	d.off += d.bodyLen

	// The \n\0 trailer is consumed when present; if it has not arrived yet
	// the header scanner skips it as empty lines.
	for k := 0; k < 2 && d.off < len(d.buf); k++ {
		if c := d.buf[d.off]; c != '\n' && c != 0 {
			break
		}
		d.off++
	}

	f := Frame{Type: d.tokens[0], Body: body}
	d.reset()
	return f, true, nil
}

func (d *Decoder) reset() {
	d.tokens = d.tokens[:0]
	d.bodyLen = -1
}

// parseLength parses a hexadecimal body length. An optional 0x prefix is
// accepted; anything else that is not a hex digit is rejected.
func parseLength(tok string) (int, error) {
	s := tok
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	n, err := strconv.ParseUint(s, 16, 31)
	if err != nil {
		return 0, fmt.Errorf("invalid body length: %w", err)
	}
	return int(n), nil
}
