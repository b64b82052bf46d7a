package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

const (
	// DefaultDialTimeout bounds the SRT handshake.
	DefaultDialTimeout = 10 * time.Second

	// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
	srtLatencyNs = 120_000_000

	// tsPacketSize is one MPEG-TS packet; payloads are seven of them, the
	// standard SRT live payload.
	tsPacketSize = 188
	payloadSize  = tsPacketSize * 7
)

// Dialer opens a write connection to an ingest endpoint.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (io.WriteCloser, error)
}

// SRTDialer dials ingest servers over SRT in caller mode.
type SRTDialer struct {
	Timeout time.Duration
}

// Dial connects to ep, giving up after d.Timeout or when ctx ends. A
// connection that completes after the caller gave up is closed.
func (d SRTDialer) Dial(ctx context.Context, ep Endpoint) (io.WriteCloser, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = ep.StreamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(ep.Addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt dial %s: %w", ep.Addr, res.err)
		}
		return res.conn, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("srt dial %s: timed out after %s", ep.Addr, timeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

// nullPayload returns payloadSize bytes of MPEG-TS null packets (PID 0x1FFF),
// which receivers discard.
func nullPayload() []byte {
	buf := make([]byte, payloadSize)
	for off := 0; off < len(buf); off += tsPacketSize {
		pkt := buf[off : off+tsPacketSize]
		pkt[0] = 0x47
		pkt[1] = 0x1F
		pkt[2] = 0xFF
		pkt[3] = 0x10
		for i := 4; i < len(pkt); i++ {
			pkt[i] = 0xFF
		}
	}
	return buf
}
