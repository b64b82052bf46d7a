package ingest

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zsiec/telegraph/internal/sdk"
)

// ErrNoIngestServers is returned when a server list is empty.
var ErrNoIngestServers = errors.New("ingest: no ingest servers")

// Select picks the server flagged as default, or the first one when none is.
func Select(servers []sdk.IngestServer) (sdk.IngestServer, error) {
	if len(servers) == 0 {
		return sdk.IngestServer{}, ErrNoIngestServers
	}
	for _, s := range servers {
		if s.Default {
			return s, nil
		}
	}
	return servers[0], nil
}

// Endpoint is the dialable form of an ingest URL.
type Endpoint struct {
	Addr     string
	StreamID string
}

// ParseEndpoint turns an srt:// ingest URL into a dial address and stream
// ID. A {stream_key} placeholder in the stream ID is replaced with key.
func ParseEndpoint(rawURL, key string) (Endpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("ingest: parse %q: %w", rawURL, err)
	}
	if u.Scheme != "srt" {
		return Endpoint{}, fmt.Errorf("ingest: unsupported scheme %q in %q", u.Scheme, rawURL)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return Endpoint{}, fmt.Errorf("ingest: %q needs host and port", rawURL)
	}
	streamID := u.Query().Get("streamid")
	if streamID == "" {
		streamID = "live/" + key
	}
	streamID = strings.ReplaceAll(streamID, "{stream_key}", key)
	return Endpoint{Addr: u.Host, StreamID: streamID}, nil
}
