package telegraph

import (
	"fmt"
	"strconv"
	"strings"
)

// Event names carried after the channel prefix of a message type.
const (
	EventSubscribed  = "subscribed"
	EventViewerCount = "viewer_count"
	EventUp          = "up"
	EventDown        = "down"
	EventCommercial  = "commercial"
)

// Known property keys.
const (
	PropType       = "type"
	PropServerTime = "server_time"
	PropPlayDelay  = "play_delay"
	PropViewers    = "viewers"
	PropLength     = "length"
)

// Properties are the key/value pairs of a message body. Unknown keys are
// kept so callers can inspect them.
type Properties map[string]string

// ParseHeader strips the "/<channel>." prefix from a message type and
// returns the event name. Types for other channels fail with
// ErrUnexpectedChannel.
func ParseHeader(messageType, channel string) (string, error) {
	prefix := "/" + channel + "."
	if !strings.HasPrefix(messageType, prefix) {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedChannel, messageType)
	}
	return messageType[len(prefix):], nil
}

// ParseBody splits an ampersand separated body into properties. Pairs with
// an empty key or value, or without '=', are dropped.
func ParseBody(body []byte) Properties {
	props, _ := parseBody(body)
	return props
}

func parseBody(body []byte) (Properties, int) {
	props := make(Properties)
	skipped := 0
	for _, pair := range strings.Split(string(body), "&") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" || v == "" {
			skipped++
			continue
		}
		props[k] = v
	}
	return props, skipped
}

// ChannelStatus is the last known state of a watched channel. Channel is
// fixed when the status is created; Apply never changes it.
type ChannelStatus struct {
	Channel    string  `json:"channel"`
	Up         bool    `json:"up"`
	Type       string  `json:"type,omitempty"`
	ServerTime float64 `json:"server_time"`
	PlayDelay  uint32  `json:"play_delay"`
	Viewers    uint32  `json:"viewers"`
	Length     uint32  `json:"length"`
}

// Apply folds one event and its properties into the status. Numeric values
// keep whatever valid prefix they have; a value with no valid prefix leaves
// the field unchanged. Unknown keys and events are ignored.
func (s *ChannelStatus) Apply(event string, props Properties) {
	for k, v := range props {
		switch k {
		case PropType:
			if w, ok := scanWord(v); ok {
				s.Type = w
			}
		case PropServerTime:
			if f, ok := scanFloat(v); ok {
				s.ServerTime = f
			}
		case PropPlayDelay:
			if n, ok := scanUint(v); ok {
				s.PlayDelay = n
			}
		case PropViewers:
			if n, ok := scanUint(v); ok {
				s.Viewers = n
			}
		case PropLength:
			if n, ok := scanUint(v); ok {
				s.Length = n
			}
		}
	}

	switch event {
	case EventViewerCount, EventUp:
		s.Up = true
	case EventDown:
		s.Up = false
	}
}

func scanWord(v string) (string, bool) {
	f := strings.Fields(v)
	if len(f) == 0 {
		return "", false
	}
	return f[0], true
}

// scanUint reads the leading unsigned decimal of v after optional spaces.
func scanUint(v string) (uint32, bool) {
	v = strings.TrimLeft(v, " \t\r\n")
	v = strings.TrimPrefix(v, "+")
	end := 0
	for end < len(v) && isDigit(v[end]) {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(v[:end], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// scanFloat reads the longest leading decimal float of v after optional
// spaces: sign, digits, fraction, exponent.
func scanFloat(v string) (float64, bool) {
	v = strings.TrimLeft(v, " \t\r\n")
	i := 0
	if i < len(v) && (v[i] == '+' || v[i] == '-') {
		i++
	}
	digits := 0
	for i < len(v) && isDigit(v[i]) {
		i++
		digits++
	}
	if i < len(v) && v[i] == '.' {
		i++
		for i < len(v) && isDigit(v[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	end := i
	if i < len(v) && (v[i] == 'e' || v[i] == 'E') {
		j := i + 1
		if j < len(v) && (v[j] == '+' || v[j] == '-') {
			j++
		}
		k := j
		for k < len(v) && isDigit(v[k]) {
			k++
		}
		if k > j {
			end = k
		}
	}
	f, err := strconv.ParseFloat(v[:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
