package chat

import (
	"strings"
	"unicode"

	"github.com/zsiec/ccx"

	"github.com/zsiec/telegraph/internal/sdk"
)

const (
	// CaptionChannel is the caption service chat lines are rendered on.
	CaptionChannel = 1

	maxCaptionRunes = 128
)

// Caption renders msg as a caption frame. pts is in microseconds.
func Caption(msg sdk.ChatMessage, pts int64) *ccx.CaptionFrame {
	name := msg.DisplayName
	if name == "" {
		name = msg.User
	}
	text := sanitize(msg.Text)
	line := name + ": " + text
	if msg.Action {
		line = "* " + name + " " + text
	}
	if r := []rune(line); len(r) > maxCaptionRunes {
		line = string(r[:maxCaptionRunes-1]) + "…"
	}
	return &ccx.CaptionFrame{PTS: pts, Text: line, Channel: CaptionChannel}
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, strings.TrimSpace(s))
}
