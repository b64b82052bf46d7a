package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/zsiec/telegraph/internal/feed"
	"github.com/zsiec/telegraph/internal/sdk"
	"github.com/zsiec/telegraph/internal/telegraph"
)

type channelResponse struct {
	Channel    string                  `json:"channel"`
	Subscribed bool                    `json:"subscribed"`
	Status     telegraph.ChannelStatus `json:"status"`
}

type certHashResponse struct {
	Hash    string    `json:"hash"`
	Addr    string    `json:"addr"`
	Expires time.Time `json:"expires"`
}

type feedResponse struct {
	Subscribers []feed.SubscriberStats `json:"subscribers"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleChannel(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Channel == nil {
		writeError(w, http.StatusServiceUnavailable, "no channel feed configured")
		return
	}
	writeJSON(w, http.StatusOK, channelResponse{
		Channel:    s.cfg.Channel.Channel(),
		Subscribed: s.cfg.Channel.Subscribed(),
		Status:     s.cfg.Channel.Status(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Load())
}

func (s *Server) handleChatUsers(w http.ResponseWriter, _ *http.Request) {
	users := []sdk.ChatUser{}
	if c := s.sessions.Load().Chat; c != nil && c.Users != nil {
		users = c.Users
	}
	writeJSON(w, http.StatusOK, users)
}

// handleChatMessages returns chat history, oldest first. ?limit=N keeps the
// newest N.
func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	msgs := []sdk.ChatMessage{}
	if c := s.sessions.Load().Chat; c != nil && c.Messages != nil {
		msgs = c.Messages
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n < len(msgs) {
			msgs = msgs[len(msgs)-n:]
		}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Cert == nil {
		writeError(w, http.StatusNotFound, "no certificate")
		return
	}
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash:    s.cfg.Cert.Base64(),
		Addr:    s.cfg.Addr,
		Expires: s.cfg.Cert.NotAfter,
	})
}

func (s *Server) handleFeedStats(w http.ResponseWriter, _ *http.Request) {
	resp := feedResponse{Subscribers: []feed.SubscriberStats{}}
	if s.cfg.Feed != nil {
		resp.Subscribers = s.cfg.Feed.StatsAll()
	}
	writeJSON(w, http.StatusOK, resp)
}
