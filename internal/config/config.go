// Package config loads runtime settings from the environment. Command-line
// flags take their defaults from the loaded values.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zsiec/telegraph/internal/telegraph"
)

// Config holds every setting the telegraph binary reads.
type Config struct {
	Debug bool

	// Telegraph feed
	TelegraphAddr  string
	Channel        string
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	MaxBodySize    int
	ReconnectDelay time.Duration

	// Status API
	APIAddr      string
	EnableHTTP3  bool
	CertHosts    []string
	FeedBuffer   int
	PollInterval time.Duration

	// Broadcast and chat sessions
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	MaxRetries   int
	ChatHistory  int

	// Ingest tester
	StreamKey        string
	ProbeDuration    time.Duration
	ProbeConcurrency int
	ProbeDialTimeout time.Duration
}

// Load reads the environment, falling back to defaults for unset or
// unparseable values.
func Load() Config {
	return Config{
		Debug: envBool("DEBUG", false),

		TelegraphAddr:  envOr("TELEGRAPH_ADDR", "localhost:443"),
		Channel:        envOr("TELEGRAPH_CHANNEL", ""),
		DialTimeout:    envDuration("TELEGRAPH_DIAL_TIMEOUT", telegraph.DefaultDialTimeout),
		ReadTimeout:    envDuration("TELEGRAPH_READ_TIMEOUT", telegraph.DefaultReadTimeout),
		MaxBodySize:    envInt("TELEGRAPH_MAX_BODY", telegraph.DefaultMaxBodySize),
		ReconnectDelay: envDuration("TELEGRAPH_RECONNECT_DELAY", 5*time.Second),

		APIAddr:      envOr("API_ADDR", ":4444"),
		EnableHTTP3:  envBool("API_HTTP3", true),
		CertHosts:    envList("API_CERT_HOSTS"),
		FeedBuffer:   envInt("FEED_BUFFER", 64),
		PollInterval: envDuration("POLL_INTERVAL", 50*time.Millisecond),

		ClientID:     envOr("CLIENT_ID", "telegraph"),
		ClientSecret: envOr("CLIENT_SECRET", ""),
		Username:     envOr("USERNAME", ""),
		Password:     envOr("PASSWORD", ""),
		MaxRetries:   envInt("MAX_RETRIES", 3),
		ChatHistory:  envInt("CHAT_HISTORY", 250),

		StreamKey:        envOr("STREAM_KEY", ""),
		ProbeDuration:    envDuration("PROBE_DURATION", 5*time.Second),
		ProbeConcurrency: envInt("PROBE_CONCURRENCY", 1),
		ProbeDialTimeout: envDuration("PROBE_DIAL_TIMEOUT", 10*time.Second),
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.TelegraphAddr != "" {
		if _, _, err := net.SplitHostPort(c.TelegraphAddr); err != nil {
			errs = append(errs, fmt.Errorf("telegraph address %q: %w", c.TelegraphAddr, err))
		}
	}
	if _, _, err := net.SplitHostPort(c.APIAddr); err != nil {
		errs = append(errs, fmt.Errorf("api address %q: %w", c.APIAddr, err))
	}
	if c.Channel != "" && strings.ContainsAny(c.Channel, "/. \t\r\n\x00") {
		errs = append(errs, fmt.Errorf("channel %q contains a reserved character", c.Channel))
	}
	for name, d := range map[string]time.Duration{
		"dial timeout":   c.DialTimeout,
		"poll interval":  c.PollInterval,
		"probe duration": c.ProbeDuration,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("read timeout must not be negative, got %s", c.ReadTimeout))
	}
	if c.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("max body size must be positive, got %d", c.MaxBodySize))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries))
	}
	if c.ProbeConcurrency < 1 {
		errs = append(errs, fmt.Errorf("probe concurrency must be at least 1, got %d", c.ProbeConcurrency))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envList splits a comma-separated value, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
