// Package config loads the JSON configuration file that drives the recorder and provides
// a typed Config used across the service. The file may contain comments and trailing commas.
// Ambient knobs (logging, HTTP listener, tracing) come from the process environment instead;
// see GetEnv.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// Defaults applied when the corresponding field is absent from the file.
const (
	DefaultPollInterval   = 15 * time.Second
	DefaultStreamQuality  = "best"
	DefaultStreamlinkPath = "streamlink"
	DefaultFFmpegPath     = "ffmpeg"
	DefaultQueueSize      = 256
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// Twitch app credentials (client credentials grant)
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`

	// Channels to watch, by login name. Order is irrelevant.
	LoginNames []string `json:"login_names"`

	// Base paths; each channel gets its own subdirectory under all three.
	RecordingPath string `json:"recording_path"`
	CleanupPath   string `json:"cleanup_path"`
	MovePath      string `json:"move_path"`

	// Halting policy
	HaltUntilNextLive bool `json:"halt_until_next_live"`
	HaltNewlyAdded    bool `json:"halt_newly_added"`

	PollInterval   Duration `json:"poll_interval"`
	StreamQuality  string   `json:"stream_quality"`
	StreamlinkPath string   `json:"streamlink_path"`
	FFmpegPath     string   `json:"ffmpeg_path"`
	QueueSize      int      `json:"queue_size"`
	RecordChat     bool     `json:"record_chat"`

	// Optional Twitch user token handed to streamlink (subscriber-only, ad-free playback).
	StreamlinkOAuthToken string `json:"streamlink_oauth_token"`
}

// Load reads the file at path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document. Unknown fields are ignored.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = Duration(DefaultPollInterval)
	}
	if c.StreamQuality == "" {
		c.StreamQuality = DefaultStreamQuality
	}
	if c.StreamlinkPath == "" {
		c.StreamlinkPath = DefaultStreamlinkPath
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = DefaultFFmpegPath
	}
	c.StreamlinkOAuthToken = strings.TrimPrefix(strings.TrimSpace(c.StreamlinkOAuthToken), "oauth:")
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	names := make([]string, 0, len(c.LoginNames))
	for _, n := range c.LoginNames {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			names = append(names, n)
		}
	}
	c.LoginNames = names
}

// Validate checks required fields. An empty login list is valid and records nothing.
func (c *Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("%w: client_id and client_secret are required", ErrInvalid)
	}
	if c.RecordingPath == "" || c.CleanupPath == "" || c.MovePath == "" {
		return fmt.Errorf("%w: recording_path, cleanup_path and move_path are required", ErrInvalid)
	}
	if c.PollInterval.Std() < 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalid)
	}
	return nil
}

// SameCredentials reports whether both configs authenticate with the same app.
func (c *Config) SameCredentials(o *Config) bool {
	if c == nil || o == nil {
		return false
	}
	return c.ClientID == o.ClientID && c.ClientSecret == o.ClientSecret
}

// Duration accepts a Go duration string ("15s") or a number of seconds, quoted or not.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		if unq == "" {
			*d = 0
			return nil
		}
		if secs, err := strconv.ParseFloat(unq, 64); err == nil && !math.IsNaN(secs) && !math.IsInf(secs, 0) {
			*d = Duration(secs * float64(time.Second))
			return nil
		}
		v, err := time.ParseDuration(unq)
		if err != nil {
			return fmt.Errorf("%w: poll_interval %q: %v", ErrInvalid, unq, err)
		}
		*d = Duration(v)
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: poll_interval %s", ErrInvalid, s)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}
