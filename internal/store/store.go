// Package store defines the external collaborators the pool and proxy core
// depend on: where keys come from, where tunable settings live, and where
// failure audit records go.
package store

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Default settings applied when neither the settings store nor the
// environment provides a value.
const (
	DefaultUpstreamBaseURL  = "https://generativelanguage.googleapis.com"
	DefaultHealthCheckModel = "gemini-2.0-flash"
	DefaultMaxFailures      = 3
)

// Settings are the tunables the health checker and proxy engine re-read at
// runtime so administrative changes apply without a restart.
type Settings struct {
	UpstreamBaseURL  string
	HealthCheckModel string
	ProxyURL         string
	MaxFailures      int
}

// Normalize fills defaults for unset fields and clamps MaxFailures.
func (s Settings) Normalize() Settings {
	if strings.TrimSpace(s.UpstreamBaseURL) == "" {
		s.UpstreamBaseURL = DefaultUpstreamBaseURL
	}
	s.UpstreamBaseURL = strings.TrimRight(s.UpstreamBaseURL, "/")
	if strings.TrimSpace(s.HealthCheckModel) == "" {
		s.HealthCheckModel = DefaultHealthCheckModel
	}
	if s.MaxFailures < 1 {
		s.MaxFailures = DefaultMaxFailures
	}
	return s
}

// KeySource supplies the credential list used to seed the pool.
type KeySource interface {
	Name() string
	ListKeys(ctx context.Context) ([]string, error)
}

// SettingsSource supplies runtime settings.
type SettingsSource interface {
	GetSettings(ctx context.Context) (Settings, error)
}

// ErrorRecord is one failure audit entry.
type ErrorRecord struct {
	APIKey  string
	Kind    string
	Message string
	Detail  string
}

// StoredError is an audit entry read back from persistence.
type StoredError struct {
	ID        string    `json:"id"`
	APIKey    string    `json:"api_key"`
	Kind      string    `json:"error_kind"`
	Message   string    `json:"error_message"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorSink persists failure audit records.
type ErrorSink interface {
	RecordError(ctx context.Context, rec ErrorRecord) error
}

// ErrorLister reads back recent audit records for the management surface.
type ErrorLister interface {
	RecentErrors(ctx context.Context, limit int) ([]StoredError, error)
}

func parseIntSetting(raw string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return n
	}
	return def
}
