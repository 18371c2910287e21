package store

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// EnvOverrides are settings pinned by the deployment environment. A non-zero
// field wins over whatever the settings source returns.
type EnvOverrides struct {
	UpstreamBaseURL  string
	HealthCheckModel string
	ProxyURL         string
	MaxFailures      int
}

// SettingsAccessor composes a SettingsSource with environment overrides into
// the accessor function the health checker and proxy engine consume. The
// source is queried on every call so administrative changes take effect
// without a restart; a source failure degrades to defaults+overrides rather
// than erroring the caller.
func SettingsAccessor(src SettingsSource, overrides EnvOverrides) func(ctx context.Context) (Settings, error) {
	return func(ctx context.Context) (Settings, error) {
		var st Settings
		if src != nil {
			loaded, err := src.GetSettings(ctx)
			if err != nil {
				log.WithError(err).Warn("settings source unavailable; using defaults and env overrides")
			} else {
				st = loaded
			}
		}
		if overrides.UpstreamBaseURL != "" {
			st.UpstreamBaseURL = overrides.UpstreamBaseURL
		}
		if overrides.HealthCheckModel != "" {
			st.HealthCheckModel = overrides.HealthCheckModel
		}
		if overrides.ProxyURL != "" {
			st.ProxyURL = overrides.ProxyURL
		}
		if overrides.MaxFailures > 0 {
			st.MaxFailures = overrides.MaxFailures
		}
		return st.Normalize(), nil
	}
}
