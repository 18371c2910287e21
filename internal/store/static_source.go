package store

import "context"

// StaticSource serves a fixed key list, used when keys are supplied directly
// through the environment.
type StaticSource struct {
	keys []string
}

func NewStaticSource(keys []string) *StaticSource {
	out := make([]string, len(keys))
	copy(out, keys)
	return &StaticSource{keys: out}
}

func (s *StaticSource) Name() string { return "env" }

func (s *StaticSource) ListKeys(ctx context.Context) ([]string, error) {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out, nil
}

// StaticSettings serves a fixed Settings value, used when no settings store
// is configured.
type StaticSettings struct {
	settings Settings
}

func NewStaticSettings(s Settings) *StaticSettings {
	return &StaticSettings{settings: s.Normalize()}
}

func (s *StaticSettings) GetSettings(ctx context.Context) (Settings, error) {
	return s.settings, nil
}
