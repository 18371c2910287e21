package config

// Config groups runtime configuration by functional domain.
type Config struct {
	Server      ServerConfig
	Upstream    UpstreamConfig
	Security    SecurityConfig
	HealthCheck HealthCheckConfig
	RateLimit   RateLimitConfig
	Storage     StorageConfig
}

// ServerConfig controls the HTTP listener and the proxy surface.
type ServerConfig struct {
	Port string
	// RoutePrefix is prepended to the inbound path when building the
	// upstream URL. Empty means passthrough (inbound path already matches
	// the upstream API's native shape).
	RoutePrefix       string
	RequestLogEnabled bool
}

// UpstreamConfig holds environment-level overrides for settings that
// otherwise come from the settings store.
type UpstreamConfig struct {
	BaseURL  string
	ProxyURL string
}

// SecurityConfig covers inbound authentication and logging posture.
type SecurityConfig struct {
	// ClientKeys are the tokens inbound callers must present. Empty list
	// disables proxy-surface auth.
	ClientKeys []string
	// AdminKey / AdminKeyHash guard the management API. The hash variant is
	// a bcrypt hash and takes effect alongside the plaintext key.
	AdminKey     string
	AdminKeyHash string
	Debug        bool
	LogFile      string
}

// HealthCheckConfig drives the reactivation sweep.
type HealthCheckConfig struct {
	// Model overrides the probe model from the settings store when set.
	Model       string
	IntervalSec int
	TimeoutSec  int
}

// RateLimitConfig enables optional per-caller rate limiting.
type RateLimitConfig struct {
	Enabled bool
	RPS     int
	Burst   int
}

// StorageConfig selects where the key pool and settings are loaded from.
type StorageConfig struct {
	PostgresDSN string
	// KeysFile is a newline-delimited key list used when no DSN is set.
	KeysFile string
	// APIKeys seeds the pool directly from the environment when neither a
	// DSN nor a keys file is configured.
	APIKeys     []string
	MaxFailures int
}

// Load builds a Config from environment variables with defaults applied.
func Load() *Config {
	cfg := defaultConfig()
	cfg.applyEnv()
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8080",
			RequestLogEnabled: true,
		},
		HealthCheck: HealthCheckConfig{
			IntervalSec: 600,
			TimeoutSec:  15,
		},
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 20,
		},
		Storage: StorageConfig{
			MaxFailures: 3,
		},
	}
}

func (c *Config) applyEnv() {
	c.Server.Port = getenv("PORT", c.Server.Port)
	c.Server.RoutePrefix = normalizeRoutePrefix(getenv("ROUTE_PREFIX", c.Server.RoutePrefix))
	c.Server.RequestLogEnabled = getenvBool("REQUEST_LOG_ENABLED", c.Server.RequestLogEnabled)

	c.Upstream.BaseURL = getenv("UPSTREAM_BASE_URL", c.Upstream.BaseURL)
	c.Upstream.ProxyURL = getenv("UPSTREAM_PROXY_URL", c.Upstream.ProxyURL)

	if v := getenv("CLIENT_KEYS", ""); v != "" {
		c.Security.ClientKeys = splitAndTrim(v, ",")
	}
	c.Security.AdminKey = getenv("ADMIN_KEY", c.Security.AdminKey)
	c.Security.AdminKeyHash = getenv("ADMIN_KEY_HASH", c.Security.AdminKeyHash)
	c.Security.Debug = getenvBool("DEBUG", c.Security.Debug)
	c.Security.LogFile = getenv("LOG_FILE", c.Security.LogFile)

	c.HealthCheck.Model = getenv("HEALTH_CHECK_MODEL", c.HealthCheck.Model)
	setIntFromEnv("HEALTH_CHECK_INTERVAL_SEC", func(n int) { c.HealthCheck.IntervalSec = n })
	setIntFromEnv("HEALTH_CHECK_TIMEOUT_SEC", func(n int) { c.HealthCheck.TimeoutSec = n })

	c.RateLimit.Enabled = getenvBool("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	setIntFromEnv("RATE_LIMIT_RPS", func(n int) { c.RateLimit.RPS = n })
	setIntFromEnv("RATE_LIMIT_BURST", func(n int) { c.RateLimit.Burst = n })

	c.Storage.PostgresDSN = getenv("POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Storage.KeysFile = getenv("KEYS_FILE", c.Storage.KeysFile)
	if v := getenv("GEMINI_API_KEYS", ""); v != "" {
		c.Storage.APIKeys = splitAndTrim(v, ",")
	}
	setIntFromEnv("MAX_FAILURES", func(n int) { c.Storage.MaxFailures = n })
}
