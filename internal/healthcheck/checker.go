package healthcheck

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"gembalance/internal/store"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SettingsFunc yields the current upstream settings. It is called on every
// probe so that administrative changes to the base URL, model, or proxy take
// effect without restarting the sweep.
type SettingsFunc func(ctx context.Context) (store.Settings, error)

// Checker probes a single credential against the upstream generation
// endpoint. It reports health as a plain bool and never mutates pool state;
// the pool applies the verdict itself.
type Checker struct {
	settings SettingsFunc
	timeout  time.Duration
	newCli   func(proxyURL string) *http.Client
}

// New builds a checker. timeout bounds every individual probe.
func New(settings SettingsFunc, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Checker{settings: settings, timeout: timeout}
	c.newCli = c.defaultClient
	return c
}

func (c *Checker) defaultClient(proxyURL string) *http.Client {
	tr := &http.Transport{
		Proxy: getProxyFunc(proxyURL),
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: c.timeout}
}

// getProxyFunc returns the proxy function for the configured URL, falling
// back to the environment when unset or unparsable.
func getProxyFunc(proxyURL string) func(*http.Request) (*url.URL, error) {
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			return http.ProxyURL(parsed)
		}
	}
	return http.ProxyFromEnvironment
}

// probeBody builds the minimal generation request used to validate a key.
func probeBody() []byte {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "contents.0.role", "user")
	body, _ = sjson.SetBytes(body, "contents.0.parts.0.text", "hi")
	body, _ = sjson.SetBytes(body, "generationConfig.maxOutputTokens", 1)
	return body
}

// Check issues one probe request authenticated with the given key. Any
// non-2xx status or transport failure counts as unhealthy; errors are logged
// and swallowed so a broken store or network never aborts a sweep.
func (c *Checker) Check(ctx context.Context, apiKey string) bool {
	settings, err := c.settings(ctx)
	if err != nil {
		log.WithError(err).Warn("health check: settings unavailable")
		return false
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		settings.UpstreamBaseURL, settings.HealthCheckModel)

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodPost, endpoint, bytes.NewReader(probeBody()))
	if err != nil {
		log.WithError(err).Warn("health check: build request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.newCli(settings.ProxyURL).Do(req)
	if err != nil {
		log.WithError(err).Debug("health check: probe failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return true
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	msg := gjson.GetBytes(raw, "error.message").String()
	log.WithFields(log.Fields{
		"status":  resp.StatusCode,
		"message": msg,
	}).Debug("health check: key rejected")
	return false
}
