package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "gembalance/internal/errors"
	"gembalance/internal/keypool"
	"gembalance/internal/logging"
	"gembalance/internal/monitoring"
	"gembalance/internal/store"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	// relayBufSize is the chunk size for streaming the upstream body.
	relayBufSize = 32 * 1024
	// errorBodyCap bounds how much of an upstream error body is buffered
	// for audit extraction before relaying.
	errorBodyCap = 64 * 1024
)

// SettingsFunc yields current upstream settings, re-read on every request.
type SettingsFunc func(ctx context.Context) (store.Settings, error)

// Engine relays generation requests to the upstream API, attaching one
// pooled credential per inbound call. Responses stream through chunk by
// chunk; bodies are never buffered in full.
type Engine struct {
	provider *keypool.Provider
	settings SettingsFunc
	faults   store.ErrorSink
	newCli   func(proxyURL string) *http.Client
}

// NewEngine wires the relay to its pool provider, settings accessor, and
// failure audit sink. faults may be nil.
func NewEngine(provider *keypool.Provider, settings SettingsFunc, faults store.ErrorSink) *Engine {
	e := &Engine{provider: provider, settings: settings, faults: faults}
	e.newCli = e.defaultClient
	return e
}

func (e *Engine) defaultClient(proxyURL string) *http.Client {
	tr := &http.Transport{
		Proxy: getProxyFunc(proxyURL),
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 5 * time.Minute,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}
	// No client timeout: long generations stream for minutes.
	return &http.Client{Transport: tr, Timeout: 0}
}

func getProxyFunc(proxyURL string) func(*http.Request) (*url.URL, error) {
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			return http.ProxyURL(parsed)
		}
	}
	return http.ProxyFromEnvironment
}

// Forward handles one inbound call end to end: select a key, relay the
// request upstream with exactly one attempt, stream the response back, and
// record the outcome against the pool.
func (e *Engine) Forward(c *gin.Context, routePrefix string) {
	ctx := c.Request.Context()

	settings, err := e.settings(ctx)
	if err != nil {
		logging.WithReq(c, log.Fields{"err": err}).Error("proxy: settings unavailable")
		writeAPIError(c, apperrors.New(http.StatusInternalServerError,
			"configuration_error", "server_error", "Service configuration unavailable"))
		return
	}

	pool, err := e.provider.Get(ctx)
	if err != nil {
		logging.WithReq(c, log.Fields{"err": err}).Error("proxy: pool unavailable")
		writeAPIError(c, apperrors.New(http.StatusInternalServerError,
			"configuration_error", "server_error", "Credential pool unavailable"))
		return
	}

	apiKey, err := pool.NextWorkingKey()
	if err != nil {
		e.rejectNoKey(c, err)
		return
	}

	resp, err := e.dispatch(ctx, c, settings, apiKey, routePrefix)
	if err != nil {
		if ctx.Err() != nil {
			// The client went away before the upstream answered. Not the
			// key's fault; leave its counters alone.
			logging.WithReq(c, nil).Debug("proxy: client canceled before upstream response")
			return
		}
		pool.ReportFailure(apiKey)
		e.audit(apiKey, apperrors.KindTransportError, err.Error(), "")
		monitoring.UpstreamRequestsTotal.WithLabelValues("5xx", logging.ErrorKind(0, true)).Inc()
		apiErr := apperrors.MapNetworkError(err)
		logging.WithReq(c, log.Fields{
			"key":  store.MaskKey(apiKey),
			"code": apiErr.Code,
			"err":  err,
		}).Warn("proxy: upstream transport failure")
		writeAPIError(c, apiErr)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.relayUpstreamError(c, pool, apiKey, resp)
		return
	}

	monitoring.UpstreamRequestsTotal.WithLabelValues(statusClass(resp.StatusCode), "ok").Inc()
	e.relayBody(c, resp)
}

// dispatch builds and sends the single upstream attempt for this call.
func (e *Engine) dispatch(ctx context.Context, c *gin.Context, settings store.Settings, apiKey, routePrefix string) (*http.Response, error) {
	target := settings.UpstreamBaseURL + stripRoutePrefix(c.Request.URL.Path, routePrefix)
	if q := filterQuery(c.Request.URL.Query()); len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, target, c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	copyRequestHeaders(req.Header, c.Request.Header)
	req.Header.Set("x-goog-api-key", apiKey)
	if req.Header.Get("Content-Type") == "" && c.Request.Method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}

	return e.newCli(settings.ProxyURL).Do(req)
}

// rejectNoKey maps pool exhaustion sentinels to a 503 and records the event.
func (e *Engine) rejectNoKey(c *gin.Context, err error) {
	var kind, code, message string
	switch {
	case errors.Is(err, apperrors.ErrNoKeysAvailable):
		kind = apperrors.KindNoKeysAvailable
		code = "no_keys_available"
		message = "No API keys are configured"
	case errors.Is(err, apperrors.ErrAllKeysFailing):
		kind = apperrors.KindAllKeysFailing
		code = "all_keys_failing"
		message = "All API keys are temporarily unavailable"
	default:
		kind = apperrors.KindConfigError
		code = "pool_error"
		message = "Credential pool unavailable"
	}
	e.audit("", kind, message, "")
	logging.WithReq(c, log.Fields{"code": code}).Warn("proxy: no usable key")
	writeAPIError(c, apperrors.New(http.StatusServiceUnavailable, code, "server_error", message))
}

// relayUpstreamError counts the failure, extracts a message for the audit
// trail, and relays the upstream response to the client unchanged.
func (e *Engine) relayUpstreamError(c *gin.Context, pool *keypool.Pool, apiKey string, resp *http.Response) {
	pool.ReportFailure(apiKey)

	head, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyCap))
	msg := gjson.GetBytes(head, "error.message").String()
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	kind := logging.ErrorKind(resp.StatusCode, false)
	e.audit(apiKey, apperrors.KindUpstreamError, msg, "status="+strconv.Itoa(resp.StatusCode))
	monitoring.UpstreamRequestsTotal.WithLabelValues(statusClass(resp.StatusCode), kind).Inc()
	logging.WithReq(c, log.Fields{
		"key":     store.MaskKey(apiKey),
		"status":  resp.StatusCode,
		"kind":    kind,
		"message": msg,
	}).Warn("proxy: upstream error relayed")

	copyResponseHeaders(c.Writer.Header(), resp.Header)
	c.Writer.WriteHeader(resp.StatusCode)
	if len(head) > 0 {
		c.Writer.Write(head)
	}
	// Bodies larger than the audit cap keep streaming after the buffered
	// head has been written.
	io.Copy(c.Writer, resp.Body)
}

// relayBody streams a successful upstream body to the client, flushing after
// every chunk so streamed generations reach the caller incrementally.
func (e *Engine) relayBody(c *gin.Context, resp *http.Response) {
	copyResponseHeaders(c.Writer.Header(), resp.Header)
	c.Writer.WriteHeader(resp.StatusCode)

	flusher, _ := c.Writer.(http.Flusher)
	buf := make([]byte, relayBufSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				logging.WithReq(c, log.Fields{"err": werr}).Debug("proxy: client write aborted mid-stream")
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF && c.Request.Context().Err() == nil {
				logging.WithReq(c, log.Fields{"err": err}).Warn("proxy: upstream stream ended abnormally")
			}
			return
		}
	}
}

func (e *Engine) audit(apiKey, kind, message, detail string) {
	if e.faults == nil {
		return
	}
	rec := store.ErrorRecord{APIKey: store.MaskKey(apiKey), Kind: kind, Message: message, Detail: detail}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.faults.RecordError(ctx, rec); err != nil {
		log.WithError(err).Warn("proxy: failure audit write failed")
	}
}

func writeAPIError(c *gin.Context, apiErr *apperrors.APIError) {
	c.JSON(apiErr.HTTPStatus, apiErr.Envelope())
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
