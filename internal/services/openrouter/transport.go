package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"reimagine/internal/logging"
	"reimagine/internal/services"
	"reimagine/internal/stage"
)

// DefaultBaseURL is the OpenRouter chat completions endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"

const errorBodyLimit = 4 << 10

// Transport issues chat completion requests on behalf of a stage client. It
// owns the HTTP client, the attribution headers and the request-rate limiter;
// per-call settings come from the stage.Config.
type Transport struct {
	stage      string
	httpClient *http.Client
	referer    string
	title      string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option customizes the transport.
type Option func(*Transport)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// WithAttribution sets the HTTP-Referer and X-Title headers OpenRouter uses
// to attribute traffic.
func WithAttribution(referer, title string) Option {
	return func(t *Transport) {
		t.referer = strings.TrimSpace(referer)
		t.title = strings.TrimSpace(title)
	}
}

// WithMinInterval spaces requests at least interval apart. Zero disables
// limiting.
func WithMinInterval(interval time.Duration) Option {
	return func(t *Transport) {
		if interval > 0 {
			t.limiter = rate.NewLimiter(rate.Every(interval), 1)
		} else {
			t.limiter = nil
		}
	}
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTransport constructs a transport for the named stage. The HTTP client has
// no overall timeout because streamed responses can be long; callers bound
// each call with a context deadline.
func NewTransport(stageName string, opts ...Option) *Transport {
	t := &Transport{
		stage:      stageName,
		httpClient: &http.Client{},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Stage returns the stage name used in error context.
func (t *Transport) Stage() string {
	return t.stage
}

// StatusError reports a non-success HTTP status from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, body)
}

// Post sends payload to the configured endpoint and returns the response for
// the caller to decode. The caller must close the body. Failures are already
// classified with the services error markers.
func (t *Transport) Post(ctx context.Context, cfg stage.Config, payload any, stream bool) (*http.Response, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, services.Wrap(services.ErrMissingCredential, t.stage, "", "api key not configured", nil)
	}
	endpoint := strings.TrimSpace(cfg.BaseURL)
	if endpoint == "" {
		endpoint = DefaultBaseURL
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, t.requestError(ctx, "rate limit", "waiting for request slot", err)
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrStageRequest, t.stage, "encode", "encode request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrStageRequest, t.stage, "build", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(cfg.APIKey))
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		req.Header.Set("X-Title", t.title)
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}

	started := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, t.requestError(ctx, "post", "request failed", err)
	}
	t.logger.Debug("stage request answered",
		logging.String(logging.FieldStage, t.stage),
		logging.String("model", cfg.Model),
		logging.Int("status", resp.StatusCode),
		logging.Duration("latency", time.Since(started)),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: providerMessage(body)}
		return nil, services.Wrap(services.ErrStageRequest, t.stage, "post", "", statusErr)
	}
	return resp, nil
}

// ReadError classifies a failure while reading a response body.
func (t *Transport) ReadError(ctx context.Context, err error) error {
	return t.requestError(ctx, "read", "reading response", err)
}

func (t *Transport) requestError(ctx context.Context, operation, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, t.stage, operation, "timed out", err)
	}
	return services.Wrap(services.ErrStageRequest, t.stage, operation, message, err)
}

// providerMessage extracts error.message from a JSON error body, falling back
// to the raw text.
func providerMessage(body []byte) string {
	var parsed struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(body))
}
