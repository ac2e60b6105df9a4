package renders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"dashboard/internal/domain"
	"dashboard/internal/generation"
	"dashboard/internal/infra"
)

// DefaultTimeout bounds a single renders call.
const DefaultTimeout = 120 * time.Second

const maxResponseBytes = 8 << 20

// Options configures the renders backend client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs the single outbound call to the internal renders backend.
// It never retries.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client. The base URL is validated per call so a
// misconfigured deployment still boots and reports a configuration error.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		baseURL:    strings.TrimSpace(opts.BaseURL),
		token:      strings.TrimSpace(opts.Token),
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Generate posts the request to {baseURL}/{route} and returns exactly the
// first three images of a successful response.
func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest, route domain.RouteType) (domain.BackendResult, error) {
	base, err := c.resolveBase()
	if err != nil {
		return domain.BackendResult{}, err
	}
	payload, err := generation.BuildPayload(req, route)
	if err != nil {
		return domain.BackendResult{}, domain.Gateway("failed to encode renders request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := base + "/" + string(route)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload.Body))
	if err != nil {
		return domain.BackendResult{}, domain.Configuration("invalid renders endpoint", err)
	}
	httpReq.Header.Set("Content-Type", payload.ContentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", req.RequestID)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.BackendResult{}, c.transportError(ctx, req.RequestID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.BackendResult{}, c.transportError(ctx, req.RequestID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, message := upstreamError(raw, resp.StatusCode)
		c.logger.Warn().
			Str("request_id", req.RequestID).
			Str("route", string(route)).
			Int("status", resp.StatusCode).
			Msg("renders: upstream error")
		return domain.BackendResult{}, domain.Backend(resp.StatusCode, code, message)
	}

	images := gjson.GetBytes(raw, "images")
	if !images.IsArray() {
		return domain.BackendResult{}, domain.Gateway("renders backend returned no images", nil)
	}
	var urls []string
	for _, item := range images.Array() {
		if u := imageURL(item); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) > domain.ResultImageCount {
		urls = urls[:domain.ResultImageCount]
	}
	if len(urls) < domain.ResultImageCount {
		c.logger.Warn().
			Str("request_id", req.RequestID).
			Int("images", len(urls)).
			Msg("renders: fewer images than expected")
	}

	result := domain.BackendResult{Images: urls, Meta: map[string]any{}}
	if meta := gjson.GetBytes(raw, "meta"); meta.IsObject() {
		if m, ok := meta.Value().(map[string]any); ok {
			result.Meta = m
		}
	}
	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("route", string(route)).
		Dur("took", time.Since(started)).
		Msg("renders: generation finished")
	return result, nil
}

func (c *Client) resolveBase() (string, error) {
	if c.baseURL == "" {
		return "", domain.Configuration("renders backend url is not configured", domain.ErrMissingBaseURL)
	}
	parsed, err := url.Parse(c.baseURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", domain.Configuration(fmt.Sprintf("renders backend url %q is invalid", c.baseURL), domain.ErrMissingBaseURL)
	}
	return strings.TrimRight(parsed.String(), "/"), nil
}

func (c *Client) transportError(ctx context.Context, requestID string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		c.logger.Warn().Err(err).Str("request_id", requestID).Msg("renders: request cancelled")
		return domain.Timeout("renders backend timed out", err)
	}
	c.logger.Error().Err(err).Str("request_id", requestID).Msg("renders: request failed")
	return domain.Gateway("renders backend unreachable", err)
}

// upstreamError extracts the backend's own code and message. Accepted shapes:
// {"error":"msg"}, {"error":{"code","message"}}, {"message","code"}.
func upstreamError(raw []byte, status int) (string, string) {
	var code, message string
	errField := gjson.GetBytes(raw, "error")
	switch {
	case errField.Type == gjson.String:
		message = errField.String()
	case errField.IsObject():
		message = errField.Get("message").String()
		code = errField.Get("code").String()
	}
	if message == "" {
		message = gjson.GetBytes(raw, "message").String()
	}
	if code == "" {
		code = gjson.GetBytes(raw, "code").String()
	}
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(status)
	}
	return code, message
}

func imageURL(item gjson.Result) string {
	if item.Type == gjson.String {
		return strings.TrimSpace(item.String())
	}
	if item.IsObject() {
		return strings.TrimSpace(item.Get("url").String())
	}
	return ""
}
