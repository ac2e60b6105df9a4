package reve

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"dashboard/internal/domain"
	"dashboard/internal/generation"
	"dashboard/internal/infra"
	"dashboard/internal/status"
)

const (
	DefaultBaseURL      = "https://queue.fal.run"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTimeout      = 120 * time.Second
)

const maxResponseBytes = 4 << 20

// Queue states reported by the provider.
const (
	stateInQueue    = "IN_QUEUE"
	stateInProgress = "IN_PROGRESS"
	stateCompleted  = "COMPLETED"
)

var models = map[domain.RouteType]string{
	domain.RouteTextToImage: "fal-ai/reve/text-to-image",
	domain.RouteEdit:        "fal-ai/reve/edit",
	domain.RouteRemix:       "fal-ai/reve/remix",
}

// Options configures the Reve queue client.
type Options struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *infra.Logger
	Publisher    status.Publisher
}

// Client submits jobs to the Reve models on the fal queue and polls them to
// completion.
type Client struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
	logger       *infra.Logger
	publisher    status.Publisher
}

type submitResponse struct {
	requestID   string
	statusURL   string
	responseURL string
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
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
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      strings.TrimRight(base, "/"),
		pollInterval: interval,
		timeout:      timeout,
		httpClient:   httpClient,
		logger:       logger,
		publisher:    opts.Publisher,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

func (c *Client) RunTextToImage(ctx context.Context, req domain.GenerationRequest) (domain.BackendResult, error) {
	return c.Run(ctx, req, domain.RouteTextToImage)
}

func (c *Client) RunEdit(ctx context.Context, req domain.GenerationRequest) (domain.BackendResult, error) {
	return c.Run(ctx, req, domain.RouteEdit)
}

func (c *Client) RunRemix(ctx context.Context, req domain.GenerationRequest) (domain.BackendResult, error) {
	return c.Run(ctx, req, domain.RouteRemix)
}

// Run executes one job for route and always returns exactly three images on
// success. On failure it publishes the FAILED event itself and returns an
// error marked as already notified.
func (c *Client) Run(ctx context.Context, req domain.GenerationRequest, route domain.RouteType) (domain.BackendResult, error) {
	res, err := c.run(ctx, req, route)
	if err == nil {
		return res, nil
	}
	e := domain.AsError(err)
	c.logger.Warn().
		Err(err).
		Str("request_id", req.RequestID).
		Str("route", string(route)).
		Int("status", e.HTTPStatus).
		Msg("reve: generation failed")
	if e.AlreadyNotified || c.publisher == nil {
		return domain.BackendResult{}, e
	}
	c.publisher.Publish(domain.FailedEvent(req.RequestID, route, e))
	return domain.BackendResult{}, e.Notified()
}

func (c *Client) run(ctx context.Context, req domain.GenerationRequest, route domain.RouteType) (domain.BackendResult, error) {
	model, ok := models[route]
	if !ok {
		return domain.BackendResult{}, domain.Validation(domain.CodeInvalidBody, fmt.Sprintf("unsupported route %q", route), nil)
	}
	if !c.HasCredentials() {
		return domain.BackendResult{}, domain.Configuration("reve provider key is not configured", domain.ErrMissingAPIKey)
	}
	if parsed, err := url.Parse(c.baseURL); err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return domain.BackendResult{}, domain.Configuration(fmt.Sprintf("reve queue url %q is invalid", c.baseURL), domain.ErrMissingBaseURL)
	}
	if err := generation.ValidateForRoute(req, route); err != nil {
		return domain.BackendResult{}, err
	}

	input, err := buildInput(req, route)
	if err != nil {
		return domain.BackendResult{}, domain.Gateway("failed to encode reve request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	job, err := c.submit(ctx, model, input)
	if err != nil {
		return domain.BackendResult{}, err
	}
	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("provider_request_id", job.requestID).
		Str("model", model).
		Msg("reve: job submitted")

	if err := c.await(ctx, req.RequestID, route, job); err != nil {
		return domain.BackendResult{}, err
	}

	raw, err := c.get(ctx, job.responseURL)
	if err != nil {
		return domain.BackendResult{}, err
	}
	var urls []string
	for _, item := range gjson.GetBytes(raw, "images").Array() {
		if u := strings.TrimSpace(item.Get("url").String()); u != "" {
			urls = append(urls, u)
		} else if item.Type == gjson.String && strings.TrimSpace(item.String()) != "" {
			urls = append(urls, strings.TrimSpace(item.String()))
		}
	}
	if len(urls) == 0 {
		return domain.BackendResult{}, domain.Gateway("reve provider returned no images", domain.ErrProviderFailure)
	}
	if len(urls) != domain.ResultImageCount {
		c.logger.Debug().
			Str("request_id", req.RequestID).
			Int("images", len(urls)).
			Msg("reve: normalizing image count")
	}

	c.logger.Info().
		Str("request_id", req.RequestID).
		Str("model", model).
		Dur("took", time.Since(started)).
		Msg("reve: generation finished")

	return domain.BackendResult{
		Images: NormalizeImages(urls),
		Meta: map[string]any{
			"provider":          "reve",
			"model":             model,
			"providerRequestId": job.requestID,
		},
	}, nil
}

// NormalizeImages returns exactly three urls: extra entries are dropped and a
// short list is padded by repeating its last entry. Blank entries are ignored,
// and an empty input stays empty.
func NormalizeImages(urls []string) []string {
	out := make([]string, 0, domain.ResultImageCount)
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	if len(out) == 0 {
		return out
	}
	if len(out) > domain.ResultImageCount {
		return out[:domain.ResultImageCount]
	}
	for len(out) < domain.ResultImageCount {
		out = append(out, out[len(out)-1])
	}
	return out
}

func buildInput(req domain.GenerationRequest, route domain.RouteType) ([]byte, error) {
	input := map[string]any{
		"prompt":     strings.TrimSpace(req.Prompt),
		"num_images": domain.ResultImageCount,
	}
	for _, key := range []string{"aspect_ratio", "output_format"} {
		if v, ok := req.Extras[key].(string); ok && strings.TrimSpace(v) != "" {
			input[key] = strings.TrimSpace(v)
		}
	}
	switch route {
	case domain.RouteEdit:
		input["image_url"] = imageRef(*req.Image)
	case domain.RouteRemix:
		refs := make([]string, 0, len(req.ReferenceImages)+1)
		for _, img := range req.ReferenceImages {
			if !img.IsZero() {
				refs = append(refs, imageRef(img))
			}
		}
		if len(refs) == 0 && req.Image != nil && !req.Image.IsZero() {
			refs = append(refs, imageRef(*req.Image))
		}
		input["image_urls"] = refs
	}
	return json.Marshal(input)
}

// imageRef returns the image URL, or a base64 data URI for uploaded bytes.
func imageRef(img domain.ImageInput) string {
	if !img.IsBinary() {
		return strings.TrimSpace(img.URL)
	}
	mimeType := strings.TrimSpace(img.MIME)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(img.Data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func (c *Client) submit(ctx context.Context, model string, body []byte) (submitResponse, error) {
	endpoint := c.baseURL + "/" + model
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return submitResponse{}, domain.Configuration("invalid reve endpoint", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	raw, err := c.do(ctx, httpReq)
	if err != nil {
		return submitResponse{}, err
	}

	job := submitResponse{
		requestID:   strings.TrimSpace(gjson.GetBytes(raw, "request_id").String()),
		statusURL:   strings.TrimSpace(gjson.GetBytes(raw, "status_url").String()),
		responseURL: strings.TrimSpace(gjson.GetBytes(raw, "response_url").String()),
	}
	if job.requestID == "" {
		return submitResponse{}, domain.Gateway("reve provider returned no request id", domain.ErrProviderFailure)
	}
	jobBase := endpoint + "/requests/" + url.PathEscape(job.requestID)
	if job.statusURL == "" {
		job.statusURL = jobBase + "/status"
	}
	if job.responseURL == "" {
		job.responseURL = jobBase
	}
	return job, nil
}

// await polls the job status until the provider reports completion,
// publishing one POLLING event per tick.
func (c *Client) await(ctx context.Context, requestID string, route domain.RouteType, job submitResponse) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		raw, err := c.get(ctx, job.statusURL)
		if err != nil {
			return err
		}
		state := strings.ToUpper(strings.TrimSpace(gjson.GetBytes(raw, "status").String()))
		switch state {
		case stateCompleted:
			if msg := gjson.GetBytes(raw, "error"); msg.Exists() && msg.String() != "" {
				return domain.Backend(http.StatusBadGateway, "", msg.String())
			}
			return nil
		case stateInQueue:
			message := "In queue"
			if pos := gjson.GetBytes(raw, "queue_position"); pos.Exists() {
				message = fmt.Sprintf("In queue (position %d)", pos.Int())
			}
			c.publishPolling(requestID, route, message)
		case stateInProgress:
			c.publishPolling(requestID, route, "In progress")
		default:
			return domain.Gateway(fmt.Sprintf("reve provider reported unexpected status %q", state), domain.ErrProviderFailure)
		}

		select {
		case <-ctx.Done():
			return domain.Timeout("reve provider timed out", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) publishPolling(requestID string, route domain.RouteType, message string) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(domain.StatusEvent{
		RequestID: requestID,
		Type:      domain.EventPolling,
		Route:     route,
		Message:   message,
	})
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.Gateway("invalid reve job url", err)
	}
	return c.do(ctx, httpReq)
}

func (c *Client) do(ctx context.Context, httpReq *http.Request) ([]byte, error) {
	httpReq.Header.Set("Authorization", "Key "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, raw)
	}
	return raw, nil
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Timeout("reve provider timed out", err)
	}
	return domain.Gateway("reve provider unreachable", err)
}

// apiError maps a provider error body. Validation failures keep the
// provider's detail payload.
func apiError(status int, raw []byte) error {
	detail := gjson.GetBytes(raw, "detail")
	message := errorMessage(raw, detail)
	if status == http.StatusUnprocessableEntity {
		if message == "" {
			message = "reve provider rejected the request"
		}
		e := domain.Backend(status, domain.CodeProviderValidation, message)
		if detail.Exists() {
			e = e.WithDetails(detail.Value())
		}
		return e
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return domain.Backend(status, "", message)
}

func errorMessage(raw []byte, detail gjson.Result) string {
	switch {
	case detail.Type == gjson.String:
		return strings.TrimSpace(detail.String())
	case detail.IsArray():
		for _, item := range detail.Array() {
			if msg := strings.TrimSpace(item.Get("msg").String()); msg != "" {
				return msg
			}
		}
	}
	if msg := gjson.GetBytes(raw, "error"); msg.Type == gjson.String {
		return strings.TrimSpace(msg.String())
	}
	return strings.TrimSpace(gjson.GetBytes(raw, "message").String())
}
