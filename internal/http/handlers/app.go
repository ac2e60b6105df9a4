package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"dashboard/internal/domain"
	"dashboard/internal/generation"
	"dashboard/internal/infra"
	"dashboard/internal/status"
	"dashboard/internal/timeline"
)

// HeartbeatInterval is the keep-alive cadence of status streams.
const HeartbeatInterval = 15 * time.Second

// RendersBackend is the internal renders proxy.
type RendersBackend interface {
	Generate(ctx context.Context, req domain.GenerationRequest, route domain.RouteType) (domain.BackendResult, error)
}

// ProviderBackend is the direct submit-and-poll provider.
type ProviderBackend interface {
	Run(ctx context.Context, req domain.GenerationRequest, route domain.RouteType) (domain.BackendResult, error)
}

type App struct {
	Bus          *status.Bus
	Renders      RendersBackend
	Provider     ProviderBackend
	Recorder     timeline.Recorder
	Metrics      *infra.Metrics
	Logger       zerolog.Logger
	Backend      string
	MaxBodyBytes int64
	Heartbeat    time.Duration
}

// NewApp wires the handler container. Optional collaborators fall back to
// no-op implementations.
func NewApp(bus *status.Bus, renders RendersBackend, provider ProviderBackend, opts ...AppOption) *App {
	a := &App{
		Bus:          bus,
		Renders:      renders,
		Provider:     provider,
		Recorder:     timeline.NopRecorder{},
		Logger:       zerolog.New(io.Discard),
		Backend:      infra.BackendRenders,
		MaxBodyBytes: generation.DefaultMaxBodyBytes,
		Heartbeat:    HeartbeatInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type AppOption func(*App)

func WithRecorder(r timeline.Recorder) AppOption {
	return func(a *App) {
		if r != nil {
			a.Recorder = r
		}
	}
}

func WithMetrics(m *infra.Metrics) AppOption {
	return func(a *App) { a.Metrics = m }
}

func WithLogger(l zerolog.Logger) AppOption {
	return func(a *App) { a.Logger = l }
}

// WithBackend selects the backend used by POST /api/generate.
func WithBackend(name string) AppOption {
	return func(a *App) {
		if name != "" {
			a.Backend = name
		}
	}
}

func WithHeartbeat(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.Heartbeat = d
		}
	}
}

type errorResponse struct {
	Error *domain.ErrorInfo `json:"error"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, e *domain.Error) {
	a.json(w, e.HTTPStatus, errorResponse{Error: e.Info()})
}
