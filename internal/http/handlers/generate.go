package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"dashboard/internal/domain"
	"dashboard/internal/generation"
	"dashboard/internal/infra"
	"dashboard/internal/timeline"
)

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

type generateMeta struct {
	Route     domain.RouteType `json:"route"`
	RequestID string           `json:"requestId"`
	Backend   string           `json:"backend"`
	Extra     map[string]any   `json:"extra,omitempty"`
}

type generateResponse struct {
	Images []string     `json:"images"`
	Meta   generateMeta `json:"meta"`
}

// Generate dispatches to the configured backend and classifies the route
// from the request itself.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, a.Backend, "")
}

func (a *App) ReveTextToImage(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, infra.BackendReve, domain.RouteTextToImage)
}

func (a *App) ReveEdit(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, infra.BackendReve, domain.RouteEdit)
}

func (a *App) ReveRemix(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, infra.BackendReve, domain.RouteRemix)
}

func (a *App) generate(w http.ResponseWriter, r *http.Request, backend string, forced domain.RouteType) {
	started := time.Now()

	decoded, err := generation.Decode(r, a.MaxBodyBytes)
	if err != nil {
		e := domain.AsError(err)
		a.Logger.Warn().Err(err).Msg("generate: rejected body")
		a.Metrics.ObserveGeneration(backend, "unknown", outcomeRejected, time.Since(started).Seconds())
		a.error(w, e)
		return
	}

	req := generation.Normalize(decoded)
	if forced != "" {
		req.Mode = forced
	}
	route := generation.DetermineRoute(req)
	log := a.Logger.With().
		Str("request_id", req.RequestID).
		Str("route", string(route)).
		Str("backend", backend).
		Logger()

	if err := generation.ValidateForRoute(req, route); err != nil {
		e := domain.AsError(err)
		a.Bus.Publish(domain.FailedEvent(req.RequestID, route, e))
		log.Info().Str("code", e.Code).Msg("generate: validation failed")
		a.Metrics.ObserveGeneration(backend, string(route), outcomeRejected, time.Since(started).Seconds())
		a.error(w, e)
		return
	}

	a.Bus.Publish(domain.StatusEvent{
		RequestID: req.RequestID,
		Type:      domain.EventQueued,
		Route:     route,
		Message:   "Queued",
	})
	a.Bus.Publish(domain.StatusEvent{
		RequestID: req.RequestID,
		Type:      domain.EventStarted,
		Route:     route,
		Message:   fmt.Sprintf("Generating with %s", backend),
	})

	// The job outlives a dropped POST connection; each backend bounds it with
	// its own timeout.
	ctx := context.WithoutCancel(r.Context())
	res, err := a.invoke(ctx, backend, req, route)
	elapsed := time.Since(started)
	if err != nil {
		e := domain.AsError(err)
		if !e.AlreadyNotified {
			a.Bus.Publish(domain.FailedEvent(req.RequestID, route, e))
		}
		logFailure(log, e, err)
		a.Metrics.ObserveGeneration(backend, string(route), outcomeFailed, elapsed.Seconds())
		a.record(ctx, log, timeline.Record{
			RequestID: req.RequestID,
			Route:     route,
			Backend:   backend,
			Outcome:   timeline.OutcomeFailed,
			Prompt:    req.Prompt,
			ErrorCode: e.Code,
			Metadata:  req.Metadata,
			Duration:  elapsed,
		})
		a.error(w, e)
		return
	}

	progress := 1.0
	a.Bus.Publish(domain.StatusEvent{
		RequestID: req.RequestID,
		Type:      domain.EventCompleted,
		Route:     route,
		Message:   "Completed",
		Progress:  &progress,
		Previews:  res.Images,
	})
	log.Info().Int("images", len(res.Images)).Dur("took", elapsed).Msg("generate: completed")
	a.Metrics.ObserveGeneration(backend, string(route), outcomeCompleted, elapsed.Seconds())
	a.record(ctx, log, timeline.Record{
		RequestID: req.RequestID,
		Route:     route,
		Backend:   backend,
		Outcome:   timeline.OutcomeCompleted,
		Prompt:    req.Prompt,
		Images:    res.Images,
		Metadata:  req.Metadata,
		Duration:  elapsed,
	})

	images := res.Images
	if images == nil {
		images = []string{}
	}
	a.json(w, http.StatusOK, generateResponse{
		Images: images,
		Meta: generateMeta{
			Route:     route,
			RequestID: req.RequestID,
			Backend:   backend,
			Extra:     res.Meta,
		},
	})
}

func (a *App) invoke(ctx context.Context, backend string, req domain.GenerationRequest, route domain.RouteType) (domain.BackendResult, error) {
	switch backend {
	case infra.BackendReve:
		if a.Provider == nil {
			return domain.BackendResult{}, domain.Configuration("reve provider is not configured", nil)
		}
		return a.Provider.Run(ctx, req, route)
	default:
		if a.Renders == nil {
			return domain.BackendResult{}, domain.Configuration("renders backend is not configured", nil)
		}
		return a.Renders.Generate(ctx, req, route)
	}
}

func (a *App) record(ctx context.Context, log zerolog.Logger, rec timeline.Record) {
	if a.Recorder == nil {
		return
	}
	if err := a.Recorder.Record(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("generate: timeline record failed")
	}
}

func logFailure(log zerolog.Logger, e *domain.Error, err error) {
	evt := log.Warn()
	if e.HTTPStatus >= http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Err(err).
		Str("code", e.Code).
		Int("status", e.HTTPStatus).
		Bool("already_notified", e.AlreadyNotified).
		Msg("generate: failed")
}
