// Package timeline records finished generations for the user's album
// timeline. Recording is best effort and never changes a request's outcome.
package timeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"dashboard/internal/domain"
	"dashboard/internal/infra"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Record describes one finished generation.
type Record struct {
	RequestID  string
	Route      domain.RouteType
	Backend    string
	Outcome    string
	Prompt     string
	Images     []string
	ErrorCode  string
	Metadata   map[string]string
	Duration   time.Duration
	FinishedAt time.Time
}

// Recorder persists finished generations.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// NopRecorder drops every record.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Record) error { return nil }

// PGRecorder writes records into the generation_results table.
type PGRecorder struct {
	exec infra.SQLExecutor
}

func NewPGRecorder(exec infra.SQLExecutor) *PGRecorder {
	return &PGRecorder{exec: exec}
}

// EnsureSchema creates the generation_results table when missing.
func (r *PGRecorder) EnsureSchema(ctx context.Context) error {
	_, err := r.exec.Exec(ctx, qEnsureGenerationResults)
	if err != nil {
		return fmt.Errorf("ensure generation_results: %w", err)
	}
	return nil
}

// Record upserts rec keyed by request id.
func (r *PGRecorder) Record(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.RequestID) == "" {
		return fmt.Errorf("timeline: request id is required")
	}
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("timeline: encode metadata: %w", err)
	}
	images := rec.Images
	if images == nil {
		images = []string{}
	}
	finished := rec.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	var errorCode any
	if rec.ErrorCode != "" {
		errorCode = rec.ErrorCode
	}

	_, err = r.exec.Exec(ctx, qUpsertGenerationResult,
		rec.RequestID,
		string(rec.Route),
		rec.Backend,
		rec.Outcome,
		rec.Prompt,
		images,
		errorCode,
		string(metaJSON),
		rec.Duration.Milliseconds(),
		finished,
	)
	if err != nil {
		return fmt.Errorf("timeline: insert %s: %w", rec.RequestID, err)
	}
	return nil
}

var (
	_ Recorder = NopRecorder{}
	_ Recorder = (*PGRecorder)(nil)
)
