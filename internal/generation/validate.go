package generation

import (
	"strings"

	"dashboard/internal/domain"
)

// ValidateForRoute rejects requests that cannot be served before any backend
// is contacted.
func ValidateForRoute(req domain.GenerationRequest, route domain.RouteType) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.Validation(domain.CodeInvalidPrompt, "prompt is required", domain.ErrInvalidPrompt)
	}
	switch route {
	case domain.RouteEdit:
		if req.Image == nil {
			return domain.Validation(domain.CodeMissingImage, "an image is required for edit", domain.ErrMissingImage)
		}
	case domain.RouteRemix:
		if len(req.ReferenceImages) == 0 && req.Image == nil {
			return domain.Validation(domain.CodeMissingReference, "at least one reference image is required for remix", domain.ErrMissingReference)
		}
	}
	return nil
}
