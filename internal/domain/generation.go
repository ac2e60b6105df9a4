package domain

import "strings"

// RouteType enumerates the generation modes understood by the backends.
type RouteType string

const (
	RouteTextToImage RouteType = "text-to-image"
	RouteEdit        RouteType = "edit"
	RouteRemix       RouteType = "remix"
)

// ParseRoute accepts only the exact route literals.
func ParseRoute(value string) (RouteType, bool) {
	switch RouteType(value) {
	case RouteTextToImage, RouteEdit, RouteRemix:
		return RouteType(value), true
	default:
		return "", false
	}
}

// ImageInput references an image either as uploaded bytes or as a URL.
type ImageInput struct {
	Data     []byte
	Filename string
	MIME     string
	URL      string
}

// IsBinary reports whether the input carries uploaded bytes.
func (i ImageInput) IsBinary() bool {
	return len(i.Data) > 0
}

// IsZero reports whether the input carries neither bytes nor a URL.
func (i ImageInput) IsZero() bool {
	return len(i.Data) == 0 && strings.TrimSpace(i.URL) == ""
}

// GenerationRequest is the canonical form of an inbound generation call.
// It is built once by the normalizer and treated as read-only afterwards.
type GenerationRequest struct {
	RequestID       string
	Prompt          string
	Image           *ImageInput
	Mask            *ImageInput
	ReferenceImages []ImageInput
	Metadata        map[string]string
	Extras          map[string]any
	Mode            RouteType
}

// HasBinary reports whether any attached image carries raw bytes.
func (r GenerationRequest) HasBinary() bool {
	if r.Image != nil && r.Image.IsBinary() {
		return true
	}
	if r.Mask != nil && r.Mask.IsBinary() {
		return true
	}
	for _, ref := range r.ReferenceImages {
		if ref.IsBinary() {
			return true
		}
	}
	return false
}

// BackendResult is the normalized outcome of a generation call.
type BackendResult struct {
	Images []string       `json:"images"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// ResultImageCount is the number of images every generation returns.
const ResultImageCount = 3
