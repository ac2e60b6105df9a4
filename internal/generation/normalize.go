package generation

import (
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"dashboard/internal/domain"
)

// DefaultSource is written to metadata["source"] when the caller sends none.
const DefaultSource = "dashboard"

// Prompt-layer hints the client uses to compose the prompt text. They never
// reach a backend.
var ignoredFields = map[string]struct{}{
	"style":         {},
	"quality":       {},
	"mood":          {},
	"camera":        {},
	"lighting":      {},
	"composition":   {},
	"colorPalette":  {},
	"era":           {},
	"genre":         {},
	"preset":        {},
	"subclass":      {},
	"promptOptions": {},
}

var numericExtras = map[string]struct{}{
	"seed":                {},
	"guidance_scale":      {},
	"width":               {},
	"height":              {},
	"num_inference_steps": {},
}

var stringExtras = map[string]struct{}{
	"aspect_ratio":  {},
	"output_format": {},
}

var reservedFields = map[string]struct{}{
	"prompt":    {},
	"image":     {},
	"image_url": {},
	"mask":      {},
	"requestId": {},
	"mode":      {},
	"metadata":  {},
}

// referenceAliases are merged in this order.
var referenceAliases = []string{"reference_images", "referenceImages", "reference_images[]", "referenceImages[]"}

func isReferenceAlias(key string) bool {
	for _, alias := range referenceAliases {
		if key == alias {
			return true
		}
	}
	return false
}

// Normalize turns a decoded body into the canonical GenerationRequest.
func Normalize(d DecodedRequest) domain.GenerationRequest {
	switch body := d.(type) {
	case JSONBody:
		return normalizeJSON(body)
	case MultipartBody:
		return normalizeMultipart(body)
	default:
		return normalizeMultipart(MultipartBody{})
	}
}

func newRequest() domain.GenerationRequest {
	return domain.GenerationRequest{
		ReferenceImages: []domain.ImageInput{},
		Metadata:        map[string]string{},
		Extras:          map[string]any{},
	}
}

func finish(req domain.GenerationRequest, requestID string) domain.GenerationRequest {
	if id := strings.TrimSpace(requestID); id != "" {
		req.RequestID = id
	} else {
		req.RequestID = uuid.NewString()
	}
	if strings.TrimSpace(req.Metadata["source"]) == "" {
		req.Metadata["source"] = DefaultSource
	}
	return req
}

func normalizeJSON(body JSONBody) domain.GenerationRequest {
	req := newRequest()
	fields := body.Fields

	req.Prompt = stringify(fields["prompt"])
	req.Mode = parseMode(stringify(fields["mode"]))
	req.Image = jsonImage(fields["image"])
	if req.Image == nil {
		req.Image = jsonImage(fields["image_url"])
	}
	req.Mask = jsonImage(fields["mask"])
	for _, alias := range referenceAliases {
		req.ReferenceImages = append(req.ReferenceImages, jsonReferences(fields[alias])...)
	}
	if meta, ok := fields["metadata"].(map[string]any); ok {
		for k, v := range meta {
			if s := stringify(v); s != "" {
				req.Metadata[k] = s
			}
		}
	}

	for key, value := range fields {
		if isReferenceAlias(key) {
			continue
		}
		if rest, ok := metadataKey(key); ok {
			if s := stringify(value); s != "" {
				req.Metadata[rest] = s
			}
			continue
		}
		classify(&req, key, value)
	}
	return finish(req, stringify(fields["requestId"]))
}

func normalizeMultipart(body MultipartBody) domain.GenerationRequest {
	req := newRequest()
	var requestID string

	for _, part := range body.Parts {
		key := part.Name
		switch {
		case key == "prompt":
			if !part.IsFile {
				req.Prompt = part.Value
			}
		case key == "requestId":
			if !part.IsFile {
				requestID = part.Value
			}
		case key == "mode":
			if !part.IsFile {
				req.Mode = parseMode(part.Value)
			}
		case key == "image" || key == "image_url":
			if req.Image == nil {
				req.Image = partImage(part)
			}
		case key == "mask":
			if req.Mask == nil {
				req.Mask = partImage(part)
			}
		case isReferenceAlias(key):
			// collected below in alias order
		case key == "metadata":
			if part.IsFile {
				continue
			}
			var meta map[string]any
			if err := json.Unmarshal([]byte(part.Value), &meta); err == nil {
				for k, v := range meta {
					if s := stringify(v); s != "" {
						req.Metadata[k] = s
					}
				}
			}
		default:
			if part.IsFile {
				continue
			}
			if rest, ok := metadataKey(key); ok {
				if strings.TrimSpace(part.Value) != "" {
					req.Metadata[rest] = part.Value
				}
				continue
			}
			classify(&req, key, part.Value)
		}
	}

	for _, alias := range referenceAliases {
		for _, part := range body.Parts {
			if part.Name != alias {
				continue
			}
			if img := partImage(part); img != nil {
				req.ReferenceImages = append(req.ReferenceImages, *img)
			}
		}
	}
	return finish(req, requestID)
}

// classify routes a non-reserved field into extras or metadata.
func classify(req *domain.GenerationRequest, key string, value any) {
	if _, skip := reservedFields[key]; skip {
		return
	}
	if _, skip := ignoredFields[key]; skip {
		return
	}
	if _, ok := numericExtras[key]; ok {
		if n, ok := toNumber(value); ok {
			req.Extras[key] = n
		}
		return
	}
	if _, ok := stringExtras[key]; ok {
		if s := strings.TrimSpace(stringify(value)); s != "" {
			req.Extras[key] = s
		}
		return
	}
	if s := stringify(value); s != "" {
		req.Metadata[key] = s
	}
}

// metadataKey extracts "key" from a bracketed "metadata[key]" field name.
func metadataKey(field string) (string, bool) {
	if !strings.HasPrefix(field, "metadata[") || !strings.HasSuffix(field, "]") {
		return "", false
	}
	inner := field[len("metadata[") : len(field)-1]
	if strings.TrimSpace(inner) == "" {
		return "", false
	}
	return inner, true
}

func parseMode(value string) domain.RouteType {
	route, ok := domain.ParseRoute(value)
	if !ok {
		return ""
	}
	return route
}

func jsonImage(value any) *domain.ImageInput {
	s, ok := value.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	return &domain.ImageInput{URL: strings.TrimSpace(s)}
}

func jsonReferences(value any) []domain.ImageInput {
	var out []domain.ImageInput
	switch v := value.(type) {
	case string:
		if img := jsonImage(v); img != nil {
			out = append(out, *img)
		}
	case []any:
		for _, entry := range v {
			if img := jsonImage(entry); img != nil {
				out = append(out, *img)
			}
		}
	}
	return out
}

func partImage(part FormPart) *domain.ImageInput {
	if part.IsFile {
		if len(part.Data) == 0 {
			return nil
		}
		return &domain.ImageInput{Data: part.Data, Filename: part.Filename, MIME: part.MIME}
	}
	if strings.TrimSpace(part.Value) == "" {
		return nil
	}
	return &domain.ImageInput{URL: strings.TrimSpace(part.Value)}
}

func toNumber(value any) (float64, bool) {
	var (
		n   float64
		err error
	)
	switch v := value.(type) {
	case json.Number:
		n, err = v.Float64()
	case float64:
		n = v
	case int:
		n = float64(v)
	case string:
		n, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
