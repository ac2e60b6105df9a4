package generation

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"dashboard/internal/domain"
)

// Payload is an encoded outbound body ready to be POSTed.
type Payload struct {
	ContentType string
	Body        []byte
}

// IsMultipart reports whether the payload is multipart/form-data.
func (p Payload) IsMultipart() bool {
	return strings.HasPrefix(p.ContentType, "multipart/form-data")
}

// BuildPayload encodes a request for the given route. Text-to-image requests
// without uploaded bytes are sent as compact JSON, everything else as multipart.
func BuildPayload(req domain.GenerationRequest, route domain.RouteType) (Payload, error) {
	if route == domain.RouteTextToImage && !req.HasBinary() {
		return buildJSON(req)
	}
	return buildMultipart(req, route)
}

func buildJSON(req domain.GenerationRequest) (Payload, error) {
	body := make(map[string]any, len(req.Extras)+2)
	for k, v := range req.Extras {
		if k == "mode" {
			continue
		}
		body[k] = v
	}
	body["requestId"] = req.RequestID
	body["prompt"] = req.Prompt
	raw, err := json.Marshal(body)
	if err != nil {
		return Payload{}, fmt.Errorf("encode json payload: %w", err)
	}
	return Payload{ContentType: "application/json", Body: raw}, nil
}

func buildMultipart(req domain.GenerationRequest, route domain.RouteType) (Payload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("requestId", req.RequestID); err != nil {
		return Payload{}, err
	}
	if err := mw.WriteField("prompt", req.Prompt); err != nil {
		return Payload{}, err
	}
	for _, key := range sortedKeys(req.Extras) {
		if key == "mode" {
			continue
		}
		if err := mw.WriteField(key, formatExtra(req.Extras[key])); err != nil {
			return Payload{}, err
		}
	}
	metaKeys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		metaKeys = append(metaKeys, k)
	}
	sort.Strings(metaKeys)
	for _, key := range metaKeys {
		if err := mw.WriteField("metadata["+key+"]", req.Metadata[key]); err != nil {
			return Payload{}, err
		}
	}

	if route != domain.RouteTextToImage && req.Image != nil {
		name := fallbackName(req.Image, req.RequestID+"-image")
		if err := writeImage(mw, "image", *req.Image, name); err != nil {
			return Payload{}, err
		}
	}
	if route == domain.RouteEdit && req.Mask != nil {
		name := fallbackName(req.Mask, req.RequestID+"-mask")
		if err := writeImage(mw, "mask", *req.Mask, name); err != nil {
			return Payload{}, err
		}
	}
	if route == domain.RouteRemix {
		for i, ref := range req.ReferenceImages {
			name := fmt.Sprintf("%s-%d%s", req.RequestID, i+1, extensionFor(ref))
			if err := writeImage(mw, "reference_images", ref, name); err != nil {
				return Payload{}, err
			}
		}
	}

	if err := mw.Close(); err != nil {
		return Payload{}, fmt.Errorf("close multipart payload: %w", err)
	}
	return Payload{ContentType: mw.FormDataContentType(), Body: buf.Bytes()}, nil
}

func writeImage(mw *multipart.Writer, field string, img domain.ImageInput, filename string) error {
	if !img.IsBinary() {
		return mw.WriteField(field, img.URL)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	contentType := strings.TrimSpace(img.MIME)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(img.Data)
	return err
}

func fallbackName(img *domain.ImageInput, base string) string {
	if name := strings.TrimSpace(img.Filename); name != "" {
		return filepath.Base(name)
	}
	return base + extensionFor(*img)
}

func extensionFor(img domain.ImageInput) string {
	if ext := filepath.Ext(strings.TrimSpace(img.Filename)); ext != "" {
		return strings.ToLower(ext)
	}
	if exts, err := mime.ExtensionsByType(strings.TrimSpace(img.MIME)); err == nil && len(exts) > 0 {
		switch img.MIME {
		case "image/jpeg":
			return ".jpg"
		default:
			return exts[0]
		}
	}
	return ".png"
}

func formatExtra(value any) string {
	switch v := value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return stringify(v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
