package generation

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dashboard/internal/domain"
)

func decodeJSONRequest(t *testing.T, body string) domain.GenerationRequest {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	decoded, err := Decode(req, 0)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if _, ok := decoded.(JSONBody); !ok {
		t.Fatalf("expected JSONBody, got %T", decoded)
	}
	return Normalize(decoded)
}

func TestNormalizeJSONClassifiesFields(t *testing.T) {
	got := decodeJSONRequest(t, `{
		"requestId": " req-1 ",
		"prompt": "a red bicycle",
		"mode": "remix",
		"style": "noir",
		"promptOptions": {"a": 1},
		"seed": "42",
		"guidance_scale": 7.5,
		"width": "wide",
		"aspect_ratio": "16:9",
		"campaign": "spring",
		"metadata": {"album": "a1"},
		"metadata[owner]": "u1",
		"reference_images": ["https://example.com/1.png", "  "],
		"referenceImages": ["https://example.com/2.png"],
		"reference_images[]": "https://example.com/3.png"
	}`)

	if got.RequestID != "req-1" {
		t.Fatalf("RequestID = %q, want req-1", got.RequestID)
	}
	if got.Mode != domain.RouteRemix {
		t.Fatalf("Mode = %q, want remix", got.Mode)
	}
	if got.Extras["seed"] != float64(42) || got.Extras["guidance_scale"] != 7.5 {
		t.Fatalf("numeric extras mismatch: %#v", got.Extras)
	}
	if _, ok := got.Extras["width"]; ok {
		t.Fatalf("unparseable width should be dropped: %#v", got.Extras)
	}
	if got.Extras["aspect_ratio"] != "16:9" {
		t.Fatalf("aspect_ratio = %#v", got.Extras["aspect_ratio"])
	}
	for _, key := range []string{"style", "promptOptions", "prompt", "requestId", "mode"} {
		if _, ok := got.Metadata[key]; ok {
			t.Fatalf("metadata should not contain %q: %#v", key, got.Metadata)
		}
		if _, ok := got.Extras[key]; ok {
			t.Fatalf("extras should not contain %q: %#v", key, got.Extras)
		}
	}
	want := map[string]string{"campaign": "spring", "album": "a1", "owner": "u1", "source": DefaultSource}
	for k, v := range want {
		if got.Metadata[k] != v {
			t.Fatalf("metadata[%s] = %q, want %q (all: %#v)", k, got.Metadata[k], v, got.Metadata)
		}
	}
	if len(got.ReferenceImages) != 3 {
		t.Fatalf("reference images = %d, want 3", len(got.ReferenceImages))
	}
	order := []string{"https://example.com/1.png", "https://example.com/2.png", "https://example.com/3.png"}
	for i, url := range order {
		if got.ReferenceImages[i].URL != url {
			t.Fatalf("reference[%d] = %q, want %q", i, got.ReferenceImages[i].URL, url)
		}
	}
}

func TestNormalizeGeneratesRequestIDAndIgnoresUnknownMode(t *testing.T) {
	got := decodeJSONRequest(t, `{"prompt": "hi", "requestId": "   ", "mode": "Edit", "metadata": {"source": "mobile"}}`)
	if strings.TrimSpace(got.RequestID) == "" {
		t.Fatalf("expected generated request id")
	}
	if got.Mode != "" {
		t.Fatalf("Mode = %q, want empty", got.Mode)
	}
	if got.Metadata["source"] != "mobile" {
		t.Fatalf("source = %q, want mobile", got.Metadata["source"])
	}
}

func TestNormalizeMultipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("prompt", "swap the sky")
	_ = mw.WriteField("requestId", "mp-1")
	_ = mw.WriteField("num_inference_steps", "30")
	_ = mw.WriteField("metadata[album]", "summer")
	_ = mw.WriteField("lighting", "soft")
	fw, _ := mw.CreateFormFile("image", "photo.jpg")
	_, _ = fw.Write([]byte{0xff, 0xd8, 0xff})
	empty, _ := mw.CreateFormFile("mask", "mask.png")
	_, _ = empty.Write(nil)
	ref, _ := mw.CreateFormFile("referenceImages", "ref.png")
	_, _ = ref.Write([]byte{0x89, 0x50})
	_ = mw.WriteField("reference_images", "https://example.com/a.png")
	_ = mw.WriteField("reference_images", "   ")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/generate", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	decoded, err := Decode(req, 0)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	got := Normalize(decoded)

	if got.RequestID != "mp-1" || got.Prompt != "swap the sky" {
		t.Fatalf("unexpected identity: %q %q", got.RequestID, got.Prompt)
	}
	if got.Image == nil || !got.Image.IsBinary() || got.Image.Filename != "photo.jpg" {
		t.Fatalf("image not decoded: %#v", got.Image)
	}
	if got.Mask != nil {
		t.Fatalf("empty mask upload should be dropped")
	}
	if len(got.ReferenceImages) != 2 {
		t.Fatalf("reference images = %d, want 2", len(got.ReferenceImages))
	}
	if got.ReferenceImages[0].URL != "https://example.com/a.png" || !got.ReferenceImages[1].IsBinary() {
		t.Fatalf("reference alias order mismatch: %#v", got.ReferenceImages)
	}
	if got.Extras["num_inference_steps"] != float64(30) {
		t.Fatalf("extras = %#v", got.Extras)
	}
	if got.Metadata["album"] != "summer" {
		t.Fatalf("metadata = %#v", got.Metadata)
	}
	if _, ok := got.Metadata["lighting"]; ok {
		t.Fatalf("ignored field leaked into metadata")
	}
}

func TestDecodeUnknownContentTypeIsEmptyMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader("prompt=hi"))
	req.Header.Set("Content-Type", "text/plain")
	decoded, err := Decode(req, 0)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	body, ok := decoded.(MultipartBody)
	if !ok || len(body.Parts) != 0 {
		t.Fatalf("expected empty multipart body, got %#v", decoded)
	}
	got := Normalize(decoded)
	if got.Prompt != "" || got.RequestID == "" {
		t.Fatalf("unexpected normalized request: %#v", got)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader("{nope"))
	req.Header.Set("Content-Type", "application/json")
	_, err := Decode(req, 0)
	e := domain.AsError(err)
	if e == nil || e.Code != domain.CodeInvalidBody || e.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("expected invalid body error, got %v", err)
	}
}
