package generation

import (
	"testing"

	"dashboard/internal/domain"
)

func TestDetermineRoute(t *testing.T) {
	img := &domain.ImageInput{URL: "https://example.com/in.png"}
	mask := &domain.ImageInput{Data: []byte{1, 2, 3}}
	one := []domain.ImageInput{{URL: "https://example.com/r1.png"}}
	two := []domain.ImageInput{{URL: "https://example.com/r1.png"}, {URL: "https://example.com/r2.png"}}

	tests := []struct {
		name string
		req  domain.GenerationRequest
		want domain.RouteType
	}{
		{
			name: "text only",
			req:  domain.GenerationRequest{Prompt: "Stylish outfit in studio lighting"},
			want: domain.RouteTextToImage,
		},
		{
			name: "mode wins over everything",
			req:  domain.GenerationRequest{Prompt: "edit", Image: img, Mask: mask, ReferenceImages: two, Mode: domain.RouteTextToImage},
			want: domain.RouteTextToImage,
		},
		{
			name: "two references remix regardless of image and mask",
			req:  domain.GenerationRequest{Prompt: "edit this", Image: img, Mask: mask, ReferenceImages: two},
			want: domain.RouteRemix,
		},
		{
			name: "edit keyword with image",
			req:  domain.GenerationRequest{Prompt: "edit this logo", Image: img},
			want: domain.RouteEdit,
		},
		{
			name: "uppercase keyword",
			req:  domain.GenerationRequest{Prompt: "REMOVE the background", Image: img, ReferenceImages: one},
			want: domain.RouteEdit,
		},
		{
			name: "mask with image and reference",
			req:  domain.GenerationRequest{Prompt: "a cat", Image: img, Mask: mask, ReferenceImages: one},
			want: domain.RouteEdit,
		},
		{
			name: "image without references",
			req:  domain.GenerationRequest{Prompt: "a cat", Image: img},
			want: domain.RouteEdit,
		},
		{
			name: "image with single reference falls through to remix",
			req:  domain.GenerationRequest{Prompt: "a cat", Image: img, ReferenceImages: one},
			want: domain.RouteRemix,
		},
		{
			name: "single reference without image",
			req:  domain.GenerationRequest{Prompt: "a cat", ReferenceImages: one},
			want: domain.RouteRemix,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetermineRoute(tc.req); got != tc.want {
				t.Fatalf("DetermineRoute() = %q, want %q", got, tc.want)
			}
			if again := DetermineRoute(tc.req); again != tc.want {
				t.Fatalf("DetermineRoute() not deterministic: %q then %q", tc.want, again)
			}
		})
	}
}

func TestValidateForRoute(t *testing.T) {
	tests := []struct {
		name     string
		req      domain.GenerationRequest
		route    domain.RouteType
		wantCode string
	}{
		{name: "blank prompt", req: domain.GenerationRequest{Prompt: "   "}, route: domain.RouteTextToImage, wantCode: domain.CodeInvalidPrompt},
		{name: "edit without image", req: domain.GenerationRequest{Prompt: "fix"}, route: domain.RouteEdit, wantCode: domain.CodeMissingImage},
		{name: "remix without references", req: domain.GenerationRequest{Prompt: "mix"}, route: domain.RouteRemix, wantCode: domain.CodeMissingReference},
		{name: "valid text", req: domain.GenerationRequest{Prompt: "a cat"}, route: domain.RouteTextToImage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateForRoute(tc.req, tc.route)
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			e := domain.AsError(err)
			if e == nil || e.Code != tc.wantCode || e.HTTPStatus != 400 {
				t.Fatalf("error = %+v, want code %s with 400", e, tc.wantCode)
			}
		})
	}
}
