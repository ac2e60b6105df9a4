package generation

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"dashboard/internal/domain"
)

var editKeywords = []string{
	"edit",
	"replace",
	"remove",
	"erase",
	"inpaint",
	"retouch",
	"swap",
	"clean",
	"modify",
	"change",
}

// DetermineRoute picks the generation mode for a request. The checks run in a
// fixed precedence order:
//
//  1. an explicit mode always wins
//  2. two or more reference images mean remix
//  3. an image means edit when a mask is present, the prompt asks for an
//     edit, or there are no reference images
//  4. one reference image means remix, even when an image was also sent
//  5. otherwise text-to-image
//
// An image with exactly one reference and no edit signal lands in step 4. The
// renders payload still attaches that image; the reve remix input uses only
// the reference.
func DetermineRoute(req domain.GenerationRequest) domain.RouteType {
	if req.Mode != "" {
		return req.Mode
	}
	refs := len(req.ReferenceImages)
	if refs >= 2 {
		return domain.RouteRemix
	}
	if req.Image != nil {
		if req.Mask != nil || hasEditKeyword(req.Prompt) || refs == 0 {
			return domain.RouteEdit
		}
	}
	if refs >= 1 {
		return domain.RouteRemix
	}
	return domain.RouteTextToImage
}

func hasEditKeyword(prompt string) bool {
	lower := cases.Lower(language.Und).String(prompt)
	for _, kw := range editKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
