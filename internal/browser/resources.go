package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceNames maps the config spelling of a resource class onto its CDP
// type. Singular and plural forms are both accepted.
var resourceNames = map[string]proto.NetworkResourceType{
	"image":       proto.NetworkResourceTypeImage,
	"images":      proto.NetworkResourceTypeImage,
	"font":        proto.NetworkResourceTypeFont,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheet":  proto.NetworkResourceTypeStylesheet,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
	"script":      proto.NetworkResourceTypeScript,
	"scripts":     proto.NetworkResourceTypeScript,
}

// blockedTypes resolves config names. Unknown names are returned apart so
// the caller can log them.
func blockedTypes(names []string) (map[proto.NetworkResourceType]bool, []string) {
	set := make(map[proto.NetworkResourceType]bool, len(names))
	var unknown []string
	for _, n := range names {
		t, ok := resourceNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		set[t] = true
	}
	return set, unknown
}

// blockResources fails the page's requests whose type is in blocked. The
// returned router must be stopped when the tab goes away.
func blockResources(page *rod.Page, blocked map[proto.NetworkResourceType]bool) (*rod.HijackRouter, error) {
	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if blocked[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, err
	}
	go router.Run()
	return router, nil
}
