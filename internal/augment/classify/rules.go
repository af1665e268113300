// internal/augment/classify/rules.go
package classify

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/browser/parser"
	"github.com/xkilldash9x/depthlens/internal/browser/style"
)

// Rule is one row of the classifier table. Check returns true to reject.
type Rule struct {
	Name   string
	Layer  int
	Reason core.RejectReason
	Check  func(c *Classifier, cand *core.Candidate) (bool, string)
}

// DefaultRules is the stock table, cheapest and most certain first.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "hidden", Layer: 1, Reason: core.ReasonHidden, Check: checkHidden},
		{Name: "zero-area", Layer: 1, Reason: core.ReasonZeroArea, Check: checkZeroArea},
		{Name: "off-viewport", Layer: 1, Reason: core.ReasonOffViewport, Check: checkViewport},
		{Name: "extreme-aspect", Layer: 2, Reason: core.ReasonExtremeAspect, Check: checkAspect},
		{Name: "icon-like", Layer: 2, Reason: core.ReasonIconLike, Check: checkIconLike},
		{Name: "ui-keyword", Layer: 3, Reason: core.ReasonKeyword, Check: checkKeywords},
		{Name: "context", Layer: 4, Reason: core.ReasonContext, Check: checkContext},
		{Name: "video-context", Layer: 5, Reason: core.ReasonVideoContext, Check: checkVideo},
		{Name: "occluded", Layer: 6, Reason: core.ReasonOccluded, Check: checkOcclusion},
		{Name: "already-tracked", Layer: 6, Reason: core.ReasonTracked, Check: checkTracked},
		{Name: "generated-artifact", Layer: 6, Reason: core.ReasonGeneratedArtifact, Check: checkArtifact},
	}
}

// -- Rule data --

// DefaultKeywords are UI words that mark sprites, chrome and trackers.
var DefaultKeywords = []string{
	"logo", "icon", "icons", "favicon", "avatar", "sprite", "emoji", "badge",
	"button", "btn", "spinner", "loader", "loading", "placeholder", "spacer",
	"pixel", "tracking", "tracker", "beacon", "flag", "arrow", "caret",
	"chevron", "hamburger", "ad", "ads", "advert", "advertisement", "sponsor",
	"captcha", "qr", "rating", "thumb", "thumbnail", "profile-pic", "gravatar",
}

// ContextRule is a selector whose match on any ancestor disqualifies the
// image. Category groups rules for site exceptions.
type ContextRule struct {
	Category string
	Selector string
}

// DefaultContextRules cover navigation, advertising, social and thumbnail
// containers.
var DefaultContextRules = []ContextRule{
	{Category: "navigation", Selector: "nav, [role=navigation], .nav, .navbar, .menu, .breadcrumb, .breadcrumbs, footer"},
	{Category: "advertisement", Selector: ".ad, .ads, .advert, .advertisement, .sponsored, [id^=google_ads], [id^=div-gpt-ad], ins.adsbygoogle, [data-ad-slot]"},
	{Category: "social", Selector: ".social, .share, .sharing, .share-buttons, [class*=social-]"},
	{Category: "thumbnail", Selector: ".thumbnail, .thumbnails, .thumb, .avatar, .avatars"},
}

// VideoSignatures identify players and streaming state near an image.
type VideoSignatures struct {
	// Selectors match player elements.
	Selectors string
	// Markers are substrings that, found in a src-like attribute, indicate a
	// streaming manifest or blob-backed media source.
	Markers []string
	// Controls match audio and playback control indicators.
	Controls string
}

// DefaultVideoSignatures is the stock player and stream signature set.
var DefaultVideoSignatures = VideoSignatures{
	Selectors: "video, .video-js, .jwplayer, .plyr, .vjs-poster, .html5-video-player, .ytp-cued-thumbnail-overlay, " +
		"[data-video-id], [data-vimeo-id], iframe[src*=youtube.com], iframe[src*=player.vimeo.com]",
	Markers:  []string{".m3u8", ".mpd", "blob:", "manifest.mpd"},
	Controls: "[class*=volume], [class*=mute], [aria-label*=Mute], [aria-label*=Volume], .play-button, [class*=play-btn]",
}

// SiteException relaxes keyword and context rules for one host and its
// subdomains. Wikipedia, for instance, serves article figures from /thumb/
// paths inside .thumb containers.
type SiteException struct {
	Host              string
	AllowKeywords     []string
	AllowContext      []string
	AllowVideoContext bool
}

// DefaultSiteExceptions is the documented allow-list.
var DefaultSiteExceptions = []SiteException{
	{Host: "wikipedia.org", AllowKeywords: []string{"thumb"}, AllowContext: []string{"thumbnail"}},
	{Host: "wikimedia.org", AllowKeywords: []string{"thumb"}, AllowContext: []string{"thumbnail"}},
	{Host: "flickr.com", AllowKeywords: []string{"thumb", "thumbnail"}},
}

// Matches reports whether the exception applies to host.
func (e SiteException) Matches(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	want := strings.ToLower(e.Host)
	return host == want || strings.HasSuffix(host, "."+want)
}

type compiledContext struct {
	category string
	group    parser.SelectorGroup
}

func compileContext(rules []ContextRule) ([]compiledContext, error) {
	out := make([]compiledContext, 0, len(rules))
	for _, r := range rules {
		g, err := parser.ParseSelectorGroup(r.Selector)
		if err != nil {
			return nil, fmt.Errorf("context rule %q: %w", r.Category, err)
		}
		out = append(out, compiledContext{category: r.Category, group: g})
	}
	return out, nil
}

// -- Layer 1: visibility and geometry --

func checkHidden(_ *Classifier, cand *core.Candidate) (bool, string) {
	s := cand.Style
	switch {
	case s.Display == "none":
		return true, "display:none"
	case s.Visibility == "hidden" || s.Visibility == "collapse":
		return true, "visibility:" + s.Visibility
	case s.Opacity <= 0:
		return true, "opacity:0"
	}
	return false, ""
}

func checkZeroArea(_ *Classifier, cand *core.Candidate) (bool, string) {
	if cand.Rect.Width <= 0 || cand.Rect.Height <= 0 {
		return true, fmt.Sprintf("rendered %.0fx%.0f", cand.Rect.Width, cand.Rect.Height)
	}
	return false, ""
}

func checkViewport(c *Classifier, cand *core.Candidate) (bool, string) {
	p := c.policy
	vw, vh := cand.Viewport.Width, cand.Viewport.Height
	if vw <= 0 || vh <= 0 {
		return false, ""
	}
	r := cand.Rect
	switch {
	case r.Bottom() < -p.ViewportAbove*vh:
		return true, "far above viewport"
	case r.Y > vh+p.ViewportBelow*vh:
		return true, "far below viewport"
	case r.Right() < -p.ViewportLeft*vw:
		return true, "far left of viewport"
	case r.X > vw+p.ViewportRight*vw:
		return true, "far right of viewport"
	}
	return false, ""
}

// -- Layer 2: shape --

func checkAspect(c *Classifier, cand *core.Candidate) (bool, string) {
	w, h := cand.Rect.Width, cand.Rect.Height
	ratio := math.Max(w/h, h/w)
	if ratio > c.policy.MaxAspectRatio {
		return true, fmt.Sprintf("aspect %.1f:1", ratio)
	}
	return false, ""
}

func checkIconLike(c *Classifier, cand *core.Candidate) (bool, string) {
	w, h := cand.Rect.Width, cand.Rect.Height
	limit := c.policy.IconMaxSide
	if w > limit || h > limit {
		return false, ""
	}
	if math.Abs(w-h)/math.Max(w, h) <= c.policy.IconSquareTolerance {
		return true, fmt.Sprintf("near-square %.0fx%.0f", w, h)
	}
	return false, ""
}

// -- Layer 3: semantics --

func checkKeywords(c *Classifier, cand *core.Candidate) (bool, string) {
	allow := c.allowedKeywords(cand.Host)
	if w, ok := c.keywords.Match(cand.Alt, allow); ok {
		return true, "alt contains " + w
	}
	for _, cls := range cand.Classes {
		if w, ok := c.keywords.Match(cls, allow); ok {
			return true, "class contains " + w
		}
	}
	if w, ok := c.keywords.Match(SourceText(cand.Source), allow); ok {
		return true, "source path contains " + w
	}
	return false, ""
}

// -- Layer 4: context --

func checkContext(c *Classifier, cand *core.Candidate) (bool, string) {
	if cand.Node == nil {
		return false, ""
	}
	skip := c.allowedContext(cand.Host)
	for p := dom.ParentElement(cand.Node); p != nil; p = dom.ParentElement(p) {
		if p.Data == "body" || p.Data == "html" {
			break
		}
		for _, rule := range c.context {
			if skip[rule.category] {
				continue
			}
			if style.Matches(p, rule.group) {
				return true, rule.category + " ancestor <" + p.Data + ">"
			}
		}
	}
	return false, ""
}

// -- Layer 5: video context --

func checkVideo(c *Classifier, cand *core.Candidate) (bool, string) {
	if cand.Node == nil || c.allowVideo(cand.Host) {
		return false, ""
	}
	for _, a := range core.Ancestors(cand.Node, c.policy.VideoSearchDepth) {
		if a.Data == "body" || a.Data == "html" {
			break
		}
		if detail, ok := c.videoNear(a, cand.Node); ok {
			return true, detail
		}
	}
	return false, ""
}

// videoNear scans root's subtree, skipping the candidate itself.
func (c *Classifier) videoNear(root, self *html.Node) (string, bool) {
	var detail string
	visited := 0
	dom.Walk(root, func(n *html.Node) bool {
		if detail != "" || visited >= maxVideoScan {
			return false
		}
		visited++
		if n == self || n.Type != html.ElementNode {
			return true
		}
		switch {
		case style.Matches(n, c.videoPlayers):
			detail = "video player <" + n.Data + ">"
		case style.Matches(n, c.videoControls):
			detail = "media controls <" + n.Data + ">"
		default:
			if m, ok := c.streamMarker(n); ok {
				detail = "streaming marker " + m
			}
		}
		return detail == ""
	})
	return detail, detail != ""
}

const maxVideoScan = 400

var mediaAttrs = []string{"src", "data-src", "data-hls", "data-dash", "data-stream", "data-video"}

func (c *Classifier) streamMarker(n *html.Node) (string, bool) {
	for _, key := range mediaAttrs {
		v, ok := dom.Attr(n, key)
		if !ok {
			continue
		}
		lower := strings.ToLower(v)
		for _, m := range c.video.Markers {
			if strings.Contains(lower, m) {
				return m, true
			}
		}
	}
	return "", false
}

// -- Layer 6: occlusion and duplication --

func checkOcclusion(c *Classifier, cand *core.Candidate) (bool, string) {
	if c.doc == nil || cand.Node == nil {
		return false, ""
	}
	x, y := cand.Rect.Center()
	hit := c.doc.ElementFromPoint(x, y)
	if hit == nil || hit == cand.Node || dom.Contains(hit, cand.Node) || dom.Contains(cand.Node, hit) {
		return false, ""
	}
	if core.InsideGenerated(hit) {
		return false, ""
	}
	if c.doc.BoundingRect(hit).Area() > c.policy.OcclusionFactor*cand.Rect.Area() {
		return true, "covered by <" + hit.Data + ">"
	}
	return false, ""
}

func checkTracked(_ *Classifier, cand *core.Candidate) (bool, string) {
	return cand.Tracked, ""
}

func checkArtifact(_ *Classifier, cand *core.Candidate) (bool, string) {
	return cand.Artifact, ""
}
