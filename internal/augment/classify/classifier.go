// internal/augment/classify/classifier.go
package classify

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/browser/layout"
	"github.com/xkilldash9x/depthlens/internal/browser/parser"
)

// Geometry is the read-only slice of the document the occlusion rule needs.
type Geometry interface {
	ElementFromPoint(x, y float64) *html.Node
	BoundingRect(n *html.Node) layout.Rect
}

// Options configures a Classifier. Zero-valued tables fall back to the
// defaults.
type Options struct {
	Policy     core.Policy
	Rules      []Rule
	Keywords   []string
	Context    []ContextRule
	Video      *VideoSignatures
	Exceptions []SiteException
	Verbose    bool
}

// Classifier decides whether a candidate deserves a control surface. It never
// mutates the document; repeated calls on an unchanged candidate return the
// same verdict.
type Classifier struct {
	logger  *zap.Logger
	doc     Geometry
	policy  core.Policy
	verbose bool

	rules         []Rule
	keywords      *KeywordTable
	context       []compiledContext
	video         VideoSignatures
	videoPlayers  parser.SelectorGroup
	videoControls parser.SelectorGroup
	exceptions    []SiteException
}

// New compiles the rule data. doc may be nil, which disables the occlusion
// rule.
func New(logger *zap.Logger, doc Geometry, opts Options) (*Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{
		logger:     logger.Named("classifier"),
		doc:        doc,
		policy:     opts.Policy,
		verbose:    opts.Verbose,
		rules:      opts.Rules,
		exceptions: opts.Exceptions,
	}
	if c.rules == nil {
		c.rules = DefaultRules()
	}
	words := opts.Keywords
	if words == nil {
		words = DefaultKeywords
	}
	c.keywords = NewKeywordTable(words)

	ctxRules := opts.Context
	if ctxRules == nil {
		ctxRules = DefaultContextRules
	}
	var err error
	if c.context, err = compileContext(ctxRules); err != nil {
		return nil, err
	}

	c.video = DefaultVideoSignatures
	if opts.Video != nil {
		c.video = *opts.Video
	}
	if c.videoPlayers, err = parser.ParseSelectorGroup(c.video.Selectors); err != nil {
		return nil, fmt.Errorf("video selectors: %w", err)
	}
	if c.videoControls, err = parser.ParseSelectorGroup(c.video.Controls); err != nil {
		return nil, fmt.Errorf("video control selectors: %w", err)
	}
	if c.exceptions == nil {
		c.exceptions = DefaultSiteExceptions
	}
	return c, nil
}

// SetVerbose toggles rejection logging.
func (c *Classifier) SetVerbose(v bool) { c.verbose = v }

// Rules returns the active table in evaluation order.
func (c *Classifier) Rules() []Rule { return append([]Rule(nil), c.rules...) }

// Classify runs the rules in order and stops at the first rejection.
func (c *Classifier) Classify(cand core.Candidate) core.Verdict {
	for _, r := range c.rules {
		reject, detail := r.Check(c, &cand)
		if !reject {
			continue
		}
		v := core.Reject(r.Layer, r.Reason, detail)
		if c.verbose {
			c.logger.Debug("Candidate rejected.",
				zap.String("rule", r.Name),
				zap.Int("layer", r.Layer),
				zap.String("detail", detail),
				zap.String("source", cand.Source),
				zap.String("xpath", xpathOf(cand.Node)),
			)
		}
		return v
	}
	return core.Accept()
}

func xpathOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	return dom.GenerateUniqueXPath(n)
}

func (c *Classifier) allowedKeywords(host string) map[string]bool {
	var allow map[string]bool
	for _, e := range c.exceptions {
		if !e.Matches(host) {
			continue
		}
		if allow == nil {
			allow = make(map[string]bool)
		}
		for _, w := range e.AllowKeywords {
			allow[w] = true
		}
	}
	return allow
}

func (c *Classifier) allowedContext(host string) map[string]bool {
	var allow map[string]bool
	for _, e := range c.exceptions {
		if !e.Matches(host) {
			continue
		}
		if allow == nil {
			allow = make(map[string]bool)
		}
		for _, cat := range e.AllowContext {
			allow[cat] = true
		}
	}
	return allow
}

func (c *Classifier) allowVideo(host string) bool {
	for _, e := range c.exceptions {
		if e.AllowVideoContext && e.Matches(host) {
			return true
		}
	}
	return false
}
