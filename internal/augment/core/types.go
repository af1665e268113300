// internal/augment/core/types.go
package core

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/browser/layout"
)

// Size is a width/height pair in CSS px.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsZero reports a size with no area.
func (s Size) IsZero() bool { return s.Width <= 0 || s.Height <= 0 }

func (s Size) String() string { return fmt.Sprintf("%.0fx%.0f", s.Width, s.Height) }

// -- Candidate --

// StyleSnapshot is the part of computed style the classifier reads.
type StyleSnapshot struct {
	Display       string
	Visibility    string
	Opacity       float64 // effective, multiplied through ancestors
	Position      string
	PointerEvents string
}

// Candidate is an image node evaluated for augmentation, captured at one
// moment. Rect is in viewport coordinates.
type Candidate struct {
	Node     *html.Node
	ID       dom.NodeID
	Rect     layout.Rect
	Natural  Size
	Loaded   bool
	Source   string
	Alt      string
	Classes  []string
	Style    StyleSnapshot
	Viewport Size
	Host     string

	InPicture bool
	Tracked   bool
	Artifact  bool
}

// -- Verdict --

// RejectReason names the rule that rejected a candidate.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonHidden
	ReasonZeroArea
	ReasonOffViewport
	ReasonExtremeAspect
	ReasonIconLike
	ReasonKeyword
	ReasonContext
	ReasonVideoContext
	ReasonOccluded
	ReasonTracked
	ReasonGeneratedArtifact
)

var reasonNames = map[RejectReason]string{
	ReasonNone:              "none",
	ReasonHidden:            "hidden",
	ReasonZeroArea:          "zero-area",
	ReasonOffViewport:       "off-viewport",
	ReasonExtremeAspect:     "extreme-aspect",
	ReasonIconLike:          "icon-like",
	ReasonKeyword:           "ui-keyword",
	ReasonContext:           "context",
	ReasonVideoContext:      "video-context",
	ReasonOccluded:          "occluded",
	ReasonTracked:           "already-tracked",
	ReasonGeneratedArtifact: "generated-artifact",
}

func (r RejectReason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// MarshalText renders the reason name in reports.
func (r RejectReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Verdict is the classifier's decision. Layer is 0 for eligible candidates.
type Verdict struct {
	Eligible bool         `json:"eligible"`
	Reason   RejectReason `json:"reason"`
	Layer    int          `json:"layer"`
	Detail   string       `json:"detail,omitempty"`
}

// Accept is the eligible verdict.
func Accept() Verdict { return Verdict{Eligible: true} }

// Reject builds a rejection.
func Reject(layer int, reason RejectReason, detail string) Verdict {
	return Verdict{Reason: reason, Layer: layer, Detail: detail}
}

// -- Layout Classification --

// LayoutKind labels the host layout pattern around an image.
type LayoutKind int

const (
	LayoutUnknown LayoutKind = iota
	LayoutPaddingAspectRatio
	LayoutAbsolutePositioned
	LayoutFlexChild
	LayoutGridChild
	LayoutResponsive
	LayoutTransformed
	LayoutObjectFit
	LayoutComplexPositioned
)

var layoutNames = [...]string{
	"unknown", "padding-aspect-ratio", "absolute-positioned", "flex-child",
	"grid-child", "responsive", "transformed", "object-fit", "complex-positioned",
}

func (k LayoutKind) String() string {
	if int(k) >= 0 && int(k) < len(layoutNames) {
		return layoutNames[k]
	}
	return fmt.Sprintf("layout(%d)", int(k))
}

func (k LayoutKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// LayoutFlags records every detector that fired, including those that did
// not win the label.
type LayoutFlags uint16

const (
	FlagPaddingBox LayoutFlags = 1 << iota
	FlagAspectClass
	FlagAbsolute
	FlagFlex
	FlagGrid
	FlagResponsive
	FlagTransform
	FlagObjectFit
	FlagComplex
)

// Has reports whether every bit of f is set.
func (fl LayoutFlags) Has(f LayoutFlags) bool { return fl&f == f }

// LayoutClassification is the layout analyzer's output.
type LayoutClassification struct {
	Kind             LayoutKind
	PreserveOriginal bool
	PaddingContainer *html.Node
	Target           *Size
	Flags            LayoutFlags
}

// Label sets the kind unless an earlier detector already did.
func (l *LayoutClassification) Label(k LayoutKind) {
	if l.Kind == LayoutUnknown {
		l.Kind = k
	}
}

// Preserve sets PreserveOriginal. It is never cleared.
func (l *LayoutClassification) Preserve() { l.PreserveOriginal = true }

// IsAmbiguous reports a classification where no detector fired.
func (l LayoutClassification) IsAmbiguous() bool {
	return l.Kind == LayoutUnknown && l.Flags == 0
}

// -- Strategy and State --

// Strategy is how a control surface is placed.
type Strategy int

const (
	StrategyWrap Strategy = iota
	StrategyOverlay
)

func (s Strategy) String() string {
	if s == StrategyOverlay {
		return "overlay"
	}
	return "wrap"
}

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// State is the conversion lifecycle state of a record.
type State int

const (
	StateIdle State = iota
	StateProcessing
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
