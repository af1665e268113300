// internal/collab/collab.go
package collab

import (
	"context"
	"image"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
)

// -- Conversion --

// ConversionRequest carries a rasterized image to the conversion service.
type ConversionRequest struct {
	// Payload is PNG encoded.
	Payload []byte
	Width   int
	Height  int
	// Source identifies the original image for logs and the service.
	Source string
}

// ConversionResult is the settled value of a conversion future. Exactly one
// of Artifact and Err is set.
type ConversionResult struct {
	Artifact string
	Err      error
}

// Converter submits images for 2D to 3D conversion.
type Converter interface {
	// Submit starts a conversion and returns a future that receives exactly
	// one result. The channel is never closed without a value.
	Submit(ctx context.Context, req ConversionRequest) <-chan ConversionResult
}

// ConverterFunc adapts a synchronous function to Converter.
type ConverterFunc func(ctx context.Context, req ConversionRequest) (string, error)

func (f ConverterFunc) Submit(ctx context.Context, req ConversionRequest) <-chan ConversionResult {
	out := make(chan ConversionResult, 1)
	go func() {
		artifact, err := f(ctx, req)
		out <- ConversionResult{Artifact: artifact, Err: err}
	}()
	return out
}

// -- Viewer --

// ViewerOptions sizes and configures a viewer.
type ViewerOptions struct {
	Width     float64
	Height    float64
	Immersive bool
}

// Viewer is an attached artifact viewer.
type Viewer interface {
	Node() *html.Node
	Close()
}

// ViewerFactory creates viewers. ready is called once, on the loop, when the
// viewer finished loading or failed to.
type ViewerFactory interface {
	CreateForLayout(artifact string, container, img *html.Node, layout core.LayoutClassification, opts ViewerOptions, ready func(error)) (Viewer, error)
}

// -- Capability probe --

// Capability is the result of the immersive-display probe.
type Capability struct {
	Supported bool   `json:"supported"`
	Reason    string `json:"reason"`
}

// Probe tests immersive display support.
type Probe interface {
	Probe(ctx context.Context) Capability
}

// -- Preferences --

// Prefs is a small persistent key-value store for user preference flags.
type Prefs interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// -- Fetching --

// FetchMode selects the request semantics of one rasterization attempt.
type FetchMode int

const (
	// FetchReload re-requests the image as an anonymous CORS-tagged load.
	FetchReload FetchMode = iota
	// FetchCORS is a cors-mode fetch without credentials.
	FetchCORS
	// FetchCredentials is a cors-mode fetch that sends credentials.
	FetchCredentials
	// FetchPrivileged bypasses CORS checks. Disabled unless configured.
	FetchPrivileged
)

func (m FetchMode) String() string {
	switch m {
	case FetchCORS:
		return "cors"
	case FetchCredentials:
		return "cors-credentials"
	case FetchPrivileged:
		return "privileged"
	}
	return "reload"
}

// FetchRequest asks for one image.
type FetchRequest struct {
	URL  string
	Mode FetchMode
	// Origin is the document origin, "" for opaque documents.
	Origin string
}

// Fetcher loads and decodes remote or embedded images.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (image.Image, error)
}
