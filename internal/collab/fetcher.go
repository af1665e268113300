// internal/collab/fetcher.go
package collab

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// FetcherConfig configures HTTPFetcher.
type FetcherConfig struct {
	Timeout time.Duration
	// MaxBytes caps a response body.
	MaxBytes int64
	// AllowPrivileged enables FetchPrivileged, which ignores CORS headers.
	AllowPrivileged bool
	UserAgent       string
}

// HTTPFetcher loads images over HTTP with browser CORS semantics, and
// decodes data: URLs in process.
type HTTPFetcher struct {
	cfg    FetcherConfig
	client *http.Client
	logger *zap.Logger
}

func NewHTTPFetcher(cfg FetcherConfig, transport http.RoundTripper, logger *zap.Logger) *HTTPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 32 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "depthlens/1"
	}
	return &HTTPFetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: NewCompressionTransport(transport)},
		logger: logger.Named("image_fetcher"),
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) (image.Image, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}
	switch u.Scheme {
	case "data":
		return DecodeDataURL(req.URL)
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if req.Mode == FetchPrivileged && !f.cfg.AllowPrivileged {
		return nil, ErrPrivilegedDisabled
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Accept", "image/avif,image/webp,image/png,image/*;q=0.8")
	hreq.Header.Set("User-Agent", f.cfg.UserAgent)
	crossOrigin := req.Origin == "" || originOf(u) != req.Origin
	if crossOrigin && req.Mode != FetchPrivileged && req.Origin != "" {
		hreq.Header.Set("Origin", req.Origin)
	}

	resp, err := f.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, URL: u.String()}
	}
	if crossOrigin && req.Mode != FetchPrivileged {
		if err := checkCORS(resp.Header, req); err != nil {
			return nil, err
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image body: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", f.cfg.MaxBytes)
	}
	img, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	f.logger.Debug("Image fetched.", zap.String("url", u.String()), zap.Stringer("mode", req.Mode), zap.String("format", format))
	return img, nil
}

// checkCORS applies the response side of the CORS protocol.
func checkCORS(h http.Header, req FetchRequest) error {
	allow := h.Get("Access-Control-Allow-Origin")
	if req.Mode == FetchCredentials {
		if allow == "" || allow == "*" || allow != req.Origin || !strings.EqualFold(h.Get("Access-Control-Allow-Credentials"), "true") {
			return fmt.Errorf("%w: credentialed request to %q", ErrCrossOrigin, allow)
		}
		return nil
	}
	if allow == "*" || (allow != "" && allow == req.Origin) {
		return nil
	}
	return fmt.Errorf("%w: allow-origin %q", ErrCrossOrigin, allow)
}

func originOf(u *url.URL) string {
	if u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// DecodeDataURL decodes an image embedded in a data: URL.
func DecodeDataURL(raw string) (image.Image, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return nil, fmt.Errorf("%w: not a data URL", ErrUnsupportedScheme)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URL")
	}
	var data []byte
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		var err error
		if data, err = base64.StdEncoding.DecodeString(payload); err != nil {
			if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
				return nil, fmt.Errorf("data URL payload: %w", err)
			}
		}
	} else {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("data URL payload: %w", err)
		}
		data = []byte(s)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding data URL image: %w", err)
	}
	return img, nil
}

// Fit scales img down so neither side exceeds limit, keeping the aspect ratio.
// Smaller images are returned unchanged.
func Fit(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if limit <= 0 || (w <= limit && h <= limit) {
		return img
	}
	scale := float64(limit) / float64(w)
	if h > w {
		scale = float64(limit) / float64(h)
	}
	nw, nh := int(float64(w)*scale+0.5), int(float64(h)*scale+0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
