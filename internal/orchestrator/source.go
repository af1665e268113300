// internal/orchestrator/source.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/render"
	"github.com/xkilldash9x/depthlens/internal/collab"
)

// maxDocumentBytes caps an HTML document read from disk or the network.
const maxDocumentBytes = 16 << 20

// Page is a document ready to be parsed.
type Page struct {
	// URL is the document base URL. Local files use file:// URLs.
	URL  string
	HTML string
	// Sizes holds natural image sizes keyed by resolved source, when the
	// loader already knows them.
	Sizes map[string]core.Size
}

// Source loads a page for an input argument.
type Source interface {
	Load(ctx context.Context, input string) (*Page, error)
}

// FileSource reads HTML from disk.
type FileSource struct{}

func (FileSource) Load(_ context.Context, input string) (*Page, error) {
	path := strings.TrimPrefix(input, "file://")
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()
	body, err := readLimited(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", abs, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return &Page{URL: u.String(), HTML: body}, nil
}

// HTTPSource fetches HTML with a plain GET. Scripts do not run.
type HTTPSource struct {
	Client    *http.Client
	UserAgent string
}

func (s HTTPSource) Load(ctx context.Context, input string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid document URL: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Transport: collab.NewCompressionTransport(nil)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &collab.StatusError{Code: resp.StatusCode, URL: input}
	}
	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", input, err)
	}
	return &Page{URL: resp.Request.URL.String(), HTML: body}, nil
}

// RenderSource loads pages in headless Chrome so script-built DOM is seen.
type RenderSource struct {
	Renderer *render.Renderer
}

func (s RenderSource) Load(ctx context.Context, input string) (*Page, error) {
	snap, err := s.Renderer.Snapshot(ctx, input)
	if err != nil {
		return nil, err
	}
	page := &Page{URL: snap.URL, HTML: snap.HTML, Sizes: make(map[string]core.Size)}
	for _, img := range snap.Images {
		if img.Complete && img.NaturalWidth > 0 && img.NaturalHeight > 0 {
			page.Sizes[img.Src] = core.Size{Width: float64(img.NaturalWidth), Height: float64(img.NaturalHeight)}
		}
	}
	return page, nil
}

// Router picks a source by input: http(s) URLs go to Remote, everything else
// is a local path.
type Router struct {
	Local  Source
	Remote Source
}

func (r Router) Load(ctx context.Context, input string) (*Page, error) {
	u, err := url.Parse(input)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if r.Remote == nil {
			return nil, errors.New("remote documents are not enabled")
		}
		return r.Remote.Load(ctx, input)
	}
	local := r.Local
	if local == nil {
		local = FileSource{}
	}
	return local.Load(ctx, input)
}

func readLimited(r io.Reader) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxDocumentBytes+1))
	if err != nil {
		return "", err
	}
	if len(body) > maxDocumentBytes {
		return "", fmt.Errorf("document exceeds %d bytes", maxDocumentBytes)
	}
	return string(body), nil
}
