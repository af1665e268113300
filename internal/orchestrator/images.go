// internal/orchestrator/images.go
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/url"
	"os"

	"github.com/xkilldash9x/depthlens/internal/collab"
)

// localFetcher serves file:// images from disk for every fetch mode, and
// hands everything else to the network fetcher. Local files are trusted, so
// CORS does not apply to them.
type localFetcher struct {
	next     collab.Fetcher
	maxBytes int64
}

func (f localFetcher) Fetch(ctx context.Context, req collab.FetchRequest) (image.Image, error) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Scheme != "file" {
		return f.next.Fetch(ctx, req)
	}
	info, err := os.Stat(u.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	if f.maxBytes > 0 && info.Size() > f.maxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", f.maxBytes)
	}
	body, err := os.ReadFile(u.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}
