package collab_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/depthlens/internal/collab"
)

const pageOrigin = "https://example.com"

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// imageServer serves a PNG with the given CORS response headers.
func imageServer(t *testing.T, headers map[string]string) (*httptest.Server, func() string) {
	t.Helper()
	body := pngBytes(t, 32, 24)
	var (
		mu     sync.Mutex
		origin string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/img.png" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		origin = r.Header.Get("Origin")
		mu.Unlock()
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() string {
		mu.Lock()
		defer mu.Unlock()
		return origin
	}
}

func fetcher(t *testing.T, srv *httptest.Server, cfg collab.FetcherConfig) *collab.HTTPFetcher {
	return collab.NewHTTPFetcher(cfg, srv.Client().Transport, zaptest.NewLogger(t))
}

func TestFetchCORSModes(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		mode    collab.FetchMode
		wantErr error
	}{
		{"wildcard", map[string]string{"Access-Control-Allow-Origin": "*"}, collab.FetchCORS, nil},
		{"exact origin", map[string]string{"Access-Control-Allow-Origin": pageOrigin}, collab.FetchReload, nil},
		{"no header", nil, collab.FetchCORS, collab.ErrCrossOrigin},
		{"other origin", map[string]string{"Access-Control-Allow-Origin": "https://cdn.test"}, collab.FetchCORS, collab.ErrCrossOrigin},
		{"credentials with wildcard", map[string]string{"Access-Control-Allow-Origin": "*", "Access-Control-Allow-Credentials": "true"}, collab.FetchCredentials, collab.ErrCrossOrigin},
		{"credentials without flag", map[string]string{"Access-Control-Allow-Origin": pageOrigin}, collab.FetchCredentials, collab.ErrCrossOrigin},
		{"credentials allowed", map[string]string{"Access-Control-Allow-Origin": pageOrigin, "Access-Control-Allow-Credentials": "true"}, collab.FetchCredentials, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, origin := imageServer(t, tt.headers)
			f := fetcher(t, srv, collab.FetcherConfig{})

			img, err := f.Fetch(context.Background(), collab.FetchRequest{URL: srv.URL + "/img.png", Mode: tt.mode, Origin: pageOrigin})
			assert.Equal(t, pageOrigin, origin())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
		})
	}
}

func TestFetchPrivileged(t *testing.T) {
	srv, origin := imageServer(t, nil)
	req := collab.FetchRequest{URL: srv.URL + "/img.png", Mode: collab.FetchPrivileged, Origin: pageOrigin}

	_, err := fetcher(t, srv, collab.FetcherConfig{}).Fetch(context.Background(), req)
	assert.ErrorIs(t, err, collab.ErrPrivilegedDisabled)

	img, err := fetcher(t, srv, collab.FetcherConfig{AllowPrivileged: true}).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Empty(t, origin(), "privileged fetches do not announce an origin")
}

func TestFetchStatusError(t *testing.T) {
	srv, _ := imageServer(t, nil)
	_, err := fetcher(t, srv, collab.FetcherConfig{}).Fetch(context.Background(),
		collab.FetchRequest{URL: srv.URL + "/missing.png", Mode: collab.FetchCORS, Origin: pageOrigin})
	var se *collab.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.False(t, se.Transient())
}

func TestFetchBodyLimit(t *testing.T) {
	srv, _ := imageServer(t, map[string]string{"Access-Control-Allow-Origin": "*"})
	_, err := fetcher(t, srv, collab.FetcherConfig{MaxBytes: 16}).Fetch(context.Background(),
		collab.FetchRequest{URL: srv.URL + "/img.png", Mode: collab.FetchCORS, Origin: pageOrigin})
	assert.ErrorContains(t, err, "exceeds")
}

func TestFetchUnsupportedScheme(t *testing.T) {
	f := collab.NewHTTPFetcher(collab.FetcherConfig{}, nil, nil)
	_, err := f.Fetch(context.Background(), collab.FetchRequest{URL: "blob:https://example.com/1234"})
	assert.ErrorIs(t, err, collab.ErrUnsupportedScheme)
}

func TestDecodeDataURL(t *testing.T) {
	raw := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 5, 7))

	img, err := collab.DecodeDataURL(raw)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 5, 7), img.Bounds())

	f := collab.NewHTTPFetcher(collab.FetcherConfig{}, nil, nil)
	img, err = f.Fetch(context.Background(), collab.FetchRequest{URL: raw, Mode: collab.FetchCORS})
	require.NoError(t, err)
	assert.Equal(t, 5, img.Bounds().Dx())

	_, err = collab.DecodeDataURL("data:image/png;base64")
	assert.Error(t, err)
	_, err = collab.DecodeDataURL("data:text/plain,hello")
	assert.Error(t, err)
}

func TestFit(t *testing.T) {
	small := image.NewRGBA(image.Rect(0, 0, 100, 50))
	assert.Same(t, small, collab.Fit(small, 200))

	wide := image.NewRGBA(image.Rect(0, 0, 4000, 1000))
	assert.Equal(t, image.Rect(0, 0, 2048, 512), collab.Fit(wide, 2048).Bounds())

	tall := image.NewRGBA(image.Rect(0, 0, 300, 3000))
	assert.Equal(t, image.Rect(0, 0, 30, 300), collab.Fit(tall, 300).Bounds())
}
