// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/collab"
	"github.com/xkilldash9x/depthlens/internal/config"
)

const artifactURL = "https://cdn.example.com/models/lake.glb"

const gallery = `<!DOCTYPE html><html><body>
<main>
	<figure><img alt="Lake at dawn" src="lake.png" style="display:block;width:300px;height:200px"></figure>
	<div><img alt="Forest trail" src="forest.png" style="display:block;width:300px;height:200px"></div>
	<div><img alt="" src="glyph.png" style="display:block;width:32px;height:32px"></div>
</main>
</body></html>`

// -- Helpers --

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf strings.Builder
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return []byte(buf.String())
}

// writeGallery lays out the gallery and its images in a temp dir and returns
// the page path.
func writeGallery(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lake.png"), pngBytes(t, 300, 200), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forest.png"), pngBytes(t, 300, 200), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "glyph.png"), pngBytes(t, 32, 32), 0o644))
	path := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

type offline struct{}

func (offline) Fetch(context.Context, collab.FetchRequest) (image.Image, error) {
	return nil, errors.New("network disabled in tests")
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SetPrefsPath("")
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, converter collab.Converter, opts Options) *Orchestrator {
	t.Helper()
	if converter == nil {
		converter = collab.ConverterFunc(func(context.Context, collab.ConversionRequest) (string, error) {
			return artifactURL, nil
		})
	}
	o, err := New(cfg, zaptest.NewLogger(t), Deps{
		Source:    Router{Local: FileSource{}},
		Converter: converter,
		Fetcher:   localFetcher{next: offline{}},
		Images:    localFetcher{next: offline{}},
		Prefs:     collab.NewMemoryPrefs(),
	}, opts)
	require.NoError(t, err)
	return o
}

// -- Tests --

func TestAugmentLocalDocument(t *testing.T) {
	defer goleak.VerifyNone(t)
	path := writeGallery(t, gallery)
	o := newTestOrchestrator(t, testConfig(), nil, Options{})

	rep, err := o.Augment(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rep.URL, "file://"))
	assert.Equal(t, 3, rep.Images)
	assert.Zero(t, rep.BrokenImages)
	require.Len(t, rep.Records, 2)
	assert.True(t, strings.HasSuffix(rep.Records[0].Source, "/lake.png"))
	assert.Equal(t, core.StateIdle, rep.Records[0].State)
	require.Len(t, rep.Rejections, 1)
	assert.Equal(t, core.ReasonIconLike, rep.Rejections[0].Verdict.Reason)
	assert.Equal(t, int64(2), rep.Stats.Injected)
	assert.Contains(t, rep.HTML, core.ClassZone)
	assert.NotEmpty(t, rep.Elapsed)
}

func TestAugmentConvertsEverySurface(t *testing.T) {
	defer goleak.VerifyNone(t)
	path := writeGallery(t, gallery)
	o := newTestOrchestrator(t, testConfig(), nil, Options{Convert: true})

	rep, err := o.Augment(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, rep.Records, 2)
	for _, rec := range rep.Records {
		assert.Equal(t, core.StateReady, rec.State, rec.Source)
		assert.Equal(t, artifactURL, rec.Artifact)
	}
	assert.Equal(t, int64(2), rep.Stats.Conversions)
	assert.Contains(t, rep.HTML, core.ClassViewer)
}

func TestAugmentWithoutServiceReportsFailures(t *testing.T) {
	path := writeGallery(t, gallery)
	cfg := testConfig()
	converter, err := NewConverter(cfg.Conversion(), zaptest.NewLogger(t))
	require.NoError(t, err)
	o := newTestOrchestrator(t, cfg, converter, Options{Convert: true})

	rep, err := o.Augment(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, rep.Records, 2)
	for _, rec := range rep.Records {
		assert.Equal(t, core.StateError, rec.State)
		require.NotNil(t, rec.Failure)
		assert.Equal(t, core.FailureServiceUnavailable, *rec.Failure)
	}
	assert.NotEmpty(t, rep.Toasts)
	assert.Equal(t, int64(2), rep.Stats.Failures)
}

func TestAugmentCountsBrokenImages(t *testing.T) {
	body := strings.Replace(gallery, "forest.png", "missing.png", 1)
	path := writeGallery(t, body)
	o := newTestOrchestrator(t, testConfig(), nil, Options{})

	rep, err := o.Augment(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.BrokenImages)
	require.Len(t, rep.Records, 1)
	assert.True(t, strings.HasSuffix(rep.Records[0].Source, "/lake.png"))
}

func TestAugmentAddsExtraKeywords(t *testing.T) {
	body := strings.Replace(gallery, `alt="Forest trail" src="forest.png"`, `alt="Forest trail" src="forest.png" class="promo-vista"`, 1)
	path := writeGallery(t, body)
	cfg := testConfig()
	cfg.ClassifierCfg.ExtraKeywords = []string{"vista"}
	o := newTestOrchestrator(t, cfg, nil, Options{})

	rep, err := o.Augment(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rep.Records, 1)
	assert.Len(t, rep.Rejections, 2)
}

func TestRunIsolatesFailingDocuments(t *testing.T) {
	defer goleak.VerifyNone(t)
	good := writeGallery(t, gallery)
	missing := filepath.Join(t.TempDir(), "nope.html")
	o := newTestOrchestrator(t, testConfig(), nil, Options{})

	reports, err := o.Run(context.Background(), []string{good, missing, good})
	require.NoError(t, err)
	require.Len(t, reports, 3)

	assert.False(t, reports[0].Failed())
	assert.Len(t, reports[0].Records, 2)
	assert.True(t, reports[1].Failed())
	assert.Equal(t, missing, reports[1].Input)
	assert.Contains(t, reports[1].Error, "failed to load")
	assert.False(t, reports[2].Failed())
}

func TestRunHonorsCancellation(t *testing.T) {
	good := writeGallery(t, gallery)
	o := newTestOrchestrator(t, testConfig(), nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, []string{good})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAugmentRemoteDocument(t *testing.T) {
	lake, glyph := pngBytes(t, 300, 200), pngBytes(t, 32, 32)
	mux := http.NewServeMux()
	mux.HandleFunc("/gallery/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, gallery)
	})
	mux.HandleFunc("/gallery/glyph.png", func(w http.ResponseWriter, r *http.Request) { w.Write(glyph) })
	mux.HandleFunc("/gallery/lake.png", func(w http.ResponseWriter, r *http.Request) { w.Write(lake) })
	mux.HandleFunc("/gallery/forest.png", func(w http.ResponseWriter, r *http.Request) { w.Write(lake) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	images := collab.NewHTTPFetcher(collab.FetcherConfig{AllowPrivileged: true}, nil, logger)
	o, err := New(testConfig(), logger, Deps{
		Source:    Router{Remote: HTTPSource{}},
		Converter: collab.ConverterFunc(func(context.Context, collab.ConversionRequest) (string, error) { return artifactURL, nil }),
		Fetcher:   images,
		Images:    images,
	}, Options{})
	require.NoError(t, err)

	rep, err := o.Augment(context.Background(), srv.URL+"/gallery/")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/gallery/", rep.URL)
	require.Len(t, rep.Records, 2)
	assert.Equal(t, srv.URL+"/gallery/lake.png", rep.Records[0].Source)
}

func TestRouter(t *testing.T) {
	_, err := Router{}.Load(context.Background(), "https://example.com/")
	assert.ErrorContains(t, err, "remote documents are not enabled")

	_, err = Router{}.Load(context.Background(), filepath.Join(t.TempDir(), "absent.html"))
	assert.ErrorContains(t, err, "failed to open document")
}

func TestHTTPSourceRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := HTTPSource{}.Load(context.Background(), srv.URL)
	var se *collab.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(testConfig(), nil, Deps{}, Options{})
	assert.Error(t, err)
}
