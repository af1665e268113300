package collab_test

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/depthlens/internal/collab"
)

// fakeService is a minimal conversion service: POST /v1/jobs queues a job,
// GET /v1/jobs/{id} reports it done after a number of polls.
type fakeService struct {
	t           *testing.T
	pollsNeeded int32
	failSubmits int32 // leading submits answered with 503
	status      int   // forced status for every request when non-zero
	fail        string
	gzipPolls   bool

	mu       sync.Mutex
	requests int32
	submits  int32
	polls    int32
	form     map[string]string
	auth     string
}

type serviceCounts struct {
	requests, submits, polls int32
	form                     map[string]string
	auth                     string
}

func (f *fakeService) snapshot() serviceCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return serviceCounts{requests: f.requests, submits: f.submits, polls: f.polls, form: f.form, auth: f.auth}
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.status != 0 {
		http.Error(w, "forced", f.status)
		return
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/jobs":
		f.submits++
		if f.submits <= f.failSubmits {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		require.NoError(f.t, r.ParseMultipartForm(1<<20))
		f.form = map[string]string{
			"width":  r.FormValue("width"),
			"height": r.FormValue("height"),
			"source": r.FormValue("source"),
		}
		file, _, err := r.FormFile("image")
		require.NoError(f.t, err)
		file.Close()
		f.auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
	case r.Method == http.MethodGet && r.URL.Path == "/v1/jobs/job-1":
		f.polls++
		doc := map[string]string{"id": "job-1", "status": "running"}
		if f.polls >= f.pollsNeeded {
			if f.fail != "" {
				doc = map[string]string{"id": "job-1", "status": "failed", "error": f.fail}
			} else {
				doc = map[string]string{"id": "job-1", "status": "done", "artifact_url": "/artifacts/job-1.glb"}
			}
		}
		if f.gzipPolls && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			w.Header().Set("Content-Encoding", "gzip")
			zw := gzip.NewWriter(w)
			_ = json.NewEncoder(zw).Encode(doc)
			_ = zw.Close()
			return
		}
		_ = json.NewEncoder(w).Encode(doc)
	default:
		http.NotFound(w, r)
	}
}

func newClient(t *testing.T, srv *httptest.Server, mutate func(*collab.ServiceConfig)) *collab.ServiceClient {
	t.Helper()
	cfg := collab.DefaultServiceConfig(srv.URL)
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxElapsed = 2 * time.Second
	cfg.RateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := collab.NewServiceClient(cfg, srv.Client().Transport, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func request() collab.ConversionRequest {
	return collab.ConversionRequest{Payload: []byte("\x89PNG fake"), Width: 640, Height: 480, Source: "https://example.com/a.jpg"}
}

func TestServiceClientConvert(t *testing.T) {
	svc := &fakeService{t: t, pollsNeeded: 2, gzipPolls: true}
	srv := httptest.NewServer(svc)
	defer srv.Close()
	c := newClient(t, srv, nil)

	res := <-c.Submit(context.Background(), request())
	require.NoError(t, res.Err)
	assert.Equal(t, srv.URL+"/artifacts/job-1.glb", res.Artifact)
	got := svc.snapshot()
	assert.Equal(t, map[string]string{"width": "640", "height": "480", "source": "https://example.com/a.jpg"}, got.form)
	assert.Empty(t, got.auth)
	assert.GreaterOrEqual(t, got.polls, int32(2))
}

func TestServiceClientRetriesTransientSubmit(t *testing.T) {
	svc := &fakeService{t: t, pollsNeeded: 1, failSubmits: 1}
	srv := httptest.NewServer(svc)
	defer srv.Close()
	c := newClient(t, srv, nil)

	artifact, err := c.Convert(context.Background(), request())
	require.NoError(t, err)
	assert.NotEmpty(t, artifact)
	assert.EqualValues(t, 2, svc.snapshot().submits)
}

func TestServiceClientPermanentStatus(t *testing.T) {
	svc := &fakeService{t: t, status: http.StatusBadRequest}
	srv := httptest.NewServer(svc)
	defer srv.Close()
	c := newClient(t, srv, nil)

	_, err := c.Convert(context.Background(), request())
	var se *collab.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.False(t, se.Transient())
}

func TestServiceClientJobFailure(t *testing.T) {
	svc := &fakeService{t: t, pollsNeeded: 1, fail: "unsupported image"}
	srv := httptest.NewServer(svc)
	defer srv.Close()
	c := newClient(t, srv, nil)

	_, err := c.Convert(context.Background(), request())
	var je *collab.JobError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, "unsupported image", je.Message)
}

func TestServiceClientBreakerOpens(t *testing.T) {
	svc := &fakeService{t: t, status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(svc)
	defer srv.Close()
	c := newClient(t, srv, func(cfg *collab.ServiceConfig) {
		cfg.BreakerFailures = 2
		cfg.BreakerCooldown = time.Minute
		cfg.MaxElapsed = 5 * time.Second
	})

	_, err := c.Convert(context.Background(), request())
	require.Error(t, err)
	assert.True(t, errors.Is(err, collab.ErrUnavailable), "got %v", err)

	// While open, requests fail without reaching the service.
	before := svc.snapshot().requests
	assert.EqualValues(t, 2, before)
	_, err = c.Convert(context.Background(), request())
	assert.ErrorIs(t, err, collab.ErrUnavailable)
	assert.Equal(t, before, svc.snapshot().requests)
}

func TestServiceClientSignsRequests(t *testing.T) {
	svc := &fakeService{t: t, pollsNeeded: 1}
	srv := httptest.NewServer(svc)
	defer srv.Close()
	c := newClient(t, srv, func(cfg *collab.ServiceConfig) { cfg.SigningKey = "s3cret" })

	_, err := c.Convert(context.Background(), request())
	require.NoError(t, err)

	auth := svc.snapshot().auth
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	require.True(t, ok, "authorization header: %q", auth)
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) { return []byte("s3cret"), nil },
		jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	assert.Equal(t, "depthlens", claims.Issuer)
}

func TestServiceClientContextCancel(t *testing.T) {
	svc := &fakeService{t: t, pollsNeeded: 1 << 30}
	srv := httptest.NewServer(svc)
	defer srv.Close()
	c := newClient(t, srv, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Convert(ctx, request())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewServiceClientValidation(t *testing.T) {
	for _, endpoint := range []string{"", "ftp://example.com", "://bad"} {
		_, err := collab.NewServiceClient(collab.DefaultServiceConfig(endpoint), nil, nil)
		assert.Error(t, err, endpoint)
	}
}

func TestConverterFunc(t *testing.T) {
	var calls atomic.Int32
	conv := collab.ConverterFunc(func(_ context.Context, req collab.ConversionRequest) (string, error) {
		calls.Add(1)
		return "artifact:" + req.Source, nil
	})
	res := <-conv.Submit(context.Background(), request())
	assert.Equal(t, "artifact:https://example.com/a.jpg", res.Artifact)
	assert.EqualValues(t, 1, calls.Load())
}
