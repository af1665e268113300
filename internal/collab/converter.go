// internal/collab/converter.go
package collab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServiceConfig configures the HTTP conversion client.
type ServiceConfig struct {
	Endpoint       string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	// MaxElapsed bounds retries of one submit or poll request.
	MaxElapsed time.Duration
	// RateLimit is submissions per second; Burst the bucket size.
	RateLimit float64
	Burst     int
	// SigningKey enables HS256 bearer tokens when set.
	SigningKey string
	Issuer     string
	TokenTTL   time.Duration
	// BreakerFailures consecutive failures open the breaker for
	// BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultServiceConfig returns conservative client defaults.
func DefaultServiceConfig(endpoint string) ServiceConfig {
	return ServiceConfig{
		Endpoint:        endpoint,
		RequestTimeout:  30 * time.Second,
		PollInterval:    time.Second,
		MaxElapsed:      20 * time.Second,
		RateLimit:       2,
		Burst:           4,
		Issuer:          "depthlens",
		TokenTTL:        5 * time.Minute,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// ServiceClient talks to the conversion service: a multipart job submission
// followed by status polling until the job settles.
type ServiceClient struct {
	cfg     ServiceConfig
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	now     func() time.Time
}

// jobStatus is the service's job document.
type jobStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ArtifactURL string `json:"artifact_url"`
	Error       string `json:"error"`
}

const (
	jobQueued  = "queued"
	jobRunning = "running"
	jobDone    = "done"
	jobFailed  = "failed"
)

// NewServiceClient validates cfg and builds the client. transport may be nil.
func NewServiceClient(cfg ServiceConfig, transport http.RoundTripper, logger *zap.Logger) (*ServiceClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("conversion endpoint is required")
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid conversion endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid conversion endpoint scheme %q", base.Scheme)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	c := &ServiceClient{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.RequestTimeout, Transport: NewCompressionTransport(transport)},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("conversion_client"),
		now:     time.Now,
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "conversion",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Only service health counts against the breaker.
			var se *StatusError
			if errors.As(err, &se) {
				return !se.Transient()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed.", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c, nil
}

// Submit implements Converter.
func (c *ServiceClient) Submit(ctx context.Context, req ConversionRequest) <-chan ConversionResult {
	out := make(chan ConversionResult, 1)
	go func() {
		artifact, err := c.Convert(ctx, req)
		out <- ConversionResult{Artifact: artifact, Err: err}
	}()
	return out
}

// Convert submits req and polls until the job settles or ctx ends.
func (c *ServiceClient) Convert(ctx context.Context, req ConversionRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for submission slot: %w", err)
	}
	job, err := c.submit(ctx, req)
	if err != nil {
		return "", err
	}
	c.logger.Debug("Conversion job submitted.", zap.String("job", job.ID), zap.String("source", req.Source))

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		switch job.Status {
		case jobDone:
			return c.resolve(job.ArtifactURL)
		case jobFailed:
			return "", &JobError{JobID: job.ID, Message: job.Error}
		case jobQueued, jobRunning, "":
		default:
			return "", &JobError{JobID: job.ID, Message: "unknown status " + strconv.Quote(job.Status)}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		if job, err = c.poll(ctx, job.ID); err != nil {
			return "", err
		}
	}
}

func (c *ServiceClient) submit(ctx context.Context, req ConversionRequest) (*jobStatus, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "image.png")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Payload); err != nil {
		return nil, err
	}
	for k, v := range map[string]string{
		"width":  strconv.Itoa(req.Width),
		"height": strconv.Itoa(req.Height),
		"source": req.Source,
	} {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	payload := body.Bytes()
	endpoint := c.base.JoinPath("v1", "jobs").String()

	return c.do(ctx, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", mw.FormDataContentType())
		return r, nil
	})
}

func (c *ServiceClient) poll(ctx context.Context, id string) (*jobStatus, error) {
	endpoint := c.base.JoinPath("v1", "jobs", id).String()
	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
}

// do runs one logical request through the breaker with retries on
// transient failures.
func (c *ServiceClient) do(ctx context.Context, build func() (*http.Request, error)) (*jobStatus, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = c.cfg.MaxElapsed

	var job *jobStatus
	operation := func() error {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.roundTrip(build)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, err))
			}
			var se *StatusError
			if errors.As(err, &se) && !se.Transient() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			c.logger.Warn("Conversion request failed, retrying.", zap.Error(err))
			return err
		}
		job = res.(*jobStatus)
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return job, nil
}

func (c *ServiceClient) roundTrip(build func() (*http.Request, error)) (*jobStatus, error) {
	req, err := build()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.SigningKey != "" {
		token, err := c.token()
		if err != nil {
			return nil, fmt.Errorf("signing request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return nil, &StatusError{Code: resp.StatusCode, URL: req.URL.String(), Body: truncate(string(body), 256)}
	}
	var job jobStatus
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("decoding job status: %w", err)
	}
	return &job, nil
}

// token is a short-lived HS256 bearer token.
func (c *ServiceClient) token() (string, error) {
	now := c.now()
	ttl := c.cfg.TokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	claims := jwt.RegisteredClaims{
		Issuer:    c.cfg.Issuer,
		Audience:  jwt.ClaimStrings{c.base.Host},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.SigningKey))
}

// resolve makes a relative artifact URL absolute against the endpoint.
func (c *ServiceClient) resolve(ref string) (string, error) {
	if ref == "" {
		return "", &JobError{Message: "done without artifact"}
	}
	u, err := c.base.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid artifact URL: %w", err)
	}
	return u.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
