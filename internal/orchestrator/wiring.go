// internal/orchestrator/wiring.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/depthlens/internal/browser/render"
	"github.com/xkilldash9x/depthlens/internal/collab"
	"github.com/xkilldash9x/depthlens/internal/config"
)

// Runtime is an orchestrator together with the resources it owns.
type Runtime struct {
	*Orchestrator
	closers []func() error
}

// Build wires an orchestrator from configuration. Close releases the
// preference store and the browser.
func Build(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts Options) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{}

	prefs, err := OpenPrefs(ctx, cfg.Prefs())
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, prefs.Close)

	converter, err := NewConverter(cfg.Conversion(), logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	bc := cfg.Browser()
	network := collab.NewHTTPFetcher(collab.FetcherConfig{
		Timeout:         bc.FetchTimeout,
		MaxBytes:        bc.MaxImageBytes,
		AllowPrivileged: bc.AllowPrivileged,
		UserAgent:       bc.UserAgent,
	}, nil, logger)
	// Page images load like <img> elements, which never need CORS.
	pageImages := collab.NewHTTPFetcher(collab.FetcherConfig{
		Timeout:         bc.FetchTimeout,
		MaxBytes:        bc.MaxImageBytes,
		AllowPrivileged: true,
		UserAgent:       bc.UserAgent,
	}, nil, logger)

	var remote Source = HTTPSource{
		Client:    &http.Client{Timeout: bc.NavigationTimeout, Transport: collab.NewCompressionTransport(nil)},
		UserAgent: bc.UserAgent,
	}
	if bc.Render {
		renderer := render.New(render.Options{
			Headless:          bc.Headless,
			Args:              bc.Args,
			UserAgent:         bc.UserAgent,
			ViewportWidth:     bc.ViewportWidth,
			ViewportHeight:    bc.ViewportHeight,
			NavigationTimeout: bc.NavigationTimeout,
			PostLoadWait:      bc.PostLoadWait,
		}, logger)
		rt.closers = append(rt.closers, func() error { renderer.Close(); return nil })
		remote = RenderSource{Renderer: renderer}
	}

	o, err := New(cfg, logger, Deps{
		Source:    Router{Local: FileSource{}, Remote: remote},
		Converter: converter,
		Fetcher:   localFetcher{next: network, maxBytes: bc.MaxImageBytes},
		Images:    localFetcher{next: pageImages, maxBytes: bc.MaxImageBytes},
		Prefs:     prefs,
		Probe:     NewProbe(cfg.Immersive()),
	}, opts)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Orchestrator = o
	return rt, nil
}

// Close releases everything Build opened, in reverse order.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// OpenPrefs opens the SQLite store at the configured path, or an in-memory
// store when the path is empty.
func OpenPrefs(ctx context.Context, pc config.PrefsConfig) (collab.Prefs, error) {
	if pc.Path == "" {
		return collab.NewMemoryPrefs(), nil
	}
	if err := os.MkdirAll(filepath.Dir(pc.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create preference directory: %w", err)
	}
	return collab.OpenSQLitePrefs(ctx, pc.Path)
}

// NewConverter returns the service client for the configured endpoint. With
// no endpoint every conversion fails as service-unavailable.
func NewConverter(cc config.ConversionConfig, logger *zap.Logger) (collab.Converter, error) {
	if cc.Endpoint == "" {
		return collab.ConverterFunc(func(context.Context, collab.ConversionRequest) (string, error) {
			return "", fmt.Errorf("%w: no endpoint configured", collab.ErrUnavailable)
		}), nil
	}
	return collab.NewServiceClient(collab.ServiceConfig{
		Endpoint:        cc.Endpoint,
		RequestTimeout:  cc.RequestTimeout,
		PollInterval:    cc.PollInterval,
		MaxElapsed:      cc.MaxElapsed,
		RateLimit:       cc.RateLimit,
		Burst:           cc.Burst,
		SigningKey:      cc.SigningKey,
		Issuer:          cc.Issuer,
		TokenTTL:        cc.TokenTTL,
		BreakerFailures: cc.BreakerFailures,
		BreakerCooldown: cc.BreakerCooldown,
	}, nil, logger)
}

// NewProbe is the configured immersive capability.
func NewProbe(ic config.ImmersiveConfig) collab.Probe {
	return collab.StaticProbe{Capability: collab.Capability{Supported: ic.Supported, Reason: ic.Reason}}
}
