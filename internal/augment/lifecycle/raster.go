// internal/augment/lifecycle/raster.go
package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"

	"go.uber.org/zap"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/collab"
)

// snapshot is the immutable input of the rasterization chain, captured on the
// loop before work leaves it.
type snapshot struct {
	Source     string
	Origin     string
	SameOrigin bool
	Loaded     bool
	Pixels     image.Image
	Natural    core.Size
}

var (
	errSkip = errors.New("raster step not applicable")
	// ErrPlaceholder means no step produced real pixels.
	ErrPlaceholder = errors.New("only a placeholder raster was available")
)

type rasterStep struct {
	name        string
	placeholder bool
	run         func(ctx context.Context, snap snapshot) (image.Image, error)
}

// raster is a rasterized image ready for submission.
type raster struct {
	payload []byte
	bounds  image.Rectangle
	step    string
}

func (c *Controller) rasterSteps() []rasterStep {
	return []rasterStep{
		{name: "direct", run: c.direct},
		{name: "reload", run: c.fetchWith(collab.FetchReload)},
		{name: "cors", run: c.fetchWith(collab.FetchCORS)},
		{name: "credentials", run: c.fetchWith(collab.FetchCredentials)},
		{name: "privileged", run: c.fetchWith(collab.FetchPrivileged)},
		{name: "placeholder", placeholder: true, run: placeholder},
	}
}

// rasterize walks the fallback chain. Every step runs under its own timeout.
// A placeholder or undersized result is a CORS failure: the service is never
// asked to convert pixels the page would not let us read.
func (c *Controller) rasterize(ctx context.Context, snap snapshot) (*raster, error) {
	var errs []error
	for _, step := range c.rasterSteps() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sctx, cancel := context.WithTimeout(ctx, c.policy.RasterStepTimeout)
		img, err := step.run(sctx, snap)
		cancel()
		if errors.Is(err, errSkip) || errors.Is(err, collab.ErrPrivilegedDisabled) {
			continue
		}
		if err != nil {
			c.logger.Debug("Raster step failed.", zap.String("step", step.name), zap.String("source", snap.Source), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}

		b := img.Bounds()
		if step.placeholder {
			return nil, core.NewFailure(core.FailureCORS, errors.Join(append([]error{ErrPlaceholder}, errs...)...))
		}
		if b.Dx() < c.policy.MinRasterSide || b.Dy() < c.policy.MinRasterSide {
			errs = append(errs, fmt.Errorf("%s: raster %dx%d is below the %dpx minimum", step.name, b.Dx(), b.Dy(), c.policy.MinRasterSide))
			continue
		}

		fitted := collab.Fit(img, c.policy.MaxRasterDimension)
		var buf bytes.Buffer
		if err := png.Encode(&buf, fitted); err != nil {
			return nil, fmt.Errorf("encoding raster: %w", err)
		}
		c.logger.Debug("Image rasterized.", zap.String("step", step.name), zap.Int("bytes", buf.Len()))
		return &raster{payload: buf.Bytes(), bounds: fitted.Bounds(), step: step.name}, nil
	}
	return nil, core.NewFailure(core.FailureCORS, errors.Join(append([]error{ErrPlaceholder}, errs...)...))
}

// direct reads the decoded pixels of a loaded image the page may read back.
func (c *Controller) direct(_ context.Context, snap snapshot) (image.Image, error) {
	if !snap.Loaded || snap.Pixels == nil || !snap.SameOrigin {
		return nil, errSkip
	}
	return snap.Pixels, nil
}

func (c *Controller) fetchWith(mode collab.FetchMode) func(context.Context, snapshot) (image.Image, error) {
	return func(ctx context.Context, snap snapshot) (image.Image, error) {
		if c.deps.Fetcher == nil || snap.Source == "" {
			return nil, errSkip
		}
		return c.deps.Fetcher.Fetch(ctx, collab.FetchRequest{URL: snap.Source, Mode: mode, Origin: snap.Origin})
	}
}

func placeholder(context.Context, snapshot) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}
