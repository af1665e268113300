// internal/augment/core/policy.go
package core

import (
	"fmt"
	"time"
)

// Policy carries every tuned threshold the engine uses. None of these values
// is normative; they are defaults validated against common gallery layouts.
type Policy struct {
	// -- Classifier --

	// Viewport bound multipliers. A candidate is rejected when it lies more
	// than ViewportAbove viewport heights above the viewport, ViewportBelow
	// heights below it, and likewise horizontally.
	ViewportAbove float64
	ViewportBelow float64
	ViewportLeft  float64
	ViewportRight float64
	// MaxAspectRatio rejects strips wider or taller than this ratio.
	MaxAspectRatio float64
	// Icon-like: both sides at most IconMaxSide and within IconSquareTolerance
	// of square.
	IconMaxSide         float64
	IconSquareTolerance float64
	// OcclusionFactor: an element hit at the candidate's center occludes it
	// when its area exceeds the candidate's by this factor.
	OcclusionFactor float64
	// VideoSearchDepth bounds the ancestor climb for video signatures.
	VideoSearchDepth int

	// -- Layout analysis --

	AncestorDepth     int
	ComplexClassCount int
	ComplexZIndex     int

	// -- Injection --

	OverlayHostDepth  int
	ZoneSize          float64
	ZoneOffset        float64
	HoverRestoreDelay time.Duration

	// -- Lifecycle --

	AutoResetDelay     time.Duration
	ToastDuration      time.Duration
	RasterStepTimeout  time.Duration
	ConversionTimeout  time.Duration
	MinRasterSide      int
	MaxRasterDimension int
	DefaultTarget      Size

	// -- Reconciliation --

	MutationDebounce      time.Duration
	MutationMaxBatch      int
	ScrollDebounce        time.Duration
	ScrollBuffer          float64
	StructuralSearchDepth int
	CleanupOnTeardown     bool
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ViewportAbove:       3,
		ViewportBelow:       2,
		ViewportLeft:        3,
		ViewportRight:       1,
		MaxAspectRatio:      20,
		IconMaxSide:         150,
		IconSquareTolerance: 0.2,
		OcclusionFactor:     3,
		VideoSearchDepth:    3,

		AncestorDepth:     3,
		ComplexClassCount: 6,
		ComplexZIndex:     1000,

		OverlayHostDepth:  3,
		ZoneSize:          48,
		ZoneOffset:        8,
		HoverRestoreDelay: 300 * time.Millisecond,

		AutoResetDelay:     3 * time.Second,
		ToastDuration:      4 * time.Second,
		RasterStepTimeout:  10 * time.Second,
		ConversionTimeout:  2 * time.Minute,
		MinRasterSide:      16,
		MaxRasterDimension: 2048,
		DefaultTarget:      Size{Width: 640, Height: 480},

		MutationDebounce:      200 * time.Millisecond,
		MutationMaxBatch:      500,
		ScrollDebounce:        500 * time.Millisecond,
		ScrollBuffer:          200,
		StructuralSearchDepth: 3,
		CleanupOnTeardown:     true,
	}
}

// Validate rejects thresholds that would disable a safety rule by accident.
func (p Policy) Validate() error {
	switch {
	case p.ViewportAbove < 0 || p.ViewportBelow < 0 || p.ViewportLeft < 0 || p.ViewportRight < 0:
		return fmt.Errorf("viewport multipliers must be non-negative")
	case p.MaxAspectRatio < 1:
		return fmt.Errorf("max aspect ratio must be at least 1, got %v", p.MaxAspectRatio)
	case p.IconSquareTolerance < 0 || p.IconSquareTolerance > 1:
		return fmt.Errorf("icon square tolerance must be within [0,1], got %v", p.IconSquareTolerance)
	case p.OcclusionFactor <= 1:
		return fmt.Errorf("occlusion factor must exceed 1, got %v", p.OcclusionFactor)
	case p.AncestorDepth < 0 || p.OverlayHostDepth < 0 || p.StructuralSearchDepth < 0 || p.VideoSearchDepth < 0:
		return fmt.Errorf("ancestor depths must be non-negative")
	case p.ZoneSize <= 0:
		return fmt.Errorf("zone size must be positive")
	case p.MutationDebounce <= 0 || p.ScrollDebounce <= 0:
		return fmt.Errorf("debounce windows must be positive")
	case p.MutationMaxBatch <= 0:
		return fmt.Errorf("mutation max batch must be positive")
	case p.RasterStepTimeout <= 0 || p.ConversionTimeout <= 0:
		return fmt.Errorf("network timeouts must be positive")
	case p.DefaultTarget.Width <= 0 || p.DefaultTarget.Height <= 0:
		return fmt.Errorf("default target must have a positive size")
	case p.MaxRasterDimension <= 0:
		return fmt.Errorf("max raster dimension must be positive")
	}
	return nil
}
