// internal/config/policy.go
package config

import "github.com/xkilldash9x/depthlens/internal/augment/core"

// Policy assembles the engine thresholds from the configuration sections.
func (c *Config) Policy() core.Policy {
	cl, lay, inj, lc, eng := c.ClassifierCfg, c.LayoutCfg, c.InjectionCfg, c.LifecycleCfg, c.EngineCfg
	return core.Policy{
		ViewportAbove:       cl.ViewportAbove,
		ViewportBelow:       cl.ViewportBelow,
		ViewportLeft:        cl.ViewportLeft,
		ViewportRight:       cl.ViewportRight,
		MaxAspectRatio:      cl.MaxAspectRatio,
		IconMaxSide:         cl.IconMaxSide,
		IconSquareTolerance: cl.IconSquareTolerance,
		OcclusionFactor:     cl.OcclusionFactor,
		VideoSearchDepth:    cl.VideoSearchDepth,

		AncestorDepth:     lay.AncestorDepth,
		ComplexClassCount: lay.ComplexClassCount,
		ComplexZIndex:     lay.ComplexZIndex,

		OverlayHostDepth:  inj.OverlayHostDepth,
		ZoneSize:          inj.ZoneSize,
		ZoneOffset:        inj.ZoneOffset,
		HoverRestoreDelay: inj.HoverRestoreDelay,

		AutoResetDelay:     lc.AutoResetDelay,
		ToastDuration:      lc.ToastDuration,
		RasterStepTimeout:  lc.RasterStepTimeout,
		ConversionTimeout:  lc.ConversionTimeout,
		MinRasterSide:      lc.MinRasterSide,
		MaxRasterDimension: lc.MaxRasterDimension,
		DefaultTarget:      core.Size{Width: lc.DefaultWidth, Height: lc.DefaultHeight},

		MutationDebounce:      eng.MutationDebounce,
		MutationMaxBatch:      eng.MutationMaxBatch,
		ScrollDebounce:        eng.ScrollDebounce,
		ScrollBuffer:          eng.ScrollBuffer,
		StructuralSearchDepth: eng.StructuralSearchDepth,
		CleanupOnTeardown:     eng.CleanupOnTeardown,
	}
}
