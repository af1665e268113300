// internal/collab/probe.go
package collab

import (
	"context"
	"sync"
)

// StaticProbe reports a configured capability.
type StaticProbe struct {
	Capability Capability
}

func (p StaticProbe) Probe(context.Context) Capability { return p.Capability }

// CachedProbe runs the wrapped probe once and serves the result for the
// rest of the document's lifetime.
type CachedProbe struct {
	inner Probe
	once  sync.Once
	res   Capability
}

func NewCachedProbe(inner Probe) *CachedProbe {
	return &CachedProbe{inner: inner}
}

func (p *CachedProbe) Probe(ctx context.Context) Capability {
	p.once.Do(func() {
		if p.inner == nil {
			p.res = Capability{Reason: "no probe configured"}
			return
		}
		p.res = p.inner.Probe(ctx)
	})
	return p.res
}
