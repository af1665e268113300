package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/depthlens/internal/collab"
	"github.com/xkilldash9x/depthlens/internal/config"
)

func TestOpenPrefs(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenPrefs(ctx, config.PrefsConfig{})
	require.NoError(t, err)
	assert.IsType(t, &collab.MemoryPrefs{}, mem)

	path := filepath.Join(t.TempDir(), "nested", "prefs.db")
	p, err := OpenPrefs(ctx, config.PrefsConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, collab.SetBool(ctx, p, "debug_mode", true))
	require.NoError(t, p.Close())

	reopened, err := OpenPrefs(ctx, config.PrefsConfig{Path: path})
	require.NoError(t, err)
	defer reopened.Close()
	on, err := collab.GetBool(ctx, reopened, "debug_mode")
	require.NoError(t, err)
	assert.True(t, on)
}

func TestNewConverterWithoutEndpoint(t *testing.T) {
	c, err := NewConverter(config.ConversionConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	res := <-c.Submit(context.Background(), collab.ConversionRequest{})
	assert.True(t, errors.Is(res.Err, collab.ErrUnavailable))
}

func TestNewConverterWithEndpoint(t *testing.T) {
	cfg := config.NewDefaultConfig().Conversion()
	cfg.Endpoint = "http://localhost:9000"
	c, err := NewConverter(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &collab.ServiceClient{}, c)
}

func TestBuildAndClose(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SetPrefsPath(filepath.Join(t.TempDir(), "prefs.db"))
	rt, err := Build(context.Background(), cfg, zaptest.NewLogger(t), Options{})
	require.NoError(t, err)
	require.NotNil(t, rt.Orchestrator)
	assert.NoError(t, rt.Close())
	assert.NoError(t, rt.Close())
}

func TestNewProbe(t *testing.T) {
	p := NewProbe(config.ImmersiveConfig{Supported: true, Reason: "headset"})
	assert.Equal(t, collab.Capability{Supported: true, Reason: "headset"}, p.Probe(context.Background()))
}
