package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andromeda-rt/andromeda/internal/config"
	"github.com/andromeda-rt/andromeda/internal/obslog"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg, err := config.Preset2Config(config.PresetDefault)
	require.NoError(t, err)
	cfg.StorageDir = t.TempDir()
	log := obslog.New(obslog.DefaultConfig())
	rt, err := New(cfg, log, nil)
	require.NoError(t, err)
	return rt
}

func TestHostBindingExposesEveryGroup(t *testing.T) {
	rt := newTestRuntime(t)
	hostObj := rt.VM.Get("HOST").ToObject(rt.VM)
	for _, group := range []string{
		"fs", "env", "process", "crypto", "url", "storage", "cacheStorage",
		"streams", "tcp", "http", "sqlite", "ffi", "timer", "broadcast",
		"locks", "console", "navigator", "perf", "canvas",
	} {
		assert.NotNil(t, hostObj.Get(group), "expected HOST.%s to be bound", group)
	}
}

func TestRunSimpleScriptReturnsValue(t *testing.T) {
	rt := newTestRuntime(t)
	v, err := rt.VM.RunString(`HOST.crypto.randomUUID().length`)
	require.NoError(t, err)
	assert.EqualValues(t, 36, v.ToInteger())
}

func TestStorageRoundTripThroughHostBinding(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.VM.RunString(`HOST.storage.storage_setItem(false, "k", "v")`)
	require.NoError(t, err)
	v, err := rt.VM.RunString(`HOST.storage.storage_getItem(false, "k")`)
	require.NoError(t, err)
	assert.Equal(t, "v", v.String())
}

func TestCanvasFillAndRenderProducesPNGBytes(t *testing.T) {
	rt := newTestRuntime(t)
	v, err := rt.VM.RunString(`
		var ctx = HOST.canvas.createContext(4, 4);
		HOST.canvas.setFillStyle(ctx, 0xff0000ff);
		HOST.canvas.beginPath(ctx);
		HOST.canvas.rect(ctx, 0, 0, 4, 4);
		HOST.canvas.fill(ctx);
		HOST.canvas.render(ctx).length;
	`)
	require.NoError(t, err)
	assert.Greater(t, v.ToInteger(), int64(0))
}
