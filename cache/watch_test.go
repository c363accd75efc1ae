package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/addrummond/trellis/compiler"
	"github.com/addrummond/trellis/handler"
	"github.com/addrummond/trellis/ir"
	"github.com/addrummond/trellis/router"
)

const postsFile = `
controllers: [posts]
routes:
  - get: "posts/:id"
    to: "posts#show"
    name: post
`

const postsAndPagesFile = `
controllers: [posts, pages]
routes:
  - get: "posts/:id"
    to: "posts#show"
    name: post
  - get: "pages/:id"
    to: "pages#show"
    name: page
`

// writeFile replaces path by renaming a complete file over it, so the
// watcher never sees a half written route file.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func reloadCount(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "test_router_reload_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func get(path string) handler.Env {
	return handler.Env{ir.EnvMethod: "GET", ir.EnvPath: path}
}

func TestWatcherInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	writeFile(t, path, postsFile)

	w, err := NewWatcher([]string{path}, testRegistry())
	require.NoError(t, err)
	defer w.Close()

	resp, matched, err := w.ServeEnv(get("/posts/5"))
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, "post 5", resp.Body)

	res, err := w.Dispatch(get("/pages/5"))
	require.NoError(t, err)
	assert.Equal(t, router.NoMatch{}, res)
}

func TestWatcherInitialLoadFails(t *testing.T) {
	dir := t.TempDir()

	_, err := NewWatcher([]string{filepath.Join(dir, "missing.yaml")}, testRegistry())
	assert.Error(t, err)

	path := filepath.Join(dir, "routes.yaml")
	writeFile(t, path, "routes:\n  - get: x\n    to: nope#show\n")
	_, err = NewWatcher([]string{path}, testRegistry())
	var errs compiler.Errors
	require.ErrorAs(t, err, &errs)
	assert.True(t, errs.Has(compiler.UnknownDestination))

	_, err = NewWatcher(nil, testRegistry())
	assert.Error(t, err)
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	writeFile(t, path, postsFile)

	var mu sync.Mutex
	var reloadErrs []error
	promReg := prometheus.NewRegistry()
	metrics := router.NewMetricsWithRegisterer("test", promReg)
	w, err := NewWatcher([]string{path}, testRegistry(),
		WithDebounceDelay(10*time.Millisecond),
		WithMetrics(metrics),
		WithReloadHook(func(_ *router.Router, err error) {
			mu.Lock()
			reloadErrs = append(reloadErrs, err)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	writeFile(t, path, postsAndPagesFile)
	require.Eventually(t, func() bool {
		return len(w.Router().Routes()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	resp, matched, err := w.ServeEnv(get("/pages/about"))
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, "page about", resp.Body)

	u, err := w.Router().URL("page", map[string]string{"id": "x"})
	require.NoError(t, err)
	assert.Equal(t, "pages/x", u)

	// A broken file keeps the last good router.
	good := w.Router()
	writeFile(t, path, "routes:\n  - get: [\n")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reloadErrs) > 0 && reloadErrs[len(reloadErrs)-1] != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Same(t, good, w.Router())

	assert.GreaterOrEqual(t, reloadCount(t, promReg, router.ReloadSuccess), 2.0)
	assert.GreaterOrEqual(t, reloadCount(t, promReg, router.ReloadError), 1.0)
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	writeFile(t, path, postsFile)

	l := &Loader{Path: filepath.Join(t.TempDir(), "compiled.json")}
	w, err := NewWatcher([]string{path}, testRegistry(), WithLoader(l))
	require.NoError(t, err)
	defer w.Close()

	writeFile(t, path, postsAndPagesFile)
	require.NoError(t, w.Reload())
	assert.Len(t, w.Router().Routes(), 2)

	data, err := os.ReadFile(l.Path)
	require.NoError(t, err)
	prog, err := ir.DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, w.Router().Fingerprint(), prog.Fingerprint)
}

func TestWatcherDeclaredRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	writeFile(t, path, postsFile)

	w, err := NewWatcher([]string{path}, nil)
	require.NoError(t, err)
	defer w.Close()

	m, ok := w.Router().Match(get("/posts/1"))
	require.True(t, ok)
	assert.Equal(t, "post", m.Route.Name)

	_, _, err = w.ServeEnv(get("/posts/1"))
	assert.ErrorIs(t, err, router.ErrNotImplemented)
}

func TestWatcherCloseStopsRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	writeFile(t, path, postsFile)

	w, err := NewWatcher([]string{path}, testRegistry())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.NotNil(t, w.Router())
}
