package cache

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/addrummond/trellis/compiler"
	"github.com/addrummond/trellis/handler"
	"github.com/addrummond/trellis/router"
)

// Watcher serves requests through a router compiled from route files and
// swaps in a freshly compiled router whenever one of the files changes. A
// failed reload keeps the previous router.
type Watcher struct {
	files         []string
	reg           handler.Registry
	watcher       *fsnotify.Watcher
	current       atomic.Pointer[router.Router]
	logger        *zap.Logger
	metrics       *router.Metrics
	loader        *Loader
	routerOpts    []router.Option
	onReload      func(*router.Router, error)
	debounceDelay time.Duration
	closeOnce     sync.Once
	reloadMu      sync.Mutex
}

type WatcherOption func(*Watcher)

// WithDebounceDelay sets how long the watcher waits after the last file
// event before reloading.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// WithMetrics records reload outcomes and is passed on to every router the
// watcher builds.
func WithMetrics(m *router.Metrics) WatcherOption {
	return func(w *Watcher) {
		w.metrics = m
	}
}

// WithLoader compiles through l, so reloads read and refresh its artifact.
func WithLoader(l *Loader) WatcherOption {
	return func(w *Watcher) {
		w.loader = l
	}
}

// WithRouterOptions sets options for every router the watcher builds.
func WithRouterOptions(opts ...router.Option) WatcherOption {
	return func(w *Watcher) {
		w.routerOpts = append(w.routerOpts, opts...)
	}
}

// WithReloadHook calls f after every reload attempt with the new router, or
// with the error that kept the old one in place.
func WithReloadHook(f func(*router.Router, error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = f
	}
}

// NewWatcher compiles files against reg and starts watching their
// directories. If reg is nil the placeholders declared by the files are
// used, which is enough for matching and reverse routing but not for
// dispatch. The initial load must succeed.
func NewWatcher(files []string, reg handler.Registry, opts ...WatcherOption) (*Watcher, error) {
	if len(files) == 0 {
		return nil, errors.New("no route files to watch")
	}

	w := &Watcher{
		reg:           reg,
		logger:        zap.NewNop(),
		debounceDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		w.files = append(w.files, abs)
	}
	if w.metrics != nil {
		w.routerOpts = append(w.routerOpts, router.WithMetrics(w.metrics))
	}

	if err := w.Reload(); err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dirs := make(map[string]struct{})
	for _, f := range w.files {
		dir := filepath.Dir(f)
		if _, ok := dirs[dir]; ok {
			continue
		}
		dirs[dir] = struct{}{}
		if err := fsWatcher.Add(dir); err != nil {
			fsWatcher.Close()
			return nil, err
		}
	}
	w.watcher = fsWatcher

	return w, nil
}

// Router returns the current router.
func (w *Watcher) Router() *router.Router {
	return w.current.Load()
}

func (w *Watcher) Dispatch(env handler.Env) (router.Result, error) {
	return w.Router().Dispatch(env)
}

func (w *Watcher) ServeEnv(env handler.Env) (handler.Response, bool, error) {
	return w.Router().ServeEnv(env)
}

// Reload recompiles the route files now. On failure the current router is
// left in place.
func (w *Watcher) Reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	r, err := w.build()
	if err != nil {
		w.logger.Error("failed to reload routes", zap.Strings("files", w.files), zap.Error(err))
		w.metrics.RecordReload(router.ReloadError)
	} else {
		w.current.Store(r)
		w.logger.Info("reloaded routes",
			zap.Strings("files", w.files),
			zap.String("fingerprint", r.Fingerprint()),
		)
		w.metrics.RecordReload(router.ReloadSuccess)
	}
	if w.onReload != nil {
		w.onReload(r, err)
	}
	return err
}

func (w *Watcher) build() (*router.Router, error) {
	readers := make([]io.Reader, len(w.files))
	for i, f := range w.files {
		file, err := os.Open(f)
		if err != nil {
			closeAll(readers[:i])
			return nil, err
		}
		readers[i] = file
	}
	routes, declared, errs := compiler.LoadRouteFiles(w.files, readers)
	closeAll(readers)
	if len(errs) > 0 {
		return nil, compiler.Errors(errs)
	}

	var reg handler.Registry = declared
	if w.reg != nil {
		reg = w.reg
	}

	if w.loader != nil {
		return w.loader.Router(routes, reg, w.routerOpts...)
	}
	prog, errs := compiler.Compile(routes, reg, compiler.WithLogger(w.logger))
	if len(errs) > 0 {
		return nil, compiler.Errors(errs)
	}
	return router.New(prog, reg, w.routerOpts...)
}

func closeAll(readers []io.Reader) {
	for _, r := range readers {
		if c, ok := r.(io.Closer); ok {
			c.Close()
		}
	}
}

// Run watches for changes until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("route watcher stopped due to context cancellation")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("route file changed",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()),
			)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounceDelay)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			_ = w.Reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("route watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	for _, f := range w.files {
		if f == name {
			return true
		}
	}
	return false
}

// Close stops watching. The current router stays usable.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}
