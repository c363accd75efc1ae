// Package cache keeps compiled route programs on disk and reloads routers
// when route files change.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/addrummond/trellis/compiler"
	"github.com/addrummond/trellis/handler"
	"github.com/addrummond/trellis/ir"
	"github.com/addrummond/trellis/router"
)

// Loader loads a compiled program from Path, recompiling and rewriting the
// artifact when it is missing, unreadable, written by another version, or
// stale with respect to the mappings being loaded.
type Loader struct {
	Path string
	// Debug forces a recompile on every load.
	Debug  bool
	Logger *zap.Logger
}

func (l *Loader) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// Load returns the program for routes. Compile failures are returned as
// compiler.Errors; a failure to write the artifact is logged and otherwise
// ignored.
func (l *Loader) Load(routes *compiler.Routes, reg handler.Registry) (*ir.Program, error) {
	fingerprint := compiler.Fingerprint(routes, reg)
	log := l.logger().With(zap.String("path", l.Path))

	if !l.Debug {
		prog, err := l.read()
		switch {
		case err == nil && prog.Fingerprint == fingerprint:
			log.Debug("using cached routes")
			return prog, nil
		case err == nil:
			log.Info("cached routes are stale, recompiling")
		case errors.Is(err, fs.ErrNotExist):
			log.Info("no cached routes, compiling")
		default:
			log.Info("cannot use cached routes, recompiling", zap.Error(err))
		}
	}

	prog, errs := compiler.Compile(routes, reg, compiler.WithLogger(l.logger()))
	if len(errs) > 0 {
		return nil, compiler.Errors(errs)
	}

	if err := l.write(prog); err != nil {
		log.Warn("failed to write cached routes", zap.Error(err))
	}
	return prog, nil
}

// Router loads the program for routes and builds a router for it.
func (l *Loader) Router(routes *compiler.Routes, reg handler.Registry, opts ...router.Option) (*router.Router, error) {
	prog, err := l.Load(routes, reg)
	if err != nil {
		return nil, err
	}
	return router.New(prog, reg, opts...)
}

func (l *Loader) read() (*ir.Program, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, err
	}
	return ir.DecodeJSON(data)
}

// write replaces the artifact atomically so concurrent readers never see a
// partial file.
func (l *Loader) write(prog *ir.Program) error {
	dir := filepath.Dir(l.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(l.Path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(ir.EncodeJSON(prog)); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %v: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), l.Path)
}
