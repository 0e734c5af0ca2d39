//go:build govips && cgo

package backend

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/imagebench/internal/storage"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Startup initialises libvips once per process.
func Startup() error {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func variants(store storage.Store, opts ...Option) []Backend {
	return append(pureGoVariants(store, opts...), New[*vips.ImageRef](vipsEngine{}, store, opts...))
}
