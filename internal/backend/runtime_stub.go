//go:build !govips || !cgo

package backend

import "github.com/dunamismax/imagebench/internal/storage"

func Startup() error {
	return nil
}

func Shutdown() {}

func variants(store storage.Store, opts ...Option) []Backend {
	return pureGoVariants(store, opts...)
}
