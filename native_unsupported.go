//go:build !darwin && !linux

package dav1d

import (
	"fmt"
	"runtime"
)

func openNativeEngine() (engine, error) {
	return nil, fmt.Errorf("%w: no loader for %s", ErrLibraryNotFound, runtime.GOOS)
}
