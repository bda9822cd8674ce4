//go:build darwin || linux

package dav1d

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// libdav1d function pointers
var (
	dav1dVersion             func() uintptr
	dav1dDefaultSettings     func(s *cSettings)
	dav1dOpen                func(ctx *uintptr, s *cSettings) int32
	dav1dClose               func(ctx *uintptr)
	dav1dSendData            func(ctx uintptr, data *cData) int32
	dav1dGetPicture          func(ctx uintptr, out *cPicture) int32
	dav1dApplyGrain          func(ctx uintptr, out, in *cPicture) int32
	dav1dFlush               func(ctx uintptr)
	dav1dParseSequenceHeader func(out *cSequenceHeaderStorage, buf unsafe.Pointer, sz uintptr) int32
	dav1dDataWrap            func(data *cData, buf unsafe.Pointer, sz uintptr, free uintptr, cookie uintptr) int32
	dav1dDataUnref           func(data *cData)
	dav1dPictureUnref        func(p *cPicture)

	// Optional: missing from some 1.x releases.
	dav1dGetFrameDelay           func(s *cSettings) int32
	dav1dGetEventFlags           func(ctx uintptr, flags *uint32) int32
	dav1dGetDecodeErrorDataProps func(ctx uintptr, out *cDataProps) int32
	dav1dDataPropsUnref          func(p *cDataProps)
)

var (
	callbacksOnce   sync.Once
	allocCallback   uintptr
	releaseCallback uintptr
	freeCallback    uintptr
)

func initCallbacks() {
	callbacksOnce.Do(func() {
		allocCallback = purego.NewCallback(func(pic unsafe.Pointer, cookie unsafe.Pointer) int32 {
			return allocPictureTrampoline((*cPicture)(pic), uintptr(cookie))
		})
		releaseCallback = purego.NewCallback(func(pic unsafe.Pointer, cookie unsafe.Pointer) {
			releasePictureTrampoline((*cPicture)(pic), uintptr(cookie))
		})
		freeCallback = purego.NewCallback(func(_ unsafe.Pointer, cookie unsafe.Pointer) {
			releaseWrappedData(uintptr(cookie))
		})
	})
}

type puregoEngine struct {
	handle  uintptr
	path    string
	release string
}

func openNativeEngine() (engine, error) {
	paths := dav1dLibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		if err := loadDav1dSymbols(handle); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		e := &puregoEngine{handle: handle, path: path, release: goStringFromPtr(dav1dVersion())}
		if err := checkVersion(e.release); err != nil {
			purego.Dlclose(handle)
			lastErr = fmt.Errorf("%s: %w", path, err)
			continue
		}
		initCallbacks()
		return e, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrLibraryNotFound, lastErr)
	}
	return nil, ErrLibraryNotFound
}

// checkVersion rejects libraries whose struct layouts differ from the
// mirrors in native.go.
func checkVersion(v string) error {
	major, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return fmt.Errorf("unrecognised libdav1d version %q", v)
	}
	if n < 1 {
		return fmt.Errorf("libdav1d %s is too old, 1.0 or newer is required", v)
	}
	return nil
}

func dav1dLibPaths() []string {
	var paths []string

	names := []string{"libdav1d.so.7", "libdav1d.so"}
	if runtime.GOOS == "darwin" {
		names = []string{"libdav1d.7.dylib", "libdav1d.dylib"}
	}

	// Environment variable override (highest priority)
	if envPath := os.Getenv("DAV1D_LIB_PATH"); envPath != "" {
		if st, err := os.Stat(envPath); err == nil && st.IsDir() {
			for _, name := range names {
				paths = append(paths, filepath.Join(envPath, name))
			}
		} else {
			paths = append(paths, envPath)
		}
	}

	var dirs []string
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		dirs = append(dirs, exeDir, filepath.Join(exeDir, "..", "lib"))
	}
	if sourceRoot := findSourceRoot(); sourceRoot != "" {
		dirs = append(dirs, filepath.Join(sourceRoot, "build"))
	}
	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		dirs = append(dirs, filepath.Join(moduleRoot, "build"))
	}
	switch runtime.GOOS {
	case "darwin":
		dirs = append(dirs, "/opt/homebrew/lib", "/usr/local/lib")
	case "linux":
		dirs = append(dirs, "/usr/local/lib", "/usr/lib/x86_64-linux-gnu", "/usr/lib/aarch64-linux-gnu", "/usr/lib64", "/usr/lib")
	}
	for _, dir := range dirs {
		for _, name := range names {
			paths = append(paths, filepath.Join(dir, name))
		}
	}

	// Bare names last so the dynamic loader's own search applies.
	return append(paths, names...)
}

func loadDav1dSymbols(handle uintptr) (err error) {
	// RegisterLibFunc panics on a missing symbol.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load libdav1d symbols: %v", r)
		}
	}()

	purego.RegisterLibFunc(&dav1dVersion, handle, "dav1d_version")
	purego.RegisterLibFunc(&dav1dDefaultSettings, handle, "dav1d_default_settings")
	purego.RegisterLibFunc(&dav1dOpen, handle, "dav1d_open")
	purego.RegisterLibFunc(&dav1dClose, handle, "dav1d_close")
	purego.RegisterLibFunc(&dav1dSendData, handle, "dav1d_send_data")
	purego.RegisterLibFunc(&dav1dGetPicture, handle, "dav1d_get_picture")
	purego.RegisterLibFunc(&dav1dApplyGrain, handle, "dav1d_apply_grain")
	purego.RegisterLibFunc(&dav1dFlush, handle, "dav1d_flush")
	purego.RegisterLibFunc(&dav1dParseSequenceHeader, handle, "dav1d_parse_sequence_header")
	purego.RegisterLibFunc(&dav1dDataWrap, handle, "dav1d_data_wrap")
	purego.RegisterLibFunc(&dav1dDataUnref, handle, "dav1d_data_unref")
	purego.RegisterLibFunc(&dav1dPictureUnref, handle, "dav1d_picture_unref")

	registerOptional(&dav1dGetFrameDelay, handle, "dav1d_get_frame_delay")
	registerOptional(&dav1dGetEventFlags, handle, "dav1d_get_event_flags")
	registerOptional(&dav1dGetDecodeErrorDataProps, handle, "dav1d_get_decode_error_data_props")
	registerOptional(&dav1dDataPropsUnref, handle, "dav1d_data_props_unref")
	return nil
}

// registerOptional binds fptr to name if the library exports it and
// leaves it nil otherwise.
func registerOptional(fptr any, handle uintptr, name string) {
	sym, err := purego.Dlsym(handle, name)
	if err != nil || sym == 0 {
		return
	}
	purego.RegisterFunc(fptr, sym)
}

func (e *puregoEngine) version() string { return e.release }

func (e *puregoEngine) defaultSettings(s *cSettings) { dav1dDefaultSettings(s) }

func (e *puregoEngine) allocatorCallbacks() (alloc, release uintptr) {
	return allocCallback, releaseCallback
}

func (e *puregoEngine) open(s *cSettings) (uintptr, int32) {
	var ctx uintptr
	code := dav1dOpen(&ctx, s)
	return ctx, code
}

func (e *puregoEngine) close(ctx *uintptr) { dav1dClose(ctx) }

func (e *puregoEngine) sendData(ctx uintptr, data *cData) int32 {
	return dav1dSendData(ctx, data)
}

func (e *puregoEngine) getPicture(ctx uintptr, out *cPicture) int32 {
	return dav1dGetPicture(ctx, out)
}

func (e *puregoEngine) applyGrain(ctx uintptr, out, in *cPicture) int32 {
	return dav1dApplyGrain(ctx, out, in)
}

func (e *puregoEngine) flush(ctx uintptr) { dav1dFlush(ctx) }

func (e *puregoEngine) frameDelay(s *cSettings) (int32, bool) {
	if dav1dGetFrameDelay == nil {
		return 0, false
	}
	return dav1dGetFrameDelay(s), true
}

func (e *puregoEngine) eventFlags(ctx uintptr) (uint32, int32, bool) {
	if dav1dGetEventFlags == nil {
		return 0, 0, false
	}
	var flags uint32
	code := dav1dGetEventFlags(ctx, &flags)
	return flags, code, true
}

func (e *puregoEngine) decodeErrorDataProps(ctx uintptr, out *cDataProps) (int32, bool) {
	if dav1dGetDecodeErrorDataProps == nil {
		return 0, false
	}
	return dav1dGetDecodeErrorDataProps(ctx, out), true
}

func (e *puregoEngine) parseSequenceHeader(out *cSequenceHeaderStorage, buf []byte) int32 {
	if len(buf) == 0 {
		return ErrInvalidArgument.nativeCode()
	}
	return dav1dParseSequenceHeader(out, unsafe.Pointer(&buf[0]), uintptr(len(buf)))
}

func (e *puregoEngine) dataWrap(data *cData, buf []byte, cookie uintptr) int32 {
	return dav1dDataWrap(data, unsafe.Pointer(&buf[0]), uintptr(len(buf)), freeCallback, cookie)
}

func (e *puregoEngine) dataUnref(data *cData) { dav1dDataUnref(data) }

func (e *puregoEngine) pictureUnref(p *cPicture) { dav1dPictureUnref(p) }

func (e *puregoEngine) dataPropsUnref(p *cDataProps) {
	if dav1dDataPropsUnref != nil {
		dav1dDataPropsUnref(p)
	}
}
