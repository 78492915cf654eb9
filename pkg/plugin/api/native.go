// Package api adapts out-of-process plugins to the plugin.ServicePlugin
// interface. Two physical bindings exist: native shared libraries loaded
// with dlopen and driven through a C ABI, and WASM modules executed inside
// a sandboxed runtime and driven through linear-memory exports.
package api

import (
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"
	"unsafe"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin"
	"github.com/huanghantao/agfs/pkg/plugin/config"
)

// nativeABI is the resolved symbol table of one plugin library. The loader
// fills it with purego-registered functions; tests fill it with Go closures.
//
// Pointer results come back as uintptr so a null return stays
// distinguishable from an empty string. free releases buffers the plugin
// allocated for the host; it must be the allocator the plugin's malloc pairs
// with.
type nativeABI struct {
	pluginNew        func() uintptr
	pluginFree       func(handle uintptr)
	pluginName       func(handle uintptr) uintptr
	pluginGetReadme  func(handle uintptr) uintptr
	pluginValidate   func(handle uintptr, configJSON string) uintptr
	pluginInitialize func(handle uintptr, configJSON string) uintptr
	pluginShutdown   func(handle uintptr) uintptr

	fsRead      func(handle uintptr, path string, offset, size int64, outLen *int32) uintptr
	fsStat      func(handle uintptr, path string) uintptr
	fsReadDir   func(handle uintptr, path string, outCount *int32) uintptr
	fsWrite     func(handle uintptr, path string, data unsafe.Pointer, dataLen int32, offset int64, flags uint32) int64
	fsCreate    func(handle uintptr, path string) uintptr
	fsMkdir     func(handle uintptr, path string, mode uint32) uintptr
	fsRemove    func(handle uintptr, path string) uintptr
	fsRemoveAll func(handle uintptr, path string) uintptr
	fsRename    func(handle uintptr, oldPath, newPath string) uintptr
	fsChmod     func(handle uintptr, path string, mode uint32) uintptr

	free func(ptr uintptr)
}

// NativePlugin drives one loaded shared-library plugin. All filesystem
// traffic goes through the instance handle PluginNew produced.
//
// Ownership at this boundary: error strings are never freed because plugins
// may return static storage. Data buffers are freed only on a successful
// non-empty read. FileInfo structures and every string inside them are
// freed, deeply, by the host.
type NativePlugin struct {
	abi      *nativeABI
	mu       sync.RWMutex
	handle   uintptr
	name     string
	readme   string
	closed   bool
	closeLib func() error
}

var _ plugin.ServicePlugin = (*NativePlugin)(nil)

// newNativePlugin wraps an instance handle. Name and readme are decoded
// eagerly; both point into plugin-owned storage the host must not free.
func newNativePlugin(abi *nativeABI, handle uintptr, closeLib func() error) *NativePlugin {
	p := &NativePlugin{abi: abi, handle: handle, closeLib: closeLib}
	p.name = goString(abi.pluginName(handle))
	p.readme = goString(abi.pluginGetReadme(handle))
	if p.readme == "" {
		p.readme = plugin.DefaultReadme
	}
	return p
}

func (p *NativePlugin) Name() string {
	return p.name
}

func (p *NativePlugin) GetReadme() string {
	return p.readme
}

// GetConfigParams returns nil: the native binding has no parameter
// discovery call.
func (p *NativePlugin) GetConfigParams() []plugin.ConfigParameter {
	return nil
}

func (p *NativePlugin) Validate(cfg *config.Config) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.ensureLive("validate")

	js, err := configJSON(cfg)
	if err != nil {
		return err
	}
	if ret := p.abi.pluginValidate(p.handle, js); ret != 0 {
		return errors.New(callErrMessage(ret, "validate failed"))
	}
	return nil
}

func (p *NativePlugin) Initialize(cfg *config.Config) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.ensureLive("initialize")

	js, err := configJSON(cfg)
	if err != nil {
		return err
	}
	if ret := p.abi.pluginInitialize(p.handle, js); ret != 0 {
		return errors.New(callErrMessage(ret, "initialize failed"))
	}
	return nil
}

func (p *NativePlugin) GetFileSystem() filesystem.FileSystem {
	return &NativeFileSystem{p: p}
}

// Shutdown stops the plugin, releases its instance handle and unloads the
// library. The plugin is unusable afterwards; any further call is a host
// bug and panics.
func (p *NativePlugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLive("shutdown")

	var err error
	if ret := p.abi.pluginShutdown(p.handle); ret != 0 {
		err = errors.New(callErrMessage(ret, "shutdown failed"))
	}
	p.abi.pluginFree(p.handle)
	p.handle = 0
	p.closed = true

	if p.closeLib != nil {
		if cerr := p.closeLib(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// ensureLive panics when the handle was already released. Calling into a
// freed plugin instance would corrupt memory, so misuse is fatal rather
// than an error return. Callers hold at least a read lock.
func (p *NativePlugin) ensureLive(op string) {
	if p.closed {
		panic(fmt.Sprintf("native plugin %q: %s called after shutdown", p.name, op))
	}
}

// callErrMessage decodes a plugin error string. The storage behind it may
// be static, so it is never freed.
func callErrMessage(ptr uintptr, fallback string) string {
	if msg := goString(ptr); msg != "" {
		return msg
	}
	return fallback
}

// configJSON renders cfg as the single JSON object the boundary carries.
// A nil config becomes the empty object.
func configJSON(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "{}", nil
	}
	return cfg.JSON()
}

// NativeFileSystem exposes a native plugin's filesystem capability.
// Filesystem calls run concurrently; the plugin's own locking applies.
type NativeFileSystem struct {
	p *NativePlugin
}

var _ filesystem.FileSystem = (*NativeFileSystem)(nil)

func (fs *NativeFileSystem) Read(path string, offset, size int64) ([]byte, error) {
	p := fs.p
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.ensureLive("read")

	var outLen int32
	ptr := p.abi.fsRead(p.handle, path, offset, size, &outLen)
	switch {
	case outLen < 0:
		// A negative length reports the entity was not found; the
		// returned string is the message and is never freed.
		return nil, filesystem.NewError(filesystem.KindNotFound, callErrMessage(ptr, fmt.Sprintf("read %s: file not found", path)))
	case outLen == 0:
		// End of file. The plugin may hand back static storage here,
		// so nothing is freed.
		return []byte{}, nil
	default:
		data := goBytes(ptr, int(outLen))
		p.abi.free(ptr)
		return data, nil
	}
}

func (fs *NativeFileSystem) Write(path string, data []byte, offset int64, flags filesystem.WriteFlag) (int64, error) {
	p := fs.p
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.ensureLive("write")

	if len(data) > math.MaxInt32 {
		return 0, filesystem.NewInvalidArgumentError("data", fmt.Sprintf("%d bytes", len(data)), "exceeds the binding's 2 GiB write limit")
	}
	var ptr unsafe.Pointer
	if len(data) > 0 {
		ptr = unsafe.Pointer(&data[0])
	}
	n := p.abi.fsWrite(p.handle, path, ptr, int32(len(data)), offset, uint32(flags))
	runtime.KeepAlive(data)
	if n < 0 {
		// The binding reports failure as a negative count; the message
		// is lost.
		return 0, filesystem.NewError(filesystem.KindOther, fmt.Sprintf("write %s failed: code %d", path, n))
	}
	return n, nil
}

func (fs *NativeFileSystem) Stat(path string) (*filesystem.FileInfo, error) {
	p := fs.p
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.ensureLive("stat")

	ptr := p.abi.fsStat(p.handle, path)
	if ptr == 0 {
		// Null means not found; the binding drops the plugin's message.
		return nil, filesystem.ErrNotFound
	}
	fi, err := decodeFileInfoC(ptr)
	p.freeFileInfoC(ptr)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &fi, nil
}

func (fs *NativeFileSystem) ReadDir(path string) ([]filesystem.FileInfo, error) {
	p := fs.p
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.ensureLive("readdir")

	var outCount int32
	arrPtr := p.abi.fsReadDir(p.handle, path, &outCount)
	if arrPtr == 0 {
		if outCount < 0 {
			return nil, filesystem.NewError(filesystem.KindOther, fmt.Sprintf("readdir %s failed", path))
		}
		return []filesystem.FileInfo{}, nil
	}

	arr := (*fileInfoArrayC)(unsafe.Pointer(arrPtr))
	n := int(arr.count)
	infos := make([]filesystem.FileInfo, 0, n)
	var decodeErr error
	for i := 0; i < n; i++ {
		entry := arr.items + uintptr(i)*fileInfoCSize
		fi, err := decodeFileInfoC(entry)
		if err != nil && decodeErr == nil {
			decodeErr = err
		}
		// Strings are owned per entry; the entry structs themselves
		// live in one items allocation freed below.
		p.freeFileInfoStrings((*fileInfoC)(unsafe.Pointer(entry)))
		if err == nil {
			infos = append(infos, fi)
		}
	}
	if arr.items != 0 {
		p.abi.free(arr.items)
	}
	p.abi.free(arrPtr)

	if decodeErr != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, decodeErr)
	}
	return infos, nil
}

func (fs *NativeFileSystem) Create(path string) error {
	return fs.simpleOp("create", func(p *NativePlugin) uintptr {
		return p.abi.fsCreate(p.handle, path)
	})
}

func (fs *NativeFileSystem) Mkdir(path string, mode uint32) error {
	return fs.simpleOp("mkdir", func(p *NativePlugin) uintptr {
		return p.abi.fsMkdir(p.handle, path, mode)
	})
}

func (fs *NativeFileSystem) Remove(path string) error {
	return fs.simpleOp("remove", func(p *NativePlugin) uintptr {
		return p.abi.fsRemove(p.handle, path)
	})
}

func (fs *NativeFileSystem) RemoveAll(path string) error {
	return fs.simpleOp("removeall", func(p *NativePlugin) uintptr {
		return p.abi.fsRemoveAll(p.handle, path)
	})
}

func (fs *NativeFileSystem) Rename(oldPath, newPath string) error {
	return fs.simpleOp("rename", func(p *NativePlugin) uintptr {
		return p.abi.fsRename(p.handle, oldPath, newPath)
	})
}

func (fs *NativeFileSystem) Chmod(path string, mode uint32) error {
	return fs.simpleOp("chmod", func(p *NativePlugin) uintptr {
		return p.abi.fsChmod(p.handle, path, mode)
	})
}

// simpleOp runs one of the null-or-error-string operations.
func (fs *NativeFileSystem) simpleOp(op string, call func(p *NativePlugin) uintptr) error {
	p := fs.p
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.ensureLive(op)

	if ret := call(p); ret != 0 {
		return filesystem.NewError(filesystem.KindOther, callErrMessage(ret, op+" failed"))
	}
	return nil
}

func (fs *NativeFileSystem) Open(path string) (io.ReadCloser, error) {
	// Probe first so a missing file fails at open time, not first read.
	if _, err := fs.Stat(path); err != nil {
		return nil, err
	}
	return &chunkReader{read: fs.Read, path: path}, nil
}

func (fs *NativeFileSystem) OpenWrite(path string) (io.WriteCloser, error) {
	return filesystem.NewBufferedWriter(path, fs.Write), nil
}

// chunkReader streams a file through repeated ranged Read calls.
type chunkReader struct {
	read   func(path string, offset, size int64) ([]byte, error)
	path   string
	offset int64
	closed bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) == 0 {
		return 0, nil
	}
	data, err := r.read(r.path, r.offset, int64(len(p)))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, data)
	r.offset += int64(n)
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}
