package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin"
	"github.com/huanghantao/agfs/pkg/plugin/config"
	"github.com/huanghantao/agfs/pkg/plugin/wire"
)

// moduleAPI is the slice of a WASM module the adapter needs: exported
// function calls and linear-memory access. The runtime wraps a wazero
// module behind it; tests substitute an in-process fake.
type moduleAPI interface {
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)
	HasExport(name string) bool
	MemoryRead(offset, count uint32) ([]byte, bool)
	MemoryWrite(offset uint32, data []byte) bool
	MemorySize() uint32
	Close(ctx context.Context) error
}

// packU64 combines a guest pointer (high 32 bits) with a length or error
// pointer (low 32 bits). Both packed-result conventions on this boundary
// use it.
func packU64(hi, lo uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

func unpackU64(v uint64) (hi, lo uint32) {
	return uint32(v >> 32), uint32(v)
}

// WASMPlugin drives the single live plugin instance inside one module.
// The guest side is not reentrant: one call at a time, which the mutex
// enforces across lifecycle and filesystem traffic alike.
//
// Guest memory handed to the host stays valid until released through the
// guest's own free export. Results the guest placed in its output scratch
// buffer are covered by the same rule: the guest allocator ignores pointers
// it does not own, so the host frees unconditionally.
type WASMPlugin struct {
	mod    moduleAPI
	ctx    context.Context
	mu     sync.Mutex
	closed bool

	name         string
	readme       string
	configParams []plugin.ConfigParameter

	inPtr   uint32
	outPtr  uint32
	bufSize uint32
}

var _ plugin.ServicePlugin = (*WASMPlugin)(nil)

// newWASMPlugin constructs the guest instance and caches its identity.
func newWASMPlugin(ctx context.Context, mod moduleAPI) (*WASMPlugin, error) {
	p := &WASMPlugin{mod: mod, ctx: ctx}

	res, err := mod.Call(ctx, "plugin_new")
	if err != nil {
		return nil, fmt.Errorf("plugin_new: %w", err)
	}
	if len(res) == 0 || uint32(res[0]) == 0 {
		return nil, errors.New("plugin_new: no instance constructed")
	}

	if err := p.readGeometry(); err != nil {
		return nil, err
	}

	p.name, err = p.callOwnedString("plugin_name")
	if err != nil {
		return nil, err
	}
	p.readme, err = p.callOwnedString("plugin_get_readme")
	if err != nil {
		return nil, err
	}
	if p.readme == "" {
		p.readme = plugin.DefaultReadme
	}

	if mod.HasExport("plugin_get_config_params") {
		raw, err := p.callOwnedString("plugin_get_config_params")
		if err != nil {
			return nil, err
		}
		if raw != "" {
			params, err := wire.UnmarshalConfigParams([]byte(raw))
			if err != nil {
				// A bad declaration should not make the plugin
				// unusable.
				log.Warnf("[WASMPlugin] %s: ignoring config params: %v", p.name, err)
			} else {
				p.configParams = params
			}
		}
	}
	return p, nil
}

// readGeometry locates the scratch buffers. A module without them still
// works; every argument then goes through guest malloc.
func (p *WASMPlugin) readGeometry() error {
	if !p.mod.HasExport("get_input_buffer_ptr") ||
		!p.mod.HasExport("get_output_buffer_ptr") ||
		!p.mod.HasExport("get_shared_buffer_size") {
		log.Debug("[WASMPlugin] No scratch buffers exported, using guest malloc for all arguments")
		return nil
	}
	in, err := p.mod.Call(p.ctx, "get_input_buffer_ptr")
	if err != nil {
		return fmt.Errorf("get_input_buffer_ptr: %w", err)
	}
	out, err := p.mod.Call(p.ctx, "get_output_buffer_ptr")
	if err != nil {
		return fmt.Errorf("get_output_buffer_ptr: %w", err)
	}
	size, err := p.mod.Call(p.ctx, "get_shared_buffer_size")
	if err != nil {
		return fmt.Errorf("get_shared_buffer_size: %w", err)
	}
	p.inPtr = uint32(in[0])
	p.outPtr = uint32(out[0])
	p.bufSize = uint32(size[0])
	return nil
}

func (p *WASMPlugin) Name() string {
	return p.name
}

func (p *WASMPlugin) GetReadme() string {
	return p.readme
}

func (p *WASMPlugin) GetConfigParams() []plugin.ConfigParameter {
	return p.configParams
}

func (p *WASMPlugin) Validate(cfg *config.Config) error {
	return p.lifecycleWithConfig("plugin_validate", cfg)
}

func (p *WASMPlugin) Initialize(cfg *config.Config) error {
	return p.lifecycleWithConfig("plugin_initialize", cfg)
}

func (p *WASMPlugin) lifecycleWithConfig(export string, cfg *config.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLive(export)

	// A pointer of 0 means empty config; skip the copy when there is
	// nothing to say.
	var configPtr uint32
	cleanup := func() {}
	if cfg != nil && cfg.Len() > 0 {
		js, err := cfg.JSON()
		if err != nil {
			return err
		}
		ptrs, done, err := p.placeArgs(cstrBytes(js))
		if err != nil {
			return err
		}
		configPtr = ptrs[0]
		cleanup = done
	}
	defer cleanup()

	res, err := p.mod.Call(p.ctx, export, uint64(configPtr))
	if err != nil {
		return fmt.Errorf("%s: %w", export, err)
	}
	if errPtr := uint32(res[0]); errPtr != 0 {
		return errors.New(p.takeString(errPtr))
	}
	return nil
}

func (p *WASMPlugin) GetFileSystem() filesystem.FileSystem {
	return &WASMFileSystem{p: p}
}

// Shutdown stops the guest instance and closes the module. Further use of
// the plugin is a host bug and panics.
func (p *WASMPlugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLive("shutdown")

	var err error
	res, callErr := p.mod.Call(p.ctx, "plugin_shutdown")
	if callErr != nil {
		err = fmt.Errorf("plugin_shutdown: %w", callErr)
	} else if errPtr := uint32(res[0]); errPtr != 0 {
		err = errors.New(p.takeString(errPtr))
	}

	p.closed = true
	if cerr := p.mod.Close(p.ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (p *WASMPlugin) ensureLive(op string) {
	if p.closed {
		panic(fmt.Sprintf("wasm plugin %q: %s called after shutdown", p.name, op))
	}
}

// cstrBytes renders a string the way the boundary wants it: NUL-terminated.
func cstrBytes(s string) []byte {
	return append([]byte(s), 0)
}

// placeArgs copies each argument into guest memory and returns the guest
// pointers, in order. When everything fits, the input scratch buffer is
// used as-is; otherwise each argument gets its own guest malloc block and
// the returned cleanup releases them after the call.
func (p *WASMPlugin) placeArgs(args ...[]byte) ([]uint32, func(), error) {
	total := 0
	for _, a := range args {
		total += len(a)
	}

	ptrs := make([]uint32, len(args))
	if p.bufSize > 0 && total <= int(p.bufSize) {
		off := p.inPtr
		for i, a := range args {
			if len(a) == 0 {
				continue
			}
			if !p.mod.MemoryWrite(off, a) {
				return nil, nil, fmt.Errorf("write %d bytes at 0x%x: outside guest memory", len(a), off)
			}
			ptrs[i] = off
			off += uint32(len(a))
		}
		return ptrs, func() {}, nil
	}

	var allocs [][2]uint32
	cleanup := func() {
		for _, al := range allocs {
			p.guestFree(al[0], al[1])
		}
	}
	for i, a := range args {
		if len(a) == 0 {
			continue
		}
		ptr, err := p.guestMalloc(uint32(len(a)))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		allocs = append(allocs, [2]uint32{ptr, uint32(len(a))})
		if !p.mod.MemoryWrite(ptr, a) {
			cleanup()
			return nil, nil, fmt.Errorf("write %d bytes at 0x%x: outside guest memory", len(a), ptr)
		}
		ptrs[i] = ptr
	}
	return ptrs, cleanup, nil
}

func (p *WASMPlugin) guestMalloc(size uint32) (uint32, error) {
	res, err := p.mod.Call(p.ctx, "malloc", uint64(size))
	if err != nil {
		return 0, fmt.Errorf("guest malloc: %w", err)
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, fmt.Errorf("guest malloc of %d bytes returned null", size)
	}
	return ptr, nil
}

// guestFree releases guest memory through the guest's allocator. The guest
// side treats unknown pointers and zero sizes as no-ops, which lets the
// host free unconditionally.
func (p *WASMPlugin) guestFree(ptr, size uint32) {
	if ptr == 0 || size == 0 {
		return
	}
	if _, err := p.mod.Call(p.ctx, "free", uint64(ptr), uint64(size)); err != nil {
		log.Warnf("[WASMPlugin] %s: guest free failed: %v", p.name, err)
	}
}

// readCString copies a NUL-terminated string out of guest memory.
func (p *WASMPlugin) readCString(ptr uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}
	memSize := p.mod.MemorySize()
	if ptr >= memSize {
		return "", fmt.Errorf("string pointer 0x%x outside guest memory", ptr)
	}

	const chunk = 4096
	var out []byte
	for off := ptr; off < memSize; {
		n := uint32(chunk)
		if off+n > memSize {
			n = memSize - off
		}
		view, ok := p.mod.MemoryRead(off, n)
		if !ok {
			return "", fmt.Errorf("read %d bytes at 0x%x: outside guest memory", n, off)
		}
		if i := bytes.IndexByte(view, 0); i >= 0 {
			return string(append(out, view[:i]...)), nil
		}
		out = append(out, view...)
		off += n
	}
	return "", fmt.Errorf("unterminated string at 0x%x", ptr)
}

// takeString reads a guest-owned NUL-terminated string and releases it.
func (p *WASMPlugin) takeString(ptr uint32) string {
	s, err := p.readCString(ptr)
	if err != nil {
		log.Warnf("[WASMPlugin] %s: %v", p.name, err)
		return ""
	}
	p.guestFree(ptr, uint32(len(s))+1)
	return s
}

// callOwnedString invokes a no-argument export returning a guest-owned
// string pointer.
func (p *WASMPlugin) callOwnedString(export string) (string, error) {
	res, err := p.mod.Call(p.ctx, export)
	if err != nil {
		return "", fmt.Errorf("%s: %w", export, err)
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return "", nil
	}
	s, err := p.readCString(ptr)
	if err != nil {
		return "", fmt.Errorf("%s: %w", export, err)
	}
	p.guestFree(ptr, uint32(len(s))+1)
	return s, nil
}

// WASMFileSystem exposes the guest's filesystem capability. Every method
// serializes on the plugin's mutex; the guest holds one instance and is
// not reentrant.
type WASMFileSystem struct {
	p *WASMPlugin
}

var _ filesystem.FileSystem = (*WASMFileSystem)(nil)

func (fs *WASMFileSystem) Read(path string, offset, size int64) ([]byte, error) {
	p := fs.p
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLive("read")

	ptrs, done, err := p.placeArgs(cstrBytes(path))
	if err != nil {
		return nil, err
	}
	defer done()

	res, err := p.mod.Call(p.ctx, "fs_read", uint64(ptrs[0]), uint64(offset), uint64(size))
	if err != nil {
		return nil, fmt.Errorf("fs_read: %w", err)
	}
	if res[0] == 0 {
		// Read failure carries no message on this boundary.
		return nil, filesystem.NewError(filesystem.KindOther, fmt.Sprintf("read %s failed", path))
	}
	ptr, length := unpackU64(res[0])
	if length == 0 {
		// Empty success. free(ptr, 0) is a no-op, so skip the call.
		return []byte{}, nil
	}
	view, ok := p.mod.MemoryRead(ptr, length)
	if !ok {
		return nil, fmt.Errorf("read result at 0x%x+%d: outside guest memory", ptr, length)
	}
	out := make([]byte, length)
	copy(out, view)
	p.guestFree(ptr, length)
	return out, nil
}

func (fs *WASMFileSystem) Write(path string, data []byte, offset int64, flags filesystem.WriteFlag) (int64, error) {
	p := fs.p
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLive("write")

	if int64(len(data)) > math.MaxUint32 {
		return 0, filesystem.NewInvalidArgumentError("data", fmt.Sprintf("%d bytes", len(data)), "exceeds the 32-bit boundary limit")
	}
	ptrs, done, err := p.placeArgs(cstrBytes(path), data)
	if err != nil {
		return 0, err
	}
	defer done()

	res, err := p.mod.Call(p.ctx, "fs_write",
		uint64(ptrs[0]), uint64(ptrs[1]), uint64(uint32(len(data))), uint64(offset), uint64(uint32(flags)))
	if err != nil {
		return 0, fmt.Errorf("fs_write: %w", err)
	}
	written, errPtr := unpackU64(res[0])
	if errPtr != 0 {
		return 0, filesystem.NewError(filesystem.KindOther, p.takeString(errPtr))
	}
	return int64(written), nil
}

func (fs *WASMFileSystem) Stat(path string) (*filesystem.FileInfo, error) {
	raw, err := fs.p.callJSONResult("fs_stat", path)
	if err != nil {
		return nil, err
	}
	fi, err := wire.UnmarshalFileInfo([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return fi, nil
}

func (fs *WASMFileSystem) ReadDir(path string) ([]filesystem.FileInfo, error) {
	raw, err := fs.p.callJSONResult("fs_readdir", path)
	if err != nil {
		return nil, err
	}
	infos, err := wire.UnmarshalFileInfos([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, err)
	}
	return infos, nil
}

// callJSONResult handles the pack(json_ptr, 0) | pack(0, err_ptr) result
// convention shared by fs_stat and fs_readdir.
func (p *WASMPlugin) callJSONResult(export, path string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLive(export)

	ptrs, done, err := p.placeArgs(cstrBytes(path))
	if err != nil {
		return "", err
	}
	defer done()

	res, err := p.mod.Call(p.ctx, export, uint64(ptrs[0]))
	if err != nil {
		return "", fmt.Errorf("%s: %w", export, err)
	}
	jsonPtr, errPtr := unpackU64(res[0])
	if errPtr != 0 {
		return "", filesystem.NewError(filesystem.KindOther, p.takeString(errPtr))
	}
	if jsonPtr == 0 {
		return "", filesystem.NewError(filesystem.KindOther, fmt.Sprintf("%s %s returned no result", export, path))
	}
	return p.takeString(jsonPtr), nil
}

func (fs *WASMFileSystem) Create(path string) error {
	return fs.p.callErrResult("fs_create", path)
}

func (fs *WASMFileSystem) Mkdir(path string, mode uint32) error {
	return fs.p.callErrResult("fs_mkdir", path, uint64(mode))
}

func (fs *WASMFileSystem) Remove(path string) error {
	return fs.p.callErrResult("fs_remove", path)
}

func (fs *WASMFileSystem) RemoveAll(path string) error {
	return fs.p.callErrResult("fs_remove_all", path)
}

func (fs *WASMFileSystem) Chmod(path string, mode uint32) error {
	return fs.p.callErrResult("fs_chmod", path, uint64(mode))
}

func (fs *WASMFileSystem) Rename(oldPath, newPath string) error {
	p := fs.p
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLive("fs_rename")

	ptrs, done, err := p.placeArgs(cstrBytes(oldPath), cstrBytes(newPath))
	if err != nil {
		return err
	}
	defer done()

	res, err := p.mod.Call(p.ctx, "fs_rename", uint64(ptrs[0]), uint64(ptrs[1]))
	if err != nil {
		return fmt.Errorf("fs_rename: %w", err)
	}
	if errPtr := uint32(res[0]); errPtr != 0 {
		return filesystem.NewError(filesystem.KindOther, p.takeString(errPtr))
	}
	return nil
}

// callErrResult handles the err_ptr|0 result convention. Extra integer
// operands follow the path pointer.
func (p *WASMPlugin) callErrResult(export, path string, extra ...uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLive(export)

	ptrs, done, err := p.placeArgs(cstrBytes(path))
	if err != nil {
		return err
	}
	defer done()

	params := append([]uint64{uint64(ptrs[0])}, extra...)
	res, err := p.mod.Call(p.ctx, export, params...)
	if err != nil {
		return fmt.Errorf("%s: %w", export, err)
	}
	if errPtr := uint32(res[0]); errPtr != 0 {
		return filesystem.NewError(filesystem.KindOther, p.takeString(errPtr))
	}
	return nil
}

func (fs *WASMFileSystem) Open(path string) (io.ReadCloser, error) {
	if _, err := fs.Stat(path); err != nil {
		return nil, err
	}
	return &chunkReader{read: fs.Read, path: path}, nil
}

func (fs *WASMFileSystem) OpenWrite(path string) (io.WriteCloser, error) {
	return filesystem.NewBufferedWriter(path, fs.Write), nil
}
