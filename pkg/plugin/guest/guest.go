// Package guest implements the module side of the WASM binding. A plugin
// author writes an ordinary ServicePlugin; a Slot wraps it and handles the
// boundary concerns: scratch buffers, the exported allocator, configuration
// decode, and result placement. The module's main package declares one
// package-level Slot and forwards each exported function to it.
package guest

import (
	"fmt"
	"unsafe"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin"
	"github.com/huanghantao/agfs/pkg/plugin/config"
	"github.com/huanghantao/agfs/pkg/plugin/wire"
)

// BufferSize is the size of each scratch buffer shared with the host.
const BufferSize = 64 * 1024

// Slot holds the single live plugin instance of a module. The host drives
// one call at a time, so Slot does no locking; calling a filesystem export
// before construction or initialization is a host-side bug and panics,
// which surfaces as a trap.
type Slot struct {
	factory func() plugin.ServicePlugin
	plugin  plugin.ServicePlugin
	fs      filesystem.FileSystem
	arena   *Arena

	input  [BufferSize]byte
	output [BufferSize]byte

	// emptyRead backs the non-zero pointer a zero-length read returns, so
	// an empty success never looks like the all-zero failure result.
	emptyRead [1]byte
}

// NewSlot returns a slot that builds instances with factory.
func NewSlot(factory func() plugin.ServicePlugin) *Slot {
	return &Slot{factory: factory, arena: NewArena()}
}

// Construct builds a fresh instance, replacing any previous one, and
// reports success.
func (s *Slot) Construct() uint32 {
	s.plugin = s.factory()
	s.fs = nil
	return 1
}

// InputPtr returns the address of the input scratch buffer.
func (s *Slot) InputPtr() uintptr {
	return uintptr(unsafe.Pointer(&s.input[0]))
}

// OutputPtr returns the address of the output scratch buffer.
func (s *Slot) OutputPtr() uintptr {
	return uintptr(unsafe.Pointer(&s.output[0]))
}

// SharedBufferSize returns the size of each scratch buffer.
func (s *Slot) SharedBufferSize() uint32 {
	return BufferSize
}

// Malloc serves the module's allocation export.
func (s *Slot) Malloc(size uint32) uintptr {
	return s.arena.Alloc(size)
}

// Free serves the module's release export. The size is advisory; the arena
// tracks its own block sizes.
func (s *Slot) Free(ptr uintptr, size uint32) {
	s.arena.Free(ptr)
}

// NamePtr returns the plugin name as an owned C string.
func (s *Slot) NamePtr() uintptr {
	return s.resultCString(s.mustPlugin("plugin_name").Name())
}

// ReadmePtr returns the plugin documentation as an owned C string, or 0
// when the plugin has none.
func (s *Slot) ReadmePtr() uintptr {
	return s.resultCString(s.mustPlugin("plugin_get_readme").GetReadme())
}

// ConfigParamsPtr returns the declared configuration parameters as an owned
// JSON C string, or 0 when the plugin declares none.
func (s *Slot) ConfigParamsPtr() uintptr {
	params := s.mustPlugin("plugin_get_config_params").GetConfigParams()
	if len(params) == 0 {
		return 0
	}
	raw, err := wire.MarshalConfigParams(params)
	if err != nil {
		return 0
	}
	return s.resultCString(string(raw))
}

// Validate checks the configuration at configPtr without changing state.
func (s *Slot) Validate(configPtr uintptr) uintptr {
	p := s.mustPlugin("plugin_validate")
	cfg, errPtr := s.parseConfig(configPtr)
	if errPtr != 0 {
		return errPtr
	}
	return s.errResult(p.Validate(cfg))
}

// Initialize brings the plugin into service with the configuration at
// configPtr and binds its filesystem.
func (s *Slot) Initialize(configPtr uintptr) uintptr {
	p := s.mustPlugin("plugin_initialize")
	cfg, errPtr := s.parseConfig(configPtr)
	if errPtr != 0 {
		return errPtr
	}
	if err := p.Initialize(cfg); err != nil {
		return s.errResult(err)
	}
	s.fs = p.GetFileSystem()
	return 0
}

// Shutdown stops the instance. Further filesystem calls panic until the
// host constructs a new instance.
func (s *Slot) Shutdown() uintptr {
	p := s.mustPlugin("plugin_shutdown")
	err := p.Shutdown()
	s.plugin = nil
	s.fs = nil
	return s.errResult(err)
}

// Read returns a pointer to the read data and its length. A failed read
// reports ok false; the boundary carries no message for it. A zero-length
// success returns a non-zero pointer the host never frees.
func (s *Slot) Read(pathPtr uintptr, offset, size int64) (ptr uintptr, length uint32, ok bool) {
	fs := s.mustFS("fs_read")
	data, err := fs.Read(cstringAt(pathPtr), offset, size)
	if err != nil {
		return 0, 0, false
	}
	if len(data) == 0 {
		return uintptr(unsafe.Pointer(&s.emptyRead[0])), 0, true
	}
	if len(data) <= BufferSize {
		copy(s.output[:], data)
		return s.OutputPtr(), uint32(len(data)), true
	}
	return s.arena.AllocBytes(data), uint32(len(data)), true
}

// Write applies a write and returns the byte count, or an error C string.
func (s *Slot) Write(pathPtr, dataPtr uintptr, size uint32, offset int64, flags uint32) (written uint32, errPtr uintptr) {
	fs := s.mustFS("fs_write")
	n, err := fs.Write(cstringAt(pathPtr), bytesAt(dataPtr, size), offset, filesystem.WriteFlag(flags))
	if err != nil {
		return 0, s.errResult(err)
	}
	return uint32(n), 0
}

// Stat returns the encoded file info as an owned JSON C string, or an
// error C string.
func (s *Slot) Stat(pathPtr uintptr) (jsonPtr, errPtr uintptr) {
	fs := s.mustFS("fs_stat")
	fi, err := fs.Stat(cstringAt(pathPtr))
	if err != nil {
		return 0, s.errResult(err)
	}
	raw, err := wire.MarshalFileInfo(fi)
	if err != nil {
		return 0, s.errResult(err)
	}
	return s.resultCString(string(raw)), 0
}

// ReadDir returns the encoded listing as an owned JSON C string, or an
// error C string.
func (s *Slot) ReadDir(pathPtr uintptr) (jsonPtr, errPtr uintptr) {
	fs := s.mustFS("fs_readdir")
	infos, err := fs.ReadDir(cstringAt(pathPtr))
	if err != nil {
		return 0, s.errResult(err)
	}
	raw, err := wire.MarshalFileInfos(infos)
	if err != nil {
		return 0, s.errResult(err)
	}
	return s.resultCString(string(raw)), 0
}

// Create makes an empty file.
func (s *Slot) Create(pathPtr uintptr) uintptr {
	return s.errResult(s.mustFS("fs_create").Create(cstringAt(pathPtr)))
}

// Mkdir makes a directory.
func (s *Slot) Mkdir(pathPtr uintptr, mode uint32) uintptr {
	return s.errResult(s.mustFS("fs_mkdir").Mkdir(cstringAt(pathPtr), mode))
}

// Remove removes a file or empty directory.
func (s *Slot) Remove(pathPtr uintptr) uintptr {
	return s.errResult(s.mustFS("fs_remove").Remove(cstringAt(pathPtr)))
}

// RemoveAll removes a path and its children.
func (s *Slot) RemoveAll(pathPtr uintptr) uintptr {
	return s.errResult(s.mustFS("fs_remove_all").RemoveAll(cstringAt(pathPtr)))
}

// Rename moves a file or directory.
func (s *Slot) Rename(oldPtr, newPtr uintptr) uintptr {
	return s.errResult(s.mustFS("fs_rename").Rename(cstringAt(oldPtr), cstringAt(newPtr)))
}

// Chmod changes permission bits.
func (s *Slot) Chmod(pathPtr uintptr, mode uint32) uintptr {
	return s.errResult(s.mustFS("fs_chmod").Chmod(cstringAt(pathPtr), mode))
}

func (s *Slot) mustPlugin(op string) plugin.ServicePlugin {
	if s.plugin == nil {
		panic(fmt.Sprintf("guest: %s called with no constructed plugin", op))
	}
	return s.plugin
}

func (s *Slot) mustFS(op string) filesystem.FileSystem {
	if s.fs == nil {
		panic(fmt.Sprintf("guest: %s called with no initialized filesystem", op))
	}
	return s.fs
}

// parseConfig decodes the configuration JSON at configPtr. A null pointer
// means an empty configuration. A malformed document is a recoverable
// error, not a trap.
func (s *Slot) parseConfig(configPtr uintptr) (*config.Config, uintptr) {
	if configPtr == 0 {
		return config.New(), 0
	}
	cfg, err := config.Parse([]byte(cstringAt(configPtr)))
	if err != nil {
		return nil, s.resultCString(fmt.Sprintf("parse configuration: %v", err))
	}
	return cfg, 0
}

func (s *Slot) errResult(err error) uintptr {
	if err == nil {
		return 0
	}
	msg := err.Error()
	if msg == "" {
		msg = "unknown error"
	}
	return s.resultCString(msg)
}

// resultCString places v where the host can read it: the output scratch
// buffer when it fits, an arena block otherwise. Either way the host's
// unconditional free is safe.
func (s *Slot) resultCString(v string) uintptr {
	if v == "" {
		return 0
	}
	if len(v)+1 <= BufferSize {
		copy(s.output[:], v)
		s.output[len(v)] = 0
		return s.OutputPtr()
	}
	return s.arena.AllocCString(v)
}

// cstringAt copies the NUL-terminated string at ptr.
func cstringAt(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Pointer(ptr + uintptr(n))) != 0 {
		n++
	}
	if n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}

// bytesAt copies n bytes at ptr.
func bytesAt(ptr uintptr, n uint32) []byte {
	if ptr == 0 || n == 0 {
		return nil
	}
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)...)
}
