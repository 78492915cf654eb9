package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	wazeroapi "github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/zeebo/xxh3"
)

// InstanceFactory produces fresh plugin instances from one compiled module.
// The instance pool uses it to grow on demand.
type InstanceFactory func() (*WASMPlugin, error)

// WASMRuntime owns a wazero runtime with WASI support and a compilation
// cache keyed by module content hash, so reloading the same .wasm file or
// pooling instances never recompiles.
type WASMRuntime struct {
	ctx      context.Context
	runtime  wazero.Runtime
	mu       sync.Mutex
	compiled map[uint64]wazero.CompiledModule
}

func NewWASMRuntime(ctx context.Context) *WASMRuntime {
	r := wazero.NewRuntime(ctx)
	// Go and TinyGo guests need WASI imports even as reactor modules.
	wasi_snapshot_preview1.MustInstantiate(ctx, r)
	return &WASMRuntime{
		ctx:      ctx,
		runtime:  r,
		compiled: make(map[uint64]wazero.CompiledModule),
	}
}

func (rt *WASMRuntime) compile(path string) (wazero.CompiledModule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module %s: %w", path, err)
	}
	key := xxh3.Hash(data)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if cm, ok := rt.compiled[key]; ok {
		log.Debugf("[WASMRuntime] Using cached module for %s (key %#x)", filepath.Base(path), key)
		return cm, nil
	}
	cm, err := rt.runtime.CompileModule(rt.ctx, data)
	if err != nil {
		return nil, fmt.Errorf("compile module %s: %w", path, err)
	}
	rt.compiled[key] = cm
	log.Debugf("[WASMRuntime] Compiled %s (%d bytes, key %#x)", filepath.Base(path), len(data), key)
	return cm, nil
}

// instantiate creates one module instance under a unique name. Module
// names must not collide inside a runtime, so each instance gets a uuid
// suffix.
func (rt *WASMRuntime) instantiate(cm wazero.CompiledModule, base string) (*WASMPlugin, error) {
	cfg := wazero.NewModuleConfig().
		WithName(base + "-" + uuid.NewString()).
		WithStartFunctions("_initialize"). // reactor modules; skipped when absent
		WithSysWalltime().
		WithSysNanotime()
	mod, err := rt.runtime.InstantiateModule(rt.ctx, cm, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", base, err)
	}
	p, err := newWASMPlugin(rt.ctx, &wazeroModule{mod: mod})
	if err != nil {
		mod.Close(rt.ctx)
		return nil, err
	}
	return p, nil
}

// Load compiles the module at path and constructs a single plugin
// instance from it.
func (rt *WASMRuntime) Load(path string) (*WASMPlugin, error) {
	cm, err := rt.compile(path)
	if err != nil {
		return nil, err
	}
	p, err := rt.instantiate(cm, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	log.Debugf("[WASMRuntime] Loaded %q from %s", p.Name(), path)
	return p, nil
}

// Factory compiles the module once and returns an instance factory for
// the pool.
func (rt *WASMRuntime) Factory(path string) (InstanceFactory, error) {
	cm, err := rt.compile(path)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	return func() (*WASMPlugin, error) {
		return rt.instantiate(cm, base)
	}, nil
}

// Close shuts the runtime down, closing every module it instantiated.
func (rt *WASMRuntime) Close() error {
	return rt.runtime.Close(rt.ctx)
}

// wazeroModule adapts a wazero module to the moduleAPI seam.
type wazeroModule struct {
	mod wazeroapi.Module
}

var _ moduleAPI = (*wazeroModule)(nil)

func (m *wazeroModule) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := m.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("export %q not found", name)
	}
	return fn.Call(ctx, params...)
}

func (m *wazeroModule) HasExport(name string) bool {
	return m.mod.ExportedFunction(name) != nil
}

func (m *wazeroModule) MemoryRead(offset, count uint32) ([]byte, bool) {
	mem := m.mod.Memory()
	if mem == nil {
		return nil, false
	}
	return mem.Read(offset, count)
}

func (m *wazeroModule) MemoryWrite(offset uint32, data []byte) bool {
	mem := m.mod.Memory()
	if mem == nil {
		return false
	}
	return mem.Write(offset, data)
}

func (m *wazeroModule) MemorySize() uint32 {
	mem := m.mod.Memory()
	if mem == nil {
		return 0
	}
	return mem.Size()
}

func (m *wazeroModule) Close(ctx context.Context) error {
	return m.mod.Close(ctx)
}
