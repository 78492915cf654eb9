//go:build linux || darwin || freebsd

package api

import (
	"fmt"

	"github.com/ebitengine/purego"
	log "github.com/sirupsen/logrus"
)

// LoadNativePlugin opens a shared-library plugin, resolves its full symbol
// table and creates the plugin instance. The returned plugin owns the
// library handle and closes it on Shutdown.
func LoadNativePlugin(path string) (*NativePlugin, error) {
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("open plugin library %s: %w", path, err)
	}

	abi, err := resolveABI(lib)
	if err != nil {
		purego.Dlclose(lib)
		return nil, fmt.Errorf("plugin %s: %w", path, err)
	}

	handle := abi.pluginNew()
	if handle == 0 {
		purego.Dlclose(lib)
		return nil, fmt.Errorf("plugin %s: PluginNew returned null", path)
	}

	p := newNativePlugin(abi, handle, func() error { return purego.Dlclose(lib) })
	log.Debugf("[NativePlugin] Loaded %q from %s", p.Name(), path)
	return p, nil
}

// resolveABI registers every required export. A missing symbol fails the
// load up front instead of panicking at first call.
func resolveABI(lib uintptr) (*nativeABI, error) {
	abi := &nativeABI{}
	symbols := []struct {
		name string
		fn   interface{}
	}{
		{"PluginNew", &abi.pluginNew},
		{"PluginFree", &abi.pluginFree},
		{"PluginName", &abi.pluginName},
		{"PluginGetReadme", &abi.pluginGetReadme},
		{"PluginValidate", &abi.pluginValidate},
		{"PluginInitialize", &abi.pluginInitialize},
		{"PluginShutdown", &abi.pluginShutdown},
		{"FSRead", &abi.fsRead},
		{"FSStat", &abi.fsStat},
		{"FSReadDir", &abi.fsReadDir},
		{"FSWrite", &abi.fsWrite},
		{"FSCreate", &abi.fsCreate},
		{"FSMkdir", &abi.fsMkdir},
		{"FSRemove", &abi.fsRemove},
		{"FSRemoveAll", &abi.fsRemoveAll},
		{"FSRename", &abi.fsRename},
		{"FSChmod", &abi.fsChmod},
	}
	for _, sym := range symbols {
		if _, err := purego.Dlsym(lib, sym.name); err != nil {
			return nil, fmt.Errorf("resolve symbol %s: %w", sym.name, err)
		}
		purego.RegisterLibFunc(sym.fn, lib, sym.name)
	}

	// Buffers the plugin mallocs for the host are returned to the process
	// allocator, the same free the plugin's malloc pairs with.
	freeAddr, err := purego.Dlsym(purego.RTLD_DEFAULT, "free")
	if err != nil {
		return nil, fmt.Errorf("resolve libc free: %w", err)
	}
	purego.RegisterFunc(&abi.free, freeAddr)
	return abi, nil
}
