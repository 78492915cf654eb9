//go:build !(linux || darwin || freebsd)

package api

import (
	"fmt"
	"runtime"
)

// LoadNativePlugin is unavailable here: dlopen-style loading exists only on
// the unix platforms the loader supports. WASM plugins work everywhere.
func LoadNativePlugin(path string) (*NativePlugin, error) {
	return nil, fmt.Errorf("native plugins are not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
}
