// Package hellofs is the smallest complete plugin: a single read-only
// greeting file served from memory. Every example guest ships the same file
// bytes, so a host can verify any binding against one known payload. The
// wasm example build wraps this package directly.
package hellofs

import (
	"io"
	"strings"
	"time"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin"
	"github.com/huanghantao/agfs/pkg/plugin/config"
)

const (
	PluginName = "hellofs"
)

const (
	helloPath = "/hello"

	// helloContent is the payload shared by every example guest, whatever
	// language it is built in. Changing it breaks cross-binding checks.
	helloContent = "Hello from C dynamic library!\n"
)

// HelloFSPlugin serves the greeting file.
type HelloFSPlugin struct {
	plugin.Base
}

// NewHelloFSPlugin creates a new HelloFS plugin
func NewHelloFSPlugin() *HelloFSPlugin {
	return &HelloFSPlugin{}
}

func (p *HelloFSPlugin) Name() string {
	return PluginName
}

func (p *HelloFSPlugin) Validate(cfg *config.Config) error {
	// Only mount_path is allowed (injected by hosts that mount plugins)
	return config.ValidateOnlyKnownKeys(cfg, []string{"mount_path"})
}

func (p *HelloFSPlugin) GetFileSystem() filesystem.FileSystem {
	return NewHelloFS()
}

func (p *HelloFSPlugin) GetReadme() string {
	return `HelloFS Plugin - Greeting File System

This plugin serves a single read-only file from memory. It is the smallest
complete plugin and the standard probe for checking a plugin binding end to
end: every example guest serves the same file bytes.

AVAILABLE FILES:
  /hello  - Greeting text ("Hello from C dynamic library!")

USAGE:
  Read the greeting:
    cat /hello

  List the root directory:
    ls /

CHARACTERISTICS:
  - Read-only: every mutating operation fails
  - Reading at or past the end of the file returns empty data, not an error
  - chmod is accepted and ignored

VERSION: 1.0.0
`
}

func (p *HelloFSPlugin) GetConfigParams() []plugin.ConfigParameter {
	return []plugin.ConfigParameter{}
}

// HelloFS is the read-only filesystem behind the plugin.
type HelloFS struct {
	filesystem.ReadOnlyBase
	modTime time.Time
}

// NewHelloFS creates the filesystem with the greeting file timestamped now.
func NewHelloFS() *HelloFS {
	return &HelloFS{modTime: time.Now()}
}

func (fs *HelloFS) Read(path string, offset, size int64) ([]byte, error) {
	if filesystem.NormalizePath(path) != helloPath {
		return nil, filesystem.NewNotFoundError("read", path)
	}
	return plugin.ApplyRangeRead([]byte(helloContent), offset, size)
}

func (fs *HelloFS) Stat(path string) (*filesystem.FileInfo, error) {
	switch filesystem.NormalizePath(path) {
	case "/":
		return &filesystem.FileInfo{
			Name:    "/",
			Size:    0,
			Mode:    0755,
			ModTime: fs.modTime,
			IsDir:   true,
			Meta:    filesystem.MetaData{Name: PluginName, Type: "directory"},
		}, nil
	case helloPath:
		info := fs.helloInfo()
		return &info, nil
	}
	return nil, filesystem.ErrNotFound
}

func (fs *HelloFS) ReadDir(path string) ([]filesystem.FileInfo, error) {
	switch filesystem.NormalizePath(path) {
	case "/":
		return []filesystem.FileInfo{fs.helloInfo()}, nil
	case helloPath:
		return nil, filesystem.ErrNotDirectory
	}
	return nil, filesystem.NewNotFoundError("readdir", path)
}

func (fs *HelloFS) Open(path string) (io.ReadCloser, error) {
	if filesystem.NormalizePath(path) != helloPath {
		return nil, filesystem.NewNotFoundError("open", path)
	}
	return io.NopCloser(strings.NewReader(helloContent)), nil
}

func (fs *HelloFS) helloInfo() filesystem.FileInfo {
	return filesystem.FileInfo{
		Name:    "hello",
		Size:    int64(len(helloContent)),
		Mode:    0644,
		ModTime: fs.modTime,
		IsDir:   false,
		Meta: filesystem.MetaData{
			Name:    PluginName,
			Type:    "text",
			Content: map[string]string{"language": "go"},
		},
	}
}

// Ensure HelloFSPlugin implements ServicePlugin
var _ plugin.ServicePlugin = (*HelloFSPlugin)(nil)
var _ filesystem.FileSystem = (*HelloFS)(nil)
