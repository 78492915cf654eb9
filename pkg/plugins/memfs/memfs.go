// Package memfs is a mutable in-memory filesystem plugin. It implements
// every write flag and the optional Truncate capability, which makes it the
// mutable counterpart to hellofs when exercising a binding: whatever a host
// can express through the boundary, memfs can absorb.
package memfs

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin"
	"github.com/huanghantao/agfs/pkg/plugin/config"
)

const (
	PluginName = "memfs"
)

// MemFSPlugin owns one in-memory store for the lifetime of the plugin.
type MemFSPlugin struct {
	plugin.Base
	fs *MemFS
}

// NewMemFSPlugin creates a new MemFS plugin
func NewMemFSPlugin() *MemFSPlugin {
	return &MemFSPlugin{}
}

func (p *MemFSPlugin) Name() string {
	return PluginName
}

func (p *MemFSPlugin) Validate(cfg *config.Config) error {
	// Only mount_path is allowed (injected by hosts that mount plugins)
	return config.ValidateOnlyKnownKeys(cfg, []string{"mount_path"})
}

func (p *MemFSPlugin) Initialize(cfg *config.Config) error {
	p.fs = NewMemFS()
	return nil
}

func (p *MemFSPlugin) GetFileSystem() filesystem.FileSystem {
	return p.fs
}

func (p *MemFSPlugin) GetReadme() string {
	return `MemFS Plugin - In-Memory File System

This plugin keeps a full filesystem tree in process memory. Contents are
lost on shutdown. It supports every write flag and in-place truncation, so
it is the standard target for exercising mutation paths end to end.

FEATURES:
  - Files and nested directories under a single root
  - Rename moves whole subtrees
  - Truncate shrinks or zero-extends files in place

WRITE FLAG SEMANTICS:
  APPEND     - Write at the current end of file; the offset argument is
               ignored. Offset -1 requests the same positioning without
               the flag, and the two always agree.
  CREATE     - Create the file if it does not exist. Without this flag a
               write to a missing file fails.
  EXCLUSIVE  - With CREATE, fail if the file already exists. Without
               CREATE the bit has no effect.
  TRUNCATE   - Discard existing content before writing. Combined with
               APPEND the file is truncated first, so the write lands at
               the start of the now-empty file.
  SYNC       - Accepted and ignored: memory is as stable as this store
               gets.

Writes beyond the current end of file zero-fill the gap.

CHARACTERISTICS:
  - Reading at or past the end of a file returns empty data, not an error
  - Removing a non-empty directory fails; use RemoveAll for subtrees
  - chmod changes permission bits but grants nothing: there is no
    enforcement layer in memory

VERSION: 1.0.0
`
}

func (p *MemFSPlugin) GetConfigParams() []plugin.ConfigParameter {
	return []plugin.ConfigParameter{}
}

func (p *MemFSPlugin) Shutdown() error {
	p.fs = nil
	return nil
}

type memNode struct {
	data    []byte
	mode    uint32
	modTime time.Time
	isDir   bool
}

// MemFS is a map-backed filesystem tree. The map key is the normalized
// absolute path; the root directory always exists.
type MemFS struct {
	mu    sync.RWMutex
	nodes map[string]*memNode
}

// NewMemFS creates an empty store containing only the root directory.
func NewMemFS() *MemFS {
	return &MemFS{
		nodes: map[string]*memNode{
			"/": {mode: 0755, modTime: time.Now(), isDir: true},
		},
	}
}

func (fs *MemFS) Read(p string, offset, size int64) ([]byte, error) {
	p = filesystem.NormalizePath(p)

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	node, ok := fs.nodes[p]
	if !ok {
		return nil, filesystem.NewNotFoundError("read", p)
	}
	if node.isDir {
		return nil, filesystem.ErrIsDirectory
	}
	return plugin.ApplyRangeRead(node.data, offset, size)
}

func (fs *MemFS) Write(p string, data []byte, offset int64, flags filesystem.WriteFlag) (int64, error) {
	p = filesystem.NormalizePath(p)
	if offset < filesystem.AppendOffset {
		return 0, filesystem.NewInvalidInputError(fmt.Sprintf("write offset %d", offset))
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	node, ok := fs.nodes[p]
	if ok && node.isDir {
		return 0, filesystem.ErrIsDirectory
	}
	if ok && flags.Has(filesystem.WriteFlagCreate) && flags.Has(filesystem.WriteFlagExclusive) {
		return 0, filesystem.NewAlreadyExistsError("write", p)
	}
	if !ok {
		if !flags.Has(filesystem.WriteFlagCreate) {
			return 0, filesystem.NewNotFoundError("write", p)
		}
		if err := fs.checkParentLocked(p); err != nil {
			return 0, err
		}
		node = &memNode{mode: 0644}
		fs.nodes[p] = node
	}

	if flags.Has(filesystem.WriteFlagTruncate) {
		node.data = nil
	}

	at := offset
	if flags.Has(filesystem.WriteFlagAppend) || offset == filesystem.AppendOffset {
		at = int64(len(node.data))
	}

	// A zero-length write never extends the file, even at a far offset.
	if len(data) > 0 {
		end := at + int64(len(data))
		if gap := end - int64(len(node.data)); gap > 0 {
			node.data = append(node.data, make([]byte, gap)...)
		}
		copy(node.data[at:end], data)
	}
	node.modTime = time.Now()

	// WriteFlagSync needs no work here: there is no backing store to flush.
	return int64(len(data)), nil
}

func (fs *MemFS) Create(p string) error {
	p = filesystem.NormalizePath(p)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.nodes[p]; ok {
		return filesystem.NewAlreadyExistsError("create", p)
	}
	if err := fs.checkParentLocked(p); err != nil {
		return err
	}
	fs.nodes[p] = &memNode{mode: 0644, modTime: time.Now()}
	return nil
}

func (fs *MemFS) Mkdir(p string, mode uint32) error {
	p = filesystem.NormalizePath(p)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.nodes[p]; ok {
		return filesystem.NewAlreadyExistsError("mkdir", p)
	}
	if err := fs.checkParentLocked(p); err != nil {
		return err
	}
	fs.nodes[p] = &memNode{mode: mode, modTime: time.Now(), isDir: true}
	return nil
}

func (fs *MemFS) Remove(p string) error {
	p = filesystem.NormalizePath(p)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	node, ok := fs.nodes[p]
	if !ok {
		return filesystem.NewNotFoundError("remove", p)
	}
	if node.isDir {
		if p == "/" {
			return filesystem.NewInvalidInputError("cannot remove root directory")
		}
		if fs.hasChildrenLocked(p) {
			return filesystem.NewError(filesystem.KindOther, fmt.Sprintf("remove %s: directory not empty", p))
		}
	}
	delete(fs.nodes, p)
	return nil
}

func (fs *MemFS) RemoveAll(p string) error {
	p = filesystem.NormalizePath(p)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.nodes[p]; !ok {
		// Removing what is already gone succeeds.
		return nil
	}
	for _, cp := range fs.subtreeLocked(p) {
		delete(fs.nodes, cp)
	}
	if p == "/" {
		// The root itself survives; only its contents go.
		fs.nodes["/"] = &memNode{mode: 0755, modTime: time.Now(), isDir: true}
	}
	return nil
}

func (fs *MemFS) ReadDir(p string) ([]filesystem.FileInfo, error) {
	p = filesystem.NormalizePath(p)

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	node, ok := fs.nodes[p]
	if !ok {
		return nil, filesystem.NewNotFoundError("readdir", p)
	}
	if !node.isDir {
		return nil, filesystem.ErrNotDirectory
	}

	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	infos := []filesystem.FileInfo{}
	for cp, cn := range fs.nodes {
		if cp == p || !strings.HasPrefix(cp, prefix) {
			continue
		}
		if strings.Contains(cp[len(prefix):], "/") {
			continue
		}
		infos = append(infos, makeInfo(cp, cn))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (fs *MemFS) Stat(p string) (*filesystem.FileInfo, error) {
	p = filesystem.NormalizePath(p)

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	node, ok := fs.nodes[p]
	if !ok {
		return nil, filesystem.NewNotFoundError("stat", p)
	}
	info := makeInfo(p, node)
	return &info, nil
}

func (fs *MemFS) Rename(oldPath, newPath string) error {
	oldPath = filesystem.NormalizePath(oldPath)
	newPath = filesystem.NormalizePath(newPath)
	if oldPath == "/" || newPath == "/" {
		return filesystem.NewInvalidInputError("cannot rename root directory")
	}
	if oldPath == newPath {
		return nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	node, ok := fs.nodes[oldPath]
	if !ok {
		return filesystem.NewNotFoundError("rename", oldPath)
	}
	if err := fs.checkParentLocked(newPath); err != nil {
		return err
	}
	if target, ok := fs.nodes[newPath]; ok {
		// Only file-over-file replacement is allowed.
		if node.isDir || target.isDir {
			return filesystem.NewAlreadyExistsError("rename", newPath)
		}
	}

	if node.isDir {
		if strings.HasPrefix(newPath, oldPath+"/") {
			return filesystem.NewInvalidInputError("cannot move a directory into itself")
		}
		oldPrefix := oldPath + "/"
		for _, cp := range fs.subtreeLocked(oldPath) {
			if cp == oldPath {
				continue
			}
			fs.nodes[newPath+"/"+cp[len(oldPrefix):]] = fs.nodes[cp]
			delete(fs.nodes, cp)
		}
	}

	delete(fs.nodes, oldPath)
	fs.nodes[newPath] = node
	node.modTime = time.Now()
	return nil
}

func (fs *MemFS) Chmod(p string, mode uint32) error {
	p = filesystem.NormalizePath(p)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	node, ok := fs.nodes[p]
	if !ok {
		return filesystem.NewNotFoundError("chmod", p)
	}
	node.mode = mode
	return nil
}

// Truncate changes a file's size in place, zero-filling on extension.
func (fs *MemFS) Truncate(p string, size int64) error {
	p = filesystem.NormalizePath(p)
	if size < 0 {
		return filesystem.NewInvalidInputError(fmt.Sprintf("truncate size %d", size))
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	node, ok := fs.nodes[p]
	if !ok {
		return filesystem.NewNotFoundError("truncate", p)
	}
	if node.isDir {
		return filesystem.ErrIsDirectory
	}
	if size <= int64(len(node.data)) {
		node.data = node.data[:size]
	} else {
		node.data = append(node.data, make([]byte, size-int64(len(node.data)))...)
	}
	node.modTime = time.Now()
	return nil
}

func (fs *MemFS) Open(p string) (io.ReadCloser, error) {
	data, err := fs.Read(p, 0, -1)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (fs *MemFS) OpenWrite(p string) (io.WriteCloser, error) {
	p = filesystem.NormalizePath(p)

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if node, ok := fs.nodes[p]; ok && node.isDir {
		return nil, filesystem.ErrIsDirectory
	}
	if err := fs.checkParentLocked(p); err != nil {
		return nil, err
	}
	return filesystem.NewBufferedWriter(p, fs.Write), nil
}

// checkParentLocked verifies the parent of p exists and is a directory.
func (fs *MemFS) checkParentLocked(p string) error {
	parent := path.Dir(p)
	node, ok := fs.nodes[parent]
	if !ok {
		return filesystem.NewNotFoundError("stat", parent)
	}
	if !node.isDir {
		return filesystem.ErrNotDirectory
	}
	return nil
}

func (fs *MemFS) hasChildrenLocked(p string) bool {
	prefix := p + "/"
	for cp := range fs.nodes {
		if strings.HasPrefix(cp, prefix) {
			return true
		}
	}
	return false
}

// subtreeLocked returns p and every path below it.
func (fs *MemFS) subtreeLocked(p string) []string {
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}
	paths := []string{p}
	for cp := range fs.nodes {
		if cp != p && strings.HasPrefix(cp, prefix) {
			paths = append(paths, cp)
		}
	}
	return paths
}

func makeInfo(p string, node *memNode) filesystem.FileInfo {
	typ := "file"
	if node.isDir {
		typ = "directory"
	}
	return filesystem.FileInfo{
		Name:    path.Base(p),
		Size:    int64(len(node.data)),
		Mode:    node.mode,
		ModTime: node.modTime,
		IsDir:   node.isDir,
		Meta:    filesystem.MetaData{Name: PluginName, Type: typ},
	}
}

// Ensure MemFSPlugin implements ServicePlugin
var _ plugin.ServicePlugin = (*MemFSPlugin)(nil)
var _ filesystem.FileSystem = (*MemFS)(nil)
var _ filesystem.Truncater = (*MemFS)(nil)
