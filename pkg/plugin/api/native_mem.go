package api

import (
	"time"
	"unsafe"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin/wire"
)

// fileInfoC mirrors the C struct the native binding uses for stat and
// readdir results on LP64 platforms. Pointer fields are uintptr so the
// garbage collector never chases plugin-owned memory. The blank fields are
// the alignment padding the C compiler inserts.
//
//	struct FileInfoC {
//	    char    *name;          // offset 0
//	    int64_t  size;          // offset 8
//	    uint32_t mode;          // offset 16
//	    int64_t  mod_time;      // offset 24, unix seconds
//	    int32_t  is_dir;        // offset 32
//	    char    *meta_name;     // offset 40
//	    char    *meta_type;     // offset 48
//	    char    *meta_content;  // offset 56, JSON object blob
//	};
type fileInfoC struct {
	name        uintptr
	size        int64
	mode        uint32
	_           uint32
	modTime     int64
	isDir       int32
	_           int32
	metaName    uintptr
	metaType    uintptr
	metaContent uintptr
}

// fileInfoArrayC mirrors the readdir result: a contiguous array of
// fileInfoC structs plus its length.
type fileInfoArrayC struct {
	items uintptr
	count int32
	_     int32
}

const (
	fileInfoCSize      = unsafe.Sizeof(fileInfoC{})
	fileInfoArrayCSize = unsafe.Sizeof(fileInfoArrayC{})
)

// goString copies a NUL-terminated C string into a Go string. A null
// pointer yields the empty string.
func goString(ptr uintptr) string {
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

// goBytes copies n bytes of plugin memory into a fresh Go slice.
func goBytes(ptr uintptr, n int) []byte {
	if ptr == 0 || n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
	return out
}

// decodeFileInfoC copies one fileInfoC into the in-process representation.
// It does not free anything; callers own the release.
func decodeFileInfoC(ptr uintptr) (filesystem.FileInfo, error) {
	c := (*fileInfoC)(unsafe.Pointer(ptr))
	content, err := wire.DecodeMetaContent(goString(c.metaContent))
	if err != nil {
		return filesystem.FileInfo{}, err
	}
	return filesystem.FileInfo{
		Name:    goString(c.name),
		Size:    c.size,
		Mode:    c.mode,
		ModTime: time.Unix(c.modTime, 0).UTC(),
		IsDir:   c.isDir != 0,
		Meta: filesystem.MetaData{
			Name:    goString(c.metaName),
			Type:    goString(c.metaType),
			Content: content,
		},
	}, nil
}

// freeFileInfoStrings releases the string fields of one entry. Entry
// structs inside a readdir items array are not freed individually.
func (p *NativePlugin) freeFileInfoStrings(c *fileInfoC) {
	for _, s := range [...]uintptr{c.name, c.metaName, c.metaType, c.metaContent} {
		if s != 0 {
			p.abi.free(s)
		}
	}
}

// freeFileInfoC releases a standalone stat result: its strings, then the
// struct itself.
func (p *NativePlugin) freeFileInfoC(ptr uintptr) {
	p.freeFileInfoStrings((*fileInfoC)(unsafe.Pointer(ptr)))
	p.abi.free(ptr)
}
