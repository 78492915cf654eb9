package filesystem

import (
	"time"
)

// MetaData carries plugin-defined metadata attached to a file. Content is a
// flat string map; bindings that cannot express maps transport it as a JSON
// object blob.
type MetaData struct {
	Name    string
	Type    string
	Content map[string]string
}

// FileInfo describes a single file or directory.
type FileInfo struct {
	Name    string
	Size    int64
	Mode    uint32
	ModTime time.Time
	IsDir   bool
	Meta    MetaData
}

// WriteFlag is a bitmask controlling Write behavior. Flags combine with |.
type WriteFlag uint32

const (
	WriteFlagNone      WriteFlag = 0
	WriteFlagAppend    WriteFlag = 1 << 0 // write at end of file, ignore offset
	WriteFlagCreate    WriteFlag = 1 << 1 // create the file if it does not exist
	WriteFlagExclusive WriteFlag = 1 << 2 // with Create, fail if the file exists
	WriteFlagTruncate  WriteFlag = 1 << 3 // truncate the file before writing
	WriteFlagSync      WriteFlag = 1 << 4 // flush to stable storage before returning
)

// Has reports whether flag is set in f.
func (f WriteFlag) Has(flag WriteFlag) bool {
	return f&flag != 0
}

// AppendOffset is the sentinel offset that requests append positioning even
// when WriteFlagAppend is not set. A non-negative offset combined with
// WriteFlagAppend still appends; the flag wins.
const AppendOffset int64 = -1
