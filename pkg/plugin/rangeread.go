package plugin

import (
	"github.com/huanghantao/agfs/pkg/filesystem"
)

// ApplyRangeRead slices an in-memory snapshot according to the shared Read
// semantics: an offset at or past the end yields an empty slice and no
// error, a size of zero or less reads to the end, and a range crossing the
// end is clamped. The returned slice is a copy, safe to keep after the
// snapshot changes.
func ApplyRangeRead(data []byte, offset, size int64) ([]byte, error) {
	if offset < 0 {
		return nil, filesystem.NewInvalidInputError("negative read offset")
	}
	if offset >= int64(len(data)) {
		return []byte{}, nil
	}
	remaining := int64(len(data)) - offset
	n := remaining
	if size > 0 && size < remaining {
		n = size
	}
	out := make([]byte, n)
	copy(out, data[offset:offset+n])
	return out, nil
}
