package guest

import (
	"unsafe"
)

// PackU64 combines a pointer (high 32 bits) with a length or error pointer
// (low 32 bits). Export shims use it to build the packed results the host
// unpacks on the other side of the boundary.
func PackU64(hi, lo uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

// UnpackU64 splits a packed result.
func UnpackU64(v uint64) (hi, lo uint32) {
	return uint32(v >> 32), uint32(v)
}

// Arena hands out blocks the host may hold across calls and release through
// the module's free export. The registry pins every live block against the
// garbage collector and makes Free safe on any pointer: blocks the arena
// never handed out, including the scratch buffers, are ignored.
type Arena struct {
	blocks map[uintptr][]byte
}

func NewArena() *Arena {
	return &Arena{blocks: make(map[uintptr][]byte)}
}

// Alloc returns a zeroed block of the given size, or 0 for a zero size.
func (a *Arena) Alloc(size uint32) uintptr {
	if size == 0 {
		return 0
	}
	block := make([]byte, size)
	ptr := uintptr(unsafe.Pointer(&block[0]))
	a.blocks[ptr] = block
	return ptr
}

// AllocBytes returns a block holding a copy of data.
func (a *Arena) AllocBytes(data []byte) uintptr {
	ptr := a.Alloc(uint32(len(data)))
	if ptr == 0 {
		return 0
	}
	copy(a.blocks[ptr], data)
	return ptr
}

// AllocCString returns a block holding s followed by a NUL terminator.
func (a *Arena) AllocCString(s string) uintptr {
	block := make([]byte, len(s)+1)
	copy(block, s)
	ptr := uintptr(unsafe.Pointer(&block[0]))
	a.blocks[ptr] = block
	return ptr
}

// Free releases the block at ptr. Pointers the arena does not own are
// ignored, which covers the host freeing scratch-buffer results and the
// zero-length results it never needed to read.
func (a *Arena) Free(ptr uintptr) {
	delete(a.blocks, ptr)
}

// Live reports the number of blocks not yet freed.
func (a *Arena) Live() int {
	return len(a.blocks)
}
