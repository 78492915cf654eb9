package plugin

import (
	"bytes"
	"testing"

	"github.com/huanghantao/agfs/pkg/plugin/config"
)

func TestBaseDefaults(t *testing.T) {
	var b Base

	if err := b.Validate(config.New()); err != nil {
		t.Errorf("Base.Validate should succeed, got %v", err)
	}
	if err := b.Initialize(config.New()); err != nil {
		t.Errorf("Base.Initialize should succeed, got %v", err)
	}
	if err := b.Shutdown(); err != nil {
		t.Errorf("Base.Shutdown should succeed, got %v", err)
	}
	if readme := b.GetReadme(); readme != DefaultReadme {
		t.Errorf("Expected default readme %q, got %q", DefaultReadme, readme)
	}
	if params := b.GetConfigParams(); params != nil {
		t.Errorf("Expected nil config params, got %v", params)
	}
}

func TestApplyRangeReadFull(t *testing.T) {
	data := []byte("Hello, World!")

	for _, size := range []int64{-1, 0, int64(len(data)), 1000} {
		out, err := ApplyRangeRead(data, 0, size)
		if err != nil {
			t.Fatalf("ApplyRangeRead(0, %d) failed: %v", size, err)
		}
		if !bytes.Equal(out, data) {
			t.Errorf("ApplyRangeRead(0, %d) = %q, want %q", size, out, data)
		}
	}
}

func TestApplyRangeReadPartial(t *testing.T) {
	data := []byte("Hello, World!")

	out, err := ApplyRangeRead(data, 7, 5)
	if err != nil {
		t.Fatalf("ApplyRangeRead failed: %v", err)
	}
	if string(out) != "World" {
		t.Errorf("Expected %q, got %q", "World", out)
	}

	// Size crossing the end is clamped.
	out, err = ApplyRangeRead(data, 7, 100)
	if err != nil {
		t.Fatalf("ApplyRangeRead failed: %v", err)
	}
	if string(out) != "World!" {
		t.Errorf("Expected %q, got %q", "World!", out)
	}
}

func TestApplyRangeReadPastEnd(t *testing.T) {
	data := []byte("abc")

	for _, offset := range []int64{3, 4, 100} {
		out, err := ApplyRangeRead(data, offset, 10)
		if err != nil {
			t.Fatalf("ApplyRangeRead(%d, 10) failed: %v", offset, err)
		}
		if len(out) != 0 {
			t.Errorf("ApplyRangeRead(%d, 10) = %q, want empty", offset, out)
		}
	}
}

func TestApplyRangeReadNegativeOffset(t *testing.T) {
	// -1 is the append sentinel for writes; for reads it is malformed input.
	if _, err := ApplyRangeRead([]byte("abc"), -1, 10); err == nil {
		t.Error("Expected error for negative offset")
	}
}

func TestApplyRangeReadCopies(t *testing.T) {
	data := []byte("mutable")
	out, err := ApplyRangeRead(data, 0, -1)
	if err != nil {
		t.Fatalf("ApplyRangeRead failed: %v", err)
	}
	data[0] = 'X'
	if out[0] != 'm' {
		t.Error("ApplyRangeRead should return a copy, not a view")
	}
}
