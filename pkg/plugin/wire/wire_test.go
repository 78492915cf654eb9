package wire

import (
	"strings"
	"testing"
	"time"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin"
)

func TestFileInfoFieldNames(t *testing.T) {
	fi := &filesystem.FileInfo{
		Name:    "hello",
		Size:    31,
		Mode:    0644,
		ModTime: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		IsDir:   false,
		Meta: filesystem.MetaData{
			Name:    "hello",
			Type:    "text",
			Content: map[string]string{"language": "c"},
		},
	}

	data, err := MarshalFileInfo(fi)
	if err != nil {
		t.Fatalf("MarshalFileInfo failed: %v", err)
	}

	// The exported field names are the boundary contract.
	for _, key := range []string{`"Name"`, `"Size"`, `"Mode"`, `"ModTime"`, `"IsDir"`, `"Meta"`, `"Type"`, `"Content"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Expected key %s in %s", key, data)
		}
	}
	if !strings.Contains(string(data), `"language":"c"`) {
		t.Errorf("Expected meta content in %s", data)
	}

	back, err := UnmarshalFileInfo(data)
	if err != nil {
		t.Fatalf("UnmarshalFileInfo failed: %v", err)
	}
	if back.Name != "hello" || back.Size != 31 || back.Mode != 0644 || back.IsDir {
		t.Errorf("Expected round-tripped info, got %+v", back)
	}
	if !back.ModTime.Equal(fi.ModTime) {
		t.Errorf("Expected ModTime %v, got %v", fi.ModTime, back.ModTime)
	}
	if back.Meta.Content["language"] != "c" {
		t.Errorf("Expected meta content preserved, got %+v", back.Meta)
	}
}

func TestNilMetaContentEncodesAsEmptyObject(t *testing.T) {
	data, err := MarshalFileInfo(&filesystem.FileInfo{Name: "x"})
	if err != nil {
		t.Fatalf("MarshalFileInfo failed: %v", err)
	}
	if strings.Contains(string(data), "null") {
		t.Errorf("Expected no null in %s", data)
	}
	if !strings.Contains(string(data), `"Content":{}`) {
		t.Errorf("Expected empty Content object in %s", data)
	}
}

func TestNilListingEncodesAsEmptyArray(t *testing.T) {
	data, err := MarshalFileInfos(nil)
	if err != nil {
		t.Fatalf("MarshalFileInfos failed: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("Expected [], got %s", data)
	}
}

func TestListingRoundTrip(t *testing.T) {
	infos := []filesystem.FileInfo{
		{Name: "a.txt", Size: 3, Mode: 0644},
		{Name: "sub", Mode: 0755, IsDir: true},
	}
	data, err := MarshalFileInfos(infos)
	if err != nil {
		t.Fatalf("MarshalFileInfos failed: %v", err)
	}
	back, err := UnmarshalFileInfos(data)
	if err != nil {
		t.Fatalf("UnmarshalFileInfos failed: %v", err)
	}
	if len(back) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(back))
	}
	if back[0].Name != "a.txt" || !back[1].IsDir {
		t.Errorf("Expected listing preserved, got %+v", back)
	}
}

func TestConfigParamFieldNames(t *testing.T) {
	params := []plugin.ConfigParameter{
		{Name: "path", Type: "string", Required: true, Description: "database file"},
	}
	data, err := MarshalConfigParams(params)
	if err != nil {
		t.Fatalf("MarshalConfigParams failed: %v", err)
	}
	for _, key := range []string{`"name"`, `"type"`, `"required"`, `"default"`, `"description"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Expected key %s in %s", key, data)
		}
	}

	back, err := UnmarshalConfigParams(data)
	if err != nil {
		t.Fatalf("UnmarshalConfigParams failed: %v", err)
	}
	if len(back) != 1 || back[0].Name != "path" || !back[0].Required {
		t.Errorf("Expected params preserved, got %+v", back)
	}
}

func TestNilConfigParamsEncodeAsEmptyArray(t *testing.T) {
	data, err := MarshalConfigParams(nil)
	if err != nil {
		t.Fatalf("MarshalConfigParams failed: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("Expected [], got %s", data)
	}
}

func TestMetaContentBlob(t *testing.T) {
	blob, err := EncodeMetaContent(map[string]string{"language": "c"})
	if err != nil {
		t.Fatalf("EncodeMetaContent failed: %v", err)
	}
	if blob != `{"language":"c"}` {
		t.Errorf("Expected blob, got %q", blob)
	}

	back, err := DecodeMetaContent(blob)
	if err != nil {
		t.Fatalf("DecodeMetaContent failed: %v", err)
	}
	if back["language"] != "c" {
		t.Errorf("Expected decoded map, got %+v", back)
	}
}

func TestEmptyMetaContent(t *testing.T) {
	blob, err := EncodeMetaContent(nil)
	if err != nil {
		t.Fatalf("EncodeMetaContent failed: %v", err)
	}
	if blob != "" {
		t.Errorf("Expected empty blob for empty map, got %q", blob)
	}

	for _, in := range []string{"", "{}"} {
		m, err := DecodeMetaContent(in)
		if err != nil {
			t.Fatalf("DecodeMetaContent(%q) failed: %v", in, err)
		}
		if m != nil {
			t.Errorf("DecodeMetaContent(%q): Expected nil, got %+v", in, m)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalFileInfo([]byte("not json")); err == nil {
		t.Error("Expected error for invalid file info")
	}
	if _, err := UnmarshalFileInfos([]byte("{")); err == nil {
		t.Error("Expected error for invalid listing")
	}
	if _, err := DecodeMetaContent("{broken"); err == nil {
		t.Error("Expected error for invalid meta blob")
	}
}
