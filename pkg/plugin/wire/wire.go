// Package wire encodes the values that cross a plugin boundary. Both
// physical bindings speak the same JSON shapes, so the host adapters and the
// guest-side shims share this one codec. Field names are contract, not
// style; changing them breaks plugins compiled against the old shape.
package wire

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin"
)

type metaDataJSON struct {
	Name    string            `json:"Name"`
	Type    string            `json:"Type"`
	Content map[string]string `json:"Content"`
}

type fileInfoJSON struct {
	Name    string       `json:"Name"`
	Size    int64        `json:"Size"`
	Mode    uint32       `json:"Mode"`
	ModTime time.Time    `json:"ModTime"`
	IsDir   bool         `json:"IsDir"`
	Meta    metaDataJSON `json:"Meta"`
}

func toWire(fi *filesystem.FileInfo) fileInfoJSON {
	content := fi.Meta.Content
	if content == nil {
		// Peers decode Content as a map, not an optional; never emit null.
		content = map[string]string{}
	}
	return fileInfoJSON{
		Name:    fi.Name,
		Size:    fi.Size,
		Mode:    fi.Mode,
		ModTime: fi.ModTime,
		IsDir:   fi.IsDir,
		Meta: metaDataJSON{
			Name:    fi.Meta.Name,
			Type:    fi.Meta.Type,
			Content: content,
		},
	}
}

func fromWire(w fileInfoJSON) filesystem.FileInfo {
	return filesystem.FileInfo{
		Name:    w.Name,
		Size:    w.Size,
		Mode:    w.Mode,
		ModTime: w.ModTime,
		IsDir:   w.IsDir,
		Meta: filesystem.MetaData{
			Name:    w.Meta.Name,
			Type:    w.Meta.Type,
			Content: w.Meta.Content,
		},
	}
}

// MarshalFileInfo encodes a single stat result.
func MarshalFileInfo(fi *filesystem.FileInfo) ([]byte, error) {
	data, err := sonic.Marshal(toWire(fi))
	if err != nil {
		return nil, fmt.Errorf("encode file info: %w", err)
	}
	return data, nil
}

// UnmarshalFileInfo decodes a single stat result.
func UnmarshalFileInfo(data []byte) (*filesystem.FileInfo, error) {
	var w fileInfoJSON
	if err := sonic.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode file info: %w", err)
	}
	fi := fromWire(w)
	return &fi, nil
}

// MarshalFileInfos encodes a directory listing. A nil slice encodes as the
// empty array, never null.
func MarshalFileInfos(infos []filesystem.FileInfo) ([]byte, error) {
	ws := make([]fileInfoJSON, len(infos))
	for i := range infos {
		ws[i] = toWire(&infos[i])
	}
	data, err := sonic.Marshal(ws)
	if err != nil {
		return nil, fmt.Errorf("encode directory listing: %w", err)
	}
	return data, nil
}

// UnmarshalFileInfos decodes a directory listing.
func UnmarshalFileInfos(data []byte) ([]filesystem.FileInfo, error) {
	var ws []fileInfoJSON
	if err := sonic.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("decode directory listing: %w", err)
	}
	infos := make([]filesystem.FileInfo, len(ws))
	for i := range ws {
		infos[i] = fromWire(ws[i])
	}
	return infos, nil
}

// MarshalConfigParams encodes a plugin's declared parameters. A nil slice
// encodes as the empty array.
func MarshalConfigParams(params []plugin.ConfigParameter) ([]byte, error) {
	if params == nil {
		params = []plugin.ConfigParameter{}
	}
	data, err := sonic.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode config params: %w", err)
	}
	return data, nil
}

// UnmarshalConfigParams decodes a plugin's declared parameters.
func UnmarshalConfigParams(data []byte) ([]plugin.ConfigParameter, error) {
	var params []plugin.ConfigParameter
	if err := sonic.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("decode config params: %w", err)
	}
	return params, nil
}

// EncodeMetaContent flattens a metadata map to the JSON object blob the
// native binding carries in a single string field. An empty map encodes as
// the empty string.
func EncodeMetaContent(content map[string]string) (string, error) {
	if len(content) == 0 {
		return "", nil
	}
	data, err := sonic.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("encode meta content: %w", err)
	}
	return string(data), nil
}

// DecodeMetaContent parses a metadata blob. The empty string and "{}" both
// decode to nil.
func DecodeMetaContent(blob string) (map[string]string, error) {
	if blob == "" {
		return nil, nil
	}
	var content map[string]string
	if err := sonic.Unmarshal([]byte(blob), &content); err != nil {
		return nil, fmt.Errorf("decode meta content: %w", err)
	}
	if len(content) == 0 {
		return nil, nil
	}
	return content, nil
}
