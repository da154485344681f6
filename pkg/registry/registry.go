package registry

import (
	"bytes"
	"encoding/json"

	"rollaudit/pkg/contract"
	rfs "rollaudit/plugins/reader/filesystem"
	tsv "rollaudit/plugins/rowcodec/tsv"
	wfs "rollaudit/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewRowCodec 工厂签名：接收原样 JSON Options。
type NewRowCodec func(raw json.RawMessage) (contract.RowCodec, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 本地目录县级 FVE 文件发现
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// RowCodec 工厂注册表。
var RowCodec = map[string]NewRowCodec{
	// tsv: 制表符分隔、全字段加引号
	"tsv": func(raw json.RawMessage) (contract.RowCodec, error) {
		var opts tsv.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return tsv.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 输出目录 Writer（默认原子替换）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
