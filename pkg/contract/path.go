package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// County 返回 FileID 对应的县名：文件基名按空白切分后的首个词。
// 例如 "data/ADAMS FVE 20201123.txt" → "ADAMS"；无法切分时返回基名本身。
func (id FileID) County() string {
	base := path.Base(string(id))
	if f := strings.Fields(base); len(f) > 0 {
		return f[0]
	}
	return base
}
