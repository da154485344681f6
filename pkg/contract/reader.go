package contract

import (
	"context"
	"io"
)

// Reader: 输入源抽象（县级 FVE 文件发现 + 打开）。
// 约束：
// 1) 按 roots 给定顺序、目录内按文件名字典序逐文件回调；
// 2) FileID 稳定且去平台差异化；
// 3) 仅提供字节流，不做解码；
// 4) 不在内部起并发。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, r io.ReadCloser) error) error
}
