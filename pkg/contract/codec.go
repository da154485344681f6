package contract

import (
	"context"
	"io"
)

// RowDecoder: 将单文件字节流解码为有序 Row 序列，逐行回调（流式，不整体载入内存）。
// 约束：保持输入行序；格式错误返回包裹 ErrDecode 的错误；yield 返回错误时立即停止并上抛。
type RowDecoder interface {
	Decode(ctx context.Context, fileID FileID, r io.Reader, yield func(Row) error) error
}

// RowEncoder: 将 Row 序列按与输入相同的格式写出。
type RowEncoder interface {
	Encode(ctx context.Context, w io.Writer, rows []Row) error
}

// RowCodec 组合读写两端，保证输出与输入格式对称。
type RowCodec interface {
	RowDecoder
	RowEncoder
}
