package contract

import (
	"context"
	"io"
)

//go:generate mockgen -source=writer.go -destination=mocks/mock_writer.go -package=mocks

// ArtifactID: 输出工件标识（相对输出目录的文件名）。
type ArtifactID = FileID

// Writer: 将报告工件以流式方式持久化（覆盖写）。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 按字节透传，不读取/修改业务内容；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛（不做重试）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
