package contract

import (
	"context"
	"io"
)

// ArtifactID: 输出目录内的工件相对名（分片文件名、索引文件名）。
type ArtifactID string

// Writer: 将工件以流式方式持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者（分片序号互斥保证）；
//  2. 按字节透传，不读取/修改内容；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}

// StreamWriter: 可选能力，直接在目标路径打开写句柄（非原子）。
// 关闭前目标路径即可见；失败时残留截断文件。
type StreamWriter interface {
	Create(ctx context.Context, id ArtifactID) (io.WriteCloser, error)
}

// Cleaner: 可选能力，重新打包前清理输出目录中上一次运行的残留。
type Cleaner interface {
	// Remove 删除 id；不存在视为成功。
	Remove(ctx context.Context, id ArtifactID) error
	// Sweep 删除中断运行遗留的临时文件，返回删除个数。
	Sweep(ctx context.Context) (int, error)
}
