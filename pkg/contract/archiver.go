package contract

import "context"

// BuildRequest: 单个分片的构建参数。
type BuildRequest struct {
	Manifest    Manifest
	Chunk       Chunk
	Total       int // 分片总数（用于命名）；<=0 使用单参数命名
	DataRoot    string
	Buffering   Buffering
	Compression Compression
}

// Builder: 将一个 Chunk 打包为一个分片。
// 约束：同步执行、不起内部并发；错误直接上抛，不做重试。
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (ShardInfo, error)
}

// Extractor: 将单个归档解到目标目录，返回写出的文件数。
// 部分写出（前若干条目已落盘）由调用方通过审计发现。
type Extractor interface {
	Extract(ctx context.Context, archivePath, dest string, layout Layout) (int, error)
}

// Archiver 同时提供打包与解包。
type Archiver interface {
	Builder
	Extractor
}

// Verifier: 可选能力，按期望校验和核对归档文件。
type Verifier interface {
	Verify(ctx context.Context, archivePath, wantSum string) error
}
