package contract

import (
	"fmt"
	"strings"
)

// Entry: 清单中的单条记录（只读，读出后不可变）。
type Entry struct {
	Index   int
	RelPath string // 相对 <root>/data 的路径（正斜杠、已清理）
	Label   int64
}

// Chunk: 清单索引的半开区间 [Start, End)。
// Ordinal 为该块在一次划分中的序号，同时决定分片文件名。
type Chunk struct {
	Ordinal int
	Start   int
	End     int
}

// Len 返回区间内的条目数。
func (c Chunk) Len() int { return c.End - c.Start }

func (c Chunk) String() string { return fmt.Sprintf("#%d[%d,%d)", c.Ordinal, c.Start, c.End) }

// Buffering: 分片构建的缓冲策略。
type Buffering string

const (
	// InMemory: 整块先写入内存缓冲，再一次性原子落盘（默认）。
	InMemory Buffering = "memory"
	// Streamed: 直接在目标路径上边读边写；中途失败会留下截断文件。
	Streamed Buffering = "streamed"
)

// ParseBuffering 解析缓冲策略；空串取默认 InMemory。
func ParseBuffering(s string) (Buffering, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "memory", "in_memory", "inmemory":
		return InMemory, nil
	case "streamed", "stream", "disk":
		return Streamed, nil
	default:
		return "", fmt.Errorf("%w: buffering %q", ErrInvalidArgument, s)
	}
}

// Layout: 解包目录布局。
type Layout string

const (
	// Nested: 每个归档解到 <dest>/<归档基名>/ 下。
	Nested Layout = "nested"
	// Flat: 直接解到 <dest>，依赖各归档内部路径全局唯一。
	Flat Layout = "flat"
)

// ParseLayout 解析解包布局；空串取默认 Nested。
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nested":
		return Nested, nil
	case "flat":
		return Flat, nil
	default:
		return "", fmt.Errorf("%w: layout %q", ErrInvalidArgument, s)
	}
}

// Compression: 归档条目的压缩方式。
type Compression string

const (
	Deflate Compression = "deflate"
	Store   Compression = "store"
	Zstd    Compression = "zstd"
)

// ParseCompression 解析压缩方式；空串取默认 Deflate。
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "deflate":
		return Deflate, nil
	case "store", "none":
		return Store, nil
	case "zstd":
		return Zstd, nil
	default:
		return "", fmt.Errorf("%w: compression %q", ErrInvalidArgument, s)
	}
}

// ShardInfo: 已写出分片的描述（构建完成即返回，构建器不保留状态）。
type ShardInfo struct {
	Name    string `yaml:"name"`
	Ordinal int    `yaml:"ordinal"`
	Total   int    `yaml:"total"`
	Start   int    `yaml:"start"`
	End     int    `yaml:"end"`
	Entries int    `yaml:"entries"`
	Bytes   int64  `yaml:"bytes"`
	Sum     string `yaml:"blake3"`
}

// MissingPath: 审计发现的首个缺失条目。
type MissingPath struct {
	Index   int
	RelPath string
}

// AuditResult: 单块审计结果；Missing 为 nil 表示该块全部存在。
type AuditResult struct {
	Chunk   Chunk
	Missing *MissingPath
}

// OK 报告该块是否无缺失。
func (r AuditResult) OK() bool { return r.Missing == nil }
