package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（哨兵）；组件以 %w 包装后上抛。
var (
	// ErrInvalidArgument: 参数非法（例如划分块数大于条目数）。
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSourceNotFound: 清单条目对应的源文件不存在。
	ErrSourceNotFound = errors.New("source not found")
	// ErrCorruptArchive: 归档结构不可读或校验和不符。
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrIO: 读写/权限/磁盘空间类失败。
	ErrIO = errors.New("io error")
	// ErrPathInvalid: 路径为绝对路径或以 '..' 逃逸出根目录。
	ErrPathInvalid = errors.New("path invalid")
	// ErrManifest: 清单存储不可用或内容不一致。
	ErrManifest = errors.New("manifest unavailable")
)

// SourceNotFoundError 携带缺失源文件的索引与路径。
type SourceNotFoundError struct {
	Index int
	Path  string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source not found: index %d: %s", e.Index, e.Path)
}

func (e *SourceNotFoundError) Unwrap() error { return ErrSourceNotFound }

// ItemError: 协调器上抛的首个失败（按提交顺序）。
type ItemError struct {
	Index int
	Name  string
	Err   error
}

func (e *ItemError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("item %d (%s): %v", e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }
