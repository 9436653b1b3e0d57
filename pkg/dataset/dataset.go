// Package dataset 描述数据集根目录布局，并提供内存清单实现。
//
// 布局：
//
//	<root>/order_files/  清单文件（按 split 命名）
//	<root>/data/         清单相对路径的基准目录
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"imgshard/pkg/contract"
)

const (
	OrderDirName = "order_files"
	DataDirName  = "data"
)

// OrderDir 返回清单目录。
func OrderDir(root string) string { return filepath.Join(root, OrderDirName) }

// DataDir 返回数据目录。
func DataDir(root string) string { return filepath.Join(root, DataDirName) }

// OrderFile 返回清单目录下的文件路径。
func OrderFile(root, name string) string { return filepath.Join(OrderDir(root), name) }

// SourcePath 将清单相对路径映射为数据目录下的源文件路径。
func SourcePath(dataRoot, rel string) string {
	return filepath.Join(dataRoot, filepath.FromSlash(rel))
}

// Check 校验数据集根目录：order_files 与 data 均需存在且为目录。
func Check(root string) error {
	if strings.TrimSpace(root) == "" {
		return fmt.Errorf("%w: dataset root not set", contract.ErrInvalidArgument)
	}
	for _, d := range []string{OrderDir(root), DataDir(root)} {
		st, err := os.Stat(d)
		if err != nil {
			return fmt.Errorf("%w: dataset dir %s: %v", contract.ErrInvalidArgument, d, err)
		}
		if !st.IsDir() {
			return fmt.Errorf("%w: dataset dir %s is not a directory", contract.ErrInvalidArgument, d)
		}
	}
	return nil
}

// Memory 为只读内存清单；构造后不再修改，可被多个 worker 并发读取。
type Memory struct {
	paths  []string
	labels []int64
}

// NewMemory 由平行数组构造；labels 为 nil 时标签全为 0，否则长度必须一致。
func NewMemory(paths []string, labels []int64) (*Memory, error) {
	if labels != nil && len(labels) != len(paths) {
		return nil, fmt.Errorf("%w: %d paths but %d labels", contract.ErrManifest, len(paths), len(labels))
	}
	return &Memory{paths: paths, labels: labels}, nil
}

// FromEntries 由条目构造（按切片顺序，忽略 Entry.Index）。
func FromEntries(entries []contract.Entry) *Memory {
	m := &Memory{paths: make([]string, len(entries)), labels: make([]int64, len(entries))}
	for i, e := range entries {
		m.paths[i] = e.RelPath
		m.labels[i] = e.Label
	}
	return m
}

var _ contract.Manifest = (*Memory)(nil)

func (m *Memory) Len() int { return len(m.paths) }

// Get 返回规范化后的条目；越界为 ErrInvalidArgument，非法路径为 ErrPathInvalid。
func (m *Memory) Get(i int) (contract.Entry, error) {
	if i < 0 || i >= len(m.paths) {
		return contract.Entry{}, fmt.Errorf("%w: index %d out of [0,%d)", contract.ErrInvalidArgument, i, len(m.paths))
	}
	rel, err := contract.NormalizeRelPath(m.paths[i])
	if err != nil {
		return contract.Entry{}, fmt.Errorf("index %d %q: %w", i, m.paths[i], err)
	}
	var label int64
	if m.labels != nil {
		label = m.labels[i]
	}
	return contract.Entry{Index: i, RelPath: rel, Label: label}, nil
}

func (m *Memory) Close() error { return nil }

// All 依次读取清单全部条目（用于格式转换）。
func All(m contract.Manifest) ([]contract.Entry, error) {
	out := make([]contract.Entry, 0, m.Len())
	for i := 0; i < m.Len(); i++ {
		e, err := m.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
