package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"imgshard/pkg/contract"
)

// Options 为归档扫描器的可选配置（最小必要）。
type Options struct {
	// Recursive: 是否递归子目录；默认仅扫描给定目录一层。
	Recursive bool `yaml:"recursive,omitempty"`
	// ExcludeDirNames: 递归时跳过这些目录名（基名、大小写不敏感）。
	ExcludeDirNames []string `yaml:"exclude_dir_names,omitempty"`
}

// FileSystem 基于文件系统列出待解包的归档。
type FileSystem struct {
	recursive  bool
	excludeDir map[string]struct{}
}

// New 创建扫描器。
func New(opts *Options) *FileSystem {
	ex := make(map[string]struct{})
	rec := false
	if opts != nil {
		rec = opts.Recursive
		for _, name := range opts.ExcludeDirNames {
			if name == "" {
				continue
			}
			ex[strings.ToLower(name)] = struct{}{}
		}
	}
	return &FileSystem{recursive: rec, excludeDir: ex}
}

var _ contract.Scanner = (*FileSystem)(nil)

// Scan 返回 root 下可识别扩展名的常规文件（字典序）。
// root 本身为归档文件时仅返回它；其它文件与非常规文件忽略。
func (r *FileSystem) Scan(ctx context.Context, root string) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if info.Mode().IsRegular() && contract.IsArchiveName(root) {
			return []string{root}, nil
		}
		return nil, nil
	}
	var out []string
	if err := r.walkDir(ctx, root, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, out *[]string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先文件（允许指向常规文件的符号链接；目录符号链接忽略）
	for _, e := range entries {
		if e.IsDir() || !contract.IsArchiveName(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			// 设备/管道等跳过
			continue
		}
		*out = append(*out, p)
	}
	if !r.recursive {
		return nil
	}
	// 再目录（不跟随目录符号链接）
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), out); err != nil {
			return err
		}
	}
	return nil
}
