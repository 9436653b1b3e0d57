// Package lines 以纯文本清单文件实现 ManifestStore：
// <root>/order_files/<split>_image_paths.txt 与 <split>_labels.txt，每行一个值，行号即索引。
package lines

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"imgshard/pkg/contract"
	"imgshard/pkg/dataset"
)

const (
	DefaultPathsPattern  = "%s_image_paths.txt"
	DefaultLabelsPattern = "%s_labels.txt"
)

// Options: 清单根目录与文件名模式（%s 替换为 split）。
type Options struct {
	Root          string `yaml:"root"`
	PathsPattern  string `yaml:"paths_pattern,omitempty"`
	LabelsPattern string `yaml:"labels_pattern,omitempty"`
}

// Store 打开文本清单；整份读入内存后只读。
type Store struct {
	root   string
	paths  string
	labels string
}

// New 创建文本清单存储。
func New(opts *Options) (*Store, error) {
	if opts == nil || strings.TrimSpace(opts.Root) == "" {
		return nil, fmt.Errorf("%w: lines manifest root empty", contract.ErrInvalidArgument)
	}
	s := &Store{root: opts.Root, paths: DefaultPathsPattern, labels: DefaultLabelsPattern}
	if opts.PathsPattern != "" {
		s.paths = opts.PathsPattern
	}
	if opts.LabelsPattern != "" {
		s.labels = opts.LabelsPattern
	}
	return s, nil
}

var _ contract.ManifestStore = (*Store)(nil)

// Open 读取 split 的路径与标签文件；两者行数必须一致。
func (s *Store) Open(ctx context.Context, split string) (contract.Manifest, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	pp := dataset.OrderFile(s.root, fmt.Sprintf(s.paths, split))
	paths, err := readLines(pp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrManifest, err)
	}
	lp := dataset.OrderFile(s.root, fmt.Sprintf(s.labels, split))
	raw, err := readLines(lp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrManifest, err)
	}
	labels := make([]int64, len(raw))
	for i, v := range raw {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", contract.ErrManifest, filepath.Base(lp), i+1, err)
		}
		labels[i] = n
	}
	m, err := dataset.NewMemory(paths, labels)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func readLines(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	br := bufio.NewReaderSize(f, 1<<20)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			out = append(out, strings.TrimRight(line, "\r\n"))
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Write 以默认文件名写出 split 的文本清单（覆盖已有文件）。
func Write(root, split string, entries []contract.Entry) error {
	if err := os.MkdirAll(dataset.OrderDir(root), 0o755); err != nil {
		return err
	}
	var pb, lb strings.Builder
	for _, e := range entries {
		pb.WriteString(e.RelPath)
		pb.WriteByte('\n')
		lb.WriteString(strconv.FormatInt(e.Label, 10))
		lb.WriteByte('\n')
	}
	if err := os.WriteFile(dataset.OrderFile(root, fmt.Sprintf(DefaultPathsPattern, split)), []byte(pb.String()), 0o644); err != nil {
		return err
	}
	return os.WriteFile(dataset.OrderFile(root, fmt.Sprintf(DefaultLabelsPattern, split)), []byte(lb.String()), 0o644)
}
