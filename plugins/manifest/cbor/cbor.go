// Package cbor 以 CBOR 快照实现 ManifestStore：
// <root>/order_files/<split>.cbor，内容为 [{p: 路径, l: 标签}, ...]，整份读入内存。
package cbor

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"imgshard/pkg/contract"
	"imgshard/pkg/dataset"
)

const DefaultPattern = "%s.cbor"

type record struct {
	P string `cbor:"p"`
	L int64  `cbor:"l"`
}

// 清单可达数百万条，放开默认数组长度上限。
var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{MaxArrayElements: math.MaxInt32}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Options: 清单根目录与文件名模式（%s 替换为 split）。
type Options struct {
	Root    string `yaml:"root"`
	Pattern string `yaml:"pattern,omitempty"`
}

type Store struct {
	root    string
	pattern string
}

// New 创建 CBOR 清单存储。
func New(opts *Options) (*Store, error) {
	if opts == nil || strings.TrimSpace(opts.Root) == "" {
		return nil, fmt.Errorf("%w: cbor manifest root empty", contract.ErrInvalidArgument)
	}
	p := DefaultPattern
	if opts.Pattern != "" {
		p = opts.Pattern
	}
	return &Store{root: opts.Root, pattern: p}, nil
}

var _ contract.ManifestStore = (*Store)(nil)

// Open 解码 split 的快照。
func (s *Store) Open(ctx context.Context, split string) (contract.Manifest, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	p := dataset.OrderFile(s.root, fmt.Sprintf(s.pattern, split))
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrManifest, err)
	}
	defer f.Close()
	var recs []record
	if err := decMode.NewDecoder(bufio.NewReaderSize(f, 1<<20)).Decode(&recs); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", contract.ErrManifest, p, err)
	}
	paths := make([]string, len(recs))
	labels := make([]int64, len(recs))
	for i, r := range recs {
		paths[i], labels[i] = r.P, r.L
	}
	m, err := dataset.NewMemory(paths, labels)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Write 以默认文件名写出 split 的 CBOR 快照（覆盖已有文件）。
func Write(root, split string, entries []contract.Entry) error {
	if err := os.MkdirAll(dataset.OrderDir(root), 0o755); err != nil {
		return err
	}
	recs := make([]record, len(entries))
	for i, e := range entries {
		recs[i] = record{P: e.RelPath, L: e.Label}
	}
	b, err := cbor.Marshal(recs)
	if err != nil {
		return err
	}
	return os.WriteFile(dataset.OrderFile(root, fmt.Sprintf(DefaultPattern, split)), b, 0o644)
}
