package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"imgshard/pkg/contract"
	zarc "imgshard/plugins/archiver/zip"
	mcbor "imgshard/plugins/manifest/cbor"
	mlines "imgshard/plugins/manifest/lines"
	msqlite "imgshard/plugins/manifest/sqlite"
	rfs "imgshard/plugins/reader/filesystem"
	wfs "imgshard/plugins/writer/filesystem"
)

// Env: 组件构造时由装配层注入的上下文（选项未显式给出时的默认值来源）。
type Env struct {
	Root      string // 数据集根目录
	TargetDir string // 分片输出目录
}

// strictDecode: 以 KnownFields 严格解码 YAML 子树，拒绝未知字段。
// raw 为 nil 或空节点时保持零值（默认选项）。
func strictDecode(raw *yaml.Node, v any) error {
	if raw == nil || raw.Kind == 0 {
		return nil
	}
	b, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: options: %v", contract.ErrInvalidArgument, err)
	}
	return nil
}

// NewManifest 工厂签名：接收原样 YAML Options。
type NewManifest func(env Env, raw *yaml.Node) (contract.ManifestStore, error)

// NewWriter 工厂签名：接收原样 YAML Options。
type NewWriter func(env Env, raw *yaml.Node) (contract.Writer, error)

// NewArchiver 工厂签名：out 为构建结果落盘的 Writer（仅解包时可为 nil）。
type NewArchiver func(raw *yaml.Node, out contract.Writer) (contract.Archiver, error)

// NewScanner 工厂签名：接收原样 YAML Options。
type NewScanner func(raw *yaml.Node) (contract.Scanner, error)

// Manifest 工厂注册表（显式、零反射）。
var Manifest = map[string]NewManifest{
	// lines: order_files 下的路径/标签文本文件
	"lines": func(env Env, raw *yaml.Node) (contract.ManifestStore, error) {
		var opts mlines.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		if opts.Root == "" {
			opts.Root = env.Root
		}
		return mlines.New(&opts)
	},
	// sqlite: order_files/<split>.sqlite 点查
	"sqlite": func(env Env, raw *yaml.Node) (contract.ManifestStore, error) {
		var opts msqlite.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		if opts.Root == "" {
			opts.Root = env.Root
		}
		return msqlite.New(&opts)
	},
	// cbor: order_files/<split>.cbor 快照
	"cbor": func(env Env, raw *yaml.Node) (contract.ManifestStore, error) {
		var opts mcbor.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		if opts.Root == "" {
			opts.Root = env.Root
		}
		return mcbor.New(&opts)
	},
}

// Archiver 工厂注册表。
var Archiver = map[string]NewArchiver{
	"zip": func(raw *yaml.Node, out contract.Writer) (contract.Archiver, error) {
		var opts zarc.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return zarc.New(out, &opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（工件写入单一输出目录）
	"fs": func(env Env, raw *yaml.Node) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		if opts.OutputDir == "" {
			opts.OutputDir = env.TargetDir
		}
		w, err := wfs.New(&opts)
		if err != nil {
			return nil, fmt.Errorf("%w: writer fs: %v", contract.ErrInvalidArgument, err)
		}
		return w, nil
	},
}

// Scanner 工厂注册表。
var Scanner = map[string]NewScanner{
	// fs: 目录内 .zip 归档（可选递归）
	"fs": func(raw *yaml.Node) (contract.Scanner, error) {
		var opts rfs.Options
		if err := strictDecode(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}
