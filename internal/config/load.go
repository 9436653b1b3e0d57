package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"imgshard/internal/audit"
	"imgshard/pkg/contract"
)

// EnvPrefix 为环境变量覆盖的前缀。
const EnvPrefix = "IMGSHARD_"

// DefaultFile 为工作目录下默认读取的配置文件名。
const DefaultFile = "imgshard.yaml"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：root 不设默认（必须由 YAML/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Dataset:     "CLOC",
		Split:       "train",
		NumItems:    300000 * 128,
		NumChunks:   1024,
		Buffering:   string(contract.InMemory),
		Compression: string(contract.Deflate),
		Layout:      string(contract.Nested),
		Verify:      boolPtr(true),
		Parallel:    boolPtr(true),
		Workers:     Workers{Unpack: 8, Audit: 32},
		Audit:       Audit{ChunkSize: 1000},
		Logging:     Logging{Level: "info"},
		Components: Components{
			Manifest: "lines",
			Archiver: "zip",
			Writer:   "fs",
			Scanner:  "fs",
		},
	}
}

// LoadYAML 从文件路径或原始 YAML 解析 Config（严格拒绝未知字段）。
func LoadYAML(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%w: config: %v", contract.ErrInvalidArgument, err)
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 YAML 子树为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	setStr(&out.Dataset, over.Dataset)
	setStr(&out.Root, over.Root)
	setStr(&out.Split, over.Split)
	setInt(&out.NumItems, over.NumItems)
	setInt(&out.NumChunks, over.NumChunks)
	setBool(&out.Tail, over.Tail)
	setStr(&out.TargetDir, over.TargetDir)
	setStr(&out.Buffering, over.Buffering)
	setStr(&out.Compression, over.Compression)
	setStr(&out.Layout, over.Layout)
	setBool(&out.Verify, over.Verify)
	setBool(&out.RemoveArchives, over.RemoveArchives)
	setBool(&out.Parallel, over.Parallel)

	setInt(&out.Workers.Pack, over.Workers.Pack)
	setInt(&out.Workers.Unpack, over.Workers.Unpack)
	setInt(&out.Workers.Audit, over.Workers.Audit)
	setInt(&out.Audit.ChunkSize, over.Audit.ChunkSize)
	setStr(&out.Audit.Report, over.Audit.Report)
	setStr(&out.Logging.Level, over.Logging.Level)

	// 组件名（空不覆盖）
	setStr(&out.Components.Manifest, over.Components.Manifest)
	setStr(&out.Components.Archiver, over.Components.Archiver)
	setStr(&out.Components.Writer, over.Components.Writer)
	setStr(&out.Components.Scanner, over.Components.Scanner)

	// Options（完整替换对应键）
	if over.Options.Manifest != nil {
		out.Options.Manifest = over.Options.Manifest
	}
	if over.Options.Archiver != nil {
		out.Options.Archiver = over.Options.Archiver
	}
	if over.Options.Writer != nil {
		out.Options.Writer = over.Options.Writer
	}
	if over.Options.Scanner != nil {
		out.Options.Scanner = over.Options.Scanner
	}
	return out
}

func setStr(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst **bool, v *bool) {
	if v != nil {
		b := *v
		*dst = &b
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 IMGSHARD_；集合之外的键忽略；数值/布尔无法解析时报错。
// 支持：DATASET, ROOT, SPLIT, NUM_ITEMS, NUM_CHUNKS, TAIL, TARGET_DIR, BUFFERING, COMPRESSION,
// LAYOUT, VERIFY, REMOVE_ARCHIVES, PARALLEL, WORKERS_{PACK,UNPACK,AUDIT}, AUDIT_CHUNK_SIZE,
// AUDIT_REPORT, LOG_LEVEL, COMPONENTS_* 以及 OPTIONS_<COMP>_YAML（原样 YAML 子树）。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			continue
		}
		var err error
		switch key {
		case "DATASET":
			over.Dataset = val
		case "ROOT":
			over.Root = val
		case "SPLIT":
			over.Split = val
		case "NUM_ITEMS":
			over.NumItems, err = atoi(val)
		case "NUM_CHUNKS":
			over.NumChunks, err = atoi(val)
		case "TAIL":
			over.Tail, err = parseBool(val)
		case "TARGET_DIR":
			over.TargetDir = val
		case "BUFFERING":
			over.Buffering = val
		case "COMPRESSION":
			over.Compression = val
		case "LAYOUT":
			over.Layout = val
		case "VERIFY":
			over.Verify, err = parseBool(val)
		case "REMOVE_ARCHIVES":
			over.RemoveArchives, err = parseBool(val)
		case "PARALLEL":
			over.Parallel, err = parseBool(val)
		case "WORKERS_PACK":
			over.Workers.Pack, err = atoi(val)
		case "WORKERS_UNPACK":
			over.Workers.Unpack, err = atoi(val)
		case "WORKERS_AUDIT":
			over.Workers.Audit, err = atoi(val)
		case "AUDIT_CHUNK_SIZE":
			over.Audit.ChunkSize, err = atoi(val)
		case "AUDIT_REPORT":
			over.Audit.Report = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "COMPONENTS_MANIFEST":
			over.Components.Manifest = val
		case "COMPONENTS_ARCHIVER":
			over.Components.Archiver = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "COMPONENTS_SCANNER":
			over.Components.Scanner = val
		case "OPTIONS_MANIFEST_YAML":
			over.Options.Manifest, err = parseNode(val)
		case "OPTIONS_ARCHIVER_YAML":
			over.Options.Archiver, err = parseNode(val)
		case "OPTIONS_WRITER_YAML":
			over.Options.Writer, err = parseNode(val)
		case "OPTIONS_SCANNER_YAML":
			over.Options.Scanner, err = parseNode(val)
		}
		if err != nil {
			return Config{}, fmt.Errorf("%w: env %s%s: %v", contract.ErrInvalidArgument, EnvPrefix, key, err)
		}
	}
	return over, nil
}

// EffectiveTargetDir 返回分片目录（未配置时按 num_items 推导）。
func EffectiveTargetDir(cfg Config) string {
	if strings.TrimSpace(cfg.TargetDir) != "" {
		return cfg.TargetDir
	}
	return filepath.Join(cfg.Root, "data", "sequentially_zipped", fmt.Sprintf("first_%010d_images", cfg.NumItems))
}

// EffectiveReport 返回审计报告路径；配置的路径含 %s 时以 split 替换（多 split 审计）。
func EffectiveReport(cfg Config, split string) string {
	if r := strings.TrimSpace(cfg.Audit.Report); r != "" {
		if strings.Contains(r, "%s") {
			return fmt.Sprintf(r, split)
		}
		return r
	}
	return audit.ReportName(cfg.Dataset, split)
}

func parseNode(s string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	return doc.Content[0], nil
}

func parseBool(s string) (*bool, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
