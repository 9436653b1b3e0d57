package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// YAML 使用 snake_case；未知字段在解析期失败。
// 布尔项使用指针以区分“未设置”与显式 false（合并时只覆盖已设置项）。
type Config struct {
	Dataset   string `yaml:"dataset,omitempty"`
	Root      string `yaml:"root,omitempty"`
	Split     string `yaml:"split,omitempty"`
	NumItems  int    `yaml:"num_items,omitempty"`
	NumChunks int    `yaml:"num_chunks,omitempty"`
	// Tail: 余数单独成块；默认 false（余数被丢弃）。
	Tail *bool `yaml:"tail,omitempty"`
	// TargetDir: 分片目录；空则为 <root>/data/sequentially_zipped/first_<num_items:010d>_images。
	TargetDir   string `yaml:"target_dir,omitempty"`
	Buffering   string `yaml:"buffering,omitempty"`
	Compression string `yaml:"compression,omitempty"`

	Layout         string `yaml:"layout,omitempty"`
	Verify         *bool  `yaml:"verify,omitempty"`
	RemoveArchives *bool  `yaml:"remove_archives,omitempty"`

	Parallel *bool   `yaml:"parallel,omitempty"`
	Workers  Workers `yaml:"workers,omitempty"`
	Audit    Audit   `yaml:"audit,omitempty"`
	Logging  Logging `yaml:"logging,omitempty"`

	// 组件名选择（空则使用默认名）。
	Components Components `yaml:"components,omitempty"`
	// 各组件 Options 子树，原样 YAML 传入工厂。
	Options Options `yaml:"options,omitempty"`
}

// Workers: 各运行的并发度；0 表示按执行策略取默认值。
type Workers struct {
	Pack   int `yaml:"pack,omitempty"`
	Unpack int `yaml:"unpack,omitempty"`
	Audit  int `yaml:"audit,omitempty"`
}

// Audit: 审计参数。
type Audit struct {
	ChunkSize int `yaml:"chunk_size,omitempty"`
	// Report: 报告路径；空则为 ./<dataset>_<split>_missing_paths.txt。
	Report string `yaml:"report,omitempty"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `yaml:"level,omitempty"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Manifest string `yaml:"manifest,omitempty"`
	Archiver string `yaml:"archiver,omitempty"`
	Writer   string `yaml:"writer,omitempty"`
	Scanner  string `yaml:"scanner,omitempty"`
}

// Options: 各组件的原样 YAML Options。
type Options struct {
	Manifest *yaml.Node `yaml:"manifest,omitempty"`
	Archiver *yaml.Node `yaml:"archiver,omitempty"`
	Writer   *yaml.Node `yaml:"writer,omitempty"`
	Scanner  *yaml.Node `yaml:"scanner,omitempty"`
}

// UnmarshalYAML 原样保留各组件子树：外层 KnownFields 不应作用于子树内部，
// 子树由 registry 工厂按各自 Options 严格解码。
func (o *Options) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: options must be a mapping", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		k, v := value.Content[i], value.Content[i+1]
		switch k.Value {
		case "manifest":
			o.Manifest = v
		case "archiver":
			o.Archiver = v
		case "writer":
			o.Writer = v
		case "scanner":
			o.Scanner = v
		default:
			return fmt.Errorf("line %d: field %s not found in options", k.Line, k.Value)
		}
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

// IsSet 报告布尔项是否显式设置为 true。
func IsSet(b *bool) bool { return b != nil && *b }
