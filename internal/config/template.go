package config

import (
	"fmt"
	"strings"
)

// TemplateYAML 返回一个“可运行”的默认配置模板：
// - 全部键均出现（值为默认或空），便于按需修改；
// - 组件名采用仓库内置实现；
// - root 为占位路径，必须改为实际数据集根目录。
func TemplateYAML() []byte {
	d := Defaults()
	var b strings.Builder
	b.WriteString("# imgshard 配置模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > YAML > 默认值\n\n")
	fmt.Fprintf(&b, "dataset: %s\n", d.Dataset)
	b.WriteString("root: /path/to/dataset   # 需包含 order_files/ 与 data/\n")
	fmt.Fprintf(&b, "split: %s\n\n", d.Split)

	b.WriteString("# 打包\n")
	fmt.Fprintf(&b, "num_items: %d\n", d.NumItems)
	fmt.Fprintf(&b, "num_chunks: %d\n", d.NumChunks)
	b.WriteString("tail: false              # true 时余数单独成块；默认丢弃余数\n")
	b.WriteString("target_dir: \"\"           # 空则为 <root>/data/sequentially_zipped/first_<num_items>_images\n")
	fmt.Fprintf(&b, "buffering: %s         # memory | streamed\n", d.Buffering)
	fmt.Fprintf(&b, "compression: %s      # deflate | store | zstd\n\n", d.Compression)

	b.WriteString("# 解包\n")
	fmt.Fprintf(&b, "layout: %s            # nested | flat\n", d.Layout)
	b.WriteString("verify: true\n")
	b.WriteString("remove_archives: false\n\n")

	b.WriteString("parallel: true\n")
	b.WriteString("workers:\n")
	b.WriteString("  pack: 0                # 0 = CPU 核数\n")
	fmt.Fprintf(&b, "  unpack: %d\n", d.Workers.Unpack)
	fmt.Fprintf(&b, "  audit: %d\n", d.Workers.Audit)
	b.WriteString("audit:\n")
	fmt.Fprintf(&b, "  chunk_size: %d\n", d.Audit.ChunkSize)
	b.WriteString("  report: \"\"\n")
	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %s\n\n", d.Logging.Level)

	b.WriteString("components:\n")
	fmt.Fprintf(&b, "  manifest: %s           # lines | sqlite | cbor\n", d.Components.Manifest)
	fmt.Fprintf(&b, "  archiver: %s\n", d.Components.Archiver)
	fmt.Fprintf(&b, "  writer: %s\n", d.Components.Writer)
	fmt.Fprintf(&b, "  scanner: %s\n\n", d.Components.Scanner)

	b.WriteString("options:\n")
	b.WriteString("  manifest:\n")
	b.WriteString("    root: \"\"               # 空则取顶层 root\n")
	b.WriteString("    paths_pattern: \"%s_image_paths.txt\"\n")
	b.WriteString("    labels_pattern: \"%s_labels.txt\"\n")
	b.WriteString("  archiver:\n")
	b.WriteString("    level: 0               # deflate 1..9 / zstd 1..4；0 取默认\n")
	b.WriteString("    buf_size: 0\n")
	b.WriteString("    perm_file: 0\n")
	b.WriteString("    perm_dir: 0\n")
	b.WriteString("  writer:\n")
	b.WriteString("    output_dir: \"\"         # 空则取分片目录\n")
	b.WriteString("    perm_file: 0\n")
	b.WriteString("    perm_dir: 0\n")
	b.WriteString("    buf_size: 262144\n")
	b.WriteString("  scanner:\n")
	b.WriteString("    recursive: false\n")
	b.WriteString("    exclude_dir_names: []\n")
	return []byte(b.String())
}

// DotEnvTemplate 返回 .env 模板内容（键与 EnvOverlay 支持的集合一致）。
func DotEnvTemplate() string {
	keys := [][]string{
		{"配置来源（可二选一）", "CONFIG_FILE", "CONFIG_YAML"},
		{"数据集", "DATASET", "ROOT", "SPLIT"},
		{"打包", "NUM_ITEMS", "NUM_CHUNKS", "TAIL", "TARGET_DIR", "BUFFERING", "COMPRESSION"},
		{"解包", "LAYOUT", "VERIFY", "REMOVE_ARCHIVES"},
		{"并发与审计", "PARALLEL", "WORKERS_PACK", "WORKERS_UNPACK", "WORKERS_AUDIT", "AUDIT_CHUNK_SIZE", "AUDIT_REPORT"},
		{"日志", "LOG_LEVEL"},
		{"组件选择", "COMPONENTS_MANIFEST", "COMPONENTS_ARCHIVER", "COMPONENTS_WRITER", "COMPONENTS_SCANNER"},
		{"组件 Options（原样 YAML）", "OPTIONS_MANIFEST_YAML", "OPTIONS_ARCHIVER_YAML", "OPTIONS_WRITER_YAML", "OPTIONS_SCANNER_YAML"},
	}
	var b strings.Builder
	b.WriteString("# imgshard .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > YAML\n")
	b.WriteString("# 空值表示未设置。\n")
	for _, group := range keys {
		fmt.Fprintf(&b, "\n# %s\n", group[0])
		for _, k := range group[1:] {
			fmt.Fprintf(&b, "%s%s=\n", EnvPrefix, k)
		}
	}
	return b.String()
}
