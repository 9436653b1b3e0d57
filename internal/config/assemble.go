package config

import (
	"errors"
	"fmt"
	"strings"

	"imgshard/internal/pipeline"
	"imgshard/pkg/contract"
	"imgshard/pkg/registry"
)

// Validate 对最小必要边界做静态校验（不触碰文件系统）。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Split) == "" {
		return errors.New("config: split not set")
	}
	if cfg.NumItems < 0 {
		return errors.New("config: num_items must be >= 0")
	}
	if cfg.NumChunks < 1 {
		return errors.New("config: num_chunks must be >= 1")
	}
	if cfg.Workers.Pack < 0 || cfg.Workers.Unpack < 0 || cfg.Workers.Audit < 0 {
		return errors.New("config: workers must be >= 0")
	}
	if cfg.Audit.ChunkSize < 0 {
		return errors.New("config: audit.chunk_size must be >= 0")
	}
	if _, err := contract.ParseBuffering(cfg.Buffering); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := contract.ParseCompression(cfg.Compression); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := contract.ParseLayout(cfg.Layout); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults().Components
	if name := effName(cfg.Components.Manifest, d.Manifest); registry.Manifest[name] == nil {
		return fmt.Errorf("config: manifest %q not registered", name)
	}
	if name := effName(cfg.Components.Archiver, d.Archiver); registry.Archiver[name] == nil {
		return fmt.Errorf("config: archiver %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if name := effName(cfg.Components.Scanner, d.Scanner); registry.Scanner[name] == nil {
		return fmt.Errorf("config: scanner %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传原样 YAML 子树。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components
	env := registry.Env{Root: cfg.Root, TargetDir: EffectiveTargetDir(cfg)}

	// root 未设置时不构造清单（仅解包可用）；打包/审计由 pipeline 的 sanity 拦截
	var ms contract.ManifestStore
	if strings.TrimSpace(cfg.Root) != "" {
		m, err := registry.Manifest[effName(cfg.Components.Manifest, d.Manifest)](env, cfg.Options.Manifest)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, err
		}
		ms = m
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Writer)](env, cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	arc, err := registry.Archiver[effName(cfg.Components.Archiver, d.Archiver)](cfg.Options.Archiver, w)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	sc, err := registry.Scanner[effName(cfg.Components.Scanner, d.Scanner)](cfg.Options.Scanner)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	// Validate 已校验，忽略解析错误
	buf, _ := contract.ParseBuffering(cfg.Buffering)
	comp, _ := contract.ParseCompression(cfg.Compression)
	lay, _ := contract.ParseLayout(cfg.Layout)

	set := pipeline.Settings{
		Root:           cfg.Root,
		Split:          cfg.Split,
		NumItems:       cfg.NumItems,
		NumChunks:      cfg.NumChunks,
		Tail:           IsSet(cfg.Tail),
		TargetDir:      env.TargetDir,
		Buffering:      buf,
		Compression:    comp,
		Layout:         lay,
		Verify:         IsSet(cfg.Verify),
		RemoveArchives: IsSet(cfg.RemoveArchives),
		AuditChunkSize: cfg.Audit.ChunkSize,
		Sequential:     cfg.Parallel != nil && !*cfg.Parallel,
		Workers: pipeline.Workers{
			Pack:   cfg.Workers.Pack,
			Unpack: cfg.Workers.Unpack,
			Audit:  cfg.Workers.Audit,
		},
	}
	return pipeline.Components{Manifests: ms, Archiver: arc, Writer: w, Scanner: sc}, set, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
