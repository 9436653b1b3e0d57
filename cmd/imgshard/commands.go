package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cfgpkg "imgshard/internal/config"
	"imgshard/internal/pipeline"
	"imgshard/pkg/contract"
	"imgshard/pkg/dataset"
	"imgshard/pkg/registry"
	mcbor "imgshard/plugins/manifest/cbor"
	mlines "imgshard/plugins/manifest/lines"
	msqlite "imgshard/plugins/manifest/sqlite"
)

var (
	pipelinePack   = pipeline.Pack
	pipelineUnpack = pipeline.Unpack
	pipelineAudit  = pipeline.Audit
)

type packFlags struct {
	numItems    int
	numChunks   int
	targetDir   string
	buffering   string
	compression string
	tail        bool
	parallel    bool
	workers     int
}

func bindPackFlags(fs *pflag.FlagSet, f *packFlags) {
	fs.IntVar(&f.numItems, "num-items", 0, "打包清单前 N 项（覆盖配置；超过清单长度时收敛）")
	fs.IntVar(&f.numChunks, "num-chunks", 0, "分片数 K（覆盖配置）")
	fs.StringVar(&f.targetDir, "target-dir", "", "分片输出目录（默认 <root>/data/sequentially_zipped/first_<N>_images）")
	fs.StringVar(&f.buffering, "buffering", "", "memory|streamed")
	fs.StringVar(&f.compression, "compression", "", "deflate|store|zstd")
	fs.BoolVar(&f.tail, "tail", false, "余数单独成块（默认丢弃余数）")
	fs.BoolVar(&f.parallel, "parallel", true, "并行打包；false 时按序逐个执行")
	fs.IntVar(&f.workers, "workers", 0, "并发度（0 = CPU 核数）")
}

func newPackCommand(g *globalFlags) *cobra.Command {
	f := &packFlags{}
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "将清单前 N 项按 K 块打包为 images_XXXX_of_K.zip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			over := cfgpkg.Config{
				NumItems:    f.numItems,
				NumChunks:   f.numChunks,
				TargetDir:   f.targetDir,
				Buffering:   f.buffering,
				Compression: f.compression,
				Workers:     cfgpkg.Workers{Pack: f.workers},
			}
			if cmd.Flags().Changed("tail") {
				over.Tail = &f.tail
			}
			if cmd.Flags().Changed("parallel") {
				over.Parallel = &f.parallel
			}
			s, err := open(cmd, g, over)
			if err != nil {
				return err
			}
			defer s.close()
			if err := dataset.Check(s.cfg.Root); err != nil {
				return s.configErr(err)
			}
			comp, set, err := cfgpkg.Assemble(s.cfg)
			if err != nil {
				return s.configErr(err)
			}
			if err := os.MkdirAll(set.TargetDir, 0o755); err != nil {
				return s.configErr(fmt.Errorf("%w: target dir: %v", contract.ErrIO, err))
			}
			infos, err := pipelinePack(cmd.Context(), comp, set, s.logger)
			if err != nil {
				return s.runtimeErr("pipeline", err)
			}
			s.logger.InfoFinish("pipeline", "pack", s.start, int64(len(infos)))
			fmt.Fprintln(cmd.OutOrStdout(), set.TargetDir)
			return nil
		},
	}
	bindPackFlags(cmd.Flags(), f)
	return cmd
}

type unpackFlags struct {
	dest    string
	layout  string
	remove  bool
	verify  bool
	workers int
}

func bindUnpackFlags(fs *pflag.FlagSet, f *unpackFlags) {
	fs.StringVar(&f.dest, "dest", "", "解包目标目录（默认与归档目录相同）")
	fs.StringVar(&f.layout, "layout", "", "nested|flat")
	fs.BoolVar(&f.remove, "remove", false, "全部成功后删除归档")
	fs.BoolVar(&f.verify, "verify", true, "存在 SHARDS.yaml 时核对 blake3")
	fs.IntVar(&f.workers, "workers", 0, "并发度（默认 8）")
}

func newUnpackCommand(g *globalFlags) *cobra.Command {
	f := &unpackFlags{}
	cmd := &cobra.Command{
		Use:   "unpack [DIR]",
		Short: "并行解包目录中的全部 .zip 归档",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			over := cfgpkg.Config{Layout: f.layout, Workers: cfgpkg.Workers{Unpack: f.workers}}
			if cmd.Flags().Changed("remove") {
				over.RemoveArchives = &f.remove
			}
			if cmd.Flags().Changed("verify") {
				over.Verify = &f.verify
			}
			s, err := open(cmd, g, over)
			if err != nil {
				return err
			}
			defer s.close()
			comp, set, err := cfgpkg.Assemble(s.cfg)
			if err != nil {
				return s.configErr(err)
			}
			if len(args) == 1 {
				set.SourceDir = args[0]
			} else if strings.TrimSpace(s.cfg.Root) == "" && strings.TrimSpace(s.cfg.TargetDir) == "" {
				return s.configErr(fmt.Errorf("%w: unpack needs DIR, --root or target_dir", contract.ErrInvalidArgument))
			}
			set.Dest = f.dest
			n, err := pipelineUnpack(cmd.Context(), comp, set, s.logger)
			if err != nil {
				return s.runtimeErr("pipeline", err)
			}
			s.logger.InfoFinish("pipeline", "unpack", s.start, int64(n))
			return nil
		},
	}
	bindUnpackFlags(cmd.Flags(), f)
	return cmd
}

type auditFlags struct {
	splits        []string
	chunkSize     int
	report        string
	workers       int
	failOnMissing bool
}

func bindAuditFlags(fs *pflag.FlagSet, f *auditFlags) {
	fs.StringSliceVar(&f.splits, "splits", nil, "依次审计的划分（逗号分隔；默认 --split）")
	fs.IntVar(&f.chunkSize, "chunk-size", 0, "审计块大小（默认 1000）")
	fs.StringVar(&f.report, "report", "", "报告路径（含 %s 时以划分名替换；默认 <dataset>_<split>_missing_paths.txt）")
	fs.IntVar(&f.workers, "workers", 0, "并发度（默认 32）")
	fs.BoolVar(&f.failOnMissing, "fail-on-missing", false, "存在缺失时以退出码 2 结束")
}

func newAuditCommand(g *globalFlags) *cobra.Command {
	f := &auditFlags{}
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "按块检查清单引用的源文件是否存在，输出每块首个缺失",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			over := cfgpkg.Config{
				Audit:   cfgpkg.Audit{ChunkSize: f.chunkSize, Report: f.report},
				Workers: cfgpkg.Workers{Audit: f.workers},
			}
			s, err := open(cmd, g, over)
			if err != nil {
				return err
			}
			defer s.close()
			if err := dataset.Check(s.cfg.Root); err != nil {
				return s.configErr(err)
			}
			comp, set, err := cfgpkg.Assemble(s.cfg)
			if err != nil {
				return s.configErr(err)
			}
			splits := f.splits
			if len(splits) == 0 {
				splits = []string{s.cfg.Split}
			}

			// 单个划分失败（例如清单缺失）时继续其余划分，最终以首错退出
			var firstErr error
			missing := 0
			for _, split := range splits {
				set.Split = split
				results, err := pipelineAudit(cmd.Context(), comp, set, s.logger)
				if err == nil {
					var n int
					n, err = writeReport(cmd, cfgpkg.EffectiveReport(s.cfg, split), results)
					missing += n
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", split, err)
					if firstErr == nil {
						firstErr = err
					}
				}
			}
			if firstErr != nil {
				return s.runtimeErr("audit", firstErr)
			}
			if missing > 0 && f.failOnMissing {
				return fail(exitMissing, "%d 个块存在缺失路径", missing)
			}
			return nil
		},
	}
	bindAuditFlags(cmd.Flags(), f)
	return cmd
}

// writeReport 原子写出报告并在 stdout 汇报；返回有缺失的块数。
func writeReport(cmd *cobra.Command, report string, results []contract.AuditResult) (int, error) {
	w, err := registry.Writer["fs"](registry.Env{TargetDir: filepath.Dir(report)}, nil)
	if err != nil {
		return 0, err
	}
	n, err := pipeline.WriteAuditReport(cmd.Context(), w, filepath.Base(report), results)
	if err != nil {
		return 0, err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d/%d\n", report, n, len(results))
	return n, nil
}

func newIndexCommand(g *globalFlags) *cobra.Command {
	var to string
	var splits []string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "将当前清单转换为 lines|sqlite|cbor 格式（写入 order_files/）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd, g, cfgpkg.Config{})
			if err != nil {
				return err
			}
			defer s.close()
			if err := dataset.Check(s.cfg.Root); err != nil {
				return s.configErr(err)
			}
			if to == s.cfg.Components.Manifest {
				return s.configErr(fmt.Errorf("%w: source and target format are both %q", contract.ErrInvalidArgument, to))
			}
			write, ok := indexWriters[to]
			if !ok {
				return s.configErr(fmt.Errorf("%w: index format %q", contract.ErrInvalidArgument, to))
			}
			comp, _, err := cfgpkg.Assemble(s.cfg)
			if err != nil {
				return s.configErr(err)
			}
			if len(splits) == 0 {
				splits = []string{s.cfg.Split}
			}
			for _, split := range splits {
				t := s.logger.StartWith("manifest", "convert", "", split)
				m, err := comp.Manifests.Open(cmd.Context(), split)
				if err != nil {
					return s.runtimeErr("manifest", err)
				}
				entries, err := dataset.All(m)
				_ = m.Close()
				if err != nil {
					return s.runtimeErr("manifest", err)
				}
				if err := write(cmd, s.cfg.Root, split, entries); err != nil {
					return s.runtimeErr("manifest", err)
				}
				t.Finish("convert", int64(len(entries)))
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", split, len(entries), to)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "sqlite", "目标格式 lines|sqlite|cbor")
	cmd.Flags().StringSliceVar(&splits, "splits", nil, "转换的划分（默认 --split）")
	return cmd
}

type indexWriter func(cmd *cobra.Command, root, split string, entries []contract.Entry) error

var indexWriters = map[string]indexWriter{
	"lines": func(_ *cobra.Command, root, split string, entries []contract.Entry) error {
		return mlines.Write(root, split, entries)
	},
	"sqlite": func(cmd *cobra.Command, root, split string, entries []contract.Entry) error {
		return msqlite.Write(cmd.Context(), root, split, entries)
	},
	"cbor": func(_ *cobra.Command, root, split string, entries []contract.Entry) error {
		return mcbor.Write(root, split, entries)
	},
}

func newInitConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [DIR]",
		Short: "在目录中生成 " + cfgpkg.DefaultFile + " 与 .env 模板（已存在则跳过，不覆盖）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fail(exitConfig, "生成默认配置失败: %w", err)
			}
			for name, body := range map[string][]byte{
				cfgpkg.DefaultFile: cfgpkg.TemplateYAML(),
				".env":             []byte(cfgpkg.DotEnvTemplate()),
			} {
				p := filepath.Join(dir, name)
				created, err := writeNew(p, body)
				if err != nil {
					return fail(exitConfig, "生成默认配置失败: %w", err)
				}
				if !created {
					fmt.Fprintf(cmd.ErrOrStderr(), "已存在，跳过: %s\n", p)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

// writeNew 仅在文件不存在时写入；已存在返回 (false, nil)。
func writeNew(path string, body []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return false, err
	}
	return true, f.Close()
}
