package testdata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	cfgpkg "imgshard/internal/config"
	"imgshard/internal/pipeline"
	"imgshard/pkg/contract"
	"imgshard/pkg/dataset"
	mcbor "imgshard/plugins/manifest/cbor"
	mlines "imgshard/plugins/manifest/lines"
	msqlite "imgshard/plugins/manifest/sqlite"
)

// seed 生成 n 项数据集，并以三种清单格式写出同一份 train 清单。
func seed(t *testing.T, n int) (string, []contract.Entry) {
	t.Helper()
	root := t.TempDir()
	entries := make([]contract.Entry, n)
	for i := 0; i < n; i++ {
		rel := fmt.Sprintf("n%03d/ILSVRC_%06d.JPEG", i%10, i)
		p := dataset.SourcePath(dataset.DataDir(root), rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, bytes.Repeat([]byte{byte(i)}, 64+i%50), 0o644); err != nil {
			t.Fatal(err)
		}
		entries[i] = contract.Entry{Index: i, RelPath: rel, Label: int64(i % 10)}
	}
	if err := mlines.Write(root, "train", entries); err != nil {
		t.Fatal(err)
	}
	if err := msqlite.Write(context.Background(), root, "train", entries); err != nil {
		t.Fatal(err)
	}
	if err := mcbor.Write(root, "train", entries); err != nil {
		t.Fatal(err)
	}
	return root, entries
}

func baseConfig(root, target string, n, k int) cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.Root = root
	cfg.NumItems = n
	cfg.NumChunks = k
	cfg.TargetDir = target
	cfg.Logging.Level = "error"
	return cfg
}

func assemble(t *testing.T, cfg cfgpkg.Config) (pipeline.Components, pipeline.Settings) {
	t.Helper()
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return comp, set
}

// TestE2ERoundTrip: 每种清单格式 × 缓冲模式 × 压缩方式，打包 1000 项为 4 片后解包逐字节比对并审计。
func TestE2ERoundTrip(t *testing.T) {
	root, entries := seed(t, 1000)
	for _, manifest := range []string{"lines", "sqlite", "cbor"} {
		for _, buffering := range []string{"memory", "streamed"} {
			for _, compression := range []string{"deflate", "store", "zstd"} {
				name := manifest + "/" + buffering + "/" + compression
				t.Run(name, func(t *testing.T) {
					target := filepath.Join(t.TempDir(), "shards")
					cfg := baseConfig(root, target, 1000, 4)
					cfg.Components.Manifest = manifest
					cfg.Buffering = buffering
					cfg.Compression = compression
					cfg.Layout = "flat"
					comp, set := assemble(t, cfg)

					infos, err := pipeline.Pack(context.Background(), comp, set, nil)
					if err != nil {
						t.Fatalf("pack: %v", err)
					}
					if len(infos) != 4 || infos[3].End != 1000 {
						t.Fatalf("分片不符: %+v", infos)
					}

					set.Dest = t.TempDir()
					n, err := pipeline.Unpack(context.Background(), comp, set, nil)
					if err != nil || n != 1000 {
						t.Fatalf("unpack: n=%d err=%v", n, err)
					}
					for _, e := range entries {
						want, _ := os.ReadFile(dataset.SourcePath(dataset.DataDir(root), e.RelPath))
						got, err := os.ReadFile(filepath.Join(set.Dest, filepath.FromSlash(e.RelPath)))
						if err != nil || !bytes.Equal(got, want) {
							t.Fatalf("%s 内容不符: %v", e.RelPath, err)
						}
					}

					results, err := pipeline.Audit(context.Background(), comp, set, nil)
					if err != nil {
						t.Fatalf("audit: %v", err)
					}
					for _, r := range results {
						if !r.OK() {
							t.Fatalf("不应有缺失: %+v", r)
						}
					}
				})
			}
		}
	}
}

// TestE2EMissingSource: 缺失源文件时打包失败、不写索引，审计报告定位到该文件。
func TestE2EMissingSource(t *testing.T) {
	root, entries := seed(t, 200)
	lost := entries[123]
	if err := os.Remove(dataset.SourcePath(dataset.DataDir(root), lost.RelPath)); err != nil {
		t.Fatal(err)
	}
	for _, buffering := range []string{"memory", "streamed"} {
		t.Run(buffering, func(t *testing.T) {
			target := t.TempDir()
			cfg := baseConfig(root, target, 200, 4)
			cfg.Buffering = buffering
			comp, set := assemble(t, cfg)

			_, err := pipeline.Pack(context.Background(), comp, set, nil)
			var snf *contract.SourceNotFoundError
			if !errors.As(err, &snf) || snf.Index != lost.Index {
				t.Fatalf("期望 SourceNotFoundError(index %d)，得到 %v", lost.Index, err)
			}
			if _, err := os.Stat(filepath.Join(target, pipeline.IndexName)); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("失败时不应写出索引: %v", err)
			}
		})
	}

	cfg := baseConfig(root, t.TempDir(), 200, 4)
	cfg.Audit.ChunkSize = 50
	comp, set := assemble(t, cfg)
	results, err := pipeline.Audit(context.Background(), comp, set, nil)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var report bytes.Buffer
	for _, r := range results {
		if !r.OK() {
			fmt.Fprintf(&report, "%d,%s\n", r.Missing.Index, r.Missing.RelPath)
		}
	}
	if want := fmt.Sprintf("%d,%s\n", lost.Index, lost.RelPath); report.String() != want {
		t.Fatalf("报告不符: %q, 期望 %q", report.String(), want)
	}
}
