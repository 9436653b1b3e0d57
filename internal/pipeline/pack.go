package pipeline

import (
	"context"
	"fmt"
	"time"

	"imgshard/internal/diag"
	"imgshard/internal/partition"
	"imgshard/internal/pool"
	"imgshard/pkg/contract"
	"imgshard/pkg/dataset"
)

// Pack 将清单前 NumItems 项划分为 NumChunks 块并发打包，每块一个分片。
// 全部成功后写出 SHARDS.yaml；任一失败则不写索引，返回首个失败（按块序号）。
func Pack(ctx context.Context, comp Components, set Settings, logger *diag.Logger) ([]contract.ShardInfo, error) {
	if logger == nil {
		logger = diag.Nop()
	}
	if err := sanity(comp, "manifest", "archiver", "writer"); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	start := time.Now()

	m, err := openManifest(ctx, comp, set, logger)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	n := set.NumItems
	if n <= 0 || n > m.Len() {
		if n > m.Len() {
			logger.Warn("partition", "num_items clamped to manifest length", kvInt("num_items", n, "len", m.Len()))
		}
		n = m.Len()
	}
	chunks, err := plan(n, set.NumChunks, set.Tail)
	if err != nil {
		logFail(logger, "partition", "plan failed", nil, "", set.Split, err)
		return nil, err
	}
	if rem := partition.Remainder(n, set.NumChunks); rem > 0 && !set.Tail {
		logger.Warn("partition", "remainder items excluded", kvInt("remainder", rem, "first_excluded", n-rem))
	}
	if err := contract.ValidateChunks(chunks, n); err != nil {
		logFail(logger, "partition", "invalid plan", nil, "", set.Split, err)
		return nil, err
	}

	// 旧索引描述上一批分片，须先于任何分片重建删除；本次全部成功后才写回
	if err := clearPrevious(ctx, comp.Writer, logger); err != nil {
		logFail(logger, "writer", "clear previous pack failed", nil, IndexName, "", err)
		return nil, err
	}

	total := len(chunks)
	dataRoot := dataset.DataDir(set.Root)
	infos := make([]contract.ShardInfo, total)
	opts := pool.Options{
		Workers:    set.Workers.Pack,
		Strategy:   pool.CPUBound,
		Sequential: set.Sequential,
		Name:       func(i int) string { return contract.ShardName(i, total) },
		Observer:   observer(func(i int) int64 { return infos[i].Bytes }),
	}
	term := diag.GetTerminal()
	term.RunStart("pack", total, opts.EffectiveWorkers(total))
	rt := logger.StartWithKV("pipeline", "pack", "", set.Split,
		kvInt("items", n, "chunks", total, "workers", opts.EffectiveWorkers(total), "buffering", set.Buffering, "compression", set.Compression))

	_, err = pool.Run(ctx, chunks, func(ctx context.Context, c contract.Chunk) error {
		name := contract.ShardName(c.Ordinal, total)
		t := logger.StartWithKV("archiver", "build", name, "", kvInt("start", c.Start, "end", c.End))
		info, err := comp.Archiver.Build(ctx, contract.BuildRequest{
			Manifest:    m,
			Chunk:       c,
			Total:       total,
			DataRoot:    dataRoot,
			Buffering:   set.Buffering,
			Compression: set.Compression,
		})
		if err != nil {
			logFail(logger, "archiver", "build failed", t.Since(), name, "", err)
			return err
		}
		infos[c.Ordinal] = info
		t.Finish("build", int64(info.Entries))
		diag.IncOp("archiver", "finish", "success")
		diag.ObserveDuration("archiver", "build", time.Since(*t.Since()).Milliseconds())
		return nil
	}, opts)
	term.RunFinish(err == nil, time.Since(start))
	if err != nil {
		logFail(logger, "pipeline", "pack failed", &start, "", set.Split, err)
		return nil, err
	}

	idx := Index{
		Version:     IndexVersion,
		Split:       set.Split,
		NumItems:    n,
		NumChunks:   set.NumChunks,
		Tail:        set.Tail,
		Remainder:   n - coverage(chunks),
		Buffering:   set.Buffering,
		Compression: set.Compression,
		Shards:      infos,
	}
	if err := writeIndex(ctx, comp.Writer, idx); err != nil {
		logFail(logger, "writer", "index write failed", nil, IndexName, "", err)
		return infos, err
	}
	rt.Finish("pack", int64(total))
	return infos, nil
}

// plan 选择划分方式：默认丢弃余数；tail 时余数单独成块。
func clearPrevious(ctx context.Context, w contract.Writer, logger *diag.Logger) error {
	cl, ok := w.(contract.Cleaner)
	if !ok {
		logger.Warn("writer", "writer cannot remove previous shard index", nil)
		return nil
	}
	n, err := cl.Sweep(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Warn("writer", "stale temp files removed", kvInt("count", n))
	}
	return cl.Remove(ctx, contract.ArtifactID(IndexName))
}

func plan(n, k int, tail bool) ([]contract.Chunk, error) {
	if tail {
		return partition.PartitionWithTail(n, k)
	}
	return partition.Partition(n, k)
}

func coverage(chunks []contract.Chunk) int {
	if len(chunks) == 0 {
		return 0
	}
	return chunks[len(chunks)-1].End
}

func openManifest(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (contract.Manifest, error) {
	t := logger.StartWith("manifest", "open", "", set.Split)
	m, err := comp.Manifests.Open(ctx, set.Split)
	if err != nil {
		logFail(logger, "manifest", "open failed", t.Since(), "", set.Split, err)
		return nil, err
	}
	t.Finish("open", int64(m.Len()))
	return m, nil
}
