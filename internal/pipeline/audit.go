package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"imgshard/internal/audit"
	"imgshard/internal/diag"
	"imgshard/internal/pool"
	"imgshard/pkg/contract"
	"imgshard/pkg/dataset"
)

// DefaultAuditWorkers 为审计默认并发度。
const DefaultAuditWorkers = 32

// Audit 审计 set.Split 清单引用的全部源文件；结果按块顺序（含无缺失的块）。
func Audit(ctx context.Context, comp Components, set Settings, logger *diag.Logger) ([]contract.AuditResult, error) {
	if logger == nil {
		logger = diag.Nop()
	}
	if err := sanity(comp, "manifest"); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	start := time.Now()
	m, err := openManifest(ctx, comp, set, logger)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	size := set.AuditChunkSize
	if size <= 0 {
		size = audit.DefaultChunkSize
	}
	workers := set.Workers.Audit
	if workers <= 0 {
		workers = DefaultAuditWorkers
	}
	chunks := (m.Len() + size - 1) / size
	opts := pool.Options{
		Workers:    workers,
		Strategy:   pool.IOBound,
		Sequential: set.Sequential,
		Observer:   observer(nil),
	}
	term := diag.GetTerminal()
	term.RunStart("audit "+set.Split, chunks, opts.EffectiveWorkers(chunks))
	rt := logger.StartWithKV("audit", "check", "", set.Split, kvInt("entries", m.Len(), "chunk_size", size, "chunks", chunks))

	results, _, err := audit.Audit(ctx, m, dataset.DataDir(set.Root), size, opts)
	term.RunFinish(err == nil, time.Since(start))
	if err != nil {
		logFail(logger, "audit", "audit failed", &start, "", set.Split, err)
		return nil, err
	}
	missing := audit.Missing(results)
	for _, mp := range missing {
		diag.IncOp("audit", "missing", "miss")
		logger.Warn("audit", "missing path", kvInt("index", mp.Index, "path", mp.RelPath))
	}
	rt.Finish("check", int64(len(missing)))
	return results, nil
}

// WriteAuditReport 经由 Writer 写出审计报告（每个有缺失的块一行 index,relative_path）。
func WriteAuditReport(ctx context.Context, w contract.Writer, name string, results []contract.AuditResult) (int, error) {
	var buf bytes.Buffer
	n, err := audit.WriteReport(&buf, results)
	if err != nil {
		return 0, err
	}
	if err := w.Write(ctx, contract.ArtifactID(name), &buf); err != nil {
		return 0, err
	}
	return n, nil
}
