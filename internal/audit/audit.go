// Package audit 按块核对清单引用的源文件是否存在于磁盘。
//
// 分块覆盖 [0,N) 的全部索引（末块可较短）；块内按索引升序检查，
// 遇到首个缺失即返回该块结果，不再继续检查同块其余索引。
package audit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"imgshard/internal/partition"
	"imgshard/internal/pool"
	"imgshard/pkg/contract"
	"imgshard/pkg/dataset"
)

// DefaultChunkSize 为默认审计块大小。
const DefaultChunkSize = 1000

// Audit 并发审计全部块；结果与块提交顺序一致（含无缺失的块）。
// 缺失不是错误；清单读取失败为硬错误，以 *contract.ItemError 上抛。
func Audit(ctx context.Context, m contract.Manifest, dataRoot string, chunkSize int, opts pool.Options) ([]contract.AuditResult, pool.Progress, error) {
	if m == nil {
		return nil, pool.Progress{}, fmt.Errorf("%w: nil manifest", contract.ErrInvalidArgument)
	}
	if chunkSize <= 0 {
		return nil, pool.Progress{}, fmt.Errorf("%w: audit chunk size %d", contract.ErrInvalidArgument, chunkSize)
	}
	chunks := partition.BySize(m.Len(), chunkSize)
	results := make([]contract.AuditResult, len(chunks))
	if opts.Name == nil {
		opts.Name = func(i int) string { return chunks[i].String() }
	}
	p, err := pool.Run(ctx, chunks, func(ctx context.Context, c contract.Chunk) error {
		r, err := CheckChunk(ctx, m, dataRoot, c)
		results[c.Ordinal] = r
		return err
	}, opts)
	if err != nil {
		return nil, p, err
	}
	return results, p, nil
}

// CheckChunk 顺序检查块内索引，返回首个缺失（短路）。
// 任何 stat 失败（不存在、无权限等）均视为缺失。
func CheckChunk(ctx context.Context, m contract.Manifest, dataRoot string, c contract.Chunk) (contract.AuditResult, error) {
	res := contract.AuditResult{Chunk: c}
	for i := c.Start; i < c.End; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		e, err := m.Get(i)
		if err != nil {
			return res, err
		}
		if _, err := os.Stat(dataset.SourcePath(dataRoot, e.RelPath)); err != nil {
			res.Missing = &contract.MissingPath{Index: i, RelPath: e.RelPath}
			return res, nil
		}
	}
	return res, nil
}

// Missing 过滤出有缺失的块结果（保持顺序）。
func Missing(results []contract.AuditResult) []contract.MissingPath {
	var out []contract.MissingPath
	for _, r := range results {
		if !r.OK() {
			out = append(out, *r.Missing)
		}
	}
	return out
}

// WriteReport 写出报告：每个有缺失的块一行 "index,relative_path"。返回写出行数。
func WriteReport(w io.Writer, results []contract.AuditResult) (int, error) {
	bw := bufio.NewWriter(w)
	n := 0
	for _, mp := range Missing(results) {
		if _, err := fmt.Fprintf(bw, "%d,%s\n", mp.Index, mp.RelPath); err != nil {
			return n, err
		}
		n++
	}
	return n, bw.Flush()
}

// ReportName 返回默认报告文件名。
func ReportName(datasetName, split string) string {
	return fmt.Sprintf("%s_%s_missing_paths.txt", datasetName, split)
}
