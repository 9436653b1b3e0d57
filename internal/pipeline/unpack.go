package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"imgshard/internal/diag"
	"imgshard/internal/pool"
	"imgshard/pkg/contract"
)

// Unpack 扫描归档目录并发解包；返回写出的文件总数。
// 失败项不影响兄弟项；部分解包由调用方通过审计发现。
func Unpack(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (int, error) {
	if logger == nil {
		logger = diag.Nop()
	}
	if err := sanity(comp, "archiver", "scanner"); err != nil {
		return 0, fmt.Errorf("sanity: %w", err)
	}
	src := set.SourceDir
	if src == "" {
		src = set.TargetDir
	}
	if src == "" {
		return 0, fmt.Errorf("%w: archive directory not set", contract.ErrInvalidArgument)
	}
	dest := set.Dest
	if dest == "" {
		dest = src
		if st, err := os.Stat(src); err == nil && !st.IsDir() {
			dest = filepath.Dir(src)
		}
	}
	start := time.Now()

	st := logger.StartWith("scanner", "scan", "", src)
	archives, err := comp.Scanner.Scan(ctx, src)
	if err != nil {
		logFail(logger, "scanner", "scan failed", st.Since(), "", src, err)
		return 0, err
	}
	st.Finish("scan", int64(len(archives)))
	for _, w := range shardSetIssues(archives) {
		logger.Warn("scanner", w.msg, w.kv)
	}

	var ix *Index
	verifier, canVerify := comp.Archiver.(contract.Verifier)
	if set.Verify {
		if !canVerify {
			logger.Warn("pipeline", "archiver cannot verify; skipping checksums", nil)
		} else if ix, err = ReadIndex(indexDir(src)); err != nil {
			logFail(logger, "pipeline", "index read failed", nil, IndexName, "", err)
			return 0, err
		} else if ix == nil {
			logger.Warn("pipeline", "no shard index; skipping checksums", map[string]string{"dir": src})
		}
	}

	files := make([]int, len(archives))
	opts := pool.Options{
		Workers:    set.Workers.Unpack,
		Strategy:   pool.IOBound,
		Sequential: set.Sequential,
		Name:       func(i int) string { return filepath.Base(archives[i]) },
		Observer:   observer(nil),
	}
	term := diag.GetTerminal()
	term.RunStart("unpack", len(archives), opts.EffectiveWorkers(len(archives)))
	rt := logger.StartWithKV("pipeline", "unpack", "", src,
		kvInt("archives", len(archives), "layout", set.Layout, "dest", dest, "workers", opts.EffectiveWorkers(len(archives))))

	jobs := make([]int, len(archives))
	for i := range jobs {
		jobs[i] = i
	}
	_, err = pool.Run(ctx, jobs, func(ctx context.Context, i int) error {
		p := archives[i]
		name := filepath.Base(p)
		if ix != nil {
			if info, ok := ix.Lookup(name); ok {
				vt := logger.StartWith("archiver", "verify", name, "")
				if err := verifier.Verify(ctx, p, info.Sum); err != nil {
					logFail(logger, "archiver", "verify failed", vt.Since(), name, "", err)
					return err
				}
				vt.Finish("verify", info.Bytes)
			} else {
				logger.Warn("archiver", "archive not listed in shard index", map[string]string{"archive": name})
			}
		}
		t := logger.StartWith("archiver", "extract", name, "")
		n, err := comp.Archiver.Extract(ctx, p, dest, set.Layout)
		files[i] = n
		if err != nil {
			logFail(logger, "archiver", "extract failed", t.Since(), name, "", err)
			return err
		}
		t.Finish("extract", int64(n))
		diag.IncOp("archiver", "finish", "success")
		return nil
	}, opts)
	term.RunFinish(err == nil, time.Since(start))

	sum := 0
	for _, n := range files {
		sum += n
	}
	if err != nil {
		logFail(logger, "pipeline", "unpack failed", &start, "", src, err)
		return sum, err
	}
	if set.RemoveArchives {
		if err := removeArchives(archives); err != nil {
			logFail(logger, "pipeline", "remove archives failed", nil, "", src, err)
			return sum, err
		}
		logger.Warn("pipeline", "archives removed", kvInt("count", len(archives)))
	}
	rt.Finish("unpack", int64(sum))
	return sum, nil
}

type shardIssue struct {
	msg string
	kv  map[string]string
}

// shardSetIssues 按文件名检查扫描到的分片集合：总数不一致（混入其他批次）
// 或带总数的分片缺少序号。非分片命名的归档不参与检查。
func shardSetIssues(archives []string) []shardIssue {
	seen := map[int]map[int]bool{}
	for _, p := range archives {
		ord, total, ok := contract.ParseShardName(p)
		if !ok || total == 0 {
			continue
		}
		if seen[total] == nil {
			seen[total] = map[int]bool{}
		}
		seen[total][ord] = true
	}
	totals := make([]int, 0, len(seen))
	for t := range seen {
		totals = append(totals, t)
	}
	sort.Ints(totals)
	var out []shardIssue
	if len(totals) > 1 {
		parts := make([]string, len(totals))
		for i, t := range totals {
			parts[i] = strconv.Itoa(t)
		}
		out = append(out, shardIssue{"archives from different shard sets", map[string]string{"totals": strings.Join(parts, ",")}})
	}
	for _, t := range totals {
		if got := len(seen[t]); got < t {
			var missing []string
			for o := 0; o < t && len(missing) < 8; o++ {
				if !seen[t][o] {
					missing = append(missing, contract.ShardName(o, t))
				}
			}
			out = append(out, shardIssue{"incomplete shard set", map[string]string{
				"total": strconv.Itoa(t), "found": strconv.Itoa(got), "missing": strings.Join(missing, ","),
			}})
		}
	}
	return out
}

// indexDir: 扫描根为单个归档文件时，索引位于其所在目录。
func indexDir(src string) string {
	if st, err := os.Stat(src); err == nil && !st.IsDir() {
		return filepath.Dir(src)
	}
	return src
}

func removeArchives(paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("%w: %v", contract.ErrIO, err))
		}
	}
	return errors.Join(errs...)
}
