package diag

import (
	"sort"
	"sync"
	"sync/atomic"
)

// 进程内指标（原子计数）：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计毫秒）
var counters sync.Map // key -> *atomic.Int64

func add(key string, v int64) {
	c, ok := counters.Load(key)
	if !ok {
		c, _ = counters.LoadOrStore(key, new(atomic.Int64))
	}
	c.(*atomic.Int64).Add(v)
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	add("op_total{"+comp+","+stage+","+result+"}", 1)
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	add("error_total{"+comp+","+code+"}", 1)
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	add("op_duration_ms{"+comp+","+stage+"}", durMS)
}

// MetricsSnapshot 返回当前所有计数的拷贝。
func MetricsSnapshot() map[string]int64 {
	out := map[string]int64{}
	counters.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// MetricsKV 将快照转为日志 kv（键按字典序稳定）。
func MetricsKV() map[string]string {
	snap := MetricsSnapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make(map[string]string, len(keys))
	for _, k := range keys {
		kv[k] = itoa(snap[k])
	}
	return kv
}

// ResetMetrics 清空计数（测试用）。
func ResetMetrics() {
	counters.Range(func(k, _ any) bool {
		counters.Delete(k)
		return true
	})
}
