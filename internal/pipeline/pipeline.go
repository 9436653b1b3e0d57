// Package pipeline 编排打包、解包与审计三类运行。
//
// - 单点并发：仅此层（经 internal/pool）管理并发；原子组件均为同步实现。
// - 排空后上抛：单项失败不取消兄弟项，全部完成后按提交顺序返回首个失败。
// - 输出互斥：每个工作项拥有互不相交的输出名（分片序号 / 归档基名）。
package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"imgshard/internal/diag"
	"imgshard/internal/pool"
	"imgshard/pkg/contract"
)

// Components 聚合运行所需的原子组件。
type Components struct {
	Manifests contract.ManifestStore
	Archiver  contract.Archiver
	Writer    contract.Writer // 分片与 SHARDS.yaml 的落盘
	Scanner   contract.Scanner
}

// Settings 运行期配置（由 config.Assemble 生成）。
type Settings struct {
	Root  string // 数据集根目录（含 order_files/ 与 data/）
	Split string

	// 打包
	NumItems    int // <=0 或超过清单长度时取清单长度
	NumChunks   int
	Tail        bool // 余数单独成块（名称中的总数随之 +1）
	TargetDir   string
	Buffering   contract.Buffering
	Compression contract.Compression

	// 解包
	SourceDir      string // 归档所在目录；空则取 TargetDir
	Dest           string // 解包目标；空则取 SourceDir
	Layout         contract.Layout
	Verify         bool // 存在 SHARDS.yaml 时核对 blake3
	RemoveArchives bool // 全部成功后删除已解包的归档

	// 审计
	AuditChunkSize int

	Sequential bool // true 时按顺序内联执行（--parallel=false）
	Workers    Workers
}

// Workers: 各运行的并发度；0 取策略默认值。
type Workers struct {
	Pack   int
	Unpack int
	Audit  int
}

func sanity(comp Components, need ...string) error {
	for _, n := range need {
		switch n {
		case "manifest":
			if comp.Manifests == nil {
				return errors.New("manifest store is nil")
			}
		case "archiver":
			if comp.Archiver == nil {
				return errors.New("archiver is nil")
			}
		case "writer":
			if comp.Writer == nil {
				return errors.New("writer is nil")
			}
		case "scanner":
			if comp.Scanner == nil {
				return errors.New("scanner is nil")
			}
		}
	}
	return nil
}

// logFail 记录失败事件并累计指标。
func logFail(logger *diag.Logger, comp, msg string, since *time.Time, shard, item string, err error) {
	code := diag.Classify(err)
	logger.ErrorWithKV(comp, string(code), msg, since, shard, item, map[string]string{"err": err.Error()})
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

// observer 将协调器事件转给终端；bytes 可为 nil。
// 观察者在聚合协程中串行执行，读取 worker 在发送事件前写入的结果是安全的。
func observer(bytes func(i int) int64) pool.Observer {
	return func(ev pool.Event, p pool.Progress) {
		var n int64
		if bytes != nil && ev.Err == nil {
			n = bytes(ev.Index)
		}
		diag.GetTerminal().ItemDone(ev.Name, ev.Err, p.Done, p.Failed, n)
	}
}

func kvInt(pairs ...any) map[string]string {
	kv := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k := fmt.Sprint(pairs[i])
		switch v := pairs[i+1].(type) {
		case int:
			kv[k] = strconv.Itoa(v)
		case int64:
			kv[k] = strconv.FormatInt(v, 10)
		default:
			kv[k] = fmt.Sprint(v)
		}
	}
	return kv
}
