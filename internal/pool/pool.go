// Package pool 提供有界并发的工作项协调器。
//
// 语义：
// - 至多 Workers 个工作项同时执行，其余排队（提交循环在饱和时阻塞）；
// - 每个工作项恰好执行一次，不重试；
// - 不因首错取消其余工作项：全部完成后按提交顺序上抛首个失败；
// - 每完成（成功或失败）一项，向单一聚合协程发送一条 Event，由其维护进度并通知观察者。
package pool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"imgshard/pkg/contract"
)

// Strategy 决定默认并发度（执行载体始终为 goroutine）。
type Strategy int

const (
	// IOBound: 以文件 I/O 为主（解包、审计），默认 DefaultIOWorkers。
	IOBound Strategy = iota
	// CPUBound: 以压缩为主（打包），默认 runtime.GOMAXPROCS(0)。
	CPUBound
)

// DefaultIOWorkers 限制同时打开的文件句柄数。
const DefaultIOWorkers = 8

func (s Strategy) String() string {
	if s == CPUBound {
		return "cpu"
	}
	return "io"
}

// Event: 单个工作项完成通知。
type Event struct {
	Index int
	Name  string
	Err   error
	Dur   time.Duration
}

// Progress: 一次 Run 的完成计数。
type Progress struct {
	Done   int
	Failed int
	Total  int
}

// Observer 在聚合协程中被串行调用，不会并发进入。
type Observer func(ev Event, p Progress)

// Options 控制并发度与观察者。
type Options struct {
	Workers    int // <=0 取 Strategy 默认值
	Strategy   Strategy
	Sequential bool              // true 时按提交顺序逐个内联执行
	Name       func(i int) string // 可选：工作项名称（日志/错误）
	Observer   Observer
}

// EffectiveWorkers 返回 n 个工作项下实际使用的并发度。
func (o Options) EffectiveWorkers(n int) int {
	if o.Sequential {
		return 1
	}
	w := o.Workers
	if w <= 0 {
		if o.Strategy == CPUBound {
			w = runtime.GOMAXPROCS(0)
		} else {
			w = DefaultIOWorkers
		}
	}
	if n > 0 && w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

func (o Options) name(i int) string {
	if o.Name == nil {
		return ""
	}
	return o.Name(i)
}

// Run 以有界并发对 items 执行 fn。
// 返回最终进度；若有失败，错误为 *contract.ItemError（提交顺序上最早的失败项）。
// ctx 在派发前已取消时，剩余工作项不再执行，记为 ctx.Err() 失败。
func Run[T any](ctx context.Context, items []T, fn func(context.Context, T) error, opts Options) (Progress, error) {
	total := len(items)
	if total == 0 {
		return Progress{}, nil
	}
	errs := make([]error, total)

	events := make(chan Event, opts.EffectiveWorkers(total))
	final := make(chan Progress, 1)
	go func() {
		p := Progress{Total: total}
		for ev := range events {
			p.Done++
			if ev.Err != nil {
				p.Failed++
			}
			if opts.Observer != nil {
				opts.Observer(ev, p)
			}
		}
		final <- p
	}()

	exec := func(i int) {
		start := time.Now()
		err := call(ctx, fn, items[i])
		errs[i] = err
		events <- Event{Index: i, Name: opts.name(i), Err: err, Dur: time.Since(start)}
	}
	skip := func(i int, err error) {
		errs[i] = err
		events <- Event{Index: i, Name: opts.name(i), Err: err}
	}

	if opts.Sequential {
		for i := range items {
			if err := ctx.Err(); err != nil {
				skip(i, err)
				continue
			}
			exec(i)
		}
	} else {
		sem := semaphore.NewWeighted(int64(opts.EffectiveWorkers(total)))
		var wg sync.WaitGroup
		for i := range items {
			if err := sem.Acquire(ctx, 1); err != nil {
				skip(i, err)
				continue
			}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer sem.Release(1)
				exec(i)
			}(i)
		}
		wg.Wait()
	}
	close(events)
	p := <-final

	for i, err := range errs {
		if err != nil {
			return p, &contract.ItemError{Index: i, Name: opts.name(i), Err: err}
		}
	}
	return p, nil
}

// call 执行单个工作项；panic 转为错误，避免拖垮整个进程与其他 worker。
func call[T any](ctx context.Context, fn func(context.Context, T) error, it T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, it)
}
