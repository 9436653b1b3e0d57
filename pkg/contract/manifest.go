package contract

import "context"

// Manifest: 有序清单的只读随机访问视图。
// 约束：
// 1) Get 为常数时间（或近似）随机访问；
// 2) 运行期间无写者，必须支持多 worker 并发读取；
// 3) 越界索引返回 ErrInvalidArgument。
type Manifest interface {
	Len() int
	Get(i int) (Entry, error)
	Close() error
}

// ManifestStore: 按 split 打开清单（同一数据集根目录下的多个划分）。
type ManifestStore interface {
	Open(ctx context.Context, split string) (Manifest, error)
}
