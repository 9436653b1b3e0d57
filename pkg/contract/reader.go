package contract

import "context"

// Scanner: 列出目录中待解包的归档。
// 约束：
// 1) 仅返回可识别扩展名的常规文件，其余忽略（非错误）；
// 2) 稳定顺序（字典序）；
// 3) 不在内部起并发。
type Scanner interface {
	Scan(ctx context.Context, dir string) ([]string, error)
}
