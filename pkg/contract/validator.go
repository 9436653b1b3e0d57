package contract

import "fmt"

// ValidateChunks 校验一次划分的结果（纯函数，无 I/O）：
// - 每块非空且 0 <= Start < End <= total
// - Ordinal 自 0 连续递增
// - 相邻块按 Start 升序且互不重叠
// 违反时返回包装 ErrInvalidArgument 的错误。
func ValidateChunks(chunks []Chunk, total int) error {
	prevEnd := 0
	for i, c := range chunks {
		if c.Ordinal != i {
			return fmt.Errorf("%w: chunk %d has ordinal %d", ErrInvalidArgument, i, c.Ordinal)
		}
		if c.Start < 0 || c.Start >= c.End || c.End > total {
			return fmt.Errorf("%w: chunk %s out of [0,%d)", ErrInvalidArgument, c, total)
		}
		if c.Start < prevEnd {
			return fmt.Errorf("%w: chunk %s overlaps previous end %d", ErrInvalidArgument, c, prevEnd)
		}
		prevEnd = c.End
	}
	return nil
}
