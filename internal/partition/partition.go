// Package partition 将清单索引区间 [0, N) 划分为连续、互不重叠的块。
package partition

import (
	"fmt"

	"imgshard/pkg/contract"
)

// Partition 将 [0,total) 等分为 k 块，每块 floor(total/k) 个条目。
// 余数（索引 >= k*floor(total/k)）不属于任何块，调用方需自行选择整除的 k
// 或改用 PartitionWithTail。
// k<=0、total<0 或块大小为 0（k>total）时返回 ErrInvalidArgument。
func Partition(total, k int) ([]contract.Chunk, error) {
	if k <= 0 || total < 0 {
		return nil, fmt.Errorf("%w: total=%d chunks=%d", contract.ErrInvalidArgument, total, k)
	}
	size := total / k
	if size == 0 {
		return nil, fmt.Errorf("%w: %d chunks over %d items gives empty chunks", contract.ErrInvalidArgument, k, total)
	}
	out := make([]contract.Chunk, k)
	for i := 0; i < k; i++ {
		out[i] = contract.Chunk{Ordinal: i, Start: i * size, End: (i + 1) * size}
	}
	return out, nil
}

// PartitionWithTail 同 Partition，但余数存在时追加一个短尾块 [k*size, total)。
func PartitionWithTail(total, k int) ([]contract.Chunk, error) {
	out, err := Partition(total, k)
	if err != nil {
		return nil, err
	}
	covered := out[len(out)-1].End
	if covered < total {
		out = append(out, contract.Chunk{Ordinal: len(out), Start: covered, End: total})
	}
	return out, nil
}

// Remainder 返回 Partition 丢弃的尾部条目数。
func Remainder(total, k int) int {
	if k <= 0 || total < k {
		return 0
	}
	return total - k*(total/k)
}

// BySize 按固定块大小覆盖 [0,total) 的全部索引，最后一块可能较短。
// size<=0 或 total<=0 返回空结果。
func BySize(total, size int) []contract.Chunk {
	if size <= 0 || total <= 0 {
		return nil
	}
	n := (total + size - 1) / size
	out := make([]contract.Chunk, 0, n)
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		out = append(out, contract.Chunk{Ordinal: len(out), Start: start, End: end})
	}
	return out
}
