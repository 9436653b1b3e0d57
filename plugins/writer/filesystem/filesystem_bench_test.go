package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"imgshard/pkg/contract"
)

// BenchmarkShardWrite 对比两种缓冲策略的落盘方式：
// memory 走 Write（临时文件 + rename），streamed 走 Create 直写目标。
func BenchmarkShardWrite(b *testing.B) {
	for _, sz := range []int{256 * 1024, 16 * 1024 * 1024} {
		data := bytes.Repeat([]byte{0x5a}, sz)
		id := contract.ArtifactID(contract.ShardName(0, 1))
		ctx := context.Background()

		b.Run(fmt.Sprintf("memory/%dKiB", sz>>10), func(b *testing.B) {
			w, err := New(&Options{OutputDir: b.TempDir()})
			if err != nil {
				b.Fatalf("创建 Writer 失败: %v", err)
			}
			b.SetBytes(int64(sz))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := w.Write(ctx, id, bytes.NewReader(data)); err != nil {
					b.Fatalf("写入失败: %v", err)
				}
			}
		})
		b.Run(fmt.Sprintf("streamed/%dKiB", sz>>10), func(b *testing.B) {
			w, err := New(&Options{OutputDir: b.TempDir()})
			if err != nil {
				b.Fatalf("创建 Writer 失败: %v", err)
			}
			b.SetBytes(int64(sz))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				f, err := w.Create(ctx, id)
				if err != nil {
					b.Fatalf("创建失败: %v", err)
				}
				if _, err := f.Write(data); err != nil {
					b.Fatalf("写入失败: %v", err)
				}
				if err := f.Close(); err != nil {
					b.Fatalf("关闭失败: %v", err)
				}
			}
		})
	}
}
