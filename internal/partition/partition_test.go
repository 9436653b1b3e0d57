package partition

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"imgshard/pkg/contract"
)

func TestPartitionExample(t *testing.T) {
	got, err := Partition(1000, 4)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	want := []contract.Chunk{
		{Ordinal: 0, Start: 0, End: 250},
		{Ordinal: 1, Start: 250, End: 500},
		{Ordinal: 2, Start: 500, End: 750},
		{Ordinal: 3, Start: 750, End: 1000},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("chunks mismatch (-want +got):\n%s", diff)
	}
}

// 余数被丢弃：10 个条目分 3 块，索引 9 不出现在任何块中。
func TestPartitionDropsRemainder(t *testing.T) {
	got, err := Partition(10, 3)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	want := []contract.Chunk{{0, 0, 3}, {1, 3, 6}, {2, 6, 9}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if r := Remainder(10, 3); r != 1 {
		t.Fatalf("Remainder=%d want 1", r)
	}
}

// 对所有 K<=N：K 块、每块 floor(N/K)、恰好覆盖前缀一次。
func TestPartitionProperties(t *testing.T) {
	for n := 1; n <= 60; n++ {
		for k := 1; k <= n; k++ {
			chunks, err := Partition(n, k)
			if err != nil {
				t.Fatalf("N=%d K=%d: %v", n, k, err)
			}
			if len(chunks) != k {
				t.Fatalf("N=%d K=%d: got %d chunks", n, k, len(chunks))
			}
			size := n / k
			seen := make([]int, n)
			for _, c := range chunks {
				if c.Len() != size {
					t.Fatalf("N=%d K=%d: chunk %s size %d want %d", n, k, c, c.Len(), size)
				}
				for i := c.Start; i < c.End; i++ {
					seen[i]++
				}
			}
			for i, cnt := range seen {
				want := 0
				if i < k*size {
					want = 1
				}
				if cnt != want {
					t.Fatalf("N=%d K=%d: index %d covered %d times want %d", n, k, i, cnt, want)
				}
			}
			if err := contract.ValidateChunks(chunks, n); err != nil {
				t.Fatalf("N=%d K=%d: %v", n, k, err)
			}
			names := map[string]bool{}
			for _, c := range chunks {
				nm := contract.ShardName(c.Ordinal, k)
				if names[nm] {
					t.Fatalf("duplicate shard name %s", nm)
				}
				names[nm] = true
			}
		}
	}
}

func TestPartitionInvalid(t *testing.T) {
	cases := []struct{ n, k int }{{3, 4}, {0, 1}, {10, 0}, {10, -1}, {-1, 1}}
	for _, c := range cases {
		if _, err := Partition(c.n, c.k); !errors.Is(err, contract.ErrInvalidArgument) {
			t.Fatalf("Partition(%d,%d): want ErrInvalidArgument got %v", c.n, c.k, err)
		}
	}
}

func TestPartitionWithTail(t *testing.T) {
	got, err := PartitionWithTail(10, 3)
	if err != nil {
		t.Fatalf("PartitionWithTail: %v", err)
	}
	want := []contract.Chunk{{0, 0, 3}, {1, 3, 6}, {2, 6, 9}, {3, 9, 10}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	exact, _ := PartitionWithTail(8, 4)
	if len(exact) != 4 {
		t.Fatalf("no tail expected when k divides total, got %d", len(exact))
	}
}

func TestBySize(t *testing.T) {
	got := BySize(2500, 1000)
	want := []contract.Chunk{{0, 0, 1000}, {1, 1000, 2000}, {2, 2000, 2500}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if BySize(0, 10) != nil || BySize(10, 0) != nil {
		t.Fatalf("empty input should give nil")
	}
	if c := BySize(3, 10); len(c) != 1 || c[0].End != 3 {
		t.Fatalf("single short chunk: %v", c)
	}
}
