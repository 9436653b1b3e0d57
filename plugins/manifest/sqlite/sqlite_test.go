package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"imgshard/pkg/contract"
	"imgshard/pkg/dataset"
)

func entries(n int) []contract.Entry {
	out := make([]contract.Entry, n)
	for i := range out {
		out[i] = contract.Entry{RelPath: fmt.Sprintf("cls%02d/img_%05d.jpg", i%7, i), Label: int64(i % 7)}
	}
	return out
}

func TestWriteOpenGet(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	require.NoError(t, Write(ctx, root, "train", entries(50)))

	s, err := New(&Options{Root: root, MaxOpenConns: 4})
	require.NoError(t, err)
	m, err := s.Open(ctx, "train")
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, 50, m.Len())
	e, err := m.Get(13)
	require.NoError(t, err)
	require.Equal(t, contract.Entry{Index: 13, RelPath: "cls06/img_00013.jpg", Label: 6}, e)

	_, err = m.Get(50)
	require.ErrorIs(t, err, contract.ErrInvalidArgument)
}

// 多 worker 并发只读
func TestConcurrentGet(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	require.NoError(t, Write(ctx, root, "val", entries(200)))
	s, _ := New(&Options{Root: root})
	m, err := s.Open(ctx, "val")
	require.NoError(t, err)
	defer m.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < 200; i += 8 {
				e, err := m.Get(i)
				if err != nil || e.Index != i {
					errs <- fmt.Errorf("get %d: %+v %v", i, e, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

// Write 覆盖旧文件
func TestWriteOverwrites(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	require.NoError(t, Write(ctx, root, "train", entries(10)))
	require.NoError(t, Write(ctx, root, "train", entries(3)))
	s, _ := New(&Options{Root: root})
	m, err := s.Open(ctx, "train")
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, 3, m.Len())
}

func TestOpenMissingAndGaps(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	s, _ := New(&Options{Root: root})
	_, err := s.Open(ctx, "nope")
	require.ErrorIs(t, err, contract.ErrManifest)

	require.NoError(t, Write(ctx, root, "gap", entries(5)))
	db, err := sql.Open("sqlite", dataset.OrderFile(root, "gap.sqlite"))
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM manifest WHERE idx = 2`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	_, err = s.Open(ctx, "gap")
	require.ErrorIs(t, err, contract.ErrManifest)

	_, err = New(&Options{Root: " "})
	require.ErrorIs(t, err, contract.ErrInvalidArgument)
}

func TestGetRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	require.NoError(t, Write(ctx, root, "bad", []contract.Entry{{RelPath: "../../etc/passwd"}}))
	s, _ := New(&Options{Root: root})
	m, err := s.Open(ctx, "bad")
	require.NoError(t, err)
	defer m.Close()
	_, err = m.Get(0)
	require.ErrorIs(t, err, contract.ErrPathInvalid)
}
