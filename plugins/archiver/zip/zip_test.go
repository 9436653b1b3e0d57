package zip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	kzip "github.com/klauspost/compress/zip"

	"imgshard/pkg/contract"
	"imgshard/pkg/dataset"
	wfs "imgshard/plugins/writer/filesystem"
)

// fixture: <root>/data 下 n 个文件，返回清单。
func fixture(t *testing.T, n int) (string, *dataset.Memory) {
	t.Helper()
	root := t.TempDir()
	mt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := make([]contract.Entry, n)
	for i := 0; i < n; i++ {
		rel := fmt.Sprintf("n%03d/img_%04d.JPEG", i%5, i)
		p := filepath.Join(dataset.DataDir(root), filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, bytes.Repeat([]byte{byte(i)}, 100+i), 0o644); err != nil {
			t.Fatal(err)
		}
		_ = os.Chtimes(p, mt, mt)
		entries[i] = contract.Entry{RelPath: rel, Label: int64(i % 5)}
	}
	return root, dataset.FromEntries(entries)
}

func newZip(t *testing.T, outDir string) *Zip {
	t.Helper()
	w, err := wfs.New(&wfs.Options{OutputDir: outDir})
	if err != nil {
		t.Fatal(err)
	}
	z, err := New(w, nil)
	if err != nil {
		t.Fatal(err)
	}
	return z
}

func req(m contract.Manifest, root string, c contract.Chunk, total int) contract.BuildRequest {
	return contract.BuildRequest{Manifest: m, Chunk: c, Total: total, DataRoot: dataset.DataDir(root)}
}

// 构建后 Flat 解包逐字节还原
func TestBuildExtractRoundTripFlat(t *testing.T) {
	for _, comp := range []contract.Compression{contract.Deflate, contract.Store, contract.Zstd} {
		t.Run(string(comp), func(t *testing.T) {
			root, m := fixture(t, 20)
			out := t.TempDir()
			z := newZip(t, out)
			r := req(m, root, contract.Chunk{Ordinal: 1, Start: 5, End: 15}, 4)
			r.Compression = comp
			info, err := z.Build(context.Background(), r)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if info.Name != "images_0001_of_4.zip" || info.Entries != 10 || info.Bytes <= 0 || len(info.Sum) != 64 {
				t.Fatalf("info=%+v", info)
			}
			archive := filepath.Join(out, info.Name)
			if err := z.Verify(context.Background(), archive, info.Sum); err != nil {
				t.Fatalf("verify: %v", err)
			}
			dest := t.TempDir()
			n, err := z.Extract(context.Background(), archive, dest, contract.Flat)
			if err != nil || n != 10 {
				t.Fatalf("extract n=%d err=%v", n, err)
			}
			for i := 5; i < 15; i++ {
				e, _ := m.Get(i)
				want, _ := os.ReadFile(dataset.SourcePath(dataset.DataDir(root), e.RelPath))
				got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(e.RelPath)))
				if err != nil || !bytes.Equal(got, want) {
					t.Fatalf("entry %d mismatch: %v", i, err)
				}
			}
			e, _ := m.Get(4)
			if _, err := os.Stat(filepath.Join(dest, filepath.FromSlash(e.RelPath))); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("index outside chunk must not be packed")
			}
		})
	}
}

// Nested 解包到 <dest>/<归档基名>/
func TestExtractNested(t *testing.T) {
	root, m := fixture(t, 4)
	out := t.TempDir()
	z := newZip(t, out)
	info, err := z.Build(context.Background(), req(m, root, contract.Chunk{Ordinal: 0, Start: 0, End: 4}, 0))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if info.Name != "images_0000.zip" {
		t.Fatalf("name=%s", info.Name)
	}
	dest := t.TempDir()
	if _, err := z.Extract(context.Background(), filepath.Join(out, info.Name), dest, contract.Nested); err != nil {
		t.Fatalf("extract: %v", err)
	}
	e, _ := m.Get(2)
	if _, err := os.Stat(filepath.Join(dest, "images_0000", filepath.FromSlash(e.RelPath))); err != nil {
		t.Fatalf("nested file missing: %v", err)
	}
}

// 同一输入重复构建得到字节一致的分片；流式与内存模式结果一致
func TestBuildDeterministic(t *testing.T) {
	root, m := fixture(t, 12)
	outA, outB := t.TempDir(), t.TempDir()
	c := contract.Chunk{Ordinal: 2, Start: 0, End: 12}
	a, err := newZip(t, outA).Build(context.Background(), req(m, root, c, 3))
	if err != nil {
		t.Fatal(err)
	}
	rb := req(m, root, c, 3)
	rb.Buffering = contract.Streamed
	b, err := newZip(t, outB).Build(context.Background(), rb)
	if err != nil {
		t.Fatal(err)
	}
	if a.Sum != b.Sum || a.Bytes != b.Bytes {
		t.Fatalf("memory %+v vs streamed %+v", a, b)
	}
	ba, _ := os.ReadFile(filepath.Join(outA, a.Name))
	bb, _ := os.ReadFile(filepath.Join(outB, b.Name))
	if !bytes.Equal(ba, bb) {
		t.Fatalf("archives differ")
	}
	sum, n, err := SumFile(context.Background(), filepath.Join(outA, a.Name))
	if err != nil || sum != a.Sum || n != a.Bytes {
		t.Fatalf("SumFile=%s,%d,%v", sum, n, err)
	}
}

// 内存模式：源缺失时目标不出现
func TestBuildMissingSourceInMemory(t *testing.T) {
	root, m := fixture(t, 6)
	e, _ := m.Get(3)
	_ = os.Remove(dataset.SourcePath(dataset.DataDir(root), e.RelPath))
	out := t.TempDir()
	_, err := newZip(t, out).Build(context.Background(), req(m, root, contract.Chunk{Ordinal: 0, Start: 0, End: 6}, 1))
	var snf *contract.SourceNotFoundError
	if !errors.As(err, &snf) || snf.Index != 3 || !errors.Is(err, contract.ErrSourceNotFound) {
		t.Fatalf("want SourceNotFound(3), got %v", err)
	}
	ents, _ := os.ReadDir(out)
	if len(ents) != 0 {
		t.Fatalf("memory mode must not leave output: %v", ents)
	}
}

// 流式模式：源缺失时目标处残留截断文件，且不可解包
func TestBuildMissingSourceStreamed(t *testing.T) {
	root, m := fixture(t, 6)
	e, _ := m.Get(4)
	_ = os.Remove(dataset.SourcePath(dataset.DataDir(root), e.RelPath))
	out := t.TempDir()
	z := newZip(t, out)
	r := req(m, root, contract.Chunk{Ordinal: 0, Start: 0, End: 6}, 1)
	r.Buffering = contract.Streamed
	_, err := z.Build(context.Background(), r)
	if !errors.Is(err, contract.ErrSourceNotFound) {
		t.Fatalf("want SourceNotFound, got %v", err)
	}
	partial := filepath.Join(out, "images_0000_of_1.zip")
	st, err := os.Stat(partial)
	if err != nil || st.Size() == 0 {
		t.Fatalf("streamed mode should leave a truncated file: %v", err)
	}
	// 已写条目应已刷出：本地文件头与前几个条目名在文件中
	b, _ := os.ReadFile(partial)
	first, _ := m.Get(0)
	third, _ := m.Get(3)
	if !bytes.HasPrefix(b, []byte("PK\x03\x04")) || !bytes.Contains(b, []byte(first.RelPath)) || !bytes.Contains(b, []byte(third.RelPath)) {
		t.Fatalf("partial archive lacks flushed entries (%d bytes)", len(b))
	}
	if bytes.Contains(b, []byte("PK\x05\x06")) {
		t.Fatalf("partial archive must not carry an end of central directory record")
	}
	if _, err := z.Extract(context.Background(), partial, t.TempDir(), contract.Flat); !errors.Is(err, contract.ErrCorruptArchive) {
		t.Fatalf("truncated archive should be corrupt, got %v", err)
	}
}

func TestBuildInvalidRequests(t *testing.T) {
	root, m := fixture(t, 3)
	z := newZip(t, t.TempDir())
	cases := []contract.BuildRequest{
		req(m, root, contract.Chunk{Start: 0, End: 4}, 1),
		req(m, root, contract.Chunk{Start: 2, End: 2}, 1),
		req(nil, root, contract.Chunk{Start: 0, End: 1}, 1),
		{Manifest: m, Chunk: contract.Chunk{Start: 0, End: 1}, Compression: "lzma"},
	}
	for i, r := range cases {
		if _, err := z.Build(context.Background(), r); !errors.Is(err, contract.ErrInvalidArgument) {
			t.Fatalf("case %d: want ErrInvalidArgument got %v", i, err)
		}
	}
	noOut, _ := New(nil, nil)
	if _, err := noOut.Build(context.Background(), req(m, root, contract.Chunk{Start: 0, End: 1}, 1)); !errors.Is(err, contract.ErrInvalidArgument) {
		t.Fatalf("nil writer: %v", err)
	}
	if _, err := New(nil, &Options{Level: 12}); !errors.Is(err, contract.ErrInvalidArgument) {
		t.Fatalf("bad level: %v", err)
	}
}

func TestBuildCanceled(t *testing.T) {
	root, m := fixture(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newZip(t, t.TempDir()).Build(ctx, req(m, root, contract.Chunk{Start: 0, End: 3}, 1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want canceled, got %v", err)
	}
}

// 非 zip 内容：中央目录不可读
func TestExtractCorrupt(t *testing.T) {
	p := filepath.Join(t.TempDir(), "images_0000.zip")
	_ = os.WriteFile(p, []byte("definitely not a zip"), 0o644)
	z, _ := New(nil, nil)
	if _, err := z.Extract(context.Background(), p, t.TempDir(), contract.Flat); !errors.Is(err, contract.ErrCorruptArchive) {
		t.Fatalf("want corrupt, got %v", err)
	}
	if _, err := z.Extract(context.Background(), p+".missing", t.TempDir(), contract.Flat); !errors.Is(err, contract.ErrIO) {
		t.Fatalf("missing archive should be io, got %v", err)
	}
}

// 逃逸目标目录的条目名被拒绝，且不写出目录外文件
func TestExtractZipSlip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "evil.zip")
	var buf bytes.Buffer
	zw := kzip.NewWriter(&buf)
	w, _ := zw.Create("ok.txt")
	_, _ = w.Write([]byte("ok"))
	w, _ = zw.Create("../escaped.txt")
	_, _ = w.Write([]byte("bad"))
	_ = zw.Close()
	_ = os.WriteFile(p, buf.Bytes(), 0o644)

	dest := filepath.Join(dir, "dest")
	z, _ := New(nil, nil)
	n, err := z.Extract(context.Background(), p, dest, contract.Flat)
	if !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("want path invalid, got %v", err)
	}
	if n != 1 {
		t.Fatalf("entries before the bad one are kept, n=%d", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "escaped.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("escaped file written")
	}
}

func TestVerifyMismatch(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.zip")
	_ = os.WriteFile(p, []byte("x"), 0o644)
	z, _ := New(nil, nil)
	if err := z.Verify(context.Background(), p, "00"); !errors.Is(err, contract.ErrCorruptArchive) {
		t.Fatalf("want corrupt, got %v", err)
	}
	if err := z.Verify(context.Background(), p+".nope", "00"); !errors.Is(err, contract.ErrIO) {
		t.Fatalf("want io, got %v", err)
	}
}

func TestEntryPath(t *testing.T) {
	target := filepath.Join(t.TempDir(), "t")
	for _, bad := range []string{"../x", "/abs", "a/../../x", ""} {
		if _, err := entryPath(target, bad); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("%q should be invalid", bad)
		}
	}
	got, err := entryPath(target, "a\\b.jpg")
	if err != nil || got != filepath.Join(target, "a", "b.jpg") {
		t.Fatalf("entryPath=%s %v", got, err)
	}
}
