package filesystem

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imgshard/pkg/contract"
)

func noTmp(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if isTemp(e.Name()) {
			t.Fatalf("tmp file not cleaned: %s", e.Name())
		}
	}
}

// 原子写入
func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Write(context.Background(), "images_0000_of_4.zip", bytes.NewBufferString("data")); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "images_0000_of_4.zip"))
	if err != nil || string(b) != "data" {
		t.Fatalf("unexpected file %v %q", err, string(b))
	}
	noTmp(t, dir)
}

// 目标已存在时原子写替换为新内容（重跑覆盖同名分片）。
func TestWriteAtomicReplaceExisting(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	for _, v := range []string{"v1", "v2"} {
		if err := w.Write(context.Background(), "out.zip", bytes.NewBufferString(v)); err != nil {
			t.Fatalf("write %s: %v", v, err)
		}
	}
	b, _ := os.ReadFile(filepath.Join(dir, "out.zip"))
	if string(b) != "v2" {
		t.Fatalf("expect replaced content v2, got %q", string(b))
	}
	noTmp(t, dir)
}

// 拷贝失败：临时文件被清理、目标不出现
func TestWriteAtomicCopyError(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	if err := w.Write(context.Background(), "a.zip", errReader{}); err == nil {
		t.Fatalf("expect copy error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("temp files left %v", entries)
	}
}

// ID 只能是基名
func TestWritePathInvalid(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	for _, id := range []contract.ArtifactID{"../bad.zip", "sub/x.zip", `sub\x.zip`, "", ".", ".."} {
		if err := w.Write(context.Background(), id, bytes.NewBufferString("x")); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("id %q 应为非法路径，得到 %v", id, err)
		}
		if _, err := w.Create(context.Background(), id); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("Create id %q 应为非法路径，得到 %v", id, err)
		}
	}
	ents, _ := os.ReadDir(dir)
	if len(ents) != 0 {
		t.Fatalf("非法 ID 不应产生文件: %v", ents)
	}
}

// 输出目录不存在时首次写入创建
func TestWriteCreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	w, _ := New(&Options{OutputDir: dir})
	if err := w.Write(context.Background(), "SHARDS.yaml", strings.NewReader("v")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "SHARDS.yaml")); err != nil {
		t.Fatalf("file not created: %v", err)
	}
}

// 系统调用失败包装为 ErrIO
func TestWriteIOErrors(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, _ := New(&Options{OutputDir: filepath.Join(blocker, "out")})
	if err := w.Write(context.Background(), "a.zip", strings.NewReader("v")); !errors.Is(err, contract.ErrIO) {
		t.Fatalf("Write 应为 ErrIO，得到 %v", err)
	}
	if _, err := w.Create(context.Background(), "a.zip"); !errors.Is(err, contract.ErrIO) {
		t.Fatalf("Create 应为 ErrIO，得到 %v", err)
	}
	w, _ = New(&Options{OutputDir: parent})
	if err := w.Write(context.Background(), "b.zip", errReader{}); !errors.Is(err, contract.ErrIO) {
		t.Fatalf("读源失败应为 ErrIO，得到 %v", err)
	}
}

// Remove 与 Sweep：清理旧索引与中断遗留的临时文件，不动其余文件
func TestRemoveAndSweep(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	ctx := context.Background()
	if n, err := (&FS{dir: filepath.Join(dir, "none")}).Sweep(ctx); n != 0 || err != nil {
		t.Fatalf("目录不存在: n=%d err=%v", n, err)
	}
	for _, name := range []string{"SHARDS.yaml", "images_0000_of_2.zip", ".images_0001_of_2.zip.tmp-123", ".SHARDS.yaml.tmp-9", ".hidden"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	n, err := w.Sweep(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Sweep n=%d err=%v", n, err)
	}
	noTmp(t, dir)
	if err := w.Remove(ctx, "SHARDS.yaml"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := w.Remove(ctx, "SHARDS.yaml"); err != nil {
		t.Fatalf("重复删除应成功: %v", err)
	}
	ents, _ := os.ReadDir(dir)
	var names []string
	for _, e := range ents {
		names = append(names, e.Name())
	}
	if strings.Join(names, ",") != ".hidden,images_0000_of_2.zip" {
		t.Fatalf("剩余文件不符: %v", names)
	}
	if err := w.Remove(ctx, "../x"); !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("非法 ID: %v", err)
	}
}

// Create：关闭前目标即可见；中途放弃留下截断文件。
func TestCreateStreamed(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir, BufSize: 4})
	wc, err := w.Create(context.Background(), "images_0001.zip")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	target := filepath.Join(dir, "images_0001.zip")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("target should exist before close: %v", err)
	}
	if _, err := io.WriteString(wc, "0123456789"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, _ := os.ReadFile(target)
	if string(b) != "0123456789" {
		t.Fatalf("content %q", b)
	}

	// 再次 Create 截断旧内容
	wc, _ = w.Create(context.Background(), "images_0001.zip")
	_, _ = io.WriteString(wc, "ab")
	_ = wc.Close()
	b, _ = os.ReadFile(target)
	if string(b) != "ab" {
		t.Fatalf("truncate failed %q", b)
	}
}

func TestCreateCtxCancel(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Create(ctx, "a.zip"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect ctx error, got %v", err)
	}
}

func TestWriteCtxCancel(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Write(ctx, "a.zip", strings.NewReader("data")); err == nil {
		t.Fatalf("expect ctx error")
	}
}

func TestNewInvalid(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expect error for nil opts")
	}
	if _, err := New(&Options{OutputDir: "  "}); !errors.Is(err, contract.ErrInvalidArgument) {
		t.Fatalf("expect error for empty output dir")
	}
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

func TestReaderWithCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := readerWithCtx(ctx, strings.NewReader("data"))
	cancel()
	if _, err := r.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expect ctx error")
	}
}
