// Package filesystem 将分片、索引与报告写入单个输出目录。
//
// 工件 ID 必须是基名（不含目录）。Write 先写同目录临时文件
// `.<name>.tmp-*` 再原子替换，目标只在完整时出现；Create 直接打开目标，
// 供流式构建使用。系统调用错误统一包装为 contract.ErrIO。
package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"imgshard/pkg/contract"
)

const tmpMarker = ".tmp-"

// Options: 输出目录与权限。
type Options struct {
	// OutputDir: 输出目录（必需）；不存在时在首次写入时创建。
	OutputDir string `yaml:"output_dir"`
	// PermFile/PermDir: 0 取 0644/0755。
	PermFile os.FileMode `yaml:"perm_file,omitempty"`
	PermDir  os.FileMode `yaml:"perm_dir,omitempty"`
	// BufSize: 写缓冲大小；<=0 取 256 KiB。
	BufSize int `yaml:"buf_size,omitempty"`
}

// FS 实现 contract.Writer、contract.StreamWriter 与 contract.Cleaner。
type FS struct {
	dir     string
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

var (
	_ contract.Writer       = (*FS)(nil)
	_ contract.StreamWriter = (*FS)(nil)
	_ contract.Cleaner      = (*FS)(nil)
)

// New 校验选项并构造 FS；不触碰文件系统。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("%w: output_dir not set", contract.ErrInvalidArgument)
	}
	w := &FS{dir: opts.OutputDir, permF: opts.PermFile, permD: opts.PermDir, bufSize: opts.BufSize}
	if w.permF == 0 {
		w.permF = 0o644
	}
	if w.permD == 0 {
		w.permD = 0o755
	}
	if w.bufSize <= 0 {
		w.bufSize = 256 * 1024
	}
	return w, nil
}

// Write 原子写入：临时文件写满并 fsync 后替换目标。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.target(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, w.permD); err != nil {
		return ioErr(err)
	}
	tmp, err := os.CreateTemp(w.dir, "."+string(id)+tmpMarker+"*")
	if err != nil {
		return ioErr(err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return ioErr(err)
	}
	if err := tmp.Chmod(w.permF); err != nil {
		return fail(err)
	}
	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return ioErr(err)
	}
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return ioErr(err)
	}
	_ = syncDir(w.dir)
	return nil
}

// Create 直接在目标路径打开写句柄（截断已有内容）；关闭时刷新缓冲。
// 调用方中途放弃时目标处残留截断文件。
func (w *FS) Create(ctx context.Context, id contract.ArtifactID) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dest, err := w.target(id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(w.dir, w.permD); err != nil {
		return nil, ioErr(err)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return nil, ioErr(err)
	}
	return &bufferedFile{Writer: bufio.NewWriterSize(f, w.bufSize), f: f}, nil
}

// Remove 删除 id；不存在视为成功。
func (w *FS) Remove(ctx context.Context, id contract.ArtifactID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.target(id)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioErr(err)
	}
	return nil
}

// Sweep 删除输出目录中形如 .<name>.tmp-* 的临时文件；目录不存在时为 0。
func (w *FS) Sweep(ctx context.Context) (int, error) {
	ents, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, ioErr(err)
	}
	n := 0
	for _, e := range ents {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if !isTemp(e.Name()) || !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, ioErr(err)
		}
		n++
	}
	return n, nil
}

// target 将基名映射到输出目录；带目录或特殊名为 ErrPathInvalid。
func (w *FS) target(id contract.ArtifactID) (string, error) {
	name := string(id)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: artifact id %q", contract.ErrPathInvalid, name)
	}
	return filepath.Join(w.dir, name), nil
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, tmpMarker)
}

// ioErr: 取消原样返回，其余系统错误包装为 ErrIO。
func ioErr(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", contract.ErrIO, err)
}

// bufferedFile: Close 时先 Flush 再关闭文件，返回首个错误。
type bufferedFile struct {
	*bufio.Writer
	f *os.File
}

func (b *bufferedFile) Close() error {
	ferr := b.Flush()
	cerr := b.f.Close()
	if ferr != nil {
		return ioErr(ferr)
	}
	return ioErr(cerr)
}

func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
