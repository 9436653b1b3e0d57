// Package zip 以 zip 容器实现分片的构建、解包与校验。
//
// 构建：按索引顺序写入条目，条目名即清单相对路径，修改时间取自源文件，
// 因此输入不变时重复构建得到字节一致的分片。
// 解包：拒绝逃逸目标目录的条目名；前若干条目写出后失败的情形不回滚。
package zip

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	kzip "github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"imgshard/pkg/contract"
	"imgshard/pkg/dataset"
)

// Options: 压缩级别与缓冲。
type Options struct {
	// Level: deflate 1..9 / zstd 1..4（SpeedFastest..SpeedBestCompression）；0 取各自默认。
	Level int `yaml:"level,omitempty"`
	// BufSize: 内存模式下缓冲区初始容量提示（字节）。
	BufSize int `yaml:"buf_size,omitempty"`
	// PermFile/PermDir: 解包写出权限；0 取默认。
	PermFile os.FileMode `yaml:"perm_file,omitempty"`
	PermDir  os.FileMode `yaml:"perm_dir,omitempty"`
}

// Zip 实现 contract.Archiver 与 contract.Verifier。
// 构建结果经由 Writer 落盘：内存模式走 Write（原子），流式模式走 StreamWriter.Create。
type Zip struct {
	out     contract.Writer
	level   int
	bufSize int
	permF   os.FileMode
	permD   os.FileMode
}

// New 创建 zip 归档器；out 可为 nil（仅解包/校验）。
func New(out contract.Writer, opts *Options) (*Zip, error) {
	z := &Zip{out: out, permF: 0o644, permD: 0o755}
	if opts != nil {
		if opts.Level < 0 || opts.Level > 9 {
			return nil, fmt.Errorf("%w: zip level %d", contract.ErrInvalidArgument, opts.Level)
		}
		z.level = opts.Level
		z.bufSize = opts.BufSize
		if opts.PermFile != 0 {
			z.permF = opts.PermFile
		}
		if opts.PermDir != 0 {
			z.permD = opts.PermDir
		}
	}
	return z, nil
}

var (
	_ contract.Archiver = (*Zip)(nil)
	_ contract.Verifier = (*Zip)(nil)
)

// Build 将 req.Chunk 内的全部条目打包为一个分片。
func (z *Zip) Build(ctx context.Context, req contract.BuildRequest) (contract.ShardInfo, error) {
	info := contract.ShardInfo{
		Name:    contract.ShardName(req.Chunk.Ordinal, req.Total),
		Ordinal: req.Chunk.Ordinal,
		Total:   req.Total,
		Start:   req.Chunk.Start,
		End:     req.Chunk.End,
	}
	if z.out == nil {
		return info, fmt.Errorf("%w: zip archiver has no writer", contract.ErrInvalidArgument)
	}
	if req.Manifest == nil || req.Chunk.Start < 0 || req.Chunk.End > req.Manifest.Len() || req.Chunk.Len() <= 0 {
		return info, fmt.Errorf("%w: chunk %s", contract.ErrInvalidArgument, req.Chunk)
	}
	method, err := methodFor(req.Compression)
	if err != nil {
		return info, err
	}
	id := contract.ArtifactID(info.Name)

	switch req.Buffering {
	case contract.Streamed:
		sw, ok := z.out.(contract.StreamWriter)
		if !ok {
			return info, fmt.Errorf("%w: writer does not support streamed output", contract.ErrInvalidArgument)
		}
		wc, err := sw.Create(ctx, id)
		if err != nil {
			return info, ioErr(err)
		}
		h := blake3.New()
		cw := &countWriter{w: io.MultiWriter(wc, h)}
		n, berr := z.writeArchive(ctx, cw, req, method)
		// 失败时目标处保留截断文件，由调用方视为不可用
		cerr := wc.Close()
		if berr != nil {
			return info, berr
		}
		if cerr != nil {
			return info, ioErr(cerr)
		}
		info.Entries, info.Bytes, info.Sum = n, cw.n, hex.EncodeToString(h.Sum(nil))
		return info, nil
	default:
		var buf bytes.Buffer
		if z.bufSize > 0 {
			buf.Grow(z.bufSize)
		}
		n, err := z.writeArchive(ctx, &buf, req, method)
		if err != nil {
			return info, err
		}
		sum := blake3.Sum256(buf.Bytes())
		info.Entries, info.Bytes, info.Sum = n, int64(buf.Len()), hex.EncodeToString(sum[:])
		if err := z.out.Write(ctx, id, bytes.NewReader(buf.Bytes())); err != nil {
			return info, ioErr(err)
		}
		return info, nil
	}
}

// writeArchive 顺序写入 [Start,End) 的条目；返回写入条目数。
// 出错时只刷出已写条目、不写中央目录，流式输出因此保持截断、不可解包。
func (z *Zip) writeArchive(ctx context.Context, w io.Writer, req contract.BuildRequest, method uint16) (n int, err error) {
	zw := kzip.NewWriter(w)
	z.registerCompressors(zw)
	defer func() {
		if err != nil {
			_ = zw.Flush()
		}
	}()
	for i := req.Chunk.Start; i < req.Chunk.End; i++ {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		e, err := req.Manifest.Get(i)
		if err != nil {
			return n, err
		}
		if err := addEntry(zw, dataset.SourcePath(req.DataRoot, e.RelPath), e, method); err != nil {
			return n, err
		}
		n++
	}
	if err := zw.Close(); err != nil {
		return n, ioErr(err)
	}
	return n, nil
}

func addEntry(zw *kzip.Writer, src string, e contract.Entry, method uint16) error {
	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &contract.SourceNotFoundError{Index: e.Index, Path: src}
		}
		return ioErr(err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return ioErr(err)
	}
	if !st.Mode().IsRegular() {
		return &contract.SourceNotFoundError{Index: e.Index, Path: src}
	}
	hdr := &kzip.FileHeader{Name: e.RelPath, Method: method, Modified: st.ModTime()}
	hdr.SetMode(st.Mode().Perm())
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return ioErr(err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return ioErr(err)
	}
	return nil
}

func (z *Zip) registerCompressors(zw *kzip.Writer) {
	if z.level > 0 {
		lvl := z.level
		zw.RegisterCompressor(kzip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, lvl)
		})
	}
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor(zstdLevel(z.level)...))
}

func zstdLevel(level int) []zstd.EOption {
	if level <= 0 {
		return nil
	}
	if level > int(zstd.SpeedBestCompression) {
		level = int(zstd.SpeedBestCompression)
	}
	return []zstd.EOption{zstd.WithEncoderLevel(zstd.EncoderLevel(level))}
}

func methodFor(c contract.Compression) (uint16, error) {
	switch c {
	case contract.Deflate, "":
		return kzip.Deflate, nil
	case contract.Store:
		return kzip.Store, nil
	case contract.Zstd:
		return zstd.ZipMethodWinZip, nil
	default:
		return 0, fmt.Errorf("%w: compression %q", contract.ErrInvalidArgument, c)
	}
}

// Extract 将 archivePath 解到 dest（Nested 时为 dest/<归档基名>）；返回写出的文件数。
func (z *Zip) Extract(ctx context.Context, archivePath, dest string, layout contract.Layout) (int, error) {
	zr, err := kzip.OpenReader(archivePath)
	if err != nil {
		var perr *fs.PathError
		if errors.As(err, &perr) {
			return 0, ioErr(err)
		}
		return 0, fmt.Errorf("%w: %s: %v", contract.ErrCorruptArchive, filepath.Base(archivePath), err)
	}
	defer zr.Close()
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	target := dest
	if layout == contract.Nested {
		target = filepath.Join(dest, contract.ArchiveBase(archivePath))
	}
	target = filepath.Clean(target)
	if err := os.MkdirAll(target, z.permD); err != nil {
		return 0, ioErr(err)
	}

	n := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		out, err := entryPath(target, f.Name)
		if err != nil {
			return n, fmt.Errorf("%s: entry %q: %w", filepath.Base(archivePath), f.Name, err)
		}
		if strings.HasSuffix(f.Name, "/") || f.Mode().IsDir() {
			if err := os.MkdirAll(out, z.permD); err != nil {
				return n, ioErr(err)
			}
			continue
		}
		if f.Mode()&fs.ModeSymlink != 0 {
			// 构建端从不写入符号链接条目
			continue
		}
		if err := z.extractFile(f, out); err != nil {
			return n, fmt.Errorf("%s: entry %q: %w", filepath.Base(archivePath), f.Name, err)
		}
		n++
	}
	return n, nil
}

// entryPath 校验条目名并映射到 target 下；逃逸 target 的名称为 ErrPathInvalid。
func entryPath(target, name string) (string, error) {
	rel, err := contract.NormalizeRelPath(name)
	if err != nil {
		return "", err
	}
	out := filepath.Join(target, filepath.FromSlash(rel))
	if out != target && !strings.HasPrefix(out, target+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	return out, nil
}

func (z *Zip) extractFile(f *kzip.File, out string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", contract.ErrCorruptArchive, err)
	}
	defer rc.Close()
	if err := os.MkdirAll(filepath.Dir(out), z.permD); err != nil {
		return ioErr(err)
	}
	perm := f.Mode().Perm()
	if perm == 0 {
		perm = z.permF
	}
	dst, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return ioErr(err)
	}
	src := &readTracker{r: rc}
	_, cerr := io.Copy(dst, src)
	closeErr := dst.Close()
	if cerr != nil {
		if src.err != nil {
			return fmt.Errorf("%w: %v", contract.ErrCorruptArchive, cerr)
		}
		return ioErr(cerr)
	}
	if closeErr != nil {
		return ioErr(closeErr)
	}
	if mt := f.Modified; !mt.IsZero() {
		_ = os.Chtimes(out, mt, mt)
	}
	return nil
}

// Verify 计算归档文件的 blake3 并与期望值比对。
func (z *Zip) Verify(ctx context.Context, archivePath, wantSum string) error {
	got, _, err := SumFile(ctx, archivePath)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, strings.TrimSpace(wantSum)) {
		return fmt.Errorf("%w: %s: blake3 %s, want %s", contract.ErrCorruptArchive, filepath.Base(archivePath), got, wantSum)
	}
	return nil
}

// SumFile 返回文件的 blake3（hex）与字节数。
func SumFile(ctx context.Context, p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, ioErr(err)
	}
	defer f.Close()
	h := blake3.New()
	n, err := io.Copy(h, &ctxReader{ctx: ctx, r: f})
	if err != nil {
		if ctx.Err() != nil {
			return "", n, ctx.Err()
		}
		return "", n, ioErr(err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ioErr 将底层读写错误归入 ErrIO；取消与已分类错误保持原样。
func ioErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, contract.ErrIO) || errors.Is(err, contract.ErrPathInvalid) {
		return err
	}
	return fmt.Errorf("%w: %w", contract.ErrIO, err)
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// readTracker 记录读侧错误，用于区分损坏（读）与写盘失败（写）。
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
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
