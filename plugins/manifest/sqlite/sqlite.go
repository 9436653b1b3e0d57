// Package sqlite 以 SQLite 文件实现 ManifestStore：
// <root>/order_files/<split>.sqlite，表 manifest(idx INTEGER PRIMARY KEY, path TEXT, label INTEGER)。
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"imgshard/pkg/contract"
	"imgshard/pkg/dataset"
)

const DefaultPattern = "%s.sqlite"

const schema = `CREATE TABLE IF NOT EXISTS manifest (
	idx   INTEGER PRIMARY KEY,
	path  TEXT NOT NULL,
	label INTEGER NOT NULL DEFAULT 0
);`

// Options: 清单根目录与文件名模式（%s 替换为 split）。
type Options struct {
	Root    string `yaml:"root"`
	Pattern string `yaml:"pattern,omitempty"`
	// MaxOpenConns: 并发读连接上限；<=0 不限制。
	MaxOpenConns int `yaml:"max_open_conns,omitempty"`
}

type Store struct {
	root     string
	pattern  string
	maxConns int
}

// New 创建 SQLite 清单存储。
func New(opts *Options) (*Store, error) {
	if opts == nil || strings.TrimSpace(opts.Root) == "" {
		return nil, fmt.Errorf("%w: sqlite manifest root empty", contract.ErrInvalidArgument)
	}
	p := DefaultPattern
	if opts.Pattern != "" {
		p = opts.Pattern
	}
	return &Store{root: opts.Root, pattern: p, maxConns: opts.MaxOpenConns}, nil
}

var _ contract.ManifestStore = (*Store)(nil)

// Manifest: 基于预编译语句的点查；*sql.Stmt 可被多个 worker 并发使用。
type Manifest struct {
	db   *sql.DB
	get  *sql.Stmt
	size int
}

// Open 打开 split 的数据库；要求 idx 从 0 连续。
func (s *Store) Open(ctx context.Context, split string) (contract.Manifest, error) {
	p := dataset.OrderFile(s.root, fmt.Sprintf(s.pattern, split))
	// sqlite 会为不存在的路径创建空库，先行检查
	if _, err := os.Stat(p); err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrManifest, err)
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", contract.ErrManifest, p, err)
	}
	if s.maxConns > 0 {
		db.SetMaxOpenConns(s.maxConns)
	}
	var n, lo, hi sql.NullInt64
	row := db.QueryRowContext(ctx, `SELECT COUNT(*), MIN(idx), MAX(idx) FROM manifest`)
	if err := row.Scan(&n, &lo, &hi); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", contract.ErrManifest, p, err)
	}
	if n.Int64 > 0 && (lo.Int64 != 0 || hi.Int64 != n.Int64-1) {
		db.Close()
		return nil, fmt.Errorf("%w: %s: idx not contiguous from 0 (count=%d min=%d max=%d)",
			contract.ErrManifest, p, n.Int64, lo.Int64, hi.Int64)
	}
	stmt, err := db.PrepareContext(ctx, `SELECT path, label FROM manifest WHERE idx = ?`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: prepare: %v", contract.ErrManifest, err)
	}
	return &Manifest{db: db, get: stmt, size: int(n.Int64)}, nil
}

func (m *Manifest) Len() int { return m.size }

func (m *Manifest) Get(i int) (contract.Entry, error) {
	if i < 0 || i >= m.size {
		return contract.Entry{}, fmt.Errorf("%w: index %d out of [0,%d)", contract.ErrInvalidArgument, i, m.size)
	}
	var raw string
	var label int64
	if err := m.get.QueryRow(i).Scan(&raw, &label); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contract.Entry{}, fmt.Errorf("%w: index %d missing", contract.ErrManifest, i)
		}
		return contract.Entry{}, fmt.Errorf("%w: index %d: %v", contract.ErrManifest, i, err)
	}
	rel, err := contract.NormalizeRelPath(raw)
	if err != nil {
		return contract.Entry{}, fmt.Errorf("index %d %q: %w", i, raw, err)
	}
	return contract.Entry{Index: i, RelPath: rel, Label: label}, nil
}

func (m *Manifest) Close() error {
	_ = m.get.Close()
	return m.db.Close()
}

// Write 以默认文件名写出 split 的 SQLite 清单（覆盖已有文件）。
func Write(ctx context.Context, root, split string, entries []contract.Entry) error {
	if err := os.MkdirAll(dataset.OrderDir(root), 0o755); err != nil {
		return err
	}
	p := dataset.OrderFile(root, fmt.Sprintf(DefaultPattern, split))
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO manifest(idx, path, label) VALUES (?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, i, e.RelPath, e.Label); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %d: %w", i, err)
		}
	}
	return tx.Commit()
}
