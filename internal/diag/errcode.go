package diag

import (
	"context"
	"errors"
	"io/fs"
	"strconv"
	"time"

	"imgshard/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown  Code = "unknown"
	CodeInvalid  Code = "invalid"
	CodeNotFound Code = "not_found"
	CodeCorrupt  Code = "corrupt"
	CodeIO       Code = "io"
	CodeManifest Code = "manifest"
	CodeCancel   Code = "cancel"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrInvalidArgument) || errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvalid
	}
	if errors.Is(err, contract.ErrSourceNotFound) {
		return CodeNotFound
	}
	if errors.Is(err, contract.ErrCorruptArchive) {
		return CodeCorrupt
	}
	if errors.Is(err, contract.ErrManifest) {
		return CodeManifest
	}
	if errors.Is(err, fs.ErrNotExist) {
		return CodeNotFound
	}
	var perr *fs.PathError
	if errors.Is(err, contract.ErrIO) || errors.As(err, &perr) {
		return CodeIO
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
