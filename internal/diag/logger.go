package diag

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 为结构化日志器：JSON 单行写入轮转文件（失败回退 stderr）。
// 事件模型：comp + stage(start|finish|error)，可选 code/dur_ms/count/shard/item/kv。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// NewLogger 通过配置的 level 初始化，并将日志写入默认目录 logs，10MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile("logs", 10*1024*1024)
	l := NewLoggerTo(corrID, level, &fallbackSyncer{primary: sink, backup: os.Stderr})
	l.sink = sink
	return l
}

// NewLoggerTo 将日志写入任意 io.Writer（测试与嵌入场景）。
func NewLoggerTo(corrID, level string, w io.Writer) *Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), parseLevel(level))
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID))}
}

// Nop 返回丢弃一切输出的日志器。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func parseLevel(s string) zapcore.Level {
	lv, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lv
}

// Sync 刷新并关闭底层文件。
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	err := l.z.Sync()
	if l.sink != nil {
		if cerr := l.sink.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Zap 暴露底层 zap.Logger（供需要原生字段的调用方）。
func (l *Logger) Zap() *zap.Logger { return l.z }

func fields(comp, stage, shard, item string, kv map[string]string, extra ...zap.Field) []zap.Field {
	fs := make([]zap.Field, 0, 6+len(extra))
	fs = append(fs, zap.String("comp", comp), zap.String("stage", stage))
	if shard != "" {
		fs = append(fs, zap.String("shard", shard))
	}
	if item != "" {
		fs = append(fs, zap.String("item", item))
	}
	if len(kv) > 0 {
		fs = append(fs, zap.Any("kv", kv))
	}
	return append(fs, extra...)
}

func durField(since *time.Time) []zap.Field {
	if since == nil {
		return nil
	}
	return []zap.Field{zap.Int64("dur_ms", time.Since(*since).Milliseconds())}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", "", nil)
}

// StartWith 记录带 shard/item 的 start。
func (l *Logger) StartWith(comp, msg, shard, item string) *Timer {
	return l.StartWithKV(comp, msg, shard, item, nil)
}

// StartWithKV 记录带 shard/item 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, shard, item string, kv map[string]string) *Timer {
	l.z.Info(msg, fields(comp, "start", shard, item, kv)...)
	return &Timer{l: l, comp: comp, shard: shard, item: item, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 shard/item。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, shard, item string) {
	l.ErrorWithKV(comp, code, msg, durSince, shard, item, nil)
}

// ErrorWithKV 支持附带键值对（例如底层错误文本、源路径）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, shard, item string, kv map[string]string) {
	extra := append([]zap.Field{zap.String("code", code)}, durField(durSince)...)
	l.z.Error(msg, fields(comp, "error", shard, item, kv, extra...)...)
}

// Warn 记录非致命提示（例如参数被收敛）。
func (l *Logger) Warn(comp, msg string, kv map[string]string) {
	l.z.Warn(msg, fields(comp, "warn", "", "", kv)...)
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.z.Info(msg, fields(comp, "finish", "", "", nil,
		zap.Int64("dur_ms", time.Since(start).Milliseconds()), zap.Int64("count", count))...)
}

// DebugStart 输出调试级别的“start”类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, shard, item string, kv map[string]string) {
	l.z.Debug(msg, fields(comp, "start", shard, item, kv)...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l     *Logger
	comp  string
	shard string
	item  string
	t0    time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.z.Info(msg, fields(t.comp, "finish", t.shard, t.item, nil,
		zap.Int64("dur_ms", time.Since(t.t0).Milliseconds()), zap.Int64("count", count))...)
}

// Since 返回计时起点（供 Error 计算耗时）。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}
