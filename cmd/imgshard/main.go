package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cfgpkg "imgshard/internal/config"
	"imgshard/internal/diag"
)

// 退出码：0 成功；1 运行失败；2 审计发现缺失（--fail-on-missing）；3 配置/装配错误。
const (
	exitOK      = 0
	exitRuntime = 1
	exitMissing = 2
	exitConfig  = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError 携带退出码；err 为 nil 时不再打印。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func fail(code int, format string, a ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, a...)}
}

func run(args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil && !errors.Is(ee.err, context.Canceled) {
			fmt.Fprintf(stderr, "%v\n", ee.err)
		}
		return ee.code
	}
	// cobra 的参数/旗标错误
	fmt.Fprintf(stderr, "%v\n", err)
	return exitConfig
}

// globalFlags: 所有子命令共享的持久旗标。
type globalFlags struct {
	config   string
	root     string
	dataset  string
	split    string
	logLevel string
	status   bool
}

func bindGlobalFlags(fs *pflag.FlagSet, g *globalFlags) {
	fs.StringVar(&g.config, "config", "", "配置文件路径（YAML）；缺省读取 ./"+cfgpkg.DefaultFile+"（若存在）")
	fs.StringVar(&g.root, "root", "", "数据集根目录（含 order_files/ 与 data/）")
	fs.StringVar(&g.dataset, "dataset", "", "数据集名称（用于默认报告名）")
	fs.StringVar(&g.split, "split", "", "清单划分名（train/test/...）")
	fs.StringVar(&g.logLevel, "log-level", "", "日志级别 debug|info|warn|error")
	fs.BoolVar(&g.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "imgshard",
		Short:         "将有序图像清单打包为 zip 分片、并行解包与完整性审计",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	bindGlobalFlags(root.PersistentFlags(), g)
	root.AddCommand(
		newPackCommand(g),
		newUnpackCommand(g),
		newAuditCommand(g),
		newIndexCommand(g),
		newInitConfigCommand(),
	)
	return root
}

// session: 一次子命令运行的日志器与终端。
type session struct {
	cfg    cfgpkg.Config
	logger *diag.Logger
	term   *diag.Terminal
	start  time.Time
}

// loadConfig 按 默认值 → YAML → ENV → CLI 合并并校验。
func loadConfig(g *globalFlags, over cfgpkg.Config) (cfgpkg.Config, error) {
	path := g.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat(cfgpkg.DefaultFile); err == nil {
			path = cfgpkg.DefaultFile
		}
	}
	var raw []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_YAML"); s != "" {
		raw = []byte(s)
	}

	cfg := cfgpkg.Defaults()
	if path != "" || len(raw) > 0 {
		base, err := cfgpkg.LoadYAML(path, raw)
		if err != nil {
			return cfg, fmt.Errorf("配置解析失败: %w", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, fmt.Errorf("环境变量解析失败: %w", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	over.Root = g.root
	over.Dataset = g.dataset
	over.Split = g.split
	over.Logging.Level = g.logLevel
	cfg = cfgpkg.Merge(cfg, over)

	if err := cfgpkg.Validate(cfg); err != nil {
		return cfg, fmt.Errorf("配置校验失败: %w", err)
	}
	return cfg, nil
}

// open 加载配置并建立日志器与终端；调用方负责 close。
func open(cmd *cobra.Command, g *globalFlags, over cfgpkg.Config) (*session, error) {
	cfg, err := loadConfig(g, over)
	if err != nil {
		return nil, &exitError{code: exitConfig, err: err}
	}
	s := &session{cfg: cfg, start: time.Now()}
	s.logger = diag.NewLogger(uuid.NewString(), cfg.Logging.Level)
	s.term = diag.NewTerminal(cmd.ErrOrStderr(), g.status)
	diag.SetTerminal(s.term)
	s.logger.DebugStart("config", "effective", "", "", map[string]string{
		"root":        cfg.Root,
		"split":       cfg.Split,
		"num_items":   fmt.Sprintf("%d", cfg.NumItems),
		"num_chunks":  fmt.Sprintf("%d", cfg.NumChunks),
		"target_dir":  cfgpkg.EffectiveTargetDir(cfg),
		"buffering":   cfg.Buffering,
		"compression": cfg.Compression,
		"layout":      cfg.Layout,
		"manifest":    cfg.Components.Manifest,
		"archiver":    cfg.Components.Archiver,
	})
	return s, nil
}

func (s *session) close() {
	diag.SetTerminal(nil)
	s.logger.DebugStart("metrics", "snapshot", "", "", diag.MetricsKV())
	_ = s.logger.Sync()
}

// runtimeErr 记录首错并转为运行期退出码。
func (s *session) runtimeErr(comp string, err error) error {
	code := diag.Classify(err)
	s.logger.Error(comp, string(code), "first error", &s.start)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	return &exitError{code: exitRuntime, err: fmt.Errorf("运行失败: %w", err)}
}

func (s *session) configErr(err error) error {
	s.logger.Error("config", string(diag.Classify(err)), "assemble failed", &s.start)
	return &exitError{code: exitConfig, err: fmt.Errorf("装配失败: %w", err)}
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；无法读取时返回错误（但调用处可忽略）。
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export ".
// - 仅按首个 '=' 分割；若 value 被成对的单/双引号包裹，则去除外层引号。
// - 不覆盖已存在的环境变量（保持系统/调用者优先）。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if !ok || key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '\'' || val[0] == '"') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}
