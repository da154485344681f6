package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	cfgpkg "rollaudit/internal/config"
	"rollaudit/internal/diag"
	"rollaudit/internal/report"
	"rollaudit/internal/scan"
)

var (
	scanRun           = scan.Run
	stdout  io.Writer = os.Stdout
	stderr  io.Writer = os.Stderr
)

// 简化的 CLI：位置参数为输入根（目录或文件），覆盖配置中的 inputs。
// 配置优先级：CLI > ENV(.env) > 配置文件 > 默认值。
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := diag.NewCorrID()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")

	var (
		flagConfig      string
		flagOutput      string
		flagMinDOB      string
		flagDeadline    string
		flagElectionDay string
		flagState       string
		flagStrictness  string
		flagActive      string
		flagProgress    int
		flagLogLevel    string
		flagMetrics     string
		flagVotes       string
		flagInitDir     string
		flagStatus      bool
		flagFilterDay   optBool
		flagNameRule    optBool
		flagSkipHeader  optBool
		flagWriteActive optBool
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（.json/.yaml/.yml）；缺省读取 ./config.json 或 ./config.yaml（若存在）")
	flag.StringVar(&flagOutput, "output", "", "无效行文件输出目录（覆盖配置）")
	flag.StringVar(&flagMinDOB, "min-dob", "", "最早合理出生日期，YYYYMMDD 或 MM/DD/YYYY")
	flag.Var(&flagFilterDay, "filter-election-day", "按选举日过滤（登记截止日之后登记、选举日未满 18 岁）")
	flag.StringVar(&flagDeadline, "registration-deadline", "", "登记截止日，YYYYMMDD 或 MM/DD/YYYY")
	flag.StringVar(&flagElectionDay, "election-day", "", "选举日，YYYYMMDD 或 MM/DD/YYYY")
	flag.StringVar(&flagState, "state", "", "辖区两位邮政缩写（如 PA）")
	flag.StringVar(&flagStrictness, "strictness", "", "住址规则严格度：basic | strict")
	flag.Var(&flagNameRule, "name-rule", "启用姓名规则（--name-rule=false 关闭）")
	flag.StringVar(&flagActive, "active-status", "", "活跃选民状态码（默认 A）")
	flag.Var(&flagSkipHeader, "skip-header", "每个输入文件跳过首行表头")
	flag.IntVar(&flagProgress, "progress-every", 0, "每 N 行输出一次进度（覆盖配置）")
	flag.Var(&flagWriteActive, "write-active", "同时写出 *_active.csv")
	flag.StringVar(&flagLogLevel, "log-level", "", "日志级别 debug|info|warn|error")
	flag.StringVar(&flagMetrics, "metrics-textfile", "", "运行结束后写出 Prometheus textfile 的路径")
	flag.StringVar(&flagVotes, "votes-by-county", "", "按县计票文件（逗号分隔）；设置后写出 ratios.csv")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（不覆盖已存在文件）；不带值时默认当前目录")
	flag.BoolVar(&flagStatus, "status", true, "终端运行/文件状态行（stdout）；进度与空/重复 ID 告警不受影响")
	normalizeInitArg()
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return 3
	}
	roots := flag.Args()

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := os.MkdirAll(initDir, 0o755); err != nil {
			fprintf(stderr, "生成默认配置失败: %v\n", err)
			return 3
		}
		if err := writeConfig(filepath.Join(initDir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
			fprintf(stderr, "生成默认配置失败: %v\n", err)
			return 3
		}
		if err := writeDotEnv(filepath.Join(initDir, ".env")); err != nil {
			fprintf(stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		return 0
	}

	cfg, err := loadConfig(flagConfig)
	if err != nil {
		fprintf(stderr, "配置解析失败: %v\n", err)
		return 3
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(stderr, "环境变量解析失败: %v\n", err)
		return 3
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖
	var overCLI cfgpkg.Config
	overCLI.Inputs = roots
	overCLI.OutputDir = flagOutput
	for _, d := range []struct {
		flag, val string
		dst       *int
	}{
		{"min-dob", flagMinDOB, &overCLI.Rules.MinDOB},
		{"registration-deadline", flagDeadline, &overCLI.Rules.RegistrationDeadline},
		{"election-day", flagElectionDay, &overCLI.Rules.ElectionDay},
	} {
		if strings.TrimSpace(d.val) == "" {
			continue
		}
		if *d.dst, err = cfgpkg.ParseDate(d.val); err != nil {
			fprintf(stderr, "参数解析失败: --%s: %v\n", d.flag, err)
			return 3
		}
	}
	overCLI.Rules.FilterForElectionDay = flagFilterDay.v
	overCLI.Rules.State = flagState
	overCLI.Rules.AddressStrictness = flagStrictness
	overCLI.Rules.NameRule = flagNameRule.v
	overCLI.Scan.ActiveStatus = flagActive
	overCLI.Scan.SkipHeader = flagSkipHeader.v
	overCLI.Scan.ProgressEvery = flagProgress
	overCLI.Report.WriteActive = flagWriteActive.v
	overCLI.Report.MetricsTextfile = flagMetrics
	overCLI.Report.VotesByCounty = flagVotes
	overCLI.Logging.Level = flagLogLevel
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(stderr, "配置校验失败: %v\n", err)
		// 打印有效配置，便于诊断
		_ = dumpConfig(cfg)
		return 3
	}

	logger := diag.NewLogger(corrID, cfgpkg.LogOptions(cfg))
	defer logger.Close()

	if err := preflightCheckOutputDir(cfg); err != nil {
		fprintf(stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	rt, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	term := diag.NewTerminal(stdout, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	m := diag.NewMetrics()
	diag.SetMetrics(m)
	defer diag.SetMetrics(nil)

	rc := rt.Engine.Config()
	logger.Debug("config", "effective", "", map[string]string{
		"inputs_count":       strconv.Itoa(len(cfg.Inputs)),
		"output_dir":         cfg.OutputDir,
		"min_dob":            rc.MinDOB.String(),
		"filter_election":    strconv.FormatBool(rc.FilterForElectionDay),
		"state":              rc.State,
		"address_strictness": string(rc.AddressStrictness),
		"name_rule":          strconv.FormatBool(rc.NameRule),
		"active_status":      rt.Settings.ActiveStatus,
		"reader":             cfg.Components.Reader,
		"codec":              cfg.Components.Codec,
		"writer":             cfg.Components.Writer,
	})

	// Ctrl-C 仅用于取消；不做超时
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := logger.Start("report", "run")
	st, err := scanRun(ctx, rt.Scan, rt.Settings, logger)
	if err != nil {
		return fail(logger, "scan", err, start)
	}
	enabled := rt.Engine.Enabled()
	if err := report.Summary(stdout, st, enabled); err != nil {
		return fail(logger, "report", err, start)
	}
	if err := report.WriteInvalid(ctx, rt.Codec, rt.Writer, st, enabled, report.InvalidOptions{Active: rt.Report.WriteActive}, logger); err != nil {
		return fail(logger, "report", err, start)
	}
	if rt.Report.VotesByCounty != "" {
		if err := writeRatios(ctx, rt, st, logger); err != nil {
			return fail(logger, "report", err, start)
		}
	}
	report.RecordMetrics(m, st, enabled)
	t.Finish("run", st.Total)
	diag.IncOp("report", "run", "success")
	diag.ObserveDuration("report", "run", time.Since(start))
	if p := rt.Report.MetricsTextfile; p != "" {
		// 指标为旁路产物：写失败只告警，不影响退出码
		if err := m.WriteTextfile(p); err != nil {
			term.Warnf("metrics textfile %s: %v", p, err)
			logger.Warn("report", "metrics textfile failed", "", map[string]string{"path": p, "error": err.Error()})
		}
	}
	return 0
}

// fail 记录首个运行期错误并返回退出码 1。取消时不重复打印错误。
func fail(logger *diag.Logger, comp string, err error, start time.Time) int {
	code := diag.Classify(err)
	logger.Error(comp, string(code), "first error", &start)
	diag.IncOp(comp, "run", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, code)
	}
	if !errors.Is(err, context.Canceled) {
		fprintf(stderr, "运行失败: %v\n", err)
	}
	return 1
}

// writeRatios 读取按县计票并写出 ratios.csv；未扫描到的县只告警。
func writeRatios(ctx context.Context, rt cfgpkg.Runtime, st *scan.RunState, logger *diag.Logger) error {
	path := rt.Report.VotesByCounty
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	votes, err := report.ReadVotes(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	rows, missing := report.Ratios(votes, st, rt.Report.Votes)
	for _, c := range missing {
		diag.GetTerminal().Warnf("votes county %q has no scanned roll file", c)
		logger.Warn("report", "county missing", "", map[string]string{"county": c})
	}
	return report.WriteRatios(ctx, rt.Writer, rows)
}

// loadConfig: 默认值 + 配置文件（--config > ROLLAUDIT_CONFIG_FILE > ./config.{json,yaml,yml}）
// 或 ROLLAUDIT_CONFIG_JSON。
func loadConfig(path string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		for _, p := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	var (
		base cfgpkg.Config
		err  error
	)
	switch {
	case path != "":
		base, err = cfgpkg.LoadFile(path)
	case os.Getenv(cfgpkg.EnvPrefix+"CONFIG_JSON") != "":
		base, err = cfgpkg.Parse([]byte(os.Getenv(cfgpkg.EnvPrefix+"CONFIG_JSON")), "json")
	default:
		return cfg, nil
	}
	if err != nil {
		return cfgpkg.Config{}, err
	}
	return cfgpkg.Merge(cfg, base), nil
}

// optBool: 三态布尔旗标（未出现时为 nil，不覆盖下层配置）。
type optBool struct{ v *bool }

func (o *optBool) String() string {
	if o == nil || o.v == nil {
		return ""
	}
	return strconv.FormatBool(*o.v)
}

func (o *optBool) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	o.v = &b
	return nil
}

func (o *optBool) IsBoolFlag() bool { return true }

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = stderr.Write([]byte("\n"))
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	_, err = f.Write([]byte("\n"))
	return err
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；跳过空行与 # 注释行；支持可选的前缀 "export "。
// - 仅按首个 '=' 分割；成对的单/双引号会被去除，双引号内处理常见转义。
// - 不覆盖已存在的环境变量。
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
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 {
			if (val[0] == '\'' && val[len(val)-1] == '\'') || (val[0] == '"' && val[len(val)-1] == '"') {
				quoted := val[0]
				val = val[1 : len(val)-1]
				if quoted == '"' {
					val = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`).Replace(val)
				}
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// normalizeInitArg: 允许 --init-config 不带值（等价于 --init-config .）。
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	os.Args = out
}

// envTemplateKeys: .env 模板中列出的覆盖项（与 config.EnvOverlay 一致）。
var envTemplateKeys = [][]string{
	{"# 配置来源（二选一）", "CONFIG_FILE", "CONFIG_JSON"},
	{"# 输入与输出", "INPUTS", "OUTPUT_DIR"},
	{"# 辖区规则（日期为 YYYYMMDD 或 MM/DD/YYYY）", "MIN_DOB", "FILTER_FOR_ELECTION_DAY", "REGISTRATION_DEADLINE", "ELECTION_DAY", "STATE", "ADDRESS_STRICTNESS", "NAME_RULE"},
	{"# 扫描", "ACTIVE_STATUS", "SKIP_HEADER", "PROGRESS_EVERY"},
	{"# 报告", "WRITE_ACTIVE", "METRICS_TEXTFILE", "VOTES_BY_COUNTY"},
	{"# 日志", "LOG_LEVEL", "LOG_DIR", "LOG_MAX_BYTES", "LOG_KEEP"},
	{"# 组件选择与 Options（JSON）", "COMPONENTS_READER", "COMPONENTS_CODEC", "COMPONENTS_WRITER", "OPTIONS_READER_JSON", "OPTIONS_CODEC_JSON", "OPTIONS_WRITER_JSON"},
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# rollaudit .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n")
	for _, group := range envTemplateKeys {
		b.WriteString("\n" + group[0] + "\n")
		for _, k := range group[1:] {
			b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// preflightCheckOutputDir: Writer 为 fs 时，启动前检查输出目录可写性。
// 目录存在：尝试创建并删除临时文件；不存在：检查父目录可写。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	name := strings.TrimSpace(cfg.Components.Writer)
	if name == "" {
		name = cfgpkg.Defaults().Components.Writer
	}
	if name != "fs" {
		return nil
	}
	dir := strings.TrimSpace(cfg.OutputDir)
	if dir == "" && len(cfg.Options.Writer) > 0 {
		var wopts struct {
			OutputDir string `json:"output_dir"`
		}
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
		dir = strings.TrimSpace(wopts.OutputDir)
	}
	if dir == "" {
		return nil
	}
	if st, err := os.Stat(dir); err == nil {
		if !st.IsDir() {
			return fmt.Errorf("路径存在但不是目录: %s", dir)
		}
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	} else if !os.IsNotExist(err) {
		return err
	}
	// 逐级向上找到已存在的祖先目录（MkdirAll 会创建中间目录）
	parent := filepath.Dir(filepath.Clean(dir))
	for {
		st, err := os.Stat(parent)
		if err == nil {
			if !st.IsDir() {
				return fmt.Errorf("父路径不是目录: %s", parent)
			}
			break
		}
		if !os.IsNotExist(err) {
			return err
		}
		next := filepath.Dir(parent)
		if next == parent {
			return fmt.Errorf("无法确定父目录: %s", dir)
		}
		parent = next
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
