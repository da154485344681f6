package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"rollaudit/internal/canon"
	"rollaudit/internal/diag"
	"rollaudit/internal/fields"
	"rollaudit/internal/report"
	"rollaudit/internal/rules"
	"rollaudit/internal/scan"
	"rollaudit/pkg/contract"
	"rollaudit/pkg/registry"
)

// Runtime: 由 Config 装配出的运行期对象。
type Runtime struct {
	Scan     scan.Components
	Settings scan.Settings
	Codec    contract.RowCodec
	Writer   contract.Writer
	Engine   *rules.Engine
	Report   ReportSettings
}

// ReportSettings: 报告阶段参数。
type ReportSettings struct {
	WriteActive     bool
	MetricsTextfile string
	VotesByCounty   string
	Votes           report.VotesOptions
}

// RulesConfig 将配置转换为规则引擎参数（不做校验）。
func RulesConfig(cfg Config) rules.Config {
	return rules.Config{
		MinDOB:               canon.Date(cfg.Rules.MinDOB),
		FilterForElectionDay: BoolValue(cfg.Rules.FilterForElectionDay, false),
		RegistrationDeadline: canon.Date(cfg.Rules.RegistrationDeadline),
		ElectionDay:          canon.Date(cfg.Rules.ElectionDay),
		State:                strings.TrimSpace(cfg.Rules.State),
		AddressStrictness:    rules.Strictness(strings.ToLower(strings.TrimSpace(cfg.Rules.AddressStrictness))),
		NameRule:             BoolValue(cfg.Rules.NameRule, true),
	}
}

// Layout 返回有效列布局（未配置时为宾州布局）。
func Layout(cfg Config) fields.Layout {
	if cfg.Scan.Layout != nil {
		return *cfg.Scan.Layout
	}
	return fields.PennsylvaniaLayout()
}

// LogOptions 返回日志器参数。
func LogOptions(cfg Config) diag.LogOptions {
	return diag.LogOptions{
		Dir:      cfg.Logging.Dir,
		Level:    cfg.Logging.Level,
		MaxBytes: cfg.Logging.MaxBytes,
		Keep:     cfg.Logging.Keep,
	}
}

// Validate 对最小必要边界做静态校验；所有错误包裹 ErrConfig。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return fmt.Errorf("%w: inputs empty", contract.ErrConfig)
	}
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("%w: input path cannot be empty", contract.ErrConfig)
		}
	}
	if strings.TrimSpace(cfg.OutputDir) == "" && !hasOutputDir(cfg.Options.Writer) {
		return fmt.Errorf("%w: output_dir not set", contract.ErrConfig)
	}
	if err := RulesConfig(cfg).Validate(); err != nil {
		return err
	}
	if err := Layout(cfg).Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Scan.ActiveStatus) == "" {
		return fmt.Errorf("%w: scan.active_status empty", contract.ErrConfig)
	}
	if cfg.Scan.ProgressEvery < 0 {
		return fmt.Errorf("%w: scan.progress_every must be > 0", contract.ErrConfig)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level %q", contract.ErrConfig, cfg.Logging.Level)
	}
	if cfg.Logging.MaxBytes < 0 || cfg.Logging.Keep < 0 {
		return fmt.Errorf("%w: logging.max_bytes and logging.keep must be >= 0", contract.ErrConfig)
	}
	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("%w: reader %q not registered", contract.ErrConfig, name)
	}
	if name := effName(cfg.Components.Codec, d.Codec); registry.RowCodec[name] == nil {
		return fmt.Errorf("%w: codec %q not registered", contract.ErrConfig, name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("%w: writer %q not registered", contract.ErrConfig, name)
	}
	return nil
}

// Assemble 校验并构造运行期对象。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (Runtime, error) {
	if err := Validate(cfg); err != nil {
		return Runtime{}, err
	}
	d := Defaults().Components

	r, err := registry.Reader[effName(cfg.Components.Reader, d.Reader)](cfg.Options.Reader)
	if err != nil {
		return Runtime{}, fmt.Errorf("%w: options.reader: %v", contract.ErrConfig, err)
	}
	codec, err := registry.RowCodec[effName(cfg.Components.Codec, d.Codec)](cfg.Options.Codec)
	if err != nil {
		return Runtime{}, fmt.Errorf("%w: options.codec: %v", contract.ErrConfig, err)
	}
	wraw, err := withOutputDir(cfg.Options.Writer, cfg.OutputDir)
	if err != nil {
		return Runtime{}, err
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Writer)](wraw)
	if err != nil {
		return Runtime{}, fmt.Errorf("%w: options.writer: %v", contract.ErrConfig, err)
	}
	eng, err := rules.NewEngine(RulesConfig(cfg))
	if err != nil {
		return Runtime{}, err
	}

	return Runtime{
		Scan: scan.Components{Reader: r, Decoder: codec, Engine: eng},
		Settings: scan.Settings{
			Inputs:        cloneStrings(cfg.Inputs),
			Layout:        Layout(cfg),
			ActiveStatus:  strings.TrimSpace(cfg.Scan.ActiveStatus),
			SkipHeader:    BoolValue(cfg.Scan.SkipHeader, false),
			ProgressEvery: cfg.Scan.ProgressEvery,
		},
		Codec:  codec,
		Writer: w,
		Engine: eng,
		Report: ReportSettings{
			WriteActive:     BoolValue(cfg.Report.WriteActive, false),
			MetricsTextfile: cfg.Report.MetricsTextfile,
			VotesByCounty:   cfg.Report.VotesByCounty,
			Votes:           cfg.Report.Votes,
		},
	}, nil
}

func hasOutputDir(raw json.RawMessage) bool {
	var m struct {
		OutputDir string `json:"output_dir"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return false
	}
	return strings.TrimSpace(m.OutputDir) != ""
}

// withOutputDir: 顶层 output_dir 覆盖 options.writer.output_dir。
func withOutputDir(raw json.RawMessage, dir string) (json.RawMessage, error) {
	if strings.TrimSpace(dir) == "" {
		return raw, nil
	}
	m := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: options.writer: %v", contract.ErrConfig, err)
		}
	}
	v, _ := json.Marshal(strings.TrimSpace(dir))
	m["output_dir"] = v
	return json.Marshal(m)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
