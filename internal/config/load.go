package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"rollaudit/internal/canon"
	"rollaudit/internal/rules"
	"rollaudit/internal/scan"
	"rollaudit/pkg/contract"
)

//go:embed schema.json
var schemaJSON []byte

// EnvPrefix 为环境变量覆盖的前缀。
const EnvPrefix = "ROLLAUDIT_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 辖区相关值（min_dob、state、选举日期）不设默认，必须显式提供。
func Defaults() Config {
	return Config{
		Rules: Rules{
			FilterForElectionDay: boolPtr(false),
			AddressStrictness:    string(rules.StrictnessStrict),
			NameRule:             boolPtr(true),
		},
		Scan: Scan{
			ActiveStatus:  scan.DefaultActiveStatus,
			SkipHeader:    boolPtr(false),
			ProgressEvery: scan.DefaultProgressEvery,
		},
		Report:     Report{WriteActive: boolPtr(false)},
		Logging:    Logging{Level: "info", Dir: "logs", MaxBytes: 10 << 20, Keep: 20},
		Components: Components{Reader: "fs", Codec: "tsv", Writer: "fs"},
	}
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("schema.json")
	})
	return schema, schemaErr
}

// LoadFile 读取配置文件；扩展名 .yaml/.yml 按 YAML 解析，其余按 JSON。
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	cfg, err := Parse(raw, format)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse 解析原始配置：YAML 先转为 JSON，经 JSON Schema 校验后严格解码（拒绝未知字段）。
func Parse(raw []byte, format string) (Config, error) {
	var cfg Config
	if format == "yaml" {
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return cfg, fmt.Errorf("%w: yaml: %v", contract.ErrConfig, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
		js, err := json.Marshal(doc)
		if err != nil {
			return cfg, fmt.Errorf("%w: yaml: %v", contract.ErrConfig, err)
		}
		raw = js
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cfg, fmt.Errorf("%w: json: %v", contract.ErrConfig, err)
	}
	sch, err := compiledSchema()
	if err != nil {
		return cfg, fmt.Errorf("compile config schema: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return cfg, fmt.Errorf("%w: %v", contract.ErrConfig, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", contract.ErrConfig, err)
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 标量/字符串/原样 JSON 为替换；空值与 nil 不覆盖；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	setStr(&out.OutputDir, over.OutputDir)

	// rules
	setInt(&out.Rules.MinDOB, over.Rules.MinDOB)
	setBool(&out.Rules.FilterForElectionDay, over.Rules.FilterForElectionDay)
	setInt(&out.Rules.RegistrationDeadline, over.Rules.RegistrationDeadline)
	setInt(&out.Rules.ElectionDay, over.Rules.ElectionDay)
	setStr(&out.Rules.State, over.Rules.State)
	setStr(&out.Rules.AddressStrictness, over.Rules.AddressStrictness)
	setBool(&out.Rules.NameRule, over.Rules.NameRule)

	// scan
	setStr(&out.Scan.ActiveStatus, over.Scan.ActiveStatus)
	setBool(&out.Scan.SkipHeader, over.Scan.SkipHeader)
	setInt(&out.Scan.ProgressEvery, over.Scan.ProgressEvery)
	if over.Scan.Layout != nil {
		l := *over.Scan.Layout
		out.Scan.Layout = &l
	}

	// report
	setBool(&out.Report.WriteActive, over.Report.WriteActive)
	setStr(&out.Report.MetricsTextfile, over.Report.MetricsTextfile)
	setStr(&out.Report.VotesByCounty, over.Report.VotesByCounty)
	setStr(&out.Report.Votes.DemPrefix, over.Report.Votes.DemPrefix)
	setStr(&out.Report.Votes.RepPrefix, over.Report.Votes.RepPrefix)
	setStr(&out.Report.Votes.DemParty, over.Report.Votes.DemParty)
	setStr(&out.Report.Votes.RepParty, over.Report.Votes.RepParty)

	setStr(&out.Logging.Level, over.Logging.Level)
	setStr(&out.Logging.Dir, over.Logging.Dir)
	if over.Logging.MaxBytes != 0 {
		out.Logging.MaxBytes = over.Logging.MaxBytes
	}
	setInt(&out.Logging.Keep, over.Logging.Keep)

	// 组件名（空不覆盖）
	setStr(&out.Components.Reader, over.Components.Reader)
	setStr(&out.Components.Codec, over.Components.Codec)
	setStr(&out.Components.Writer, over.Components.Writer)

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Codec) > 0 {
		out.Options.Codec = cloneRaw(over.Options.Codec)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	return out
}

func setStr(dst *string, v string) {
	if t := strings.TrimSpace(v); t != "" {
		*dst = t
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst **bool, v *bool) {
	if v != nil {
		b := *v
		*dst = &b
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（前缀 ROLLAUDIT_，仅解析下列键）。
// 值非法时返回 ErrConfig；未知键忽略。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key, val := kv[len(EnvPrefix):eq], kv[eq+1:]
		if err := applyEnv(&over, key, val); err != nil {
			return Config{}, fmt.Errorf("%w: %s%s: %v", contract.ErrConfig, EnvPrefix, key, err)
		}
	}
	return over, nil
}

func applyEnv(over *Config, key, val string) error {
	var err error
	switch key {
	case "INPUTS":
		over.Inputs = splitComma(val)
	case "OUTPUT_DIR":
		over.OutputDir = strings.TrimSpace(val)
	case "MIN_DOB":
		over.Rules.MinDOB, err = ParseDate(val)
	case "FILTER_FOR_ELECTION_DAY":
		over.Rules.FilterForElectionDay, err = parseBool(val)
	case "REGISTRATION_DEADLINE":
		over.Rules.RegistrationDeadline, err = ParseDate(val)
	case "ELECTION_DAY":
		over.Rules.ElectionDay, err = ParseDate(val)
	case "STATE":
		over.Rules.State = strings.TrimSpace(val)
	case "ADDRESS_STRICTNESS":
		over.Rules.AddressStrictness = strings.TrimSpace(val)
	case "NAME_RULE":
		over.Rules.NameRule, err = parseBool(val)
	case "ACTIVE_STATUS":
		over.Scan.ActiveStatus = strings.TrimSpace(val)
	case "SKIP_HEADER":
		over.Scan.SkipHeader, err = parseBool(val)
	case "PROGRESS_EVERY":
		over.Scan.ProgressEvery, err = atoi(val)
	case "WRITE_ACTIVE":
		over.Report.WriteActive, err = parseBool(val)
	case "METRICS_TEXTFILE":
		over.Report.MetricsTextfile = strings.TrimSpace(val)
	case "VOTES_BY_COUNTY":
		over.Report.VotesByCounty = strings.TrimSpace(val)
	case "LOG_LEVEL":
		over.Logging.Level = strings.TrimSpace(val)
	case "LOG_DIR":
		over.Logging.Dir = strings.TrimSpace(val)
	case "LOG_MAX_BYTES":
		over.Logging.MaxBytes, err = strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	case "LOG_KEEP":
		over.Logging.Keep, err = atoi(val)
	case "COMPONENTS_READER":
		over.Components.Reader = strings.TrimSpace(val)
	case "COMPONENTS_CODEC":
		over.Components.Codec = strings.TrimSpace(val)
	case "COMPONENTS_WRITER":
		over.Components.Writer = strings.TrimSpace(val)
	case "OPTIONS_READER_JSON":
		over.Options.Reader, err = rawJSON(val)
	case "OPTIONS_CODEC_JSON":
		over.Options.Codec, err = rawJSON(val)
	case "OPTIONS_WRITER_JSON":
		over.Options.Writer, err = rawJSON(val)
	}
	return err
}

// ParseDate 接受 YYYYMMDD 或 MM/DD/YYYY（与名册中的日期写法一致）。
func ParseDate(s string) (int, error) {
	s = strings.TrimSpace(s)
	var (
		n   int
		err error
	)
	if strings.Contains(s, "/") {
		// 规范化只拼接数字：未补零的月/日（1/1/1907）会得到不足 8 位的值，由下方范围检查拒绝
		d, ok := canon.Normalize(s)
		if !ok {
			return 0, fmt.Errorf("malformed date %q", s)
		}
		n = int(d)
	} else {
		n, err = atoi(s)
	}
	if err != nil || n < 10000101 || n > 99991231 {
		return 0, fmt.Errorf("malformed date %q (want YYYYMMDD or MM/DD/YYYY)", s)
	}
	return n, nil
}

func parseBool(s string) (*bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// rawJSON: 空值视为未设置，避免清空现有配置。
func rawJSON(s string) (json.RawMessage, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("invalid JSON")
	}
	return json.RawMessage(s), nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
