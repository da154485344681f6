package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollaudit/internal/canon"
	"rollaudit/internal/fields"
	"rollaudit/internal/rules"
	"rollaudit/pkg/contract"
)

// 解析完整 config.json
func TestLoadFileJSON(t *testing.T) {
	cfg, err := LoadFile("../../testdata/config/basic.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"../data/pa-statewide"}, cfg.Inputs)
	assert.Equal(t, 19070202, cfg.Rules.MinDOB)
	assert.Equal(t, "PA", cfg.Rules.State)
	assert.Equal(t, "tsv", cfg.Components.Codec)
	assert.JSONEq(t, `{"name_contains":" FVE "}`, string(cfg.Options.Reader))
	require.NoError(t, Validate(Merge(Defaults(), cfg)))
}

// YAML 经同一 Schema 与严格解码
func TestLoadFileYAML(t *testing.T) {
	cfg, err := LoadFile("../../testdata/config/basic.yaml")
	require.NoError(t, err)
	assert.True(t, BoolValue(cfg.Rules.FilterForElectionDay, false))
	assert.False(t, BoolValue(cfg.Rules.NameRule, true))
	assert.True(t, BoolValue(cfg.Scan.SkipHeader, false))
	assert.True(t, BoolValue(cfg.Report.WriteActive, false))
	assert.JSONEq(t, `{"line_terminator":"\n"}`, string(cfg.Options.Codec))

	rc := RulesConfig(Merge(Defaults(), cfg))
	assert.Equal(t, rules.StrictnessBasic, rc.AddressStrictness)
	assert.Equal(t, canon.Date(20201103), rc.ElectionDay)
	require.NoError(t, rc.Validate())
}

func TestParseRejects(t *testing.T) {
	cases := map[string]struct {
		raw    string
		format string
	}{
		"unknown top-level":   {`{"unknown":1}`, "json"},
		"unknown nested":      {`{"rules":{"min_age":18}}`, "json"},
		"bad strictness":      {`{"rules":{"address_strictness":"loose"}}`, "json"},
		"bad state":           {`{"rules":{"state":"Penn"}}`, "json"},
		"date out of range":   {`{"rules":{"min_dob":1907}}`, "json"},
		"negative column":     {`{"scan":{"layout":{"zip":-1}}}`, "json"},
		"partial layout":      {`{"scan":{"layout":{"zip":20}}}`, "json"},
		"yaml partial layout": {"scan:\n  layout:\n    zip: 20\n", "yaml"},
		"bad level":           {`{"logging":{"level":"trace"}}`, "json"},
		"not json":            {`{`, "json"},
		"yaml unknown field":  {"scan:\n  active: A\n", "yaml"},
		"yaml syntax":         {"rules: [", "yaml"},
	}
	for name, c := range cases {
		_, err := Parse([]byte(c.raw), c.format)
		assert.ErrorIs(t, err, contract.ErrConfig, name)
	}
}

func TestParseEmptyYAML(t *testing.T) {
	cfg, err := Parse([]byte(""), "yaml")
	require.NoError(t, err)
	assert.Empty(t, cfg.Inputs)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"ROLLAUDIT_INPUTS=a, b",
		"ROLLAUDIT_OUTPUT_DIR=/tmp/out",
		"ROLLAUDIT_MIN_DOB=02/02/1907",
		"ROLLAUDIT_ELECTION_DAY=20201103",
		"ROLLAUDIT_FILTER_FOR_ELECTION_DAY=true",
		"ROLLAUDIT_NAME_RULE=false",
		"ROLLAUDIT_PROGRESS_EVERY=500",
		"ROLLAUDIT_OPTIONS_READER_JSON={\"recursive\":true}",
		"ROLLAUDIT_LOG_MAX_BYTES=2048",
		"ROLLAUDIT_LOG_KEEP=3",
		"ROLLAUDIT_UNKNOWN=1",
		"OTHER_STATE=NJ",
	}
	over, err := EnvOverlay(env)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, over.Inputs)
	assert.Equal(t, "/tmp/out", over.OutputDir)
	assert.Equal(t, 19070202, over.Rules.MinDOB)
	assert.Equal(t, 20201103, over.Rules.ElectionDay)
	assert.True(t, *over.Rules.FilterForElectionDay)
	assert.False(t, *over.Rules.NameRule)
	assert.Equal(t, 500, over.Scan.ProgressEvery)
	assert.Equal(t, "", over.Rules.State)
	assert.JSONEq(t, `{"recursive":true}`, string(over.Options.Reader))
	assert.Equal(t, int64(2048), over.Logging.MaxBytes)
	assert.Equal(t, 3, over.Logging.Keep)

	opts := LogOptions(Merge(Defaults(), over))
	assert.Equal(t, "logs", opts.Dir)
	assert.Equal(t, int64(2048), opts.MaxBytes)
	assert.Equal(t, 3, opts.Keep)
}

func TestEnvOverlayErrors(t *testing.T) {
	for _, kv := range []string{
		"ROLLAUDIT_MIN_DOB=13/2020",
		"ROLLAUDIT_MIN_DOB=1907",
		"ROLLAUDIT_SKIP_HEADER=maybe",
		"ROLLAUDIT_PROGRESS_EVERY=lots",
		"ROLLAUDIT_LOG_KEEP=few",
		"ROLLAUDIT_LOG_MAX_BYTES=1MiB",
		"ROLLAUDIT_OPTIONS_CODEC_JSON={",
	} {
		_, err := EnvOverlay([]string{kv})
		assert.ErrorIs(t, err, contract.ErrConfig, kv)
	}
}

// 显式 false 可覆盖默认 true；空值与 nil 不覆盖
func TestMerge(t *testing.T) {
	base := Defaults()
	base.Rules.State = "PA"
	over := Config{
		Rules: Rules{NameRule: boolPtr(false), State: "  "},
		Scan:  Scan{ProgressEvery: 10},
	}
	out := Merge(base, over)
	assert.False(t, BoolValue(out.Rules.NameRule, true))
	assert.Equal(t, "PA", out.Rules.State)
	assert.Equal(t, 10, out.Scan.ProgressEvery)
	assert.Equal(t, "A", out.Scan.ActiveStatus)
	// 覆盖值不与 over 共享指针
	*over.Rules.NameRule = true
	assert.False(t, *out.Rules.NameRule)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("10/19/2020")
	require.NoError(t, err)
	assert.Equal(t, 20201019, d)
	d, err = ParseDate(" 20201103 ")
	require.NoError(t, err)
	assert.Equal(t, 20201103, d)
	_, err = ParseDate("2020-11-03")
	assert.Error(t, err)

	// 斜杠写法同样校验范围：1/1/1907 规范化为 190711，不是合法日期
	for _, s := range []string{"1/1/1907", "01/01/907", "1/01/2020"} {
		_, err = ParseDate(s)
		assert.Error(t, err, s)
	}
	d, err = ParseDate("02/02/1907")
	require.NoError(t, err)
	assert.Equal(t, 19070202, d)
}

// 只给出部分列的布局不能悄悄把其余列读成第 0 列
func TestPartialLayoutRejected(t *testing.T) {
	cfg := valid()
	cfg.Scan.Layout = &fields.Layout{Zip: 20}
	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrConfig)

	full := fields.PennsylvaniaLayout()
	full.Zip = 20
	cfg.Scan.Layout = &full
	require.NoError(t, Validate(cfg))
}

func valid() Config {
	cfg := Defaults()
	cfg.Inputs = []string{"rolls"}
	cfg.OutputDir = "out"
	cfg.Rules.MinDOB = 19070202
	cfg.Rules.State = "PA"
	return cfg
}

// 缺失配置在启动期失败，且不替辖区值假设默认
func TestValidateErrors(t *testing.T) {
	require.NoError(t, Validate(valid()))

	mutate := map[string]func(*Config){
		"no inputs":        func(c *Config) { c.Inputs = nil },
		"blank input":      func(c *Config) { c.Inputs = []string{" "} },
		"no output":        func(c *Config) { c.OutputDir = "" },
		"no min dob":       func(c *Config) { c.Rules.MinDOB = 0 },
		"no state":         func(c *Config) { c.Rules.State = "" },
		"election no date": func(c *Config) { c.Rules.FilterForElectionDay = boolPtr(true) },
		"bad strictness":   func(c *Config) { c.Rules.AddressStrictness = "loose" },
		"empty status":     func(c *Config) { c.Scan.ActiveStatus = "" },
		"bad level":        func(c *Config) { c.Logging.Level = "loud" },
		"negative keep":    func(c *Config) { c.Logging.Keep = -1 },
		"negative max":     func(c *Config) { c.Logging.MaxBytes = -1 },
		"unknown reader":   func(c *Config) { c.Components.Reader = "s3" },
		"unknown codec":    func(c *Config) { c.Components.Codec = "parquet" },
		"unknown writer":   func(c *Config) { c.Components.Writer = "s3" },
	}
	for name, m := range mutate {
		cfg := valid()
		m(&cfg)
		assert.ErrorIs(t, Validate(cfg), contract.ErrConfig, name)
	}

	// output_dir 可由 writer options 提供
	cfg := valid()
	cfg.OutputDir = ""
	cfg.Options.Writer = json.RawMessage(`{"output_dir":"out"}`)
	assert.NoError(t, Validate(cfg))
}

func TestAssemble(t *testing.T) {
	cfg := valid()
	cfg.OutputDir = t.TempDir()
	cfg.Report.WriteActive = boolPtr(true)
	cfg.Options.Writer = json.RawMessage(`{"output_dir":"ignored","atomic":false}`)
	rt, err := Assemble(cfg)
	require.NoError(t, err)
	assert.NotNil(t, rt.Scan.Reader)
	assert.NotNil(t, rt.Scan.Decoder)
	assert.Same(t, rt.Engine, rt.Scan.Engine)
	assert.Equal(t, []string{"rolls"}, rt.Settings.Inputs)
	assert.Equal(t, 19, rt.Settings.Layout.Zip)
	assert.Equal(t, "A", rt.Settings.ActiveStatus)
	assert.True(t, rt.Report.WriteActive)
	assert.Len(t, rt.Engine.Enabled(), 4)

	raw, err := withOutputDir(cfg.Options.Writer, cfg.OutputDir)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, cfg.OutputDir, m["output_dir"])
	assert.Equal(t, false, m["atomic"])
}

func TestAssembleBadOptions(t *testing.T) {
	cfg := valid()
	cfg.Options.Codec = json.RawMessage(`{"quote_all":true}`)
	_, err := Assemble(cfg)
	assert.ErrorIs(t, err, contract.ErrConfig)

	cfg = valid()
	cfg.Options.Writer = json.RawMessage(`[1]`)
	_, err = Assemble(cfg)
	assert.ErrorIs(t, err, contract.ErrConfig)
}

// 模板可通过 Schema、严格解码与校验
func TestTemplateRoundTrip(t *testing.T) {
	b, err := json.MarshalIndent(DefaultTemplateConfig(), "", "  ")
	require.NoError(t, err)
	cfg, err := Parse(b, "json")
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, " FVE ", func() string {
		var o struct {
			NameContains string `json:"name_contains"`
		}
		_ = json.Unmarshal(cfg.Options.Reader, &o)
		return o.NameContains
	}())
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitComma("a, b , ,c"))
	src := json.RawMessage("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	assert.Equal(t, "abc", string(dst))
	assert.Nil(t, cloneStrings(nil))
	assert.Equal(t, "def", effName("", "def"))
}
