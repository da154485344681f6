package config

import (
	"encoding/json"

	"rollaudit/internal/fields"
	"rollaudit/internal/report"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键使用 snake_case（YAML 先转为 JSON 再解码）；未知字段在解析期失败。
// 布尔项使用指针，以便各层显式覆盖为 false。
type Config struct {
	Inputs    []string `json:"inputs,omitempty"`
	OutputDir string   `json:"output_dir,omitempty"`

	Rules   Rules   `json:"rules"`
	Scan    Scan    `json:"scan"`
	Report  Report  `json:"report"`
	Logging Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Rules: 辖区相关的规则参数。日期为 YYYYMMDD 整数；0 表示未设置。
type Rules struct {
	MinDOB               int    `json:"min_dob,omitempty"`
	FilterForElectionDay *bool  `json:"filter_for_election_day,omitempty"`
	RegistrationDeadline int    `json:"registration_deadline,omitempty"`
	ElectionDay          int    `json:"election_day,omitempty"`
	State                string `json:"state,omitempty"`
	AddressStrictness    string `json:"address_strictness,omitempty"`
	NameRule             *bool  `json:"name_rule,omitempty"`
}

// Scan: 扫描期参数。Layout 为空时使用宾州布局。
type Scan struct {
	ActiveStatus  string         `json:"active_status,omitempty"`
	SkipHeader    *bool          `json:"skip_header,omitempty"`
	ProgressEvery int            `json:"progress_every,omitempty"`
	Layout        *fields.Layout `json:"layout,omitempty"`
}

// Report: 输出选项。
type Report struct {
	WriteActive     *bool               `json:"write_active,omitempty"`
	MetricsTextfile string              `json:"metrics_textfile,omitempty"`
	VotesByCounty   string              `json:"votes_by_county,omitempty"`
	Votes           report.VotesOptions `json:"votes"`
}

// Logging: 日志等级、目录与轮转参数（max_bytes 单文件上限，keep 历史文件个数，0 不限）。
type Logging struct {
	Level    string `json:"level,omitempty"`
	Dir      string `json:"dir,omitempty"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
	Keep     int    `json:"keep,omitempty"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader string `json:"reader,omitempty"`
	Codec  string `json:"codec,omitempty"`
	Writer string `json:"writer,omitempty"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader json.RawMessage `json:"reader,omitempty"`
	Codec  json.RawMessage `json:"codec,omitempty"`
	Writer json.RawMessage `json:"writer,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// BoolValue 返回 p 的值；nil 时返回 def。
func BoolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
