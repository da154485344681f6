package contract

// FileID: 逻辑文件ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Row: 一行选民记录的原始定位字段（按列序）。
// 约束：解码后只读；无效清单按原样保留，输出时列布局与输入一致。
type Row []string

// Field 返回第 i 列；越界返回空串（短行不 panic）。
func (r Row) Field(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// RuleName: 校验规则名，同时决定输出文件名 invalid_<name>.csv。
type RuleName string

const (
	RuleVoterName          RuleName = "name"
	RuleDOB                RuleName = "dob"
	RuleRegistrationDate   RuleName = "registration_date"
	RuleResidentialAddress RuleName = "residential_address"
)

// Rules 为固定的规则顺序（汇总与输出均按此序）。
var Rules = []RuleName{RuleVoterName, RuleDOB, RuleRegistrationDate, RuleResidentialAddress}

// Classification: 单条记录命中的规则集合（位图）。零值表示全部通过。
type Classification uint8

func ruleBit(r RuleName) Classification {
	for i, n := range Rules {
		if n == r {
			return 1 << uint(i)
		}
	}
	return 0
}

// With 返回加入规则 r 后的集合。
func (c Classification) With(r RuleName) Classification { return c | ruleBit(r) }

// Has 判断是否命中规则 r。
func (c Classification) Has(r RuleName) bool {
	b := ruleBit(r)
	return b != 0 && c&b != 0
}

// Valid 表示未命中任何规则。
func (c Classification) Valid() bool { return c == 0 }

// Names 按 Rules 顺序列出命中的规则。
func (c Classification) Names() []RuleName {
	var out []RuleName
	for _, r := range Rules {
		if c.Has(r) {
			out = append(out, r)
		}
	}
	return out
}
