// Package rules 实现选民记录的四条固定校验规则。
// 所有谓词均为纯函数：只读记录字段与运行配置，无 I/O、无副作用；返回 true 表示无效。
package rules

import (
	"fmt"
	"strings"

	"rollaudit/internal/canon"
	"rollaudit/internal/fields"
	"rollaudit/pkg/contract"
)

// Strictness: 地址规则的严格级别。
type Strictness string

const (
	// StrictnessBasic 仅校验邮编与州。
	StrictnessBasic Strictness = "basic"
	// StrictnessStrict 另要求城市、街道名、门牌号非空。
	StrictnessStrict Strictness = "strict"
)

// ParseStrictness 解析严格级别（大小写不敏感）。
func ParseStrictness(s string) (Strictness, error) {
	switch Strictness(strings.ToLower(strings.TrimSpace(s))) {
	case StrictnessBasic:
		return StrictnessBasic, nil
	case StrictnessStrict:
		return StrictnessStrict, nil
	}
	return "", fmt.Errorf("%w: address strictness %q (want basic|strict)", contract.ErrConfig, s)
}

const (
	// minVotingAge: 选举日须满的年龄，同时是最后投票日相对出生日的下限。
	minVotingAge = 18
	// minRegistrationAge: 登记日相对出生日的下限。部分辖区允许在选举日前满 18 岁者提前登记。
	minRegistrationAge = 14
)

// Config: 单次运行期间不变的规则参数。
type Config struct {
	MinDOB               canon.Date
	FilterForElectionDay bool
	RegistrationDeadline canon.Date
	ElectionDay          canon.Date
	// State: 辖区两位邮政缩写（比较时大小写不敏感）。
	State             string
	AddressStrictness Strictness
	NameRule          bool
}

// Validate 检查辖区相关参数是否齐备；这些值没有安全默认。
func (c Config) Validate() error {
	if c.MinDOB <= 0 {
		return fmt.Errorf("%w: min_dob not set", contract.ErrConfig)
	}
	if len(strings.TrimSpace(c.State)) != 2 {
		return fmt.Errorf("%w: state must be a two-letter postal abbreviation, got %q", contract.ErrConfig, c.State)
	}
	if c.FilterForElectionDay {
		if c.RegistrationDeadline <= 0 {
			return fmt.Errorf("%w: registration_deadline required when filter_for_election_day is on", contract.ErrConfig)
		}
		if c.ElectionDay <= 0 {
			return fmt.Errorf("%w: election_day required when filter_for_election_day is on", contract.ErrConfig)
		}
	}
	if _, err := ParseStrictness(string(c.AddressStrictness)); err != nil {
		return err
	}
	return nil
}

// InvalidName: 名或姓为空（不裁剪空白）。
func InvalidName(v fields.Voter) bool {
	return v.FirstName == "" || v.LastName == ""
}

// InvalidDOB: 出生日期
//  1. 格式错误；
//  2. 启用选举日过滤时，选举日未满 18 岁（数字偏移近似）；
//  3. 早于 MinDOB（视为录入错误而非真实高龄选民）。
func InvalidDOB(v fields.Voter, cfg Config) bool {
	dob, ok := canon.Normalize(v.DOB)
	if !ok {
		return true
	}
	if cfg.FilterForElectionDay && dob > cfg.ElectionDay.ApproxAddYears(-minVotingAge) {
		return true
	}
	return dob < cfg.MinDOB
}

// InvalidRegistrationDate: 登记日期
//  1. 格式错误；
//  2. 早于出生后 14 年；
//  3. 晚于最后投票日（先投票后登记不可能）；
//  4. 最后投票日早于出生后 18 年；
//  5. 启用选举日过滤时，晚于登记截止日。
//
// 出生日期或最后投票日无法规范化时，相关子检查静默跳过（与 InvalidDOB 不对称，保留现有语义）。
func InvalidRegistrationDate(v fields.Voter, cfg Config) bool {
	reg, ok := canon.Normalize(v.RegistrationDate)
	if !ok {
		return true
	}
	dob, dobOK := canon.Normalize(v.DOB)
	if dobOK && reg < dob.ApproxAddYears(minRegistrationAge) {
		return true
	}
	if lastVote, ok := canon.Normalize(v.LastVoteDate); ok {
		if lastVote < reg {
			return true
		}
		if dobOK && lastVote < dob.ApproxAddYears(minVotingAge) {
			return true
		}
	}
	return cfg.FilterForElectionDay && reg > cfg.RegistrationDeadline
}

// InvalidResidentialAddress: 居住地址（均先裁剪空白）
//  1. 邮编为空，或去掉 '-' 与空格后长度不是 5 或 9；
//  2. 州为空，或与辖区缩写不符；
//  3. strict 级别下，城市、街道名、门牌号任一为空。
func InvalidResidentialAddress(v fields.Voter, cfg Config) bool {
	zip := strings.TrimSpace(v.Zip)
	if zip == "" {
		return true
	}
	zip = strings.ReplaceAll(zip, "-", "")
	zip = strings.ReplaceAll(zip, " ", "")
	if n := len(zip); n != 5 && n != 9 {
		return true
	}
	state := strings.TrimSpace(v.State)
	if state == "" || !strings.EqualFold(state, strings.TrimSpace(cfg.State)) {
		return true
	}
	if cfg.AddressStrictness != StrictnessStrict {
		return false
	}
	return strings.TrimSpace(v.City) == "" ||
		strings.TrimSpace(v.StreetName) == "" ||
		strings.TrimSpace(v.HouseNumber) == ""
}
