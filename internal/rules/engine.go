package rules

import (
	"rollaudit/internal/fields"
	"rollaudit/pkg/contract"
)

// Engine 按运行配置组合四条规则，集中产出每条记录的分类结果。
type Engine struct {
	cfg     Config
	enabled []contract.RuleName
}

// NewEngine 校验配置并确定启用的规则（姓名规则可关闭）。
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg}
	for _, r := range contract.Rules {
		if r == contract.RuleVoterName && !cfg.NameRule {
			continue
		}
		e.enabled = append(e.enabled, r)
	}
	return e, nil
}

// Enabled 返回启用的规则（固定顺序）。
func (e *Engine) Enabled() []contract.RuleName {
	out := make([]contract.RuleName, len(e.enabled))
	copy(out, e.enabled)
	return out
}

// Config 返回引擎使用的运行配置。
func (e *Engine) Config() Config { return e.cfg }

// Classify 对单条记录运行全部启用规则；一条记录可同时命中多条。
func (e *Engine) Classify(v fields.Voter) contract.Classification {
	var c contract.Classification
	if e.cfg.NameRule && InvalidName(v) {
		c = c.With(contract.RuleVoterName)
	}
	if InvalidDOB(v, e.cfg) {
		c = c.With(contract.RuleDOB)
	}
	if InvalidRegistrationDate(v, e.cfg) {
		c = c.With(contract.RuleRegistrationDate)
	}
	if InvalidResidentialAddress(v, e.cfg) {
		c = c.With(contract.RuleResidentialAddress)
	}
	return c
}
