package config

import (
	"encoding/json"

	"rollaudit/internal/fields"
)

// DefaultTemplateConfig 返回一份可编辑的配置模板：
// 辖区参数按宾州 2020 大选填写，输入目录与输出目录需按实际修改。
func DefaultTemplateConfig() Config {
	d := Defaults()
	layout := fields.PennsylvaniaLayout()
	cfg := d
	cfg.Inputs = []string{"data/pa-statewide"}
	cfg.OutputDir = "out"
	cfg.Rules.MinDOB = 19070202
	cfg.Rules.RegistrationDeadline = 20201019
	cfg.Rules.ElectionDay = 20201103
	cfg.Rules.State = "PA"
	cfg.Scan.Layout = &layout
	// Options：包含所有键（值为默认），确保键存在。
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "name_contains": " FVE ",
  "recursive": false,
  "exclude_dir_names": []
}`)
	cfg.Options.Codec = json.RawMessage(`{
  "delimiter": "\t",
  "strict_quotes": false,
  "line_terminator": "\r\n",
  "buf_size": 65536
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "atomic": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}
