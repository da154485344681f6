package contract

import "errors"

// 最小错误分类（供 diag.Classify 与退出码判定）。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvalidInput: 调用参数不满足前置条件。
	ErrInvalidInput = errors.New("invalid input")
	// ErrDecode: 输入文件无法按约定格式解码。
	ErrDecode = errors.New("decode failed")
	// ErrConfig: 配置缺失或非法。
	ErrConfig = errors.New("config invalid")
)
