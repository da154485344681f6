// Package canon 将选民名册中的 MM/DD/YYYY 日期转换为可直接比较的 YYYYMMDD 整数。
//
// 转换只做重排与数字校验，不校验月/日范围与日历合法性：
// "13/40/2020" 会得到 20201340。这是有意保留的近似。
package canon

import (
	"strconv"
	"strings"
)

// Date: 规范日期（YYYYMMDD 八位整数），全序，可直接数值比较。
type Date int

// yearOffset: 数字偏移法中 1 年对应的增量。
const yearOffset = 10000

// Normalize 将 "MM/DD/YYYY" 转换为 Date。
// 按 '/' 切分后分量数不为 3 时返回 false（输入格式错误，而非数值错误）。
// 任一分量为空或含非 ASCII 数字字符时同样返回 false，保证结果非负且可转换。
func Normalize(raw string) (Date, bool) {
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return 0, false
	}
	for _, p := range parts {
		if !digits(p) {
			return 0, false
		}
	}
	// 年 + 月 + 日，原样拼接
	s := parts[2] + parts[0] + parts[1]
	n, err := strconv.Atoi(s)
	if err != nil {
		// 超出 int 范围的超长数字串
		return 0, false
	}
	return Date(n), true
}

// ApproxAddYears 以数字偏移近似加 n 年：d + n*10000。
// 不处理闰年与月末边界，例如 20000229 加 1 年得到 20010229。
func (d Date) ApproxAddYears(n int) Date {
	return d + Date(n*yearOffset)
}

// String 返回规范数字串。
func (d Date) String() string { return strconv.Itoa(int(d)) }

func digits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
