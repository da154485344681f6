package scan

import (
	"rollaudit/pkg/contract"
)

// CountyTally: 单县累计。Party 仅统计在册活跃选民。
type CountyTally struct {
	Total   int64
	Active  int64
	Party   map[string]int64
	Invalid map[contract.RuleName]int64
}

func newCountyTally() *CountyTally {
	return &CountyTally{Party: map[string]int64{}, Invalid: map[contract.RuleName]int64{}}
}

// RunState: 一次扫描的全部累计结果，由 Run 新建并独占修改，结束后返回。
// 无效清单保留原始 Row（保持输入列布局与行序）。
type RunState struct {
	Total        int64
	Active       int64
	ShortRows    int64
	EmptyIDs     int64
	DuplicateIDs int64

	// Files: 实际扫描的文件（去重后，按扫描顺序）。
	Files []contract.FileID

	Invalid       map[contract.RuleName][]contract.Row
	InvalidActive map[contract.RuleName][]contract.Row

	// Counties 以县名为键；CountyOrder 为首次出现顺序。
	Counties    map[string]*CountyTally
	CountyOrder []string

	seen map[string]struct{}
}

// NewRunState 返回空的运行状态。
func NewRunState() *RunState {
	return &RunState{
		Invalid:       map[contract.RuleName][]contract.Row{},
		InvalidActive: map[contract.RuleName][]contract.Row{},
		Counties:      map[string]*CountyTally{},
		seen:          map[string]struct{}{},
	}
}

// NonActive 返回状态不是活跃代码的行数。恒有 Total == Active + NonActive。
func (s *RunState) NonActive() int64 { return s.Total - s.Active }

// InvalidCount 返回规则 r 的无效行数（全部/仅活跃）。
func (s *RunState) InvalidCount(r contract.RuleName) (all, active int) {
	return len(s.Invalid[r]), len(s.InvalidActive[r])
}

// UniqueIDs 返回已见的非空 ID 个数。
func (s *RunState) UniqueIDs() int { return len(s.seen) }

// PartyTotals 汇总所有县的活跃党派登记数。
func (s *RunState) PartyTotals() map[string]int64 {
	out := map[string]int64{}
	for _, c := range s.Counties {
		for p, n := range c.Party {
			out[p] += n
		}
	}
	return out
}

func (s *RunState) county(name string) *CountyTally {
	c, ok := s.Counties[name]
	if !ok {
		c = newCountyTally()
		s.Counties[name] = c
		s.CountyOrder = append(s.CountyOrder, name)
	}
	return c
}

// idStatus 为 observeID 的结果。
type idStatus int

const (
	idOK idStatus = iota
	idEmpty
	idDuplicate
)

// observeID 记录 ID；非空 ID 一律加入已见集合。
func (s *RunState) observeID(id string) idStatus {
	if id == "" {
		s.EmptyIDs++
		return idEmpty
	}
	if _, dup := s.seen[id]; dup {
		s.DuplicateIDs++
		return idDuplicate
	}
	s.seen[id] = struct{}{}
	return idOK
}

// add 记录一行的分类结果。
func (s *RunState) add(county string, row contract.Row, active bool, party string, c contract.Classification) {
	s.Total++
	ct := s.county(county)
	ct.Total++
	if active {
		s.Active++
		ct.Active++
		ct.Party[party]++
	}
	for _, r := range c.Names() {
		s.Invalid[r] = append(s.Invalid[r], row)
		ct.Invalid[r]++
		if active {
			s.InvalidActive[r] = append(s.InvalidActive[r], row)
		}
	}
}

// Merge 将 o 并入 s（o 视为排在 s 之后扫描的部分结果）。
// 清单按参数顺序拼接；o 中已在 s 出现过的 ID 计为重复。
func (s *RunState) Merge(o *RunState) {
	if o == nil {
		return
	}
	s.Total += o.Total
	s.Active += o.Active
	s.ShortRows += o.ShortRows
	s.EmptyIDs += o.EmptyIDs
	s.DuplicateIDs += o.DuplicateIDs
	s.Files = append(s.Files, o.Files...)
	for r, rows := range o.Invalid {
		s.Invalid[r] = append(s.Invalid[r], rows...)
	}
	for r, rows := range o.InvalidActive {
		s.InvalidActive[r] = append(s.InvalidActive[r], rows...)
	}
	for _, name := range o.CountyOrder {
		src := o.Counties[name]
		dst := s.county(name)
		dst.Total += src.Total
		dst.Active += src.Active
		for p, n := range src.Party {
			dst.Party[p] += n
		}
		for r, n := range src.Invalid {
			dst.Invalid[r] += n
		}
	}
	for id := range o.seen {
		if _, dup := s.seen[id]; dup {
			s.DuplicateIDs++
			continue
		}
		s.seen[id] = struct{}{}
	}
}
