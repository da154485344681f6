// Package scan 逐行扫描县级选民名册，运行全部规则并累计 RunState。
//
// - 单线程、同步：文件按给定顺序，行按输入顺序；RunState 只由扫描循环修改。
// - 流式读取：仅保留无效行、ID 集合与计数。
// - 首错即止：任一文件打开/解码失败立即返回，不做部分恢复。
package scan

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"rollaudit/internal/diag"
	"rollaudit/internal/fields"
	"rollaudit/internal/rules"
	"rollaudit/pkg/contract"
)

// DefaultProgressEvery: 进度提示间隔（行）。
const DefaultProgressEvery = 100000

// DefaultActiveStatus: 活跃选民的状态代码。
const DefaultActiveStatus = "A"

// Components 聚合扫描所需的组件。
type Components struct {
	Reader  contract.Reader
	Decoder contract.RowDecoder
	Engine  *rules.Engine
}

// Settings 扫描期配置。
type Settings struct {
	Inputs        []string
	Layout        fields.Layout
	ActiveStatus  string
	SkipHeader    bool
	ProgressEvery int
}

func (s Settings) withDefaults() Settings {
	if s.ActiveStatus == "" {
		s.ActiveStatus = DefaultActiveStatus
	}
	if s.ProgressEvery <= 0 {
		s.ProgressEvery = DefaultProgressEvery
	}
	return s
}

func sanity(comp Components, set Settings) error {
	if comp.Reader == nil || comp.Decoder == nil || comp.Engine == nil {
		return fmt.Errorf("%w: missing scan component", contract.ErrInvalidInput)
	}
	if len(set.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", contract.ErrInvalidInput)
	}
	return set.Layout.Validate()
}

// Run 扫描全部输入并返回新建的 RunState。出错时返回已累计的部分状态与错误。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (*RunState, error) {
	if err := sanity(comp, set); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	set = set.withDefaults()
	st := NewRunState()
	sc := &scanner{
		ctx:      ctx,
		comp:     comp,
		set:      set,
		logger:   logger,
		st:       st,
		width:    set.Layout.Width(),
		files:    map[string]struct{}{},
		lastTick: time.Now(),
	}

	runTimer := logger.Start("scan", "run")
	runStart := runTimer.Since()
	term := diag.GetTerminal()
	term.RunStart(sc.countInputs(ctx))

	err := comp.Reader.Iterate(ctx, set.Inputs, sc.file)
	sc.flushMetrics()
	term.RunFinish(err == nil, time.Since(runStart))
	if err != nil {
		code := diag.Classify(err)
		logger.ErrorWith("scan", string(code), err.Error(), &runStart, "", nil)
		diag.IncOp("scan", "run", "error")
		diag.IncError("scan", code)
		return st, err
	}
	runTimer.Finish("run", st.Total)
	diag.IncOp("scan", "run", "success")
	return st, nil
}

// discoverer 为可选能力：Reader 能预先列出文件时用于终端总数提示。
type discoverer interface {
	Discover(ctx context.Context, roots []string) ([]string, error)
}

type scanner struct {
	ctx    context.Context
	comp   Components
	set    Settings
	logger *diag.Logger
	st     *RunState
	width  int

	files    map[string]struct{}
	lastTick time.Time

	// 指标按文件增量提交
	pubRows, pubActive, pubShort, pubEmpty, pubDup int64
}

func (sc *scanner) countInputs(ctx context.Context) int {
	d, ok := sc.comp.Reader.(discoverer)
	if !ok {
		return 0
	}
	files, err := d.Discover(ctx, sc.set.Inputs)
	if err != nil {
		return 0
	}
	return len(files)
}

// fileKey: 同一文件以不同写法出现时视为重复。
func fileKey(id contract.FileID) string {
	if abs, err := filepath.Abs(filepath.FromSlash(string(id))); err == nil {
		return abs
	}
	return string(id)
}

// file 处理单个文件；rc 在此关闭。
func (sc *scanner) file(fileID contract.FileID, rc io.ReadCloser) (err error) {
	defer rc.Close()
	key := fileKey(fileID)
	if _, dup := sc.files[key]; dup {
		diag.GetTerminal().Warnf("input listed twice, skipped: %s", fileID)
		sc.logger.Warn("scan", "duplicate input skipped", string(fileID), nil)
		return nil
	}
	sc.files[key] = struct{}{}
	sc.st.Files = append(sc.st.Files, fileID)

	county := fileID.County()
	term := diag.GetTerminal()
	term.FileStart(string(fileID))
	ft := sc.logger.StartWith("scan", "file", string(fileID), map[string]string{"county": county})
	start := ft.Since()
	before := sc.st.Total
	defer func() {
		rows := sc.st.Total - before
		term.FileFinish(err == nil, rows, time.Since(start))
		if err != nil {
			return
		}
		ft.Finish("file", rows)
		diag.IncOp("scan", "file", "success")
		if m := diag.GetMetrics(); m != nil {
			m.Files.Inc()
		}
		sc.flushMetrics()
	}()

	var line int64
	return sc.comp.Decoder.Decode(sc.ctx, fileID, rc, func(row contract.Row) error {
		line++
		if line == 1 && sc.set.SkipHeader {
			return nil
		}
		sc.row(fileID, county, line, row)
		return nil
	})
}

func (sc *scanner) row(fileID contract.FileID, county string, line int64, row contract.Row) {
	st := sc.st
	if len(row) < sc.width {
		st.ShortRows++
	}
	v := sc.set.Layout.Extract(row)
	switch st.observeID(v.ID) {
	case idEmpty:
		sc.idWarning("empty", fileID, line, row)
	case idDuplicate:
		sc.idWarning("duplicate", fileID, line, row)
	}
	active := v.Status == sc.set.ActiveStatus
	st.add(county, row, active, v.Party, sc.comp.Engine.Classify(v))

	if st.Total%int64(sc.set.ProgressEvery) == 0 {
		now := time.Now()
		diag.GetTerminal().Progress(st.Total, now.Sub(sc.lastTick))
		sc.logger.Debug("scan", "progress", string(fileID), map[string]string{"rows": strconv.FormatInt(st.Total, 10)})
		sc.lastTick = now
	}
}

func (sc *scanner) idWarning(kind string, fileID contract.FileID, line int64, row contract.Row) {
	diag.GetTerminal().IDWarning(kind, string(fileID), line, row)
	sc.logger.Warn("scan", kind+" voter ID", string(fileID), map[string]string{
		"line": strconv.FormatInt(line, 10),
		"kind": kind,
	})
}

// flushMetrics 提交自上次以来的计数增量。
func (sc *scanner) flushMetrics() {
	m := diag.GetMetrics()
	if m == nil {
		return
	}
	st := sc.st
	m.Rows.Add(float64(st.Total - sc.pubRows))
	m.ActiveRows.Add(float64(st.Active - sc.pubActive))
	m.ShortRows.Add(float64(st.ShortRows - sc.pubShort))
	m.IDAnomalies.WithLabelValues("empty").Add(float64(st.EmptyIDs - sc.pubEmpty))
	m.IDAnomalies.WithLabelValues("duplicate").Add(float64(st.DuplicateIDs - sc.pubDup))
	sc.pubRows, sc.pubActive, sc.pubShort = st.Total, st.Active, st.ShortRows
	sc.pubEmpty, sc.pubDup = st.EmptyIDs, st.DuplicateIDs
}
