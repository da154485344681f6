package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Terminal: 面向人的运行提示（非日志），默认写 stdout。
// - TTY: 进度单行 \r 覆盖；非 TTY: 每条进度分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
// - status=false 只关闭运行/文件状态行；进度与 ID 告警照常输出。
type Terminal struct {
	w       io.Writer
	enabled bool
	status  bool
	isTTY   bool

	filesTotal int
	filesDone  int
	runStart   time.Time

	curFile string
	lastLen int

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供 scan 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil，方法对 nil 安全）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。status 控制 [run]/[file]/[done] 等状态行。
func NewTerminal(w io.Writer, status bool) *Terminal {
	if w == nil {
		w = os.Stdout
	}
	t := &Terminal{w: w, enabled: true, status: status}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart: 记录待扫描文件数。
func (t *Terminal) RunStart(files int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filesTotal = files
	t.filesDone = 0
	t.runStart = time.Now()
	t.statusln(fmt.Sprintf("[run] files=%d", files))
}

// FileStart: 标记当前文件。
func (t *Terminal) FileStart(fileID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.curFile = shortenBase(fileID, 48)
	t.statusln(fmt.Sprintf("[file] %d/%d %s", t.filesDone+1, t.filesTotal, t.curFile))
}

// Progress: 累计行数与距上次进度的耗时。
func (t *Terminal) Progress(rows int64, sinceLast time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	line := fmt.Sprintf("[progress] %s | rows %d | +%s | total %s",
		t.curFile, rows, formatDur(sinceLast), formatSince(t.runStart))
	if t.isTTY {
		t.printInline(line)
		return
	}
	t.println(line)
}

// IDWarning: 空/重复选民 ID 提示；row 原样附在行尾。
func (t *Terminal) IDWarning(kind, fileID string, line int64, row []string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearInline()
	t.println(fmt.Sprintf("[warn] %s voter ID | %s:%d | %s",
		kind, shortenBase(fileID, 48), line, safe(strings.Join(row, "\t"))))
}

// Warnf: 其它非致命提示（例如重复输入文件）。
func (t *Terminal) Warnf(format string, args ...any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearInline()
	t.println("[warn] " + safe(fmt.Sprintf(format, args...)))
}

// FileFinish: 完成当前文件。
func (t *Terminal) FileFinish(ok bool, rows int64, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filesDone++
	tag := "done"
	if !ok {
		tag = "fail"
	}
	t.clearInline()
	t.statusln(fmt.Sprintf("[%s] %s | rows %d | %s", tag, t.curFile, rows, formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	t.clearInline()
	t.statusln(fmt.Sprintf("[%s] files %d/%d | %s", tag, t.filesDone, t.filesTotal, formatDur(dur)))
}

func (t *Terminal) statusln(s string) {
	if t.status {
		t.println(s)
	}
}

func (t *Terminal) println(s string) {
	if !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

// clearInline: TTY 下若有未换行的进度行，先用空格覆盖。
func (t *Terminal) clearInline() {
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
		t.lastLen = 0
		if t.enabled {
			_, _ = io.WriteString(t.w, "\r")
		}
	}
}

func (t *Terminal) printInline(s string) {
	if !t.enabled {
		return
	}
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	b.WriteString(strings.Repeat(" ", pad))
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if visLen(base) <= max {
		return base
	}
	rs := []rune(base)
	return string(rs[:max-1]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

// safe: 避免换行等控制字符污染终端
func safe(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

func formatSince(t0 time.Time) string {
	if t0.IsZero() {
		return formatDur(0)
	}
	return formatDur(time.Since(t0))
}

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
