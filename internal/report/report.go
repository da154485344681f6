// Package report 输出一次审计的结果：终端汇总、各规则的无效行文件、指标与县级比率。
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"rollaudit/internal/diag"
	"rollaudit/internal/scan"
	"rollaudit/pkg/contract"
)

// labels: 汇总中各规则的可读名称。
var labels = map[contract.RuleName]string{
	contract.RuleVoterName:          "names",
	contract.RuleDOB:                "ages",
	contract.RuleRegistrationDate:   "registration dates",
	contract.RuleResidentialAddress: "residential addresses",
}

// FileName 返回规则 r 的输出文件名；active=true 为仅活跃选民的伴随文件。
func FileName(r contract.RuleName, active bool) contract.ArtifactID {
	if active {
		return contract.ArtifactID("invalid_" + string(r) + "_active.csv")
	}
	return contract.ArtifactID("invalid_" + string(r) + ".csv")
}

// Summary 将总数与各启用规则的无效计数（全部/仅活跃）写到 w。
func Summary(w io.Writer, st *scan.RunState, enabled []contract.RuleName) error {
	var b strings.Builder
	fmt.Fprintf(&b, "total registered voters: %d\n", st.Total)
	fmt.Fprintf(&b, "total registered active voters: %d\n", st.Active)
	for _, r := range enabled {
		all, active := st.InvalidCount(r)
		fmt.Fprintf(&b, "invalid %s: %d\n", labels[r], all)
		fmt.Fprintf(&b, "invalid %s, active voters: %d\n", labels[r], active)
	}
	fmt.Fprintf(&b, "empty voter IDs: %d\n", st.EmptyIDs)
	fmt.Fprintf(&b, "duplicate voter IDs: %d\n", st.DuplicateIDs)
	if st.ShortRows > 0 {
		fmt.Fprintf(&b, "short rows: %d\n", st.ShortRows)
	}
	if parties := st.PartyTotals(); len(parties) > 0 {
		fmt.Fprintf(&b, "active registrations by party: %s\n", formatParties(parties))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// formatParties: 按人数降序，同数按代码升序；空代码显示为 "(none)"。
func formatParties(p map[string]int64) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if p[keys[i]] != p[keys[j]] {
			return p[keys[i]] > p[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		name := k
		if name == "" {
			name = "(none)"
		}
		parts[i] = fmt.Sprintf("%s=%d", name, p[k])
	}
	return strings.Join(parts, " ")
}

// InvalidOptions 控制无效行文件的输出。
type InvalidOptions struct {
	// Active: 同时写出 invalid_<rule>_active.csv。
	Active bool
}

// WriteInvalid 为每条启用规则写出无效行文件（与输入同格式，覆盖写）。
// 无效行为空时仍写出空文件，保证每次运行的产物集合稳定。
func WriteInvalid(ctx context.Context, enc contract.RowEncoder, w contract.Writer, st *scan.RunState, enabled []contract.RuleName, opts InvalidOptions, logger *diag.Logger) error {
	for _, r := range enabled {
		if err := writeRows(ctx, enc, w, FileName(r, false), st.Invalid[r], logger); err != nil {
			return err
		}
		if !opts.Active {
			continue
		}
		if err := writeRows(ctx, enc, w, FileName(r, true), st.InvalidActive[r], logger); err != nil {
			return err
		}
	}
	return nil
}

// writeRows 通过管道边编码边写出，避免整文件驻留内存。
func writeRows(ctx context.Context, enc contract.RowEncoder, w contract.Writer, id contract.ArtifactID, rows []contract.Row, logger *diag.Logger) error {
	tm := logger.StartWith("report", "write", string(id), nil)
	start := tm.Since()
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pw.CloseWithError(enc.Encode(ctx, pw, rows))
	}()
	err := w.Write(ctx, id, pr)
	// Writer 提前返回时解除编码端阻塞
	_ = pr.CloseWithError(io.ErrClosedPipe)
	<-done
	if err != nil {
		code := diag.Classify(err)
		logger.ErrorWith("report", string(code), err.Error(), &start, string(id), nil)
		diag.IncOp("report", "write", "error")
		diag.IncError("report", code)
		return fmt.Errorf("write %s: %w", id, err)
	}
	tm.Finish("write", int64(len(rows)))
	diag.IncOp("report", "write", "success")
	return nil
}

// RecordMetrics 将各规则无效计数计入指标。
func RecordMetrics(m *diag.Metrics, st *scan.RunState, enabled []contract.RuleName) {
	if m == nil {
		return
	}
	for _, r := range enabled {
		all, active := st.InvalidCount(r)
		m.Invalid.WithLabelValues(string(r), "all").Add(float64(all))
		m.Invalid.WithLabelValues(string(r), "active").Add(float64(active))
	}
}
