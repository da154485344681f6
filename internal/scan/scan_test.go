package scan

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollaudit/internal/canon"
	"rollaudit/internal/diag"
	"rollaudit/internal/fields"
	"rollaudit/internal/rules"
	"rollaudit/pkg/contract"
	"rollaudit/plugins/rowcodec/tsv"
)

// memReader: 内存中的县级文件，按 roots 顺序回调。
type memReader struct {
	files map[string]string
}

func (m memReader) Iterate(ctx context.Context, roots []string, yield func(contract.FileID, io.ReadCloser) error) error {
	for _, r := range roots {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, ok := m.files[r]
		if !ok {
			return errors.New("missing " + r)
		}
		if err := yield(contract.NormalizeFileID(r), io.NopCloser(strings.NewReader(body))); err != nil {
			return err
		}
	}
	return nil
}

type voter struct {
	id, first, last, dob, reg, status, party, house, street, city, state, zip, lastVote string
}

// line 按宾州布局生成一行全引号 TSV。
func (v voter) line() string {
	cols := make([]string, 26)
	l := fields.PennsylvaniaLayout()
	cols[l.ID] = v.id
	cols[l.FirstName] = v.first
	cols[l.LastName] = v.last
	cols[l.DOB] = v.dob
	cols[l.RegistrationDate] = v.reg
	cols[l.Status] = v.status
	cols[l.Party] = v.party
	cols[l.HouseNumber] = v.house
	cols[l.StreetName] = v.street
	cols[l.City] = v.city
	cols[l.State] = v.state
	cols[l.Zip] = v.zip
	cols[l.LastVoteDate] = v.lastVote
	return `"` + strings.Join(cols, "\"\t\"") + "\"\r\n"
}

func good(id string) voter {
	return voter{id: id, first: "JANE", last: "DOE", dob: "01/01/2005", reg: "01/01/2020", status: "A",
		party: "D", house: "100", street: "Main St", city: "Philadelphia", state: "PA", zip: "19101"}
}

func file(vs ...voter) string {
	var b strings.Builder
	for _, v := range vs {
		b.WriteString(v.line())
	}
	return b.String()
}

func newComponents(t *testing.T, files map[string]string) Components {
	t.Helper()
	codec, err := tsv.New(nil)
	require.NoError(t, err)
	eng, err := rules.NewEngine(rules.Config{
		MinDOB:            canon.Date(19070202),
		State:             "PA",
		AddressStrictness: rules.StrictnessStrict,
		NameRule:          true,
	})
	require.NoError(t, err)
	return Components{Reader: memReader{files: files}, Decoder: codec, Engine: eng}
}

func settings(inputs ...string) Settings {
	return Settings{Inputs: inputs, Layout: fields.PennsylvaniaLayout()}
}

// 两县端到端场景
func TestRunTwoCounties(t *testing.T) {
	var out strings.Builder
	diag.SetTerminal(diag.NewTerminal(&out, true))
	defer diag.SetTerminal(nil)

	bad := good("2")
	bad.dob, bad.zip, bad.state = "02/30/1850", "", "NJ"
	noID := good("")
	noID.dob, noID.status = "01/01/2000", "I"

	comp := newComponents(t, map[string]string{
		"rolls/ADAMS FVE 20201123.txt": file(good("1"), bad),
		"rolls/BUCKS FVE 20201123.txt": file(noID),
	})
	st, err := Run(context.Background(), comp, settings("rolls/ADAMS FVE 20201123.txt", "rolls/BUCKS FVE 20201123.txt"), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(3), st.Total)
	assert.Equal(t, int64(2), st.Active)
	assert.Equal(t, st.Total, st.Active+st.NonActive())
	assert.Equal(t, int64(1), st.EmptyIDs)
	assert.Equal(t, int64(0), st.DuplicateIDs)
	assert.Equal(t, 2, st.UniqueIDs())

	all, active := st.InvalidCount(contract.RuleDOB)
	assert.Equal(t, 1, all)
	assert.Equal(t, 1, active)
	require.Len(t, st.Invalid[contract.RuleDOB], 1)
	assert.Equal(t, "2", st.Invalid[contract.RuleDOB][0][0])
	all, _ = st.InvalidCount(contract.RuleResidentialAddress)
	assert.Equal(t, 1, all)
	all, _ = st.InvalidCount(contract.RuleRegistrationDate)
	assert.Equal(t, 0, all)
	all, _ = st.InvalidCount(contract.RuleVoterName)
	assert.Equal(t, 0, all)

	assert.Equal(t, []string{"ADAMS", "BUCKS"}, st.CountyOrder)
	assert.Equal(t, int64(2), st.Counties["ADAMS"].Active)
	assert.Equal(t, int64(0), st.Counties["BUCKS"].Active)
	assert.Equal(t, int64(1), st.Counties["ADAMS"].Invalid[contract.RuleDOB])
	assert.Equal(t, map[string]int64{"D": 2}, st.PartyTotals())
	assert.Len(t, st.Files, 2)

	assert.Contains(t, out.String(), "[warn] empty voter ID | BUCKS FVE 20201123.txt:1")
}

// 重复 ID：第二次及之后每次都报告，且全部计入总数
func TestRunDuplicateIDs(t *testing.T) {
	var out strings.Builder
	diag.SetTerminal(diag.NewTerminal(&out, true))
	defer diag.SetTerminal(nil)

	comp := newComponents(t, map[string]string{
		"a/ADAMS FVE.txt": file(good("7"), good("8")),
		"b/BUCKS FVE.txt": file(good("7"), good("7")),
	})
	st, err := Run(context.Background(), comp, settings("a/ADAMS FVE.txt", "b/BUCKS FVE.txt"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Total)
	assert.Equal(t, int64(2), st.DuplicateIDs)
	assert.Equal(t, 2, strings.Count(out.String(), "duplicate voter ID"))
}

// 每个无效清单中同一行最多出现一次，且保持输入顺序
func TestRunListsOrderedWithoutDuplicates(t *testing.T) {
	var vs []voter
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		v := good(id)
		v.dob = "1/1"
		vs = append(vs, v)
	}
	comp := newComponents(t, map[string]string{"x/LEHIGH FVE.txt": file(vs...)})
	st, err := Run(context.Background(), comp, settings("x/LEHIGH FVE.txt", "x/LEHIGH FVE.txt"), nil)
	require.NoError(t, err)

	for _, r := range contract.Rules {
		seen := map[string]bool{}
		for _, row := range st.Invalid[r] {
			assert.False(t, seen[row[0]], "rule %s row %s listed twice", r, row[0])
			seen[row[0]] = true
		}
	}
	var ids []string
	for _, row := range st.Invalid[contract.RuleDOB] {
		ids = append(ids, row[0])
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
	// 同一文件列出两次只扫描一次
	assert.Equal(t, int64(5), st.Total)
	assert.Len(t, st.Files, 1)
}

func TestRunProgressEvery(t *testing.T) {
	var out strings.Builder
	diag.SetTerminal(diag.NewTerminal(&out, true))
	defer diag.SetTerminal(nil)

	comp := newComponents(t, map[string]string{"x/A FVE.txt": file(good("1"), good("2"), good("3"), good("4"), good("5"))})
	set := settings("x/A FVE.txt")
	set.ProgressEvery = 2
	_, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out.String(), "[progress]"))
	assert.Contains(t, out.String(), "rows 4 |")
}

func TestRunSkipHeader(t *testing.T) {
	header := `"ID"` + "\t" + `"TITLE"` + "\r\n"
	comp := newComponents(t, map[string]string{"x/A FVE.txt": header + file(good("1"))})
	set := settings("x/A FVE.txt")
	set.SkipHeader = true
	st, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Total)
	assert.Equal(t, int64(0), st.ShortRows)
}

// 短行：缺失列视为空串并计数
func TestRunShortRows(t *testing.T) {
	comp := newComponents(t, map[string]string{"x/A FVE.txt": `"9"` + "\t" + `"X"` + "\r\n"})
	st, err := Run(context.Background(), comp, settings("x/A FVE.txt"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.ShortRows)
	assert.Equal(t, int64(0), st.Active)
	all, _ := st.InvalidCount(contract.RuleDOB)
	assert.Equal(t, 1, all)
}

// 读取失败立即中止
func TestRunAbortsOnMissingFile(t *testing.T) {
	comp := newComponents(t, map[string]string{"x/A FVE.txt": file(good("1"))})
	st, err := Run(context.Background(), comp, settings("x/A FVE.txt", "x/B FVE.txt"), nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), st.Total)
}

func TestRunDecodeError(t *testing.T) {
	codec, err := tsv.New(&tsv.Options{StrictQuotes: true})
	require.NoError(t, err)
	comp := newComponents(t, map[string]string{"x/A FVE.txt": "\"1\"x\t\"2\"\r\n"})
	comp.Decoder = codec
	_, err = Run(context.Background(), comp, settings("x/A FVE.txt"), nil)
	assert.ErrorIs(t, err, contract.ErrDecode)
}

func TestRunCanceled(t *testing.T) {
	comp := newComponents(t, map[string]string{"x/A FVE.txt": file(good("1"))})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, comp, settings("x/A FVE.txt"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSanity(t *testing.T) {
	_, err := Run(context.Background(), Components{}, settings("a"), nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	comp := newComponents(t, nil)
	_, err = Run(context.Background(), comp, Settings{Layout: fields.PennsylvaniaLayout()}, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	set := settings("a")
	set.Layout.Zip = -1
	_, err = Run(context.Background(), comp, set, nil)
	assert.ErrorIs(t, err, contract.ErrConfig)
}

// 指标按增量提交
func TestRunMetrics(t *testing.T) {
	m := diag.NewMetrics()
	diag.SetMetrics(m)
	defer diag.SetMetrics(nil)

	comp := newComponents(t, map[string]string{"x/A FVE.txt": file(good("1"), good("1"), good(""))})
	_, err := Run(context.Background(), comp, settings("x/A FVE.txt"), nil)
	require.NoError(t, err)

	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range mfs {
		for _, mm := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range mm.GetLabel() {
				key += "/" + lp.GetValue()
			}
			got[key] = mm.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 3.0, got["rollaudit_rows_total"])
	assert.Equal(t, 1.0, got["rollaudit_files_total"])
	assert.Equal(t, 1.0, got["rollaudit_id_anomalies_total/empty"])
	assert.Equal(t, 1.0, got["rollaudit_id_anomalies_total/duplicate"])
}
