package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"rollaudit/internal/scan"
	"rollaudit/pkg/contract"
)

// RatiosFile 为县级比率报告的输出名。
const RatiosFile contract.ArtifactID = "ratios.csv"

// RatioHeader 为 ratios.csv 的表头。
var RatioHeader = []string{
	"county",
	"votes / active voters",
	"dem votes / registered dems",
	"rep votes / registered reps",
	"registered dems / registered reps",
	"dem votes / rep votes",
	"other registrations / active voters",
}

// VotesOptions: 候选人列前缀与党派代码。零值使用宾州 2020 大选的默认。
type VotesOptions struct {
	DemPrefix string `json:"dem_prefix"`
	RepPrefix string `json:"rep_prefix"`
	DemParty  string `json:"dem_party"`
	RepParty  string `json:"rep_party"`
}

func (o VotesOptions) withDefaults() VotesOptions {
	if o.DemPrefix == "" {
		o.DemPrefix = "biden_"
	}
	if o.RepPrefix == "" {
		o.RepPrefix = "trump_"
	}
	if o.DemParty == "" {
		o.DemParty = "D"
	}
	if o.RepParty == "" {
		o.RepParty = "R"
	}
	return o
}

// CountyVotes: 一县按列名的计票数（列顺序保持表头顺序）。
type CountyVotes struct {
	County  string
	Columns []string
	Votes   map[string]int64
}

// sum 汇总前缀匹配的列；prefix 为空时汇总全部。
func (c CountyVotes) sum(prefix string) int64 {
	var s int64
	for _, col := range c.Columns {
		if strings.HasPrefix(col, prefix) {
			s += c.Votes[col]
		}
	}
	return s
}

// ReadVotes 读取逗号分隔的县级计票表：首列为县名，其余列为整数票数。
func ReadVotes(r io.Reader) ([]CountyVotes, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: votes file is empty", contract.ErrDecode)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: votes header: %v", contract.ErrDecode, err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: votes header needs county and at least one count column", contract.ErrDecode)
	}
	cols := header[1:]
	var out []CountyVotes
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: votes: %v", contract.ErrDecode, err)
		}
		cv := CountyVotes{County: strings.TrimSpace(rec[0]), Columns: cols, Votes: make(map[string]int64, len(cols))}
		for i, col := range cols {
			n, err := strconv.ParseInt(strings.TrimSpace(rec[i+1]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: votes %s.%s: %v", contract.ErrDecode, cv.County, col, err)
			}
			cv.Votes[col] = n
		}
		out = append(out, cv)
	}
}

// RatioRow: 一县的比率；分母为 0 的项为 nil。
type RatioRow struct {
	County string
	Values [6]*float64
}

// Ratios 将计票与活跃党派登记（RunState 的县级统计）合并。
// 县名大小写不敏感匹配；未扫描到的县放入 missing，不产生行。
func Ratios(votes []CountyVotes, st *scan.RunState, opts VotesOptions) (rows []RatioRow, missing []string) {
	opts = opts.withDefaults()
	byName := make(map[string]*scan.CountyTally, len(st.Counties))
	for name, c := range st.Counties {
		byName[strings.ToUpper(name)] = c
	}
	for _, cv := range votes {
		c, ok := byName[strings.ToUpper(cv.County)]
		if !ok {
			missing = append(missing, cv.County)
			continue
		}
		var reg int64
		for _, n := range c.Party {
			reg += n
		}
		dem, rep := c.Party[opts.DemParty], c.Party[opts.RepParty]
		totVotes := cv.sum("")
		demVotes, repVotes := cv.sum(opts.DemPrefix), cv.sum(opts.RepPrefix)
		rows = append(rows, RatioRow{
			County: cv.County,
			Values: [6]*float64{
				ratio(totVotes, reg),
				ratio(demVotes, dem),
				ratio(repVotes, rep),
				ratio(dem, rep),
				ratio(demVotes, repVotes),
				ratio(reg-dem-rep, reg),
			},
		})
	}
	return rows, missing
}

func ratio(num, den int64) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den)
	return &v
}

// EncodeRatios 以逗号分隔写出比率表（含表头）。
func EncodeRatios(rows []RatioRow) []byte {
	var b bytes.Buffer
	b.WriteString(strings.Join(RatioHeader, ","))
	b.WriteByte('\n')
	for _, r := range rows {
		b.WriteString(r.County)
		for _, v := range r.Values {
			b.WriteByte(',')
			if v != nil {
				b.WriteString(strconv.FormatFloat(*v, 'f', -1, 64))
			}
		}
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// WriteRatios 写出 ratios.csv。
func WriteRatios(ctx context.Context, w contract.Writer, rows []RatioRow) error {
	if err := w.Write(ctx, RatiosFile, bytes.NewReader(EncodeRatios(rows))); err != nil {
		return fmt.Errorf("write %s: %w", RatiosFile, err)
	}
	return nil
}
