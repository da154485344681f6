package tsv

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"rollaudit/pkg/contract"
)

// Options 为 TSV 编解码器的可选配置（最小必要）。
type Options struct {
	// Delimiter: 字段分隔符（单个字符）。默认 "\t"。
	Delimiter string `json:"delimiter"`
	// StrictQuotes: 严格校验引号；默认 false（容忍字段内裸引号）。
	StrictQuotes bool `json:"strict_quotes"`
	// LineTerminator: 输出行尾，"\r\n" 或 "\n"。默认 "\r\n"。
	LineTerminator string `json:"line_terminator"`
	// BufSize: 写缓冲区大小；<=0 使用默认 64KiB。
	BufSize int `json:"buf_size"`
}

// Codec 实现制表符分隔、全字段加引号的行格式。
type Codec struct {
	comma   rune
	lazy    bool
	eol     string
	bufSize int
}

var _ contract.RowCodec = (*Codec)(nil)

// ctxCheckEvery: 每解码多少行检查一次 ctx。
const ctxCheckEvery = 4096

// New 创建 TSV Codec。
func New(opts *Options) (*Codec, error) {
	c := &Codec{comma: '\t', lazy: true, eol: "\r\n", bufSize: 64 * 1024}
	if opts == nil {
		return c, nil
	}
	if opts.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(opts.Delimiter)
		if size != len(opts.Delimiter) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			return nil, fmt.Errorf("%w: tsv delimiter %q", contract.ErrConfig, opts.Delimiter)
		}
		c.comma = r
	}
	c.lazy = !opts.StrictQuotes
	switch opts.LineTerminator {
	case "":
	case "\n", "\r\n":
		c.eol = opts.LineTerminator
	default:
		return nil, fmt.Errorf("%w: tsv line_terminator %q", contract.ErrConfig, opts.LineTerminator)
	}
	if opts.BufSize > 0 {
		c.bufSize = opts.BufSize
	}
	return c, nil
}

// Decode 逐行解码并回调；不缓存整文件。
// 每次回调拿到的 Row 为独立切片，调用方可长期持有。
func (c *Codec) Decode(ctx context.Context, fileID contract.FileID, r io.Reader, yield func(contract.Row) error) error {
	cr := csv.NewReader(r)
	cr.Comma = c.comma
	cr.LazyQuotes = c.lazy
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false
	for n := 0; ; n++ {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return fmt.Errorf("%w: %s line %d: %v", contract.ErrDecode, fileID, perr.StartLine, perr.Err)
			}
			return err
		}
		if err := yield(contract.Row(rec)); err != nil {
			return err
		}
	}
}

// Encode 以全字段加引号形式写出；字段内引号双写。
func (c *Codec) Encode(ctx context.Context, w io.Writer, rows []contract.Row) error {
	bw := bufio.NewWriterSize(w, c.bufSize)
	sep := string(c.comma)
	for i, row := range rows {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for j, f := range row {
			if j > 0 {
				if _, err := bw.WriteString(sep); err != nil {
					return err
				}
			}
			if err := writeQuoted(bw, f); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(c.eol); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeQuoted(bw *bufio.Writer, f string) error {
	if err := bw.WriteByte('"'); err != nil {
		return err
	}
	if _, err := bw.WriteString(strings.ReplaceAll(f, `"`, `""`)); err != nil {
		return err
	}
	return bw.WriteByte('"')
}
