package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rollaudit/pkg/contract"
)

// DefaultNameContains: 县级全量导出文件（FVE）的命名约定，例如 "ADAMS FVE 20201123.txt"。
const DefaultNameContains = " FVE "

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// NameContains: 目录扫描时仅接受基名包含该子串的文件。
	// nil 采用默认 " FVE "；显式空串表示接受全部文件。
	// 仅影响目录扫描，不影响直接给出的单文件 root。
	NameContains *string `json:"name_contains,omitempty"`
	// Recursive: 是否递归子目录。默认 false（与县级导出目录的平铺结构一致）。
	Recursive bool `json:"recursive"`
	// ExcludeDirNames: 递归时跳过这些目录名（基名完全匹配，大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
}

// FileSystem 实现基于本地目录的县级文件发现与流式打开。
type FileSystem struct {
	bufSize   int
	contains  string
	recursive bool
	// 以小写形式保存，比较时按小写基名匹配。
	excludeDir map[string]struct{}
}

var _ contract.Reader = (*FileSystem)(nil)

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	r := &FileSystem{bufSize: defaultBuf, contains: DefaultNameContains, excludeDir: map[string]struct{}{}}
	if opts == nil {
		return r
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	if opts.NameContains != nil {
		r.contains = *opts.NameContains
	}
	r.recursive = opts.Recursive
	for _, name := range opts.ExcludeDirNames {
		if name == "" {
			continue
		}
		r.excludeDir[strings.ToLower(name)] = struct{}{}
	}
	return r
}

// Discover 按 roots 顺序列出待扫描文件；目录内按文件名字典序。
// root 不存在或不可读时返回错误（整次运行中止）。
func (r *FileSystem) Discover(ctx context.Context, roots []string) ([]string, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no input roots", contract.ErrInvalidInput)
	}
	var out []string
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := r.discoverOne(ctx, root)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

// Iterate 对 Discover 得到的每个文件依次打开并调用 yield；
// yield 负责关闭 rc。打开失败立即返回错误。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	files, err := r.Discover(ctx, roots)
	if err != nil {
		return err
	}
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		brc := newBufferedCloser(f, r.bufSize)
		if err := yield(contract.NormalizeFileID(p), brc); err != nil {
			_ = brc.Close()
			return err
		}
	}
	return nil
}

func (r *FileSystem) discoverOne(ctx context.Context, root string) ([]string, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return nil, err
	}
	// 符号链接：仅跟随到常规文件；目录符号链接忽略
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if t.Mode().IsRegular() {
			return []string{root}, nil
		}
		return nil, nil
	}
	if info.IsDir() {
		return r.walkDir(ctx, root)
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	return []string{root}, nil
}

func (r *FileSystem) walkDir(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if !r.recursive {
				continue
			}
			if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
				continue
			}
			sub, err := r.walkDir(ctx, p)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		if !strings.Contains(e.Name(), r.contains) {
			continue
		}
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return nil, err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			// 设备/管道等跳过
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
