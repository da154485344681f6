package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollaudit/pkg/contract"
)

func touch(t *testing.T, p, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func collect(t *testing.T, r *FileSystem, roots []string) ([]string, map[string]string, error) {
	t.Helper()
	var ids []string
	bodies := map[string]string{}
	err := r.Iterate(context.Background(), roots, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		base := filepath.Base(string(id))
		ids = append(ids, base)
		bodies[base] = string(b)
		return nil
	})
	return ids, bodies, err
}

// TestDiscoverCountyFiles 目录内仅接受 " FVE " 命名的文件，按字典序。
func TestDiscoverCountyFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "BUCKS FVE 20201123.txt"), "b")
	touch(t, filepath.Join(dir, "ADAMS FVE 20201123.txt"), "a")
	touch(t, filepath.Join(dir, "ADAMS Election Map 20201123.txt"), "x")
	touch(t, filepath.Join(dir, "README.md"), "x")
	touch(t, filepath.Join(dir, "nested", "CHESTER FVE 20201123.txt"), "c")

	ids, bodies, err := collect(t, New(nil), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{"ADAMS FVE 20201123.txt", "BUCKS FVE 20201123.txt"}, ids)
	assert.Equal(t, "a", bodies["ADAMS FVE 20201123.txt"])
}

// TestIterateSingleFile 直接给出的文件不受命名约定限制。
func TestIterateSingleFile(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "extract.txt")
	touch(t, fp, "hello")
	var got contract.FileID
	err := New(nil).Iterate(context.Background(), []string{fp}, func(id contract.FileID, rc io.ReadCloser) error {
		got = id
		return rc.Close()
	})
	require.NoError(t, err)
	assert.Equal(t, contract.NormalizeFileID(fp), got)
}

// roots 顺序保持：先第二个目录再第一个。
func TestIterateRootOrder(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	touch(t, filepath.Join(a, "ZZZ FVE 1.txt"), "")
	touch(t, filepath.Join(b, "AAA FVE 1.txt"), "")
	ids, _, err := collect(t, New(nil), []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{"ZZZ FVE 1.txt", "AAA FVE 1.txt"}, ids)
}

func TestNameContainsEmptyAcceptsAll(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.txt"), "")
	touch(t, filepath.Join(dir, "b.tsv"), "")
	all := ""
	ids, _, err := collect(t, New(&Options{NameContains: &all}), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.tsv"}, ids)
}

// TestRecursiveExcludeDir 递归时跳过指定目录。
func TestRecursiveExcludeDir(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "east", "BUCKS FVE 1.txt"), "")
	touch(t, filepath.Join(dir, "archive", "OLD FVE 1.txt"), "")
	ids, _, err := collect(t, New(&Options{Recursive: true, ExcludeDirNames: []string{"Archive"}}), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{"BUCKS FVE 1.txt"}, ids)
}

// 不存在的 root 为致命错误。
func TestMissingRoot(t *testing.T) {
	_, _, err := collect(t, New(nil), []string{filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestNoRoots(t *testing.T) {
	_, err := New(nil).Discover(context.Background(), nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

// TestIterateSymlink 指向常规文件的符号链接被跟随；指向目录的忽略。
func TestIterateSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	touch(t, target, "ok")
	link := filepath.Join(dir, "LEHIGH FVE link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.Symlink(sub, filepath.Join(dir, "DIR FVE link")))

	ids, bodies, err := collect(t, New(nil), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{"LEHIGH FVE link.txt"}, ids)
	assert.Equal(t, "ok", bodies["LEHIGH FVE link.txt"])

	ids, _, err = collect(t, New(nil), []string{filepath.Join(dir, "DIR FVE link")})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// TestIterateCtxCancel 上下文取消
func TestIterateCtxCancel(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "a.txt")
	touch(t, fp, "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(nil).Iterate(ctx, []string{fp}, func(contract.FileID, io.ReadCloser) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

// yield 出错时由 Reader 关闭文件并上抛。
func TestIterateYieldError(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "A FVE 1.txt"), "x")
	boom := errors.New("boom")
	err := New(nil).Iterate(context.Background(), []string{dir}, func(contract.FileID, io.ReadCloser) error { return boom })
	assert.ErrorIs(t, err, boom)
}

// TestNewBufferedCloserDefault bufSize<=0 时使用默认
func TestNewBufferedCloserDefault(t *testing.T) {
	bc := newBufferedCloser(io.NopCloser(strings.NewReader("abc")), 0)
	assert.Equal(t, 64*1024, bc.Reader.Size())
	require.NoError(t, bc.Close())
}
