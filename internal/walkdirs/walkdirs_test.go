package walkdirs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/matryer/is"
)

// osFS adapts a local directory to the walker's FS.
type osFS struct {
	root string
}

func (f osFS) ReadDir(_ context.Context, name string) ([]fs.DirEntry, error) {
	return os.ReadDir(filepath.Join(f.root, filepath.FromSlash(name)))
}

func writeTree(t *testing.T, files []string) osFS {
	t.Helper()
	root := t.TempDir()
	for _, name := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return osFS{root: root}
}

func TestWalkDirs(t *testing.T) {
	is := is.New(t)
	fsys := writeTree(t, []string{
		"a/one.txt",
		"a/b/two.txt",
		"c/three.txt",
		"top.txt",
	})
	var visited []string
	fn := func(name string, entries []fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		visited = append(visited, name)
		return nil
	}
	is.NoErr(WalkDirs(context.Background(), fsys, ".", nil, fn, 1))
	sort.Strings(visited)
	is.Equal(visited, []string{".", "a", "a/b", "c"})
}

func TestWalkDirsSkip(t *testing.T) {
	is := is.New(t)
	fsys := writeTree(t, []string{
		"a/one.txt",
		"a/sub/two.txt",
		"skipme/three.txt",
	})
	var visited []string
	skip := func(dir string) bool { return dir == "skipme" }
	fn := func(name string, entries []fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		visited = append(visited, name)
		if name == "a" {
			return ErrSkipDirs
		}
		return nil
	}
	is.NoErr(WalkDirs(context.Background(), fsys, ".", skip, fn, 2))
	sort.Strings(visited)
	is.Equal(visited, []string{".", "a"})
}

func TestWalkDirsError(t *testing.T) {
	is := is.New(t)
	fsys := writeTree(t, []string{"a/one.txt", "b/two.txt"})
	boom := errors.New("boom")
	fn := func(name string, entries []fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if name != "." {
			return boom
		}
		return nil
	}
	err := WalkDirs(context.Background(), fsys, ".", nil, fn, 2)
	is.True(errors.Is(err, boom))
}
