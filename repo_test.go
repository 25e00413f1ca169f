package ocfl_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/preservio/ocfl"
	"github.com/preservio/ocfl/backend/local"
	"github.com/preservio/ocfl/extension"
	"github.com/preservio/ocfl/store"
)

func newStringReader(s string) io.Reader { return strings.NewReader(s) }

var testClock = ocfl.FixedClock(time.Date(2024, 5, 20, 10, 30, 0, 0, time.UTC))

// newTestRepo returns a repository over a filesystem engine in a temp
// directory, using the flat layout so object paths are predictable.
func newTestRepo(t *testing.T, opts ...ocfl.RepositoryOption) (*ocfl.Repository, string) {
	t.Helper()
	is := is.New(t)
	rootDir := filepath.Join(t.TempDir(), "root")
	backend, err := local.NewFS(rootDir)
	is.NoErr(err)
	engine, err := store.NewFileSystem(context.Background(), backend,
		store.InitIfEmpty(),
		store.WithLayout(extension.Ext0002().(extension.Layout)))
	is.NoErr(err)
	opts = append([]ocfl.RepositoryOption{
		ocfl.WithWorkDir(t.TempDir()),
		ocfl.WithClock(testClock),
		ocfl.WithDigestAlgorithm(ocfl.SHA256),
	}, opts...)
	repo, err := ocfl.NewRepository(engine, opts...)
	is.NoErr(err)
	t.Cleanup(func() { repo.Close() })
	return repo, rootDir
}

// writeSrcDir creates a source directory with the given files.
func writeSrcDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// readOutDir reads a materialized directory back into a map.
func readOutDir(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		byt, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(byt)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestPutObjectNew(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	src := map[string]string{"a.txt": "hello", "b/c.txt": "world"}
	details, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, src), ocfl.VersionInfo{Message: "first"})
	is.NoErr(err)
	is.Equal(details.Head, ocfl.V(1))
	is.Equal(len(details.HeadVersion().Files), 2)
	is.Equal(details.HeadVersion().Message, "first")

	// put then get reproduces the input bit-for-bit
	outDir := filepath.Join(t.TempDir(), "out")
	is.NoErr(repo.GetObject(ctx, "obj-1", 0, outDir))
	is.Equal(readOutDir(t, outDir), src)
}

func TestPutObjectDedup(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{
		"a.txt": "hello", "b/c.txt": "world",
	}), ocfl.VersionInfo{})
	is.NoErr(err)
	// v2 adds d.txt with the same bytes as a.txt: manifest is unchanged
	before, err := repo.DescribeObject(ctx, "obj-1")
	is.NoErr(err)
	details, err := repo.UpdateObject(ctx, "obj-1", ocfl.VersionInfo{}, func(u *ocfl.Updater) error {
		res, err := u.AddReader(newStringReader("hello"), "d.txt")
		if err != nil {
			return err
		}
		if res.IsNewBlob {
			t.Error("expected d.txt to dedup against a.txt")
		}
		return nil
	})
	is.NoErr(err)
	is.Equal(details.Head, ocfl.V(2))
	vd := details.HeadVersion()
	is.Equal(len(vd.Files), 3)
	is.Equal(vd.Files["a.txt"].Digest, vd.Files["d.txt"].Digest)
	is.Equal(vd.Files["a.txt"].ContentPath, vd.Files["d.txt"].ContentPath)
	is.Equal(before.HeadVersion().Files["a.txt"].ContentPath, vd.Files["a.txt"].ContentPath)
}

func TestConcurrentUpdateConflict(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "one"}), ocfl.VersionInfo{})
	is.NoErr(err)
	_, err = repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "two"}), ocfl.VersionInfo{})
	is.NoErr(err)
	// both writers read HEAD=v2 and require it at commit time
	details, err := repo.DescribeObject(ctx, "obj-1")
	is.NoErr(err)
	is.Equal(details.Head, ocfl.V(2))
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repo.UpdateObject(ctx, "obj-1", ocfl.VersionInfo{},
				func(u *ocfl.Updater) error {
					_, err := u.AddReader(newStringReader("change"), "change.txt")
					return err
				},
				ocfl.WithExpectedHead(2))
		}()
	}
	wg.Wait()
	winner, loser := errs[0], errs[1]
	if winner != nil {
		winner, loser = loser, winner
	}
	is.NoErr(winner)
	is.True(errors.Is(loser, ocfl.ErrObjectOutOfSync))
	final, err := repo.DescribeObject(ctx, "obj-1")
	is.NoErr(err)
	is.Equal(final.Head, ocfl.V(3))
}

func TestGetObjectFixityFailure(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, rootDir := newTestRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "hello"}), ocfl.VersionInfo{})
	is.NoErr(err)
	// corrupt the stored blob (same length, different bytes)
	blob := filepath.Join(rootDir, "obj-1", "v1", "content", "a.txt")
	is.NoErr(os.WriteFile(blob, []byte("HELLO"), 0644))
	err = repo.GetObject(ctx, "obj-1", 1, filepath.Join(t.TempDir(), "out"))
	var fixErr *ocfl.FixityError
	is.True(errors.As(err, &fixErr))
	is.Equal(fixErr.Path, "a.txt") // the error names the logical path
}

func TestUpdateObjectCallbackError(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "hello"}), ocfl.VersionInfo{})
	is.NoErr(err)
	boom := errors.New("boom")
	_, err = repo.UpdateObject(ctx, "obj-1", ocfl.VersionInfo{}, func(u *ocfl.Updater) error {
		if _, err := u.AddReader(newStringReader("junk"), "junk.txt"); err != nil {
			return err
		}
		return boom
	})
	is.True(errors.Is(err, boom))
	// nothing was committed
	details, err := repo.DescribeObject(ctx, "obj-1")
	is.NoErr(err)
	is.Equal(details.Head, ocfl.V(1))
}

func TestUpdateMissingObject(t *testing.T) {
	is := is.New(t)
	repo, _ := newTestRepo(t)
	_, err := repo.UpdateObject(context.Background(), "nope", ocfl.VersionInfo{},
		func(u *ocfl.Updater) error { return nil })
	is.True(errors.Is(err, ocfl.ErrNotExist))
}

func TestRollbackToVersion(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "one"}), ocfl.VersionInfo{})
	is.NoErr(err)
	outBefore := filepath.Join(t.TempDir(), "before")
	is.NoErr(repo.GetObject(ctx, "obj-1", 1, outBefore))
	_, err = repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "two", "b.txt": "x"}), ocfl.VersionInfo{})
	is.NoErr(err)
	_, err = repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "three"}), ocfl.VersionInfo{})
	is.NoErr(err)
	is.NoErr(repo.RollbackToVersion(ctx, "obj-1", 1))
	details, err := repo.DescribeObject(ctx, "obj-1")
	is.NoErr(err)
	is.Equal(details.Head, ocfl.V(1))
	// v1 reads exactly as it did before the later versions existed
	outAfter := filepath.Join(t.TempDir(), "after")
	is.NoErr(repo.GetObject(ctx, "obj-1", 1, outAfter))
	is.Equal(readOutDir(t, outAfter), readOutDir(t, outBefore))
	// rolling back to a missing version fails
	is.True(errors.Is(repo.RollbackToVersion(ctx, "obj-1", 5), ocfl.ErrNotExist))
}

func TestFileChangeHistory(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "one"}), ocfl.VersionInfo{})
	is.NoErr(err)
	// v2: unchanged
	_, err = repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "one", "b.txt": "x"}), ocfl.VersionInfo{})
	is.NoErr(err)
	// v3: changed
	_, err = repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "two"}), ocfl.VersionInfo{})
	is.NoErr(err)
	changes, err := repo.FileChangeHistory(ctx, "obj-1", "a.txt")
	is.NoErr(err)
	is.Equal(len(changes), 2)
	is.Equal(changes[0].VNum, ocfl.V(1))
	is.Equal(changes[1].VNum, ocfl.V(3))
	_, err = repo.FileChangeHistory(ctx, "obj-1", "never.txt")
	is.True(errors.Is(err, ocfl.ErrNotExist))
}

func TestReplicateVersionAsHead(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "one"}), ocfl.VersionInfo{})
	is.NoErr(err)
	_, err = repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "two"}), ocfl.VersionInfo{})
	is.NoErr(err)
	details, err := repo.ReplicateVersionAsHead(ctx, "obj-1", 1, ocfl.VersionInfo{Message: "restore v1"})
	is.NoErr(err)
	is.Equal(details.Head, ocfl.V(3))
	out := filepath.Join(t.TempDir(), "out")
	is.NoErr(repo.GetObject(ctx, "obj-1", 3, out))
	is.Equal(readOutDir(t, out), map[string]string{"a.txt": "one"})
}

func TestPurgeObject(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "x"}), ocfl.VersionInfo{})
	is.NoErr(err)
	is.NoErr(repo.PurgeObject(ctx, "obj-1"))
	_, err = repo.DescribeObject(ctx, "obj-1")
	is.True(errors.Is(err, ocfl.ErrNotExist))
}

func TestExportImportRoundTrip(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	src1 := map[string]string{"a.txt": "one", "b/c.txt": "two"}
	_, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, src1), ocfl.VersionInfo{Message: "v1"})
	is.NoErr(err)
	_, err = repo.UpdateObject(ctx, "obj-1", ocfl.VersionInfo{Message: "v2"}, func(u *ocfl.Updater) error {
		_, err := u.AddReader(newStringReader("three"), "d.txt")
		return err
	})
	is.NoErr(err)
	exportDir := filepath.Join(t.TempDir(), "export")
	is.NoErr(repo.ExportObject(ctx, "obj-1", exportDir))
	exported := readOutDir(t, exportDir)
	// importing into a fresh repository reproduces the byte-identical tree
	repo2, root2 := newTestRepo(t)
	details, err := repo2.ImportObject(ctx, exportDir)
	is.NoErr(err)
	is.Equal(details.ID, "obj-1")
	is.Equal(details.Head, ocfl.V(2))
	is.Equal(readOutDir(t, filepath.Join(root2, "obj-1")), exported)
	// importing again collides
	_, err = repo2.ImportObject(ctx, exportDir)
	is.True(errors.Is(err, ocfl.ErrObjectExists))
}

func TestExportVersionAndImportVersion(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "one"}), ocfl.VersionInfo{})
	is.NoErr(err)
	_, err = repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "two"}), ocfl.VersionInfo{})
	is.NoErr(err)
	exportDir := filepath.Join(t.TempDir(), "v2-export")
	is.NoErr(repo.ExportVersion(ctx, "obj-1", 2, exportDir))
	// replay the exported version onto a copy of the object at v1
	is.NoErr(repo.RollbackToVersion(ctx, "obj-1", 1))
	details, err := repo.ImportVersion(ctx, exportDir)
	is.NoErr(err)
	is.Equal(details.Head, ocfl.V(2))
	out := filepath.Join(t.TempDir(), "out")
	is.NoErr(repo.GetObject(ctx, "obj-1", 2, out))
	is.Equal(readOutDir(t, out), map[string]string{"a.txt": "two"})
}

func TestListObjectIDs(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	want := map[string]bool{"obj-1": true, "obj-2": true, "obj-3": true}
	for id := range want {
		_, err := repo.PutObject(ctx, id, writeSrcDir(t, map[string]string{"a.txt": id}), ocfl.VersionInfo{})
		is.NoErr(err)
	}
	got := map[string]bool{}
	for id, err := range repo.ListObjectIDs(ctx) {
		is.NoErr(err)
		got[id] = true
	}
	is.Equal(got, want)
}

func TestValidateObject(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, rootDir := newTestRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "hello"}), ocfl.VersionInfo{})
	is.NoErr(err)
	is.NoErr(repo.Validate(ctx, "obj-1", true))
	// corrupt a blob: shallow validation passes, deep fails
	blob := filepath.Join(rootDir, "obj-1", "v1", "content", "a.txt")
	is.NoErr(os.WriteFile(blob, []byte("HELLO"), 0644))
	is.NoErr(repo.Validate(ctx, "obj-1", false))
	err = repo.Validate(ctx, "obj-1", true)
	var fixErr *ocfl.FixityError
	is.True(errors.As(err, &fixErr))
	is.Equal(fixErr.Path, "v1/content/a.txt")
}

func TestGetObjectOutDirExists(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", writeSrcDir(t, map[string]string{"a.txt": "x"}), ocfl.VersionInfo{})
	is.NoErr(err)
	err = repo.GetObject(ctx, "obj-1", 0, t.TempDir()) // pre-existing dir
	is.True(errors.Is(err, ocfl.ErrInvalidInput))
}
