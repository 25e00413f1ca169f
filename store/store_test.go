package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/preservio/ocfl"
	"github.com/preservio/ocfl/backend/cloud"
	"github.com/preservio/ocfl/backend/local"
	"github.com/preservio/ocfl/extension"
	"github.com/preservio/ocfl/store"
	"gocloud.dev/blob/memblob"
)

var testClock = ocfl.FixedClock(time.Date(2024, 5, 20, 10, 30, 0, 0, time.UTC))

func newCloudRepo(t *testing.T) (*ocfl.Repository, *cloud.FS) {
	t.Helper()
	is := is.New(t)
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	fsys := cloud.NewFS(bucket)
	engine, err := store.NewCloud(context.Background(), fsys, ".",
		store.InitIfEmpty(),
		store.WithLayout(extension.Ext0002().(extension.Layout)),
		store.WithConcurrency(2))
	is.NoErr(err)
	repo, err := ocfl.NewRepository(engine,
		ocfl.WithWorkDir(t.TempDir()),
		ocfl.WithClock(testClock),
		ocfl.WithDigestAlgorithm(ocfl.SHA256))
	is.NoErr(err)
	t.Cleanup(func() { repo.Close() })
	return repo, fsys
}

func newFSRepo(t *testing.T) (*ocfl.Repository, string) {
	t.Helper()
	is := is.New(t)
	rootDir := filepath.Join(t.TempDir(), "root")
	backend, err := local.NewFS(rootDir)
	is.NoErr(err)
	engine, err := store.NewFileSystem(context.Background(), backend,
		store.InitIfEmpty(),
		store.WithLayout(extension.Ext0002().(extension.Layout)))
	is.NoErr(err)
	repo, err := ocfl.NewRepository(engine,
		ocfl.WithWorkDir(t.TempDir()),
		ocfl.WithClock(testClock),
		ocfl.WithDigestAlgorithm(ocfl.SHA256))
	is.NoErr(err)
	t.Cleanup(func() { repo.Close() })
	return repo, rootDir
}

func srcDir(t *testing.T, files map[string]string) string {
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

func readDir(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
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

func TestInitAndReopenRoot(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	rootDir := filepath.Join(t.TempDir(), "root")
	backend, err := local.NewFS(rootDir)
	is.NoErr(err)
	engine, err := store.NewFileSystem(ctx, backend, store.InitIfEmpty(),
		store.WithLayout(extension.Ext0004().(extension.Layout)),
		store.WithDescription("test root"))
	is.NoErr(err)
	is.Equal(engine.Description(), "test root")
	is.Equal(engine.Spec(), ocfl.Spec1_1)
	// the root declaration and layout config are on disk
	for _, f := range []string{"0=ocfl_1.1", "ocfl_layout.json",
		"extensions/0004-hashed-n-tuple-storage-layout/config.json"} {
		_, err := os.Stat(filepath.Join(rootDir, filepath.FromSlash(f)))
		is.NoErr(err)
	}
	// reopen without init
	engine2, err := store.NewFileSystem(ctx, backend)
	is.NoErr(err)
	is.Equal(engine2.Description(), "test root")
	is.Equal(engine2.Layout().Name(), "0004-hashed-n-tuple-storage-layout")
	// an uninitialized directory is rejected without InitIfEmpty
	empty, err := local.NewFS(filepath.Join(t.TempDir(), "empty"))
	is.NoErr(err)
	_, err = store.NewFileSystem(ctx, empty)
	is.True(errors.Is(err, store.ErrNotInitialized))
}

func TestCloudPutGet(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newCloudRepo(t)
	src := map[string]string{"a.txt": "hello", "b/c.txt": "world"}
	details, err := repo.PutObject(ctx, "obj-1", srcDir(t, src), ocfl.VersionInfo{Message: "first"})
	is.NoErr(err)
	is.Equal(details.Head, ocfl.V(1))
	_, err = repo.PutObject(ctx, "obj-1", srcDir(t, map[string]string{"a.txt": "hello", "d.txt": "new"}), ocfl.VersionInfo{})
	is.NoErr(err)
	out := filepath.Join(t.TempDir(), "out")
	is.NoErr(repo.GetObject(ctx, "obj-1", 0, out))
	is.Equal(readDir(t, out), map[string]string{"a.txt": "hello", "d.txt": "new"})
	// earlier versions stay readable
	out1 := filepath.Join(t.TempDir(), "out1")
	is.NoErr(repo.GetObject(ctx, "obj-1", 1, out1))
	is.Equal(readDir(t, out1), src)
}

func TestCloudListAndPurge(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newCloudRepo(t)
	for _, id := range []string{"obj-1", "obj-2"} {
		_, err := repo.PutObject(ctx, id, srcDir(t, map[string]string{"a.txt": id}), ocfl.VersionInfo{})
		is.NoErr(err)
	}
	got := map[string]bool{}
	for id, err := range repo.ListObjectIDs(ctx) {
		is.NoErr(err)
		got[id] = true
	}
	is.Equal(got, map[string]bool{"obj-1": true, "obj-2": true})
	is.NoErr(repo.PurgeObject(ctx, "obj-1"))
	_, err := repo.DescribeObject(ctx, "obj-1")
	is.True(errors.Is(err, ocfl.ErrNotExist))
}

func TestCloudRollback(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newCloudRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", srcDir(t, map[string]string{"a.txt": "one"}), ocfl.VersionInfo{})
	is.NoErr(err)
	_, err = repo.PutObject(ctx, "obj-1", srcDir(t, map[string]string{"a.txt": "two"}), ocfl.VersionInfo{})
	is.NoErr(err)
	is.NoErr(repo.RollbackToVersion(ctx, "obj-1", 1))
	details, err := repo.DescribeObject(ctx, "obj-1")
	is.NoErr(err)
	is.Equal(details.Head, ocfl.V(1))
}

func testMutableHead(t *testing.T, repo *ocfl.Repository) {
	is := is.New(t)
	ctx := context.Background()
	_, err := repo.PutObject(ctx, "obj-1", srcDir(t, map[string]string{"a.txt": "one"}), ocfl.VersionInfo{})
	is.NoErr(err)
	// first revision
	vd, err := repo.StageChanges(ctx, "obj-1", ocfl.VersionInfo{Message: "wip"}, func(u *ocfl.Updater) error {
		_, err := u.AddReader(strings.NewReader("two"), "b.txt")
		return err
	})
	is.NoErr(err)
	is.True(vd.Mutable)
	is.Equal(vd.VNum, ocfl.V(2))
	// the immutable head is unchanged
	details, err := repo.DescribeObject(ctx, "obj-1")
	is.NoErr(err)
	is.Equal(details.Head, ocfl.V(1))
	// immutable commits are refused while the mutable head is active
	_, err = repo.PutObject(ctx, "obj-1", srcDir(t, map[string]string{"x.txt": "x"}), ocfl.VersionInfo{})
	is.True(errors.Is(err, ocfl.ErrObjectState))
	// second revision
	_, err = repo.StageChanges(ctx, "obj-1", ocfl.VersionInfo{Message: "wip2"}, func(u *ocfl.Updater) error {
		_, err := u.AddReader(strings.NewReader("three"), "c.txt")
		return err
	})
	is.NoErr(err)
	// promote
	promoted, err := repo.CommitStagedChanges(ctx, "obj-1", ocfl.VersionInfo{Message: "final"})
	is.NoErr(err)
	is.Equal(promoted.Head, ocfl.V(2))
	is.Equal(promoted.HeadVersion().Message, "final")
	out := filepath.Join(t.TempDir(), "out")
	is.NoErr(repo.GetObject(ctx, "obj-1", 2, out))
	is.Equal(readDir(t, out), map[string]string{"a.txt": "one", "b.txt": "two", "c.txt": "three"})
	// committing again is an error: no mutable head remains
	_, err = repo.CommitStagedChanges(ctx, "obj-1", ocfl.VersionInfo{})
	is.True(errors.Is(err, ocfl.ErrObjectState))
	// a later immutable commit proceeds normally
	_, err = repo.UpdateObject(ctx, "obj-1", ocfl.VersionInfo{}, func(u *ocfl.Updater) error {
		return u.RemoveFile("b.txt")
	})
	is.NoErr(err)
}

func TestMutableHeadFileSystem(t *testing.T) {
	repo, rootDir := newFSRepo(t)
	testMutableHead(t, repo)
	// the extension subtree is gone after the promote
	_, err := os.Stat(filepath.Join(rootDir, "obj-1", "extensions", "0005-mutable-head"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("mutable head subtree still present: %v", err)
	}
}

func TestMutableHeadCloud(t *testing.T) {
	repo, _ := newCloudRepo(t)
	testMutableHead(t, repo)
}

func TestPurgeMutableHead(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newFSRepo(t)
	_, err := repo.PutObject(ctx, "obj-1", srcDir(t, map[string]string{"a.txt": "one"}), ocfl.VersionInfo{})
	is.NoErr(err)
	_, err = repo.StageChanges(ctx, "obj-1", ocfl.VersionInfo{}, func(u *ocfl.Updater) error {
		_, err := u.AddReader(strings.NewReader("two"), "b.txt")
		return err
	})
	is.NoErr(err)
	is.NoErr(repo.PurgeStagedChanges(ctx, "obj-1"))
	// the staged changes are gone; immutable commits work again
	_, err = repo.PutObject(ctx, "obj-1", srcDir(t, map[string]string{"a.txt": "one"}), ocfl.VersionInfo{})
	is.NoErr(err)
	details, err := repo.DescribeObject(ctx, "obj-1")
	is.NoErr(err)
	is.Equal(details.Head, ocfl.V(2))
	is.Equal(details.HeadVersion().Files["b.txt"], nil)
}

func TestOrphanSweep(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	rootDir := filepath.Join(t.TempDir(), "root")
	backend, err := local.NewFS(rootDir)
	is.NoErr(err)
	_, err = store.NewFileSystem(ctx, backend, store.InitIfEmpty(),
		store.WithLayout(extension.Ext0002().(extension.Layout)))
	is.NoErr(err)
	// simulate artifacts of an interrupted commit
	orphanDir := filepath.Join(rootDir, "obj-1.tmp")
	is.NoErr(os.MkdirAll(orphanDir, 0755))
	is.NoErr(os.WriteFile(filepath.Join(orphanDir, "junk"), []byte("x"), 0644))
	orphanInv := filepath.Join(rootDir, "inventory.json.new")
	is.NoErr(os.WriteFile(orphanInv, []byte("{}"), 0644))
	// reopening the engine sweeps them
	_, err = store.NewFileSystem(ctx, backend)
	is.NoErr(err)
	_, err = os.Stat(orphanDir)
	is.True(errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(orphanInv)
	is.True(errors.Is(err, os.ErrNotExist))
}

func TestCloudExportImport(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo, _ := newCloudRepo(t)
	src := map[string]string{"a.txt": "one"}
	_, err := repo.PutObject(ctx, "obj-1", srcDir(t, src), ocfl.VersionInfo{})
	is.NoErr(err)
	exportDir := filepath.Join(t.TempDir(), "export")
	is.NoErr(repo.ExportObject(ctx, "obj-1", exportDir))
	// the exported tree contains the object declaration and version content
	exported := readDir(t, exportDir)
	is.Equal(exported["0=ocfl_object_1.1"], "ocfl_object_1.1\n")
	is.Equal(exported["v1/content/a.txt"], "one")
	// import into a second cloud repository
	repo2, _ := newCloudRepo(t)
	details, err := repo2.ImportObject(ctx, exportDir)
	is.NoErr(err)
	is.Equal(details.ID, "obj-1")
	out := filepath.Join(t.TempDir(), "out")
	is.NoErr(repo2.GetObject(ctx, "obj-1", 0, out))
	is.Equal(readDir(t, out), src)
}
