package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/preservio/ocfl"
	"github.com/preservio/ocfl/backend/local"
)

// FileSystem is the storage engine for object roots on a POSIX filesystem.
// Staged versions are written on the same filesystem as the storage root, so
// promotion is a directory rename and the root inventory swap is a
// write-then-rename: both atomic within a mount. All I/O is serial.
type FileSystem struct {
	*root
	backend *local.FS
}

var _ ocfl.Engine = (*FileSystem)(nil)

// NewFileSystem returns a filesystem engine over the backend's root
// directory. With InitIfEmpty, an empty or missing directory is initialized
// as a new storage root. Orphaned artifacts from interrupted commits
// (inventory.json.new files and *.tmp directories) are swept on startup.
func NewFileSystem(ctx context.Context, backend *local.FS, opts ...Option) (*FileSystem, error) {
	c := newConfig(opts)
	r, err := openOrInitRoot(ctx, backend, ".", c)
	if err != nil {
		return nil, err
	}
	engine := &FileSystem{root: r, backend: backend}
	if err := engine.sweepOrphans(ctx); err != nil {
		return nil, fmt.Errorf("sweeping orphaned commit artifacts: %w", err)
	}
	return engine, nil
}

// Close implements part of ocfl.Engine.
func (e *FileSystem) Close() error { return nil }

// sweepOrphans deletes leftovers of interrupted commits: inventory swap
// files that were never renamed into place and staging directories that were
// never promoted.
func (e *FileSystem) sweepOrphans(ctx context.Context) error {
	return filepath.WalkDir(e.backend.Root(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		name := d.Name()
		switch {
		case d.IsDir() && strings.HasSuffix(name, ".tmp"):
			if err := os.RemoveAll(p); err != nil {
				return err
			}
			return filepath.SkipDir
		case !d.IsDir() && strings.HasSuffix(name, ".new"):
			return os.Remove(p)
		}
		return nil
	})
}

// StoreNewVersion implements part of ocfl.Engine. The staged version
// directory is renamed into the object root; the root inventory and sidecar
// are then each replaced via write-to-temp-and-rename. On failure the
// version directory is removed again.
func (e *FileSystem) StoreNewVersion(ctx context.Context, inv *ocfl.Inventory, stage *ocfl.Stage) (err error) {
	objDir, err := e.objectDir(inv.ID)
	if err != nil {
		return err
	}
	vDir := path.Join(objDir, inv.Head.String())
	if exists, err := ocfl.DirExists(ctx, e.fsys, vDir); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: version directory %s already exists", ocfl.ErrObjectOutOfSync, inv.Head)
	}
	isNew := inv.Head.First()
	if isNew {
		decl := ocfl.Namaste{Type: ocfl.NamasteTypeObject, Version: inv.Type.Spec}
		if err := ocfl.WriteDeclaration(ctx, e.backend, objDir, decl); err != nil {
			return err
		}
	}
	// promotion: move the staged version directory into the object root
	stagedVDir := filepath.Join(stage.Root(), inv.Head.String())
	if err := e.backend.RenameFrom(ctx, stagedVDir, vDir); err != nil {
		return &ocfl.CommitError{Err: fmt.Errorf("promoting staged version: %w", err)}
	}
	defer func() {
		if err == nil {
			return
		}
		// roll the promotion back; the object must look untouched
		var rollbackErr error
		if isNew {
			rollbackErr = e.backend.RemoveAll(ctx, objDir)
		} else {
			// the root inventory may have been replaced before the failure;
			// restore it from the previous head's version directory
			if prev, prevErr := inv.Head.Prev(); prevErr == nil {
				prevDir := path.Join(objDir, prev.String())
				for _, name := range []string{"inventory.json", ocfl.SidecarName(inv.DigestAlgorithm)} {
					srcOsPath, osErr := e.backend.OsPath(path.Join(prevDir, name))
					if osErr == nil {
						rollbackErr = errors.Join(rollbackErr, e.replaceFile(ctx, srcOsPath, path.Join(objDir, name)))
					}
				}
			}
			rollbackErr = errors.Join(rollbackErr, e.backend.RemoveAll(ctx, vDir))
		}
		if rollbackErr != nil {
			err = &ocfl.CommitError{Err: errors.Join(err, rollbackErr), Dirty: true}
		}
	}()
	// publish: swap the root inventory, then the sidecar
	if err = e.swapRootInventory(ctx, objDir, stage.Root(), inv.DigestAlgorithm); err != nil {
		return err
	}
	return nil
}

// swapRootInventory replaces the object's root inventory.json and sidecar
// with the copies in the local staging directory stageRoot, using
// write-fsync-rename for each.
func (e *FileSystem) swapRootInventory(ctx context.Context, objDir, stageRoot, alg string) error {
	names := []string{"inventory.json", ocfl.SidecarName(alg)}
	for _, name := range names {
		src := filepath.Join(stageRoot, name)
		if err := e.replaceFile(ctx, src, path.Join(objDir, name)); err != nil {
			return fmt.Errorf("replacing root %s: %w", name, err)
		}
	}
	return nil
}

// replaceFile writes srcOsPath's contents to dst.new, fsyncs, and renames
// over dst.
func (e *FileSystem) replaceFile(ctx context.Context, srcOsPath, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dstOsPath, err := e.backend.OsPath(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstOsPath), 0755); err != nil {
		return err
	}
	byt, err := os.ReadFile(srcOsPath)
	if err != nil {
		return err
	}
	tmp := dstOsPath + ".new"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(byt); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dstOsPath)
}

// PurgeObject implements part of ocfl.Engine.
func (e *FileSystem) PurgeObject(ctx context.Context, objectID string) error {
	objDir, err := e.objectDir(objectID)
	if err != nil {
		return err
	}
	if err := e.backend.RemoveAll(ctx, objDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RollbackToVersion implements part of ocfl.Engine: the root inventory is
// restored from version v's directory, then all later version directories
// are deleted.
func (e *FileSystem) RollbackToVersion(ctx context.Context, inv *ocfl.Inventory, v ocfl.VNum) error {
	objDir := path.Join(e.dir, inv.RootPath())
	vDir := path.Join(objDir, v.String())
	for _, name := range []string{"inventory.json", ocfl.SidecarName(inv.DigestAlgorithm)} {
		srcOsPath, err := e.backend.OsPath(path.Join(vDir, name))
		if err != nil {
			return err
		}
		if err := e.replaceFile(ctx, srcOsPath, path.Join(objDir, name)); err != nil {
			return err
		}
	}
	for _, later := range inv.VNums() {
		if later.Num() <= v.Num() {
			continue
		}
		if err := e.backend.RemoveAll(ctx, path.Join(objDir, later.String())); err != nil {
			return err
		}
	}
	return nil
}

// StoreNewRevision implements part of ocfl.Engine. The staged revision
// content is renamed into the mutable head; the revision marker is written
// before the head inventory is replaced, so a concurrent writer that lost
// the race fails its own marker check.
func (e *FileSystem) StoreNewRevision(ctx context.Context, inv *ocfl.Inventory, rev int, stage *ocfl.Stage) error {
	objDir, err := e.objectDir(inv.ID)
	if err != nil {
		return err
	}
	marker := path.Join(objDir, ocfl.MutableHeadRevisionsDir, revisionName(rev))
	if _, err := e.fsys.OpenFile(ctx, marker); err == nil {
		return fmt.Errorf("%w: mutable head revision %d already exists", ocfl.ErrObjectOutOfSync, rev)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	contentRel := stage.ContentRel()
	stagedContent := filepath.Join(stage.Root(), filepath.FromSlash(contentRel))
	if _, err := os.Stat(stagedContent); err == nil {
		if err := e.backend.RenameFrom(ctx, stagedContent, path.Join(objDir, contentRel)); err != nil {
			return fmt.Errorf("promoting staged revision: %w", err)
		}
	}
	if _, err := e.backend.Write(ctx, marker, strings.NewReader("")); err != nil {
		return err
	}
	headDir := path.Join(objDir, ocfl.MutableHeadDir)
	for _, name := range []string{"inventory.json", ocfl.SidecarName(inv.DigestAlgorithm)} {
		src := filepath.Join(stage.Root(), name)
		if err := e.replaceFile(ctx, src, path.Join(headDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// CommitMutableHead implements part of ocfl.Engine. The mutable head's
// content directory is renamed wholesale into the new version directory
// (the revision subdirectories ride along, matching the content paths in
// newInv), the version inventory is written, the root inventory swapped,
// and the extension subtree removed.
func (e *FileSystem) CommitMutableHead(ctx context.Context, base, newInv *ocfl.Inventory, moves map[string]string) (err error) {
	objDir, err := e.objectDir(newInv.ID)
	if err != nil {
		return err
	}
	vDir := path.Join(objDir, newInv.Head.String())
	if exists, err := ocfl.DirExists(ctx, e.fsys, vDir); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: version directory %s already exists", ocfl.ErrObjectOutOfSync, newInv.Head)
	}
	headContent := path.Join(objDir, ocfl.MutableHeadDir, "content")
	vContent := path.Join(vDir, newInv.ContentDir())
	moved := false
	if exists, err := ocfl.DirExists(ctx, e.fsys, headContent); err != nil {
		return err
	} else if exists {
		if err := e.backend.Rename(ctx, headContent, vContent); err != nil {
			return fmt.Errorf("promoting mutable head content: %w", err)
		}
		moved = true
	}
	defer func() {
		if err == nil {
			return
		}
		var rollbackErr error
		if moved {
			rollbackErr = e.backend.Rename(ctx, vContent, headContent)
		}
		rollbackErr = errors.Join(rollbackErr, e.backend.RemoveAll(ctx, vDir))
		if rollbackErr != nil {
			err = &ocfl.CommitError{Err: errors.Join(err, rollbackErr), Dirty: true}
		}
	}()
	if err = ocfl.WriteInventory(ctx, e.backend, newInv, vDir); err != nil {
		return err
	}
	// publish, then discard the extension subtree
	vOsDir, err := e.backend.OsPath(vDir)
	if err != nil {
		return err
	}
	for _, name := range []string{"inventory.json", ocfl.SidecarName(newInv.DigestAlgorithm)} {
		if err = e.replaceFile(ctx, filepath.Join(vOsDir, name), path.Join(objDir, name)); err != nil {
			return err
		}
	}
	if err := e.backend.RemoveAll(ctx, path.Join(objDir, ocfl.ExtensionsDir, ocfl.MutableHeadExt)); err != nil {
		return &ocfl.CommitError{Err: err, Dirty: true}
	}
	return nil
}

// PurgeMutableHead implements part of ocfl.Engine.
func (e *FileSystem) PurgeMutableHead(ctx context.Context, objectID string) error {
	objDir, err := e.objectDir(objectID)
	if err != nil {
		return err
	}
	err = e.backend.RemoveAll(ctx, path.Join(objDir, ocfl.ExtensionsDir, ocfl.MutableHeadExt))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ExportObject implements part of ocfl.Engine.
func (e *FileSystem) ExportObject(ctx context.Context, objectID string, dstDir string) error {
	objDir, err := e.objectDir(objectID)
	if err != nil {
		return err
	}
	if exists, err := ocfl.DirExists(ctx, e.fsys, objDir); err != nil {
		return err
	} else if !exists {
		return fmt.Errorf("%w: object %q", ocfl.ErrNotExist, objectID)
	}
	return exportTree(ctx, e.fsys, objDir, dstDir)
}

// ExportVersion implements part of ocfl.Engine.
func (e *FileSystem) ExportVersion(ctx context.Context, inv *ocfl.Inventory, v ocfl.VNum, dstDir string) error {
	src := path.Join(e.dir, inv.RootPath(), v.String())
	return exportTree(ctx, e.fsys, src, filepath.Join(dstDir, v.String()))
}

// ImportObject implements part of ocfl.Engine. The tree is copied into a
// temporary directory next to the object root and renamed into place.
func (e *FileSystem) ImportObject(ctx context.Context, srcDir string, objectID string) error {
	objDir, err := e.objectDir(objectID)
	if err != nil {
		return err
	}
	if exists, err := ocfl.DirExists(ctx, e.fsys, objDir); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %q", ocfl.ErrObjectExists, objectID)
	}
	tmpDir := objDir + ".tmp"
	if err := importTree(ctx, e.backend, srcDir, tmpDir); err != nil {
		e.backend.RemoveAll(ctx, tmpDir)
		return err
	}
	if err := e.backend.Rename(ctx, tmpDir, objDir); err != nil {
		e.backend.RemoveAll(ctx, tmpDir)
		return err
	}
	return nil
}

// ListObjectIDs implements part of ocfl.Engine. The walk is serial: local
// directory reads are cheap.
func (e *FileSystem) ListObjectIDs(ctx context.Context) iter.Seq2[string, error] {
	return e.listObjectIDs(ctx, 1)
}
