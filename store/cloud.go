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
	"runtime"
	"strings"
	"sync"

	"github.com/preservio/ocfl"
	"golang.org/x/sync/errgroup"
)

// Cloud is the storage engine for object stores. Object stores have durable
// per-key writes but no multi-key transactions, so a commit uploads all
// content and the version inventory first, then publishes by copying the
// version inventory over the root inventory (and then the sidecar)
// server-side. Failures before the publish point roll back by deleting the
// keys uploaded so far; failures during the publish copy the previous
// version's inventory back. Content uploads run on a bounded worker pool.
type Cloud struct {
	*root
	backend ocfl.CopyFS
	conc    int
}

var _ ocfl.Engine = (*Cloud)(nil)

// NewCloud returns a cloud engine over backend, rooted at dir ("." for the
// whole bucket). With InitIfEmpty, an empty prefix is initialized as a new
// storage root.
func NewCloud(ctx context.Context, backend ocfl.CopyFS, dir string, opts ...Option) (*Cloud, error) {
	c := newConfig(opts)
	r, err := openOrInitRoot(ctx, backend, dir, c)
	if err != nil {
		return nil, err
	}
	conc := c.conc
	if conc < 1 {
		conc = runtime.NumCPU()
	}
	return &Cloud{root: r, backend: backend, conc: conc}, nil
}

// Close implements part of ocfl.Engine.
func (e *Cloud) Close() error { return nil }

// keyList tracks uploaded keys for rollback.
type keyList struct {
	mu   sync.Mutex
	keys []string
}

func (l *keyList) add(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
}

// deleteAll removes the tracked keys, best effort: rollback must not mask
// the original failure.
func (l *keyList) deleteAll(ctx context.Context, fsys ocfl.WriteFS) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for _, key := range l.keys {
		if err := fsys.Remove(ctx, key); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StoreNewVersion implements part of ocfl.Engine.
func (e *Cloud) StoreNewVersion(ctx context.Context, inv *ocfl.Inventory, stage *ocfl.Stage) (err error) {
	objDir, err := e.objectDir(inv.ID)
	if err != nil {
		return err
	}
	vDir := path.Join(objDir, inv.Head.String())
	// advisory only: the object lock is the authoritative mutual exclusion
	if exists, err := ocfl.DirExists(ctx, e.fsys, vDir); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: version directory %s already exists", ocfl.ErrObjectOutOfSync, inv.Head)
	}
	uploaded := &keyList{}
	defer func() {
		if err == nil {
			return
		}
		if rollbackErr := uploaded.deleteAll(ctx, e.backend); rollbackErr != nil {
			err = &ocfl.CommitError{Err: errors.Join(err, rollbackErr), Dirty: true}
		}
	}()
	if inv.Head.First() {
		decl := ocfl.Namaste{Type: ocfl.NamasteTypeObject, Version: inv.Type.Spec}
		declKey := path.Join(objDir, decl.Name())
		if _, err = e.backend.Write(ctx, declKey, strings.NewReader(decl.Body())); err != nil {
			return err
		}
		uploaded.add(declKey)
	}
	// upload-content phase
	if err = e.uploadStage(ctx, objDir, stage, uploaded); err != nil {
		return err
	}
	// upload-version-inventory phase
	sidecar := ocfl.SidecarName(inv.DigestAlgorithm)
	for _, name := range []string{"inventory.json", sidecar} {
		key := path.Join(vDir, name)
		if err = e.uploadFile(ctx, path.Join(stage.Root(), inv.Head.String(), name), key); err != nil {
			return err
		}
		uploaded.add(key)
	}
	// swap-root phase: this is the publish point
	if err = e.swapRoot(ctx, objDir, vDir, inv, uploaded); err != nil {
		return err
	}
	return nil
}

// uploadStage uploads the staged content files on the engine's worker pool,
// tracking each key for rollback. Workers stop between files when ctx is
// cancelled.
func (e *Cloud) uploadStage(ctx context.Context, objDir string, stage *ocfl.Stage, uploaded *keyList) error {
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(e.conc)
	err := stage.Walk(func(contentPath, osPath string, size int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := path.Join(objDir, contentPath)
		grp.Go(func() error {
			if err := e.uploadFile(ctx, osPath, key); err != nil {
				return err
			}
			uploaded.add(key)
			return nil
		})
		return nil
	})
	if grpErr := grp.Wait(); grpErr != nil {
		return grpErr
	}
	return err
}

func (e *Cloud) uploadFile(ctx context.Context, osPath, key string) error {
	f, err := os.Open(osPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := e.backend.Write(ctx, key, f); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// swapRoot publishes the new version: server-side copy of the version
// inventory to the object root, then the sidecar. A failure between the two
// copies restores the previous version's inventory before rollback deletes
// the new keys.
func (e *Cloud) swapRoot(ctx context.Context, objDir, vDir string, inv *ocfl.Inventory, uploaded *keyList) error {
	sidecar := ocfl.SidecarName(inv.DigestAlgorithm)
	var swapErr error
	for _, name := range []string{"inventory.json", sidecar} {
		if swapErr = e.backend.Copy(ctx, path.Join(objDir, name), path.Join(vDir, name)); swapErr != nil {
			break
		}
	}
	if swapErr == nil {
		return nil
	}
	// restore the previous inventory at the root, if there is one
	if prev, err := inv.Head.Prev(); err == nil {
		prevDir := path.Join(objDir, prev.String())
		for _, name := range []string{"inventory.json", sidecar} {
			if err := e.backend.Copy(ctx, path.Join(objDir, name), path.Join(prevDir, name)); err != nil {
				return &ocfl.CommitError{Err: errors.Join(swapErr, err), Dirty: true}
			}
		}
	}
	return fmt.Errorf("publishing root inventory: %w", swapErr)
}

// PurgeObject implements part of ocfl.Engine.
func (e *Cloud) PurgeObject(ctx context.Context, objectID string) error {
	objDir, err := e.objectDir(objectID)
	if err != nil {
		return err
	}
	if err := e.backend.RemoveAll(ctx, objDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RollbackToVersion implements part of ocfl.Engine.
func (e *Cloud) RollbackToVersion(ctx context.Context, inv *ocfl.Inventory, v ocfl.VNum) error {
	objDir := path.Join(e.dir, inv.RootPath())
	vDir := path.Join(objDir, v.String())
	for _, name := range []string{"inventory.json", ocfl.SidecarName(inv.DigestAlgorithm)} {
		if err := e.backend.Copy(ctx, path.Join(objDir, name), path.Join(vDir, name)); err != nil {
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

// StoreNewRevision implements part of ocfl.Engine. The revision marker is
// checked and written before the head inventory is replaced; a writer that
// lost the race on the marker fails with ErrObjectOutOfSync.
func (e *Cloud) StoreNewRevision(ctx context.Context, inv *ocfl.Inventory, rev int, stage *ocfl.Stage) (err error) {
	objDir, err := e.objectDir(inv.ID)
	if err != nil {
		return err
	}
	marker := path.Join(objDir, ocfl.MutableHeadRevisionsDir, revisionName(rev))
	if _, openErr := e.fsys.OpenFile(ctx, marker); openErr == nil {
		return fmt.Errorf("%w: mutable head revision %d already exists", ocfl.ErrObjectOutOfSync, rev)
	} else if !errors.Is(openErr, fs.ErrNotExist) {
		return openErr
	}
	uploaded := &keyList{}
	defer func() {
		if err == nil {
			return
		}
		if rollbackErr := uploaded.deleteAll(ctx, e.backend); rollbackErr != nil {
			err = &ocfl.CommitError{Err: errors.Join(err, rollbackErr), Dirty: true}
		}
	}()
	if err = e.uploadStage(ctx, objDir, stage, uploaded); err != nil {
		return err
	}
	if _, err = e.backend.Write(ctx, marker, strings.NewReader("")); err != nil {
		return err
	}
	uploaded.add(marker)
	headDir := path.Join(objDir, ocfl.MutableHeadDir)
	for _, name := range []string{"inventory.json", ocfl.SidecarName(inv.DigestAlgorithm)} {
		if err = e.uploadFile(ctx, path.Join(stage.Root(), name), path.Join(headDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// CommitMutableHead implements part of ocfl.Engine. Blobs are copied
// server-side from the extension directory into the version directory, the
// version inventory uploaded, the root swapped, and the extension subtree
// deleted.
func (e *Cloud) CommitMutableHead(ctx context.Context, base, newInv *ocfl.Inventory, moves map[string]string) (err error) {
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
	uploaded := &keyList{}
	defer func() {
		if err == nil {
			return
		}
		if rollbackErr := uploaded.deleteAll(ctx, e.backend); rollbackErr != nil {
			err = &ocfl.CommitError{Err: errors.Join(err, rollbackErr), Dirty: true}
		}
	}()
	// copy phase: mutable-head blobs to their version-directory keys
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(e.conc)
	for src, dst := range moves {
		grp.Go(func() error {
			srcKey := path.Join(objDir, src)
			dstKey := path.Join(objDir, dst)
			if err := e.backend.Copy(grpCtx, dstKey, srcKey); err != nil {
				return err
			}
			uploaded.add(dstKey)
			return nil
		})
	}
	if err = grp.Wait(); err != nil {
		return err
	}
	// version inventory, then publish
	if err = ocfl.WriteInventory(ctx, e.backend, newInv, vDir); err != nil {
		return err
	}
	uploaded.add(path.Join(vDir, "inventory.json"))
	uploaded.add(path.Join(vDir, ocfl.SidecarName(newInv.DigestAlgorithm)))
	if err = e.swapRoot(ctx, objDir, vDir, newInv, uploaded); err != nil {
		return err
	}
	// the publish succeeded: clear the extension subtree
	if err := e.backend.RemoveAll(ctx, path.Join(objDir, ocfl.ExtensionsDir, ocfl.MutableHeadExt)); err != nil {
		return &ocfl.CommitError{Err: err, Dirty: true}
	}
	return nil
}

// PurgeMutableHead implements part of ocfl.Engine.
func (e *Cloud) PurgeMutableHead(ctx context.Context, objectID string) error {
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
func (e *Cloud) ExportObject(ctx context.Context, objectID string, dstDir string) error {
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
func (e *Cloud) ExportVersion(ctx context.Context, inv *ocfl.Inventory, v ocfl.VNum, dstDir string) error {
	src := path.Join(e.dir, inv.RootPath(), v.String())
	return exportTree(ctx, e.fsys, src, path.Join(dstDir, v.String()))
}

// ImportObject implements part of ocfl.Engine. The inventory and sidecar
// keys are uploaded last so a partially-imported object is never readable.
func (e *Cloud) ImportObject(ctx context.Context, srcDir string, objectID string) error {
	objDir, err := e.objectDir(objectID)
	if err != nil {
		return err
	}
	if exists, err := ocfl.DirExists(ctx, e.fsys, objDir); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %q", ocfl.ErrObjectExists, objectID)
	}
	var rootFiles []string
	err = filepathWalkFiles(srcDir, func(rel, osPath string) error {
		if !strings.Contains(rel, "/") {
			rootFiles = append(rootFiles, rel)
			return nil
		}
		return e.uploadFile(ctx, osPath, path.Join(objDir, rel))
	})
	if err != nil {
		return err
	}
	for _, rel := range rootFiles {
		osPath := filepath.Join(srcDir, filepath.FromSlash(rel))
		if err := e.uploadFile(ctx, osPath, path.Join(objDir, rel)); err != nil {
			return err
		}
	}
	return nil
}

// ListObjectIDs implements part of ocfl.Engine. Directory listings run on
// the engine's worker pool; each listing is a network round-trip.
func (e *Cloud) ListObjectIDs(ctx context.Context) iter.Seq2[string, error] {
	return e.listObjectIDs(ctx, e.conc)
}
