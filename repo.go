package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/preservio/ocfl/internal/pipeline"
	"github.com/preservio/ocfl/lock"
	"github.com/preservio/ocfl/logging"
)

// Repository is the facade over a storage engine: it orchestrates locking,
// staging, inventory building, and the engine's commit machinery. A single
// Repository is safe for concurrent use from many goroutines; writes to the
// same object are serialized by the object lock.
type Repository struct {
	engine     Engine
	locker     lock.Locker
	workDir    string
	clock      Clock
	logger     *slog.Logger
	conc       int
	alg        string
	contentDir string
	padding    int
	fixityAlgs []string
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithLocker sets the object locker. The default is an in-process locker;
// deployments with several processes writing to one repository use the
// SQL-backed locker.
func WithLocker(l lock.Locker) RepositoryOption {
	return func(r *Repository) { r.locker = l }
}

// WithWorkDir sets the directory for staging areas. It must exist and be
// writable. For the filesystem engine it should be on the same mount as the
// storage root so staged versions can be promoted with a rename.
func WithWorkDir(dir string) RepositoryOption {
	return func(r *Repository) { r.workDir = dir }
}

// WithClock sets the clock used for version timestamps.
func WithClock(c Clock) RepositoryOption {
	return func(r *Repository) { r.clock = c }
}

// WithLogger sets the repository's logger.
func WithLogger(l *slog.Logger) RepositoryOption {
	return func(r *Repository) { r.logger = l }
}

// WithConcurrency bounds the worker pools used for parallel digesting,
// transfer, and fixity checks. The default is the CPU count.
func WithConcurrency(n int) RepositoryOption {
	return func(r *Repository) { r.conc = n }
}

// WithDigestAlgorithm sets the primary digest algorithm for new objects:
// sha512 (default) or sha256.
func WithDigestAlgorithm(alg string) RepositoryOption {
	return func(r *Repository) { r.alg = alg }
}

// WithContentDirectory sets the content directory name for new objects.
func WithContentDirectory(dir string) RepositoryOption {
	return func(r *Repository) { r.contentDir = dir }
}

// WithVersionPadding sets zero-padding for new objects' version numbers.
func WithVersionPadding(p int) RepositoryOption {
	return func(r *Repository) { r.padding = p }
}

// WithFixityAlgorithms sets extra algorithms computed for new content and
// recorded in the inventory's fixity block.
func WithFixityAlgorithms(algs ...string) RepositoryOption {
	return func(r *Repository) { r.fixityAlgs = algs }
}

// NewRepository returns a Repository over the engine.
func NewRepository(engine Engine, opts ...RepositoryOption) (*Repository, error) {
	r := &Repository{
		engine:     engine,
		locker:     lock.NewInMemory(lock.DefaultTimeout),
		workDir:    os.TempDir(),
		clock:      SystemClock,
		logger:     logging.DisabledLogger(),
		conc:       runtime.NumCPU(),
		alg:        DefaultAlgorithm,
		contentDir: DefaultContentDirectory,
	}
	for _, opt := range opts {
		opt(r)
	}
	if !ValidObjectAlgorithm(r.alg) {
		return nil, fmt.Errorf("%w: digest algorithm %q", ErrInvalidInput, r.alg)
	}
	if strings.Contains(r.contentDir, "/") {
		return nil, fmt.Errorf("%w: content directory %q", ErrInvalidInput, r.contentDir)
	}
	info, err := os.Stat(r.workDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: work directory %q is not a directory", ErrInvalidInput, r.workDir)
	}
	return r, nil
}

// Close closes the underlying storage engine.
func (r *Repository) Close() error { return r.engine.Close() }

// commitOpt holds per-commit settings.
type commitOpt struct {
	expectedHead int
	pathFn       ContentPathFunc
}

// CommitOption configures a single commit.
type CommitOption func(*commitOpt)

// WithExpectedHead makes the commit fail with ErrObjectOutOfSync unless the
// object's head version number is v at commit time (0 for "object must not
// exist"). Without this option the commit applies to whatever head it finds.
func WithExpectedHead(v int) CommitOption {
	return func(o *commitOpt) { o.expectedHead = v }
}

// WithCommitContentPathFunc sets the content-path mapper for the commit.
func WithCommitContentPathFunc(fn ContentPathFunc) CommitOption {
	return func(o *commitOpt) { o.pathFn = fn }
}

// PutObject creates a new version of the object whose state is exactly the
// contents of srcDir: an object-level overwrite. Files already in the object
// with unchanged bytes are deduplicated, not re-stored.
func (r *Repository) PutObject(ctx context.Context, objectID, srcDir string, info VersionInfo, opts ...CommitOption) (*ObjectDetails, error) {
	return r.commitVersion(ctx, objectID, info, false, opts, func(u *Updater) error {
		u.ClearState()
		return addDirContents(u, srcDir)
	})
}

// UpdateObject creates a new version by applying the mutations that fn makes
// through the updater to the object's current state. If fn returns an error
// nothing is committed and the staged content is discarded.
func (r *Repository) UpdateObject(ctx context.Context, objectID string, info VersionInfo, fn func(*Updater) error, opts ...CommitOption) (*ObjectDetails, error) {
	return r.commitVersion(ctx, objectID, info, true, opts, fn)
}

// ReplicateVersionAsHead creates a new head version whose state equals
// version v's, without rewriting any content.
func (r *Repository) ReplicateVersionAsHead(ctx context.Context, objectID string, v int, info VersionInfo, opts ...CommitOption) (*ObjectDetails, error) {
	return r.commitVersion(ctx, objectID, info, true, opts, func(u *Updater) error {
		return u.SetStateFrom(v)
	})
}

// commitVersion is the shared immutable-commit pipeline (§ staging, build,
// store). requireExisting distinguishes update-style calls from put-style
// calls that may create the object.
func (r *Repository) commitVersion(ctx context.Context, objectID string, info VersionInfo, requireExisting bool, opts []CommitOption, mutate func(*Updater) error) (*ObjectDetails, error) {
	if objectID == "" {
		return nil, fmt.Errorf("%w: empty object id", ErrInvalidInput)
	}
	opt := commitOpt{expectedHead: -1}
	for _, o := range opts {
		o(&opt)
	}
	var details *ObjectDetails
	err := r.locker.DoInWriteLock(ctx, objectID, func() error {
		base, err := r.loadOrNil(ctx, objectID)
		if err != nil {
			return err
		}
		if base == nil && requireExisting {
			return fmt.Errorf("%w: object %q", ErrNotExist, objectID)
		}
		if err := checkExpectedHead(base, opt.expectedHead); err != nil {
			return err
		}
		if _, _, err := r.engine.LoadMutableHead(ctx, objectID); err == nil {
			return fmt.Errorf("%w: object %q has an active mutable head; commit or purge it first",
				ErrObjectState, objectID)
		} else if !errors.Is(err, ErrNotExist) {
			return err
		}
		next := V(1, r.padding)
		if base != nil {
			if next, err = base.Head.Next(); err != nil {
				return err
			}
		}
		contentRel := path.Join(next.String(), r.contentDirFor(base))
		stage, err := NewStage(r.workDir, objectID, contentRel, r.algFor(base), r.fixityAlgs...)
		if err != nil {
			return err
		}
		defer stage.Destroy()
		updaterOpts := []UpdaterOption{}
		if opt.pathFn != nil {
			updaterOpts = append(updaterOpts, WithContentPathFunc(opt.pathFn))
		}
		u, err := NewUpdater(base, stage, objectID, r.alg, r.contentDir, r.padding, updaterOpts...)
		if err != nil {
			return err
		}
		if err := mutate(u); err != nil {
			return err
		}
		newInv, err := u.Build(r.clock.Now(), info)
		if err != nil {
			return err
		}
		if err := stage.WriteInventoryFiles(newInv, newInv.Head.String()); err != nil {
			return err
		}
		r.logger.DebugContext(ctx, "storing new version",
			"object_id", objectID, "head", newInv.Head, "alg", newInv.DigestAlgorithm)
		if err := r.engine.StoreNewVersion(ctx, newInv, stage); err != nil {
			return err
		}
		if objPath, err := r.engine.ObjectRootPath(objectID); err == nil {
			newInv.SetRootPath(objPath)
		}
		details, err = newObjectDetails(newInv)
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

func (r *Repository) algFor(base *Inventory) string {
	if base != nil {
		return base.DigestAlgorithm
	}
	return r.alg
}

func (r *Repository) contentDirFor(base *Inventory) string {
	if base != nil {
		return base.ContentDir()
	}
	if r.contentDir == "" {
		return DefaultContentDirectory
	}
	return r.contentDir
}

func (r *Repository) loadOrNil(ctx context.Context, objectID string) (*Inventory, error) {
	inv, err := r.engine.LoadInventory(ctx, objectID)
	if err != nil {
		if errors.Is(err, ErrNotExist) || errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return inv, nil
}

func checkExpectedHead(base *Inventory, expected int) error {
	if expected < 0 {
		return nil
	}
	head := 0
	if base != nil {
		head = base.Head.Num()
	}
	if head != expected {
		return fmt.Errorf("%w: expected head v%d but object head is v%d",
			ErrObjectOutOfSync, expected, head)
	}
	return nil
}

// addDirContents stages every regular file under srcDir with its relative
// path as the logical path.
func addDirContents(u *Updater, srcDir string) error {
	return filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		_, err = u.AddFile(p, filepath.ToSlash(rel))
		return err
	})
}

// GetObject materializes version v of the object (0 for head) into outDir,
// verifying every file's digest while copying. outDir must not already
// exist.
func (r *Repository) GetObject(ctx context.Context, objectID string, v int, outDir string) error {
	inv, err := r.engine.LoadInventory(ctx, objectID)
	if err != nil {
		return err
	}
	if inv.Version(v) == nil {
		return fmt.Errorf("%w: object %q has no version with index %d", ErrNotExist, objectID, v)
	}
	if _, err := os.Stat(outDir); err == nil {
		return fmt.Errorf("%w: output directory %q already exists", ErrInvalidInput, outDir)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	type job struct {
		logical string
		digest  string
	}
	setupFn := func(add func(job) error) error {
		return inv.EachStatePath(v, func(logical, digest string, _ []string) error {
			return add(job{logical: logical, digest: digest})
		})
	}
	workFn := func(ctx context.Context, j job) (struct{}, error) {
		var zero struct{}
		contentPath, err := inv.ContentPath(v, j.logical)
		if err != nil {
			return zero, err
		}
		src, err := r.engine.OpenContent(ctx, inv, contentPath)
		if err != nil {
			return zero, err
		}
		defer src.Close()
		checked, err := NewFixityReader(src, inv.DigestAlgorithm, j.digest, j.logical)
		if err != nil {
			return zero, err
		}
		dst := filepath.Join(outDir, filepath.FromSlash(j.logical))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return zero, err
		}
		f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err != nil {
			return zero, err
		}
		_, copyErr := io.Copy(f, checked)
		// a fixity mismatch surfaces on the reader's EOF, before Close
		if closeErr := f.Close(); closeErr != nil {
			copyErr = errors.Join(copyErr, closeErr)
		}
		return zero, copyErr
	}
	err = pipeline.Run(ctx, setupFn, workFn, nil, r.conc)
	if err != nil {
		// don't leave a partial materialization behind
		os.RemoveAll(outDir)
		return err
	}
	return nil
}

// DescribeObject returns metadata for the object and all its versions.
func (r *Repository) DescribeObject(ctx context.Context, objectID string) (*ObjectDetails, error) {
	inv, err := r.engine.LoadInventory(ctx, objectID)
	if err != nil {
		return nil, err
	}
	return newObjectDetails(inv)
}

// DescribeVersion returns metadata for version v of the object (0 for head).
func (r *Repository) DescribeVersion(ctx context.Context, objectID string, v int) (*VersionDetails, error) {
	inv, err := r.engine.LoadInventory(ctx, objectID)
	if err != nil {
		return nil, err
	}
	return newVersionDetails(inv, v)
}

// FileChangeHistory returns the versions in which the logical path was
// introduced or changed digest, oldest first. The error wraps ErrNotExist if
// the path never existed in the object.
func (r *Repository) FileChangeHistory(ctx context.Context, objectID, logical string) ([]FileChange, error) {
	inv, err := r.engine.LoadInventory(ctx, objectID)
	if err != nil {
		return nil, err
	}
	var changes []FileChange
	var prevDigest string
	var seen bool
	for _, vnum := range inv.VNums() {
		ver := inv.Versions[vnum]
		digest := ver.State.GetDigest(logical)
		if digest == "" {
			prevDigest = ""
			continue
		}
		seen = true
		if strings.EqualFold(digest, prevDigest) {
			continue
		}
		contentPath, err := inv.ContentPath(vnum.Num(), logical)
		if err != nil {
			return nil, err
		}
		changes = append(changes, FileChange{
			VNum:        vnum,
			Created:     ver.Created,
			Message:     ver.Message,
			User:        ver.User,
			Digest:      digest,
			ContentPath: contentPath,
		})
		prevDigest = digest
	}
	if !seen {
		return nil, fmt.Errorf("%w: logical path %q in object %q", ErrNotExist, logical, objectID)
	}
	return changes, nil
}

// PurgeObject removes all traces of the object from storage. Irreversible.
func (r *Repository) PurgeObject(ctx context.Context, objectID string) error {
	return r.locker.DoInWriteLock(ctx, objectID, func() error {
		return r.engine.PurgeObject(ctx, objectID)
	})
}

// RollbackToVersion restores the object's head to version v, deleting all
// later version directories. The content published after v is lost.
func (r *Repository) RollbackToVersion(ctx context.Context, objectID string, v int) error {
	return r.locker.DoInWriteLock(ctx, objectID, func() error {
		inv, err := r.engine.LoadInventory(ctx, objectID)
		if err != nil {
			return err
		}
		target := V(v, inv.Head.Padding())
		if _, ok := inv.Versions[target]; !ok {
			return fmt.Errorf("%w: object %q has no version %s", ErrNotExist, objectID, target)
		}
		if target == inv.Head {
			return nil
		}
		return r.engine.RollbackToVersion(ctx, inv, target)
	})
}

// ExportObject copies the object's raw OCFL tree into dstDir.
func (r *Repository) ExportObject(ctx context.Context, objectID, dstDir string) error {
	return r.engine.ExportObject(ctx, objectID, dstDir)
}

// ExportVersion copies one raw version directory of the object into dstDir.
func (r *Repository) ExportVersion(ctx context.Context, objectID string, v int, dstDir string) error {
	inv, err := r.engine.LoadInventory(ctx, objectID)
	if err != nil {
		return err
	}
	target := V(v, inv.Head.Padding())
	if v == 0 {
		target = inv.Head
	}
	if _, ok := inv.Versions[target]; !ok {
		return fmt.Errorf("%w: object %q has no version %s", ErrNotExist, objectID, target)
	}
	return r.engine.ExportVersion(ctx, inv, target, dstDir)
}

// ImportObject ingests the raw OCFL object tree at srcDir. The tree is
// deep-validated before anything is written; the error wraps ErrObjectExists
// if an object with the same id is already in the repository.
func (r *Repository) ImportObject(ctx context.Context, srcDir string) (*ObjectDetails, error) {
	fsys := DirFS(srcDir)
	result := ValidateObject(ctx, fsys, ".", WithDeepValidation(true), WithValidationConcurrency(r.conc))
	if err := result.Err(); err != nil {
		return nil, err
	}
	inv := result.Inventory
	var details *ObjectDetails
	err := r.locker.DoInWriteLock(ctx, inv.ID, func() error {
		exists, err := r.engine.ContainsObject(ctx, inv.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %q", ErrObjectExists, inv.ID)
		}
		if err := r.engine.ImportObject(ctx, srcDir, inv.ID); err != nil {
			return err
		}
		details, err = newObjectDetails(inv)
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// ImportVersion appends an exported version directory to an existing object.
// srcDir must hold the version tree (vN with its inventory); the version's
// inventory must name this object and extend its current head by exactly
// one.
func (r *Repository) ImportVersion(ctx context.Context, srcDir string) (*ObjectDetails, error) {
	fsys := DirFS(srcDir)
	entries, err := fsys.ReadDir(ctx, ".")
	if err != nil {
		return nil, err
	}
	var vdir string
	for _, e := range entries {
		var v VNum
		if e.IsDir() && ParseVNum(e.Name(), &v) == nil {
			if vdir != "" {
				return nil, fmt.Errorf("%w: multiple version directories in %q", ErrInvalidInput, srcDir)
			}
			vdir = e.Name()
		}
	}
	if vdir == "" {
		return nil, fmt.Errorf("%w: no version directory in %q", ErrInvalidInput, srcDir)
	}
	newInv, err := ReadInventory(ctx, fsys, vdir)
	if err != nil {
		return nil, err
	}
	if newInv.Head.String() != vdir {
		return nil, fmt.Errorf("%w: inventory head %s doesn't match version directory %s",
			ErrInvalidInput, newInv.Head, vdir)
	}
	var details *ObjectDetails
	err = r.locker.DoInWriteLock(ctx, newInv.ID, func() error {
		base, err := r.engine.LoadInventory(ctx, newInv.ID)
		if err != nil {
			return err
		}
		next, err := base.Head.Next()
		if err != nil {
			return err
		}
		if newInv.Head != next {
			return fmt.Errorf("%w: imported version is %s but next version is %s",
				ErrObjectOutOfSync, newInv.Head, next)
		}
		stage, err := r.stageFromExport(ctx, fsys, newInv, vdir)
		if err != nil {
			return err
		}
		defer stage.Destroy()
		if err := r.engine.StoreNewVersion(ctx, newInv, stage); err != nil {
			return err
		}
		details, err = newObjectDetails(newInv)
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// stageFromExport rebuilds a staging area from an exported version tree,
// verifying each file against the manifest while copying.
func (r *Repository) stageFromExport(ctx context.Context, fsys FS, inv *Inventory, vdir string) (*Stage, error) {
	contentRel := path.Join(vdir, inv.ContentDir())
	stage, err := NewStage(r.workDir, inv.ID, contentRel, inv.DigestAlgorithm)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			stage.Destroy()
		}
	}()
	var walkErr error
	inv.Manifest.EachPath(func(contentPath, digest string) bool {
		if !strings.HasPrefix(contentPath, vdir+"/") {
			return true
		}
		f, err := fsys.OpenFile(ctx, contentPath)
		if err != nil {
			walkErr = err
			return false
		}
		defer f.Close()
		checked, err := NewFixityReader(f, inv.DigestAlgorithm, digest, contentPath)
		if err != nil {
			walkErr = err
			return false
		}
		sum, tmp, _, err := stage.Digest(checked)
		if err != nil {
			walkErr = err
			return false
		}
		if _, err := stage.Accept(sum, tmp, strings.TrimPrefix(contentPath, contentRel+"/")); err != nil {
			walkErr = err
			return false
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if err := stage.WriteInventoryFiles(inv, vdir); err != nil {
		return nil, err
	}
	ok = true
	return stage, nil
}

// ListObjectIDs returns a lazy iterator over the ids of every object in the
// repository.
func (r *Repository) ListObjectIDs(ctx context.Context) iter.Seq2[string, error] {
	return r.engine.ListObjectIDs(ctx)
}

// Validate runs offline verification of the stored object against its
// inventory. With deep enabled, every content file is re-digested.
func (r *Repository) Validate(ctx context.Context, objectID string, deep bool) error {
	objPath, err := r.engine.ObjectRootPath(objectID)
	if err != nil {
		return err
	}
	fsys, rootDir := r.engine.FS()
	result := ValidateObject(ctx, fsys, path.Join(rootDir, objPath),
		WithDeepValidation(deep), WithValidationConcurrency(r.conc))
	return result.Err()
}

// StageChanges appends a revision to the object's mutable head, creating the
// mutable head if necessary. The mutations fn makes through the updater are
// recorded in the in-progress version; no immutable version is created until
// CommitStagedChanges.
func (r *Repository) StageChanges(ctx context.Context, objectID string, info VersionInfo, fn func(*Updater) error) (*VersionDetails, error) {
	if objectID == "" {
		return nil, fmt.Errorf("%w: empty object id", ErrInvalidInput)
	}
	var details *VersionDetails
	err := r.locker.DoInWriteLock(ctx, objectID, func() error {
		base, rev, err := r.engine.LoadMutableHead(ctx, objectID)
		replaceHead := err == nil
		if err != nil {
			if !errors.Is(err, ErrNotExist) {
				return err
			}
			base, err = r.engine.LoadInventory(ctx, objectID)
			if err != nil {
				return err
			}
			rev = 0
		}
		nextRev := rev + 1
		contentRel := path.Join(MutableHeadDir, "content", fmt.Sprintf("r%d", nextRev))
		stage, err := NewStage(r.workDir, objectID, contentRel, base.DigestAlgorithm, r.fixityAlgs...)
		if err != nil {
			return err
		}
		defer stage.Destroy()
		updaterOpts := []UpdaterOption{}
		if replaceHead {
			updaterOpts = append(updaterOpts, withReplaceHead())
		}
		u, err := NewUpdater(base, stage, objectID, base.DigestAlgorithm, base.ContentDir(), 0, updaterOpts...)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		newInv, err := u.Build(r.clock.Now(), info)
		if err != nil {
			return err
		}
		if err := stage.WriteInventoryFiles(newInv, MutableHeadDir); err != nil {
			return err
		}
		r.logger.DebugContext(ctx, "storing mutable head revision",
			"object_id", objectID, "revision", nextRev, "head", newInv.Head)
		if err := r.engine.StoreNewRevision(ctx, newInv, nextRev, stage); err != nil {
			return err
		}
		details, err = newVersionDetails(newInv, 0)
		if details != nil {
			details.Mutable = true
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// CommitStagedChanges promotes the object's mutable head into a real
// immutable version. The error wraps ErrObjectState if no mutable head is
// active.
func (r *Repository) CommitStagedChanges(ctx context.Context, objectID string, info VersionInfo) (*ObjectDetails, error) {
	var details *ObjectDetails
	err := r.locker.DoInWriteLock(ctx, objectID, func() error {
		mh, _, err := r.engine.LoadMutableHead(ctx, objectID)
		if err != nil {
			if errors.Is(err, ErrNotExist) {
				return fmt.Errorf("%w: object %q has no mutable head", ErrObjectState, objectID)
			}
			return err
		}
		base, err := r.engine.LoadInventory(ctx, objectID)
		if err != nil {
			return err
		}
		// map mutable-head content into the promoted version directory
		moves := map[string]string{}
		dstPrefix := path.Join(mh.Head.String(), mh.ContentDir())
		mh.Manifest.EachPath(func(p, _ string) bool {
			if strings.HasPrefix(p, mutableHeadContentPrefix) {
				moves[p] = path.Join(dstPrefix, strings.TrimPrefix(p, mutableHeadContentPrefix))
			}
			return true
		})
		newInv, err := RemapManifest(mh, moves)
		if err != nil {
			return err
		}
		if ver := newInv.Versions[newInv.Head]; ver != nil {
			ver.Created = r.clock.Now().Truncate(time.Second)
			if info.Message != "" {
				ver.Message = info.Message
			}
			if info.User != nil {
				ver.User = info.User
			}
		}
		r.logger.DebugContext(ctx, "committing mutable head",
			"object_id", objectID, "head", newInv.Head)
		if err := r.engine.CommitMutableHead(ctx, base, newInv, moves); err != nil {
			return err
		}
		details, err = newObjectDetails(newInv)
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// PurgeStagedChanges discards the object's mutable head. A no-op if none is
// active.
func (r *Repository) PurgeStagedChanges(ctx context.Context, objectID string) error {
	return r.locker.DoInWriteLock(ctx, objectID, func() error {
		return r.engine.PurgeMutableHead(ctx, objectID)
	})
}
