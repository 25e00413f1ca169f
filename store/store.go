// Package store implements the two storage engines behind the repository
// facade: FileSystem, for object roots on a POSIX filesystem, and Cloud, for
// object stores. Both satisfy the ocfl.Engine contract; they differ in how
// staged versions are promoted to "atomic enough" published state. The
// package also manages the storage root itself: NAMASTE declaration, layout
// configuration, and object scanning.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/preservio/ocfl"
	"github.com/preservio/ocfl/extension"
	"github.com/preservio/ocfl/internal/walkdirs"
	"github.com/preservio/ocfl/logging"
)

const (
	layoutConfigFile    = "ocfl_layout.json"
	extensionConfigFile = "config.json"
	descriptionKey      = "description"
	extensionKey        = "extension"

	// inventoryRetryDelay is the backoff before re-reading a root inventory
	// whose sidecar doesn't match: the reader may have caught a writer
	// between the two root-file replacements.
	inventoryRetryDelay = 100 * time.Millisecond
)

var (
	ErrLayoutUndefined = errors.New("storage root's layout is undefined")
	ErrNotInitialized  = errors.New("directory is not an OCFL storage root")
)

// root holds what the two engines share: the backend, the storage root
// location, its spec and layout, and the read-side operations.
type root struct {
	fsys   ocfl.FS
	dir    string
	spec   ocfl.Spec
	layout extension.Layout
	desc   string
	logger *slog.Logger
}

// config collects the options shared by the engine constructors.
type config struct {
	layout extension.Layout
	spec   ocfl.Spec
	desc   string
	init   bool
	logger *slog.Logger
	conc   int
}

// Option configures an engine constructor.
type Option func(*config)

// InitIfEmpty allows the constructor to initialize a new storage root when
// the target directory is empty or missing.
func InitIfEmpty() Option {
	return func(c *config) { c.init = true }
}

// WithLayout sets the storage layout for a newly-initialized root. Existing
// roots use the layout recorded in ocfl_layout.json.
func WithLayout(layout extension.Layout) Option {
	return func(c *config) { c.layout = layout }
}

// WithDescription sets the description recorded in a new root's
// ocfl_layout.json.
func WithDescription(desc string) Option {
	return func(c *config) { c.desc = desc }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithConcurrency bounds the cloud engine's transfer pools. The filesystem
// engine is serial and ignores it.
func WithConcurrency(n int) Option {
	return func(c *config) { c.conc = n }
}

func newConfig(opts []Option) *config {
	c := &config{
		spec:   ocfl.Spec1_1,
		logger: logging.DisabledLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.layout == nil {
		c.layout = extension.Ext0004().(extension.Layout)
	}
	return c
}

// openOrInitRoot reads an existing storage root in fsys at dir, or
// initializes a new one when permitted.
func openOrInitRoot(ctx context.Context, fsys ocfl.FS, dir string, c *config) (*root, error) {
	r := &root{fsys: fsys, dir: dir, logger: c.logger}
	entries, err := fsys.ReadDir(ctx, dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if len(entries) == 0 {
		if !c.init {
			return nil, fmt.Errorf("%w: %q", ErrNotInitialized, dir)
		}
		if err := r.init(ctx, c); err != nil {
			return nil, fmt.Errorf("initializing storage root: %w", err)
		}
		return r, nil
	}
	decl, err := ocfl.FindNamaste(entries)
	if err == nil && !decl.IsRoot() {
		err = fmt.Errorf("NAMASTE declaration has type %q", decl.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, err)
	}
	r.spec = decl.Version
	if err := r.readLayout(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// init writes the storage root declaration, layout config, and the layout
// extension's own config document.
func (r *root) init(ctx context.Context, c *config) error {
	writeFS, ok := r.fsys.(ocfl.WriteFS)
	if !ok {
		return ocfl.ErrOpUnsupported
	}
	r.spec = c.spec
	r.layout = c.layout
	r.desc = c.desc
	decl := ocfl.Namaste{Type: ocfl.NamasteTypeRoot, Version: c.spec}
	if err := ocfl.WriteDeclaration(ctx, writeFS, r.dir, decl); err != nil {
		return err
	}
	layoutCfg, err := json.Marshal(map[string]string{
		extensionKey:   c.layout.Name(),
		descriptionKey: c.desc,
	})
	if err != nil {
		return err
	}
	if _, err := writeFS.Write(ctx, path.Join(r.dir, layoutConfigFile), strings.NewReader(string(layoutCfg)+"\n")); err != nil {
		return err
	}
	extCfg, err := json.Marshal(c.layout)
	if err != nil {
		return err
	}
	extCfgPath := path.Join(r.dir, ocfl.ExtensionsDir, c.layout.Name(), extensionConfigFile)
	if _, err := writeFS.Write(ctx, extCfgPath, strings.NewReader(string(extCfg)+"\n")); err != nil {
		return err
	}
	return nil
}

// readLayout loads ocfl_layout.json and the named extension's config.
func (r *root) readLayout(ctx context.Context) error {
	byt, err := ocfl.ReadAll(ctx, r.fsys, path.Join(r.dir, layoutConfigFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrLayoutUndefined
		}
		return err
	}
	var cfg map[string]string
	if err := json.Unmarshal(byt, &cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", layoutConfigFile, err)
	}
	r.desc = cfg[descriptionKey]
	name := cfg[extensionKey]
	if name == "" {
		return ErrLayoutUndefined
	}
	extCfgPath := path.Join(r.dir, ocfl.ExtensionsDir, name, extensionConfigFile)
	extBytes, err := ocfl.ReadAll(ctx, r.fsys, extCfgPath)
	switch {
	case err == nil:
		ext, err := extension.Unmarshal(extBytes)
		if err != nil {
			return fmt.Errorf("parsing config for extension %s: %w", name, err)
		}
		layout, ok := ext.(extension.Layout)
		if !ok {
			return fmt.Errorf("%w: %s", extension.ErrNotLayout, name)
		}
		r.layout = layout
	case errors.Is(err, fs.ErrNotExist):
		// extension config is optional; use defaults
		layout, getErr := extension.GetLayout(name)
		if getErr != nil {
			return getErr
		}
		r.layout = layout
	default:
		return err
	}
	return nil
}

// Description returns the storage root's description.
func (r *root) Description() string { return r.desc }

// Spec returns the storage root's OCFL spec version.
func (r *root) Spec() ocfl.Spec { return r.spec }

// Layout returns the storage root's layout extension.
func (r *root) Layout() extension.Layout { return r.layout }

// FS implements part of ocfl.Engine.
func (r *root) FS() (ocfl.FS, string) { return r.fsys, r.dir }

// ObjectRootPath implements part of ocfl.Engine.
func (r *root) ObjectRootPath(objectID string) (string, error) {
	if r.layout == nil {
		return "", ErrLayoutUndefined
	}
	objPath, err := r.layout.Resolve(objectID)
	if err != nil {
		return "", fmt.Errorf("%w: object id %q: %s", ocfl.ErrInvalidInput, objectID, err)
	}
	if !fs.ValidPath(objPath) || objPath == "." {
		return "", fmt.Errorf("layout resolved id %q to an invalid path: %s", objectID, objPath)
	}
	return objPath, nil
}

// objectDir returns the object's directory relative to the backend.
func (r *root) objectDir(objectID string) (string, error) {
	objPath, err := r.ObjectRootPath(objectID)
	if err != nil {
		return "", err
	}
	return path.Join(r.dir, objPath), nil
}

// ContainsObject implements part of ocfl.Engine.
func (r *root) ContainsObject(ctx context.Context, objectID string) (bool, error) {
	objDir, err := r.objectDir(objectID)
	if err != nil {
		return false, err
	}
	if _, err := r.fsys.OpenFile(ctx, path.Join(objDir, "inventory.json")); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LoadInventory implements part of ocfl.Engine. A digest mismatch between
// the root inventory and its sidecar is retried once after a short backoff:
// the reader may have observed the window between the writer's two root-file
// replacements. A persistent mismatch surfaces as ErrCorruptObject.
func (r *root) LoadInventory(ctx context.Context, objectID string) (*ocfl.Inventory, error) {
	objDir, err := r.objectDir(objectID)
	if err != nil {
		return nil, err
	}
	inv, err := ocfl.ReadInventory(ctx, r.fsys, objDir)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: object %q", ocfl.ErrNotExist, objectID)
		case errors.Is(err, ocfl.ErrCorruptObject):
			r.logger.DebugContext(ctx, "retrying inventory read after mismatch",
				"object_id", objectID, "err", err)
			time.Sleep(inventoryRetryDelay)
			inv, err = ocfl.ReadInventory(ctx, r.fsys, objDir)
			if err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
	if inv.ID != objectID {
		return nil, fmt.Errorf("%w: inventory at %q has id %q, not %q",
			ocfl.ErrCorruptObject, objDir, inv.ID, objectID)
	}
	objPath, _ := r.ObjectRootPath(objectID)
	inv.SetRootPath(objPath)
	return inv, nil
}

// OpenContent implements part of ocfl.Engine.
func (r *root) OpenContent(ctx context.Context, inv *ocfl.Inventory, contentPath string) (io.ReadCloser, error) {
	f, err := r.fsys.OpenFile(ctx, path.Join(r.dir, inv.RootPath(), contentPath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: content path %q", ocfl.ErrCorruptObject, contentPath)
		}
		return nil, err
	}
	return f, nil
}

// LoadMutableHead implements part of ocfl.Engine.
func (r *root) LoadMutableHead(ctx context.Context, objectID string) (*ocfl.Inventory, int, error) {
	objDir, err := r.objectDir(objectID)
	if err != nil {
		return nil, 0, err
	}
	headDir := path.Join(objDir, ocfl.MutableHeadDir)
	inv, err := ocfl.ReadInventory(ctx, r.fsys, headDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: object %q has no mutable head", ocfl.ErrNotExist, objectID)
		}
		return nil, 0, err
	}
	objPath, _ := r.ObjectRootPath(objectID)
	inv.SetRootPath(objPath)
	rev, err := r.latestRevision(ctx, objDir)
	if err != nil {
		return nil, 0, err
	}
	return inv, rev, nil
}

// latestRevision returns the highest revision marker number, or 0.
func (r *root) latestRevision(ctx context.Context, objDir string) (int, error) {
	entries, err := r.fsys.ReadDir(ctx, path.Join(objDir, ocfl.MutableHeadRevisionsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	max := 0
	for _, e := range entries {
		n, err := parseRevision(e.Name())
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

func parseRevision(name string) (int, error) {
	if !strings.HasPrefix(name, "r") {
		return 0, fmt.Errorf("not a revision marker: %q", name)
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("not a revision marker: %q", name)
	}
	return n, nil
}

func revisionName(rev int) string { return "r" + strconv.Itoa(rev) }

// listObjectIDs walks the storage root for object declarations and yields
// each object's id, read from its inventory. Directory reads run
// concurrently on backends where listing round-trips dominate.
func (r *root) listObjectIDs(ctx context.Context, gos int) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		skip := func(dir string) bool {
			return path.Base(dir) == ocfl.ExtensionsDir
		}
		walkFn := func(name string, entries []fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			decl, declErr := ocfl.FindNamaste(entries)
			if declErr != nil || !decl.IsObject() {
				return nil
			}
			id, idErr := readInventoryID(ctx, r.fsys, name)
			if !yield(id, idErr) {
				return errStopIter
			}
			return walkdirs.ErrSkipDirs
		}
		err := walkdirs.WalkDirs(ctx, r.fsys, r.dir, skip, walkFn, gos)
		if err != nil && !errors.Is(err, errStopIter) {
			yield("", err)
		}
	}
}

var errStopIter = errors.New("stop iteration")

// readInventoryID decodes just the id field of the inventory in dir.
func readInventoryID(ctx context.Context, fsys ocfl.FS, dir string) (string, error) {
	byt, err := ocfl.ReadAll(ctx, fsys, path.Join(dir, "inventory.json"))
	if err != nil {
		return "", err
	}
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(byt, &head); err != nil {
		return "", fmt.Errorf("%w: %s", ocfl.ErrCorruptObject, err)
	}
	return head.ID, nil
}

// exportTree copies the file tree at srcDir in fsys to the local directory
// dstDir.
func exportTree(ctx context.Context, fsys ocfl.FS, srcDir, dstDir string) error {
	entries, err := fsys.ReadDir(ctx, srcDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return err
	}
	for _, e := range entries {
		src := path.Join(srcDir, e.Name())
		dst := filepath.Join(dstDir, e.Name())
		if e.IsDir() {
			if err := exportTree(ctx, fsys, src, dst); err != nil {
				return err
			}
			continue
		}
		if err := exportFile(ctx, fsys, src, dst); err != nil {
			return err
		}
	}
	return nil
}

func exportFile(ctx context.Context, fsys ocfl.FS, src, dst string) (err error) {
	f, err := fsys.OpenFile(ctx, src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, f); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// filepathWalkFiles calls fn for each regular file under the local
// directory srcDir with its slash-separated relative path and its os path.
func filepathWalkFiles(srcDir string, fn func(rel, osPath string) error) error {
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
		return fn(filepath.ToSlash(rel), p)
	})
}

// importTree uploads the local file tree at srcDir to dstDir in fsys.
func importTree(ctx context.Context, fsys ocfl.WriteFS, srcDir, dstDir string) error {
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
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = fsys.Write(ctx, path.Join(dstDir, filepath.ToSlash(rel)), f)
		return err
	})
}
