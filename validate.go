package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/preservio/ocfl/internal/pipeline"
)

// ValidationResult collects the problems found while verifying a stored
// object tree against its inventory.
type ValidationResult struct {
	// Inventory is the object's root inventory, if it could be read.
	Inventory *Inventory

	errs []error
}

// Err returns all recorded problems joined, or nil if the object validated.
func (r *ValidationResult) Err() error {
	return errors.Join(r.errs...)
}

func (r *ValidationResult) fatal(err error) {
	r.errs = append(r.errs, err)
}

type validateOpt struct {
	deep bool
	conc int
}

// ValidationOption configures ValidateObject.
type ValidationOption func(*validateOpt)

// WithDeepValidation enables re-digesting every content file. Without it,
// content files are only checked for existence.
func WithDeepValidation(deep bool) ValidationOption {
	return func(o *validateOpt) { o.deep = deep }
}

// WithValidationConcurrency bounds the worker pool for deep validation.
func WithValidationConcurrency(n int) ValidationOption {
	return func(o *validateOpt) { o.conc = n }
}

// ValidateObject verifies the object tree at dir in fsys against its
// inventory: NAMASTE declaration, sidecar digest, version directory
// sequence, manifest path existence, and, in deep mode, the digest of every
// content file and its fixity entries.
func ValidateObject(ctx context.Context, fsys FS, dir string, opts ...ValidationOption) *ValidationResult {
	opt := validateOpt{}
	for _, o := range opts {
		o(&opt)
	}
	result := &ValidationResult{}
	entries, err := fsys.ReadDir(ctx, dir)
	if err != nil {
		result.fatal(err)
		return result
	}
	// object declaration
	decl, err := FindNamaste(entries)
	if err != nil {
		result.fatal(fmt.Errorf("%w: %s", ErrCorruptObject, err))
	} else {
		if !decl.IsObject() {
			result.fatal(fmt.Errorf("%w: declaration has type %q", ErrCorruptObject, decl.Type))
		}
		if err := ValidateDeclaration(ctx, fsys, path.Join(dir, decl.Name())); err != nil {
			result.fatal(fmt.Errorf("%w: %s", ErrCorruptObject, err))
		}
	}
	// root inventory: sidecar digest and shallow consistency
	inv, err := ReadInventory(ctx, fsys, dir)
	if err != nil {
		result.fatal(err)
		return result
	}
	result.Inventory = inv
	// version directories: continuous sequence, uniform padding, no strays
	var vdirs VNums
	for _, e := range entries {
		var v VNum
		if e.IsDir() && ParseVNum(e.Name(), &v) == nil {
			vdirs = append(vdirs, v)
		}
	}
	if err := vdirs.Valid(); err != nil {
		result.fatal(fmt.Errorf("%w: version directories: %s", ErrCorruptObject, err))
	}
	if len(vdirs) != len(inv.Versions) || vdirs.Head() != inv.Head {
		result.fatal(fmt.Errorf("%w: version directories don't match inventory versions",
			ErrCorruptObject))
	}
	// the head version's inventory must match the root inventory
	headSidecar := path.Join(dir, inv.Head.String(), SidecarName(inv.DigestAlgorithm))
	if declared, err := ReadSidecar(ctx, fsys, headSidecar); err != nil {
		result.fatal(err)
	} else if !strings.EqualFold(declared, inv.Digest()) {
		result.fatal(fmt.Errorf("%w: head version inventory doesn't match root inventory",
			ErrCorruptObject))
	}
	validateContent(ctx, fsys, dir, inv, &opt, result)
	validateNoStrayContent(ctx, fsys, dir, inv, result)
	return result
}

// validateContent checks that every manifest path exists and, in deep mode,
// that its contents produce the manifest digest and any fixity digests.
func validateContent(ctx context.Context, fsys FS, dir string, inv *Inventory, opt *validateOpt, result *ValidationResult) {
	type job struct {
		contentPath string
		digests     DigestSet
	}
	setupFn := func(add func(job) error) error {
		var err error
		inv.Manifest.EachPath(func(p, digest string) bool {
			digests := DigestSet{inv.DigestAlgorithm: digest}
			for alg, fix := range inv.Fixity {
				if sum := fix.GetDigest(p); sum != "" {
					digests[alg] = sum
				}
			}
			err = add(job{contentPath: p, digests: digests})
			return err == nil
		})
		return err
	}
	workFn := func(ctx context.Context, j job) (error, error) {
		f, err := fsys.OpenFile(ctx, path.Join(dir, j.contentPath))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: missing content file %q", ErrCorruptObject, j.contentPath), nil
			}
			return nil, err
		}
		defer f.Close()
		if !opt.deep {
			return nil, nil
		}
		if err := j.digests.Validate(f); err != nil {
			var fixErr *FixityError
			if errors.As(err, &fixErr) {
				fixErr.Path = j.contentPath
				return fixErr, nil
			}
			return nil, err
		}
		return nil, nil
	}
	resultFn := func(problem error) error {
		if problem != nil {
			result.fatal(problem)
		}
		return nil
	}
	if err := pipeline.Run(ctx, setupFn, workFn, resultFn, opt.conc); err != nil {
		result.fatal(err)
	}
}

// validateNoStrayContent checks that every file in the version directories'
// content trees appears in the manifest.
func validateNoStrayContent(ctx context.Context, fsys FS, dir string, inv *Inventory, result *ValidationResult) {
	manifestPaths := inv.Manifest.Paths()
	for _, v := range inv.VNums() {
		contentDir := path.Join(v.String(), inv.ContentDir())
		err := walkFiles(ctx, fsys, path.Join(dir, contentDir), contentDir, func(name string) error {
			if _, ok := manifestPaths[name]; !ok {
				return fmt.Errorf("%w: file %q is not in the manifest", ErrCorruptObject, name)
			}
			return nil
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.fatal(err)
		}
	}
}

// walkFiles calls fn with the rel-prefixed path of every file under dir.
func walkFiles(ctx context.Context, fsys FS, dir, rel string, fn func(name string) error) error {
	entries, err := fsys.ReadDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := path.Join(rel, e.Name())
		if e.IsDir() {
			if err := walkFiles(ctx, fsys, path.Join(dir, e.Name()), name, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(name); err != nil {
			return err
		}
	}
	return nil
}

// DeepValidate is a convenience for fsck-style commands: it runs
// ValidateObject in deep mode and returns the error.
func DeepValidate(ctx context.Context, fsys FS, dir string, conc int) error {
	return ValidateObject(ctx, fsys, dir, WithDeepValidation(true), WithValidationConcurrency(conc)).Err()
}
