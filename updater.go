package ocfl

import (
	"fmt"
	"io"
	"os"
	"time"
)

// ContentPathFunc maps a logical path and digest to the path used for the
// blob within a version's content directory. Mappers must return valid
// relative slash paths.
type ContentPathFunc func(logical, digest string) string

// DefaultContentPathFunc stores blobs at their logical paths.
func DefaultContentPathFunc(logical, _ string) string { return logical }

// FlatContentPathFunc stores blobs directly in the content directory,
// percent-encoding path separators and reserved characters.
func FlatContentPathFunc(logical, _ string) string { return percentEncode(logical) }

// DigestContentPathFunc stores blobs under their digest values.
func DigestContentPathFunc(_, digest string) string { return digest }

func percentEncode(in string) string {
	const lowerhex = "0123456789abcdef"
	shouldEscape := func(c byte) bool {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
			return false
		case c == '-', c == '_', c == '.':
			return false
		}
		return true
	}
	var numEscape int
	for i := 0; i < len(in); i++ {
		if shouldEscape(in[i]) {
			numEscape++
		}
	}
	if numEscape == 0 {
		return in
	}
	out := make([]byte, 0, len(in)+2*numEscape)
	for i := 0; i < len(in); i++ {
		if shouldEscape(in[i]) {
			out = append(out, '%', lowerhex[in[i]>>4], lowerhex[in[i]&15])
			continue
		}
		out = append(out, in[i])
	}
	return string(out)
}

// AddResult describes the outcome of staging one file.
type AddResult struct {
	// IsNewBlob is false when the file's digest was already in the manifest
	// and no new content was staged.
	IsNewBlob bool
	// ContentPath is the object-root-relative path allocated for the blob.
	// Empty when IsNewBlob is false.
	ContentPath string
	// Digest is the file's digest using the object's algorithm.
	Digest string
}

// Updater is a transactional builder for an object's next inventory. It
// accumulates logical-state mutations and staged content; nothing touches
// the stored object until the repository commits the built inventory. The
// base inventory is never modified.
type Updater struct {
	base     *Inventory // nil when creating a new object
	id       string
	spec     Spec
	alg      string
	cdir     string
	next     VNum
	state    *DigestMap
	manifest *DigestMap
	fixity   map[string]*DigestMap
	stage    *Stage
	pathFn   ContentPathFunc

	// replaceHead: the base inventory already contains the in-progress
	// version (mutable-head revisions); Build replaces it instead of
	// appending.
	replaceHead bool
}

// UpdaterOption configures a new Updater.
type UpdaterOption func(*Updater)

// WithContentPathFunc sets the content-path mapper for new blobs.
func WithContentPathFunc(fn ContentPathFunc) UpdaterOption {
	return func(u *Updater) {
		if fn != nil {
			u.pathFn = fn
		}
	}
}

// withReplaceHead marks the updater as building a replacement for the base
// inventory's head version rather than a successor.
func withReplaceHead() UpdaterOption {
	return func(u *Updater) { u.replaceHead = true }
}

// NewUpdater returns an Updater that builds a successor to base using content
// staged in stage. For a new object, base is nil and id, alg, contentDir and
// padding describe the object to create.
func NewUpdater(base *Inventory, stage *Stage, id, alg, contentDir string, padding int, opts ...UpdaterOption) (*Updater, error) {
	u := &Updater{
		base:   base,
		stage:  stage,
		spec:   defaultSpec,
		pathFn: DefaultContentPathFunc,
		fixity: map[string]*DigestMap{},
	}
	for _, opt := range opts {
		opt(u)
	}
	switch {
	case base == nil:
		if !ValidObjectAlgorithm(alg) {
			return nil, fmt.Errorf("%w: digest algorithm %q", ErrInvalidInput, alg)
		}
		u.id = id
		u.alg = alg
		u.cdir = contentDir
		if u.cdir == "" {
			u.cdir = DefaultContentDirectory
		}
		u.next = V(1, padding)
		if err := u.next.Valid(); err != nil {
			return nil, fmt.Errorf("%w: version padding %d", ErrInvalidInput, padding)
		}
		u.state = NewDigestMap()
		u.manifest = NewDigestMap()
	default:
		if err := base.Validate(); err != nil {
			return nil, err
		}
		u.id = base.ID
		u.alg = base.DigestAlgorithm
		u.cdir = base.ContentDir()
		u.spec = base.Type.Spec
		if u.replaceHead {
			u.next = base.Head
		} else {
			next, err := base.Head.Next()
			if err != nil {
				return nil, err
			}
			u.next = next
		}
		u.state = base.Version(0).State.Copy()
		u.manifest = base.Manifest.Copy()
		for falg, fix := range base.Fixity {
			u.fixity[falg] = fix.Copy()
		}
	}
	if stage != nil && stage.Algorithm() != u.alg {
		return nil, fmt.Errorf("%w: stage algorithm %q doesn't match object's %q",
			ErrInvalidInput, stage.Algorithm(), u.alg)
	}
	return u, nil
}

// Next returns the version number the updater is building.
func (u *Updater) Next() VNum { return u.next }

// State returns a copy of the in-progress version state.
func (u *Updater) State() *DigestMap { return u.state.Copy() }

// AddFile stages the file at srcPath under the logical path. Content is
// digested while it is copied into the staging area; if the digest is
// already in the manifest no new blob is stored.
func (u *Updater) AddFile(srcPath, logical string) (*AddResult, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return u.AddReader(f, logical)
}

// AddReader stages the contents of r under the logical path. See AddFile.
func (u *Updater) AddReader(r io.Reader, logical string) (*AddResult, error) {
	if err := ValidLogicalPath(logical); err != nil {
		return nil, err
	}
	if u.stage == nil {
		return nil, fmt.Errorf("%w: updater has no stage for new content", ErrInvalidInput)
	}
	digest, tmp, _, err := u.stage.Digest(r)
	if err != nil {
		return nil, err
	}
	result := &AddResult{Digest: digest}
	if u.manifest.HasDigest(digest) {
		if err := u.stage.Discard(tmp); err != nil {
			return nil, err
		}
	} else {
		mapped := u.pathFn(logical, digest)
		contentPath, err := u.stage.Accept(digest, tmp, mapped)
		if err != nil {
			return nil, fmt.Errorf("allocating content path for %q: %w", logical, err)
		}
		if err := u.manifest.Add(digest, contentPath); err != nil {
			return nil, err
		}
		for falg, sum := range u.stage.FixityFor(digest) {
			if u.fixity[falg] == nil {
				u.fixity[falg] = NewDigestMap()
			}
			if err := u.fixity[falg].Add(sum, contentPath); err != nil {
				return nil, err
			}
		}
		result.IsNewBlob = true
		result.ContentPath = contentPath
	}
	if err := u.state.AddReplace(digest, logical); err != nil {
		return nil, err
	}
	return result, nil
}

// RemoveFile removes the logical path from the in-progress version state.
// The underlying blob stays in the manifest: OCFL is append-only.
func (u *Updater) RemoveFile(logical string) error {
	if _, err := u.state.Remove(logical); err != nil {
		return err
	}
	return nil
}

// RenameFile moves a logical path within the in-progress version state. The
// content is untouched.
func (u *Updater) RenameFile(src, dst string) error {
	if err := ValidLogicalPath(dst); err != nil {
		return err
	}
	return u.state.Rename(src, dst)
}

// ReinstateFile copies the digest that logical path src had in version v
// into the in-progress state under dst, restoring content from an earlier
// version without rewriting it.
func (u *Updater) ReinstateFile(v int, src, dst string) error {
	if u.base == nil {
		return fmt.Errorf("%w: no prior versions", ErrNotExist)
	}
	if err := ValidLogicalPath(dst); err != nil {
		return err
	}
	ver := u.base.Version(v)
	if ver == nil {
		return fmt.Errorf("%w: version index %d", ErrVersionNotFound, v)
	}
	digest := ver.State.GetDigest(src)
	if digest == "" {
		return fmt.Errorf("%w: logical path %q in %s", ErrNotExist, src, V(v))
	}
	return u.state.AddReplace(digest, dst)
}

// ClearState empties the in-progress version state. Used by put-style
// operations that replace the object's contents wholesale.
func (u *Updater) ClearState() {
	u.state = NewDigestMap()
}

// SetStateFrom replaces the in-progress state with a copy of version v's
// state. Used to replicate an earlier version as the new head.
func (u *Updater) SetStateFrom(v int) error {
	if u.base == nil {
		return fmt.Errorf("%w: no prior versions", ErrNotExist)
	}
	ver := u.base.Version(v)
	if ver == nil {
		return fmt.Errorf("%w: version index %d", ErrVersionNotFound, v)
	}
	u.state = ver.State.Copy()
	return nil
}

// Build produces the validated successor inventory with head advanced by
// one (or replaced, for mutable-head revisions). The updater should not be
// used after Build.
func (u *Updater) Build(created time.Time, info VersionInfo) (*Inventory, error) {
	newVersion := &Version{
		Created: created.Truncate(time.Second),
		Message: info.Message,
		User:    info.User,
		State:   u.state.Copy(),
	}
	inv := &Inventory{
		ID:              u.id,
		Type:            u.spec.AsInvType(),
		DigestAlgorithm: u.alg,
		Head:            u.next,
		Manifest:        u.manifest,
		Versions:        map[VNum]*Version{u.next: newVersion},
	}
	if u.cdir != DefaultContentDirectory {
		inv.ContentDirectory = u.cdir
	}
	if u.base != nil {
		for v, ver := range u.base.Versions {
			if v == u.next && u.replaceHead {
				continue
			}
			inv.Versions[v] = cloneVersion(ver)
		}
	}
	if len(u.fixity) > 0 {
		inv.Fixity = u.fixity
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

func cloneVersion(ver *Version) *Version {
	cp := &Version{
		Created: ver.Created,
		Message: ver.Message,
		State:   ver.State.Copy(),
	}
	if ver.User != nil {
		cp.User = &User{Name: ver.User.Name, Address: ver.User.Address}
	}
	return cp
}

// RemapManifest returns a copy of inv with every manifest and fixity content
// path rewritten through moves (old path -> new path). Paths not in moves
// are kept. Storage engines use it when promoting a mutable head, where
// blobs physically move from the extension directory into a version
// directory.
func RemapManifest(inv *Inventory, moves map[string]string) (*Inventory, error) {
	remap := func(dm *DigestMap) (*DigestMap, error) {
		out := NewDigestMap()
		var err error
		dm.EachPath(func(p, digest string) bool {
			if np, ok := moves[p]; ok {
				p = np
			}
			err = out.Add(digest, p)
			return err == nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	man, err := remap(inv.Manifest)
	if err != nil {
		return nil, err
	}
	cp := *inv
	cp.Manifest = man
	if len(inv.Fixity) > 0 {
		cp.Fixity = make(map[string]*DigestMap, len(inv.Fixity))
		for alg, fix := range inv.Fixity {
			if cp.Fixity[alg], err = remap(fix); err != nil {
				return nil, err
			}
		}
	}
	cp.Versions = make(map[VNum]*Version, len(inv.Versions))
	for v, ver := range inv.Versions {
		cp.Versions[v] = cloneVersion(ver)
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return &cp, nil
}
