package ocfl

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
)

// DigestConflictError indicates the same digest appears in a DigestMap in
// multiple forms (i.e., with different cases).
type DigestConflictError struct {
	Digest string
}

func (d *DigestConflictError) Error() string {
	return "digest conflict: " + d.Digest
}

// PathConflictError indicates a path appears twice in a DigestMap or could
// not be added because it is already present with a different digest.
type PathConflictError struct {
	Path string
}

func (p *PathConflictError) Error() string {
	return "path conflict: " + p.Path
}

// PathInvalidError indicates an invalid path in a DigestMap.
type PathInvalidError struct {
	Path string
}

func (p *PathInvalidError) Error() string {
	return "invalid path: " + p.Path
}

// BasePathError indicates a path is used as both a file and a directory
// within a DigestMap.
type BasePathError struct {
	Path string
}

func (p *BasePathError) Error() string {
	return "base path conflict: " + p.Path
}

// DigestMap maps digest values to sets of file paths. It is the structure
// behind the manifest, version state, and fixity blocks of an inventory.
//
// Digest case is preserved: the OCFL spec requires digests to match exactly
// between manifest and version state, so values are not normalized on input.
// Two casings of the same digest in one map are a conflict.
type DigestMap struct {
	// digest -> file paths
	digests map[string][]string
	// inverse of digests: file path -> digest (built lazily)
	files map[string]string
	// all parent directories of paths in files
	dirs map[string]struct{}
	// lowercase digest -> stored digest form
	norms map[string]string
}

// NewDigestMap returns a new, empty DigestMap.
func NewDigestMap() *DigestMap {
	return &DigestMap{digests: map[string][]string{}}
}

// Add adds a digest -> path entry. An error is returned if the path is
// invalid, already present, or conflicts with an existing directory; or if
// the digest exists in the map under a different case.
func (dm *DigestMap) Add(digest, p string) error {
	if digest == "" {
		return fmt.Errorf("%w: empty digest", ErrInvalidInput)
	}
	if !validMapPath(p) {
		return &PathInvalidError{p}
	}
	if err := dm.ensureIndex(); err != nil {
		return err
	}
	norm := strings.ToLower(digest)
	if stored, ok := dm.norms[norm]; ok && stored != digest {
		return &DigestConflictError{digest}
	}
	if _, exists := dm.files[p]; exists {
		return &PathConflictError{p}
	}
	if err := dm.addParents(p); err != nil {
		return err
	}
	dm.files[p] = digest
	dm.digests[digest] = append(dm.digests[digest], p)
	dm.norms[norm] = digest
	return nil
}

// AddReplace adds a digest -> path entry, removing any existing entry for the
// path first. It is the update primitive for version state, where a logical
// path moves between digests as content changes.
func (dm *DigestMap) AddReplace(digest, p string) error {
	if err := dm.ensureIndex(); err != nil {
		return err
	}
	if _, exists := dm.files[p]; exists {
		if _, err := dm.Remove(p); err != nil {
			return err
		}
	}
	return dm.Add(digest, p)
}

// Remove removes the entry for path p, returning the digest it mapped to.
// When the last path for a digest is removed, the digest entry is removed
// too. An ErrNotExist error is returned if p is not in the map.
func (dm *DigestMap) Remove(p string) (string, error) {
	if err := dm.ensureIndex(); err != nil {
		return "", err
	}
	digest, exists := dm.files[p]
	if !exists {
		return "", fmt.Errorf("%w: path %q", ErrNotExist, p)
	}
	paths := dm.digests[digest]
	paths = slices.DeleteFunc(paths, func(s string) bool { return s == p })
	if len(paths) == 0 {
		delete(dm.digests, digest)
		delete(dm.norms, strings.ToLower(digest))
	} else {
		dm.digests[digest] = paths
	}
	delete(dm.files, p)
	dm.rebuildDirs()
	return digest, nil
}

// Rename moves the entry for src to dst, keeping the digest. An ErrNotExist
// error is returned if src is not in the map; a PathConflictError if dst is.
func (dm *DigestMap) Rename(src, dst string) error {
	if err := dm.ensureIndex(); err != nil {
		return err
	}
	digest, exists := dm.files[src]
	if !exists {
		return fmt.Errorf("%w: path %q", ErrNotExist, src)
	}
	if _, exists := dm.files[dst]; exists {
		return &PathConflictError{dst}
	}
	if _, err := dm.Remove(src); err != nil {
		return err
	}
	return dm.Add(digest, dst)
}

// GetDigest returns the digest for path p, or "" if p is not in the map.
func (dm *DigestMap) GetDigest(p string) string {
	if dm == nil || dm.ensureIndex() != nil {
		return ""
	}
	return dm.files[p]
}

// HasDigest reports if digest is present in the map, ignoring case.
func (dm *DigestMap) HasDigest(digest string) bool {
	if dm == nil || dm.ensureIndex() != nil {
		return false
	}
	_, ok := dm.norms[strings.ToLower(digest)]
	return ok
}

// DigestPaths returns a sorted copy of the paths for digest, matched
// case-insensitively.
func (dm *DigestMap) DigestPaths(digest string) []string {
	if dm == nil || dm.ensureIndex() != nil {
		return nil
	}
	stored, ok := dm.norms[strings.ToLower(digest)]
	if !ok {
		return nil
	}
	paths := slices.Clone(dm.digests[stored])
	slices.Sort(paths)
	return paths
}

// EachPath calls fn for every path/digest pair in the map, in sorted path
// order, until fn returns false.
func (dm *DigestMap) EachPath(fn func(p, digest string) bool) {
	if dm == nil || dm.ensureIndex() != nil {
		return
	}
	paths := make([]string, 0, len(dm.files))
	for p := range dm.files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		if !fn(p, dm.files[p]) {
			return
		}
	}
}

// Digests returns all digest values in the map, sorted.
func (dm *DigestMap) Digests() []string {
	if dm == nil {
		return nil
	}
	digs := make([]string, 0, len(dm.digests))
	for d := range dm.digests {
		digs = append(digs, d)
	}
	slices.Sort(digs)
	return digs
}

// NumPaths returns the number of path entries in the map.
func (dm *DigestMap) NumPaths() int {
	if dm == nil || dm.ensureIndex() != nil {
		return 0
	}
	return len(dm.files)
}

// Paths returns a copy of the path -> digest mapping.
func (dm *DigestMap) Paths() map[string]string {
	if dm == nil || dm.ensureIndex() != nil {
		return nil
	}
	ret := make(map[string]string, len(dm.files))
	for f, d := range dm.files {
		ret[f] = d
	}
	return ret
}

// Eq reports whether dm and other have the same path -> digest entries,
// comparing digests case-insensitively.
func (dm *DigestMap) Eq(other *DigestMap) bool {
	a, b := dm.Paths(), other.Paths()
	if len(a) != len(b) {
		return false
	}
	for p, d := range a {
		if !strings.EqualFold(d, b[p]) {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of the map.
func (dm *DigestMap) Copy() *DigestMap {
	cp := NewDigestMap()
	for digest, paths := range dm.digests {
		cp.digests[digest] = slices.Clone(paths)
	}
	return cp
}

// Valid rebuilds the map's indexes, returning any structural error: digest
// case conflicts, duplicate paths, invalid paths, or file/directory
// conflicts.
func (dm *DigestMap) Valid() error {
	dm.invalidate()
	return dm.ensureIndex()
}

// ensureIndex builds files, dirs, and norms from digests if needed.
func (dm *DigestMap) ensureIndex() error {
	if dm.digests == nil {
		dm.digests = map[string][]string{}
	}
	if dm.files != nil && dm.dirs != nil && dm.norms != nil {
		return nil
	}
	dm.files = map[string]string{}
	dm.dirs = map[string]struct{}{}
	dm.norms = map[string]string{}
	for d, paths := range dm.digests {
		norm := strings.ToLower(d)
		if _, exists := dm.norms[norm]; exists {
			dm.invalidate()
			return &DigestConflictError{d}
		}
		dm.norms[norm] = d
		for _, p := range paths {
			if !validMapPath(p) {
				dm.invalidate()
				return &PathInvalidError{p}
			}
			if _, exists := dm.files[p]; exists {
				dm.invalidate()
				return &PathConflictError{p}
			}
			dm.files[p] = d
			if err := dm.addParents(p); err != nil {
				dm.invalidate()
				return err
			}
		}
	}
	return nil
}

func (dm *DigestMap) invalidate() {
	dm.files = nil
	dm.dirs = nil
	dm.norms = nil
}

func (dm *DigestMap) rebuildDirs() {
	dm.dirs = map[string]struct{}{}
	for p := range dm.files {
		for _, parent := range parentDirs(p) {
			dm.dirs[parent] = struct{}{}
		}
	}
}

func (dm *DigestMap) addParents(file string) error {
	if _, exists := dm.dirs[file]; exists {
		return &BasePathError{file}
	}
	parents := parentDirs(file)
	for _, p := range parents {
		if _, exists := dm.files[p]; exists {
			return &BasePathError{file}
		}
	}
	for _, p := range parents {
		dm.dirs[p] = struct{}{}
	}
	return nil
}

// validMapPath reports if p is usable as a path in a DigestMap.
func validMapPath(p string) bool {
	if p == "." {
		return false
	}
	return fs.ValidPath(p)
}

// parentDirs returns the parents of p: "a/b/c" -> ["a", "a/b"].
func parentDirs(p string) []string {
	dir := path.Dir(p)
	if dir == "." {
		return nil
	}
	names := strings.Split(dir, "/")
	ret := make([]string, len(names))
	for i := range names {
		ret[i] = strings.Join(names[:i+1], "/")
	}
	return ret
}

func (dm *DigestMap) UnmarshalJSON(b []byte) error {
	dm.invalidate()
	return json.Unmarshal(b, &dm.digests)
}

func (dm *DigestMap) MarshalJSON() ([]byte, error) {
	out := make(map[string][]string, len(dm.digests))
	for d, paths := range dm.digests {
		sorted := slices.Clone(paths)
		slices.Sort(sorted)
		out[d] = sorted
	}
	return json.Marshal(out)
}
