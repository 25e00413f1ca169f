package ocfl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Stage is a local scratch area for building a new object version. Its
// directory tree mirrors the object root, so storage engines can transfer
// staged files using their object-root-relative paths. New content is
// digested as it is staged.
type Stage struct {
	objectID   string
	alg        string
	fixityAlgs []string
	root       string // os path of the scratch directory
	contentRel string // object-root-relative content dir, e.g. "v2/content"

	// digest -> object-root-relative content path for staged blobs
	newContent map[string]string
	// digest -> alternate digests for staged blobs
	fixity map[string]DigestSet
}

// NewStage creates a scratch directory under workDir for staging content
// that will be stored under contentRel in the object root. The primary
// algorithm alg digests every staged file; fixityAlgs are computed in the
// same pass.
func NewStage(workDir, objectID, contentRel, alg string, fixityAlgs ...string) (*Stage, error) {
	if NewDigester(alg) == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlg, alg)
	}
	root := filepath.Join(workDir, scratchName(objectID))
	if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(contentRel)), 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &Stage{
		objectID:   objectID,
		alg:        alg,
		fixityAlgs: fixityAlgs,
		root:       root,
		contentRel: contentRel,
		newContent: map[string]string{},
		fixity:     map[string]DigestSet{},
	}, nil
}

// scratchName returns a unique directory name for an object's staging area.
func scratchName(objectID string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, objectID)
	if len(clean) > 64 {
		clean = clean[:64]
	}
	return clean + "-" + uuid.NewString()
}

// Root returns the os path of the staging directory.
func (s *Stage) Root() string { return s.root }

// ContentRel returns the object-root-relative directory for staged content.
func (s *Stage) ContentRel() string { return s.contentRel }

// Algorithm returns the stage's primary digest algorithm.
func (s *Stage) Algorithm() string { return s.alg }

// Digest spools r into the stage's temp area, computing its digests. The
// returned temp path is accepted into the content tree with Accept or
// released with Discard.
func (s *Stage) Digest(r io.Reader) (digest, tmp string, size int64, err error) {
	tmp = filepath.Join(s.root, "tmp", uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", "", 0, err
	}
	digester := NewMultiDigester(append([]string{s.alg}, s.fixityAlgs...)...)
	size, err = io.Copy(io.MultiWriter(f, digester), r)
	if closeErr := f.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err != nil {
		os.Remove(tmp)
		return "", "", 0, err
	}
	digest = digester.Sum(s.alg)
	if len(s.fixityAlgs) > 0 {
		sums := digester.Sums()
		delete(sums, s.alg)
		s.fixity[digest] = sums
	}
	return digest, tmp, size, nil
}

// Accept moves the temp file for digest into the staged content tree at
// mapped (a path within the content directory), returning the blob's
// object-root-relative content path.
func (s *Stage) Accept(digest, tmp, mapped string) (string, error) {
	if !validMapPath(mapped) {
		return "", &PathInvalidError{mapped}
	}
	contentPath := path.Join(s.contentRel, mapped)
	dst := filepath.Join(s.root, filepath.FromSlash(contentPath))
	if _, err := os.Stat(dst); err == nil {
		os.Remove(tmp)
		return "", &PathConflictError{contentPath}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", err
	}
	s.newContent[digest] = contentPath
	return contentPath, nil
}

// Discard releases a temp file that turned out to be a duplicate.
func (s *Stage) Discard(tmp string) error {
	err := os.Remove(tmp)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// HasContent reports if a blob with digest is staged.
func (s *Stage) HasContent(digest string) bool {
	_, ok := s.newContent[digest]
	return ok
}

// ContentPaths returns the digest -> content path mapping for staged blobs.
func (s *Stage) ContentPaths() map[string]string {
	cp := make(map[string]string, len(s.newContent))
	for d, p := range s.newContent {
		cp[d] = p
	}
	return cp
}

// FixityFor returns alternate digests computed for the staged blob with digest.
func (s *Stage) FixityFor(digest string) DigestSet {
	return s.fixity[digest]
}

// Walk calls fn for each staged content file with its object-root-relative
// path and its os path.
func (s *Stage) Walk(fn func(contentPath, osPath string, size int64) error) error {
	for _, contentPath := range s.newContent {
		osPath := filepath.Join(s.root, filepath.FromSlash(contentPath))
		info, err := os.Stat(osPath)
		if err != nil {
			return err
		}
		if err := fn(contentPath, osPath, info.Size()); err != nil {
			return err
		}
	}
	return nil
}

// WriteInventoryFiles serializes inv with its sidecar into the staging root
// and into the staged version directory dirRel (object-root-relative), so
// engines can transfer both copies along with the content.
func (s *Stage) WriteInventoryFiles(inv *Inventory, dirRel string) error {
	byt, sum, err := inv.Encode()
	if err != nil {
		return err
	}
	sidecar := sum + "\t" + inventoryBase + "\n"
	for _, dir := range []string{".", dirRel} {
		osDir := filepath.Join(s.root, filepath.FromSlash(dir))
		if err := os.MkdirAll(osDir, 0755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(osDir, inventoryBase), byt, 0644); err != nil {
			return err
		}
		name := SidecarName(inv.DigestAlgorithm)
		if err := os.WriteFile(filepath.Join(osDir, name), []byte(sidecar), 0644); err != nil {
			return err
		}
	}
	inv.SetDigest(sum)
	return nil
}

// Destroy removes the staging directory and everything in it.
func (s *Stage) Destroy() error {
	if s.root == "" {
		return nil
	}
	err := os.RemoveAll(s.root)
	s.root = ""
	return err
}
