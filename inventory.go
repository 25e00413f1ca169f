package ocfl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"strings"
	"time"
)

const (
	// MutableHeadExt is the registered name of the mutable-head extension.
	MutableHeadExt = "0005-mutable-head"

	// MutableHeadDir is the object-root-relative directory holding an active
	// mutable head.
	MutableHeadDir = ExtensionsDir + "/" + MutableHeadExt + "/head"

	// mutableHeadContentPrefix is the prefix of manifest content paths for
	// blobs staged in a mutable head.
	mutableHeadContentPrefix = MutableHeadDir + "/content/"

	// MutableHeadRevisionsDir holds the zero-byte revision markers r1, r2...
	MutableHeadRevisionsDir = MutableHeadDir + "/revisions"
)

var (
	ErrInvSidecarContents = errors.New("invalid inventory sidecar contents")
	ErrVersionNotFound    = errors.New("version not found in inventory")

	invSidecarContentsRegexp = regexp.MustCompile(`^([a-fA-F0-9]+)\s+inventory\.json[\n]?$`)
)

// Inventory is the authoritative description of one OCFL object: its
// complete version history as a content-addressed manifest.
type Inventory struct {
	ID               string                `json:"id"`
	Type             InvType               `json:"type"`
	DigestAlgorithm  string                `json:"digestAlgorithm"`
	Head             VNum                  `json:"head"`
	ContentDirectory string                `json:"contentDirectory,omitempty"`
	Manifest         *DigestMap            `json:"manifest"`
	Versions         map[VNum]*Version     `json:"versions"`
	Fixity           map[string]*DigestMap `json:"fixity,omitempty"`

	// transient values; not serialized
	rootPath   string // object root path in the storage layer
	digest     string // digest of the inventory's current on-disk bytes
	prevDigest string // digest of the previous on-disk state
}

// Version is a snapshot of an object's logical state plus commit metadata.
type Version struct {
	Created time.Time  `json:"created"`
	State   *DigestMap `json:"state"`
	Message string     `json:"message,omitempty"`
	User    *User      `json:"user,omitempty"`
}

// User identifies who created a version. Address is typically a mailto: URI.
type User struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// VersionInfo carries caller-supplied metadata for a new version.
type VersionInfo struct {
	Message string
	User    *User
}

// RootPath returns the object's path in the storage layer, as set by the
// storage engine that loaded the inventory.
func (inv *Inventory) RootPath() string { return inv.rootPath }

// SetRootPath records the object's storage path on the inventory. It is
// called by storage engines, not by users of the repository API.
func (inv *Inventory) SetRootPath(p string) { inv.rootPath = p }

// Digest returns the digest of the inventory's most recent on-disk bytes, as
// recorded when the inventory was loaded or stored.
func (inv *Inventory) Digest() string { return inv.digest }

// PreviousDigest returns the digest of the on-disk state this inventory
// superseded, if known.
func (inv *Inventory) PreviousDigest() string { return inv.prevDigest }

// SetDigest records the inventory's on-disk digest, pushing any prior value
// to PreviousDigest.
func (inv *Inventory) SetDigest(d string) {
	if inv.digest != "" && inv.digest != d {
		inv.prevDigest = inv.digest
	}
	inv.digest = d
}

// ContentDir returns the inventory's content directory, or the default.
func (inv *Inventory) ContentDir() string {
	if inv.ContentDirectory == "" {
		return DefaultContentDirectory
	}
	return inv.ContentDirectory
}

// VNums returns the sorted version numbers in the inventory.
func (inv *Inventory) VNums() VNums {
	vnums := make(VNums, 0, len(inv.Versions))
	for v := range inv.Versions {
		vnums = append(vnums, v)
	}
	if !vnumsSorted(vnums) {
		vnums.Valid() // sorts
	}
	return vnums
}

func vnumsSorted(vs VNums) bool {
	for i := 1; i < len(vs); i++ {
		if vs[i].num < vs[i-1].num {
			return false
		}
	}
	return true
}

// Version returns the version entry with number v; if v is 0, the head
// version. Nil is returned if no such version exists.
func (inv *Inventory) Version(v int) *Version {
	if inv.Versions == nil {
		return nil
	}
	if v == 0 {
		return inv.Versions[inv.Head]
	}
	return inv.Versions[V(v, inv.Head.Padding())]
}

// ContentPath resolves a logical path in version v's state (0 for head) to
// the content path used for reads. When a digest has several content paths,
// the one from the earliest version that held the digest is used, breaking
// ties lexicographically, so reads are deterministic.
func (inv *Inventory) ContentPath(v int, logical string) (string, error) {
	ver := inv.Version(v)
	if ver == nil {
		return "", fmt.Errorf("%w: index %d", ErrVersionNotFound, v)
	}
	digest := ver.State.GetDigest(logical)
	if digest == "" {
		return "", fmt.Errorf("%w: logical path %q", ErrNotExist, logical)
	}
	paths := inv.Manifest.DigestPaths(digest)
	if len(paths) == 0 {
		return "", fmt.Errorf("%w: missing manifest entry for %s", ErrCorruptObject, digest)
	}
	best := paths[0]
	bestV := contentPathVersion(best)
	for _, p := range paths[1:] {
		pv := contentPathVersion(p)
		if pv < bestV || (pv == bestV && p < best) {
			best, bestV = p, pv
		}
	}
	return best, nil
}

// contentPathVersion returns the version sequence number of the leading
// segment of a content path. Mutable-head content paths sort after all
// immutable versions.
func contentPathVersion(p string) int {
	if strings.HasPrefix(p, mutableHeadContentPrefix) {
		return int(^uint(0) >> 1) // max int
	}
	head, _, _ := strings.Cut(p, "/")
	var v VNum
	if err := ParseVNum(head, &v); err != nil {
		return int(^uint(0)>>1) - 1
	}
	return v.num
}

// EachStatePath calls fn for each logical path in version v's state (0 for
// head) with the path's digest and its resolved content paths. An error is
// returned if a digest has no manifest entry.
func (inv *Inventory) EachStatePath(v int, fn func(logical, digest string, conts []string) error) error {
	ver := inv.Version(v)
	if ver == nil || ver.State == nil {
		return fmt.Errorf("%w: index %d", ErrVersionNotFound, v)
	}
	if inv.Manifest == nil {
		return fmt.Errorf("%w: inventory has no manifest", ErrCorruptObject)
	}
	var err error
	ver.State.EachPath(func(logical, digest string) bool {
		srcs := inv.Manifest.DigestPaths(digest)
		if len(srcs) == 0 {
			err = fmt.Errorf("%w: missing manifest entry for %s", ErrCorruptObject, digest)
			return false
		}
		err = fn(logical, digest, srcs)
		return err == nil
	})
	return err
}

// Validate checks the inventory's internal consistency: the shallow
// validation mode. It confirms the invariants that can be checked without
// touching storage; deep (content) validation is in validate.go.
func (inv *Inventory) Validate() error {
	if inv.ID == "" {
		return fmt.Errorf("%w: missing inventory id", ErrCorruptObject)
	}
	if err := inv.Type.Spec.Valid(); err != nil {
		return fmt.Errorf("%w: inventory type: %s", ErrCorruptObject, err)
	}
	if !ValidObjectAlgorithm(inv.DigestAlgorithm) {
		return fmt.Errorf("%w: digest algorithm %q", ErrCorruptObject, inv.DigestAlgorithm)
	}
	if cd := inv.ContentDir(); strings.Contains(cd, "/") || cd == "." || cd == ".." {
		return fmt.Errorf("%w: content directory %q", ErrCorruptObject, cd)
	}
	if inv.Manifest == nil {
		return fmt.Errorf("%w: missing manifest", ErrCorruptObject)
	}
	if err := inv.Manifest.Valid(); err != nil {
		return fmt.Errorf("%w: manifest: %s", ErrCorruptObject, err)
	}
	if len(inv.Versions) == 0 {
		return fmt.Errorf("%w: missing versions", ErrCorruptObject)
	}
	vnums := inv.VNums()
	if err := vnums.Valid(); err != nil {
		return fmt.Errorf("%w: versions: %s", ErrCorruptObject, err)
	}
	if vnums.Head() != inv.Head {
		return fmt.Errorf("%w: head %s is not the highest version %s",
			ErrCorruptObject, inv.Head, vnums.Head())
	}
	// every state digest must resolve in the manifest
	for vnum, ver := range inv.Versions {
		if ver == nil || ver.State == nil {
			return fmt.Errorf("%w: version %s has no state", ErrCorruptObject, vnum)
		}
		if err := ver.State.Valid(); err != nil {
			return fmt.Errorf("%w: version %s state: %s", ErrCorruptObject, vnum, err)
		}
		for _, digest := range ver.State.Digests() {
			if !inv.Manifest.HasDigest(digest) {
				return fmt.Errorf("%w: state digest missing from manifest: %s",
					ErrCorruptObject, digest)
			}
		}
	}
	// every manifest path must live in a known version's content directory
	// (or in an active mutable head)
	var pathErr error
	inv.Manifest.EachPath(func(p, _ string) bool {
		if strings.HasPrefix(p, mutableHeadContentPrefix) {
			return true
		}
		head, rest, _ := strings.Cut(p, "/")
		var v VNum
		if err := ParseVNum(head, &v); err != nil {
			pathErr = fmt.Errorf("%w: manifest path %q has no version prefix", ErrCorruptObject, p)
			return false
		}
		if _, ok := inv.Versions[v]; !ok {
			pathErr = fmt.Errorf("%w: manifest path %q references unknown version %s",
				ErrCorruptObject, p, head)
			return false
		}
		if !strings.HasPrefix(rest, inv.ContentDir()+"/") {
			pathErr = fmt.Errorf("%w: manifest path %q is outside the content directory",
				ErrCorruptObject, p)
			return false
		}
		return true
	})
	if pathErr != nil {
		return pathErr
	}
	for alg, fix := range inv.Fixity {
		if NewDigester(alg) == nil {
			return fmt.Errorf("%w: fixity algorithm %q", ErrCorruptObject, alg)
		}
		if err := fix.Valid(); err != nil {
			return fmt.Errorf("%w: %s fixity: %s", ErrCorruptObject, alg, err)
		}
	}
	return nil
}

// Encode returns the inventory's canonical serialization and its digest
// using the inventory's own algorithm. The output is UTF-8 with sorted map
// keys, two-space indentation, and a trailing newline; it is byte-stable so
// sidecar digests remain valid.
func (inv *Inventory) Encode() ([]byte, string, error) {
	byt, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("encoding inventory: %w", err)
	}
	byt = append(byt, '\n')
	digester := NewDigester(inv.DigestAlgorithm)
	if digester == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownAlg, inv.DigestAlgorithm)
	}
	digester.Write(byt)
	return byt, digester.String(), nil
}

// SidecarName returns the sidecar filename for an inventory using alg.
func SidecarName(alg string) string {
	return inventoryBase + "." + alg
}

// WriteInventory serializes inv and writes inventory.json and its sidecar to
// each dir in dirs. The inventory's recorded digest is updated.
func WriteInventory(ctx context.Context, fsys WriteFS, inv *Inventory, dirs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	byt, sum, err := inv.Encode()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		invFile := path.Join(dir, inventoryBase)
		if _, err := fsys.Write(ctx, invFile, bytes.NewReader(byt)); err != nil {
			return fmt.Errorf("writing inventory: %w", err)
		}
		sidecar := path.Join(dir, SidecarName(inv.DigestAlgorithm))
		if _, err := fsys.Write(ctx, sidecar, strings.NewReader(sum+"\t"+inventoryBase+"\n")); err != nil {
			return fmt.Errorf("writing inventory sidecar: %w", err)
		}
	}
	inv.SetDigest(sum)
	return nil
}

// ReadInventory reads, verifies, and validates the inventory in dir. The
// inventory digest is checked against the sidecar; the inventory is then
// shallow-validated.
func ReadInventory(ctx context.Context, fsys FS, dir string) (*Inventory, error) {
	invPath := path.Join(dir, inventoryBase)
	byt, err := ReadAll(ctx, fsys, invPath)
	if err != nil {
		return nil, err
	}
	inv := &Inventory{}
	if err := json.Unmarshal(byt, inv); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %s", ErrCorruptObject, invPath, err)
	}
	sidecarAlg := inv.DigestAlgorithm
	if sidecarAlg == "" {
		return nil, fmt.Errorf("%w: inventory has no digestAlgorithm", ErrCorruptObject)
	}
	declared, err := ReadSidecar(ctx, fsys, path.Join(dir, SidecarName(sidecarAlg)))
	if err != nil {
		return nil, err
	}
	digester := NewDigester(sidecarAlg)
	if digester == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlg, sidecarAlg)
	}
	digester.Write(byt)
	if sum := digester.String(); !strings.EqualFold(sum, declared) {
		return nil, fmt.Errorf("%w: inventory digest %s doesn't match sidecar %s",
			ErrCorruptObject, sum, declared)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	inv.SetDigest(strings.ToLower(declared))
	return inv, nil
}

// ReadSidecar parses the inventory sidecar file at name, returning the
// declared digest.
func ReadSidecar(ctx context.Context, fsys FS, name string) (string, error) {
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: missing inventory sidecar %s", ErrCorruptObject, name)
		}
		return "", err
	}
	defer f.Close()
	cont, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	matches := invSidecarContentsRegexp.FindSubmatch(cont)
	if len(matches) != 2 {
		return "", fmt.Errorf("%w: %q", ErrInvSidecarContents, string(cont))
	}
	return string(matches[1]), nil
}
