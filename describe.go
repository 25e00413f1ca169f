package ocfl

import (
	"fmt"
	"time"
)

// ObjectDetails summarizes an object and its versions.
type ObjectDetails struct {
	ID              string
	Head            VNum
	DigestAlgorithm string
	ObjectRootPath  string
	Versions        map[VNum]*VersionDetails
}

// HeadVersion returns the details for the object's head version.
func (d *ObjectDetails) HeadVersion() *VersionDetails {
	return d.Versions[d.Head]
}

// VersionDetails describes one version of an object.
type VersionDetails struct {
	ObjectID string
	VNum     VNum
	Created  time.Time
	Message  string
	User     *User
	// Files maps logical paths to file details.
	Files map[string]*FileDetails
	// Mutable is true when the version is the object's in-progress mutable
	// head rather than an immutable version.
	Mutable bool
}

// FileDetails describes one file within a version.
type FileDetails struct {
	LogicalPath string
	ContentPath string
	Digest      string
	// Fixity holds the file's digests in alternate algorithms.
	Fixity DigestSet
}

// FileChange is one entry in a logical path's change history.
type FileChange struct {
	VNum        VNum
	Created     time.Time
	Message     string
	User        *User
	Digest      string
	ContentPath string
}

// newObjectDetails builds the describe DTO from an inventory.
func newObjectDetails(inv *Inventory) (*ObjectDetails, error) {
	details := &ObjectDetails{
		ID:              inv.ID,
		Head:            inv.Head,
		DigestAlgorithm: inv.DigestAlgorithm,
		ObjectRootPath:  inv.RootPath(),
		Versions:        make(map[VNum]*VersionDetails, len(inv.Versions)),
	}
	for v := range inv.Versions {
		vd, err := newVersionDetails(inv, v.Num())
		if err != nil {
			return nil, err
		}
		details.Versions[v] = vd
	}
	return details, nil
}

// newVersionDetails builds the describe DTO for version v (0 for head).
func newVersionDetails(inv *Inventory, v int) (*VersionDetails, error) {
	ver := inv.Version(v)
	if ver == nil {
		return nil, fmt.Errorf("%w: version index %d", ErrNotExist, v)
	}
	vnum := inv.Head
	if v != 0 {
		vnum = V(v, inv.Head.Padding())
	}
	details := &VersionDetails{
		ObjectID: inv.ID,
		VNum:     vnum,
		Created:  ver.Created,
		Message:  ver.Message,
		User:     ver.User,
		Files:    map[string]*FileDetails{},
	}
	err := inv.EachStatePath(v, func(logical, digest string, conts []string) error {
		contentPath, err := inv.ContentPath(v, logical)
		if err != nil {
			return err
		}
		fd := &FileDetails{
			LogicalPath: logical,
			ContentPath: contentPath,
			Digest:      digest,
		}
		for alg, fix := range inv.Fixity {
			if sum := fix.GetDigest(contentPath); sum != "" {
				if fd.Fixity == nil {
					fd.Fixity = DigestSet{}
				}
				fd.Fixity[alg] = sum
			}
		}
		details.Files[logical] = fd
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}
