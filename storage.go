package ocfl

import (
	"context"
	"io"
	"iter"
)

// Engine is the storage contract used by the repository. The store package
// provides the two implementations: a POSIX filesystem engine and a cloud
// object-store engine. Engines are responsible for making each version
// commit "atomic enough" for their medium: the filesystem engine uses
// directory renames, the cloud engine uses write-then-swap-root with
// explicit rollback.
type Engine interface {
	// FS returns the engine's backend and the storage root's path within it.
	FS() (FS, string)

	// ObjectRootPath maps an object id through the storage layout to the
	// object's path relative to the storage root.
	ObjectRootPath(objectID string) (string, error)

	// ContainsObject reports whether an object with the id exists.
	ContainsObject(ctx context.Context, objectID string) (bool, error)

	// LoadInventory returns the object's root inventory with its root path
	// and digest set. The error wraps ErrNotExist if the object doesn't
	// exist and ErrCorruptObject if the inventory or sidecar is damaged.
	LoadInventory(ctx context.Context, objectID string) (*Inventory, error)

	// OpenContent opens the blob at a manifest content path.
	OpenContent(ctx context.Context, inv *Inventory, contentPath string) (io.ReadCloser, error)

	// StoreNewVersion transfers the staged version into the object and
	// publishes it by replacing the root inventory. On failure, staged
	// artifacts already transferred are rolled back.
	StoreNewVersion(ctx context.Context, inv *Inventory, stage *Stage) error

	// PurgeObject removes all traces of the object. Irreversible.
	PurgeObject(ctx context.Context, objectID string) error

	// RollbackToVersion restores the root inventory to version v's and
	// deletes the version directories after v.
	RollbackToVersion(ctx context.Context, inv *Inventory, v VNum) error

	// LoadMutableHead returns the object's mutable-head inventory and its
	// latest revision number. The error wraps ErrNotExist if no mutable
	// head is active.
	LoadMutableHead(ctx context.Context, objectID string) (*Inventory, int, error)

	// StoreNewRevision transfers a staged mutable-head revision. The
	// on-disk revision marker for rev must not already exist; if it does,
	// the error wraps ErrObjectOutOfSync.
	StoreNewRevision(ctx context.Context, inv *Inventory, rev int, stage *Stage) error

	// CommitMutableHead promotes the mutable head into the immutable
	// version newInv.Head. The moves argument maps mutable-head content
	// paths to their version-directory destinations; newInv's manifest
	// already reflects the destination paths.
	CommitMutableHead(ctx context.Context, base, newInv *Inventory, moves map[string]string) error

	// PurgeMutableHead discards the object's mutable head, if any.
	PurgeMutableHead(ctx context.Context, objectID string) error

	// ExportObject copies the object's raw OCFL tree to a local directory.
	ExportObject(ctx context.Context, objectID string, dstDir string) error

	// ExportVersion copies one version directory of the raw tree.
	ExportVersion(ctx context.Context, inv *Inventory, v VNum, dstDir string) error

	// ImportObject ingests a raw OCFL object tree from a local directory.
	// The caller validates the tree first.
	ImportObject(ctx context.Context, srcDir string, objectID string) error

	// ListObjectIDs iterates over the ids of all objects in the repository.
	ListObjectIDs(ctx context.Context) iter.Seq2[string, error]

	// Close releases the engine's resources.
	Close() error
}
