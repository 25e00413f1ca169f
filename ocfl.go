// Package ocfl implements the Oxford Common File Layout (OCFL): a
// content-addressed, append-only storage scheme for versioned digital
// objects. The top-level package provides the inventory data model, the
// transactional inventory updater, and the repository facade. Storage engines
// for POSIX filesystems and cloud object stores are in the store package;
// backends implementing the low-level FS abstraction are under backend.
package ocfl

const (
	// ExtensionsDir is the name of the extensions directory in storage roots
	// and object roots.
	ExtensionsDir = "extensions"

	// DefaultContentDirectory is the default name of the directory holding
	// new content files within each object version.
	DefaultContentDirectory = "content"

	// inventoryBase is the filename for inventory files.
	inventoryBase = "inventory.json"
)

var (
	Spec1_0 = Spec("1.0")
	Spec1_1 = Spec("1.1")

	// defaultSpec is used for new objects and storage roots unless
	// configured otherwise.
	defaultSpec = Spec1_1
)
