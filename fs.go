package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

var (
	ErrOpUnsupported = errors.New("operation not supported by the file system")
)

// FS is the minimal read abstraction over a storage backend. Implementations
// are in the backend packages.
type FS interface {
	// OpenFile opens the named file for reading. It is like [io/fs.FS.Open],
	// except it returns an error if name is a directory.
	OpenFile(ctx context.Context, name string) (fs.File, error)
	// ReadDir returns the entries of the named directory, sorted by name.
	// If the directory doesn't exist the error wraps fs.ErrNotExist.
	ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error)
}

// WriteFS is a backend that supports write and remove operations.
type WriteFS interface {
	FS
	// Write creates or replaces the file at name with the contents of r.
	Write(ctx context.Context, name string, r io.Reader) (int64, error)
	// Remove removes the file at name.
	Remove(ctx context.Context, name string) error
	// RemoveAll removes name and everything under it. Removing a
	// non-existing path is not an error.
	RemoveAll(ctx context.Context, name string) error
}

// CopyFS is a backend with server-side copy. Cloud backends implement it with
// the store's copy-object operation.
type CopyFS interface {
	WriteFS
	// Copy creates or replaces the file at dst with the contents of src.
	Copy(ctx context.Context, dst, src string) error
}

// Copy copies src in srcFS to dst in dstFS. If both refer to the same CopyFS,
// the backend's server-side copy is used.
func Copy(ctx context.Context, dstFS WriteFS, dst string, srcFS FS, src string) (err error) {
	if cpFS, ok := dstFS.(CopyFS); ok && dstFS == srcFS {
		if err = cpFS.Copy(ctx, dst, src); err != nil {
			err = fmt.Errorf("during copy: %w", err)
		}
		return
	}
	var srcF fs.File
	srcF, err = srcFS.OpenFile(ctx, src)
	if err != nil {
		return fmt.Errorf("opening for copy: %w", err)
	}
	defer func() {
		if closeErr := srcF.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	if _, err = dstFS.Write(ctx, dst, srcF); err != nil {
		err = fmt.Errorf("writing during copy: %w", err)
	}
	return
}

// ReadAll returns the contents of the named file in fsys.
func ReadAll(ctx context.Context, fsys FS, name string) ([]byte, error) {
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// DirFS returns a read-only FS for the os directory dir. It is used for
// reading local trees (imports, validation of exported objects); the backend
// packages provide full read/write implementations.
func DirFS(dir string) FS {
	return dirFS{fsys: os.DirFS(dir)}
}

type dirFS struct {
	fsys fs.FS
}

func (d dirFS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: err}
	}
	f, err := d.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: fs.ErrInvalid}
	}
	return f, nil
}

func (d dirFS) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return fs.ReadDir(d.fsys, name)
}

// DirExists reports whether name exists in fsys as a non-empty directory.
func DirExists(ctx context.Context, fsys FS, name string) (bool, error) {
	entries, err := fsys.ReadDir(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return len(entries) > 0, nil
}
