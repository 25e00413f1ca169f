// Package local implements the FS abstraction over a directory on the local
// filesystem. It also provides the rename operation the filesystem storage
// engine uses for atomic promotion.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/preservio/ocfl"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// FS is a read/write backend rooted at a local directory.
type FS struct {
	path string // absolute os path of the root directory
}

var (
	_ ocfl.WriteFS = (*FS)(nil)
)

// NewFS returns an FS rooted at path. The directory is created if it doesn't
// exist.
func NewFS(path string) (*FS, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("new backend: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("new backend: %w", err)
	}
	return &FS{path: abs}, nil
}

// Root returns the backend's absolute os path.
func (fsys *FS) Root() string { return fsys.path }

// OsPath returns the os path for name within the backend.
func (fsys *FS) OsPath(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", fs.ErrInvalid
	}
	return filepath.Join(fsys.path, filepath.FromSlash(name)), nil
}

func (fsys *FS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	fullPath, err := fsys.OsPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: err}
	}
	f, err := os.Open(fullPath)
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

func (fsys *FS) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	fullPath, err := fsys.OsPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return os.ReadDir(fullPath)
}

func (fsys *FS) Write(ctx context.Context, name string, src io.Reader) (int64, error) {
	fullPath, err := fsys.OsPath(name)
	if err != nil || name == "." {
		return 0, &fs.PathError{Op: "write", Path: name, Err: fs.ErrInvalid}
	}
	if err := ctx.Err(); err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), dirPerm); err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	dst, err := os.OpenFile(fullPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return n, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	if err := dst.Close(); err != nil {
		return n, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	return n, nil
}

func (fsys *FS) Remove(ctx context.Context, name string) error {
	fullPath, err := fsys.OsPath(name)
	if err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	if name == "." {
		return &fs.PathError{Op: "remove", Path: name, Err: errors.New("cannot remove top-level directory")}
	}
	if err := ctx.Err(); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	return os.Remove(fullPath)
}

func (fsys *FS) RemoveAll(ctx context.Context, name string) error {
	fullPath, err := fsys.OsPath(name)
	if err != nil {
		return &fs.PathError{Op: "removeall", Path: name, Err: err}
	}
	if name == "." {
		return &fs.PathError{Op: "removeall", Path: name, Err: errors.New("cannot remove top-level directory")}
	}
	if err := ctx.Err(); err != nil {
		return &fs.PathError{Op: "removeall", Path: name, Err: err}
	}
	return os.RemoveAll(fullPath)
}

// Rename moves old to new within the backend: atomic on a single mount.
func (fsys *FS) Rename(ctx context.Context, oldName, newName string) error {
	oldPath, err := fsys.OsPath(oldName)
	if err != nil {
		return &fs.PathError{Op: "rename", Path: oldName, Err: err}
	}
	newPath, err := fsys.OsPath(newName)
	if err != nil {
		return &fs.PathError{Op: "rename", Path: newName, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &fs.PathError{Op: "rename", Path: oldName, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(newPath), dirPerm); err != nil {
		return &fs.PathError{Op: "rename", Path: newName, Err: err}
	}
	return os.Rename(oldPath, newPath)
}

// RenameFrom moves an os path from outside the backend to newName inside
// it. The source should be on the same mount so the move is atomic; a
// cross-device move falls back to copy-and-delete.
func (fsys *FS) RenameFrom(ctx context.Context, osPath, newName string) error {
	newPath, err := fsys.OsPath(newName)
	if err != nil {
		return &fs.PathError{Op: "rename", Path: newName, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &fs.PathError{Op: "rename", Path: newName, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(newPath), dirPerm); err != nil {
		return &fs.PathError{Op: "rename", Path: newName, Err: err}
	}
	err = os.Rename(osPath, newPath)
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		if cpErr := os.CopyFS(newPath, os.DirFS(osPath)); cpErr != nil {
			return errors.Join(err, cpErr)
		}
		return os.RemoveAll(osPath)
	}
	return err
}
