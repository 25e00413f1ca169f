// Package cloud implements the FS abstraction over any object store
// supported by gocloud.dev/blob: S3, GCS, Azure, or the in-memory and
// file-backed buckets used in tests.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/preservio/ocfl"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

var ErrNotDir = fmt.Errorf("not a directory")

// FS is a backend for cloud storage using a blob.Bucket.
type FS struct {
	*blob.Bucket
	log        *slog.Logger
	writerOpts *blob.WriterOptions
	readerOpts *blob.ReaderOptions
}

var _ ocfl.CopyFS = (*FS)(nil)

// Option configures an FS.
type Option func(*FS)

// NewFS returns an FS over bucket b.
func NewFS(b *blob.Bucket, opts ...Option) *FS {
	fsys := &FS{Bucket: b}
	for _, opt := range opts {
		opt(fsys)
	}
	return fsys
}

// WithLogger sets a logger for debug records of backend operations.
func WithLogger(l *slog.Logger) Option {
	return func(fsys *FS) { fsys.log = l }
}

func (fsys *FS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	fsys.debugLog(ctx, "openfile", "name", name)
	if !fs.ValidPath(name) || name == "." {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: fs.ErrInvalid}
	}
	reader, err := fsys.Bucket.NewReader(ctx, name, fsys.readerOpts)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: err}
	}
	return &file{
		ReadCloser: reader,
		info: &fileInfo{
			name:    path.Base(name),
			size:    reader.Size(),
			modTime: reader.ModTime(),
		},
	}, nil
}

func (fsys *FS) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	fsys.debugLog(ctx, "readdir", "name", name)
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	const pageSize = 1000
	var (
		opts    = &blob.ListOptions{Delimiter: "/"}
		token   = blob.FirstPageToken
		list    []*blob.ListObject
		err     error
		results []fs.DirEntry
	)
	if name != "." {
		opts.Prefix = name + "/"
	}
	for {
		list, token, err = fsys.Bucket.ListPage(ctx, token, pageSize, opts)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if gcerrors.Code(err) == gcerrors.NotFound {
				err = errors.Join(err, fs.ErrNotExist)
			}
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
		}
		for _, item := range list {
			inf := &fileInfo{
				name:    path.Base(item.Key),
				size:    item.Size,
				modTime: item.ModTime,
			}
			if item.IsDir {
				inf.mode = fs.ModeDir
			}
			results = append(results, inf)
		}
		if len(token) == 0 {
			break
		}
	}
	// an empty prefix is a missing directory, except the top-level
	if len(results) == 0 && name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name() < results[j].Name() })
	return results, nil
}

func (fsys *FS) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	fsys.debugLog(ctx, "write", "name", name)
	if !fs.ValidPath(name) || name == "." {
		return 0, &fs.PathError{Op: "write", Path: name, Err: fs.ErrInvalid}
	}
	writer, err := fsys.Bucket.NewWriter(ctx, name, fsys.writerOpts)
	if err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	n, writeErr := writer.ReadFrom(r)
	closeErr := writer.Close()
	if writeErr != nil {
		return n, &fs.PathError{Op: "write", Path: name, Err: writeErr}
	}
	if closeErr != nil {
		return n, &fs.PathError{Op: "write", Path: name, Err: closeErr}
	}
	return n, nil
}

func (fsys *FS) Remove(ctx context.Context, name string) error {
	fsys.debugLog(ctx, "remove", "name", name)
	if !fs.ValidPath(name) || name == "." {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrInvalid}
	}
	if err := fsys.Bucket.Delete(ctx, name); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

func (fsys *FS) RemoveAll(ctx context.Context, name string) error {
	fsys.debugLog(ctx, "removeall", "name", name)
	if !fs.ValidPath(name) || name == "." {
		return &fs.PathError{Op: "removeall", Path: name, Err: fs.ErrInvalid}
	}
	list := fsys.Bucket.List(&blob.ListOptions{Prefix: name + "/"})
	for {
		next, err := list.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return &fs.PathError{Op: "removeall", Path: name, Err: err}
		}
		fsys.debugLog(ctx, "removeall.delete", "name", next.Key)
		if err := fsys.Bucket.Delete(ctx, next.Key); err != nil {
			return &fs.PathError{Op: "removeall", Path: next.Key, Err: err}
		}
	}
	return nil
}

// Copy implements server-side copy of src to dst.
func (fsys *FS) Copy(ctx context.Context, dst, src string) error {
	fsys.debugLog(ctx, "copy", "dst", dst, "src", src)
	for _, p := range []string{src, dst} {
		if !fs.ValidPath(p) || p == "." {
			return &fs.PathError{Op: "copy", Path: p, Err: fs.ErrInvalid}
		}
	}
	if err := fsys.Bucket.Copy(ctx, dst, src, &blob.CopyOptions{}); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return &fs.PathError{Op: "copy", Path: src, Err: err}
	}
	return nil
}

// WalkKeys calls fn for every key under prefix, in key order. The storage
// engines' object-id scan and raw-tree exports do not use it; they list
// directories with ReadDir.
func (fsys *FS) WalkKeys(ctx context.Context, prefix string, fn func(key string) error) error {
	opts := &blob.ListOptions{}
	if prefix != "." && prefix != "" {
		opts.Prefix = prefix + "/"
	}
	list := fsys.Bucket.List(opts)
	for {
		next, err := list.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(next.Key); err != nil {
			return err
		}
	}
}

func (fsys *FS) debugLog(ctx context.Context, method string, args ...any) {
	if fsys.log == nil {
		return
	}
	fsys.log.DebugContext(ctx, method, args...)
}

// file implements fs.File over a blob reader.
type file struct {
	io.ReadCloser
	info *fileInfo
}

func (f *file) Stat() (fs.FileInfo, error) { return f.info, nil }

// fileInfo implements fs.FileInfo and fs.DirEntry.
type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func (i *fileInfo) Name() string               { return i.name }
func (i *fileInfo) Size() int64                { return i.size }
func (i *fileInfo) Mode() fs.FileMode          { return i.mode }
func (i *fileInfo) ModTime() time.Time         { return i.modTime }
func (i *fileInfo) IsDir() bool                { return i.mode.IsDir() }
func (i *fileInfo) Sys() any                   { return nil }
func (i *fileInfo) Info() (fs.FileInfo, error) { return i, nil }
func (i *fileInfo) Type() fs.FileMode          { return i.mode.Type() }
