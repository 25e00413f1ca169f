// Package s3 implements the FS abstraction directly over the AWS S3 API.
// Unlike the generic cloud backend, it controls multipart behavior: large
// writes are split into parts sized to stay within the provider's part-count
// limit, and failed multipart transfers are aborted so the provider releases
// the partial upload.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/preservio/ocfl"
)

const (
	megabyte int64 = 1024 * 1024

	// initial part size for multipart transfers
	defaultPartSize = 10 * megabyte

	// partSizeIncrement is added to the part size until the transfer fits
	// within the part-count limit.
	partSizeIncrement = 10 * megabyte

	// partSizeCeiling caps the part size; at the ceiling the part-count
	// limit is raised instead.
	partSizeCeiling = 100 * megabyte

	// error message returned when a server-side copy fails because the
	// source is too large. Matching the message is the only way to detect
	// this condition.
	copySrcTooLarge = "copy source is larger than the maximum allowable size"

	// modes returned by Stat()
	fileMode = 0644 | fs.ModeIrregular
	dirMode  = 0755 | fs.ModeDir
)

var (
	delim         = "/"
	maxKeys int32 = 1000
)

// API is the subset of the S3 client the backend uses.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, opts ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// FS is a backend over one S3 bucket.
type FS struct {
	api    API
	bucket string
	log    *slog.Logger
}

var _ ocfl.CopyFS = (*FS)(nil)

// Option configures an FS.
type Option func(*FS)

// WithLogger sets a logger for debug records of backend operations.
func WithLogger(l *slog.Logger) Option {
	return func(fsys *FS) { fsys.log = l }
}

// NewFS returns an FS over the named bucket using the given API (typically
// an *s3.Client).
func NewFS(api API, bucket string, opts ...Option) *FS {
	fsys := &FS{api: api, bucket: bucket}
	for _, opt := range opts {
		opt(fsys)
	}
	return fsys
}

func (fsys *FS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	if !fs.ValidPath(name) || name == "." {
		return nil, pathErr("openfile", name, fs.ErrInvalid)
	}
	headIn := &s3.HeadObjectInput{Bucket: &fsys.bucket, Key: &name}
	headOut, err := fsys.api.HeadObject(ctx, headIn)
	if err != nil {
		if errIsNotExist(err) {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return nil, pathErr("openfile", name, err)
	}
	return &s3File{
		ctx:    ctx,
		api:    fsys.api,
		bucket: fsys.bucket,
		key:    name,
		info:   headOut,
	}, nil
}

func (fsys *FS) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, pathErr("readdir", name, fs.ErrInvalid)
	}
	params := &s3.ListObjectsV2Input{
		Bucket:    &fsys.bucket,
		Delimiter: &delim,
		MaxKeys:   &maxKeys,
	}
	if name != "." {
		params.Prefix = aws.String(name + "/")
	}
	var entries []fs.DirEntry
	for {
		list, err := fsys.api.ListObjectsV2(ctx, params)
		if err != nil {
			return nil, pathErr("readdir", name, err)
		}
		for _, item := range list.CommonPrefixes {
			entries = append(entries, &iofsInfo{
				name: path.Base(strings.TrimSuffix(*item.Prefix, "/")),
				mode: dirMode,
			})
		}
		for _, item := range list.Contents {
			entries = append(entries, &iofsInfo{
				name:    path.Base(*item.Key),
				size:    *item.Size,
				mode:    fileMode,
				modTime: *item.LastModified,
			})
		}
		params.ContinuationToken = list.NextContinuationToken
		if params.ContinuationToken == nil {
			break
		}
	}
	if len(entries) == 0 && name != "." {
		// a prefix without objects is a missing directory
		return nil, pathErr("readdir", name, fs.ErrNotExist)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// Write uploads r to the key name. Content larger than the multipart
// threshold is uploaded in parts; a failed multipart upload is aborted so
// the provider releases the partial parts.
func (fsys *FS) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	if !fs.ValidPath(name) || name == "." {
		return 0, pathErr("write", name, fs.ErrInvalid)
	}
	fsys.debugLog(ctx, "write", "key", name)
	size := int64(-1)
	switch val := r.(type) {
	case fs.File:
		if info, err := val.Stat(); err == nil {
			size = info.Size()
		}
	case *bytes.Reader:
		size = val.Size()
	case *io.LimitedReader:
		size = val.N
	}
	uploader := manager.NewUploader(fsys.api, func(u *manager.Uploader) {
		u.PartSize = defaultPartSize
		u.MaxUploadParts = manager.MaxUploadParts
		if size > 0 {
			psize, _, maxParts := adjustPartSize(size, defaultPartSize, manager.MaxUploadParts)
			u.PartSize = psize
			u.MaxUploadParts = maxParts
		}
		// abort failed multipart uploads so parts aren't billed
		u.LeavePartsOnError = false
	})
	countReader := &countReader{Reader: r}
	input := &s3.PutObjectInput{
		Bucket: &fsys.bucket,
		Key:    &name,
		Body:   countReader,
	}
	if size > -1 {
		input.ContentLength = &size
	}
	if _, err := uploader.Upload(ctx, input); err != nil {
		return 0, pathErr("write", name, err)
	}
	return countReader.size, nil
}

// Copy performs a server-side copy. Sources too large for a single
// CopyObject call are copied with a multipart copy.
func (fsys *FS) Copy(ctx context.Context, dst, src string) error {
	for _, p := range []string{src, dst} {
		if !fs.ValidPath(p) || p == "." {
			return pathErr("copy", p, fs.ErrInvalid)
		}
	}
	fsys.debugLog(ctx, "copy", "src", src, "dst", dst)
	srcHead, err := fsys.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &fsys.bucket,
		Key:    &src,
	})
	if err != nil {
		if errIsNotExist(err) {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return pathErr("copy", src, err)
	}
	escapedSrc := url.QueryEscape(fsys.bucket + "/" + src)
	params := &s3.CopyObjectInput{
		Bucket:     &fsys.bucket,
		CopySource: &escapedSrc,
		Key:        &dst,
	}
	if _, err := fsys.api.CopyObject(ctx, params); err != nil {
		if strings.Contains(err.Error(), copySrcTooLarge) {
			_, err = NewMultiCopier(fsys.api).Copy(ctx, fsys.bucket, dst, src, srcHead)
			if err != nil {
				return pathErr("copy", src, err)
			}
			return nil
		}
		return pathErr("copy", src, err)
	}
	return nil
}

func (fsys *FS) Remove(ctx context.Context, name string) error {
	if !fs.ValidPath(name) || name == "." {
		return pathErr("remove", name, fs.ErrInvalid)
	}
	_, err := fsys.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &fsys.bucket,
		Key:    aws.String(name),
	})
	if err != nil {
		return pathErr("remove", name, err)
	}
	return nil
}

func (fsys *FS) RemoveAll(ctx context.Context, name string) error {
	if !fs.ValidPath(name) || name == "." {
		return pathErr("removeall", name, fs.ErrInvalid)
	}
	params := &s3.ListObjectsV2Input{Bucket: &fsys.bucket, MaxKeys: &maxKeys}
	params.Prefix = aws.String(name + "/")
	for {
		list, err := fsys.api.ListObjectsV2(ctx, params)
		if err != nil {
			return pathErr("removeall", name, err)
		}
		for _, obj := range list.Contents {
			_, err := fsys.api.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: &fsys.bucket,
				Key:    obj.Key,
			})
			if err != nil {
				return pathErr("removeall", name, err)
			}
		}
		params.ContinuationToken = list.NextContinuationToken
		if params.ContinuationToken == nil {
			break
		}
	}
	return nil
}

// WalkKeys calls fn for every key under prefix, in key order.
func (fsys *FS) WalkKeys(ctx context.Context, prefix string, fn func(key string) error) error {
	params := &s3.ListObjectsV2Input{Bucket: &fsys.bucket, MaxKeys: &maxKeys}
	if prefix != "." && prefix != "" {
		params.Prefix = aws.String(prefix + "/")
	}
	for {
		list, err := fsys.api.ListObjectsV2(ctx, params)
		if err != nil {
			return err
		}
		for _, obj := range list.Contents {
			if err := fn(*obj.Key); err != nil {
				return err
			}
		}
		params.ContinuationToken = list.NextContinuationToken
		if params.ContinuationToken == nil {
			return nil
		}
	}
}

func (fsys *FS) debugLog(ctx context.Context, method string, args ...any) {
	if fsys.log == nil {
		return
	}
	fsys.log.DebugContext(ctx, method, args...)
}

// s3File implements fs.File; the object body is fetched on first read.
type s3File struct {
	ctx    context.Context
	api    API
	bucket string
	key    string
	body   io.ReadCloser
	info   *s3.HeadObjectOutput
}

func (f *s3File) Stat() (fs.FileInfo, error) {
	return &iofsInfo{
		name:    path.Base(f.key),
		size:    *f.info.ContentLength,
		mode:    fileMode,
		modTime: *f.info.LastModified,
	}, nil
}

func (f *s3File) Read(p []byte) (int, error) {
	if f.body == nil {
		params := &s3.GetObjectInput{Bucket: &f.bucket, Key: &f.key}
		obj, err := f.api.GetObject(f.ctx, params)
		if err != nil {
			return 0, err
		}
		f.body = obj.Body
	}
	return f.body.Read(p)
}

func (f *s3File) Close() error {
	if f.body == nil {
		return nil
	}
	return f.body.Close()
}

// iofsInfo implements fs.FileInfo and fs.DirEntry.
type iofsInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func (i *iofsInfo) Name() string               { return i.name }
func (i *iofsInfo) Size() int64                { return i.size }
func (i *iofsInfo) Mode() fs.FileMode          { return i.mode }
func (i *iofsInfo) ModTime() time.Time         { return i.modTime }
func (i *iofsInfo) IsDir() bool                { return i.mode.IsDir() }
func (i *iofsInfo) Sys() any                   { return nil }
func (i *iofsInfo) Info() (fs.FileInfo, error) { return i, nil }
func (i *iofsInfo) Type() fs.FileMode          { return i.mode.Type() }

// countReader updates a size counter with each read.
type countReader struct {
	io.Reader
	size int64
}

func (r *countReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	r.size += int64(n)
	return n, err
}

func pathErr(op, path string, err error) error {
	return &fs.PathError{Op: op, Path: path, Err: err}
}

// adjustPartSize returns the part size, count, and part-count cap for
// transferring totalSize. The part size starts at initialPartSize and grows
// in increments until the transfer fits in maxParts parts; at the part-size
// ceiling, the size is halved back and the part-count cap doubled instead,
// so objects up to the provider maximum always fit.
func adjustPartSize(totalSize, initialPartSize int64, maxParts int32) (psize int64, pcount, limit int32) {
	psize = initialPartSize
	limit = maxParts
	for {
		pcount = int32(totalSize / psize)
		if pcount < limit {
			break
		}
		if psize >= partSizeCeiling {
			psize = partSizeCeiling / 2
			limit *= 2
			continue
		}
		psize += partSizeIncrement
	}
	if totalSize%psize > 0 {
		pcount++
	}
	return
}

func byteRange(partNum int32, partSize, totalSize int64) string {
	// bytes=first-last with zero-based inclusive offsets
	start := (int64(partNum) - 1) * partSize
	end := int64(partNum)*partSize - 1
	if max := totalSize - 1; end > max {
		end = max
	}
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

func errIsNotExist(err error) bool {
	var notFoundErr *types.NotFound
	if errors.As(err, &notFoundErr) {
		return true
	}
	var noKeyErr *types.NoSuchKey
	return errors.As(err, &noKeyErr)
}
