package s3

import (
	"context"
	"errors"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

const defaultCopyPartConcurrency = 6

// MultiCopier copies objects too large for a single server-side CopyObject
// call using a multipart upload of UploadPartCopy parts.
type MultiCopier struct {
	// PartSize is the starting size of copied parts. If it is too small for
	// the source to fit within the part-count limit, it is grown the same
	// way as for multipart writes.
	PartSize int64
	// Concurrency is the number of goroutines copying parts.
	Concurrency int

	api API
}

// NewMultiCopier returns a MultiCopier using the api.
func NewMultiCopier(api API, opts ...func(*MultiCopier)) *MultiCopier {
	copier := MultiCopier{api: api}
	for _, o := range opts {
		if o != nil {
			o(&copier)
		}
	}
	return &copier
}

// Copy performs the multipart copy of src to dst within buck. On failure the
// multipart upload is aborted so the provider releases the partial parts.
func (c *MultiCopier) Copy(ctx context.Context, buck, dst, src string, srcHeads ...*s3.HeadObjectOutput) (srcSize int64, err error) {
	var srcHead *s3.HeadObjectOutput
	if len(srcHeads) > 0 {
		srcHead = srcHeads[0]
	}
	if srcHead == nil {
		headParams := &s3.HeadObjectInput{Bucket: &buck, Key: &src}
		srcHead, err = c.api.HeadObject(ctx, headParams)
		if err != nil {
			return 0, pathErr("copy", src, err)
		}
	}
	if srcHead.ContentLength == nil {
		return 0, pathErr("copy", src, errors.New("missing content length"))
	}
	srcSize = *srcHead.ContentLength
	if c.PartSize < manager.MinUploadPartSize {
		c.PartSize = defaultPartSize
	}
	if c.Concurrency < 1 {
		c.Concurrency = defaultCopyPartConcurrency
	}
	psize, partCount, _ := adjustPartSize(srcSize, c.PartSize, manager.MaxUploadParts)
	completedParts := make([]types.CompletedPart, partCount)
	uploadParams := &s3.CreateMultipartUploadInput{Bucket: &buck, Key: &dst}
	newUp, err := c.api.CreateMultipartUpload(ctx, uploadParams)
	if err != nil {
		return 0, pathErr("copy", dst, err)
	}
	defer func() {
		// complete or abort the multipart upload
		switch {
		case err != nil:
			params := &s3.AbortMultipartUploadInput{
				Bucket:   &buck,
				Key:      &dst,
				UploadId: newUp.UploadId,
			}
			_, abortErr := c.api.AbortMultipartUpload(ctx, params)
			err = errors.Join(err, abortErr)
		default:
			upload := &types.CompletedMultipartUpload{Parts: completedParts}
			params := &s3.CompleteMultipartUploadInput{
				Bucket:          &buck,
				Key:             &dst,
				UploadId:        newUp.UploadId,
				MultipartUpload: upload,
			}
			_, err = c.api.CompleteMultipartUpload(ctx, params)
		}
	}()
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(c.Concurrency)
	copySource := url.QueryEscape(buck + "/" + src)
	for i := range partCount {
		grp.Go(func() error {
			partNum := i + 1
			srcRange := byteRange(partNum, psize, srcSize)
			params := &s3.UploadPartCopyInput{
				Bucket:          &buck,
				CopySource:      &copySource,
				Key:             &dst,
				UploadId:        newUp.UploadId,
				PartNumber:      &partNum,
				CopySourceRange: &srcRange,
			}
			result, err := c.api.UploadPartCopy(grpCtx, params)
			if err != nil {
				return err
			}
			completedParts[i] = types.CompletedPart{
				PartNumber: &partNum,
				ETag:       result.CopyPartResult.ETag,
			}
			return nil
		})
	}
	err = grp.Wait()
	return
}
