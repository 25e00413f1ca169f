package s3

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/matryer/is"
)

func TestAdjustPartSize(t *testing.T) {
	is := is.New(t)
	// 150 MiB fits at the starting part size with at least two parts
	psize, pcount, limit := adjustPartSize(150*megabyte, defaultPartSize, manager.MaxUploadParts)
	is.Equal(psize, defaultPartSize)
	is.Equal(pcount, int32(15))
	is.Equal(limit, manager.MaxUploadParts)
	// a trailing partial part is counted
	_, pcount, _ = adjustPartSize(150*megabyte+1, defaultPartSize, manager.MaxUploadParts)
	is.Equal(pcount, int32(16))
	// a large transfer grows the part size to stay under the part cap
	big := int64(200_000) * megabyte // ~195 GiB
	psize, pcount, _ = adjustPartSize(big, defaultPartSize, manager.MaxUploadParts)
	is.True(psize > defaultPartSize)
	is.True(pcount <= manager.MaxUploadParts)
	is.True(int64(pcount)*psize >= big)
	// at the part-size ceiling the part-count cap is raised instead, so a
	// 5 TiB object still fits
	huge := int64(5) * 1024 * 1024 * megabyte
	psize, pcount, limit = adjustPartSize(huge, defaultPartSize, manager.MaxUploadParts)
	is.True(psize <= partSizeCeiling)
	is.True(pcount < limit)
	is.True(int64(pcount)*psize >= huge)
}

func TestByteRange(t *testing.T) {
	is := is.New(t)
	is.Equal(byteRange(1, 10, 25), "bytes=0-9")
	is.Equal(byteRange(2, 10, 25), "bytes=10-19")
	// the final part is truncated to the object size
	is.Equal(byteRange(3, 10, 25), "bytes=20-24")
}
