package ocfl

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestDigestMapAdd(t *testing.T) {
	is := is.New(t)
	dm := NewDigestMap()
	is.NoErr(dm.Add("abc1", "a.txt"))
	is.NoErr(dm.Add("abc1", "copy/a.txt"))
	is.NoErr(dm.Add("abc2", "b.txt"))
	is.Equal(dm.GetDigest("a.txt"), "abc1")
	is.Equal(dm.NumPaths(), 3)
	is.Equal(dm.DigestPaths("abc1"), []string{"a.txt", "copy/a.txt"})
	// existing path
	is.True(dm.Add("abc3", "a.txt") != nil)
	// digest case conflict
	var conflict *DigestConflictError
	is.True(errors.As(dm.Add("ABC1", "c.txt"), &conflict))
	// path/directory conflict
	var baseErr *BasePathError
	is.True(errors.As(dm.Add("abc4", "copy"), &baseErr))
	is.True(errors.As(dm.Add("abc5", "b.txt/x"), &baseErr))
	// invalid paths
	var invalid *PathInvalidError
	is.True(errors.As(dm.Add("abc6", "../x"), &invalid))
	is.True(errors.As(dm.Add("abc7", ""), &invalid))
}

func TestDigestMapAddReplace(t *testing.T) {
	is := is.New(t)
	dm := NewDigestMap()
	is.NoErr(dm.AddReplace("abc1", "a.txt"))
	is.NoErr(dm.AddReplace("abc2", "a.txt"))
	is.Equal(dm.GetDigest("a.txt"), "abc2")
	// abc1 lost its last path and is gone
	is.True(!dm.HasDigest("abc1"))
}

func TestDigestMapRemove(t *testing.T) {
	is := is.New(t)
	dm := NewDigestMap()
	is.NoErr(dm.Add("abc1", "a.txt"))
	is.NoErr(dm.Add("abc1", "b.txt"))
	digest, err := dm.Remove("a.txt")
	is.NoErr(err)
	is.Equal(digest, "abc1")
	is.True(dm.HasDigest("abc1")) // still one path left
	_, err = dm.Remove("a.txt")
	is.True(errors.Is(err, ErrNotExist))
}

func TestDigestMapRename(t *testing.T) {
	is := is.New(t)
	dm := NewDigestMap()
	is.NoErr(dm.Add("abc1", "a.txt"))
	is.NoErr(dm.Add("abc2", "b.txt"))
	is.NoErr(dm.Rename("a.txt", "c/d.txt"))
	is.Equal(dm.GetDigest("c/d.txt"), "abc1")
	is.Equal(dm.GetDigest("a.txt"), "")
	is.True(errors.Is(dm.Rename("missing", "x"), ErrNotExist))
	var conflict *PathConflictError
	is.True(errors.As(dm.Rename("b.txt", "c/d.txt"), &conflict))
}

func TestDigestMapEq(t *testing.T) {
	is := is.New(t)
	a := NewDigestMap()
	b := NewDigestMap()
	is.NoErr(a.Add("abc1", "a.txt"))
	is.NoErr(b.Add("ABC1", "a.txt"))
	is.True(a.Eq(b)) // digests compare case-insensitively
	is.NoErr(b.Add("abc2", "b.txt"))
	is.True(!a.Eq(b))
}

func TestDigestMapJSON(t *testing.T) {
	is := is.New(t)
	dm := NewDigestMap()
	is.NoErr(dm.Add("abc1", "z.txt"))
	is.NoErr(dm.Add("abc1", "a.txt"))
	is.NoErr(dm.Add("abc2", "m.txt"))
	byt, err := json.Marshal(dm)
	is.NoErr(err)
	// paths are serialized sorted
	is.True(strings.Index(string(byt), "a.txt") < strings.Index(string(byt), "z.txt"))
	parsed := &DigestMap{}
	is.NoErr(json.Unmarshal(byt, parsed))
	is.NoErr(parsed.Valid())
	is.True(dm.Eq(parsed))
	// marshal is stable
	byt2, err := json.Marshal(parsed)
	is.NoErr(err)
	is.Equal(string(byt), string(byt2))
}

func TestDigestMapValid(t *testing.T) {
	is := is.New(t)
	bad := &DigestMap{}
	is.NoErr(json.Unmarshal([]byte(`{"abc1":["a.txt"],"ABC1":["b.txt"]}`), bad))
	is.True(bad.Valid() != nil)
	dup := &DigestMap{}
	is.NoErr(json.Unmarshal([]byte(`{"abc1":["a.txt"],"abc2":["a.txt"]}`), dup))
	is.True(dup.Valid() != nil)
}
