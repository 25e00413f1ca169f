package extension

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestRegistry(t *testing.T) {
	is := is.New(t)
	for _, name := range []string{ext0002, ext0003, ext0004} {
		is.True(IsRegistered(name))
		ext, err := Get(name)
		is.NoErr(err)
		is.Equal(ext.Name(), name)
		_, err = GetLayout(name)
		is.NoErr(err)
	}
	_, err := Get("9999-bogus")
	is.True(errors.Is(err, ErrUnknown))
}

func TestUnmarshalConfig(t *testing.T) {
	is := is.New(t)
	cfg := `{
		"extensionName": "0003-hash-and-id-n-tuple-storage-layout",
		"digestAlgorithm": "md5",
		"tupleSize": 2,
		"numberOfTuples": 2
	}`
	ext, err := Unmarshal([]byte(cfg))
	is.NoErr(err)
	layout, ok := ext.(*LayoutHashIDTuple)
	is.True(ok)
	is.Equal(layout.DigestAlgorithm, "md5")
	is.Equal(layout.TupleSize, 2)
	is.Equal(layout.TupleNum, 2)
	// missing extensionName
	_, err = Unmarshal([]byte(`{"tupleSize": 3}`))
	is.True(errors.Is(err, ErrMarshal))
}

func TestConfigRoundTrip(t *testing.T) {
	is := is.New(t)
	orig := Ext0004().(*LayoutHashTuple)
	orig.TupleSize = 4
	byt, err := json.Marshal(orig)
	is.NoErr(err)
	parsed, err := Unmarshal(byt)
	is.NoErr(err)
	is.Equal(parsed.(*LayoutHashTuple).TupleSize, 4)
}

func TestLayoutFlatDirect(t *testing.T) {
	is := is.New(t)
	layout := Ext0002().(Layout)
	p, err := layout.Resolve("obj-1")
	is.NoErr(err)
	is.Equal(p, "obj-1")
	_, err = layout.Resolve("")
	is.True(errors.Is(err, ErrInvalidLayoutID))
	_, err = layout.Resolve("../escape")
	is.True(errors.Is(err, ErrInvalidLayoutID))
}

func TestLayoutHashIDTuple(t *testing.T) {
	is := is.New(t)
	layout := Ext0003().(Layout)
	p, err := layout.Resolve("obj-1")
	is.NoErr(err)
	parts := strings.Split(p, "/")
	is.Equal(len(parts), 4) // three tuples plus the encoded id
	for _, tuple := range parts[:3] {
		is.Equal(len(tuple), 3)
	}
	is.Equal(parts[3], "obj-1") // safe characters pass through
	// resolution is deterministic
	p2, err := layout.Resolve("obj-1")
	is.NoErr(err)
	is.Equal(p, p2)
	// unsafe characters are percent-encoded in the leaf
	p3, err := layout.Resolve("info:fedora/object-01")
	is.NoErr(err)
	leafParts := strings.Split(p3, "/")
	leaf := leafParts[len(leafParts)-1]
	is.True(strings.Contains(leaf, "%3a"))
	is.True(strings.Contains(leaf, "%2f"))
}

func TestLayoutHashTuple(t *testing.T) {
	is := is.New(t)
	layout := Ext0004().(*LayoutHashTuple)
	p, err := layout.Resolve("obj-1")
	is.NoErr(err)
	parts := strings.Split(p, "/")
	is.Equal(len(parts), 4)
	// leaf is the full hex digest
	is.Equal(len(parts[3]), 64)
	is.True(strings.HasPrefix(parts[3], parts[0]+parts[1]+parts[2]))
	// shortObjectRoot drops the tuple prefix from the leaf
	layout.ShortObjectRoot = true
	p2, err := layout.Resolve("obj-1")
	is.NoErr(err)
	shortParts := strings.Split(p2, "/")
	is.Equal(len(shortParts[3]), 64-9)
	is.Equal(parts[3], parts[0]+parts[1]+parts[2]+shortParts[3])
}
