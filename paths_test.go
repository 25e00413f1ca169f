package ocfl

import (
	"testing"

	"github.com/matryer/is"
)

func TestValidLogicalPath(t *testing.T) {
	valid := []string{
		"a.txt",
		"a/b/c.txt",
		"with space.txt",
		"ütf8/ファイル",
		"trailing.dot.",
	}
	invalid := []string{
		"",
		"/leading",
		"trailing/",
		"a//b",
		"a/../b",
		"..",
		".",
		"a/./b",
		"nul\x00byte",
		"back\\slash",
		string([]byte{0xff, 0xfe}),
	}
	is := is.New(t)
	for _, p := range valid {
		is.NoErr(ValidLogicalPath(p)) // should be valid
	}
	for _, p := range invalid {
		is.True(ValidLogicalPath(p) != nil) // should be invalid
	}
}
