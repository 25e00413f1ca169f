package ocfl

import (
	"testing"

	"github.com/matryer/is"
)

func TestParseVNum(t *testing.T) {
	table := map[string]VNum{
		"v1":    V(1),
		"v100":  V(100),
		"v04":   V(4, 2),
		"v0010": V(10, 4),
	}
	for str, expect := range table {
		t.Run(str, func(t *testing.T) {
			is := is.New(t)
			var v VNum
			is.NoErr(ParseVNum(str, &v))
			is.Equal(v, expect)
			is.Equal(v.String(), str)
		})
	}
	invalid := []string{"", "v", "1", "v0", "v00", "v-1", "v1.0", "x1", "v1x"}
	for _, str := range invalid {
		t.Run("invalid "+str, func(t *testing.T) {
			is := is.New(t)
			var v VNum
			is.True(ParseVNum(str, &v) != nil)
		})
	}
}

func TestVNumNextPrev(t *testing.T) {
	is := is.New(t)
	next, err := V(1).Next()
	is.NoErr(err)
	is.Equal(next, V(2))
	// padding overflow
	_, err = V(99, 3).Next()
	is.True(err != nil)
	prev, err := V(3, 2).Prev()
	is.NoErr(err)
	is.Equal(prev, V(2, 2))
	_, err = V(1).Prev()
	is.True(err != nil)
}

func TestVNumsValid(t *testing.T) {
	is := is.New(t)
	is.NoErr(VNums{V(1), V(2), V(3)}.Valid())
	is.NoErr(VNums{V(1, 3), V(2, 3)}.Valid())
	// empty
	is.True(VNums{}.Valid() != nil)
	// gap
	is.True(VNums{V(1), V(3)}.Valid() != nil)
	// mixed padding
	is.True(VNums{V(1, 2), V(2, 3)}.Valid() != nil)
	// unsorted input is fine
	is.NoErr(VNums{V(2), V(1)}.Valid())
}

func TestVNumLineage(t *testing.T) {
	is := is.New(t)
	lineage := V(3, 2).Lineage()
	is.Equal(len(lineage), 3)
	is.Equal(lineage[0], V(1, 2))
	is.Equal(lineage.Head(), V(3, 2))
	is.Equal(lineage.Padding(), 2)
}

func TestVNumJSON(t *testing.T) {
	is := is.New(t)
	byt, err := V(4, 3).MarshalText()
	is.NoErr(err)
	is.Equal(string(byt), "v004")
	var v VNum
	is.NoErr(v.UnmarshalText(byt))
	is.Equal(v, V(4, 3))
	_, err = VNum{}.MarshalText()
	is.True(err != nil) // zero value isn't a valid version
}
