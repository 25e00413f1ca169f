package ocfl

import (
	"encoding/json"
	"testing"

	"github.com/matryer/is"
)

func TestSpecValid(t *testing.T) {
	is := is.New(t)
	is.NoErr(Spec("1.0").Valid())
	is.NoErr(Spec("1.1").Valid())
	is.NoErr(Spec("2.0-draft").Valid())
	is.True(Spec("").Valid() != nil)
	is.True(Spec("v1.0").Valid() != nil)
	is.True(Spec("1").Valid() != nil)
}

func TestSpecCmp(t *testing.T) {
	is := is.New(t)
	is.Equal(Spec1_0.Cmp(Spec1_1), -1)
	is.Equal(Spec1_1.Cmp(Spec1_0), 1)
	is.Equal(Spec1_1.Cmp(Spec1_1), 0)
	is.Equal(Spec("2.0").Cmp(Spec1_1), 1)
	is.Equal(Spec("bogus").Cmp(Spec1_0), -1)
}

func TestInvTypeJSON(t *testing.T) {
	is := is.New(t)
	byt, err := json.Marshal(Spec1_1.AsInvType())
	is.NoErr(err)
	is.Equal(string(byt), `"https://ocfl.io/1.1/spec/#inventory"`)
	var invType InvType
	is.NoErr(json.Unmarshal(byt, &invType))
	is.Equal(invType.Spec, Spec1_1)
	is.True(json.Unmarshal([]byte(`"https://example.com/other"`), &invType) != nil)
}
