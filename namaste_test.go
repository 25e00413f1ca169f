package ocfl

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestParseNamaste(t *testing.T) {
	is := is.New(t)
	n, err := ParseNamaste("0=ocfl_object_1.1")
	is.NoErr(err)
	is.True(n.IsObject())
	is.Equal(n.Version, Spec1_1)
	is.Equal(n.Name(), "0=ocfl_object_1.1")
	is.Equal(n.Body(), "ocfl_object_1.1\n")
	root, err := ParseNamaste("0=ocfl_1.1")
	is.NoErr(err)
	is.True(root.IsRoot())
	_, err = ParseNamaste("inventory.json")
	is.True(err != nil)
}

func TestWriteValidateDeclaration(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := newTestFS(t)
	decl := Namaste{Type: NamasteTypeObject, Version: Spec1_1}
	is.NoErr(WriteDeclaration(ctx, fsys, "obj", decl))
	is.NoErr(ValidateDeclaration(ctx, fsys, "obj/0=ocfl_object_1.1"))
	// corrupt contents
	_, err := fsys.Write(ctx, "obj/0=ocfl_object_1.1", strings.NewReader("wrong\n"))
	is.NoErr(err)
	is.True(errors.Is(ValidateDeclaration(ctx, fsys, "obj/0=ocfl_object_1.1"), ErrNamasteContents))
	// missing file
	is.True(errors.Is(ValidateDeclaration(ctx, fsys, "obj/0=ocfl_object_1.0"), ErrNamasteNotExist))
}

func TestFindNamaste(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := newTestFS(t)
	decl := Namaste{Type: NamasteTypeObject, Version: Spec1_1}
	is.NoErr(WriteDeclaration(ctx, fsys, "obj", decl))
	_, err := fsys.Write(ctx, "obj/inventory.json", strings.NewReader("{}"))
	is.NoErr(err)
	entries, err := fsys.ReadDir(ctx, "obj")
	is.NoErr(err)
	found, err := FindNamaste(entries)
	is.NoErr(err)
	is.Equal(found, decl)
}
