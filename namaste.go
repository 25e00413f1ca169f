package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

const (
	NamasteTypeObject = "ocfl_object" // type string for object declarations
	NamasteTypeRoot   = "ocfl"        // type string for storage root declarations
)

var (
	ErrNamasteNotExist = fmt.Errorf("missing NAMASTE declaration: %w", fs.ErrNotExist)
	ErrNamasteContents = errors.New("invalid NAMASTE declaration contents")
	ErrNamasteMultiple = errors.New("multiple NAMASTE declarations found")

	namasteRegexp = regexp.MustCompile(`^0=([a-z_]+)_(\d+\.\d+)$`)
)

// Namaste is a "name-as-text" declaration: a tag file whose name declares the
// type and spec version of the directory holding it.
type Namaste struct {
	Type    string
	Version Spec
}

// ParseNamaste parses name as a NAMASTE declaration filename.
func ParseNamaste(name string) (Namaste, error) {
	m := namasteRegexp.FindStringSubmatch(name)
	if len(m) != 3 {
		return Namaste{}, ErrNamasteNotExist
	}
	return Namaste{Type: m[1], Version: Spec(m[2])}, nil
}

// FindNamaste returns the declaration from a directory listing. An error is
// returned unless exactly one declaration is present.
func FindNamaste(entries []fs.DirEntry) (Namaste, error) {
	var found []Namaste
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if dec, err := ParseNamaste(e.Name()); err == nil {
			found = append(found, dec)
		}
	}
	switch len(found) {
	case 0:
		return Namaste{}, ErrNamasteNotExist
	case 1:
		return found[0], nil
	default:
		return Namaste{}, ErrNamasteMultiple
	}
}

// Name returns the declaration's filename, '0=TYPE_VERSION'.
func (n Namaste) Name() string {
	if n.Type == "" || n.Version.Empty() {
		return ""
	}
	return "0=" + n.Type + "_" + string(n.Version)
}

// Body returns the declaration's expected file contents.
func (n Namaste) Body() string {
	if n.Type == "" || n.Version.Empty() {
		return ""
	}
	return n.Type + "_" + string(n.Version) + "\n"
}

// IsObject returns true if n declares an OCFL object.
func (n Namaste) IsObject() bool { return n.Type == NamasteTypeObject }

// IsRoot returns true if n declares an OCFL storage root.
func (n Namaste) IsRoot() bool { return n.Type == NamasteTypeRoot }

// WriteDeclaration writes the declaration file for n in dir.
func WriteDeclaration(ctx context.Context, fsys WriteFS, dir string, n Namaste) error {
	name := path.Join(dir, n.Name())
	if _, err := fsys.Write(ctx, name, strings.NewReader(n.Body())); err != nil {
		return fmt.Errorf("writing declaration: %w", err)
	}
	return nil
}

// ValidateDeclaration reads the declaration file name in fsys and confirms
// its contents match its filename.
func ValidateDeclaration(ctx context.Context, fsys FS, name string) error {
	n, err := ParseNamaste(path.Base(name))
	if err != nil {
		return err
	}
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNamasteNotExist
		}
		return err
	}
	defer f.Close()
	cont, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if string(cont) != n.Body() {
		return ErrNamasteContents
	}
	return nil
}
