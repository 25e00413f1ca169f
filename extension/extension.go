// Package extension implements the OCFL storage layout extensions used by
// this module, which map object ids to storage paths. The mutable-head
// extension name is not defined here; it is a constant of the ocfl package.
// Extensions are registered by name and configured through their JSON config
// documents.
package extension

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

const (
	// extensionName is the key naming the extension in config.json.
	extensionName = "extensionName"
)

var (
	ErrMarshal         = errors.New("extension config doesn't include '" + extensionName + "' string")
	ErrNotLayout       = errors.New("not a layout extension")
	ErrUnknown         = errors.New("unrecognized extension")
	ErrInvalidLayoutID = errors.New("invalid object id for layout")
)

// global register of extensions
var register = map[string]func() Extension{
	ext0002: Ext0002,
	ext0003: Ext0003,
	ext0004: Ext0004,
}

// Extension is implemented by all supported extensions.
type Extension interface {
	// Name returns the extension's registered name.
	Name() string
}

// Layout is an extension that maps object ids to storage-root-relative
// paths.
type Layout interface {
	Extension
	Resolve(id string) (path string, err error)
}

// Get returns a new instance of the named extension with default values.
func Get(name string) (Extension, error) {
	extfunc, ok := register[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return extfunc(), nil
}

// GetLayout is like Get but requires the named extension to be a layout.
func GetLayout(name string) (Layout, error) {
	ext, err := Get(name)
	if err != nil {
		return nil, err
	}
	layout, ok := ext.(Layout)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotLayout, name)
	}
	return layout, nil
}

// Register adds the extension returned by extfunc to the register. The
// instance returned by extfunc must have default values.
func Register(extfunc func() Extension) {
	register[extfunc().Name()] = extfunc
}

// Registered returns the names of all registered extensions.
func Registered() []string {
	names := make([]string, 0, len(register))
	for name := range register {
		names = append(names, name)
	}
	return names
}

// IsRegistered returns true if the named extension is in the register.
func IsRegistered(name string) bool {
	_, ok := register[name]
	return ok
}

// Unmarshal decodes an extension config document and returns a configured
// extension instance.
func Unmarshal(jsonBytes []byte) (Extension, error) {
	var tmp struct {
		Name string `json:"extensionName"`
	}
	if err := json.Unmarshal(jsonBytes, &tmp); err != nil {
		return nil, err
	}
	if tmp.Name == "" {
		return nil, ErrMarshal
	}
	ext, err := Get(tmp.Name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(jsonBytes, ext); err != nil {
		return nil, err
	}
	return ext, nil
}

func getAlg(name string) hash.Hash {
	switch name {
	case "sha512":
		return sha512.New()
	case "sha256":
		return sha256.New()
	case "sha1":
		return sha1.New()
	case "md5":
		return md5.New()
	case "blake2b-512":
		h, err := blake2b.New512(nil)
		if err != nil {
			panic("creating new blake2b hash")
		}
		return h
	default:
		return nil
	}
}
