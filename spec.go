package ocfl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	invTypePrefix = "https://ocfl.io/"
	invTypeSuffix = "/spec/#inventory"
)

var (
	ErrSpecInvalid = errors.New("invalid OCFL spec version")

	// matches "1.0", "1.1", "2.0-draft", etc.
	specNumRegexp = regexp.MustCompile(`^\d+\.\d+(\-\w+)?$`)
)

// Spec represents an OCFL specification version number, e.g. "1.1".
type Spec string

// Valid returns a non-nil error if s is not a well-formed spec version.
func (s Spec) Valid() error {
	if !specNumRegexp.MatchString(string(s)) {
		return fmt.Errorf("%w: %q", ErrSpecInvalid, string(s))
	}
	return nil
}

// Empty returns true if s is the empty string.
func (s Spec) Empty() bool { return s == "" }

// Cmp compares s to other: -1 if s is lower, 0 if equal, 1 if higher. An
// invalid spec is lower than any valid spec.
func (s Spec) Cmp(other Spec) int {
	var maj1, min1, maj2, min2 int
	_, err1 := fmt.Sscanf(strings.SplitN(string(s), "-", 2)[0], "%d.%d", &maj1, &min1)
	_, err2 := fmt.Sscanf(strings.SplitN(string(other), "-", 2)[0], "%d.%d", &maj2, &min2)
	switch {
	case err1 != nil && err2 != nil:
		return 0
	case err1 != nil:
		return -1
	case err2 != nil:
		return 1
	}
	switch {
	case maj1 != maj2:
		return cmpInt(maj1, maj2)
	default:
		return cmpInt(min1, min2)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// AsInvType returns the inventory type URI for the spec version.
func (s Spec) AsInvType() InvType {
	return InvType{Spec: s}
}

// InvType represents the inventory's 'type' value: a URI that names the OCFL
// spec version the inventory conforms to.
type InvType struct {
	Spec
}

func (t InvType) String() string {
	return invTypePrefix + string(t.Spec) + invTypeSuffix
}

func (t InvType) MarshalText() ([]byte, error) {
	if err := t.Spec.Valid(); err != nil {
		return nil, err
	}
	return []byte(t.String()), nil
}

func (t *InvType) UnmarshalText(b []byte) error {
	str := string(b)
	if !strings.HasPrefix(str, invTypePrefix) || !strings.HasSuffix(str, invTypeSuffix) {
		return fmt.Errorf("%w: %q is not an inventory type URI", ErrSpecInvalid, str)
	}
	spec := Spec(strings.TrimSuffix(strings.TrimPrefix(str, invTypePrefix), invTypeSuffix))
	if err := spec.Valid(); err != nil {
		return err
	}
	t.Spec = spec
	return nil
}
