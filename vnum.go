package ocfl

import (
	"encoding"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	ErrVNumInvalid = errors.New("invalid version number")
	ErrVNumPadding = errors.New("inconsistent version padding in version sequence")
	ErrVNumMissing = errors.New("missing version in version sequence")
	ErrVerEmpty    = errors.New("no versions found")

	// Head is the zero value VNum. Some functions use it to refer to an
	// object's most recent version.
	Head = VNum{}
)

// VNum is an OCFL version number (e.g., "v3", "v004"). It combines a sequence
// number (1,2,3...) with a padding width. The padding is the number of digits
// in the version string, including leading zeros; zero padding means no
// leading zeros and no maximum. Padding is fixed per-object: all versions of
// an object use the same width.
type VNum struct {
	num     int
	padding int
}

// V constructs a VNum. The first argument is the sequence number; an optional
// second argument sets the padding. With no arguments V returns the zero
// value.
func V(ns ...int) VNum {
	switch len(ns) {
	case 0:
		return VNum{}
	case 1:
		return VNum{num: ns[0]}
	default:
		return VNum{num: ns[0], padding: ns[1]}
	}
}

// ParseVNum parses str as a version number and sets the value referenced
// by vn.
func ParseVNum(str string, vn *VNum) error {
	var n, p int
	var nonzero bool
	if len(str) < 2 || str[0] != 'v' {
		return fmt.Errorf("%s: %w", str, ErrVNumInvalid)
	}
	if str[1] == '0' {
		p = len(str) - 1
	}
	for i := 1; i < len(str); i++ {
		if str[i] < '0' || str[i] > '9' {
			return fmt.Errorf("%s: %w", str, ErrVNumInvalid)
		}
		if str[i] != '0' {
			nonzero = true
		}
	}
	if !nonzero {
		return fmt.Errorf("%s: %w", str, ErrVNumInvalid)
	}
	n, err := strconv.Atoi(str[1:])
	if err != nil {
		return fmt.Errorf("%s: %w", str, ErrVNumInvalid)
	}
	vn.num = n
	vn.padding = p
	return nil
}

// MustParseVNum parses str as a VNum, panicking if str is not a valid version
// number.
func MustParseVNum(str string) VNum {
	var v VNum
	if err := ParseVNum(str, &v); err != nil {
		panic(err)
	}
	return v
}

// Num returns v's sequence number.
func (v VNum) Num() int { return v.num }

// Padding returns v's padding width.
func (v VNum) Padding() int { return v.padding }

// IsZero returns true if v is the zero value.
func (v VNum) IsZero() bool { return v == Head }

// First returns true if v is version 1.
func (v VNum) First() bool { return v.num == 1 }

// Next returns the version after v with the same padding. An error is
// returned if the next number would overflow the padding width.
func (v VNum) Next() (VNum, error) {
	next := VNum{num: v.num + 1, padding: v.padding}
	if next.paddingOverflow() {
		return VNum{}, fmt.Errorf("next version: padding overflow: %w", ErrVNumInvalid)
	}
	return next, nil
}

// Prev returns the version before v with the same padding. An error is
// returned if v is version 1.
func (v VNum) Prev() (VNum, error) {
	if v.num <= 1 {
		return Head, errors.New("no previous version")
	}
	return VNum{num: v.num - 1, padding: v.padding}, nil
}

// String returns the string form of v, e.g. "v3" or "v004".
func (v VNum) String() string {
	return fmt.Sprintf(fmt.Sprintf("v%%0%dd", v.padding), v.num)
}

// Valid returns an error if v's sequence number is not positive or overflows
// its padding.
func (v VNum) Valid() error {
	if v.num <= 0 || v.paddingOverflow() {
		return fmt.Errorf("%w: num=%d, padding=%d", ErrVNumInvalid, v.num, v.padding)
	}
	return nil
}

// paddingOverflow reports if v.padding is too small for v.num.
func (v VNum) paddingOverflow() bool {
	return v.padding > 0 && v.num >= int(math.Pow10(v.padding-1))
}

// Lineage returns the complete version sequence from v1 to v.
func (v VNum) Lineage() VNums {
	if v.num == 0 {
		return VNums{}
	}
	nums := make(VNums, v.num)
	for i := range nums {
		nums[i] = VNum{num: i + 1, padding: v.padding}
	}
	return nums
}

var (
	_ encoding.TextUnmarshaler = (*VNum)(nil)
	_ encoding.TextMarshaler   = (*VNum)(nil)
)

func (v *VNum) UnmarshalText(text []byte) error {
	return ParseVNum(string(text), v)
}

func (v VNum) MarshalText() ([]byte, error) {
	if err := v.Valid(); err != nil {
		return nil, err
	}
	return []byte(v.String()), nil
}

// VNums is a slice of version numbers.
type VNums []VNum

// Valid returns a non-nil error if vs is empty, has gaps in its sequence
// (1,2,3...), mixes padding widths, or overflows the padding.
func (vs VNums) Valid() error {
	if len(vs) == 0 {
		return ErrVerEmpty
	}
	if !sort.IsSorted(vs) {
		sort.Sort(vs)
	}
	padding := vs[0].padding
	for i := range vs {
		if vs[i].num != i+1 {
			return fmt.Errorf("%w: %s", ErrVNumMissing, V(i+1, padding))
		}
		if vs[i].padding != padding {
			return ErrVNumPadding
		}
	}
	return vs.Head().Valid()
}

// Head returns the last version in vs.
func (vs VNums) Head() VNum {
	if len(vs) > 0 {
		return vs[len(vs)-1]
	}
	return VNum{}
}

// Padding returns the padding width shared by the versions in vs.
func (vs VNums) Padding() int {
	if len(vs) > 0 {
		return vs[0].padding
	}
	return 0
}

var _ sort.Interface = (*VNums)(nil)

func (vs VNums) Len() int           { return len(vs) }
func (vs VNums) Less(i, j int) bool { return vs[i].num < vs[j].num }
func (vs VNums) Swap(i, j int)      { vs[i], vs[j] = vs[j], vs[i] }
