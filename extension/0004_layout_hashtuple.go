package extension

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const ext0004 = "0004-hashed-n-tuple-storage-layout"

// LayoutHashTuple implements 0004-hashed-n-tuple-storage-layout: the hash of
// the object id is split into tuples forming directory levels, with the full
// hash (or, with ShortObjectRoot, the rest of the hash after the tuples) as
// the leaf directory.
type LayoutHashTuple struct {
	DigestAlgorithm string `json:"digestAlgorithm"`
	TupleSize       int    `json:"tupleSize"`
	TupleNum        int    `json:"numberOfTuples"`
	ShortObjectRoot bool   `json:"shortObjectRoot"`
}

var _ Layout = (*LayoutHashTuple)(nil)

// Ext0004 returns a new instance of 0004-hashed-n-tuple-storage-layout with
// default values.
func Ext0004() Extension {
	return &LayoutHashTuple{
		DigestAlgorithm: "sha256",
		TupleSize:       3,
		TupleNum:        3,
	}
}

func (l LayoutHashTuple) Name() string { return ext0004 }

func (l LayoutHashTuple) Resolve(id string) (string, error) {
	h := getAlg(l.DigestAlgorithm)
	if h == nil {
		return "", fmt.Errorf("unknown digest algorithm: %q", l.DigestAlgorithm)
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty id", ErrInvalidLayoutID)
	}
	hexLen := h.Size() * 2
	if l.TupleSize*l.TupleNum > hexLen {
		return "", fmt.Errorf("product of %s and %s is more than the hash length for %s",
			tupleSize, numberOfTuples, l.DigestAlgorithm)
	}
	h.Write([]byte(id))
	hID := hex.EncodeToString(h.Sum(nil))
	tuples := make([]string, l.TupleNum+1)
	for i := 0; i < l.TupleNum; i++ {
		tuples[i] = hID[i*l.TupleSize : (i+1)*l.TupleSize]
	}
	switch {
	case l.ShortObjectRoot:
		tuples[l.TupleNum] = hID[l.TupleSize*l.TupleNum:]
	default:
		tuples[l.TupleNum] = hID
	}
	return strings.Join(tuples, "/"), nil
}

func (l LayoutHashTuple) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		extensionName:     ext0004,
		digestAlgorithm:   l.DigestAlgorithm,
		tupleSize:         l.TupleSize,
		numberOfTuples:    l.TupleNum,
		"shortObjectRoot": l.ShortObjectRoot,
	})
}
