package extension

import (
	"encoding/json"
	"fmt"
	"io/fs"
)

const ext0002 = "0002-flat-direct-storage-layout"

// LayoutFlatDirect implements 0002-flat-direct-storage-layout: object ids
// are used directly as storage paths.
type LayoutFlatDirect struct{}

var _ Layout = (*LayoutFlatDirect)(nil)

// Ext0002 returns a new instance of 0002-flat-direct-storage-layout.
func Ext0002() Extension { return &LayoutFlatDirect{} }

func (l LayoutFlatDirect) Name() string { return ext0002 }

func (l LayoutFlatDirect) Resolve(id string) (string, error) {
	if id == "" || id == "." || !fs.ValidPath(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLayoutID, id)
	}
	return id, nil
}

func (l LayoutFlatDirect) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		extensionName: ext0002,
	})
}
