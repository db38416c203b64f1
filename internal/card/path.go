package card

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GetPath returns the raw JSON found at a dotted path of the serialized
// card, e.g. "data.character_book.entries.0.keys".
func GetPath(c *Card, path string) (string, bool, error) {
	b, err := Serialize(c)
	if err != nil {
		return "", false, err
	}
	r := gjson.GetBytes(b, path)
	if !r.Exists() {
		return "", false, nil
	}
	return r.Raw, true, nil
}

// SetPath stores a raw JSON value at a dotted path and returns the
// renormalized card. c is not modified.
func SetPath(c *Card, path string, value []byte) (*Card, error) {
	if err := checkEditablePath(path); err != nil {
		return nil, err
	}
	if !json.Valid(value) {
		return nil, fmt.Errorf("value for %s: %w", path, ErrInvalidJSON)
	}
	b, err := Serialize(c)
	if err != nil {
		return nil, err
	}
	out, err := sjson.SetRawBytes(b, path, value)
	if err != nil {
		return nil, fmt.Errorf("setting %s: %w", path, err)
	}
	return Normalize(out), nil
}

// DeletePath removes the value at a dotted path and returns the
// renormalized card. c is not modified.
func DeletePath(c *Card, path string) (*Card, error) {
	if err := checkEditablePath(path); err != nil {
		return nil, err
	}
	b, err := Serialize(c)
	if err != nil {
		return nil, err
	}
	out, err := sjson.DeleteBytes(b, path)
	if err != nil {
		return nil, fmt.Errorf("deleting %s: %w", path, err)
	}
	return Normalize(out), nil
}

func checkEditablePath(path string) error {
	head, _, _ := strings.Cut(path, ".")
	switch head {
	case "":
		return fmt.Errorf("empty path")
	case "spec", "spec_version":
		return fmt.Errorf("%s is fixed and cannot be edited", head)
	}
	if path == "data" {
		return fmt.Errorf("data cannot be replaced as a whole")
	}
	return nil
}
