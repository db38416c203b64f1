package chara

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// repairJSON fixes common damage in hand-edited card files: a leading BOM,
// trailing commas, comments, single quotes, unquoted keys and truncation.
func repairJSON(raw []byte) ([]byte, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if json.Valid(raw) {
		return raw, nil
	}
	fixed, err := jsonrepair.JSONRepair(string(raw))
	if err != nil {
		return nil, fmt.Errorf("JSON repair failed: %w", err)
	}
	if !json.Valid([]byte(fixed)) {
		return nil, fmt.Errorf("JSON repair produced invalid JSON")
	}
	return []byte(fixed), nil
}
