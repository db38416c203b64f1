package card

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned by Parse when the input is not JSON at all.
var ErrInvalidJSON = errors.New("invalid JSON")

var (
	cardKeys = []string{"spec", "spec_version", "data"}
	dataKeys = []string{
		"name", "description", "personality", "scenario", "first_mes",
		"mes_example", "creator_notes", "system_prompt",
		"post_history_instructions", "creator", "character_version",
		"alternate_greetings", "tags", "extensions", "character_book",
	}
	bookKeys = []string{
		"name", "description", "scan_depth", "token_budget",
		"recursive_scanning", "extensions", "entries",
	}
	entryKeys = []string{
		"keys", "content", "extensions", "enabled", "insertion_order",
		"name", "comment", "priority", "id", "case_sensitive", "constant",
		"selective", "secondary_keys", "position",
	}
)

// Normalize coerces arbitrary JSON into a V2 card. It never fails: input
// that is not a JSON object yields a default card, and a legacy flat
// character object is wrapped as the card's data.
func Normalize(raw []byte) *Card {
	o, ok := parseObject(raw)
	if !ok {
		return New("")
	}

	c := New("")
	if spec, _ := o.str("spec"); spec == SpecV2 {
		if data, ok := parseObject(o["data"]); ok {
			c.Data = decodeData(data)
		}
		c.Extra = o.extra(cardKeys)
		return c
	}

	c.Data = decodeData(o)
	return c
}

// Parse is Normalize for callers that need to tell "not JSON" apart from
// "JSON of the wrong shape".
func Parse(raw []byte) (*Card, error) {
	if !json.Valid(raw) {
		return nil, ErrInvalidJSON
	}
	return Normalize(raw), nil
}

// UnmarshalJSON normalizes the input into c.
func (c *Card) UnmarshalJSON(b []byte) error {
	*c = *Normalize(b)
	return nil
}

func decodeData(o object) CardData {
	d := CardData{Extra: o.extra(dataKeys)}
	text := func(key string, dst *string) {
		var ok bool
		if *dst, ok = o.str(key); !ok {
			d.Extra = d.Extra.keep(o, key)
		}
	}
	text("name", &d.Name)
	text("description", &d.Description)
	text("personality", &d.Personality)
	text("scenario", &d.Scenario)
	text("first_mes", &d.FirstMes)
	text("mes_example", &d.MesExample)
	text("creator_notes", &d.CreatorNotes)
	text("system_prompt", &d.SystemPrompt)
	text("post_history_instructions", &d.PostHistoryInstructions)
	text("creator", &d.Creator)
	text("character_version", &d.CharacterVersion)

	var ok bool
	if d.AlternateGreetings, ok = o.strings("alternate_greetings"); !ok {
		d.Extra = d.Extra.keep(o, "alternate_greetings")
	}
	if d.Tags, ok = o.strings("tags"); !ok {
		d.Extra = d.Extra.keep(o, "tags")
	}
	if d.Extensions, ok = o.extensions("extensions"); !ok {
		d.Extra = d.Extra.keep(o, "extensions")
	}

	if raw, ok := o["character_book"]; ok {
		if bo, ok := parseObject(raw); ok {
			b := decodeBook(bo, false)
			d.CharacterBook = &b
		} else {
			d.Extra = d.Extra.keep(o, "character_book")
		}
	}
	return d
}

func decodeBook(o object, stripLegacy bool) CharacterBook {
	b := CharacterBook{Extra: o.extra(bookKeys)}

	var ok bool
	if b.Name, ok = o.str("name"); !ok {
		b.Extra = b.Extra.keep(o, "name")
	}
	if b.Description, ok = o.str("description"); !ok {
		b.Extra = b.Extra.keep(o, "description")
	}
	if n, ok := o.integer("scan_depth"); ok {
		b.ScanDepth = &n
	} else {
		b.Extra = b.Extra.keep(o, "scan_depth")
	}
	if n, ok := o.integer("token_budget"); ok {
		b.TokenBudget = &n
	} else {
		b.Extra = b.Extra.keep(o, "token_budget")
	}
	if b.RecursiveScanning, ok = o.tristate("recursive_scanning"); !ok {
		b.Extra = b.Extra.keep(o, "recursive_scanning")
	}
	if b.Extensions, ok = o.extensions("extensions"); !ok {
		b.Extra = b.Extra.keep(o, "extensions")
	}
	b.Entries = decodeEntries(o["entries"], stripLegacy)
	return b
}

// decodeEntries accepts an array of entry objects or a keyed mapping of
// them. Mapping values are taken in source order; a repeated key keeps its
// first position and its last value.
func decodeEntries(raw json.RawMessage, stripLegacy bool) []BookEntry {
	entries := []BookEntry{}
	add := func(item []byte) {
		if eo, ok := parseObject(item); ok {
			entries = append(entries, decodeEntry(eo, stripLegacy))
		}
	}

	switch kindOf(raw) {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return entries
		}
		for _, item := range items {
			add(item)
		}
	case '{':
		var order []string
		values := map[string]string{}
		gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
			if _, seen := values[key.Str]; !seen {
				order = append(order, key.Str)
			}
			values[key.Str] = value.Raw
			return true
		})
		for _, k := range order {
			add([]byte(values[k]))
		}
	}
	return entries
}

func decodeEntry(o object, stripLegacy bool) BookEntry {
	if stripLegacy && redundantLegacyEntry(o) {
		delete(o, "entry")
	}

	e := BookEntry{Extra: o.extra(entryKeys), Enabled: true}
	var ok bool
	if e.Keys, ok = o.strings("keys"); !ok {
		e.Extra = e.Extra.keep(o, "keys")
	}
	if e.Content, ok = o.str("content"); !ok {
		e.Extra = e.Extra.keep(o, "content")
	}
	if e.Extensions, ok = o.extensions("extensions"); !ok {
		e.Extra = e.Extra.keep(o, "extensions")
	}
	if v, ok := o.boolean("enabled"); ok {
		e.Enabled = v
	} else {
		e.Extra = e.Extra.keep(o, "enabled")
	}
	if n, ok := o.number("insertion_order"); ok {
		e.InsertionOrder = n
	} else {
		e.Extra = e.Extra.keep(o, "insertion_order")
	}

	if e.Name, ok = o.str("name"); !ok {
		e.Extra = e.Extra.keep(o, "name")
	}
	if e.Comment, ok = o.str("comment"); !ok {
		e.Extra = e.Extra.keep(o, "comment")
	}
	if n, ok := o.number("priority"); ok {
		e.Priority = &n
	} else {
		e.Extra = e.Extra.keep(o, "priority")
	}
	if n, ok := o.number("id"); ok {
		e.ID = &n
	} else {
		e.Extra = e.Extra.keep(o, "id")
	}
	if e.CaseSensitive, ok = o.tristate("case_sensitive"); !ok {
		e.Extra = e.Extra.keep(o, "case_sensitive")
	}
	if e.Constant, ok = o.tristate("constant"); !ok {
		e.Extra = e.Extra.keep(o, "constant")
	}
	if e.Selective, ok = o.tristate("selective"); !ok {
		e.Extra = e.Extra.keep(o, "selective")
	}
	if e.SecondaryKeys, ok = o.strings("secondary_keys"); !ok {
		e.Extra = e.Extra.keep(o, "secondary_keys")
	}
	if e.Position, ok = o.position("position"); !ok {
		e.Extra = e.Extra.keep(o, "position")
	}
	return e
}

// redundantLegacyEntry reports whether the entry carries an "entry" field
// textually identical to its "content".
func redundantLegacyEntry(o object) bool {
	legacy, ok := o["entry"]
	if !ok {
		return false
	}
	content, ok := o["content"]
	if !ok {
		return false
	}
	ls, lok := o.str("entry")
	cs, cok := o.str("content")
	if lok && cok {
		return ls == cs
	}
	return bytes.Equal(compactRaw(legacy), compactRaw(content))
}

// object is a JSON object whose values are still undecoded.
type object map[string]json.RawMessage

func parseObject(raw []byte) (object, bool) {
	if kindOf(raw) != '{' {
		return nil, false
	}
	var o object
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, false
	}
	if o == nil {
		o = object{}
	}
	return o, true
}

// kindOf classifies a JSON value by its first byte. Numbers report '0';
// empty input reports 0.
func kindOf(raw []byte) byte {
	raw = bytes.TrimLeft(raw, " \t\r\n")
	if len(raw) == 0 {
		return 0
	}
	switch c := raw[0]; c {
	case '{', '[', '"', 't', 'f', 'n':
		return c
	}
	return '0'
}

// str returns the string at key. ok is false only when the key is present
// with a non-null value of another type.
func (o object) str(key string) (s string, ok bool) {
	raw, present := o[key]
	if !present {
		return "", true
	}
	switch kindOf(raw) {
	case '"':
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case 'n':
		return "", true
	}
	return "", false
}

// strings returns the string elements of the array at key. A missing or
// non-array value yields an empty slice. ok is false when the array holds
// anything but strings; those elements are dropped from the result.
func (o object) strings(key string) (out []string, ok bool) {
	out = []string{}
	raw, present := o[key]
	if !present || kindOf(raw) != '[' {
		return out, true
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return out, false
	}
	ok = true
	for _, item := range items {
		var s string
		if kindOf(item) == '"' && json.Unmarshal(item, &s) == nil {
			out = append(out, s)
		} else {
			ok = false
		}
	}
	return out, ok
}

func (o object) boolean(key string) (value, ok bool) {
	switch kindOf(o[key]) {
	case 't':
		return true, true
	case 'f':
		return false, true
	}
	return false, false
}

func (o object) tristate(key string) (Tristate, bool) {
	raw, present := o[key]
	if !present {
		return Unset, true
	}
	switch kindOf(raw) {
	case 't':
		return True, true
	case 'f':
		return False, true
	case 'n':
		return Unset, true
	}
	return Unset, false
}

func (o object) number(key string) (float64, bool) {
	raw, present := o[key]
	if !present || kindOf(raw) != '0' {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

func (o object) integer(key string) (int, bool) {
	raw, present := o[key]
	if !present || kindOf(raw) != '0' {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

func (o object) position(key string) (Position, bool) {
	raw, present := o[key]
	if !present {
		return PositionUnset, true
	}
	s, ok := o.str(key)
	if !ok || kindOf(raw) == 'n' {
		return PositionUnset, ok
	}
	switch p := Position(s); p {
	case BeforeChar, AfterChar:
		return p, true
	}
	return PositionUnset, false
}

// extensions returns the mapping at key. A missing or null value yields an
// empty mapping; ok is false for any other non-object.
func (o object) extensions(key string) (Extensions, bool) {
	ext := Extensions{}
	raw, present := o[key]
	if !present || kindOf(raw) == 'n' {
		return ext, true
	}
	inner, ok := parseObject(raw)
	if !ok {
		return ext, false
	}
	for k, v := range inner {
		ext[k] = compactRaw(v)
	}
	return ext, true
}

// extra collects the keys not listed in known.
func (o object) extra(known []string) RawFields {
	var out RawFields
	for k, v := range o {
		if slices.Contains(known, k) {
			continue
		}
		if out == nil {
			out = RawFields{}
		}
		out[k] = compactRaw(v)
	}
	return out
}

// keep stores the value at key when the typed field could not hold it, so
// the value survives a round trip. Null and missing values are not kept.
func (f RawFields) keep(o object, key string) RawFields {
	raw, ok := o[key]
	if !ok || kindOf(raw) == 'n' {
		return f
	}
	if f == nil {
		f = RawFields{}
	}
	f[key] = compactRaw(raw)
	return f
}

func compactRaw(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return cloneRaw(raw)
	}
	return json.RawMessage(buf.Bytes())
}
