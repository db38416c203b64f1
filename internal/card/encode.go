package card

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Serialize returns the compact JSON form of c. Known fields are written in
// schema order, unrecognized fields after them in key order.
func Serialize(c *Card) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("serializing card: nil card")
	}
	b, err := c.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("serializing card: %w", err)
	}
	return b, nil
}

// MarshalIndent returns the two-space indented JSON used for .json export.
// Non-ASCII text is written as-is.
func MarshalIndent(c *Card) ([]byte, error) {
	compact, err := Serialize(c)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, fmt.Errorf("indenting card: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (c Card) MarshalJSON() ([]byte, error) {
	data, err := c.Data.MarshalJSON()
	if err != nil {
		return nil, err
	}
	w := newObjectWriter()
	w.field("spec", SpecV2)
	w.field("spec_version", SpecVersionV2)
	w.raw("data", data)
	w.extra(c.Extra)
	return w.bytes()
}

func (d CardData) MarshalJSON() ([]byte, error) {
	w := newObjectWriter()
	w.typed("name", d.Name, d.Extra)
	w.typed("description", d.Description, d.Extra)
	w.typed("personality", d.Personality, d.Extra)
	w.typed("scenario", d.Scenario, d.Extra)
	w.typed("first_mes", d.FirstMes, d.Extra)
	w.typed("mes_example", d.MesExample, d.Extra)
	w.typed("creator_notes", d.CreatorNotes, d.Extra)
	w.typed("system_prompt", d.SystemPrompt, d.Extra)
	w.typed("post_history_instructions", d.PostHistoryInstructions, d.Extra)
	w.typed("creator", d.Creator, d.Extra)
	w.typed("character_version", d.CharacterVersion, d.Extra)
	w.typed("alternate_greetings", nonNil(d.AlternateGreetings), d.Extra)
	w.typed("tags", nonNil(d.Tags), d.Extra)
	w.typed("extensions", d.Extensions, d.Extra)
	if d.CharacterBook != nil {
		w.field("character_book", d.CharacterBook)
	}
	w.extra(d.Extra)
	return w.bytes()
}

func (b CharacterBook) MarshalJSON() ([]byte, error) {
	w := newObjectWriter()
	if b.Name != "" {
		w.field("name", b.Name)
	}
	if b.Description != "" {
		w.field("description", b.Description)
	}
	if b.ScanDepth != nil {
		w.field("scan_depth", *b.ScanDepth)
	}
	if b.TokenBudget != nil {
		w.field("token_budget", *b.TokenBudget)
	}
	w.tristate("recursive_scanning", b.RecursiveScanning)
	w.typed("extensions", b.Extensions, b.Extra)
	entries := b.Entries
	if entries == nil {
		entries = []BookEntry{}
	}
	w.field("entries", entries)
	w.extra(b.Extra)
	return w.bytes()
}

func (e BookEntry) MarshalJSON() ([]byte, error) {
	w := newObjectWriter()
	w.typed("keys", nonNil(e.Keys), e.Extra)
	w.typed("content", e.Content, e.Extra)
	w.typed("extensions", e.Extensions, e.Extra)
	w.typed("enabled", e.Enabled, e.Extra)
	w.typed("insertion_order", e.InsertionOrder, e.Extra)
	if e.Name != "" {
		w.field("name", e.Name)
	}
	if e.Comment != "" {
		w.field("comment", e.Comment)
	}
	if e.Priority != nil {
		w.field("priority", *e.Priority)
	}
	if e.ID != nil {
		w.field("id", *e.ID)
	}
	w.tristate("case_sensitive", e.CaseSensitive)
	w.tristate("constant", e.Constant)
	w.tristate("selective", e.Selective)
	w.typed("secondary_keys", nonNil(e.SecondaryKeys), e.Extra)
	if e.Position != PositionUnset {
		w.field("position", string(e.Position))
	}
	w.extra(e.Extra)
	return w.bytes()
}

// MarshalJSON writes the mapping with sorted keys; a nil mapping is {}.
func (e Extensions) MarshalJSON() ([]byte, error) {
	w := newObjectWriter()
	for _, k := range slices.Sorted(maps.Keys(e)) {
		w.value(k, e[k])
	}
	return w.bytes()
}

// objectWriter builds a JSON object with a fixed key order. The first
// error sticks and is reported by bytes.
type objectWriter struct {
	buf     bytes.Buffer
	written map[string]bool
	err     error
}

func newObjectWriter() *objectWriter {
	w := &objectWriter{written: map[string]bool{}}
	w.buf.WriteByte('{')
	return w
}

func (w *objectWriter) field(key string, v any) {
	if w.err != nil {
		return
	}
	b, err := marshalValue(v)
	if err != nil {
		w.err = fmt.Errorf("encoding %q: %w", key, err)
		return
	}
	w.raw(key, b)
}

// typed writes v, or the raw value kept in extra under key while v is still
// what decoding that raw value produced.
func (w *objectWriter) typed(key string, v any, extra RawFields) {
	if raw, ok := extra.kept(key, v); ok {
		w.value(key, raw)
		return
	}
	w.field(key, v)
}

func (w *objectWriter) tristate(key string, t Tristate) {
	if v, ok := t.Bool(); ok {
		w.field(key, v)
	}
}

// value writes a caller-supplied raw JSON value after validating it.
func (w *objectWriter) value(key string, raw json.RawMessage) {
	if w.err != nil {
		return
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		w.err = fmt.Errorf("encoding %q: %w", key, err)
		return
	}
	w.raw(key, buf.Bytes())
}

func (w *objectWriter) raw(key string, b []byte) {
	if w.err != nil {
		return
	}
	k, err := marshalValue(key)
	if err != nil {
		w.err = err
		return
	}
	if len(w.written) > 0 {
		w.buf.WriteByte(',')
	}
	w.buf.Write(k)
	w.buf.WriteByte(':')
	w.buf.Write(b)
	w.written[key] = true
}

// extra writes the unrecognized fields that no typed field has claimed.
func (w *objectWriter) extra(f RawFields) {
	for _, k := range slices.Sorted(maps.Keys(f)) {
		if w.written[k] {
			continue
		}
		w.value(k, f[k])
	}
}

// kept returns the raw value at key when v equals the typed value the
// decoder derived from it. A typed field edited since decoding wins.
func (f RawFields) kept(key string, v any) (json.RawMessage, bool) {
	raw, ok := f[key]
	if !ok {
		return nil, false
	}
	o := object{key: raw}
	var view any
	switch v.(type) {
	case string:
		view, _ = o.str(key)
	case []string:
		view, _ = o.strings(key)
	case Extensions:
		view, _ = o.extensions(key)
	case bool:
		view = true
	case float64:
		view = 0.0
	default:
		return nil, false
	}
	a, aerr := marshalValue(view)
	b, berr := marshalValue(v)
	if aerr != nil || berr != nil || !bytes.Equal(a, b) {
		return nil, false
	}
	return raw, true
}

func (w *objectWriter) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	w.buf.WriteByte('}')
	return w.buf.Bytes(), nil
}

// marshalValue encodes v without HTML escaping so text such as "<START>"
// stays readable in the stored card.
func marshalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
