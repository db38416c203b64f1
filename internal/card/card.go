// Package card defines the V2 character card record, the normalizer that
// coerces legacy and malformed JSON into it, and the worldbook merge engine.
package card

import (
	"encoding/json"
	"strings"
)

const (
	// SpecV2 is the value of the top-level "spec" field of every card.
	SpecV2 = "chara_card_v2"

	// SpecVersionV2 is the value of the top-level "spec_version" field.
	SpecVersionV2 = "2.0"

	defaultCardName = "New Card"
)

// Extensions is an open mapping of third-party data. Values are opaque JSON
// and are only ever round-tripped, never interpreted.
type Extensions map[string]json.RawMessage

// RawFields holds object keys the schema does not recognize, written back
// verbatim on serialization.
type RawFields map[string]json.RawMessage

// Card is the top-level character record. Its "spec" and "spec_version"
// fields are the SpecV2 and SpecVersionV2 constants and are not stored.
type Card struct {
	Data CardData

	// Extra holds unrecognized top-level keys of a V2 card.
	Extra RawFields
}

// CardData is the character payload of a card.
type CardData struct {
	Name                    string
	Description             string
	Personality             string
	Scenario                string
	FirstMes                string
	MesExample              string
	CreatorNotes            string
	SystemPrompt            string
	PostHistoryInstructions string
	Creator                 string
	CharacterVersion        string
	AlternateGreetings      []string
	Tags                    []string
	Extensions              Extensions
	CharacterBook           *CharacterBook

	Extra RawFields
}

// CharacterBook is the lore sub-document attached to a card.
type CharacterBook struct {
	Name              string
	Description       string
	ScanDepth         *int
	TokenBudget       *int
	RecursiveScanning Tristate
	Extensions        Extensions
	Entries           []BookEntry

	Extra RawFields
}

// BookEntry is one lore snippet of a character book.
type BookEntry struct {
	Keys           []string
	Content        string
	Extensions     Extensions
	Enabled        bool
	InsertionOrder float64
	Name           string
	Comment        string
	Priority       *float64
	ID             *float64
	CaseSensitive  Tristate
	Constant       Tristate
	Selective      Tristate
	SecondaryKeys  []string
	Position       Position

	Extra RawFields
}

// New returns a default card. A blank name leaves the name empty; the
// editor's "new card" flow passes the name the user typed.
func New(name string) *Card {
	return &Card{
		Data: CardData{
			Name:               strings.TrimSpace(name),
			AlternateGreetings: []string{},
			Tags:               []string{},
			Extensions:         Extensions{},
		},
	}
}

// NewNamed returns a default card named "New Card" when name is blank.
func NewNamed(name string) *Card {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultCardName
	}
	return New(name)
}

// NewBook returns an empty character book.
func NewBook() *CharacterBook {
	return &CharacterBook{
		Extensions: Extensions{},
		Entries:    []BookEntry{},
	}
}

// NewEntry returns an entry carrying the defaults of a freshly added entry:
// enabled, empty secondary keys, no optional fields.
func NewEntry(keys []string, content string) BookEntry {
	if keys == nil {
		keys = []string{}
	}
	return BookEntry{
		Keys:          keys,
		Content:       content,
		Extensions:    Extensions{},
		Enabled:       true,
		SecondaryKeys: []string{},
	}
}

// Clone returns a deep copy of the card.
func (c *Card) Clone() *Card {
	if c == nil {
		return nil
	}
	out := *c
	out.Data = c.Data.clone()
	out.Extra = c.Extra.clone()
	return &out
}

func (d CardData) clone() CardData {
	out := d
	out.AlternateGreetings = cloneStrings(d.AlternateGreetings)
	out.Tags = cloneStrings(d.Tags)
	out.Extensions = d.Extensions.clone()
	out.CharacterBook = d.CharacterBook.Clone()
	out.Extra = d.Extra.clone()
	return out
}

// Clone returns a deep copy of the book.
func (b *CharacterBook) Clone() *CharacterBook {
	if b == nil {
		return nil
	}
	out := *b
	out.ScanDepth = cloneInt(b.ScanDepth)
	out.TokenBudget = cloneInt(b.TokenBudget)
	out.Extensions = b.Extensions.clone()
	out.Extra = b.Extra.clone()
	if b.Entries != nil {
		out.Entries = make([]BookEntry, len(b.Entries))
		for i := range b.Entries {
			out.Entries[i] = b.Entries[i].Clone()
		}
	}
	return &out
}

// Clone returns a deep copy of the entry.
func (e BookEntry) Clone() BookEntry {
	out := e
	out.Keys = cloneStrings(e.Keys)
	out.SecondaryKeys = cloneStrings(e.SecondaryKeys)
	out.Priority = cloneFloat(e.Priority)
	out.ID = cloneFloat(e.ID)
	out.Extensions = e.Extensions.clone()
	out.Extra = e.Extra.clone()
	return out
}

func (e Extensions) clone() Extensions {
	if e == nil {
		return nil
	}
	out := make(Extensions, len(e))
	for k, v := range e {
		out[k] = cloneRaw(v)
	}
	return out
}

func (f RawFields) clone() RawFields {
	if f == nil {
		return nil
	}
	out := make(RawFields, len(f))
	for k, v := range f {
		out[k] = cloneRaw(v)
	}
	return out
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	return append(json.RawMessage(nil), v...)
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
