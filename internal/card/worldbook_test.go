package card

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func entryContents(b *CharacterBook) []string {
	var out []string
	for _, e := range b.Entries {
		out = append(out, e.Content)
	}
	return out
}

func bookWith(contents ...string) *CharacterBook {
	b := NewBook()
	for _, c := range contents {
		b.Entries = append(b.Entries, NewEntry([]string{strings.ToLower(c)}, c))
	}
	return b
}

func TestNormalizeWorldbook_NotAWorldbook(t *testing.T) {
	inputs := map[string]string{
		"invalid json":        `{"entries": [`,
		"array":               `[{"content": "x"}]`,
		"number":              `5`,
		"no entries":          `{"name": "Lore"}`,
		"entries not a list":  `{"entries": "x"}`,
		"entries null":        `{"entries": null}`,
		"card without book":   `{"spec": "chara_card_v2", "data": {"name": "A"}}`,
		"card with bad book":  `{"spec": "chara_card_v2", "data": {"character_book": []}}`,
		"legacy card no book": `{"name": "A", "character_book": {"entries": []}}`,
	}

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeWorldbook([]byte(in)); got != nil {
				t.Errorf("NormalizeWorldbook(%s) = %+v, want nil", in, got)
			}
		})
	}
}

func TestNormalizeWorldbook(t *testing.T) {
	t.Run("array entries", func(t *testing.T) {
		got := NormalizeWorldbook([]byte(`{"name": "Lore", "description": "D", "extensions": {"a": 1},
			"entries": [{"keys": ["k"], "content": "one"}, 7, {"content": "two"}]}`))
		if got == nil {
			t.Fatal("NormalizeWorldbook() = nil")
		}
		if got.Name != "Lore" || got.Description != "D" {
			t.Errorf("Name, Description = %q, %q", got.Name, got.Description)
		}
		if diff := cmp.Diff([]string{"one", "two"}, entryContents(got)); diff != "" {
			t.Errorf("entries mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(Extensions{"a": json.RawMessage(`1`)}, got.Extensions); diff != "" {
			t.Errorf("Extensions mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("keyed entries keep source order", func(t *testing.T) {
		got := NormalizeWorldbook([]byte(`{"entries": {
			"0": {"content": "A", "uid": 0},
			"1": {"content": "B", "uid": 1},
			"10": {"content": "C", "uid": 10},
			"2": {"content": "D", "uid": 2}
		}}`))
		if got == nil {
			t.Fatal("NormalizeWorldbook() = nil")
		}
		if diff := cmp.Diff([]string{"A", "B", "C", "D"}, entryContents(got)); diff != "" {
			t.Errorf("entries mismatch (-want +got):\n%s", diff)
		}
		if string(got.Entries[2].Extra["uid"]) != "10" {
			t.Errorf("Entries[2].Extra[uid] = %s, want 10", got.Entries[2].Extra["uid"])
		}
	})

	t.Run("full card supplies its book", func(t *testing.T) {
		got := NormalizeWorldbook([]byte(`{"spec": "chara_card_v2", "data": {"name": "Other",
			"character_book": {"name": "Their Lore", "entries": [{"keys": ["k"], "content": "c"}]}}}`))
		if got == nil {
			t.Fatal("NormalizeWorldbook() = nil")
		}
		if got.Name != "Their Lore" {
			t.Errorf("Name = %q, want %q", got.Name, "Their Lore")
		}
		if diff := cmp.Diff([]string{"c"}, entryContents(got)); diff != "" {
			t.Errorf("entries mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("other top-level fields preserved", func(t *testing.T) {
		got := NormalizeWorldbook([]byte(`{"entries": [], "originalData": {"v": 1}}`))
		if got == nil {
			t.Fatal("NormalizeWorldbook() = nil")
		}
		if string(got.Extra["originalData"]) != `{"v":1}` {
			t.Errorf("Extra[originalData] = %s", got.Extra["originalData"])
		}
	})
}

func TestNormalizeWorldbook_LegacyEntryField(t *testing.T) {
	got := NormalizeWorldbook([]byte(`{"entries": [
		{"entry": "x", "content": "x"},
		{"entry": "x", "content": "y"},
		{"entry": "x"}
	]}`))
	if got == nil {
		t.Fatal("NormalizeWorldbook() = nil")
	}

	same, differ, missing := got.Entries[0], got.Entries[1], got.Entries[2]
	if _, ok := same.Extra["entry"]; ok {
		t.Error("identical legacy entry field was kept")
	}
	if same.Content != "x" {
		t.Errorf("Content = %q, want %q", same.Content, "x")
	}
	if string(differ.Extra["entry"]) != `"x"` || differ.Content != "y" {
		t.Errorf("differing fields = entry %s, content %q; want both kept", differ.Extra["entry"], differ.Content)
	}
	if _, ok := missing.Extra["entry"]; !ok {
		t.Error("legacy entry without content was dropped")
	}

	b, err := json.Marshal(got.Entries[0])
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(b), `"entry"`) {
		t.Errorf("serialized entry = %s, want no legacy field", b)
	}
}

func TestMergeWorldbook_Precedence(t *testing.T) {
	tests := []struct {
		name     string
		book     string
		wb       string
		wantBook string
	}{
		{name: "empty book adopts worldbook", book: "", wb: "W", wantBook: "W"},
		{name: "existing wins", book: "B", wb: "W", wantBook: "B"},
		{name: "empty worldbook changes nothing", book: "B", wb: "", wantBook: "B"},
		{name: "both empty", book: "", wb: "", wantBook: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			book := NewBook()
			book.Description, book.Name = tt.book, tt.book
			wb := NewBook()
			wb.Description, wb.Name = tt.wb, tt.wb

			got := MergeWorldbook(book, wb)
			if got.Description != tt.wantBook {
				t.Errorf("Description = %q, want %q", got.Description, tt.wantBook)
			}
			if got.Name != tt.wantBook {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantBook)
			}
		})
	}
}

func TestMergeWorldbook_ExtensionsWorldbookWins(t *testing.T) {
	book := NewBook()
	book.Extensions = Extensions{"a": json.RawMessage(`1`)}
	wb := NewBook()
	wb.Extensions = Extensions{"a": json.RawMessage(`2`), "b": json.RawMessage(`3`)}

	got := MergeWorldbook(book, wb)
	want := Extensions{"a": json.RawMessage(`2`), "b": json.RawMessage(`3`)}
	if diff := cmp.Diff(want, got.Extensions); diff != "" {
		t.Errorf("Extensions mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeWorldbook_Entries(t *testing.T) {
	t.Run("appends in order without dedup", func(t *testing.T) {
		book := bookWith("E1")
		wb := bookWith("E2", "E3")

		MergeWorldbook(book, wb)
		if diff := cmp.Diff([]string{"E1", "E2", "E3"}, entryContents(book)); diff != "" {
			t.Errorf("after first merge (-want +got):\n%s", diff)
		}

		MergeWorldbook(book, wb)
		if diff := cmp.Diff([]string{"E1", "E2", "E3", "E2", "E3"}, entryContents(book)); diff != "" {
			t.Errorf("after second merge (-want +got):\n%s", diff)
		}
	})

	t.Run("mutates and returns the book", func(t *testing.T) {
		book := bookWith("E1")
		if got := MergeWorldbook(book, bookWith("E2")); got != book {
			t.Error("MergeWorldbook() returned a different book")
		}
	})

	t.Run("appended entries do not alias the worldbook", func(t *testing.T) {
		book := NewBook()
		wb := bookWith("E2")
		MergeWorldbook(book, wb)

		wb.Entries[0].Keys[0] = "changed"
		if book.Entries[0].Keys[0] != "e2" {
			t.Errorf("Keys[0] = %q, want %q", book.Entries[0].Keys[0], "e2")
		}
	})

	t.Run("nil book gets created", func(t *testing.T) {
		got := MergeWorldbook(nil, bookWith("E2"))
		if diff := cmp.Diff([]string{"E2"}, entryContents(got)); diff != "" {
			t.Errorf("entries mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("nil worldbook is a no-op", func(t *testing.T) {
		book := bookWith("E1")
		got := MergeWorldbook(book, nil)
		if diff := cmp.Diff([]string{"E1"}, entryContents(got)); diff != "" {
			t.Errorf("entries mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestCardData_ImportWorldbook(t *testing.T) {
	c := New("Alice")
	wb := NormalizeWorldbook([]byte(`{"name": "Lore", "entries": [{"keys": ["k"], "content": "a"}, {"keys": ["j"], "content": "b"}]}`))

	if n := c.Data.ImportWorldbook(wb); n != 2 {
		t.Errorf("ImportWorldbook() = %d, want 2", n)
	}
	if c.Data.CharacterBook == nil {
		t.Fatal("CharacterBook = nil after import")
	}
	if c.Data.CharacterBook.Name != "Lore" {
		t.Errorf("CharacterBook.Name = %q, want %q", c.Data.CharacterBook.Name, "Lore")
	}
	if n := c.Data.ImportWorldbook(nil); n != 0 {
		t.Errorf("ImportWorldbook(nil) = %d, want 0", n)
	}
	if diff := cmp.Diff([]string{"a", "b"}, entryContents(c.Data.CharacterBook)); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}
