package card

// NormalizeWorldbook turns a standalone worldbook document into a
// CharacterBook. It returns nil when raw is not a worldbook: not an object,
// no "entries" and not a V2 card carrying a character book, or "entries"
// that is neither an array nor an object.
//
// Keyed "entries" mappings become a sequence in source order. A legacy
// "entry" field equal to "content" is dropped; when the two differ both are
// kept. Top-level fields other than the book's own are preserved in Extra.
func NormalizeWorldbook(raw []byte) *CharacterBook {
	o, ok := parseObject(raw)
	if !ok {
		return nil
	}

	entries, ok := o["entries"]
	if !ok {
		return bookFromCard(o)
	}
	switch kindOf(entries) {
	case '[', '{':
	default:
		return nil
	}

	b := decodeBook(o, true)
	return &b
}

// bookFromCard extracts data.character_book from a full V2 card so lore can
// be imported from another character.
func bookFromCard(o object) *CharacterBook {
	if spec, _ := o.str("spec"); spec != SpecV2 {
		return nil
	}
	data, ok := parseObject(o["data"])
	if !ok {
		return nil
	}
	bo, ok := parseObject(data["character_book"])
	if !ok {
		return nil
	}
	b := decodeBook(bo, false)
	return &b
}

// MergeWorldbook merges wb into book and returns book, which is modified in
// place; clone it first to keep the original.
//
// The book's name and description win once non-empty, while the worldbook
// wins on colliding extension keys. Entries are appended after the book's
// own with no de-duplication, so merging the same worldbook twice
// duplicates its entries.
func MergeWorldbook(book, wb *CharacterBook) *CharacterBook {
	if book == nil {
		book = NewBook()
	}
	if wb == nil {
		return book
	}

	if wb.Description != "" && book.Description == "" {
		book.Description = wb.Description
	}
	if wb.Name != "" && book.Name == "" {
		book.Name = wb.Name
	}

	if book.Entries == nil {
		book.Entries = []BookEntry{}
	}
	for _, e := range wb.Entries {
		book.Entries = append(book.Entries, e.Clone())
	}

	if book.Extensions == nil {
		book.Extensions = Extensions{}
	}
	for k, v := range wb.Extensions {
		book.Extensions[k] = cloneRaw(v)
	}
	return book
}

// ImportWorldbook merges wb into the card's character book, creating the
// book when the card has none. It returns the number of entries added.
func (d *CardData) ImportWorldbook(wb *CharacterBook) int {
	if wb == nil {
		return 0
	}
	d.CharacterBook = MergeWorldbook(d.CharacterBook, wb)
	return len(wb.Entries)
}
