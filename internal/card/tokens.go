package card

import (
	"bytes"
	"encoding/json"
	"maps"
	"math"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// BigVocabCharsPerToken suits models with large vocabularies.
	BigVocabCharsPerToken = 6

	// SmallVocabCharsPerToken suits models with small vocabularies.
	SmallVocabCharsPerToken = 4
)

// EstimateTokens approximates the prompt cost of a card as the number of
// characters in its text fields divided by charsPerToken, rounded down.
// Extensions are counted by the length of their JSON text written with
// ", " and ": " separators and ASCII escaping. Numbers in that text are
// re-formatted: integers in canonical form, other numbers as the shortest
// float64 text with ".0" appended to whole values.
func EstimateTokens(d *CardData, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = BigVocabCharsPerToken
	}
	return CountChars(d) / charsPerToken
}

// CountChars returns the character total that EstimateTokens divides.
func CountChars(d *CardData) int {
	total := 0
	for _, s := range []string{
		d.Name, d.Description, d.Personality, d.Scenario, d.FirstMes,
		d.MesExample, d.CreatorNotes, d.SystemPrompt,
		d.PostHistoryInstructions, d.Creator, d.CharacterVersion,
	} {
		total += utf8.RuneCountInString(s)
	}
	total += sumLen(d.AlternateGreetings)
	total += sumLen(d.Tags)

	if d.CharacterBook != nil {
		for _, e := range d.CharacterBook.Entries {
			total += utf8.RuneCountInString(e.Content)
			total += sumLen(e.Keys)
			total += utf8.RuneCountInString(e.Name)
			total += utf8.RuneCountInString(e.Comment)
			total += sumLen(e.SecondaryKeys)
			total += extensionsTextLen(e.Extensions)
		}
	}
	total += extensionsTextLen(d.Extensions)
	return total
}

func sumLen(items []string) int {
	n := 0
	for _, s := range items {
		n += utf8.RuneCountInString(s)
	}
	return n
}

func extensionsTextLen(ext Extensions) int {
	n := 2
	for i, k := range slices.Sorted(maps.Keys(ext)) {
		if i > 0 {
			n += 2
		}
		n += quotedLen(k) + 2 + rawTextLen(ext[k])
	}
	return n
}

func rawTextLen(raw json.RawMessage) int {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return utf8.RuneCount(raw)
	}
	return valueTextLen(v)
}

func valueTextLen(v any) int {
	switch v := v.(type) {
	case nil:
		return 4
	case bool:
		if v {
			return 4
		}
		return 5
	case json.Number:
		return len(numberText(v))
	case string:
		return quotedLen(v)
	case []any:
		n := 2
		for i, item := range v {
			if i > 0 {
				n += 2
			}
			n += valueTextLen(item)
		}
		return n
	case map[string]any:
		n := 2
		i := 0
		for k, item := range v {
			if i > 0 {
				n += 2
			}
			n += quotedLen(k) + 2 + valueTextLen(item)
			i++
		}
		return n
	}
	return 0
}

// numberText formats a decoded JSON number the way it is written back:
// "-0" becomes "0", "1e2" becomes "100.0" and "1e400" becomes "Infinity".
func numberText(n json.Number) string {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, ok := new(big.Int).SetString(s, 10); ok {
			return i.String()
		}
		return s
	}

	f, err := strconv.ParseFloat(s, 64)
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case err != nil:
		return s
	}

	exp := strconv.FormatFloat(f, 'e', -1, 64)
	x, _ := strconv.Atoi(exp[strings.IndexByte(exp, 'e')+1:])
	if x < -4 || x >= 16 {
		return exp
	}
	fixed := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(fixed, ".") {
		fixed += ".0"
	}
	return fixed
}

// quotedLen is the length of s as an ASCII-escaped JSON string literal,
// quotes included.
func quotedLen(s string) int {
	n := 2
	for _, r := range s {
		switch {
		case r == '"' || r == '\\' || r == '\n' || r == '\r' || r == '\t' || r == '\b' || r == '\f':
			n += 2
		case r < 0x20:
			n += 6
		case r < 0x7f:
			n++
		case r > 0xFFFF:
			n += 12
		default:
			n += 6
		}
	}
	return n
}
