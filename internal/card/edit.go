package card

import (
	"strings"
	"unicode"
)

// SplitKeys splits comma-separated entry keys and trims each one. Empty
// tokens between commas are kept; blank input yields no keys.
func SplitKeys(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// SplitTags splits comma-separated tags, dropping empty ones.
func SplitTags(s string) []string {
	tags := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// SuggestFilename derives a PNG file name from the card name. Letters,
// digits, space, '_' and '-' are kept and anything else becomes '_'; spaces
// then become '_' as well.
func SuggestFilename(c *Card) string {
	name := strings.TrimSpace(c.Data.Name)
	if name == "" {
		return "untitled_card.png"
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r), r == ' ', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	safe := strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
	return safe + ".png"
}
