package app

import (
	"errors"
	"sort"

	"chara-go/internal/card"
)

// ErrUnknownField is returned by SetFields for a field name not in Fields.
var ErrUnknownField = errors.New("unknown card field")

// fieldSetters assign the card fields editable by name from the CLI.
var fieldSetters = map[string]func(d *card.CardData, v string){
	"name":                      func(d *card.CardData, v string) { d.Name = v },
	"description":               func(d *card.CardData, v string) { d.Description = v },
	"personality":               func(d *card.CardData, v string) { d.Personality = v },
	"scenario":                  func(d *card.CardData, v string) { d.Scenario = v },
	"first_mes":                 func(d *card.CardData, v string) { d.FirstMes = v },
	"mes_example":               func(d *card.CardData, v string) { d.MesExample = v },
	"creator_notes":             func(d *card.CardData, v string) { d.CreatorNotes = v },
	"system_prompt":             func(d *card.CardData, v string) { d.SystemPrompt = v },
	"post_history_instructions": func(d *card.CardData, v string) { d.PostHistoryInstructions = v },
	"creator":                   func(d *card.CardData, v string) { d.Creator = v },
	"character_version":         func(d *card.CardData, v string) { d.CharacterVersion = v },
	"tags":                      func(d *card.CardData, v string) { d.Tags = card.SplitTags(v) },
}

// Fields returns the names accepted by SetFields, sorted.
func Fields() []string {
	names := make([]string, 0, len(fieldSetters))
	for name := range fieldSetters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
