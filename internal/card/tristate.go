package card

import "fmt"

// Tristate is a boolean that can also be absent. Unset is written by
// removing the key, never as null or false.
type Tristate uint8

const (
	Unset Tristate = iota
	True
	False
)

// Bool returns the value and whether it is set.
func (t Tristate) Bool() (value, ok bool) {
	switch t {
	case True:
		return true, true
	case False:
		return false, true
	}
	return false, false
}

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unset"
}

// ParseTristate accepts "true", "false" and "unset" (or "").
func ParseTristate(s string) (Tristate, error) {
	switch s {
	case "true":
		return True, nil
	case "false":
		return False, nil
	case "unset", "":
		return Unset, nil
	}
	return Unset, fmt.Errorf("invalid tri-state value %q (want true, false or unset)", s)
}

// Position controls where an entry is inserted relative to the character
// definition. The zero value means unspecified.
type Position string

const (
	PositionUnset Position = ""
	BeforeChar    Position = "before_char"
	AfterChar     Position = "after_char"
)

// ParsePosition accepts "before_char", "after_char" and "unset" (or "").
func ParsePosition(s string) (Position, error) {
	switch Position(s) {
	case BeforeChar, AfterChar:
		return Position(s), nil
	case PositionUnset, "unset":
		return PositionUnset, nil
	}
	return PositionUnset, fmt.Errorf("invalid position %q (want before_char, after_char or unset)", s)
}
