// Package course validates course identifiers such as "CPEN 221" or "MATH253".
package course

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalid is returned (wrapped) for any string that does not match the
// course identifier grammar. Nothing is coerced.
var ErrInvalid = errors.New("invalid course identifier")

// grammar: subject letters, optional single separator, three digits, optional section letter.
var grammar = regexp.MustCompile(`^([A-Z]+)[ _-]?([0-9]{3})([A-Z]?)$`)

// ID is a validated course identifier.
type ID struct {
	Subject string
	Code    string
	Section string
}

// Parse validates raw and extracts the canonical identifier. Only
// surrounding whitespace is ignored.
func Parse(raw string) (ID, error) {
	m := grammar.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return ID{Subject: m[1], Code: m[2], Section: m[3]}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(raw string) ID {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical "<SUBJECT> <NNN>[S]" form.
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.Subject + " " + id.Code + id.Section
}

func (id ID) IsZero() bool {
	return id.Subject == "" && id.Code == ""
}
