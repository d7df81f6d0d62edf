// Package numit normalizes numeric tokens written in the Italian convention
// (dot or space as thousands separator, comma as decimal separator) into
// canonical signed decimal values.
package numit

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/civicdata/comune-cli/internal/model"
)

// ErrNotANumber reports that the input does not parse as an Italian-format
// number. Callers scanning free text treat it as "skip this token", never as
// a failure of the scan itself.
var ErrNotANumber = eris.New("numit: not a number")

// Value is a normalized number with its unit tag.
type Value struct {
	Number float64
	Unit   model.Unit
}

// groupedRe matches digits grouped in threes by dots or spaces, with an
// optional comma decimal part: 1.234.567 or 1 234,56.
var groupedRe = regexp.MustCompile(`^\d{1,3}(?:[. ]\d{3})+(?:,\d+)?$`)

// plainRe matches ungrouped digits with an optional comma decimal part.
var plainRe = regexp.MustCompile(`^\d+(?:,\d+)?$`)

// Normalize parses an Italian-format numeric token. It strips a leading or
// trailing euro sign (unit becomes currency), a trailing percent sign (unit
// becomes %), parentheses (flipping the sign), and an explicit leading sign,
// then collapses thousands separators and converts the decimal comma.
//
// Tokens with conflicting separator patterns ("1.23", "1,2,3", "1,234.56")
// are rejected with ErrNotANumber rather than silently misread.
func Normalize(text string) (Value, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Value{}, ErrNotANumber
	}

	unit := model.UnitNone
	if strings.HasPrefix(s, "€") {
		unit = model.UnitCurrency
		s = strings.TrimSpace(strings.TrimPrefix(s, "€"))
	} else if strings.HasSuffix(s, "€") {
		unit = model.UnitCurrency
		s = strings.TrimSpace(strings.TrimSuffix(s, "€"))
	}
	if strings.HasSuffix(s, "%") {
		if unit != model.UnitNone {
			return Value{}, ErrNotANumber
		}
		unit = model.UnitPercent
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	switch {
	case strings.HasPrefix(s, "-"):
		negative = true
		s = strings.TrimSpace(s[1:])
	case strings.HasPrefix(s, "+"):
		s = strings.TrimSpace(s[1:])
	}

	if !groupedRe.MatchString(s) && !plainRe.MatchString(s) {
		return Value{}, ErrNotANumber
	}

	s = strings.NewReplacer(".", "", " ", "").Replace(s)
	s = strings.Replace(s, ",", ".", 1)

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, ErrNotANumber
	}
	if negative {
		n = -n
	}
	return Value{Number: n, Unit: unit}, nil
}
