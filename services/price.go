package services

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// eokMarker separates the 10,000-unit part of a compound price ("12억 5,000").
const eokMarker = "억"

const eokUnit = 10_000

// ErrPriceFormat is returned for price strings that cannot be parsed.
var ErrPriceFormat = errors.New("unparseable price")

// ParsePrice turns a marketplace price string into a comparable integer in
// the listing's base unit. "12억 5,000" is 125000, "12억" is 120000 and
// "5,000" is 5000. Anything else returns ErrPriceFormat.
func ParsePrice(raw string) (int64, error) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == ',' {
			return -1
		}
		return r
	}, raw)

	before, after, compound := strings.Cut(s, eokMarker)
	if !compound {
		return parseDigits(s)
	}

	major, err := parseDigits(before)
	if err != nil {
		return 0, err
	}

	var minor int64
	if digits := keepDigits(after); digits != "" {
		minor, err = strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return 0, ErrPriceFormat
		}
	}

	if major > (1<<63-1-minor)/eokUnit {
		return 0, ErrPriceFormat
	}
	return major*eokUnit + minor, nil
}

func parseDigits(s string) (int64, error) {
	if s == "" {
		return 0, ErrPriceFormat
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, ErrPriceFormat
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrPriceFormat
	}
	return n, nil
}

func keepDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
