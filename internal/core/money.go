// Package core provides money parsing and formatting utilities.
//
// Amounts are whole đồng. Input may group thousands with dots, commas,
// spaces or underscores ("100.000", "100,000", "100 000").
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseAmount converts a user supplied amount to Money.
//
// Separators are only accepted between groups of exactly three digits, so
// "12.5" is rejected rather than silently read as 125.
//
// Examples:
//
//	ParseAmount("30000")   -> 30000, nil
//	ParseAmount("30.000")  -> 30000, nil
//	ParseAmount("1,250,000") -> 1250000, nil
//	ParseAmount("12.5")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "đ")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}

	// Normalize every separator to a dot, then split into groups.
	normalized := strings.Map(func(r rune) rune {
		switch r {
		case ',', ' ', '_':
			return '.'
		}
		return r
	}, s)
	groups := strings.Split(normalized, ".")
	for i, g := range groups {
		if g == "" {
			return 0, ErrInvalidAmount
		}
		for _, r := range g {
			if !unicode.IsDigit(r) {
				return 0, ErrInvalidAmount
			}
		}
		if i > 0 && len(g) != 3 {
			return 0, ErrInvalidAmount
		}
		if i == 0 && len(groups) > 1 && len(g) > 3 {
			return 0, ErrInvalidAmount
		}
	}

	v, err := strconv.ParseInt(strings.Join(groups, ""), 10, 64)
	if err != nil || v <= 0 {
		return 0, ErrInvalidAmount
	}
	return Money(v), nil
}

// String renders the amount the way the app shows it, e.g. "70.000đ".
func (m Money) String() string {
	neg := m < 0
	v := int64(m)
	if neg {
		v = -v
	}
	digits := strconv.FormatInt(v, 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteString("đ")
	return b.String()
}
