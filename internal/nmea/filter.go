package nmea

import "fmt"

// Wildcard matches any character at its position in a Filter.
const Wildcard = '*'

// FilterLen is the number of talker+sentence characters a Filter compares.
const FilterLen = 5

// Filter selects sentences by the five characters that follow the sentinel:
// two talker characters and three sentence-code characters ("GPGGA",
// "AIVDM"). A '*' position matches anything.
type Filter [FilterLen]byte

// AcceptAll is the default filter.
var AcceptAll = Filter{Wildcard, Wildcard, Wildcard, Wildcard, Wildcard}

// ParseFilter validates a 5 character pattern. An empty pattern yields AcceptAll.
func ParseFilter(pattern string) (Filter, error) {
	if pattern == "" {
		return AcceptAll, nil
	}
	if len(pattern) != FilterLen {
		return Filter{}, fmt.Errorf("filter %q must be exactly %d characters", pattern, FilterLen)
	}
	var f Filter
	for i := 0; i < FilterLen; i++ {
		c := pattern[i]
		switch {
		case c == Wildcard, c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			f[i] = c
		default:
			return Filter{}, fmt.Errorf("filter %q: invalid character %q at position %d", pattern, c, i)
		}
	}
	return f, nil
}

// Match reports whether sentence passes the filter. Positions beyond the end
// of a short sentence only match a wildcard.
func (f Filter) Match(sentence string) bool {
	for i := 0; i < FilterLen; i++ {
		if f[i] == Wildcard {
			continue
		}
		// +1 skips the sentinel.
		p := i + 1
		if p >= len(sentence) || sentence[p] != f[i] {
			return false
		}
	}
	return true
}

func (f Filter) String() string {
	return string(f[:])
}
