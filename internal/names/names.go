package names

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Policy decides what happens to an identifier longer than the allowed length.
type Policy int

const (
	Throw Policy = iota
	Truncate
	Abbreviate
)

var policyNames = map[Policy]string{
	Throw:      "throw",
	Truncate:   "truncate",
	Abbreviate: "abbreviate",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	for p, name := range policyNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return p, nil
		}
	}
	return Throw, fmt.Errorf("unknown name policy %q (supported: throw, truncate, abbreviate)", s)
}

// MaxIdentifierBytes is the longest identifier PostgreSQL stores. Longer
// identifiers are cut silently, so names are measured in bytes.
const MaxIdentifierBytes = 63

// CheckLength validates a configured name length. reserve is the number of
// bytes appended to some names, such as the "_id" of link columns.
func CheckLength(maxLength, reserve int) error {
	switch {
	case maxLength > MaxIdentifierBytes:
		return fmt.Errorf("name length %d exceeds the PostgreSQL limit of %d bytes", maxLength, MaxIdentifierBytes)
	case maxLength-reserve < 1:
		return fmt.Errorf("name length %d leaves no room for a name after %d reserved bytes", maxLength, reserve)
	}
	return nil
}

// InvalidNameError reports an identifier that cannot be made to fit.
type InvalidNameError struct {
	Name      string
	MaxLength int
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("name %q cannot be shortened to %d bytes", e.Name, e.MaxLength)
}

var delimited = regexp.MustCompile(`(?i)[a-z0-9]+?-[a-z0-9]+?`)

// Resolve returns a name of at most maxLength bytes, applying policy when
// the trimmed name does not fit. Blank names are returned as given.
func Resolve(raw string, maxLength int, policy Policy) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return raw, nil
	}
	if maxLength < 1 {
		panic(fmt.Sprintf("names: maxLength must be positive, got %d", maxLength))
	}

	name := strings.TrimSpace(raw)
	if fits(name, maxLength) {
		return name, nil
	}

	switch policy {
	case Truncate:
		return truncate(name, maxLength), nil
	case Abbreviate:
		return abbreviate(name, maxLength)
	default:
		return "", &InvalidNameError{Name: name, MaxLength: maxLength}
	}
}

func abbreviate(name string, maxLength int) (string, error) {
	if !delimited.MatchString(name) {
		if short := stripVowels(name); fits(short, maxLength) {
			return short, nil
		}
		return "", &InvalidNameError{Name: name, MaxLength: maxLength}
	}

	parts := strings.Split(name, "-")
	candidate := name
	for i := range parts {
		parts[i] = stripVowels(parts[i])
		candidate = strings.Join(parts, "-")
		if fits(candidate, maxLength) {
			return candidate, nil
		}
	}

	candidate = strings.ReplaceAll(candidate, "-", "")
	if fits(candidate, maxLength) {
		return candidate, nil
	}
	return "", &InvalidNameError{Name: name, MaxLength: maxLength}
}

// stripVowels keeps the first character and drops every later vowel.
func stripVowels(s string) string {
	if s == "" {
		return s
	}
	first, size := utf8.DecodeRuneInString(s)
	var b strings.Builder
	b.Grow(len(s))
	b.WriteRune(first)
	for _, r := range s[size:] {
		if isVowel(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'A', 'E', 'I', 'O', 'U':
		return true
	}
	return false
}

func fits(s string, maxLength int) bool {
	return len(s) <= maxLength
}

// truncate cuts s to at most maxLength bytes without splitting a rune.
func truncate(s string, maxLength int) string {
	end := 0
	for end < len(s) {
		_, size := utf8.DecodeRuneInString(s[end:])
		if end+size > maxLength {
			break
		}
		end += size
	}
	return s[:end]
}
