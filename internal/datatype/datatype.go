// Package datatype infers column kinds from observed string values and
// converts raw strings to typed values.
package datatype

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

// Kind is an inferred data kind. None means no kind is known yet.
type Kind int

const (
	None Kind = iota
	Bool
	UUID
	Int
	BigInt
	Float
	DateTime
	Text
)

var kindNames = [...]string{
	None:     "none",
	Bool:     "bool",
	UUID:     "uuid",
	Int:      "int",
	BigInt:   "bigint",
	Float:    "float",
	DateTime: "datetime",
	Text:     "text",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	trueTokens  = []string{"1", "T", "TRUE", "YES"}
	falseTokens = []string{"0", "F", "FALSE", "NO"}
)

var (
	spacedNumber = regexp.MustCompile(`^\s*[-+]?\s*\d*(\.\d+)?\s*$`)
	plainNumber  = regexp.MustCompile(`^[-+]?(\d[\d,]*)?(\.\d+)?$`)
)

var dateLayouts = []string{
	"1/2/2006",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006 3:04 PM",
	"1/2/2006 3:04:05 PM",
}

// SuggestType returns the kind a column currently of kind current should
// have after observing value. Text absorbs everything.
func SuggestType(current Kind, value string) Kind {
	if current == Text {
		return Text
	}
	suggested := Classify(value)
	if suggested == None {
		return current
	}
	if current == None || current == suggested {
		return suggested
	}
	return promote(current, suggested)
}

func promote(current, suggested Kind) Kind {
	switch suggested {
	case BigInt:
		switch current {
		case Bool, Int:
			return BigInt
		case Float:
			return Float
		}
	case Int:
		switch current {
		case BigInt, Float:
			return current
		}
	}
	return Text
}

// Classify returns the narrowest kind value parses as, or None for an empty value.
func Classify(value string) Kind {
	if strings.TrimSpace(value) == "" {
		return None
	}
	if _, ok := parseBool(value); ok {
		return Bool
	}
	if _, err := uuid.Parse(strings.TrimSpace(value)); err == nil {
		return UUID
	}
	if n, ok := normalizeNumber(value); ok {
		if _, err := strconv.ParseInt(n, 10, 32); err == nil {
			return Int
		}
		if _, err := strconv.ParseInt(n, 10, 64); err == nil {
			return BigInt
		}
		return Float
	}
	if _, ok := parseTime(value); ok {
		return DateTime
	}
	return Text
}

// ConvertTo parses raw into the native value for kind. Blank input converts to nil.
func ConvertTo(kind Kind, raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	switch kind {
	case Bool:
		if b, ok := parseBool(raw); ok {
			return b, nil
		}
	case UUID:
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err == nil {
			return id, nil
		}
	case Int, BigInt, Float:
		n, ok := normalizeNumber(raw)
		if !ok {
			break
		}
		switch kind {
		case Int:
			if v, err := strconv.ParseInt(n, 10, 32); err == nil {
				return int32(v), nil
			}
		case BigInt:
			if v, err := strconv.ParseInt(n, 10, 64); err == nil {
				return v, nil
			}
		default:
			if v, err := strconv.ParseFloat(n, 64); err == nil && !math.IsInf(v, 0) {
				return v, nil
			}
		}
	case DateTime:
		if ts, ok := parseTime(raw); ok {
			return ts, nil
		}
	case Text, None:
		return raw, nil
	}
	return nil, fmt.Errorf("cannot convert %q to %s", raw, kind)
}

// Format renders a staged value back to a string that ConvertTo accepts.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format("2006-01-02 15:04:05.999999999")
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func parseBool(value string) (bool, bool) {
	upper := strings.ToUpper(strings.TrimSpace(value))
	for _, tok := range trueTokens {
		if upper == tok {
			return true, true
		}
	}
	for _, tok := range falseTokens {
		if upper == tok {
			return false, true
		}
	}
	return false, false
}

// normalizeNumber strips whitespace around a leading sign and thousands
// separators. A trailing sign is rejected.
func normalizeNumber(value string) (string, bool) {
	s := value
	if spacedNumber.MatchString(s) {
		s = strings.Join(strings.Fields(s), "")
	}
	s = strings.TrimSpace(s)
	if !plainNumber.MatchString(s) || !strings.ContainsAny(s, "0123456789") {
		return "", false
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "+")
	return s, true
}

func parseTime(value string) (time.Time, bool) {
	s := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	ts, err := cast.ToTimeE(s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
