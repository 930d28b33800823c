// Package billref names congressional bill types and formats bill references.
package billref

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the lower-case congress.gov bill type code.
type Type string

const (
	HR      Type = "hr"
	S       Type = "s"
	HRes    Type = "hres"
	SRes    Type = "sres"
	HJRes   Type = "hjres"
	SJRes   Type = "sjres"
	HConRes Type = "hconres"
	SConRes Type = "sconres"
)

var display = map[Type]string{
	HR:      "H.R.",
	S:       "S.",
	HRes:    "H.Res.",
	SRes:    "S.Res.",
	HJRes:   "H.J.Res.",
	SJRes:   "S.J.Res.",
	HConRes: "H.Con.Res.",
	SConRes: "S.Con.Res.",
}

// ParseType normalizes spellings like "H.R.", "hjres" or "S J Res" to a Type.
func ParseType(s string) (Type, bool) {
	norm := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return -1
	}, s)
	t := Type(norm)
	_, ok := display[t]
	return t, ok
}

// Ref is a bill type and number, without congress.
type Ref struct {
	Type   Type `json:"type"`
	Number int  `json:"number"`
}

// Key is the natural key used by entity resolution, e.g. "hr1234".
func (r Ref) Key() string {
	return string(r.Type) + strconv.Itoa(r.Number)
}

// String renders the conventional citation, e.g. "H.R. 1234".
func (r Ref) String() string {
	label, ok := display[r.Type]
	if !ok {
		label = strings.ToUpper(string(r.Type))
	}
	return fmt.Sprintf("%s %d", label, r.Number)
}

// ParseKey parses a natural key like "hr1234" or "sjres7".
func ParseKey(key string) (Ref, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	i := strings.IndexFunc(key, func(r rune) bool { return r >= '0' && r <= '9' })
	if i <= 0 {
		return Ref{}, fmt.Errorf("malformed bill key %q", key)
	}
	t, ok := ParseType(key[:i])
	if !ok {
		return Ref{}, fmt.Errorf("unknown bill type in key %q", key)
	}
	n, err := strconv.Atoi(key[i:])
	if err != nil || n <= 0 {
		return Ref{}, fmt.Errorf("malformed bill number in key %q", key)
	}
	return Ref{Type: t, Number: n}, nil
}
