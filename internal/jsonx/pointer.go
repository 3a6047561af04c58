package jsonx

import (
	"fmt"
	"strconv"
	"strings"
)

// Pointer is a parsed RFC 6901 JSON pointer.
type Pointer struct {
	raw    string
	tokens []string
}

// ParsePointer parses s. The empty string addresses the whole document;
// any other pointer must start with '/'.
func ParsePointer(s string) (Pointer, error) {
	if s == "" {
		return Pointer{}, nil
	}
	if s[0] != '/' {
		return Pointer{}, fmt.Errorf("invalid json pointer %q: must start with '/'", s)
	}

	parts := strings.Split(s[1:], "/")
	tokens := make([]string, len(parts))
	for i, p := range parts {
		tok, err := unescapeToken(p)
		if err != nil {
			return Pointer{}, fmt.Errorf("invalid json pointer %q: %w", s, err)
		}
		tokens[i] = tok
	}
	return Pointer{raw: s, tokens: tokens}, nil
}

// MustParsePointer is like ParsePointer but panics on error.
func MustParsePointer(s string) Pointer {
	p, err := ParsePointer(s)
	if err != nil {
		panic(err)
	}
	return p
}

func unescapeToken(tok string) (string, error) {
	if !strings.Contains(tok, "~") {
		return tok, nil
	}
	var b strings.Builder
	b.Grow(len(tok))
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if c != '~' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(tok) {
			return "", fmt.Errorf("dangling '~' in %q", tok)
		}
		switch tok[i+1] {
		case '0':
			b.WriteByte('~')
		case '1':
			b.WriteByte('/')
		default:
			return "", fmt.Errorf("invalid escape '~%c' in %q", tok[i+1], tok)
		}
		i++
	}
	return b.String(), nil
}

// String returns the pointer in its original textual form.
func (p Pointer) String() string {
	return p.raw
}

// Get resolves the pointer against doc.
func (p Pointer) Get(doc any) (any, bool) {
	cur := doc
	for _, tok := range p.tokens {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[tok]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, ok := arrayIndex(tok)
			if !ok || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// arrayIndex accepts only canonical decimal indices: "0", or digits without
// a leading zero.
func arrayIndex(tok string) (int, bool) {
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, false
	}
	return n, true
}
