package headers

import (
	"bytes"
	"iter"
	"regexp"
	"slices"
	"strings"
)

// https://datatracker.ietf.org/doc/html/rfc9110#name-tokens
var fieldNameRegex = regexp.MustCompile(`^[a-zA-Z0-9!#$%&'*\+\-.^_\x60\|~]+$`)

// Headers is a case-insensitive collection of HTTP fields. Keys are stored
// lowercased and iterated in insertion order, so serialized messages are
// deterministic.
type Headers struct {
	values map[string]string
	order  []string
}

// NewHeaders creates an empty header collection.
func NewHeaders() *Headers {
	return &Headers{values: map[string]string{}}
}

func isValidFieldName(key string) bool {
	return fieldNameRegex.MatchString(key)
}

func validHeaderValueByte(c byte) bool {
	switch {
	case c == 0x09: // HTAB
		return true
	case c == 0x20: // SP
		return true
	case 0x21 <= c && c <= 0x7E: // VCHAR
		return true
	case c >= 0x80: // obs-text
		return true
	}
	return false
}

func isValidFieldValue(val []byte) bool {
	for _, b := range val {
		if !validHeaderValueByte(b) {
			return false
		}
	}
	return true
}

func normalizeKey(key string) string {
	return strings.ToLower(key)
}

// Add appends a value to a field. Repeated fields are joined with ", ".
// Invalid names or values are dropped to prevent response splitting.
func (h *Headers) Add(key, value string) {
	if !isValidFieldName(key) || !isValidFieldValue([]byte(value)) {
		return
	}

	key = normalizeKey(key)
	if existing, ok := h.values[key]; ok {
		h.values[key] = existing + ", " + value
		return
	}
	h.values[key] = value
	h.order = append(h.order, key)
}

// Set replaces any existing value of a field.
func (h *Headers) Set(key, value string) {
	if !isValidFieldName(key) || !isValidFieldValue([]byte(value)) {
		return
	}
	h.Remove(key)
	h.Add(key, value)
}

// Get returns the value of a field, or "" when absent.
func (h *Headers) Get(key string) string {
	return h.values[normalizeKey(key)]
}

// Has reports whether the field is present, even with an empty value.
func (h *Headers) Has(key string) bool {
	_, ok := h.values[normalizeKey(key)]
	return ok
}

// HasToken reports whether a comma separated field such as Connection
// contains the given token, compared case-insensitively.
func (h *Headers) HasToken(key, token string) bool {
	for part := range strings.SplitSeq(h.Get(key), ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// Remove deletes a field.
func (h *Headers) Remove(key string) {
	key = normalizeKey(key)
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	h.order = slices.DeleteFunc(h.order, func(k string) bool { return k == key })
}

// All iterates over the fields in insertion order.
func (h *Headers) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, k := range h.order {
			if !yield(k, h.values[k]) {
				return
			}
		}
	}
}

// Size returns the number of distinct fields.
func (h *Headers) Size() int {
	return len(h.values)
}

// ParseFieldLine parses one "name: value" line and adds it.
func (h *Headers) ParseFieldLine(data []byte) error {
	colonPos := bytes.IndexByte(data, ':')
	if colonPos == -1 {
		return ErrMalformedHeader
	}

	// leading whitespace in the name is tolerated, whitespace before the colon is not
	hkey := bytes.TrimLeft(data[:colonPos], " \t")
	hvalue := bytes.Trim(data[colonPos+1:], " \t")

	if !bytes.Equal(hkey, bytes.TrimRight(hkey, " \t")) {
		return ErrMalformedHeader
	}

	if !fieldNameRegex.Match(hkey) || !isValidFieldValue(hvalue) {
		return ErrMalformedHeader
	}

	h.Add(string(hkey), string(hvalue))
	return nil
}
