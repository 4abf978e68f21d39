package params

import (
	"fmt"
	"strconv"
	"strings"
)

// Characters that survive percent-encoding untouched (RFC 3986 unreserved).
const urlSafeCharacters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"abcdefghijklmnopqrstuvwxyz" +
	"0123456789-._~"

// DecodeURL percent-decodes s and maps '+' to space.
func DecodeURL(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%':
			if i+2 >= len(s) {
				return "", fmt.Errorf("params: truncated percent escape in %q", s)
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", fmt.Errorf("params: bad percent escape in %q: %w", s, err)
			}
			b.WriteByte(byte(v))
			i += 2
		case '+':
			b.WriteByte(' ')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

// EncodeURL percent-encodes every byte of s outside the unreserved set.
func EncodeURL(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(urlSafeCharacters, c) >= 0 {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// Parse splits s into key=value pairs separated by delim and returns the
// single-valued map plus the multi-valued map. The first duplicate of a key
// moves the existing value and the new one into the multi-valued map;
// subsequent duplicates append there. Keys and values are percent-decoded
// ('+' becomes space), leading spaces are skipped and trailing spaces
// stripped before decoding. Pairs that are empty on both sides are dropped.
//
// The same grammar parses query strings (delim '&') and Cookie headers
// (delim ';').
func Parse(s string, delim byte) (map[string]string, map[string][]string, error) {
	dict := make(map[string]string)
	list := make(map[string][]string)

	var key, value strings.Builder
	dst := &key
	flush := func() error {
		k := strings.TrimRight(key.String(), " ")
		v := strings.TrimRight(value.String(), " ")
		key.Reset()
		value.Reset()
		dst = &key
		if k == "" && v == "" {
			return nil
		}
		dk, err := DecodeURL(k)
		if err != nil {
			return err
		}
		dv, err := DecodeURL(v)
		if err != nil {
			return err
		}
		if vs, ok := list[dk]; ok {
			list[dk] = append(vs, dv)
		} else if prev, ok := dict[dk]; ok {
			list[dk] = []string{prev, dv}
			delete(dict, dk)
		} else {
			dict[dk] = dv
		}
		return nil
	}

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '=':
			if dst == &key {
				dst = &value
			} else {
				dst = &key
			}
		case delim:
			if err := flush(); err != nil {
				return nil, nil, err
			}
		default:
			if dst.Len() == 0 && s[i] == ' ' {
				continue
			}
			dst.WriteByte(s[i])
		}
	}
	if err := flush(); err != nil {
		return nil, nil, err
	}
	return dict, list, nil
}

// ParseURL splits target on the first '?' and parses the remainder with the
// '&' delimiter. The returned string is the bare URL.
func ParseURL(target string) (string, map[string]string, map[string][]string, error) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		dict, list, err := Parse(target[i+1:], '&')
		return target[:i], dict, list, err
	}
	return target, map[string]string{}, map[string][]string{}, nil
}
