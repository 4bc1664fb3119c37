package fetch

import "strings"

// unsafeChars are the RFC 1738 characters that always need escaping.
const unsafeChars = " <>\"#{}|\\^~[]`"

const hexDigits = "0123456789abcdef"

// Encode percent-encodes s per RFC 1738: control characters, non-ASCII
// octets, the unsafe set and any '%' not followed by two hex digits become
// "%xx". Existing escapes are left alone, so Encode(Encode(s)) == Encode(s).
func Encode(s string) string {
	n := len(s)
	for i := 0; i < len(s); i++ {
		if unsafeAt(s, i) {
			n += 2
		}
	}
	if n == len(s) {
		return s
	}

	var b strings.Builder
	b.Grow(n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unsafeAt(s, i) {
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func unsafeAt(s string, i int) bool {
	c := s[i]
	switch {
	case c < 0x20 || c == 0x7f:
		return true
	case c >= 0x80:
		return true
	case strings.IndexByte(unsafeChars, c) != -1:
		return true
	case c == '%':
		return i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2])
	}
	return false
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}
