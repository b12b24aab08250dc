package wire

import "strings"

// base40Alphabet is "_abcdefghijklmnopqrstuvwxyz0123456789-./", index 0
// being NUL, matching the original postproc/base40.cc kFromBase40 table.
const base40Alphabet = "\x00abcdefghijklmnopqrstuvwxyz0123456789-./"

// base40Unknown is the alphabet index used for any character outside
// a-z0-9-./ (after lowercasing), which decodes back to '.'.
const base40Unknown = 38

// base40Index mirrors kToBase40: every byte value maps to its alphabet
// index, with uppercase folded to lowercase and anything else mapped to
// base40Unknown.
var base40Index [256]byte

func init() {
	for i := range base40Index {
		base40Index[i] = base40Unknown
	}
	for i := 1; i < len(base40Alphabet); i++ {
		c := base40Alphabet[i]
		base40Index[c] = byte(i)
		if c >= 'a' && c <= 'z' {
			base40Index[c-'a'+'A'] = byte(i)
		}
	}
}

// EncodeBase40 packs up to the first 6 characters of s into a uint32,
// one base-40 digit per character, matching postproc/base40.cc's
// CharToBase40: the first character is encoded last (so it is the least
// significant base-40 digit and decodes first).
func EncodeBase40(s string) uint32 {
	if len(s) > 6 {
		s = s[:6]
	}
	var v uint64
	for i := len(s) - 1; i >= 0; i-- {
		v = v*40 + uint64(base40Index[s[i]])
	}
	return uint32(v)
}

// DecodeBase40 unpacks a base-40 value produced by EncodeBase40 back into
// a string, matching Base40ToChar: digits come out in the same order
// characters were encoded, and the first alphabetic character decoded is
// re-uppercased (the "somewhat-arbitrary capitalize the first letter"
// convention from the original).
func DecodeBase40(v uint32) string {
	var b strings.Builder
	n := uint64(v)
	firstLetter := true
	for n > 0 {
		d := n % 40
		n /= 40
		c := base40Alphabet[d]
		if firstLetter && d >= 1 && d <= 26 {
			c &^= 0x20 // uppercase
			firstLetter = false
		}
		b.WriteByte(c)
	}
	return b.String()
}
