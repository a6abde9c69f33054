package importer

import (
	"bytes"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/transform"
)

// surrogateRefs rewrites UTF-16 surrogate pairs written as two numeric
// character references (&#55357;&#56832;) into one reference for the
// combined code point (&#128512;). The exporter writes emoji this way and
// encoding/xml would otherwise decode each half to U+FFFD. A lone surrogate
// reference is passed through unchanged.
type surrogateRefs struct{ transform.NopResetter }

type refState int

const (
	refNone refState = iota
	refOK
	refShort
)

// maxRefDigits bounds the digits of one reference; anything longer is not a
// surrogate and is passed through.
const maxRefDigits = 8

func (surrogateRefs) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		if src[nSrc] != '&' {
			i := bytes.IndexByte(src[nSrc:], '&')
			if i < 0 {
				i = len(src) - nSrc
			}
			n := copy(dst[nDst:], src[nSrc:nSrc+i])
			nDst += n
			nSrc += n
			if n < i {
				return nDst, nSrc, transform.ErrShortDst
			}
			continue
		}

		r, size, st := matchPair(src[nSrc:], atEOF)
		switch st {
		case refShort:
			return nDst, nSrc, transform.ErrShortSrc
		case refOK:
			out := "&#" + strconv.Itoa(int(r)) + ";"
			if len(dst)-nDst < len(out) {
				return nDst, nSrc, transform.ErrShortDst
			}
			nDst += copy(dst[nDst:], out)
			nSrc += size
		default:
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = '&'
			nDst++
			nSrc++
		}
	}
	return nDst, nSrc, nil
}

// matchPair reports whether b starts with a high then a low surrogate
// reference and returns the combined rune and the bytes consumed.
func matchPair(b []byte, atEOF bool) (rune, int, refState) {
	hi, n1, st := parseRef(b, atEOF)
	if st != refOK {
		return 0, 0, st
	}
	if !utf16.IsSurrogate(rune(hi)) || hi >= 0xDC00 {
		return 0, 0, refNone
	}
	lo, n2, st := parseRef(b[n1:], atEOF)
	if st != refOK {
		return 0, 0, st
	}
	if lo < 0xDC00 || lo > 0xDFFF {
		return 0, 0, refNone
	}
	return utf16.DecodeRune(rune(hi), rune(lo)), n1 + n2, refOK
}

// parseRef parses a decimal or hex numeric character reference at the start
// of b.
func parseRef(b []byte, atEOF bool) (int, int, refState) {
	short := func() (int, int, refState) {
		if atEOF {
			return 0, 0, refNone
		}
		return 0, 0, refShort
	}

	if len(b) == 0 {
		return short()
	}
	if b[0] != '&' {
		return 0, 0, refNone
	}
	if len(b) < 2 {
		return short()
	}
	if b[1] != '#' {
		return 0, 0, refNone
	}

	i, base := 2, 10
	if i == len(b) {
		return short()
	}
	if b[i] == 'x' || b[i] == 'X' {
		base = 16
		i++
	}

	start, v := i, 0
	for i < len(b) && i-start <= maxRefDigits {
		d := digitValue(b[i], base)
		if d < 0 {
			break
		}
		v = v*base + d
		i++
	}
	switch {
	case i-start > maxRefDigits:
		return 0, 0, refNone
	case i == len(b):
		return short()
	case i == start || b[i] != ';':
		return 0, 0, refNone
	}
	return v, i + 1, refOK
}

func digitValue(c byte, base int) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case base == 16 && c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case base == 16 && c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}
