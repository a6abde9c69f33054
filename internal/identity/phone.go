package identity

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// NormalizeNumber canonicalises a phone number for comparison. Numbers that
// parse for region (or carry a leading "+") are returned in E.164 form, so
// "(289) 555-1212" and "+12895551212" compare equal under region "CA".
// Short codes and alphanumeric sender ids fall back to stripping
// punctuation and lowercasing.
func NormalizeNumber(s, region string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if e164, ok := parseE164(s, region); ok {
		return e164
	}
	return stripNumber(s)
}

func parseE164(s, region string) (string, bool) {
	if region == "" && !strings.HasPrefix(s, "+") {
		return "", false
	}
	if strings.IndexFunc(s, unicode.IsLetter) >= 0 {
		return "", false
	}
	num, err := phonenumbers.Parse(s, strings.ToUpper(region))
	if err != nil || phonenumbers.IsPossibleNumberWithReason(num) != phonenumbers.IS_POSSIBLE {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

func stripNumber(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '(' || r == ')' || r == '-' || r == '.' || r == '/':
		default:
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}

// ValidRegion reports whether region is a CLDR region code the number
// parser knows, such as "CA" or "GB".
func ValidRegion(region string) bool {
	return phonenumbers.GetCountryCodeForRegion(strings.ToUpper(region)) != 0
}
