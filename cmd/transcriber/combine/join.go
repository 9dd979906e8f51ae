package combine

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// joinFragments concatenates the kept fragments with single spaces. A
// fragment starting with punctuation is glued to the previous one.
func joinFragments(fragments []string) string {
	var b strings.Builder
	for _, f := range fragments {
		f = strings.Join(strings.Fields(f), " ")
		if f == "" {
			continue
		}

		if b.Len() > 0 && !leadingPunct(f) {
			b.WriteByte(' ')
		}
		b.WriteString(f)
	}

	return b.String()
}

func leadingPunct(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsPunct(r) && !strings.ContainsRune(`"'(¿¡[`, r)
}
