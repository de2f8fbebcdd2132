package aggregate

import (
	"strings"
	"unicode"
)

// Join folds ordered text fragments into one string, inserting
// paragraph breaks at sentence boundaries and at fragments that open a
// new thought, and single spaces otherwise. Fragments that are blank
// after trimming are skipped. The result is trimmed of surrounding
// whitespace; an empty list yields an empty string.
func Join(fragments []string) string {
	var out string
	for _, frag := range fragments {
		if strings.TrimSpace(frag) == "" {
			continue
		}
		if out == "" {
			out = frag
			continue
		}
		// A trailing newline on the previous result is a boundary in
		// its own right; the character checks run on fully trimmed
		// ends so surrounding whitespace never masks them.
		prev := strings.TrimRight(out, " \t\n\r")
		cur := strings.TrimLeft(frag, " \t\n\r")
		if strings.HasSuffix(strings.TrimRight(out, " \t"), "\n") || breaksParagraph(prev, cur) {
			out = prev + "\n\n" + cur
			continue
		}
		if endsWithSpace(out) || startsWithSpace(frag) {
			out += frag
		} else {
			out += " " + frag
		}
	}
	return strings.TrimSpace(out)
}

// breaksParagraph reports whether prev/cur meet at a sentence boundary
// or cur starts a new thought (heading, list marker, capital, digit).
func breaksParagraph(prev, cur string) bool {
	if prev != "" {
		switch prev[len(prev)-1] {
		case '.', '!', '?':
			return true
		}
	}
	if cur == "" {
		return false
	}
	r := []rune(cur)[0]
	switch {
	case unicode.IsUpper(r), unicode.IsDigit(r):
		return true
	case r == '#', r == '*', r == '-':
		return true
	}
	return false
}

func endsWithSpace(s string) bool {
	return s != "" && unicode.IsSpace(rune(s[len(s)-1]))
}

func startsWithSpace(s string) bool {
	return s != "" && unicode.IsSpace([]rune(s)[0])
}
