package parser

import (
	"fmt"
	"strings"
)

// scanState is the structural view of a JSON-ish text: which closers are
// still owed, whether the text ends inside a string, and the cut points the
// recovery strategies use.
type scanState struct {
	stack    []byte
	inString bool
	escaped  bool
	mismatch bool

	// end is the offset just past the point where nesting depth first
	// returns to zero, or -1 if it never does.
	end int

	// cuts holds every comma seen outside a string while nested, oldest
	// first.
	cuts []cutPoint
}

// cutPoint is a place the text can be cut back to and closed.
type cutPoint struct {
	at      int
	closers string
}

// scanJSON walks s from its first byte, which is expected to open an object
// or array, and stops as soon as the outermost value closes.
func scanJSON(s string) scanState {
	st := scanState{end: -1}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if st.inString {
			switch {
			case st.escaped:
				st.escaped = false
			case c == '\\':
				st.escaped = true
			case c == '"':
				st.inString = false
			}
			continue
		}

		switch c {
		case '"':
			st.inString = true
		case '{':
			st.stack = append(st.stack, '}')
		case '[':
			st.stack = append(st.stack, ']')
		case '}', ']':
			if len(st.stack) == 0 || st.stack[len(st.stack)-1] != c {
				st.mismatch = true
				return st
			}
			st.stack = st.stack[:len(st.stack)-1]
			if len(st.stack) == 0 {
				st.end = i + 1
				return st
			}
		case ',':
			if len(st.stack) > 0 {
				st.cuts = append(st.cuts, cutPoint{at: i, closers: closers(st.stack)})
			}
		}
	}
	return st
}

// closers renders the owed closing tokens innermost first.
func closers(stack []byte) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// stripTrailingCommas drops commas that directly precede a closing brace or
// bracket, ignoring anything inside strings.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}

		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// repairStrings fixes string contents a JSON decoder rejects: raw control
// bytes are escaped and a backslash that does not start a valid escape is
// doubled. Text outside strings is left alone.
func repairStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}

		switch {
		case c == '"':
			inString = false
			b.WriteByte(c)
		case c == '\\':
			if i+1 < len(s) && validEscape(s[i+1:]) {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
				continue
			}
			if i+1 == len(s) {
				// cut off mid-escape; closeStructure deals with it
				b.WriteByte(c)
				continue
			}
			b.WriteString(`\\`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20:
			fmt.Fprintf(&b, `\u%04x`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// validEscape reports whether s, the text after a backslash, starts a JSON
// escape sequence.
func validEscape(s string) bool {
	switch s[0] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if len(s) < 5 {
			return false
		}
		for _, h := range []byte(s[1:5]) {
			if !isHex(h) {
				return false
			}
		}
		return true
	}
	return false
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

// normalize removes the wrapping that chat models like to add around JSON.
func normalize(raw string) string {
	s := strings.TrimPrefix(raw, "\ufeff")
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
