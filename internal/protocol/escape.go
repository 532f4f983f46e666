package protocol

import "strings"

const specials = "\\\t\n\r"

// Escape replaces the characters that would break line framing or
// field splitting with two-byte backslash sequences.
func Escape(text string) string {
	if !strings.ContainsAny(text, specials) {
		return text
	}
	var out strings.Builder
	out.Grow(len(text) + 8)
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\\':
			out.WriteString(`\\`)
		case '\t':
			out.WriteString(`\t`)
		case '\n':
			out.WriteString(`\n`)
		case '\r':
			out.WriteString(`\r`)
		default:
			out.WriteByte(text[i])
		}
	}
	return out.String()
}

// Unescape is the inverse of Escape. A backslash before anything other
// than \, t, n or r is kept as a literal backslash and the following
// byte passes through unchanged; a trailing backslash is kept. Input
// bytes are never dropped.
func Unescape(text string) string {
	if !strings.Contains(text, `\`) {
		return text
	}
	var out strings.Builder
	out.Grow(len(text))
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch != '\\' {
			out.WriteByte(ch)
			continue
		}
		if i+1 >= len(text) {
			out.WriteByte('\\')
			break
		}
		next := text[i+1]
		switch next {
		case '\\':
			out.WriteByte('\\')
		case 't':
			out.WriteByte('\t')
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		default:
			out.WriteByte('\\')
			out.WriteByte(next)
		}
		i++
	}
	return out.String()
}
