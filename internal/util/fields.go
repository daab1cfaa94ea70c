package util

import "strings"

// NullField marks SQL NULL in a delimited extract
const NullField = `\N`

// EscapeField makes v safe to join with sep: the separator, backslash and
// line breaks are escaped with a backslash.
func EscapeField(v string, sep rune) string {
	if !strings.ContainsAny(v, "\\\n\r"+string(sep)) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v) + 4)
	for _, r := range v {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case sep:
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SplitFields splits a line written with EscapeField and unescapes every
// field. null[i] is true when field i was NullField.
func SplitFields(line string, sep rune) (fields []string, null []bool) {
	var (
		cur     strings.Builder
		raw     strings.Builder
		escaped bool
	)
	flush := func() {
		null = append(null, raw.String() == NullField)
		fields = append(fields, cur.String())
		cur.Reset()
		raw.Reset()
	}

	for _, r := range line {
		if escaped {
			escaped = false
			raw.WriteRune(r)
			switch r {
			case 'n':
				cur.WriteByte('\n')
			case 'r':
				cur.WriteByte('\r')
			default:
				cur.WriteRune(r)
			}
			continue
		}
		switch r {
		case '\\':
			escaped = true
			raw.WriteRune(r)
		case sep:
			flush()
		default:
			cur.WriteRune(r)
			raw.WriteRune(r)
		}
	}
	if escaped {
		cur.WriteByte('\\')
	}
	flush()

	for i := range fields {
		if null[i] {
			fields[i] = ""
		}
	}
	return fields, null
}
