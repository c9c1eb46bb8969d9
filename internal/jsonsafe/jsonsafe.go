package jsonsafe

import "bytes"

// QuoteNonFinite rewrites bare NaN and Infinity tokens, which encoding/json
// rejects, into strings so the surrounding document still parses and the
// affected records can be rejected individually. Text inside strings is left
// untouched.
func QuoteNonFinite(data []byte) []byte {
	tokens := [][]byte{[]byte("-Infinity"), []byte("Infinity"), []byte("NaN")}
	var out bytes.Buffer
	out.Grow(len(data))
	inString, escaped := false, false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		matched := false
		for _, tok := range tokens {
			if bytes.HasPrefix(data[i:], tok) {
				out.WriteByte('"')
				out.Write(tok)
				out.WriteByte('"')
				i += len(tok) - 1
				matched = true
				break
			}
		}
		if !matched {
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}
