package magic

import "strings"

// Split tokenizes a magic argument string. Tokens are separated by
// whitespace; double quotes group text, and inside quotes a backslash escapes
// a backslash or a double quote. "" yields an empty token. An unterminated
// quote runs to the end of the input.
func Split(input string) []string {
	tokens := []string{}
	var current strings.Builder
	inToken := false
	inQuote := false

	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case inQuote:
			switch {
			case c == '\\' && i+1 < len(input) && (input[i+1] == '\\' || input[i+1] == '"'):
				current.WriteByte(input[i+1])
				i++
			case c == '"':
				inQuote = false
			default:
				current.WriteByte(c)
			}
		case c == '"':
			inQuote = true
			inToken = true
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteByte(c)
			inToken = true
		}
	}

	if inToken {
		tokens = append(tokens, current.String())
	}
	return tokens
}
