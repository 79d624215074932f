package codec

import "strings"

// SplitCommandLine splits a command line into arguments. A double-quoted run
// may contain whitespace and is joined with any adjacent characters into one
// argument; the quotes themselves are dropped. Inside quotes \" is a literal
// quote. An unterminated quote runs to the end of the line.
func SplitCommandLine(line string) []string {
	var (
		out     []string
		cur     strings.Builder
		inToken bool
		quoted  bool
	)

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case quoted && ch == '\\' && i+1 < len(line) && line[i+1] == '"':
			cur.WriteByte('"')
			i++
		case ch == '"':
			quoted = !quoted
			inToken = true
		case !quoted && isSpace(ch):
			if inToken {
				out = append(out, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(ch)
			inToken = true
		}
	}
	if inToken {
		out = append(out, cur.String())
	}

	return out
}

// JoinCommandLine is the inverse of SplitCommandLine.
func JoinCommandLine(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a != "" && !strings.ContainsAny(a, " \t\r\n\"") {
			quoted[i] = a
			continue
		}
		quoted[i] = `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
	}
	return strings.Join(quoted, " ")
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}
