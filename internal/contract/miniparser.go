package contract

import "strings"

// Tokenize is a small, self-contained reference tokenizer standing in for
// the real lexer/parser/preprocessor spec.md §1 places out of scope: it
// backs both package dispatcher's own tests and cmd/rsh's line-at-a-time
// loop. It recognizes exactly the token kinds spec.md §4.5 enumerates and
// nothing more -- no quoting, globbing, or variable expansion.
func Tokenize(line string) []Token {
	var tokens []Token
	for _, field := range strings.Fields(line) {
		switch {
		case field == "|":
			tokens = append(tokens, Token{Kind: Pipe, Lexeme: field})
		case field == "|&":
			tokens = append(tokens, Token{Kind: PipeErr, Lexeme: field})
		case field == "&":
			tokens = append(tokens, Token{Kind: Background, Lexeme: field})
		case field == "<":
			tokens = append(tokens, Token{Kind: RedirectIn, Lexeme: field})
		case field == ">>":
			tokens = append(tokens, Token{Kind: AppendOut, Lexeme: field})
		case field == ">":
			tokens = append(tokens, Token{Kind: RedirectOut, Lexeme: field})
		case field == "2>>":
			tokens = append(tokens, Token{Kind: AppendErr, Lexeme: field})
		case field == "2>":
			tokens = append(tokens, Token{Kind: RedirectErr, Lexeme: field})
		case isSymdef(field):
			tokens = append(tokens, Token{Kind: Symdef, Lexeme: field})
		default:
			tokens = append(tokens, Token{Kind: Word, Lexeme: field})
		}
	}
	tokens = append(tokens, Token{Kind: Null})
	return tokens
}

// isSymdef reports whether field looks like "name=" or "name=value": an
// identifier prefix (letters, digits, underscore, not starting with a
// digit) followed by '='.
func isSymdef(field string) bool {
	eq := strings.IndexByte(field, '=')
	if eq <= 0 {
		return false
	}
	name := field[:eq]
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
