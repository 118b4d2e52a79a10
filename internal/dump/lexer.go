package dump

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/awnumar/memguard"
)

type tokenKind int

const (
	tokWord   tokenKind = iota // bare identifier or keyword
	tokIdent                   // "quoted identifier"
	tokString                  // 'string literal' or X'hex' literal
	tokNumber
	tokPunct // one of ( ) , ; = .
)

// token text aliases the source buffer unless owned is set, in which case it
// was built by unescaping or hex decoding and is wiped by wipeTokens.
type token struct {
	kind  tokenKind
	text  []byte
	pos   int
	owned bool
}

func (t token) is(kind tokenKind, text string) bool {
	if t.kind != kind {
		return false
	}
	if kind == tokWord {
		return bytes.EqualFold(t.text, []byte(text))
	}
	return string(t.text) == text
}

// name returns the identifier a word or quoted identifier refers to.
func (t token) name() (string, bool) {
	switch t.kind {
	case tokWord, tokIdent:
		return string(t.text), true
	case tokString:
		// SQLite accepts 'name' where an identifier is expected.
		return string(t.text), true
	default:
		return "", false
	}
}

// tokenize splits a dump into tokens, dropping whitespace and -- / /* */ comments.
// Unquoted tokens and literals without escapes slice src directly.
func tokenize(src []byte) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			end := bytes.IndexByte(src[i:], '\n')
			if end < 0 {
				i = len(src)
			} else {
				i += end + 1
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := bytes.Index(src[i+2:], []byte("*/"))
			if end < 0 {
				return nil, fmt.Errorf("unterminated comment at offset %d", i)
			}
			i += end + 4
		case c == '\'':
			text, owned, next, err := readQuoted(src, i, '\'')
			if err != nil {
				wipeTokens(out)
				return nil, err
			}
			out = append(out, token{kind: tokString, text: text, pos: i, owned: owned})
			i = next
		case c == '"':
			text, owned, next, err := readQuoted(src, i, '"')
			if err != nil {
				wipeTokens(out)
				return nil, err
			}
			out = append(out, token{kind: tokIdent, text: text, pos: i, owned: owned})
			i = next
		case (c == 'X' || c == 'x') && i+1 < len(src) && src[i+1] == '\'':
			raw, owned, next, err := readQuoted(src, i+1, '\'')
			if err != nil {
				wipeTokens(out)
				return nil, err
			}
			decoded := make([]byte, hex.DecodedLen(len(raw)))
			_, err = hex.Decode(decoded, raw)
			if owned {
				memguard.WipeBytes(raw)
			}
			if err != nil {
				memguard.WipeBytes(decoded)
				wipeTokens(out)
				return nil, fmt.Errorf("invalid blob literal at offset %d: %v", i, err)
			}
			out = append(out, token{kind: tokString, text: decoded, pos: i, owned: true})
			i = next
		case isDigit(c) || ((c == '-' || c == '+' || c == '.') && i+1 < len(src) && (isDigit(src[i+1]) || src[i+1] == '.')):
			start := i
			i++
			for i < len(src) && isNumberChar(src[i], src[i-1]) {
				i++
			}
			out = append(out, token{kind: tokNumber, text: src[start:i], pos: start})
		case isWordStart(c):
			start := i
			for i < len(src) && isWordChar(src[i]) {
				i++
			}
			out = append(out, token{kind: tokWord, text: src[start:i], pos: start})
		case bytes.IndexByte([]byte("(),;=."), c) >= 0:
			out = append(out, token{kind: tokPunct, text: src[i : i+1], pos: i})
			i++
		default:
			wipeTokens(out)
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return out, nil
}

// readQuoted reads a literal opened by quote at src[start]; a doubled quote
// is an escaped quote. It returns the unescaped text and the offset after it.
// The text is a subslice of src unless an escape forced a copy, reported by
// owned.
func readQuoted(src []byte, start int, quote byte) (text []byte, owned bool, next int, err error) {
	escapes := 0
	end := -1
	for i := start + 1; i < len(src); i++ {
		if src[i] != quote {
			continue
		}
		if i+1 < len(src) && src[i+1] == quote {
			escapes++
			i++
			continue
		}
		end = i
		break
	}
	if end < 0 {
		return nil, false, 0, fmt.Errorf("unterminated literal at offset %d", start)
	}
	body := src[start+1 : end]
	if escapes == 0 {
		return body, false, end + 1, nil
	}

	buf := make([]byte, 0, len(body)-escapes)
	for i := 0; i < len(body); i++ {
		buf = append(buf, body[i])
		if body[i] == quote {
			i++
		}
	}
	return buf, true, end + 1, nil
}

// wipeTokens zeroes every token buffer the lexer allocated itself.
func wipeTokens(tokens []token) {
	for _, tok := range tokens {
		if tok.owned {
			memguard.WipeBytes(tok.text)
		}
	}
}

// splitStatements groups tokens into ';'-terminated statements.
func splitStatements(tokens []token) ([][]token, error) {
	var (
		out     [][]token
		current []token
	)
	for _, tok := range tokens {
		if tok.is(tokPunct, ";") {
			if len(current) > 0 {
				out = append(out, current)
			}
			current = nil
			continue
		}
		current = append(current, tok)
	}
	if len(current) > 0 {
		return nil, fmt.Errorf("statement at offset %d is not terminated", current[0].pos)
	}
	return out, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isNumberChar(c, prev byte) bool {
	switch {
	case isDigit(c), c == '.', c == 'e', c == 'E':
		return true
	case (c == '-' || c == '+') && (prev == 'e' || prev == 'E'):
		return true
	default:
		return false
	}
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isWordChar(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '$'
}
