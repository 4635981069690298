package compiler

import (
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Lox source
// ---------------------------------------------------------------------------

// Lexer tokenizes Lox source code. Tokens are produced on demand; the
// lexer never fails, it yields TokenError tokens carrying a message.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// readChar advances to the next character. The line counter moves when a
// newline is stepped over, so a newline belongs to the line it ends.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = len(l.input)
		l.readPos = len(l.input) + 1
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

// NextToken returns the next token. After TokenEOF every call returns
// TokenEOF again.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.position()

	if l.ch == 0 {
		return Token{Type: TokenEOF, Literal: "", Pos: pos}
	}
	if isDigit(l.ch) {
		return l.readNumber(pos)
	}
	if isAlpha(l.ch) {
		return l.readIdentifierOrKeyword(pos)
	}

	ch := l.ch
	switch ch {
	case '(':
		return l.single(TokenLeftParen, pos)
	case ')':
		return l.single(TokenRightParen, pos)
	case '{':
		return l.single(TokenLeftBrace, pos)
	case '}':
		return l.single(TokenRightBrace, pos)
	case ',':
		return l.single(TokenComma, pos)
	case '.':
		return l.single(TokenDot, pos)
	case '-':
		return l.single(TokenMinus, pos)
	case '+':
		return l.single(TokenPlus, pos)
	case ';':
		return l.single(TokenSemicolon, pos)
	case '/':
		return l.single(TokenSlash, pos)
	case '*':
		return l.single(TokenStar, pos)
	case '%':
		return l.single(TokenPercent, pos)
	case '!':
		return l.oneOrTwo(TokenBang, TokenBangEqual, pos)
	case '=':
		return l.oneOrTwo(TokenEqual, TokenEqualEqual, pos)
	case '<':
		return l.oneOrTwo(TokenLess, TokenLessEqual, pos)
	case '>':
		return l.oneOrTwo(TokenGreater, TokenGreaterEqual, pos)
	case '"':
		return l.readString(pos)
	}

	l.readChar()
	return Token{Type: TokenError, Literal: "Unexpected character.", Pos: pos}
}

func (l *Lexer) single(typ TokenType, pos Position) Token {
	l.readChar()
	return Token{Type: typ, Literal: l.input[pos.Offset:l.pos], Pos: pos}
}

// oneOrTwo lexes an operator that may be followed by '='.
func (l *Lexer) oneOrTwo(one, two TokenType, pos Position) Token {
	l.readChar()
	if l.ch == '=' {
		l.readChar()
		return Token{Type: two, Literal: l.input[pos.Offset:l.pos], Pos: pos}
	}
	return Token{Type: one, Literal: l.input[pos.Offset:l.pos], Pos: pos}
}

// skipWhitespaceAndComments skips whitespace and // line comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\n':
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}

// readString reads a string literal. Strings may span lines and have no
// escapes. The literal keeps its quotes.
func (l *Lexer) readString(pos Position) Token {
	l.readChar() // consume opening "
	for l.ch != '"' && l.ch != 0 {
		l.readChar()
	}
	if l.ch == 0 {
		return Token{Type: TokenError, Literal: "Unterminated string.", Pos: pos}
	}
	l.readChar() // consume closing "
	return Token{Type: TokenString, Literal: l.input[pos.Offset:l.pos], Pos: pos}
}

// readNumber reads a number literal: digits with an optional fraction.
// A trailing '.' without digits is not part of the number.
func (l *Lexer) readNumber(pos Position) Token {
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // consume .
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[pos.Offset:l.pos], Pos: pos}
}

// readIdentifierOrKeyword reads an identifier or reserved word.
func (l *Lexer) readIdentifierOrKeyword(pos Position) Token {
	for isAlpha(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	lit := l.input[pos.Offset:l.pos]
	if typ, ok := keywords[lit]; ok {
		return Token{Type: typ, Literal: lit, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: lit, Pos: pos}
}

// Helper functions

func isAlpha(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Tokenize returns all tokens from the input, ending with TokenEOF.
// Error tokens are included and do not stop the scan.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return tokens
}
