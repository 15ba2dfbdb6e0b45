package spreadsheet

import "strings"

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenEquals
	TokenNumber
	TokenString
	TokenBoolean
	TokenCell
	TokenRange
	TokenFunction
	TokenUnaryPrefixOp
	TokenUnaryPostfixOp
	TokenBinaryOp
	TokenComma
	TokenLeftParen
	TokenRightParen
	TokenIdentifier
	TokenWhitespace
	TokenError
)

// IsReference reports whether tokens of this type name cells, ranges or
// parameters and therefore resolve to a ParameterKey
func (t TokenType) IsReference() bool {
	return t == TokenCell || t == TokenRange || t == TokenIdentifier
}

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

// character classification constants. slightly easier to read.
const (
	charNull       = 0
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charApostrophe = '\''
	charPercent    = '%'
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charColon      = ':'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
	charExclaim    = '!'
	charDollar     = '$'
	charHash       = '#'
)

// tokenTransitions maps the current state to valid next token types
var tokenTransitions = map[TokenState]map[TokenType]bool{
	StateStart: {
		TokenEquals:        true, // formula prefix
		TokenUnaryPrefixOp: true, // unary +/-
		TokenNumber:        true,
		TokenString:        true,
		TokenBoolean:       true,
		TokenCell:          true,
		TokenRange:         true, // allow ranges at start for standalone parsing
		TokenFunction:      true,
		TokenIdentifier:    true,
		TokenLeftParen:     true,
	},
	StateAfterValue: { // after number, string, cell, range
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true, // for %
		TokenRightParen:     true,
		TokenComma:          true, // only if in function
		TokenEOF:            true,
	},
	StateAfterOperator: {
		TokenNumber:        true,
		TokenString:        true,
		TokenBoolean:       true,
		TokenCell:          true,
		TokenRange:         true,
		TokenFunction:      true,
		TokenIdentifier:    true,
		TokenLeftParen:     true,
		TokenUnaryPrefixOp: true, // only unary after binary
	},
	StateAfterLeftParen: {
		TokenNumber:        true,
		TokenString:        true,
		TokenBoolean:       true,
		TokenCell:          true,
		TokenRange:         true, // allow ranges in functions
		TokenFunction:      true,
		TokenIdentifier:    true,
		TokenLeftParen:     true, // nested
		TokenUnaryPrefixOp: true, // unary
		TokenRightParen:    true, // empty parens for arg-less functions like PI()
	},
	StateAfterRightParen: {
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true, // for %
		TokenRightParen:     true, // if nested
		TokenComma:          true, // if in function
		TokenEOF:            true,
	},
	StateAfterComma: { // only valid in function context
		TokenNumber:        true,
		TokenString:        true,
		TokenBoolean:       true,
		TokenCell:          true,
		TokenRange:         true, // allow ranges in function arguments
		TokenFunction:      true,
		TokenIdentifier:    true,
		TokenLeftParen:     true,
		TokenUnaryPrefixOp: true, // unary
	},
	StateAfterIdentifier: {
		TokenLeftParen:      true, // function call
		TokenBinaryOp:       true, // parameter used as value
		TokenUnaryPostfixOp: true, // for %
		TokenRightParen:     true, // if in parens
		TokenComma:          true, // if in function args
		TokenEOF:            true,
	},
	StateAfterEquals: {
		TokenNumber:        true,
		TokenString:        true,
		TokenBoolean:       true,
		TokenCell:          true,
		TokenRange:         true,
		TokenFunction:      true,
		TokenIdentifier:    true,
		TokenLeftParen:     true,
		TokenUnaryPrefixOp: true, // unary +/-
	},
}

// Token represents a lexical token with position information. Pos and End
// are rune offsets into the input, End being exclusive, so the exact source
// text of a token is input[Pos:End] even when Value was normalized.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
	End   int
}

// TokenState represents the lexer state for validation
type TokenState int

const (
	StateStart TokenState = iota
	StateAfterEquals
	StateAfterValue
	StateAfterOperator
	StateAfterLeftParen
	StateAfterRightParen
	StateAfterComma
	StateAfterIdentifier
)

// Lexer tokenizes spreadsheet formula expressions
type Lexer struct {
	input      string
	runes      []rune // UTF-8 aware representation
	pos        int
	state      TokenState
	parenDepth int
	inString   bool
	tokens     []Token
	error      string
	context    *LexerContext
}

// LexerContext defines the context for lexing
type LexerContext struct {
	InitialState   TokenState
	ExpectedTokens map[TokenType]bool
	AllowEOF       bool
}

// NewLexer creates a new lexer for the given formula input
func NewLexer(input string) *Lexer {
	return NewLexerWithContext(input, &LexerContext{
		InitialState:   StateStart,
		ExpectedTokens: nil, // allow all tokens
		AllowEOF:       false,
	})
}

// NewLexerWithContext creates a new lexer with specific context
func NewLexerWithContext(input string, context *LexerContext) *Lexer {
	return &Lexer{
		input:   input,
		runes:   []rune(input),
		pos:     0,
		state:   context.InitialState,
		tokens:  []Token{},
		error:   "",
		context: context,
	}
}

// NewLexerForReference creates a lexer specifically for parsing cell
// references or ranges
func NewLexerForReference(input string) *Lexer {
	return NewLexerWithContext(input, &LexerContext{
		InitialState: StateStart,
		ExpectedTokens: map[TokenType]bool{
			TokenCell:  true,
			TokenRange: true,
		},
		AllowEOF: true,
	})
}

// Tokenize tokenizes the entire input and returns tokens and any error
func (l *Lexer) Tokenize() ([]Token, []string) {
	if l.context == nil || l.context.ExpectedTokens == nil {
		// full formula lexer - must start with =
		if len(l.runes) == 0 || l.runes[0] != '=' {
			l.error = "formula must start with '='"
			return nil, []string{l.error}
		}
	}
	l.pos = 0

	for l.pos < len(l.runes) {
		tok := l.nextToken()
		if tok.Type == TokenError {
			l.error = tok.Value
			return nil, []string{l.error}
		}
		if tok.Type == TokenEOF {
			break
		}
		tok.End = l.pos
		if !l.validateTransition(tok.Type) {
			l.error = "unexpected token: " + tok.Value
			return nil, []string{l.error}
		}
		l.tokens = append(l.tokens, tok)
		l.updateState(tok.Type)
	}

	if l.parenDepth > 0 {
		l.error = "unbalanced parentheses: missing closing parenthesis"
		return nil, []string{l.error}
	}
	if l.inString {
		l.error = "unclosed string literal"
		return nil, []string{l.error}
	}

	l.tokens = append(l.tokens, Token{Type: TokenEOF, Pos: l.pos, End: l.pos})
	return l.tokens, nil
}

// validateTransition checks if the token type is valid in current state
func (l *Lexer) validateTransition(tokenType TokenType) bool {
	if l.context != nil && len(l.context.ExpectedTokens) > 0 {
		// specialized lexers only accept a single expected token
		return l.context.ExpectedTokens[tokenType] && len(l.tokens) == 0
	}

	validTokens, exists := tokenTransitions[l.state]
	if !exists {
		return false
	}
	return validTokens[tokenType]
}

// updateState updates the lexer state based on the token type
func (l *Lexer) updateState(tokenType TokenType) {
	switch tokenType {
	case TokenEquals:
		l.state = StateAfterEquals
	case TokenNumber, TokenString, TokenBoolean, TokenCell, TokenRange:
		l.state = StateAfterValue
	case TokenUnaryPrefixOp, TokenBinaryOp:
		l.state = StateAfterOperator
	case TokenUnaryPostfixOp:
		// postfix operators keep the current state
	case TokenLeftParen:
		l.state = StateAfterLeftParen
	case TokenRightParen:
		l.state = StateAfterRightParen
	case TokenComma:
		l.state = StateAfterComma
	case TokenIdentifier, TokenFunction:
		l.state = StateAfterIdentifier
	}
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() Token {
	l.skipWhitespace()

	if l.pos >= len(l.runes) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	startPos := l.pos
	ch := l.current()

	if ch == charQuote {
		return l.scanString()
	}

	if ch == charApostrophe {
		return l.scanQuotedReference()
	}

	if ch == charHash {
		return l.scanIllegalReference()
	}

	if l.isDigit(ch) || (ch == charPeriod && l.isDigit(l.peek(1))) {
		return l.scanNumber()
	}

	switch ch {
	case charLParen:
		l.pos++
		l.parenDepth++
		return Token{Type: TokenLeftParen, Value: "(", Pos: startPos}
	case charRParen:
		l.pos++
		l.parenDepth--
		if l.parenDepth < 0 {
			return Token{Type: TokenError, Value: "unbalanced parentheses: too many closing parentheses", Pos: startPos}
		}
		return Token{Type: TokenRightParen, Value: ")", Pos: startPos}
	case charComma:
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: startPos}
	case charPlus, charMinus:
		return l.scanUnaryPrefixOrBinaryOp()
	case charAsterisk, charSlash, charCaret, charAmpersand, charLess, charGreater, charExclaim:
		return l.scanBinaryOp()
	case charPercent:
		l.pos++
		return Token{Type: TokenUnaryPostfixOp, Value: "%", Pos: startPos}
	case charEqual:
		l.pos++
		if startPos == 0 {
			return Token{Type: TokenEquals, Value: "=", Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: "=", Pos: startPos}
	}

	if l.isAlpha(ch) || ch == charUnderscore || ch == charDollar {
		return l.scanIdentifierOrCell()
	}

	l.pos++
	return Token{Type: TokenError, Value: "unexpected character: " + string(ch), Pos: startPos}
}

// substring returns a substring of the original input based on rune positions
func (l *Lexer) substring(start, end int) string {
	if start < 0 || end > len(l.runes) || start > end {
		return ""
	}
	return string(l.runes[start:end])
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.runes) {
		return charNull
	}
	return l.runes[l.pos]
}

func (l *Lexer) peek(offset int) rune {
	pos := l.pos + offset
	if pos >= len(l.runes) || pos < 0 {
		return charNull
	}
	return l.runes[pos]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) {
		switch l.current() {
		case charSpace, charTab, charNewline, charReturn:
			l.pos++
		default:
			return
		}
	}
}

func (l *Lexer) isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func (l *Lexer) isAlpha(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func (l *Lexer) isWordChar(ch rune) bool {
	return l.isAlpha(ch) || l.isDigit(ch) || ch == charUnderscore || ch == charDollar
}

// scanWord advances over identifier characters, including absolute markers
func (l *Lexer) scanWord() string {
	start := l.pos
	for l.pos < len(l.runes) && l.isWordChar(l.current()) {
		l.pos++
	}
	return l.substring(start, l.pos)
}

// scanNumber scans a number token including decimals and scientific notation
func (l *Lexer) scanNumber() Token {
	startPos := l.pos

	for l.isDigit(l.current()) {
		l.pos++
	}

	if l.current() == charPeriod && l.isDigit(l.peek(1)) {
		l.pos++
		for l.isDigit(l.current()) {
			l.pos++
		}
	}

	if l.current() == 'e' || l.current() == 'E' {
		savedPos := l.pos
		l.pos++
		if l.current() == charPlus || l.current() == charMinus {
			l.pos++
		}
		if !l.isDigit(l.current()) {
			// not scientific notation, restore position
			l.pos = savedPos
		} else {
			for l.isDigit(l.current()) {
				l.pos++
			}
		}
	}

	return Token{Type: TokenNumber, Value: l.substring(startPos, l.pos), Pos: startPos}
}

// scanString scans a string literal with support for double-quote escapes
func (l *Lexer) scanString() Token {
	startPos := l.pos
	l.pos++ // consume opening quote
	l.inString = true

	var result []rune
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch == charQuote {
			if l.peek(1) == charQuote {
				result = append(result, charQuote)
				l.pos += 2
				continue
			}
			l.pos++
			l.inString = false
			return Token{Type: TokenString, Value: string(result), Pos: startPos}
		}
		result = append(result, ch)
		l.pos++
	}

	l.inString = false
	return Token{Type: TokenError, Value: "unclosed string literal", Pos: startPos}
}

// scanIllegalReference scans the #REF! sentinel left behind by shifting a
// reference off the sheet
func (l *Lexer) scanIllegalReference() Token {
	startPos := l.pos
	sentinel := []rune(IllegalCellText)
	if l.pos+len(sentinel) <= len(l.runes) && strings.EqualFold(l.substring(l.pos, l.pos+len(sentinel)), IllegalCellText) {
		l.pos += len(sentinel)
		return Token{Type: TokenCell, Value: IllegalCellText, Pos: startPos}
	}
	l.pos++
	return Token{Type: TokenError, Value: "unexpected character: #", Pos: startPos}
}

// scanIdentifierOrCell scans identifiers, functions, cells, ranges, and booleans
func (l *Lexer) scanIdentifierOrCell() Token {
	startPos := l.pos
	value := l.scanWord()
	upperValue := strings.ToUpper(value)
	absolute := strings.ContainsRune(value, charDollar)

	if !absolute && (upperValue == "TRUE" || upperValue == "FALSE") {
		return Token{Type: TokenBoolean, Value: upperValue, Pos: startPos}
	}

	// identifier followed by ! names a sheet
	if l.current() == charExclaim && !absolute {
		l.pos++
		return l.scanQualifiedCell(startPos)
	}

	if l.current() == charLParen && !absolute {
		return Token{Type: TokenFunction, Value: upperValue, Pos: startPos}
	}

	if isCell(value) {
		return l.scanRangeTail(startPos)
	}

	if absolute {
		return Token{Type: TokenError, Value: "invalid absolute reference: " + value, Pos: startPos}
	}

	return Token{Type: TokenIdentifier, Value: value, Pos: startPos}
}

// scanQuotedReference scans a reference whose sheet name is single-quoted
func (l *Lexer) scanQuotedReference() Token {
	startPos := l.pos
	if !l.scanSheetPrefix() {
		return Token{Type: TokenError, Value: "invalid worksheet reference", Pos: startPos}
	}
	return l.scanQualifiedCell(startPos)
}

// scanQualifiedCell scans the cell part of a reference once the sheet
// prefix, including the !, has been consumed
func (l *Lexer) scanQualifiedCell(startPos int) Token {
	cellRef := l.scanWord()
	if !isCell(cellRef) {
		return Token{Type: TokenError, Value: "invalid cell reference after worksheet", Pos: startPos}
	}
	return l.scanRangeTail(startPos)
}

// scanRangeTail turns the cell just scanned into a range when it is
// followed by a colon and a second, optionally sheet-qualified, cell
func (l *Lexer) scanRangeTail(startPos int) Token {
	if l.current() != charColon {
		return Token{Type: TokenCell, Value: l.substring(startPos, l.pos), Pos: startPos}
	}

	savedPos := l.pos
	l.pos++ // consume ':'
	l.scanSheetPrefix()
	if isCell(l.scanWord()) {
		return Token{Type: TokenRange, Value: l.substring(startPos, l.pos), Pos: startPos}
	}

	l.pos = savedPos
	return Token{Type: TokenError, Value: "invalid range reference", Pos: startPos}
}

// scanSheetPrefix consumes "Name!" or "'Quoted Name'!" when present and
// reports whether it did. the position is restored otherwise.
func (l *Lexer) scanSheetPrefix() bool {
	savedPos := l.pos

	if l.current() == charApostrophe {
		l.pos++
		for {
			if l.pos >= len(l.runes) {
				l.pos = savedPos
				return false
			}
			if l.current() == charApostrophe {
				if l.peek(1) == charApostrophe {
					l.pos += 2
					continue
				}
				break
			}
			l.pos++
		}
		l.pos++ // consume closing quote
	} else if l.isAlpha(l.current()) || l.current() == charUnderscore {
		if strings.ContainsRune(l.scanWord(), charDollar) {
			l.pos = savedPos
			return false
		}
	} else {
		return false
	}

	if l.current() != charExclaim {
		l.pos = savedPos
		return false
	}
	l.pos++
	return true
}

// isCell checks if a string is a valid cell reference (e.g., A1, $B$12)
func isCell(s string) bool {
	i := 0
	if i < len(s) && s[i] == charDollar {
		i++
	}
	letters := i
	for i < len(s) && (s[i] >= 'A' && s[i] <= 'Z' || s[i] >= 'a' && s[i] <= 'z') {
		i++
	}
	if i == letters {
		return false
	}
	if i < len(s) && s[i] == charDollar {
		i++
	}
	digits := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i > digits && i == len(s)
}

// scanUnaryPrefixOrBinaryOp scans + and - which can be either unary
// prefix or binary
func (l *Lexer) scanUnaryPrefixOrBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	if l.isUnaryContext() {
		return Token{Type: TokenUnaryPrefixOp, Value: string(ch), Pos: startPos}
	}
	return Token{Type: TokenBinaryOp, Value: string(ch), Pos: startPos}
}

// scanBinaryOp scans binary operators
func (l *Lexer) scanBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	switch ch {
	case charLess:
		switch l.current() {
		case charEqual:
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "<=", Pos: startPos}
		case charGreater:
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "<>", Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: "<", Pos: startPos}
	case charGreater:
		if l.current() == charEqual {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: ">=", Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: ">", Pos: startPos}
	case charExclaim:
		if l.current() == charEqual {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "!=", Pos: startPos}
		}
		return Token{Type: TokenError, Value: "unexpected '!'", Pos: startPos}
	case charAsterisk, charSlash, charCaret, charAmpersand:
		return Token{Type: TokenBinaryOp, Value: string(ch), Pos: startPos}
	}

	return Token{Type: TokenError, Value: "unknown operator", Pos: startPos}
}

// isUnaryContext checks if the current context allows for unary operators
func (l *Lexer) isUnaryContext() bool {
	switch l.state {
	case StateStart, StateAfterEquals, StateAfterOperator, StateAfterLeftParen, StateAfterComma:
		return true
	default:
		return false
	}
}
