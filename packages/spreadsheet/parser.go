package spreadsheet

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type NodePosition struct {
	Start int
	End   int
}

// ASTNode is a compiled formula node. references are not bound at parse
// time: a ReferenceNode keeps its source token and asks the Evaluator to
// look it up in the owning Expression's parameter map.
type ASTNode interface {
	Eval(ev *Evaluator) (Primitive, error)
	GetPosition() NodePosition
	ToString() string
}

// Parser parses tokens into an AST
type Parser struct {
	tokens []Token
	pos    int
}

// StringNode represents a string literal
type StringNode struct {
	Value    string
	Position NodePosition
}

func (n *StringNode) Eval(ev *Evaluator) (Primitive, error) {
	return n.Value, nil
}

func (n *StringNode) GetPosition() NodePosition {
	return n.Position
}

func (n *StringNode) ToString() string {
	return "\"" + strings.ReplaceAll(n.Value, "\"", "\"\"") + "\""
}

// NumberNode represents a numeric literal
type NumberNode struct {
	Value    float64
	Position NodePosition
}

func (n *NumberNode) Eval(ev *Evaluator) (Primitive, error) {
	return n.Value, nil
}

func (n *NumberNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NumberNode) ToString() string {
	if n.Value == math.Trunc(n.Value) && math.Abs(n.Value) < 1e15 {
		return strconv.FormatInt(int64(n.Value), 10)
	}
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

// BooleanNode represents a boolean literal
type BooleanNode struct {
	Value    bool
	Position NodePosition
}

func (n *BooleanNode) Eval(ev *Evaluator) (Primitive, error) {
	return n.Value, nil
}

func (n *BooleanNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BooleanNode) ToString() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// ReferenceNode is a cell, range or parameter reference
type ReferenceNode struct {
	Token    string
	Kind     TokenType
	Position NodePosition
}

func (n *ReferenceNode) Eval(ev *Evaluator) (Primitive, error) {
	return ev.reference(n.Token)
}

func (n *ReferenceNode) GetPosition() NodePosition {
	return n.Position
}

func (n *ReferenceNode) ToString() string {
	return n.Token
}

// BinaryOpNode represents a binary operation
type BinaryOpNode struct {
	Op       BinaryOp
	Left     ASTNode
	Right    ASTNode
	Position NodePosition
}

var binaryOpSymbols = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpPower:        "^",
	BinOpConcat:       "&",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
}

func (n *BinaryOpNode) Eval(ev *Evaluator) (Primitive, error) {
	leftVal := evalOperand(ev, n.Left)
	rightVal := evalOperand(ev, n.Right)

	// propagate errors
	if err, ok := leftVal.(*SpreadsheetError); ok {
		return err, nil
	}
	if err, ok := rightVal.(*SpreadsheetError); ok {
		return err, nil
	}

	symbol := binaryOpSymbols[n.Op]
	if err := CheckScalar(leftVal); err != nil {
		return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("operator %s: %v", symbol, err))
	}
	if err := CheckScalar(rightVal); err != nil {
		return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("operator %s: %v", symbol, err))
	}

	switch n.Op {
	case BinOpAdd, BinOpSubtract, BinOpMultiply, BinOpDivide, BinOpPower:
		leftNum, leftOk := ToNumber(leftVal)
		rightNum, rightOk := ToNumber(rightVal)
		if !leftOk || !rightOk {
			return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("operator %s requires numeric values", symbol))
		}
		return arithmetic(n.Op, leftNum, rightNum)

	case BinOpConcat:
		return ToText(leftVal) + ToText(rightVal), nil

	case BinOpEqual:
		return comparePrimitives(leftVal, rightVal) == 0, nil

	case BinOpNotEqual:
		return comparePrimitives(leftVal, rightVal) != 0, nil
	}

	cmp := comparePrimitives(leftVal, rightVal)
	if cmp == -2 {
		return nil, NewSpreadsheetError(ErrorCodeValue, "Cannot compare these values")
	}
	switch n.Op {
	case BinOpLess:
		return cmp < 0, nil
	case BinOpLessEqual:
		return cmp <= 0, nil
	case BinOpGreater:
		return cmp > 0, nil
	case BinOpGreaterEqual:
		return cmp >= 0, nil
	}
	return nil, NewSpreadsheetError(ErrorCodeValue, "Unknown operator")
}

func arithmetic(op BinaryOp, left, right float64) (Primitive, error) {
	switch op {
	case BinOpAdd:
		return left + right, nil
	case BinOpSubtract:
		return left - right, nil
	case BinOpMultiply:
		return left * right, nil
	case BinOpDivide:
		if right == 0 {
			return nil, NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
		}
		return left / right, nil
	case BinOpPower:
		result := math.Pow(left, right)
		if math.IsNaN(result) || math.IsInf(result, 0) {
			return nil, NewSpreadsheetError(ErrorCodeNum, "Power result is not representable")
		}
		return result, nil
	}
	return nil, NewSpreadsheetError(ErrorCodeValue, "Unknown operator")
}

func (n *BinaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BinaryOpNode) ToString() string {
	return fmt.Sprintf("(%s%s%s)", n.Left.ToString(), binaryOpSymbols[n.Op], n.Right.ToString())
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Op       UnaryOp
	Operand  ASTNode
	Position NodePosition
}

func (n *UnaryOpNode) Eval(ev *Evaluator) (Primitive, error) {
	val := evalOperand(ev, n.Operand)
	if err, ok := val.(*SpreadsheetError); ok {
		return err, nil
	}
	if err := CheckScalar(val); err != nil {
		return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("unary operator: %v", err))
	}

	num, ok := ToNumber(val)
	if !ok {
		return nil, NewSpreadsheetError(ErrorCodeValue, "Unary operator requires a numeric value")
	}

	switch n.Op {
	case UnaryOpPlus:
		return num, nil
	case UnaryOpMinus:
		return -num, nil
	case UnaryOpPercent:
		return num / 100.0, nil
	default:
		return nil, NewSpreadsheetError(ErrorCodeValue, "Unknown unary operator")
	}
}

func (n *UnaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *UnaryOpNode) ToString() string {
	switch n.Op {
	case UnaryOpMinus:
		return "-" + n.Operand.ToString()
	case UnaryOpPercent:
		return fmt.Sprintf("(%s%%)", n.Operand.ToString())
	}
	return "+" + n.Operand.ToString()
}

// FunctionCallNode represents a function call
type FunctionCallNode struct {
	Name     string
	Args     []ASTNode
	Position NodePosition
}

func (n *FunctionCallNode) Eval(ev *Evaluator) (Primitive, error) {
	// evaluation errors become error values; functions decide how to
	// handle them
	args := make([]Primitive, len(n.Args))
	for i, argNode := range n.Args {
		args[i] = evalOperand(ev, argNode)
	}
	return ev.call(n.Name, args)
}

func (n *FunctionCallNode) GetPosition() NodePosition {
	return n.Position
}

func (n *FunctionCallNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.ToString()
	}
	return fmt.Sprintf("%s(%s)", n.Name, strings.Join(args, ","))
}

// evalOperand evaluates a node, folding a returned error into an error value
func evalOperand(ev *Evaluator, node ASTNode) Primitive {
	val, err := node.Eval(ev)
	if err == nil {
		return val
	}
	if spreadsheetErr, ok := err.(*SpreadsheetError); ok {
		return spreadsheetErr
	}
	return NewSpreadsheetError(ErrorCodeValue, err.Error())
}

// NewParser creates a new parser over the given tokens
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse parses the tokens into an AST
func (p *Parser) Parse() (ASTNode, error) {
	if len(p.tokens) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeValue, "no tokens to parse")
	}

	if p.tokens[p.pos].Type != TokenEquals {
		return nil, NewSpreadsheetError(ErrorCodeValue, "formula must start with '='")
	}
	p.pos++

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	if p.pos < len(p.tokens) && p.tokens[p.pos].Type != TokenEOF {
		return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("unexpected token after expression: %s", p.tokens[p.pos].Value))
	}

	return node, nil
}

// parseBinaryLevel parses a left-associative chain of the given operators
func (p *Parser) parseBinaryLevel(next func() (ASTNode, error), ops map[string]BinaryOp) (ASTNode, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.Type != TokenBinaryOp {
			break
		}
		op, ok := ops[tok.Value]
		if !ok {
			break
		}

		p.pos++
		right, err := next()
		if err != nil {
			return nil, err
		}

		left = &BinaryOpNode{
			Op:       op,
			Left:     left,
			Right:    right,
			Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
		}
	}

	return left, nil
}

var (
	comparisonOps = map[string]BinaryOp{
		"=":  BinOpEqual,
		"<>": BinOpNotEqual,
		"!=": BinOpNotEqual,
		"<":  BinOpLess,
		"<=": BinOpLessEqual,
		">":  BinOpGreater,
		">=": BinOpGreaterEqual,
	}
	concatenationOps  = map[string]BinaryOp{"&": BinOpConcat}
	additionOps       = map[string]BinaryOp{"+": BinOpAdd, "-": BinOpSubtract}
	multiplicationOps = map[string]BinaryOp{"*": BinOpMultiply, "/": BinOpDivide}
)

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (ASTNode, error) {
	return p.parseBinaryLevel(p.parseConcatenation, comparisonOps)
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (ASTNode, error) {
	return p.parseBinaryLevel(p.parseAddition, concatenationOps)
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (ASTNode, error) {
	return p.parseBinaryLevel(p.parseMultiplication, additionOps)
}

// parseMultiplication handles multiplication and division
func (p *Parser) parseMultiplication() (ASTNode, error) {
	return p.parseBinaryLevel(p.parsePower, multiplicationOps)
}

// parsePower handles exponentiation
func (p *Parser) parsePower() (ASTNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	// right-associative
	if p.pos < len(p.tokens) && p.tokens[p.pos].Type == TokenBinaryOp && p.tokens[p.pos].Value == "^" {
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}

		return &BinaryOpNode{
			Op:       BinOpPower,
			Left:     left,
			Right:    right,
			Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
		}, nil
	}

	return left, nil
}

// parseUnary handles unary operators
func (p *Parser) parseUnary() (ASTNode, error) {
	if p.pos >= len(p.tokens) {
		return nil, NewSpreadsheetError(ErrorCodeValue, "unexpected end of expression")
	}

	tok := p.tokens[p.pos]
	if tok.Type != TokenUnaryPrefixOp {
		return p.parsePostfix()
	}

	op := UnaryOpPlus
	if tok.Value == "-" {
		op = UnaryOpMinus
	}

	p.pos++
	operand, err := p.parseUnary() // recurse for chained unary operators
	if err != nil {
		return nil, err
	}

	return &UnaryOpNode{
		Op:       op,
		Operand:  operand,
		Position: NodePosition{Start: tok.Pos, End: operand.GetPosition().End},
	}, nil
}

// parsePostfix handles postfix operators (percent)
func (p *Parser) parsePostfix() (ASTNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for p.pos < len(p.tokens) && p.tokens[p.pos].Type == TokenUnaryPostfixOp {
		end := p.tokens[p.pos].End
		p.pos++
		node = &UnaryOpNode{
			Op:       UnaryOpPercent,
			Operand:  node,
			Position: NodePosition{Start: node.GetPosition().Start, End: end},
		}
	}

	return node, nil
}

// parsePrimary handles primary expressions (literals, references,
// functions, parentheses)
func (p *Parser) parsePrimary() (ASTNode, error) {
	if p.pos >= len(p.tokens) {
		return nil, NewSpreadsheetError(ErrorCodeValue, "unexpected end of expression")
	}

	tok := p.tokens[p.pos]
	position := NodePosition{Start: tok.Pos, End: tok.End}

	switch tok.Type {
	case TokenNumber:
		p.pos++
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("invalid number: %s", tok.Value))
		}
		return &NumberNode{Value: val, Position: position}, nil

	case TokenString:
		p.pos++
		return &StringNode{Value: tok.Value, Position: position}, nil

	case TokenBoolean:
		p.pos++
		return &BooleanNode{Value: tok.Value == "TRUE", Position: position}, nil

	case TokenCell, TokenRange, TokenIdentifier:
		p.pos++
		return &ReferenceNode{Token: tok.Value, Kind: tok.Type, Position: position}, nil

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.pos++
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos].Type != TokenRightParen {
			return nil, NewSpreadsheetError(ErrorCodeValue, "expected closing parenthesis")
		}
		p.pos++
		return node, nil

	default:
		return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("unexpected token: %s", tok.Value))
	}
}

// parseFunctionCall parses a function call
func (p *Parser) parseFunctionCall() (ASTNode, error) {
	funcTok := p.tokens[p.pos]
	p.pos++

	if p.pos >= len(p.tokens) || p.tokens[p.pos].Type != TokenLeftParen {
		return nil, NewSpreadsheetError(ErrorCodeValue, "expected '(' after function name")
	}
	p.pos++

	args := []ASTNode{}
	if p.pos < len(p.tokens) && p.tokens[p.pos].Type == TokenRightParen {
		p.pos++
		return &FunctionCallNode{
			Name:     funcTok.Value,
			Args:     args,
			Position: NodePosition{Start: funcTok.Pos, End: p.tokens[p.pos-1].End},
		}, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		if p.pos >= len(p.tokens) {
			return nil, NewSpreadsheetError(ErrorCodeValue, "unexpected end in function arguments")
		}
		if p.tokens[p.pos].Type == TokenRightParen {
			p.pos++
			break
		}
		if p.tokens[p.pos].Type != TokenComma {
			return nil, NewSpreadsheetError(ErrorCodeValue, "expected ',' or ')' in function arguments")
		}
		p.pos++
	}

	return &FunctionCallNode{
		Name:     funcTok.Value,
		Args:     args,
		Position: NodePosition{Start: funcTok.Pos, End: p.tokens[p.pos-1].End},
	}, nil
}

// refEndpoint is one corner of a reference with its absolute markers
type refEndpoint struct {
	Row    int
	Column int
	AbsRow bool
	AbsCol bool
}

func (e refEndpoint) cell(sheet string) Cell {
	return Cell{Sheet: sheet, Row: e.Row, Column: e.Column}
}

// text renders the endpoint in A1 notation, keeping its absolute markers
func (e refEndpoint) text() string {
	var b strings.Builder
	if e.AbsCol {
		b.WriteByte(charDollar)
	}
	b.WriteString(ColumnName(e.Column))
	if e.AbsRow {
		b.WriteByte(charDollar)
	}
	b.WriteString(strconv.Itoa(e.Row + 1))
	return b.String()
}

// reference is the decomposed text of a cell or range token
type reference struct {
	illegal  bool
	sheet    string
	start    refEndpoint
	end      *refEndpoint
	endSheet string
	// quoted sheet prefixes exactly as written, reused when re-rendering
	sheetText    string
	endSheetText string
}

// parseReference decomposes "A1", "$A$1", "'My Sheet'!A1:B2",
// "S1!A1:S1!B2" or "#REF!" into its parts
func parseReference(text string) (reference, error) {
	tokens, lexErrors := NewLexerForReference(text).Tokenize()
	if len(lexErrors) > 0 || len(tokens) != 2 {
		return reference{}, fmt.Errorf("%w: %q", ErrInvalidAddress, text)
	}
	value := tokens[0].Value
	if strings.EqualFold(value, IllegalCellText) {
		return reference{illegal: true}, nil
	}

	var ref reference
	rest := value
	ref.sheet, ref.sheetText, rest = splitSheetPrefix(rest)
	startText, endText, isRange := strings.Cut(rest, ":")

	start, err := parseEndpoint(startText)
	if err != nil {
		return reference{}, err
	}
	ref.start = start

	if isRange {
		ref.endSheet, ref.endSheetText, endText = splitSheetPrefix(endText)
		end, err := parseEndpoint(endText)
		if err != nil {
			return reference{}, err
		}
		ref.end = &end
	}
	return ref, nil
}

// splitSheetPrefix splits "Sheet!rest" or "'Quoted'!rest". it returns the
// unquoted sheet name, the prefix as written (including the !) and the rest.
func splitSheetPrefix(s string) (sheet, written, rest string) {
	if strings.HasPrefix(s, "'") {
		for i := 1; i < len(s); i++ {
			if s[i] != '\'' {
				continue
			}
			if i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}
			if i+1 < len(s) && s[i+1] == '!' {
				return strings.ReplaceAll(s[1:i], "''", "'"), s[:i+2], s[i+2:]
			}
			break
		}
		return "", "", s
	}
	if idx := strings.IndexByte(s, '!'); idx > 0 {
		colon := strings.IndexByte(s, ':')
		if colon == -1 || idx < colon {
			return s[:idx], s[:idx+1], s[idx+1:]
		}
	}
	return "", "", s
}

// parseEndpoint parses "A1" or "$A$1" into zero-based coordinates
func parseEndpoint(s string) (refEndpoint, error) {
	var e refEndpoint
	i := 0
	if i < len(s) && s[i] == charDollar {
		e.AbsCol = true
		i++
	}

	col := 0
	letters := i
	for i < len(s) && (s[i] >= 'A' && s[i] <= 'Z' || s[i] >= 'a' && s[i] <= 'z') {
		col = col*26 + int(s[i]|0x20-'a') + 1
		if col > MaxColumns {
			return refEndpoint{}, fmt.Errorf("%w: %q", errBeyondSheet, s)
		}
		i++
	}
	if i == letters {
		return refEndpoint{}, fmt.Errorf("%w: %q has no column", ErrInvalidAddress, s)
	}

	if i < len(s) && s[i] == charDollar {
		e.AbsRow = true
		i++
	}
	row, err := strconv.Atoi(s[i:])
	if errors.Is(err, strconv.ErrRange) || err == nil && row > MaxRows {
		return refEndpoint{}, fmt.Errorf("%w: %q", errBeyondSheet, s)
	}
	if err != nil || row < 1 {
		return refEndpoint{}, fmt.Errorf("%w: %q has no valid row", ErrInvalidAddress, s)
	}

	e.Row = row - 1
	e.Column = col - 1
	return e, nil
}

// comparePrimitives compares two primitive values. returns -1 if left < right,
// 0 if equal, 1 if left > right, -2 if not comparable
func comparePrimitives(left, right Primitive) int {
	if left == nil && right == nil {
		return 0
	}
	if left == nil {
		return -1
	}
	if right == nil {
		return 1
	}

	leftNum, leftIsNum := numericValue(left)
	rightNum, rightIsNum := numericValue(right)
	if leftIsNum && rightIsNum {
		switch {
		case leftNum < rightNum:
			return -1
		case leftNum > rightNum:
			return 1
		}
		return 0
	}

	leftBool, leftIsBool := left.(bool)
	rightBool, rightIsBool := right.(bool)
	if leftIsBool && rightIsBool {
		switch {
		case leftBool == rightBool:
			return 0
		case !leftBool:
			return -1
		}
		return 1
	}

	if _, ok := left.(TypedInstance); ok {
		return -2
	}
	if _, ok := right.(TypedInstance); ok {
		return -2
	}

	return strings.Compare(ToText(left), ToText(right))
}
