package spreadsheet

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Expression is a compiled formula occupying a cell. its parameter map is
// fixed at compile time; changing the formula text means compiling a new
// Expression. the computed value is cached until Invalidate is called.
//
// an Expression can be in one of two durable failure states: circularity
// (#CIRCULAR!) when its cell transitively depends on itself, and reference
// (#REF!) when a referenced sheet or cell cannot be resolved. both last
// until the next invalidation.
type Expression struct {
	formula  string
	ast      ASTNode
	params   map[string]ParameterKey
	tokens   []string // parameter tokens in order of first appearance
	volatile bool
	resolver *Resolver

	mu         sync.Mutex
	value      Primitive
	valid      bool
	failure    *SpreadsheetError
	evaluating bool
}

// Compile lexes and parses formula and resolves every reference token it
// contains against resolver. identifiers that are not parameters stay
// unresolved and evaluate to #NAME?.
func Compile(formula string, resolver *Resolver) (*Expression, error) {
	tokens, lexErrors := NewLexer(formula).Tokenize()
	if len(lexErrors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormula, strings.Join(lexErrors, "; "))
	}

	ast, err := NewParser(tokens).Parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormula, err)
	}

	expr := &Expression{
		formula:  formula,
		ast:      ast,
		params:   make(map[string]ParameterKey),
		resolver: resolver,
	}

	for _, tok := range tokens {
		if tok.Type == TokenFunction && isVolatileFunction(tok.Value) {
			expr.volatile = true
		}
		if !tok.Type.IsReference() {
			continue
		}
		if _, seen := expr.params[tok.Value]; seen {
			continue
		}
		key, err := resolver.Resolve(tok.Value)
		if errors.Is(err, ErrNotParameter) {
			continue
		}
		if err != nil {
			return nil, err
		}
		expr.params[tok.Value] = key
		expr.tokens = append(expr.tokens, tok.Value)
	}

	return expr, nil
}

// Formula returns the defining formula text
func (e *Expression) Formula() string {
	return e.formula
}

func (e *Expression) String() string {
	return e.formula
}

// AST returns the parsed formula
func (e *Expression) AST() ASTNode {
	return e.ast
}

// Resolver returns the resolver the expression was compiled against
func (e *Expression) Resolver() *Resolver {
	return e.resolver
}

// Param returns the resolved key for a reference token
func (e *Expression) Param(token string) (ParameterKey, bool) {
	key, ok := e.params[token]
	return key, ok
}

// Params returns a copy of the parameter map
func (e *Expression) Params() map[string]ParameterKey {
	params := make(map[string]ParameterKey, len(e.params))
	for token, key := range e.params {
		params[token] = key
	}
	return params
}

// ParameterKeys returns the resolved keys in order of first appearance
func (e *Expression) ParameterKeys() []ParameterKey {
	keys := make([]ParameterKey, len(e.tokens))
	for i, token := range e.tokens {
		keys[i] = e.params[token]
	}
	return keys
}

// Volatile reports whether the formula calls a function whose result
// changes without any input changing, like NOW or RAND
func (e *Expression) Volatile() bool {
	return e.volatile
}

// Valid reports whether a computed value is cached
func (e *Expression) Valid() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.valid
}

// Failure returns the durable error state, or nil
func (e *Expression) Failure() *SpreadsheetError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

// Invalidate clears the cached value and any failure state
func (e *Expression) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = nil
	e.valid = false
	e.failure = nil
}

// Value returns the computed value, evaluating the formula if nothing is
// cached. before evaluating, the expression checks whether it depends on
// itself; every expression on a detected cycle is put in the circularity
// state. failures are returned as error values.
//
// two goroutines evaluating the same stale expression at once may see a
// false circularity; Workbook serializes access to avoid that.
func (e *Expression) Value() Primitive {
	e.mu.Lock()
	switch {
	case e.failure != nil:
		failure := e.failure
		e.mu.Unlock()
		return failure
	case e.valid:
		value := e.value
		e.mu.Unlock()
		return value
	case e.evaluating:
		// reentered through a dependency the cycle check could not see
		e.failure = NewSpreadsheetError(ErrorCodeCircular, "")
		e.mu.Unlock()
		return e.failure
	}
	e.evaluating = true
	e.mu.Unlock()

	if e.CheckCircularity() {
		e.mu.Lock()
		e.evaluating = false
		failure := e.failure
		e.mu.Unlock()
		return failure
	}

	ev := &Evaluator{expr: e}
	value := e.evaluate(ev)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluating = false
	if e.failure != nil {
		return e.failure
	}
	if ev.illegal {
		e.failure = NewSpreadsheetError(ErrorCodeRef, "")
		return e.failure
	}
	e.value = value
	e.valid = true
	return value
}

func (e *Expression) evaluate(ev *Evaluator) (value Primitive) {
	defer func() {
		if r := recover(); r != nil {
			value = NewSpreadsheetError(ErrorCodeOther, fmt.Sprintf("evaluation failed: %v", r))
		}
	}()
	return evalOperand(ev, e.ast)
}

// CheckCircularity searches the expressions reachable through the
// parameter maps for a path back to e. when one exists, every expression
// on it is put in the circularity state and true is returned.
func (e *Expression) CheckCircularity() bool {
	cycle := e.findCycle()
	if len(cycle) == 0 {
		return false
	}
	for _, x := range cycle {
		x.markCircular()
	}
	return true
}

func (e *Expression) markCircular() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = nil
	e.valid = false
	e.failure = NewSpreadsheetError(ErrorCodeCircular, "")
}

// findCycle returns the expressions on a dependency path from e back to
// itself, or nil. the traversal state is local to the call.
func (e *Expression) findCycle() []*Expression {
	visited := map[*Expression]struct{}{e: {}}
	var path []*Expression

	var visit func(x *Expression) bool
	visit = func(x *Expression) bool {
		for _, dep := range x.dependencies() {
			if dep == e {
				path = append(path, x)
				return true
			}
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			if visit(dep) {
				path = append(path, x)
				return true
			}
		}
		return false
	}

	visit(e)
	return path
}

// dependencies returns the expressions stored in the cells this one
// references directly
func (e *Expression) dependencies() []*Expression {
	if e.resolver == nil {
		return nil
	}
	var deps []*Expression
	for _, token := range e.tokens {
		deps = append(deps, e.resolver.expressionsFor(e.params[token])...)
	}
	return deps
}

// Evaluator carries the state of one evaluation of an Expression
type Evaluator struct {
	expr    *Expression
	illegal bool
}

// reference resolves a reference token to its live value
func (ev *Evaluator) reference(token string) (Primitive, error) {
	key, ok := ev.expr.params[token]
	if !ok {
		return nil, NewSpreadsheetError(ErrorCodeName, fmt.Sprintf("Unknown name '%s'", token))
	}
	if ev.expr.resolver == nil {
		ev.illegal = true
		return nil, NewSpreadsheetError(ErrorCodeRef, "no resolver")
	}

	value, err := ev.expr.resolver.ValueOf(key)
	if errors.Is(err, ErrIllegalCell) {
		ev.illegal = true
		return nil, NewSpreadsheetError(ErrorCodeRef, err.Error())
	}
	if err != nil {
		return nil, NewSpreadsheetError(ErrorCodeValue, err.Error())
	}
	return value, nil
}

// call invokes a built-in function
func (ev *Evaluator) call(name string, args []Primitive) (Primitive, error) {
	functions := defaultFunctions
	if ev.expr.resolver != nil && ev.expr.resolver.registry != nil {
		functions = ev.expr.resolver.registry.functions
	}
	return functions.Call(name, args...)
}
