package parser

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/pkg/types"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %s)", e.Position, e.Message, e.Token.Literal)
}

// Parser parses filter queries.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a full query and validates it. Syntax errors are reported as
// INVALID_ARGUMENT errors wrapping a *ParseError.
func Parse(input string) (*query.Query, error) {
	q, err := NewParser(input).ParseQuery()
	if err != nil {
		return nil, invalid(err)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// ParseFilter parses a bare filter expression such as "a = 1 AND b IS NULL".
func ParseFilter(input string) (query.Component, error) {
	p := NewParser(input)
	c, err := p.parseExpression(lowest)
	if err == nil && !p.curTokenIs(TokenEOF) {
		err = p.errorf("unexpected trailing input")
	}
	if err != nil {
		return nil, invalid(err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func invalid(err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return rlerrors.Wrap(rlerrors.ErrCategoryValidation, rlerrors.CodeInvalidArgument, "malformed query", pe).
			WithDetails(map[string]interface{}{"position": pe.Position})
	}
	return err
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) errorf(format string, args ...interface{}) *ParseError {
	return &ParseError{
		Message:  fmt.Sprintf(format, args...),
		Position: p.curToken.Pos,
		Token:    p.curToken,
	}
}

// expect consumes the current token if it matches, otherwise returns an error.
func (p *Parser) expect(t TokenType) error {
	if !p.curTokenIs(t) {
		return p.errorf("expected %s", t.String())
	}
	p.nextToken()
	return nil
}

// ParseQuery parses FROM <type> [WHERE <filter>] [LIMIT <n>].
func (p *Parser) ParseQuery() (*query.Query, error) {
	if err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	if !p.curTokenIs(TokenIdent) {
		return nil, p.errorf("expected record type name")
	}
	q := &query.Query{RecordType: p.curToken.Literal}
	p.nextToken()

	if p.curTokenIs(TokenWhere) {
		p.nextToken()
		filter, err := p.parseExpression(lowest)
		if err != nil {
			return nil, err
		}
		q.Filter = filter
	}

	if p.curTokenIs(TokenLimit) {
		p.nextToken()
		if !p.curTokenIs(TokenNumber) {
			return nil, p.errorf("expected number after LIMIT")
		}
		limit, err := strconv.Atoi(p.curToken.Literal)
		if err != nil {
			return nil, p.errorf("invalid LIMIT value")
		}
		q.Limit = limit
		p.nextToken()
	}

	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
	if !p.curTokenIs(TokenEOF) {
		return nil, p.errorf("unexpected trailing input")
	}
	return q, nil
}

// Operator precedence levels.
const (
	lowest = iota
	orPrecedence
	andPrecedence
)

func (p *Parser) getPrecedence() int {
	switch p.curToken.Type {
	case TokenOr:
		return orPrecedence
	case TokenAnd:
		return andPrecedence
	default:
		return lowest
	}
}

// parseExpression parses a boolean expression using precedence climbing.
// Chains of the same connective are collected into one node; both are
// associative so grouping parentheses need no node of their own.
func (p *Parser) parseExpression(precedence int) (query.Component, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.getPrecedence() > precedence {
		opPrec := p.getPrecedence()
		isAnd := p.curTokenIs(TokenAnd)
		p.nextToken()

		right, err := p.parseExpression(opPrec)
		if err != nil {
			return nil, err
		}
		left = appendChild(left, right, isAnd)
	}
	return left, nil
}

func appendChild(left, right query.Component, and bool) query.Component {
	if and {
		if a, ok := left.(*query.And); ok {
			a.Children = append(a.Children, right)
			return a
		}
		return &query.And{Children: []query.Component{left, right}}
	}
	if o, ok := left.(*query.Or); ok {
		o.Children = append(o.Children, right)
		return o
	}
	return &query.Or{Children: []query.Component{left, right}}
}

func (p *Parser) parseUnary() (query.Component, error) {
	switch p.curToken.Type {
	case TokenNot:
		p.nextToken()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &query.Not{Child: child}, nil
	case TokenLParen:
		p.nextToken()
		inner, err := p.parseExpression(lowest)
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case TokenIdent:
		return p.parsePredicate()
	default:
		return nil, p.errorf("expected field, NOT or (")
	}
}

func (p *Parser) parsePath() ([]string, error) {
	if !p.curTokenIs(TokenIdent) {
		return nil, p.errorf("expected field name")
	}
	path := []string{p.curToken.Literal}
	p.nextToken()
	for p.curTokenIs(TokenDot) {
		p.nextToken()
		if !p.curTokenIs(TokenIdent) {
			return nil, p.errorf("expected field name after .")
		}
		path = append(path, p.curToken.Literal)
		p.nextToken()
	}
	return path, nil
}

var comparisonOps = map[TokenType]query.Op{
	TokenEq: query.OpEq,
	TokenNe: query.OpNe,
	TokenLt: query.OpLt,
	TokenLe: query.OpLe,
	TokenGt: query.OpGt,
	TokenGe: query.OpGe,
}

func (p *Parser) parsePredicate() (query.Component, error) {
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}

	if op, ok := comparisonOps[p.curToken.Type]; ok {
		p.nextToken()
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &query.FieldPredicate{Field: path, Op: op, Value: v}, nil
	}

	switch p.curToken.Type {
	case TokenIs:
		p.nextToken()
		op := query.OpIsNull
		if p.curTokenIs(TokenNot) {
			op = query.OpIsNotNull
			p.nextToken()
		}
		if err := p.expect(TokenNull); err != nil {
			return nil, err
		}
		return &query.FieldPredicate{Field: path, Op: op}, nil

	case TokenOverlaps:
		p.nextToken()
		r, err := p.parseRange()
		if err != nil {
			return nil, err
		}
		return &query.Overlaps{Field: path, Range: r}, nil

	case TokenNot:
		p.nextToken()
		var inner query.Component
		switch p.curToken.Type {
		case TokenIn:
			inner, err = p.parseIn(path)
		case TokenBetween:
			inner, err = p.parseBetween(path)
		default:
			return nil, p.errorf("expected IN or BETWEEN after NOT")
		}
		if err != nil {
			return nil, err
		}
		return &query.Not{Child: inner}, nil

	case TokenIn:
		return p.parseIn(path)

	case TokenBetween:
		return p.parseBetween(path)
	}
	return nil, p.errorf("expected comparison operator")
}

func (p *Parser) parseIn(path []string) (query.Component, error) {
	p.nextToken() // IN
	if err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	var values []any
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return &query.FieldPredicate{Field: path, Op: query.OpIn, Values: values}, nil
}

// parseBetween expands "x BETWEEN a AND b" into x >= a AND x <= b.
func (p *Parser) parseBetween(path []string) (query.Component, error) {
	p.nextToken() // BETWEEN
	low, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenAnd); err != nil {
		return nil, err
	}
	high, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &query.And{Children: []query.Component{
		&query.FieldPredicate{Field: path, Op: query.OpGe, Value: low},
		&query.FieldPredicate{Field: path, Op: query.OpLe, Value: high},
	}}, nil
}

// parseRange parses [lower, upper) or [lower, upper].
func (p *Parser) parseRange() (types.Range, error) {
	if err := p.expect(TokenLBracket); err != nil {
		return types.Range{}, err
	}
	lower, err := p.parseLiteral()
	if err != nil {
		return types.Range{}, err
	}
	if err := p.expect(TokenComma); err != nil {
		return types.Range{}, err
	}
	upper, err := p.parseLiteral()
	if err != nil {
		return types.Range{}, err
	}
	switch p.curToken.Type {
	case TokenRParen:
		p.nextToken()
		return types.NewRange(lower, upper), nil
	case TokenRBracket:
		p.nextToken()
		return types.NewClosedRange(lower, upper), nil
	default:
		return types.Range{}, p.errorf("expected ) or ] to close range")
	}
}

func (p *Parser) parseLiteral() (any, error) {
	switch p.curToken.Type {
	case TokenMinus:
		p.nextToken()
		if !p.curTokenIs(TokenNumber) {
			return nil, p.errorf("expected number after -")
		}
		v, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return v, nil
	case TokenNumber:
		return p.parseNumber()
	case TokenString:
		s := p.curToken.Literal
		p.nextToken()
		return s, nil
	case TokenTrue, TokenFalse:
		b := p.curTokenIs(TokenTrue)
		p.nextToken()
		return b, nil
	case TokenTimestamp:
		p.nextToken()
		return p.parseTimestamp()
	case TokenError:
		return nil, p.errorf("invalid token")
	default:
		return nil, p.errorf("expected literal")
	}
}

// parseTimestamp reads the string after TIMESTAMP as RFC 3339 or a bare
// date, both taken as UTC.
func (p *Parser) parseTimestamp() (any, error) {
	if !p.curTokenIs(TokenString) {
		return nil, p.errorf("expected string after TIMESTAMP")
	}
	lit := p.curToken.Literal
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, lit); err == nil {
			p.nextToken()
			return t.UTC(), nil
		}
	}
	return nil, p.errorf("invalid timestamp %q", lit)
}

// parseNumber yields int64 for integral literals and float64 otherwise.
func (p *Parser) parseNumber() (any, error) {
	lit := p.curToken.Literal
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		p.nextToken()
		return i, nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return nil, p.errorf("invalid number")
	}
	p.nextToken()
	return f, nil
}
