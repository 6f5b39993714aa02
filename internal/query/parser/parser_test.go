package parser

import (
	"errors"
	"testing"
	"time"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/pkg/types"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{
			"FROM Event",
			[]TokenType{TokenFrom, TokenIdent, TokenEOF},
		},
		{
			"FROM Event WHERE id = 1",
			[]TokenType{TokenFrom, TokenIdent, TokenWhere, TokenIdent, TokenEq, TokenNumber, TokenEOF},
		},
		{
			"period overlaps [25, 125.5)",
			[]TokenType{TokenIdent, TokenOverlaps, TokenLBracket, TokenNumber, TokenComma, TokenNumber, TokenRParen, TokenEOF},
		},
		{
			"venue.city <> 'it''s'",
			[]TokenType{TokenIdent, TokenDot, TokenIdent, TokenNe, TokenString, TokenEOF},
		},
	}

	for _, tt := range tests {
		lexer := NewLexer(tt.input)
		tokens := lexer.Tokenize()

		if len(tokens) != len(tt.expected) {
			t.Errorf("input %q: expected %d tokens, got %d", tt.input, len(tt.expected), len(tokens))
			continue
		}

		for i, tok := range tokens {
			if tok.Type != tt.expected[i] {
				t.Errorf("input %q: token %d: expected %s, got %s", tt.input, i, tt.expected[i], tok.Type)
			}
		}
	}
}

func TestLexerStringEscapes(t *testing.T) {
	tok := NewLexer("'it''s'").NextToken()
	if tok.Type != TokenString || tok.Literal != "it's" {
		t.Fatalf("expected string it's, got %s", tok)
	}

	tok = NewLexer("'open").NextToken()
	if tok.Type != TokenError {
		t.Fatalf("expected error token for unterminated string, got %s", tok)
	}
}

func TestParseOverlapsQuery(t *testing.T) {
	q, err := Parse("FROM Event WHERE period OVERLAPS [25, 125) AND title = 'launch' LIMIT 5;")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.RecordType != "Event" || q.Limit != 5 {
		t.Fatalf("unexpected query header: %+v", q)
	}

	and, ok := q.Filter.(*query.And)
	if !ok || len(and.Children) != 2 {
		t.Fatalf("expected two-way AND, got %s", q.Filter)
	}
	ov, ok := and.Children[0].(*query.Overlaps)
	if !ok {
		t.Fatalf("expected Overlaps, got %T", and.Children[0])
	}
	if ov.Range != types.NewRange(int64(25), int64(125)) {
		t.Errorf("unexpected range %s", ov.Range)
	}
	title := and.Children[1].(*query.FieldPredicate)
	if title.Op != query.OpEq || title.Value != "launch" {
		t.Errorf("unexpected predicate %s", title)
	}
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"a = 1 OR b = 2 AND c = 3", "a = 1 OR (b = 2 AND c = 3)"},
		{"a = 1 AND b = 2 OR c = 3", "(a = 1 AND b = 2) OR c = 3"},
		{"(a = 1 OR b = 2) AND c = 3", "(a = 1 OR b = 2) AND c = 3"},
		{"a = 1 AND b = 2 AND c = 3", "a = 1 AND b = 2 AND c = 3"},
		{"NOT a = 1 AND b IS NOT NULL", "NOT a = 1 AND b IS NOT NULL"},
		{"x BETWEEN 1 AND 5", "x >= 1 AND x <= 5"},
		{"x NOT IN (1, 'two', -3.5)", "NOT x IN (1, 'two', -3.5)"},
		{"flag = TRUE AND nested.deep.field IS NULL", "flag = TRUE AND nested.deep.field IS NULL"},
		{"p OVERLAPS [1.5, 2]", "p OVERLAPS [1.5, 2]"},
	}

	for _, tt := range tests {
		c, err := ParseFilter(tt.input)
		if err != nil {
			t.Errorf("input %q: unexpected error: %v", tt.input, err)
			continue
		}
		if c.String() != tt.expected {
			t.Errorf("input %q: expected %q, got %q", tt.input, tt.expected, c.String())
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	input := "FROM Event WHERE period OVERLAPS [25, 125) AND (title = 'it''s' OR venue.city IS NULL) LIMIT 10"
	q, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.String() != input {
		t.Errorf("expected %q, got %q", input, q.String())
	}
}

func TestParseTimestamps(t *testing.T) {
	input := "FROM Event WHERE period OVERLAPS [TIMESTAMP '2024-05-01T09:00:00Z', TIMESTAMP '2024-05-02T00:00:00.5Z') AND day = TIMESTAMP '2024-05-01'"
	q, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	and := q.Filter.(*query.And)
	ov := and.Children[0].(*query.Overlaps)
	lower, ok := ov.Range.Lower.(time.Time)
	if !ok || !lower.Equal(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected lower bound %v", ov.Range.Lower)
	}
	day := and.Children[1].(*query.FieldPredicate)
	if d, ok := day.Value.(time.Time); !ok || !d.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected date literal %v", day.Value)
	}

	want := "FROM Event WHERE period OVERLAPS [TIMESTAMP '2024-05-01T09:00:00Z', TIMESTAMP '2024-05-02T00:00:00.5Z') AND day = TIMESTAMP '2024-05-01T00:00:00Z'"
	if q.String() != want {
		t.Errorf("expected %q, got %q", want, q.String())
	}
	if _, err := Parse(q.String()); err != nil {
		t.Errorf("rendered query does not parse: %v", err)
	}

	for _, bad := range []string{"FROM Event WHERE d = TIMESTAMP 5", "FROM Event WHERE d = TIMESTAMP 'soon'"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("input %q: expected error", bad)
		}
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"",
		"SELECT * FROM Event",
		"FROM",
		"FROM Event WHERE",
		"FROM Event WHERE a =",
		"FROM Event WHERE a IN ()",
		"FROM Event WHERE p OVERLAPS [1, 2",
		"FROM Event WHERE (a = 1",
		"FROM Event WHERE a = 1 extra",
		"FROM Event LIMIT x",
		"FROM Event WHERE a ! 1",
	}

	for _, input := range inputs {
		_, err := Parse(input)
		if err == nil {
			t.Errorf("input %q: expected error", input)
			continue
		}
		if !errors.Is(err, rlerrors.ErrInvalidArgument) {
			t.Errorf("input %q: expected INVALID_ARGUMENT, got %v", input, err)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("input %q: expected wrapped ParseError, got %T", input, err)
		}
	}
}

func TestParseRejectsEmptyRange(t *testing.T) {
	_, err := Parse("FROM Event WHERE period OVERLAPS [10, 10)")
	if !errors.Is(err, rlerrors.ErrInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}
