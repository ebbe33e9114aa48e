package compiler

import (
	"strings"
	"testing"
)

func TestLexerBasicTokens(t *testing.T) {
	input := `( ) [ ] { } , . ; = == != < <= > >= && || ! -> + - * /`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenLParen, "("},
		{TokenRParen, ")"},
		{TokenLBracket, "["},
		{TokenRBracket, "]"},
		{TokenLBrace, "{"},
		{TokenRBrace, "}"},
		{TokenComma, ","},
		{TokenDot, "."},
		{TokenSemicolon, ";"},
		{TokenAssign, "="},
		{TokenEq, "=="},
		{TokenNotEq, "!="},
		{TokenLess, "<"},
		{TokenLessEq, "<="},
		{TokenGreater, ">"},
		{TokenGreatEq, ">="},
		{TokenAnd, "&&"},
		{TokenOr, "||"},
		{TokenBang, "!"},
		{TokenArrow, "->"},
		{TokenPlus, "+"},
		{TokenMinus, "-"},
		{TokenStar, "*"},
		{TokenSlash, "/"},
		{TokenEOF, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"0", "0"},
		{"42", "42"},
		{"3.14", "3.14"},
		{"100.0", "100.0"},
	}

	for _, tt := range tests {
		tok := NewLexer(tt.input).NextToken()
		if tok.Type != TokenNumber {
			t.Errorf("%q: type = %v, want NUMBER", tt.input, tok.Type)
			continue
		}
		if tok.Literal != tt.want {
			t.Errorf("%q: literal = %q, want %q", tt.input, tok.Literal, tt.want)
		}
	}
}

func TestLexerInvalidNumbers(t *testing.T) {
	for _, input := range []string{"1.", "1.2.3", "12abc"} {
		tok := NewLexer(input).NextToken()
		if tok.Type != TokenError {
			t.Errorf("%q: type = %v, want ERROR", input, tok.Type)
			continue
		}
		if !strings.Contains(tok.Literal, "invalid numeric literal") {
			t.Errorf("%q: message = %q", input, tok.Literal)
		}
	}
}

func TestLexerStrings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`'hello'`, "hello"},
		{`""`, ""},
		{`"a.b(c)"`, "a.b(c)"},
		{`'say "hi"'`, `say "hi"`},
		{`"no\nescape"`, `no\nescape`},
	}

	for _, tt := range tests {
		tok := NewLexer(tt.input).NextToken()
		if tok.Type != TokenString {
			t.Errorf("%s: type = %v, want STRING", tt.input, tok.Type)
			continue
		}
		if tok.Literal != tt.want {
			t.Errorf("%s: literal = %q, want %q", tt.input, tok.Literal, tt.want)
		}
	}
}

func TestLexerUnterminatedString(t *testing.T) {
	tok := NewLexer(`"abc`).NextToken()
	if tok.Type != TokenError || tok.Literal != "unterminated string literal" {
		t.Errorf("got %v %q", tok.Type, tok.Literal)
	}
}

func TestLexerKeywords(t *testing.T) {
	tests := []struct {
		input string
		want  TokenType
	}{
		{"let", TokenLet},
		{"fn", TokenFn},
		{"return", TokenReturn},
		{"if", TokenIf},
		{"elif", TokenElif},
		{"else", TokenElse},
		{"while", TokenWhile},
		{"import", TokenImport},
		{"true", TokenTrue},
		{"false", TokenFalse},
		{"del", TokenDel},
		{"exit", TokenExit},
		{"and", TokenAnd},
		{"or", TokenOr},
		{"letter", TokenIdentifier},
		{"_tmp2", TokenIdentifier},
	}

	for _, tt := range tests {
		tok := NewLexer(tt.input).NextToken()
		if tok.Type != tt.want {
			t.Errorf("%q: type = %v, want %v", tt.input, tok.Type, tt.want)
		}
		if tok.Literal != tt.input {
			t.Errorf("%q: literal = %q", tt.input, tok.Literal)
		}
	}
}

func TestLexerComments(t *testing.T) {
	input := "a // line\nb # hash\n/* block\n spanning */ c"
	toks := Tokenize(input)
	var names []string
	for _, tok := range toks {
		if tok.Type == TokenIdentifier {
			names = append(names, tok.Literal)
		}
	}
	if got := strings.Join(names, " "); got != "a b c" {
		t.Errorf("identifiers = %q, want %q", got, "a b c")
	}
	if last := toks[len(toks)-1]; last.Type != TokenEOF {
		t.Errorf("last token = %v, want EOF", last.Type)
	}
}

func TestLexerUnterminatedBlockComment(t *testing.T) {
	toks := Tokenize("a /* never closed")
	last := toks[len(toks)-1]
	if last.Type != TokenError {
		t.Fatalf("last token = %v, want ERROR", last.Type)
	}
	if last.Literal != "unterminated block comment" {
		t.Errorf("message = %q", last.Literal)
	}
}

func TestLexerLineTracking(t *testing.T) {
	input := "let x = 1;\n  print(x);"
	toks := Tokenize(input)

	var print Token
	for _, tok := range toks {
		if tok.Literal == "print" {
			print = tok
		}
	}
	if print.Pos.Line != 2 || print.Pos.Column != 3 {
		t.Errorf("print at %d:%d, want 2:3", print.Pos.Line, print.Pos.Column)
	}
	if toks[0].Pos.Line != 1 || toks[0].Pos.Column != 1 {
		t.Errorf("let at %d:%d, want 1:1", toks[0].Pos.Line, toks[0].Pos.Column)
	}
}

func TestTokenizeStopsAtError(t *testing.T) {
	toks := Tokenize("a @ b")
	if len(toks) != 2 {
		t.Fatalf("got %d tokens, want 2", len(toks))
	}
	if toks[1].Type != TokenError {
		t.Errorf("second token = %v, want ERROR", toks[1].Type)
	}
}
