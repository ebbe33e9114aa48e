package compiler

import (
	"fmt"
	"strconv"

	"github.com/chazu/minis/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Minis
// ---------------------------------------------------------------------------

// Parser parses a token stream into a Program. The first syntax error is
// fatal and stops parsing.
type Parser struct {
	file   string
	tokens []Token
	pos    int
	prev   Token
}

// bailout carries the fatal error out of deeply nested parse calls.
type bailout struct{ err *Error }

// NewParser creates a parser over the tokens of input.
func NewParser(file, input string) *Parser {
	return &Parser{file: file, tokens: Tokenize(input)}
}

// Parse parses a whole compilation unit.
func Parse(file, input string) (*Program, error) {
	return NewParser(file, input).ParseProgram()
}

// ParseProgram parses the token stream into a Program.
func (p *Parser) ParseProgram() (prog *Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			prog, err = nil, b.err
		}
	}()

	prog = &Program{}
	for !p.curIs(TokenEOF) {
		switch p.cur().Type {
		case TokenImport:
			prog.Imports = append(prog.Imports, p.parseImport())
		case TokenFn:
			prog.Functions = append(prog.Functions, p.parseFunction())
		default:
			prog.Main = append(prog.Main, p.parseStatement())
		}
	}
	return prog, nil
}

// ParseExpression parses a single expression followed by EOF.
func (p *Parser) ParseExpression() (expr Expr, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			expr, err = nil, b.err
		}
	}()

	expr = p.parseExpr()
	if !p.curIs(TokenEOF) {
		p.errorf("unexpected %s after expression", p.cur().Type)
	}
	return expr, nil
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

func (p *Parser) cur() Token {
	tok := p.tokens[p.pos]
	if tok.Type == TokenError {
		p.fail(tok.Pos, "%s", tok.Literal)
	}
	return tok
}

func (p *Parser) curIs(t TokenType) bool {
	return p.cur().Type == t
}

func (p *Parser) next() Token {
	tok := p.cur()
	p.prev = tok
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

// expect consumes a token of type t or fails.
func (p *Parser) expect(t TokenType) Token {
	if !p.curIs(t) {
		p.errorf("expected %s, got %s", t, describe(p.cur()))
	}
	return p.next()
}

func (p *Parser) expectIdent(what string) Token {
	if !p.curIs(TokenIdentifier) {
		p.errorf("expected %s, got %s", what, describe(p.cur()))
	}
	return p.next()
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.fail(p.tokens[p.pos].Pos, format, args...)
}

func (p *Parser) fail(pos Position, format string, args ...interface{}) {
	panic(bailout{&Error{File: p.file, Pos: pos, Message: fmt.Sprintf(format, args...)}})
}

// span runs from start to the end of the last consumed token.
func (p *Parser) span(start Position) Span {
	return Span{Start: start, End: tokenEnd(p.prev)}
}

func tokenEnd(tok Token) Position {
	width := len(tok.Literal)
	if tok.Type == TokenString {
		width += 2
	}
	return Position{
		Offset: tok.Pos.Offset + width,
		Line:   tok.Pos.Line,
		Column: tok.Pos.Column + width,
	}
}

func describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of input"
	case TokenIdentifier, TokenNumber:
		return fmt.Sprintf("%q", tok.Literal)
	case TokenString:
		return "string literal"
	}
	return fmt.Sprintf("%q", tok.Type.String())
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (p *Parser) parseImport() *ImportDecl {
	start := p.expect(TokenImport).Pos
	name := p.expectIdent("module name")
	p.expect(TokenSemicolon)
	return &ImportDecl{SpanVal: p.span(start), Name: name.Literal}
}

var returnTypes = map[string]bytecode.TypeTag{
	"int":   bytecode.TypeInt,
	"float": bytecode.TypeFloat,
	"bool":  bytecode.TypeBool,
	"str":   bytecode.TypeStr,
	"list":  bytecode.TypeList,
}

func (p *Parser) parseFunction() *FuncDecl {
	start := p.expect(TokenFn).Pos
	name := p.expectIdent("function name")
	fn := &FuncDecl{Name: name.Literal, ReturnType: bytecode.TypeInt}

	p.expect(TokenLParen)
	seen := map[string]bool{}
	for !p.curIs(TokenRParen) {
		param := p.expectIdent("parameter name")
		if seen[param.Literal] {
			p.fail(param.Pos, "duplicate parameter %q in function %q", param.Literal, fn.Name)
		}
		seen[param.Literal] = true
		fn.Params = append(fn.Params, Param{SpanVal: p.span(param.Pos), Name: param.Literal})
		if !p.curIs(TokenComma) {
			break
		}
		p.next()
	}
	p.expect(TokenRParen)

	if p.curIs(TokenArrow) {
		p.next()
		typ := p.expectIdent("return type")
		if typ.Literal == "void" {
			fn.IsVoid = true
		} else if tag, ok := returnTypes[typ.Literal]; ok {
			fn.IsTyped = true
			fn.ReturnType = tag
		} else {
			p.fail(typ.Pos, "unknown return type %q", typ.Literal)
		}
	}

	fn.Body = p.parseBlock()
	fn.SpanVal = p.span(start)
	return fn
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseBlock() *Block {
	start := p.expect(TokenLBrace).Pos
	block := &Block{}
	for !p.curIs(TokenRBrace) {
		if p.curIs(TokenEOF) {
			p.fail(start, "unterminated block: missing '}'")
		}
		block.Stmts = append(block.Stmts, p.parseStatement())
	}
	p.next()
	block.SpanVal = p.span(start)
	return block
}

func (p *Parser) parseStatement() Stmt {
	tok := p.cur()
	switch tok.Type {
	case TokenLet:
		return p.parseLet()
	case TokenReturn:
		return p.parseReturn()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenDel:
		p.next()
		name := p.expectIdent("variable name")
		p.expect(TokenSemicolon)
		return &DelStmt{SpanVal: p.span(tok.Pos), Name: name.Literal}
	case TokenExit:
		p.next()
		p.expect(TokenSemicolon)
		return &ExitStmt{SpanVal: p.span(tok.Pos)}
	case TokenElif, TokenElse:
		p.errorf("%q without a preceding if", tok.Literal)
	case TokenFn:
		p.errorf("functions may only be defined at top level")
	case TokenImport:
		p.errorf("import may only appear at top level")
	}
	return p.parseSimpleStatement()
}

func (p *Parser) parseLet() *LetStmt {
	start := p.expect(TokenLet).Pos
	name := p.expectIdent("variable name")
	let := &LetStmt{Name: name.Literal}
	if p.curIs(TokenAssign) {
		p.next()
		let.Value = p.parseExpr()
	}
	p.expect(TokenSemicolon)
	let.SpanVal = p.span(start)
	return let
}

func (p *Parser) parseReturn() *ReturnStmt {
	start := p.expect(TokenReturn).Pos
	ret := &ReturnStmt{}
	if !p.curIs(TokenSemicolon) {
		ret.Value = p.parseExpr()
	}
	p.expect(TokenSemicolon)
	ret.SpanVal = p.span(start)
	return ret
}

func (p *Parser) parseIf() *IfStmt {
	start := p.expect(TokenIf).Pos
	stmt := &IfStmt{}
	cond := p.parseExpr()
	stmt.Clauses = append(stmt.Clauses, &CondClause{SpanVal: p.span(start), Cond: cond, Body: p.parseBlock()})

	for p.curIs(TokenElif) {
		clauseStart := p.next().Pos
		cond := p.parseExpr()
		stmt.Clauses = append(stmt.Clauses, &CondClause{SpanVal: p.span(clauseStart), Cond: cond, Body: p.parseBlock()})
	}
	if p.curIs(TokenElse) {
		p.next()
		stmt.Else = p.parseBlock()
	}
	stmt.SpanVal = p.span(start)
	return stmt
}

func (p *Parser) parseWhile() *WhileStmt {
	start := p.expect(TokenWhile).Pos
	cond := p.parseExpr()
	body := p.parseBlock()
	return &WhileStmt{SpanVal: p.span(start), Cond: cond, Body: body}
}

// parseSimpleStatement handles assignments and call statements, which
// both begin with an expression.
func (p *Parser) parseSimpleStatement() Stmt {
	start := p.cur().Pos
	target := p.parseExpr()

	if p.curIs(TokenAssign) {
		p.next()
		value := p.parseExpr()
		p.expect(TokenSemicolon)
		switch t := target.(type) {
		case *Identifier:
			return &AssignStmt{SpanVal: p.span(start), Name: t.Name, Value: value}
		case *IndexExpr:
			if base, ok := t.Base.(*Identifier); ok {
				return &IndexAssignStmt{SpanVal: p.span(start), Name: base.Name, Index: t.Index, Value: value}
			}
		}
		p.fail(start, "invalid assignment target")
	}

	call, ok := target.(*CallExpr)
	if !ok {
		p.fail(start, "unrecognized statement: expression result is not used")
	}
	p.expect(TokenSemicolon)
	return &CallStmt{SpanVal: p.span(start), Call: call}
}

// ---------------------------------------------------------------------------
// Expressions (lowest to highest precedence)
// ---------------------------------------------------------------------------

func (p *Parser) parseExpr() Expr {
	return p.parseBinary(0)
}

// precedenceLevels lists binary operators from lowest to highest binding.
// Every level is left-associative.
var precedenceLevels = [][]TokenType{
	{TokenOr},
	{TokenAnd},
	{TokenEq, TokenNotEq, TokenLess, TokenLessEq, TokenGreater, TokenGreatEq},
	{TokenPlus, TokenMinus},
	{TokenStar, TokenSlash},
}

func (p *Parser) parseBinary(level int) Expr {
	if level == len(precedenceLevels) {
		return p.parseUnary()
	}
	left := p.parseBinary(level + 1)
	for p.atLevel(level) {
		op := p.next()
		right := p.parseBinary(level + 1)
		left = &BinaryExpr{
			SpanVal: Span{Start: left.Span().Start, End: right.Span().End},
			Op:      op.Type,
			Left:    left,
			Right:   right,
		}
	}
	return left
}

func (p *Parser) atLevel(level int) bool {
	t := p.cur().Type
	for _, op := range precedenceLevels[level] {
		if t == op {
			return true
		}
	}
	return false
}

func (p *Parser) parseUnary() Expr {
	if p.curIs(TokenMinus) || p.curIs(TokenBang) {
		op := p.next()
		operand := p.parseUnary()
		if num, ok := operand.(*NumberLiteral); ok && op.Type == TokenMinus {
			return &NumberLiteral{SpanVal: p.span(op.Pos), Value: -num.Value, Text: "-" + num.Text}
		}
		return &UnaryExpr{SpanVal: p.span(op.Pos), Op: op.Type, Operand: operand}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() Expr {
	expr := p.parsePrimary()
	for p.curIs(TokenLBracket) {
		p.next()
		index := p.parseExpr()
		p.expect(TokenRBracket)
		expr = &IndexExpr{SpanVal: p.span(expr.Span().Start), Base: expr, Index: index}
	}
	return expr
}

func (p *Parser) parsePrimary() Expr {
	tok := p.cur()
	switch tok.Type {
	case TokenNumber:
		p.next()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.fail(tok.Pos, "invalid numeric literal %q", tok.Literal)
		}
		return &NumberLiteral{SpanVal: p.span(tok.Pos), Value: v, Text: tok.Literal}

	case TokenString:
		p.next()
		return &StringLiteral{SpanVal: p.span(tok.Pos), Value: tok.Literal}

	case TokenTrue, TokenFalse:
		p.next()
		return &BoolLiteral{SpanVal: p.span(tok.Pos), Value: tok.Type == TokenTrue}

	case TokenLParen:
		p.next()
		expr := p.parseExpr()
		if !p.curIs(TokenRParen) {
			p.fail(tok.Pos, "unbalanced parenthesis: missing ')'")
		}
		p.next()
		return expr

	case TokenLBracket:
		return p.parseList()

	case TokenIdentifier:
		return p.parseNameOrCall()
	}

	p.errorf("expected expression, got %s", describe(tok))
	return nil
}

func (p *Parser) parseList() Expr {
	start := p.expect(TokenLBracket).Pos
	list := &ListLiteral{}
	for !p.curIs(TokenRBracket) {
		list.Elements = append(list.Elements, p.parseExpr())
		if !p.curIs(TokenComma) {
			break
		}
		p.next()
	}
	if !p.curIs(TokenRBracket) {
		p.fail(start, "unterminated list literal: missing ']'")
	}
	p.next()
	list.SpanVal = p.span(start)
	return list
}

func (p *Parser) parseNameOrCall() Expr {
	name := p.next()

	if p.curIs(TokenDot) {
		p.next()
		fn := p.expectIdent("function name after '.'")
		if !p.curIs(TokenLParen) {
			p.fail(name.Pos, "module member %s.%s must be called", name.Literal, fn.Literal)
		}
		return p.parseCall(name.Pos, name.Literal, fn.Literal)
	}
	if p.curIs(TokenLParen) {
		return p.parseCall(name.Pos, "", name.Literal)
	}
	return &Identifier{SpanVal: p.span(name.Pos), Name: name.Literal}
}

func (p *Parser) parseCall(start Position, module, name string) *CallExpr {
	open := p.expect(TokenLParen)
	call := &CallExpr{Module: module, Name: name}
	for !p.curIs(TokenRParen) {
		call.Args = append(call.Args, p.parseExpr())
		if !p.curIs(TokenComma) {
			break
		}
		p.next()
	}
	if !p.curIs(TokenRParen) {
		p.fail(open.Pos, "unbalanced parenthesis in call to %s: missing ')'", name)
	}
	p.next()
	call.SpanVal = p.span(start)
	return call
}
