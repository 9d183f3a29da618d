package lang

import (
	"strconv"

	"github.com/pkg/errors"
)

// Parser is a hand-written recursive-descent parser over a Lexer's token
// stream, with precedence-climbing for binary expressions. Grounded on the
// teacher's parser.go structure (single-token lookahead, expect/advance
// helpers) generalized to this language's expression grammar, which the
// teacher's Go-subset parser didn't need (no closures, no tuples, no
// vec/struct literals as first-class expressions).
type Parser struct {
	lex  *Lexer
	cur  Token
	peek Token
}

func NewParser(src []byte) (*Parser, error) {
	p := &Parser{lex: NewLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	p.cur = p.peek
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.peek = t
	return nil
}

func (p *Parser) at(k TokenKind) bool { return p.cur.Kind == k }

func (p *Parser) expect(k TokenKind) (Token, error) {
	if p.cur.Kind != k {
		return Token{}, errors.Errorf("lang: expected %s, got %s at %d:%d", tokenName(k), p.cur, p.cur.Line, p.cur.Col)
	}
	tok := p.cur
	if err := p.advance(); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// ParseFile parses a whole compilation unit: a sequence of top-level
// declarations. It covers the whole-file case (the compiler driver's
// LoadModule); incremental `compile(tid, src)` input is parsed by
// ParseStmts below instead.
func ParseFile(src []byte) (*File, error) {
	p, err := NewParser(src)
	if err != nil {
		return nil, err
	}
	f := &File{}
	for !p.at(TOKEN_EOF) {
		d, err := p.parseDecl()
		if err != nil {
			return nil, err
		}
		f.Decls = append(f.Decls, d)
	}
	return f, nil
}

// ParseStmt parses exactly one standalone statement. The `compile(tid, src)`
// driver (spec §4.7), and with it the `casm repl` subcommand, uses
// ParseStmts instead, which accepts a sequence of statements.
func ParseStmt(src []byte) (Stmt, error) {
	p, err := NewParser(src)
	if err != nil {
		return nil, err
	}
	return p.parseStmt()
}

// ParseStmts parses src as a sequence of statements, stopping at EOF —
// internal/compiler's Driver.Compile calls this since a single `compile(tid,
// src)` source blob (spec §4.7) may carry more than one statement.
func ParseStmts(src []byte) ([]Stmt, error) {
	p, err := NewParser(src)
	if err != nil {
		return nil, err
	}
	var stmts []Stmt
	for !p.at(TOKEN_EOF) {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func (p *Parser) parseDecl() (Decl, error) {
	switch p.cur.Kind {
	case TOKEN_FN:
		return p.parseFnDecl()
	case TOKEN_STRUCT:
		return p.parseStructDecl()
	case TOKEN_UNION:
		return p.parseUnionDecl()
	case TOKEN_ENUM:
		return p.parseEnumDecl()
	default:
		return nil, errors.Errorf("lang: expected declaration, got %s at %d:%d", p.cur, p.cur.Line, p.cur.Col)
	}
}

func (p *Parser) parseFnDecl() (*FnDecl, error) {
	if _, err := p.expect(TOKEN_FN); err != nil {
		return nil, err
	}
	name, err := p.expect(TOKEN_IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TOKEN_LPAREN); err != nil {
		return nil, err
	}
	var params []Param
	for !p.at(TOKEN_RPAREN) {
		pr, err := p.parseParam()
		if err != nil {
			return nil, err
		}
		params = append(params, pr)
		if p.at(TOKEN_COMMA) {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(TOKEN_RPAREN); err != nil {
		return nil, err
	}
	var ret *TypeExpr
	if p.at(TOKEN_ARROW) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		ret, err = p.parseType()
		if err != nil {
			return nil, err
		}
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &FnDecl{Name: name.Val, Params: params, Ret: ret, Body: body}, nil
}

func (p *Parser) parseParam() (Param, error) {
	name, err := p.expect(TOKEN_IDENT)
	if err != nil {
		return Param{}, err
	}
	if _, err := p.expect(TOKEN_COLON); err != nil {
		return Param{}, err
	}
	t, err := p.parseType()
	if err != nil {
		return Param{}, err
	}
	return Param{Name: name.Val, Type: t}, nil
}

func (p *Parser) parseStructDecl() (*StructDecl, error) {
	if _, err := p.expect(TOKEN_STRUCT); err != nil {
		return nil, err
	}
	name, err := p.expect(TOKEN_IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TOKEN_LBRACE); err != nil {
		return nil, err
	}
	var fields []Param
	for !p.at(TOKEN_RBRACE) {
		f, err := p.parseParam()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		if p.at(TOKEN_COMMA) {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(TOKEN_RBRACE); err != nil {
		return nil, err
	}
	return &StructDecl{Name: name.Val, Fields: fields}, nil
}

func (p *Parser) parseUnionDecl() (*UnionDecl, error) {
	if _, err := p.expect(TOKEN_UNION); err != nil {
		return nil, err
	}
	name, err := p.expect(TOKEN_IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TOKEN_LBRACE); err != nil {
		return nil, err
	}
	var variants []UnionVariantDecl
	for !p.at(TOKEN_RBRACE) {
		vname, err := p.expect(TOKEN_IDENT)
		if err != nil {
			return nil, err
		}
		var fields []Param
		if p.at(TOKEN_LBRACE) {
			if err := p.advance(); err != nil {
				return nil, err
			}
			for !p.at(TOKEN_RBRACE) {
				f, err := p.parseParam()
				if err != nil {
					return nil, err
				}
				fields = append(fields, f)
				if p.at(TOKEN_COMMA) {
					if err := p.advance(); err != nil {
						return nil, err
					}
				}
			}
			if _, err := p.expect(TOKEN_RBRACE); err != nil {
				return nil, err
			}
		}
		variants = append(variants, UnionVariantDecl{Name: vname.Val, Fields: fields})
		if p.at(TOKEN_COMMA) {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(TOKEN_RBRACE); err != nil {
		return nil, err
	}
	return &UnionDecl{Name: name.Val, Variants: variants}, nil
}

func (p *Parser) parseEnumDecl() (*EnumDecl, error) {
	if _, err := p.expect(TOKEN_ENUM); err != nil {
		return nil, err
	}
	name, err := p.expect(TOKEN_IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TOKEN_LBRACE); err != nil {
		return nil, err
	}
	var vals []string
	for !p.at(TOKEN_RBRACE) {
		v, err := p.expect(TOKEN_IDENT)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v.Val)
		if p.at(TOKEN_COMMA) {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(TOKEN_RBRACE); err != nil {
		return nil, err
	}
	return &EnumDecl{Name: name.Val, Values: vals}, nil
}

func (p *Parser) parseType() (*TypeExpr, error) {
	switch p.cur.Kind {
	case TOKEN_AMP:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return &TypeExpr{IsAddress: true, Elem: inner}, nil
	case TOKEN_LBRACK:
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.expect(TOKEN_INT)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TOKEN_RBRACK); err != nil {
			return nil, err
		}
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		size, _ := strconv.ParseInt(n.Val, 0, 64)
		return &TypeExpr{ArraySize: int(size), Elem: elem}, nil
	case TOKEN_LPAREN:
		if err := p.advance(); err != nil {
			return nil, err
		}
		var items []*TypeExpr
		for !p.at(TOKEN_RPAREN) {
			it, err := p.parseType()
			if err != nil {
				return nil, err
			}
			items = append(items, it)
			if p.at(TOKEN_COMMA) {
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
		}
		if _, err := p.expect(TOKEN_RPAREN); err != nil {
			return nil, err
		}
		return &TypeExpr{Items: items}, nil
	case TOKEN_FN:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expect(TOKEN_LPAREN); err != nil {
			return nil, err
		}
		var params []*TypeExpr
		for !p.at(TOKEN_RPAREN) {
			pt, err := p.parseType()
			if err != nil {
				return nil, err
			}
			params = append(params, pt)
			if p.at(TOKEN_COMMA) {
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
		}
		if _, err := p.expect(TOKEN_RPAREN); err != nil {
			return nil, err
		}
		var ret *TypeExpr
		if p.at(TOKEN_ARROW) {
			if err := p.advance(); err != nil {
				return nil, err
			}
			var err error
			ret, err = p.parseType()
			if err != nil {
				return nil, err
			}
		}
		return &TypeExpr{Params: params, Ret: ret}, nil
	case TOKEN_IDENT:
		name, err := p.expect(TOKEN_IDENT)
		if err != nil {
			return nil, err
		}
		if name.Val == "Vec" && p.at(TOKEN_LT) {
			if err := p.advance(); err != nil {
				return nil, err
			}
			elem, err := p.parseType()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TOKEN_GT); err != nil {
				return nil, err
			}
			return &TypeExpr{IsVec: true, Elem: elem}, nil
		}
		return &TypeExpr{Name: name.Val}, nil
	}
	return nil, errors.Errorf("lang: expected type, got %s at %d:%d", p.cur, p.cur.Line, p.cur.Col)
}

func (p *Parser) parseBlock() (*BlockStmt, error) {
	if _, err := p.expect(TOKEN_LBRACE); err != nil {
		return nil, err
	}
	b := &BlockStmt{}
	for !p.at(TOKEN_RBRACE) {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, s)
	}
	if _, err := p.expect(TOKEN_RBRACE); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *Parser) parseStmt() (Stmt, error) {
	switch p.cur.Kind {
	case TOKEN_LET:
		return p.parseLetStmt(true)
	case TOKEN_RETURN:
		return p.parseReturnStmt()
	case TOKEN_IF:
		return p.parseIfStmt()
	case TOKEN_WHILE:
		return p.parseWhileStmt()
	case TOKEN_FOR:
		return p.parseForStmt()
	case TOKEN_SPAWN:
		return p.parseSpawnStmt()
	case TOKEN_BREAK:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
			return nil, err
		}
		return &BreakStmt{}, nil
	case TOKEN_CONTINUE:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
			return nil, err
		}
		return &ContinueStmt{}, nil
	case TOKEN_LBRACE:
		return p.parseBlock()
	default:
		return p.parseAssignOrExprStmt(true)
	}
}

func (p *Parser) parseLetStmt(semi bool) (*LetStmt, error) {
	if _, err := p.expect(TOKEN_LET); err != nil {
		return nil, err
	}
	name, err := p.expect(TOKEN_IDENT)
	if err != nil {
		return nil, err
	}
	var typ *TypeExpr
	if p.at(TOKEN_COLON) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		typ, err = p.parseType()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TOKEN_ASSIGN); err != nil {
		return nil, err
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if semi {
		if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
			return nil, err
		}
	}
	return &LetStmt{Name: name.Val, Type: typ, Value: val}, nil
}

func (p *Parser) parseReturnStmt() (*ReturnStmt, error) {
	if _, err := p.expect(TOKEN_RETURN); err != nil {
		return nil, err
	}
	if p.at(TOKEN_SEMICOLON) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ReturnStmt{}, nil
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
		return nil, err
	}
	return &ReturnStmt{Value: val}, nil
}

func (p *Parser) parseIfStmt() (*IfStmt, error) {
	if _, err := p.expect(TOKEN_IF); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt := &IfStmt{Cond: cond, Then: then}
	if p.at(TOKEN_ELSE) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.at(TOKEN_IF) {
			elseIf, err := p.parseIfStmt()
			if err != nil {
				return nil, err
			}
			stmt.Else = elseIf
		} else {
			elseBlock, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			stmt.Else = elseBlock
		}
	}
	return stmt, nil
}

func (p *Parser) parseWhileStmt() (*WhileStmt, error) {
	if _, err := p.expect(TOKEN_WHILE); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{Cond: cond, Body: body}, nil
}

func (p *Parser) parseForStmt() (*ForStmt, error) {
	if _, err := p.expect(TOKEN_FOR); err != nil {
		return nil, err
	}
	if _, err := p.expect(TOKEN_LPAREN); err != nil {
		return nil, err
	}
	var init Stmt
	if !p.at(TOKEN_SEMICOLON) {
		var err error
		init, err = p.parseLetStmt(false)
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
		return nil, err
	}
	var cond Expr
	if !p.at(TOKEN_SEMICOLON) {
		var err error
		cond, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
		return nil, err
	}
	var post Stmt
	if !p.at(TOKEN_RPAREN) {
		var err error
		post, err = p.parseAssignOrExprStmt(false)
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TOKEN_RPAREN); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ForStmt{Init: init, Cond: cond, Post: post, Body: body}, nil
}

func (p *Parser) parseSpawnStmt() (*SpawnStmt, error) {
	if _, err := p.expect(TOKEN_SPAWN); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	call, ok := e.(*CallExpr)
	if !ok {
		return nil, errors.Errorf("lang: spawn requires a call expression")
	}
	if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
		return nil, err
	}
	return &SpawnStmt{Call: call}, nil
}

// parseAssignOrExprStmt parses `target = value;` or a bare expression
// statement. When semi is false (for-loop post-clause) no terminator is
// consumed.
func (p *Parser) parseAssignOrExprStmt(semi bool) (Stmt, error) {
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.at(TOKEN_ASSIGN) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if semi {
			if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
				return nil, err
			}
		}
		return &AssignStmt{Target: x, Value: val}, nil
	}
	if semi {
		if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
			return nil, err
		}
	}
	return &ExprStmt{X: x}, nil
}

// Expression parsing: precedence-climbing over a fixed table, then unary,
// then postfix (call/field/index/tuple-index/as-cast), then primary.

var binPrec = map[TokenKind]int{
	TOKEN_OROR:    1,
	TOKEN_ANDAND:  2,
	TOKEN_EQ:      3,
	TOKEN_NEQ:     3,
	TOKEN_LT:      4,
	TOKEN_GT:      4,
	TOKEN_LEQ:     4,
	TOKEN_GEQ:     4,
	TOKEN_PIPE:    5,
	TOKEN_CARET:   6,
	TOKEN_AMP:     7,
	TOKEN_SHL:     8,
	TOKEN_SHR:     8,
	TOKEN_PLUS:    9,
	TOKEN_MINUS:   9,
	TOKEN_STAR:    10,
	TOKEN_SLASH:   10,
	TOKEN_PERCENT: 10,
}

func (p *Parser) parseExpr() (Expr, error) { return p.parseBinary(0) }

func (p *Parser) parseBinary(minPrec int) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		prec, ok := binPrec[p.cur.Kind]
		if !ok || prec < minPrec {
			return left, nil
		}
		op := p.cur.Kind
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, X: left, Y: right}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.at(TOKEN_MINUS) || p.at(TOKEN_NOT) {
		op := p.cur.Kind
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op, X: x}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur.Kind {
		case TOKEN_LPAREN:
			if err := p.advance(); err != nil {
				return nil, err
			}
			var args []Expr
			for !p.at(TOKEN_RPAREN) {
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.at(TOKEN_COMMA) {
					if err := p.advance(); err != nil {
						return nil, err
					}
				}
			}
			if _, err := p.expect(TOKEN_RPAREN); err != nil {
				return nil, err
			}
			x = &CallExpr{Fn: x, Args: args}
		case TOKEN_DOT:
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.at(TOKEN_INT) {
				n, err := p.expect(TOKEN_INT)
				if err != nil {
					return nil, err
				}
				idx, _ := strconv.Atoi(n.Val)
				x = &TupleIndexExpr{X: x, Index: idx}
			} else {
				name, err := p.expect(TOKEN_IDENT)
				if err != nil {
					return nil, err
				}
				x = &FieldExpr{X: x, Name: name.Val}
			}
		case TOKEN_LBRACK:
			if err := p.advance(); err != nil {
				return nil, err
			}
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TOKEN_RBRACK); err != nil {
				return nil, err
			}
			x = &IndexExpr{X: x, Index: idx}
		case TOKEN_AS:
			if err := p.advance(); err != nil {
				return nil, err
			}
			t, err := p.parseType()
			if err != nil {
				return nil, err
			}
			x = &CastExpr{X: x, Type: t}
		default:
			return x, nil
		}
	}
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.cur.Kind {
	case TOKEN_IDENT:
		name := p.cur.Val
		if err := p.advance(); err != nil {
			return nil, err
		}
		if name == "vec" && p.at(TOKEN_LBRACK) {
			return p.parseVecLit()
		}
		return &Ident{Name: name}, nil
	case TOKEN_INT:
		v := p.cur.Val
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(v, 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "lang: invalid integer literal %q", v)
		}
		return &IntLit{Value: n}, nil
	case TOKEN_FLOAT:
		v := p.cur.Val
		if err := p.advance(); err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "lang: invalid float literal %q", v)
		}
		return &FloatLit{Value: f}, nil
	case TOKEN_STRING:
		v, err := strconv.Unquote(`"` + p.cur.Val + `"`)
		if err != nil {
			return nil, errors.Wrapf(err, "lang: invalid string literal %q", p.cur.Val)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &StringLit{Value: v}, nil
	case TOKEN_CHAR:
		v := p.cur.Val
		if err := p.advance(); err != nil {
			return nil, err
		}
		r := []rune(v)
		if len(r) == 0 {
			return nil, errors.Errorf("lang: empty char literal")
		}
		return &CharLit{Value: r[0]}, nil
	case TOKEN_TRUE:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &BoolLit{Value: true}, nil
	case TOKEN_FALSE:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &BoolLit{Value: false}, nil
	case TOKEN_PIPE:
		return p.parseClosureLit()
	case TOKEN_LPAREN:
		if err := p.advance(); err != nil {
			return nil, err
		}
		first, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.at(TOKEN_COMMA) {
			elems := []Expr{first}
			for p.at(TOKEN_COMMA) {
				if err := p.advance(); err != nil {
					return nil, err
				}
				if p.at(TOKEN_RPAREN) {
					break
				}
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				elems = append(elems, e)
			}
			if _, err := p.expect(TOKEN_RPAREN); err != nil {
				return nil, err
			}
			return &TupleLit{Elems: elems}, nil
		}
		if _, err := p.expect(TOKEN_RPAREN); err != nil {
			return nil, err
		}
		return first, nil
	}
	return nil, errors.Errorf("lang: unexpected token %s at %d:%d", p.cur, p.cur.Line, p.cur.Col)
}

func (p *Parser) parseVecLit() (Expr, error) {
	if _, err := p.expect(TOKEN_LBRACK); err != nil {
		return nil, err
	}
	var elems []Expr
	for !p.at(TOKEN_RBRACK) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if p.at(TOKEN_COMMA) {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(TOKEN_RBRACK); err != nil {
		return nil, err
	}
	return &VecLit{Elems: elems}, nil
}

// parseClosureLit parses `|a: i32, b: i32| -> i32 { ... }` (spec §1 surface
// syntax: "closures (`|x| { ... }` literals)").
func (p *Parser) parseClosureLit() (Expr, error) {
	if _, err := p.expect(TOKEN_PIPE); err != nil {
		return nil, err
	}
	var params []Param
	for !p.at(TOKEN_PIPE) {
		pr, err := p.parseParam()
		if err != nil {
			return nil, err
		}
		params = append(params, pr)
		if p.at(TOKEN_COMMA) {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(TOKEN_PIPE); err != nil {
		return nil, err
	}
	var ret *TypeExpr
	if p.at(TOKEN_ARROW) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		var err error
		ret, err = p.parseType()
		if err != nil {
			return nil, err
		}
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ClosureLit{Params: params, Ret: ret, Body: body}, nil
}
