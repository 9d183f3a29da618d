// Package lang implements the lexer, AST, and recursive-descent parser for
// the small surface syntax defined in SPEC_FULL.md §1 — a grammar that
// exists purely to drive the semantic analyzer, code generator, and VM
// end to end; it is not itself part of the specification.
package lang

// TokenKind enumerates lexical token categories. Grounded on the teacher's
// parser.go TokenKind enum and keyword table, reworked for this language's
// own keyword set (fn/let/while/for/struct/union/enum/spawn in place of
// Go's package/import/var/const/interface/defer/iota).
type TokenKind int

const (
	TOKEN_EOF TokenKind = iota
	TOKEN_IDENT
	TOKEN_INT
	TOKEN_FLOAT
	TOKEN_STRING
	TOKEN_CHAR

	TOKEN_FN
	TOKEN_LET
	TOKEN_IF
	TOKEN_ELSE
	TOKEN_WHILE
	TOKEN_FOR
	TOKEN_IN
	TOKEN_STRUCT
	TOKEN_UNION
	TOKEN_ENUM
	TOKEN_RETURN
	TOKEN_SPAWN
	TOKEN_BREAK
	TOKEN_CONTINUE
	TOKEN_TRUE
	TOKEN_FALSE
	TOKEN_AS

	TOKEN_PLUS
	TOKEN_MINUS
	TOKEN_STAR
	TOKEN_SLASH
	TOKEN_PERCENT
	TOKEN_EQ
	TOKEN_NEQ
	TOKEN_LT
	TOKEN_GT
	TOKEN_LEQ
	TOKEN_GEQ
	TOKEN_ANDAND
	TOKEN_OROR
	TOKEN_NOT
	TOKEN_AMP
	TOKEN_PIPE
	TOKEN_CARET
	TOKEN_SHL
	TOKEN_SHR

	TOKEN_ASSIGN
	TOKEN_ARROW

	TOKEN_LPAREN
	TOKEN_RPAREN
	TOKEN_LBRACE
	TOKEN_RBRACE
	TOKEN_LBRACK
	TOKEN_RBRACK
	TOKEN_COMMA
	TOKEN_DOT
	TOKEN_COLON
	TOKEN_SEMICOLON
)

var tokenNames = map[TokenKind]string{
	TOKEN_EOF: "EOF", TOKEN_IDENT: "IDENT", TOKEN_INT: "INT",
	TOKEN_FLOAT: "FLOAT", TOKEN_STRING: "STRING", TOKEN_CHAR: "CHAR",
	TOKEN_FN: "fn", TOKEN_LET: "let", TOKEN_IF: "if", TOKEN_ELSE: "else",
	TOKEN_WHILE: "while", TOKEN_FOR: "for", TOKEN_IN: "in",
	TOKEN_STRUCT: "struct", TOKEN_UNION: "union", TOKEN_ENUM: "enum",
	TOKEN_RETURN: "return", TOKEN_SPAWN: "spawn", TOKEN_BREAK: "break",
	TOKEN_CONTINUE: "continue", TOKEN_TRUE: "true",
	TOKEN_FALSE: "false", TOKEN_AS: "as",
	TOKEN_PLUS: "+", TOKEN_MINUS: "-", TOKEN_STAR: "*", TOKEN_SLASH: "/",
	TOKEN_PERCENT: "%", TOKEN_EQ: "==", TOKEN_NEQ: "!=",
	TOKEN_LT: "<", TOKEN_GT: ">", TOKEN_LEQ: "<=", TOKEN_GEQ: ">=",
	TOKEN_ANDAND: "&&", TOKEN_OROR: "||", TOKEN_NOT: "!",
	TOKEN_AMP: "&", TOKEN_PIPE: "|", TOKEN_CARET: "^",
	TOKEN_SHL: "<<", TOKEN_SHR: ">>",
	TOKEN_ASSIGN: "=", TOKEN_ARROW: "->",
	TOKEN_LPAREN: "(", TOKEN_RPAREN: ")", TOKEN_LBRACE: "{", TOKEN_RBRACE: "}",
	TOKEN_LBRACK: "[", TOKEN_RBRACK: "]", TOKEN_COMMA: ",", TOKEN_DOT: ".",
	TOKEN_COLON: ":", TOKEN_SEMICOLON: ";",
}

func tokenName(k TokenKind) string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return "?"
}

var keywords = map[string]TokenKind{
	"fn": TOKEN_FN, "let": TOKEN_LET, "if": TOKEN_IF, "else": TOKEN_ELSE,
	"while": TOKEN_WHILE, "for": TOKEN_FOR, "in": TOKEN_IN,
	"struct": TOKEN_STRUCT, "union": TOKEN_UNION, "enum": TOKEN_ENUM,
	"return": TOKEN_RETURN, "spawn": TOKEN_SPAWN,
	"break": TOKEN_BREAK, "continue": TOKEN_CONTINUE,
	"true": TOKEN_TRUE, "false": TOKEN_FALSE, "as": TOKEN_AS,
}

// Token is one lexical token with its source position.
type Token struct {
	Kind TokenKind
	Val  string
	Line int
	Col  int
}

func (t Token) String() string {
	if t.Val != "" {
		return tokenName(t.Kind) + "(" + t.Val + ")"
	}
	return tokenName(t.Kind)
}
