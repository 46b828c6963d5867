// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphtext

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var graphLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{"Comment", `//[^\n]*`, nil},
		{"NodeRef", `%[0-9]+`, nil},
		{"String", `"(\\"|[^"])*"`, nil},
		{"Number", `[-+]?[0-9]+(\.[0-9]*)?([eE][-+]?[0-9]+)?`, nil},
		{"Ident", `[a-zA-Z_][a-zA-Z0-9_]*`, nil},
		{"Punctuation", `[{}\[\]():,=]`, nil},
		{"Whitespace", `[ \t\r\n]+`, nil},
	},
})

var moduleParser = participle.MustBuild[moduleAST](
	participle.Lexer(graphLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(2),
)

type moduleAST struct {
	Pos          lexer.Position
	Name         string            `"module" @Ident`
	Entry        string            `( "entry" @Ident )?`
	Computations []*computationAST `@@*`
}

type computationAST struct {
	Pos   lexer.Position
	Name  string     `"computation" @Ident "{"`
	Nodes []*nodeAST `@@*`
	Root  string     `( "root" @NodeRef )? "}"`
}

type nodeAST struct {
	Pos      lexer.Position
	Ref      string     `@NodeRef "="`
	Op       string     `@Ident "("`
	Name     *string    `( @String`
	Value    *float64   `| @Number`
	Operands []string   `| ( @NodeRef ( "," @NodeRef )* )? ) ")"`
	Attrs    []*attrAST `( "{" @@ ( "," @@ )* "}" )?`
	Shape    *shapeAST  `":" @@`
}

type attrAST struct {
	Pos   lexer.Position
	Key   string      `@Ident "="`
	Ident *string     `( @Ident`
	List  []*tupleAST `| "[" ( @@ ( "," @@ )* )? "]" )`
}

// tupleAST is a colon separated list of integers, e.g. `3:1:-1:3:1:1`, or a single integer.
type tupleAST struct {
	Values []int `@Number ( ":" @Number )*`
}

type shapeAST struct {
	DType      string `@Ident "["`
	Dimensions []int  `( @Number ( "," @Number )* )? "]"`
}
