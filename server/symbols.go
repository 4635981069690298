package server

import (
	"github.com/chazu/lox/compiler"
)

// symbolKind classifies a declaration found in a document.
type symbolKind int

const (
	symbolVariable symbolKind = iota
	symbolFunction
	symbolClass
	symbolMethod
)

func (k symbolKind) String() string {
	switch k {
	case symbolFunction:
		return "fun"
	case symbolClass:
		return "class"
	case symbolMethod:
		return "method"
	default:
		return "var"
	}
}

// symbol is one declaration: var, fun, class or method.
type symbol struct {
	Name   string
	Kind   symbolKind
	Pos    compiler.Position
	Params []string // functions and methods
	Super  string   // classes
	Class  string   // methods
}

// scanSymbols lists declarations in source order. It works on the token
// stream alone, so documents with compile errors still yield symbols.
func scanSymbols(tokens []compiler.Token) []symbol {
	var syms []symbol
	depth := 0
	var classStack []classScope

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.Type {
		case compiler.TokenLeftBrace:
			depth++
		case compiler.TokenRightBrace:
			depth--
			if n := len(classStack); n > 0 && classStack[n-1].depth == depth {
				classStack = classStack[:n-1]
			}
		case compiler.TokenVar:
			if name, ok := identAt(tokens, i+1); ok {
				syms = append(syms, symbol{Name: name.Literal, Kind: symbolVariable, Pos: name.Pos})
			}
		case compiler.TokenFun:
			if name, ok := identAt(tokens, i+1); ok {
				syms = append(syms, symbol{
					Name:   name.Literal,
					Kind:   symbolFunction,
					Pos:    name.Pos,
					Params: paramsAt(tokens, i+2),
				})
			}
		case compiler.TokenClass:
			name, ok := identAt(tokens, i+1)
			if !ok {
				continue
			}
			s := symbol{Name: name.Literal, Kind: symbolClass, Pos: name.Pos}
			if i+3 < len(tokens) && tokens[i+2].Type == compiler.TokenLess {
				if super, ok := identAt(tokens, i+3); ok {
					s.Super = super.Literal
				}
			}
			syms = append(syms, s)
			classStack = append(classStack, classScope{name: s.Name, depth: depth})
		case compiler.TokenIdentifier:
			n := len(classStack)
			if n == 0 || depth != classStack[n-1].depth+1 {
				continue
			}
			if i+1 < len(tokens) && tokens[i+1].Type == compiler.TokenLeftParen {
				syms = append(syms, symbol{
					Name:   tok.Literal,
					Kind:   symbolMethod,
					Pos:    tok.Pos,
					Params: paramsAt(tokens, i+1),
					Class:  classStack[n-1].name,
				})
			}
		}
	}
	return syms
}

type classScope struct {
	name  string
	depth int // brace depth outside the class body
}

func identAt(tokens []compiler.Token, i int) (compiler.Token, bool) {
	if i < len(tokens) && tokens[i].Type == compiler.TokenIdentifier {
		return tokens[i], true
	}
	return compiler.Token{}, false
}

// paramsAt reads a parenthesised parameter list starting at tokens[i].
func paramsAt(tokens []compiler.Token, i int) []string {
	if i >= len(tokens) || tokens[i].Type != compiler.TokenLeftParen {
		return nil
	}
	var params []string
	for i++; i < len(tokens); i++ {
		switch tokens[i].Type {
		case compiler.TokenIdentifier:
			params = append(params, tokens[i].Literal)
		case compiler.TokenComma:
		default:
			return params
		}
	}
	return params
}

// findSymbol returns the first declaration of name.
func findSymbol(syms []symbol, name string) (symbol, bool) {
	for _, s := range syms {
		if s.Name == name {
			return s, true
		}
	}
	return symbol{}, false
}
