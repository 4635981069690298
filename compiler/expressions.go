package compiler

import (
	"strconv"

	"github.com/chazu/lox/vm"
)

// ---------------------------------------------------------------------------
// Precedence climbing
// ---------------------------------------------------------------------------

type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * / %
	precUnary                 // ! -
	precCall                  // . ()
	precPrimary
)

type parseFn func(p *parser, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

var rules map[TokenType]parseRule

func init() {
	rules = map[TokenType]parseRule{
		TokenLeftParen:    {(*parser).grouping, (*parser).call, precCall},
		TokenDot:          {nil, (*parser).dot, precCall},
		TokenMinus:        {(*parser).unary, (*parser).binary, precTerm},
		TokenPlus:         {nil, (*parser).binary, precTerm},
		TokenSlash:        {nil, (*parser).binary, precFactor},
		TokenStar:         {nil, (*parser).binary, precFactor},
		TokenPercent:      {nil, (*parser).binary, precFactor},
		TokenBang:         {(*parser).unary, nil, precNone},
		TokenBangEqual:    {nil, (*parser).binary, precEquality},
		TokenEqualEqual:   {nil, (*parser).binary, precEquality},
		TokenGreater:      {nil, (*parser).binary, precComparison},
		TokenGreaterEqual: {nil, (*parser).binary, precComparison},
		TokenLess:         {nil, (*parser).binary, precComparison},
		TokenLessEqual:    {nil, (*parser).binary, precComparison},
		TokenIdentifier:   {(*parser).variable, nil, precNone},
		TokenString:       {(*parser).string, nil, precNone},
		TokenNumber:       {(*parser).number, nil, precNone},
		TokenAnd:          {nil, (*parser).and, precAnd},
		TokenOr:           {nil, (*parser).or, precOr},
		TokenFalse:        {(*parser).literal, nil, precNone},
		TokenNil:          {(*parser).literal, nil, precNone},
		TokenTrue:         {(*parser).literal, nil, precNone},
		TokenSuper:        {(*parser).super, nil, precNone},
		TokenThis:         {(*parser).this, nil, precNone},
	}
}

func getRule(typ TokenType) parseRule {
	return rules[typ]
}

func (p *parser) expression() {
	p.parsePrecedence(precAssignment)
}

func (p *parser) parsePrecedence(prec precedence) {
	p.advance()
	prefix := getRule(p.previous.Type).prefix
	if prefix == nil {
		p.error("Expect expression.")
		return
	}

	canAssign := prec <= precAssignment
	prefix(p, canAssign)

	for prec <= getRule(p.current.Type).precedence {
		p.advance()
		getRule(p.previous.Type).infix(p, canAssign)
	}

	if canAssign && p.match(TokenEqual) {
		p.error("Invalid assignment target.")
	}
}

// ---------------------------------------------------------------------------
// Prefix and infix parsers
// ---------------------------------------------------------------------------

func (p *parser) grouping(bool) {
	p.expression()
	p.consume(TokenRightParen, "Expect ')' after expression.")
}

func (p *parser) number(bool) {
	n, err := strconv.ParseFloat(p.previous.Literal, 64)
	if err != nil {
		p.error("Invalid number literal.")
		return
	}
	p.emitConstant(vm.NumberValue(n))
}

func (p *parser) string(bool) {
	lit := p.previous.Literal
	p.emitConstant(vm.ObjValue(p.heap.CopyString(lit[1 : len(lit)-1])))
}

func (p *parser) literal(bool) {
	switch p.previous.Type {
	case TokenFalse:
		p.emitOp(vm.OpFalse)
	case TokenNil:
		p.emitOp(vm.OpNil)
	case TokenTrue:
		p.emitOp(vm.OpTrue)
	}
}

func (p *parser) variable(canAssign bool) {
	p.namedVariable(p.previous.Literal, canAssign)
}

func (p *parser) unary(bool) {
	op := p.previous.Type
	p.parsePrecedence(precUnary)
	switch op {
	case TokenBang:
		p.emitOp(vm.OpNot)
	case TokenMinus:
		p.emitOp(vm.OpNegate)
	}
}

var binaryOps = map[TokenType][]vm.Opcode{
	TokenBangEqual:    {vm.OpEqual, vm.OpNot},
	TokenEqualEqual:   {vm.OpEqual},
	TokenGreater:      {vm.OpGreater},
	TokenGreaterEqual: {vm.OpGreaterEqual},
	TokenLess:         {vm.OpLess},
	TokenLessEqual:    {vm.OpLessEqual},
	TokenPlus:         {vm.OpAdd},
	TokenMinus:        {vm.OpSubtract},
	TokenStar:         {vm.OpMultiply},
	TokenSlash:        {vm.OpDivide},
	TokenPercent:      {vm.OpModulo},
}

func (p *parser) binary(bool) {
	op := p.previous.Type
	p.parsePrecedence(getRule(op).precedence + 1)
	for _, code := range binaryOps[op] {
		p.emitOp(code)
	}
}

func (p *parser) and(bool) {
	endJump := p.emitJump(vm.OpJumpIfFalse)
	p.emitOp(vm.OpPop)
	p.parsePrecedence(precAnd)
	p.patchJump(endJump)
}

func (p *parser) or(bool) {
	elseJump := p.emitJump(vm.OpJumpIfFalse)
	endJump := p.emitJump(vm.OpJump)
	p.patchJump(elseJump)
	p.emitOp(vm.OpPop)
	p.parsePrecedence(precOr)
	p.patchJump(endJump)
}

func (p *parser) argumentList() byte {
	count := 0
	if !p.check(TokenRightParen) {
		for {
			p.expression()
			if count == MaxArgs {
				p.error("Can't have more than 255 arguments.")
			}
			count++
			if !p.match(TokenComma) {
				break
			}
		}
	}
	p.consume(TokenRightParen, "Expect ')' after arguments.")
	return byte(count)
}

func (p *parser) call(bool) {
	argc := p.argumentList()
	p.emitOp(vm.OpCall, argc)
}

func (p *parser) dot(canAssign bool) {
	p.consume(TokenIdentifier, "Expect property name after '.'.")
	name := p.identifierConstant(p.previous.Literal)

	switch {
	case canAssign && p.match(TokenEqual):
		p.expression()
		p.emitOp(vm.OpSetProperty, name)
	case p.match(TokenLeftParen):
		argc := p.argumentList()
		p.emitOp(vm.OpInvoke, name, argc)
	default:
		p.emitOp(vm.OpGetProperty, name)
	}
}

func (p *parser) this(bool) {
	if p.cc == nil {
		p.error("Can't use 'this' outside of a class.")
		return
	}
	p.variable(false)
}

func (p *parser) super(bool) {
	switch {
	case p.cc == nil:
		p.error("Can't use 'super' outside of a class.")
	case !p.cc.hasSuperclass:
		p.error("Can't use 'super' in a class with no superclass.")
	}

	p.consume(TokenDot, "Expect '.' after 'super'.")
	p.consume(TokenIdentifier, "Expect superclass method name.")
	name := p.identifierConstant(p.previous.Literal)

	p.namedVariable("this", false)
	if p.match(TokenLeftParen) {
		argc := p.argumentList()
		p.namedVariable("super", false)
		p.emitOp(vm.OpSuperInvoke, name, argc)
		return
	}
	p.namedVariable("super", false)
	p.emitOp(vm.OpGetSuper, name)
}
