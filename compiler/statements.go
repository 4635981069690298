package compiler

import "github.com/chazu/lox/vm"

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (p *parser) declaration() {
	switch {
	case p.match(TokenClass):
		p.classDeclaration()
	case p.match(TokenFun):
		p.funDeclaration()
	case p.match(TokenVar):
		p.varDeclaration()
	default:
		p.statement()
	}
	if p.panicMode {
		p.synchronize()
	}
}

func (p *parser) classDeclaration() {
	p.consume(TokenIdentifier, "Expect class name.")
	className := p.previous.Literal
	nameConstant := p.identifierConstant(className)
	p.declareVariable()

	p.emitOp(vm.OpClass, nameConstant)
	p.defineVariable(nameConstant)

	cc := &classCompiler{enclosing: p.cc}
	p.cc = cc

	if p.match(TokenLess) {
		p.consume(TokenIdentifier, "Expect superclass name.")
		p.variable(false)
		if className == p.previous.Literal {
			p.error("A class can't inherit from itself.")
		}

		p.beginScope()
		p.addLocal("super")
		p.defineVariable(0)

		p.namedVariable(className, false)
		p.emitOp(vm.OpInherit)
		cc.hasSuperclass = true
	}

	p.namedVariable(className, false)
	p.consume(TokenLeftBrace, "Expect '{' before class body.")
	for !p.check(TokenRightBrace) && !p.check(TokenEOF) {
		p.method()
	}
	p.consume(TokenRightBrace, "Expect '}' after class body.")
	p.emitOp(vm.OpPop)

	if cc.hasSuperclass {
		p.endScope()
	}
	p.cc = cc.enclosing
}

func (p *parser) method() {
	p.consume(TokenIdentifier, "Expect method name.")
	name := p.previous.Literal
	constant := p.identifierConstant(name)

	kind := kindMethod
	if name == "init" {
		kind = kindInitializer
	}
	p.function(kind)
	p.emitOp(vm.OpMethod, constant)
}

func (p *parser) funDeclaration() {
	global := p.parseVariable("Expect function name.")
	p.markInitialized()
	p.function(kindFunction)
	p.defineVariable(global)
}

// function compiles a parameter list and body into a new function and
// emits the closure that creates it at runtime.
func (p *parser) function(kind functionKind) {
	p.beginFunction(kind)
	p.beginScope()

	p.consume(TokenLeftParen, "Expect '(' after function name.")
	if !p.check(TokenRightParen) {
		for {
			p.fc.function.Arity++
			if p.fc.function.Arity > MaxArgs {
				p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := p.parseVariable("Expect parameter name.")
			p.defineVariable(constant)
			if !p.match(TokenComma) {
				break
			}
		}
	}
	p.consume(TokenRightParen, "Expect ')' after parameters.")
	p.consume(TokenLeftBrace, "Expect '{' before function body.")
	p.block()

	upvalues := p.fc.upvalues
	fn := p.endFunction()
	p.emitOp(vm.OpClosure, p.makeConstant(vm.ObjValue(fn)))
	for _, u := range upvalues {
		if u.isLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitByte(u.index)
	}
}

func (p *parser) varDeclaration() {
	global := p.parseVariable("Expect variable name.")
	if p.match(TokenEqual) {
		p.expression()
	} else {
		p.emitOp(vm.OpNil)
	}
	p.consume(TokenSemicolon, "Expect ';' after variable declaration.")
	p.defineVariable(global)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *parser) statement() {
	switch {
	case p.match(TokenPrint):
		p.printStatement()
	case p.match(TokenBreak):
		p.breakStatement()
	case p.match(TokenFor):
		p.forStatement()
	case p.match(TokenIf):
		p.ifStatement()
	case p.match(TokenReturn):
		p.returnStatement()
	case p.match(TokenWhile):
		p.whileStatement()
	case p.match(TokenLeftBrace):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.expressionStatement()
	}
}

func (p *parser) block() {
	for !p.check(TokenRightBrace) && !p.check(TokenEOF) {
		p.declaration()
	}
	p.consume(TokenRightBrace, "Expect '}' after block.")
}

func (p *parser) printStatement() {
	p.expression()
	p.consume(TokenSemicolon, "Expect ';' after value.")
	p.emitOp(vm.OpPrint)
}

func (p *parser) expressionStatement() {
	p.expression()
	p.consume(TokenSemicolon, "Expect ';' after expression.")
	p.emitOp(vm.OpPop)
}

func (p *parser) returnStatement() {
	if p.fc.kind == kindScript {
		p.error("Can't return from top-level code.")
	}
	if p.match(TokenSemicolon) {
		p.emitReturn()
		return
	}
	if p.fc.kind == kindInitializer {
		p.error("Can't return a value from an initializer.")
	}
	p.expression()
	p.consume(TokenSemicolon, "Expect ';' after return value.")
	p.emitOp(vm.OpReturn)
}

func (p *parser) ifStatement() {
	p.consume(TokenLeftParen, "Expect '(' after 'if'.")
	p.expression()
	p.consume(TokenRightParen, "Expect ')' after condition.")

	thenJump := p.emitJump(vm.OpJumpIfFalse)
	p.emitOp(vm.OpPop)
	p.statement()
	elseJump := p.emitJump(vm.OpJump)

	p.patchJump(thenJump)
	p.emitOp(vm.OpPop)
	if p.match(TokenElse) {
		p.statement()
	}
	p.patchJump(elseJump)
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

func (p *parser) beginLoop() *loop {
	l := &loop{enclosing: p.fc.loop, scopeDepth: p.fc.scopeDepth}
	p.fc.loop = l
	return l
}

// endLoop lands every break of the innermost loop on the current offset.
func (p *parser) endLoop() {
	l := p.fc.loop
	for _, at := range l.breaks {
		p.patchJump(at)
	}
	p.fc.loop = l.enclosing
}

func (p *parser) breakStatement() {
	l := p.fc.loop
	if l == nil {
		p.error("Can't use 'break' outside of a loop.")
		p.consume(TokenSemicolon, "Expect ';' after 'break'.")
		return
	}
	p.consume(TokenSemicolon, "Expect ';' after 'break'.")
	p.discardLocals(l.scopeDepth)
	l.breaks = append(l.breaks, p.emitJump(vm.OpJump))
}

func (p *parser) whileStatement() {
	loopStart := p.chunk().Len()
	p.beginLoop()

	p.consume(TokenLeftParen, "Expect '(' after 'while'.")
	p.expression()
	p.consume(TokenRightParen, "Expect ')' after condition.")

	exitJump := p.emitJump(vm.OpJumpIfFalse)
	p.emitOp(vm.OpPop)
	p.statement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emitOp(vm.OpPop)
	p.endLoop()
}

func (p *parser) forStatement() {
	p.beginScope()
	p.consume(TokenLeftParen, "Expect '(' after 'for'.")
	switch {
	case p.match(TokenSemicolon):
		// no initializer
	case p.match(TokenVar):
		p.varDeclaration()
	default:
		p.expressionStatement()
	}

	loopStart := p.chunk().Len()
	p.beginLoop()

	exitJump := -1
	if !p.match(TokenSemicolon) {
		p.expression()
		p.consume(TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = p.emitJump(vm.OpJumpIfFalse)
		p.emitOp(vm.OpPop)
	}

	if !p.match(TokenRightParen) {
		bodyJump := p.emitJump(vm.OpJump)
		incrementStart := p.chunk().Len()
		p.expression()
		p.emitOp(vm.OpPop)
		p.consume(TokenRightParen, "Expect ')' after for clauses.")

		p.emitLoop(loopStart)
		loopStart = incrementStart
		p.patchJump(bodyJump)
	}

	p.statement()
	p.emitLoop(loopStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitOp(vm.OpPop)
	}
	p.endLoop()
	p.endScope()
}
