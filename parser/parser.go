package parser

import (
	"strconv"
)

// Parser builds a Program from a token stream in a single left-to-right
// pass: labels are bound to the index of the instruction that follows them
// as they are encountered, so forward references (a label used before its
// declaration) are legal - the label map is only consulted for resolution
// after the whole program has been scanned.
type Parser struct {
	lexer        *Lexer
	tokens       []Token
	pos          int
	currentToken Token
	peekToken    Token
}

// NewParser creates a parser over the given source.
func NewParser(input string) *Parser {
	lexer := NewLexer(input)
	p := &Parser{lexer: lexer, tokens: lexer.TokenizeAll()}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.currentToken = p.peekToken
	if p.pos < len(p.tokens) {
		p.peekToken = p.tokens[p.pos]
		p.pos++
	} else {
		p.peekToken = Token{Type: TokenEOF, Pos: p.currentToken.Pos}
	}
}

func (p *Parser) skipNewlines() {
	for p.currentToken.Type == TokenNewline {
		p.nextToken()
	}
}

// Parse parses the whole program: a first left-to-right scan collects
// instructions and binds labels as they appear, then a resolution pass
// checks that every label-reference operand resolves against the
// now-complete label map. Unresolved references are a parse-time
// failure, not a runtime one.
func Parse(source string) (*Program, error) {
	p := NewParser(source)
	return p.Parse()
}

// Validate reports whether source would parse successfully.
func Validate(source string) bool {
	_, err := Parse(source)
	return err == nil
}

// Parse runs the parser to completion.
func (p *Parser) Parse() (*Program, error) {
	program := &Program{
		instructions: make([]Instruction, 0),
		labels:       make(map[string]int),
	}

	if err := p.scan(program); err != nil {
		return nil, err
	}
	if err := p.resolveLabelRefs(program); err != nil {
		return nil, err
	}
	return program, nil
}

func (p *Parser) scan(program *Program) error {
	for {
		p.skipNewlines()
		if p.currentToken.Type == TokenEOF {
			return nil
		}

		if err := p.scanLabels(program); err != nil {
			return err
		}
		p.skipNewlines()
		if p.currentToken.Type == TokenEOF {
			return nil
		}

		inst, err := p.parseInstruction()
		if err != nil {
			return err
		}
		program.instructions = append(program.instructions, *inst)

		if p.currentToken.Type != TokenNewline && p.currentToken.Type != TokenEOF {
			return newParseError(p.currentToken.Pos, "expected end of statement, got %s %q", p.currentToken.Type, p.currentToken.Literal)
		}
	}
}

// scanLabels consumes zero or more consecutive label declarations, binding
// each to the instruction index that will be assigned next.
func (p *Parser) scanLabels(program *Program) error {
	for p.currentToken.Type == TokenIdent && p.currentToken.HasColon {
		name := p.currentToken.Literal
		if !isValidLabelName(name) {
			return newParseError(p.currentToken.Pos, "invalid label name %q: must match [a-z_][a-z0-9_]*", name)
		}
		if _, exists := program.labels[name]; exists {
			return newParseError(p.currentToken.Pos, "duplicate label %q", name)
		}
		program.labels[name] = len(program.instructions)
		p.nextToken()
		p.skipNewlines()
	}
	return nil
}

func isValidLabelName(name string) bool {
	if name == "" {
		return false
	}
	first := name[0]
	if !(first == '_' || (first >= 'a' && first <= 'z')) {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

// parseInstruction parses one mnemonic followed by zero or more operands.
func (p *Parser) parseInstruction() (*Instruction, error) {
	if p.currentToken.Type == TokenIllegal {
		return nil, newParseError(p.currentToken.Pos, "%s", p.currentToken.Literal)
	}
	if p.currentToken.Type != TokenIdent {
		return nil, newParseError(p.currentToken.Pos, "expected opcode, got %s %q", p.currentToken.Type, p.currentToken.Literal)
	}
	if p.currentToken.HasColon {
		return nil, newParseError(p.currentToken.Pos, "unexpected label %q", p.currentToken.Literal)
	}
	if !isAllLetters(p.currentToken.Literal) {
		return nil, newParseError(p.currentToken.Pos, "invalid opcode %q: must be one or more ASCII letters", p.currentToken.Literal)
	}

	inst := &Instruction{Mnemonic: upperASCII(p.currentToken.Literal)}
	p.nextToken()

	for p.currentToken.Type != TokenNewline && p.currentToken.Type != TokenEOF {
		op, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		inst.Operands = append(inst.Operands, op)
	}

	return inst, nil
}

func (p *Parser) parseOperand() (Operand, error) {
	tok := p.currentToken
	switch tok.Type {
	case TokenRegister:
		p.nextToken()
		n, err := strconv.ParseUint(tok.Literal[1:], 10, 8)
		if err != nil {
			return Operand{}, newParseError(tok.Pos, "invalid register %q: %v", tok.Literal, err)
		}
		return Operand{Kind: OperandRegister, Register: uint8(n)}, nil

	case TokenImmediate:
		p.nextToken()
		n, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			return Operand{}, newParseError(tok.Pos, "invalid immediate %q: %v", tok.Literal, err)
		}
		return Operand{Kind: OperandImmediate, Imm: n}, nil

	case TokenAddress:
		p.nextToken()
		return Operand{Kind: OperandAddress, Address: tok.Literal}, nil

	case TokenString:
		p.nextToken()
		return Operand{Kind: OperandString, Str: tok.Literal}, nil

	case TokenIdent:
		if tok.HasColon {
			return Operand{}, newParseError(tok.Pos, "unexpected label %q in operand position", tok.Literal)
		}
		p.nextToken()
		return Operand{Kind: OperandLabel, Label: tok.Literal}, nil

	case TokenIllegal:
		return Operand{}, newParseError(tok.Pos, "%s", tok.Literal)

	default:
		return Operand{}, newParseError(tok.Pos, "expected operand, got %s %q", tok.Type, tok.Literal)
	}
}

// resolveLabelRefs verifies every OperandLabel operand resolves against the
// program's now-complete label map.
func (p *Parser) resolveLabelRefs(program *Program) error {
	for _, inst := range program.instructions {
		for _, op := range inst.Operands {
			if op.Kind == OperandLabel {
				if _, ok := program.labels[op.Label]; !ok {
					return newParseError(Position{}, "undefined label %q referenced by %s", op.Label, inst.Mnemonic)
				}
			}
		}
	}
	return nil
}

func isAllLetters(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}

func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
