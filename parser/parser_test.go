package parser

import "testing"

func TestParseEmptyProgram(t *testing.T) {
	p, err := Parse("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Len() != 0 {
		t.Fatalf("expected empty program, got %d instructions", p.Len())
	}
}

func TestParseArithmeticSanity(t *testing.T) {
	src := "PUSH #10\nPUSH #32\nADD\nHALT\n"
	p, err := Parse(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Len() != 4 {
		t.Fatalf("expected 4 instructions, got %d", p.Len())
	}
	if p.Instruction(0).Mnemonic != "PUSH" {
		t.Fatalf("expected PUSH, got %s", p.Instruction(0).Mnemonic)
	}
	if p.Instruction(0).Operands[0].Kind != OperandImmediate || p.Instruction(0).Operands[0].Imm != 10 {
		t.Fatalf("unexpected operand: %+v", p.Instruction(0).Operands[0])
	}
}

func TestParseCaseInsensitiveOpcode(t *testing.T) {
	p, err := Parse("push #1\nhalt\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Instruction(0).Mnemonic != "PUSH" || p.Instruction(1).Mnemonic != "HALT" {
		t.Fatalf("expected canonicalized mnemonics, got %+v", p.Instructions())
	}
}

func TestParseLabelsForwardAndBackward(t *testing.T) {
	src := "CALL f\nHALT\nf:\nPUSH #7\nRET\n"
	p, err := Parse(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx, ok := p.LabelIndex("f")
	if !ok || idx != 2 {
		t.Fatalf("expected label f at index 2, got %d (ok=%v)", idx, ok)
	}
}

func TestParseDuplicateLabel(t *testing.T) {
	_, err := Parse("a:\nHALT\na:\nHALT\n")
	if err == nil {
		t.Fatal("expected duplicate label error")
	}
}

func TestParseUndefinedLabel(t *testing.T) {
	_, err := Parse("JMP nowhere\n")
	if err == nil {
		t.Fatal("expected undefined label error")
	}
}

func TestParseInvalidLabelName(t *testing.T) {
	_, err := Parse("Loop:\nHALT\n")
	if err == nil {
		t.Fatal("expected error for uppercase label name")
	}
}

func TestParseAddressPreservesTextualKey(t *testing.T) {
	p, err := Parse("STORE @0\nSTORE @00\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := p.Instruction(0).Operands[0]
	b := p.Instruction(1).Operands[0]
	if a.Address == b.Address {
		t.Fatalf("expected distinct textual address keys, got %q and %q", a.Address, b.Address)
	}
}

func TestValidate(t *testing.T) {
	if !Validate("PUSH #1\nHALT\n") {
		t.Fatal("expected valid program to validate")
	}
	if Validate("PUSH #\n") {
		t.Fatal("expected invalid program to fail validation")
	}
}

func TestProgramRoundTrip(t *testing.T) {
	sources := []string{
		"PUSH #10\nPUSH #32\nADD\nHALT\n",
		"CALL f\nHALT\nf:\nPUSH #7\nRET\n",
		"loop:\nPUSH #1\nPOP\nJMP loop\n",
		"PUSH #99\nSTORE @x\nLOAD @x\nHALT\n",
		`LLMGEN "fix the bug"` + "\nHALT\n",
	}
	for _, src := range sources {
		p1, err := Parse(src)
		if err != nil {
			t.Fatalf("parse(%q): %v", src, err)
		}
		printed := p1.String()
		p2, err := Parse(printed)
		if err != nil {
			t.Fatalf("parse(canonicalize(parse(%q))): %v\nprinted:\n%s", src, err, printed)
		}
		if !p1.Equal(p2) {
			t.Fatalf("round trip mismatch for %q:\nfirst:  %+v\nsecond: %+v", src, p1.Instructions(), p2.Instructions())
		}
	}
}

func TestParseStringEscapes(t *testing.T) {
	p, err := Parse(`LLMGEN "line\nbreak \"quote\" \\backslash"` + "\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := p.Instruction(0).Operands[0].Str
	want := "line\nbreak \"quote\" \\backslash"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
