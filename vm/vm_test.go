package vm

import (
	"context"
	"math"
	"testing"

	"github.com/tinymachines/sovereign/parser"
)

func mustParse(t *testing.T, src string) *parser.Program {
	t.Helper()
	p, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse(%q): %v", src, err)
	}
	return p
}

func runToCompletion(t *testing.T, src string, cfg Config) *VM {
	t.Helper()
	prog := mustParse(t, src)
	m := New(prog, src, cfg, NewRegistry(), nil)
	_ = m.Run(context.Background())
	return m
}

// S1: arithmetic sanity.
func TestScenarioArithmeticSanity(t *testing.T) {
	m := runToCompletion(t, "PUSH #10\nPUSH #32\nADD\nHALT\n", DefaultConfig())
	if m.LastError() != nil {
		t.Fatalf("unexpected error: %v", m.LastError())
	}
	v, err := m.peekData(0)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if got, _ := v.AsInt(); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

// S2: division by zero.
func TestScenarioDivisionByZero(t *testing.T) {
	m := runToCompletion(t, "PUSH #1\nPUSH #0\nDIV\nHALT\n", DefaultConfig())
	if !IsKind(m.LastError(), ErrDivisionByZero) {
		t.Fatalf("expected DivisionByZero, got %v", m.LastError())
	}
}

// S3: call/return discipline.
func TestScenarioCallReturn(t *testing.T) {
	src := "CALL f\nHALT\nf:\nPUSH #7\nRET\n"
	m := runToCompletion(t, src, DefaultConfig())
	if m.LastError() != nil {
		t.Fatalf("unexpected error: %v", m.LastError())
	}
	v, err := m.peekData(0)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if got, _ := v.AsInt(); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func TestScenarioReturnWithEmptyControlStack(t *testing.T) {
	m := runToCompletion(t, "RET\n", DefaultConfig())
	if !IsKind(m.LastError(), ErrStackUnderflow) {
		t.Fatalf("expected StackUnderflow, got %v", m.LastError())
	}
}

// S4: step-limit enforcement.
func TestScenarioStepLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSteps = 3
	src := "loop:\nPUSH #1\nDROP\nJMP loop\n"
	m := runToCompletion(t, src, cfg)
	if !IsKind(m.LastError(), ErrStepLimitExceeded) {
		t.Fatalf("expected StepLimitExceeded, got %v", m.LastError())
	}
}

// S5: memory round-trip.
func TestScenarioMemoryRoundTrip(t *testing.T) {
	m := runToCompletion(t, "PUSH #99\nSTORE @x\nLOAD @x\nHALT\n", DefaultConfig())
	if m.LastError() != nil {
		t.Fatalf("unexpected error: %v", m.LastError())
	}
	v, err := m.peekData(0)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if got, _ := v.AsInt(); got != 99 {
		t.Fatalf("got %d, want 99", got)
	}
}

func TestArithmeticOperandOrderIsLeftDeeperRightTop(t *testing.T) {
	m := runToCompletion(t, "PUSH #10\nPUSH #3\nSUB\nHALT\n", DefaultConfig())
	v, err := m.peekData(0)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if got, _ := v.AsInt(); got != 7 {
		t.Fatalf("got %d, want 7 (10 - 3, left deeper minus right top)", got)
	}
}

func TestArithmeticOverflowIsTyped(t *testing.T) {
	src := "PUSH #9223372036854775807\nPUSH #1\nADD\nHALT\n"
	m := runToCompletion(t, src, DefaultConfig())
	if !IsKind(m.LastError(), ErrArithmeticOverflow) {
		t.Fatalf("expected ArithmeticOverflow, got %v", m.LastError())
	}
	_ = math.MaxInt64
}

func TestDataStackUnderflow(t *testing.T) {
	m := runToCompletion(t, "ADD\n", DefaultConfig())
	if !IsKind(m.LastError(), ErrStackUnderflow) {
		t.Fatalf("expected StackUnderflow, got %v", m.LastError())
	}
}

func TestDataStackOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDataStackDepth = 2
	m := runToCompletion(t, "PUSH #1\nPUSH #2\nPUSH #3\nHALT\n", cfg)
	if !IsKind(m.LastError(), ErrStackOverflow) {
		t.Fatalf("expected StackOverflow, got %v", m.LastError())
	}
}

func TestCallDepthExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxControlStackDepth = 2
	src := "f:\nCALL f\nRET\n"
	prog := mustParse(t, src)
	// manually invoke f by jumping in: the program above calls itself
	// recursively via label f at index 0.
	m := New(prog, src, cfg, NewRegistry(), nil)
	_ = m.Run(context.Background())
	if !IsKind(m.LastError(), ErrCallDepthExceeded) {
		t.Fatalf("expected CallDepthExceeded, got %v", m.LastError())
	}
}

func TestRegistryLookupUnregisteredMnemonic(t *testing.T) {
	// BOGUS is a valid opcode shape for the parser but is not a registered
	// mnemonic; Lookup simply reports not-found.
	r := NewRegistry()
	if _, ok := r.Lookup("BOGUS"); ok {
		t.Fatal("expected BOGUS to be absent from the registry")
	}
}

func TestReservedOpcodesAreUnimplemented(t *testing.T) {
	for _, mnemonic := range []string{"FORK", "JOIN", "FOPEN", "FREAD", "FWRITE", "FCLOSE"} {
		m := runToCompletion(t, mnemonic+"\n", DefaultConfig())
		if !IsKind(m.LastError(), ErrUnimplemented) {
			t.Fatalf("%s: expected Unimplemented, got %v", mnemonic, m.LastError())
		}
	}
}

func TestOperandMismatch(t *testing.T) {
	m := runToCompletion(t, "PUSH\n", DefaultConfig())
	if !IsKind(m.LastError(), ErrOperandMismatch) {
		t.Fatalf("expected OperandMismatch, got %v", m.LastError())
	}
}

func TestUndefinedAddressRead(t *testing.T) {
	m := runToCompletion(t, "LOAD @never_stored\nHALT\n", DefaultConfig())
	if !IsKind(m.LastError(), ErrInvalidAddress) {
		t.Fatalf("expected InvalidAddress, got %v", m.LastError())
	}
}

func TestCancelledContextStopsExecution(t *testing.T) {
	prog := mustParse(t, "loop:\nJMP loop\n")
	m := New(prog, "loop:\nJMP loop\n", DefaultConfig(), NewRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Run(ctx)
	if !IsKind(err, ErrCancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}

func TestOnStateChangeObservesEveryStep(t *testing.T) {
	prog := mustParse(t, "PUSH #1\nPUSH #2\nADD\nHALT\n")
	m := New(prog, "", DefaultConfig(), NewRegistry(), nil)
	var count int
	m.SetOnStateChange(func(StateSnapshot) { count++ })
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 state-change notifications, got %d", count)
	}
}

func TestDumpStateIsIndependentOfLiveVM(t *testing.T) {
	prog := mustParse(t, "PUSH #1\nPUSH #2\nHALT\n")
	m := New(prog, "", DefaultConfig(), NewRegistry(), nil)
	_ = m.Step(context.Background())
	snap := m.DumpState()
	_ = m.Step(context.Background())
	if len(snap.DataStack) != 1 {
		t.Fatalf("snapshot should not observe later steps, got stack %v", snap.DataStack)
	}
}
