package vm

import (
	"context"
	"time"

	"github.com/tinymachines/sovereign/parser"
)

// LLMAdapter is the narrow seam the VM calls through for LLMGEN and EVOLVE.
// It is satisfied by evolution.Evolution; the VM never imports the
// evolution package directly, which keeps the dependency one-directional
// (evolution depends on vm, not the reverse). timeout bounds the single
// call and is always Config.LLMRequestTimeout, applied by the opcode
// dispatcher via context.WithTimeout before the call.
type LLMAdapter interface {
	GenerateCode(ctx context.Context, prompt string, timeout time.Duration) (string, error)
	Evolve(ctx context.Context, code, errText string, timeout time.Duration) (string, error)
}

// OnStateChange is invoked after every instruction whose executor ran,
// including one whose executor failed, with a fresh, independent snapshot.
// Failures detected before an executor runs (cancellation, step limit,
// unknown or reserved opcode, operand count) and the natural end of the
// program do not invoke it. It lets a presentation layer observe execution
// without the VM depending on one; a nil hook is a no-op.
type OnStateChange func(StateSnapshot)

// VM executes a parsed Program against a dual-stack machine: a data stack
// for values and a control stack for CALL/RET return addresses, each
// bounded independently by Config.
type VM struct {
	program  *parser.Program
	registry *Registry
	config   Config
	source   string // original source text; kept for a presentation layer to display alongside state, the VM itself no longer reads it
	adapter  LLMAdapter
	ctx      context.Context

	dataStack    []Value
	controlStack []int
	memory       map[string]Value
	Registers    [16]Value

	pc      int
	running bool
	jumped  bool
	steps   int
	lastErr error

	onChange OnStateChange
}

// New builds a VM ready to run program under cfg. registry supplies opcode
// dispatch; pass NewRegistry() for the built-in instruction set. adapter
// may be nil, in which case LLMGEN and EVOLVE report ErrLLMUnavailable.
func New(program *parser.Program, source string, cfg Config, registry *Registry, adapter LLMAdapter) *VM {
	return &VM{
		program:  program,
		registry: registry,
		config:   cfg,
		source:   source,
		adapter:  adapter,
		memory:   make(map[string]Value),
		running:  true,
	}
}

// SetOnStateChange installs a state-change observer.
func (m *VM) SetOnStateChange(fn OnStateChange) { m.onChange = fn }

// Reset returns the VM to an equivalent-to-new state: stacks, memory,
// registers, program counter, step count, and last error are all cleared,
// and the VM is marked running again. The loaded program, registry,
// config, source, and adapter are left untouched.
func (m *VM) Reset() {
	m.dataStack = nil
	m.controlStack = nil
	m.memory = make(map[string]Value)
	m.Registers = [16]Value{}
	m.pc = 0
	m.running = true
	m.jumped = false
	m.steps = 0
	m.lastErr = nil
}

// Running reports whether the VM has not yet halted, errored, or run out
// of instructions.
func (m *VM) Running() bool { return m.running }

// LastError returns the error that stopped execution, if any.
func (m *VM) LastError() error { return m.lastErr }

// DumpState returns an independent snapshot of the current machine state.
func (m *VM) DumpState() StateSnapshot { return m.snapshot() }

// Step executes exactly one instruction. It returns nil after a normal
// step, nil with Running() == false after HALT or natural end-of-program,
// and a *VMError for every typed failure.
func (m *VM) Step(ctx context.Context) error {
	if !m.running {
		return nil
	}

	select {
	case <-ctx.Done():
		m.running = false
		m.lastErr = newVMError(ErrCancelled, m.pc, "context cancelled: %v", ctx.Err())
		return m.lastErr
	default:
	}

	if m.config.MaxSteps > 0 && m.steps >= m.config.MaxSteps {
		m.running = false
		m.lastErr = newVMError(ErrStepLimitExceeded, m.pc, "step limit exceeded (%d)", m.config.MaxSteps)
		return m.lastErr
	}

	if m.pc >= m.program.Len() {
		m.running = false
		return nil
	}

	inst := m.program.Instruction(m.pc)
	desc, ok := m.registry.Lookup(inst.Mnemonic)
	if !ok {
		m.running = false
		m.lastErr = newVMError(ErrUnknownOpcode, m.pc, "unknown opcode %q", inst.Mnemonic)
		return m.lastErr
	}
	if desc.Unimplemented {
		m.running = false
		m.lastErr = newVMError(ErrUnimplemented, m.pc, "opcode %q is reserved and not implemented", inst.Mnemonic)
		return m.lastErr
	}
	if desc.Arity >= 0 && len(inst.Operands) != desc.Arity {
		m.running = false
		m.lastErr = newVMError(ErrOperandMismatch, m.pc, "%s expects %d operand(s), got %d", inst.Mnemonic, desc.Arity, len(inst.Operands))
		return m.lastErr
	}

	m.ctx = ctx
	m.jumped = false
	if err := desc.Execute(m, inst.Operands); err != nil {
		m.running = false
		m.lastErr = err
		m.notify()
		return err
	}

	m.steps++
	if !m.jumped {
		m.pc++
	}
	m.notify()
	return nil
}

func (m *VM) notify() {
	if m.onChange != nil {
		m.onChange(m.snapshot())
	}
}

// Run steps the VM until it stops running or returns an error.
func (m *VM) Run(ctx context.Context) error {
	for m.running {
		if err := m.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *VM) pushData(v Value) error {
	if len(m.dataStack) >= m.config.MaxDataStackDepth {
		return newVMError(ErrStackOverflow, m.pc, "data stack overflow (limit %d)", m.config.MaxDataStackDepth)
	}
	m.dataStack = append(m.dataStack, v)
	return nil
}

func (m *VM) popData() (Value, error) {
	n := len(m.dataStack)
	if n == 0 {
		return Value{}, newVMError(ErrStackUnderflow, m.pc, "data stack underflow")
	}
	v := m.dataStack[n-1]
	m.dataStack = m.dataStack[:n-1]
	return v, nil
}

func (m *VM) peekData(depth int) (Value, error) {
	n := len(m.dataStack)
	if depth < 0 || depth >= n {
		return Value{}, newVMError(ErrStackUnderflow, m.pc, "data stack has %d values, cannot peek depth %d", n, depth)
	}
	return m.dataStack[n-1-depth], nil
}

func (m *VM) resolveOperand(op parser.Operand) (Value, error) {
	switch op.Kind {
	case parser.OperandRegister:
		return m.Registers[op.Register], nil
	case parser.OperandImmediate:
		return IntValue(op.Imm), nil
	case parser.OperandAddress:
		return AddressValue(op.Address), nil
	case parser.OperandString:
		return StringValue(op.Str), nil
	default:
		return Value{}, newVMError(ErrOperandMismatch, m.pc, "operand kind %s cannot be pushed", op.Kind)
	}
}

func (m *VM) resolveLabel(op parser.Operand) (int, error) {
	if op.Kind != parser.OperandLabel {
		return 0, newVMError(ErrOperandMismatch, m.pc, "expected a label operand, got %s", op.Kind)
	}
	idx, ok := m.program.LabelIndex(op.Label)
	if !ok {
		return 0, newVMError(ErrUndefinedLabel, m.pc, "undefined label %q", op.Label)
	}
	return idx, nil
}
