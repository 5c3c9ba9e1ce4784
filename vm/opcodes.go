package vm

import (
	"context"
	"fmt"

	"github.com/tinymachines/sovereign/parser"
)

// registerBuiltins installs the 32 built-in mnemonics: 8 stack, 8
// arithmetic/logic, 8 control, 8 memory/IO. FORK, JOIN, FOPEN, FREAD,
// FWRITE and FCLOSE are reserved: the registry carries them so UnknownOpcode
// is never raised for a name the language defines, but dispatch reports
// Unimplemented rather than guessing at semantics.
func registerBuiltins(r *Registry) {
	stackOps(r)
	arithmeticOps(r)
	controlOps(r)
	memoryOps(r)
}

func stackOps(r *Registry) {
	r.Register(OpDescriptor{Mnemonic: "PUSH", Category: CategoryStack, Arity: 1, Execute: execPush})
	r.Register(OpDescriptor{Mnemonic: "POP", Category: CategoryStack, Arity: -1, Execute: execPop})
	r.Register(OpDescriptor{Mnemonic: "DUP", Category: CategoryStack, Arity: 0, Execute: execDup})
	r.Register(OpDescriptor{Mnemonic: "SWAP", Category: CategoryStack, Arity: 0, Execute: execSwap})
	r.Register(OpDescriptor{Mnemonic: "ROT", Category: CategoryStack, Arity: 0, Execute: execRot})
	r.Register(OpDescriptor{Mnemonic: "OVER", Category: CategoryStack, Arity: 0, Execute: execOver})
	r.Register(OpDescriptor{Mnemonic: "DROP", Category: CategoryStack, Arity: 0, Execute: execDrop})
	r.Register(OpDescriptor{Mnemonic: "CLEAR", Category: CategoryStack, Arity: 0, Execute: execClear})
}

func arithmeticOps(r *Registry) {
	r.Register(OpDescriptor{Mnemonic: "ADD", Category: CategoryArithmetic, Arity: 0, Execute: binOp(func(l, rr int64) (int64, *VMError) {
		v, ok := checkedAdd(l, rr)
		if !ok {
			return 0, newVMError(ErrArithmeticOverflow, 0, "ADD overflow: %d + %d", l, rr)
		}
		return v, nil
	})})
	r.Register(OpDescriptor{Mnemonic: "SUB", Category: CategoryArithmetic, Arity: 0, Execute: binOp(func(l, rr int64) (int64, *VMError) {
		v, ok := checkedSub(l, rr)
		if !ok {
			return 0, newVMError(ErrArithmeticOverflow, 0, "SUB overflow: %d - %d", l, rr)
		}
		return v, nil
	})})
	r.Register(OpDescriptor{Mnemonic: "MUL", Category: CategoryArithmetic, Arity: 0, Execute: binOp(func(l, rr int64) (int64, *VMError) {
		v, ok := checkedMul(l, rr)
		if !ok {
			return 0, newVMError(ErrArithmeticOverflow, 0, "MUL overflow: %d * %d", l, rr)
		}
		return v, nil
	})})
	r.Register(OpDescriptor{Mnemonic: "DIV", Category: CategoryArithmetic, Arity: 0, Execute: binOp(func(l, rr int64) (int64, *VMError) {
		if rr == 0 {
			return 0, newVMError(ErrDivisionByZero, 0, "division by zero")
		}
		v, ok := checkedDiv(l, rr)
		if !ok {
			return 0, newVMError(ErrArithmeticOverflow, 0, "DIV overflow: %d / %d", l, rr)
		}
		return v, nil
	})})
	r.Register(OpDescriptor{Mnemonic: "AND", Category: CategoryArithmetic, Arity: 0, Execute: binOp(func(l, rr int64) (int64, *VMError) {
		return l & rr, nil
	})})
	r.Register(OpDescriptor{Mnemonic: "OR", Category: CategoryArithmetic, Arity: 0, Execute: binOp(func(l, rr int64) (int64, *VMError) {
		return l | rr, nil
	})})
	r.Register(OpDescriptor{Mnemonic: "XOR", Category: CategoryArithmetic, Arity: 0, Execute: binOp(func(l, rr int64) (int64, *VMError) {
		return l ^ rr, nil
	})})
	r.Register(OpDescriptor{Mnemonic: "NOT", Category: CategoryArithmetic, Arity: 0, Execute: execNot})
}

func controlOps(r *Registry) {
	r.Register(OpDescriptor{Mnemonic: "JMP", Category: CategoryControl, Arity: 1, Execute: execJmp})
	r.Register(OpDescriptor{Mnemonic: "JZ", Category: CategoryControl, Arity: 1, Execute: execJz})
	r.Register(OpDescriptor{Mnemonic: "JNZ", Category: CategoryControl, Arity: 1, Execute: execJnz})
	r.Register(OpDescriptor{Mnemonic: "CALL", Category: CategoryControl, Arity: 1, Execute: execCall})
	r.Register(OpDescriptor{Mnemonic: "RET", Category: CategoryControl, Arity: 0, Execute: execRet})
	r.Register(OpDescriptor{Mnemonic: "HALT", Category: CategoryControl, Arity: 0, Execute: execHalt})
	r.Register(OpDescriptor{Mnemonic: "FORK", Category: CategoryControl, Arity: -1, Unimplemented: true})
	r.Register(OpDescriptor{Mnemonic: "JOIN", Category: CategoryControl, Arity: -1, Unimplemented: true})
}

func memoryOps(r *Registry) {
	r.Register(OpDescriptor{Mnemonic: "LOAD", Category: CategoryMemory, Arity: 1, Execute: execLoad})
	r.Register(OpDescriptor{Mnemonic: "STORE", Category: CategoryMemory, Arity: 1, Execute: execStore})
	r.Register(OpDescriptor{Mnemonic: "FOPEN", Category: CategoryMemory, Arity: -1, Unimplemented: true})
	r.Register(OpDescriptor{Mnemonic: "FREAD", Category: CategoryMemory, Arity: -1, Unimplemented: true})
	r.Register(OpDescriptor{Mnemonic: "FWRITE", Category: CategoryMemory, Arity: -1, Unimplemented: true})
	r.Register(OpDescriptor{Mnemonic: "FCLOSE", Category: CategoryMemory, Arity: -1, Unimplemented: true})
	r.Register(OpDescriptor{Mnemonic: "LLMGEN", Category: CategoryMemory, Arity: 1, Execute: execLLMGen})
	r.Register(OpDescriptor{Mnemonic: "EVOLVE", Category: CategoryMemory, Arity: -1, Execute: execEvolve})
}

// --- stack ---

func execPush(m *VM, operands []parser.Operand) error {
	v, err := m.resolveOperand(operands[0])
	if err != nil {
		return err
	}
	return m.pushData(v)
}

func execPop(m *VM, operands []parser.Operand) error {
	v, err := m.popData()
	if err != nil {
		return err
	}
	if len(operands) == 1 && operands[0].Kind == parser.OperandRegister {
		m.Registers[operands[0].Register] = v
	}
	return nil
}

func execDup(m *VM, _ []parser.Operand) error {
	v, err := m.peekData(0)
	if err != nil {
		return err
	}
	return m.pushData(v)
}

func execSwap(m *VM, _ []parser.Operand) error {
	n := len(m.dataStack)
	if n < 2 {
		return newVMError(ErrStackUnderflow, m.pc, "SWAP requires 2 values, have %d", n)
	}
	m.dataStack[n-1], m.dataStack[n-2] = m.dataStack[n-2], m.dataStack[n-1]
	return nil
}

func execOver(m *VM, _ []parser.Operand) error {
	v, err := m.peekData(1)
	if err != nil {
		return err
	}
	return m.pushData(v)
}

func execDrop(m *VM, _ []parser.Operand) error {
	_, err := m.popData()
	return err
}

func execClear(m *VM, _ []parser.Operand) error {
	m.dataStack = m.dataStack[:0]
	return nil
}

func execRot(m *VM, _ []parser.Operand) error {
	sz := len(m.dataStack)
	if sz < 3 {
		return newVMError(ErrStackUnderflow, m.pc, "ROT requires 3 values, have %d", sz)
	}
	m.dataStack[sz-3], m.dataStack[sz-2], m.dataStack[sz-1] =
		m.dataStack[sz-2], m.dataStack[sz-1], m.dataStack[sz-3]
	return nil
}

// --- arithmetic ---

// binOp wraps a checked int64 binary operator into an Executor that pops
// two operands off the data stack (left = deeper, right = top) and pushes
// the result.
func binOp(f func(left, right int64) (int64, *VMError)) Executor {
	return func(m *VM, _ []parser.Operand) error {
		right, err := m.popData()
		if err != nil {
			return err
		}
		left, err := m.popData()
		if err != nil {
			return err
		}
		li, ok := left.AsInt()
		if !ok {
			return newVMError(ErrOperandMismatch, m.pc, "expected integer operand, got %s", left.Kind)
		}
		ri, ok := right.AsInt()
		if !ok {
			return newVMError(ErrOperandMismatch, m.pc, "expected integer operand, got %s", right.Kind)
		}
		result, verr := f(li, ri)
		if verr != nil {
			verr.PC = m.pc
			return verr
		}
		return m.pushData(IntValue(result))
	}
}

func execNot(m *VM, _ []parser.Operand) error {
	v, err := m.popData()
	if err != nil {
		return err
	}
	i, ok := v.AsInt()
	if !ok {
		return newVMError(ErrOperandMismatch, m.pc, "NOT expects an integer operand, got %s", v.Kind)
	}
	zero := int64(0)
	if i == 0 {
		zero = 1
	}
	return m.pushData(IntValue(zero))
}

// --- control ---

func execJmp(m *VM, operands []parser.Operand) error {
	idx, err := m.resolveLabel(operands[0])
	if err != nil {
		return err
	}
	m.pc = idx
	m.jumped = true
	return nil
}

func execJz(m *VM, operands []parser.Operand) error {
	v, err := m.popData()
	if err != nil {
		return err
	}
	i, ok := v.AsInt()
	if !ok {
		return newVMError(ErrOperandMismatch, m.pc, "JZ expects an integer operand, got %s", v.Kind)
	}
	if i != 0 {
		return nil
	}
	idx, err := m.resolveLabel(operands[0])
	if err != nil {
		return err
	}
	m.pc = idx
	m.jumped = true
	return nil
}

func execJnz(m *VM, operands []parser.Operand) error {
	v, err := m.popData()
	if err != nil {
		return err
	}
	i, ok := v.AsInt()
	if !ok {
		return newVMError(ErrOperandMismatch, m.pc, "JNZ expects an integer operand, got %s", v.Kind)
	}
	if i == 0 {
		return nil
	}
	idx, err := m.resolveLabel(operands[0])
	if err != nil {
		return err
	}
	m.pc = idx
	m.jumped = true
	return nil
}

func execCall(m *VM, operands []parser.Operand) error {
	idx, err := m.resolveLabel(operands[0])
	if err != nil {
		return err
	}
	if len(m.controlStack) >= m.config.MaxControlStackDepth {
		return newVMError(ErrCallDepthExceeded, m.pc, "call depth exceeded (%d)", m.config.MaxControlStackDepth)
	}
	m.controlStack = append(m.controlStack, m.pc+1)
	m.pc = idx
	m.jumped = true
	return nil
}

func execRet(m *VM, _ []parser.Operand) error {
	n := len(m.controlStack)
	if n == 0 {
		return newVMError(ErrStackUnderflow, m.pc, "RET with empty control stack")
	}
	ret := m.controlStack[n-1]
	m.controlStack = m.controlStack[:n-1]
	m.pc = ret
	m.jumped = true
	return nil
}

func execHalt(m *VM, _ []parser.Operand) error {
	m.running = false
	return nil
}

// --- memory/IO ---

func execLoad(m *VM, operands []parser.Operand) error {
	if operands[0].Kind != parser.OperandAddress {
		return newVMError(ErrOperandMismatch, m.pc, "LOAD requires an address operand")
	}
	v, ok := m.memory[operands[0].Address]
	if !ok {
		return newVMError(ErrInvalidAddress, m.pc, "address %q has no stored value", operands[0].Address)
	}
	return m.pushData(v)
}

func execStore(m *VM, operands []parser.Operand) error {
	if operands[0].Kind != parser.OperandAddress {
		return newVMError(ErrOperandMismatch, m.pc, "STORE requires an address operand")
	}
	if len(m.memory) >= m.config.MaxMemoryCells {
		if _, exists := m.memory[operands[0].Address]; !exists {
			return newVMError(ErrMemoryLimitExceeded, m.pc, "memory limit exceeded (%d cells)", m.config.MaxMemoryCells)
		}
	}
	v, err := m.popData()
	if err != nil {
		return err
	}
	m.memory[operands[0].Address] = v
	return nil
}

func execLLMGen(m *VM, operands []parser.Operand) error {
	if operands[0].Kind != parser.OperandString {
		return newVMError(ErrOperandMismatch, m.pc, "LLMGEN requires a string prompt operand")
	}
	if m.adapter == nil {
		return newVMError(ErrLLMUnavailable, m.pc, "LLMGEN requires an LLM adapter, none configured")
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.config.LLMRequestTimeout)
	defer cancel()

	code, err := m.adapter.GenerateCode(ctx, operands[0].Str, m.config.LLMRequestTimeout)
	if err != nil {
		return newVMError(adapterErrorKind(err, ErrLLMUnavailable), m.pc, "LLMGEN failed: %v", err)
	}
	return m.pushData(StringValue(code))
}

// execEvolve pops the erroneous code string and the failure description off
// the data stack (code on top, description beneath it) and requests a
// validated replacement from the adapter. A single optional operand
// supplies extra immediate context folded into the failure description.
func execEvolve(m *VM, operands []parser.Operand) error {
	if len(operands) > 1 {
		return newVMError(ErrOperandMismatch, m.pc, "EVOLVE takes at most one immediate context operand")
	}
	var immediateContext string
	if len(operands) == 1 {
		if operands[0].Kind != parser.OperandString {
			return newVMError(ErrOperandMismatch, m.pc, "EVOLVE context operand must be a string")
		}
		immediateContext = operands[0].Str
	}

	codeVal, err := m.popData()
	if err != nil {
		return err
	}
	code, ok := codeVal.AsString()
	if !ok {
		return newVMError(ErrOperandMismatch, m.pc, "EVOLVE expects a code string on top of the data stack")
	}

	descVal, err := m.popData()
	if err != nil {
		return err
	}
	errText, ok := descVal.AsString()
	if !ok {
		return newVMError(ErrOperandMismatch, m.pc, "EVOLVE expects a failure description beneath the code string")
	}
	if immediateContext != "" {
		errText = fmt.Sprintf("%s (%s)", errText, immediateContext)
	}

	if m.adapter == nil {
		return newVMError(ErrLLMUnavailable, m.pc, "EVOLVE requires a configured adapter")
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.config.LLMRequestTimeout)
	defer cancel()

	fixed, err := m.adapter.Evolve(ctx, code, errText, m.config.LLMRequestTimeout)
	if err != nil {
		return newVMError(adapterErrorKind(err, ErrEvolutionFailed), m.pc, "EVOLVE failed: %v", err)
	}
	return m.pushData(StringValue(fixed))
}
