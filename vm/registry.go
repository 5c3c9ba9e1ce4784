package vm

import (
	"sort"

	"github.com/tinymachines/sovereign/parser"
)

// Category groups a mnemonic into one of the four families: stack,
// arithmetic/logic, control, or memory/IO.
type Category int

const (
	CategoryStack Category = iota
	CategoryArithmetic
	CategoryControl
	CategoryMemory
)

// Executor performs one opcode's effect on a running VM. It returns a
// *VMError (via newVMError) on any typed failure; a nil return advances
// execution normally unless the executor has already repositioned pc
// itself (jumps, calls, returns).
type Executor func(m *VM, operands []parser.Operand) error

// OpDescriptor is one entry in the opcode registry: everything dispatch
// needs to validate and execute a mnemonic without a hardcoded switch.
type OpDescriptor struct {
	Mnemonic    string
	Category    Category
	Arity       int // expected operand count, -1 if variable
	Execute     Executor
	Unimplemented bool // reserved mnemonic; dispatch reports ErrUnimplemented
}

// Registry is a runtime-extensible table of opcode descriptors. The zero
// value is not usable; construct with NewRegistry.
type Registry struct {
	ops map[string]OpDescriptor
}

// NewRegistry builds a registry preloaded with the 32 built-in mnemonics.
func NewRegistry() *Registry {
	r := &Registry{ops: make(map[string]OpDescriptor)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a descriptor. Mnemonics are matched exactly as
// stored; callers are expected to pass the canonical uppercase form, same
// as the parser produces.
func (r *Registry) Register(desc OpDescriptor) {
	r.ops[desc.Mnemonic] = desc
}

// Lookup resolves a mnemonic to its descriptor.
func (r *Registry) Lookup(mnemonic string) (OpDescriptor, bool) {
	d, ok := r.ops[mnemonic]
	return d, ok
}

// List returns every descriptor in category, sorted by mnemonic for a
// deterministic order (map iteration order is not).
func (r *Registry) List(category Category) []OpDescriptor {
	var out []OpDescriptor
	for _, d := range r.ops {
		if d.Category == category {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mnemonic < out[j].Mnemonic })
	return out
}
