package regalloc

import (
	"fmt"

	"github.com/colorfulnotion/softjit/x86"
	"github.com/xlab/treeprint"
)

// ToTree renders the three register files, one branch per class.
func (a *Allocator) ToTree() treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue("registers")
	for _, f := range a.files {
		branch := tree.AddBranch(fmt.Sprintf("%s (%d/%d)", f.class, f.occupied(), len(f.slots)))
		for _, s := range f.slots {
			if s.free() {
				branch.AddNode(fmt.Sprintf("%-5s free", s.reg))
				continue
			}
			branch.AddMetaNode(s.priority, fmt.Sprintf("%-5s %s", s.reg, s.occupant))
		}
	}
	return tree
}

// Tree is the printable form of ToTree.
func (a *Allocator) Tree() string {
	return a.ToTree().String()
}

// State is a snapshot of one bound register.
type State struct {
	Reg      x86.Reg
	Occupant Ref
	Priority uint32
}

// States returns every bound register, general purpose first, in declaration
// order.
func (a *Allocator) States() []State {
	var out []State
	for _, f := range a.files {
		for _, s := range f.slots {
			if !s.free() {
				out = append(out, State{Reg: s.reg, Occupant: s.occupant, Priority: s.priority})
			}
		}
	}
	return out
}
