package source

import (
	"fmt"

	"golang.org/x/net/bpf"
)

const etherTypeOffset = 12

// EtherTypeFilter assembles a classic BPF program accepting Ethernet frames
// whose EtherType is one of types. An empty list accepts everything.
func EtherTypeFilter(snapLen uint32, types ...uint16) ([]bpf.RawInstruction, error) {
	if snapLen == 0 {
		snapLen = DefaultBufferSize
	}
	if len(types) == 0 {
		return bpf.Assemble([]bpf.Instruction{bpf.RetConstant{Val: snapLen}})
	}
	if len(types) > 255 {
		return nil, fmt.Errorf("too many ether types: %d", len(types))
	}
	prog := []bpf.Instruction{bpf.LoadAbsolute{Off: etherTypeOffset, Size: 2}}
	for i, t := range types {
		// Match jumps over the remaining comparisons and the reject.
		prog = append(prog, bpf.JumpIf{
			Cond:     bpf.JumpEqual,
			Val:      uint32(t),
			SkipTrue: uint8(len(types) - i),
		})
	}
	prog = append(prog, bpf.RetConstant{Val: 0}, bpf.RetConstant{Val: snapLen})
	return bpf.Assemble(prog)
}
