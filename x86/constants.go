package x86

// ModRM Mode Constants
const (
	X86_MOD_INDIRECT        = 0x00 // [reg] or [disp32]
	X86_MOD_INDIRECT_DISP8  = 0x01 // [reg + disp8]
	X86_MOD_INDIRECT_DISP32 = 0x02 // [reg + disp32]
	X86_MOD_REGISTER        = 0x03 // reg
)

// ModRM r/m escapes in 32-bit addressing
const (
	X86_RM_SIB    = 0x04 // SIB byte follows
	X86_RM_DISP32 = 0x05 // [disp32] when mod == 00
	X86_SIB_NONE  = 0x04 // SIB index field meaning "no index"
)

// Primary Opcodes
const (
	X86_OP_MOV_RM_R = 0x89 // MOV r/m32, r32
	X86_OP_MOV_R_RM = 0x8B // MOV r32, r/m32
	X86_OP_ESCAPE   = 0x0F // two-byte opcode prefix
)

// Two-byte Opcodes (0x0F prefix)
const (
	X86_OP2_MOVQ_MM_RM  = 0x6F // MOVQ mm, mm/m64
	X86_OP2_MOVQ_RM_MM  = 0x7F // MOVQ mm/m64, mm
	X86_OP2_MOVAPS_X_RM = 0x28 // MOVAPS xmm, xmm/m128
	X86_OP2_MOVAPS_RM_X = 0x29 // MOVAPS xmm/m128, xmm
)
