package session

// Fixed translation constants.
const (
	InstructionSize = 4
	InvalidAddr     = ^uint32(0)

	// FirstExtFuncAddr begins the synthetic external-function address
	// space: addresses at or above this value name an
	// imported libc/runtime symbol rather than guest code.
	FirstExtFuncAddr = 0x80000000

	// MaxArgs bounds the ICaller argument-word count; Caller's variadic
	// slot allowance is capped against this.
	MaxArgs = 9 // target + 8 word args (a0..a7)
)
