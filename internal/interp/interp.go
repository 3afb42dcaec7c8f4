// Package interp executes programs written in the eight-symbol tape language.
//
// A program operates on a zeroed tape of TapeSize byte cells. The tape pointer
// wraps in both directions and cell arithmetic wraps modulo 256. Execution is
// bounded by a step budget, so every call returns.
package interp

const (
	TapeSize        = 30000
	DefaultMaxSteps = 10000
)

const (
	OpRight     byte = '>'
	OpLeft      byte = '<'
	OpInc       byte = '+'
	OpDec       byte = '-'
	OpOutput    byte = '.'
	OpInput     byte = ','
	OpLoopOpen  byte = '['
	OpLoopClose byte = ']'
)

// Alphabet lists every symbol of the language in a fixed order.
const Alphabet = "><+-.,[]"

type Halt int

const (
	HaltEnd Halt = iota
	HaltStepBudget
	HaltUnmatched
)

func (h Halt) String() string {
	switch h {
	case HaltEnd:
		return "end"
	case HaltStepBudget:
		return "step_budget"
	case HaltUnmatched:
		return "unmatched_bracket"
	default:
		return "unknown"
	}
}

type Result struct {
	Output []byte
	Steps  int
	Halt   Halt
}

// IsSymbol reports whether c belongs to the language alphabet.
func IsSymbol(c byte) bool {
	switch c {
	case OpRight, OpLeft, OpInc, OpDec, OpOutput, OpInput, OpLoopOpen, OpLoopClose:
		return true
	}
	return false
}

// MatchBrackets pairs every loop-open with its loop-close. Unmatched entries
// hold -1, as do positions that are not brackets.
func MatchBrackets(program string) []int {
	match := make([]int, len(program))
	stack := make([]int, 0, 16)
	for i := 0; i < len(program); i++ {
		match[i] = -1
		switch program[i] {
		case OpLoopOpen:
			stack = append(stack, i)
		case OpLoopClose:
			if len(stack) == 0 {
				continue
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			match[open] = i
			match[i] = open
		}
	}
	return match
}

// Execute runs program against input and returns everything it printed.
func Execute(program string, input []byte, maxSteps int) string {
	return string(Run(program, input, maxSteps).Output)
}

// Run is Execute with the step count and the reason execution stopped.
// A jump whose target bracket is unmatched halts the program; a bracket
// whose jump is not taken is a no-op.
func Run(program string, input []byte, maxSteps int) Result {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	match := MatchBrackets(program)
	tape := make([]byte, TapeSize)
	var out []byte
	ip, ptr, inPos, steps := 0, 0, 0, 0

	for ip < len(program) {
		if steps >= maxSteps {
			return Result{Output: out, Steps: steps, Halt: HaltStepBudget}
		}
		steps++

		switch program[ip] {
		case OpRight:
			ptr++
			if ptr == TapeSize {
				ptr = 0
			}
		case OpLeft:
			ptr--
			if ptr < 0 {
				ptr = TapeSize - 1
			}
		case OpInc:
			tape[ptr]++
		case OpDec:
			tape[ptr]--
		case OpOutput:
			out = append(out, tape[ptr])
		case OpInput:
			if inPos < len(input) {
				tape[ptr] = input[inPos]
				inPos++
			} else {
				tape[ptr] = 0
			}
		case OpLoopOpen:
			if tape[ptr] == 0 {
				if match[ip] < 0 {
					return Result{Output: out, Steps: steps, Halt: HaltUnmatched}
				}
				ip = match[ip]
			}
		case OpLoopClose:
			if tape[ptr] != 0 {
				if match[ip] < 0 {
					return Result{Output: out, Steps: steps, Halt: HaltUnmatched}
				}
				ip = match[ip]
			}
		}
		ip++
	}
	return Result{Output: out, Steps: steps, Halt: HaltEnd}
}
