// Package hypha hosts logic-analyzer protocol decoders: it steps a global
// sample cursor through per-channel level/edge conditions, chains stateful
// decoder stages, and reads/writes the srzip session-archive format.
package hypha

import "fmt"

// Word is one sample: an unsigned integer whose bits each represent one
// logic channel's level at one sample time. Width (1, 2, 4, or 8 bytes) is
// a property of the source, not of Word itself.
type Word uint64

// Bit returns the level of channel n (0-indexed) within w.
func (w Word) Bit(n int) uint8 {
	return uint8((w >> uint(n)) & 1)
}

// Edge identifies a single-channel predicate evaluated against a
// (previous, current) sample pair.
type Edge uint8

const (
	// Low matches when the channel is 0 at the current sample.
	Low Edge = iota
	// High matches when the channel is 1 at the current sample.
	High
	// Rising matches a 0-to-1 transition between previous and current.
	Rising
	// Falling matches a 1-to-0 transition between previous and current.
	Falling
	// AnyEdge matches any change between previous and current.
	AnyEdge
	// Stable matches when the channel's value is unchanged.
	Stable
)

// String renders an Edge using sigrok's single-letter condition vocabulary.
func (e Edge) String() string {
	switch e {
	case Low:
		return "l"
	case High:
		return "h"
	case Rising:
		return "r"
	case Falling:
		return "f"
	case AnyEdge:
		return "e"
	case Stable:
		return "s"
	default:
		return fmt.Sprintf("Edge(%d)", uint8(e))
	}
}

// Satisfied reports whether the edge predicate holds for channel bits
// (prev, cur).
func (e Edge) Satisfied(prev, cur uint8) bool {
	switch e {
	case Low:
		return cur == 0
	case High:
		return cur == 1
	case Rising:
		return prev == 0 && cur == 1
	case Falling:
		return prev == 1 && cur == 0
	case AnyEdge:
		return prev != cur
	case Stable:
		return prev == cur
	default:
		return false
	}
}

// Condition is either a Skip count or a conjunction of per-channel Edge
// predicates, keyed by channel index (declared-bit index at the decoder
// layer, raw-bit index at the engine layer). Exactly one of Skip/Channels
// should be set; Skip == nil means "this is a channel condition".
type Condition struct {
	// Skip, if non-nil, counts down to zero; the condition matches the
	// sample at which it reaches zero. Skip(0) matches immediately.
	Skip *int

	// Channels maps channel index to the edge predicate it must satisfy.
	// All entries must be satisfied for the condition to match.
	Channels map[int]Edge
}

// SkipCond builds a skip-N condition.
func SkipCond(n int) Condition {
	v := n
	return Condition{Skip: &v}
}

// ChanCond builds a channel condition from a single channel/edge pair, the
// common one-channel case.
func ChanCond(channel int, edge Edge) Condition {
	return Condition{Channels: map[int]Edge{channel: edge}}
}

// IsSkip reports whether c is a skip condition.
func (c Condition) IsSkip() bool {
	return c.Skip != nil
}
