package engine

import "github.com/mycophonic/hypha"

// Cursor wraps a Source with the mutable state Wait needs: the sample
// cursor and the last-observed sample. A Cursor is owned by exactly one
// decoder stage; only that stage's Wait calls mutate it.
type Cursor struct {
	src Source

	sampleNum int64
	matched   []bool

	lastSample hypha.Word
	started    bool
	initial    *hypha.Word
}

// NewCursor creates a Cursor over src with no explicit initial state: the
// first observed sample seeds lastSample, so Rising/Falling/AnyEdge never
// spuriously fire on sample 0.
func NewCursor(src Source) *Cursor {
	return &Cursor{src: src, sampleNum: -1}
}

// NewCursorWithInitial creates a Cursor whose lastSample starts at the
// given explicit word instead of being seeded from the first sample.
func NewCursorWithInitial(src Source, initial hypha.Word) *Cursor {
	return &Cursor{src: src, sampleNum: -1, initial: &initial}
}

// SampleNum returns the cursor's current position; -1 before the first
// successful Wait.
func (c *Cursor) SampleNum() int64 { return c.sampleNum }

// Matched returns the per-condition outcome of the most recent Wait call.
func (c *Cursor) Matched() []bool { return c.matched }

// LastSample returns the most recently observed sample word.
func (c *Cursor) LastSample() hypha.Word { return c.lastSample }

// Wait advances the cursor until at least one of conds matches. An
// empty/nil conds is sugar for "advance exactly one sample"; matched
// always has length max(1, len(conds)).
func (c *Cursor) Wait(conds []hypha.Condition) (hypha.Word, []bool, error) {
	if len(conds) == 0 {
		conds = []hypha.Condition{{}}
	}

	n := len(conds)
	matched := make([]bool, n)
	skipRemaining := make([]int, n)

	for i, cond := range conds {
		if cond.IsSkip() {
			skipRemaining[i] = *cond.Skip
		}
	}

	for {
		c.sampleNum++

		word, ok, err := c.src.Next()
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, nil, hypha.ErrEndOfStream
		}

		if !c.started {
			if c.initial != nil {
				c.lastSample = *c.initial
			} else {
				c.lastSample = word
			}
			c.started = true
		}

		anyMatch := false
		for i, cond := range conds {
			if cond.IsSkip() {
				if skipRemaining[i] > 0 {
					skipRemaining[i]--
				}
				matched[i] = skipRemaining[i] == 0
			} else {
				matched[i] = channelsMatch(cond.Channels, c.lastSample, word)
			}
			if matched[i] {
				anyMatch = true
			}
		}

		c.lastSample = word

		if anyMatch {
			c.matched = matched
			return word, matched, nil
		}
	}
}

// channelsMatch evaluates a conjunction of per-channel edge predicates.
// An empty map is vacuously true (the "advance one sample" sentinel).
func channelsMatch(channels map[int]hypha.Edge, prev, cur hypha.Word) bool {
	for ch, edge := range channels {
		if !edge.Satisfied(prev.Bit(ch), cur.Bit(ch)) {
			return false
		}
	}
	return true
}
