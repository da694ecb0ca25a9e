package engine

import (
	"errors"
	"testing"

	"github.com/mycophonic/hypha"
)

// sliceSource replays a fixed sequence of sample words, one per Next call.
type sliceSource struct {
	words []hypha.Word
	pos   int
	rate  uint64
}

func newSliceSource(words []hypha.Word) *sliceSource {
	return &sliceSource{words: words, rate: 1_000_000}
}

func (s *sliceSource) Next() (hypha.Word, bool, error) {
	if s.pos >= len(s.words) {
		return 0, false, nil
	}
	w := s.words[s.pos]
	s.pos++
	return w, true, nil
}

func (s *sliceSource) SampleRate() uint64 { return s.rate }

func TestCursorWaitNoConds(t *testing.T) {
	src := newSliceSource([]hypha.Word{0xFF, 0x00, 0xFF})
	c := NewCursor(src)

	_, matched, err := c.Wait(nil)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(matched) != 1 || !matched[0] {
		t.Fatalf("Wait(nil) matched = %v, want [true]", matched)
	}
	if c.SampleNum() != 0 {
		t.Fatalf("SampleNum() = %d, want 0", c.SampleNum())
	}
}

func TestCursorWaitRisingEdge(t *testing.T) {
	// channel 0 sits low, then rises at index 2.
	src := newSliceSource([]hypha.Word{0x00, 0x00, 0x01, 0x01})
	c := NewCursor(src)

	_, _, err := c.Wait([]hypha.Condition{hypha.ChanCond(0, hypha.Rising)})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if c.SampleNum() != 2 {
		t.Fatalf("SampleNum() = %d, want 2", c.SampleNum())
	}
}

func TestCursorWaitSkipSequence(t *testing.T) {
	src := newSliceSource([]hypha.Word{0, 0, 0, 0, 0, 0})
	c := NewCursor(src)

	if _, _, err := c.Wait([]hypha.Condition{hypha.SkipCond(3)}); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if c.SampleNum() != 2 {
		t.Fatalf("after skip(3): SampleNum() = %d, want 2", c.SampleNum())
	}

	if _, _, err := c.Wait([]hypha.Condition{hypha.SkipCond(1)}); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if c.SampleNum() != 3 {
		t.Fatalf("after skip(1): SampleNum() = %d, want 3", c.SampleNum())
	}
}

func TestCursorWaitSkipZeroAdvancesOne(t *testing.T) {
	src := newSliceSource([]hypha.Word{0, 0, 0})
	c := NewCursor(src)

	_, matched, err := c.Wait([]hypha.Condition{hypha.SkipCond(0)})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if c.SampleNum() != 0 {
		t.Fatalf("SampleNum() = %d, want 0", c.SampleNum())
	}
	if !matched[0] {
		t.Fatalf("matched = %v, want [true]", matched)
	}
}

func TestCursorWaitDisjunctionReportsAllMatches(t *testing.T) {
	// channel 0 and channel 1 both rise on the same sample.
	src := newSliceSource([]hypha.Word{0x00, 0x03})
	c := NewCursor(src)

	_, matched, err := c.Wait([]hypha.Condition{
		hypha.ChanCond(0, hypha.Rising),
		hypha.ChanCond(1, hypha.Rising),
	})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(matched) != 2 || !matched[0] || !matched[1] {
		t.Fatalf("matched = %v, want [true true]", matched)
	}
}

func TestCursorWaitEndOfStream(t *testing.T) {
	src := newSliceSource([]hypha.Word{0x00})
	c := NewCursor(src)

	_, _, err := c.Wait([]hypha.Condition{hypha.ChanCond(0, hypha.Rising)})
	if !errors.Is(err, hypha.ErrEndOfStream) {
		t.Fatalf("Wait() error = %v, want ErrEndOfStream", err)
	}
}

func TestCursorSampleNumStrictlyIncreases(t *testing.T) {
	src := newSliceSource([]hypha.Word{0, 1, 0, 1, 0, 1})
	c := NewCursor(src)

	var last int64 = -1
	for i := 0; i < 3; i++ {
		_, _, err := c.Wait([]hypha.Condition{hypha.ChanCond(0, hypha.AnyEdge)})
		if err != nil {
			t.Fatalf("Wait() #%d error = %v", i, err)
		}
		if c.SampleNum() <= last {
			t.Fatalf("SampleNum() = %d, not strictly greater than previous %d", c.SampleNum(), last)
		}
		last = c.SampleNum()
	}
}

func TestCursorWaitInitialStateSuppressesSpuriousEdge(t *testing.T) {
	// Without an explicit initial state, sample 0 seeds lastSample and a
	// Rising wait on channel 0 must not fire on that first sample even
	// though it is already high.
	src := newSliceSource([]hypha.Word{0x01, 0x01, 0x00, 0x01})
	c := NewCursor(src)

	_, _, err := c.Wait([]hypha.Condition{hypha.ChanCond(0, hypha.Rising)})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if c.SampleNum() != 3 {
		t.Fatalf("SampleNum() = %d, want 3 (first real rising edge)", c.SampleNum())
	}
}
