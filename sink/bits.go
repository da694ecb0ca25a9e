package sink

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/mycophonic/hypha"
)

// DefaultWidth is the number of samples rendered per block before Bits
// flushes with a blank-line separator.
const DefaultWidth = 64

// Bits is a text renderer: one line per logic channel, a visual groove
// (extra space) every 8 samples, flushed every Width samples.
type Bits struct {
	w        *bufio.Writer
	channels int
	width    int

	lines []strings.Builder
	count int
}

// NewBits renders channels logic lines at the default width.
func NewBits(w io.Writer, channels int) *Bits {
	return NewBitsWidth(w, channels, DefaultWidth)
}

// NewBitsWidth is NewBits with an explicit flush width.
func NewBitsWidth(w io.Writer, channels, width int) *Bits {
	if width <= 0 {
		width = DefaultWidth
	}

	return &Bits{w: bufio.NewWriter(w), channels: channels, width: width, lines: make([]strings.Builder, channels)}
}

func (b *Bits) Reset() {}
func (b *Bits) Start() {}
func (b *Bits) SetSampleRate(rate uint64) {}

// Output renders a logic run-length event sample by sample; analog
// events are ignored, and annotations print their name.
func (b *Bits) Output(_ string, out hypha.Output) error {
	switch p := out.Payload.(type) {
	case hypha.LogicRun:
		for i := out.Start; i < out.End; i++ {
			b.appendSample(p.Word)
		}
	case hypha.Annotation:
		name := ""
		if len(p.Values) > 0 {
			name = p.Values[0]
		}

		fmt.Fprintln(b.w, name)
	default:
		// analog samples and binary chunks are not rendered here.
	}

	return b.w.Flush()
}

func (b *Bits) appendSample(word hypha.Word) {
	for c := 0; c < b.channels; c++ {
		b.lines[c].WriteByte('0' + word.Bit(c))
	}

	b.count++

	if b.count%8 == 0 && b.count != b.width {
		for c := range b.lines {
			b.lines[c].WriteByte(' ')
		}
	}

	if b.count >= b.width {
		b.flushBlock()
	}
}

func (b *Bits) flushBlock() {
	for c := 0; c < b.channels; c++ {
		fmt.Fprintln(b.w, b.lines[c].String())
		b.lines[c].Reset()
	}

	fmt.Fprintln(b.w)

	b.count = 0
}

// Stop flushes any residual partial block.
func (b *Bits) Stop() error {
	if b.count > 0 {
		b.flushBlock()
	}

	return b.w.Flush()
}
