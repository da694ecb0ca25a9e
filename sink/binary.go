package sink

import (
	"bufio"
	"io"

	"github.com/mycophonic/hypha"
)

// Binary writes a decoder's raw binary track to a file handle unchanged.
type Binary struct {
	w *bufio.Writer
}

// NewBinary wraps w for raw binary-track output.
func NewBinary(w io.Writer) *Binary {
	return &Binary{w: bufio.NewWriter(w)}
}

func (b *Binary) Reset() {}
func (b *Binary) Start() {}
func (b *Binary) SetSampleRate(rate uint64) {}

// Output writes a binary chunk's payload unchanged; everything else is
// ignored.
func (b *Binary) Output(_ string, out hypha.Output) error {
	chunk, ok := out.Payload.(hypha.BinaryChunk)
	if !ok {
		return nil
	}

	_, err := b.w.Write(chunk.Data)

	return err
}

// Stop flushes buffered output.
func (b *Binary) Stop() error { return b.w.Flush() }
