package sink

import (
	"github.com/mycophonic/hypha"
	"github.com/mycophonic/hypha/srzip"
)

// Srzip adapts an *srzip.Writer to the Sink contract: Output forwards
// directly (the writer already does its own driver-name filtering), and
// Stop closes the archive.
type Srzip struct {
	w *srzip.Writer
}

// NewSrzip wraps w as a Sink.
func NewSrzip(w *srzip.Writer) *Srzip {
	return &Srzip{w: w}
}

func (s *Srzip) Reset() {}
func (s *Srzip) Start() {}
func (s *Srzip) SetSampleRate(rate uint64) {}

func (s *Srzip) Output(driver string, out hypha.Output) error {
	return s.w.Output(driver, out)
}

func (s *Srzip) Stop() error { return s.w.Close() }
