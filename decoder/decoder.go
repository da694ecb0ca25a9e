package decoder

import (
	"errors"

	"github.com/mycophonic/hypha"
	"github.com/mycophonic/hypha/engine"
)

// Decoder is one protocol decoder stage: its class-level Metadata plus
// the lifecycle and decode behavior the pipeline drives.
type Decoder interface {
	Metadata() Metadata
	Reset()
	Start()
	Stop() error
	SetSampleRate(rate uint64)
	// Decode is the stage's generator-loop body: it repeatedly calls
	// Wait and Put against its bound Base until the underlying cursor
	// raises hypha.ErrEndOfStream, at which point Run treats that as
	// normal termination rather than an error.
	Decode(b *Base) error
}

// Run attaches src (and its optional initial level) as the cursor this
// stage's decode loop drives, then executes Decode once, translating a
// clean hypha.ErrEndOfStream into nil.
func Run(d Decoder, b *Base, src engine.Source, initial hypha.Word, hasInitial bool) error {
	b.BindCursor(src, initial, hasInitial)

	err := d.Decode(b)
	if errors.Is(err, hypha.ErrEndOfStream) {
		return nil
	}

	return err
}

// feedMsg carries one sample word (or a terminal error) across a
// feedSource's channel.
type feedMsg struct {
	word hypha.Word
	err  error
}

// feedSource adapts a push-delivered stream of samples (the Put-forwarded
// OutputPython events of the upstream stage) into the pull-based
// engine.Source a stacked decoder's Wait loop expects, one goroutine per
// decode stage.
//
// A plain unbuffered channel only rendezvouses the *transfer* of one
// sample; it does not block the upstream goroutine until downstream has
// finished *reacting* to it, so both goroutines would be free to run
// concurrently once the handoff completed. feedSource closes that gap
// with a second, ack channel: Next acks the *previous* delivery
// (signalling that the decoder has fully processed it, any Put-triggered
// feeds to a further downstream stage included, since those block on
// their own ack the same way) before blocking for the next one. feed only
// returns once that ack arrives, so the upstream goroutine stays parked
// for the full duration of downstream's reaction and at most one decoder
// goroutine is ever runnable at a time. This relies on every Decode loop
// re-entering Wait (hence Next) before returning, which is how every
// decoder in this module is structured: a loop on Wait until
// end-of-stream.
type feedSource struct {
	ch      chan feedMsg
	ack     chan struct{}
	rate    uint64
	started bool
}

func newFeedSource(rate uint64) *feedSource {
	return &feedSource{ch: make(chan feedMsg), ack: make(chan struct{}), rate: rate}
}

// Next implements engine.Source.
func (f *feedSource) Next() (hypha.Word, bool, error) {
	if f.started {
		f.ack <- struct{}{}
	}

	f.started = true

	msg, ok := <-f.ch
	if !ok {
		return 0, false, nil
	}

	if msg.err != nil {
		return 0, false, msg.err
	}

	return msg.word, true, nil
}

// SampleRate implements engine.Source.
func (f *feedSource) SampleRate() uint64 { return f.rate }

// feed hands one sample to the downstream stage and blocks until it has
// fully processed it, signalled only by downstream calling Next again.
func (f *feedSource) feed(w hypha.Word) {
	f.ch <- feedMsg{word: w}
	<-f.ack
}

// fail terminates the feed with an error the downstream Next() call will
// surface exactly once. No ack is expected: the downstream decode loop
// terminates on this error without calling Next again.
func (f *feedSource) fail(err error) {
	f.ch <- feedMsg{err: err}
	close(f.ch)
}

// closeStream signals clean end-of-stream to the downstream stage.
func (f *feedSource) closeStream() {
	close(f.ch)
}

// StackedSource exposes the push/pull adapter a pipeline uses to chain
// one decoder's OutputPython emissions into the next stage's Wait loop.
type StackedSource struct {
	fs *feedSource
}

// NewStackedSource builds a StackedSource feeding at the given nominal
// sample rate (propagated from the root source).
func NewStackedSource(rate uint64) *StackedSource {
	return &StackedSource{fs: newFeedSource(rate)}
}

// Source returns the engine.Source a downstream decoder's Base binds to.
func (s *StackedSource) Source() engine.Source { return s.fs }

// Callback returns the hypha.Callback to register on the upstream stage's
// OutputPython output with no filter, expanding each run-length
// hypha.LogicRun event into one feed per covered sample.
func (s *StackedSource) Callback() hypha.Callback {
	return func(out hypha.Output) {
		run, ok := out.Payload.(hypha.LogicRun)
		if !ok {
			return
		}

		for i := out.Start; i < out.End; i++ {
			s.fs.feed(run.Word)
		}
	}
}

// Close signals clean end-of-stream once the upstream stage's Run call
// has returned.
func (s *StackedSource) Close() { s.fs.closeStream() }

// Fail signals a terminal error to the downstream stage.
func (s *StackedSource) Fail(err error) { s.fs.fail(err) }
