// Package sink implements the pipeline's terminal output contract: the
// same reset/start/stop lifecycle shape as a decoder, but consuming
// events via Output instead of emitting them via Put.
package sink

import (
	"errors"

	"github.com/mycophonic/hypha"
)

// Sink is the pipeline's terminal consumer.
type Sink interface {
	Reset()
	Start()
	Stop() error
	SetSampleRate(rate uint64)
	// Output consumes one event from driver (the originating source or
	// decoder stage's id); source filtering, if any, is the sink's own
	// concern (the srzip writer filters by driver, the others don't).
	Output(driver string, out hypha.Output) error
}

// Multi fans one stream of events out to several sinks, in order. Stop
// runs every sink's Stop regardless of earlier failures and aggregates
// them with errors.Join, the same pattern pipeline.Runner uses to
// aggregate decoder Stop errors.
type Multi struct {
	sinks []Sink
}

// NewMulti builds a fan-out sink over sinks.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Reset() {
	for _, s := range m.sinks {
		s.Reset()
	}
}

func (m *Multi) Start() {
	for _, s := range m.sinks {
		s.Start()
	}
}

func (m *Multi) SetSampleRate(rate uint64) {
	for _, s := range m.sinks {
		s.SetSampleRate(rate)
	}
}

func (m *Multi) Output(driver string, out hypha.Output) error {
	var errs []error

	for _, s := range m.sinks {
		if err := s.Output(driver, out); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m *Multi) Stop() error {
	var errs []error

	for _, s := range m.sinks {
		if err := s.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
