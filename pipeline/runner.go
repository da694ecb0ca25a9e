// Package pipeline wires a sample source, a linear chain of decoder
// stages, and a terminal sink into one runnable unit: reverse-order
// callback wiring, reset/start/run/stop lifecycle ordering, and
// sample-rate injection.
package pipeline

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mycophonic/hypha"
	"github.com/mycophonic/hypha/decoder"
	"github.com/mycophonic/hypha/engine"
	"github.com/mycophonic/hypha/sink"
)

// Input is the root sample source a Runner drives: an engine.Source that
// also fans out OutputPython events (run-length logic, analog samples)
// to a registered callback, the shape srzip.Reader implements.
type Input interface {
	engine.Source
	SetCallback(cb hypha.Callback)
}

// InitialProvider is optionally implemented by an Input to seed the
// first stage's cursor with an explicit pre-sample-0 level word, so
// rising/falling/any-edge conditions are evaluated on sample 0 against
// that level. Without one, sample 0 seeds the cursor and edges never
// fire on it. srzip.Reader implements this.
type InitialProvider interface {
	Initial() (word hypha.Word, ok bool)
}

// Stage is one decoder in the chain plus the binding/option configuration
// the Runner applies before wiring it.
type Stage struct {
	// Decoder is the stage's behavior; Base must be the exact *decoder.Base
	// this Decoder was constructed with (concrete decoders embed it), so
	// the Runner can drive channel binding and option application through
	// Base while still invoking Decoder's Decode/Reset/Start/Stop.
	Decoder decoder.Decoder
	Base    *decoder.Base

	// Bindings maps declared channel id to raw source channel index.
	// Absent ids leave that channel unbound; HasChannel(declaredBit)
	// reports false for it.
	Bindings map[string]int

	// Options overlays user-supplied values atop the stage's declared
	// option defaults.
	Options map[string]any
}

// Config assembles everything a Runner needs for one pipeline execution.
// Stages may be empty, in which case Sink is driven directly by Input.
type Config struct {
	Input  Input
	Stages []Stage
	Sink   sink.Sink

	// OutputType/OutputFilter select the terminal stage's user-visible
	// output stream; every earlier stage always communicates via
	// hypha.OutputPython with no filter.
	OutputType   hypha.OutputKind
	OutputFilter string

	// Driver tags every event Input delivers to Sink.Output; events a
	// decoder stage delivers are tagged with that stage's decoder ID
	// instead. A driver-filtering sink (e.g. sink.Srzip only persists
	// events whose driver matches its own configured name) thus tells
	// the raw sample stream apart from decoder output.
	Driver string

	Logger zerolog.Logger
}

// Runner drives one Config to completion.
type Runner struct {
	cfg   Config
	runID uuid.UUID
	log   zerolog.Logger

	stacks []*decoder.StackedSource // stacks[i] feeds Stages[i], nil for i==0

	mu         sync.Mutex
	outputErrs []error
}

// New builds a Runner for cfg. Wiring (channel binding, option overlay,
// callback registration) happens lazily on Run; a Runner is constructed
// once and run once.
func New(cfg Config) *Runner {
	if cfg.Driver == "" {
		cfg.Driver = "pipeline"
	}

	id := uuid.New()

	return &Runner{
		cfg:   cfg,
		runID: id,
		log:   cfg.Logger.With().Str("run", id.String()).Logger(),
	}
}

// RunID returns the run-correlation identifier this Runner tags its log
// lines with.
func (r *Runner) RunID() uuid.UUID { return r.runID }

func (r *Runner) recordOutputErr(err error) {
	if err == nil {
		return
	}

	r.mu.Lock()
	r.outputErrs = append(r.outputErrs, err)
	r.mu.Unlock()
}

func (r *Runner) sinkCallback(stageID, driver string) hypha.Callback {
	return func(out hypha.Output) {
		if err := r.cfg.Sink.Output(driver, out); err != nil {
			r.log.Error().Str("stage", stageID).Err(err).Msg("sink output failed")
			r.recordOutputErr(err)
		}
	}
}

// wire applies stage configuration and registers callbacks in reverse
// order, so each stage can be chained to its already-wired successor.
// The user-selected output type/filter lands on the terminal stage only;
// every earlier stage feeds its successor via OutputPython unfiltered.
func (r *Runner) wire() error {
	r.cfg.Input.SetCallback(r.sinkCallback("input", r.cfg.Driver))

	n := len(r.cfg.Stages)
	r.stacks = make([]*decoder.StackedSource, n)

	rate := r.cfg.Input.SampleRate()

	outType, outFilter := r.cfg.OutputType, r.cfg.OutputFilter

	for i := n - 1; i >= 0; i-- {
		st := r.cfg.Stages[i]

		stageID := st.Decoder.Metadata().ID
		st.Base.SetLogger(r.log.With().Str("stage", stageID).Logger())

		st.Base.ApplyDefaults()

		for id, v := range st.Options {
			if err := st.Base.SetOption(id, v); err != nil {
				return hypha.NewConfigError("pipeline.wire", err)
			}
		}

		for declID, raw := range st.Bindings {
			st.Base.SetChannelnum(declID, raw)
		}

		st.Base.AddCallback(outType, outFilter, r.sinkCallback(stageID, stageID))

		if i+1 < n {
			st.Base.AddCallback(hypha.OutputPython, "", r.stacks[i+1].Callback())
		}

		outType, outFilter = hypha.OutputPython, ""

		if i > 0 {
			r.stacks[i] = decoder.NewStackedSource(rate)
		}
	}

	return nil
}

// runStage drives stage i to completion, then propagates end-of-stream
// (or a terminal error) to the stack feeding stage i+1, if any, so the
// unwind cascades down the chain.
func (r *Runner) runStage(i int) error {
	st := r.cfg.Stages[i]

	var (
		src        engine.Source
		initial    hypha.Word
		hasInitial bool
	)

	if i == 0 {
		src = r.cfg.Input

		if ip, ok := r.cfg.Input.(InitialProvider); ok {
			initial, hasInitial = ip.Initial()
		}
	} else {
		src = r.stacks[i].Source()
	}

	err := decoder.Run(st.Decoder, st.Base, src, initial, hasInitial)

	if i+1 < len(r.cfg.Stages) {
		if err != nil {
			r.stacks[i+1].Fail(err)
		} else {
			r.stacks[i+1].Close()
		}
	}

	return err
}

// runSourceOnly pumps Input to end-of-stream directly, for the empty
// decoder-list case: the sink is the first and only stage.
func (r *Runner) runSourceOnly() error {
	for {
		_, ok, err := r.cfg.Input.Next()
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}
	}
}

// Run executes the full lifecycle: wire, reset, inject sample rate,
// start, pump to end-of-stream, stop.
func (r *Runner) Run() error {
	if err := r.wire(); err != nil {
		return err
	}

	for _, st := range r.cfg.Stages {
		st.Decoder.Reset()
	}

	r.cfg.Sink.Reset()

	if rate := r.cfg.Input.SampleRate(); rate > 0 && len(r.cfg.Stages) > 0 {
		r.cfg.Stages[0].Decoder.SetSampleRate(rate)
	}

	r.cfg.Sink.Start()

	for _, st := range r.cfg.Stages {
		st.Decoder.Start()
	}

	var runErr error

	if len(r.cfg.Stages) == 0 {
		runErr = r.runSourceOnly()
	} else {
		runErr = r.runChain()
	}

	stopErr := r.stop()

	r.mu.Lock()
	outputErrs := r.outputErrs
	r.mu.Unlock()

	return errors.Join(append([]error{runErr, stopErr}, outputErrs...)...)
}

// runChain drives stage 0 on the calling goroutine while stages 1..N-1
// each run on their own goroutine, rendezvousing with their upstream
// through decoder.StackedSource's feed+ack handshake: feed blocks the
// upstream goroutine until downstream has fully reacted to the delivered
// sample, so at most one stage's Decode body is ever actually advancing
// samples at a time and no stage pre-empts another.
func (r *Runner) runChain() error {
	n := len(r.cfg.Stages)

	var wg sync.WaitGroup

	bgErrs := make([]error, n)

	for i := 1; i < n; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			bgErrs[i] = r.runStage(i)
		}()
	}

	err0 := r.runStage(0)

	wg.Wait()

	errs := append([]error{err0}, bgErrs[1:]...)

	return errors.Join(errs...)
}

// stop stops every decoder stage in chain order, then the sink,
// collecting every failure rather than aborting the unwind partway.
func (r *Runner) stop() error {
	var errs []error

	for _, st := range r.cfg.Stages {
		if err := st.Decoder.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := r.cfg.Sink.Stop(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
