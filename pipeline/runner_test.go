package pipeline

import (
	"errors"
	"testing"

	"github.com/mycophonic/hypha"
	"github.com/mycophonic/hypha/decoder"
	"github.com/mycophonic/hypha/decoders"
)

// memInput is the minimal Input: a fixed word sequence that also fans
// out an OutputPython run-length event per sample via the callback the
// Runner registers, mirroring srzip.Reader's shape closely enough to
// exercise pipeline wiring without an archive on disk.
type memInput struct {
	words []hypha.Word
	pos   int
	cb    hypha.Callback
}

func (m *memInput) Next() (hypha.Word, bool, error) {
	if m.pos >= len(m.words) {
		return 0, false, nil
	}

	w := m.words[m.pos]
	start := int64(m.pos)
	m.pos++

	if m.cb != nil {
		m.cb(hypha.Output{Kind: hypha.OutputPython, Start: start, End: start + 1, Payload: hypha.LogicRun{Word: w}})
	}

	return w, true, nil
}

func (m *memInput) SampleRate() uint64            { return 1000 }
func (m *memInput) SetCallback(cb hypha.Callback) { m.cb = cb }

// recordSink captures every Output call it receives; the driver name
// each event arrives under is not recorded.
type recordSink struct {
	events []hypha.Output
}

func (s *recordSink) Reset() {}
func (s *recordSink) Start() {}
func (s *recordSink) SetSampleRate(rate uint64) {}
func (s *recordSink) Stop() error { return nil }
func (s *recordSink) Output(_ string, out hypha.Output) error {
	s.events = append(s.events, out)
	return nil
}

// TestRunnerChainsDecodersAndFiltersOutput: a relay stage feeds an
// edge-annotating stage via OutputPython, and the user-selected output
// filter ("start") only lets matching annotations through to the sink.
func TestRunnerChainsDecodersAndFiltersOutput(t *testing.T) {
	// bit0 of [0xFF,0x00,0xFF,0xFF,0x7E,0x7E,0xFF]: 1,0,1,1,0,0,1
	input := &memInput{words: []hypha.Word{1, 0, 1, 1, 0, 0, 1}}

	relay := decoders.NewRelay()
	edge := decoders.NewEdge()

	snk := &recordSink{}

	runner := New(Config{
		Input: input,
		Stages: []Stage{
			{Decoder: relay, Base: relay.Base, Bindings: map[string]int{"data": 0}},
			{Decoder: edge, Base: edge.Base, Bindings: map[string]int{"data": 0}},
		},
		Sink:         snk,
		OutputType:   hypha.OutputAnn,
		OutputFilter: "start",
	})

	if err := runner.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var annCount, startCount int

	for _, out := range snk.events {
		ann, ok := out.Payload.(hypha.Annotation)
		if !ok {
			continue
		}

		annCount++

		if ann.Values[0] == "start" {
			startCount++
		} else if ann.Values[0] == "rise" {
			t.Fatalf("unfiltered \"rise\" annotation reached the sink: %+v", out)
		}
	}

	if annCount != 1 || startCount != 1 {
		t.Fatalf("sink saw %d annotations (%d \"start\"), want exactly 1 \"start\"", annCount, startCount)
	}
}

// stopTracker is a pass-through decoder that records the order its Stop
// is called in, for lifecycle-ordering checks.
type stopTracker struct {
	*decoder.Base
	name    string
	stopLog *[]string
	stopErr error
}

func newStopTracker(name string, stopLog *[]string, stopErr error) *stopTracker {
	return &stopTracker{
		Base: decoder.NewBase(decoder.Metadata{
			ID:       name,
			Channels: []hypha.ChannelDef{{ID: "data"}},
		}),
		name:    name,
		stopLog: stopLog,
		stopErr: stopErr,
	}
}

func (d *stopTracker) Reset() {}
func (d *stopTracker) Start() {}

func (d *stopTracker) Stop() error {
	*d.stopLog = append(*d.stopLog, d.name)
	return d.stopErr
}

func (d *stopTracker) Decode(b *decoder.Base) error {
	for {
		bits, _, err := b.Wait(nil)
		if err != nil {
			return err
		}

		var word hypha.Word
		if bits[0] == 1 {
			word = 1
		}

		b.Put(b.SampleNum(), b.SampleNum()+1, hypha.OutputPython, hypha.LogicRun{Word: word})
	}
}

// trackingSink records when its Stop runs relative to the stages'.
type trackingSink struct {
	recordSink
	stopLog *[]string
}

func (s *trackingSink) Stop() error {
	*s.stopLog = append(*s.stopLog, "sink")
	return nil
}

// TestRunnerStopsStagesInOrderThenSink: Stop runs head-to-tail down the
// chain with the sink last, and a failing stage Stop neither halts the
// unwind nor masks the stages after it.
func TestRunnerStopsStagesInOrderThenSink(t *testing.T) {
	var stopLog []string

	stopErr := errors.New("first stage stop failed")

	first := newStopTracker("first", &stopLog, stopErr)
	second := newStopTracker("second", &stopLog, nil)

	snk := &trackingSink{stopLog: &stopLog}
	input := &memInput{words: []hypha.Word{1, 0}}

	runner := New(Config{
		Input: input,
		Stages: []Stage{
			{Decoder: first, Base: first.Base, Bindings: map[string]int{"data": 0}},
			{Decoder: second, Base: second.Base, Bindings: map[string]int{"data": 0}},
		},
		Sink: snk,
	})

	if err := runner.Run(); !errors.Is(err, stopErr) {
		t.Fatalf("Run() error = %v, want it to wrap the stage Stop error", err)
	}

	want := []string{"first", "second", "sink"}
	if len(stopLog) != len(want) {
		t.Fatalf("stop order = %v, want %v", stopLog, want)
	}

	for i := range want {
		if stopLog[i] != want[i] {
			t.Fatalf("stop order = %v, want %v", stopLog, want)
		}
	}
}

// TestRunnerEmptyStageListDrivesSinkDirectly: with no decoder stages,
// the sink is driven straight off the input's own OutputPython events.
func TestRunnerEmptyStageListDrivesSinkDirectly(t *testing.T) {
	input := &memInput{words: []hypha.Word{1, 0, 1}}
	snk := &recordSink{}

	runner := New(Config{Input: input, Sink: snk})

	if err := runner.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(snk.events) != 3 {
		t.Fatalf("sink saw %d events, want 3 (one run-length event per sample)", len(snk.events))
	}
}

