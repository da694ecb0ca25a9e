package decoders

import (
	"github.com/mycophonic/hypha"
	"github.com/mycophonic/hypha/decoder"
)

// RelayMetadata describes Relay's class-level contract: a single
// pass-through channel, no annotations of its own.
var RelayMetadata = decoder.Metadata{
	ID:       "relay",
	Channels: []hypha.ChannelDef{{ID: "data", Name: "Data"}},
}

// Relay forwards its single bound channel's level to the next pipeline
// stage, one sample at a time, via OutputPython: the minimal shape
// needed to exercise chaining two decoder stages through
// decoder.StackedSource.
type Relay struct {
	*decoder.Base
}

// NewRelay constructs a Relay decoder stage.
func NewRelay() *Relay {
	return &Relay{Base: decoder.NewBase(RelayMetadata)}
}

func (r *Relay) Reset() {}
func (r *Relay) Start() {}
func (r *Relay) Stop() error { return nil }

// Decode implements decoder.Decoder.
func (r *Relay) Decode(b *decoder.Base) error {
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
