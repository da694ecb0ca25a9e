// Package decoders provides a couple of minimal, concrete decoder stages
// used to exercise the pipeline end to end. Real protocol decoders live
// outside this module; these exist only as runnable instances of the
// decoder contract.
package decoders

import (
	"github.com/mycophonic/hypha"
	"github.com/mycophonic/hypha/decoder"
)

const (
	edgeAnnStart = iota
	edgeAnnRise
)

// EdgeMetadata describes Edge's class-level contract: one required
// channel, two annotation classes.
var EdgeMetadata = decoder.Metadata{
	ID:       "edge",
	Channels: []hypha.ChannelDef{{ID: "data", Name: "Data"}},
	Annotations: []hypha.AnnotationClass{
		{ID: edgeAnnStart, Name: "start", Long: "falling edge observed"},
		{ID: edgeAnnRise, Name: "rise", Long: "rising edge observed"},
	},
}

// Edge waits for a falling edge on its single channel, then two rising
// edges, annotating each: the skeleton of a UART start-bit hunt.
type Edge struct {
	*decoder.Base
}

// NewEdge constructs an Edge decoder stage.
func NewEdge() *Edge {
	return &Edge{Base: decoder.NewBase(EdgeMetadata)}
}

func (e *Edge) Reset() {}
func (e *Edge) Start() {}
func (e *Edge) Stop() error { return nil }

// Decode implements decoder.Decoder.
func (e *Edge) Decode(b *decoder.Base) error {
	for {
		if _, _, err := b.Wait([]hypha.Condition{hypha.ChanCond(0, hypha.Falling)}); err != nil {
			return err
		}

		b.Put(b.SampleNum(), b.SampleNum()+1, hypha.OutputAnn,
			hypha.Annotation{Class: edgeAnnStart, Values: []string{"start"}})

		for i := 0; i < 2; i++ {
			if _, _, err := b.Wait([]hypha.Condition{hypha.ChanCond(0, hypha.Rising)}); err != nil {
				return err
			}

			b.Put(b.SampleNum(), b.SampleNum()+1, hypha.OutputAnn,
				hypha.Annotation{Class: edgeAnnRise, Values: []string{"rise"}})
		}
	}
}
