package main

import (
	"github.com/mycophonic/hypha/decoder"
	"github.com/mycophonic/hypha/decoders"
)

// decoderFactory builds one fresh decoder stage instance, returning both
// the Decoder behavior and the exact *decoder.Base it embeds so the
// pipeline can drive channel binding and option application through it.
type decoderFactory func() (decoder.Decoder, *decoder.Base)

// registry is an explicit, process-local decoder index: a fixed map
// handed to the pipeline wiring rather than a plugin scan performed at
// import time, as sigrok does it.
var registry = map[string]decoderFactory{
	"edge": func() (decoder.Decoder, *decoder.Base) {
		d := decoders.NewEdge()
		return d, d.Base
	},
	"relay": func() (decoder.Decoder, *decoder.Base) {
		d := decoders.NewRelay()
		return d, d.Base
	},
}
