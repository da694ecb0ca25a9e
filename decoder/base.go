// Package decoder implements the protocol decoder base contract: channel
// binding, condition remapping, filtered callback fan-out, and the
// reset/start/stop lifecycle every decoder stage shares.
package decoder

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/mycophonic/hypha"
	"github.com/mycophonic/hypha/engine"
)

// Unbound is the sentinel SampleBits holds for a declared channel with no
// binding.
const Unbound int8 = -1

// SampleBits is the fixed-length per-declared-channel projection Wait
// returns: one entry per channel in Channels()+OptionalChannels() order,
// holding 0, 1, or Unbound.
type SampleBits []int8

// Metadata describes a decoder class's static, class-level properties.
type Metadata struct {
	ID               string
	Channels         []hypha.ChannelDef
	OptionalChannels []hypha.ChannelDef
	Options          []hypha.OptionDef
	Annotations      []hypha.AnnotationClass
	AnnotationRows   []hypha.AnnotationRow
	Binary           []hypha.BinaryClass
}

type filteredCallback struct {
	filter string
	fn     hypha.Callback
}

// Base implements the channel-binding, wait/put, and lifecycle plumbing
// common to every decoder stage. Concrete decoders embed *Base and supply
// their own Decode method, matching the stateful-decoder-object shape
// the rest of this module's decoder-adjacent packages use.
type Base struct {
	meta Metadata

	declaredToRaw map[int]int // declared bit -> raw bit
	oneToOne      bool

	options map[string]any

	callbacks map[hypha.OutputKind][]filteredCallback

	cursor *engine.Cursor

	sampleRate uint64

	log zerolog.Logger
}

// NewBase constructs a Base from its class metadata, with the identity
// binding assumed until SetChannelnum narrows it.
func NewBase(meta Metadata) *Base {
	return &Base{
		meta:          meta,
		declaredToRaw: map[int]int{},
		oneToOne:      true,
		options:       map[string]any{},
		callbacks:     map[hypha.OutputKind][]filteredCallback{},
		log:           zerolog.Nop(),
	}
}

// SetLogger installs logger, tagged with this decoder's class ID, for
// Base's own diagnostic logging (channel binding).
// pipeline.Runner calls this with its per-stage derived logger.
func (b *Base) SetLogger(logger zerolog.Logger) {
	b.log = logger.With().Str("decoder", b.meta.ID).Logger()
}

// Metadata returns the decoder class's static metadata.
func (b *Base) Metadata() Metadata { return b.meta }

// declaredWidth is len(channels)+len(optional_channels), the width of
// the tuple Wait projects.
func (b *Base) declaredWidth() int {
	return len(b.meta.Channels) + len(b.meta.OptionalChannels)
}

// SetOption overlays a user-supplied value atop a declared option
// default; integer-typed defaults coerce a string override to int,
// bool-typed defaults coerce "true"/"false"/"1"/"0".
func (b *Base) SetOption(id string, value any) error {
	var def *hypha.OptionDef

	for i := range b.meta.Options {
		if b.meta.Options[i].ID == id {
			def = &b.meta.Options[i]
			break
		}
	}

	if def == nil {
		return fmt.Errorf("decoder %s: unknown option %q", b.meta.ID, id)
	}

	coerced, err := coerceOption(def.Default, value)
	if err != nil {
		return fmt.Errorf("decoder %s: option %q: %w", b.meta.ID, id, err)
	}

	b.options[id] = coerced

	return nil
}

// ApplyDefaults seeds every declared option with its class default,
// before any user overrides are applied via SetOption.
func (b *Base) ApplyDefaults() {
	for _, opt := range b.meta.Options {
		b.options[opt.ID] = opt.Default
	}
}

// Option returns the effective value of a decoder option.
func (b *Base) Option(id string) any { return b.options[id] }

func coerceOption(def any, value any) (any, error) {
	s, isString := value.(string)
	if !isString {
		return value, nil
	}

	switch def.(type) {
	case int:
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("parsing %q as int: %w", s, err)
		}

		return n, nil
	case bool:
		switch s {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		default:
			return nil, fmt.Errorf("parsing %q as bool", s)
		}
	default:
		return s, nil
	}
}

// declaredIndex finds the declared-bit index of declaredID within
// Channels()+OptionalChannels(), in that order.
func (b *Base) declaredIndex(declaredID string) (int, bool) {
	i := 0

	for _, c := range b.meta.Channels {
		if c.ID == declaredID {
			return i, true
		}

		i++
	}

	for _, c := range b.meta.OptionalChannels {
		if c.ID == declaredID {
			return i, true
		}

		i++
	}

	return 0, false
}

// SetChannelnum binds declaredID to rawIndex, updating the one-to-one
// fast-path flag (true iff every binding so far maps declared bit equal
// to raw bit). An unknown declaredID silently no-ops: HasChannel returns
// false for it and decoders are expected to guard on that.
func (b *Base) SetChannelnum(declaredID string, rawIndex int) {
	declaredBit, ok := b.declaredIndex(declaredID)
	if !ok {
		b.log.Debug().Str("channel", declaredID).Msg("set_channelnum: unknown channel, ignored")
		return
	}

	b.declaredToRaw[declaredBit] = rawIndex

	if declaredBit != rawIndex {
		b.oneToOne = false
	}

	b.log.Debug().Str("channel", declaredID).Int("raw", rawIndex).Msg("channel bound")
}

// HasChannel reports whether declared bit declaredBit is bound.
func (b *Base) HasChannel(declaredBit int) bool {
	_, ok := b.declaredToRaw[declaredBit]
	return ok
}

// AddCallback registers fn against outputType, optionally filtered by
// name (annotation short name or binary track name); an empty filter
// matches everything.
func (b *Base) AddCallback(outputType hypha.OutputKind, filter string, fn hypha.Callback) {
	b.callbacks[outputType] = append(b.callbacks[outputType], filteredCallback{filter: filter, fn: fn})
}

// Put dispatches one output event to every registered callback whose
// filter matches.
func (b *Base) Put(start, end int64, outputType hypha.OutputKind, payload any) {
	name := b.filterName(outputType, payload)

	for _, cb := range b.callbacks[outputType] {
		if cb.filter != "" && cb.filter != name {
			continue
		}

		cb.fn(hypha.Output{Kind: outputType, Start: start, End: end, Payload: payload})
	}
}

func (b *Base) filterName(outputType hypha.OutputKind, payload any) string {
	switch outputType {
	case hypha.OutputAnn:
		ann, ok := payload.(hypha.Annotation)
		if !ok {
			return ""
		}

		for _, c := range b.meta.Annotations {
			if c.ID == ann.Class {
				return c.Name
			}
		}
	case hypha.OutputBinary:
		bin, ok := payload.(hypha.BinaryChunk)
		if !ok {
			return ""
		}

		for _, c := range b.meta.Binary {
			if c.ID == bin.Class {
				return c.Name
			}
		}
	}

	return ""
}

// BindCursor attaches the engine cursor this stage's Wait calls will
// drive. initial, if hasInitial, seeds the cursor's last-sample state
// before the first sample is observed.
func (b *Base) BindCursor(src engine.Source, initial hypha.Word, hasInitial bool) {
	if hasInitial {
		b.cursor = engine.NewCursorWithInitial(src, initial)
	} else {
		b.cursor = engine.NewCursor(src)
	}
}

// SampleNum is a read-through to the underlying cursor's position.
func (b *Base) SampleNum() int64 { return b.cursor.SampleNum() }

// Matched is a read-through to the underlying cursor's last match
// outcome.
func (b *Base) Matched() []bool { return b.cursor.Matched() }

// SetSampleRate records the sample rate the pipeline injects into the
// first stage; decoders that need timing override this and call through.
func (b *Base) SetSampleRate(rate uint64) { b.sampleRate = rate }

// SampleRate returns the last sample rate reported via SetSampleRate.
func (b *Base) SampleRate() uint64 { return b.sampleRate }

// Wait rewrites conds from declared to raw channel indices (skipping the
// rewrite when the binding is one-to-one), drives the underlying cursor,
// and projects the result onto a fixed-length SampleBits tuple sized
// declaredWidth(), with unbound declared channels reading Unbound.
func (b *Base) Wait(conds []hypha.Condition) (SampleBits, []bool, error) {
	raw := conds
	if !b.oneToOne {
		raw = make([]hypha.Condition, len(conds))
		for i, c := range conds {
			if c.IsSkip() {
				raw[i] = c
				continue
			}

			rawChannels := make(map[int]hypha.Edge, len(c.Channels))
			for declaredBit, edge := range c.Channels {
				if rawBit, ok := b.declaredToRaw[declaredBit]; ok {
					rawChannels[rawBit] = edge
				}
			}

			raw[i] = hypha.Condition{Channels: rawChannels}
		}
	}

	word, matched, err := b.cursor.Wait(raw)
	if err != nil {
		return nil, nil, err
	}

	width := b.declaredWidth()
	bits := make(SampleBits, width)

	for declaredBit := range bits {
		rawBit, ok := b.declaredToRaw[declaredBit]
		if !ok {
			bits[declaredBit] = Unbound
			continue
		}

		bits[declaredBit] = int8(word.Bit(rawBit))
	}

	return bits, matched, nil
}
