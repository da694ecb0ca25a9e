// Package srzip reads and writes the srzip session-archive format: a zip
// container carrying deflate-compressed logic and analog sample chunks
// plus an INI metadata entry.
package srzip

import (
	"archive/zip"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/mycophonic/hypha"
)

var probeKeyRE = regexp.MustCompile(`^probe(\d+)$`)
var analogKeyRE = regexp.MustCompile(`^analog(\d+)$`)

type logicProbe struct {
	rawBit int // 0-based bit position in the unitsize*8-bit raw word
	name   string
}

type analogChannel struct {
	k    int // the literal K used in analog-1-K-<n> filenames
	name string
}

// Reader is the concrete sample source backed by an srzip archive. It
// satisfies engine.Source.
type Reader struct {
	zr    *zip.ReadCloser
	files map[string]*zip.File

	version    int
	sampleRate uint64
	unitSize   int
	driver     string

	logicOutFrom map[int]int // out bit -> raw bit, nil when identity
	numLogic     int
	logicNames   []string

	analogChans []analogChannel

	initial    hypha.Word
	hasInitial bool

	// logic storage
	singlePart  []byte // non-nil in single-part mode
	multiPart   []byte // currently loaded part, in multi-part mode
	partIndex   int    // next part index to load (1-based)
	partLoadPos int64  // r.pos at which r.multiPart was loaded
	pos         int64  // next sample index to serve

	// analog storage
	analogBufs     [][]byte
	analogOffset   int64
	analogChunkLen int64
	analogIndex    int // next chunk index to load (1-based)

	// OutputPython emission, driven as a side effect of Next
	pythonCB   hypha.Callback
	lastWord   hypha.Word
	runStart   int64
	runStarted bool

	log zerolog.Logger
}

// SetLogger installs logger for the reader's own chunk-boundary debug
// logging (multi-part logic loads, analog chunk loads).
func (r *Reader) SetLogger(logger zerolog.Logger) {
	r.log = logger.With().Str("component", "srzip.reader").Logger()
}

// Open reads filename as an srzip archive. initial optionally maps a raw
// channel index to its level before the first sample, seeding the engine
// cursor's previous-sample state so edge predicates are evaluated on
// sample 0 against those levels; pass nil to seed from the first sample
// instead, so edges never fire on sample 0.
func Open(filename string, initial map[int]uint8) (*Reader, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("opening srzip archive: %w", err)
	}

	r := &Reader{zr: zr, files: map[string]*zip.File{}, log: zerolog.Nop()}
	for _, f := range zr.File {
		r.files[f.Name] = f
	}

	if err := r.init(initial); err != nil {
		zr.Close()
		return nil, err
	}

	return r, nil
}

func (r *Reader) init(initial map[int]uint8) error {
	versionBytes, err := r.readEntry("version")
	if err != nil {
		return hypha.NewFormatError("version", err)
	}

	v, err := strconv.Atoi(string(trimASCII(versionBytes)))
	if err != nil {
		return hypha.NewFormatError("version", fmt.Errorf("parsing version: %w", err))
	}

	if v != 1 && v != 2 {
		return hypha.NewFormatError("version", fmt.Errorf("unsupported version %d", v))
	}

	r.version = v

	metaBytes, err := r.readEntry("metadata")
	if err != nil {
		return hypha.NewFormatError("metadata", err)
	}

	sections := parseINI(metaBytes)

	dev, ok := sections["device 1"]
	if !ok {
		return hypha.NewFormatError("metadata", fmt.Errorf("missing [device 1] section"))
	}

	r.sampleRate = parseSampleRate(dev["samplerate"])
	r.driver = dev["driver"]

	unitSize, err := strconv.Atoi(dev["unitsize"])
	if err != nil || (unitSize != 1 && unitSize != 2 && unitSize != 4 && unitSize != 8) {
		return hypha.NewFormatError("metadata", fmt.Errorf("unsupported unitsize %q", dev["unitsize"]))
	}

	r.unitSize = unitSize

	if err := r.buildChannelLayout(dev); err != nil {
		return err
	}

	if len(initial) > 0 {
		var w hypha.Word
		for bit, level := range initial {
			if level != 0 {
				w |= 1 << uint(bit)
			}
		}

		if r.logicOutFrom != nil {
			w = hypha.RemapBits(w, r.logicOutFrom, r.numLogic)
		}

		r.initial = w
		r.hasInitial = true
	}

	if _, ok := r.files["logic-1"]; ok {
		data, err := r.readEntry("logic-1")
		if err != nil {
			return hypha.NewFormatError("logic-1", err)
		}

		r.singlePart = data
	} else {
		r.partIndex = 1
	}

	if len(r.analogChans) > 0 {
		r.analogBufs = make([][]byte, len(r.analogChans))
		r.analogIndex = 1
	}

	return nil
}

func (r *Reader) buildChannelLayout(dev map[string]string) error {
	var probes []logicProbe
	for key, name := range dev {
		m := probeKeyRE.FindStringSubmatch(key)
		if m == nil {
			continue
		}

		idx, _ := strconv.Atoi(m[1])
		probes = append(probes, logicProbe{rawBit: idx - 1, name: name})
	}

	sort.Slice(probes, func(i, j int) bool { return probes[i].rawBit < probes[j].rawBit })

	r.numLogic = len(probes)

	r.logicNames = make([]string, len(probes))
	for i, p := range probes {
		r.logicNames[i] = p.name
	}

	identity := true

	for outBit, p := range probes {
		if p.rawBit != outBit {
			identity = false
			break
		}
	}

	if !identity {
		r.logicOutFrom = make(map[int]int, len(probes))
		for outBit, p := range probes {
			r.logicOutFrom[outBit] = p.rawBit
		}
	}

	var analogs []analogChannel
	for key, name := range dev {
		m := analogKeyRE.FindStringSubmatch(key)
		if m == nil {
			continue
		}

		k, _ := strconv.Atoi(m[1])
		analogs = append(analogs, analogChannel{k: k, name: name})
	}

	sort.Slice(analogs, func(i, j int) bool { return analogs[i].k < analogs[j].k })
	r.analogChans = analogs

	return nil
}

// Version returns the archive's declared format version, 1 or 2.
func (r *Reader) Version() int { return r.version }

// SampleRate returns the archive's declared sample rate in Hz, or 0 if
// the metadata omitted or used an unparsable value.
func (r *Reader) SampleRate() uint64 { return r.sampleRate }

// Driver returns the archive's declared device driver name (empty if the
// metadata omitted it), used to tag a pipeline run's events for a
// driver-filtering sink like the srzip writer.
func (r *Reader) Driver() string { return r.driver }

// Initial returns the explicit initial-level word passed to Open, if
// any, for seeding engine.NewCursorWithInitial.
func (r *Reader) Initial() (hypha.Word, bool) { return r.initial, r.hasInitial }

// NumLogicChannels reports the width of the compacted logic channel set.
func (r *Reader) NumLogicChannels() int { return r.numLogic }

// LogicNames reports logic channel names in dense output-bit order,
// letting a CLI look up a raw channel index by name.
func (r *Reader) LogicNames() []string {
	return append([]string(nil), r.logicNames...)
}

// AnalogNames reports analog channel names in the order AnalogValues
// returns their levels.
func (r *Reader) AnalogNames() []string {
	names := make([]string, len(r.analogChans))
	for i, a := range r.analogChans {
		names[i] = a.name
	}

	return names
}

// SetCallback registers the OutputPython callback Next should drive as
// it advances: a run-length logic event each time the logic word changes
// (plus a final one at end-of-stream), and one analog event per sample
// when the archive carries analog channels. This is a side effect of
// whichever stage pulls samples through Next (the first decoder's own
// Wait loop, or the pipeline's own Next loop when it has no decoder
// stages), not a separate traversal.
func (r *Reader) SetCallback(cb hypha.Callback) { r.pythonCB = cb }

// Next implements engine.Source: it decodes the next logic sample word,
// compacting sparse raw bit positions into dense declared-channel order,
// and emits any registered OutputPython events as a side effect.
func (r *Reader) Next() (hypha.Word, bool, error) {
	raw, ok, err := r.nextRaw()
	if err != nil {
		return 0, false, err
	}

	if !ok {
		if r.pythonCB != nil && r.runStarted {
			r.pythonCB(hypha.Output{Kind: hypha.OutputPython, Start: r.runStart, End: r.pos, Payload: hypha.LogicRun{Word: r.lastWord}})
			r.runStarted = false
		}

		return 0, false, nil
	}

	word := raw
	if r.logicOutFrom != nil {
		word = hypha.RemapBits(raw, r.logicOutFrom, r.numLogic)
	}

	if r.pythonCB != nil {
		idx := r.pos - 1

		if !r.runStarted {
			r.runStarted = true
			r.lastWord = word
			r.runStart = idx
		} else if word != r.lastWord {
			r.pythonCB(hypha.Output{Kind: hypha.OutputPython, Start: r.runStart, End: idx, Payload: hypha.LogicRun{Word: r.lastWord}})

			r.lastWord = word
			r.runStart = idx
		}

		if len(r.analogChans) > 0 {
			vals, aerr := r.AnalogValues(idx)
			if aerr != nil {
				return 0, false, aerr
			}

			r.pythonCB(hypha.Output{Kind: hypha.OutputPython, Start: idx, End: idx + 1, Payload: hypha.AnalogSample{Values: vals}})
		}
	}

	return word, true, nil
}

// Run pumps the archive to end-of-stream, driving whatever OutputPython
// callback SetCallback registered, the same way pipeline.Runner pumps
// Next when it has no decoder stages. A clean exhaustion returns nil.
func (r *Reader) Run() error {
	for {
		_, ok, err := r.Next()
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}
	}
}

func (r *Reader) nextRaw() (hypha.Word, bool, error) {
	if r.singlePart != nil {
		total := int64(len(r.singlePart) / r.unitSize)
		if r.pos >= total {
			return 0, false, nil
		}

		off := int(r.pos) * r.unitSize
		word := decodeWord(r.singlePart[off : off+r.unitSize])
		r.pos++

		return word, true, nil
	}

	for {
		if r.multiPart != nil {
			avail := int64(len(r.multiPart) / r.unitSize)
			consumed := r.pos - r.partLoadPos

			if consumed < avail {
				off := int(consumed) * r.unitSize
				word := decodeWord(r.multiPart[off : off+r.unitSize])
				r.pos++

				return word, true, nil
			}

			r.multiPart = nil
		}

		name := fmt.Sprintf("logic-1-%d", r.partIndex)

		data, err := r.readEntry(name)
		if err != nil {
			r.log.Debug().Str("entry", name).Msg("no further logic parts: end of stream")
			return 0, false, nil // no further parts: clean end-of-stream
		}

		r.log.Debug().Str("entry", name).Int("bytes", len(data)).Msg("loaded logic part")

		r.multiPart = data
		r.partLoadPos = r.pos
		r.partIndex++
	}
}

// AnalogValues returns one float per analog channel for the given global
// sample index, loading the next chunk set when crossing a boundary.
func (r *Reader) AnalogValues(idx int64) ([]float32, error) {
	if len(r.analogChans) == 0 {
		return nil, nil
	}

	if r.analogBufs[0] == nil || idx >= r.analogOffset+r.analogChunkLen {
		if err := r.loadAnalogChunk(idx); err != nil {
			return nil, err
		}
	}

	local := idx - r.analogOffset

	vals := make([]float32, len(r.analogChans))
	for i, buf := range r.analogBufs {
		off := int(local) * 4
		bits := uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
		vals[i] = math.Float32frombits(bits)
	}

	return vals, nil
}

func (r *Reader) loadAnalogChunk(idx int64) error {
	bufs := make([][]byte, len(r.analogChans))

	for i, ch := range r.analogChans {
		name := fmt.Sprintf("analog-1-%d-%d", ch.k, r.analogIndex)

		data, err := r.readEntry(name)
		if err != nil {
			return hypha.NewFormatError(name, fmt.Errorf("missing analog chunk: %w", err))
		}

		bufs[i] = data
	}

	r.analogBufs = bufs
	r.analogOffset = idx
	r.analogChunkLen = int64(len(bufs[0]) / 4)
	r.analogIndex++

	r.log.Debug().Int64("offset", idx).Int64("len", r.analogChunkLen).Msg("loaded analog chunk")

	return nil
}

// Close releases the underlying zip reader.
func (r *Reader) Close() error { return r.zr.Close() }

func (r *Reader) readEntry(name string) ([]byte, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("entry %q not found", name)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

func decodeWord(b []byte) hypha.Word {
	var v uint64
	for i, by := range b {
		v |= uint64(by) << (8 * i)
	}

	return hypha.Word(v)
}

func trimASCII(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\n' || b[start] == '\r' || b[start] == '\t') {
		start++
	}

	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\r' || b[end-1] == '\t') {
		end--
	}

	return b[start:end]
}
