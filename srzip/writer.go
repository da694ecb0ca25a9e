package srzip

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/rs/zerolog"

	"github.com/mycophonic/hypha"
)

// chunkSize is the byte threshold at which a logic or analog buffer
// flushes to a new archive entry.
const chunkSize = 4 * 1024 * 1024

// Writer streams logic and analog events into a deflate-compressed srzip
// archive. Decoder-derived annotations have no round-trip representation
// in the format, so Writer only consumes raw logic/analog events; callers
// assembling a pipeline must reject a decoder chain feeding a Writer
// before construction.
type Writer struct {
	zw     *zip.Writer
	closer io.Closer // non-nil when the underlying io.Writer also needs closing

	driver     string
	unitSize   int
	numLogic   int
	analogKs   []int
	analogBufs [][]byte

	logicBuf        []byte
	logicChunkIndex int
	analogChunk     int

	log zerolog.Logger
}

// SetLogger attaches a logger for chunk-boundary debug logging.
func (w *Writer) SetLogger(logger zerolog.Logger) {
	w.log = logger.With().Str("component", "srzip.writer").Logger()
}

// NewWriter opens w for srzip writing. driver names the event source
// whose output() calls are persisted (events tagged with any other driver
// are dropped); logicNames and analogNames give the ordered channel
// tables written to metadata.
func NewWriter(w io.Writer, driver string, sampleRate uint64, logicNames, analogNames []string) (*Writer, error) {
	zw := zip.NewWriter(w)

	unitSize := len(logicNames)/8 + 1

	wr := &Writer{
		zw:       zw,
		driver:   driver,
		unitSize: unitSize,
		numLogic: len(logicNames),
		log:      zerolog.Nop(),
	}

	wr.analogKs = make([]int, len(analogNames))
	for i := range analogNames {
		wr.analogKs[i] = len(logicNames) + i + 1
	}

	wr.analogBufs = make([][]byte, len(analogNames))

	if closer, ok := w.(io.Closer); ok {
		wr.closer = closer
	}

	if err := writeZipEntry(zw, "version", []byte("2")); err != nil {
		return nil, fmt.Errorf("writing version entry: %w", err)
	}

	meta := wr.renderMetadata(sampleRate, logicNames, analogNames)
	if err := writeZipEntry(zw, "metadata", meta); err != nil {
		return nil, fmt.Errorf("writing metadata entry: %w", err)
	}

	return wr, nil
}

// Create opens path as a new srzip archive for writing.
func Create(path string, driver string, sampleRate uint64, logicNames, analogNames []string) (*Writer, error) {
	f, err := os.Create(path) //nolint:gosec // caller-specified archive destination.
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}

	w, err := NewWriter(f, driver, sampleRate, logicNames, analogNames)
	if err != nil {
		f.Close()
		return nil, err
	}

	w.closer = f

	return w, nil
}

func (w *Writer) renderMetadata(sampleRate uint64, logicNames, analogNames []string) []byte {
	dev := iniSection{name: "device 1"}
	dev.entries = append(dev.entries,
		iniKV{"driver", w.driver},
		iniKV{"samplerate", fmt.Sprintf("%d", sampleRate)},
		iniKV{"capturefile", "logic-1"},
		iniKV{"unitsize", fmt.Sprintf("%d", w.unitSize)},
		iniKV{"total probes", fmt.Sprintf("%d", len(logicNames))},
	)

	for i, name := range logicNames {
		dev.entries = append(dev.entries, iniKV{fmt.Sprintf("probe%d", i+1), name})
	}

	if len(analogNames) > 0 {
		dev.entries = append(dev.entries, iniKV{"total analog", fmt.Sprintf("%d", len(analogNames))})

		for i, name := range analogNames {
			dev.entries = append(dev.entries, iniKV{fmt.Sprintf("analog%d", w.analogKs[i]), name})
		}
	}

	global := iniSection{name: "global", entries: []iniKV{{"pysigrok version", "0.1.0"}}}

	return renderINI([]iniSection{global, dev})
}

// Output persists an event if it originated from the configured driver;
// events from any other source are dropped silently.
func (w *Writer) Output(driver string, out hypha.Output) error {
	if driver != w.driver {
		return nil
	}

	switch p := out.Payload.(type) {
	case hypha.LogicRun:
		return w.appendLogic(p.Word, out.End-out.Start)
	case hypha.AnalogSample:
		return w.appendAnalog(p.Values)
	default:
		return nil
	}
}

func (w *Writer) appendLogic(word hypha.Word, count int64) error {
	for i := int64(0); i < count; i++ {
		v := uint64(word)
		for b := 0; b < w.unitSize; b++ {
			w.logicBuf = append(w.logicBuf, byte(v>>(8*b)))
		}

		if len(w.logicBuf) >= chunkSize {
			if err := w.flushLogic(); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *Writer) flushLogic() error {
	if len(w.logicBuf) == 0 {
		return nil
	}

	name := fmt.Sprintf("logic-1-%d", w.logicChunkIndex+1)
	if err := writeZipEntry(w.zw, name, w.logicBuf); err != nil {
		return fmt.Errorf("flushing %s: %w", name, err)
	}

	w.log.Debug().Str("entry", name).Int("bytes", len(w.logicBuf)).Msg("flushed logic chunk")

	w.logicChunkIndex++
	w.logicBuf = nil

	return nil
}

func (w *Writer) appendAnalog(values []float32) error {
	if len(values) != len(w.analogBufs) {
		return fmt.Errorf("srzip: analog sample has %d values, archive declares %d channels", len(values), len(w.analogBufs))
	}

	full := false

	for i, v := range values {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		w.analogBufs[i] = append(w.analogBufs[i], b[:]...)

		if len(w.analogBufs[i]) >= chunkSize {
			full = true
		}
	}

	if full {
		return w.flushAnalog()
	}

	return nil
}

func (w *Writer) flushAnalog() error {
	pending := false
	for _, buf := range w.analogBufs {
		if len(buf) > 0 {
			pending = true
			break
		}
	}

	if !pending {
		return nil
	}

	for i, buf := range w.analogBufs {
		if len(buf) == 0 {
			continue
		}

		name := fmt.Sprintf("analog-1-%d-%d", w.analogKs[i], w.analogChunk+1)
		if err := writeZipEntry(w.zw, name, buf); err != nil {
			return fmt.Errorf("flushing %s: %w", name, err)
		}

		w.analogBufs[i] = nil
	}

	w.log.Debug().Int("chunk", w.analogChunk+1).Int("channels", len(w.analogBufs)).Msg("flushed analog chunk")

	w.analogChunk++

	return nil
}

// Close flushes any residual buffered samples and finalizes the archive.
func (w *Writer) Close() error {
	if err := w.flushLogic(); err != nil {
		return err
	}

	if err := w.flushAnalog(); err != nil {
		return err
	}

	if err := w.zw.Close(); err != nil {
		return fmt.Errorf("closing srzip archive: %w", err)
	}

	if w.closer != nil {
		return w.closer.Close()
	}

	return nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	fh := &zip.FileHeader{Name: name, Method: zip.Deflate}

	fw, err := zw.CreateHeader(fh)
	if err != nil {
		return err
	}

	_, err = fw.Write(data)

	return err
}
