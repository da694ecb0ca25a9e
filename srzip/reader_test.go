package srzip

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"strconv"
	"testing"

	"github.com/mycophonic/hypha"
)

func writeTestArchive(t *testing.T, entries map[string][]byte) string {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "srzip-*.zip")
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zw.Create(%q) error = %v", name, err)
		}

		if _, err := w.Write(data); err != nil {
			t.Fatalf("writing entry %q: %v", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("zw.Close() error = %v", err)
	}

	return f.Name()
}

func singlePartMetadata(samplerate string, unitsize int, probes []string) []byte {
	var buf bytes.Buffer

	buf.WriteString("[device 1]\n")
	buf.WriteString("driver = test\n")
	buf.WriteString("samplerate = " + samplerate + "\n")
	buf.WriteString("capturefile = logic-1\n")
	buf.WriteString("unitsize = " + strconv.Itoa(unitsize) + "\n")
	buf.WriteString("total probes = " + strconv.Itoa(len(probes)) + "\n")

	for i, name := range probes {
		buf.WriteString("probe" + strconv.Itoa(i+1) + " = " + name + "\n")
	}

	return buf.Bytes()
}

func TestReaderSinglePartLogic(t *testing.T) {
	path := writeTestArchive(t, map[string][]byte{
		"version":  []byte("2"),
		"metadata": singlePartMetadata("1000000", 1, []string{"D0"}),
		"logic-1":  {0xFF, 0x00, 0xFF, 0xFF, 0x7E, 0x7E, 0xFF},
	})

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	if r.SampleRate() != 1_000_000 {
		t.Fatalf("SampleRate() = %d, want 1000000", r.SampleRate())
	}

	var got []hypha.Word
	for {
		w, ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if !ok {
			break
		}
		got = append(got, w)
	}

	want := []hypha.Word{0xFF, 0x00, 0xFF, 0xFF, 0x7E, 0x7E, 0xFF}
	if len(got) != len(want) {
		t.Fatalf("read %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestReaderSparseProbeCompaction(t *testing.T) {
	// probe1 and probe3 exist (raw bits 0 and 2); probe2 is absent, so
	// declared bit 1 reads from raw bit 2.
	meta := singlePartMetadata("0", 1, nil)
	meta = bytes.Replace(meta, []byte("total probes = 0\n"), []byte("total probes = 2\nprobe1 = D0\nprobe3 = D2\n"), 1)

	path := writeTestArchive(t, map[string][]byte{
		"version":  []byte("2"),
		"metadata": meta,
		"logic-1":  {0x04}, // raw bit 2 set, raw bit 0 clear
	})

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	if r.NumLogicChannels() != 2 {
		t.Fatalf("NumLogicChannels() = %d, want 2", r.NumLogicChannels())
	}

	w, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", w, ok, err)
	}

	if w.Bit(0) != 0 || w.Bit(1) != 1 {
		t.Fatalf("compacted word = %#x, want bit0=0 bit1=1", w)
	}
}

func TestSampleRateParsing(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"20 MHz", 20_000_000},
		{"1000000", 1_000_000},
		{"500kHz", 500_000},
		{"", 0},
		{"garbage", 0},
	}

	for _, tc := range cases {
		if got := parseSampleRate(tc.in); got != tc.want {
			t.Errorf("parseSampleRate(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestReaderMultiPartExhaustion(t *testing.T) {
	path := writeTestArchive(t, map[string][]byte{
		"version":   []byte("2"),
		"metadata":  singlePartMetadata("0", 1, []string{"D0"}),
		"logic-1-1": {0, 1, 0, 1},
	})

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	want := []hypha.Word{0, 1, 0, 1}
	for i, w := range want {
		got, ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next() #%d error = %v", i, err)
		}
		if !ok {
			t.Fatalf("Next() #%d: unexpected exhaustion", i)
		}
		if got != w {
			t.Errorf("Next() #%d = %#x, want %#x", i, got, w)
		}
	}

	_, ok, err := r.Next()
	if err != nil {
		t.Fatalf("Next() final error = %v", err)
	}
	if ok {
		t.Fatalf("Next() after exhaustion: ok = true, want false")
	}
}

func TestReaderRunEmitsFinalRunLengthEvent(t *testing.T) {
	path := writeTestArchive(t, map[string][]byte{
		"version":   []byte("2"),
		"metadata":  singlePartMetadata("0", 1, []string{"D0"}),
		"logic-1-1": {0, 1, 0, 1},
	})

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	var events []hypha.Output
	r.SetCallback(func(out hypha.Output) { events = append(events, out) })

	if err := r.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(events) == 0 {
		t.Fatal("Run() produced no events")
	}

	last := events[len(events)-1]

	run, ok := last.Payload.(hypha.LogicRun)
	if !ok {
		t.Fatalf("last event payload = %T, want hypha.LogicRun", last.Payload)
	}

	if run.Word != 1 || last.Start != 3 || last.End != 4 {
		t.Fatalf("last event = %+v, want word=1 start=3 end=4", last)
	}
}

func TestReaderRejectsUnsupportedUnitsize(t *testing.T) {
	path := writeTestArchive(t, map[string][]byte{
		"version":  []byte("2"),
		"metadata": singlePartMetadata("0", 3, []string{"D0"}),
		"logic-1":  {0, 0, 0},
	})

	_, err := Open(path, nil)

	var fe *hypha.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("Open() with unitsize=3: error = %v, want *hypha.FormatError", err)
	}
}

func TestReaderEmitsTerminalEventOnlyOnce(t *testing.T) {
	path := writeTestArchive(t, map[string][]byte{
		"version":   []byte("2"),
		"metadata":  singlePartMetadata("0", 1, []string{"D0"}),
		"logic-1-1": {1, 1},
	})

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	var events int
	r.SetCallback(func(out hypha.Output) { events++ })

	if err := r.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	after := events

	// a further Next on an exhausted reader must not replay the terminal
	// run-length event.
	if _, ok, err := r.Next(); ok || err != nil {
		t.Fatalf("Next() after exhaustion = ok=%v err=%v, want false, nil", ok, err)
	}

	if events != after {
		t.Fatalf("terminal event emitted again: %d events, want %d", events, after)
	}
}

func TestReaderRejectsMissingVersion(t *testing.T) {
	path := writeTestArchive(t, map[string][]byte{
		"metadata": singlePartMetadata("0", 1, []string{"D0"}),
		"logic-1":  {0},
	})

	_, err := Open(path, nil)

	var fe *hypha.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("Open() error = %v, want *hypha.FormatError", err)
	}
}
