package hypha

import (
	"bytes"

	"github.com/icza/bitio"
)

// RemapBits rebuilds a word of the given bit width by moving, for each
// output bit position present in toFrom, the corresponding input bit out
// of word. Output positions with no entry in toFrom read as 0. The srzip
// reader uses this to compact sparse probe numbering into a dense channel
// layout.
//
// width must not exceed 64.
func RemapBits(word Word, toFrom map[int]int, width int) Word {
	if width <= 0 {
		return 0
	}
	if width > 64 {
		panic("hypha: RemapBits width exceeds 64 bits")
	}

	var buf bytes.Buffer

	// bitio packs MSB-first, so the first bit written becomes the high
	// bit of the value br.Read assembles: write from width-1 down to 0
	// so output bit 0 (Word's LSB) ends up as the last, least-significant
	// bit written.
	bw := bitio.NewWriter(&buf)
	for out := width - 1; out >= 0; out-- {
		var bit uint64
		if in, ok := toFrom[out]; ok {
			bit = uint64(word.Bit(in))
		}
		// WriteBits errors only on a failing io.Writer; bytes.Buffer never fails.
		_ = bw.WriteBits(bit, 1)
	}
	_ = bw.Close()

	br := bitio.NewReader(bytes.NewReader(buf.Bytes()))

	v, _ := br.Read(uint8(width))

	return Word(v)
}
