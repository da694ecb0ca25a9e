// Package engine implements the sample-stepping primitive: given a source
// of sample words and a disjunction of match conditions, advance to the
// next sample satisfying any of them.
package engine

import "github.com/mycophonic/hypha"

// Source is the minimal contract a sample supplier implements. Next
// advances exactly one sample and reports ok=false at end of stream (no
// error); a non-nil err reports a format fault in the backing reader
// itself (e.g. a corrupt archive entry), distinct from ordinary
// exhaustion.
type Source interface {
	Next() (word hypha.Word, ok bool, err error)
	SampleRate() uint64
}
