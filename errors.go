package hypha

import (
	"errors"
	"fmt"
)

// ErrEndOfStream signals that the sample source has no further samples.
// It is the normal termination signal for a decoder's Run loop and is
// checked with errors.Is, never type-asserted.
var ErrEndOfStream = errors.New("hypha: end of stream")

// ConfigError reports a problem in how the pipeline was assembled: an
// unknown decoder id, an unsupported output format, an invalid trigger
// spec, or a writer asked to persist decoder-derived annotations. Config
// errors surface immediately at construction time and are never retried.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("hypha: config error in %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err as a ConfigError attributed to op.
func NewConfigError(op string, err error) error {
	return &ConfigError{Op: op, Err: err}
}

// FormatError reports a malformed srzip archive: a missing required entry,
// unparsable metadata, or an unsupported unitsize. Format errors surface at
// reader construction or at the first Wait call that needs the entry.
type FormatError struct {
	Entry string
	Err   error
}

func (e *FormatError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("hypha: format error: %v", e.Err)
	}
	return fmt.Sprintf("hypha: format error in %s: %v", e.Entry, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// NewFormatError wraps err as a FormatError attributed to the named
// archive entry (empty if the problem isn't entry-specific).
func NewFormatError(entry string, err error) error {
	return &FormatError{Entry: entry, Err: err}
}
