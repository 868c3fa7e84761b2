package features

import "fmt"

// ParseError means a source file could not be decoded into notes
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// MalformedInputError means notes were decoded but their timing is unusable
type MalformedInputError struct {
	File   string
	Index  int
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("malformed input %s: note %d: %s", e.File, e.Index, e.Reason)
	}
	return fmt.Sprintf("malformed input %s: %s", e.File, e.Reason)
}
