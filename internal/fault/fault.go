// Package fault defines the errors that abort an image build.
//
// Every error is fatal: callers must not emit a partially built image or
// kernel once one of these has been returned.
package fault

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrStructuralMismatch = errors.New("structural mismatch")
	ErrSizeOverflow       = errors.New("size overflow")
)

// CapacityExceeded reports a region that does not fit its byte or block
// budget.
type CapacityExceeded struct {
	Region string
	Size   int
	Limit  int
}

func (e *CapacityExceeded) Error() string {
	return fmt.Sprintf("%s: %d bytes (%#x) do not fit into %d bytes (%#x)",
		e.Region, e.Size, e.Size, e.Limit, e.Limit)
}

func (e *CapacityExceeded) Is(target error) bool { return target == ErrCapacityExceeded }

// StructuralMismatch reports a code or data pattern that was not found or
// failed validation. Offset is -1 when no single location applies.
type StructuralMismatch struct {
	What   string
	Offset int
	Want   string
	Got    string
}

func (e *StructuralMismatch) Error() string {
	msg := e.What
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at %#x", e.Offset)
	}
	if e.Want != "" || e.Got != "" {
		msg += fmt.Sprintf(": got %s, want %s", e.Got, e.Want)
	}
	return msg
}

func (e *StructuralMismatch) Is(target error) bool { return target == ErrStructuralMismatch }

// SizeOverflow reports a recompressed payload that exceeds its reserved slot.
type SizeOverflow struct {
	Size     int
	Reserved int
}

func (e *SizeOverflow) Error() string {
	return fmt.Sprintf("compressed size %d (%#x) exceeds reserved %d (%#x)",
		e.Size, e.Size, e.Reserved, e.Reserved)
}

func (e *SizeOverflow) Is(target error) bool { return target == ErrSizeOverflow }

// Mismatch is shorthand for a StructuralMismatch without expected/found
// detail.
func Mismatch(what string, offset int) error {
	return &StructuralMismatch{What: what, Offset: offset}
}
