// Package invariant defines the error raised when simulation state breaks one
// of its structural guarantees (negative edge weights, prominence sums above 1,
// clusters that are no longer contiguous). These are programming errors in the
// propagation math, so callers abort the affected step instead of clamping.
package invariant

import (
	"errors"
	"fmt"
)

// ErrViolation is matched by every *Violation via errors.Is.
var ErrViolation = errors.New("invariant violation")

// Violation describes a broken invariant and where it was detected.
type Violation struct {
	Op     string // operation that detected the fault, e.g. "field.update"
	Detail string
}

// Error implements error.
func (v *Violation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", v.Op, v.Detail)
}

// Is reports whether target is ErrViolation.
func (v *Violation) Is(target error) bool {
	return target == ErrViolation
}

// New returns a Violation for op with a formatted detail message.
func New(op, format string, args ...any) error {
	return &Violation{Op: op, Detail: fmt.Sprintf(format, args...)}
}
