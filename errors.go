package tcalloc

import (
	"errors"
	"fmt"

	"github.com/prataprc/tcalloc/internal/alog"
)

// ErrOutOfAddress is returned when the buddy allocator cannot satisfy a
// span request because the arena is exhausted.
var ErrOutOfAddress = errors.New("tcalloc: out of address space")

// ErrOversizedRequest is returned when a request exceeds the maximum
// representable allocation (a Buddy order above maxBuddyOrder), or when
// AlignedAlloc is asked for an alignment of spanSize or more.
var ErrOversizedRequest = errors.New("tcalloc: requested size too large")

// ErrInvalidArgument is returned for malformed calloc/alignment arguments,
// such as an overflowing n*size or a non-power-of-two alignment.
var ErrInvalidArgument = errors.New("tcalloc: invalid argument")

// ErrInvalidFree marks a panicCorruption raised by Free's own check (a
// pointer outside the arena) rather than an internal invariant violation
// discovered elsewhere in the allocator. Double frees are not detected.
var ErrInvalidFree = errors.New("tcalloc: invalid free")

// panicCorruption aborts the process on detected heap corruption, mirroring
// malloc/util.go's panicerr: InvalidFree is not a recoverable condition per
// spec, so we log then panic instead of returning an error.
func panicCorruption(fmsg string, args ...interface{}) {
	err := fmt.Errorf(fmsg, args...)
	alog.Fatalf("tcalloc: corruption detected: %v", err)
	panic(err)
}
