package tcalloc

import "runtime"

// goroutineID returns a stable identifier for the calling goroutine.
//
// Go deliberately does not expose one; the technique below — parsing the
// "goroutine N [" prefix out of a small runtime.Stack capture — is the
// same family of trick the retrieved corpus uses to derive a per-caller
// value without cgo or assembly (xDarkicex-slabby's getCurrentCPUID hashes
// the whole captured stack for a similar purpose). We parse the number
// directly instead of hashing it: goroutine numbers are assigned
// monotonically and never reused while the goroutine is alive, which is
// exactly the property span ownership needs.
//
// Every Malloc/Free call pays for this: there is no cheaper way in pure
// Go to name "the calling goroutine" before that name can be used as a
// directory key. What stays off the hot path is the directory lookup
// itself (see heapdir.go) — the stack-walk result feeds a sync.Map read
// that takes no lock once the goroutine has registered once.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGoroutineID(buf[:n])
}

// parseGoroutineID extracts N from a "goroutine N [running]:\n..." header.
func parseGoroutineID(stack []byte) uint64 {
	const prefix = "goroutine "
	if len(stack) <= len(prefix) {
		return 0
	}
	for i := 0; i < len(prefix); i++ {
		if stack[i] != prefix[i] {
			return 0
		}
	}
	var id uint64
	i := len(prefix)
	for i < len(stack) && stack[i] >= '0' && stack[i] <= '9' {
		id = id*10 + uint64(stack[i]-'0')
		i++
	}
	return id
}
