package tcalloc

import "math/bits"

// numClasses is the number of fixed size classes covering 16 B..32 KB.
const numClasses = 40

// minBlockSize is S[0]; maxBlockSize is S[39]. Both spec-mandated.
const (
	minBlockSize = 16
	maxBlockSize = 32768
)

// largeSpanClass is the sentinel class index stored in a span header when
// the span was carved directly by Buddy for a request above maxBlockSize.
const largeSpanClass = -1

// classSizes is the fixed, monotonically increasing size-class table.
// Growth is roughly 1.21x per step, so S[k]/S[k-1]-1 stays under 30%
// everywhere except the first two steps (16 -> 24 -> 32), where the 8-byte
// granularity forces a larger ratio. Every entry is an 8-byte multiple,
// generated once at init time the same way malloc/util.go's Blocksizes
// grows a schedule toward a target utilization ratio.
var classSizes [numClasses]int64

// classLookup maps bits.Len(uint(size-1)) (0..15, since maxBlockSize fits
// in 15 bits) to the first class index whose size could possibly satisfy a
// request with that many significant bits, giving ClassOf a short,
// bounded linear scan instead of a binary search — true O(1) rather than
// O(log 40).
var classLookup [16]int8

func init() {
	const growth = 1.21
	size := float64(minBlockSize)
	for k := 0; k < numClasses-1; k++ {
		classSizes[k] = roundUp8(int64(size))
		size *= growth
		if int64(size) <= classSizes[k] {
			size = float64(classSizes[k] + 8)
		}
	}
	classSizes[numClasses-1] = maxBlockSize
	if classSizes[numClasses-2] >= maxBlockSize {
		panic("tcalloc: size class schedule did not reach maxBlockSize monotonically")
	}

	for bucket := range classLookup {
		classLookup[bucket] = -1
	}
	for k, s := range classSizes {
		bucket := bits.Len(uint(s - 1))
		if classLookup[bucket] == -1 {
			classLookup[bucket] = int8(k)
		}
	}
	// Backfill: a bucket with no class starting in it inherits the next
	// higher bucket's first class (every request bit-length must resolve
	// to *some* class since maxBlockSize spans the largest bucket).
	next := int8(numClasses - 1)
	for bucket := len(classLookup) - 1; bucket >= 0; bucket-- {
		if classLookup[bucket] == -1 {
			classLookup[bucket] = next
		} else {
			next = classLookup[bucket]
		}
	}
}

func roundUp8(n int64) int64 {
	return (n + 7) &^ 7
}

// ClassOf returns the smallest size class whose block size is >= size, or
// -1 if size exceeds the largest class (the caller should route to Buddy
// directly in that case). Runs in O(1): one bits.Len call to pick a
// starting bucket, then a scan of at most a handful of classes to account
// for the schedule not aligning exactly to power-of-two boundaries.
func ClassOf(size int64) int {
	if size <= 0 {
		return 0
	}
	if size > maxBlockSize {
		return largeSpanClass
	}
	bucket := bits.Len(uint(size - 1))
	if bucket >= len(classLookup) {
		bucket = len(classLookup) - 1
	}
	for k := int(classLookup[bucket]); k < numClasses; k++ {
		if classSizes[k] >= size {
			return k
		}
	}
	return numClasses - 1
}

// ClassSize returns the block size in bytes for class index c.
func ClassSize(c int) int64 {
	return classSizes[c]
}
