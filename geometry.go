package hdrhistogram

import "math"

// geometry holds the derived, immutable-after-construction bucket layout
// for a given (lowestDiscernibleValue, highestTrackableValue,
// significantDigits) triple. It is embedded by every histogram variant so
// the value<->index arithmetic lives in exactly one place.
type geometry struct {
	lowestDiscernibleValue  int64
	highestTrackableValue   int64
	significantDigits       int64
	unitMagnitude           int64
	subBucketHalfCountMag   int32
	subBucketHalfCount      int32
	subBucketMask           int64
	subBucketCount          int32
	bucketCount             int32
	countsArrayLength       int32
}

// newGeometry derives the bucket layout described in spec §3.1. It panics
// on malformed constructor arguments, matching the teacher's New()
// behavior: these are programmer errors caught at construction, not
// runtime record-time failures.
func newGeometry(lowestDiscernibleValue, highestTrackableValue int64, significantDigits int) geometry {
	if significantDigits < 0 || significantDigits > 5 {
		panic(errorf("significantDigits must be in [0,5] (was %d)", significantDigits))
	}
	if lowestDiscernibleValue < 1 {
		panic(errorf("lowestDiscernibleValue must be >= 1 (was %d)", lowestDiscernibleValue))
	}
	if highestTrackableValue < 2*lowestDiscernibleValue {
		panic(errorf("highestTrackableValue must be >= 2*lowestDiscernibleValue (was %d, lowest %d)",
			highestTrackableValue, lowestDiscernibleValue))
	}

	largestValueWithSingleUnitResolution := 2 * pow10(int64(significantDigits))

	// Pushed through float32 deliberately: this mirrors the source
	// library's derivation and keeps the magnitude boundary stable for
	// the sigfigs values this type supports (bucket counts stay powers
	// of two regardless).
	a := float32(math.Log(float64(largestValueWithSingleUnitResolution)))
	b := float32(math.Log(2))
	subBucketCountMagnitude := int32(math.Ceil(float64(a / b)))

	subBucketHalfCountMag := subBucketCountMagnitude
	if subBucketHalfCountMag < 1 {
		subBucketHalfCountMag = 1
	}
	subBucketHalfCountMag--

	unitMagnitude := int32(math.Floor(math.Log(float64(lowestDiscernibleValue)) / math.Log(2)))
	if unitMagnitude < 0 {
		unitMagnitude = 0
	}

	subBucketCount := int32(math.Pow(2, float64(subBucketHalfCountMag)+1))
	subBucketHalfCount := subBucketCount / 2
	subBucketMask := int64(subBucketCount-1) << uint(unitMagnitude)

	trackableValue := int64(subBucketCount - 1)
	bucketsNeeded := int32(1)
	for trackableValue < highestTrackableValue {
		trackableValue <<= 1
		bucketsNeeded++
	}
	bucketCount := bucketsNeeded
	countsArrayLength := (bucketCount + 1) * (subBucketCount / 2)

	return geometry{
		lowestDiscernibleValue: lowestDiscernibleValue,
		highestTrackableValue:  highestTrackableValue,
		significantDigits:      int64(significantDigits),
		unitMagnitude:          int64(unitMagnitude),
		subBucketHalfCountMag:  subBucketHalfCountMag,
		subBucketHalfCount:     subBucketHalfCount,
		subBucketMask:          subBucketMask,
		subBucketCount:         subBucketCount,
		bucketCount:            bucketCount,
		countsArrayLength:      countsArrayLength,
	}
}

func (g geometry) getBucketIndex(v int64) int32 {
	pow2Ceiling := bitLen(v | g.subBucketMask)
	return int32(pow2Ceiling - g.unitMagnitude - int64(g.subBucketHalfCountMag+1))
}

func (g geometry) getSubBucketIdx(v int64, bucketIdx int32) int32 {
	return int32(v >> uint(int64(bucketIdx)+g.unitMagnitude))
}

func (g geometry) countsIndex(bucketIdx, subBucketIdx int32) int32 {
	bucketBaseIdx := (bucketIdx + 1) << uint(g.subBucketHalfCountMag)
	offsetInBucket := subBucketIdx - g.subBucketHalfCount
	return bucketBaseIdx + offsetInBucket
}

// indexFor returns the counts[] offset for v, or -1 if v exceeds the
// geometry's trackable range (spec §4.1).
func (g geometry) indexFor(v int64) int32 {
	if v > g.highestTrackableValue {
		return -1
	}
	bucketIdx := g.getBucketIndex(v)
	subBucketIdx := g.getSubBucketIdx(v, bucketIdx)
	idx := g.countsIndex(bucketIdx, subBucketIdx)
	if idx < 0 || idx >= g.countsArrayLength {
		return -1
	}
	return idx
}

func (g geometry) valueFromIndex(bucketIdx, subBucketIdx int32) int64 {
	return int64(subBucketIdx) << uint(int64(bucketIdx)+g.unitMagnitude)
}

// valueFromCountsIndex is the inverse of indexFor/countsIndex (spec §4.1's
// "Inverse mapping").
func (g geometry) valueFromCountsIndex(countsIdx int32) int64 {
	bucketIdx := (countsIdx >> uint(g.subBucketHalfCountMag)) - 1
	var subBucketIdx int32
	if bucketIdx < 0 {
		bucketIdx = 0
		subBucketIdx = countsIdx
	} else {
		subBucketIdx = (countsIdx & (g.subBucketHalfCount - 1)) + g.subBucketHalfCount
	}
	return g.valueFromIndex(bucketIdx, subBucketIdx)
}

func (g geometry) sizeOfEquivalentValueRange(v int64) int64 {
	bucketIdx := g.getBucketIndex(v)
	subBucketIdx := g.getSubBucketIdx(v, bucketIdx)
	adjustedBucket := bucketIdx
	if subBucketIdx >= g.subBucketCount {
		adjustedBucket++
	}
	return int64(1) << uint(g.unitMagnitude+int64(adjustedBucket))
}

func (g geometry) lowestEquivalentValue(v int64) int64 {
	bucketIdx := g.getBucketIndex(v)
	subBucketIdx := g.getSubBucketIdx(v, bucketIdx)
	return g.valueFromIndex(bucketIdx, subBucketIdx)
}

func (g geometry) nextNonEquivalentValue(v int64) int64 {
	return g.lowestEquivalentValue(v) + g.sizeOfEquivalentValueRange(v)
}

func (g geometry) highestEquivalentValue(v int64) int64 {
	return g.nextNonEquivalentValue(v) - 1
}

func (g geometry) medianEquivalentValue(v int64) int64 {
	return g.lowestEquivalentValue(v) + (g.sizeOfEquivalentValueRange(v) >> 1)
}

// sameGeometry reports whether two geometries produce identical counts[]
// layouts, used to validate recycle buffers. Add and Subtract do not use
// it: they re-bucket by value instead.
func (g geometry) sameGeometry(other geometry) bool {
	return g.lowestDiscernibleValue == other.lowestDiscernibleValue &&
		g.highestTrackableValue == other.highestTrackableValue &&
		g.significantDigits == other.significantDigits
}

func bitLen(x int64) (n int64) {
	for ; x >= 0x8000; x >>= 16 {
		n += 16
	}
	if x >= 0x80 {
		x >>= 8
		n += 8
	}
	if x >= 0x8 {
		x >>= 4
		n += 4
	}
	if x >= 0x2 {
		x >>= 2
		n += 2
	}
	if x >= 0x1 {
		n++
	}
	return
}

func pow10(exp int64) (n int64) {
	n = 1
	for ; exp > 0; exp-- {
		n *= 10
	}
	return
}
