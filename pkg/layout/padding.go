package layout

import "math"

// PaddingBytes implements the free-space policy of spec.md §4.E: for an
// n-entry node/leaf with average entry size avgEntrySize, reserve
// ceil((maxEntries - n) * avgEntrySize * 1.1) trailing zero bytes so the
// record can grow in place before a rebuild is required.
func PaddingBytes(n, maxEntries int, avgEntrySize float64) int {
	remaining := maxEntries - n
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(float64(remaining) * avgEntrySize * 1.1))
}

// PaddingForMaxLength returns maxLength - bodyLength when a caller already
// knows the exact allocated size a record must fill (used by rebuild,
// which allocates a specific byte budget up front).
func PaddingForMaxLength(maxLength, bodyLength int) int {
	pad := maxLength - bodyLength
	if pad < 0 {
		return 0
	}
	return pad
}

// AverageEntrySize is a small helper for callers that have total encoded
// entry bytes and a count, used to derive avgEntrySize for PaddingBytes.
func AverageEntrySize(totalBytes, count int) float64 {
	if count == 0 {
		return 0
	}
	return float64(totalBytes) / float64(count)
}
