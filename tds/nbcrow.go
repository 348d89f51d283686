package tds

import "github.com/ha1tch/gotds/internal/wire"

// readNullBitmap reads the NBCROW null-bitmap: ceil(numCols/8) bytes,
// one bit per column in column order, set meaning NULL. Bit layout is
// little-endian within each byte (bit 0 of byte 0 is column 0).
func readNullBitmap(r *wire.Reader, numCols int) ([]byte, error) {
	n := (numCols + 7) / 8
	return r.Raw(n)
}

// isNullInBitmap reports whether column index i is marked NULL in bitmap.
func isNullInBitmap(bitmap []byte, i int) bool {
	byteIdx := i / 8
	bitIdx := uint(i % 8)
	if byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<bitIdx) != 0
}
