package tds

import (
	"github.com/ha1tch/gotds/internal/wire"
)

// plpUnknownLength is the sentinel total-length value meaning the server
// did not report a total size up front; the value must be assembled from
// chunks until a zero-length terminator chunk appears.
const plpUnknownLength = 0xFFFFFFFFFFFFFFFF

// readPLP reads a Partially Length-Prefixed value: an 8-byte total
// length (or the unknown-length sentinel), followed by a sequence of
// 4-byte chunk-length + chunk-bytes pairs, terminated by a zero-length
// chunk. A total length of 0xFFFFFFFFFFFFFFFE (PLP_NULL) means the value
// itself is NULL.
func readPLP(r *wire.Reader) ([]byte, bool, error) {
	total, err := r.Uint64LE()
	if err != nil {
		return nil, false, err
	}
	if total == 0xFFFFFFFFFFFFFFFE {
		return nil, true, nil // PLP NULL
	}

	var out []byte
	if total != plpUnknownLength && total < 1<<32 {
		out = make([]byte, 0, total)
	}

	for {
		chunkLen, err := r.Uint32LE()
		if err != nil {
			return nil, false, err
		}
		if chunkLen == 0 {
			break
		}
		chunk, err := r.Raw(int(chunkLen))
		if err != nil {
			return nil, false, err
		}
		out = append(out, chunk...)
	}

	return out, false, nil
}
