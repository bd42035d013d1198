// Package textutil provides byte-level text helpers used when ingesting
// source files: binary detection and byte-slice reader adapters.
package textutil

import (
	"bytes"
	"io"
)

// BinarySniffLength is the maximum number of bytes scanned for null-byte
// detection. Matches the heuristic used by Git and most editors.
const BinarySniffLength = 8000

// IsBinary returns true if data contains a null byte within the first
// BinarySniffLength bytes. Empty data is not binary.
func IsBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	sniff := data
	if len(sniff) > BinarySniffLength {
		sniff = sniff[:BinarySniffLength]
	}

	return bytes.IndexByte(sniff, 0) >= 0
}

// BytesReader wraps a byte slice as an [io.ReadCloser].
// The returned closer is a no-op.
func BytesReader(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}
