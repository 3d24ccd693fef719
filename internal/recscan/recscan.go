// Package recscan locates fixed-size records that follow a marker in a
// binary blob without any symbol information.
package recscan

import "bytes"

// Spec describes where a record sits relative to its marker.
type Spec[T any] struct {
	Marker []byte
	// Skip is the distance from the start of the marker to the first word
	// that may belong to the record.
	Skip int
	// Pad is the unit of zero padding between the marker and the record.
	// Whole zero units are skipped; zero disables skipping.
	Pad int
	// Size is the number of bytes Decode reads.
	Size int
	// Decode reads the record at buf[off:off+Size].
	Decode func(buf []byte, off int) T
	// Valid reports whether a decoded record at off is acceptable.
	Valid func(rec T, off int) bool
}

// Match is a record that satisfied Spec.Valid.
type Match[T any] struct {
	Record T
	// Offset of the record in the scanned buffer.
	Offset int
	// MarkerOffset is the offset of the marker the record belongs to.
	MarkerOffset int
}

// Find returns the first record, in marker order, that validates. Records
// that would extend past the end of buf are not considered.
func Find[T any](buf []byte, s Spec[T]) (Match[T], bool) {
	for _, m := range Candidates(buf, s) {
		if s.Valid == nil || s.Valid(m.Record, m.Offset) {
			return m, true
		}
	}
	return Match[T]{}, false
}

// Candidates returns every decodable record, valid or not, in marker order.
func Candidates[T any](buf []byte, s Spec[T]) []Match[T] {
	var all []Match[T]
	for start := 0; start < len(buf); {
		i := bytes.Index(buf[start:], s.Marker)
		if i == -1 {
			break
		}
		marker := start + i
		start = marker + 1

		off := marker + s.Skip
		if s.Pad > 0 {
			zero := make([]byte, s.Pad)
			for off+s.Pad <= len(buf) && bytes.Equal(buf[off:off+s.Pad], zero) {
				off += s.Pad
			}
		}
		if off < 0 || off+s.Size > len(buf) {
			continue
		}
		all = append(all, Match[T]{
			Record:       s.Decode(buf, off),
			Offset:       off,
			MarkerOffset: marker,
		})
	}
	return all
}
