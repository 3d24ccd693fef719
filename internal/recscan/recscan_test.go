package recscan_test

import (
	"encoding/binary"
	"testing"

	"github.com/fwemu/tools/internal/recscan"
	"github.com/google/go-cmp/cmp"
)

type pair struct{ A, B uint32 }

var spec = recscan.Spec[pair]{
	Marker: []byte("MK\x00"),
	Skip:   4,
	Pad:    4,
	Size:   8,
	Decode: func(buf []byte, off int) pair {
		return pair{binary.LittleEndian.Uint32(buf[off:]), binary.LittleEndian.Uint32(buf[off+4:])}
	},
	Valid: func(p pair, off int) bool { return off%4 == 0 && p.A != 0 && p.B == 0 },
}

func u32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

func cat(parts ...[]byte) []byte {
	var b []byte
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}

func TestFindFirstValid(t *testing.T) {
	buf := cat(
		[]byte("MK\x00\x00"), u32(1), u32(2), // invalid: B != 0
		[]byte("MK\x00\x00"), u32(0), u32(0), u32(7), u32(0), // valid after padding
		[]byte("MK\x00\x00"), u32(9), u32(0), // also valid, but later
	)
	m, ok := recscan.Find(buf, spec)
	if !ok {
		t.Fatal("Find: no match")
	}
	want := recscan.Match[pair]{Record: pair{7, 0}, Offset: 0x18, MarkerOffset: 0xc}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("Find: diff (-want +got):\n%s", diff)
	}
}

func TestFindNone(t *testing.T) {
	for _, tt := range []struct {
		name string
		buf  []byte
	}{
		{"no marker", cat(u32(1), u32(0))},
		{"truncated", cat([]byte("MK\x00\x00"), u32(1))},
		{"all zero", cat([]byte("MK\x00\x00"), u32(0), u32(0))},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if m, ok := recscan.Find(tt.buf, spec); ok {
				t.Errorf("Find = %+v, want no match", m)
			}
		})
	}
}

func TestCandidates(t *testing.T) {
	buf := cat([]byte("MK\x00\x00"), u32(1), u32(2), []byte("MK\x00\x00"), u32(3), u32(4))
	got := recscan.Candidates(buf, spec)
	if len(got) != 2 || got[0].Record != (pair{1, 2}) || got[1].Record != (pair{3, 4}) {
		t.Errorf("Candidates = %+v", got)
	}
}
