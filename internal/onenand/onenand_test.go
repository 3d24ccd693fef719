package onenand

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/fwemu/tools/internal/fault"
	"github.com/google/go-cmp/cmp"
)

const deviceSize = 0x4000000

const blockSize = SectorSize * SectorsPerBlock

type spare struct {
	Marker, Boot uint16
}

func parse(b []byte) spare {
	return spare{binary.LittleEndian.Uint16(b[2:]), binary.LittleEndian.Uint16(b[14:])}
}

func TestWrite(t *testing.T) {
	boot := bytes.Repeat([]byte{1}, blockSize)
	data := bytes.Repeat([]byte{2}, 2*blockSize)
	img, err := Write(boot, data, deviceSize)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(img.Data), deviceSize+deviceSize/SectorSize*SpareSize; got != want {
		t.Fatalf("len = %#x, want %#x", got, want)
	}
	sector := func(block, i int) int { return block*SectorsPerBlock + i }

	for _, tt := range []struct {
		name   string
		sector int
		want   spare
	}{
		{"boot block 0 sector 0", sector(0, 0), spare{0xffff, 0x5555}},
		{"boot block 0 sector 1", sector(0, 1), spare{0xffff, 0xffff}},
		{"data block 0 sector 0", sector(1, 0), spare{0, 0xffff}},
		{"data block 0 sector 1", sector(1, 1), spare{0, 0xffff}},
		{"data block 0 sector 2", sector(1, 2), spare{0, 0xffff}},
		{"data block 0 sector 3", sector(1, 3), spare{0xffff, 0xffff}},
		{"data block 1 sector 0", sector(2, 0), spare{0, 0xffff}},
		{"data block 1 sector 2", sector(2, 2), spare{1, 0xffff}},
		{"free block sector 2", sector(3, 2), spare{0xffff, 0xffff}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, parse(img.Spare(tt.sector))); diff != "" {
				t.Errorf("diff (-want +got):\n%s", diff)
			}
		})
	}

	raw := img.Spare(sector(1, 2))
	if !bytes.Equal(raw[:2], []byte{0xff, 0xff}) || !bytes.Equal(raw[4:14], bytes.Repeat([]byte{0xff}, 10)) {
		t.Errorf("spare padding not erased: %x", raw)
	}
	if got := img.Data[blockSize]; got != 2 {
		t.Errorf("data first byte = %#x, want 2", got)
	}
}

func TestWriteCapacity(t *testing.T) {
	_, err := Write(make([]byte, blockSize), make([]byte, blockSize+1), 2*blockSize)
	if !errors.Is(err, fault.ErrCapacityExceeded) {
		t.Fatalf("Write: got %v, want CapacityExceeded", err)
	}
}

func TestWriteFlat(t *testing.T) {
	payload := bytes.Repeat([]byte{7}, 3*blockSize)
	img, err := WriteFlat(payload, 8*blockSize)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Data[0]; got != 7 {
		t.Errorf("payload first byte = %#x, want 7", got)
	}
	var got []uint16
	for block := 0; block < 4; block++ {
		for i := 0; i < 4; i++ {
			got = append(got, parse(img.Spare(block*SectorsPerBlock+i)).Marker)
		}
	}
	want := []uint16{
		0, 0, 0, 0xffff,
		0, 0, 1, 0xffff,
		0, 0, 2, 0xffff,
		0xffff, 0xffff, 0xffff, 0xffff,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("markers: diff (-want +got):\n%s", diff)
	}
	if got := parse(img.Spare(0)).Boot; got != 0xffff {
		t.Errorf("boot marker = %#x, want 0xffff", got)
	}
}
