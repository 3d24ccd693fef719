package emmc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fwemu/tools/internal/fault"
)

func TestWrite(t *testing.T) {
	const size = 0x100000
	boot := []byte("boot")
	data := bytes.Repeat([]byte{0xaa}, 0x1000)
	img, err := Write(boot, data, size)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(img), 0x40000+size; got != want {
		t.Fatalf("len = %#x, want %#x", got, want)
	}
	if !bytes.HasPrefix(img, boot) {
		t.Errorf("image does not start with boot area")
	}
	zero := img[len(boot):0x80000]
	if !bytes.Equal(zero, make([]byte, len(zero))) {
		t.Errorf("boot area padding not zero")
	}
	if !bytes.Equal(img[0x80000:0x81000], data) {
		t.Errorf("data not at 2 * boot area size")
	}
	tail := img[0x81000:]
	if !bytes.Equal(tail, bytes.Repeat([]byte{0xff}, len(tail))) {
		t.Errorf("tail not erase padded")
	}
}

func TestWriteCapacity(t *testing.T) {
	for _, tt := range []struct {
		name       string
		boot, data int
	}{
		{"boot", 0x40001, 0},
		{"data", 0, 0x100000 - 0x40000 + 1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Write(make([]byte, tt.boot), make([]byte, tt.data), 0x100000)
			if !errors.Is(err, fault.ErrCapacityExceeded) {
				t.Fatalf("Write: got %v, want CapacityExceeded", err)
			}
		})
	}
	// exactly full
	if _, err := Write(nil, make([]byte, 0x100000-0x40000), 0x100000); err != nil {
		t.Errorf("Write(full) = %v", err)
	}
}
