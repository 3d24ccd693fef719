package fat

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

var modTime = time.Date(2017, 9, 6, 8, 13, 28, 0, time.UTC)

func writeImage(t *testing.T, files map[string][]byte, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	fw := NewWriter(&buf)
	for _, p := range order {
		w, err := fw.File(p, modTime)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(files[p]); err != nil {
			t.Fatal(err)
		}
	}
	if err := fw.Flush(); err != nil {
		t.Fatal(err)
	}
	// The data area is not padded to the cluster count the FAT claims.
	if got, limit := buf.Len(), fw.TotalSectors*int(sectorSize); got > limit {
		t.Fatalf("image is %d bytes, boot sector claims %d", got, limit)
	}
	return buf.Bytes()
}

func TestExtents(t *testing.T) {
	files := map[string][]byte{
		"/vmlinux":            bytes.Repeat([]byte("kernel "), 1000),
		"/cmdline.txt":        []byte("console=ttyAM0"),
		"/boot/kernel":        []byte("kernel ttyAM"),
		"/etc/init.d/rcS":     []byte("#!/bin/sh\n"),
		"/empty":              nil,
		"/long-file-name.cfg": []byte("long"),
	}
	order := []string{"/vmlinux", "/cmdline.txt", "/boot/kernel", "/etc/init.d/rcS", "/empty", "/long-file-name.cfg"}
	img := writeImage(t, files, order...)

	rd, err := NewReader(bytes.NewReader(img))
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range order {
		t.Run(p, func(t *testing.T) {
			off, length, err := rd.Extents(p)
			if err != nil {
				t.Fatal(err)
			}
			if got, want := length, int64(len(files[p])); got != want {
				t.Fatalf("length = %d, want %d", got, want)
			}
			if got := img[off : off+length]; !bytes.Equal(got, files[p]) {
				t.Errorf("contents at %#x differ", off)
			}
		})
	}

	for _, p := range []string{"/missing", "/boot/missing", "/vmlinux/x", "/boot"} {
		if _, _, err := rd.Extents(p); err == nil {
			t.Errorf("Extents(%q) unexpectedly succeeded", p)
		}
	}
}

func TestFileErrors(t *testing.T) {
	fw := NewWriter(&bytes.Buffer{})
	if _, err := fw.File("/a", modTime); err != nil {
		t.Fatal(err)
	}
	if _, err := fw.File("/a", modTime); err == nil {
		t.Errorf("File(/a) twice unexpectedly succeeded")
	}
	if _, err := fw.File("/a/b", modTime); err == nil || !strings.Contains(err.Error(), "identifies a file") {
		t.Errorf("File(/a/b) = %v, want file component error", err)
	}
}

func TestShortFileName(t *testing.T) {
	for _, tt := range []struct {
		name         string
		primary, ext string
	}{
		{"vmlinux", "vmlinux ", "   "},
		{"cmdline.txt", "cmdline ", "txt"},
		{"long-file-name.cfg", "long-f~1", "cfg"},
		{"config.json", "config~1", "jso"},
		{"..", "..      ", "   "},
	} {
		primary, ext := shortFileName(tt.name, make(map[string]bool))
		if primary != tt.primary || ext != tt.ext {
			t.Errorf("shortFileName(%q) = %q, %q; want %q, %q", tt.name, primary, ext, tt.primary, tt.ext)
		}
	}
}

func TestTimeDate(t *testing.T) {
	c := common{modTime: modTime}
	if got, want := c.Date(), uint16(37<<9|9<<5|6); got != want {
		t.Errorf("Date = %#x, want %#x", got, want)
	}
	if got, want := c.Time(), uint16(8<<11|13<<5|14); got != want {
		t.Errorf("Time = %#x, want %#x", got, want)
	}
}
