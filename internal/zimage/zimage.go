// Package zimage unpacks and repacks the compressed kernel inside an ARM
// zImage.
//
// The decompressor stub is followed by a gzip member (header, raw deflate
// stream, CRC-32 and size trailer). Repacking keeps the stub and everything
// after the member's slot untouched, so the replacement must compress into
// the space the original member occupied.
package zimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/fwemu/tools/internal/fault"
	"github.com/klauspost/compress/flate"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "zimage")

// Magic starts a gzip member using deflate without optional header fields.
var Magic = []byte{0x1f, 0x8b, 0x08, 0x00}

const (
	headerSize  = 10
	trailerSize = 8
)

// Region is the compressed kernel slot of a container.
type Region struct {
	// Offset of the gzip member in the container.
	Offset int
	// Reserved is the number of bytes available for the member: its
	// original length plus the zero padding that follows it.
	Reserved int
	Kernel   []byte
}

// Unpack locates and decompresses the kernel in container.
func Unpack(container []byte) (*Region, error) {
	offset := bytes.Index(container, Magic)
	if offset == -1 || offset+headerSize > len(container) {
		return nil, &fault.StructuralMismatch{What: "zImage compressed kernel", Offset: -1, Want: fmt.Sprintf("magic % x", Magic), Got: "no match"}
	}
	src := bytes.NewReader(container[offset+headerSize:])
	fr := flate.NewReader(src)
	defer fr.Close()
	kernel, err := io.ReadAll(fr)
	if err != nil {
		return nil, &fault.StructuralMismatch{What: "zImage deflate stream", Offset: offset + headerSize, Want: "valid deflate data", Got: err.Error()}
	}
	end := len(container) - src.Len() + trailerSize
	if end > len(container) {
		return nil, &fault.StructuralMismatch{What: "zImage gzip trailer", Offset: end - trailerSize, Want: fmt.Sprintf("%d bytes", trailerSize), Got: fmt.Sprintf("%d bytes", len(container)-end+trailerSize)}
	}
	member := end
	for end < len(container) && container[end] == 0 {
		end++
	}
	if end > member {
		log.Infof("gzip member at %#x ends at %#x, reserving %d zero bytes after it", offset, member, end-member)
	}
	return &Region{
		Offset:   offset,
		Reserved: end - offset,
		Kernel:   kernel,
	}, nil
}

// Repack replaces the kernel in container with kernel and returns the new
// container. The input is not modified.
func Repack(container, kernel []byte) ([]byte, error) {
	r, err := Unpack(container)
	if err != nil {
		return nil, err
	}
	return r.repack(container, kernel)
}

func (r *Region) repack(container, kernel []byte) ([]byte, error) {
	member, err := encodeMember(container[r.Offset:r.Offset+headerSize], kernel)
	if err != nil {
		return nil, err
	}
	if len(member) > r.Reserved {
		return nil, &fault.SizeOverflow{Size: len(member), Reserved: r.Reserved}
	}
	out := bytes.Clone(container)
	slot := out[r.Offset : r.Offset+r.Reserved]
	n := copy(slot, member)
	clear(slot[n:])
	return out, nil
}

// Patch unpacks the kernel in container, applies fn and repacks the result.
func Patch(container []byte, fn func(kernel []byte) ([]byte, error)) ([]byte, error) {
	r, err := Unpack(container)
	if err != nil {
		return nil, err
	}
	kernel, err := fn(r.Kernel)
	if err != nil {
		return nil, err
	}
	return r.repack(container, kernel)
}

// encodeMember builds a gzip member from header and the best compression
// deflate stream of kernel.
func encodeMember(header, kernel []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(header)
	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(kernel); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint32(trailer[0:], crc32.ChecksumIEEE(kernel))
	binary.LittleEndian.PutUint32(trailer[4:], uint32(len(kernel)))
	buf.Write(trailer[:])
	return buf.Bytes(), nil
}
