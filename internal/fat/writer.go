// Copyright 2017 the gokrazy authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

const (
	sectorSize        = uint16(512)
	sectorsPerCluster = uint8(4)

	clusterSize = int(sectorSize) * int(sectorsPerCluster)

	// The first two FAT entries hold the media descriptor and the file
	// system state.
	unusableClusters = uint16(2)

	endOfChain = uint16(0xFFFF)

	hardDisk = uint8(0xF8)

	// clean marks a cleanly unmounted file system.
	clean = uint16(0xFFFF)

	// minFATEntries forces 16 bit FAT entries.
	minFATEntries = 4085

	dirEntrySize = 32
)

var volumeLabel = [11]byte{'F', 'W', 'E', 'M', 'U', ' ', ' ', ' ', ' ', ' ', ' '}

type paddingWriter struct {
	w     io.Writer
	count int
	padTo int
}

func (pw *paddingWriter) Write(p []byte) (n int, err error) {
	pw.count += len(p)
	return pw.w.Write(p)
}

func (pw *paddingWriter) Flush() error {
	if pw.count%pw.padTo == 0 {
		return nil
	}
	remainder := pw.padTo - (pw.count % pw.padTo)
	pw.count += remainder
	_, err := pw.w.Write(make([]byte, remainder))
	return err
}

type entry interface {
	FullName() string
	Attr() uint8
	Size() uint32
	FirstCluster() uint16
	Date() uint16
	Time() uint16
}

type common struct {
	name         string
	modTime      time.Time
	size         uint32
	firstCluster uint16
}

func (c *common) FullName() string     { return c.name }
func (c *common) Size() uint32         { return c.size }
func (c *common) FirstCluster() uint16 { return c.firstCluster }

func (c *common) Time() uint16 {
	return uint16(c.modTime.Hour())<<11 |
		uint16(c.modTime.Minute())<<5 |
		uint16(c.modTime.Second()/2)
}

func (c *common) Date() uint16 {
	return uint16(c.modTime.Year()-1980)<<9 |
		uint16(c.modTime.Month())<<5 |
		uint16(c.modTime.Day())
}

const (
	attrReadOnly  = 0x01
	attrHidden    = 0x02
	attrSystem    = 0x04
	attrVolumeId  = 0x08
	attrDirectory = 0x10
	attrLongName  = attrReadOnly | attrHidden | attrSystem | attrVolumeId
)

type file struct {
	common
}

func (f *file) Attr() uint8 { return attrReadOnly }

type directory struct {
	common
	entries []entry
	byName  map[string]entry
	parent  *directory
}

func (d *directory) Attr() uint8 { return attrDirectory }

// Writer collects files and writes the file system image on Flush.
type Writer struct {
	w io.Writer

	// data holds the data area. Its position in the image depends on the
	// FAT size and the number of root directory entries, which are only
	// known once all files have been written.
	data bytes.Buffer

	// fat has one entry per cluster of the data area: the index of the next
	// cluster of the chain, or endOfChain.
	fat []uint16

	root *directory

	pending *fatUpdatingWriter

	TotalSectors int // populated after Flush
}

// NewWriter returns a Writer which writes the image to w once Flush is
// called.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: w,
		root: &directory{
			byName: make(map[string]entry),
		},
		fat: []uint16{
			uint16(0xFF)<<8 | uint16(hardDisk),
			clean,
		},
	}
}

func (fw *Writer) currentCluster() uint16 {
	return unusableClusters + uint16(len(fw.fat)-2)
}

func (fw *Writer) dir(p string) (*directory, error) {
	cur := fw.root
	for _, component := range strings.Split(p, "/") {
		if component == "" || component == "." {
			continue
		}
		if _, ok := cur.byName[component]; !ok {
			dir := &directory{
				common: common{name: component},
				parent: cur,
				byName: make(map[string]entry),
			}
			cur.entries = append(cur.entries, dir)
			cur.byName[component] = dir
		}
		var ok bool
		cur, ok = cur.byName[component].(*directory)
		if !ok {
			return nil, fmt.Errorf("path %q invalid: component %q identifies a file", p, component)
		}
	}
	return cur, nil
}

type fatUpdatingWriter struct {
	fw    *Writer
	pw    *paddingWriter
	count uint32
	file  *file
}

func (fuw *fatUpdatingWriter) Write(p []byte) (n int, err error) {
	fuw.count += uint32(len(p))
	return fuw.pw.Write(p)
}

func (fuw *fatUpdatingWriter) Close() error {
	if err := fuw.pw.Flush(); err != nil {
		return err
	}
	fw := fuw.fw
	if fuw.count == 0 {
		if fuw.file != nil {
			fuw.file.firstCluster = 0
		}
		return nil
	}
	for i := 0; i < fuw.pw.count/clusterSize; i++ {
		fw.fat = append(fw.fat, fw.currentCluster()+1)
	}
	fw.fat[len(fw.fat)-1] = endOfChain
	if fuw.file != nil {
		fuw.file.size = fuw.count
	}
	return nil
}

func (fw *Writer) closePending() error {
	if fw.pending == nil {
		return nil
	}
	err := fw.pending.Close()
	fw.pending = nil
	return err
}

// File creates a file with the slash separated path p. The returned writer
// stays valid until the next call to File or Flush.
func (fw *Writer) File(p string, modTime time.Time) (io.Writer, error) {
	if err := fw.closePending(); err != nil {
		return nil, err
	}
	dir, err := fw.dir(path.Dir(p))
	if err != nil {
		return nil, err
	}
	filename := path.Base(p)
	if _, ok := dir.byName[filename]; ok {
		return nil, fmt.Errorf("%s: already exists", p)
	}
	f := &file{
		common: common{
			name:         filename,
			modTime:      modTime.UTC(),
			firstCluster: fw.currentCluster(),
		},
	}
	dir.entries = append(dir.entries, f)
	dir.byName[filename] = f
	fw.pending = &fatUpdatingWriter{
		fw: fw,
		pw: &paddingWriter{
			w:     &fw.data,
			padTo: clusterSize,
		},
		file: f,
	}
	return fw.pending, nil
}

func (fw *Writer) writeFAT() error {
	w := &paddingWriter{w: fw.w, padTo: int(sectorSize)}
	for _, entry := range fw.fat {
		if err := binary.Write(w, binary.LittleEndian, entry); err != nil {
			return err
		}
	}
	return w.Flush()
}

func dirEntryCount(d *directory) int {
	count := 1 // volume label
	for _, e := range d.entries {
		// one short name entry plus long name entries of 13 characters
		count += 1 + (len(e.FullName())+12)/13
	}
	return count
}

func (fw *Writer) usableFATEntries() int {
	return len(fw.fat) - int(unusableClusters)
}

func (fw *Writer) writeBootSector(w io.Writer, fatSectors, reservedSectors int) (int, error) {
	dataSectors := fw.usableFATEntries() * int(sectorsPerCluster)
	const entriesPerSector = int(sectorSize) / dirEntrySize
	// the root directory spans whole sectors
	rootDirSectors := (dirEntryCount(fw.root) + entriesPerSector - 1) / entriesPerSector
	rootDirEntries := rootDirSectors * entriesPerSector
	totalSectors := reservedSectors + rootDirSectors + fatSectors + dataSectors
	for _, v := range []any{
		// x86 jump, OEM
		[3]byte{0xEB, 0x3C, 0x90},
		[8]byte{'f', 'w', 'e', 'm', 'u', ' ', ' ', ' '},
		sectorSize,
		sectorsPerCluster,
		uint16(reservedSectors),
		// FAT copies
		uint8(1),
		uint16(rootDirEntries),
		// 0: the 32 bit total sector count below is used
		uint16(0),
		hardDisk,
		uint16(fatSectors),
		// sectors per track, heads and hidden sectors only matter to boot code
		uint16(32),
		uint16(4),
		uint32(1),
		uint32(totalSectors),
		// drive number, current head, extended boot signature, volume id
		uint8(0x80),
		uint8(0),
		uint8(0x29),
		uint32(0xf3f37b84),
		volumeLabel,
		[8]byte{'F', 'A', 'T', '1', '6', ' ', ' ', ' '},
		// boot code
		[448]byte{},
		[2]byte{0x55, 0xAA},
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return 0, err
		}
	}
	return totalSectors, nil
}

// shortFileName returns the 8.3 name of name, space padded. Names that do
// not fit get a numeric tail which is unique within seen.
func shortFileName(name string, seen map[string]bool) (primary, ext string) {
	if name == "." || name == ".." {
		return name + strings.Repeat(" ", 8-len(name)), "   "
	}
	basis := strings.TrimLeft(strings.ReplaceAll(name, " ", ""), ".")
	fit := true
	primary = basis
	if idx := strings.LastIndex(primary, "."); idx > -1 {
		primary = primary[:idx]
	}
	if len(primary) > 8 {
		primary = primary[:8]
		fit = false
	}
	ext = "   "
	if idx := strings.LastIndex(basis, "."); idx > -1 {
		ext = basis[idx+1:]
		if len(ext) > 3 {
			ext = ext[:3]
			fit = false
		}
		ext += strings.Repeat(" ", 3-len(ext))
	}
	if !fit {
		for n := 1; n <= 999999; n++ {
			tail := "~" + strconv.Itoa(n)
			suggestion := primary + tail
			if len(primary)+len(tail) > 8 {
				suggestion = primary[:8-len(tail)] + tail
			}
			if !seen[suggestion] {
				primary = suggestion
				seen[primary] = true
				break
			}
		}
	}
	primary += strings.Repeat(" ", 8-len(primary))
	return primary, ext
}

func writeFields(w io.Writer, fields ...any) error {
	for _, v := range fields {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func (fw *Writer) writeDirEntries(w io.Writer, d *directory) error {
	all := d.entries
	if d.parent != nil {
		all = append([]entry{
			&directory{common: common{name: ".", firstCluster: d.firstCluster}, parent: d},
			&directory{common: common{name: "..", firstCluster: d.parent.firstCluster}, parent: d.parent},
		}, all...)
	} else {
		if err := writeFields(w, volumeLabel, uint8(attrVolumeId), [20]byte{}); err != nil {
			return err
		}
	}

	seen := make(map[string]bool)
	for _, entry := range all {
		name := entry.FullName()
		primary, ext := shortFileName(name, seen)
		if name != "." && name != ".." {
			// long name entries, 13 UTF-16 characters each, 0xFFFF padded
			chunks := (len(name) + 12) / 13
			buf := bytes.Repeat([]byte{0xFF, 0xFF}, chunks*13)
			padded := []rune(name)
			if len(name)%13 != 0 {
				padded = append(padded, 0)
			}
			for i, enc := range utf16.Encode(padded) {
				binary.LittleEndian.PutUint16(buf[i*2:], enc)
			}
			var checksum uint8
			for _, ch := range []byte(primary + ext) {
				checksum = ((checksum&1)<<7 | (checksum&0xFE)>>1) + ch
			}
			for i := chunks - 1; i >= 0; i-- {
				order := byte(i + 1)
				if i == chunks-1 {
					order |= 0x40 // last long entry
				}
				nb := buf[i*13*2:]
				if err := writeFields(w,
					order,
					nb[0:10],
					byte(attrLongName),
					byte(0),
					checksum,
					nb[10:22],
					uint16(0),
					nb[22:26],
				); err != nil {
					return err
				}
			}
		}

		var primaryb [8]byte
		copy(primaryb[:], primary)
		var extb [3]byte
		copy(extb[:], ext)
		if err := writeFields(w,
			primaryb,
			extb,
			entry.Attr(),
			[10]byte{},
			entry.Time(),
			entry.Date(),
			entry.FirstCluster(),
			entry.Size(),
		); err != nil {
			return err
		}
	}
	return nil
}

// writeDir writes d and its subdirectories to the data area. It writes
// twice: the first pass assigns d.firstCluster, which the "." entries of
// the second pass refer to.
func (fw *Writer) writeDir(d *directory) error {
	oldFAT := fw.fat
	offset := fw.data.Len()
	if err := fw.writeDir1(d); err != nil {
		return err
	}
	fw.data.Truncate(offset)
	fw.fat = oldFAT
	return fw.writeDir1(d)
}

func (fw *Writer) writeDir1(d *directory) error {
	for _, e := range d.entries {
		if sub, ok := e.(*directory); ok {
			if err := fw.writeDir1(sub); err != nil {
				return err
			}
		}
	}
	d.firstCluster = fw.currentCluster()
	fuw := &fatUpdatingWriter{
		fw: fw,
		pw: &paddingWriter{w: &fw.data, padTo: clusterSize},
	}
	if err := fw.writeDirEntries(fuw, d); err != nil {
		return err
	}
	return fuw.Close()
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}

// Flush writes the image. The Writer must not be used afterwards.
func (fw *Writer) Flush() error {
	if err := fw.closePending(); err != nil {
		return err
	}
	for _, e := range fw.root.entries {
		if sub, ok := e.(*directory); ok {
			if err := fw.writeDir(sub); err != nil {
				return err
			}
		}
	}

	if padding := minFATEntries - fw.usableFATEntries(); padding > 0 {
		fw.fat = append(fw.fat, make([]uint16, padding)...)
	}

	fatSectors := ceilDiv(len(fw.fat)*2, int(sectorSize))
	// only the boot sector is reserved, rounded up to a cluster
	reservedSectors := ceilDiv(int(sectorSize), clusterSize) * int(sectorsPerCluster)

	pw := &paddingWriter{w: fw.w, padTo: clusterSize}
	totalSectors, err := fw.writeBootSector(pw, fatSectors, reservedSectors)
	if err != nil {
		return err
	}
	fw.TotalSectors = totalSectors
	if err := pw.Flush(); err != nil {
		return err
	}
	if err := fw.writeFAT(); err != nil {
		return err
	}

	pw = &paddingWriter{w: fw.w, padTo: int(sectorSize)}
	if err := fw.writeDirEntries(pw, fw.root); err != nil {
		return err
	}
	if err := pw.Flush(); err != nil {
		return err
	}

	_, err = fw.w.Write(fw.data.Bytes())
	return err
}
