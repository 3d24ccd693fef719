// Copyright 2017 the gokrazy authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// Reader reads the metadata of file systems created by Writer.
type Reader struct {
	r                 io.ReadSeeker
	sectorSize        uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	rootDirEntries    uint16
	fatSectors        uint16
}

// NewReader reads the boot sector of the file system in r.
func NewReader(r io.ReadSeeker) (*Reader, error) {
	rd := &Reader{r: r}
	// jump code and OEM
	if _, err := r.Seek(3+8, io.SeekStart); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rd.sectorSize); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rd.sectorsPerCluster); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rd.reservedSectors); err != nil {
		return nil, err
	}
	// FAT copies
	if _, err := r.Seek(1, io.SeekCurrent); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rd.rootDirEntries); err != nil {
		return nil, err
	}
	// 16 bit sector count and media descriptor
	if _, err := r.Seek(2+1, io.SeekCurrent); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rd.fatSectors); err != nil {
		return nil, err
	}
	if rd.sectorSize == 0 || rd.sectorsPerCluster == 0 {
		return nil, fmt.Errorf("not a FAT file system: sector size %d, %d sectors per cluster", rd.sectorSize, rd.sectorsPerCluster)
	}
	return rd, nil
}

type dirEntry struct {
	Name         [8]byte
	Ext          [3]byte
	Attr         uint8
	Reserved     [10]byte
	Time         uint16
	Date         uint16
	FirstCluster uint16
	Size         uint32
}

func (e *dirEntry) name() string {
	name := string(e.Name[:])
	if idx := bytes.IndexByte(e.Name[:], ' '); idx > -1 {
		name = string(e.Name[:idx])
	}
	if e.Ext[0] != ' ' {
		name += "." + strings.TrimRight(string(e.Ext[:]), " ")
	}
	return name
}

// Extents returns the offset and length of the file at the absolute path
// p. Only short names are matched, which is enough for files written by
// Writer.
func (r *Reader) Extents(p string) (offset int64, length int64, err error) {
	sector := int64(r.sectorSize)
	cluster := sector * int64(r.sectorsPerCluster)
	dirOffset := int64(r.reservedSectors+r.fatSectors) * sector
	dataOffset := dirOffset + (int64(r.rootDirEntries)*dirEntrySize+sector-1)/sector*sector
	numDirEntries := int(r.rootDirEntries)

	components := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for n, component := range components {
		primary, ext := shortFileName(component, make(map[string]bool))
		want := strings.TrimSpace(primary)
		if ext := strings.TrimSpace(ext); ext != "" {
			want += "." + ext
		}
		found := false
		for i := 0; i < numDirEntries; i++ {
			if _, err := r.r.Seek(dirOffset+int64(i*dirEntrySize), io.SeekStart); err != nil {
				return 0, 0, err
			}
			var entry dirEntry
			if err := binary.Read(r.r, binary.LittleEndian, &entry); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					break
				}
				return 0, 0, err
			}
			if entry.Name[0] == 0 {
				// no further entries
				break
			}
			if entry.Attr == attrLongName || entry.Attr == attrVolumeId {
				continue
			}
			if !strings.EqualFold(entry.name(), want) {
				continue
			}
			var off int64
			if entry.FirstCluster >= unusableClusters {
				off = dataOffset + int64(entry.FirstCluster-unusableClusters)*cluster
			}
			last := n == len(components)-1
			if entry.Attr&attrDirectory != 0 {
				if last {
					return 0, 0, fmt.Errorf("%q is a directory", p)
				}
				// subdirectories are stored contiguously and end with a
				// zero entry
				dirOffset = off
				numDirEntries = math.MaxInt32
				found = true
				break
			}
			if !last {
				return 0, 0, fmt.Errorf("%q: %q is a file", p, component)
			}
			return off, int64(entry.Size), nil
		}
		if !found {
			break
		}
	}
	return 0, 0, fmt.Errorf("%q not found", p)
}
