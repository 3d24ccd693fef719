// Package emmc builds block device images for eMMC based chips.
package emmc

import (
	"bytes"

	"github.com/fwemu/tools/internal/fault"
	"github.com/fwemu/tools/internal/flash"
)

// Profile holds the fixed boot area layout of a chip.
type Profile struct {
	BootAreaSize int
	// BootAreaCopies is the number of boot area slots before the user data
	// area. Only the first slot is populated.
	BootAreaCopies int
}

var DefaultProfile = Profile{
	BootAreaSize:   0x40000,
	BootAreaCopies: 2,
}

// Write lays out boot and data for a device whose user area holds size
// bytes. The image covers one boot area plus the user area:
//
//	boot | zero pad to BootAreaSize | zero BootAreaSize | data | ff pad
func (p Profile) Write(boot, data []byte, size int) ([]byte, error) {
	if len(boot) > p.BootAreaSize {
		return nil, &fault.CapacityExceeded{Region: "boot", Size: len(boot), Limit: p.BootAreaSize}
	}
	total := p.BootAreaSize + size
	dataStart := p.BootAreaCopies * p.BootAreaSize
	if dataStart+len(data) > total {
		return nil, &fault.CapacityExceeded{Region: "data", Size: len(data), Limit: max(total-dataStart, 0)}
	}
	img := make([]byte, total)
	copy(img, boot)
	copy(img[dataStart:], data)
	copy(img[dataStart+len(data):], bytes.Repeat([]byte{flash.Erased}, total-dataStart-len(data)))
	return img, nil
}

// Write lays out an image with DefaultProfile.
func Write(boot, data []byte, size int) ([]byte, error) {
	return DefaultProfile.Write(boot, data, size)
}
