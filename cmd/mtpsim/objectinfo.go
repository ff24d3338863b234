package main

import (
	"encoding/binary"
	"time"
	"unicode/utf16"

	"github.com/usbarmory/tamago-mtp/usb/mtp"
)

// wcharString mirrors mtp.Writer.WCharString's wire format so this simulator
// can build an outbound ObjectInfo dataset the same way a real initiator
// would, without reaching into the engine's internal encoder.
func wcharString(s string) []byte {
	if s == "" {
		return []byte{0}
	}

	units := utf16.Encode([]rune(s))
	buf := make([]byte, 1, 1+2*(len(units)+1))
	buf[0] = byte(len(units) + 1)

	for _, u := range units {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, u)
		buf = append(buf, b...)
	}

	return append(buf, 0, 0)
}

// buildObjectInfo assembles the ObjectInfo dataset handlers_object.go's
// handleSendObjectInfoData parses: format@4 (u16), size@8 (u32), the
// filename at a fixed offset, then two wire dates.
func buildObjectInfo(format uint16, size uint32, name string) []byte {
	buf := make([]byte, 52)
	binary.LittleEndian.PutUint32(buf[0:4], 0) // StorageID: unused by the parser
	binary.LittleEndian.PutUint16(buf[4:6], format)
	binary.LittleEndian.PutUint16(buf[6:8], 0) // ProtectionStatus
	binary.LittleEndian.PutUint32(buf[8:12], size)
	// bytes 12..51: thumbnail/image/parent/association fields, unused on
	// the way in and left zeroed.

	buf = append(buf, wcharString(name)...)
	now := mtp.EncodeDate(time.Now())
	buf = append(buf, wcharString(now)...)
	buf = append(buf, wcharString(now)...)

	return buf
}
