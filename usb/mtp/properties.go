// MTP core property model.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mtp

import (
	"strings"
	"time"

	"github.com/usbarmory/tamago-mtp/usb/mtp/vfs"
)

// PTP datatype codes (ISO 15740 Annex A).
const (
	DT_UINT8  = 0x0002
	DT_UINT16 = 0x0004
	DT_UINT32 = 0x0006
	DT_UINT64 = 0x0008
	DT_UINT128 = 0x000A
	DT_STR    = 0xFFFF
)

// Form flags for device property descriptors.
const (
	FORM_NONE  = 0x00
	FORM_RANGE = 0x01
	FORM_ENUM  = 0x02
)

// Object format codes.
const (
	FORMAT_UNDEFINED   = 0x3000
	FORMAT_ASSOCIATION = 0x3001
	FORMAT_TEXT        = 0x3004
	FORMAT_HTML        = 0x3005
	FORMAT_JPEG        = 0x3801
	FORMAT_PNG         = 0x380B
	FORMAT_MP3         = 0xB901
	FORMAT_WAV         = 0xB903
)

// ObjectPropContext carries everything an object property encoder needs to
// emit its value for one resolved object.
type ObjectPropContext struct {
	Handle    Handle
	Parent    Handle
	StorageID uint32
	Info      vfs.Info
	Format    uint16
}

// ObjectProperty binds a property code and wire type to a typed encoder.
// This table is the single source of truth for GetObjectPropsSupported,
// GetObjectPropDesc, GetObjectPropValue and GetObjectPropList.
type ObjectProperty struct {
	Code    uint16
	Type    uint16
	Encode  func(w *Writer, ctx ObjectPropContext)
}

// ObjectProperties is the supported MTP object property row set.
var ObjectProperties = []ObjectProperty{
	{0xDC01, DT_UINT32, func(w *Writer, ctx ObjectPropContext) { w.U32(ctx.StorageID) }},
	{0xDC02, DT_UINT16, func(w *Writer, ctx ObjectPropContext) { w.U16(ctx.Format) }},
	{0xDC03, DT_UINT16, func(w *Writer, ctx ObjectPropContext) { w.U16(0) /* no protection */ }},
	{0xDC04, DT_UINT64, func(w *Writer, ctx ObjectPropContext) { w.U64(ctx.Info.Size) }},
	{0xDC05, DT_UINT16, func(w *Writer, ctx ObjectPropContext) {
		if ctx.Info.Attr.IsDir() {
			w.U16(0x0001) // GenericFolder
		} else {
			w.U16(0x0000)
		}
	}},
	{0xDC07, DT_STR, func(w *Writer, ctx ObjectPropContext) { w.ASCIIString(ctx.Info.Name) }},
	{0xDC08, DT_STR, func(w *Writer, ctx ObjectPropContext) { w.ASCIIString(EncodeDate(ctx.Info.Created)) }},
	{0xDC09, DT_STR, func(w *Writer, ctx ObjectPropContext) { w.ASCIIString(EncodeDate(ctx.Info.Modified)) }},
	{0xDC0B, DT_UINT32, func(w *Writer, ctx ObjectPropContext) { w.U32(uint32(ctx.Parent)) }},
	// PersistentUID: the 32-bit handle in the low bits of the first u64,
	// zero elsewhere, padded out to the full 128 bits a DT_UINT128 field
	// requires on the wire.
	{0xDC41, DT_UINT128, func(w *Writer, ctx ObjectPropContext) {
		w.U64(uint64(uint32(ctx.Handle)))
		w.U64(0)
	}},
	{0xDC44, DT_STR, func(w *Writer, ctx ObjectPropContext) { w.ASCIIString(ctx.Info.Name) }},
}

// FindObjectProperty returns the table row for code, if any.
func FindObjectProperty(code uint16) (ObjectProperty, bool) {
	for _, p := range ObjectProperties {
		if p.Code == code {
			return p, true
		}
	}
	return ObjectProperty{}, false
}

// DeviceProperty binds a device-wide property code to a typed encoder and
// form descriptor.
type DeviceProperty struct {
	Code     uint16
	Type     uint16
	FormFlag uint8
	Min, Max uint64
	Encode   func(w *Writer)
}

// NewDeviceProperties builds the device property table bound to the
// gadget's configured strings. Kept as a constructor (rather than a package
// var) because the FriendlyName encoder closes over *Config.
func NewDeviceProperties(cfg *Config) []DeviceProperty {
	return []DeviceProperty{
		{
			Code: 0xD402, Type: DT_STR, FormFlag: FORM_NONE,
			Encode: func(w *Writer) { w.ASCIIString(cfg.FriendlyName) },
		},
		{
			Code: 0x5001, Type: DT_UINT8, FormFlag: FORM_RANGE, Min: 0, Max: 100,
			Encode: func(w *Writer) { w.U8(100) },
		},
	}
}

// objectFormatByExtension maps a lowercase file extension (without the dot)
// to a PTP object format code. Association (directory) takes priority over
// this table at the call site.
var objectFormatByExtension = map[string]uint16{
	"txt":  FORMAT_TEXT,
	"htm":  FORMAT_HTML,
	"html": FORMAT_HTML,
	"jpg":  FORMAT_JPEG,
	"jpeg": FORMAT_JPEG,
	"png":  FORMAT_PNG,
	"mp3":  FORMAT_MP3,
	"wav":  FORMAT_WAV,
}

// ObjectFormat returns the PTP format code for a directory entry: always
// FORMAT_ASSOCIATION for directories, otherwise a case-insensitive
// extension lookup falling back to FORMAT_UNDEFINED.
func ObjectFormat(info vfs.Info) uint16 {
	if info.Attr.IsDir() {
		return FORMAT_ASSOCIATION
	}

	ext := ""
	if i := strings.LastIndexByte(info.Name, '.'); i >= 0 {
		ext = strings.ToLower(info.Name[i+1:])
	}

	if code, ok := objectFormatByExtension[ext]; ok {
		return code
	}

	return FORMAT_UNDEFINED
}

// mtpDateLayout is the wire format for DateCreated/DateModified: YYYYMMDDThhmmss in UTC.
const mtpDateLayout = "20060102T150405"

// EncodeDate formats t in the MTP wire date format.
func EncodeDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(mtpDateLayout)
}

// ParseDate is the inverse of EncodeDate.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(mtpDateLayout, s)
}
