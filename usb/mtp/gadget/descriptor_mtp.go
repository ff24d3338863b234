// Still Image (PTP/MTP) class descriptor support.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package gadget

// Still Image class constants, "Universal Serial Bus Still Image Capture
// Device Definition" and the Microsoft MTP extension layered on top of it:
// PTP (Picture Transfer Protocol, ISO 15740) is advertised as protocol 1
// under the same class/subclass.
const (
	STILL_IMAGE_CLASS    = 0x06
	STILL_IMAGE_SUBCLASS = 0x01
	STILL_IMAGE_PROTOCOL = 0x01
)

// PTP class-specific control requests consumed off EP0, PIMA 15740 Annex D.
const (
	REQUEST_CANCEL             = 0x64
	REQUEST_GET_EXTENDED_EVENT = 0x65
	REQUEST_DEVICE_RESET       = 0x66
	REQUEST_GET_DEVICE_STATUS  = 0x67
)
