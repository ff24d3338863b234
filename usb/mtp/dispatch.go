// MTP core opcode dispatch.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mtp

// Config carries the gadget's compile-time toggles. TamaGo packages have no
// config file/flag/env layer: these are plain exported fields set by board
// main() code and passed to NewEngine (or gadget.New), the same way
// soc/imx6/usb.Device's fields are assigned before use.
type Config struct {
	// ReadOnly removes DeleteObject, SendObjectInfo, SendObject and
	// SetObjectPropValue from the opcode table.
	ReadOnly bool

	// FlatNamespace skips the folder-cache removal OpenSession otherwise
	// performs on every volume. It does not disable the folder cache
	// itself: cache writes are skipped per volume, for volumes reporting
	// ATTR_FLAT_FILESYSTEM, whatever this field says.
	FlatNamespace bool

	Manufacturer string
	FriendlyName string
	Serial       string

	// SendObjectHook is invoked, if set, after a successful SendObject
	// close, with the path of the newly written file.
	SendObjectHook func(path string)

	// Events enables the interrupt-endpoint event path.
	Events bool
}

// CommandHandler implements one opcode's command-phase logic. For an
// opcode with no Data handler, it is called once per "pass": a measurement
// pass (w.Remaining == unbounded) to compute response_length, then one or
// more emission passes to fill PayloadOut windows; true means an outbound
// data phase follows. For an opcode with a Data handler, it is called once,
// to validate parameters and reserve any transfer state; true means the
// inbound data phase proceeds, false means the command was rejected and the
// response is sent immediately (Engine.setResponse must be called either
// way).
type CommandHandler func(e *Engine, params []uint32, w *Writer) (hasDataPhase bool)

// DataHandler accumulates an inbound data phase across PayloadIn calls.
// first is true for the packet that carries the 12-byte data container
// header; the handler is responsible for stripping it. done is true once
// the announced transfer length has been reached, at which point the
// engine emits the response container.
type DataHandler func(e *Engine, pkt []byte, first bool) (done bool)

type opEntry struct {
	Command CommandHandler
	Data    DataHandler
}

// dispatchTable builds the opcode -> handler table, omitting write opcodes
// when cfg.ReadOnly is set.
func dispatchTable(cfg *Config) map[uint16]opEntry {
	t := map[uint16]opEntry{
		OP_GetDeviceInfo:      {Command: handleGetDeviceInfo},
		OP_OpenSession:        {Command: handleOpenSession},
		OP_CloseSession:       {Command: handleCloseSession},
		OP_GetStorageIDs:      {Command: handleGetStorageIDs},
		OP_GetStorageInfo:     {Command: handleGetStorageInfo},
		OP_GetObjectHandles:   {Command: handleGetObjectHandles},
		OP_GetObjectInfo:      {Command: handleGetObjectInfo},
		OP_GetObject:          {Command: handleGetObject},
		OP_FormatStore:        {Command: handleFormatStore},
		OP_GetDevicePropDesc:  {Command: handleGetDevicePropDesc},
		OP_GetDevicePropValue: {Command: handleGetDevicePropValue},
		OP_SetDevicePropValue: {Command: handleSetDevicePropValue},

		OP_GetObjectPropsSupported: {Command: handleGetObjectPropsSupported},
		OP_GetObjectPropDesc:       {Command: handleGetObjectPropDesc},
		OP_GetObjectPropValue:      {Command: handleGetObjectPropValue},
		OP_GetObjectPropList:       {Command: handleGetObjectPropList},
	}

	if !cfg.ReadOnly {
		t[OP_DeleteObject] = opEntry{Command: handleDeleteObject}
		t[OP_SendObjectInfo] = opEntry{Command: handleSendObjectInfo, Data: handleSendObjectInfoData}
		t[OP_SendObject] = opEntry{Command: handleSendObject, Data: handleSendObjectData}
		t[OP_SetObjectPropValue] = opEntry{Command: handleSetObjectPropValue}
	}

	return t
}
