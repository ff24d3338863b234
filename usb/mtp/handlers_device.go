// MTP core device-level operation handlers.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mtp

const mtpVersion = "1.0"

// handleGetDeviceInfo emits the static description plus dynamic version
// string; no side effects.
func handleGetDeviceInfo(e *Engine, params []uint32, w *Writer) bool {
	w.U16(100)  // StandardVersion
	w.U32(6)    // VendorExtensionID (MTP)
	w.U16(100)  // VendorExtensionVersion
	w.ASCIIString("microsoft.com: 1.0")
	w.U16(0) // FunctionalMode

	w.U32(uint32(len(e.opcodeList)))
	for _, op := range e.opcodeList {
		w.U16(op)
	}

	w.U32(0) // EventsSupported
	w.U32(uint32(len(DeviceProperties(e))))
	for _, p := range DeviceProperties(e) {
		w.U16(p.Code)
	}

	w.U32(0) // CaptureFormats
	w.U32(uint32(len(ObjectProperties)))

	w.ASCIIString(e.Cfg.Manufacturer)
	w.ASCIIString(e.Cfg.FriendlyName)
	w.ASCIIString(e.Cfg.FriendlyName)
	w.ASCIIString(mtpVersion)
	w.ASCIIString(e.Cfg.Serial)

	e.setResponse(RC_OK)
	return true
}

// DeviceProperties lazily builds the device property table bound to e's
// configuration.
func DeviceProperties(e *Engine) []DeviceProperty {
	return NewDeviceProperties(&e.Cfg)
}

func findDeviceProperty(e *Engine, code uint16) (DeviceProperty, bool) {
	for _, p := range DeviceProperties(e) {
		if p.Code == code {
			return p, true
		}
	}
	return DeviceProperty{}, false
}

// handleOpenSession rejects duplicate (SessionAlreadyOpen) or concurrent
// (DeviceBusy) sessions; on accept truncates every per-volume folder cache
// on non-flat volumes.
func handleOpenSession(e *Engine, params []uint32, w *Writer) bool {
	var id uint32
	if len(params) >= 1 {
		id = params[0]
	}

	if e.session != nil {
		if e.session.ID == id {
			e.setResponse(RC_SessionAlreadyOpen)
		} else {
			e.setResponse(RC_DeviceBusy)
		}
		return false
	}

	e.session = newSession(e.FS, id)

	if !e.Cfg.FlatNamespace {
		for i := 0; ; i++ {
			vol, ok := e.FS.Volume(i)
			if !ok {
				break
			}
			NewFolderCache(vol).Reset()
		}
	}

	e.setResponse(RC_OK)

	return false
}

// closeSession tears down the open session: zeros session_id, deletes
// cache files for every dirty volume, releases the resolver's static
// buffers.
func closeSession(e *Engine) {
	if e.session == nil {
		return
	}

	for i := 0; ; i++ {
		vol, ok := e.FS.Volume(i)
		if !ok {
			break
		}
		if e.session.isDirty(i) {
			NewFolderCache(vol).Reset()
		}
	}

	if e.session.send != nil && e.session.send.file != nil {
		e.session.send.file.Close()
	}

	e.session = nil
}

func handleCloseSession(e *Engine, params []uint32, w *Writer) bool {
	if e.session == nil {
		e.setResponse(RC_SessionNotOpen)
		return false
	}

	// The session itself is only torn down once the response container
	// has been fully delivered (Engine.refill), so GetDeviceStatus-style
	// introspection during response delivery still sees a session.
	e.setResponse(RC_OK)
	e.pendingClose = true

	return false
}

func storageID(volIndex int) uint32 {
	return (uint32(volIndex+1) << 16) | 1
}

func requireSession(e *Engine) bool {
	if e.session == nil {
		e.setResponse(RC_SessionNotOpen)
		return false
	}
	return true
}

// handleGetStorageIDs iterates e.FS.Volume(i) until it runs out of volumes.
func handleGetStorageIDs(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	var ids []uint32
	for i := 0; ; i++ {
		if _, ok := e.FS.Volume(i); !ok {
			break
		}
		ids = append(ids, storageID(i))
	}

	w.U32(uint32(len(ids)))
	for _, id := range ids {
		w.U32(id)
	}

	e.setResponse(RC_OK)

	return true
}

// handleGetStorageInfo reports StorageType/FileSystemType/AccessCapability.
func handleGetStorageInfo(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	if len(params) < 1 {
		e.setResponse(RC_InvalidStorageID)
		return false
	}

	volIndex := int(params[0]>>16) - 1
	vol, ok := e.FS.Volume(volIndex)
	if !ok {
		e.setResponse(RC_InvalidStorageID)
		return false
	}

	flags := vol.Flags()

	storageType := uint16(3) // FixedRAM
	if flags.Removable() {
		storageType = 4 // Removable
	}

	fsType := uint16(2) // Hierarchical
	if flags.Flat() {
		fsType = 1 // Flat
	}

	free, ferr := vol.FreeSpace()
	total, terr := vol.TotalSpace()
	if ferr != nil || terr != nil {
		e.setResponse(mapErrno(ferr))
		return false
	}

	w.U16(storageType)
	w.U16(fsType)
	w.U16(0) // AccessCapability: ReadWrite
	w.U64(total)
	w.U64(free)
	w.U32(0xFFFFFFFF) // FreeSpaceInObjects: not tracked
	w.ASCIIString(e.Cfg.FriendlyName)
	w.ASCIIString("")

	e.setResponse(RC_OK)

	return true
}

func handleFormatStore(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	if len(params) < 1 {
		e.setResponse(RC_InvalidStorageID)
		return false
	}

	vol, ok := e.FS.Volume(int(params[0]>>16) - 1)
	if !ok {
		e.setResponse(RC_InvalidStorageID)
		return false
	}

	if err := vol.Format(); err != nil {
		e.setResponse(mapErrno(err))
		return false
	}

	e.setResponse(RC_OK)
	return false
}

func handleGetDevicePropDesc(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	if len(params) < 1 {
		e.setResponse(RC_ParameterNotSupported)
		return false
	}

	prop, ok := findDeviceProperty(e, uint16(params[0]))
	if !ok {
		e.setResponse(RC_ParameterNotSupported)
		return false
	}

	w.U16(prop.Code)
	w.U16(prop.Type)
	w.U8(0) // GetSet: read-only
	prop.Encode(w) // factory default
	prop.Encode(w) // current value
	w.U8(prop.FormFlag)

	if prop.FormFlag == FORM_RANGE {
		w.U64(prop.Min)
		w.U64(prop.Max)
		w.U64(1)
	}

	e.setResponse(RC_OK)

	return true
}

func handleGetDevicePropValue(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	if len(params) < 1 {
		e.setResponse(RC_ParameterNotSupported)
		return false
	}

	prop, ok := findDeviceProperty(e, uint16(params[0]))
	if !ok {
		e.setResponse(RC_ParameterNotSupported)
		return false
	}

	prop.Encode(w)
	e.setResponse(RC_OK)

	return true
}

// handleSetDevicePropValue has no settable device properties in this
// implementation's table; rejected uniformly.
func handleSetDevicePropValue(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	e.setResponse(RC_AccessDenied)
	return false
}
